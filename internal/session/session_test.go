package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/solatis/dualcheck/internal/protocol"
	"github.com/solatis/dualcheck/internal/rules"
	"github.com/solatis/dualcheck/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// validUnderA passes rule set A (index 0) and the server authority.
var validUnderA = types.FormRecord{Email: "jane@corp.io", Amount: "12", Username: "jane_doe", Agree: true}

// gateSubmitter blocks each Submit until the test releases an outcome.
type gateSubmitter struct {
	calls   chan types.FormRecord
	release chan protocol.Outcome
}

func newGate() *gateSubmitter {
	return &gateSubmitter{
		calls:   make(chan types.FormRecord, 4),
		release: make(chan protocol.Outcome),
	}
}

func (g *gateSubmitter) Submit(ctx context.Context, record types.FormRecord) protocol.Outcome {
	g.calls <- record
	select {
	case out := <-g.release:
		return out
	case <-ctx.Done():
		return protocol.GenericFailure(protocol.FailureTransport, protocol.MsgTransport)
	}
}

func fixed(out protocol.Outcome, calls *atomic.Int32) protocol.Submitter {
	return protocol.SubmitterFunc(func(context.Context, types.FormRecord) protocol.Outcome {
		if calls != nil {
			calls.Add(1)
		}
		return out
	})
}

// start runs a session until the test ends. Automatic rotation is off unless
// an option turns it on.
func start(t *testing.T, sub protocol.Submitter, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithRotationInterval(0), WithLogger(zaptest.NewLogger(t))}, opts...)
	s := New(rules.DefaultRegistry(), sub, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	})
	return s
}

func fill(t *testing.T, s *Session, r types.FormRecord) {
	t.Helper()
	ctx := context.Background()
	for _, f := range types.Fields {
		if err := s.Edit(ctx, f, r.Value(f)); err != nil {
			t.Fatalf("Edit(%s) error = %v, want nil", f, err)
		}
	}
}

func snapshot(t *testing.T, s *Session) View {
	t.Helper()
	v, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v, want nil", err)
	}
	return v
}

func submit(t *testing.T, s *Session) SubmitTicket {
	t.Helper()
	ticket, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}
	return ticket
}

func wait(t *testing.T, ticket SubmitTicket) SubmitResult {
	t.Helper()
	select {
	case res := <-ticket:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("submission did not resolve")
		return SubmitResult{}
	}
}

func TestFieldView_ServerHasPriority(t *testing.T) {
	tests := []struct {
		name       string
		fv         FieldView
		wantMsg    string
		wantSource Source
	}{
		{"none", FieldView{}, "", SourceNone},
		{"client only", FieldView{Client: "c"}, "c", SourceClient},
		{"server only", FieldView{Server: "s"}, "s", SourceServer},
		{"both", FieldView{Client: "c", Server: "s"}, "s", SourceServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fv.Message(); got != tt.wantMsg {
				t.Errorf("Message() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.fv.Source(); got != tt.wantSource {
				t.Errorf("Source() = %v, want %v", got, tt.wantSource)
			}
		})
	}
}

func TestBlur_ValidatesOnlyTouched(t *testing.T) {
	s := start(t, fixed(protocol.Accepted(), nil))
	ctx := context.Background()

	if err := s.Edit(ctx, types.FieldEmail, types.Text("not-an-email")); err != nil {
		t.Fatalf("Edit() error = %v, want nil", err)
	}
	if got := snapshot(t, s).Field(types.FieldEmail).Client; got != "" {
		t.Errorf("untouched email Client = %q, want empty", got)
	}

	if err := s.Blur(ctx, types.FieldEmail); err != nil {
		t.Fatalf("Blur() error = %v, want nil", err)
	}
	if got := snapshot(t, s).Field(types.FieldEmail).Client; got != "Enter a valid email address." {
		t.Errorf("blurred email Client = %q", got)
	}

	// Touched fields revalidate on every edit.
	if err := s.Edit(ctx, types.FieldEmail, types.Text("jane@corp.io")); err != nil {
		t.Fatalf("Edit() error = %v, want nil", err)
	}
	if got := snapshot(t, s).Field(types.FieldEmail).Client; got != "" {
		t.Errorf("corrected email Client = %q, want empty", got)
	}
}

func TestEdit_UnknownField(t *testing.T) {
	s := start(t, fixed(protocol.Accepted(), nil))

	err := s.Edit(context.Background(), types.Field("nickname"), types.Text("x"))
	if !errors.Is(err, types.ErrUnknownField) {
		t.Errorf("Edit() error = %v, want ErrUnknownField", err)
	}
	err = s.Blur(context.Background(), types.Field("nickname"))
	if !errors.Is(err, types.ErrUnknownField) {
		t.Errorf("Blur() error = %v, want ErrUnknownField", err)
	}
}

func TestSubmit_BlockedLocally(t *testing.T) {
	var calls atomic.Int32
	s := start(t, fixed(protocol.Accepted(), &calls))

	res := wait(t, submit(t, s))
	if res.Sent || res.Applied {
		t.Errorf("result = %+v, want not sent", res)
	}
	if calls.Load() != 0 {
		t.Errorf("submitter called %d times, want 0", calls.Load())
	}

	v := snapshot(t, s)
	want := map[types.Field]FieldView{
		types.FieldEmail:    {Touched: true, Client: "Email is required."},
		types.FieldAmount:   {Touched: true, Client: "Amount is required."},
		types.FieldUsername: {Touched: true, Client: "Must be at least 3 characters."},
		types.FieldAgree:    {Touched: true, Client: "You must accept the terms."},
	}
	if diff := cmp.Diff(want, v.Fields); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}
	if v.InFlight {
		t.Error("InFlight = true after local abort")
	}
}

func TestSubmit_FieldRejectedOverlay(t *testing.T) {
	rejected := protocol.FieldRejected(types.Verdict{
		types.FieldEmail:    "This email domain is not permitted on our platform.",
		types.FieldUsername: "This username is already taken. Please choose another.",
	})
	s := start(t, fixed(rejected, nil))
	fill(t, s, validUnderA)

	res := wait(t, submit(t, s))
	if !res.Sent || !res.Applied {
		t.Fatalf("result = %+v, want sent and applied", res)
	}

	v := snapshot(t, s)
	if v.Record != validUnderA {
		t.Errorf("Record = %+v after rejection, want %+v unchanged", v.Record, validUnderA)
	}
	if got := v.Field(types.FieldEmail); got.Source() != SourceServer || got.Message() != rejected.Errors[types.FieldEmail] {
		t.Errorf("email = %+v, want server message", got)
	}
	if got := v.Field(types.FieldAmount); got.Source() != SourceNone {
		t.Errorf("amount = %+v, want no message", got)
	}

	// Editing one field clears only that field's server error.
	if err := s.Edit(context.Background(), types.FieldEmail, types.Text("jane@other.io")); err != nil {
		t.Fatalf("Edit() error = %v, want nil", err)
	}
	v = snapshot(t, s)
	if got := v.Field(types.FieldEmail).Server; got != "" {
		t.Errorf("email Server = %q after edit, want empty", got)
	}
	if got := v.Field(types.FieldUsername).Server; got != rejected.Errors[types.FieldUsername] {
		t.Errorf("username Server = %q, want kept", got)
	}
}

func TestSubmit_UnknownErrorKeysGoToBanner(t *testing.T) {
	rejected := protocol.FieldRejected(types.Verdict{
		types.FieldAmount:     "This value is reserved by the system. Try a nearby number.",
		types.Field("zip"):    "Zip is wrong.",
		types.Field("avatar"): "Avatar is wrong.",
	})
	s := start(t, fixed(rejected, nil))
	fill(t, s, validUnderA)

	wait(t, submit(t, s))

	v := snapshot(t, s)
	if v.Banner != "Avatar is wrong. Zip is wrong." {
		t.Errorf("Banner = %q", v.Banner)
	}
	if got := v.Field(types.FieldAmount).Server; got != rejected.Errors[types.FieldAmount] {
		t.Errorf("amount Server = %q", got)
	}
}

func TestSubmit_GenericFailuresSetBanner(t *testing.T) {
	tests := []struct {
		name    string
		outcome protocol.Outcome
	}{
		{"transient", protocol.GenericFailure(protocol.FailureTransient, protocol.MsgTransient)},
		{"transport", protocol.GenericFailure(protocol.FailureTransport, protocol.MsgTransport)},
		{"server fault", protocol.GenericFailure(protocol.FailureServerFault, protocol.MsgServerFault)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := start(t, fixed(tt.outcome, nil))
			fill(t, s, validUnderA)

			wait(t, submit(t, s))

			v := snapshot(t, s)
			if v.Banner != tt.outcome.Message {
				t.Errorf("Banner = %q, want %q", v.Banner, tt.outcome.Message)
			}
			if v.Submitted {
				t.Error("Submitted = true after failure")
			}
			for _, f := range types.Fields {
				if msg := v.Field(f).Message(); msg != "" {
					t.Errorf("%s message = %q, want none", f, msg)
				}
			}
		})
	}
}

func TestSubmit_ClearsBannerAndOverlayOnDispatch(t *testing.T) {
	gate := newGate()
	s := start(t, gate)
	fill(t, s, validUnderA)

	first := submit(t, s)
	<-gate.calls
	gate.release <- protocol.GenericFailure(protocol.FailureTransient, protocol.MsgTransient)
	wait(t, first)
	if got := snapshot(t, s).Banner; got != protocol.MsgTransient {
		t.Fatalf("Banner = %q, want transient message", got)
	}

	second := submit(t, s)
	<-gate.calls
	v := snapshot(t, s)
	if v.Banner != "" {
		t.Errorf("Banner = %q while in flight, want empty", v.Banner)
	}
	if !v.InFlight {
		t.Error("InFlight = false, want true")
	}
	gate.release <- protocol.Accepted()
	wait(t, second)
}

func TestSubmit_InFlight(t *testing.T) {
	gate := newGate()
	s := start(t, gate)
	fill(t, s, validUnderA)

	ticket := submit(t, s)
	<-gate.calls

	if _, err := s.Submit(context.Background()); !errors.Is(err, types.ErrSubmissionInFlight) {
		t.Errorf("second Submit() error = %v, want ErrSubmissionInFlight", err)
	}

	gate.release <- protocol.Accepted()
	wait(t, ticket)
}

func TestSubmit_SendsRecordSnapshot(t *testing.T) {
	gate := newGate()
	s := start(t, gate)
	fill(t, s, validUnderA)

	ticket := submit(t, s)
	sent := <-gate.calls

	// Edits while in flight do not change what was sent.
	if err := s.Edit(context.Background(), types.FieldAmount, types.Text("99")); err != nil {
		t.Fatalf("Edit() error = %v, want nil", err)
	}
	gate.release <- protocol.Accepted()
	wait(t, ticket)

	if diff := cmp.Diff(validUnderA, sent); diff != "" {
		t.Errorf("sent record mismatch (-want +got):\n%s", diff)
	}
}

func TestAccepted_SubmittedUntilReset(t *testing.T) {
	s := start(t, fixed(protocol.Accepted(), nil), WithStartIndex(2))
	ctx := context.Background()
	fill(t, s, validUnderA)

	res := wait(t, submit(t, s))
	if !res.Applied || res.Outcome.Kind != protocol.OutcomeAccepted {
		t.Fatalf("result = %+v, want applied accepted", res)
	}
	if !snapshot(t, s).Submitted {
		t.Fatal("Submitted = false after accepted")
	}

	if err := s.Edit(ctx, types.FieldEmail, types.Text("x")); !errors.Is(err, types.ErrSubmitted) {
		t.Errorf("Edit() error = %v, want ErrSubmitted", err)
	}
	if err := s.Blur(ctx, types.FieldEmail); !errors.Is(err, types.ErrSubmitted) {
		t.Errorf("Blur() error = %v, want ErrSubmitted", err)
	}
	if _, err := s.Submit(ctx); !errors.Is(err, types.ErrSubmitted) {
		t.Errorf("Submit() error = %v, want ErrSubmitted", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v, want nil", err)
	}
	v := snapshot(t, s)
	if v.Submitted {
		t.Error("Submitted = true after reset")
	}
	if v.Record != (types.FormRecord{}) {
		t.Errorf("Record = %+v after reset, want zero", v.Record)
	}
	if v.Index != 2 {
		t.Errorf("Index = %d after reset, want 2", v.Index)
	}
	for _, f := range types.Fields {
		if fv := v.Field(f); fv != (FieldView{}) {
			t.Errorf("%s = %+v after reset, want zero", f, fv)
		}
	}
}

func TestRotate_RevalidatesTouchedOnly(t *testing.T) {
	s := start(t, fixed(protocol.Accepted(), nil))
	ctx := context.Background()

	// "ab" fails B's five-character minimum but the field is untouched.
	if err := s.Edit(ctx, types.FieldUsername, types.Text("ab")); err != nil {
		t.Fatalf("Edit() error = %v, want nil", err)
	}
	// 15 passes A and fails B's even rule.
	if err := s.Edit(ctx, types.FieldAmount, types.Text("15")); err != nil {
		t.Fatalf("Edit() error = %v, want nil", err)
	}
	if err := s.Blur(ctx, types.FieldAmount); err != nil {
		t.Fatalf("Blur() error = %v, want nil", err)
	}
	if got := snapshot(t, s).Field(types.FieldAmount).Client; got != "" {
		t.Fatalf("amount Client under A = %q, want empty", got)
	}

	if err := s.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v, want nil", err)
	}

	v := snapshot(t, s)
	if v.RuleSet.ID != "B" || v.Index != 1 {
		t.Fatalf("rule set = %s at %d, want B at 1", v.RuleSet.ID, v.Index)
	}
	if got := v.Field(types.FieldAmount).Client; got != "Must be an even number (current ruleset)." {
		t.Errorf("amount Client under B = %q", got)
	}
	if got := v.Field(types.FieldUsername).Client; got != "" {
		t.Errorf("untouched username Client = %q, want empty", got)
	}
}

func TestRotate_ClearsOverlayAndBanner(t *testing.T) {
	rejected := protocol.FieldRejected(types.Verdict{
		types.FieldUsername: "This username is already taken. Please choose another.",
		types.Field("zip"):  "Zip is wrong.",
	})
	s := start(t, fixed(rejected, nil))
	fill(t, s, validUnderA)
	wait(t, submit(t, s))

	if err := s.Rotate(context.Background()); err != nil {
		t.Fatalf("Rotate() error = %v, want nil", err)
	}

	v := snapshot(t, s)
	if v.Banner != "" {
		t.Errorf("Banner = %q after rotation, want empty", v.Banner)
	}
	if got := v.Field(types.FieldUsername).Server; got != "" {
		t.Errorf("username Server = %q after rotation, want empty", got)
	}
}

func TestRotate_Wraps(t *testing.T) {
	s := start(t, fixed(protocol.Accepted(), nil))
	reg := rules.DefaultRegistry()

	for i := 0; i < reg.Count(); i++ {
		if err := s.Rotate(context.Background()); err != nil {
			t.Fatalf("Rotate() error = %v, want nil", err)
		}
	}
	if got := snapshot(t, s).RuleSet.ID; got != reg.At(0).ID {
		t.Errorf("rule set after full cycle = %s, want %s", got, reg.At(0).ID)
	}
}

func TestOutcome_StaleAfterRotation(t *testing.T) {
	tests := []struct {
		name        string
		outcome     protocol.Outcome
		wantApplied bool
		wantBanner  string
	}{
		{
			name:       "field rejected discarded",
			outcome:    protocol.FieldRejected(types.Verdict{types.FieldAmount: "This value is reserved by the system. Try a nearby number."}),
			wantBanner: MsgRulesChanged,
		},
		{
			name:       "generic failure discarded",
			outcome:    protocol.GenericFailure(protocol.FailureTransient, protocol.MsgTransient),
			wantBanner: MsgRulesChanged,
		},
		{
			name:        "accepted applied",
			outcome:     protocol.Accepted(),
			wantApplied: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := newGate()
			s := start(t, gate)
			fill(t, s, validUnderA)

			ticket := submit(t, s)
			<-gate.calls
			if err := s.Rotate(context.Background()); err != nil {
				t.Fatalf("Rotate() error = %v, want nil", err)
			}
			gate.release <- tt.outcome

			res := wait(t, ticket)
			if res.Applied != tt.wantApplied {
				t.Errorf("Applied = %v, want %v", res.Applied, tt.wantApplied)
			}
			v := snapshot(t, s)
			if v.Banner != tt.wantBanner {
				t.Errorf("Banner = %q, want %q", v.Banner, tt.wantBanner)
			}
			if got := v.Field(types.FieldAmount).Server; got != "" {
				t.Errorf("amount Server = %q, want empty", got)
			}
			if v.Submitted != tt.wantApplied {
				t.Errorf("Submitted = %v, want %v", v.Submitted, tt.wantApplied)
			}
			if v.InFlight {
				t.Error("InFlight = true after resolution")
			}
		})
	}
}

func TestOutcome_DiscardedAfterReset(t *testing.T) {
	gate := newGate()
	s := start(t, gate)
	fill(t, s, validUnderA)

	ticket := submit(t, s)
	<-gate.calls
	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v, want nil", err)
	}
	gate.release <- protocol.GenericFailure(protocol.FailureTransient, protocol.MsgTransient)

	res := wait(t, ticket)
	if res.Applied {
		t.Error("Applied = true for outcome from before reset")
	}
	if v := snapshot(t, s); v.Banner != "" || v.InFlight {
		t.Errorf("view = banner %q in flight %v, want clean", v.Banner, v.InFlight)
	}
}

func TestRun_AutomaticRotation(t *testing.T) {
	events := make(chan Event, 16)
	s := start(t, fixed(protocol.Accepted(), nil),
		WithRotationInterval(10*time.Millisecond),
		WithNotify(func(e Event) {
			select {
			case events <- e:
			default:
			}
		}))

	select {
	case e := <-events:
		if e.Kind != EventRotated {
			t.Errorf("Kind = %v, want EventRotated", e.Kind)
		}
		if e.View.Index < 1 {
			t.Errorf("Index = %d, want >= 1", e.View.Index)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no rotation event")
	}

	if v := snapshot(t, s); v.NextRotation.IsZero() {
		t.Error("NextRotation is zero with rotation enabled")
	}
}

func TestNotify_Outcome(t *testing.T) {
	events := make(chan Event, 4)
	s := start(t, fixed(protocol.Accepted(), nil), WithNotify(func(e Event) { events <- e }))
	fill(t, s, validUnderA)
	wait(t, submit(t, s))

	e := <-events
	if e.Kind != EventOutcome || !e.Result.Applied || !e.View.Submitted {
		t.Errorf("event = %+v, want applied outcome with submitted view", e)
	}
}

func TestSession_Closed(t *testing.T) {
	s := New(rules.DefaultRegistry(), fixed(protocol.Accepted(), nil), WithRotationInterval(0))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	// Wait for the loop to serve one call before stopping it.
	if _, err := s.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot() error = %v, want nil", err)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	if err := s.Rotate(context.Background()); !errors.Is(err, types.ErrSessionClosed) {
		t.Errorf("Rotate() error = %v, want ErrSessionClosed", err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("second Run() error = nil, want error")
	}
}

func TestSession_CallerContext(t *testing.T) {
	// Without Run, calls wait for the caller's context.
	s := New(rules.DefaultRegistry(), fixed(protocol.Accepted(), nil))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Rotate(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Rotate() error = %v, want DeadlineExceeded", err)
	}
}

func TestSubmit_OnlyWhenClientValid(t *testing.T) {
	reg := rules.DefaultRegistry()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("record is sent iff it passes the current rule set", prop.ForAll(
		func(index int, email, amount, username string, agree bool) bool {
			record := types.FormRecord{Email: email, Amount: amount, Username: username, Agree: agree}
			var calls atomic.Int32
			s := New(reg, fixed(protocol.Accepted(), &calls), WithRotationInterval(0), WithStartIndex(index))

			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() { errCh <- s.Run(ctx) }()
			defer func() {
				cancel()
				<-errCh
			}()

			for _, f := range types.Fields {
				if err := s.Edit(ctx, f, record.Value(f)); err != nil {
					return false
				}
			}
			ticket, err := s.Submit(ctx)
			if err != nil {
				return false
			}
			res := <-ticket

			wantSent := rules.Compile(reg.At(index)).Validate(record).OK()
			return res.Sent == wantSent && (calls.Load() == 1) == wantSent
		},
		gen.IntRange(0, 5),
		gen.OneConstOf("", "jane@corp.io", "jane@gmail.com", "not-an-email"),
		gen.OneConstOf("", "0", "12", "15", "501", "2.5", "abc"),
		gen.OneConstOf("", "ab", "jane", "jane_doe", "user42"),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

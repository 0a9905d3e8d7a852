// Package session implements the client form session: the rotating client
// rule set, per-field validation state, the server error overlay and the
// submission lifecycle.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/dualcheck/internal/protocol"
	"github.com/solatis/dualcheck/internal/rules"
	"github.com/solatis/dualcheck/internal/types"
)

/*
 * Event loop.
 *
 * All session state is owned by the goroutine running Run. Public methods
 * send a closure over cmds and wait for it to execute; the rotation ticker
 * and submission completions arrive on their own channels. The loop applies
 * one event at a time, so rotation, edits and outcomes never interleave.
 *
 * Field state:
 *   - client: last client verdict, only for touched fields
 *   - server: overlay from the last applied FieldRejected outcome
 *   - the displayed message is server if present, else client
 *
 * Transitions:
 *   - Edit:    record updated, server[f] cleared, client[f] revalidated if touched
 *   - Blur:    f touched, client[f] revalidated
 *   - Rotate:  index+1, server overlay and banner cleared, touched revalidated
 *   - Submit:  all touched, full validation; any failure aborts locally.
 *              Otherwise overlay and banner cleared and the record is sent.
 *   - Outcome: applied unless stale (see applyOutcome)
 *   - Reset:   record, touched, client, server and banner cleared
 *
 * Staleness: pending.index pins the rotation count at dispatch, and
 * pending.epoch pins the reset count. Outcomes are matched against both.
 */

var errAlreadyRunning = errors.New("session already running")

// MsgRulesChanged replaces a rejection that arrived after the rule set rotated.
const MsgRulesChanged = "Validation rules changed while your submission was in flight. Please review and submit again."

// DefaultRotationInterval is the automatic rotation period.
const DefaultRotationInterval = 30 * time.Second

// Session is a single-user form session. Create with New, drive with Run.
type Session struct {
	registry  *rules.Registry
	submitter protocol.Submitter
	interval  time.Duration
	logger    *zap.Logger
	notify    func(Event)

	cmds    chan func()
	results chan completion
	done    chan struct{}
	started atomic.Bool

	// loop-owned
	runCtx context.Context
	st     state
}

type state struct {
	index        int
	epoch        int
	validator    *rules.Validator
	record       types.FormRecord
	touched      map[types.Field]bool
	client       types.Verdict
	server       types.Verdict
	banner       string
	submitted    bool
	pending      *pending
	nextRotation time.Time
}

type pending struct {
	index  int
	epoch  int
	ticket chan SubmitResult
}

type completion struct {
	p       *pending
	outcome protocol.Outcome
}

// Option configures a Session.
type Option func(*Session)

// WithRotationInterval sets the automatic rotation period. Zero or negative
// disables automatic rotation; Rotate still works.
func WithRotationInterval(d time.Duration) Option {
	return func(s *Session) { s.interval = d }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStartIndex sets the initial rule set index.
func WithStartIndex(i int) Option {
	return func(s *Session) { s.st.index = i }
}

// WithNotify registers fn for rotation and outcome events. fn runs on the
// event loop: it must not block or call back into the Session.
func WithNotify(fn func(Event)) Option {
	return func(s *Session) { s.notify = fn }
}

// New creates a session over registry that sends records through submitter.
func New(registry *rules.Registry, submitter protocol.Submitter, opts ...Option) *Session {
	s := &Session{
		registry:  registry,
		submitter: submitter,
		interval:  DefaultRotationInterval,
		logger:    zap.NewNop(),
		cmds:      make(chan func()),
		results:   make(chan completion),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.st.touched = make(map[types.Field]bool)
	s.st.client = types.Verdict{}
	s.st.server = types.Verdict{}
	s.st.validator = rules.Compile(registry.At(s.st.index))
	return s
}

// Run executes the event loop until ctx is cancelled. Calls made before Run
// starts block until it does. Run may be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(s.done)
	s.runCtx = ctx

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
		s.st.nextRotation = time.Now().Add(s.interval)
	}

	s.logger.Info("session started",
		zap.Int("index", s.st.index),
		zap.String("ruleset", string(s.registry.At(s.st.index).ID)),
		zap.Duration("rotation_interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopped")
			return nil
		case now := <-tick:
			s.st.nextRotation = now.Add(s.interval)
			s.rotate()
		case fn := <-s.cmds:
			fn()
		case c := <-s.results:
			s.applyOutcome(c)
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(finished) }:
	case <-s.done:
		return types.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Rotate advances to the next rule set immediately.
func (s *Session) Rotate(ctx context.Context) error {
	return s.do(ctx, s.rotate)
}

// Edit replaces the raw value of field f.
func (s *Session) Edit(ctx context.Context, f types.Field, v types.FieldValue) error {
	if !f.Valid() {
		return types.ErrUnknownField
	}
	var err error
	if doErr := s.do(ctx, func() {
		if s.st.submitted {
			err = types.ErrSubmitted
			return
		}
		s.st.record = s.st.record.With(f, v)
		delete(s.st.server, f)
		if s.st.touched[f] {
			s.revalidate(f)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Blur marks f touched and validates it.
func (s *Session) Blur(ctx context.Context, f types.Field) error {
	if !f.Valid() {
		return types.ErrUnknownField
	}
	var err error
	if doErr := s.do(ctx, func() {
		if s.st.submitted {
			err = types.ErrSubmitted
			return
		}
		s.st.touched[f] = true
		s.revalidate(f)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Submit validates the whole record under the current rule set and, if it
// passes, sends it. The returned ticket yields one SubmitResult: immediately
// when validation aborts the submission, otherwise once the outcome has been
// applied or discarded.
func (s *Session) Submit(ctx context.Context) (SubmitTicket, error) {
	var (
		ticket chan SubmitResult
		err    error
	)
	if doErr := s.do(ctx, func() {
		ticket, err = s.submit()
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// Reset clears the record and all validation state, leaving the submitted
// state. The rule set index is kept.
func (s *Session) Reset(ctx context.Context) error {
	return s.do(ctx, func() {
		s.st.epoch++
		s.st.record = types.FormRecord{}
		s.st.touched = make(map[types.Field]bool)
		s.st.client = types.Verdict{}
		s.st.server = types.Verdict{}
		s.st.banner = ""
		s.st.submitted = false
		s.st.pending = nil
		s.logger.Debug("session reset")
	})
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := s.do(ctx, func() { v = s.view() })
	return v, err
}

func (s *Session) rotate() {
	s.st.index++
	rs := s.registry.At(s.st.index)
	s.st.validator = rules.Compile(rs)
	s.st.server = types.Verdict{}
	s.st.banner = ""
	for _, f := range types.Fields {
		if s.st.touched[f] {
			s.revalidate(f)
		}
	}

	s.logger.Info("rule set rotated",
		zap.Int("index", s.st.index),
		zap.String("ruleset", string(rs.ID)))
	s.emit(Event{Kind: EventRotated, View: s.view()})
}

func (s *Session) revalidate(f types.Field) {
	if msg, failed := s.st.validator.ValidateField(f, s.st.record.Value(f)); failed {
		s.st.client[f] = msg
	} else {
		delete(s.st.client, f)
	}
}

func (s *Session) submit() (chan SubmitResult, error) {
	if s.st.submitted {
		return nil, types.ErrSubmitted
	}
	if s.st.pending != nil {
		return nil, types.ErrSubmissionInFlight
	}

	for _, f := range types.Fields {
		s.st.touched[f] = true
	}
	s.st.client = s.st.validator.Validate(s.st.record)
	if s.st.client == nil {
		s.st.client = types.Verdict{}
	}

	ticket := make(chan SubmitResult, 1)
	if !s.st.client.OK() {
		s.logger.Debug("submission blocked by client validation",
			zap.Int("failures", len(s.st.client)))
		ticket <- SubmitResult{}
		return ticket, nil
	}

	s.st.server = types.Verdict{}
	s.st.banner = ""
	p := &pending{index: s.st.index, epoch: s.st.epoch, ticket: ticket}
	s.st.pending = p

	record := s.st.record
	go func() {
		out := s.submitter.Submit(s.runCtx, record)
		select {
		case s.results <- completion{p: p, outcome: out}:
		case <-s.done:
			p.ticket <- SubmitResult{Sent: true, Outcome: out}
		}
	}()
	return ticket, nil
}

/*
 * Outcome application.
 *
 * An outcome is discarded without a banner when a Reset happened after the
 * submission was sent. Otherwise a FieldRejected or GenericFailure whose
 * submission started under a different rule set index is stale: the banner
 * says the rules changed and the outcome itself is only logged. Accepted is
 * always applied because the server does not depend on the client rule set.
 *
 * Rejected fields outside the four known kinds are surfaced in the banner.
 */
func (s *Session) applyOutcome(c completion) {
	res := SubmitResult{Sent: true, Outcome: c.outcome}
	if s.st.pending == c.p {
		s.st.pending = nil
	}

	switch {
	case c.p.epoch != s.st.epoch:
		s.logger.Info("discarding outcome from before reset",
			zap.Stringer("outcome", c.outcome.Kind))
	case c.outcome.Kind != protocol.OutcomeAccepted && c.p.index != s.st.index:
		s.st.banner = MsgRulesChanged
		s.logger.Info("discarding stale outcome",
			zap.Stringer("outcome", c.outcome.Kind),
			zap.Int("sent_index", c.p.index),
			zap.Int("index", s.st.index))
	default:
		res.Applied = true
		s.apply(c.outcome)
	}

	c.p.ticket <- res
	s.emit(Event{Kind: EventOutcome, View: s.view(), Result: res})
}

func (s *Session) apply(out protocol.Outcome) {
	switch out.Kind {
	case protocol.OutcomeAccepted:
		s.st.submitted = true
		s.st.server = types.Verdict{}
		s.st.banner = ""
		s.logger.Info("submission accepted")
	case protocol.OutcomeFieldRejected:
		s.st.server = types.Verdict{}
		var unknown []string
		for f, msg := range out.Errors {
			if f.Valid() {
				s.st.server[f] = msg
			} else {
				unknown = append(unknown, string(f))
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			msgs := make([]string, 0, len(unknown))
			for _, k := range unknown {
				msgs = append(msgs, out.Errors[types.Field(k)])
			}
			s.st.banner = strings.Join(msgs, " ")
		}
		s.logger.Info("submission rejected",
			zap.Int("fields", len(out.Errors)))
	case protocol.OutcomeGenericFailure:
		s.st.banner = out.Message
		s.logger.Info("submission failed",
			zap.Stringer("failure", out.Failure),
			zap.String("message", out.Message))
	}
}

func (s *Session) view() View {
	v := View{
		Index:        s.st.index,
		RuleSet:      s.registry.At(s.st.index),
		Record:       s.st.record,
		Fields:       make(map[types.Field]FieldView, len(types.Fields)),
		Banner:       s.st.banner,
		Submitted:    s.st.submitted,
		InFlight:     s.st.pending != nil,
		NextRotation: s.st.nextRotation,
	}
	for _, f := range types.Fields {
		v.Fields[f] = FieldView{
			Touched: s.st.touched[f],
			Client:  s.st.client[f],
			Server:  s.st.server[f],
		}
	}
	return v
}

func (s *Session) emit(e Event) {
	if s.notify != nil {
		s.notify(e)
	}
}

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/solatis/dualcheck/internal/core/authority"
	"github.com/solatis/dualcheck/internal/protocol"
	"github.com/solatis/dualcheck/internal/rules"
	"github.com/solatis/dualcheck/internal/types"
)

// fixedEvaluator returns outcome and records the id and record it saw.
type fixedEvaluator struct {
	outcome protocol.Outcome
	panics  bool
	lastID  types.SubmissionID
	lastRaw map[string]any
}

func (f *fixedEvaluator) Evaluate(_ context.Context, id types.SubmissionID, raw map[string]any) protocol.Outcome {
	if f.panics {
		panic("evaluator exploded: secret internal detail")
	}
	f.lastID = id
	f.lastRaw = raw
	return f.outcome
}

func newTestService(t *testing.T, ev Evaluator) *SubmissionService {
	t.Helper()
	svc, err := NewSubmissionService(ev, rules.DefaultRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc
}

func serve(t *testing.T, svc *SubmissionService, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	NewHTTPHandler(svc, HTTPOptions{AllowedOrigin: "http://localhost:5173"}).ServeHTTP(rec, req)
	return rec
}

func postSubmit(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, protocol.SubmitPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestNewSubmissionService_NilArgs(t *testing.T) {
	_, err := NewSubmissionService(nil, rules.DefaultRegistry(), nil)
	assert.Error(t, err)
	_, err = NewSubmissionService(&fixedEvaluator{}, nil, nil)
	assert.Error(t, err)
}

func TestHandleSubmit_StatusClasses(t *testing.T) {
	tests := []struct {
		name       string
		outcome    protocol.Outcome
		wantStatus int
		wantEnv    protocol.Envelope
	}{
		{
			name:       "accepted",
			outcome:    protocol.Accepted(),
			wantStatus: http.StatusOK,
			wantEnv:    protocol.Envelope{OK: true},
		},
		{
			name:       "field rejected",
			outcome:    protocol.FieldRejected(types.Verdict{types.FieldAmount: "This value is reserved by the system. Try a nearby number."}),
			wantStatus: http.StatusUnprocessableEntity,
			wantEnv: protocol.Envelope{
				Type:   protocol.TypeField,
				Errors: map[string]string{"amount": "This value is reserved by the system. Try a nearby number."},
			},
		},
		{
			name:       "transient",
			outcome:    protocol.GenericFailure(protocol.FailureTransient, protocol.MsgTransient),
			wantStatus: http.StatusServiceUnavailable,
			wantEnv:    protocol.Envelope{Type: protocol.TypeGeneric, Message: protocol.MsgTransient},
		},
		{
			name:       "fault message replaced",
			outcome:    protocol.GenericFailure(protocol.FailureServerFault, "pq: relation does not exist"),
			wantStatus: http.StatusInternalServerError,
			wantEnv:    protocol.Envelope{Type: protocol.TypeGeneric, Message: protocol.MsgServerFault},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, &fixedEvaluator{outcome: tt.outcome})
			rec := serve(t, svc, postSubmit(`{"email":"jane@corp.io","amount":"12","username":"jane_doe","agree":true}`))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantEnv, decodeEnvelope(t, rec))
		})
	}
}

func TestHandleSubmit_PassesRecordAndID(t *testing.T) {
	ev := &fixedEvaluator{outcome: protocol.Accepted()}
	svc := newTestService(t, ev)

	id := types.NewSubmissionID()
	req := postSubmit(`{"email":"jane@corp.io","amount":"12","username":"jane_doe","agree":true}`)
	req.Header.Set(protocol.SubmissionIDHeader, string(id))
	serve(t, svc, req)

	assert.Equal(t, id, ev.lastID)
	assert.Equal(t, map[string]any{
		"email": "jane@corp.io", "amount": "12", "username": "jane_doe", "agree": true,
	}, ev.lastRaw)
}

func TestHandleSubmit_InvalidIDReplaced(t *testing.T) {
	ev := &fixedEvaluator{outcome: protocol.Accepted()}
	svc := newTestService(t, ev)

	req := postSubmit(`{}`)
	req.Header.Set(protocol.SubmissionIDHeader, "'; DROP TABLE x")
	serve(t, svc, req)

	_, err := types.ParseSubmissionID(string(ev.lastID))
	assert.NoError(t, err)
}

func TestHandleSubmit_MalformedBody(t *testing.T) {
	svc := newTestService(t, authority.New(authority.DefaultDenylist(), 0))

	for _, body := range []string{`not json`, `[1,2,3]`, `null`} {
		t.Run(body, func(t *testing.T) {
			rec := serve(t, svc, postSubmit(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, protocol.Envelope{Type: protocol.TypeGeneric, Message: protocol.MsgMalformed}, decodeEnvelope(t, rec))
		})
	}
}

func TestHandleSubmit_RealAuthority(t *testing.T) {
	svc := newTestService(t, authority.New(authority.DefaultDenylist(), 0))

	rec := serve(t, svc, postSubmit(`{"email":"jane@corp.io","amount":"14","username":"12345","agree":true}`))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, map[string]string{
		"amount":   "This value is reserved by the system. Try a nearby number.",
		"username": "Username cannot be entirely numeric.",
	}, env.Errors)
}

func TestHandleSubmit_PanicMasked(t *testing.T) {
	svc := newTestService(t, &fixedEvaluator{panics: true})

	rec := serve(t, svc, postSubmit(`{}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, protocol.Envelope{Type: protocol.TypeGeneric, Message: protocol.MsgServerFault}, decodeEnvelope(t, rec))
	assert.NotContains(t, rec.Body.String(), "secret internal detail")
}

func TestUnknownRoute_GenericEnvelope(t *testing.T) {
	svc := newTestService(t, &fixedEvaluator{})

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, protocol.TypeGeneric, env.Type)
	assert.False(t, env.OK)
}

func TestHandleValidationConfig(t *testing.T) {
	svc := newTestService(t, &fixedEvaluator{})

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, protocol.ValidationConfigPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var cfg protocol.ValidationConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, rules.DefaultRegistry().All(), cfg.RuleSets)

	req := httptest.NewRequest(http.MethodGet, protocol.ValidationConfigPath, nil)
	req.Header.Set("If-None-Match", etag)
	rec = serve(t, svc, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestComputeETag_Stable(t *testing.T) {
	sets := rules.DefaultRegistry().All()
	a := computeETag(sets, []byte("body"))
	b := computeETag(sets, []byte("body"))
	c := computeETag(sets, []byte("other"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHealthz(t *testing.T) {
	svc := newTestService(t, &fixedEvaluator{})
	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, protocol.HealthPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORS_AllowedOrigin(t *testing.T) {
	svc := newTestService(t, &fixedEvaluator{outcome: protocol.Accepted()})

	req := postSubmit(`{}`)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := serve(t, svc, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPSubmitter_AgainstHandler(t *testing.T) {
	ev := &fixedEvaluator{outcome: protocol.FieldRejected(types.Verdict{types.FieldEmail: "This email domain is not permitted on our platform."})}
	srv := httptest.NewServer(NewHTTPHandler(newTestService(t, ev), HTTPOptions{}))
	defer srv.Close()

	got := protocol.NewHTTPSubmitter(srv.URL, 0).Submit(context.Background(), types.FormRecord{Email: "jane@test.com"})
	assert.Equal(t, ev.outcome, got)
	assert.Equal(t, "jane@test.com", ev.lastRaw["email"])
}

package authority

import (
	"context"

	"go.uber.org/zap"

	"github.com/solatis/dualcheck/internal/protocol"
	"github.com/solatis/dualcheck/internal/rules"
	"github.com/solatis/dualcheck/internal/types"
)

// Authority evaluates submitted records against the server schema.
//
// Holds no per-request state: the validator is immutable and every request
// makes its own injector draw, so one Authority serves concurrent requests.
type Authority struct {
	validator *rules.Validator
	injector  *Injector
	logger    *zap.Logger
}

// Option configures an Authority.
type Option func(*Authority)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Authority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithInjector replaces the failure injector. Nil disables injection.
func WithInjector(inj *Injector) Option {
	return func(a *Authority) {
		a.injector = inj
	}
}

// New creates an Authority over denylist d with the given injection rate.
func New(d Denylist, failureRate float64, opts ...Option) *Authority {
	a := &Authority{
		validator: NewServerValidator(d),
		injector:  NewInjector(failureRate),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Evaluate returns the authoritative outcome for one decoded submission.
//
// The injector runs first, so a fully valid record can still receive a
// transient failure. Type failures from coercion take the place of rule
// checks for their field; other fields are validated in declaration order.
func (a *Authority) Evaluate(ctx context.Context, id types.SubmissionID, raw map[string]any) protocol.Outcome {
	log := a.logger.With(zap.String("submission_id", string(id)))

	if a.injector.Fail() {
		log.Info("injected transient failure", zap.Float64("rate", a.injector.Rate()))
		return protocol.GenericFailure(protocol.FailureTransient, protocol.MsgTransient)
	}

	if raw == nil {
		log.Warn("malformed submission")
		return protocol.GenericFailure(protocol.FailureMalformedRequest, protocol.MsgMalformed)
	}

	coerced := rules.CoerceRecord(raw)
	verdict := types.Verdict{}
	for _, f := range types.Fields {
		if msg, failed := coerced.Failures[f]; failed {
			verdict[f] = msg
			continue
		}
		if msg, failed := a.validator.ValidateField(f, coerced.Record.Value(f)); failed {
			verdict[f] = msg
		}
	}

	if !verdict.OK() {
		log.Info("submission rejected", zap.Int("fields", len(verdict)))
		return protocol.FieldRejected(verdict)
	}

	log.Info("submission accepted",
		zap.String("username", coerced.Record.Username),
		zap.String("amount", coerced.Record.Amount))
	return protocol.Accepted()
}

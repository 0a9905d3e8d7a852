package types

import "errors"

// Sentinel errors for dualcheck operations.
var (
	// ErrEmptyRegistry indicates a rule set document defines no rule sets.
	ErrEmptyRegistry = errors.New("registry has no rule sets")

	// ErrDuplicateRuleSetID indicates two rule sets share an ID.
	ErrDuplicateRuleSetID = errors.New("duplicate rule set id")

	// ErrMissingRuleSetID indicates a rule set has an empty ID.
	ErrMissingRuleSetID = errors.New("rule set id is empty")

	// ErrAmountBounds indicates amount min is greater than max.
	ErrAmountBounds = errors.New("amount min exceeds max")

	// ErrLengthBounds indicates a negative or inverted username length range.
	ErrLengthBounds = errors.New("username length bounds invalid")

	// ErrServerOnlyRule indicates a client rule set uses a server-only rule.
	ErrServerOnlyRule = errors.New("rule is server-only")

	// ErrUnknownField indicates a field name outside the four fixed kinds.
	ErrUnknownField = errors.New("unknown field")

	// ErrSubmissionInFlight indicates a submit while another is pending.
	ErrSubmissionInFlight = errors.New("submission already in flight")

	// ErrSubmitted indicates a mutation after an accepted submission and before reset.
	ErrSubmitted = errors.New("form already submitted")

	// ErrSessionClosed indicates the session event loop is no longer running.
	ErrSessionClosed = errors.New("session closed")

	// ErrMalformedRecord indicates a submission body that is not a record object.
	ErrMalformedRecord = errors.New("malformed submission record")

	// ErrCoercionFailed indicates a wire value had the wrong JSON type for its field.
	ErrCoercionFailed = errors.New("type coercion failed")
)

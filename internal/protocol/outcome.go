// Package protocol defines the submission contract between the client
// session and the authoritative validator: the Outcome of a submission, its
// JSON envelope, the status convention, and Submitter implementations for
// HTTP and gRPC.
//
// It is the only coupling between client and server validation. Neither side
// imports the other's rules.
package protocol

import (
	"context"

	"github.com/solatis/dualcheck/internal/types"
)

// OutcomeKind classifies a submission result.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota
	OutcomeFieldRejected
	OutcomeGenericFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeFieldRejected:
		return "field_rejected"
	case OutcomeGenericFailure:
		return "generic_failure"
	default:
		return "unknown"
	}
}

// FailureKind distinguishes generic failures for observability.
// All kinds get the same banner treatment in the UI.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureTransient: server declined to evaluate (injected overload).
	FailureTransient
	// FailureTransport: validator unreachable or response malformed.
	FailureTransport
	// FailureServerFault: unanticipated server error, message replaced.
	FailureServerFault
	// FailureMalformedRequest: server could not read the submitted record.
	FailureMalformedRequest
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTransient:
		return "transient_unavailable"
	case FailureTransport:
		return "transport_failure"
	case FailureServerFault:
		return "server_fault"
	case FailureMalformedRequest:
		return "malformed_request"
	default:
		return "unknown"
	}
}

// User-facing generic messages.
const (
	MsgTransient   = "Server temporarily overloaded. Please try again."
	MsgTransport   = "Could not reach the server. Please try again."
	MsgServerFault = "An unexpected server error occurred. Please try again."
	MsgMalformed   = "Malformed submission."
)

// Outcome is the result of one submission.
type Outcome struct {
	Kind    OutcomeKind
	Errors  types.Verdict // FieldRejected only
	Message string        // GenericFailure only
	Failure FailureKind   // GenericFailure only
}

// Accepted returns the success outcome.
func Accepted() Outcome {
	return Outcome{Kind: OutcomeAccepted}
}

// FieldRejected returns a field-scoped rejection carrying a copy of errs.
func FieldRejected(errs types.Verdict) Outcome {
	return Outcome{Kind: OutcomeFieldRejected, Errors: errs.Clone()}
}

// GenericFailure returns a non-field failure.
func GenericFailure(kind FailureKind, message string) Outcome {
	return Outcome{Kind: OutcomeGenericFailure, Failure: kind, Message: message}
}

// Submitter sends a record to the authoritative validator.
// Implementations never return an error: transport problems are outcomes.
type Submitter interface {
	Submit(ctx context.Context, record types.FormRecord) Outcome
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, record types.FormRecord) Outcome

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, record types.FormRecord) Outcome {
	return f(ctx, record)
}

// internal/protocol/wire.go
package protocol

import (
	"fmt"
	"net/http"

	"github.com/solatis/dualcheck/internal/types"
)

/*
 * Wire envelope and status convention.
 *
 * Envelope shapes:
 *   - success:         {"ok": true}
 *   - field rejection: {"ok": false, "type": "field", "errors": {...}}
 *   - generic failure: {"ok": false, "type": "generic", "message": "..."}
 *
 * Status classes (HTTP):
 *   - accepted          -> 200
 *   - field rejection   -> 422 (unprocessable)
 *   - transient         -> 503 (unavailable)
 *   - malformed request -> 400
 *   - fault / other     -> 500 (message replaced before it leaves the server)
 *
 * Decoding is strict about shape: a body that does not match its status
 * class is a transport failure, never a guessed outcome.
 */

// Envelope type discriminators.
const (
	TypeField   = "field"
	TypeGeneric = "generic"
)

// SubmissionIDHeader carries the client-generated submission id.
const SubmissionIDHeader = "X-Submission-ID"

// Envelope is the JSON body of every submission response.
type Envelope struct {
	OK      bool              `json:"ok"`
	Type    string            `json:"type,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Message string            `json:"message,omitempty"`
}

// EnvelopeFor encodes an outcome.
func EnvelopeFor(o Outcome) Envelope {
	switch o.Kind {
	case OutcomeAccepted:
		return Envelope{OK: true}
	case OutcomeFieldRejected:
		errs := make(map[string]string, len(o.Errors))
		for f, msg := range o.Errors {
			errs[string(f)] = msg
		}
		return Envelope{Type: TypeField, Errors: errs}
	default:
		msg := o.Message
		if o.Failure == FailureServerFault {
			msg = MsgServerFault
		}
		return Envelope{Type: TypeGeneric, Message: msg}
	}
}

// StatusFor maps an outcome to its HTTP status class.
func StatusFor(o Outcome) int {
	switch o.Kind {
	case OutcomeAccepted:
		return http.StatusOK
	case OutcomeFieldRejected:
		return http.StatusUnprocessableEntity
	}
	switch o.Failure {
	case FailureTransient:
		return http.StatusServiceUnavailable
	case FailureMalformedRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// FailureForStatus classifies a generic envelope by its HTTP status.
func FailureForStatus(status int) FailureKind {
	switch {
	case status == http.StatusServiceUnavailable:
		return FailureTransient
	case status >= 400 && status < 500:
		return FailureMalformedRequest
	default:
		return FailureServerFault
	}
}

// Outcome decodes the envelope received with an HTTP status.
func (e Envelope) Outcome(status int) (Outcome, error) {
	if e.OK {
		if status != http.StatusOK {
			return Outcome{}, fmt.Errorf("ok envelope with status %d", status)
		}
		return Accepted(), nil
	}
	switch e.Type {
	case TypeField:
		if status != http.StatusUnprocessableEntity {
			return Outcome{}, fmt.Errorf("field envelope with status %d", status)
		}
		if len(e.Errors) == 0 {
			return Outcome{}, fmt.Errorf("field envelope without errors")
		}
		errs := make(types.Verdict, len(e.Errors))
		for f, msg := range e.Errors {
			errs[types.Field(f)] = msg
		}
		return FieldRejected(errs), nil
	case TypeGeneric:
		if status < 400 {
			return Outcome{}, fmt.Errorf("generic envelope with status %d", status)
		}
		kind := FailureForStatus(status)
		msg := e.Message
		if kind == FailureServerFault || msg == "" {
			msg = defaultMessage(kind)
		}
		return GenericFailure(kind, msg), nil
	default:
		return Outcome{}, fmt.Errorf("unknown envelope type %q", e.Type)
	}
}

func defaultMessage(kind FailureKind) string {
	switch kind {
	case FailureTransient:
		return MsgTransient
	case FailureMalformedRequest:
		return MsgMalformed
	case FailureTransport:
		return MsgTransport
	default:
		return MsgServerFault
	}
}

// Map renders the envelope as a generic JSON object (gRPC Struct payloads).
func (e Envelope) Map() map[string]any {
	m := map[string]any{"ok": e.OK}
	if e.Type != "" {
		m["type"] = e.Type
	}
	if len(e.Errors) > 0 {
		errs := make(map[string]any, len(e.Errors))
		for f, msg := range e.Errors {
			errs[f] = msg
		}
		m["errors"] = errs
	}
	if e.Message != "" {
		m["message"] = e.Message
	}
	return m
}

// EnvelopeFromMap is the inverse of Map.
func EnvelopeFromMap(m map[string]any) (Envelope, error) {
	var e Envelope
	ok, isBool := m["ok"].(bool)
	if !isBool {
		return Envelope{}, fmt.Errorf("envelope missing boolean ok")
	}
	e.OK = ok
	if t, present := m["type"]; present {
		s, isString := t.(string)
		if !isString {
			return Envelope{}, fmt.Errorf("envelope type is not a string")
		}
		e.Type = s
	}
	if raw, present := m["errors"]; present {
		obj, isObj := raw.(map[string]any)
		if !isObj {
			return Envelope{}, fmt.Errorf("envelope errors is not an object")
		}
		e.Errors = make(map[string]string, len(obj))
		for f, v := range obj {
			s, isString := v.(string)
			if !isString {
				return Envelope{}, fmt.Errorf("envelope error for %q is not a string", f)
			}
			e.Errors[f] = s
		}
	}
	if msg, present := m["message"]; present {
		s, isString := msg.(string)
		if !isString {
			return Envelope{}, fmt.Errorf("envelope message is not a string")
		}
		e.Message = s
	}
	return e, nil
}

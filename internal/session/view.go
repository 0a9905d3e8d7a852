package session

import (
	"time"

	"github.com/solatis/dualcheck/internal/protocol"
	"github.com/solatis/dualcheck/internal/types"
)

// Source tells which validator produced the message shown for a field.
type Source int

const (
	SourceNone Source = iota
	SourceClient
	SourceServer
)

func (s Source) String() string {
	switch s {
	case SourceClient:
		return "client"
	case SourceServer:
		return "server"
	default:
		return ""
	}
}

// FieldView is the rendering state of one field.
type FieldView struct {
	Touched bool
	Client  string
	Server  string
}

// Message returns the message to display. The server message has priority.
func (f FieldView) Message() string {
	if f.Server != "" {
		return f.Server
	}
	return f.Client
}

// Source returns the origin of Message.
func (f FieldView) Source() Source {
	switch {
	case f.Server != "":
		return SourceServer
	case f.Client != "":
		return SourceClient
	default:
		return SourceNone
	}
}

// View is an immutable copy of session state for rendering.
type View struct {
	// Index counts rotations from the start index; RuleSet is registry.At(Index).
	Index        int
	RuleSet      types.RuleSet
	Record       types.FormRecord
	Fields       map[types.Field]FieldView
	Banner       string
	Submitted    bool
	InFlight     bool
	NextRotation time.Time // zero when automatic rotation is off
}

// Field returns the view of f.
func (v View) Field(f types.Field) FieldView {
	return v.Fields[f]
}

// EventKind classifies session notifications.
type EventKind int

const (
	EventRotated EventKind = iota
	EventOutcome
)

// Event is delivered to the WithNotify callback after a transition that the
// user did not trigger directly.
type Event struct {
	Kind EventKind
	View View
	// Result is set for EventOutcome.
	Result SubmitResult
}

// SubmitResult reports what happened to one Submit call.
type SubmitResult struct {
	// Sent is false when local validation aborted the submission.
	Sent bool
	// Outcome is the server outcome; zero when not sent.
	Outcome protocol.Outcome
	// Applied is false when the outcome was discarded (stale or after Reset).
	Applied bool
}

// SubmitTicket yields exactly one SubmitResult once the submission resolves.
type SubmitTicket <-chan SubmitResult

// Package types provides domain models shared across dualcheck components.
//
// Zero-dependency design: types.go, rules.go and errors.go use only the
// standard library so both the client session and the authoritative server
// can import them without pulling in transport deps. ID utilities in ids.go
// import uuid but are isolated from the validation types.
//
// Separation from the wire: JSON envelopes live in internal/protocol. This
// package contains the hand-written values the rule engine operates on.
package types

// Field names one of the four fixed field kinds of a form record.
// String alias keeps the JSON key and the Go identifier identical.
type Field string

const (
	FieldEmail    Field = "email"
	FieldAmount   Field = "amount"
	FieldUsername Field = "username"
	FieldAgree    Field = "agree"
)

// Fields lists every field in declaration order.
// Declaration order decides which violations a record-level pass reports first.
var Fields = []Field{FieldEmail, FieldAmount, FieldUsername, FieldAgree}

// Valid reports whether f is one of the four known fields.
func (f Field) Valid() bool {
	switch f {
	case FieldEmail, FieldAmount, FieldUsername, FieldAgree:
		return true
	default:
		return false
	}
}

// FieldValue carries the raw value of one field.
// Text is used by email/amount/username, Flag by agree.
type FieldValue struct {
	Text string
	Flag bool
}

// Text wraps a raw text value.
func Text(s string) FieldValue {
	return FieldValue{Text: s}
}

// Flag wraps a raw boolean value.
func Flag(b bool) FieldValue {
	return FieldValue{Flag: b}
}

// FormRecord is the unit of validation and of submission.
// Amount stays textual: it is checked lexically before numerically.
type FormRecord struct {
	Email    string `json:"email"`
	Amount   string `json:"amount"`
	Username string `json:"username"`
	Agree    bool   `json:"agree"`
}

// Value returns the raw value held for field f.
func (r FormRecord) Value(f Field) FieldValue {
	switch f {
	case FieldEmail:
		return Text(r.Email)
	case FieldAmount:
		return Text(r.Amount)
	case FieldUsername:
		return Text(r.Username)
	case FieldAgree:
		return Flag(r.Agree)
	default:
		return FieldValue{}
	}
}

// With returns a copy of r with field f replaced by v.
// Unknown fields leave the record unchanged.
func (r FormRecord) With(f Field, v FieldValue) FormRecord {
	switch f {
	case FieldEmail:
		r.Email = v.Text
	case FieldAmount:
		r.Amount = v.Text
	case FieldUsername:
		r.Username = v.Text
	case FieldAgree:
		r.Agree = v.Flag
	}
	return r
}

// Verdict maps a field to its single violation message.
// Absent key means the field passed (or was never validated).
type Verdict map[Field]string

// Clone returns an independent copy; nil stays nil.
func (v Verdict) Clone() Verdict {
	if v == nil {
		return nil
	}
	out := make(Verdict, len(v))
	for f, msg := range v {
		out[f] = msg
	}
	return out
}

// OK reports whether the verdict holds no violations.
func (v Verdict) OK() bool {
	return len(v) == 0
}

// internal/rules/validator.go
package rules

import (
	"github.com/solatis/dualcheck/internal/types"
)

/*
 * Check-table execution.
 *
 * A Validator is a table of field -> ordered checks. Both the client schema
 * compiler (compile.go) and the authoritative server schema build their own
 * tables; they share only this executor, never the rules themselves.
 *
 * Evaluation flow per field:
 *   1. Skip guard (optional field left empty): field passes, nothing else runs
 *   2. Checks in declaration order, short-circuit on first failing Test
 *   3. The failing check's Message is the field's only verdict entry
 *
 * Record flow: fields evaluated in types.Fields order, each independently.
 *
 * Why first-failure-wins: the reported message must be exactly the first
 * violated rule's message so client and server can each pick one message
 * per field from rule order alone.
 */

// Check is one predicate+message pair. Test returns true when the value passes.
type Check struct {
	Name    string
	Test    func(types.FieldValue) bool
	Message string
}

// FieldSchema is the ordered check list for one field.
// Skip, when set and true, passes the field without running any check.
type FieldSchema struct {
	Skip   func(types.FieldValue) bool
	Checks []Check
}

// Schema maps each field kind to its check list.
type Schema map[types.Field]FieldSchema

// Validator executes a Schema. Immutable after construction; safe for concurrent use.
type Validator struct {
	name   string
	schema Schema
}

// NewValidator wraps schema under a diagnostic name (rule set id or "server").
func NewValidator(name string, schema Schema) *Validator {
	copied := make(Schema, len(schema))
	for f, fs := range schema {
		checks := make([]Check, len(fs.Checks))
		copy(checks, fs.Checks)
		copied[f] = FieldSchema{Skip: fs.Skip, Checks: checks}
	}
	return &Validator{name: name, schema: copied}
}

// Name returns the diagnostic name given at construction.
func (v *Validator) Name() string {
	return v.name
}

// ValidateField returns the first failing check's message for field f.
// Fields without a schema always pass.
func (v *Validator) ValidateField(f types.Field, value types.FieldValue) (string, bool) {
	fs, ok := v.schema[f]
	if !ok {
		return "", false
	}
	if fs.Skip != nil && fs.Skip(value) {
		return "", false
	}
	for _, c := range fs.Checks {
		if !c.Test(value) {
			return c.Message, true
		}
	}
	return "", false
}

// FailingCheck returns the name of the first failing check for diagnostics.
func (v *Validator) FailingCheck(f types.Field, value types.FieldValue) (string, bool) {
	fs, ok := v.schema[f]
	if !ok || (fs.Skip != nil && fs.Skip(value)) {
		return "", false
	}
	for _, c := range fs.Checks {
		if !c.Test(value) {
			return c.Name, true
		}
	}
	return "", false
}

// Validate runs every field of record and collects one message per failing field.
func (v *Validator) Validate(record types.FormRecord) types.Verdict {
	verdict := types.Verdict{}
	for _, f := range types.Fields {
		if msg, failed := v.ValidateField(f, record.Value(f)); failed {
			verdict[f] = msg
		}
	}
	return verdict
}

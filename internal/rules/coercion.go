// internal/rules/coercion.go
package rules

import (
	"strconv"

	"github.com/solatis/dualcheck/internal/types"
)

/*
 * Wire value coercion for submitted records.
 *
 * Submissions arrive as decoded JSON objects (map[string]any). Each field is
 * coerced to its FormRecord representation before any rule runs.
 *
 * Type modes:
 *   - TEXT (email, amount, username): strings pass through; JSON numbers
 *     are rendered back to text so a client sending amount as a number is
 *     still validated lexically; booleans and objects fail
 *   - BOOLEAN (agree): strict, booleans only (avoids "true" vs 1 ambiguity)
 *
 * Null and missing fields coerce to the zero value; the required checks
 * report them. Coercion failures are reported per field so the server can
 * answer with a field-scoped violation instead of a malformed-body error.
 */

// CoercionResult holds a coerced record and any per-field type failures.
type CoercionResult struct {
	Record   types.FormRecord
	Failures types.Verdict
}

// Messages reported for type failures.
const (
	MsgExpectedText    = "Expected a text value."
	MsgExpectedBoolean = "Expected true or false."
)

// CoerceRecord converts a decoded JSON object into a FormRecord.
// Unknown keys are ignored.
func CoerceRecord(raw map[string]any) CoercionResult {
	res := CoercionResult{Failures: types.Verdict{}}
	for _, f := range types.Fields {
		value, present := raw[string(f)]
		if !present || value == nil {
			continue
		}
		if f == types.FieldAgree {
			b, err := coerceBoolean(value)
			if err != nil {
				res.Failures[f] = MsgExpectedBoolean
				continue
			}
			res.Record = res.Record.With(f, types.Flag(b))
			continue
		}
		s, err := coerceText(value)
		if err != nil {
			res.Failures[f] = MsgExpectedText
			continue
		}
		res.Record = res.Record.With(f, types.Text(s))
	}
	return res
}

// coerceText accepts strings and JSON numbers.
func coerceText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", types.ErrCoercionFailed
	}
}

// coerceBoolean accepts booleans only.
func coerceBoolean(value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, types.ErrCoercionFailed
	}
	return b, nil
}

// RecordMap is the inverse of CoerceRecord, used by transports that carry
// records as generic JSON objects.
func RecordMap(r types.FormRecord) map[string]any {
	return map[string]any{
		string(types.FieldEmail):    r.Email,
		string(types.FieldAmount):   r.Amount,
		string(types.FieldUsername): r.Username,
		string(types.FieldAgree):    r.Agree,
	}
}

// internal/rules/compile.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/dualcheck/internal/types"
)

/*
 * Schema compilation.
 *
 * Compiles a client types.RuleSet into a Validator: each field's option
 * record becomes an ordered check list. Options that are off contribute no
 * check, so rule order within a field is fixed by this file alone.
 *
 * Field tables (first failure wins):
 *   - email:    required -> syntax -> excluded domain
 *   - amount:   required -> number -> min -> max -> integer -> even
 *   - username: min length -> max length -> all-numeric -> digits -> edge underscore
 *   - agree:    required
 *
 * Optional fields left empty skip every check (email, amount, username).
 *
 * Compile is a pure function: the same RuleSet always yields a Validator
 * producing the same verdicts. Callers cache by rule set id if needed.
 */

// Check names, stable for diagnostics and tests.
const (
	CheckRequired       = "required"
	CheckEmailSyntax    = "email_syntax"
	CheckExcludedDomain = "excluded_domain"
	CheckNumber         = "number"
	CheckMin            = "min"
	CheckMax            = "max"
	CheckInteger        = "integer"
	CheckEven           = "even"
	CheckMinLength      = "min_length"
	CheckMaxLength      = "max_length"
	CheckAllNumeric     = "all_numeric"
	CheckDigits         = "digits"
	CheckEdgeUnderscore = "edge_underscore"
	CheckAgreed         = "agreed"
)

// Compile builds the client-side Validator for rs.
func Compile(rs types.RuleSet) *Validator {
	return NewValidator(string(rs.ID), Schema{
		types.FieldEmail:    compileEmail(rs.Rules.Email),
		types.FieldAmount:   compileAmount(rs.Rules.Amount),
		types.FieldUsername: compileUsername(rs.Rules.Username),
		types.FieldAgree:    compileAgree(rs.Rules.Agree),
	})
}

func compileEmail(r types.EmailRules) FieldSchema {
	var fs FieldSchema
	if r.Required {
		fs.Checks = append(fs.Checks, Check{
			Name:    CheckRequired,
			Test:    nonEmpty,
			Message: "Email is required.",
		})
	} else {
		fs.Skip = isEmpty
	}
	fs.Checks = append(fs.Checks, Check{
		Name:    CheckEmailSyntax,
		Test:    func(v types.FieldValue) bool { return IsEmail(v.Text) },
		Message: "Enter a valid email address.",
	})
	if len(r.ExcludedDomains) > 0 {
		excluded := make(map[string]struct{}, len(r.ExcludedDomains))
		for _, d := range r.ExcludedDomains {
			excluded[d] = struct{}{}
		}
		fs.Checks = append(fs.Checks, Check{
			Name: CheckExcludedDomain,
			Test: func(v types.FieldValue) bool {
				_, banned := excluded[EmailDomain(v.Text)]
				return !banned
			},
			Message: fmt.Sprintf("Personal domains (%s) are not accepted.", strings.Join(r.ExcludedDomains, ", ")),
		})
	}
	return fs
}

func compileAmount(r types.AmountRules) FieldSchema {
	var fs FieldSchema
	if r.Required {
		fs.Checks = append(fs.Checks, Check{
			Name:    CheckRequired,
			Test:    nonEmpty,
			Message: "Amount is required.",
		})
	} else {
		fs.Skip = isEmpty
	}
	fs.Checks = append(fs.Checks,
		Check{
			Name: CheckNumber,
			Test: func(v types.FieldValue) bool {
				_, ok := ParseNumber(v.Text)
				return ok
			},
			Message: "Must be a valid number.",
		},
		Check{
			Name:    CheckMin,
			Test:    numeric(func(f float64) bool { return f >= r.Min }),
			Message: fmt.Sprintf("Must be at least %s.", FormatNumber(r.Min)),
		},
		Check{
			Name:    CheckMax,
			Test:    numeric(func(f float64) bool { return f <= r.Max }),
			Message: fmt.Sprintf("Must be no more than %s.", FormatNumber(r.Max)),
		},
	)
	if r.Integer {
		fs.Checks = append(fs.Checks, Check{
			Name:    CheckInteger,
			Test:    numeric(IsWhole),
			Message: "Must be a whole number.",
		})
	}
	if r.Even {
		fs.Checks = append(fs.Checks, Check{
			Name:    CheckEven,
			Test:    numeric(func(f float64) bool { return IsMultipleOf(f, 2) }),
			Message: "Must be an even number (current ruleset).",
		})
	}
	return fs
}

func compileUsername(r types.UsernameRules) FieldSchema {
	var fs FieldSchema
	if !r.Required {
		fs.Skip = isEmpty
	}
	fs.Checks = append(fs.Checks,
		Check{
			Name:    CheckMinLength,
			Test:    func(v types.FieldValue) bool { return Length(v.Text) >= r.MinLength },
			Message: fmt.Sprintf("Must be at least %d characters.", r.MinLength),
		},
		Check{
			Name:    CheckMaxLength,
			Test:    func(v types.FieldValue) bool { return Length(v.Text) <= r.MaxLength },
			Message: fmt.Sprintf("Must be no more than %d characters.", r.MaxLength),
		},
	)
	if r.ExcludeAllNumeric {
		fs.Checks = append(fs.Checks, Check{
			Name:    CheckAllNumeric,
			Test:    func(v types.FieldValue) bool { return !IsAllDigits(v.Text) },
			Message: "Username cannot be entirely numeric.",
		})
	}
	if r.ForbidDigits {
		fs.Checks = append(fs.Checks, Check{
			Name:    CheckDigits,
			Test:    func(v types.FieldValue) bool { return !ContainsDigit(v.Text) },
			Message: "Username cannot contain numbers (current ruleset).",
		})
	}
	if r.ForbidLeadingTrailingUnderscore {
		fs.Checks = append(fs.Checks, Check{
			Name:    CheckEdgeUnderscore,
			Test:    func(v types.FieldValue) bool { return !HasEdgeUnderscore(v.Text) },
			Message: "Username cannot start or end with an underscore.",
		})
	}
	return fs
}

func compileAgree(r types.AgreeRules) FieldSchema {
	if !r.Required {
		return FieldSchema{}
	}
	return FieldSchema{Checks: []Check{{
		Name:    CheckAgreed,
		Test:    func(v types.FieldValue) bool { return v.Flag },
		Message: "You must accept the terms.",
	}}}
}

func isEmpty(v types.FieldValue) bool {
	return v.Text == ""
}

func nonEmpty(v types.FieldValue) bool {
	return v.Text != ""
}

// numeric lifts a float predicate to a FieldValue predicate.
// Unparseable text passes: the number check earlier in the table reports it.
func numeric(pred func(float64) bool) func(types.FieldValue) bool {
	return func(v types.FieldValue) bool {
		f, ok := ParseNumber(v.Text)
		if !ok {
			return true
		}
		return pred(f)
	}
}

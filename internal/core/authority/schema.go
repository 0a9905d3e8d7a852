// Package authority implements the server-side authoritative validator.
//
// The server schema is defined here and only here. It is never derived from a
// client rule set: it adds rules the client is never told about (denylisted
// domains, reserved usernames, reserved amounts, a hard ceiling) and omits
// client rules it does not care about (even amounts, digit-free usernames).
package authority

import (
	"strings"

	"github.com/solatis/dualcheck/internal/rules"
	"github.com/solatis/dualcheck/internal/types"
)

// AmountCeiling is the server-side maximum, independent of any client maximum.
const AmountCeiling = 5000

// ReservedAmountDivisor marks amounts reserved by the system.
const ReservedAmountDivisor = 7

// Server-side check names not shared with the client compiler.
const (
	CheckBannedDomain   = "banned_domain"
	CheckPositive       = "positive"
	CheckReservedAmount = "reserved_amount"
	CheckCeiling        = "ceiling"
	CheckReservedName   = "reserved_username"
)

// NewServerValidator builds the authoritative check table over d.
func NewServerValidator(d Denylist) *rules.Validator {
	domains := make(map[string]struct{}, len(d.EmailDomains))
	for _, dom := range d.EmailDomains {
		domains[dom] = struct{}{}
	}
	reserved := make(map[string]struct{}, len(d.Usernames))
	for _, name := range d.Usernames {
		reserved[strings.ToLower(name)] = struct{}{}
	}

	return rules.NewValidator("server", rules.Schema{
		types.FieldEmail: {Checks: []rules.Check{
			{Name: rules.CheckRequired, Test: nonEmpty, Message: "Email is required."},
			{Name: rules.CheckEmailSyntax, Test: func(v types.FieldValue) bool { return rules.IsEmail(v.Text) }, Message: "Must be a valid email address."},
			{
				Name: CheckBannedDomain,
				Test: func(v types.FieldValue) bool {
					_, banned := domains[rules.EmailDomain(v.Text)]
					return !banned
				},
				Message: "This email domain is not permitted on our platform.",
			},
		}},
		types.FieldAmount: {Checks: []rules.Check{
			{Name: rules.CheckRequired, Test: nonEmpty, Message: "Amount is required."},
			{Name: rules.CheckNumber, Test: parses, Message: "Must be a valid number."},
			{Name: CheckPositive, Test: numeric(func(f float64) bool { return f > 0 }), Message: "Amount must be greater than 0."},
			{
				Name:    CheckReservedAmount,
				Test:    numeric(func(f float64) bool { return !rules.IsMultipleOf(f, ReservedAmountDivisor) }),
				Message: "This value is reserved by the system. Try a nearby number.",
			},
			{Name: CheckCeiling, Test: numeric(func(f float64) bool { return f <= AmountCeiling }), Message: "Amount exceeds the server-side maximum of 5000."},
		}},
		types.FieldUsername: {Checks: []rules.Check{
			{Name: rules.CheckRequired, Test: nonEmpty, Message: "Username is required."},
			{
				Name: CheckReservedName,
				Test: func(v types.FieldValue) bool {
					_, taken := reserved[strings.ToLower(v.Text)]
					return !taken
				},
				Message: "This username is already taken. Please choose another.",
			},
			{Name: rules.CheckAllNumeric, Test: func(v types.FieldValue) bool { return !rules.IsAllDigits(v.Text) }, Message: "Username cannot be entirely numeric."},
			{Name: rules.CheckEdgeUnderscore, Test: func(v types.FieldValue) bool { return !rules.HasEdgeUnderscore(v.Text) }, Message: "Username cannot start or end with an underscore."},
		}},
		types.FieldAgree: {Checks: []rules.Check{
			{Name: rules.CheckAgreed, Test: func(v types.FieldValue) bool { return v.Flag }, Message: "You must accept the terms to continue."},
		}},
	})
}

func nonEmpty(v types.FieldValue) bool {
	return v.Text != ""
}

func parses(v types.FieldValue) bool {
	_, ok := rules.ParseNumber(v.Text)
	return ok
}

func numeric(pred func(float64) bool) func(types.FieldValue) bool {
	return func(v types.FieldValue) bool {
		f, ok := rules.ParseNumber(v.Text)
		return !ok || pred(f)
	}
}

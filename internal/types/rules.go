// internal/types/rules.go
package types

/*
 * Declarative rule descriptors.
 *
 * Provides RuleSet and the per-field option records used by internal/rules
 * for compilation. These types carry no behavior: the schema compiler turns
 * them into ordered check tables.
 *
 * Key types:
 *   - RuleSet: named, immutable bundle of FieldRules
 *   - FieldRules: one option record per fixed field kind
 *
 * Invariants (enforced by the registry loader, not here):
 *   - Amount.Min <= Amount.Max
 *   - 0 <= Username.MinLength <= Username.MaxLength
 *   - RuleSet.ID unique and non-empty
 */

// RuleSetID identifies a rule set. Stable for the process lifetime.
type RuleSetID string

// RuleSet is one entry of the rotating client rule sequence.
type RuleSet struct {
	ID          RuleSetID  `yaml:"id" json:"id"`
	Label       string     `yaml:"label" json:"label"`
	Description string     `yaml:"description" json:"description"`
	Rules       FieldRules `yaml:"rules" json:"rules"`
}

// FieldRules holds the rule configuration for the four field kinds.
type FieldRules struct {
	Email    EmailRules    `yaml:"email" json:"email"`
	Amount   AmountRules   `yaml:"amount" json:"amount"`
	Username UsernameRules `yaml:"username" json:"username"`
	Agree    AgreeRules    `yaml:"agree" json:"agree"`
}

// EmailRules configures the email field.
// ExcludedDomains matches the text after the first '@' exactly (case-sensitive).
type EmailRules struct {
	Required        bool     `yaml:"required" json:"required"`
	ExcludedDomains []string `yaml:"excluded_domains,omitempty" json:"excludedDomains,omitempty"`
}

// AmountRules configures the amount field.
type AmountRules struct {
	Required bool    `yaml:"required" json:"required"`
	Min      float64 `yaml:"min" json:"min"`
	Max      float64 `yaml:"max" json:"max"`
	Integer  bool    `yaml:"integer" json:"integer"`
	Even     bool    `yaml:"even,omitempty" json:"even,omitempty"`
}

// UsernameRules configures the username field.
// ForbidLeadingTrailingUnderscore is server-only; client rule sets never set it.
type UsernameRules struct {
	Required                        bool `yaml:"required" json:"required"`
	MinLength                       int  `yaml:"min_length" json:"minLength"`
	MaxLength                       int  `yaml:"max_length" json:"maxLength"`
	ExcludeAllNumeric               bool `yaml:"exclude_all_numeric,omitempty" json:"excludeAllNumeric,omitempty"`
	ForbidDigits                    bool `yaml:"forbid_digits,omitempty" json:"forbidDigits,omitempty"`
	ForbidLeadingTrailingUnderscore bool `yaml:"forbid_leading_trailing_underscore,omitempty" json:"-"`
}

// AgreeRules configures the agree checkbox.
type AgreeRules struct {
	Required bool `yaml:"required" json:"required"`
}

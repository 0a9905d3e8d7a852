// internal/rules/registry.go
package rules

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"fmt"
	"os"

	"github.com/solatis/dualcheck/internal/types"
	"gopkg.in/yaml.v3"
)

/*
 * RuleSet registry.
 *
 * Fixed, ordered, non-empty sequence of client rule sets loaded once at
 * process start. Rotation is index arithmetic: At(i) == At(i mod Count()),
 * negative indices wrap from the end.
 *
 * Load-time validation enforces the data model invariants so At never
 * needs an error path:
 *   - at least one rule set
 *   - ids non-empty and distinct
 *   - amount min <= max, 0 <= username min length <= max length
 *   - no server-only rule (leading/trailing underscore) in client rule sets
 *
 * ETag is the SHA256 of the source document, so the rule set listing
 * endpoint can answer conditional requests without re-serializing.
 */

//go:embed rulesets.yaml
var defaultRuleSets []byte

// Registry is shared read-only process-wide state.
type Registry struct {
	sets []types.RuleSet
	etag string
}

type registryDocument struct {
	RuleSets []types.RuleSet `yaml:"rulesets"`
}

// DefaultRegistry returns the registry built from the embedded rule sets.
// Panics if the embedded document is invalid; it is covered by tests.
func DefaultRegistry() *Registry {
	r, err := LoadRegistry(defaultRuleSets)
	if err != nil {
		panic(fmt.Sprintf("embedded rule sets invalid: %v", err))
	}
	return r
}

// LoadRegistryFile reads a YAML rule set document from path.
// Empty path returns the embedded default registry.
func LoadRegistryFile(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule sets: %w", err)
	}
	return LoadRegistry(data)
}

// LoadRegistry parses and validates a YAML rule set document.
func LoadRegistry(data []byte) (*Registry, error) {
	var doc registryDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule sets: %w", err)
	}
	return NewRegistry(doc.RuleSets, fmt.Sprintf("%x", sha256.Sum256(data)))
}

// NewRegistry validates sets and wraps them. etag may be empty.
func NewRegistry(sets []types.RuleSet, etag string) (*Registry, error) {
	if len(sets) == 0 {
		return nil, types.ErrEmptyRegistry
	}
	seen := make(map[types.RuleSetID]struct{}, len(sets))
	for i, rs := range sets {
		if err := validateRuleSet(rs); err != nil {
			return nil, fmt.Errorf("rule set %d (%q): %w", i, rs.ID, err)
		}
		if _, dup := seen[rs.ID]; dup {
			return nil, fmt.Errorf("rule set %d: %w: %q", i, types.ErrDuplicateRuleSetID, rs.ID)
		}
		seen[rs.ID] = struct{}{}
	}
	copied := make([]types.RuleSet, len(sets))
	copy(copied, sets)
	return &Registry{sets: copied, etag: etag}, nil
}

func validateRuleSet(rs types.RuleSet) error {
	if rs.ID == "" {
		return types.ErrMissingRuleSetID
	}
	a := rs.Rules.Amount
	if a.Min > a.Max {
		return fmt.Errorf("%w: min %s > max %s", types.ErrAmountBounds, FormatNumber(a.Min), FormatNumber(a.Max))
	}
	u := rs.Rules.Username
	if u.MinLength < 0 || u.MinLength > u.MaxLength {
		return fmt.Errorf("%w: min_length %d, max_length %d", types.ErrLengthBounds, u.MinLength, u.MaxLength)
	}
	if u.ForbidLeadingTrailingUnderscore {
		return fmt.Errorf("%w: forbid_leading_trailing_underscore", types.ErrServerOnlyRule)
	}
	return nil
}

// Count returns the number of rule sets. Always >= 1.
func (r *Registry) Count() int {
	return len(r.sets)
}

// At returns the rule set at index mod Count(); defined for every int.
func (r *Registry) At(index int) types.RuleSet {
	n := len(r.sets)
	i := index % n
	if i < 0 {
		i += n
	}
	return r.sets[i]
}

// All returns a copy of the ordered sequence.
func (r *Registry) All() []types.RuleSet {
	out := make([]types.RuleSet, len(r.sets))
	copy(out, r.sets)
	return out
}

// ETag returns the content hash of the source document.
func (r *Registry) ETag() string {
	return r.etag
}

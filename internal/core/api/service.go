// Package api exposes the authoritative validator over HTTP (echo) and gRPC.
package api

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/solatis/dualcheck/internal/protocol"
	"github.com/solatis/dualcheck/internal/rules"
	"github.com/solatis/dualcheck/internal/types"
)

// Evaluator produces the authoritative outcome for one decoded record.
// Implemented by *authority.Authority.
type Evaluator interface {
	Evaluate(ctx context.Context, id types.SubmissionID, raw map[string]any) protocol.Outcome
}

// SubmissionService is the transport-independent core behind both the HTTP
// handler and the gRPC service. Thin orchestration over the Evaluator.
type SubmissionService struct {
	evaluator Evaluator
	logger    *zap.Logger

	// Published client rule sets, serialized once.
	configBody []byte
	configETag string
}

// NewSubmissionService creates the service. registry is the set of client
// rule sets published at the validation-config endpoint.
func NewSubmissionService(evaluator Evaluator, registry *rules.Registry, logger *zap.Logger) (*SubmissionService, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sets := registry.All()
	body, err := json.Marshal(protocol.ValidationConfig{RuleSets: sets})
	if err != nil {
		return nil, fmt.Errorf("failed to encode validation config: %w", err)
	}

	return &SubmissionService{
		evaluator:  evaluator,
		logger:     logger,
		configBody: body,
		configETag: computeETag(sets, body),
	}, nil
}

// submissionID accepts a client-provided id when well-formed and otherwise
// generates one, so every log line carries an id.
func submissionID(raw string) types.SubmissionID {
	if raw != "" {
		if id, err := types.ParseSubmissionID(raw); err == nil {
			return id
		}
	}
	return types.NewSubmissionID()
}

// evaluate runs the evaluator and logs faults. A panicking evaluator is
// left to the transport's recovery layer.
func (s *SubmissionService) evaluate(ctx context.Context, id types.SubmissionID, raw map[string]any) protocol.Outcome {
	out := s.evaluator.Evaluate(ctx, id, raw)
	if out.Kind == protocol.OutcomeGenericFailure && out.Failure == protocol.FailureServerFault {
		s.logger.Error("evaluation fault",
			zap.String("submission_id", string(id)),
			zap.String("detail", out.Message))
	}
	return out
}

// computeETag generates a content-addressable tag for the published rule
// sets: rule set ids in sorted order plus the serialized payload.
func computeETag(sets []types.RuleSet, body []byte) string {
	ids := make([]string, 0, len(sets))
	for _, rs := range sets {
		ids = append(ids, string(rs.ID))
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write(body)
	return fmt.Sprintf(`"%x"`, h.Sum(nil)[:16])
}

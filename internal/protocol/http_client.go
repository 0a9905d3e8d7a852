package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/solatis/dualcheck/internal/types"
)

// HTTP endpoint paths.
const (
	SubmitPath           = "/api/submit"
	ValidationConfigPath = "/api/validation-config"
	HealthPath           = "/healthz"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// HTTPSubmitter posts records to the validator's HTTP endpoint.
type HTTPSubmitter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// HTTPOption configures an HTTPSubmitter.
type HTTPOption func(*HTTPSubmitter)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSubmitter) {
		s.client = c
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(s *HTTPSubmitter) {
		s.logger = logger
	}
}

// NewHTTPSubmitter creates a submitter for the server at baseURL.
// timeout bounds each request, in addition to the caller's context.
func NewHTTPSubmitter(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPSubmitter {
	s := &HTTPSubmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit sends record and decodes the envelope. Every failure to obtain a
// well-formed envelope is a TransportFailure outcome.
func (s *HTTPSubmitter) Submit(ctx context.Context, record types.FormRecord) Outcome {
	id := types.NewSubmissionID()
	log := s.logger.With(zap.String("submission_id", string(id)))

	out, err := s.submit(ctx, id, record)
	if err != nil {
		log.Warn("submission transport failure", zap.Error(err))
		return transportFailure()
	}
	log.Debug("submission resolved", zap.Stringer("outcome", out.Kind))
	return out
}

func (s *HTTPSubmitter) submit(ctx context.Context, id types.SubmissionID, record types.FormRecord) (Outcome, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+SubmitPath, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SubmissionIDHeader, string(id))

	resp, err := s.client.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read response: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Outcome{}, fmt.Errorf("status %d: malformed envelope: %w", resp.StatusCode, err)
	}
	return env.Outcome(resp.StatusCode)
}

// ValidationConfig is the rule set listing served at ValidationConfigPath.
type ValidationConfig struct {
	RuleSets []types.RuleSet `json:"rulesets"`
}

// FetchValidationConfig retrieves the server's published client rule sets.
// The returned etag is the raw ETag header value.
func (s *HTTPSubmitter) FetchValidationConfig(ctx context.Context) (ValidationConfig, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+ValidationConfigPath, nil)
	if err != nil {
		return ValidationConfig{}, "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return ValidationConfig{}, "", fmt.Errorf("failed to fetch validation config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ValidationConfig{}, "", fmt.Errorf("failed to fetch validation config: status %d", resp.StatusCode)
	}

	var cfg ValidationConfig
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&cfg); err != nil {
		return ValidationConfig{}, "", fmt.Errorf("failed to decode validation config: %w", err)
	}
	return cfg, resp.Header.Get("ETag"), nil
}

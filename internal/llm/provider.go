package llm

import (
	"context"
	"errors"
	"fmt"

	"dev.helix.ensemble/internal/models"
)

// ErrorKind classifies a provider failure for retry, breaker and boundary
// decisions.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindTimeout         ErrorKind = "timeout"
	KindCircuitOpen     ErrorKind = "circuit_open"
	KindTransport       ErrorKind = "transport"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindValidation      ErrorKind = "validation"
	KindInternal        ErrorKind = "internal"
)

// Retryable reports whether a call failing with this kind may be retried.
// invalid_response is never retried; circuit_open fails fast.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindTransport:
		return true
	default:
		return false
	}
}

// ProviderError wraps a provider failure with its kind and origin.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	ModelID  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ModelID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ModelID, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a classified provider error.
func NewProviderError(kind ErrorKind, provider, modelID string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, ModelID: modelID, Err: err}
}

// KindOf extracts the error kind, defaulting to internal.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Completion is the normalized result of one provider call. Every backend is
// adapted to this shape; downstream components never see wire formats.
type Completion struct {
	Content      string
	Usage        models.TokenUsage
	LatencyMs    int64
	FinishReason string
}

// ProviderClient is the single capability over all backends. Implementations
// do no retries and no circuit logic.
type ProviderClient interface {
	Call(ctx context.Context, messages []models.Message, params models.ModelParameters) (*Completion, error)
	ModelID() string
	Provider() string
	Family() string
}

// Embedder produces a vector for a piece of text. Embedding calls are a
// ProviderClient variant and run behind the same breaker policy.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

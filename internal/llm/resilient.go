package llm

import (
	"context"
	"fmt"

	"dev.helix.ensemble/internal/models"
)

// ResilientClient wraps a ProviderClient with the model's circuit breaker
// and the retry policy. The breaker sits outside the retry loop: an open
// circuit fails the whole call immediately with circuit_open, and every
// exhausted retry sequence counts as a single breaker failure.
type ResilientClient struct {
	inner   ProviderClient
	breaker *CircuitBreaker
	retryer *Retryer
}

// NewResilientClient wraps the client.
func NewResilientClient(inner ProviderClient, breaker *CircuitBreaker, retryer *Retryer) *ResilientClient {
	return &ResilientClient{inner: inner, breaker: breaker, retryer: retryer}
}

func (c *ResilientClient) ModelID() string  { return c.inner.ModelID() }
func (c *ResilientClient) Provider() string { return c.inner.Provider() }
func (c *ResilientClient) Family() string   { return c.inner.Family() }

// Breaker exposes the wrapped breaker for selection-time checks.
func (c *ResilientClient) Breaker() *CircuitBreaker { return c.breaker }

// Call runs the provider call behind the breaker with retries.
func (c *ResilientClient) Call(ctx context.Context, messages []models.Message, params models.ModelParameters) (*Completion, error) {
	if !c.breaker.Allow() {
		return nil, NewProviderError(KindCircuitOpen, c.inner.Provider(), c.inner.ModelID(),
			fmt.Errorf("circuit breaker is open"))
	}

	var result *Completion
	err := c.retryer.Do(ctx, func() error {
		resp, callErr := c.inner.Call(ctx, messages, params)
		if callErr != nil {
			return callErr
		}
		result = resp
		return nil
	})

	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()
	return result, nil
}

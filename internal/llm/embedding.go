package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"dev.helix.ensemble/internal/config"
)

// EmbeddingClient calls an OpenAI-compatible embeddings endpoint. It is a
// ProviderClient variant for breaker purposes: failures count against the
// same per-model breaker policy.
type EmbeddingClient struct {
	cfg    config.ModelConfig
	id     string
	apiKey string
	client *http.Client
}

// NewEmbeddingClient builds an embedding client for one configured model.
func NewEmbeddingClient(id string, cfg config.ModelConfig, httpClient *http.Client) *EmbeddingClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &EmbeddingClient{
		cfg:    cfg,
		id:     id,
		apiKey: os.Getenv(cfg.APIKeyEnv),
		client: httpClient,
	}
}

func (c *EmbeddingClient) ModelID() string  { return c.id }
func (c *EmbeddingClient) Provider() string { return c.cfg.Provider }

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, NewProviderError(KindInternal, c.cfg.Provider, c.id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, NewProviderError(KindInternal, c.cfg.Provider, c.id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, c.cfg.Provider, c.id)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, c.cfg.Provider, c.id); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError(KindTransport, c.cfg.Provider, c.id, err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, NewProviderError(KindInvalidResponse, c.cfg.Provider, c.id, err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, NewProviderError(KindInvalidResponse, c.cfg.Provider, c.id, fmt.Errorf("no embedding in response"))
	}
	return parsed.Data[0].Embedding, nil
}

// ResilientEmbedder runs embedding calls behind the model's circuit breaker
// with the same retry policy as chat calls.
type ResilientEmbedder struct {
	inner    Embedder
	provider string
	modelID  string
	breaker  *CircuitBreaker
	retryer  *Retryer
}

// NewResilientEmbedder wraps the embedder.
func NewResilientEmbedder(inner Embedder, provider, modelID string, breaker *CircuitBreaker, retryer *Retryer) *ResilientEmbedder {
	return &ResilientEmbedder{
		inner:    inner,
		provider: provider,
		modelID:  modelID,
		breaker:  breaker,
		retryer:  retryer,
	}
}

// Embed returns the embedding vector, failing fast while the circuit is open.
func (e *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if !e.breaker.Allow() {
		return nil, NewProviderError(KindCircuitOpen, e.provider, e.modelID,
			fmt.Errorf("circuit breaker is open"))
	}

	var result []float64
	err := e.retryer.Do(ctx, func() error {
		vec, callErr := e.inner.Embed(ctx, text)
		if callErr != nil {
			return callErr
		}
		result = vec
		return nil
	})

	if err != nil {
		e.breaker.RecordFailure()
		return nil, err
	}
	e.breaker.RecordSuccess()
	return result, nil
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/models"
)

// ChatClient speaks the OpenAI chat-completions wire format. It also serves
// OpenAI-compatible backends (xAI, DeepSeek, local gateways) distinguished
// only by base URL and key.
type ChatClient struct {
	cfg    config.ModelConfig
	id     string
	apiKey string
	client *http.Client
}

// NewChatClient builds a client for one configured model.
func NewChatClient(id string, cfg config.ModelConfig, httpClient *http.Client) *ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &ChatClient{
		cfg:    cfg,
		id:     id,
		apiKey: os.Getenv(cfg.APIKeyEnv),
		client: httpClient,
	}
}

func (c *ChatClient) ModelID() string  { return c.id }
func (c *ChatClient) Provider() string { return c.cfg.Provider }
func (c *ChatClient) Family() string   { return c.cfg.Family }

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Call performs one completion. No retries, no breaker logic.
func (c *ChatClient) Call(ctx context.Context, messages []models.Message, params models.ModelParameters) (*Completion, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}

	start := time.Now()
	data, status, err := c.post(ctx, c.cfg.BaseURL+"/chat/completions", body)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, c.classify(err)
	}
	if err := statusError(status, c.cfg.Provider, c.id); err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, NewProviderError(KindInvalidResponse, c.cfg.Provider, c.id, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, NewProviderError(KindInvalidResponse, c.cfg.Provider, c.id, fmt.Errorf("no choices in response"))
	}

	return &Completion{
		Content: parsed.Choices[0].Message.Content,
		Usage: models.TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
		LatencyMs:    latency,
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}

func (c *ChatClient) post(ctx context.Context, url string, body any) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func (c *ChatClient) classify(err error) error {
	return classifyTransportError(err, c.cfg.Provider, c.id)
}

// classifyTransportError maps low-level HTTP errors onto provider kinds.
func classifyTransportError(err error, provider, modelID string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProviderError(KindTimeout, provider, modelID, err)
	}
	return NewProviderError(KindTransport, provider, modelID, err)
}

// statusError maps an HTTP status to a provider error, nil for 2xx.
func statusError(status int, provider, modelID string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return NewProviderError(KindRateLimited, provider, modelID, fmt.Errorf("HTTP %d", status))
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewProviderError(KindTimeout, provider, modelID, fmt.Errorf("HTTP %d", status))
	case status >= 500:
		return NewProviderError(KindTransport, provider, modelID, fmt.Errorf("HTTP %d", status))
	default:
		return NewProviderError(KindInvalidResponse, provider, modelID, fmt.Errorf("HTTP %d", status))
	}
}

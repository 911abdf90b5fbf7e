package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/models"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient speaks the Anthropic messages wire format.
type AnthropicClient struct {
	cfg    config.ModelConfig
	id     string
	apiKey string
	client *http.Client
}

// NewAnthropicClient builds a client for one configured model.
func NewAnthropicClient(id string, cfg config.ModelConfig, httpClient *http.Client) *AnthropicClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &AnthropicClient{
		cfg:    cfg,
		id:     id,
		apiKey: os.Getenv(cfg.APIKeyEnv),
		client: httpClient,
	}
}

func (c *AnthropicClient) ModelID() string  { return c.id }
func (c *AnthropicClient) Provider() string { return c.cfg.Provider }
func (c *AnthropicClient) Family() string   { return c.cfg.Family }

type anthropicRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	System      string           `json:"system,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Call performs one completion. The system turn, if present, is lifted out of
// the message list into the dedicated field the API expects.
func (c *AnthropicClient) Call(ctx context.Context, messages []models.Message, params models.ModelParameters) (*Completion, error) {
	body := anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}
	for _, m := range messages {
		if m.Role == "system" {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, m)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewProviderError(KindInternal, c.cfg.Provider, c.id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, NewProviderError(KindInternal, c.cfg.Provider, c.id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start).Milliseconds()
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

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, NewProviderError(KindInvalidResponse, c.cfg.Provider, c.id, err)
	}

	content := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if content == "" {
		return nil, NewProviderError(KindInvalidResponse, c.cfg.Provider, c.id, fmt.Errorf("no text content in response"))
	}

	return &Completion{
		Content: content,
		Usage: models.TokenUsage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
		LatencyMs:    latency,
		FinishReason: parsed.StopReason,
	}, nil
}

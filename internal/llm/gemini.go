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

// GeminiClient speaks the Google generateContent wire format.
type GeminiClient struct {
	cfg    config.ModelConfig
	id     string
	apiKey string
	client *http.Client
}

// NewGeminiClient builds a client for one configured model.
func NewGeminiClient(id string, cfg config.ModelConfig, httpClient *http.Client) *GeminiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &GeminiClient{
		cfg:    cfg,
		id:     id,
		apiKey: os.Getenv(cfg.APIKeyEnv),
		client: httpClient,
	}
}

func (c *GeminiClient) ModelID() string  { return c.id }
func (c *GeminiClient) Provider() string { return c.cfg.Provider }
func (c *GeminiClient) Family() string   { return c.cfg.Family }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		Temperature     float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Call performs one completion. Roles are mapped to Gemini's user/model pair;
// a system turn becomes the systemInstruction block.
func (c *GeminiClient) Call(ctx context.Context, messages []models.Message, params models.ModelParameters) (*Completion, error) {
	var body geminiRequest
	for _, m := range messages {
		switch m.Role {
		case "system":
			body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case "assistant":
			body.Contents = append(body.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	body.GenerationConfig.MaxOutputTokens = params.MaxTokens
	body.GenerationConfig.Temperature = params.Temperature

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewProviderError(KindInternal, c.cfg.Provider, c.id, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, NewProviderError(KindInternal, c.cfg.Provider, c.id, err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, NewProviderError(KindInvalidResponse, c.cfg.Provider, c.id, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, NewProviderError(KindInvalidResponse, c.cfg.Provider, c.id, fmt.Errorf("no candidates in response"))
	}

	content := ""
	for _, part := range parsed.Candidates[0].Content.Parts {
		content += part.Text
	}

	return &Completion{
		Content: content,
		Usage: models.TokenUsage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
		LatencyMs:    latency,
		FinishReason: parsed.Candidates[0].FinishReason,
	}, nil
}

package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/models"
)

// stubClient is a scriptable ProviderClient for wrapper tests.
type stubClient struct {
	id       string
	provider string
	family   string
	calls    int
	fn       func(call int) (*Completion, error)
}

func (s *stubClient) Call(_ context.Context, _ []models.Message, _ models.ModelParameters) (*Completion, error) {
	s.calls++
	return s.fn(s.calls)
}

func (s *stubClient) ModelID() string  { return s.id }
func (s *stubClient) Provider() string { return s.provider }
func (s *stubClient) Family() string   { return s.family }

func newStub(fn func(call int) (*Completion, error)) *stubClient {
	return &stubClient{id: "stub-model", provider: "stub", family: "stub", fn: fn}
}

func fastRetryer(attempts int) *Retryer {
	return noSleep(NewRetryer(RetryConfig{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
}

func TestResilientClientSuccess(t *testing.T) {
	stub := newStub(func(int) (*Completion, error) {
		return &Completion{Content: "hello"}, nil
	})
	rc := NewResilientClient(stub, NewCircuitBreaker("stub-model", DefaultBreakerConfig()), fastRetryer(2))

	resp, err := rc.Call(context.Background(), nil, models.ModelParameters{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, stub.calls)
}

func TestResilientClientRetriesThenSucceeds(t *testing.T) {
	stub := newStub(func(call int) (*Completion, error) {
		if call == 1 {
			return nil, NewProviderError(KindTimeout, "stub", "stub-model", errors.New("slow"))
		}
		return &Completion{Content: "recovered"}, nil
	})
	breaker := NewCircuitBreaker("stub-model", DefaultBreakerConfig())
	rc := NewResilientClient(stub, breaker, fastRetryer(2))

	resp, err := rc.Call(context.Background(), nil, models.ModelParameters{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, stub.calls)
	assert.Equal(t, 0, breaker.Failures(), "a recovered call is not a breaker failure")
}

func TestResilientClientExhaustedRetriesCountOnce(t *testing.T) {
	stub := newStub(func(int) (*Completion, error) {
		return nil, NewProviderError(KindTransport, "stub", "stub-model", errors.New("down"))
	})
	breaker := NewCircuitBreaker("stub-model", DefaultBreakerConfig())
	rc := NewResilientClient(stub, breaker, fastRetryer(2))

	_, err := rc.Call(context.Background(), nil, models.ModelParameters{})
	require.Error(t, err)
	assert.Equal(t, 3, stub.calls)
	assert.Equal(t, 1, breaker.Failures(), "the whole retry sequence is one breaker failure")
}

func TestResilientClientOpenCircuitFailsFast(t *testing.T) {
	stub := newStub(func(int) (*Completion, error) {
		return &Completion{Content: "unreachable"}, nil
	})
	breaker := NewCircuitBreaker("stub-model", DefaultBreakerConfig())
	breaker.ForceOpen()
	rc := NewResilientClient(stub, breaker, fastRetryer(2))

	_, err := rc.Call(context.Background(), nil, models.ModelParameters{})
	require.Error(t, err)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
	assert.Equal(t, 0, stub.calls, "no provider call behind an open circuit")
}

type stubEmbed struct {
	calls int
	fn    func(call int) ([]float64, error)
}

func (s *stubEmbed) Embed(_ context.Context, _ string) ([]float64, error) {
	s.calls++
	return s.fn(s.calls)
}

func TestResilientEmbedderRetriesThenSucceeds(t *testing.T) {
	stub := &stubEmbed{fn: func(call int) ([]float64, error) {
		if call == 1 {
			return nil, NewProviderError(KindTimeout, "openai", "embed-model", errors.New("slow"))
		}
		return []float64{0.1, 0.2}, nil
	}}
	breaker := NewCircuitBreaker("embed-model", DefaultBreakerConfig())
	re := NewResilientEmbedder(stub, "openai", "embed-model", breaker, fastRetryer(2))

	vec, err := re.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, 2, stub.calls)
	assert.Equal(t, 0, breaker.Failures())
}

func TestResilientEmbedderExhaustedRetriesCountOnce(t *testing.T) {
	stub := &stubEmbed{fn: func(int) ([]float64, error) {
		return nil, NewProviderError(KindTransport, "openai", "embed-model", errors.New("down"))
	}}
	breaker := NewCircuitBreaker("embed-model", DefaultBreakerConfig())
	re := NewResilientEmbedder(stub, "openai", "embed-model", breaker, fastRetryer(2))

	_, err := re.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, 3, stub.calls)
	assert.Equal(t, 1, breaker.Failures())
}

func TestResilientEmbedderOpenCircuitFailsFast(t *testing.T) {
	stub := &stubEmbed{fn: func(int) ([]float64, error) {
		return []float64{1}, nil
	}}
	breaker := NewCircuitBreaker("embed-model", DefaultBreakerConfig())
	breaker.ForceOpen()
	re := NewResilientEmbedder(stub, "openai", "embed-model", breaker, fastRetryer(2))

	_, err := re.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
	assert.Equal(t, 0, stub.calls, "no embedding call behind an open circuit")
}

func TestChatClientParsesCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer ", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "the answer"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 34}
		}`))
	}))
	defer server.Close()

	client := NewChatClient("m", config.ModelConfig{
		Provider: "openai",
		Model:    "gpt-test",
		BaseURL:  server.URL,
	}, server.Client())

	resp, err := client.Call(context.Background(),
		[]models.Message{{Role: "user", Content: "question"}},
		models.ModelParameters{MaxTokens: 100, Temperature: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 34, resp.Usage.OutputTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestChatClientStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusInternalServerError, KindTransport},
		{http.StatusBadRequest, KindInvalidResponse},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := NewChatClient("m", config.ModelConfig{Provider: "openai", Model: "gpt-test", BaseURL: server.URL}, server.Client())

		_, err := client.Call(context.Background(), nil, models.ModelParameters{})
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.kind, KindOf(err), "status %d", tc.status)
		server.Close()
	}
}

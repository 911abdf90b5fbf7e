package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/models"
	"dev.helix.ensemble/internal/reliability"
)

// fakeModel is a scriptable ProviderClient.
type fakeModel struct {
	id       string
	provider string
	family   string
	reply    string
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeModel) Call(ctx context.Context, _ []models.Message, _ models.ModelParameters) (*llm.Completion, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, llm.NewProviderError(llm.KindTimeout, f.provider, f.id, ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{
		Content: f.reply,
		Usage:   models.TokenUsage{InputTokens: 10, OutputTokens: 20},
	}, nil
}

func (f *fakeModel) ModelID() string  { return f.id }
func (f *fakeModel) Provider() string { return f.provider }
func (f *fakeModel) Family() string   { return f.family }

func testSetup(t *testing.T) (*Dispatcher, *config.Config, *llm.Registry, *reliability.Tracker) {
	t.Helper()
	cfg := config.Default()
	registry := llm.NewRegistry(cfg, llm.DefaultBreakerConfig(), nil)
	tracker := reliability.NewTracker(logrus.New())
	return New(registry, tracker, 8, logrus.New()), cfg, registry, tracker
}

func call(modelID string) Call {
	return Call{
		ModelID:  modelID,
		Messages: []models.Message{{Role: "user", Content: "question"}},
		Params:   models.ModelParameters{MaxTokens: 256, Temperature: 0.7},
	}
}

func TestDispatchPreservesInputOrder(t *testing.T) {
	d, cfg, registry, _ := testSetup(t)
	registry.Register("gpt-4o-mini", &fakeModel{id: "gpt-4o-mini", provider: "openai", family: "openai", reply: "alpha", delay: 20 * time.Millisecond})
	registry.Register("claude-3-5-haiku", &fakeModel{id: "claude-3-5-haiku", provider: "anthropic", family: "anthropic", reply: "beta"})
	registry.Register("grok-3-mini", &fakeModel{id: "grok-3-mini", provider: "xai", family: "grok", reply: "gamma", delay: 10 * time.Millisecond})

	responses := d.Dispatch(context.Background(), cfg,
		[]Call{call("gpt-4o-mini"), call("claude-3-5-haiku"), call("grok-3-mini")})

	require.Len(t, responses, 3)
	assert.Equal(t, "gpt-4o-mini", responses[0].ModelID)
	assert.Equal(t, "alpha", responses[0].Content)
	assert.Equal(t, "claude-3-5-haiku", responses[1].ModelID)
	assert.Equal(t, "beta", responses[1].Content)
	assert.Equal(t, "grok-3-mini", responses[2].ModelID)
	assert.Equal(t, "gamma", responses[2].Content)
	for _, r := range responses {
		assert.True(t, r.Fulfilled())
		assert.Empty(t, r.ServedBy)
	}
}

func TestDispatchRecordsReliabilityEvents(t *testing.T) {
	d, cfg, registry, tracker := testSetup(t)
	registry.Register("gpt-4o-mini", &fakeModel{id: "gpt-4o-mini", provider: "openai", family: "openai", reply: "ok"})
	registry.Register("claude-3-5-haiku", &fakeModel{id: "claude-3-5-haiku", provider: "anthropic", family: "anthropic",
		err: llm.NewProviderError(llm.KindTransport, "anthropic", "claude-3-5-haiku", errors.New("down"))})

	d.Dispatch(context.Background(), cfg, []Call{call("gpt-4o-mini"), call("claude-3-5-haiku")})

	assert.Equal(t, 1.0, tracker.Uptime24h("openai"))
	assert.Equal(t, 0.0, tracker.Uptime24h("anthropic"))
}

func TestDispatchAlternateFamilyFallback(t *testing.T) {
	d, cfg, registry, tracker := testSetup(t)
	// gemini fails; its configured alternate family is grok.
	registry.Register("gemini-2.0-flash", &fakeModel{id: "gemini-2.0-flash", provider: "google", family: "gemini",
		err: llm.NewProviderError(llm.KindTransport, "google", "gemini-2.0-flash", errors.New("down"))})
	registry.Register("grok-3-mini", &fakeModel{id: "grok-3-mini", provider: "xai", family: "grok", reply: "from grok"})

	responses := d.Dispatch(context.Background(), cfg, []Call{call("gemini-2.0-flash")})

	require.Len(t, responses, 1)
	resp := responses[0]
	require.True(t, resp.Fulfilled())
	assert.Equal(t, "gemini-2.0-flash", resp.ModelID, "role label keeps the selected slot")
	assert.Equal(t, "grok-3-mini", resp.ServedBy)
	assert.Equal(t, "from grok", resp.Content)

	assert.Equal(t, 0.0, tracker.Uptime24h("google"), "primary failure is still recorded")
	assert.Equal(t, 1.0, tracker.Uptime24h("xai"))
}

func TestDispatchNoAlternateForFamilyWithoutMapping(t *testing.T) {
	d, cfg, registry, _ := testSetup(t)
	registry.Register("gpt-4o-mini", &fakeModel{id: "gpt-4o-mini", provider: "openai", family: "openai",
		err: llm.NewProviderError(llm.KindTransport, "openai", "gpt-4o-mini", errors.New("down"))})
	grok := &fakeModel{id: "grok-3-mini", provider: "xai", family: "grok", reply: "unused"}
	registry.Register("grok-3-mini", grok)

	responses := d.Dispatch(context.Background(), cfg, []Call{call("gpt-4o-mini")})

	require.Len(t, responses, 1)
	assert.Equal(t, models.StatusRejected, responses[0].Status)
	assert.Equal(t, int32(0), grok.calls.Load(), "openai has no alternate family configured")
}

func TestDispatchAllRejected(t *testing.T) {
	d, cfg, registry, _ := testSetup(t)
	for _, id := range []string{"gpt-4o-mini", "claude-3-5-haiku"} {
		registry.Register(id, &fakeModel{id: id, provider: cfg.Models[id].Provider, family: cfg.Models[id].Family,
			err: llm.NewProviderError(llm.KindTransport, cfg.Models[id].Provider, id, errors.New("down"))})
	}

	responses := d.Dispatch(context.Background(), cfg, []Call{call("gpt-4o-mini"), call("claude-3-5-haiku")})

	require.Len(t, responses, 2)
	for _, r := range responses {
		assert.Equal(t, models.StatusRejected, r.Status)
		assert.NotEmpty(t, r.Error)
		assert.False(t, r.Fulfilled())
	}
}

func TestDispatchOpenBreakerIsNotAReliabilityEvent(t *testing.T) {
	d, cfg, registry, tracker := testSetup(t)
	registry.Breakers().Get("gpt-4o-mini").ForceOpen()
	tracker.Record("openai", reliability.Event{Success: true})

	responses := d.Dispatch(context.Background(), cfg, []Call{call("gpt-4o-mini")})

	require.Len(t, responses, 1)
	assert.Equal(t, models.StatusRejected, responses[0].Status)
	assert.Contains(t, responses[0].Error, "circuit")
	assert.Equal(t, 1.0, tracker.Uptime24h("openai"),
		"a breaker fast-fail adds no evidence against the provider")
}

func TestDispatchUnknownModel(t *testing.T) {
	d, cfg, _, _ := testSetup(t)

	responses := d.Dispatch(context.Background(), cfg, []Call{call("no-such-model")})
	require.Len(t, responses, 1)
	assert.Equal(t, models.StatusRejected, responses[0].Status)
	assert.Contains(t, responses[0].Error, "not available")
}

func TestDispatchHonorsDeadline(t *testing.T) {
	d, cfg, registry, _ := testSetup(t)
	registry.Register("gpt-4o-mini", &fakeModel{id: "gpt-4o-mini", provider: "openai", family: "openai",
		reply: "too late", delay: 500 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	responses := d.Dispatch(ctx, cfg, []Call{call("gpt-4o-mini")})
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	require.Len(t, responses, 1)
	assert.Equal(t, models.StatusRejected, responses[0].Status)
}

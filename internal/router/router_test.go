package router

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/models"
	"dev.helix.ensemble/internal/reliability"
)

func TestClassify(t *testing.T) {
	cases := map[string]models.PromptClass{
		"Compare Postgres and MySQL, listing pros and cons": models.ClassAnalytical,
		"Write a story about a lighthouse keeper":           models.ClassCreative,
		"Debug this function, the code won't compile":       models.ClassTechnical,
		"Explain how does a heat pump work":                 models.ClassExplanatory,
		"What year did the Berlin Wall fall":                models.ClassFactual,
		"Good morning!":                                     models.ClassConversational,
	}
	for prompt, want := range cases {
		assert.Equal(t, want, Classify(prompt), prompt)
	}
}

func TestComplexityOf(t *testing.T) {
	assert.Equal(t, models.ComplexityLow, ComplexityOf("hi"))
	assert.Equal(t, models.ComplexityMedium, ComplexityOf("Give me a detailed answer"))

	long := "Design a distributed architecture with detailed scalability analysis, covering concurrency concerns and how to optimize every layer of the stack for sustained load across regions."
	assert.Equal(t, models.ComplexityHigh, ComplexityOf(long))
}

func testRouter(t *testing.T) (*Router, *config.Config, *llm.Registry) {
	t.Helper()
	cfg := config.Default()
	registry := llm.NewRegistry(cfg, llm.DefaultBreakerConfig(), nil)
	tracker := reliability.NewTracker(logrus.New())
	return New(registry, tracker, logrus.New()), cfg, registry
}

func TestSelectReturnsRequestedCount(t *testing.T) {
	r, cfg, _ := testRouter(t)

	selected := r.Select(cfg, models.ClassTechnical, models.TierFree, 3)
	require.Len(t, selected, 3)

	seen := map[string]bool{}
	for _, id := range selected {
		assert.False(t, seen[id], "no duplicate selections")
		seen[id] = true
		assert.False(t, cfg.Models[id].Embedding, "embedding models are never selected")
	}
}

func TestSelectSkipsOpenBreakers(t *testing.T) {
	r, cfg, registry := testRouter(t)

	registry.Breakers().Get("gemini-2.0-flash").ForceOpen()
	selected := r.Select(cfg, models.ClassFactual, models.TierFree, 4)
	assert.NotContains(t, selected, "gemini-2.0-flash")
}

func TestSelectFallsBackWhenAllBreakersOpen(t *testing.T) {
	r, cfg, registry := testRouter(t)

	for _, id := range registry.ModelIDs() {
		registry.Breakers().Get(id).ForceOpen()
	}
	selected := r.Select(cfg, models.ClassFactual, models.TierFree, 3)
	assert.Empty(t, selected, "fallback set honors open breakers too")
}

func TestSelectDeterministic(t *testing.T) {
	r, cfg, _ := testRouter(t)

	first := r.Select(cfg, models.ClassAnalytical, models.TierPremium, 4)
	second := r.Select(cfg, models.ClassAnalytical, models.TierPremium, 4)
	assert.Equal(t, first, second)
}

func TestModelCountFor(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 3, ModelCountFor(cfg, models.TierFree))
	assert.Equal(t, 4, ModelCountFor(cfg, models.TierPremium))

	cfg.Tiers.Free.ModelCount = 0
	assert.Equal(t, 3, ModelCountFor(cfg, models.TierFree), "defaults when unset")
}

package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/models"
)

type fakeSynthModel struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
	params  []models.ModelParameters
}

func (f *fakeSynthModel) Call(_ context.Context, messages []models.Message, params models.ModelParameters) (*llm.Completion, error) {
	idx := f.calls
	f.calls++
	f.params = append(f.params, params)
	for _, m := range messages {
		f.prompts = append(f.prompts, m.Content)
	}
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	reply := "synthesized"
	if idx < len(f.replies) {
		reply = f.replies[idx]
	}
	return &llm.Completion{Content: reply}, nil
}

func (f *fakeSynthModel) ModelID() string  { return "gpt-4o-mini" }
func (f *fakeSynthModel) Provider() string { return "openai" }
func (f *fakeSynthModel) Family() string   { return "openai" }

const strongDraft = "Database indexing improves query performance because the engine consults a sorted structure instead of scanning every row. For example, a B-tree lookup touches about 20 pages on a large table. Therefore point queries on indexed columns return in milliseconds.\n\n- Indexes trade write speed for read speed\n- Composite indexes serve multi-column filters"

func testEngine(t *testing.T, model *fakeSynthModel) (*Engine, *config.Config) {
	t.Helper()
	cfg := config.Default()
	registry := llm.NewRegistry(cfg, llm.DefaultBreakerConfig(), nil)
	registry.Register("gpt-4o-mini", model)
	return NewEngine(registry, logrus.New()), cfg
}

func role(modelID, content string, confidence float64) *models.RoleResponse {
	return &models.RoleResponse{
		ModelID: modelID,
		Status:  models.StatusFulfilled,
		Content: content,
		Quality: &models.QualityScore{Composite: confidence},
		Confidence: &models.ConfidenceScore{
			Raw:        confidence,
			Calibrated: confidence,
			Level:      models.ConfidenceLevelFor(confidence),
		},
	}
}

func input(responses ...*models.RoleResponse) Input {
	return Input{
		Prompt:     "how does database indexing improve query performance",
		Class:      models.ClassExplanatory,
		Complexity: models.ComplexityMedium,
		Tier:       models.TierFree,
		Responses:  responses,
		Voting: &models.VotingResult{
			Winner:  "claude-3-5-haiku",
			Weights: map[string]float64{"claude-3-5-haiku": 0.6, "grok-3-mini": 0.4},
		},
	}
}

func TestSynthesizeInitialStage(t *testing.T) {
	model := &fakeSynthModel{replies: []string{strongDraft}}
	engine, cfg := testEngine(t, model)
	cfg.Synthesis.MinQuality = 0.1

	result := engine.Synthesize(context.Background(), cfg, input(
		role("claude-3-5-haiku", "Indexes use sorted structures for fast lookups of database rows.", 0.8),
		role("grok-3-mini", "Indexing avoids full table scans when a query filters on an indexed column.", 0.6),
	))

	assert.Equal(t, models.StageInitial, result.Stage)
	assert.Equal(t, strongDraft, result.Content)
	assert.Equal(t, "gpt-4o-mini", result.ModelID)
	assert.Equal(t, "layered-explanation", result.Strategy)
	assert.Equal(t, 2, result.SourceCount)
	assert.Equal(t, 1, model.calls)
	assert.Greater(t, result.QualityScore, 0.0)
}

func TestSynthesizeImprovementRound(t *testing.T) {
	model := &fakeSynthModel{replies: []string{"weak", strongDraft}}
	engine, cfg := testEngine(t, model)
	cfg.Synthesis.MinQuality = 0.9

	result := engine.Synthesize(context.Background(), cfg, input(
		role("claude-3-5-haiku", "Indexes use sorted structures for fast lookups of database rows.", 0.8),
	))

	assert.Equal(t, 2, model.calls, "exactly one improvement round")
	assert.Equal(t, models.StageImproved, result.Stage)
	assert.Equal(t, strongDraft, result.Content)
}

func TestSynthesizeKeepsBetterDraft(t *testing.T) {
	model := &fakeSynthModel{replies: []string{strongDraft, "worse"}}
	engine, cfg := testEngine(t, model)
	cfg.Synthesis.MinQuality = 0.99

	result := engine.Synthesize(context.Background(), cfg, input(
		role("claude-3-5-haiku", "Indexes use sorted structures for fast lookups of database rows.", 0.8),
	))

	assert.Equal(t, 2, model.calls)
	assert.Equal(t, models.StageInitial, result.Stage, "the lower-scoring improvement is discarded")
	assert.Equal(t, strongDraft, result.Content)
}

func TestSynthesizeFallbackToBestResponse(t *testing.T) {
	model := &fakeSynthModel{errs: []error{errors.New("synthesis model down")}}
	engine, cfg := testEngine(t, model)

	best := role("claude-3-5-haiku", "The best available candidate answer about database indexes.", 0.9)
	result := engine.Synthesize(context.Background(), cfg, input(
		role("grok-3-mini", "A weaker candidate.", 0.4),
		best,
	))

	assert.Equal(t, models.StageFallback, result.Stage)
	assert.Equal(t, best.Content, result.Content)
	assert.Equal(t, "claude-3-5-haiku", result.ModelID)
	assert.InDelta(t, 0.9, result.QualityScore, 1e-9)
}

func TestSynthesizeNothingUsable(t *testing.T) {
	model := &fakeSynthModel{}
	engine, cfg := testEngine(t, model)

	result := engine.Synthesize(context.Background(), cfg, input(
		&models.RoleResponse{ModelID: "grok-3-mini", Status: models.StatusRejected, Error: "down"},
	))

	assert.Equal(t, models.StageFallback, result.Stage)
	assert.Equal(t, FallbackMessage, result.Content)
	assert.InDelta(t, FallbackQuality, result.QualityScore, 1e-9)
	assert.Equal(t, 0, model.calls)
}

func TestTokenBudget(t *testing.T) {
	assert.Equal(t, 700, tokenBudget(700, 3, 1), "capped by the tier ceiling")
	assert.Equal(t, 600, tokenBudget(1400, 2, 0))
	assert.Equal(t, 650, tokenBudget(1400, 2, 1))
	assert.Equal(t, 700, tokenBudget(0, 4, 10), "zero ceiling falls back to the default")
}

func TestConflictRaisesTemperature(t *testing.T) {
	model := &fakeSynthModel{replies: []string{strongDraft}}
	engine, cfg := testEngine(t, model)
	cfg.Synthesis.MinQuality = 0.1

	// Two answers with no lexical overlap count as a conflicting pair.
	engine.Synthesize(context.Background(), cfg, input(
		role("claude-3-5-haiku", "Indexes accelerate database queries through sorted lookup structures.", 0.8),
		role("grok-3-mini", "Bananas ripen faster inside warm paper bags overnight.", 0.6),
	))

	require.Len(t, model.params, 1)
	assert.InDelta(t, cfg.Synthesis.BaseTemperature+0.15, model.params[0].Temperature, 1e-9)
}

func TestWinnerMarkedPreferred(t *testing.T) {
	model := &fakeSynthModel{replies: []string{strongDraft}}
	engine, cfg := testEngine(t, model)
	cfg.Synthesis.MinQuality = 0.1

	engine.Synthesize(context.Background(), cfg, input(
		role("claude-3-5-haiku", "Indexes use sorted structures for fast lookups of database rows.", 0.8),
		role("grok-3-mini", "Indexing avoids full table scans when filtering on indexed columns.", 0.6),
	))

	joined := ""
	for _, p := range model.prompts {
		joined += p + "\n"
	}
	assert.Contains(t, joined, "(preferred)")
	assert.Contains(t, joined, "weight 0.60")
}

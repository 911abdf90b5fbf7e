// Package synthesis consolidates the ensemble responses into one answer
// using a strategy adapted to the prompt class, with a single quality
// improvement round and graceful fallback.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/models"
	"dev.helix.ensemble/internal/scoring"
)

// conflictSimilarity is the pairwise token similarity below which two
// responses count as a conflicting pair.
const conflictSimilarity = 0.2

// FallbackMessage is returned when no model produced usable content and the
// synthesis model is also unavailable.
const FallbackMessage = "I was unable to produce a reliable answer to this request. Please try again."

// FallbackQuality is the fixed quality attached to the fallback message.
const FallbackQuality = 0.1

// strategy describes how one prompt class is consolidated.
type strategy struct {
	name         string
	instructions string
}

var strategies = map[models.PromptClass]strategy{
	models.ClassAnalytical: {
		name:         "comparative-analysis",
		instructions: "Weigh the candidate answers against each other. Preserve the strongest reasoning chains, reconcile differing conclusions explicitly, and present a balanced final assessment.",
	},
	models.ClassCreative: {
		name:         "creative-blend",
		instructions: "Blend the most vivid and original elements of the candidate answers into one coherent piece. Keep a consistent voice and do not mention that multiple drafts exist.",
	},
	models.ClassTechnical: {
		name:         "technical-merge",
		instructions: "Merge the technically correct parts of the candidate answers. Prefer precise terminology, keep code and commands exactly as written when they agree, and flag any step the candidates disagree on.",
	},
	models.ClassExplanatory: {
		name:         "layered-explanation",
		instructions: "Combine the candidate answers into one clear explanation that starts from the core idea and adds detail progressively. Remove repetition across candidates.",
	},
	models.ClassFactual: {
		name:         "fact-consolidation",
		instructions: "State only facts the candidate answers support. Where candidates give different values for the same fact, prefer the majority and note genuine uncertainty briefly.",
	},
	models.ClassConversational: {
		name:         "direct-reply",
		instructions: "Produce one natural, direct reply drawing on the best candidate answer, kept concise.",
	},
}

// Input carries everything synthesis needs for one request.
type Input struct {
	Prompt     string
	Class      models.PromptClass
	Complexity models.Complexity
	Tier       models.Tier
	Responses  []*models.RoleResponse
	Voting     *models.VotingResult
}

// Engine runs strategy-adapted synthesis.
type Engine struct {
	registry *llm.Registry
	logger   *logrus.Logger
}

// NewEngine creates a synthesis engine over the model registry.
func NewEngine(registry *llm.Registry, logger *logrus.Logger) *Engine {
	return &Engine{registry: registry, logger: logger}
}

// Synthesize consolidates the fulfilled responses. When the synthesis model
// fails, the best-confidence response is returned verbatim; when nothing is
// usable, the fixed fallback message is returned with quality 0.1.
func (e *Engine) Synthesize(ctx context.Context, cfg *config.Config, in Input) *models.SynthesisResult {
	start := time.Now()

	fulfilled := make([]*models.RoleResponse, 0, len(in.Responses))
	for _, r := range in.Responses {
		if r.Fulfilled() {
			fulfilled = append(fulfilled, r)
		}
	}
	if len(fulfilled) == 0 {
		return &models.SynthesisResult{
			Content:          FallbackMessage,
			Stage:            models.StageFallback,
			QualityScore:     FallbackQuality,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}
	}

	strat := strategyFor(in.Class)
	pairs := conflictPairs(fulfilled)

	client, ok := e.registry.Get(cfg.Synthesis.Model)
	if !ok {
		return e.fallback(fulfilled, strat.name, start)
	}

	tier := cfg.Tiers.ForTier(in.Tier)
	budget := tokenBudget(tier.MaxSynthesisTokens, len(fulfilled), pairs)
	temperature := cfg.Synthesis.BaseTemperature
	if pairs > 0 {
		temperature += 0.15
	}

	messages := e.buildMessages(in, strat, fulfilled, pairs)

	callCtx := ctx
	if cfg.Synthesis.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.Synthesis.Timeout)
		defer cancel()
	}

	completion, err := client.Call(callCtx, messages,
		models.ModelParameters{MaxTokens: budget, Temperature: temperature})
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithField("model", cfg.Synthesis.Model).
				Warn("Synthesis call failed, falling back to best response")
		}
		return e.fallback(fulfilled, strat.name, start)
	}

	content := strings.TrimSpace(completion.Content)
	quality := scoring.Score(in.Prompt, content).Composite
	stage := models.StageInitial

	if quality < cfg.Synthesis.MinQuality {
		improved, improvedQuality, ok := e.improve(callCtx, cfg, client, in, content, budget, temperature)
		if ok && improvedQuality > quality {
			content = improved
			quality = improvedQuality
			stage = models.StageImproved
		}
	}

	return &models.SynthesisResult{
		Content:          content,
		ModelID:          cfg.Synthesis.Model,
		Strategy:         strat.name,
		Stage:            stage,
		QualityScore:     quality,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		SourceCount:      len(fulfilled),
	}
}

// improve runs the single quality improvement round.
func (e *Engine) improve(ctx context.Context, cfg *config.Config, client llm.ProviderClient, in Input, draft string, budget int, temperature float64) (string, float64, bool) {
	prompt := fmt.Sprintf(
		"Improve the following answer. Keep everything that is correct, fix weak or vague passages, and make the structure clearer. Return only the improved answer.\n\nQuestion:\n%s\n\nAnswer:\n%s",
		truncate(in.Prompt, 1500), draft)

	improveTemp := temperature - 0.1
	if improveTemp < 0 {
		improveTemp = 0
	}

	completion, err := client.Call(ctx,
		[]models.Message{{Role: "user", Content: prompt}},
		models.ModelParameters{MaxTokens: budget, Temperature: improveTemp})
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).Debug("Improvement round failed, keeping initial draft")
		}
		return "", 0, false
	}

	improved := strings.TrimSpace(completion.Content)
	if improved == "" {
		return "", 0, false
	}
	return improved, scoring.Score(in.Prompt, improved).Composite, true
}

// fallback returns the highest-confidence fulfilled response verbatim.
func (e *Engine) fallback(fulfilled []*models.RoleResponse, strategyName string, start time.Time) *models.SynthesisResult {
	best := fulfilled[0]
	for _, r := range fulfilled[1:] {
		if confidence(r) > confidence(best) {
			best = r
		}
	}

	quality := 0.0
	if best.Quality != nil {
		quality = best.Quality.Composite
	}
	return &models.SynthesisResult{
		Content:          best.Content,
		ModelID:          best.ModelID,
		Strategy:         strategyName,
		Stage:            models.StageFallback,
		QualityScore:     quality,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		SourceCount:      len(fulfilled),
	}
}

// buildMessages assembles the synthesis conversation: the adapted strategy
// as the system turn, candidates ordered by voting weight in the user turn.
func (e *Engine) buildMessages(in Input, strat strategy, fulfilled []*models.RoleResponse, pairs int) []models.Message {
	var system strings.Builder
	system.WriteString("You consolidate several candidate answers into one final answer. ")
	system.WriteString(strat.instructions)

	if pairs > 0 {
		system.WriteString(" The candidates contradict each other in places; resolve each contradiction explicitly rather than averaging over it.")
	}
	switch in.Complexity {
	case models.ComplexityHigh:
		system.WriteString(" The question is complex; preserve depth and intermediate reasoning.")
	case models.ComplexityLow:
		system.WriteString(" The question is simple; cover it completely but stay brief.")
	}
	system.WriteString(" Preserve useful structure such as lists and headings from the candidates.")

	ordered := append([]*models.RoleResponse(nil), fulfilled...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return e.weightOf(in.Voting, ordered[i].ModelID) > e.weightOf(in.Voting, ordered[j].ModelID)
	})

	var user strings.Builder
	fmt.Fprintf(&user, "Question:\n%s\n\n", in.Prompt)
	for i, r := range ordered {
		marker := ""
		if in.Voting != nil && r.ModelID == in.Voting.Winner {
			marker = " (preferred)"
		}
		fmt.Fprintf(&user, "Candidate %d%s [weight %.2f]:\n%s\n\n",
			i+1, marker, e.weightOf(in.Voting, r.ModelID), r.Content)
	}
	user.WriteString("Final answer:")

	return []models.Message{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: user.String()},
	}
}

func (e *Engine) weightOf(v *models.VotingResult, modelID string) float64 {
	if v == nil {
		return 0
	}
	return v.Weights[modelID]
}

// tokenBudget grows with the number of sources and detected conflicts,
// capped by the tier's synthesis ceiling.
func tokenBudget(tierMax, successful, pairs int) int {
	if tierMax <= 0 {
		tierMax = 700
	}
	budget := 200 + 200*successful + 50*pairs
	if budget > tierMax {
		budget = tierMax
	}
	return budget
}

// conflictPairs counts response pairs that barely overlap lexically.
func conflictPairs(responses []*models.RoleResponse) int {
	pairs := 0
	for i := 0; i < len(responses); i++ {
		for j := i + 1; j < len(responses); j++ {
			if tokenSimilarity(responses[i].Content, responses[j].Content) < conflictSimilarity {
				pairs++
			}
		}
	}
	return pairs
}

func tokenSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) > 3 {
			set[f] = struct{}{}
		}
	}
	return set
}

func confidence(r *models.RoleResponse) float64 {
	if r.Confidence == nil {
		return 0
	}
	return r.Confidence.Calibrated
}

func strategyFor(class models.PromptClass) strategy {
	if s, ok := strategies[class]; ok {
		return s
	}
	return strategies[models.ClassConversational]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

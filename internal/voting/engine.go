// Package voting implements multi-factor weighted voting over the fulfilled
// ensemble responses, consensus grading and the meta-voter tie-break.
package voting

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.helix.ensemble/internal/calibration"
	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/models"
	"dev.helix.ensemble/internal/reliability"
	"dev.helix.ensemble/internal/scoring"
)

// adaptiveShift is the weight moved onto a boosted factor, drained equally
// from the remaining factors before renormalization.
const adaptiveShift = 0.10

// lowDiversityThreshold triggers the diversity boost when the ensemble's mean
// pairwise diversity falls below it.
const lowDiversityThreshold = 0.3

// longResponseChars triggers the quality boost when the mean fulfilled
// response exceeds it.
const longResponseChars = 1000

// Engine scores responses, runs the weighted vote and breaks near-ties.
type Engine struct {
	calibrator *calibration.Calibrator
	semantic   *calibration.SemanticScorer
	tracker    *reliability.Tracker
	registry   *llm.Registry
	perf       *PerformanceWindow
	logger     *logrus.Logger
}

// NewEngine wires the voting engine.
func NewEngine(calibrator *calibration.Calibrator, semantic *calibration.SemanticScorer, tracker *reliability.Tracker, registry *llm.Registry, logger *logrus.Logger) *Engine {
	return &Engine{
		calibrator: calibrator,
		semantic:   semantic,
		tracker:    tracker,
		registry:   registry,
		perf:       NewPerformanceWindow(),
		logger:     logger,
	}
}

// Performance exposes the per-model outcome window.
func (e *Engine) Performance() *PerformanceWindow { return e.perf }

// factors holds the six per-response voting inputs, each in [0,1].
type factors struct {
	response   *models.RoleResponse
	confidence float64
	quality    float64
	historical float64
	semantic   float64
	consensus  float64
	diversity  float64
}

// Vote scores the fulfilled responses, attaches quality and confidence to
// each, and returns the voting result. An empty result means nothing was
// usable.
func (e *Engine) Vote(ctx context.Context, cfg *config.Config, prompt string, responses []*models.RoleResponse) *models.VotingResult {
	fulfilled := make([]*models.RoleResponse, 0, len(responses))
	for _, r := range responses {
		if r.Fulfilled() {
			fulfilled = append(fulfilled, r)
		}
	}
	if len(fulfilled) == 0 {
		return &models.VotingResult{Consensus: models.ConsensusVeryWeak}
	}

	all := e.computeFactors(ctx, cfg, prompt, fulfilled)

	base := cfg.Voting.WeightFactors
	weights := e.adapt(cfg, base, all)

	totals := e.totals(cfg, all, weights)
	normalized := normalize(totals)

	ranked := rankModels(normalized)
	winner := ranked[0]
	gap := 1.0
	if len(ranked) > 1 {
		gap = normalized[ranked[0]] - normalized[ranked[1]]
	}
	grade := consensusGrade(all)

	result := &models.VotingResult{
		Winner:         winner,
		Confidence:     confidenceOf(all, winner),
		Consensus:      grade,
		Weights:        normalized,
		ScoreGap:       gap,
		ResponseScores: transparency(all, weights, normalized),
	}
	if weights != base {
		result.AdaptiveWeights = map[string]float64{
			"confidence": weights.Confidence,
			"quality":    weights.Quality,
			"historical": weights.Historical,
			"semantic":   weights.Semantic,
			"consensus":  weights.Consensus,
			"diversity":  weights.Diversity,
		}
	}

	e.maybeTieBreak(ctx, cfg, prompt, all, result, gap, grade)
	return result
}

// computeFactors fills the six factors for every fulfilled response and
// attaches Quality and Confidence to each.
func (e *Engine) computeFactors(ctx context.Context, cfg *config.Config, prompt string, fulfilled []*models.RoleResponse) []factors {
	all := make([]factors, len(fulfilled))
	for i, r := range fulfilled {
		if r.Quality == nil {
			r.Quality = scoring.Score(prompt, r.Content)
		}

		semScore := 0.5
		components := models.ConfidenceComponents{
			ReferenceSimilarity: 0.5,
			Grammar:             calibration.GrammarQuality(r.Content),
			LatencyFactor:       calibration.LatencyFactor(r.ResponseTimeMs),
			Category:            calibration.CategoryFor(r.Content),
		}
		if cfg.Voting.EnableSemanticScoring && e.semantic != nil {
			components, semScore = e.semantic.Score(ctx, r.Content, r.ResponseTimeMs)
		}

		raw := 0.5*r.Quality.Composite + 0.5*semScore
		calibrated := e.calibrator.Calibrate(r.ModelID, raw)
		r.Confidence = &models.ConfidenceScore{
			Raw:        raw,
			Calibrated: calibrated,
			Level:      models.ConfidenceLevelFor(calibrated),
			Components: components,
		}

		all[i] = factors{
			response:   r,
			confidence: calibrated,
			quality:    r.Quality.Composite,
			historical: e.historical(cfg, r.ModelID),
			semantic:   semScore,
		}
	}

	// Pairwise agreement: each response's consensus is its mean token
	// similarity with the others; diversity is the complement.
	for i := range all {
		if len(all) == 1 {
			all[i].consensus = 1.0
			all[i].diversity = 0.0
			continue
		}
		sum := 0.0
		for j := range all {
			if i == j {
				continue
			}
			sum += tokenSimilarity(all[i].response.Content, all[j].response.Content)
		}
		all[i].consensus = sum / float64(len(all)-1)
		all[i].diversity = 1.0 - all[i].consensus
	}
	return all
}

// historical returns the model's mean recent outcome score, falling back to
// the provider's trailing uptime before any outcomes exist.
func (e *Engine) historical(cfg *config.Config, modelID string) float64 {
	if mean, ok := e.perf.Mean(modelID); ok {
		return mean
	}
	if mc, ok := cfg.Models[modelID]; ok {
		return e.tracker.Uptime24h(mc.Provider)
	}
	return 0.5
}

// adapt applies the adaptive weight shifts and renormalizes.
func (e *Engine) adapt(cfg *config.Config, base config.WeightFactors, all []factors) config.WeightFactors {
	if !cfg.Voting.EnableAdaptiveWeights {
		return base
	}

	var meanLength float64
	for _, f := range all {
		meanLength += float64(len(f.response.Content))
	}
	meanLength /= float64(len(all))
	meanDiversity := 1.0 - meanAgreement(all)

	// A consensus grade below moderate means the historical record should
	// count for more.
	weakAgreement := !consensusGrade(all).AtLeast(models.ConsensusModerate)

	adapted := base
	shifts := 0
	if weakAgreement {
		adapted.Historical += adaptiveShift
		shifts++
	}
	if meanDiversity < lowDiversityThreshold {
		adapted.Diversity += adaptiveShift
		shifts++
	}
	if meanLength > longResponseChars {
		adapted.Quality += adaptiveShift
		shifts++
	}
	if shifts == 0 {
		return base
	}

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"mean_diversity": meanDiversity,
			"mean_length":    meanLength,
			"shifts":         shifts,
		}).Debug("Adaptive weight shifts applied")
	}
	return adapted.Normalized()
}

// totals computes each response's combined score: the weighted factor sum
// scaled by the provider's dynamic reliability weight.
func (e *Engine) totals(cfg *config.Config, all []factors, w config.WeightFactors) map[string]float64 {
	totals := make(map[string]float64, len(all))
	for _, f := range all {
		score := f.confidence*w.Confidence +
			f.quality*w.Quality +
			f.historical*w.Historical +
			f.semantic*w.Semantic +
			f.consensus*w.Consensus +
			f.diversity*w.Diversity

		providerWeight := 1.0
		if mc, ok := cfg.Models[f.response.ModelID]; ok {
			providerWeight = e.tracker.DynamicWeight(mc.Provider, f.confidence)
		}
		totals[f.response.ModelID] = score * providerWeight
	}
	return totals
}

// normalize scales the totals to sum to 1.0.
func normalize(totals map[string]float64) map[string]float64 {
	sum := 0.0
	for _, v := range totals {
		sum += v
	}
	out := make(map[string]float64, len(totals))
	if sum <= 0 {
		uniform := 1.0 / float64(len(totals))
		for id := range totals {
			out[id] = uniform
		}
		return out
	}
	for id, v := range totals {
		out[id] = v / sum
	}
	return out
}

// rankModels orders model IDs by normalized weight descending, ID ascending
// on ties so the result is deterministic.
func rankModels(weights map[string]float64) []string {
	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if weights[ids[i]] != weights[ids[j]] {
			return weights[ids[i]] > weights[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// agreementStretch maps token-level agreement onto the grade ladder. Jaccard
// similarity between distinct phrasings of the same answer rarely exceeds 0.5.
const agreementStretch = 2.0

// meanAgreement is the ensemble's mean pairwise consensus factor.
func meanAgreement(all []factors) float64 {
	sum := 0.0
	for _, f := range all {
		sum += f.consensus
	}
	return sum / float64(len(all))
}

// consensusGrade maps inter-response agreement onto the grade ladder, so a
// strong grade and a narrow winner gap can coexist when the responses agree.
// A single response is full consensus.
func consensusGrade(all []factors) models.ConsensusGrade {
	if len(all) <= 1 {
		return models.ConsensusVeryStrong
	}
	scaled := meanAgreement(all) * agreementStretch
	if scaled > 1 {
		scaled = 1
	}
	return models.ConsensusGradeFor(scaled)
}

func confidenceOf(all []factors, modelID string) float64 {
	for _, f := range all {
		if f.response.ModelID == modelID {
			return f.confidence
		}
	}
	return 0
}

func transparency(all []factors, w config.WeightFactors, normalized map[string]float64) []models.ResponseScore {
	scores := make([]models.ResponseScore, 0, len(all))
	for _, f := range all {
		scores = append(scores, models.ResponseScore{
			ModelID:    f.response.ModelID,
			Total:      normalized[f.response.ModelID],
			Confidence: f.confidence * w.Confidence,
			Quality:    f.quality * w.Quality,
			Historical: f.historical * w.Historical,
			Semantic:   f.semantic * w.Semantic,
			Consensus:  f.consensus * w.Consensus,
			Diversity:  f.diversity * w.Diversity,
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].ModelID < scores[j].ModelID
	})
	return scores
}

// maybeTieBreak escalates a near-tie to the meta-voter. The meta-voter may
// replace the winner only; weights and scores never change, and the
// algorithmic winner stands when the call fails or the reply names nobody.
func (e *Engine) maybeTieBreak(ctx context.Context, cfg *config.Config, prompt string, all []factors, result *models.VotingResult, gap float64, grade models.ConsensusGrade) {
	if !cfg.Voting.EnableMetaVoter || len(all) < 2 {
		return
	}
	trigger := cfg.MetaVoter.Trigger
	if gap >= trigger.MaxWeightDifference || !grade.AtLeast(trigger.MinConsensusStrength) {
		return
	}

	client, ok := e.registry.Get(cfg.MetaVoter.Model)
	if !ok {
		return
	}

	ranked := rankModels(result.Weights)
	top := ranked
	if len(top) > 2 {
		top = top[:2]
	}

	var sb strings.Builder
	sb.WriteString("Two candidate answers to the same question scored nearly equally. ")
	sb.WriteString("Reply with only the number of the better answer (1 or 2) followed by one sentence of justification.\n\n")
	fmt.Fprintf(&sb, "Question:\n%s\n\n", truncate(prompt, 1500))
	for i, id := range top {
		fmt.Fprintf(&sb, "Answer %d:\n%s\n\n", i+1, truncate(contentOf(all, id), 2500))
	}

	callCtx := ctx
	if cfg.MetaVoter.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.MetaVoter.Timeout)
		defer cancel()
	}

	completion, err := client.Call(callCtx,
		[]models.Message{{Role: "user", Content: sb.String()}},
		models.ModelParameters{MaxTokens: cfg.MetaVoter.MaxTokens, Temperature: cfg.MetaVoter.Temperature})
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).Warn("Meta-voter call failed, keeping algorithmic winner")
		}
		return
	}

	choice, ok := parseChoice(completion.Content, len(top))
	if !ok {
		return
	}

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"algorithmic_winner": result.Winner,
			"meta_winner":        top[choice],
			"gap":                gap,
		}).Info("Meta-voter resolved near-tie")
	}
	result.Winner = top[choice]
	result.Confidence = confidenceOf(all, result.Winner)
	result.TieBreakUsed = true
	result.Analysis = strings.TrimSpace(completion.Content)
}

// parseChoice finds the first candidate index named in the reply.
func parseChoice(reply string, n int) (int, bool) {
	for _, r := range reply {
		if r >= '1' && int(r-'0') <= n {
			return int(r - '1'), true
		}
	}
	return 0, false
}

func contentOf(all []factors, modelID string) string {
	for _, f := range all {
		if f.response.ModelID == modelID {
			return f.response.Content
		}
	}
	return ""
}

// tokenSimilarity is the Jaccard similarity over significant lowercase
// tokens of two texts.
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

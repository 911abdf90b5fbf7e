// Package router classifies prompts and selects the ensemble models for a
// request from reliability, per-category affinity and cost efficiency.
package router

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/models"
	"dev.helix.ensemble/internal/reliability"
)

// Selection ranking weights.
const (
	rankReliability = 0.5
	rankAffinity    = 0.3
	rankCost        = 0.2
)

var classKeywords = map[models.PromptClass][]string{
	models.ClassAnalytical:  {"compare", "analyze", "evaluate", "versus", "vs", "trade-off", "tradeoff", "pros and cons", "assess"},
	models.ClassCreative:    {"write a story", "poem", "imagine", "creative", "fiction", "brainstorm", "invent"},
	models.ClassTechnical:   {"code", "function", "debug", "implement", "api", "algorithm", "error", "compile", "deploy", "sql", "regex"},
	models.ClassExplanatory: {"explain", "how does", "how do", "what is", "what are", "describe", "why does", "walk me through"},
	models.ClassFactual:     {"who", "when did", "where is", "how many", "what year", "capital of", "define"},
}

// Classify maps a prompt to its class by keyword rules; unmatched prompts
// are conversational.
func Classify(prompt string) models.PromptClass {
	lower := strings.ToLower(prompt)
	best := models.ClassConversational
	bestHits := 0
	// Stable priority order so overlapping keyword sets resolve the same way
	// every time.
	for _, class := range []models.PromptClass{
		models.ClassTechnical,
		models.ClassAnalytical,
		models.ClassCreative,
		models.ClassExplanatory,
		models.ClassFactual,
	} {
		hits := 0
		for _, kw := range classKeywords[class] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = class
		}
	}
	return best
}

var complexityKeywords = []string{
	"architecture", "distributed", "concurrency", "optimize", "scalability",
	"formal", "proof", "in depth", "detailed", "comprehensive",
}

// ComplexityOf grades a prompt by length and keyword signals.
func ComplexityOf(prompt string) models.Complexity {
	score := 0
	if len(prompt) > 600 {
		score += 2
	} else if len(prompt) > 200 {
		score++
	}
	lower := strings.ToLower(prompt)
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	switch {
	case score >= 3:
		return models.ComplexityHigh
	case score >= 1:
		return models.ComplexityMedium
	default:
		return models.ComplexityLow
	}
}

// affinity is the per-family class affinity table. Families absent from the
// table score the neutral 0.5.
var affinity = map[string]map[models.PromptClass]float64{
	"openai": {
		models.ClassAnalytical: 0.8, models.ClassCreative: 0.7, models.ClassTechnical: 0.85,
		models.ClassExplanatory: 0.8, models.ClassFactual: 0.75, models.ClassConversational: 0.8,
	},
	"anthropic": {
		models.ClassAnalytical: 0.85, models.ClassCreative: 0.8, models.ClassTechnical: 0.8,
		models.ClassExplanatory: 0.85, models.ClassFactual: 0.75, models.ClassConversational: 0.8,
	},
	"gemini": {
		models.ClassAnalytical: 0.75, models.ClassCreative: 0.75, models.ClassTechnical: 0.75,
		models.ClassExplanatory: 0.8, models.ClassFactual: 0.8, models.ClassConversational: 0.75,
	},
	"grok": {
		models.ClassAnalytical: 0.7, models.ClassCreative: 0.75, models.ClassTechnical: 0.7,
		models.ClassExplanatory: 0.7, models.ClassFactual: 0.7, models.ClassConversational: 0.8,
	},
}

// Router selects the models for each request.
type Router struct {
	registry *llm.Registry
	tracker  *reliability.Tracker
	logger   *logrus.Logger
}

// New creates a router over the registry and reliability tracker.
func New(registry *llm.Registry, tracker *reliability.Tracker, logger *logrus.Logger) *Router {
	return &Router{registry: registry, tracker: tracker, logger: logger}
}

type rankedModel struct {
	id    string
	score float64
}

// Select returns up to n model IDs for the request, skipping models whose
// breaker is open. When ranking yields nothing usable the configured
// fallback triple is used, subject to the same breaker check.
func (r *Router) Select(cfg *config.Config, class models.PromptClass, tier models.Tier, n int) []string {
	candidates := r.rank(cfg, class)

	selected := make([]string, 0, n)
	for _, c := range candidates {
		if len(selected) >= n {
			break
		}
		selected = append(selected, c.id)
	}

	if len(selected) == 0 {
		for _, id := range cfg.Routing.FallbackModels {
			if len(selected) >= n {
				break
			}
			if _, ok := r.registry.Get(id); !ok {
				continue
			}
			if r.registry.Breakers().IsOpen(id) {
				continue
			}
			selected = append(selected, id)
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"class":    class,
				"tier":     tier,
				"selected": selected,
			}).Warn("Model ranking produced no candidates, using fallback set")
		}
	}
	return selected
}

// rank orders all non-open, non-embedding models by the weighted sum of
// reliability, class affinity and cost efficiency.
func (r *Router) rank(cfg *config.Config, class models.PromptClass) []rankedModel {
	maxCost := 0.0
	for _, mc := range cfg.Models {
		if mc.OutputCostPer1K > maxCost {
			maxCost = mc.OutputCostPer1K
		}
	}

	var ranked []rankedModel
	for _, id := range r.registry.ModelIDs() {
		mc, ok := cfg.Models[id]
		if !ok || mc.Embedding {
			continue
		}
		if r.registry.Breakers().IsOpen(id) {
			continue
		}

		reliabilityScore := r.tracker.Uptime24h(mc.Provider)

		familyAffinity := 0.5
		if table, ok := affinity[mc.Family]; ok {
			if v, ok := table[class]; ok {
				familyAffinity = v
			}
		}

		costEfficiency := 1.0
		if maxCost > 0 {
			costEfficiency = 1.0 - mc.OutputCostPer1K/maxCost*0.8
		}

		ranked = append(ranked, rankedModel{
			id:    id,
			score: reliabilityScore*rankReliability + familyAffinity*rankAffinity + costEfficiency*rankCost,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	return ranked
}

// ModelCountFor returns how many models a tier fans out to.
func ModelCountFor(cfg *config.Config, tier models.Tier) int {
	n := cfg.Tiers.ForTier(tier).ModelCount
	if n <= 0 {
		n = 3
	}
	return n
}

package calibration

import (
	"context"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/sirupsen/logrus"

	"dev.helix.ensemble/internal/models"
)

// Reference categories for semantic similarity scoring.
const (
	CategoryGeneral     = "general"
	CategoryTechnical   = "technical"
	CategoryAnalytical  = "analytical"
	CategoryCreative    = "creative"
	CategoryExplanatory = "explanatory"
)

// Semantic confidence component weights.
const (
	weightSimilarity = 0.40
	weightGrammar    = 0.30
	weightLatency    = 0.30
)

// Embedder produces a vector for a text. Implemented by llm.EmbeddingClient.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// referenceTexts seed the per-category reference embeddings. Each is a
// canonical example of a well-formed answer in that register.
var referenceTexts = map[string]string{
	CategoryGeneral:     "Here is a clear, well organized answer that addresses the question directly, provides relevant context, and closes with a concise summary of the key points.",
	CategoryTechnical:   "The implementation uses a layered architecture. The API layer validates input, the service layer applies business rules, and the storage layer persists state. Error handling follows explicit propagation with typed failures.",
	CategoryAnalytical:  "Comparing the two approaches: the first optimizes for latency at the cost of consistency, while the second favors correctness. The evidence suggests the trade-off depends primarily on workload characteristics.",
	CategoryCreative:    "The morning light spilled across the harbor, and for a moment the city seemed to hold its breath, caught between the night it was leaving and the day it had not yet decided to become.",
	CategoryExplanatory: "To understand how this works, start with the basic principle: each component transforms its input and passes the result forward. Step by step, the pipeline refines raw data into a finished answer.",
}

var categoryKeywords = map[string][]string{
	CategoryTechnical:   {"code", "function", "api", "algorithm", "implement", "database", "server", "compile", "debug", "deploy"},
	CategoryAnalytical:  {"compare", "analyze", "versus", "trade-off", "evaluate", "pros", "cons", "assessment"},
	CategoryCreative:    {"story", "poem", "imagine", "creative", "write a", "fiction", "narrative"},
	CategoryExplanatory: {"explain", "how does", "what is", "describe", "why does", "overview", "introduction"},
}

// SemanticScorer derives semantic confidence for a response. Reference
// embeddings are fetched lazily per category and cached; when the embedding
// endpoint is unavailable the similarity component degrades to a neutral
// value instead of failing the pipeline.
type SemanticScorer struct {
	mu       sync.Mutex
	embedder Embedder
	refs     map[string][]float64
	logger   *logrus.Logger
}

// NewSemanticScorer creates a scorer. embedder may be nil.
func NewSemanticScorer(embedder Embedder, logger *logrus.Logger) *SemanticScorer {
	return &SemanticScorer{
		embedder: embedder,
		refs:     make(map[string][]float64),
		logger:   logger,
	}
}

// CategoryFor classifies content into a reference category by keyword match.
func CategoryFor(content string) string {
	lower := strings.ToLower(content)
	bestCategory := CategoryGeneral
	bestHits := 0
	for _, category := range []string{CategoryTechnical, CategoryAnalytical, CategoryCreative, CategoryExplanatory} {
		hits := 0
		for _, kw := range categoryKeywords[category] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			bestCategory = category
		}
	}
	return bestCategory
}

// Score computes the semantic confidence components and their weighted
// combination for a response.
func (s *SemanticScorer) Score(ctx context.Context, content string, latencyMs int64) (models.ConfidenceComponents, float64) {
	category := CategoryFor(content)
	components := models.ConfidenceComponents{
		ReferenceSimilarity: s.referenceSimilarity(ctx, category, content),
		Grammar:             GrammarQuality(content),
		LatencyFactor:       LatencyFactor(latencyMs),
		Category:            category,
	}

	score := clamp01(components.ReferenceSimilarity*weightSimilarity +
		components.Grammar*weightGrammar +
		components.LatencyFactor*weightLatency)
	return components, score
}

func (s *SemanticScorer) referenceSimilarity(ctx context.Context, category, content string) float64 {
	if s.embedder == nil {
		return 0.5
	}

	ref, err := s.reference(ctx, category)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).WithField("category", category).
				Debug("Reference embedding unavailable, using neutral similarity")
		}
		return 0.5
	}

	vec, err := s.embedder.Embed(ctx, truncate(content, 2000))
	if err != nil {
		return 0.5
	}
	return clamp01(Cosine(ref, vec))
}

func (s *SemanticScorer) reference(ctx context.Context, category string) ([]float64, error) {
	s.mu.Lock()
	cached, ok := s.refs[category]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	vec, err := s.embedder.Embed(ctx, referenceTexts[category])
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.refs[category] = vec
	s.mu.Unlock()
	return vec, nil
}

// Cosine returns the cosine similarity of two vectors, 0 for mismatched or
// zero-magnitude inputs.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// GrammarQuality scores surface-level writing quality from sentence length,
// capitalization, punctuation and lexical diversity heuristics.
func GrammarQuality(content string) float64 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}

	sentences := splitSentences(trimmed)
	words := strings.Fields(trimmed)
	if len(words) == 0 {
		return 0
	}

	score := 0.0

	// Sentence length: 8-30 words per sentence reads well.
	if len(sentences) > 0 {
		avg := float64(len(words)) / float64(len(sentences))
		switch {
		case avg >= 8 && avg <= 30:
			score += 0.30
		case avg >= 4 && avg <= 45:
			score += 0.18
		default:
			score += 0.08
		}
	}

	// Capitalization of sentence starts.
	capitalized := 0
	for _, sent := range sentences {
		for _, r := range sent {
			if unicode.IsLetter(r) {
				if unicode.IsUpper(r) {
					capitalized++
				}
				break
			}
		}
	}
	if len(sentences) > 0 {
		score += 0.25 * float64(capitalized) / float64(len(sentences))
	}

	// Terminal punctuation.
	last := trimmed[len(trimmed)-1]
	if last == '.' || last == '!' || last == '?' || last == ':' {
		score += 0.15
	}

	// Lexical diversity: unique words / total, saturating at 0.6.
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))] = struct{}{}
	}
	diversity := float64(len(unique)) / float64(len(words))
	score += 0.30 * math.Min(1.0, diversity/0.6)

	return clamp01(score)
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

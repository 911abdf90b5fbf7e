// Package scoring implements the deterministic per-response quality scorer.
// Scoring is a pure function of the response content and the original
// prompt; it performs no I/O and keeps no state.
package scoring

import (
	"regexp"
	"strings"

	"dev.helix.ensemble/internal/models"
)

// Length band for the length component.
const (
	minLength = 120
	maxLength = 3500
)

// Component weights. The four terms are additive with per-term caps; the
// composite stays in [0,1].
const (
	weightLength      = 0.25
	weightStructure   = 0.25
	weightRelevance   = 0.30
	weightSpecificity = 0.20
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {},
	"from": {}, "what": {}, "when": {}, "where": {}, "which": {}, "would": {},
	"could": {}, "should": {}, "about": {}, "into": {}, "them": {}, "then": {},
	"than": {}, "they": {}, "there": {}, "their": {}, "have": {}, "has": {},
	"been": {}, "will": {}, "your": {}, "more": {}, "some": {}, "such": {},
	"also": {}, "other": {}, "between": {}, "does": {}, "please": {},
}

var (
	headingPattern  = regexp.MustCompile(`(?m)^#{1,4}\s+\S`)
	bulletPattern   = regexp.MustCompile(`(?m)^\s*[-*•]\s+\S`)
	numberedPattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+\S`)
	boldPattern     = regexp.MustCompile(`\*\*[^*]+\*\*`)
	numberPattern   = regexp.MustCompile(`\b\d+(?:\.\d+)?%?\b`)
)

var reasoningConnectives = []string{
	"because", "therefore", "as a result", "consequently", "for example",
	"for instance", "in contrast", "however", "specifically", "in practice",
	"this means",
}

// Score computes the quality assessment for one response.
func Score(prompt, content string) *models.QualityScore {
	q := &models.QualityScore{
		Length:      lengthComponent(content),
		Structure:   structureComponent(content),
		Relevance:   RelevanceRatio(prompt, content),
		Specificity: specificityComponent(content),
	}
	q.Composite = clamp01(q.Length*weightLength +
		q.Structure*weightStructure +
		q.Relevance*weightRelevance +
		q.Specificity*weightSpecificity)
	return q
}

// lengthComponent rewards content inside the [minLength, maxLength] band and
// degrades linearly outside it.
func lengthComponent(content string) float64 {
	n := len(strings.TrimSpace(content))
	switch {
	case n == 0:
		return 0
	case n < minLength:
		return float64(n) / float64(minLength)
	case n <= maxLength:
		return 1.0
	default:
		over := float64(n-maxLength) / float64(maxLength)
		return clamp01(1.0 - over*0.5)
	}
}

// structureComponent counts structural markers: headings, bullets, numbered
// lists, bolded spans and paragraph breaks.
func structureComponent(content string) float64 {
	score := 0.0
	if headingPattern.MatchString(content) {
		score += 0.3
	}
	if bulletPattern.MatchString(content) || numberedPattern.MatchString(content) {
		score += 0.3
	}
	if boldPattern.MatchString(content) {
		score += 0.2
	}
	if strings.Contains(content, "\n\n") {
		score += 0.2
	}
	return clamp01(score)
}

// RelevanceRatio returns the share of significant prompt tokens (length > 3,
// stop words excluded) that appear in the content.
func RelevanceRatio(prompt, content string) float64 {
	promptTokens := significantTokens(prompt)
	if len(promptTokens) == 0 {
		return 0.5
	}

	contentSet := make(map[string]struct{})
	for _, tok := range significantTokens(content) {
		contentSet[tok] = struct{}{}
	}

	hits := 0
	for _, tok := range promptTokens {
		if _, ok := contentSet[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(promptTokens))
}

// specificityComponent rewards concrete content: examples, numbers and
// explicit reasoning connectives.
func specificityComponent(content string) float64 {
	lower := strings.ToLower(content)
	score := 0.0

	connectives := 0
	for _, c := range reasoningConnectives {
		if strings.Contains(lower, c) {
			connectives++
		}
	}
	if connectives >= 3 {
		score += 0.4
	} else {
		score += float64(connectives) * 0.13
	}

	numbers := len(numberPattern.FindAllString(content, 6))
	score += float64(numbers) * 0.05

	if strings.Contains(lower, "example") || strings.Contains(lower, "e.g.") {
		score += 0.25
	}
	return clamp01(score)
}

func significantTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

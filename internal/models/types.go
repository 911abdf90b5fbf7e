package models

import "time"

// Tier identifies the service tier a request runs under.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Valid reports whether the tier is a recognized value.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium
}

// Request is the boundary input for one ensemble run.
type Request struct {
	Prompt        string `json:"prompt"`
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id,omitempty"`
	Tier          Tier   `json:"tier,omitempty"`
	Explain       bool   `json:"explain,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	MemoryContext string `json:"-"`
}

// Message is a single chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelParameters are the per-call generation parameters.
type ModelParameters struct {
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// TokenUsage is the normalized usage block every provider adapter produces.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseStatus marks a role response as fulfilled or rejected.
type ResponseStatus string

const (
	StatusFulfilled ResponseStatus = "fulfilled"
	StatusRejected  ResponseStatus = "rejected"
)

// RoleResponse is one model's contribution to the ensemble. The dispatcher
// creates it; the scorer attaches Quality and Confidence; after that it is
// never mutated.
type RoleResponse struct {
	ModelID        string           `json:"model_id"`
	ServedBy       string           `json:"served_by,omitempty"`
	Status         ResponseStatus   `json:"status"`
	Content        string           `json:"content,omitempty"`
	Usage          TokenUsage       `json:"usage"`
	ResponseTimeMs int64            `json:"response_time_ms"`
	Error          string           `json:"error,omitempty"`
	Quality        *QualityScore    `json:"quality,omitempty"`
	Confidence     *ConfidenceScore `json:"confidence,omitempty"`
}

// Fulfilled reports whether the response carries usable content.
func (r *RoleResponse) Fulfilled() bool {
	return r != nil && r.Status == StatusFulfilled && r.Content != ""
}

// QualityScore is the composite quality assessment of a single response.
type QualityScore struct {
	Composite   float64 `json:"composite"`
	Length      float64 `json:"length_component"`
	Structure   float64 `json:"structure_component"`
	Relevance   float64 `json:"relevance_component"`
	Specificity float64 `json:"specificity_component"`
}

// ConfidenceLevel buckets a calibrated confidence value.
type ConfidenceLevel string

const (
	ConfidenceVeryLow  ConfidenceLevel = "very-low"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceVeryHigh ConfidenceLevel = "very-high"
)

// ConfidenceLevelFor maps a calibrated score in [0,1] to its level bucket.
func ConfidenceLevelFor(score float64) ConfidenceLevel {
	switch {
	case score >= 0.85:
		return ConfidenceVeryHigh
	case score >= 0.70:
		return ConfidenceHigh
	case score >= 0.50:
		return ConfidenceMedium
	case score >= 0.30:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// Downgrade returns the next lower confidence level.
func (l ConfidenceLevel) Downgrade() ConfidenceLevel {
	switch l {
	case ConfidenceVeryHigh:
		return ConfidenceHigh
	case ConfidenceHigh:
		return ConfidenceMedium
	case ConfidenceMedium:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// ConfidenceComponents are the inputs that produced a semantic confidence.
type ConfidenceComponents struct {
	ReferenceSimilarity float64 `json:"reference_similarity"`
	Grammar             float64 `json:"grammar"`
	LatencyFactor       float64 `json:"latency_factor"`
	Category            string  `json:"category"`
}

// ConfidenceScore is the raw and calibrated confidence for one response.
type ConfidenceScore struct {
	Raw        float64              `json:"raw"`
	Calibrated float64              `json:"calibrated"`
	Level      ConfidenceLevel      `json:"level"`
	Components ConfidenceComponents `json:"components"`
}

// ConsensusGrade labels how strongly the ensemble agreed.
type ConsensusGrade string

const (
	ConsensusVeryStrong ConsensusGrade = "very-strong"
	ConsensusStrong     ConsensusGrade = "strong"
	ConsensusModerate   ConsensusGrade = "moderate"
	ConsensusWeak       ConsensusGrade = "weak"
	ConsensusVeryWeak   ConsensusGrade = "very-weak"
)

// ConsensusGradeFor maps a scaled agreement score in [0,1] to a grade.
func ConsensusGradeFor(scaled float64) ConsensusGrade {
	switch {
	case scaled >= 0.85:
		return ConsensusVeryStrong
	case scaled >= 0.70:
		return ConsensusStrong
	case scaled >= 0.55:
		return ConsensusModerate
	case scaled >= 0.40:
		return ConsensusWeak
	default:
		return ConsensusVeryWeak
	}
}

// Rank orders grades from very-weak (0) to very-strong (4).
func (g ConsensusGrade) Rank() int {
	switch g {
	case ConsensusVeryStrong:
		return 4
	case ConsensusStrong:
		return 3
	case ConsensusModerate:
		return 2
	case ConsensusWeak:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the grade is at least as strong as other.
func (g ConsensusGrade) AtLeast(other ConsensusGrade) bool {
	return g.Rank() >= other.Rank()
}

// ResponseScore is the transparency block for one response's vote.
type ResponseScore struct {
	ModelID    string  `json:"model_id"`
	Total      float64 `json:"total"`
	Confidence float64 `json:"confidence"`
	Quality    float64 `json:"quality"`
	Historical float64 `json:"historical"`
	Semantic   float64 `json:"semantic"`
	Consensus  float64 `json:"consensus"`
	Diversity  float64 `json:"diversity"`
}

// VotingResult is the outcome of multi-factor weighted voting.
type VotingResult struct {
	Winner          string             `json:"winner,omitempty"`
	Confidence      float64            `json:"confidence"`
	Consensus       ConsensusGrade     `json:"consensus"`
	Weights         map[string]float64 `json:"weights"`
	ScoreGap        float64            `json:"score_gap"`
	AdaptiveWeights map[string]float64 `json:"adaptive_weights,omitempty"`
	ResponseScores  []ResponseScore    `json:"response_scores,omitempty"`
	TieBreakUsed    bool               `json:"tie_break_used"`
	Analysis        string             `json:"analysis,omitempty"`
}

// Empty reports whether voting produced no usable result.
func (v *VotingResult) Empty() bool {
	return v == nil || v.Winner == ""
}

// SynthesisStage tracks which path produced the synthesized answer.
type SynthesisStage string

const (
	StageInitial  SynthesisStage = "initial"
	StageImproved SynthesisStage = "improved"
	StageFallback SynthesisStage = "fallback"
)

// SynthesisResult is the consolidated answer.
type SynthesisResult struct {
	Content          string         `json:"content"`
	ModelID          string         `json:"model_id"`
	Strategy         string         `json:"strategy_name"`
	Stage            SynthesisStage `json:"stage"`
	QualityScore     float64        `json:"quality_score"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	SourceCount      int            `json:"source_count"`
}

// OutcomeStatus summarizes the request at the boundary.
type OutcomeStatus string

const (
	OutcomeSuccess  OutcomeStatus = "success"
	OutcomeDegraded OutcomeStatus = "degraded"
	OutcomeError    OutcomeStatus = "error"
)

// OutcomeMetadata is the per-request metadata snapshot.
type OutcomeMetadata struct {
	TotalProcessingTimeMs int64            `json:"total_processing_time_ms"`
	SelectedModels        []string         `json:"selected_models"`
	Strategy              string           `json:"strategy"`
	ResponseQuality       float64          `json:"response_quality"`
	CorrelationID         string           `json:"correlation_id"`
	Timestamp             time.Time        `json:"timestamp"`
	PromptClass           string           `json:"prompt_class,omitempty"`
	Complexity            string           `json:"complexity,omitempty"`
	TieBreaking           bool             `json:"tie_breaking,omitempty"`
	ValidationIssues      []string         `json:"validation_issues,omitempty"`
	StageTimingsMs        map[string]int64 `json:"stage_timings_ms,omitempty"`
}

// EnsembleOutcome is the full boundary response.
type EnsembleOutcome struct {
	Status    OutcomeStatus    `json:"status"`
	Synthesis *SynthesisResult `json:"synthesis,omitempty"`
	Roles     []*RoleResponse  `json:"roles,omitempty"`
	Voting    *VotingResult    `json:"voting,omitempty"`
	Metadata  OutcomeMetadata  `json:"metadata"`
	Message   string           `json:"message,omitempty"`
}

// PromptClass is the router's classification of a prompt.
type PromptClass string

const (
	ClassAnalytical     PromptClass = "analytical"
	ClassCreative       PromptClass = "creative"
	ClassTechnical      PromptClass = "technical"
	ClassExplanatory    PromptClass = "explanatory"
	ClassFactual        PromptClass = "factual"
	ClassConversational PromptClass = "conversational"
)

// Complexity grades prompt complexity for strategy adaptation.
type Complexity string

const (
	ComplexityHigh   Complexity = "high"
	ComplexityMedium Complexity = "medium"
	ComplexityLow    Complexity = "low"
)

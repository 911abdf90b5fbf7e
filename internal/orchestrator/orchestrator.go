// Package orchestrator runs the full ensemble pipeline: admission, routing,
// parallel dispatch, voting, synthesis, validation and feedback.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"dev.helix.ensemble/internal/auth"
	"dev.helix.ensemble/internal/calibration"
	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/dispatch"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/memory"
	"dev.helix.ensemble/internal/metrics"
	"dev.helix.ensemble/internal/models"
	"dev.helix.ensemble/internal/reliability"
	"dev.helix.ensemble/internal/router"
	"dev.helix.ensemble/internal/scoring"
	"dev.helix.ensemble/internal/synthesis"
	"dev.helix.ensemble/internal/voting"
)

// minRelevance is the floor the synthesized answer must clear against the
// original prompt during final validation.
const minRelevance = 0.2

// Orchestrator coordinates one ensemble run end to end.
type Orchestrator struct {
	store      *config.Store
	registry   *llm.Registry
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	voting     *voting.Engine
	synthesis  *synthesis.Engine
	tracker    *reliability.Tracker
	calibrator *calibration.Calibrator
	memory     memory.SessionMemory
	tiers      auth.TierStore
	metrics    *metrics.Set
	aggregate  *metrics.Aggregator
	logger     *logrus.Logger

	quota      *quotaLedger
	freeSem    *semaphore.Weighted
	premiumSem *semaphore.Weighted
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Store      *config.Store
	Registry   *llm.Registry
	Router     *router.Router
	Dispatcher *dispatch.Dispatcher
	Voting     *voting.Engine
	Synthesis  *synthesis.Engine
	Tracker    *reliability.Tracker
	Calibrator *calibration.Calibrator
	Memory     memory.SessionMemory
	Tiers      auth.TierStore
	Logger     *logrus.Logger
}

// New wires an orchestrator. Per-tier admission limits are fixed at
// construction from the current snapshot.
func New(deps Deps) *Orchestrator {
	cfg := deps.Store.Snapshot()
	mem := deps.Memory
	if mem == nil {
		mem = memory.NopMemory{}
	}
	return &Orchestrator{
		store:      deps.Store,
		registry:   deps.Registry,
		router:     deps.Router,
		dispatcher: deps.Dispatcher,
		voting:     deps.Voting,
		synthesis:  deps.Synthesis,
		tracker:    deps.Tracker,
		calibrator: deps.Calibrator,
		memory:     mem,
		tiers:      deps.Tiers,
		metrics:    metrics.Collectors(),
		aggregate:  metrics.NewAggregator(),
		logger:     deps.Logger,
		quota:      newQuotaLedger(),
		freeSem:    semaphore.NewWeighted(int64(cfg.Tiers.Free.ConcurrencyLimit)),
		premiumSem: semaphore.NewWeighted(int64(cfg.Tiers.Premium.ConcurrencyLimit)),
	}
}

// Aggregate exposes the rolling health summary.
func (o *Orchestrator) Aggregate() *metrics.Aggregator { return o.aggregate }

// Process runs one request through the pipeline and always returns an
// outcome; failures surface as error outcomes, never as a Go error.
func (o *Orchestrator) Process(ctx context.Context, req *models.Request) *models.EnsembleOutcome {
	start := time.Now()
	cfg := o.store.Snapshot()

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	tier := auth.Resolve(o.tiers, req)
	tierCfg := cfg.Tiers.ForTier(tier)
	timings := make(map[string]int64)

	log := o.logger.WithFields(logrus.Fields{
		"correlation_id": req.CorrelationID,
		"tier":           tier,
	})

	// Stage 1: admission.
	stageStart := time.Now()
	if err := o.admit(cfg, tierCfg, req); err != nil {
		o.metrics.RequestsTotal.WithLabelValues(string(tier), string(models.OutcomeError)).Inc()
		return o.errorOutcome(req, tier, start, err.Error(), nil)
	}
	sem := o.semFor(tier)
	if !sem.TryAcquire(1) {
		log.Warn("Tier concurrency limit reached, rejecting request")
		o.metrics.RequestsTotal.WithLabelValues(string(tier), string(models.OutcomeError)).Inc()
		return o.errorOutcome(req, tier, start, "rate_limited: tier concurrency limit reached", nil)
	}
	defer sem.Release(1)
	timings["admission"] = time.Since(stageStart).Milliseconds()

	runCtx := ctx
	timeout := tierCfg.Timeout
	if timeout <= 0 {
		timeout = cfg.Ensemble.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Stage 2: session memory, best effort.
	stageStart = time.Now()
	req.MemoryContext = memory.ContextFor(runCtx, o.memory, req, o.logger)
	timings["memory"] = time.Since(stageStart).Milliseconds()

	// Stage 3: classification.
	stageStart = time.Now()
	class := router.Classify(req.Prompt)
	complexity := router.ComplexityOf(req.Prompt)
	timings["classification"] = time.Since(stageStart).Milliseconds()

	// Stage 4: model selection.
	stageStart = time.Now()
	selected := o.router.Select(cfg, class, tier, router.ModelCountFor(cfg, tier))
	timings["selection"] = time.Since(stageStart).Milliseconds()
	if len(selected) == 0 {
		log.Error("No models available for request")
		o.metrics.RequestsTotal.WithLabelValues(string(tier), string(models.OutcomeError)).Inc()
		return o.errorOutcome(req, tier, start, "no models available", nil)
	}

	log.WithFields(logrus.Fields{
		"class":      class,
		"complexity": complexity,
		"models":     selected,
	}).Info("Dispatching ensemble")

	// Stage 5: parallel dispatch.
	stageStart = time.Now()
	responses := o.dispatcher.Dispatch(runCtx, cfg, o.buildCalls(cfg, tierCfg, req, selected))
	timings["dispatch"] = time.Since(stageStart).Milliseconds()
	o.observeCalls(responses)
	clampRoleLengths(tierCfg, responses)

	if !anyFulfilled(responses) {
		return o.handleFailure(runCtx, cfg, tierCfg, req, tier, class, complexity, start, timings, responses)
	}

	// Stages 6 and 7: voting with tie-break.
	stageStart = time.Now()
	vote := o.voting.Vote(runCtx, cfg, req.Prompt, responses)
	timings["voting"] = time.Since(stageStart).Milliseconds()
	o.metrics.VotingConsensus.WithLabelValues(string(vote.Consensus)).Inc()
	if vote.TieBreakUsed {
		o.metrics.TieBreaksTotal.Inc()
	}

	// Stage 8: synthesis.
	stageStart = time.Now()
	synth := o.synthesis.Synthesize(runCtx, cfg, synthesis.Input{
		Prompt:     req.Prompt,
		Class:      class,
		Complexity: complexity,
		Tier:       tier,
		Responses:  responses,
		Voting:     vote,
	})
	timings["synthesis"] = time.Since(stageStart).Milliseconds()
	o.metrics.SynthesisQuality.Observe(synth.QualityScore)

	// Stage 9: final validation.
	stageStart = time.Now()
	issues := o.validate(tierCfg, req.Prompt, synth)
	if len(issues) > 0 {
		o.downgradeConfidence(responses, vote)
		log.WithField("issues", issues).Warn("Final validation flagged the synthesized answer")
	}
	timings["validation"] = time.Since(stageStart).Milliseconds()

	// Stage 10: persistence and feedback.
	stageStart = time.Now()
	o.persist(runCtx, tierCfg, req, synth)
	o.recordFeedback(responses, vote, synth)
	timings["feedback"] = time.Since(stageStart).Milliseconds()

	status := models.OutcomeSuccess
	if synth.Stage == models.StageFallback || len(issues) > 0 {
		status = models.OutcomeDegraded
	}

	elapsed := time.Since(start)
	o.metrics.RequestsTotal.WithLabelValues(string(tier), string(status)).Inc()
	o.metrics.RequestDuration.WithLabelValues(string(tier)).Observe(elapsed.Seconds())
	for stage, ms := range timings {
		o.metrics.StageDuration.WithLabelValues(stage).Observe(float64(ms) / 1000)
	}
	o.aggregate.Observe(elapsed.Milliseconds(), synth.QualityScore, status == models.OutcomeSuccess)
	o.updateBreakerGauges()

	outcome := &models.EnsembleOutcome{
		Status:    status,
		Synthesis: synth,
		Voting:    vote,
		Metadata: models.OutcomeMetadata{
			TotalProcessingTimeMs: elapsed.Milliseconds(),
			SelectedModels:        selected,
			Strategy:              synth.Strategy,
			ResponseQuality:       synth.QualityScore,
			CorrelationID:         req.CorrelationID,
			Timestamp:             time.Now().UTC(),
			PromptClass:           string(class),
			Complexity:            string(complexity),
			TieBreaking:           vote.TieBreakUsed,
			ValidationIssues:      issues,
			StageTimingsMs:        timings,
		},
	}
	if req.Explain {
		outcome.Roles = responses
	}

	log.WithFields(logrus.Fields{
		"status":      status,
		"winner":      vote.Winner,
		"consensus":   vote.Consensus,
		"quality":     synth.QualityScore,
		"duration_ms": elapsed.Milliseconds(),
	}).Info("Request completed")
	return outcome
}

// admit enforces the prompt ceilings and request quotas before any model
// call is made.
func (o *Orchestrator) admit(cfg *config.Config, tierCfg config.TierConfig, req *models.Request) error {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return fmt.Errorf("validation: prompt is empty")
	}
	limit := tierCfg.MaxPromptLength
	if cfg.Ensemble.MaxPromptLength > 0 && cfg.Ensemble.MaxPromptLength < limit {
		limit = cfg.Ensemble.MaxPromptLength
	}
	if len(prompt) > limit {
		return fmt.Errorf("validation: prompt exceeds %d characters", limit)
	}
	return o.quota.Admit(req.UserID, tierCfg.RequestsPerHour, tierCfg.RequestsPerDay)
}

// clampRoleLengths truncates oversized role responses to the tier ceiling so
// downstream scoring and synthesis see bounded inputs.
func clampRoleLengths(tierCfg config.TierConfig, responses []*models.RoleResponse) {
	limit := tierCfg.MaxCharactersPerRole
	if limit <= 0 {
		return
	}
	for _, r := range responses {
		if r.Fulfilled() && len(r.Content) > limit {
			r.Content = r.Content[:limit]
		}
	}
}

// anyFulfilled reports whether at least one role response completed
// successfully.
func anyFulfilled(responses []*models.RoleResponse) bool {
	for _, r := range responses {
		if r.Fulfilled() {
			return true
		}
	}
	return false
}

func (o *Orchestrator) semFor(tier models.Tier) *semaphore.Weighted {
	if tier == models.TierPremium {
		return o.premiumSem
	}
	return o.freeSem
}

// buildCalls prepares one call per selected model with the tier's generation
// limits and the model's configured temperature.
func (o *Orchestrator) buildCalls(cfg *config.Config, tierCfg config.TierConfig, req *models.Request, selected []string) []dispatch.Call {
	var messages []models.Message
	if req.MemoryContext != "" {
		messages = append(messages, models.Message{
			Role:    "system",
			Content: "Recent conversation context:\n" + req.MemoryContext,
		})
	}
	messages = append(messages, models.Message{Role: "user", Content: req.Prompt})

	calls := make([]dispatch.Call, 0, len(selected))
	for _, id := range selected {
		temperature := 0.7
		if mc, ok := cfg.Models[id]; ok {
			temperature = mc.Temperature
		}
		calls = append(calls, dispatch.Call{
			ModelID:  id,
			Messages: messages,
			Params: models.ModelParameters{
				MaxTokens:   tierCfg.MaxTokensPerRole,
				Temperature: temperature,
			},
		})
	}
	return calls
}

// handleFailure runs the single-model fallback after a total fan-out
// failure. When that also fails the outcome is an error carrying every
// rejected role.
func (o *Orchestrator) handleFailure(ctx context.Context, cfg *config.Config, tierCfg config.TierConfig, req *models.Request, tier models.Tier, class models.PromptClass, complexity models.Complexity, start time.Time, timings map[string]int64, rejected []*models.RoleResponse) *models.EnsembleOutcome {
	log := o.logger.WithField("correlation_id", req.CorrelationID)
	log.WithField("fallback_model", cfg.Routing.FailureFallbackModel).
		Warn("All ensemble models failed, trying single-model fallback")

	stageStart := time.Now()
	calls := o.buildCalls(cfg, tierCfg, req, []string{cfg.Routing.FailureFallbackModel})
	responses := o.dispatcher.Dispatch(ctx, cfg, calls)
	timings["failure_fallback"] = time.Since(stageStart).Milliseconds()
	o.observeCalls(responses)

	if len(responses) == 1 && responses[0].Fulfilled() {
		resp := responses[0]
		resp.Quality = scoring.Score(req.Prompt, resp.Content)

		synth := &models.SynthesisResult{
			Content:          resp.Content,
			ModelID:          resp.ModelID,
			Strategy:         "single-model-fallback",
			Stage:            models.StageFallback,
			QualityScore:     resp.Quality.Composite,
			ProcessingTimeMs: timings["failure_fallback"],
			SourceCount:      1,
		}
		o.persist(ctx, tierCfg, req, synth)

		elapsed := time.Since(start)
		o.metrics.RequestsTotal.WithLabelValues(string(tier), string(models.OutcomeDegraded)).Inc()
		o.aggregate.Observe(elapsed.Milliseconds(), synth.QualityScore, false)

		outcome := &models.EnsembleOutcome{
			Status:    models.OutcomeDegraded,
			Synthesis: synth,
			Metadata: models.OutcomeMetadata{
				TotalProcessingTimeMs: elapsed.Milliseconds(),
				SelectedModels:        []string{cfg.Routing.FailureFallbackModel},
				Strategy:              synth.Strategy,
				ResponseQuality:       synth.QualityScore,
				CorrelationID:         req.CorrelationID,
				Timestamp:             time.Now().UTC(),
				PromptClass:           string(class),
				Complexity:            string(complexity),
				StageTimingsMs:        timings,
			},
		}
		if req.Explain {
			outcome.Roles = append(rejected, resp)
		}
		return outcome
	}

	log.Error("Single-model fallback also failed")
	o.metrics.RequestsTotal.WithLabelValues(string(tier), string(models.OutcomeError)).Inc()
	o.aggregate.Observe(time.Since(start).Milliseconds(), 0, false)
	return o.errorOutcome(req, tier, start, "all models failed", rejected)
}

// validate checks the synthesized answer against the tier's floors. Issues
// degrade the outcome; the answer is never discarded.
func (o *Orchestrator) validate(tierCfg config.TierConfig, prompt string, synth *models.SynthesisResult) []string {
	var issues []string
	if synth.Stage == models.StageFallback {
		return issues
	}

	if scoring.RelevanceRatio(prompt, synth.Content) < minRelevance {
		issues = append(issues, "low relevance to the original prompt")
	}
	if tierCfg.SharedWordLimit > 0 && len(strings.Fields(synth.Content)) > tierCfg.SharedWordLimit {
		issues = append(issues, fmt.Sprintf("answer exceeds the %d word limit", tierCfg.SharedWordLimit))
	}
	if synth.QualityScore < tierCfg.MinQuality {
		issues = append(issues, fmt.Sprintf("quality %.2f below tier target %.2f", synth.QualityScore, tierCfg.MinQuality))
	}
	return issues
}

// downgradeConfidence lowers the reported confidence level of every
// fulfilled response by one step after a validation failure.
func (o *Orchestrator) downgradeConfidence(responses []*models.RoleResponse, vote *models.VotingResult) {
	for _, r := range responses {
		if r.Confidence != nil {
			r.Confidence.Level = r.Confidence.Level.Downgrade()
		}
	}
	if vote != nil && vote.Confidence > 0.15 {
		vote.Confidence -= 0.15
	}
}

// persist stores the exchange in session memory, best effort.
func (o *Orchestrator) persist(ctx context.Context, tierCfg config.TierConfig, req *models.Request, synth *models.SynthesisResult) {
	if req.SessionID == "" {
		return
	}
	err := o.memory.Store(ctx, req.SessionID, memory.Turn{
		Prompt: req.Prompt,
		Answer: synth.Content,
	}, tierCfg.CacheTTL)
	if err != nil {
		o.logger.WithError(err).WithField("session_id", req.SessionID).
			Warn("Failed to persist session turn")
	}
}

// recordFeedback feeds the run's outcomes back into calibration and the
// per-model performance window.
func (o *Orchestrator) recordFeedback(responses []*models.RoleResponse, vote *models.VotingResult, synth *models.SynthesisResult) {
	for _, r := range responses {
		if !r.Fulfilled() || r.Confidence == nil || r.Quality == nil {
			continue
		}
		o.calibrator.Observe(r.ModelID, r.Confidence.Raw, r.ModelID == vote.Winner)
		score := r.Quality.Composite
		if r.ModelID == vote.Winner {
			score = synth.QualityScore
		}
		o.voting.Performance().Add(r.ModelID, score)
	}
}

func (o *Orchestrator) observeCalls(responses []*models.RoleResponse) {
	for _, r := range responses {
		result := "success"
		if !r.Fulfilled() {
			result = "failure"
		}
		served := r.ModelID
		if r.ServedBy != "" {
			served = r.ServedBy
		}
		o.metrics.ModelCallsTotal.WithLabelValues(served, result).Inc()
		o.metrics.ModelCallDuration.WithLabelValues(served).Observe(float64(r.ResponseTimeMs) / 1000)
	}
}

func (o *Orchestrator) updateBreakerGauges() {
	for model, stats := range o.registry.Breakers().AllStats() {
		open := 0.0
		if stats.State == llm.CircuitOpen {
			open = 1
		}
		o.metrics.BreakerState.WithLabelValues(model).Set(open)
	}
}

func (o *Orchestrator) errorOutcome(req *models.Request, tier models.Tier, start time.Time, message string, roles []*models.RoleResponse) *models.EnsembleOutcome {
	outcome := &models.EnsembleOutcome{
		Status:  models.OutcomeError,
		Message: message,
		Metadata: models.OutcomeMetadata{
			TotalProcessingTimeMs: time.Since(start).Milliseconds(),
			ResponseQuality:       synthesis.FallbackQuality,
			CorrelationID:         req.CorrelationID,
			Timestamp:             time.Now().UTC(),
		},
	}
	if req.Explain {
		outcome.Roles = roles
	}
	return outcome
}

// Shutdown stops background work owned by the pipeline.
func (o *Orchestrator) Shutdown() {
	o.tracker.Shutdown()
}

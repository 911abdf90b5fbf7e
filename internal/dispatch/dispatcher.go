// Package dispatch fans a prompt out to the selected models in parallel and
// joins the results in input order.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/models"
	"dev.helix.ensemble/internal/reliability"
)

// Dispatcher runs the parallel model fan-out. Concurrency is bounded by the
// ensemble-wide semaphore; each call carries its own deadline derived from
// the model timeout and the remaining overall budget.
type Dispatcher struct {
	registry *llm.Registry
	tracker  *reliability.Tracker
	sem      *semaphore.Weighted
	logger   *logrus.Logger
}

// New creates a dispatcher with the given call-concurrency bound.
func New(registry *llm.Registry, tracker *reliability.Tracker, maxConcurrent int, logger *logrus.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Dispatcher{
		registry: registry,
		tracker:  tracker,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		logger:   logger,
	}
}

// Call describes one slot of the fan-out.
type Call struct {
	ModelID  string
	Messages []models.Message
	Params   models.ModelParameters
}

// Dispatch runs every call concurrently and returns one RoleResponse per
// call, in input order. A failed call may be retried once on the model's
// alternate family; the response keeps the original model ID as its role
// label, with ServedBy naming the model that actually answered. Reliability
// events are recorded in input order after all slots have joined.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg *config.Config, calls []Call) []*models.RoleResponse {
	deadline, hasDeadline := ctx.Deadline()

	responses := make([]*models.RoleResponse, len(calls))
	events := make([]providerEvent, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(slot int, call Call) {
			defer wg.Done()
			responses[slot], events[slot] = d.run(ctx, cfg, call, deadline, hasDeadline)
		}(i, call)
	}
	wg.Wait()

	for _, ev := range events {
		if ev.provider != "" {
			d.tracker.Record(ev.provider, ev.event)
		}
		if ev.altProvider != "" {
			d.tracker.Record(ev.altProvider, ev.altEvent)
		}
	}
	return responses
}

type providerEvent struct {
	provider string
	event    reliability.Event

	// Filled when the alternate-family fallback also ran.
	altProvider string
	altEvent    reliability.Event
}

func (d *Dispatcher) run(ctx context.Context, cfg *config.Config, call Call, deadline time.Time, hasDeadline bool) (*models.RoleResponse, providerEvent) {
	var ev providerEvent

	resp, provider, primaryEv := d.callModel(ctx, cfg, call.ModelID, call, deadline, hasDeadline)
	ev.provider = provider
	ev.event = primaryEv

	if resp.Fulfilled() {
		return resp, ev
	}

	altID, ok := d.alternateFor(cfg, call.ModelID)
	if !ok {
		return resp, ev
	}

	if d.logger != nil {
		d.logger.WithFields(logrus.Fields{
			"model":     call.ModelID,
			"alternate": altID,
		}).Info("Primary model failed, trying alternate family")
	}

	altResp, altProvider, altEv := d.callModel(ctx, cfg, altID, call, deadline, hasDeadline)
	ev.altProvider = altProvider
	ev.altEvent = altEv

	if altResp.Fulfilled() {
		// Keep the original slot identity so voting and transparency refer
		// to the selected role.
		altResp.ModelID = call.ModelID
		altResp.ServedBy = altID
		return altResp, ev
	}
	return resp, ev
}

// callModel runs one provider call with its derived deadline and builds the
// response plus the reliability event.
func (d *Dispatcher) callModel(ctx context.Context, cfg *config.Config, modelID string, call Call, deadline time.Time, hasDeadline bool) (*models.RoleResponse, string, reliability.Event) {
	mc, configured := cfg.Models[modelID]
	client, registered := d.registry.Get(modelID)
	if !configured || !registered {
		return &models.RoleResponse{
			ModelID: call.ModelID,
			Status:  models.StatusRejected,
			Error:   "model not available: " + modelID,
		}, "", reliability.Event{}
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return &models.RoleResponse{
			ModelID: call.ModelID,
			Status:  models.StatusRejected,
			Error:   llm.NewProviderError(llm.KindTimeout, mc.Provider, modelID, err).Error(),
		}, "", reliability.Event{}
	}
	defer d.sem.Release(1)

	callCtx := ctx
	timeout := mc.Timeout
	if hasDeadline {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := client.Call(callCtx, call.Messages, call.Params)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if d.logger != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"model": modelID,
				"kind":  llm.KindOf(err),
			}).Warn("Model call failed")
		}
		resp := &models.RoleResponse{
			ModelID:        call.ModelID,
			Status:         models.StatusRejected,
			ResponseTimeMs: elapsed,
			Error:          err.Error(),
		}
		// A breaker fast-fail made no provider call, so it is no new
		// evidence against the provider's uptime.
		if llm.KindOf(err) == llm.KindCircuitOpen {
			return resp, "", reliability.Event{}
		}
		return resp, mc.Provider, reliability.Event{
			Success:   false,
			LatencyMs: elapsed,
			ModelID:   modelID,
		}
	}

	cost := float64(completion.Usage.InputTokens)/1000*mc.InputCostPer1K +
		float64(completion.Usage.OutputTokens)/1000*mc.OutputCostPer1K

	return &models.RoleResponse{
			ModelID:        call.ModelID,
			Status:         models.StatusFulfilled,
			Content:        completion.Content,
			Usage:          completion.Usage,
			ResponseTimeMs: elapsed,
		}, mc.Provider, reliability.Event{
			Success:      true,
			LatencyMs:    elapsed,
			ModelID:      modelID,
			InputTokens:  completion.Usage.InputTokens,
			OutputTokens: completion.Usage.OutputTokens,
			Cost:         cost,
		}
}

// alternateFor resolves the configured alternate family for a model and
// returns a usable model ID from that family.
func (d *Dispatcher) alternateFor(cfg *config.Config, modelID string) (string, bool) {
	mc, ok := cfg.Models[modelID]
	if !ok {
		return "", false
	}
	altFamily, ok := cfg.Routing.AlternateFamilies[mc.Family]
	if !ok {
		return "", false
	}
	for _, id := range d.registry.ByFamily(altFamily) {
		if d.registry.Breakers().IsOpen(id) {
			continue
		}
		return id, true
	}
	return "", false
}

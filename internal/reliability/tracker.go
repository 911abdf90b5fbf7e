// Package reliability tracks per-provider call outcomes over a trailing
// 24 hour window and derives the dynamic voting weight combining calibrated
// confidence, inverse cost and uptime.
package reliability

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxHistory bounds the per-provider event buffer regardless of age.
const MaxHistory = 2048

// Window is the trailing period over which statistics are computed.
const Window = 24 * time.Hour

// Event is one recorded provider call.
type Event struct {
	Timestamp    time.Time
	Success      bool
	LatencyMs    int64
	ModelID      string
	InputTokens  int
	OutputTokens int
	// Cost is the dollar cost of the call, computed by the caller from the
	// model's per-1k rates.
	Cost float64
}

// providerHistory is the append-only ring for one provider. Ingest appends;
// cleanup purges entries older than the window.
type providerHistory struct {
	mu     sync.Mutex
	events []Event
}

func (h *providerHistory) append(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	if len(h.events) > MaxHistory {
		h.events = h.events[len(h.events)-MaxHistory:]
	}
}

func (h *providerHistory) compact(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := 0
	for idx < len(h.events) && h.events[idx].Timestamp.Before(cutoff) {
		idx++
	}
	dropped := idx
	if idx > 0 {
		h.events = append([]Event(nil), h.events[idx:]...)
	}
	return dropped
}

// snapshot returns the events inside the window.
func (h *providerHistory) snapshot(cutoff time.Time) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, 0, len(h.events))
	for _, ev := range h.events {
		if !ev.Timestamp.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// Tracker is the process-wide reliability store. Writes are serialized per
// provider; derived statistics are recomputed on read.
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]*providerHistory
	logger    *logrus.Logger
	now       func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewTracker creates an empty tracker.
func NewTracker(logger *logrus.Logger) *Tracker {
	return &Tracker{
		providers: make(map[string]*providerHistory),
		logger:    logger,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

func (t *Tracker) history(provider string) *providerHistory {
	t.mu.RLock()
	h, ok := t.providers[provider]
	t.mu.RUnlock()
	if ok {
		return h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok = t.providers[provider]; ok {
		return h
	}
	h = &providerHistory{}
	t.providers[provider] = h
	return h
}

// Record ingests one call outcome for a provider.
func (t *Tracker) Record(provider string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.now()
	}
	t.history(provider).append(ev)
}

// Uptime24h returns successes/events over the trailing window, 1.0 when the
// provider has no events.
func (t *Tracker) Uptime24h(provider string) float64 {
	t.mu.RLock()
	h, ok := t.providers[provider]
	t.mu.RUnlock()
	if !ok {
		return 1.0
	}

	events := h.snapshot(t.now().Add(-Window))
	if len(events) == 0 {
		return 1.0
	}
	successes := 0
	for _, ev := range events {
		if ev.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(events))
}

// AvgCostPer1KOutput returns Σcost / Σoutput_tokens × 1000 over the window,
// 0 when no output tokens were recorded.
func (t *Tracker) AvgCostPer1KOutput(provider string) float64 {
	t.mu.RLock()
	h, ok := t.providers[provider]
	t.mu.RUnlock()
	if !ok {
		return 0
	}

	events := h.snapshot(t.now().Add(-Window))
	totalCost := 0.0
	totalOut := 0
	for _, ev := range events {
		totalCost += ev.Cost
		totalOut += ev.OutputTokens
	}
	if totalOut == 0 {
		return 0
	}
	return totalCost / float64(totalOut) * 1000
}

// DynamicWeight computes the provider's multiplicative voting weight for a
// given calibrated confidence: w = c × (1/avg_cost_per_1k_out) × uptime_24h.
// Unknown providers and providers without cost data return 1.0 scaled by
// confidence and uptime only.
func (t *Tracker) DynamicWeight(provider string, calibrated float64) float64 {
	t.mu.RLock()
	_, known := t.providers[provider]
	t.mu.RUnlock()
	if !known {
		return 1.0
	}

	costFactor := 1.0
	if avg := t.AvgCostPer1KOutput(provider); avg > 0 {
		costFactor = 1.0 / avg
	}
	return calibrated * costFactor * t.Uptime24h(provider)
}

// ProviderHealth is the derived health view for one provider.
type ProviderHealth struct {
	Provider        string  `json:"provider"`
	Uptime24h       float64 `json:"uptime_24h"`
	AvgCostPer1KOut float64 `json:"avg_cost_per_1k_output"`
	EventCount      int     `json:"event_count"`
	AvgLatencyMs    int64   `json:"avg_latency_ms"`
}

// HealthReport returns the health view for all known providers.
func (t *Tracker) HealthReport() map[string]ProviderHealth {
	t.mu.RLock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	t.mu.RUnlock()

	cutoff := t.now().Add(-Window)
	report := make(map[string]ProviderHealth, len(names))
	for _, name := range names {
		events := t.history(name).snapshot(cutoff)
		var totalLatency int64
		for _, ev := range events {
			totalLatency += ev.LatencyMs
		}
		var avgLatency int64
		if len(events) > 0 {
			avgLatency = totalLatency / int64(len(events))
		}
		report[name] = ProviderHealth{
			Provider:        name,
			Uptime24h:       t.Uptime24h(name),
			AvgCostPer1KOut: t.AvgCostPer1KOutput(name),
			EventCount:      len(events),
			AvgLatencyMs:    avgLatency,
		}
	}
	return report
}

// Start runs the hourly compaction loop until ctx is cancelled or Shutdown
// is called.
func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.Compact()
		}
	}
}

// Compact drops events older than the window from every provider.
func (t *Tracker) Compact() {
	t.mu.RLock()
	histories := make(map[string]*providerHistory, len(t.providers))
	for name, h := range t.providers {
		histories[name] = h
	}
	t.mu.RUnlock()

	cutoff := t.now().Add(-Window)
	dropped := 0
	for _, h := range histories {
		dropped += h.compact(cutoff)
	}
	if dropped > 0 && t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"dropped":   dropped,
			"providers": len(histories),
		}).Debug("Reliability history compacted")
	}
}

// Shutdown stops the compaction loop.
func (t *Tracker) Shutdown() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

package reliability

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/metrics"
)

// degradedUptime is the trailing uptime below which a provider is reported
// as degraded.
const degradedUptime = 0.9

// Monitor periodically publishes provider health and breaker state. It also
// subscribes to breaker transitions so open/close events reach the log and
// the gauge without waiting for the next tick.
type Monitor struct {
	tracker    *Tracker
	breakers   *llm.BreakerSet
	collectors *metrics.Set
	interval   time.Duration
	logger     *logrus.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMonitor creates a monitor. A non-positive interval falls back to 30s.
func NewMonitor(tracker *Tracker, breakers *llm.BreakerSet, collectors *metrics.Set, interval time.Duration, logger *logrus.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		tracker:    tracker,
		breakers:   breakers,
		collectors: collectors,
		interval:   interval,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// WatchBreakers subscribes to state transitions for the given models.
func (m *Monitor) WatchBreakers(modelIDs []string) {
	for _, id := range modelIDs {
		m.breakers.Get(id).AddListener(m.onTransition)
	}
}

func (m *Monitor) onTransition(modelID string, oldState, newState llm.CircuitState) {
	m.collectors.BreakerState.WithLabelValues(modelID).Set(breakerGauge(newState))

	entry := m.logger.WithFields(logrus.Fields{
		"model": modelID,
		"from":  string(oldState),
		"to":    string(newState),
	})
	if newState == llm.CircuitOpen {
		entry.Warn("Circuit breaker opened")
		return
	}
	entry.Info("Circuit breaker state changed")
}

// Start runs the periodic health check until ctx is cancelled or Shutdown is
// called.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check publishes one health snapshot: breaker gauges for every known model
// and a per-provider warning for anyone below the uptime floor.
func (m *Monitor) Check() {
	for model, stats := range m.breakers.AllStats() {
		m.collectors.BreakerState.WithLabelValues(model).Set(breakerGauge(stats.State))
	}

	report := m.tracker.HealthReport()
	degraded := 0
	for name, health := range report {
		if health.Uptime24h >= degradedUptime {
			continue
		}
		degraded++
		m.logger.WithFields(logrus.Fields{
			"provider":       name,
			"uptime_24h":     health.Uptime24h,
			"avg_latency_ms": health.AvgLatencyMs,
			"events":         health.EventCount,
		}).Warn("Provider degraded")
	}

	m.logger.WithFields(logrus.Fields{
		"providers": len(report),
		"degraded":  degraded,
	}).Debug("Provider health check")
}

// Shutdown stops the periodic loop.
func (m *Monitor) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func breakerGauge(state llm.CircuitState) float64 {
	if state == llm.CircuitOpen {
		return 1
	}
	return 0
}

// Package metrics exposes Prometheus collectors for the ensemble pipeline
// plus an in-process rolling aggregate for health reporting.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the pipeline collectors.
type Set struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	StageDuration     *prometheus.HistogramVec
	ModelCallsTotal   *prometheus.CounterVec
	ModelCallDuration *prometheus.HistogramVec
	VotingConsensus   *prometheus.CounterVec
	TieBreaksTotal    prometheus.Counter
	SynthesisQuality  prometheus.Histogram
	BreakerState      *prometheus.GaugeVec
}

var (
	registerOnce sync.Once
	shared       *Set
)

// Collectors returns the process-wide collector set, registering it on first
// use.
func Collectors() *Set {
	registerOnce.Do(func() {
		shared = &Set{
			RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ensemble_requests_total",
				Help: "Ensemble requests by tier and outcome status.",
			}, []string{"tier", "status"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ensemble_request_duration_seconds",
				Help:    "End to end request latency.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			}, []string{"tier"}),
			StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ensemble_stage_duration_seconds",
				Help:    "Per-stage pipeline latency.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			}, []string{"stage"}),
			ModelCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ensemble_model_calls_total",
				Help: "Provider calls by model and result.",
			}, []string{"model", "result"}),
			ModelCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ensemble_model_call_duration_seconds",
				Help:    "Provider call latency by model.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			}, []string{"model"}),
			VotingConsensus: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ensemble_voting_consensus_total",
				Help: "Voting rounds by consensus grade.",
			}, []string{"grade"}),
			TieBreaksTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ensemble_tie_breaks_total",
				Help: "Near-ties escalated to the meta-voter.",
			}),
			SynthesisQuality: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "ensemble_synthesis_quality",
				Help:    "Quality score of synthesized answers.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			}),
			BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ensemble_breaker_open",
				Help: "1 when the model's circuit breaker is open.",
			}, []string{"model"}),
		}
	})
	return shared
}

// aggregateWindow bounds the rolling health aggregate.
const aggregateWindow = 256

// Aggregator keeps a bounded window of recent request outcomes for the
// health endpoint. Prometheus remains the primary metrics surface.
type Aggregator struct {
	mu        sync.Mutex
	latencies []int64
	qualities []float64
	successes []bool
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Observe records one completed request.
func (a *Aggregator) Observe(latencyMs int64, quality float64, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latencies = appendBounded(a.latencies, latencyMs)
	a.qualities = appendBounded(a.qualities, quality)
	a.successes = appendBounded(a.successes, success)
}

// Summary is the rolling health view.
type Summary struct {
	Requests     int     `json:"requests"`
	SuccessRate  float64 `json:"success_rate"`
	LatencyP50Ms int64   `json:"latency_p50_ms"`
	LatencyP95Ms int64   `json:"latency_p95_ms"`
	MeanQuality  float64 `json:"mean_quality"`
}

// Snapshot computes the current rolling summary.
func (a *Aggregator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{Requests: len(a.successes)}
	if s.Requests == 0 {
		return s
	}

	ok := 0
	for _, success := range a.successes {
		if success {
			ok++
		}
	}
	s.SuccessRate = float64(ok) / float64(len(a.successes))

	sorted := append([]int64(nil), a.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	s.LatencyP50Ms = percentile(sorted, 0.50)
	s.LatencyP95Ms = percentile(sorted, 0.95)

	sum := 0.0
	for _, q := range a.qualities {
		sum += q
	}
	s.MeanQuality = sum / float64(len(a.qualities))
	return s
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func appendBounded[T any](log []T, v T) []T {
	log = append(log, v)
	if len(log) > aggregateWindow {
		log = log[len(log)-aggregateWindow:]
	}
	return log
}

// Package calibration remaps raw model confidence onto observed accuracy
// and derives semantic confidence from reference similarity, grammar quality
// and latency.
package calibration

import (
	"math"
	"sync"
)

// minSamples is the observation count below which raw confidence passes
// through unchanged.
const minSamples = 10

// maxSamples bounds the per-model observation log.
const maxSamples = 500

type sample struct {
	predicted float64
	outcome   float64
}

// Calibrator stores per-model (predicted, outcome) pairs and fits a
// monotonic non-decreasing map from raw to calibrated confidence. A linear
// regression with the slope clamped non-negative approximates the isotonic
// fit.
type Calibrator struct {
	mu      sync.Mutex
	history map[string][]sample
}

// NewCalibrator creates an empty calibrator.
func NewCalibrator() *Calibrator {
	return &Calibrator{history: make(map[string][]sample)}
}

// Observe records one prediction and its binary outcome for a model.
func (c *Calibrator) Observe(modelID string, predicted float64, correct bool) {
	outcome := 0.0
	if correct {
		outcome = 1.0
	}
	predicted = clamp01(predicted)

	c.mu.Lock()
	defer c.mu.Unlock()
	log := append(c.history[modelID], sample{predicted: predicted, outcome: outcome})
	if len(log) > maxSamples {
		log = log[len(log)-maxSamples:]
	}
	c.history[modelID] = log
}

// SampleCount returns how many observations a model has.
func (c *Calibrator) SampleCount(modelID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history[modelID])
}

// Calibrate maps raw confidence to calibrated confidence for a model. With
// fewer than minSamples observations the raw value passes through.
func (c *Calibrator) Calibrate(modelID string, raw float64) float64 {
	raw = clamp01(raw)

	c.mu.Lock()
	log := c.history[modelID]
	var samples []sample
	if len(log) >= minSamples {
		samples = append([]sample(nil), log...)
	}
	c.mu.Unlock()

	if samples == nil {
		return raw
	}

	slope, intercept := linearFit(samples)
	if slope < 0 {
		// A negative slope would break monotonicity; fall back to the mean
		// observed accuracy.
		slope = 0
		sum := 0.0
		for _, s := range samples {
			sum += s.outcome
		}
		intercept = sum / float64(len(samples))
	}
	return clamp01(slope*raw + intercept)
}

// linearFit returns the least-squares slope and intercept over the samples.
func linearFit(samples []sample) (slope, intercept float64) {
	n := float64(len(samples))
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		sumX += s.predicted
		sumY += s.outcome
		sumXY += s.predicted * s.outcome
		sumXX += s.predicted * s.predicted
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// LatencyFactor rewards fast responses: max(0, 1 − (log2(latency_ms) − 8)/6),
// clamped to [0,1]. 256 ms or faster scores 1.0.
func LatencyFactor(latencyMs int64) float64 {
	if latencyMs <= 0 {
		return 1.0
	}
	return clamp01(1.0 - (math.Log2(float64(latencyMs))-8.0)/6.0)
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

package voting

import "sync"

// windowSize bounds the per-model outcome log.
const windowSize = 50

// PerformanceWindow keeps the last windowSize outcome scores per model. The
// orchestrator records an outcome after each synthesis; the voting engine
// reads the mean as the historical factor.
type PerformanceWindow struct {
	mu      sync.RWMutex
	samples map[string][]float64
}

// NewPerformanceWindow creates an empty window.
func NewPerformanceWindow() *PerformanceWindow {
	return &PerformanceWindow{samples: make(map[string][]float64)}
}

// Add records one outcome score for a model, evicting the oldest entry once
// the window is full.
func (p *PerformanceWindow) Add(modelID string, score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	log := append(p.samples[modelID], score)
	if len(log) > windowSize {
		log = log[len(log)-windowSize:]
	}
	p.samples[modelID] = log
}

// Mean returns the average recorded score and whether any samples exist.
func (p *PerformanceWindow) Mean(modelID string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	log := p.samples[modelID]
	if len(log) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, s := range log {
		sum += s
	}
	return sum / float64(len(log)), true
}

// Count returns how many samples a model has.
func (p *PerformanceWindow) Count(modelID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.samples[modelID])
}

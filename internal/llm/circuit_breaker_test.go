package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test-model", BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		Cooldown:         30 * time.Second,
	})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := testBreaker(t)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestBreakerFailureWindowResetsCount(t *testing.T) {
	cb, now := testBreaker(t)

	cb.RecordFailure()
	cb.RecordFailure()

	// The next failure lands outside the window, so the streak restarts.
	*now = now.Add(2 * time.Minute)
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 1, cb.Failures())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	cb, _ := testBreaker(t)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Failures())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb, now := testBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	// After the cooldown a single probe is admitted.
	*now = now.Add(31 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe may be in flight")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, now := testBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	*now = now.Add(31 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestBreakerForceOpen(t *testing.T) {
	cb, _ := testBreaker(t)

	cb.ForceOpen()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.True(t, cb.IsOpen())
}

func TestBreakerSet(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig())

	a := set.Get("model-a")
	assert.Same(t, a, set.Get("model-a"))
	assert.False(t, set.IsOpen("model-a"))

	a.ForceOpen()
	assert.True(t, set.IsOpen("model-a"))
	assert.False(t, set.IsOpen("model-b"))

	stats := set.AllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, CircuitOpen, stats["model-a"].State)
	assert.Equal(t, CircuitClosed, stats["model-b"].State)
}

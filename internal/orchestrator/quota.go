package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// quotaLedger tracks per-user request timestamps over sliding hour and day
// windows. Entries older than a day are dropped on access.
type quotaLedger struct {
	mu     sync.Mutex
	byUser map[string][]time.Time
	now    func() time.Time
}

func newQuotaLedger() *quotaLedger {
	return &quotaLedger{
		byUser: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Admit records the request when both windows have room. A zero limit
// disables that window.
func (q *quotaLedger) Admit(userID string, perHour, perDay int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	events := q.byUser[userID]

	dayCutoff := now.Add(-24 * time.Hour)
	idx := 0
	for idx < len(events) && events[idx].Before(dayCutoff) {
		idx++
	}
	events = events[idx:]
	q.byUser[userID] = events

	if perDay > 0 && len(events) >= perDay {
		return fmt.Errorf("rate_limited: daily request quota of %d reached", perDay)
	}
	if perHour > 0 {
		hourCutoff := now.Add(-time.Hour)
		recent := 0
		for i := len(events) - 1; i >= 0 && !events[i].Before(hourCutoff); i-- {
			recent++
		}
		if recent >= perHour {
			return fmt.Errorf("rate_limited: hourly request quota of %d reached", perHour)
		}
	}

	q.byUser[userID] = append(events, now)
	return nil
}

package receipt

import (
	"context"
	"sync"
	"time"
)

// DailyQuota limits scans per scope per calendar day. It keeps counts in
// memory, so a restart resets them.
type DailyQuota struct {
	limit      int
	timeSource TimeSource

	mu     sync.Mutex
	day    string
	counts map[string]int
}

// NewDailyQuota allows limit scans per scope per day; 0 means unlimited.
func NewDailyQuota(limit int, timeSource TimeSource) *DailyQuota {
	if timeSource == nil {
		timeSource = &defaultTimeSource{}
	}
	return &DailyQuota{
		limit:      limit,
		timeSource: timeSource,
		counts:     make(map[string]int),
	}
}

// CanProceed records a scan and reports whether it is within the quota.
func (q *DailyQuota) CanProceed(_ context.Context, scope string) bool {
	if q.limit <= 0 {
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover()
	if q.counts[scope] >= q.limit {
		return false
	}
	q.counts[scope]++
	return true
}

// Remaining returns how many scans scope has left today, or -1 when
// unlimited.
func (q *DailyQuota) Remaining(scope string) int {
	if q.limit <= 0 {
		return -1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover()
	return q.limit - q.counts[scope]
}

func (q *DailyQuota) rollover() {
	today := q.timeSource.Now().Format(time.DateOnly)
	if today != q.day {
		q.day = today
		q.counts = make(map[string]int)
	}
}

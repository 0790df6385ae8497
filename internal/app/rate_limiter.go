package app

import (
	"sync"
	"time"

	"github.com/dkeye/collabhub/internal/domain"
)

// OperationRateLimiter is a sliding-window limiter of operations per identity.
type OperationRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
}

func NewOperationRateLimiter(limit int, interval time.Duration) *OperationRateLimiter {
	return &OperationRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *OperationRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	rl.history[uid] = append(fresh, now)
	return true
}

// Prune forgets identities with no attempt inside the window.
func (rl *OperationRateLimiter) Prune(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	windowStart := now.Add(-rl.interval)
	for uid, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, uid)
		}
	}
}

func (rl *OperationRateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.history)
}

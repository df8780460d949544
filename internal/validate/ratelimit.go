// internal/validate/ratelimit.go
package validate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LimitClass separates the per-user budgets for joins, game actions and
// general messages.
type LimitClass string

const (
	LimitJoin    LimitClass = "join"
	LimitAction  LimitClass = "action"
	LimitMessage LimitClass = "message"
)

// Per-minute budgets. Counters live in process memory only: they are a
// defense-in-depth control, not correctness-critical state, so losing them
// on restart (or under-counting across multiple instances) is accepted.
var defaultBudgets = map[LimitClass]int{
	LimitJoin:    10,
	LimitAction:  60,
	LimitMessage: 120,
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter enforces fixed per-minute windows keyed by (user, class).
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	budgets map[LimitClass]int
	period  time.Duration
	now     func() time.Time
}

// NewRateLimiter builds a limiter with the default budgets. One instance
// per process.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		budgets: defaultBudgets,
		period:  time.Minute,
		now:     time.Now,
	}
}

// Allow consumes one unit of the user's budget for the class. It returns
// false once the budget for the current window is exhausted.
func (l *RateLimiter) Allow(userID uuid.UUID, class LimitClass) bool {
	budget, ok := l.budgets[class]
	if !ok {
		return false
	}
	key := userID.String() + ":" + string(class)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &rateWindow{count: 1, resetAt: now.Add(l.period)}
		return true
	}
	if w.count >= budget {
		return false
	}
	w.count++
	return true
}

// Purge drops every window whose reset time has passed. Called lazily on a
// timer rather than on each request.
func (l *RateLimiter) Purge() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// StartPurgeLoop purges expired windows on the given interval until the
// context is cancelled.
func (l *RateLimiter) StartPurgeLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Purge()
			}
		}
	}()
}

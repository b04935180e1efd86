// Package quota enforces a per-user fixed-window request budget on the
// expensive ingestion path. Windows are aligned to wall-clock multiples of
// the window size, so every user's counter resets at the same instants.
package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/metrics"
)

const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 10
)

type ExceededError struct {
	UserID     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("ingest quota exceeded for user %s, retry in %s", e.UserID, e.RetryAfter.Round(time.Second))
}

func IsExceeded(err error) bool {
	var exceeded *ExceededError
	return errors.As(err, &exceeded)
}

type windowCount struct {
	windowStart time.Time
	count       int
}

type Guard struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu    sync.Mutex
	users map[string]*windowCount
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGuard(window time.Duration, max int, opts ...Option) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxRequests
	}
	g := &Guard{window: window, max: max, now: time.Now, users: make(map[string]*windowCount)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check consumes one unit of the user's budget for the current window.
// Crossing into a new window resets the counter before counting.
func (g *Guard) Check(userID string) error {
	now := g.now()
	windowStart := now.Truncate(g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.users[userID]
	if !ok || entry.windowStart.Before(windowStart) {
		g.users[userID] = &windowCount{windowStart: windowStart, count: 1}
		return nil
	}

	if entry.count >= g.max {
		metrics.QuotaRejectionsTotal.Inc()
		return &ExceededError{
			UserID:     userID,
			RetryAfter: windowStart.Add(g.window).Sub(now),
		}
	}
	entry.count++
	return nil
}

// Remaining reports the budget left in the user's current window.
func (g *Guard) Remaining(userID string) int {
	now := g.now()
	windowStart := now.Truncate(g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.users[userID]
	if !ok || entry.windowStart.Before(windowStart) {
		return g.max
	}
	remaining := g.max - entry.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

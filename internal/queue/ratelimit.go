package queue

import (
	"sync"
	"time"
)

// rateLimiter admits at most max events per fixed window.
type rateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	start  time.Time
	count  int
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	if max <= 0 || window <= 0 {
		return nil
	}
	return &rateLimiter{window: window, max: max}
}

// reserve takes a slot if one is free and otherwise reports how long until the
// current window ends.
func (l *rateLimiter) reserve(now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.start.IsZero() || now.Sub(l.start) >= l.window {
		l.start = now
		l.count = 0
	}
	if l.count >= l.max {
		return false, l.window - now.Sub(l.start)
	}
	l.count++
	return true, 0
}

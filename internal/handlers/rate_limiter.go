package handlers

import (
	"strings"
	"sync"
	"time"
)

const (
	defaultOTPAttemptLimit  = 10
	defaultOTPAttemptWindow = 15 * time.Minute
)

// attemptLimiter throttles guesses against one key, such as delivery OTP submissions per order.
type attemptLimiter interface {
	// Allow records an attempt and reports whether it may proceed. When it may not, the
	// returned duration is the time until the window resets.
	Allow(key string) (bool, time.Duration)
}

type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]attemptWindow
}

type attemptWindow struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) attemptLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]attemptWindow),
	}
}

func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		l.windows[key] = attemptWindow{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true, 0
	}
	if current.count >= l.limit {
		return false, current.reset.Sub(now)
	}
	current.count++
	l.windows[key] = current
	return true, 0
}

func (l *windowLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}

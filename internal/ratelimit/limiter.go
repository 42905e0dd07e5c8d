// Package ratelimit provides sliding-window admission control for outbound
// calls to the reasoning backend.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the trailing window over which calls are counted.
	DefaultWindow = 60 * time.Second

	// DefaultCap is the number of calls admitted per window.
	DefaultCap = 45
)

// Limiter keeps, per caller, the timestamps of calls made within the trailing
// window. Callers never share a window and there is no global limit.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter admitting at most limit calls per window for each caller.
// Non-positive values fall back to DefaultCap and DefaultWindow.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultCap
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether caller is under its limit. It discards expired entries
// but does not count a call; pair it with Record.
func (l *Limiter) Allow(caller string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(caller, l.now())) < l.limit
}

// Record counts one call for caller at the current time.
func (l *Limiter) Record(caller string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[caller] = append(l.calls[caller], l.now())
}

// Reserve atomically checks the limit and records the call if admitted.
func (l *Limiter) Reserve(caller string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.prune(caller, now)) >= l.limit {
		return false
	}
	l.calls[caller] = append(l.calls[caller], now)
	return true
}

// Remaining returns how many more calls caller may make in the current window.
func (l *Limiter) Remaining(caller string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit - len(l.prune(caller, l.now()))
}

// RetryAfter returns how long caller must wait before a call would be admitted.
func (l *Limiter) RetryAfter(caller string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	calls := l.prune(caller, now)
	if len(calls) < l.limit {
		return 0
	}
	// The oldest call that must expire to free a slot.
	oldest := calls[len(calls)-l.limit]
	return oldest.Add(l.window).Sub(now)
}

// prune drops entries that are a full window old or older. Must be called with mu held.
func (l *Limiter) prune(caller string, now time.Time) []time.Time {
	calls := l.calls[caller]
	i := 0
	for i < len(calls) && now.Sub(calls[i]) >= l.window {
		i++
	}
	if i > 0 {
		calls = append(calls[:0], calls[i:]...)
		l.calls[caller] = calls
	}
	if len(calls) == 0 {
		delete(l.calls, caller)
	}
	return calls
}

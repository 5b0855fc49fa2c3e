package policy

import (
	"sync"
	"time"
)

// Decision is the result of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Err returns a *RateLimitError for rejected decisions and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RateLimitError{Limit: d.Limit, RetryAfter: d.RetryAfter}
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window attempt counter keyed by caller identity.
// Counters live only in memory and expire with their window.
type Limiter struct {
	name   string
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*window
}

// LimiterOption customises a Limiter.
type LimiterOption func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// WithName labels the limiter in logs and metrics.
func WithName(name string) LimiterOption {
	return func(l *Limiter) { l.name = name }
}

// NewLimiter allows at most limit attempts per key in each window.
func NewLimiter(limit int, span time.Duration, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  span,
		now:     time.Now,
		entries: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the limiter label.
func (l *Limiter) Name() string {
	return l.name
}

// Limit returns the number of attempts allowed per window.
func (l *Limiter) Limit() int {
	return l.limit
}

// Allow counts one attempt for key and reports whether it is within the limit.
// Counting and checking happen under one lock, so concurrent attempts from the
// same key can never exceed the limit together.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.entries[key]
	if !ok || !now.Before(w.start.Add(l.window)) {
		w = &window{start: now}
		l.entries[key] = w
	}

	resetAt := w.start.Add(l.window)
	if w.count >= l.limit {
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	w.count++
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - w.count,
		ResetAt:   resetAt,
	}
}

// Sweep drops windows that ended before now and returns how many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.entries {
		if !now.Before(w.start.Add(l.window)) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Message returns a human-readable wait estimate for a denied decision.
func (d Decision) Message() string {
	if d.Allowed {
		return ""
	}
	wait := d.RetryAfter.Round(time.Second)
	if wait < time.Second {
		wait = time.Second
	}
	return fmt.Sprintf("rate limit of %d requests exceeded, retry in %s", d.Limit, wait)
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter enforces a fixed-size admission window per client key. State is
// in-memory only; it throttles but never authorizes, so losing it on
// restart is acceptable.
type Limiter struct {
	capacity int
	length   time.Duration

	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time
}

func NewLimiter(capacity int, length time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 10
	}
	if length <= 0 {
		length = time.Hour
	}
	return &Limiter{
		capacity: capacity,
		length:   length,
		windows:  make(map[string]*window),
		now:      time.Now,
	}
}

// Check admits or denies one request for the key. The first request for a
// key, or the first after the window expired, opens a fresh window.
func (l *Limiter) Check(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(l.length)}
		l.windows[key] = w
		return Decision{
			Allowed:   true,
			Limit:     l.capacity,
			Remaining: l.capacity - 1,
			ResetAt:   w.resetAt,
		}
	}

	if w.count >= l.capacity {
		return Decision{
			Allowed:    false,
			Limit:      l.capacity,
			Remaining:  0,
			ResetAt:    w.resetAt,
			RetryAfter: w.resetAt.Sub(now),
		}
	}

	w.count++
	return Decision{
		Allowed:   true,
		Limit:     l.capacity,
		Remaining: l.capacity - w.count,
		ResetAt:   w.resetAt,
	}
}

// Peek reports what Check would decide without consuming quota. Used to
// surface quota headers before the actual admission happens downstream.
func (l *Limiter) Peek(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		return Decision{
			Allowed:   true,
			Limit:     l.capacity,
			Remaining: l.capacity,
			ResetAt:   now.Add(l.length),
		}
	}

	remaining := l.capacity - w.count
	if remaining < 0 {
		remaining = 0
	}
	decision := Decision{
		Allowed:   remaining > 0,
		Limit:     l.capacity,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = w.resetAt.Sub(now)
	}
	return decision
}

// Sweep drops expired windows so the key map stays bounded.
func (l *Limiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// StartSweeper runs Sweep on an interval until stop is closed.
func (l *Limiter) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

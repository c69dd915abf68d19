// Package ratelimit provides per-identifier sliding-window admission control.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks, per identifier, the timestamps of recently allowed
// operations. Each check prunes entries older than the trailing window before
// counting, so memory for an idle identifier is reclaimed lazily.
//
// Identifiers from independent limit classes (request rate vs message rate)
// must not collide; callers namespace them, e.g. "req:10.0.0.1" and
// "msg:user-42".
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// New creates an empty limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether the identifier may perform another operation within
// the trailing window. A refused attempt is not recorded, so probing while
// limited does not extend the limit.
func (l *Limiter) Allow(identifier string, window time.Duration, max int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	recent := l.windows[identifier][:0]
	for _, ts := range l.windows[identifier] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= max {
		l.windows[identifier] = recent
		return false
	}

	l.windows[identifier] = append(recent, now)
	return true
}

// Reset clears the window for one identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, identifier)
}

// ResetAll clears every window. Used in tests and administrative recovery.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string][]time.Time)
}

package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MemoryTracker keys presence by user id in a concurrent map. Entries are
// per-user locked, so writes for different users never block each other.
// A periodic sweep evicts sessions whose last activity exceeds the staleness
// threshold, covering connections that never disconnected cleanly.
type MemoryTracker struct {
	entries sync.Map // userID -> *entry

	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// entry is removed in two steps: dead is set under mu, then the map slot is
// deleted. A writer that raced the removal and still holds the pointer sees
// dead and takes a fresh entry instead of resurrecting the removed one.
type entry struct {
	mu       sync.Mutex
	conns    map[string]struct{}
	lastSeen time.Time
	dead     bool
}

// NewMemoryTracker creates a tracker that treats sessions idle longer than
// staleAfter as offline.
func NewMemoryTracker(staleAfter time.Duration, logger zerolog.Logger) *MemoryTracker {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &MemoryTracker{
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger.With().Str("component", "presence").Logger(),
	}
}

func (t *MemoryTracker) Connect(_ context.Context, userID, connectionID string) error {
	for {
		v, _ := t.entries.LoadOrStore(userID, &entry{conns: make(map[string]struct{})})
		e := v.(*entry)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			t.entries.CompareAndDelete(userID, v)
			continue
		}
		e.conns[connectionID] = struct{}{}
		e.lastSeen = t.now()
		e.mu.Unlock()
		return nil
	}
}

func (t *MemoryTracker) Disconnect(_ context.Context, userID, connectionID string) (bool, error) {
	v, ok := t.entries.Load(userID)
	if !ok {
		return true, nil
	}
	e := v.(*entry)

	e.mu.Lock()
	delete(e.conns, connectionID)
	gone := len(e.conns) == 0
	if gone {
		e.dead = true
	}
	e.mu.Unlock()

	if gone {
		t.entries.CompareAndDelete(userID, v)
	}
	return gone, nil
}

func (t *MemoryTracker) Touch(_ context.Context, userID string) error {
	if v, ok := t.entries.Load(userID); ok {
		e := v.(*entry)
		e.mu.Lock()
		if !e.dead {
			e.lastSeen = t.now()
		}
		e.mu.Unlock()
	}
	return nil
}

func (t *MemoryTracker) Active(_ context.Context, userID string) (bool, error) {
	v, ok := t.entries.Load(userID)
	if !ok {
		return false, nil
	}
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.dead && len(e.conns) > 0 && t.now().Sub(e.lastSeen) <= t.staleAfter, nil
}

func (t *MemoryTracker) ActiveCount(_ context.Context) (int, error) {
	count := 0
	t.entries.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count, nil
}

func (t *MemoryTracker) Close() error { return nil }

// Sweep removes entries whose last activity exceeds the staleness threshold
// and returns how many were evicted.
func (t *MemoryTracker) Sweep() int {
	cutoff := t.now().Add(-t.staleAfter)
	swept := 0

	t.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		stale := !e.dead && e.lastSeen.Before(cutoff)
		if stale {
			e.dead = true
		}
		e.mu.Unlock()

		if stale {
			t.entries.CompareAndDelete(key, value)
			swept++
		}
		return true
	})

	if swept > 0 {
		t.logger.Info().Int("swept", swept).Msg("cleaned up stale sessions")
	}
	return swept
}

// RunSweeper sweeps at the given interval until the context is cancelled.
func (t *MemoryTracker) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

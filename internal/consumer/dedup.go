package consumer

import (
	"sync"
	"time"
)

// dedup remembers recently dispatched (message, recipient) pairs so a
// redelivered envelope, or a second worker draining the same queue, does not
// notify the same recipient twice. Entries expire after the TTL; expired
// entries are pruned lazily on insert.
type dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newDedup(ttl time.Duration) *dedup {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// firstSeen reports whether the key is new and records it.
func (d *dedup) firstSeen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.ttl)
	for k, ts := range d.seen {
		if ts.Before(cutoff) {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = now
	return true
}

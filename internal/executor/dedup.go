package executor

import (
	"sync"
	"time"
)

// Dedup remembers opportunity keys for a time-to-live window so the same
// mispricing, redetected on consecutive cycles before its fills settle,
// executes only once. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // opportunity key -> last execution time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given window.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether key was recorded within the window. Unseen and
// expired keys are recorded and report false.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Cleanup drops expired entries so the map stays bounded. Execute calls it
// once per batch.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

package events

import (
	"sync"
	"time"
)

// dedup remembers event keys for a time-to-live window. Expired keys are
// swept lazily, at most once per ttl.
type dedup struct {
	ttl       time.Duration
	now       func() time.Time
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

// duplicate reports whether key was seen within the ttl and records it
// otherwise.
func (d *dedup) duplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= d.ttl {
		for k, ts := range d.seen {
			if now.Sub(ts) >= d.ttl {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}

	if ts, ok := d.seen[key]; ok && now.Sub(ts) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

func (d *dedup) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// WithDedup drops upstream events whose key was already dispatched within
// ttl. It must be called before Run. An empty key disables the check for that
// event.
func (c *Channel[E]) WithDedup(key func(E) string, ttl time.Duration) *Channel[E] {
	if key != nil && ttl > 0 {
		c.dedupKey = key
		c.dedup = newDedup(ttl)
	}
	return c
}

// isDuplicate applies the configured dedup, if any.
func (c *Channel[E]) isDuplicate(ev E) bool {
	if c.dedup == nil {
		return false
	}
	k := c.dedupKey(ev)
	return k != "" && c.dedup.duplicate(k)
}

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// Capability names shared by the services and the HTTP surface.
const (
	Selling    = "selling"
	Siring     = "siring"
	Buying     = "buying"
	BuyingSire = "buying_sire"
	Removing   = "removing"
	Breeding   = "breeding"
)

// Key names the tracker for one capability acting on one subject, such as
// "selling/5" or "breeding/3x7".
func Key(capability string, subject any) string {
	return fmt.Sprintf("%s/%v", capability, subject)
}

// Capability returns the capability part of a tracker name.
func Capability(name string) string {
	c, _, _ := strings.Cut(name, "/")
	return c
}

// Registry hands out one Tracker per capability name.
type Registry struct {
	mu        sync.Mutex
	trackers  map[string]*Tracker
	observers []Observer
}

// NewRegistry creates a Registry with the given trackers pre-created.
func NewRegistry(names ...string) *Registry {
	r := &Registry{trackers: make(map[string]*Tracker, len(names))}
	for _, n := range names {
		r.Get(n)
	}
	return r
}

// Get returns the tracker for name, creating it on first use.
func (r *Registry) Get(name string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(name)
}

// Start gets or creates the tracker for name and starts it while the
// registry lock is held, so a concurrent Release cannot drop the tracker
// between lookup and start. It reports false when a write for name is
// already in flight.
func (r *Registry) Start(name string) (*Tracker, bool) {
	r.mu.Lock()
	t := r.getLocked(name)
	notify, ok := t.begin()
	r.mu.Unlock()
	if ok {
		notify()
	}
	return t, ok
}

func (r *Registry) getLocked(name string) *Tracker {
	if t, ok := r.trackers[name]; ok {
		return t
	}
	t := New(name)
	for _, fn := range r.observers {
		t.Watch(fn)
	}
	r.trackers[name] = t
	return t
}

// Lookup returns the tracker for name without creating it.
func (r *Registry) Lookup(name string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[name]
	return t, ok
}

// Watch attaches fn to every existing and future tracker.
func (r *Registry) Watch(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
	for _, t := range r.trackers {
		t.Watch(fn)
	}
}

// Names returns the registered capability names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.trackers))
	for n := range r.trackers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the current state of every tracker.
func (r *Registry) Snapshot() map[string]domain.RequestState {
	r.mu.Lock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.Unlock()

	out := make(map[string]domain.RequestState, len(trackers))
	for _, t := range trackers {
		out[t.Name()] = t.State()
	}
	return out
}

// Release drops the tracker for name once it is back to Idle. Live or
// terminal trackers are kept so their state stays observable.
func (r *Registry) Release(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[name]
	if !ok || t.State().Status != domain.RequestIdle {
		return false
	}
	delete(r.trackers, name)
	return true
}

// Prune drops trackers that have sat in a terminal or Idle status since
// before cutoff. Names in keep are never dropped. It returns the number of
// trackers removed.
func (r *Registry) Prune(cutoff time.Time, keep ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, t := range r.trackers {
		if slices.Contains(keep, name) {
			continue
		}
		st := t.State()
		if st.Status != domain.RequestIdle && !st.Status.Terminal() {
			continue
		}
		if !st.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(r.trackers, name)
		n++
	}
	return n
}

// PruneEvery calls Prune with a cutoff of retention ago on every tick until
// ctx is done.
func (r *Registry) PruneEvery(ctx context.Context, every, retention time.Duration, logger *slog.Logger, keep ...string) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := r.Prune(now.Add(-retention), keep...); n > 0 {
				logger.DebugContext(ctx, "lifecycle: pruned settled requests", slog.Int("count", n))
			}
		}
	}
}

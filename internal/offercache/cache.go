// Package offercache holds the local view of active marketplace offers. The
// view is rebuilt by bulk loads and patched by market events; one partition
// is kept per offer kind so sell and sire listings never observe each other
// mid-refresh.
package offercache

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// defaultConcurrency bounds parallel per-id resolutions during a bulk load.
const defaultConcurrency = 8

// Gateway is the subset of the marketplace contract the cache reads.
type Gateway interface {
	ActiveOfferIDs(ctx context.Context, kind domain.OfferKind) ([]uint64, error)
	OfferTerms(ctx context.Context, tokenID uint64) (domain.OfferTerms, error)
}

// KittySource resolves kitty snapshots for display.
type KittySource interface {
	Kitty(ctx context.Context, id uint64) (domain.Kitty, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithConcurrency sets the bulk resolution parallelism.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger used for dropped entries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache is the authoritative in-process snapshot of active offers. It is
// safe for concurrent use; mutations for one token are serialized while
// distinct tokens proceed in parallel.
type Cache struct {
	gateway     Gateway
	kitties     KittySource
	logger      *slog.Logger
	concurrency int
	locks       *keyLock

	mu         sync.RWMutex
	partitions map[domain.OfferKind]map[uint64]domain.Offer
	seq        uint64            // arrival counter for event mutations
	versions   map[uint64]uint64 // token -> seq of its last event mutation
	loads      int               // bulk loads in flight
}

// New creates an empty Cache.
func New(gw Gateway, kitties KittySource, opts ...Option) *Cache {
	c := &Cache{
		gateway:     gw,
		kitties:     kitties,
		logger:      slog.Default(),
		concurrency: defaultConcurrency,
		locks:       newKeyLock(),
		partitions:  make(map[domain.OfferKind]map[uint64]domain.Offer, len(domain.OfferKinds)),
		versions:    make(map[uint64]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "offercache"))
	for _, k := range domain.OfferKinds {
		c.partitions[k] = make(map[uint64]domain.Offer)
	}
	return c
}

// LoadAll fetches every active offer id of kind, resolves each one and
// replaces the partition for kind. A failing id fetch is returned as a
// *domain.GatewayError; a failing per-id resolution is logged and dropped.
func (c *Cache) LoadAll(ctx context.Context, kind domain.OfferKind) ([]domain.Offer, error) {
	c.mu.Lock()
	started := c.seq
	c.loads++
	c.mu.Unlock()
	defer c.endLoad()

	ids, err := c.gateway.ActiveOfferIDs(ctx, kind)
	if err != nil {
		return nil, domain.NewGatewayError("active offer ids", err)
	}

	resolved := c.resolveAll(ctx, ids)

	next := make(map[uint64]domain.Offer, len(resolved))
	for _, o := range resolved {
		if o.Kind != kind {
			c.logger.DebugContext(ctx, "offer kind changed during load, skipping",
				slog.Uint64("token_id", o.TokenID),
				slog.String("want", string(kind)),
				slog.String("got", string(o.Kind)),
			)
			continue
		}
		next[o.TokenID] = o
	}

	c.mu.Lock()
	// Events that arrived after this load started are newer than anything
	// the load read, so their outcome wins.
	current := c.partitions[kind]
	for id, v := range c.versions {
		if v <= started {
			continue
		}
		if o, ok := current[id]; ok {
			next[id] = o
		} else {
			delete(next, id)
		}
	}
	c.partitions[kind] = next
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "offers loaded",
		slog.String("kind", string(kind)),
		slog.Int("ids", len(ids)),
		slog.Int("offers", len(next)),
	)

	return c.Snapshot(kind), nil
}

func (c *Cache) endLoad() {
	c.mu.Lock()
	c.loads--
	if c.loads == 0 {
		c.versions = make(map[uint64]uint64)
	}
	c.mu.Unlock()
}

// GetOne resolves a single offer from the ledger. A token without an active
// offer yields ok == false and a nil error; transport or ABI faults are
// returned as *domain.GatewayError.
func (c *Cache) GetOne(ctx context.Context, tokenID uint64) (offer domain.Offer, ok bool, err error) {
	offer, err = c.resolve(ctx, tokenID)
	if errors.Is(err, domain.ErrNotActive) {
		return domain.Offer{}, false, nil
	}
	if err != nil {
		return domain.Offer{}, false, err
	}
	return offer, true, nil
}

// ApplyEvent idempotently sets the cache entry for event.TokenID to what the
// event implies. Settlement and removal delete the entry; creation (and a
// log retracted by a reorg) re-reads the offer terms from the ledger.
func (c *Cache) ApplyEvent(ctx context.Context, event domain.MarketEvent) error {
	unlock := c.locks.Lock(event.TokenID)
	defer unlock()

	if event.Kind.Terminal() && !event.Removed {
		c.remove(event.TokenID)
		return nil
	}

	offer, err := c.resolve(ctx, event.TokenID)
	switch {
	case errors.Is(err, domain.ErrNotActive):
		c.remove(event.TokenID)
		return nil
	case err != nil:
		return err
	}
	c.upsert(offer)
	return nil
}

// Snapshot returns the cached offers of kind ordered by token id.
func (c *Cache) Snapshot(kind domain.OfferKind) []domain.Offer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	part := c.partitions[kind]
	out := make([]domain.Offer, 0, len(part))
	for _, o := range part {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// Lookup returns the cached offer for tokenID from any partition.
func (c *Cache) Lookup(tokenID uint64) (domain.Offer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, part := range c.partitions {
		if o, ok := part[tokenID]; ok {
			return o.Clone(), true
		}
	}
	return domain.Offer{}, false
}

// Sizes returns the number of cached offers per kind.
func (c *Cache) Sizes() map[domain.OfferKind]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[domain.OfferKind]int, len(c.partitions))
	for k, part := range c.partitions {
		out[k] = len(part)
	}
	return out
}

func (c *Cache) upsert(o domain.Offer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumpLocked(o.TokenID)
	for k, part := range c.partitions {
		if k != o.Kind {
			delete(part, o.TokenID)
		}
	}
	part, ok := c.partitions[o.Kind]
	if !ok {
		part = make(map[uint64]domain.Offer)
		c.partitions[o.Kind] = part
	}
	part[o.TokenID] = o
}

func (c *Cache) remove(tokenID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumpLocked(tokenID)
	for _, part := range c.partitions {
		delete(part, tokenID)
	}
}

func (c *Cache) bumpLocked(tokenID uint64) {
	c.seq++
	if c.loads > 0 {
		c.versions[tokenID] = c.seq
	}
}

// resolve fetches the offer terms and the kitty snapshot concurrently and
// joins them. Either branch failing fails the pair.
func (c *Cache) resolve(ctx context.Context, tokenID uint64) (domain.Offer, error) {
	var (
		terms domain.OfferTerms
		kitty domain.Kitty
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := c.gateway.OfferTerms(gctx, tokenID)
		if err != nil {
			return domain.NewGatewayError("offer terms", err)
		}
		if !t.Active {
			return domain.ErrNotActive
		}
		terms = t
		return nil
	})
	g.Go(func() error {
		k, err := c.kitties.Kitty(gctx, tokenID)
		if err != nil {
			return domain.NewGatewayError("kitty snapshot", err)
		}
		kitty = k
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Offer{}, err
	}
	return domain.NewOffer(terms, &kitty), nil
}

// resolveAll resolves ids with bounded parallelism. Failed ids are logged
// and left out.
func (c *Cache) resolveAll(ctx context.Context, ids []uint64) []domain.Offer {
	results := make([]*domain.Offer, len(ids))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			o, err := c.resolve(ctx, id)
			if err != nil {
				if !errors.Is(err, domain.ErrNotActive) {
					perr := &domain.PartialResolutionError{TokenID: id, Err: err}
					c.logger.WarnContext(ctx, "dropping offer from listing",
						slog.Uint64("token_id", id),
						slog.String("error", perr.Error()),
					)
				}
				return nil
			}
			results[i] = &o
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Offer, 0, len(ids))
	for _, o := range results {
		if o != nil {
			out = append(out, *o)
		}
	}
	return out
}

// Package events fans a single upstream ledger subscription out to any
// number of in-process subscribers.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// ErrStarted is returned by Run when the channel already owns its upstream
// subscription.
var ErrStarted = errors.New("events: channel already started")

const defaultBuffer = 64

// Source opens the upstream event stream. Implementations deliver events to
// sink until the returned subscription is unsubscribed.
type Source[E any] interface {
	Subscribe(ctx context.Context, sink chan<- E) (domain.Subscription, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[E any] func(ctx context.Context, sink chan<- E) (domain.Subscription, error)

func (f SourceFunc[E]) Subscribe(ctx context.Context, sink chan<- E) (domain.Subscription, error) {
	return f(ctx, sink)
}

// Handler consumes one event.
type Handler[E any] func(ctx context.Context, event E) error

// Token identifies a registration.
type Token = uuid.UUID

// Recorder receives delivery counters.
type Recorder interface {
	ObserveDelivery(channel string, failed bool)
	ObserveUpstreamError(channel string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDelivery(string, bool)  {}
func (nopRecorder) ObserveUpstreamError(string) {}

type subscriber[E any] struct {
	token Token
	fn    Handler[E]
}

// Option configures a Channel.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	recorder Recorder
	buffer   int
}

// WithLogger sets the channel logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithBuffer sets the upstream sink capacity.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// Channel owns exactly one upstream subscription for its lifetime and
// dispatches every event it receives to the registered handlers in
// registration order. A failing or panicking handler never stops delivery to
// the others.
type Channel[E any] struct {
	name     string
	source   Source[E]
	logger   *slog.Logger
	recorder Recorder
	buffer   int

	started atomic.Bool

	mu   sync.RWMutex
	subs []subscriber[E]

	idMu          sync.RWMutex
	identity      common.Address
	identityHooks []func(common.Address)

	dedup    *dedup
	dedupKey func(E) string

	delivered    atomic.Int64
	failed       atomic.Int64
	upstreamErrs atomic.Int64
	duplicates   atomic.Int64
}

// New creates a channel reading from source. Nothing is opened until Run.
func New[E any](name string, source Source[E], opts ...Option) *Channel[E] {
	o := options{logger: slog.Default(), recorder: nopRecorder{}, buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return &Channel[E]{
		name:     name,
		source:   source,
		logger:   o.logger.With(slog.String("component", "events"), slog.String("channel", name)),
		recorder: o.recorder,
		buffer:   o.buffer,
	}
}

// Name returns the channel name.
func (c *Channel[E]) Name() string { return c.name }

// Subscribe registers fn and returns the token that removes it.
func (c *Channel[E]) Subscribe(fn Handler[E]) Token {
	tok := uuid.New()
	c.mu.Lock()
	c.subs = append(c.subs, subscriber[E]{token: tok, fn: fn})
	c.mu.Unlock()
	return tok
}

// Unsubscribe removes the handler registered under tok. It is safe to call
// from inside a handler; the event being dispatched still reaches every
// handler that was registered when dispatch began.
func (c *Channel[E]) Unsubscribe(tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s.token == tok {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered handlers.
func (c *Channel[E]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Run opens the upstream subscription and dispatches until ctx is done.
// Upstream errors are logged and counted; re-establishing the stream is left
// to the source transport, and Run keeps draining whatever it delivers.
func (c *Channel[E]) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	sink := make(chan E, c.buffer)
	sub, err := c.source.Subscribe(ctx, sink)
	if err != nil {
		return fmt.Errorf("events: %s: subscribe: %w", c.name, err)
	}
	defer sub.Unsubscribe()

	c.logger.InfoContext(ctx, "event channel started")

	errc := sub.Err()
	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "event channel stopped",
				slog.Int64("delivered", c.delivered.Load()),
				slog.Int64("failed", c.failed.Load()),
				slog.Int64("duplicates", c.duplicates.Load()),
			)
			return nil
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			c.upstreamErrs.Add(1)
			c.recorder.ObserveUpstreamError(c.name)
			c.logger.WarnContext(ctx, "upstream subscription error", slog.String("error", fmt.Sprint(err)))
			errc = nil
		case ev := <-sink:
			if c.isDuplicate(ev) {
				c.duplicates.Add(1)
				continue
			}
			c.Dispatch(ctx, ev)
		}
	}
}

// Dispatch delivers ev to a snapshot of the current handlers.
func (c *Channel[E]) Dispatch(ctx context.Context, ev E) {
	c.mu.RLock()
	snapshot := make([]subscriber[E], len(c.subs))
	copy(snapshot, c.subs)
	c.mu.RUnlock()

	for _, s := range snapshot {
		err := c.call(ctx, s.fn, ev)
		c.recorder.ObserveDelivery(c.name, err != nil)
		if err != nil {
			c.failed.Add(1)
			c.logger.WarnContext(ctx, "event handler failed",
				slog.String("token", s.token.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		c.delivered.Add(1)
	}
}

func (c *Channel[E]) call(ctx context.Context, fn Handler[E], ev E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: handler panic: %v", r)
		}
	}()
	return fn(ctx, ev)
}

// Stats reports delivery counters.
func (c *Channel[E]) Stats() (delivered, failed, upstreamErrors int64) {
	return c.delivered.Load(), c.failed.Load(), c.upstreamErrs.Load()
}

// Identity returns the acting account, or the zero address before one is
// known.
func (c *Channel[E]) Identity() common.Address {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.identity
}

// OnIdentityChange registers fn to run whenever the acting account changes.
func (c *Channel[E]) OnIdentityChange(fn func(common.Address)) {
	c.idMu.Lock()
	c.identityHooks = append(c.identityHooks, fn)
	c.idMu.Unlock()
}

// SetIdentity switches the acting account. The upstream subscription is left
// untouched.
func (c *Channel[E]) SetIdentity(addr common.Address) {
	c.idMu.Lock()
	if c.identity == addr {
		c.idMu.Unlock()
		return
	}
	prev := c.identity
	c.identity = addr
	hooks := append(([]func(common.Address))(nil), c.identityHooks...)
	c.idMu.Unlock()

	c.logger.Info("identity changed",
		slog.String("from", prev.Hex()),
		slog.String("to", addr.Hex()),
	)
	for _, fn := range hooks {
		fn(addr)
	}
}

// AccountsChanged applies a wallet account list; the first entry becomes
// the acting account and an empty list clears it.
func (c *Channel[E]) AccountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		c.SetIdentity(common.Address{})
		return
	}
	c.SetIdentity(accounts[0])
}

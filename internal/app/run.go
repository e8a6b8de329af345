package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/events"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
	"github.com/alanyoungcy/kittymarket/internal/metrics"
	"github.com/alanyoungcy/kittymarket/internal/offercache"
	"github.com/alanyoungcy/kittymarket/internal/server"
	"github.com/alanyoungcy/kittymarket/internal/server/handler"
	"github.com/alanyoungcy/kittymarket/internal/server/ws"
	"github.com/alanyoungcy/kittymarket/internal/service"
)

const (
	shutdownTimeout = 5 * time.Second
	recentOnConnect = 20
)

// core is the sync core built over the wired dependencies.
type core struct {
	trackers *lifecycle.Registry
	cache    *offercache.Cache
	market   *service.MarketService
	breed    *service.BreedService
	accounts *service.AccountService
	marketCh *events.Channel[domain.MarketEvent]
	birthCh  *events.Channel[domain.BirthEvent]
	hub      *ws.Hub
}

// buildCore assembles the cache, trackers, services and event channels. The
// status bus is Redis when configured, else the in-process WebSocket hub.
func (a *App) buildCore(deps *Dependencies) *core {
	c := &core{trackers: lifecycle.NewRegistry()}
	c.hub = ws.NewHub(a.logger, func() any { return a.snapshot(c, deps) })

	var bus domain.SignalBus = c.hub
	if deps.RedisBus != nil {
		bus = deps.RedisBus
	}

	c.trackers.Watch(service.PublishStatus(bus, a.logger))
	if a.cfg.Metrics.Enabled {
		c.trackers.Watch(metrics.ObserveTransition)
	}
	if deps.Notifier.Enabled() {
		c.trackers.Watch(deps.Notifier.Observer())
	}

	c.cache = offercache.New(deps.Ledger, deps.Ledger,
		offercache.WithConcurrency(a.cfg.Market.ResolveConcurrency),
		offercache.WithLogger(a.logger),
	)
	confirm := a.cfg.Market.ConfirmTimeout.Duration
	c.market = service.NewMarketService(c.cache, deps.Ledger, deps.Ledger, deps.Wallet, c.trackers, a.logger).
		WithConfirmTimeout(confirm).
		WithBus(bus)
	c.breed = service.NewBreedService(deps.Ledger, c.trackers, a.logger).
		WithConfirmTimeout(confirm).
		WithBus(bus)
	if deps.Audit != nil {
		c.market.WithAudit(deps.Audit)
		c.breed.WithAudit(deps.Audit)
	}

	opts := []events.Option{
		events.WithLogger(a.logger),
		events.WithBuffer(a.cfg.Market.EventBuffer),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, events.WithRecorder(metrics.Recorder{}))
	}
	window := a.cfg.Market.DedupWindow.Duration
	c.marketCh = events.New[domain.MarketEvent]("market", events.SourceFunc[domain.MarketEvent](deps.Ledger.SubscribeMarketEvents), opts...).
		WithDedup(marketEventKey, window)
	c.marketCh.Subscribe(c.market.HandleEvent)
	c.birthCh = events.New[domain.BirthEvent]("birth", events.SourceFunc[domain.BirthEvent](deps.Ledger.SubscribeBirths), opts...).
		WithDedup(birthEventKey, window)
	c.birthCh.Subscribe(c.breed.HandleBirth)

	// A rejected switch puts the channel back on the wallet's account.
	c.marketCh.OnIdentityChange(func(addr common.Address) {
		if err := deps.Wallet.Switch(addr); err != nil {
			a.logger.Warn("app: account switch rejected",
				slog.String("account", addr.Hex()),
				slog.String("error", err.Error()),
			)
			c.marketCh.SetIdentity(deps.Wallet.Address())
		}
	})
	c.marketCh.SetIdentity(deps.Wallet.Address())

	c.accounts = service.NewAccountService(deps.Wallet, c.marketCh.AccountsChanged, a.logger)
	if deps.Audit != nil {
		c.accounts.WithAudit(deps.Audit)
	}

	return c
}

// marketEventKey identifies one log; a reorg removal keys differently from
// the original delivery.
func marketEventKey(ev domain.MarketEvent) string {
	return fmt.Sprintf("%s:%d:%t", ev.TxHash.Hex(), ev.LogIndex, ev.Removed)
}

func birthEventKey(ev domain.BirthEvent) string {
	return fmt.Sprintf("%s:%d", ev.TxHash.Hex(), ev.KittyID)
}

// run starts every long-running component and blocks until the context is
// cancelled or one of them fails.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	c := a.buildCore(deps)

	if a.cfg.Metrics.Enabled {
		if err := metrics.RegisterOfferGauges(prometheus.DefaultRegisterer, c.cache.Sizes); err != nil {
			return fmt.Errorf("app: register gauges: %w", err)
		}
	}

	if a.cfg.Market.LoadOnStart {
		offers, err := c.cache.LoadAll(ctx, domain.OfferKindSell)
		if err != nil {
			a.logger.WarnContext(ctx, "app: initial offer load failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "app: initial offers loaded", slog.Int("count", len(offers)))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.marketCh.Run(ctx) })
	g.Go(func() error { return c.birthCh.Run(ctx) })

	if deps.RedisBus != nil {
		g.Go(func() error { return c.hub.Relay(ctx, deps.RedisBus, ws.Channels...) })
	}

	if retention := a.cfg.Market.RequestRetention.Duration; retention > 0 {
		g.Go(func() error {
			return c.trackers.PruneEvery(ctx, pruneInterval(retention), retention, a.logger)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration, a.cfg.S3.Retention())
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, c, deps)
	}

	g.Go(func() error {
		<-ctx.Done()
		c.hub.Close()
		return nil
	})

	return g.Wait()
}

// pruneInterval checks a few times per retention period, at most once a
// minute.
func pruneInterval(retention time.Duration) time.Duration {
	return max(retention/4, time.Minute)
}

// startHTTPServer adds the HTTP server and its graceful shutdown to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, c *core, deps *Dependencies) {
	checks := map[string]handler.Check{}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(checks),
		Market:  handler.NewMarketHandler(c.market, a.logger),
		Breed:   handler.NewBreedHandler(c.breed, c.market.Status, a.logger),
		Account: handler.NewAccountHandler(c.accounts, a.logger),
	}
	if deps.Audit != nil {
		handlers.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}

	cfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if a.cfg.Metrics.Enabled {
		cfg.MetricsPath = a.cfg.Metrics.Path
	}
	srv := server.NewServer(cfg, handlers, c.hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// snapshot is the first frame a WebSocket client receives.
func (a *App) snapshot(c *core, deps *Dependencies) any {
	out := map[string]any{
		"requests": c.trackers.Snapshot(),
		"offers":   c.cache.Sizes(),
		"account":  deps.Wallet.Address().Hex(),
	}
	if deps.RedisBus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		recent, err := deps.RedisBus.Recent(ctx, domain.ChannelMarket, recentOnConnect)
		if err != nil {
			a.logger.Warn("app: recent market events", slog.String("error", err.Error()))
			return out
		}
		feed := make([]json.RawMessage, 0, len(recent))
		for _, r := range recent {
			feed = append(feed, r)
		}
		out["recent_market"] = feed
	}
	return out
}

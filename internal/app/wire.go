package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/kittymarket/internal/blob/s3"
	"github.com/alanyoungcy/kittymarket/internal/cache/redis"
	"github.com/alanyoungcy/kittymarket/internal/config"
	"github.com/alanyoungcy/kittymarket/internal/crypto"
	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/notify"
	"github.com/alanyoungcy/kittymarket/internal/platform/ledger"
	"github.com/alanyoungcy/kittymarket/internal/store/postgres"
)

// Dependencies bundles the concrete implementations run needs. Optional
// layers are nil when disabled in config.
type Dependencies struct {
	Wallet *crypto.Wallet
	Ledger *ledger.Client

	Redis    *redis.Client
	RedisBus *redis.SignalBus

	Postgres *postgres.Client
	Audit    domain.AuditStore

	S3       *s3blob.Client
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Wallet ---
	chainID := big.NewInt(cfg.Ledger.ChainID)
	key, err := crypto.LoadKey(crypto.KeySource{
		RawKey:   cfg.Wallet.PrivateKey,
		Keyfile:  cfg.Wallet.EncryptedKeyPath,
		Password: cfg.Wallet.KeyPassword,
	})
	switch {
	case errors.Is(err, crypto.ErrNoKeySource):
		logger.WarnContext(ctx, "wire: no wallet key configured; writes are disabled")
		deps.Wallet = crypto.NewWallet(chainID)
	case err != nil:
		return fail(fmt.Errorf("wire: wallet: %w", err))
	default:
		deps.Wallet = crypto.NewWallet(chainID, key)
		logger.InfoContext(ctx, "wire: wallet loaded", slog.String("account", deps.Wallet.Address().Hex()))
	}

	// --- Ledger ---
	client, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, chainID, ledger.Config{
		MarketAddress:      common.HexToAddress(cfg.Ledger.MarketAddress),
		KittyAddress:       common.HexToAddress(cfg.Ledger.KittyAddress),
		CallTimeout:        cfg.Ledger.CallTimeout.Duration,
		ResubscribeBackoff: cfg.Ledger.ResubscribeBackoff.Duration,
	}, deps.Wallet, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger: %w", err))
	}
	closers = append(closers, client.Close)
	deps.Ledger = client

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Redis = rc
		deps.RedisBus = redis.NewSignalBus(rc)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.PostgresDSN(),
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Postgres = pg
		deps.Audit = postgres.NewAuditStore(pg.Pool())
	}

	// --- S3 audit archive (requires the audit store) ---
	if cfg.S3.Enabled && deps.Audit != nil {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = sc
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), deps.Audit,
			logger.With(slog.String("component", "archiver")))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

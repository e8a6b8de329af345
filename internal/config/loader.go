package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KITTYMARKET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KITTYMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "KITTYMARKET_LEDGER_RPC_URL")
	setInt64(&cfg.Ledger.ChainID, "KITTYMARKET_LEDGER_CHAIN_ID")
	setStr(&cfg.Ledger.MarketAddress, "KITTYMARKET_LEDGER_MARKET_ADDRESS")
	setStr(&cfg.Ledger.KittyAddress, "KITTYMARKET_LEDGER_KITTY_ADDRESS")
	setDuration(&cfg.Ledger.CallTimeout, "KITTYMARKET_LEDGER_CALL_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "KITTYMARKET_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "KITTYMARKET_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "KITTYMARKET_WALLET_KEY_PASSWORD")

	// ── Market ──
	setInt(&cfg.Market.ResolveConcurrency, "KITTYMARKET_MARKET_RESOLVE_CONCURRENCY")
	setDuration(&cfg.Market.ConfirmTimeout, "KITTYMARKET_MARKET_CONFIRM_TIMEOUT")
	setBool(&cfg.Market.LoadOnStart, "KITTYMARKET_MARKET_LOAD_ON_START")
	setDuration(&cfg.Market.DedupWindow, "KITTYMARKET_MARKET_DEDUP_WINDOW")
	setDuration(&cfg.Market.RequestRetention, "KITTYMARKET_MARKET_REQUEST_RETENTION")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KITTYMARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KITTYMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KITTYMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KITTYMARKET_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "KITTYMARKET_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "KITTYMARKET_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "KITTYMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KITTYMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KITTYMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KITTYMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KITTYMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KITTYMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KITTYMARKET_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "KITTYMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KITTYMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KITTYMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KITTYMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "KITTYMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KITTYMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KITTYMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "KITTYMARKET_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "KITTYMARKET_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KITTYMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KITTYMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "KITTYMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "KITTYMARKET_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KITTYMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KITTYMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KITTYMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KITTYMARKET_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "KITTYMARKET_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "KITTYMARKET_LOG_LEVEL")
	setStr(&cfg.LogFile, "KITTYMARKET_LOG_FILE")
}

// Each helper only mutates the target when the variable is present and
// parses cleanly.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

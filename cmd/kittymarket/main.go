// Command kittymarket runs the kitty marketplace sync core. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and runs until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/kittymarket/internal/app"
	"github.com/alanyoungcy/kittymarket/internal/config"
	"github.com/alanyoungcy/kittymarket/internal/crypto"
)

func main() {
	os.Exit(run())
}

// run holds the program so deferred cleanup runs before the exit code is
// returned.
func run() int {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	sealKey := flag.String("seal-key", "", "encrypt wallet.private_key with wallet.key_password into this keyfile and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger, closeLog := newLogger(cfg)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
	}()
	slog.SetDefault(logger)

	if *sealKey != "" {
		if err := writeKeyfile(*sealKey, cfg.Wallet); err != nil {
			logger.Error("seal key failed", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("keyfile written", slog.String("path", *sealKey))
		return 0
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("kittymarket starting",
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 1
		}
	}

	logger.Info("kittymarket stopped")
	return 0
}

// newLogger builds the JSON logger at the configured level. When log_file is
// set, output is also written to a size-rotated file, which the returned
// func closes.
func newLogger(cfg *config.Config) (*slog.Logger, func() error) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	closeFn := func() error { return nil }
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, file)
		closeFn = file.Close
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), closeFn
}

func writeKeyfile(path string, wallet config.WalletConfig) error {
	if wallet.PrivateKey == "" || wallet.KeyPassword == "" {
		return errors.New("wallet.private_key and wallet.key_password are required")
	}
	data, err := crypto.SealKey(wallet.PrivateKey, wallet.KeyPassword)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

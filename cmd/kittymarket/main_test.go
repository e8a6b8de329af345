package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alanyoungcy/kittymarket/internal/config"
)

func TestNewLoggerWritesAndClosesLogFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogFile = filepath.Join(t.TempDir(), "kittymarket.log")

	logger, closeLog := newLogger(&cfg)
	logger.Info("rotated file check")
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "rotated file check") {
		t.Fatalf("log file = %q", data)
	}
}

func TestNewLoggerWithoutFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogFile = ""
	_, closeLog := newLogger(&cfg)
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

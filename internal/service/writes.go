package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
)

// writeRunner drives one tracked ledger write through its lifecycle.
type writeRunner struct {
	trackers *lifecycle.Registry
	events   *eventLog
	logger   *slog.Logger

	// confirmTimeout fails a write that saw no event in time; zero disables.
	confirmTimeout time.Duration
}

// run starts the tracker called name, sends, and moves the tracker to
// Succeeded or Failed. A refused Start means the same write is already in
// flight. after runs once the send was accepted.
func (w *writeRunner) run(
	ctx context.Context,
	capability, name string,
	send func(context.Context) (domain.Receipt, error),
	after func(context.Context),
) (domain.Receipt, error) {
	t, ok := w.trackers.Start(name)
	if !ok {
		return domain.Receipt{}, fmt.Errorf("service: %s: %w", name, domain.ErrBusy)
	}

	r, err := send(ctx)
	if err != nil {
		_ = t.Fail(err.Error())
		w.logger.WarnContext(ctx, "service: write rejected",
			slog.String("request", name),
			slog.String("error", err.Error()),
		)
		w.events.record(ctx, "write_failed", map[string]any{
			"request": name,
			"error":   err.Error(),
		})
		return domain.Receipt{}, fmt.Errorf("service: %s: %w", name, classify(capability, err))
	}

	// The event can confirm the tracker before the send returns.
	if err := t.Succeed(r.TxHash.Hex()); err != nil {
		w.logger.DebugContext(ctx, "service: confirmation raced send",
			slog.String("request", name),
			slog.String("status", string(t.State().Status)),
		)
	}
	if w.confirmTimeout > 0 {
		t.FailAfter(context.WithoutCancel(ctx), w.confirmTimeout, "timed out waiting for ledger confirmation")
	}
	if after != nil {
		after(ctx)
	}

	w.logger.InfoContext(ctx, "service: write sent",
		slog.String("request", name),
		slog.String("tx", r.TxHash.Hex()),
	)
	w.events.record(ctx, "write_sent", map[string]any{
		"request": name,
		"tx_hash": r.TxHash.Hex(),
		"from":    r.From.Hex(),
	})
	return r, nil
}

// confirm moves the named tracker to Confirmed when a write is in flight.
func (w *writeRunner) confirm(ctx context.Context, name string) bool {
	t, ok := w.trackers.Lookup(name)
	if !ok {
		return false
	}
	switch t.State().Status {
	case domain.RequestLoading, domain.RequestSucceeded:
	default:
		return false
	}
	if err := t.Confirm(); err != nil {
		w.logger.DebugContext(ctx, "service: confirm skipped",
			slog.String("request", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
)

// eventLog forwards service activity to the optional audit store and signal
// bus. Failures are logged and never affect the caller.
type eventLog struct {
	store  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
}

func (l *eventLog) record(ctx context.Context, event string, detail map[string]any) {
	if l.store == nil {
		return
	}
	if err := l.store.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (l *eventLog) publish(ctx context.Context, channel string, v any) {
	if l.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		l.logger.WarnContext(ctx, "service: encode event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := l.bus.Publish(ctx, channel, payload); err != nil {
		l.logger.WarnContext(ctx, "service: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// classify keeps caller mistakes as they are and marks everything else as a
// gateway failure.
func classify(op string, err error) error {
	for _, local := range []error{
		domain.ErrInvalidOffer,
		domain.ErrNotActive,
		domain.ErrSameParent,
		domain.ErrNoAccount,
	} {
		if errors.Is(err, local) {
			return err
		}
	}
	return domain.NewGatewayError(op, err)
}

// StatusChange is the payload published on domain.ChannelStatus.
type StatusChange struct {
	Name    string              `json:"name"`
	From    domain.RequestState `json:"from"`
	To      domain.RequestState `json:"to"`
	Message string              `json:"message,omitempty"`
}

// PublishStatus returns a tracker observer that publishes every transition to
// bus. Register it with lifecycle.Registry.Watch.
func PublishStatus(bus domain.SignalBus, logger *slog.Logger) lifecycle.Observer {
	l := &eventLog{bus: bus, logger: logger}
	return func(name string, from, to domain.RequestState) {
		l.publish(context.Background(), domain.ChannelStatus, StatusChange{
			Name:    name,
			From:    from,
			To:      to,
			Message: lifecycle.Message(to),
		})
	}
}

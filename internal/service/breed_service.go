package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
)

// BreedService breeds two owned kitties. A breed is confirmed by the Birth
// event naming the same parents.
type BreedService struct {
	kitties domain.KittyLedger
	logger  *slog.Logger
	events  *eventLog
	writes  *writeRunner
}

// NewBreedService creates a BreedService sharing trackers with the market.
func NewBreedService(kitties domain.KittyLedger, trackers *lifecycle.Registry, logger *slog.Logger) *BreedService {
	events := &eventLog{logger: logger}
	return &BreedService{
		kitties: kitties,
		logger:  logger,
		events:  events,
		writes:  &writeRunner{trackers: trackers, events: events, logger: logger},
	}
}

// WithConfirmTimeout sets the confirmation watchdog.
func (s *BreedService) WithConfirmTimeout(d time.Duration) *BreedService {
	s.writes.confirmTimeout = d
	return s
}

// WithAudit records breeds and births in store.
func (s *BreedService) WithAudit(store domain.AuditStore) *BreedService {
	s.events.store = store
	return s
}

// WithBus publishes births on bus.
func (s *BreedService) WithBus(bus domain.SignalBus) *BreedService {
	s.events.bus = bus
	return s
}

// BreedKey names the tracker for a breed of mumID with dadID.
func BreedKey(mumID, dadID uint64) string {
	return lifecycle.Key(lifecycle.Breeding, fmt.Sprintf("%dx%d", mumID, dadID))
}

// Breed sends a breed of mumID with dadID.
func (s *BreedService) Breed(ctx context.Context, mumID, dadID uint64) (domain.Receipt, error) {
	return s.writes.run(ctx, lifecycle.Breeding, BreedKey(mumID, dadID), func(ctx context.Context) (domain.Receipt, error) {
		if mumID == dadID {
			return domain.Receipt{}, domain.ErrSameParent
		}
		return s.kitties.SendBreed(ctx, mumID, dadID)
	}, nil)
}

// Birth is a Birth event joined with the kitten snapshot when it could be
// read.
type Birth struct {
	domain.BirthEvent
	Kitten *domain.Kitty `json:"kitten,omitempty"`
}

// HandleBirth is the Birth event subscriber. It confirms the matching breed
// and publishes the kitten.
func (s *BreedService) HandleBirth(ctx context.Context, ev domain.BirthEvent) error {
	confirmed := s.writes.confirm(ctx, BreedKey(ev.MumID, ev.DadID))

	out := Birth{BirthEvent: ev}
	kitten, err := s.kitties.Kitty(ctx, ev.KittyID)
	if err != nil {
		s.logger.WarnContext(ctx, "breed_service: kitten lookup failed",
			slog.Uint64("kitty_id", ev.KittyID),
			slog.String("error", err.Error()),
		)
	} else {
		out.Kitten = &kitten
	}

	s.events.publish(ctx, domain.ChannelBirth, out)
	s.events.record(ctx, "birth", map[string]any{
		"kitty_id":  ev.KittyID,
		"mum_id":    ev.MumID,
		"dad_id":    ev.DadID,
		"owner":     ev.Owner.Hex(),
		"confirmed": confirmed,
	})
	s.logger.InfoContext(ctx, "breed_service: kitten born",
		slog.Uint64("kitty_id", ev.KittyID),
		slog.Uint64("mum_id", ev.MumID),
		slog.Uint64("dad_id", ev.DadID),
	)
	return nil
}

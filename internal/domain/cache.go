package domain

import "context"

// SignalBus fans market events and request status changes out to other
// processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channel names.
const (
	ChannelMarket = "kitty:market"
	ChannelStatus = "kitty:status"
	ChannelBirth  = "kitty:birth"
)

package events

import "context"

// StreamEscrow carries every escrow-related event.
const StreamEscrow = "events:escrow"

// Event types
const (
	EventEscrowsUpdated  = "escrows_updated"
	EventTxConfirmed     = "tx_confirmed"
	EventNetworkSwitched = "network_switched"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

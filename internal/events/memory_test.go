package events

import (
	"context"
	"testing"
)

func TestMemoryBus(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	if err := bus.Subscribe(ctx, StreamEscrow, func(e Event) { got = append(got, e.Type) }); err != nil {
		t.Fatal(err)
	}
	other := 0
	_ = bus.Subscribe(context.Background(), "events:other", func(Event) { other++ })

	_ = bus.Publish(context.Background(), StreamEscrow, Event{Type: EventEscrowsUpdated})
	_ = bus.Publish(context.Background(), StreamEscrow, Event{Type: EventTxConfirmed})

	if len(got) != 2 || got[0] != EventEscrowsUpdated || got[1] != EventTxConfirmed {
		t.Fatalf("got %v", got)
	}
	if other != 0 {
		t.Errorf("handler on another stream ran %d times", other)
	}

	cancel()
	_ = bus.Publish(context.Background(), StreamEscrow, Event{Type: EventNetworkSwitched})
	if len(got) != 2 {
		t.Errorf("handler ran after its context was cancelled: %v", got)
	}
}

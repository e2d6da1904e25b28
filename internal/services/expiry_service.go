package services

import (
	"context"
	"fmt"
	"time"

	"github.com/escrow-marketplace/backend/internal/events"
	"go.uber.org/zap"
)

// ExpiryService reports escrows whose expiry passed. Expiry changes nothing
// on chain, so the indexer never sees it.
type ExpiryService struct {
	snapshot  escrowSnapshot
	network   networker
	publisher events.Publisher
	log       *zap.Logger
}

func NewExpiryService(snapshot escrowSnapshot, network networker, publisher events.Publisher, log *zap.Logger) *ExpiryService {
	return &ExpiryService{snapshot: snapshot, network: network, publisher: publisher, log: log}
}

// Sweep publishes escrows_updated with the ids of escrows that expired in
// (since, now] on the current network and returns those ids.
func (s *ExpiryService) Sweep(ctx context.Context, since, now time.Time) ([]string, error) {
	network := string(s.network.Network())
	escrows, err := s.snapshot.List(ctx, network)
	if err != nil {
		return nil, fmt.Errorf("list escrows: %w", err)
	}

	var expired []string
	for _, e := range escrows {
		if e.ExpireTimestamp > since.Unix() && e.ExpireTimestamp <= now.Unix() {
			expired = append(expired, e.ID.String())
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}

	s.log.Info("escrows expired", zap.String("network", network), zap.Int("count", len(expired)))
	if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowsUpdated,
		Payload: map[string]any{
			"network": network,
			"expired": expired,
		},
	}); err != nil {
		return expired, fmt.Errorf("publish expiry: %w", err)
	}
	return expired, nil
}

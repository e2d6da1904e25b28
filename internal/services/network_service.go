package services

import (
	"context"

	"github.com/escrow-marketplace/backend/internal/cache"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/events"
	"go.uber.org/zap"
)

// activeNetworkKey holds the network chosen by the last admin switch. It
// outlives restarts and wins over SOLANA_NETWORK; delete it to fall back.
const activeNetworkKey = "network:active"

// Switcher is the connection owner, normally *chain.Manager.
type Switcher interface {
	Network() chain.Network
	Switch(network chain.Network) bool
	OnSwitch(fn func(chain.Network))
}

// NetworkService keeps every process (api, indexer, worker) on the same
// network: Switch persists the choice and publishes it, Follow applies
// switches made by other processes.
type NetworkService struct {
	switcher  Switcher
	state     cache.Store
	publisher events.Publisher
	log       *zap.Logger
}

// NewNetworkService registers purge on every switch. Caches keyed by token or
// account must not survive a change of network. state may be nil.
func NewNetworkService(switcher Switcher, state cache.Store, publisher events.Publisher, log *zap.Logger, purge ...func()) *NetworkService {
	for _, p := range purge {
		p := p
		switcher.OnSwitch(func(chain.Network) { p() })
	}
	return &NetworkService{switcher: switcher, state: state, publisher: publisher, log: log}
}

func (s *NetworkService) Current() chain.Network {
	return s.switcher.Network()
}

// Switch changes the active network. It reports false when already on it.
func (s *NetworkService) Switch(ctx context.Context, name string, actor string) (bool, error) {
	network, err := chain.ParseNetwork(name)
	if err != nil {
		return false, err
	}
	prev := s.switcher.Network()
	if !s.switcher.Switch(network) {
		return false, nil
	}

	if s.state != nil {
		if err := s.state.Set(ctx, activeNetworkKey, []byte(network), 0); err != nil {
			s.log.Warn("failed to persist active network", zap.Error(err))
		}
	}

	if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventNetworkSwitched,
		Payload: map[string]any{
			"from":  string(prev),
			"to":    string(network),
			"actor": actor,
		},
	}); err != nil {
		s.log.Warn("failed to publish network switch", zap.Error(err))
	}
	return true, nil
}

// Restore moves to the persisted network, if any. Called once at startup.
func (s *NetworkService) Restore(ctx context.Context) error {
	if s.state == nil {
		return nil
	}
	raw, ok, err := s.state.Get(ctx, activeNetworkKey)
	if err != nil || !ok {
		return err
	}
	network, err := chain.ParseNetwork(string(raw))
	if err != nil {
		return err
	}
	if s.switcher.Switch(network) {
		s.log.Info("restored active network", zap.String("network", string(network)))
	}
	return nil
}

// Follow applies network_switched events published by other processes until
// ctx is done.
func (s *NetworkService) Follow(ctx context.Context, sub events.Subscriber) error {
	return sub.Subscribe(ctx, events.StreamEscrow, s.apply)
}

func (s *NetworkService) apply(ev events.Event) {
	if ev.Type != events.EventNetworkSwitched {
		return
	}
	to, _ := ev.Payload["to"].(string)
	network, err := chain.ParseNetwork(to)
	if err != nil {
		s.log.Warn("ignoring network switch", zap.String("to", to), zap.Error(err))
		return
	}
	if s.switcher.Switch(network) {
		s.log.Info("followed network switch",
			zap.String("to", to),
			zap.Any("actor", ev.Payload["actor"]),
		)
	}
}

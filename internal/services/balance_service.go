package services

import (
	"context"
	"fmt"

	"github.com/escrow-marketplace/backend/internal/cache"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BalanceLedger is the read access needed to price a wallet's holdings.
type BalanceLedger interface {
	Network() chain.Network
	TokenAccounts(ctx context.Context, keys []solana.PublicKey) ([]chain.TokenAccountState, error)
	NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
}

type BalanceService struct {
	ledger BalanceLedger
	cache  *cache.BalanceCache
	log    *zap.Logger
}

func NewBalanceService(ledger BalanceLedger, balanceCache *cache.BalanceCache, log *zap.Logger) *BalanceService {
	return &BalanceService{ledger: ledger, cache: balanceCache, log: log}
}

// Balances returns raw balances of owner for every mint. The native mint
// reports native plus wrapped balance.
func (s *BalanceService) Balances(ctx context.Context, owner solana.PublicKey, mints []solana.PublicKey) (map[solana.PublicKey]uint64, error) {
	if len(mints) == 0 {
		return map[solana.PublicKey]uint64{}, nil
	}
	return s.cache.Get(ctx, string(s.ledger.Network()), owner, mints, s.fetch)
}

// Invalidate drops cached balances of the given wallets on the current network.
func (s *BalanceService) Invalidate(ctx context.Context, owners ...solana.PublicKey) {
	if err := s.cache.Invalidate(ctx, string(s.ledger.Network()), owners...); err != nil {
		s.log.Warn("failed to invalidate balances", zap.Error(err))
	}
}

func (s *BalanceService) fetch(ctx context.Context, owner solana.PublicKey, mints []solana.PublicKey) (map[solana.PublicKey]uint64, error) {
	atas := make([]solana.PublicKey, len(mints))
	wantNative := false
	for i, m := range mints {
		ata, err := chain.AssociatedAddress(m, owner)
		if err != nil {
			return nil, err
		}
		atas[i] = ata
		if m.Equals(chain.NativeMint) {
			wantNative = true
		}
	}

	var (
		states []chain.TokenAccountState
		native uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		states, err = s.ledger.TokenAccounts(gctx, atas)
		return err
	})
	if wantNative {
		g.Go(func() error {
			var err error
			native, err = s.ledger.NativeBalance(gctx, owner)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(states) != len(mints) {
		return nil, fmt.Errorf("balances: got %d accounts for %d mints", len(states), len(mints))
	}

	out := make(map[solana.PublicKey]uint64, len(mints))
	for i, m := range mints {
		out[m] = states[i].Amount
		if m.Equals(chain.NativeMint) {
			out[m] += native
		}
	}
	return out, nil
}

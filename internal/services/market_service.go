package services

import (
	"context"
	"time"

	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/market"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/escrow-marketplace/backend/internal/storefront"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

type escrowSnapshot interface {
	List(ctx context.Context, network string) ([]models.Escrow, error)
	ListByMaker(ctx context.Context, network, maker string) ([]models.Escrow, error)
}

type networker interface {
	Network() chain.Network
}

type balanceReader interface {
	Balances(ctx context.Context, owner solana.PublicKey, mints []solana.PublicKey) (map[solana.PublicKey]uint64, error)
}

// MarketService renders storefront listings from the indexed snapshot.
type MarketService struct {
	snapshot    escrowSnapshot
	storefronts *storefront.Registry
	balances    balanceReader
	network     networker
	matchers    map[string]*market.Matcher
	log         *zap.Logger
}

func NewMarketService(
	snapshot escrowSnapshot,
	storefronts *storefront.Registry,
	balances balanceReader,
	network networker,
	log *zap.Logger,
) *MarketService {
	matchers := make(map[string]*market.Matcher)
	for _, sf := range storefronts.List() {
		matchers[sf.ID] = market.NewMatcher(sf)
	}
	return &MarketService{
		snapshot:    snapshot,
		storefronts: storefronts,
		balances:    balances,
		network:     network,
		matchers:    matchers,
		log:         log,
	}
}

func (s *MarketService) Storefronts() []*models.Storefront {
	return s.storefronts.List()
}

// Listings runs the storefront pipeline. With a viewer, escrows are ranked
// fillable first using the viewer's balances of every requested mint.
func (s *MarketService) Listings(ctx context.Context, storefrontID string, f market.Filter, viewer *solana.PublicKey) ([]market.Listing, error) {
	m, ok := s.matchers[storefrontID]
	if !ok {
		return nil, storefront.ErrNotFound
	}

	escrows, err := s.snapshot.List(ctx, string(s.network.Network()))
	if err != nil {
		return nil, err
	}

	var v *market.Viewer
	if viewer != nil && !viewer.IsZero() {
		v = s.viewer(ctx, *viewer, escrows)
	}
	return m.Match(escrows, f, v), nil
}

// MakerEscrows lists a wallet's own escrows with their derived status.
func (s *MarketService) MakerEscrows(ctx context.Context, maker solana.PublicKey) ([]MakerEscrow, error) {
	escrows, err := s.snapshot.ListByMaker(ctx, string(s.network.Network()), maker.String())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]MakerEscrow, len(escrows))
	for i, e := range escrows {
		out[i] = MakerEscrow{Escrow: e, Status: e.Status(now)}
	}
	return out, nil
}

type MakerEscrow struct {
	models.Escrow
	Status models.EscrowStatus `json:"status"`
}

// viewer loads balances for the request mints. Balance failures degrade to an
// anonymous listing.
func (s *MarketService) viewer(ctx context.Context, wallet solana.PublicKey, escrows []models.Escrow) *market.Viewer {
	seen := make(map[solana.PublicKey]struct{})
	var mints []solana.PublicKey
	for _, e := range escrows {
		if _, ok := seen[e.RequestToken.Mint]; ok {
			continue
		}
		seen[e.RequestToken.Mint] = struct{}{}
		mints = append(mints, e.RequestToken.Mint)
	}

	balances, err := s.balances.Balances(ctx, wallet, mints)
	if err != nil {
		s.log.Warn("failed to load balances, listing without them",
			zap.String("wallet", wallet.String()), zap.Error(err))
		return nil
	}
	return &market.Viewer{Wallet: wallet, Balances: balances}
}

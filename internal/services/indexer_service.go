package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/escrow-marketplace/backend/internal/cache"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/events"
	"github.com/escrow-marketplace/backend/internal/market"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const fingerprintTTL = 24 * time.Hour

// ProgramLedger lists the program's escrow records on the current network.
type ProgramLedger interface {
	Network() chain.Network
	ProgramEscrows(ctx context.Context, programID solana.PublicKey) ([]chain.RawEscrow, error)
}

type escrowStore interface {
	ReplaceAll(ctx context.Context, network string, escrows []models.Escrow) (int64, error)
}

// IndexerService mirrors the program's escrows into the snapshot table.
type IndexerService struct {
	ledger    ProgramLedger
	programID solana.PublicKey
	formatter *market.Formatter
	repo      escrowStore
	state     cache.Store
	publisher events.Publisher
	log       *zap.Logger
}

func NewIndexerService(
	ledger ProgramLedger,
	programID solana.PublicKey,
	tokens market.TokenResolver,
	repo escrowStore,
	state cache.Store,
	publisher events.Publisher,
	log *zap.Logger,
) *IndexerService {
	return &IndexerService{
		ledger:    ledger,
		programID: programID,
		formatter: market.NewFormatter(tokens, log),
		repo:      repo,
		state:     state,
		publisher: publisher,
		log:       log,
	}
}

// Sync runs one poll cycle. It reports whether the escrow set changed since
// the previous cycle; only then is escrows_updated published.
func (s *IndexerService) Sync(ctx context.Context) (bool, error) {
	network := string(s.ledger.Network())

	raws, err := s.ledger.ProgramEscrows(ctx, s.programID)
	if err != nil {
		return false, fmt.Errorf("list program escrows: %w", err)
	}
	escrows, err := s.formatter.FormatAll(ctx, raws)
	if err != nil {
		return false, fmt.Errorf("format escrows: %w", err)
	}

	fp := fingerprint(raws)
	key := "indexer:fingerprint:" + network
	prev, ok, err := s.state.Get(ctx, key)
	if err != nil {
		s.log.Warn("failed to read indexer state", zap.Error(err))
	}
	if ok && string(prev) == fp {
		return false, nil
	}

	removed, err := s.repo.ReplaceAll(ctx, network, escrows)
	if err != nil {
		return false, fmt.Errorf("store snapshot: %w", err)
	}
	if err := s.state.Set(ctx, key, []byte(fp), fingerprintTTL); err != nil {
		s.log.Warn("failed to save indexer state", zap.Error(err))
	}

	s.log.Info("escrow snapshot updated",
		zap.String("network", network),
		zap.Int("escrows", len(escrows)),
		zap.Int64("removed", removed),
	)
	if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowsUpdated,
		Payload: map[string]any{
			"network": network,
			"count":   len(escrows),
			"removed": removed,
		},
	}); err != nil {
		s.log.Warn("failed to publish escrows update", zap.Error(err))
	}
	return true, nil
}

// Run polls until ctx is done. A failed cycle is logged and retried on the next tick.
func (s *IndexerService) Run(ctx context.Context, interval time.Duration) {
	if _, err := s.Sync(ctx); err != nil {
		s.log.Error("poll cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.log.Error("poll cycle failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// fingerprint identifies an escrow set by address and mutable state.
func fingerprint(raws []chain.RawEscrow) string {
	lines := make([]string, len(raws))
	for i, r := range raws {
		lines[i] = fmt.Sprintf("%s:%d:%d", r.Address, r.Account.TokensDepositRemaining, r.Account.ExpireTimestamp)
	}
	slices.Sort(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

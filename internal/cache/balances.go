package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// BalanceFetcher loads raw balances of owner for mints from the ledger.
type BalanceFetcher func(ctx context.Context, owner solana.PublicKey, mints []solana.PublicKey) (map[solana.PublicKey]uint64, error)

// BalanceCache caches per-owner balances for a TTL window and collapses
// concurrent fetches of the same owner and mint set into one.
type BalanceCache struct {
	store Store
	ttl   time.Duration
	group singleflight.Group
	log   *zap.Logger
}

func NewBalanceCache(store Store, ttl time.Duration, log *zap.Logger) *BalanceCache {
	return &BalanceCache{store: store, ttl: ttl, log: log}
}

func balanceKey(network string, owner solana.PublicKey) string {
	return fmt.Sprintf("balances:%s:%s", network, owner)
}

// Get serves from cache when every requested mint is present, otherwise
// fetches all requested mints and merges them into the cached entry.
// Cache errors degrade to a direct fetch.
func (c *BalanceCache) Get(ctx context.Context, network string, owner solana.PublicKey, mints []solana.PublicKey, fetch BalanceFetcher) (map[solana.PublicKey]uint64, error) {
	key := balanceKey(network, owner)

	cached := c.load(ctx, key)
	if out, ok := pick(cached, mints); ok {
		return out, nil
	}

	sorted := make([]string, len(mints))
	for i, m := range mints {
		sorted[i] = m.String()
	}
	slices.Sort(sorted)
	flightKey := key + ":" + strings.Join(sorted, ",")

	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		fresh, err := fetch(ctx, owner, mints)
		if err != nil {
			return nil, err
		}
		merged := c.load(ctx, key)
		if merged == nil {
			merged = make(map[string]uint64, len(fresh))
		}
		for m, amount := range fresh {
			merged[m.String()] = amount
		}
		c.save(ctx, key, merged)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}

	fresh := v.(map[solana.PublicKey]uint64)
	out := make(map[solana.PublicKey]uint64, len(mints))
	for _, m := range mints {
		out[m] = fresh[m]
	}
	return out, nil
}

// Invalidate drops the owner's cached balances, e.g. after a confirmed transaction.
func (c *BalanceCache) Invalidate(ctx context.Context, network string, owners ...solana.PublicKey) error {
	keys := make([]string, 0, len(owners))
	for _, o := range owners {
		keys = append(keys, balanceKey(network, o))
	}
	return c.store.Delete(ctx, keys...)
}

func (c *BalanceCache) load(ctx context.Context, key string) map[string]uint64 {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("balance cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var m map[string]uint64
	if err := json.Unmarshal(raw, &m); err != nil {
		c.log.Warn("balance cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil
	}
	return m
}

func (c *BalanceCache) save(ctx context.Context, key string, m map[string]uint64) {
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.log.Warn("balance cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func pick(cached map[string]uint64, mints []solana.PublicKey) (map[solana.PublicKey]uint64, bool) {
	if cached == nil {
		return nil, false
	}
	out := make(map[solana.PublicKey]uint64, len(mints))
	for _, m := range mints {
		v, ok := cached[m.String()]
		if !ok {
			return nil, false
		}
		out[m] = v
	}
	return out, true
}

package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/gagliardetto/solana-go"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const fetchConcurrency = 8

// DecimalsSource reads mint decimals from the ledger.
type DecimalsSource interface {
	MintDecimals(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]uint8, error)
}

// NativeToken is served without any lookup.
var NativeToken = models.Token{
	Mint:     chain.NativeMint,
	Decimals: 9,
	Name:     "Solana",
	Symbol:   "SOL",
	IsNative: true,
}

type Resolver struct {
	ledger    DecimalsSource
	providers []Provider
	cache     *expirable.LRU[solana.PublicKey, models.Token]
	log       *zap.Logger
}

func NewResolver(ledger DecimalsSource, providers []Provider, size int, ttl time.Duration, log *zap.Logger) *Resolver {
	if size <= 0 {
		size = 1024
	}
	return &Resolver{
		ledger:    ledger,
		providers: providers,
		cache:     expirable.NewLRU[solana.PublicKey, models.Token](size, nil, ttl),
		log:       log,
	}
}

// Purge drops every cached token. Registered as a network switch hook.
func (r *Resolver) Purge() {
	r.cache.Purge()
	r.log.Info("token metadata cache purged")
}

// Lookup tries providers in order and returns the first success, or an
// *AggregateError with every provider's failure.
func (r *Resolver) Lookup(ctx context.Context, mint solana.PublicKey) (Info, error) {
	agg := &AggregateError{Mint: mint}
	for _, p := range r.providers {
		info, err := p.Fetch(ctx, mint)
		if err == nil {
			return info, nil
		}
		agg.Errors = append(agg.Errors, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(agg.Errors) == 0 {
		agg.Errors = append(agg.Errors, ErrNotFound)
	}
	return Info{}, agg
}

func (r *Resolver) Token(ctx context.Context, mint solana.PublicKey) (models.Token, error) {
	tokens, err := r.Tokens(ctx, []solana.PublicKey{mint})
	if err != nil {
		return models.Token{}, err
	}
	t, ok := tokens[mint]
	if !ok {
		return models.Token{}, fmt.Errorf("mint %s: %w", mint, ErrNotFound)
	}
	return t, nil
}

// Tokens resolves mints that exist on chain. Decimals are fetched in one
// call and a failure there is returned; display metadata is fetched
// concurrently and a mint with no metadata gets a placeholder name.
func (r *Resolver) Tokens(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]models.Token, error) {
	out := make(map[solana.PublicKey]models.Token, len(mints))
	var missing []solana.PublicKey
	for _, m := range mints {
		if m.Equals(chain.NativeMint) {
			out[m] = NativeToken
			continue
		}
		if t, ok := r.cache.Get(m); ok {
			out[m] = t
			continue
		}
		if _, dup := out[m]; !dup {
			missing = append(missing, m)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	decimals, err := r.ledger.MintDecimals(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("read mint decimals: %w", err)
	}

	var found []solana.PublicKey
	for _, m := range missing {
		if _, ok := decimals[m]; ok {
			found = append(found, m)
		} else {
			r.log.Warn("mint account not found", zap.String("mint", m.String()))
		}
	}

	infos := make([]Info, len(found))
	resolved := make([]bool, len(found))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, m := range found {
		g.Go(func() error {
			info, err := r.Lookup(gctx, m)
			if err != nil {
				r.log.Debug("token metadata unavailable", zap.String("mint", m.String()), zap.Error(err))
				info = placeholder(m)
			} else {
				resolved[i] = true
			}
			infos[i] = info
			return nil
		})
	}
	_ = g.Wait()

	for i, m := range found {
		t := models.Token{
			Mint:     m,
			Decimals: decimals[m],
			Name:     infos[i].Name,
			Symbol:   infos[i].Symbol,
			Image:    infos[i].Image,
		}
		out[m] = t
		if resolved[i] {
			r.cache.Add(m, t)
		}
	}
	return out, nil
}

func placeholder(mint solana.PublicKey) Info {
	s := mint.String()
	return Info{Name: s, Symbol: s[:4] + "…" + s[len(s)-4:]}
}

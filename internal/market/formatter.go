package market

import (
	"context"
	"fmt"

	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TokenResolver returns display metadata for every requested mint.
type TokenResolver interface {
	Tokens(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]models.Token, error)
}

type Formatter struct {
	tokens TokenResolver
	log    *zap.Logger
}

func NewFormatter(tokens TokenResolver, log *zap.Logger) *Formatter {
	return &Formatter{tokens: tokens, log: log}
}

// FormatEscrow builds the display entity from a decoded record and its resolved tokens.
func FormatEscrow(raw chain.RawEscrow, deposit, request models.Token) models.Escrow {
	acc := raw.Account
	e := models.Escrow{
		ID:                   raw.Address,
		Maker:                acc.Maker,
		DepositToken:         deposit,
		RequestToken:         request,
		DepositAmountInitial: acc.TokensDepositInit,
		DepositRemaining:     acc.TokensDepositRemaining,
		Price:                decimal.NewFromFloat(acc.Price),
		Seed:                 acc.Seed,
		ExpireTimestamp:      acc.ExpireTimestamp,
		OnlyRecipient:        acc.OnlyRecipient,
		OnlyWhitelist:        acc.OnlyWhitelist,
		AllowPartialFill:     acc.AllowPartialFill,
	}
	if !acc.Recipient.IsZero() {
		r := acc.Recipient
		e.Recipient = &r
	}
	if !acc.Whitelist.IsZero() {
		w := acc.Whitelist
		e.Whitelist = &w
	}
	return e
}

// Format resolves tokens for a single record.
func (f *Formatter) Format(ctx context.Context, raw chain.RawEscrow) (models.Escrow, error) {
	out, err := f.FormatAll(ctx, []chain.RawEscrow{raw})
	if err != nil {
		return models.Escrow{}, err
	}
	return out[0], nil
}

// FormatAll resolves all distinct mints in one pass and keeps input order.
func (f *Formatter) FormatAll(ctx context.Context, raws []chain.RawEscrow) ([]models.Escrow, error) {
	if len(raws) == 0 {
		return nil, nil
	}

	seen := make(map[solana.PublicKey]struct{})
	var mints []solana.PublicKey
	for _, r := range raws {
		for _, m := range []solana.PublicKey{r.Account.DepositToken, r.Account.RequestToken} {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				mints = append(mints, m)
			}
		}
	}

	tokens, err := f.tokens.Tokens(ctx, mints)
	if err != nil {
		return nil, fmt.Errorf("resolve escrow tokens: %w", err)
	}

	lookup := func(m solana.PublicKey) models.Token {
		if t, ok := tokens[m]; ok {
			return t
		}
		f.log.Debug("token metadata missing", zap.String("mint", m.String()))
		return models.Token{Mint: m, IsNative: m.Equals(chain.NativeMint)}
	}

	out := make([]models.Escrow, 0, len(raws))
	for _, r := range raws {
		out = append(out, FormatEscrow(r, lookup(r.Account.DepositToken), lookup(r.Account.RequestToken)))
	}
	return out, nil
}

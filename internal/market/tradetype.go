// Package market turns raw escrow records into display entities and narrows
// them to what one storefront, and one viewer, should see.
package market

import (
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/gagliardetto/solana-go"
)

type TradeType string

const (
	TradeTypeNone  TradeType = ""
	TradeTypeBuy   TradeType = "buy"
	TradeTypeSell  TradeType = "sell"
	TradeTypeTrade TradeType = "trade"
	TradeTypeSwap  TradeType = "swap"
)

func ParseTradeType(s string) (TradeType, bool) {
	switch t := TradeType(s); t {
	case TradeTypeBuy, TradeTypeSell, TradeTypeTrade, TradeTypeSwap:
		return t, true
	}
	return TradeTypeNone, false
}

// ClassifyTradeType names the trade from the maker's perspective. Escrows whose
// sides are neither a collection item nor an accepted currency get TradeTypeNone.
func ClassifyTradeType(deposit, request solana.PublicKey, collection, currencies map[solana.PublicKey]struct{}) TradeType {
	side := func(m solana.PublicKey) (item, currency bool) {
		_, item = collection[m]
		_, currency = currencies[m]
		return
	}
	depItem, depCur := side(deposit)
	reqItem, reqCur := side(request)

	switch {
	case depCur && reqCur:
		return TradeTypeSwap
	case depCur && reqItem:
		return TradeTypeBuy
	case depItem && reqCur:
		return TradeTypeSell
	case depItem && reqItem:
		return TradeTypeTrade
	default:
		return TradeTypeNone
	}
}

func mintSet(mints []solana.PublicKey) map[solana.PublicKey]struct{} {
	set := make(map[solana.PublicKey]struct{}, len(mints))
	for _, m := range mints {
		set[m] = struct{}{}
	}
	return set
}

// TradeTypeOf classifies e against a storefront.
func TradeTypeOf(e models.Escrow, sf *models.Storefront) TradeType {
	return ClassifyTradeType(e.DepositToken.Mint, e.RequestToken.Mint, sf.CollectionSet(), mintSet(sf.Currencies()))
}

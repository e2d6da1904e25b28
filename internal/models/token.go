package models

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

type Token struct {
	Mint     solana.PublicKey `json:"mint"`
	Decimals uint8            `json:"decimals"`
	Name     string           `json:"name,omitempty"`
	Symbol   string           `json:"symbol,omitempty"`
	Image    *string          `json:"image,omitempty"`
	IsNative bool             `json:"is_native"`
}

// FeeConfig is a storefront's optional fee schedule. Flat fees are in base
// currency display units, percent fees are 0-100.
type FeeConfig struct {
	Wallet          solana.PublicKey `json:"wallet"`
	MakerFlatFee    decimal.Decimal  `json:"makerFlatFee"`
	TakerFlatFee    decimal.Decimal  `json:"takerFlatFee"`
	MakerPercentFee decimal.Decimal  `json:"makerPercentFee"`
	TakerPercentFee decimal.Decimal  `json:"takerPercentFee"`
}

// Package fees computes platform, shop and network fees for both sides of a
// trade. Amounts are native-currency display units until Transfers floors
// them to lamports.
package fees

import (
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/escrow-marketplace/backend/internal/units"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Platform holds the deployment's fixed fees.
type Platform struct {
	Wallet         solana.PublicKey
	MakerFee       decimal.Decimal
	TakerFee       decimal.Decimal
	TransactionFee decimal.Decimal // estimated network fee shown to the taker
}

type ShopFee struct {
	Amount decimal.Decimal  `json:"amount"`
	Wallet solana.PublicKey `json:"wallet"`
}

// CalculateShopFee returns flat + percent/100 * tradeValue for the given side.
// The percent term is skipped when tradeValue <= 0, which includes every trade
// with no native side (see TradeValue): an SPL-for-item trade pays the flat
// fee only. ok is false when there is no config or the fee is not positive.
func CalculateShopFee(cfg *models.FeeConfig, isMaker bool, tradeValue decimal.Decimal) (ShopFee, bool) {
	if cfg == nil {
		return ShopFee{}, false
	}
	flat, pct := cfg.TakerFlatFee, cfg.TakerPercentFee
	if isMaker {
		flat, pct = cfg.MakerFlatFee, cfg.MakerPercentFee
	}

	amount := flat
	if tradeValue.IsPositive() {
		amount = amount.Add(pct.Div(hundred).Mul(tradeValue))
	}
	if !amount.IsPositive() {
		return ShopFee{}, false
	}
	return ShopFee{Amount: amount, Wallet: cfg.Wallet}, true
}

type MakerFee struct {
	Platform decimal.Decimal `json:"platform_fee"`
	Shop     *ShopFee        `json:"shop_fee,omitempty"`
	Total    decimal.Decimal `json:"total_fee"`
}

type TakerFee struct {
	Platform    decimal.Decimal `json:"platform_fee"`
	Transaction decimal.Decimal `json:"transaction_fee"`
	Shop        *ShopFee        `json:"shop_fee,omitempty"`
	Total       decimal.Decimal `json:"total_fee"`
}

func (p Platform) CalculateMakerFee(shop *models.FeeConfig, tradeValue decimal.Decimal) MakerFee {
	fee := MakerFee{Platform: p.MakerFee, Total: p.MakerFee}
	if sf, ok := CalculateShopFee(shop, true, tradeValue); ok {
		fee.Shop = &sf
		fee.Total = fee.Total.Add(sf.Amount)
	}
	return fee
}

// CalculateTakerFee sums platform, transaction and shop fees. Total is exact.
func (p Platform) CalculateTakerFee(shop *models.FeeConfig, tradeValue decimal.Decimal) TakerFee {
	fee := TakerFee{
		Platform:    p.TakerFee,
		Transaction: p.TransactionFee,
		Total:       p.TakerFee.Add(p.TransactionFee),
	}
	if sf, ok := CalculateShopFee(shop, false, tradeValue); ok {
		fee.Shop = &sf
		fee.Total = fee.Total.Add(sf.Amount)
	}
	return fee
}

// Transfer is a plain lamport transfer to a fee wallet.
type Transfer struct {
	To       solana.PublicKey `json:"to"`
	Lamports uint64           `json:"lamports"`
}

func (f MakerFee) Transfers(platformWallet solana.PublicKey) ([]Transfer, error) {
	return transfers(platformWallet, f.Platform, f.Shop)
}

// Transfers excludes the network fee, which the ledger charges itself.
func (f TakerFee) Transfers(platformWallet solana.PublicKey) ([]Transfer, error) {
	return transfers(platformWallet, f.Platform, f.Shop)
}

func transfers(platformWallet solana.PublicKey, platform decimal.Decimal, shop *ShopFee) ([]Transfer, error) {
	var out []Transfer
	lamports, err := units.Lamports(platform)
	if err != nil {
		return nil, err
	}
	if lamports > 0 {
		out = append(out, Transfer{To: platformWallet, Lamports: lamports})
	}
	if shop != nil {
		lamports, err := units.Lamports(shop.Amount)
		if err != nil {
			return nil, err
		}
		if lamports > 0 {
			out = append(out, Transfer{To: shop.Wallet, Lamports: lamports})
		}
	}
	return out, nil
}

// TradeValue is the native-currency value of a trade: the display amount of
// whichever side is the native token, or zero when neither side is.
func TradeValue(deposit models.Token, depositRaw uint64, request models.Token, requestRaw uint64) decimal.Decimal {
	switch {
	case request.IsNative:
		return units.FromSmallestUnits(requestRaw, int32(request.Decimals))
	case deposit.IsNative:
		return units.FromSmallestUnits(depositRaw, int32(deposit.Decimals))
	}
	return decimal.Zero
}

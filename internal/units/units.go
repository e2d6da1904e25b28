// Package units converts between display amounts and ledger smallest units.
package units

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// LamportDecimals is the precision of the native currency.
const LamportDecimals int32 = 9

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrAmountOverflow = errors.New("amount exceeds u64")
	ErrDecimals       = errors.New("decimals must be between 0 and 9")
)

// ToSmallestUnits floors amount to an integer count of 10^-decimals units.
func ToSmallestUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	if decimals < 0 || decimals > 9 {
		return 0, fmt.Errorf("%w: %d", ErrDecimals, decimals)
	}
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	raw := amount.Shift(decimals).Floor().BigInt()
	if !raw.IsUint64() {
		return 0, ErrAmountOverflow
	}
	return raw.Uint64(), nil
}

// FromSmallestUnits is the exact inverse of ToSmallestUnits for integer inputs.
func FromSmallestUnits(raw uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -decimals)
}

// Lamports floors a native-currency display amount.
func Lamports(sol decimal.Decimal) (uint64, error) {
	return ToSmallestUnits(sol, LamportDecimals)
}

// Raw converts a raw integer to a decimal without scaling.
func Raw(raw uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), 0)
}

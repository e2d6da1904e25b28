// Package fill sizes fills of an escrow under its partial-fill rules.
//
// Price is the raw ratio requestRaw/depositRaw fixed at creation. Deposit
// amounts are always raw units; request amounts are exposed in display units
// of the request token.
package fill

import (
	"errors"

	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/escrow-marketplace/backend/internal/units"
	"github.com/shopspring/decimal"
)

var (
	// FullFillPercent and above is a full fill.
	FullFillPercent = decimal.RequireFromString("99.99")
	// FullFillTolerance is the absolute and relative closeness to the maximum
	// request amount that counts as a full fill.
	FullFillTolerance = decimal.RequireFromString("0.0001")

	hundred = decimal.NewFromInt(100)
)

var (
	ErrNothingToFill = errors.New("escrow has nothing left to fill")
	ErrBelowMinimum  = errors.New("amount is below the minimum fillable amount")
	ErrInvalidAmount = errors.New("amount must be positive")
)

type Params struct {
	DepositRemaining uint64
	Price            decimal.Decimal
	AllowPartialFill bool
	DepositDecimals  int32
	RequestDecimals  int32
}

func FromEscrow(e models.Escrow) Params {
	return Params{
		DepositRemaining: e.DepositRemaining,
		Price:            e.Price,
		AllowPartialFill: e.AllowPartialFill,
		DepositDecimals:  int32(e.DepositToken.Decimals),
		RequestDecimals:  int32(e.RequestToken.Decimals),
	}
}

// Amount keeps deposit, request and percentage consistent with each other.
type Amount struct {
	Deposit    uint64          `json:"deposit_amount"`     // raw, sent to exchange
	RequestRaw uint64          `json:"request_amount_raw"` // what the taker pays
	Request    decimal.Decimal `json:"request_amount"`
	Percentage decimal.Decimal `json:"percentage"`
	Full       bool            `json:"full"`
}

// priceDigits is the precision kept from a deposit x price product. The
// ledger stores price as an f64, so digits past this are float noise.
const priceDigits = 12

// roundSignificant rounds d to priceDigits significant digits, never into the
// integer part.
func roundSignificant(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return d
	}
	places := priceDigits - (int32(d.NumDigits()) + d.Exponent())
	if places < 0 {
		places = 0
	}
	return d.Round(places)
}

// requestRawFor rounds the request side of a deposit amount up, so the taker
// never underpays the ledger. 7 x 0.7142857142857143 is 5, not 6.
func (p Params) requestRawFor(deposit uint64) uint64 {
	raw := roundSignificant(units.Raw(deposit).Mul(p.Price)).Ceil().BigInt()
	if !raw.IsUint64() {
		return ^uint64(0)
	}
	return raw.Uint64()
}

func (p Params) display(raw uint64) decimal.Decimal {
	v := units.FromSmallestUnits(raw, p.RequestDecimals)
	if p.RequestDecimals == 0 {
		v = v.Floor()
	}
	return v
}

// Max is the full fill: exactly DepositRemaining.
func (p Params) Max() Amount {
	reqRaw := p.requestRawFor(p.DepositRemaining)
	return Amount{
		Deposit:    p.DepositRemaining,
		RequestRaw: reqRaw,
		Request:    p.display(reqRaw),
		Percentage: hundred,
		Full:       true,
	}
}

// MinRequestRaw is the value of one smallest deposit unit, rounded up to one
// smallest request unit, never less than 1.
func (p Params) MinRequestRaw() uint64 {
	m := p.requestRawFor(1)
	if m == 0 {
		return 1
	}
	return m
}

// MinRequest is MinRequestRaw in display units.
func (p Params) MinRequest() decimal.Decimal {
	return units.FromSmallestUnits(p.MinRequestRaw(), p.RequestDecimals)
}

func (p Params) percentOf(deposit uint64) decimal.Decimal {
	if p.DepositRemaining == 0 {
		return decimal.Zero
	}
	return units.Raw(deposit).Mul(hundred).Div(units.Raw(p.DepositRemaining))
}

// FromPercentage sizes a fill from a percentage of the remaining deposit.
func (p Params) FromPercentage(pct decimal.Decimal) (Amount, error) {
	if p.DepositRemaining == 0 {
		return Amount{}, ErrNothingToFill
	}
	if !p.AllowPartialFill || pct.GreaterThanOrEqual(FullFillPercent) {
		return p.Max(), nil
	}
	if !pct.IsPositive() {
		return Amount{}, ErrInvalidAmount
	}

	deposit := units.Raw(p.DepositRemaining).Mul(pct).Div(hundred).Floor().BigInt().Uint64()
	if deposit == 0 {
		return Amount{}, ErrBelowMinimum
	}
	reqRaw := p.requestRawFor(deposit)
	return Amount{
		Deposit:    deposit,
		RequestRaw: reqRaw,
		Request:    p.display(reqRaw),
		Percentage: p.percentOf(deposit),
	}, nil
}

// FromRequestAmount sizes a fill from a request-token display amount.
func (p Params) FromRequestAmount(request decimal.Decimal) (Amount, error) {
	if p.DepositRemaining == 0 {
		return Amount{}, ErrNothingToFill
	}
	if !p.AllowPartialFill {
		return p.Max(), nil
	}
	if !request.IsPositive() {
		return Amount{}, ErrInvalidAmount
	}

	full := p.Max()
	if isFull(request, full.Request) || p.Price.IsZero() {
		return full, nil
	}
	if p.RequestDecimals == 0 {
		request = request.Floor()
	}

	reqRaw, err := units.ToSmallestUnits(request, p.RequestDecimals)
	if err != nil {
		return Amount{}, err
	}
	if reqRaw < p.MinRequestRaw() {
		return Amount{}, ErrBelowMinimum
	}
	depBig := roundSignificant(units.Raw(reqRaw).Div(p.Price)).Floor().BigInt()
	if !depBig.IsUint64() || depBig.Uint64() >= p.DepositRemaining {
		return full, nil
	}
	deposit := depBig.Uint64()
	if deposit == 0 {
		return Amount{}, ErrBelowMinimum
	}
	reqRaw = p.requestRawFor(deposit)
	return Amount{
		Deposit:    deposit,
		RequestRaw: reqRaw,
		Request:    p.display(reqRaw),
		Percentage: p.percentOf(deposit),
	}, nil
}

func isFull(request, full decimal.Decimal) bool {
	if request.GreaterThanOrEqual(full) {
		return true
	}
	diff := full.Sub(request).Abs()
	if diff.LessThanOrEqual(FullFillTolerance) {
		return true
	}
	return full.IsPositive() && diff.Div(full).LessThanOrEqual(FullFillTolerance)
}

// CanFill reports whether a raw request-token balance covers the smallest
// allowed fill: the minimum unit with partial fills, the whole escrow otherwise.
func (p Params) CanFill(balanceRaw uint64) bool {
	if p.DepositRemaining == 0 {
		return false
	}
	if p.AllowPartialFill {
		return balanceRaw >= p.MinRequestRaw()
	}
	return balanceRaw >= p.Max().RequestRaw
}

package models

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

type EscrowStatus string

// Escrow statuses
const (
	EscrowStatusActive  EscrowStatus = "active"
	EscrowStatusFilled  EscrowStatus = "filled"
	EscrowStatusExpired EscrowStatus = "expired"
)

// Escrow is an immutable snapshot of one on-chain offer.
// Status is never stored, see Status.
type Escrow struct {
	ID                   solana.PublicKey  `json:"id"`
	Maker                solana.PublicKey  `json:"maker"`
	DepositToken         Token             `json:"deposit_token"`
	RequestToken         Token             `json:"request_token"`
	DepositAmountInitial uint64            `json:"deposit_amount_initial"`
	DepositRemaining     uint64            `json:"deposit_remaining"`
	Price                decimal.Decimal   `json:"price"` // raw request units per raw deposit unit
	Seed                 uint64            `json:"seed"`
	ExpireTimestamp      int64             `json:"expire_timestamp"` // 0 = never
	Recipient            *solana.PublicKey `json:"recipient,omitempty"`
	OnlyRecipient        bool              `json:"only_recipient"`
	OnlyWhitelist        bool              `json:"only_whitelist"`
	AllowPartialFill     bool              `json:"allow_partial_fill"`
	Whitelist            *solana.PublicKey `json:"whitelist,omitempty"`
}

// Status checks filled, then expired, then active.
func (e Escrow) Status(now time.Time) EscrowStatus {
	return DeriveStatus(e.DepositRemaining, e.ExpireTimestamp, now)
}

func DeriveStatus(depositRemaining uint64, expireTimestamp int64, now time.Time) EscrowStatus {
	if depositRemaining == 0 {
		return EscrowStatusFilled
	}
	if expireTimestamp > 0 && expireTimestamp < now.Unix() {
		return EscrowStatusExpired
	}
	return EscrowStatusActive
}

// ReservedFor reports whether only a specific taker may fill the escrow.
func (e Escrow) ReservedFor() (solana.PublicKey, bool) {
	if e.Recipient == nil || !e.OnlyRecipient {
		return solana.PublicKey{}, false
	}
	return *e.Recipient, true
}

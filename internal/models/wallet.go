package models

import (
	"time"

	"github.com/google/uuid"
)

type Wallet struct {
	Address     string    `json:"address"` // base58
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// SignInNonce is a single-use challenge embedded in the sign-in message.
type SignInNonce struct {
	ID        uuid.UUID `json:"id"`
	Nonce     string    `json:"nonce"`
	Wallet    string    `json:"-"`
	CreatedAt time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"-"`
}

package dto

type NonceRequest struct {
	Address string `json:"address"`
}

type WalletSignInRequest struct {
	Address   string `json:"address"`
	Domain    string `json:"domain"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issued_at"` // RFC3339
	Signature string `json:"signature"` // base58 или base64
}

// OpenEscrowRequest amounts are display units as decimal strings.
type OpenEscrowRequest struct {
	StorefrontID     string  `json:"storefront_id,omitempty"`
	DepositMint      string  `json:"deposit_mint"`
	RequestMint      string  `json:"request_mint"`
	DepositAmount    string  `json:"deposit_amount"`
	RequestAmount    string  `json:"request_amount"`
	ExpireTimestamp  int64   `json:"expire_timestamp,omitempty"` // 0 = never
	AllowPartialFill bool    `json:"allow_partial_fill"`
	OnlyWhitelist    bool    `json:"only_whitelist,omitempty"`
	Slippage         uint16  `json:"slippage,omitempty"` // basis points
	Recipient        *string `json:"recipient,omitempty"`
	Whitelist        *string `json:"whitelist,omitempty"`
	Seed             uint64  `json:"seed,omitempty"`
}

// FillEscrowRequest: request_amount wins over percentage; neither = whole escrow.
type FillEscrowRequest struct {
	StorefrontID  string  `json:"storefront_id,omitempty"`
	Percentage    *string `json:"percentage,omitempty"`
	RequestAmount *string `json:"request_amount,omitempty"`
}

type SubmitTxRequest struct {
	Transaction string `json:"transaction"` // signed, base64
}

type SwitchNetworkRequest struct {
	Network string `json:"network"`
}

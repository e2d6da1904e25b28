package dto

type AuthResponse struct {
	Token  string `json:"token"`
	Wallet any    `json:"wallet"`
}

// ErrorResponse Type is the error kind (walletNotReady, networkError, ...)
// when the failure came from an escrow operation.
type ErrorResponse struct {
	Error     string `json:"error"`
	Type      string `json:"type,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type NonceResponse struct {
	Nonce     string `json:"nonce"`
	Domain    string `json:"domain"`
	IssuedAt  string `json:"issued_at"`
	Message   string `json:"message"` // exact text the wallet signs
	ExpiresAt string `json:"expires_at"`
}

type SubmitTxResponse struct {
	Signature string `json:"signature"`
}

type NetworkResponse struct {
	Network  string `json:"network"`
	Switched bool   `json:"switched"`
}

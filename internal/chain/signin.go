package chain

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

const (
	// MaxSignInAge: максимальный возраст подписи (защита от replay).
	MaxSignInAge = 5 * time.Minute

	signInTimeLayout = time.RFC3339
)

// SignIn содержит данные, подписанные кошельком при входе.
type SignIn struct {
	Address   string `json:"address"` // base58
	Domain    string `json:"domain"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issued_at"` // RFC3339
	Signature string `json:"signature"` // base58 или base64
}

// SignInMessage собирает текст, который кошелёк подписывает через signMessage.
func SignInMessage(domain, address, nonce, issuedAt string) string {
	return fmt.Sprintf("%s wants you to sign in with your Solana account:\n%s\n\nNonce: %s\nIssued At: %s",
		domain, address, nonce, issuedAt)
}

// VerifySignIn проверяет подпись сообщения входа.
//
// 1. issued_at не старше MaxSignInAge и не из будущего
// 2. domain входит в список разрешённых (пустой список = dev mode)
// 3. ed25519.Verify(address, message, signature)
func VerifySignIn(in SignIn, allowedDomains []string, now time.Time) (solana.PublicKey, error) {
	issued, err := time.Parse(signInTimeLayout, in.IssuedAt)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid issued_at: %w", err)
	}
	if now.Sub(issued) > MaxSignInAge {
		return solana.PublicKey{}, fmt.Errorf("sign-in expired: %s old", now.Sub(issued).Round(time.Second))
	}
	if issued.After(now.Add(1 * time.Minute)) {
		return solana.PublicKey{}, fmt.Errorf("sign-in timestamp is in the future")
	}

	if !isDomainAllowed(in.Domain, allowedDomains) {
		return solana.PublicKey{}, fmt.Errorf("domain %q not in allowed list", in.Domain)
	}

	pub, err := ParsePublicKey(in.Address)
	if err != nil {
		return solana.PublicKey{}, err
	}

	sig, err := decodeSignature(in.Signature)
	if err != nil {
		return solana.PublicKey{}, err
	}

	msg := SignInMessage(in.Domain, in.Address, in.Nonce, in.IssuedAt)
	if !ed25519.Verify(ed25519.PublicKey(pub.Bytes()), []byte(msg), sig) {
		return solana.PublicKey{}, fmt.Errorf("invalid signature")
	}
	return pub, nil
}

func decodeSignature(s string) ([]byte, error) {
	if sig, err := solana.SignatureFromBase58(s); err == nil {
		return sig[:], nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("signature is neither base58 nor base64")
	}
	if len(b) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: %d", len(b))
	}
	return b, nil
}

func isDomainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, d := range allowed {
		if d == domain {
			return true
		}
	}
	return false
}

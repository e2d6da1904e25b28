package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// TokenListProvider queries a token-list API that serves one JSON document
// per mint at <baseURL>/<mint>.
type TokenListProvider struct {
	baseURL string
	client  *http.Client
}

func NewTokenListProvider(baseURL string, timeout time.Duration) *TokenListProvider {
	return &TokenListProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

func (p *TokenListProvider) Name() string { return "token-list" }

type tokenListEntry struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	LogoURI string `json:"logoURI"`
}

func (p *TokenListProvider) Fetch(ctx context.Context, mint solana.PublicKey) (Info, error) {
	resp, err := get(ctx, p.client, fmt.Sprintf("%s/%s", p.baseURL, mint), "application/json")
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	var entry tokenListEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return Info{}, fmt.Errorf("decode token list entry: %w", err)
	}
	if entry.Name == "" && entry.Symbol == "" {
		return Info{}, ErrNotFound
	}
	return Info{
		Name:   strings.TrimSpace(entry.Name),
		Symbol: strings.TrimSpace(entry.Symbol),
		Image:  strPtr(entry.LogoURI),
	}, nil
}

// Package metadata resolves display metadata (name, symbol, image) for token
// mints. Decimals always come from the mint account on chain.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

var ErrNotFound = errors.New("token metadata not found")

type Info struct {
	Name   string
	Symbol string
	Image  *string
}

// Provider is one metadata source. Resolver tries providers in order.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, mint solana.PublicKey) (Info, error)
}

// AggregateError collects the failure of every provider for one mint.
type AggregateError struct {
	Mint   solana.PublicKey
	Errors []error
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("metadata for %s: %s", e.Mint, strings.Join(parts, "; "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func get(ctx context.Context, client *http.Client, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}
	return resp, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

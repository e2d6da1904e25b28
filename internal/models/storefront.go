package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

type CollectionItemKind int

const (
	// LegacyMintRef is a bare mint address in the collection list.
	LegacyMintRef CollectionItemKind = iota
	// DetailedItem carries fetching and classification metadata.
	DetailedItem
)

type ItemDetail struct {
	FetchingType         string `json:"fetchingType,omitempty"`
	ItemType             string `json:"itemType,omitempty"`
	Class                string `json:"class,omitempty"`
	SellerFeeBasisPoints uint16 `json:"sellerFeeBasisPoints,omitempty"`
}

// CollectionItem is either a LegacyMintRef or a DetailedItem.
// Detail is nil exactly when Kind == LegacyMintRef.
type CollectionItem struct {
	Kind   CollectionItemKind
	Mint   solana.PublicKey
	Detail *ItemDetail
}

func NewLegacyItem(mint solana.PublicKey) CollectionItem {
	return CollectionItem{Kind: LegacyMintRef, Mint: mint}
}

func NewDetailedItem(mint solana.PublicKey, d ItemDetail) CollectionItem {
	return CollectionItem{Kind: DetailedItem, Mint: mint, Detail: &d}
}

// Class returns the item class, empty for legacy references.
func (c CollectionItem) Class() string {
	if c.Detail == nil {
		return ""
	}
	return c.Detail.Class
}

func (c *CollectionItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		mint, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return fmt.Errorf("collection mint %q: %w", s, err)
		}
		*c = NewLegacyItem(mint)
		return nil
	}

	var obj struct {
		Mint string `json:"mint"`
		ItemDetail
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	mint, err := solana.PublicKeyFromBase58(obj.Mint)
	if err != nil {
		return fmt.Errorf("collection mint %q: %w", obj.Mint, err)
	}
	*c = NewDetailedItem(mint, obj.ItemDetail)
	return nil
}

func (c CollectionItem) MarshalJSON() ([]byte, error) {
	if c.Kind == LegacyMintRef || c.Detail == nil {
		return json.Marshal(c.Mint.String())
	}
	return json.Marshal(struct {
		Mint string `json:"mint"`
		ItemDetail
	}{Mint: c.Mint.String(), ItemDetail: *c.Detail})
}

// Storefront is the static configuration of one shop.
type Storefront struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	CollectionMints  []CollectionItem   `json:"collectionMints"`
	BaseCurrency     solana.PublicKey   `json:"baseCurrency"`
	CustomCurrencies []solana.PublicKey `json:"customCurrencies,omitempty"`
	ShopFee          *FeeConfig         `json:"shopFee,omitempty"`
}

func (s *Storefront) CollectionSet() map[solana.PublicKey]struct{} {
	set := make(map[solana.PublicKey]struct{}, len(s.CollectionMints))
	for _, it := range s.CollectionMints {
		set[it.Mint] = struct{}{}
	}
	return set
}

// Currencies returns the base currency followed by custom currencies.
func (s *Storefront) Currencies() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, 1+len(s.CustomCurrencies))
	out = append(out, s.BaseCurrency)
	for _, c := range s.CustomCurrencies {
		if !c.Equals(s.BaseCurrency) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Storefront) ItemClass(mint solana.PublicKey) string {
	for _, it := range s.CollectionMints {
		if it.Mint.Equals(mint) {
			return it.Class()
		}
	}
	return ""
}

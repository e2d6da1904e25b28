package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	past := now.Unix() - 10
	future := now.Unix() + 10

	tests := []struct {
		name      string
		remaining uint64
		expire    int64
		expected  EscrowStatus
	}{
		{"never expires", 100, 0, EscrowStatusActive},
		{"future expiry", 100, future, EscrowStatusActive},
		{"expired", 100, past, EscrowStatusExpired},
		{"expires exactly now", 100, now.Unix(), EscrowStatusActive},
		{"filled beats expired", 0, past, EscrowStatusFilled},
		{"filled no expiry", 0, 0, EscrowStatusFilled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.remaining, tt.expire, now)
			if got != tt.expected {
				t.Errorf("DeriveStatus(%d, %d) = %s, want %s", tt.remaining, tt.expire, got, tt.expected)
			}
			e := Escrow{DepositRemaining: tt.remaining, ExpireTimestamp: tt.expire}
			if e.Status(now) != got {
				t.Errorf("Escrow.Status disagrees with DeriveStatus")
			}
		})
	}
}

func TestReservedFor(t *testing.T) {
	x := solana.NewWallet().PublicKey()

	e := Escrow{}
	if _, ok := e.ReservedFor(); ok {
		t.Fatal("nil recipient must be public")
	}

	e.Recipient = &x
	if _, ok := e.ReservedFor(); ok {
		t.Fatal("recipient without only_recipient must be public")
	}

	e.OnlyRecipient = true
	got, ok := e.ReservedFor()
	if !ok || !got.Equals(x) {
		t.Fatalf("expected reservation for %s", x)
	}
}

func TestCollectionItem_JSON(t *testing.T) {
	legacy := solana.NewWallet().PublicKey()
	detailed := solana.NewWallet().PublicKey()

	raw := `{
		"id": "shop-1",
		"name": "Shop",
		"collectionMints": [
			"` + legacy.String() + `",
			{"mint": "` + detailed.String() + `", "fetchingType": "onchain", "itemType": "nft", "class": "legendary", "sellerFeeBasisPoints": 500}
		],
		"baseCurrency": "So11111111111111111111111111111111111111112",
		"shopFee": {"wallet": "` + legacy.String() + `", "makerFlatFee": 0.01, "takerFlatFee": "0.02", "makerPercentFee": 1, "takerPercentFee": 2.5}
	}`

	var sf Storefront
	if err := json.Unmarshal([]byte(raw), &sf); err != nil {
		t.Fatalf("unmarshal storefront: %v", err)
	}
	if len(sf.CollectionMints) != 2 {
		t.Fatalf("expected 2 items, got %d", len(sf.CollectionMints))
	}

	first, second := sf.CollectionMints[0], sf.CollectionMints[1]
	if first.Kind != LegacyMintRef || first.Detail != nil || !first.Mint.Equals(legacy) {
		t.Errorf("first item should be a legacy ref: %+v", first)
	}
	if second.Kind != DetailedItem || second.Class() != "legendary" || second.Detail.SellerFeeBasisPoints != 500 {
		t.Errorf("second item should be detailed: %+v", second)
	}
	if sf.ItemClass(detailed) != "legendary" || sf.ItemClass(legacy) != "" {
		t.Errorf("unexpected item classes")
	}
	if sf.ShopFee == nil || sf.ShopFee.TakerPercentFee.String() != "2.5" {
		t.Errorf("shop fee not parsed: %+v", sf.ShopFee)
	}

	out, err := json.Marshal(first)
	if err != nil || string(out) != `"`+legacy.String()+`"` {
		t.Errorf("legacy item must marshal back to a bare string, got %s (%v)", out, err)
	}
}

func TestCollectionItem_InvalidMint(t *testing.T) {
	var it CollectionItem
	if err := json.Unmarshal([]byte(`"not-a-key"`), &it); err == nil {
		t.Fatal("expected error for invalid mint")
	}
}

package chain

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEscrowAccount(t *testing.T) {
	want := EscrowAccount{
		Maker:                  solana.NewWallet().PublicKey(),
		DepositToken:           solana.NewWallet().PublicKey(),
		RequestToken:           NativeMint,
		TokensDepositInit:      1_000_000,
		TokensDepositRemaining: 250_000,
		Price:                  0.001,
		Seed:                   99,
		ExpireTimestamp:        1_900_000_000,
		OnlyRecipient:          true,
		AllowPartialFill:       true,
		Recipient:              solana.NewWallet().PublicKey(),
	}

	data := EncodeEscrowAccount(want)
	require.Len(t, data, EscrowAccountSize)
	assert.Equal(t, want.Maker.Bytes(), data[MakerOffset:MakerOffset+32])

	got, err := DecodeEscrowAccount(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, got.Whitelist.IsZero())
}

func TestDecodeEscrowAccount_Rejects(t *testing.T) {
	_, err := DecodeEscrowAccount(make([]byte, 10))
	assert.ErrorIs(t, err, ErrNotEscrowAccount)

	data := EncodeEscrowAccount(EscrowAccount{Maker: solana.NewWallet().PublicKey()})
	data[0] ^= 0xff
	_, err = DecodeEscrowAccount(data)
	assert.ErrorIs(t, err, ErrNotEscrowAccount)
}

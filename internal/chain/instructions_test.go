package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func disc(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

func testEscrowAccounts(t *testing.T, maker solana.PublicKey) EscrowAccounts {
	t.Helper()
	acc, err := DeriveEscrowAccounts(maker, 7, testProgramID)
	require.NoError(t, err)
	return acc
}

func TestNewInitializeInstruction(t *testing.T) {
	maker := solana.NewWallet().PublicKey()
	escrow := testEscrowAccounts(t, maker)

	args := InitializeArgs{
		Seed:             7,
		DepositAmount:    1_000_000,
		RequestAmount:    5_000_000_000,
		ExpireTimestamp:  1_800_000_000,
		AllowPartialFill: true,
		OnlyWhitelist:    false,
		Slippage:         50,
	}
	ix, err := NewInitializeInstruction(testProgramID, args, InitializeAccounts{
		Maker:           maker,
		DepositMint:     solana.NewWallet().PublicKey(),
		RequestMint:     NativeMint,
		MakerDepositATA: solana.NewWallet().PublicKey(),
		Escrow:          escrow,
	})
	require.NoError(t, err)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 8+8+8+8+8+1+1+2)
	assert.Equal(t, disc("initialize"), data[:8])
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(data[16:24]))
	assert.Equal(t, uint64(5_000_000_000), binary.LittleEndian.Uint64(data[24:32]))
	assert.Equal(t, int64(1_800_000_000), int64(binary.LittleEndian.Uint64(data[32:40])))
	assert.Equal(t, byte(1), data[40])
	assert.Equal(t, byte(0), data[41])
	assert.Equal(t, uint16(50), binary.LittleEndian.Uint16(data[42:44]))

	accounts := ix.Accounts()
	require.Len(t, accounts, 13)
	assert.True(t, accounts[0].IsSigner)
	// Public escrow: recipient and whitelist slots carry the program id marker.
	assert.Equal(t, testProgramID, accounts[7].PublicKey)
	assert.Equal(t, testProgramID, accounts[8].PublicKey)
	assert.Equal(t, testProgramID, ix.ProgramID())
}

func TestNewInitializeInstruction_Recipient(t *testing.T) {
	maker := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()

	ix, err := NewInitializeInstruction(testProgramID, InitializeArgs{Seed: 1, DepositAmount: 1, RequestAmount: 1}, InitializeAccounts{
		Maker:     maker,
		Escrow:    testEscrowAccounts(t, maker),
		Recipient: &recipient,
	})
	require.NoError(t, err)
	assert.Equal(t, recipient, ix.Accounts()[7].PublicKey)
}

func TestNewExchangeInstruction(t *testing.T) {
	maker := solana.NewWallet().PublicKey()
	taker := solana.NewWallet().PublicKey()

	ix, err := NewExchangeInstruction(testProgramID, 123_456, ExchangeAccounts{
		Taker:  taker,
		Maker:  maker,
		Escrow: testEscrowAccounts(t, maker),
	})
	require.NoError(t, err)

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, disc("exchange"), data[:8])
	assert.Equal(t, uint64(123_456), binary.LittleEndian.Uint64(data[8:]))

	accounts := ix.Accounts()
	require.Len(t, accounts, 15)
	assert.Equal(t, taker, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.False(t, accounts[1].IsSigner)
	// No whitelist: the slot is still present, marked with the program id.
	assert.Equal(t, testProgramID, accounts[11].PublicKey)
}

func TestNewCancelInstruction(t *testing.T) {
	maker := solana.NewWallet().PublicKey()
	ix := NewCancelInstruction(testProgramID, CancelAccounts{Maker: maker, Escrow: testEscrowAccounts(t, maker)})

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, disc("cancel"), data)
	assert.Len(t, ix.Accounts(), 9)
}

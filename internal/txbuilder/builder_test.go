package txbuilder

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/escrow-marketplace/backend/internal/apperr"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/fees"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testProgramID = solana.MustPublicKeyFromBase58("EscRowGzZ7Fjwq3eBtm2rKJsCqjzyyWbJ3H2GxE5Ciob")

type fakeLedger struct {
	accounts map[solana.PublicKey]chain.TokenAccountState
	err      error
	calls    int
}

func (f *fakeLedger) TokenAccounts(_ context.Context, keys []solana.PublicKey) ([]chain.TokenAccountState, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]chain.TokenAccountState, len(keys))
	for i, k := range keys {
		out[i] = f.accounts[k]
	}
	return out, nil
}

func (f *fakeLedger) set(mint, owner solana.PublicKey, amount uint64) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(err)
	}
	f.accounts[ata] = chain.TokenAccountState{Exists: true, Amount: amount}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	ledger  *fakeLedger
	builder *Builder
	maker   solana.PublicKey
	taker   solana.PublicKey
	item    models.Token
	sol     models.Token
}

func newEnv(enforceTakerFees bool) env {
	ledger := &fakeLedger{accounts: map[solana.PublicKey]chain.TokenAccountState{}}
	cfg := Config{
		ProgramID:          testProgramID,
		ContractFeeAccount: solana.NewWallet().PublicKey(),
		Platform: fees.Platform{
			Wallet:         solana.NewWallet().PublicKey(),
			MakerFee:       d("0.01"),
			TakerFee:       d("0.005"),
			TransactionFee: d("0.000005"),
		},
		EnforceTakerFees: enforceTakerFees,
	}
	return env{
		ledger:  ledger,
		builder: New(ledger, cfg, zap.NewNop()),
		maker:   solana.NewWallet().PublicKey(),
		taker:   solana.NewWallet().PublicKey(),
		item:    models.Token{Mint: solana.NewWallet().PublicKey(), Decimals: 0, Symbol: "ITEM"},
		sol:     models.Token{Mint: chain.NativeMint, Decimals: 9, Symbol: "SOL", IsNative: true},
	}
}

func (e env) openParams() OpenParams {
	return OpenParams{
		Maker:            e.maker,
		DepositToken:     e.item,
		RequestToken:     e.sol,
		DepositAmount:    1,
		RequestAmount:    2_000_000_000,
		Seed:             77,
		AllowPartialFill: true,
		Slippage:         50,
	}
}

func transferLamports(t *testing.T, ix solana.Instruction) uint64 {
	t.Helper()
	require.Equal(t, solana.SystemProgramID, ix.ProgramID())
	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 12)
	return binary.LittleEndian.Uint64(data[4:])
}

func TestOpen_RejectsSystemRecipientBeforeNetwork(t *testing.T) {
	for _, recipient := range []solana.PublicKey{solana.SystemProgramID, {}} {
		e := newEnv(false)
		p := e.openParams()
		r := recipient
		p.Recipient = &r

		res, err := e.builder.Open(context.Background(), p)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrAddressDerivation)
		assert.ErrorIs(t, err, ErrRecipientIsSystem)
		assert.Empty(t, res.Instructions)
		assert.Zero(t, e.ledger.calls)
	}
}

func TestOpen_PublicEscrow(t *testing.T) {
	e := newEnv(false)
	e.ledger.set(e.item.Mint, e.maker, 1)
	e.ledger.set(e.sol.Mint, e.maker, 0)

	res, err := e.builder.Open(context.Background(), e.openParams())
	require.NoError(t, err)
	require.Len(t, res.Instructions, 2, "maker fee transfer + initialize")

	assert.Equal(t, uint64(10_000_000), transferLamports(t, res.Instructions[0]))

	init := res.Instructions[1]
	assert.Equal(t, testProgramID, init.ProgramID())
	accs := init.Accounts()
	require.Len(t, accs, 13)
	assert.Equal(t, e.maker, accs[0].PublicKey)
	assert.True(t, accs[0].IsSigner)
	assert.Equal(t, res.Accounts.Escrow, accs[4].PublicKey)
	assert.Equal(t, testProgramID, accs[7].PublicKey, "absent recipient carries the null marker")
	assert.Equal(t, testProgramID, accs[8].PublicKey, "absent whitelist carries the null marker")

	want, err := chain.DeriveEscrowAccounts(e.maker, 77, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, want, res.Accounts)

	assert.Equal(t, uint64(10_000_000), res.Cost.FeeLamports)
	assert.Zero(t, res.Cost.RentLamports)
	require.NotNil(t, res.Cost.MakerFee)
}

func TestOpen_CreatesMissingAccountsAndShopFee(t *testing.T) {
	e := newEnv(false)
	e.ledger.set(e.item.Mint, e.maker, 1)
	shop := &models.FeeConfig{Wallet: solana.NewWallet().PublicKey(), MakerPercentFee: d("1")}

	p := e.openParams()
	recipient := solana.NewWallet().PublicKey()
	p.Recipient = &recipient
	p.FeeConfig = shop

	res, err := e.builder.Open(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, res.Instructions, 4, "create request account, platform fee, shop fee, initialize")

	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, res.Instructions[0].ProgramID())
	assert.Equal(t, uint64(10_000_000), transferLamports(t, res.Instructions[1]))
	assert.Equal(t, uint64(20_000_000), transferLamports(t, res.Instructions[2])) // 1% of 2 SOL
	assert.Equal(t, recipient, res.Instructions[3].Accounts()[7].PublicKey)

	assert.Equal(t, chain.ATARentLamports, res.Cost.RentLamports)
	assert.Equal(t, 1, res.Cost.CreatedAccounts)
	assert.Equal(t, uint64(30_000_000), res.Cost.FeeLamports)
}

func TestOpen_WrapsNativeDeposit(t *testing.T) {
	e := newEnv(false)
	p := e.openParams()
	p.DepositToken, p.RequestToken = e.sol, e.item
	p.DepositAmount, p.RequestAmount = 5_000_000, 1

	res, err := e.builder.Open(context.Background(), p)
	require.NoError(t, err)
	// wrapped create, wrap transfer, sync, create item account, fee, initialize
	require.Len(t, res.Instructions, 6)
	assert.Equal(t, uint64(7_039_280), transferLamports(t, res.Instructions[1]))
	assert.Equal(t, uint64(5_000_000), res.Cost.WrapLamports)
	assert.Equal(t, 2*chain.ATARentLamports, res.Cost.RentLamports)
}

func TestOpen_Validation(t *testing.T) {
	e := newEnv(false)

	p := e.openParams()
	p.Maker = solana.PublicKey{}
	_, err := e.builder.Open(context.Background(), p)
	assert.ErrorIs(t, err, apperr.ErrWalletNotReady)

	p = e.openParams()
	p.DepositAmount = 0
	_, err = e.builder.Open(context.Background(), p)
	assert.ErrorIs(t, err, apperr.ErrAccountState)

	p = e.openParams()
	p.RequestToken = p.DepositToken
	_, err = e.builder.Open(context.Background(), p)
	assert.ErrorIs(t, err, apperr.ErrAccountState)

	assert.Zero(t, e.ledger.calls)
}

func TestOpen_LedgerFailureIsRetryable(t *testing.T) {
	e := newEnv(false)
	e.ledger.err = errors.New("dial tcp: connection refused")

	_, err := e.builder.Open(context.Background(), e.openParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNetwork)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.True(t, ae.Retryable)
}

func (e env) fillParams() FillParams {
	return FillParams{
		Maker:         e.maker,
		Taker:         e.taker,
		DepositToken:  e.item,
		RequestToken:  e.sol,
		Amount:        1,
		RequestAmount: 5_000_000,
		Seed:          77,
	}
}

func TestFill_WrapsNativeRequest(t *testing.T) {
	e := newEnv(false)
	e.ledger.set(e.item.Mint, e.taker, 0)
	e.ledger.set(e.sol.Mint, e.maker, 0)

	res, err := e.builder.Fill(context.Background(), e.fillParams())
	require.NoError(t, err)
	require.Len(t, res.Instructions, 4, "create wrapped, transfer, sync, exchange")

	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, res.Instructions[0].ProgramID())
	assert.Equal(t, uint64(7_039_280), transferLamports(t, res.Instructions[1]))
	assert.Equal(t, solana.TokenProgramID, res.Instructions[2].ProgramID())

	ex := res.Instructions[3]
	assert.Equal(t, testProgramID, ex.ProgramID())
	data, err := ex.Data()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(data[8:]))
	accs := ex.Accounts()
	require.Len(t, accs, 15)
	assert.Equal(t, e.taker, accs[0].PublicKey)
	assert.Equal(t, e.builder.Config().ContractFeeAccount, accs[10].PublicKey)
	assert.Equal(t, testProgramID, accs[11].PublicKey)

	// escrow is derived from the maker, not the taker
	want, err := chain.DeriveEscrowAccounts(e.maker, 77, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, want, res.Accounts)

	// fees are quoted but not charged
	require.NotNil(t, res.Cost.TakerFee)
	assert.True(t, res.Cost.TakerFee.Total.Equal(d("0.005005")))
	assert.Zero(t, res.Cost.FeeLamports)
	assert.Equal(t, uint64(5_000_000), res.Cost.WrapLamports)
	assert.Equal(t, chain.ATARentLamports, res.Cost.RentLamports)
}

func TestFill_EnforcedFeesAndMakerAccount(t *testing.T) {
	e := newEnv(true)
	e.ledger.set(e.item.Mint, e.taker, 0)
	e.ledger.set(e.sol.Mint, e.taker, 9_000_000)

	res, err := e.builder.Fill(context.Background(), e.fillParams())
	require.NoError(t, err)
	// wrapped balance covers the request; the maker's wrapped account is created by the taker
	require.Len(t, res.Instructions, 3)

	create := res.Instructions[0]
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, create.ProgramID())
	assert.Equal(t, e.taker, create.Accounts()[0].PublicKey, "taker pays")
	assert.Equal(t, e.maker, create.Accounts()[2].PublicKey, "maker owns")

	assert.Equal(t, uint64(5_000_000), transferLamports(t, res.Instructions[1]))
	assert.Equal(t, testProgramID, res.Instructions[2].ProgramID())
	assert.Equal(t, uint64(5_000_000), res.Cost.FeeLamports)
	assert.Zero(t, res.Cost.WrapLamports)
}

func TestFill_Validation(t *testing.T) {
	e := newEnv(false)

	p := e.fillParams()
	p.Taker = solana.PublicKey{}
	_, err := e.builder.Fill(context.Background(), p)
	assert.ErrorIs(t, err, apperr.ErrWalletNotReady)

	p = e.fillParams()
	p.Taker = p.Maker
	_, err = e.builder.Fill(context.Background(), p)
	assert.ErrorIs(t, err, apperr.ErrAccountState)

	p = e.fillParams()
	p.Amount = 0
	_, err = e.builder.Fill(context.Background(), p)
	assert.ErrorIs(t, err, apperr.ErrAccountState)

	assert.Zero(t, e.ledger.calls)

	e.ledger.err = apperr.Network(errors.New("i/o timeout"))
	_, err = e.builder.Fill(context.Background(), e.fillParams())
	assert.ErrorIs(t, err, apperr.ErrNetwork)
}

func TestCancel(t *testing.T) {
	e := newEnv(true)

	res, err := e.builder.Cancel(e.maker, e.item, e.sol, 77)
	require.NoError(t, err)
	require.Len(t, res.Instructions, 1)
	assert.Equal(t, testProgramID, res.Instructions[0].ProgramID())
	assert.Len(t, res.Instructions[0].Accounts(), 9)
	assert.Nil(t, res.Cost.MakerFee)
	assert.Nil(t, res.Cost.TakerFee)
	assert.Zero(t, e.ledger.calls)

	_, err = e.builder.Cancel(solana.PublicKey{}, e.item, e.sol, 77)
	assert.ErrorIs(t, err, apperr.ErrWalletNotReady)
}

func TestResultTransaction(t *testing.T) {
	e := newEnv(false)
	res, err := e.builder.Cancel(e.maker, e.item, e.sol, 1)
	require.NoError(t, err)

	tx, err := res.Transaction(e.maker, solana.Hash{1})
	require.NoError(t, err)
	assert.Equal(t, e.maker, tx.Message.AccountKeys[0])
}

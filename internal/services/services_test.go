package services

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/escrow-marketplace/backend/internal/apperr"
	"github.com/escrow-marketplace/backend/internal/cache"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/events"
	"github.com/escrow-marketplace/backend/internal/fees"
	"github.com/escrow-marketplace/backend/internal/market"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/escrow-marketplace/backend/internal/storefront"
	"github.com/escrow-marketplace/backend/internal/txbuilder"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testProgramID = solana.MustPublicKeyFromBase58("EscRowGzZ7Fjwq3eBtm2rKJsCqjzyyWbJ3H2GxE5Ciob")

type fakeChain struct {
	network  chain.Network
	accounts map[solana.PublicKey]chain.TokenAccountState
	native   uint64
	escrows  map[solana.PublicKey]chain.EscrowAccount
	program  []chain.RawEscrow
	sendErr  error
	sent     []*solana.Transaction
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		network:  chain.Devnet,
		accounts: map[solana.PublicKey]chain.TokenAccountState{},
		escrows:  map[solana.PublicKey]chain.EscrowAccount{},
	}
}

func (f *fakeChain) Network() chain.Network { return f.network }

func (f *fakeChain) TokenAccounts(_ context.Context, keys []solana.PublicKey) ([]chain.TokenAccountState, error) {
	out := make([]chain.TokenAccountState, len(keys))
	for i, k := range keys {
		out[i] = f.accounts[k]
	}
	return out, nil
}

func (f *fakeChain) NativeBalance(context.Context, solana.PublicKey) (uint64, error) {
	return f.native, nil
}

func (f *fakeChain) LatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{1, 2, 3}, nil
}

func (f *fakeChain) Escrow(_ context.Context, address solana.PublicKey) (chain.EscrowAccount, error) {
	acc, ok := f.escrows[address]
	if !ok {
		return chain.EscrowAccount{}, chain.ErrEscrowNotFound
	}
	return acc, nil
}

func (f *fakeChain) ProgramEscrows(context.Context, solana.PublicKey) ([]chain.RawEscrow, error) {
	return f.program, nil
}

func (f *fakeChain) SendAndConfirm(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.sent = append(f.sent, tx)
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return tx.Signatures[0], nil
}

func (f *fakeChain) setToken(mint, owner solana.PublicKey, amount uint64) {
	ata, err := chain.AssociatedAddress(mint, owner)
	if err != nil {
		panic(err)
	}
	f.accounts[ata] = chain.TokenAccountState{Exists: true, Amount: amount}
}

type stubTokens map[solana.PublicKey]models.Token

func (s stubTokens) Tokens(_ context.Context, mints []solana.PublicKey) (map[solana.PublicKey]models.Token, error) {
	out := make(map[solana.PublicKey]models.Token)
	for _, m := range mints {
		if t, ok := s[m]; ok {
			out[m] = t
		}
	}
	return out, nil
}

type recordingAudit struct {
	entries []models.AuditLog
	err     error
}

func (r *recordingAudit) Log(_ context.Context, e models.AuditLog) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

type env struct {
	chain    *fakeChain
	bus      *events.MemoryBus
	audit    *recordingAudit
	balances *BalanceService
	svc      *EscrowService
	item     models.Token
	sol      models.Token
	maker    solana.PublicKey
	taker    solana.PublicKey
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zap.NewNop()
	e := &env{
		chain: newFakeChain(),
		bus:   events.NewMemoryBus(),
		audit: &recordingAudit{},
		item:  models.Token{Mint: solana.NewWallet().PublicKey(), Decimals: 0, Name: "Iron Sword", Symbol: "SWRD"},
		sol:   models.Token{Mint: chain.NativeMint, Decimals: 9, Name: "Solana", Symbol: "SOL", IsNative: true},
		maker: solana.NewWallet().PublicKey(),
		taker: solana.NewWallet().PublicKey(),
	}
	tokens := stubTokens{e.item.Mint: e.item, e.sol.Mint: e.sol}
	builder := txbuilder.New(e.chain, txbuilder.Config{
		ProgramID:          testProgramID,
		ContractFeeAccount: solana.NewWallet().PublicKey(),
		Platform: fees.Platform{
			Wallet:         solana.NewWallet().PublicKey(),
			MakerFee:       decimal.RequireFromString("0.01"),
			TakerFee:       decimal.RequireFromString("0.01"),
			TransactionFee: decimal.RequireFromString("0.000005"),
		},
		EnforceTakerFees: true,
	}, log)
	e.balances = NewBalanceService(e.chain, cache.NewBalanceCache(cache.NewMemoryStore(), time.Minute, log), log)
	e.svc = NewEscrowService(e.chain, builder, tokens, nil, e.balances, e.audit, e.bus, log)
	return e
}

// addEscrow registers an on-chain escrow selling 10 items for 0.1 SOL each.
func (e *env) addEscrow(mutate func(*chain.EscrowAccount)) solana.PublicKey {
	id := solana.NewWallet().PublicKey()
	acc := chain.EscrowAccount{
		Maker:                  e.maker,
		DepositToken:           e.item.Mint,
		RequestToken:           chain.NativeMint,
		TokensDepositInit:      10,
		TokensDepositRemaining: 10,
		Price:                  100_000_000,
		Seed:                   7,
		AllowPartialFill:       true,
	}
	if mutate != nil {
		mutate(&acc)
	}
	e.chain.escrows[id] = acc
	return id
}

func decodeTx(t *testing.T, s string) *solana.Transaction {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	require.NoError(t, err)
	return tx
}

func TestEscrowService_Open(t *testing.T) {
	e := newEnv(t)
	e.chain.setToken(e.item.Mint, e.maker, 3)

	out, err := e.svc.Open(context.Background(), OpenRequest{
		Maker:            e.maker,
		DepositMint:      e.item.Mint,
		RequestMint:      chain.NativeMint,
		DepositAmount:    decimal.NewFromInt(3),
		RequestAmount:    decimal.RequireFromString("1.5"),
		AllowPartialFill: true,
		Seed:             42,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(42), out.Seed)
	want, err := chain.DeriveEscrowAccounts(e.maker, 42, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, want, out.Accounts)

	tx := decodeTx(t, out.Transaction)
	assert.True(t, tx.Message.AccountKeys[0].Equals(e.maker), "maker pays")
	assert.Len(t, tx.Signatures, 1)
	assert.Equal(t, solana.Signature{}, tx.Signatures[0])
	assert.Equal(t, 1, out.Cost.CreatedAccounts, "maker has no wrapped SOL account yet")

	require.Len(t, e.audit.entries, 1)
	assert.Equal(t, "escrow_open_built", e.audit.entries[0].Action)
	assert.Equal(t, want.Escrow.String(), e.audit.entries[0].EntityID)
}

func TestEscrowService_OpenErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Open(ctx, OpenRequest{DepositMint: e.item.Mint, RequestMint: chain.NativeMint})
	assert.ErrorIs(t, err, apperr.ErrWalletNotReady)

	_, err = e.svc.Open(ctx, OpenRequest{
		Maker:         e.maker,
		DepositMint:   solana.NewWallet().PublicKey(),
		RequestMint:   chain.NativeMint,
		DepositAmount: decimal.NewFromInt(1),
		RequestAmount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, apperr.ErrAccountState)
	assert.ErrorIs(t, err, ErrUnknownToken)

	system := solana.SystemProgramID
	_, err = e.svc.Open(ctx, OpenRequest{
		Maker:         e.maker,
		DepositMint:   e.item.Mint,
		RequestMint:   chain.NativeMint,
		DepositAmount: decimal.NewFromInt(1),
		RequestAmount: decimal.NewFromInt(1),
		Recipient:     &system,
	})
	assert.ErrorIs(t, err, apperr.ErrAddressDerivation)
}

func TestEscrowService_FillWholeByDefault(t *testing.T) {
	e := newEnv(t)
	id := e.addEscrow(nil)

	out, err := e.svc.Fill(context.Background(), e.taker, id, FillRequest{})
	require.NoError(t, err)
	require.NotNil(t, out.Fill)
	assert.True(t, out.Fill.Full)
	assert.Equal(t, uint64(10), out.Fill.Deposit)
	assert.Equal(t, uint64(1_000_000_000), out.Fill.RequestRaw)

	tx := decodeTx(t, out.Transaction)
	assert.True(t, tx.Message.AccountKeys[0].Equals(e.taker), "taker pays for everything")
	assert.Len(t, tx.Signatures, 1, "no co-signer")
	require.NotNil(t, out.Cost.TakerFee)
}

func TestEscrowService_FillRules(t *testing.T) {
	ctx := context.Background()

	t.Run("reserved for another wallet", func(t *testing.T) {
		e := newEnv(t)
		id := e.addEscrow(func(a *chain.EscrowAccount) {
			a.Recipient = e.taker
			a.OnlyRecipient = true
		})
		_, err := e.svc.Fill(ctx, solana.NewWallet().PublicKey(), id, FillRequest{})
		assert.ErrorIs(t, err, ErrReserved)
		assert.ErrorIs(t, err, apperr.ErrAccountState)

		_, err = e.svc.Fill(ctx, e.taker, id, FillRequest{})
		assert.NoError(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		e := newEnv(t)
		id := e.addEscrow(func(a *chain.EscrowAccount) {
			a.ExpireTimestamp = time.Now().Add(-time.Hour).Unix()
		})
		_, err := e.svc.Fill(ctx, e.taker, id, FillRequest{})
		assert.ErrorIs(t, err, ErrNotActive)
	})

	t.Run("below minimum", func(t *testing.T) {
		e := newEnv(t)
		id := e.addEscrow(nil)
		tiny := decimal.RequireFromString("0.01")
		_, err := e.svc.Fill(ctx, e.taker, id, FillRequest{RequestAmount: &tiny})
		assert.ErrorIs(t, err, apperr.ErrAccountState)
	})

	t.Run("unknown escrow", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Fill(ctx, e.taker, solana.NewWallet().PublicKey(), FillRequest{})
		assert.ErrorIs(t, err, chain.ErrEscrowNotFound)
	})

	t.Run("no wallet", func(t *testing.T) {
		e := newEnv(t)
		id := e.addEscrow(nil)
		_, err := e.svc.Fill(ctx, solana.PublicKey{}, id, FillRequest{})
		assert.ErrorIs(t, err, apperr.ErrWalletNotReady)
	})
}

func TestEscrowService_Quote(t *testing.T) {
	e := newEnv(t)
	id := e.addEscrow(nil)

	half := decimal.NewFromInt(50)
	q, err := e.svc.Quote(context.Background(), id, FillRequest{Percentage: &half})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), q.Amount.Deposit)
	assert.Equal(t, uint64(500_000_000), q.Amount.RequestRaw)
	assert.True(t, q.Max.Full)
	assert.True(t, q.MinRequest.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, q.TakerFee.Total.Equal(decimal.RequireFromString("0.010005")))
}

func TestEscrowService_Cancel(t *testing.T) {
	e := newEnv(t)
	id := e.addEscrow(nil)
	ctx := context.Background()

	_, err := e.svc.Cancel(ctx, e.taker, id)
	assert.ErrorIs(t, err, ErrNotMaker)

	out, err := e.svc.Cancel(ctx, e.maker, id)
	require.NoError(t, err)
	tx := decodeTx(t, out.Transaction)
	assert.Len(t, tx.Message.Instructions, 1)
}

func signedTransfer(t *testing.T, signer solana.PrivateKey) string {
	t.Helper()
	ix := system.NewTransferInstruction(1, signer.PublicKey(), solana.NewWallet().PublicKey()).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{9}, solana.TransactionPayer(signer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	})
	require.NoError(t, err)
	data, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestEscrowService_Submit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wallet := solana.NewWallet()
	owner := wallet.PublicKey()

	var got []events.Event
	require.NoError(t, e.bus.Subscribe(ctx, events.StreamEscrow, func(ev events.Event) { got = append(got, ev) }))

	e.chain.native = 5
	bal, err := e.balances.Balances(ctx, owner, []solana.PublicKey{chain.NativeMint})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), bal[chain.NativeMint])
	e.chain.native = 7

	sig, err := e.svc.Submit(ctx, owner, signedTransfer(t, wallet.PrivateKey))
	require.NoError(t, err)
	require.Len(t, e.chain.sent, 1)
	assert.Equal(t, e.chain.sent[0].Signatures[0], sig)

	require.Len(t, got, 1)
	assert.Equal(t, events.EventTxConfirmed, got[0].Type)
	assert.Equal(t, sig.String(), got[0].Payload["signature"])

	bal, err = e.balances.Balances(ctx, owner, []solana.PublicKey{chain.NativeMint})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), bal[chain.NativeMint], "balances are refetched after a confirmed transaction")

	last := e.audit.entries[len(e.audit.entries)-1]
	assert.Equal(t, "tx_confirmed", last.Action)
	assert.Equal(t, "transaction", last.EntityType)
	assert.Equal(t, sig.String(), last.EntityID)
	assert.Equal(t, "devnet", last.Meta.(map[string]any)["network"])
}

func TestEscrowService_SubmitAuditFailureIsLogged(t *testing.T) {
	e := newEnv(t)
	core, logs := observer.New(zap.WarnLevel)
	e.svc.log = zap.New(core)
	e.audit.err = errors.New("connection refused")

	wallet := solana.NewWallet()
	sig, err := e.svc.Submit(context.Background(), wallet.PublicKey(), signedTransfer(t, wallet.PrivateKey))
	require.NoError(t, err, "a confirmed transaction is not undone by a failed audit write")

	entries := logs.FilterMessage("failed to write audit log").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "tx_confirmed", entries[0].ContextMap()["action"])
	assert.Equal(t, sig.String(), entries[0].ContextMap()["entity"])
}

func TestEscrowService_SubmitErrors(t *testing.T) {
	ctx := context.Background()
	wallet := solana.NewWallet()

	t.Run("other signer", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Submit(ctx, solana.NewWallet().PublicKey(), signedTransfer(t, wallet.PrivateKey))
		assert.ErrorIs(t, err, ErrSignerMismatch)
		assert.Empty(t, e.chain.sent)
	})

	t.Run("garbage", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Submit(ctx, wallet.PublicKey(), "%%%")
		assert.ErrorIs(t, err, apperr.ErrAccountState)
	})

	t.Run("network failure is retryable", func(t *testing.T) {
		e := newEnv(t)
		e.chain.sendErr = apperr.Network(errors.New("connection reset"))
		_, err := e.svc.Submit(ctx, wallet.PublicKey(), signedTransfer(t, wallet.PrivateKey))
		var ae *apperr.Error
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, apperr.KindNetwork, ae.Kind)
		assert.True(t, ae.Retryable)
	})

	t.Run("program error", func(t *testing.T) {
		e := newEnv(t)
		e.chain.sendErr = errors.New("Transaction simulation failed: custom program error: 0x1771")
		_, err := e.svc.Submit(ctx, wallet.PublicKey(), signedTransfer(t, wallet.PrivateKey))
		code, ok := apperr.ProgramCode(err)
		require.True(t, ok)
		assert.Equal(t, 0x1771, code)
	})
}

func TestBalanceService_NativeIncludesWrapped(t *testing.T) {
	c := newFakeChain()
	owner := solana.NewWallet().PublicKey()
	usdc := solana.NewWallet().PublicKey()
	c.native = 1_000
	c.setToken(chain.NativeMint, owner, 500)
	c.setToken(usdc, owner, 42)

	svc := NewBalanceService(c, cache.NewBalanceCache(cache.NewMemoryStore(), time.Minute, zap.NewNop()), zap.NewNop())
	got, err := svc.Balances(context.Background(), owner, []solana.PublicKey{chain.NativeMint, usdc})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500), got[chain.NativeMint])
	assert.Equal(t, uint64(42), got[usdc])
}

type fakeStore struct {
	calls   int
	network string
	escrows []models.Escrow
}

func (f *fakeStore) ReplaceAll(_ context.Context, network string, escrows []models.Escrow) (int64, error) {
	f.calls++
	f.network = network
	f.escrows = escrows
	return 0, nil
}

func TestIndexerService_Sync(t *testing.T) {
	c := newFakeChain()
	item := models.Token{Mint: solana.NewWallet().PublicKey(), Symbol: "SWRD"}
	raw := chain.RawEscrow{
		Address: solana.NewWallet().PublicKey(),
		Account: chain.EscrowAccount{
			Maker:                  solana.NewWallet().PublicKey(),
			DepositToken:           item.Mint,
			RequestToken:           chain.NativeMint,
			TokensDepositInit:      4,
			TokensDepositRemaining: 4,
			Price:                  1_000,
		},
	}
	c.program = []chain.RawEscrow{raw}

	store := &fakeStore{}
	bus := events.NewMemoryBus()
	var updates int
	require.NoError(t, bus.Subscribe(context.Background(), events.StreamEscrow, func(ev events.Event) {
		if ev.Type == events.EventEscrowsUpdated {
			updates++
		}
	}))
	tokens := stubTokens{item.Mint: item}
	svc := NewIndexerService(c, testProgramID, tokens, store, cache.NewMemoryStore(), bus, zap.NewNop())
	ctx := context.Background()

	changed, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, store.escrows, 1)
	assert.Equal(t, "SWRD", store.escrows[0].DepositToken.Symbol)

	changed, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, store.calls)

	c.program[0].Account.TokensDepositRemaining = 1
	changed, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, updates)
}

type fakeSwitcher struct {
	network chain.Network
	hooks   []func(chain.Network)
}

func (f *fakeSwitcher) Network() chain.Network { return f.network }

func (f *fakeSwitcher) OnSwitch(fn func(chain.Network)) { f.hooks = append(f.hooks, fn) }

func (f *fakeSwitcher) Switch(n chain.Network) bool {
	if n == f.network {
		return false
	}
	f.network = n
	for _, h := range f.hooks {
		h(n)
	}
	return true
}

func TestNetworkService_Switch(t *testing.T) {
	sw := &fakeSwitcher{network: chain.Devnet}
	bus := events.NewMemoryBus()
	var got []events.Event
	require.NoError(t, bus.Subscribe(context.Background(), events.StreamEscrow, func(ev events.Event) { got = append(got, ev) }))

	purged := 0
	state := cache.NewMemoryStore()
	svc := NewNetworkService(sw, state, bus, zap.NewNop(), func() { purged++ })
	ctx := context.Background()

	switched, err := svc.Switch(ctx, "mainnet-beta", "admin")
	require.NoError(t, err)
	assert.True(t, switched)
	assert.Equal(t, 1, purged)
	require.Len(t, got, 1)
	assert.Equal(t, events.EventNetworkSwitched, got[0].Type)
	assert.Equal(t, "devnet", got[0].Payload["from"])

	persisted, ok, err := state.Get(ctx, activeNetworkKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mainnet-beta", string(persisted))

	switched, err = svc.Switch(ctx, "mainnet-beta", "admin")
	require.NoError(t, err)
	assert.False(t, switched)
	assert.Equal(t, 1, purged)

	_, err = svc.Switch(ctx, "moonnet", "admin")
	assert.Error(t, err)
}

// networkLedger is a switchable ledger with a separate escrow set per network.
type networkLedger struct {
	*fakeSwitcher
	program map[chain.Network][]chain.RawEscrow
}

func (l *networkLedger) ProgramEscrows(context.Context, solana.PublicKey) ([]chain.RawEscrow, error) {
	return l.program[l.network], nil
}

func TestNetworkService_FollowMovesIndexer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	item := models.Token{Mint: solana.NewWallet().PublicKey(), Symbol: "SWRD"}
	raw := func() chain.RawEscrow {
		return chain.RawEscrow{
			Address: solana.NewWallet().PublicKey(),
			Account: chain.EscrowAccount{
				Maker:                  solana.NewWallet().PublicKey(),
				DepositToken:           item.Mint,
				RequestToken:           chain.NativeMint,
				TokensDepositInit:      1,
				TokensDepositRemaining: 1,
				Price:                  1_000,
			},
		}
	}
	ledger := &networkLedger{
		fakeSwitcher: &fakeSwitcher{network: chain.Devnet},
		program: map[chain.Network][]chain.RawEscrow{
			chain.Devnet:  {raw()},
			chain.Mainnet: {raw(), raw()},
		},
	}

	bus := events.NewMemoryBus()
	state := cache.NewMemoryStore()

	// api process
	api := NewNetworkService(&fakeSwitcher{network: chain.Devnet}, state, bus, zap.NewNop())

	// indexer process
	purged := 0
	follower := NewNetworkService(ledger, state, bus, zap.NewNop(), func() { purged++ })
	require.NoError(t, follower.Follow(ctx, bus))
	store := &fakeStore{}
	indexer := NewIndexerService(ledger, testProgramID, stubTokens{item.Mint: item}, store, state, bus, zap.NewNop())

	_, err := indexer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "devnet", store.network)
	assert.Len(t, store.escrows, 1)

	switched, err := api.Switch(ctx, "mainnet", "admin")
	require.NoError(t, err)
	require.True(t, switched)
	assert.Equal(t, chain.Mainnet, ledger.Network())
	assert.Equal(t, 1, purged)

	changed, err := indexer.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "mainnet-beta", store.network)
	assert.Len(t, store.escrows, 2)

	// A process started later picks the switch up from the store.
	late := &fakeSwitcher{network: chain.Devnet}
	require.NoError(t, NewNetworkService(late, state, bus, zap.NewNop()).Restore(ctx))
	assert.Equal(t, chain.Mainnet, late.Network())
}

func TestNetworkService_FollowIgnoresOtherEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := &fakeSwitcher{network: chain.Devnet}
	bus := events.NewMemoryBus()
	require.NoError(t, NewNetworkService(sw, nil, bus, zap.NewNop()).Follow(ctx, bus))

	require.NoError(t, bus.Publish(ctx, events.StreamEscrow, events.Event{Type: events.EventEscrowsUpdated, Payload: map[string]any{"to": "mainnet"}}))
	require.NoError(t, bus.Publish(ctx, events.StreamEscrow, events.Event{Type: events.EventNetworkSwitched, Payload: map[string]any{"to": "moonnet"}}))
	assert.Equal(t, chain.Devnet, sw.Network())

	require.NoError(t, bus.Publish(ctx, events.StreamEscrow, events.Event{Type: events.EventNetworkSwitched, Payload: map[string]any{"to": "localhost"}}))
	assert.Equal(t, chain.Localnet, sw.Network())
}

func TestExpiryService_Sweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	since := now.Add(-time.Minute)
	mk := func(expire int64) models.Escrow {
		return models.Escrow{ID: solana.NewWallet().PublicKey(), DepositRemaining: 1, ExpireTimestamp: expire}
	}
	justExpired := mk(now.Unix() - 10)
	snap := &networkSnapshot{byNetwork: map[string][]models.Escrow{
		"mainnet-beta": {
			justExpired,
			mk(0),                 // never expires
			mk(since.Unix()),      // reported by the previous sweep
			mk(now.Unix() + 3600), // still open
		},
	}}

	bus := events.NewMemoryBus()
	var got []events.Event
	require.NoError(t, bus.Subscribe(context.Background(), events.StreamEscrow, func(ev events.Event) { got = append(got, ev) }))

	// SOLANA_NETWORK=mainnet resolves to the name the indexer writes under.
	network, err := chain.ParseNetwork("mainnet")
	require.NoError(t, err)
	svc := NewExpiryService(snap, &fakeSwitcher{network: network}, bus, zap.NewNop())

	expired, err := svc.Sweep(context.Background(), since, now)
	require.NoError(t, err)
	assert.Equal(t, []string{justExpired.ID.String()}, expired)
	require.Len(t, got, 1)
	assert.Equal(t, events.EventEscrowsUpdated, got[0].Type)
	assert.Equal(t, "mainnet-beta", got[0].Payload["network"])

	expired, err = svc.Sweep(context.Background(), now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.Len(t, got, 1)
}

type networkSnapshot struct {
	byNetwork map[string][]models.Escrow
}

func (n *networkSnapshot) List(_ context.Context, network string) ([]models.Escrow, error) {
	return n.byNetwork[network], nil
}

func (n *networkSnapshot) ListByMaker(context.Context, string, string) ([]models.Escrow, error) {
	return nil, nil
}

type pagedAudit struct {
	limit, offset int
	entries       []models.AuditLog
}

func (p *pagedAudit) GetByEntity(_ context.Context, _, _ string, limit, offset int) ([]models.AuditLog, error) {
	p.limit, p.offset = limit, offset
	return p.entries, nil
}

func TestAuditService_History(t *testing.T) {
	repo := &pagedAudit{}
	svc := NewAuditService(repo, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{10, 20, 10, 20},
		{1000, -5, 100, 0},
	}
	for _, tt := range tests {
		logs, err := svc.History(ctx, "escrow", "abc", tt.limit, tt.offset)
		require.NoError(t, err)
		assert.NotNil(t, logs, "empty history renders as []")
		assert.Equal(t, tt.wantLimit, repo.limit)
		assert.Equal(t, tt.wantOffset, repo.offset)
	}
}

type fakeSnapshot struct {
	escrows []models.Escrow
}

func (f *fakeSnapshot) List(context.Context, string) ([]models.Escrow, error) {
	return f.escrows, nil
}

func (f *fakeSnapshot) ListByMaker(_ context.Context, _ string, maker string) ([]models.Escrow, error) {
	var out []models.Escrow
	for _, e := range f.escrows {
		if e.Maker.String() == maker {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubBalances map[solana.PublicKey]uint64

func (s stubBalances) Balances(context.Context, solana.PublicKey, []solana.PublicKey) (map[solana.PublicKey]uint64, error) {
	return s, nil
}

func TestMarketService_Listings(t *testing.T) {
	sword := models.Token{Mint: solana.NewWallet().PublicKey(), Symbol: "SWRD"}
	sol := models.Token{Mint: chain.NativeMint, Decimals: 9, Symbol: "SOL", IsNative: true}
	maker := solana.NewWallet().PublicKey()
	viewer := solana.NewWallet().PublicKey()

	mk := func(price int64) models.Escrow {
		return models.Escrow{
			ID:                   solana.NewWallet().PublicKey(),
			Maker:                maker,
			DepositToken:         sword,
			RequestToken:         sol,
			DepositAmountInitial: 1,
			DepositRemaining:     1,
			Price:                decimal.NewFromInt(price),
		}
	}
	cheap, pricey := mk(10), mk(1_000_000)
	snap := &fakeSnapshot{escrows: []models.Escrow{pricey, cheap}}

	reg, err := storefront.New(&models.Storefront{
		ID:              "armory",
		CollectionMints: []models.CollectionItem{models.NewLegacyItem(sword.Mint)},
		BaseCurrency:    chain.NativeMint,
	})
	require.NoError(t, err)

	svc := NewMarketService(snap, reg, stubBalances{chain.NativeMint: 100}, newFakeChain(), zap.NewNop())
	ctx := context.Background()

	got, err := svc.Listings(ctx, "armory", market.Filter{TradeType: market.TradeTypeSell}, &viewer)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, cheap.ID, got[0].Escrow.ID, "fillable first")
	assert.True(t, got[0].Fillable)
	assert.False(t, got[1].Fillable)

	_, err = svc.Listings(ctx, "nope", market.Filter{}, nil)
	assert.ErrorIs(t, err, storefront.ErrNotFound)

	mine, err := svc.MakerEscrows(ctx, maker)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	assert.Equal(t, models.EscrowStatusActive, mine[0].Status)
}

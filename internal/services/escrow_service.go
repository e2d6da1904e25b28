package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/escrow-marketplace/backend/internal/apperr"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/events"
	"github.com/escrow-marketplace/backend/internal/fees"
	"github.com/escrow-marketplace/backend/internal/fill"
	"github.com/escrow-marketplace/backend/internal/market"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/escrow-marketplace/backend/internal/storefront"
	"github.com/escrow-marketplace/backend/internal/txbuilder"
	"github.com/escrow-marketplace/backend/internal/units"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrNotMaker       = errors.New("only the maker can cancel an escrow")
	ErrNotActive      = errors.New("escrow is not active")
	ErrReserved       = errors.New("escrow is reserved for another wallet")
	ErrUnknownToken   = errors.New("token mint not found")
	ErrSignerMismatch = errors.New("transaction fee payer is not the authenticated wallet")
)

// EscrowLedger is everything the escrow operations read from or send to the chain.
type EscrowLedger interface {
	txbuilder.Ledger
	Network() chain.Network
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Escrow(ctx context.Context, address solana.PublicKey) (chain.EscrowAccount, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

type auditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

type EscrowService struct {
	ledger      EscrowLedger
	builder     *txbuilder.Builder
	tokens      market.TokenResolver
	formatter   *market.Formatter
	storefronts *storefront.Registry
	balances    *BalanceService
	auditRepo   auditLogger
	publisher   events.Publisher
	log         *zap.Logger
}

func NewEscrowService(
	ledger EscrowLedger,
	builder *txbuilder.Builder,
	tokens market.TokenResolver,
	storefronts *storefront.Registry,
	balances *BalanceService,
	auditRepo auditLogger,
	publisher events.Publisher,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		ledger:      ledger,
		builder:     builder,
		tokens:      tokens,
		formatter:   market.NewFormatter(tokens, log),
		storefronts: storefronts,
		balances:    balances,
		auditRepo:   auditRepo,
		publisher:   publisher,
		log:         log,
	}
}

// UnsignedTx is a built transaction waiting for the wallet's signature.
type UnsignedTx struct {
	Transaction string               `json:"transaction"` // base64, signature slots zeroed
	Blockhash   string               `json:"blockhash"`
	Accounts    chain.EscrowAccounts `json:"accounts"`
	Seed        uint64               `json:"seed,omitempty"`
	Cost        txbuilder.Cost       `json:"cost"`
	Fill        *fill.Amount         `json:"fill,omitempty"`
}

type OpenRequest struct {
	StorefrontID     string
	Maker            solana.PublicKey
	DepositMint      solana.PublicKey
	RequestMint      solana.PublicKey
	DepositAmount    decimal.Decimal // display units
	RequestAmount    decimal.Decimal // display units
	ExpireTimestamp  int64
	AllowPartialFill bool
	OnlyWhitelist    bool
	Slippage         uint16
	Recipient        *solana.PublicKey
	Whitelist        *solana.PublicKey
	Seed             uint64 // 0 = random
}

// FillRequest sizes a fill by request amount, else by percentage, else whole.
type FillRequest struct {
	StorefrontID  string
	Percentage    *decimal.Decimal
	RequestAmount *decimal.Decimal
}

type Quote struct {
	Amount     fill.Amount     `json:"amount"`
	Max        fill.Amount     `json:"max"`
	MinRequest decimal.Decimal `json:"min_request_amount"`
	TakerFee   fees.TakerFee   `json:"taker_fee"`
}

// GetEscrow reads the escrow straight from the chain.
func (s *EscrowService) GetEscrow(ctx context.Context, id solana.PublicKey) (models.Escrow, error) {
	e, err := s.loadEscrow(ctx, id)
	if err != nil {
		return models.Escrow{}, apperr.Normalize("load escrow", err)
	}
	return e, nil
}

func (s *EscrowService) loadEscrow(ctx context.Context, id solana.PublicKey) (models.Escrow, error) {
	acc, err := s.ledger.Escrow(ctx, id)
	if err != nil {
		if errors.Is(err, chain.ErrEscrowNotFound) || errors.Is(err, chain.ErrNotEscrowAccount) {
			return models.Escrow{}, apperr.AccountState("Escrow not found", err)
		}
		return models.Escrow{}, err
	}
	return s.formatter.Format(ctx, chain.RawEscrow{Address: id, Account: acc})
}

func (s *EscrowService) Open(ctx context.Context, req OpenRequest) (*UnsignedTx, error) {
	out, err := s.open(ctx, req)
	if err != nil {
		return nil, apperr.Normalize("create escrow", err)
	}
	return out, nil
}

func (s *EscrowService) open(ctx context.Context, req OpenRequest) (*UnsignedTx, error) {
	if req.Maker.IsZero() {
		return nil, apperr.WalletNotReady()
	}
	feeCfg, err := s.feeConfig(req.StorefrontID)
	if err != nil {
		return nil, err
	}

	tokens, err := s.tokens.Tokens(ctx, []solana.PublicKey{req.DepositMint, req.RequestMint})
	if err != nil {
		return nil, err
	}
	dep, ok := tokens[req.DepositMint]
	if !ok {
		return nil, apperr.AccountState("Deposit token not found", ErrUnknownToken)
	}
	reqTok, ok := tokens[req.RequestMint]
	if !ok {
		return nil, apperr.AccountState("Request token not found", ErrUnknownToken)
	}

	depositRaw, err := units.ToSmallestUnits(req.DepositAmount, int32(dep.Decimals))
	if err != nil {
		return nil, apperr.AccountState("Invalid deposit amount", err)
	}
	requestRaw, err := units.ToSmallestUnits(req.RequestAmount, int32(reqTok.Decimals))
	if err != nil {
		return nil, apperr.AccountState("Invalid request amount", err)
	}

	seed := req.Seed
	if seed == 0 {
		seed = randomSeed()
	}

	res, err := s.builder.Open(ctx, txbuilder.OpenParams{
		Maker:            req.Maker,
		DepositToken:     dep,
		RequestToken:     reqTok,
		DepositAmount:    depositRaw,
		RequestAmount:    requestRaw,
		Seed:             seed,
		ExpireTimestamp:  req.ExpireTimestamp,
		AllowPartialFill: req.AllowPartialFill,
		OnlyWhitelist:    req.OnlyWhitelist,
		Slippage:         req.Slippage,
		Recipient:        req.Recipient,
		Whitelist:        req.Whitelist,
		FeeConfig:        feeCfg,
	})
	if err != nil {
		return nil, err
	}

	out, err := s.unsigned(ctx, res, req.Maker)
	if err != nil {
		return nil, err
	}
	out.Seed = seed

	s.audit(ctx, req.Maker, "escrow_open_built", res.Accounts.Escrow, map[string]any{
		"deposit_mint":   req.DepositMint.String(),
		"request_mint":   req.RequestMint.String(),
		"deposit_amount": depositRaw,
		"request_amount": requestRaw,
		"storefront":     req.StorefrontID,
	})
	return out, nil
}

// Quote sizes a fill without building anything.
func (s *EscrowService) Quote(ctx context.Context, id solana.PublicKey, req FillRequest) (*Quote, error) {
	e, err := s.loadEscrow(ctx, id)
	if err != nil {
		return nil, apperr.Normalize("quote escrow", err)
	}
	feeCfg, err := s.feeConfig(req.StorefrontID)
	if err != nil {
		return nil, apperr.Normalize("quote escrow", err)
	}
	params := fill.FromEscrow(e)
	amount, err := sizeFill(params, req)
	if err != nil {
		return nil, apperr.Normalize("quote escrow", err)
	}
	value := fees.TradeValue(e.DepositToken, amount.Deposit, e.RequestToken, amount.RequestRaw)
	return &Quote{
		Amount:     amount,
		Max:        params.Max(),
		MinRequest: params.MinRequest(),
		TakerFee:   s.builder.Config().Platform.CalculateTakerFee(feeCfg, value),
	}, nil
}

func (s *EscrowService) Fill(ctx context.Context, taker, id solana.PublicKey, req FillRequest) (*UnsignedTx, error) {
	out, err := s.fill(ctx, taker, id, req)
	if err != nil {
		return nil, apperr.Normalize("fill escrow", err)
	}
	return out, nil
}

func (s *EscrowService) fill(ctx context.Context, taker, id solana.PublicKey, req FillRequest) (*UnsignedTx, error) {
	if taker.IsZero() {
		return nil, apperr.WalletNotReady()
	}
	e, err := s.loadEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status(time.Now()) != models.EscrowStatusActive {
		return nil, apperr.AccountState("Escrow is no longer active", ErrNotActive)
	}
	if only, ok := e.ReservedFor(); ok && !only.Equals(taker) {
		return nil, apperr.AccountState("Escrow is reserved for another wallet", ErrReserved)
	}
	feeCfg, err := s.feeConfig(req.StorefrontID)
	if err != nil {
		return nil, err
	}

	amount, err := sizeFill(fill.FromEscrow(e), req)
	if err != nil {
		return nil, err
	}

	res, err := s.builder.Fill(ctx, txbuilder.FillParams{
		Maker:         e.Maker,
		Taker:         taker,
		DepositToken:  e.DepositToken,
		RequestToken:  e.RequestToken,
		Amount:        amount.Deposit,
		RequestAmount: amount.RequestRaw,
		Seed:          e.Seed,
		Whitelist:     e.Whitelist,
		FeeConfig:     feeCfg,
	})
	if err != nil {
		return nil, err
	}

	out, err := s.unsigned(ctx, res, taker)
	if err != nil {
		return nil, err
	}
	out.Fill = &amount

	s.audit(ctx, taker, "escrow_fill_built", id, map[string]any{
		"deposit_amount": amount.Deposit,
		"request_amount": amount.RequestRaw,
		"full":           amount.Full,
	})
	return out, nil
}

func (s *EscrowService) Cancel(ctx context.Context, maker, id solana.PublicKey) (*UnsignedTx, error) {
	out, err := s.cancel(ctx, maker, id)
	if err != nil {
		return nil, apperr.Normalize("cancel escrow", err)
	}
	return out, nil
}

func (s *EscrowService) cancel(ctx context.Context, maker, id solana.PublicKey) (*UnsignedTx, error) {
	if maker.IsZero() {
		return nil, apperr.WalletNotReady()
	}
	e, err := s.loadEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Maker.Equals(maker) {
		return nil, apperr.AccountState("Only the maker can cancel this escrow", ErrNotMaker)
	}

	res, err := s.builder.Cancel(e.Maker, e.DepositToken, e.RequestToken, e.Seed)
	if err != nil {
		return nil, err
	}
	out, err := s.unsigned(ctx, res, maker)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, maker, "escrow_cancel_built", id, nil)
	return out, nil
}

// Submit relays a wallet-signed transaction and waits for confirmation.
// The fee payer must be signer.
func (s *EscrowService) Submit(ctx context.Context, signer solana.PublicKey, signedTx string) (solana.Signature, error) {
	sig, err := s.submit(ctx, signer, signedTx)
	if err != nil {
		return sig, apperr.Normalize("submit transaction", err)
	}
	return sig, nil
}

func (s *EscrowService) submit(ctx context.Context, signer solana.PublicKey, signedTx string) (solana.Signature, error) {
	if signer.IsZero() {
		return solana.Signature{}, apperr.WalletNotReady()
	}
	data, err := base64.StdEncoding.DecodeString(signedTx)
	if err != nil {
		return solana.Signature{}, apperr.AccountState("Transaction is not valid base64", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return solana.Signature{}, apperr.AccountState("Transaction could not be decoded", err)
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(signer) {
		return solana.Signature{}, apperr.AccountState("Transaction must be paid by the signed-in wallet", ErrSignerMismatch)
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, apperr.AccountState("Transaction signatures are invalid", err)
	}

	sig, err := s.ledger.SendAndConfirm(ctx, tx)
	if err != nil {
		return sig, err
	}

	s.balances.Invalidate(ctx, signer)
	network := string(s.ledger.Network())
	if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventTxConfirmed,
		Payload: map[string]any{
			"signature": sig.String(),
			"signer":    signer.String(),
			"network":   network,
		},
	}); err != nil {
		s.log.Warn("failed to publish tx event", zap.Error(err))
	}

	s.record(ctx, signer, "tx_confirmed", "transaction", sig.String(), nil)
	s.log.Info("transaction confirmed", zap.String("signature", sig.String()), zap.String("wallet", signer.String()))
	return sig, nil
}

func (s *EscrowService) unsigned(ctx context.Context, res txbuilder.Result, payer solana.PublicKey) (*UnsignedTx, error) {
	blockhash, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := res.Transaction(payer, blockhash)
	if err != nil {
		return nil, err
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	data, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return &UnsignedTx{
		Transaction: base64.StdEncoding.EncodeToString(data),
		Blockhash:   blockhash.String(),
		Accounts:    res.Accounts,
		Cost:        res.Cost,
	}, nil
}

func (s *EscrowService) feeConfig(storefrontID string) (*models.FeeConfig, error) {
	if storefrontID == "" || s.storefronts == nil {
		return nil, nil
	}
	sf, err := s.storefronts.Get(storefrontID)
	if err != nil {
		return nil, err
	}
	return sf.ShopFee, nil
}

func (s *EscrowService) audit(ctx context.Context, actor solana.PublicKey, action string, escrow solana.PublicKey, meta map[string]any) {
	s.record(ctx, actor, action, "escrow", escrow.String(), meta)
}

// record writes an audit entry. A failed write is logged, never returned:
// the operation it describes already happened.
func (s *EscrowService) record(ctx context.Context, actor solana.PublicKey, action, entityType, entityID string, meta map[string]any) {
	wallet := actor.String()
	if meta == nil {
		meta = map[string]any{}
	}
	meta["network"] = string(s.ledger.Network())
	if err := s.auditRepo.Log(ctx, models.AuditLog{
		ActorWallet: &wallet,
		ActorType:   "wallet",
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Meta:        meta,
	}); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityID),
			zap.Error(err),
		)
	}
}

func sizeFill(p fill.Params, req FillRequest) (fill.Amount, error) {
	var (
		amount fill.Amount
		err    error
	)
	switch {
	case req.RequestAmount != nil:
		amount, err = p.FromRequestAmount(*req.RequestAmount)
	case req.Percentage != nil:
		amount, err = p.FromPercentage(*req.Percentage)
	default:
		if p.DepositRemaining == 0 {
			err = fill.ErrNothingToFill
		} else {
			amount = p.Max()
		}
	}
	if err != nil {
		return fill.Amount{}, apperr.AccountState(fillMessage(err), err)
	}
	return amount, nil
}

func fillMessage(err error) string {
	switch {
	case errors.Is(err, fill.ErrBelowMinimum):
		return "Amount is below the minimum fill"
	case errors.Is(err, fill.ErrNothingToFill):
		return "Escrow has nothing left to fill"
	}
	return "Invalid fill amount"
}

func randomSeed() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

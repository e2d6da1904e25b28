package txbuilder

import (
	"context"

	"github.com/escrow-marketplace/backend/internal/apperr"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/fees"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/escrow-marketplace/backend/internal/wsol"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

type OpenParams struct {
	Maker            solana.PublicKey
	DepositToken     models.Token
	RequestToken     models.Token
	DepositAmount    uint64 // raw
	RequestAmount    uint64 // raw
	Seed             uint64
	ExpireTimestamp  int64 // 0 = never
	AllowPartialFill bool
	OnlyWhitelist    bool
	Slippage         uint16 // basis points
	Recipient        *solana.PublicKey // nil = public
	Whitelist        *solana.PublicKey
	FeeConfig        *models.FeeConfig
}

// Open builds: maker token accounts, wrapping of a native deposit, maker
// fees, then initialize.
func (b *Builder) Open(ctx context.Context, p OpenParams) (Result, error) {
	if p.Maker.IsZero() {
		return Result{}, apperr.WalletNotReady()
	}
	if p.Recipient != nil && chain.IsSystemAddress(*p.Recipient) {
		return Result{}, derivationError(ErrRecipientIsSystem)
	}
	if p.DepositAmount == 0 || p.RequestAmount == 0 {
		return Result{}, apperr.AccountState("Amounts must be greater than zero", ErrZeroAmount)
	}
	if sameMint(p.DepositToken, p.RequestToken) {
		return Result{}, apperr.AccountState("Deposit and request tokens must differ", ErrSameToken)
	}

	accounts, err := chain.DeriveEscrowAccounts(p.Maker, p.Seed, b.cfg.ProgramID)
	if err != nil {
		return Result{}, derivationError(err)
	}
	depositATA, err := chain.AssociatedAddress(p.DepositToken.Mint, p.Maker)
	if err != nil {
		return Result{}, derivationError(err)
	}
	requestATA, err := chain.AssociatedAddress(p.RequestToken.Mint, p.Maker)
	if err != nil {
		return Result{}, derivationError(err)
	}

	checks := []accountCheck{
		{address: depositATA, mint: p.DepositToken.Mint, owner: p.Maker},
		{address: requestATA, mint: p.RequestToken.Mint, owner: p.Maker},
	}
	states, err := b.lookup(ctx, checks)
	if err != nil {
		return Result{}, err
	}

	res := Result{Accounts: accounts}

	if p.DepositToken.Mint.Equals(chain.NativeMint) {
		plan := wsol.PlanWrap(p.DepositAmount, states[0].Exists, states[0].Amount)
		ixs, err := wsol.Instructions(plan, p.Maker)
		if err != nil {
			return Result{}, err
		}
		res.Instructions = append(res.Instructions, ixs...)
		res.Cost.WrapLamports += plan.Transfer
		if plan.Create {
			res.Cost.CreatedAccounts++
			res.Cost.RentLamports += wsol.RentReserve
			res.Cost.WrapLamports -= wsol.RentReserve
		}
		states[0].Exists = true
	}
	for i, c := range checks {
		if states[i].Exists {
			continue
		}
		ix, err := createATA(p.Maker, c.owner, c.mint)
		if err != nil {
			return Result{}, err
		}
		res.Instructions = append(res.Instructions, ix)
		res.Cost.CreatedAccounts++
		res.Cost.RentLamports += chain.ATARentLamports
	}

	value := fees.TradeValue(p.DepositToken, p.DepositAmount, p.RequestToken, p.RequestAmount)
	makerFee := b.cfg.Platform.CalculateMakerFee(p.FeeConfig, value)
	transfers, err := makerFee.Transfers(b.cfg.Platform.Wallet)
	if err != nil {
		return Result{}, apperr.AccountState("Invalid fee configuration", err)
	}
	feeIxs, feeTotal, err := feeInstructions(p.Maker, transfers)
	if err != nil {
		return Result{}, err
	}
	res.Instructions = append(res.Instructions, feeIxs...)
	res.Cost.MakerFee = &makerFee
	res.Cost.FeeLamports = feeTotal

	initIx, err := chain.NewInitializeInstruction(b.cfg.ProgramID, chain.InitializeArgs{
		Seed:             p.Seed,
		DepositAmount:    p.DepositAmount,
		RequestAmount:    p.RequestAmount,
		ExpireTimestamp:  p.ExpireTimestamp,
		AllowPartialFill: p.AllowPartialFill,
		OnlyWhitelist:    p.OnlyWhitelist,
		Slippage:         p.Slippage,
	}, chain.InitializeAccounts{
		Maker:           p.Maker,
		DepositMint:     p.DepositToken.Mint,
		RequestMint:     p.RequestToken.Mint,
		MakerDepositATA: depositATA,
		Escrow:          accounts,
		Recipient:       p.Recipient,
		Whitelist:       p.Whitelist,
	})
	if err != nil {
		return Result{}, err
	}
	res.Instructions = append(res.Instructions, initIx)

	b.log.Debug("open escrow built",
		zap.String("maker", p.Maker.String()),
		zap.String("escrow", accounts.Escrow.String()),
		zap.Int("instructions", len(res.Instructions)),
	)
	return res, nil
}

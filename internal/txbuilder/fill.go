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

type FillParams struct {
	Maker         solana.PublicKey
	Taker         solana.PublicKey
	DepositToken  models.Token
	RequestToken  models.Token
	Amount        uint64 // deposit raw units taken from the vault
	RequestAmount uint64 // request raw units paid, see fill.Amount
	Seed          uint64
	Whitelist     *solana.PublicKey
	// ContractFeeAccount overrides the configured account when set.
	ContractFeeAccount solana.PublicKey
	FeeConfig          *models.FeeConfig
}

// Fill builds, in order: missing token accounts (the maker's receiving
// account is paid by the taker), wrapping of a native request side, taker
// fee transfers when enforced, then exchange. The taker pays for everything.
func (b *Builder) Fill(ctx context.Context, p FillParams) (Result, error) {
	if p.Taker.IsZero() {
		return Result{}, apperr.WalletNotReady()
	}
	if p.Taker.Equals(p.Maker) {
		return Result{}, apperr.AccountState("You cannot fill your own escrow", ErrSelfFill)
	}
	if p.Amount == 0 {
		return Result{}, apperr.AccountState("Fill amount must be greater than zero", ErrZeroAmount)
	}

	accounts, err := chain.DeriveEscrowAccounts(p.Maker, p.Seed, b.cfg.ProgramID)
	if err != nil {
		return Result{}, derivationError(err)
	}
	contractFee := b.cfg.ContractFeeAccount
	if !p.ContractFeeAccount.IsZero() {
		contractFee = p.ContractFeeAccount
	}
	if contractFee.IsZero() {
		return Result{}, derivationError(chain.ErrInvalidKey)
	}

	takerDeposit, err := chain.AssociatedAddress(p.DepositToken.Mint, p.Taker)
	if err != nil {
		return Result{}, derivationError(err)
	}
	takerRequest, err := chain.AssociatedAddress(p.RequestToken.Mint, p.Taker)
	if err != nil {
		return Result{}, derivationError(err)
	}
	makerRequest, err := chain.AssociatedAddress(p.RequestToken.Mint, p.Maker)
	if err != nil {
		return Result{}, derivationError(err)
	}

	checks := []accountCheck{
		{address: takerDeposit, mint: p.DepositToken.Mint, owner: p.Taker},
		{address: takerRequest, mint: p.RequestToken.Mint, owner: p.Taker},
		{address: makerRequest, mint: p.RequestToken.Mint, owner: p.Maker},
	}
	states, err := b.lookup(ctx, checks)
	if err != nil {
		return Result{}, err
	}

	res := Result{Accounts: accounts}

	if p.RequestToken.Mint.Equals(chain.NativeMint) {
		plan := wsol.PlanWrap(p.RequestAmount, states[1].Exists, states[1].Amount)
		ixs, err := wsol.Instructions(plan, p.Taker)
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
		states[1].Exists = true
	}
	for i, c := range checks {
		if states[i].Exists {
			continue
		}
		ix, err := createATA(p.Taker, c.owner, c.mint)
		if err != nil {
			return Result{}, err
		}
		res.Instructions = append(res.Instructions, ix)
		res.Cost.CreatedAccounts++
		res.Cost.RentLamports += chain.ATARentLamports
	}

	value := fees.TradeValue(p.DepositToken, p.Amount, p.RequestToken, p.RequestAmount)
	takerFee := b.cfg.Platform.CalculateTakerFee(p.FeeConfig, value)
	res.Cost.TakerFee = &takerFee
	if b.cfg.EnforceTakerFees {
		transfers, err := takerFee.Transfers(b.cfg.Platform.Wallet)
		if err != nil {
			return Result{}, apperr.AccountState("Invalid fee configuration", err)
		}
		feeIxs, feeTotal, err := feeInstructions(p.Taker, transfers)
		if err != nil {
			return Result{}, err
		}
		res.Instructions = append(res.Instructions, feeIxs...)
		res.Cost.FeeLamports = feeTotal
	}

	exIx, err := chain.NewExchangeInstruction(b.cfg.ProgramID, p.Amount, chain.ExchangeAccounts{
		Taker:              p.Taker,
		Maker:              p.Maker,
		DepositMint:        p.DepositToken.Mint,
		RequestMint:        p.RequestToken.Mint,
		TakerDepositATA:    takerDeposit,
		TakerRequestATA:    takerRequest,
		MakerRequestATA:    makerRequest,
		ContractFeeAccount: contractFee,
		Escrow:             accounts,
		Whitelist:          p.Whitelist,
	})
	if err != nil {
		return Result{}, err
	}
	res.Instructions = append(res.Instructions, exIx)

	b.log.Debug("fill escrow built",
		zap.String("taker", p.Taker.String()),
		zap.String("escrow", accounts.Escrow.String()),
		zap.Uint64("amount", p.Amount),
		zap.Int("instructions", len(res.Instructions)),
	)
	return res, nil
}

// Cancel builds the single cancel instruction. The maker's deposit account
// must still exist to receive the refund; no fees are charged.
func (b *Builder) Cancel(maker solana.PublicKey, depositToken, requestToken models.Token, seed uint64) (Result, error) {
	if maker.IsZero() {
		return Result{}, apperr.WalletNotReady()
	}
	accounts, err := chain.DeriveEscrowAccounts(maker, seed, b.cfg.ProgramID)
	if err != nil {
		return Result{}, derivationError(err)
	}
	depositATA, err := chain.AssociatedAddress(depositToken.Mint, maker)
	if err != nil {
		return Result{}, derivationError(err)
	}

	ix := chain.NewCancelInstruction(b.cfg.ProgramID, chain.CancelAccounts{
		Maker:           maker,
		DepositMint:     depositToken.Mint,
		RequestMint:     requestToken.Mint,
		MakerDepositATA: depositATA,
		Escrow:          accounts,
	})
	return Result{Instructions: []solana.Instruction{ix}, Accounts: accounts}, nil
}

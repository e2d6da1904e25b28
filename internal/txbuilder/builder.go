// Package txbuilder assembles the ordered instruction lists for opening,
// filling and cancelling escrows, together with the derived accounts and
// the costs the signer will pay.
package txbuilder

import (
	"context"
	"errors"
	"fmt"

	"github.com/escrow-marketplace/backend/internal/apperr"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/fees"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"
)

var (
	ErrRecipientIsSystem = errors.New("recipient cannot be the system address")
	ErrZeroAmount        = errors.New("amount must be greater than zero")
	ErrSelfFill          = errors.New("maker cannot fill own escrow")
	ErrSameToken         = errors.New("deposit and request tokens must differ")
)

// Ledger is the read access the builder needs: existence and balance of
// token accounts, in request order.
type Ledger interface {
	TokenAccounts(ctx context.Context, keys []solana.PublicKey) ([]chain.TokenAccountState, error)
}

type Config struct {
	ProgramID          solana.PublicKey
	ContractFeeAccount solana.PublicKey
	Platform           fees.Platform
	// EnforceTakerFees prepends the taker fee transfers to fills. When off,
	// fees are still quoted in Cost.
	EnforceTakerFees bool
}

type Builder struct {
	ledger Ledger
	cfg    Config
	log    *zap.Logger
}

func New(ledger Ledger, cfg Config, log *zap.Logger) *Builder {
	return &Builder{ledger: ledger, cfg: cfg, log: log}
}

func (b *Builder) Config() Config { return b.cfg }

// Cost is what the fee payer spends beyond the traded amounts.
type Cost struct {
	MakerFee        *fees.MakerFee `json:"maker_fee,omitempty"`
	TakerFee        *fees.TakerFee `json:"taker_fee,omitempty"`
	FeeLamports     uint64         `json:"fee_lamports"`     // fee transfers included in the transaction
	RentLamports    uint64         `json:"rent_lamports"`    // rent of token accounts created
	WrapLamports    uint64         `json:"wrap_lamports"`    // native moved into the wrapped account
	CreatedAccounts int            `json:"created_accounts"` // token accounts created
}

type Result struct {
	Instructions []solana.Instruction
	Accounts     chain.EscrowAccounts
	Cost         Cost
}

// Transaction wraps the instructions into an unsigned transaction paid by payer.
func (r Result) Transaction(payer solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(r.Instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}
	return tx, nil
}

type accountCheck struct {
	address solana.PublicKey
	mint    solana.PublicKey
	owner   solana.PublicKey
}

// lookup fetches all token accounts in one round trip. Failure never falls
// back to assuming the accounts are missing.
func (b *Builder) lookup(ctx context.Context, checks []accountCheck) ([]chain.TokenAccountState, error) {
	keys := make([]solana.PublicKey, len(checks))
	for i, c := range checks {
		keys[i] = c.address
	}
	states, err := b.ledger.TokenAccounts(ctx, keys)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperr.Network(fmt.Errorf("check token accounts: %w", err))
	}
	if len(states) != len(keys) {
		return nil, apperr.Network(fmt.Errorf("check token accounts: got %d states for %d accounts", len(states), len(keys)))
	}
	return states, nil
}

func createATA(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ix, err := associatedtokenaccount.NewCreateInstruction(payer, owner, mint).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build create token account: %w", err)
	}
	return ix, nil
}

func feeInstructions(from solana.PublicKey, transfers []fees.Transfer) ([]solana.Instruction, uint64, error) {
	var (
		ixs   []solana.Instruction
		total uint64
	)
	for _, t := range transfers {
		ix, err := system.NewTransferInstruction(t.Lamports, from, t.To).ValidateAndBuild()
		if err != nil {
			return nil, 0, fmt.Errorf("build fee transfer: %w", err)
		}
		ixs = append(ixs, ix)
		total += t.Lamports
	}
	return ixs, total, nil
}

func derivationError(err error) *apperr.Error {
	return apperr.AddressDerivation(err)
}

func sameMint(a, b models.Token) bool { return a.Mint.Equals(b.Mint) }

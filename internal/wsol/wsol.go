// Package wsol plans the wrapping of native SOL into the taker's wrapped-SOL
// token account ahead of a fill.
package wsol

import (
	"fmt"

	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// RentReserve is added on account creation and refunded when the account closes,
// so the wrapped balance briefly exceeds the request amount.
const RentReserve = chain.ATARentLamports

type Plan struct {
	Create   bool   `json:"create"`
	Transfer uint64 `json:"transfer_lamports"`
	Sync     bool   `json:"sync"`
}

func (p Plan) Noop() bool { return !p.Create && p.Transfer == 0 }

// PlanWrap computes the steps that leave at least request lamports spendable
// in the wrapped account.
func PlanWrap(request uint64, exists bool, balance uint64) Plan {
	switch {
	case !exists:
		return Plan{Create: true, Transfer: request + RentReserve, Sync: true}
	case balance >= request:
		return Plan{}
	default:
		return Plan{Transfer: request - balance, Sync: true}
	}
}

// Instructions renders the plan for owner, who pays for everything.
func Instructions(p Plan, owner solana.PublicKey) ([]solana.Instruction, error) {
	if p.Noop() {
		return nil, nil
	}
	ata, err := chain.AssociatedAddress(chain.NativeMint, owner)
	if err != nil {
		return nil, err
	}

	var ixs []solana.Instruction
	if p.Create {
		ix, err := associatedtokenaccount.NewCreateInstruction(owner, owner, chain.NativeMint).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build create wrapped account: %w", err)
		}
		ixs = append(ixs, ix)
	}
	if p.Transfer > 0 {
		ix, err := system.NewTransferInstruction(p.Transfer, owner, ata).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build wrap transfer: %w", err)
		}
		ixs = append(ixs, ix)
	}
	if p.Sync {
		ix, err := token.NewSyncNativeInstruction(ata).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build sync native: %w", err)
		}
		ixs = append(ixs, ix)
	}
	return ixs, nil
}

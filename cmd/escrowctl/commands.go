package main

import (
	"errors"
	"fmt"

	"github.com/escrow-marketplace/backend/internal/apperr"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/fill"
	"github.com/escrow-marketplace/backend/internal/wsol"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const defaultProgramID = "EscRowGzZ7Fjwq3eBtm2rKJsCqjzyyWbJ3H2GxE5Ciob"

func newDeriveCmd() *cobra.Command {
	var (
		maker, program, depositMint, requestMint string
		seed                                     uint64
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive escrow, auth and vault addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			makerKey, err := chain.ParsePublicKey(maker)
			if err != nil {
				return err
			}
			programID, err := chain.ParsePublicKey(program)
			if err != nil {
				return err
			}
			accounts, err := chain.DeriveEscrowAccounts(makerKey, seed, programID)
			if err != nil {
				return err
			}

			out := map[string]any{
				"escrow": accounts.Escrow.String(),
				"auth":   accounts.Auth.String(),
				"vault":  accounts.Vault.String(),
			}
			for name, mint := range map[string]string{"maker_deposit_ata": depositMint, "maker_request_ata": requestMint} {
				if mint == "" {
					continue
				}
				ata, err := ataFor(mint, makerKey)
				if err != nil {
					return err
				}
				out[name] = ata.String()
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&maker, "maker", "", "maker wallet address")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "escrow seed")
	cmd.Flags().StringVar(&program, "program", defaultProgramID, "escrow program id")
	cmd.Flags().StringVar(&depositMint, "deposit-mint", "", "also derive the maker's deposit token account")
	cmd.Flags().StringVar(&requestMint, "request-mint", "", "also derive the maker's request token account")
	_ = cmd.MarkFlagRequired("maker")
	return cmd
}

func ataFor(mint string, owner solana.PublicKey) (solana.PublicKey, error) {
	m, err := chain.ParsePublicKey(mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return chain.AssociatedAddress(m, owner)
}

func newMinFillCmd() *cobra.Command {
	var (
		price               string
		remaining           uint64
		depDec, reqDec      int32
		partial             bool
		percentage, request string
	)
	cmd := &cobra.Command{
		Use:   "min-fill",
		Short: "Show minimum, maximum and sized fills of an escrow",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid price: %w", err)
			}
			params := fill.Params{
				DepositRemaining: remaining,
				Price:            p,
				AllowPartialFill: partial,
				DepositDecimals:  depDec,
				RequestDecimals:  reqDec,
			}
			out := map[string]any{
				"min_request_raw": params.MinRequestRaw(),
				"min_request":     params.MinRequest(),
				"max":             params.Max(),
			}

			var sized *fill.Amount
			switch {
			case request != "":
				v, err := decimal.NewFromString(request)
				if err != nil {
					return fmt.Errorf("invalid request amount: %w", err)
				}
				a, err := params.FromRequestAmount(v)
				if err != nil {
					return err
				}
				sized = &a
			case percentage != "":
				v, err := decimal.NewFromString(percentage)
				if err != nil {
					return fmt.Errorf("invalid percentage: %w", err)
				}
				a, err := params.FromPercentage(v)
				if err != nil {
					return err
				}
				sized = &a
			}
			if sized != nil {
				out["fill"] = sized
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&price, "price", "", "raw request units per raw deposit unit")
	cmd.Flags().Uint64Var(&remaining, "remaining", 0, "remaining deposit, raw units")
	cmd.Flags().Int32Var(&depDec, "deposit-decimals", 0, "deposit token decimals")
	cmd.Flags().Int32Var(&reqDec, "request-decimals", 9, "request token decimals")
	cmd.Flags().BoolVar(&partial, "partial", true, "escrow allows partial fills")
	cmd.Flags().StringVar(&percentage, "percentage", "", "size a fill by percentage of the remaining deposit")
	cmd.Flags().StringVar(&request, "request", "", "size a fill by request amount, display units")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("remaining")
	return cmd
}

func newWrapPlanCmd() *cobra.Command {
	var (
		request, balance uint64
		exists           bool
	)
	cmd := &cobra.Command{
		Use:   "wrap-plan",
		Short: "Plan wrapping native SOL for a fill",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := wsol.PlanWrap(request, exists, balance)
			return printJSON(cmd, map[string]any{
				"plan": plan,
				"noop": plan.Noop(),
			})
		},
	}
	cmd.Flags().Uint64Var(&request, "request", 0, "lamports needed in the wrapped account")
	cmd.Flags().BoolVar(&exists, "exists", false, "wrapped account already exists")
	cmd.Flags().Uint64Var(&balance, "balance", 0, "current wrapped balance, lamports")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func newExplainCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "explain <error message>",
		Short: "Normalize a raw wallet or ledger error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := apperr.Normalize(action, errors.New(args[0]))
			out := map[string]any{
				"type":      e.Kind,
				"message":   e.Message,
				"retryable": e.Retryable,
			}
			if code, ok := apperr.ProgramCode(e); ok {
				out["code"] = code
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&action, "action", "complete the operation", "attempted action, used in generic messages")
	return cmd
}

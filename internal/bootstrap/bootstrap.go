// Package bootstrap builds the chain-facing components shared by the binaries.
package bootstrap

import (
	"fmt"

	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/config"
	"github.com/escrow-marketplace/backend/internal/fees"
	"github.com/escrow-marketplace/backend/internal/metadata"
	"github.com/escrow-marketplace/backend/internal/txbuilder"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Keys are the configured program and fee addresses, parsed once.
type Keys struct {
	ProgramID          solana.PublicKey
	PlatformWallet     solana.PublicKey
	ContractFeeAccount solana.PublicKey
}

func ParseKeys(cfg *config.Config) (Keys, error) {
	var (
		k   Keys
		err error
	)
	if k.ProgramID, err = chain.ParsePublicKey(cfg.ProgramID); err != nil {
		return k, fmt.Errorf("ESCROW_PROGRAM_ID: %w", err)
	}
	if k.PlatformWallet, err = chain.ParsePublicKey(cfg.PlatformWallet); err != nil {
		return k, fmt.Errorf("PLATFORM_WALLET: %w", err)
	}
	if k.ContractFeeAccount, err = chain.ParsePublicKey(cfg.ContractFeeAccount); err != nil {
		return k, fmt.Errorf("CONTRACT_FEE_ACCOUNT: %w", err)
	}
	return k, nil
}

// ChainManager connects to the configured network. SOLANA_RPC_URL overrides
// the public endpoint of that network only.
func ChainManager(cfg *config.Config, log *zap.Logger) (*chain.Manager, error) {
	network, err := chain.ParseNetwork(cfg.SolanaNetwork)
	if err != nil {
		return nil, err
	}
	opts := chain.DefaultOptions()
	if cfg.RPCMaxRetries >= 0 {
		opts.MaxRetries = uint(cfg.RPCMaxRetries)
	}
	if cfg.RPCRetryBackoff > 0 {
		opts.RetryBackoff = cfg.RPCRetryBackoff
	}
	opts.RateLimit = cfg.RPCRateLimit
	if cfg.SubmitTimeout > 0 {
		opts.SubmitTimeout = cfg.SubmitTimeout
	}

	endpoints := map[chain.Network]string{network: cfg.SolanaRPCURL}
	return chain.NewManager(network, endpoints, opts, log), nil
}

// TokenResolver tries the token list first, then the explorer page.
func TokenResolver(cfg *config.Config, ledger metadata.DecimalsSource, log *zap.Logger) *metadata.Resolver {
	providers := []metadata.Provider{
		metadata.NewTokenListProvider(cfg.TokenListURL, cfg.MetadataHTTPTimeout),
		metadata.NewOpenGraphProvider(cfg.ExplorerURL, cfg.MetadataHTTPTimeout),
	}
	return metadata.NewResolver(ledger, providers, cfg.MetadataCacheSize, cfg.MetadataCacheTTL, log)
}

func Builder(cfg *config.Config, keys Keys, ledger txbuilder.Ledger, log *zap.Logger) *txbuilder.Builder {
	return txbuilder.New(ledger, txbuilder.Config{
		ProgramID:          keys.ProgramID,
		ContractFeeAccount: keys.ContractFeeAccount,
		Platform: fees.Platform{
			Wallet:         keys.PlatformWallet,
			MakerFee:       cfg.PlatformMakerFee,
			TakerFee:       cfg.PlatformTakerFee,
			TransactionFee: cfg.TxFeeEstimate,
		},
		EnforceTakerFees: cfg.EnforceTakerFees,
	}, log)
}

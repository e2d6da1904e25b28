package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	initializeDisc = anchorInstructionDiscriminator("initialize")
	exchangeDisc   = anchorInstructionDiscriminator("exchange")
	cancelDisc     = anchorInstructionDiscriminator("cancel")
)

func anchorInstructionDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

type InitializeArgs struct {
	Seed             uint64
	DepositAmount    uint64
	RequestAmount    uint64
	ExpireTimestamp  int64
	AllowPartialFill bool
	OnlyWhitelist    bool
	Slippage         uint16 // basis points
}

type InitializeAccounts struct {
	Maker           solana.PublicKey
	DepositMint     solana.PublicKey
	RequestMint     solana.PublicKey
	MakerDepositATA solana.PublicKey
	Escrow          EscrowAccounts
	Recipient       *solana.PublicKey
	Whitelist       *solana.PublicKey
}

type ExchangeAccounts struct {
	Taker              solana.PublicKey
	Maker              solana.PublicKey
	DepositMint        solana.PublicKey
	RequestMint        solana.PublicKey
	TakerDepositATA    solana.PublicKey
	TakerRequestATA    solana.PublicKey
	MakerRequestATA    solana.PublicKey
	ContractFeeAccount solana.PublicKey
	Escrow             EscrowAccounts
	Whitelist          *solana.PublicKey
}

type CancelAccounts struct {
	Maker           solana.PublicKey
	DepositMint     solana.PublicKey
	RequestMint     solana.PublicKey
	MakerDepositATA solana.PublicKey
	Escrow          EscrowAccounts
}

// optional returns the account or the program id, which the program reads as None.
func optional(pk *solana.PublicKey, programID solana.PublicKey) solana.PublicKey {
	if pk == nil || pk.IsZero() {
		return programID
	}
	return *pk
}

func NewInitializeInstruction(programID solana.PublicKey, args InitializeArgs, acc InitializeAccounts) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(initializeDisc[:], false); err != nil {
		return nil, err
	}
	for _, step := range []func() error{
		func() error { return enc.WriteUint64(args.Seed, binary.LittleEndian) },
		func() error { return enc.WriteUint64(args.DepositAmount, binary.LittleEndian) },
		func() error { return enc.WriteUint64(args.RequestAmount, binary.LittleEndian) },
		func() error { return enc.WriteInt64(args.ExpireTimestamp, binary.LittleEndian) },
		func() error { return enc.WriteBool(args.AllowPartialFill) },
		func() error { return enc.WriteBool(args.OnlyWhitelist) },
		func() error { return enc.WriteUint16(args.Slippage, binary.LittleEndian) },
	} {
		if err := step(); err != nil {
			return nil, fmt.Errorf("encode initialize args: %w", err)
		}
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Maker, true, true),
		solana.NewAccountMeta(acc.DepositMint, false, false),
		solana.NewAccountMeta(acc.RequestMint, false, false),
		solana.NewAccountMeta(acc.MakerDepositATA, true, false),
		solana.NewAccountMeta(acc.Escrow.Escrow, true, false),
		solana.NewAccountMeta(acc.Escrow.Auth, false, false),
		solana.NewAccountMeta(acc.Escrow.Vault, true, false),
		solana.NewAccountMeta(optional(acc.Recipient, programID), false, false),
		solana.NewAccountMeta(optional(acc.Whitelist, programID), false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}
	return solana.NewInstruction(programID, accounts, buf.Bytes()), nil
}

// NewExchangeInstruction fills amount, in smallest deposit-token units.
func NewExchangeInstruction(programID solana.PublicKey, amount uint64, acc ExchangeAccounts) (solana.Instruction, error) {
	data := make([]byte, 16)
	copy(data, exchangeDisc[:])
	binary.LittleEndian.PutUint64(data[8:], amount)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Taker, true, true),
		solana.NewAccountMeta(acc.Maker, true, false),
		solana.NewAccountMeta(acc.DepositMint, false, false),
		solana.NewAccountMeta(acc.RequestMint, false, false),
		solana.NewAccountMeta(acc.TakerDepositATA, true, false),
		solana.NewAccountMeta(acc.TakerRequestATA, true, false),
		solana.NewAccountMeta(acc.MakerRequestATA, true, false),
		solana.NewAccountMeta(acc.Escrow.Escrow, true, false),
		solana.NewAccountMeta(acc.Escrow.Auth, false, false),
		solana.NewAccountMeta(acc.Escrow.Vault, true, false),
		solana.NewAccountMeta(acc.ContractFeeAccount, true, false),
		solana.NewAccountMeta(optional(acc.Whitelist, programID), false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

func NewCancelInstruction(programID solana.PublicKey, acc CancelAccounts) solana.Instruction {
	data := make([]byte, len(cancelDisc))
	copy(data, cancelDisc[:])

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Maker, true, true),
		solana.NewAccountMeta(acc.DepositMint, false, false),
		solana.NewAccountMeta(acc.RequestMint, false, false),
		solana.NewAccountMeta(acc.MakerDepositATA, true, false),
		solana.NewAccountMeta(acc.Escrow.Escrow, true, false),
		solana.NewAccountMeta(acc.Escrow.Auth, false, false),
		solana.NewAccountMeta(acc.Escrow.Vault, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data)
}

package chain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// NativeMint is the wrapped SOL mint.
var NativeMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// ATARentLamports is the rent-exempt reserve of a 165-byte token account.
const ATARentLamports uint64 = 2_039_280

var (
	escrowSeed = []byte("escrow")
	authSeed   = []byte("auth")
	vaultSeed  = []byte("vault")
)

var ErrInvalidKey = errors.New("invalid public key")

// EscrowAccounts are the program-derived addresses of one escrow.
type EscrowAccounts struct {
	Escrow solana.PublicKey `json:"escrow"`
	Auth   solana.PublicKey `json:"auth"`
	Vault  solana.PublicKey `json:"vault"`
}

// SeedBytes encodes seed as the program expects: u64 little-endian, i.e. the
// big-endian bytes reversed.
func SeedBytes(seed uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, seed)
	return b
}

// DeriveEscrowAccounts derives escrow, auth and vault in that order.
func DeriveEscrowAccounts(maker solana.PublicKey, seed uint64, programID solana.PublicKey) (EscrowAccounts, error) {
	if maker.IsZero() {
		return EscrowAccounts{}, fmt.Errorf("%w: maker", ErrInvalidKey)
	}
	if programID.IsZero() {
		return EscrowAccounts{}, fmt.Errorf("%w: program id", ErrInvalidKey)
	}

	escrow, _, err := solana.FindProgramAddress([][]byte{escrowSeed, maker.Bytes(), SeedBytes(seed)}, programID)
	if err != nil {
		return EscrowAccounts{}, fmt.Errorf("derive escrow PDA: %w", err)
	}
	auth, _, err := solana.FindProgramAddress([][]byte{authSeed, escrow.Bytes()}, programID)
	if err != nil {
		return EscrowAccounts{}, fmt.Errorf("derive auth PDA: %w", err)
	}
	vault, _, err := solana.FindProgramAddress([][]byte{vaultSeed, escrow.Bytes()}, programID)
	if err != nil {
		return EscrowAccounts{}, fmt.Errorf("derive vault PDA: %w", err)
	}

	return EscrowAccounts{Escrow: escrow, Auth: auth, Vault: vault}, nil
}

// AssociatedAddress derives the associated token account of owner for mint.
func AssociatedAddress(mint, owner solana.PublicKey) (solana.PublicKey, error) {
	if mint.IsZero() || owner.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("%w: mint or owner", ErrInvalidKey)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated account: %w", err)
	}
	return ata, nil
}

func ParsePublicKey(s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w %q: %v", ErrInvalidKey, s, err)
	}
	return pk, nil
}

// IsSystemAddress reports whether pk is the null/system program address.
func IsSystemAddress(pk solana.PublicKey) bool {
	return pk.IsZero() || pk.Equals(solana.SystemProgramID)
}

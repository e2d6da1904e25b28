package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// EscrowAccountSize is the serialized size of an escrow record, discriminator included.
const EscrowAccountSize = 8 + 32*3 + 8*2 + 8 + 8 + 8 + 32 + 3 + 32

// MakerOffset is the byte offset of the maker key, for memcmp filters.
const MakerOffset = 8

var EscrowDiscriminator = anchorAccountDiscriminator("Escrow")

var ErrNotEscrowAccount = errors.New("account is not an escrow record")

func anchorAccountDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// EscrowAccount is the raw on-chain escrow record.
type EscrowAccount struct {
	Maker                  solana.PublicKey
	DepositToken           solana.PublicKey
	RequestToken           solana.PublicKey
	TokensDepositInit      uint64
	TokensDepositRemaining uint64
	Price                  float64
	Seed                   uint64
	ExpireTimestamp        int64
	Recipient              solana.PublicKey // zero = none
	OnlyRecipient          bool
	OnlyWhitelist          bool
	AllowPartialFill       bool
	Whitelist              solana.PublicKey // zero = none
}

// RawEscrow pairs a decoded record with its address.
type RawEscrow struct {
	Address solana.PublicKey
	Account EscrowAccount
}

func DecodeEscrowAccount(data []byte) (EscrowAccount, error) {
	var acc EscrowAccount
	if len(data) < EscrowAccountSize {
		return acc, fmt.Errorf("%w: %d bytes", ErrNotEscrowAccount, len(data))
	}
	if !bytes.Equal(data[:8], EscrowDiscriminator[:]) {
		return acc, ErrNotEscrowAccount
	}

	dec := bin.NewBorshDecoder(data[8:])
	var err error
	readKey := func(dst *solana.PublicKey) {
		if err != nil {
			return
		}
		var b []byte
		b, err = dec.ReadNBytes(32)
		if err == nil {
			*dst = solana.PublicKeyFromBytes(b)
		}
	}
	readU64 := func(dst *uint64) {
		if err == nil {
			*dst, err = dec.ReadUint64(binary.LittleEndian)
		}
	}
	readBool := func(dst *bool) {
		if err == nil {
			*dst, err = dec.ReadBool()
		}
	}

	readKey(&acc.Maker)
	readKey(&acc.DepositToken)
	readKey(&acc.RequestToken)
	readU64(&acc.TokensDepositInit)
	readU64(&acc.TokensDepositRemaining)
	if err == nil {
		acc.Price, err = dec.ReadFloat64(binary.LittleEndian)
	}
	readU64(&acc.Seed)
	if err == nil {
		acc.ExpireTimestamp, err = dec.ReadInt64(binary.LittleEndian)
	}
	readKey(&acc.Recipient)
	readBool(&acc.OnlyRecipient)
	readBool(&acc.OnlyWhitelist)
	readBool(&acc.AllowPartialFill)
	readKey(&acc.Whitelist)
	if err != nil {
		return EscrowAccount{}, fmt.Errorf("decode escrow account: %w", err)
	}
	return acc, nil
}

// EncodeEscrowAccount is the inverse of DecodeEscrowAccount; used by fixtures and tooling.
func EncodeEscrowAccount(acc EscrowAccount) []byte {
	buf := make([]byte, 0, EscrowAccountSize)
	buf = append(buf, EscrowDiscriminator[:]...)
	buf = append(buf, acc.Maker.Bytes()...)
	buf = append(buf, acc.DepositToken.Bytes()...)
	buf = append(buf, acc.RequestToken.Bytes()...)
	buf = binary.LittleEndian.AppendUint64(buf, acc.TokensDepositInit)
	buf = binary.LittleEndian.AppendUint64(buf, acc.TokensDepositRemaining)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(acc.Price))
	buf = binary.LittleEndian.AppendUint64(buf, acc.Seed)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(acc.ExpireTimestamp))
	buf = append(buf, acc.Recipient.Bytes()...)
	buf = append(buf, boolByte(acc.OnlyRecipient), boolByte(acc.OnlyWhitelist), boolByte(acc.AllowPartialFill))
	buf = append(buf, acc.Whitelist.Bytes()...)
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

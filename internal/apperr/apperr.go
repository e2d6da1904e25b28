// Package apperr normalizes every failure of an escrow operation into a small,
// serializable taxonomy: {type, message, retryable}.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Kind string

const (
	KindWalletNotReady    Kind = "walletNotReady"
	KindAddressDerivation Kind = "addressDerivationError"
	KindNetwork           Kind = "networkError"
	KindAccountState      Kind = "accountStateError"
	KindUserCancelled     Kind = "userCancelled"
)

const networkMessage = "Network request failed, check your connection and try again"

// Error is the normalized error carried across operation boundaries.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	// Code is the program error code when the failure came from the escrow program.
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrWalletNotReady    = &Error{Kind: KindWalletNotReady}
	ErrAddressDerivation = &Error{Kind: KindAddressDerivation}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrAccountState      = &Error{Kind: KindAccountState}
	ErrUserCancelled     = &Error{Kind: KindUserCancelled}
)

func WalletNotReady() *Error {
	return &Error{Kind: KindWalletNotReady, Message: "Connect a wallet to continue"}
}

func AddressDerivation(err error) *Error {
	return &Error{Kind: KindAddressDerivation, Message: "Invalid address or seed", Err: err}
}

// Network marks err as a transient transport failure.
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: networkMessage, Retryable: true, Err: err}
}

func AccountState(message string, err error) *Error {
	return &Error{Kind: KindAccountState, Message: message, Err: err}
}

func UserCancelled() *Error {
	return &Error{Kind: KindUserCancelled, Message: "Transaction cancelled"}
}

// ProgramError maps an escrow program error code to an account state error.
// Unknown codes keep the attempted action in the message.
func ProgramError(code int, action string) *Error {
	msg, ok := programMessages[code]
	if !ok {
		msg = fmt.Sprintf("Failed to %s (program error %d)", action, code)
	}
	return &Error{Kind: KindAccountState, Message: msg, Code: code}
}

// Escrow program codes start at the Anchor custom error offset.
var programMessages = map[int]string{
	1:    "Insufficient token balance",
	6000: "Amount must be greater than zero",
	6001: "This escrow has expired",
	6002: "This escrow has already been filled",
	6003: "Insufficient balance to complete this trade",
	6004: "This escrow is reserved for a different recipient",
	6005: "Your wallet is not on this escrow's whitelist",
	6006: "This escrow must be filled in full",
	6007: "Price moved beyond the allowed slippage",
	6008: "Only the maker can cancel this escrow",
	6009: "Fill amount exceeds the remaining deposit",
	6010: "Invalid fee account",
	6011: "Expiration must be in the future",
}

var (
	hexCodeRe    = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)
	customCodeRe = regexp.MustCompile(`Custom:?\s*(\d+)`)
)

var cancelMarkers = []string{
	"user rejected",
	"user denied",
	"rejected the request",
	"transaction cancelled",
}

var networkMarkers = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"too many requests",
	"429",
	"503",
	"eof",
	"circuit breaker is open",
	"blockhash not found",
}

// Normalize converts any error raised while performing action into *Error.
func Normalize(action string, err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.Canceled) {
		return UserCancelled()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetwork, Message: "Request timed out, try again", Retryable: true, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range cancelMarkers {
		if strings.Contains(msg, m) {
			return UserCancelled()
		}
	}
	if code, ok := ProgramCode(err); ok {
		pe := ProgramError(code, action)
		pe.Err = err
		return pe
	}
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return Network(err)
		}
	}
	return &Error{Kind: KindAccountState, Message: fmt.Sprintf("Failed to %s", action), Err: err}
}

// ProgramCode extracts a custom program error code from a ledger error string.
func ProgramCode(err error) (int, bool) {
	s := err.Error()
	if m := hexCodeRe.FindStringSubmatch(s); m != nil {
		v, perr := strconv.ParseInt(m[1], 16, 64)
		if perr == nil {
			return int(v), true
		}
	}
	if m := customCodeRe.FindStringSubmatch(s); m != nil {
		v, perr := strconv.Atoi(m[1])
		if perr == nil {
			return v, true
		}
	}
	return 0, false
}

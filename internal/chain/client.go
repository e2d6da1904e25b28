package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/escrow-marketplace/backend/internal/apperr"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// getMultipleAccounts accepts at most this many keys per request.
const maxAccountsPerCall = 100

var (
	ErrEscrowNotFound = errors.New("escrow account not found")
	ErrSubmitTimeout  = errors.New("transaction was not confirmed in time")
)

type Options struct {
	Commitment    rpc.CommitmentType
	MaxRetries    uint          // automatic retries after the first attempt
	RetryBackoff  time.Duration // fixed delay between attempts
	RateLimit     int           // requests per second, 0 disables
	ConfirmPoll   time.Duration
	SubmitTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Commitment:    rpc.CommitmentConfirmed,
		MaxRetries:    2,
		RetryBackoff:  500 * time.Millisecond,
		RateLimit:     20,
		ConfirmPoll:   700 * time.Millisecond,
		SubmitTimeout: 60 * time.Second,
	}
}

// TokenAccountState is the existence and balance of one token account.
type TokenAccountState struct {
	Exists bool
	Amount uint64
}

// Connection is the RPC context for one network. It is immutable; a network
// switch replaces it as a whole (see Manager).
type Connection struct {
	network Network
	rpc     *rpc.Client
	limiter ratelimit.Limiter
	cb      *gobreaker.CircuitBreaker
	opts    Options
	log     *zap.Logger
}

func NewConnection(network Network, endpoint string, opts Options, log *zap.Logger) *Connection {
	limiter := ratelimit.NewUnlimited()
	if opts.RateLimit > 0 {
		limiter = ratelimit.New(opts.RateLimit)
	}
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.ConfirmPoll <= 0 {
		opts.ConfirmPoll = 700 * time.Millisecond
	}
	return &Connection{
		network: network,
		rpc:     rpc.New(endpoint),
		limiter: limiter,
		cb:      newCircuitBreaker(string(network), log),
		opts:    opts,
		log:     log.With(zap.String("network", string(network))),
	}
}

func newCircuitBreaker(name string, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "rpc-" + name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("rpc circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (c *Connection) Network() Network { return c.network }

type outcome[T any] struct {
	val T
	err error
}

// isPermanent reports errors the node answered with; retrying them is pointless.
func isPermanent(err error) bool {
	var rpcErr *jsonrpc.RPCError
	return errors.Is(err, rpc.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &rpcErr)
}

// call runs fn behind the rate limiter and circuit breaker, retrying transport
// failures MaxRetries times with a fixed delay. Exhausted retries surface as
// apperr network errors; node answers are returned unchanged.
func call[T any](ctx context.Context, c *Connection, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	op := func() (T, error) {
		var zero T
		c.limiter.Take()
		res, err := c.cb.Execute(func() (interface{}, error) {
			v, err := fn(ctx)
			if err != nil && isPermanent(err) {
				// The node is healthy, don't count it against the breaker.
				return outcome[T]{err: err}, nil
			}
			if err != nil {
				return nil, err
			}
			return outcome[T]{val: v}, nil
		})
		if err != nil {
			c.log.Debug("rpc call failed", zap.String("method", method), zap.Error(err))
			return zero, err
		}
		out := res.(outcome[T])
		if out.err != nil {
			return zero, backoff.Permanent(out.err)
		}
		return out.val, nil
	}

	val, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.RetryBackoff)),
		backoff.WithMaxTries(c.opts.MaxRetries+1),
	)
	if err == nil {
		return val, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if isPermanent(err) {
		return val, err
	}
	return val, apperr.Network(fmt.Errorf("%s: %w", method, err))
}

func (c *Connection) multipleAccounts(ctx context.Context, keys []solana.PublicKey) ([]*rpc.Account, error) {
	out := make([]*rpc.Account, 0, len(keys))
	for start := 0; start < len(keys); start += maxAccountsPerCall {
		end := min(start+maxAccountsPerCall, len(keys))
		chunk := keys[start:end]
		res, err := call(ctx, c, "getMultipleAccounts", func(ctx context.Context) (*rpc.GetMultipleAccountsResult, error) {
			return c.rpc.GetMultipleAccountsWithOpts(ctx, chunk, &rpc.GetMultipleAccountsOpts{Commitment: c.opts.Commitment})
		})
		if err != nil {
			return nil, err
		}
		if len(res.Value) != len(chunk) {
			return nil, apperr.Network(fmt.Errorf("getMultipleAccounts: got %d accounts for %d keys", len(res.Value), len(chunk)))
		}
		out = append(out, res.Value...)
	}
	return out, nil
}

// AccountsExist checks all keys in one round trip per 100 keys.
func (c *Connection) AccountsExist(ctx context.Context, keys []solana.PublicKey) ([]bool, error) {
	accounts, err := c.multipleAccounts(ctx, keys)
	if err != nil {
		return nil, err
	}
	exists := make([]bool, len(accounts))
	for i, a := range accounts {
		exists[i] = a != nil
	}
	return exists, nil
}

// TokenAccounts returns existence and balance of SPL token accounts.
func (c *Connection) TokenAccounts(ctx context.Context, keys []solana.PublicKey) ([]TokenAccountState, error) {
	accounts, err := c.multipleAccounts(ctx, keys)
	if err != nil {
		return nil, err
	}
	states := make([]TokenAccountState, len(accounts))
	for i, a := range accounts {
		if a == nil {
			continue
		}
		states[i].Exists = true
		var acc token.Account
		if err := bin.NewBinDecoder(a.Data.GetBinary()).Decode(&acc); err != nil {
			c.log.Warn("undecodable token account", zap.String("account", keys[i].String()), zap.Error(err))
			continue
		}
		states[i].Amount = acc.Amount
	}
	return states, nil
}

// MintDecimals reads decimals from mint accounts. Missing mints are absent from the result.
func (c *Connection) MintDecimals(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]uint8, error) {
	accounts, err := c.multipleAccounts(ctx, mints)
	if err != nil {
		return nil, err
	}
	out := make(map[solana.PublicKey]uint8, len(mints))
	for i, a := range accounts {
		if a == nil {
			continue
		}
		data := a.Data.GetBinary()
		var mint token.Mint
		if err := bin.NewBinDecoder(data).Decode(&mint); err == nil {
			out[mints[i]] = mint.Decimals
			continue
		}
		// Token-2022 mints carry extensions after the base layout.
		if len(data) > 44 {
			out[mints[i]] = data[44]
		}
	}
	return out, nil
}

func (c *Connection) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	res, err := call(ctx, c, "getBalance", func(ctx context.Context) (*rpc.GetBalanceResult, error) {
		return c.rpc.GetBalance(ctx, owner, c.opts.Commitment)
	})
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

func (c *Connection) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	res, err := call(ctx, c, "getLatestBlockhash", func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, c.opts.Commitment)
	})
	if err != nil {
		return solana.Hash{}, err
	}
	if res.Value == nil {
		return solana.Hash{}, apperr.Network(errors.New("getLatestBlockhash: empty response"))
	}
	return res.Value.Blockhash, nil
}

// Escrow loads and decodes a single escrow record.
func (c *Connection) Escrow(ctx context.Context, address solana.PublicKey) (EscrowAccount, error) {
	res, err := call(ctx, c, "getAccountInfo", func(ctx context.Context) (*rpc.GetAccountInfoResult, error) {
		return c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{Commitment: c.opts.Commitment})
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (res == nil || res.Value == nil)) {
		return EscrowAccount{}, ErrEscrowNotFound
	}
	if err != nil {
		return EscrowAccount{}, err
	}
	return DecodeEscrowAccount(res.Value.Data.GetBinary())
}

// ProgramEscrows lists every escrow record owned by programID.
func (c *Connection) ProgramEscrows(ctx context.Context, programID solana.PublicKey) ([]RawEscrow, error) {
	res, err := call(ctx, c, "getProgramAccounts", func(ctx context.Context) (rpc.GetProgramAccountsResult, error) {
		return c.rpc.GetProgramAccountsWithOpts(ctx, programID, &rpc.GetProgramAccountsOpts{
			Commitment: c.opts.Commitment,
			Filters: []rpc.RPCFilter{
				{DataSize: EscrowAccountSize},
				{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(EscrowDiscriminator[:])}},
			},
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]RawEscrow, 0, len(res))
	for _, item := range res {
		if item == nil || item.Account == nil {
			continue
		}
		acc, err := DecodeEscrowAccount(item.Account.Data.GetBinary())
		if err != nil {
			c.log.Warn("skipping undecodable escrow", zap.String("address", item.Pubkey.String()), zap.Error(err))
			continue
		}
		out = append(out, RawEscrow{Address: item.Pubkey, Account: acc})
	}
	return out, nil
}

// SendAndConfirm relays a signed transaction and waits for confirmation.
// The whole sequence races a SubmitTimeout timer; resending the same signed
// transaction is idempotent, so transport failures are retried.
func (c *Connection) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, errors.New("transaction is not signed")
	}
	sig := tx.Signatures[0]

	if c.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SubmitTimeout)
		defer cancel()
	}

	_, err := call(ctx, c, "sendTransaction", func(ctx context.Context) (solana.Signature, error) {
		return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: c.opts.Commitment,
		})
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return sig, apperr.Network(ErrSubmitTimeout)
		}
		return sig, err
	}

	if err := c.waitForConfirmation(ctx, sig); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return sig, apperr.Network(ErrSubmitTimeout)
		}
		return sig, err
	}
	return sig, nil
}

func (c *Connection) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.opts.ConfirmPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

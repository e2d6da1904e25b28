package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

type Network string

const (
	Mainnet  Network = "mainnet-beta"
	Devnet   Network = "devnet"
	Testnet  Network = "testnet"
	Localnet Network = "localnet"
)

func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "mainnet-beta":
		return Mainnet, nil
	case "devnet":
		return Devnet, nil
	case "testnet":
		return Testnet, nil
	case "localnet", "localhost":
		return Localnet, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

func DefaultEndpoint(n Network) string {
	switch n {
	case Mainnet:
		return rpc.MainNetBeta_RPC
	case Testnet:
		return rpc.TestNet_RPC
	case Localnet:
		return rpc.LocalNet_RPC
	default:
		return rpc.DevNet_RPC
	}
}

// Manager owns the current Connection. Components receive it at construction
// and call Current per operation; only Switch replaces the connection.
type Manager struct {
	mu        sync.RWMutex
	conn      *Connection
	endpoints map[Network]string
	opts      Options
	hooks     []func(Network)
	log       *zap.Logger
}

// NewManager connects to network. endpoints overrides DefaultEndpoint per network.
func NewManager(network Network, endpoints map[Network]string, opts Options, log *zap.Logger) *Manager {
	m := &Manager{
		endpoints: endpoints,
		opts:      opts,
		log:       log,
	}
	m.conn = NewConnection(network, m.endpoint(network), opts, log)
	return m
}

func (m *Manager) endpoint(n Network) string {
	if ep, ok := m.endpoints[n]; ok && ep != "" {
		return ep
	}
	return DefaultEndpoint(n)
}

func (m *Manager) Current() *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Manager) Network() Network {
	return m.Current().Network()
}

// OnSwitch registers a hook run after every network switch, e.g. to purge
// caches keyed by the previous network.
func (m *Manager) OnSwitch(fn func(Network)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Switch rebuilds the connection for network. Switching to the current
// network is a no-op.
func (m *Manager) Switch(network Network) bool {
	m.mu.Lock()
	if m.conn.Network() == network {
		m.mu.Unlock()
		return false
	}
	prev := m.conn.Network()
	m.conn = NewConnection(network, m.endpoint(network), m.opts, m.log)
	hooks := append([]func(Network){}, m.hooks...)
	m.mu.Unlock()

	m.log.Info("network switched", zap.String("from", string(prev)), zap.String("to", string(network)))
	for _, h := range hooks {
		h(network)
	}
	return true
}

// The methods below forward to the current connection, so a Manager can be
// injected wherever a single-network ledger view is expected.

func (m *Manager) AccountsExist(ctx context.Context, keys []solana.PublicKey) ([]bool, error) {
	return m.Current().AccountsExist(ctx, keys)
}

func (m *Manager) TokenAccounts(ctx context.Context, keys []solana.PublicKey) ([]TokenAccountState, error) {
	return m.Current().TokenAccounts(ctx, keys)
}

func (m *Manager) MintDecimals(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]uint8, error) {
	return m.Current().MintDecimals(ctx, mints)
}

func (m *Manager) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	return m.Current().NativeBalance(ctx, owner)
}

func (m *Manager) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return m.Current().LatestBlockhash(ctx)
}

func (m *Manager) Escrow(ctx context.Context, address solana.PublicKey) (EscrowAccount, error) {
	return m.Current().Escrow(ctx, address)
}

func (m *Manager) ProgramEscrows(ctx context.Context, programID solana.PublicKey) ([]RawEscrow, error) {
	return m.Current().ProgramEscrows(ctx, programID)
}

func (m *Manager) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return m.Current().SendAndConfirm(ctx, tx)
}

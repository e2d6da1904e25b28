package repositories

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNonceInvalid = errors.New("nonce is unknown, used or expired")

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// --- Sign-in nonces ---

func (r *WalletRepo) CreateNonce(ctx context.Context, wallet string, ttl time.Duration) (*models.SignInNonce, error) {
	n := &models.SignInNonce{
		Nonce:  generateNonce(16),
		Wallet: wallet,
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO signin_nonces (nonce, wallet, expires_at)
		VALUES ($1, $2, now() + $3::interval)
		RETURNING id, created_at, expires_at
	`, n.Nonce, wallet, ttl.String()).Scan(&n.ID, &n.CreatedAt, &n.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ConsumeNonce marks the nonce used. A nonce works once, for the wallet it was issued to.
func (r *WalletRepo) ConsumeNonce(ctx context.Context, nonce, wallet string) (*models.SignInNonce, error) {
	var n models.SignInNonce
	err := r.pool.QueryRow(ctx, `
		UPDATE signin_nonces
		SET used = true
		WHERE nonce = $1 AND wallet = $2 AND used = false AND expires_at > now()
		RETURNING id, nonce, wallet, created_at, expires_at, used
	`, nonce, wallet).Scan(&n.ID, &n.Nonce, &n.Wallet, &n.CreatedAt, &n.ExpiresAt, &n.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNonceInvalid
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *WalletRepo) PurgeExpiredNonces(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM signin_nonces WHERE expires_at < now() - interval '1 day'`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Wallets ---

func (r *WalletRepo) Touch(ctx context.Context, address string) (*models.Wallet, error) {
	w := &models.Wallet{Address: address}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO wallets (address) VALUES ($1)
		ON CONFLICT (address) DO UPDATE SET last_login_at = now()
		RETURNING first_seen_at, last_login_at
	`, address).Scan(&w.FirstSeenAt, &w.LastLoginAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *WalletRepo) Get(ctx context.Context, address string) (*models.Wallet, error) {
	w := &models.Wallet{Address: address}
	err := r.pool.QueryRow(ctx, `
		SELECT first_seen_at, last_login_at FROM wallets WHERE address = $1
	`, address).Scan(&w.FirstSeenAt, &w.LastLoginAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func generateNonce(bytes int) string {
	b := make([]byte, bytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

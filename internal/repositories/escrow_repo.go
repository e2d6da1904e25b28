package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEscrowNotFound = errors.New("escrow not found")

// EscrowRepo stores the indexer's snapshot of on-chain escrows per network.
// The chain is the source of truth; rows are replaced wholesale.
type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// ReplaceAll upserts escrows and deletes every other row of the network in
// one transaction. It returns how many rows were removed.
func (r *EscrowRepo) ReplaceAll(ctx context.Context, network string, escrows []models.Escrow) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	ids := make([]string, 0, len(escrows))
	for _, e := range escrows {
		data, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("marshal escrow %s: %w", e.ID, err)
		}
		ids = append(ids, e.ID.String())
		batch.Queue(`
			INSERT INTO escrows (network, id, maker, deposit_mint, request_mint, data, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (network, id) DO UPDATE SET
				data = EXCLUDED.data,
				updated_at = now()
			WHERE escrows.data IS DISTINCT FROM EXCLUDED.data
		`, network, e.ID.String(), e.Maker.String(), e.DepositToken.Mint.String(), e.RequestToken.Mint.String(), data)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("upsert escrows: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM escrows WHERE network = $1 AND NOT (id = ANY($2))`, network, ids)
	if err != nil {
		return 0, fmt.Errorf("delete closed escrows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *EscrowRepo) List(ctx context.Context, network string) ([]models.Escrow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT data FROM escrows WHERE network = $1 ORDER BY updated_at DESC, id
	`, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Escrow
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e models.Escrow
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode escrow snapshot: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EscrowRepo) ListByMaker(ctx context.Context, network, maker string) ([]models.Escrow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT data FROM escrows WHERE network = $1 AND maker = $2 ORDER BY updated_at DESC
	`, network, maker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Escrow
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e models.Escrow
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode escrow snapshot: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EscrowRepo) Get(ctx context.Context, network, id string) (*models.Escrow, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM escrows WHERE network = $1 AND id = $2`, network, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	var e models.Escrow
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode escrow snapshot: %w", err)
	}
	return &e, nil
}

func (r *EscrowRepo) Delete(ctx context.Context, network, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM escrows WHERE network = $1 AND id = $2`, network, id)
	return err
}

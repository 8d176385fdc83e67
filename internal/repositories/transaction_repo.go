package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secure-shuttle/backend/internal/models"
)

const txColumns = `id, escrow_id, signature, tx_type, status, amount_lamports, from_address, to_address,
	       intent_hash, commitment_target, last_valid_block_height, memo, raw_error, recorded_at, updated_at`

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.EscrowID, &t.Signature, &t.TxType, &t.Status, &t.AmountLamports,
		&t.FromAddress, &t.ToAddress, &t.IntentHash, &t.CommitmentTarget,
		&t.LastValidBlockHeight, &t.Memo, &t.RawError, &t.RecordedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO transactions (escrow_id, signature, tx_type, status, amount_lamports, from_address,
		                          to_address, intent_hash, commitment_target, last_valid_block_height, memo, raw_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, recorded_at, updated_at
	`, t.EscrowID, t.Signature, t.TxType, t.Status, t.AmountLamports, t.FromAddress,
		t.ToAddress, t.IntentHash, t.CommitmentTarget, t.LastValidBlockHeight, t.Memo, t.RawError,
	).Scan(&t.ID, &t.RecordedAt, &t.UpdatedAt)
}

func (r *TransactionRepo) GetBySignature(ctx context.Context, signature string) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE signature = $1`, signature))
}

// FindByIntent looks up a prior settlement attempt for the same intent so
// duplicate release calls return the original signature instead of paying twice.
func (r *TransactionRepo) FindByIntent(ctx context.Context, escrowID uuid.UUID, txType, intentHash string) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE escrow_id = $1 AND tx_type = $2 AND intent_hash = $3 AND status != $4
		ORDER BY recorded_at DESC LIMIT 1
	`, escrowID, txType, intentHash, models.TxStatusFailed))
}

func (r *TransactionRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE escrow_id = $1 ORDER BY recorded_at DESC`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func (r *TransactionRepo) ListPending(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status IN ($1, $2) ORDER BY recorded_at ASC LIMIT $3
	`, models.TxStatusPending, models.TxStatusWaiting, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func (r *TransactionRepo) HasConfirmedDeposit(ctx context.Context, escrowID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM transactions WHERE escrow_id = $1 AND tx_type = $2 AND status = $3)
	`, escrowID, models.TxTypeDeposit, models.TxStatusConfirmed).Scan(&exists)
	return exists, err
}

// UpdateStatus moves a pending or waiting transaction to its next status.
// Confirmed and failed rows are immutable, so those are left alone.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, signature, status string, rawError *string) (*models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
		UPDATE transactions SET status = $1, raw_error = COALESCE($2, raw_error), updated_at = now()
		WHERE signature = $3 AND status IN ($4, $5)
		RETURNING `+txColumns, status, rawError, signature, models.TxStatusPending, models.TxStatusWaiting))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Row exists but is already terminal, or the signature is unknown.
			return r.GetBySignature(ctx, signature)
		}
		return nil, err
	}
	return t, nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secure-shuttle/backend/internal/models"
)

var (
	ErrNotFound = errors.New("repositories: not found")
	// ErrVersionConflict means a conditional write lost the race: the record
	// changed since it was read. Callers re-read and re-evaluate their guards.
	ErrVersionConflict = errors.New("repositories: version conflict")
)

const escrowColumns = `id, public_id, public_key, secret_key, label, sender_address, recipient_address,
	       expected_amount_lamports, status, creator_user_id, payer_user_id, payee_user_id,
	       sender_claimed_at, recipient_claimed_at, join_token_hash, join_expires_at,
	       invite_token_hash, invite_expires_at, invite_used_at, accepted_at, funded_at,
	       service_marked_complete_at, disputed_at, dispute_reason, finalize_nonce,
	       last_intent_hash, settled_signature, failure_reason, version, created_at, updated_at`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var e models.Escrow
	err := row.Scan(&e.ID, &e.PublicID, &e.PublicKey, &e.SecretKey, &e.Label, &e.SenderAddress,
		&e.RecipientAddress, &e.ExpectedAmountLamports, &e.Status, &e.CreatorUserID,
		&e.PayerUserID, &e.PayeeUserID, &e.SenderClaimedAt, &e.RecipientClaimedAt,
		&e.JoinTokenHash, &e.JoinExpiresAt, &e.InviteTokenHash, &e.InviteExpiresAt,
		&e.InviteUsedAt, &e.AcceptedAt, &e.FundedAt, &e.ServiceMarkedCompleteAt,
		&e.DisputedAt, &e.DisputeReason, &e.FinalizeNonce, &e.LastIntentHash,
		&e.SettledSignature, &e.FailureReason, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrows (public_id, public_key, secret_key, label, sender_address, recipient_address,
		                     expected_amount_lamports, status, creator_user_id, payer_user_id, payee_user_id,
		                     join_token_hash, join_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, finalize_nonce, version, created_at, updated_at
	`, e.PublicID, e.PublicKey, e.SecretKey, e.Label, e.SenderAddress, e.RecipientAddress,
		e.ExpectedAmountLamports, e.Status, e.CreatorUserID, e.PayerUserID, e.PayeeUserID,
		e.JoinTokenHash, e.JoinExpiresAt,
	).Scan(&e.ID, &e.FinalizeNonce, &e.Version, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return scanEscrow(r.pool.QueryRow(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
}

func (r *EscrowRepo) GetByPublicID(ctx context.Context, publicID string) (*models.Escrow, error) {
	return scanEscrow(r.pool.QueryRow(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE public_id = $1`, publicID))
}

func (r *EscrowRepo) GetByInviteHash(ctx context.Context, inviteTokenHash string) (*models.Escrow, error) {
	return scanEscrow(r.pool.QueryRow(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE invite_token_hash = $1`, inviteTokenHash))
}

type EscrowFilter struct {
	Status      *string
	ActorUserID *string // restrict to escrows the actor created or is a party of
	Limit       int
	Offset      int
}

func (f EscrowFilter) whereClause() (string, []any) {
	args := []any{}
	argIdx := 1
	where := ""

	appendCond := func(cond string, vals ...any) {
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
		args = append(args, vals...)
	}

	if f.Status != nil {
		appendCond(fmt.Sprintf("status = $%d", argIdx), *f.Status)
		argIdx++
	}
	if f.ActorUserID != nil {
		appendCond(fmt.Sprintf("(creator_user_id = $%d OR payer_user_id = $%d OR payee_user_id = $%d)",
			argIdx, argIdx, argIdx), *f.ActorUserID)
		argIdx++
	}
	return where, args
}

func (r *EscrowRepo) List(ctx context.Context, f EscrowFilter) (int, []models.Escrow, error) {
	where, args := f.whereClause()

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM escrows`+where, args...).Scan(&total); err != nil {
		return 0, nil, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + escrowColumns + ` FROM escrows` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return 0, nil, err
		}
		escrows = append(escrows, *e)
	}
	return total, escrows, rows.Err()
}

// ListActive returns non-terminal, non-disputed escrows for the funding
// watcher to reconcile.
func (r *EscrowRepo) ListActive(ctx context.Context, limit int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status NOT IN ($1, $2, $3) AND funded_at IS NULL
		ORDER BY updated_at ASC LIMIT $4
	`, models.EscrowStatusReleased, models.EscrowStatusCancelled, models.EscrowStatusDisputed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *e)
	}
	return escrows, rows.Err()
}

// EscrowPatch is the set of mutable escrow fields. Nil fields are left
// untouched; pointer fields set to non-nil are written as given.
type EscrowPatch struct {
	Label                   *string
	SenderAddress           *string
	RecipientAddress        *string
	ExpectedAmountLamports  *int64
	Status                  *string
	PayerUserID             *string
	PayeeUserID             *string
	SenderClaimedAt         *time.Time
	RecipientClaimedAt      *time.Time
	JoinTokenHash           *string
	JoinExpiresAt           *time.Time
	InviteTokenHash         *string
	InviteExpiresAt         *time.Time
	InviteUsedAt            *time.Time
	AcceptedAt              *time.Time
	FundedAt                *time.Time
	ServiceMarkedCompleteAt *time.Time
	DisputedAt              *time.Time
	DisputeReason           *string
	FinalizeNonce           *int64
	LastIntentHash          *string
	SettledSignature        *string
	FailureReason           *string
	ClearFailureReason      bool
}

// UpdateVersioned applies a patch conditioned on the version read by the
// caller. The version counter advances by one on success; a stale version
// yields ErrVersionConflict without touching the row.
func (r *EscrowRepo) UpdateVersioned(ctx context.Context, id uuid.UUID, expectedVersion int64, p EscrowPatch) (*models.Escrow, error) {
	set := []string{"version = version + 1", "updated_at = now()"}
	args := []any{}
	argIdx := 1

	appendSet := func(column string, val any) {
		set = append(set, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, val)
		argIdx++
	}

	if p.Label != nil {
		appendSet("label", *p.Label)
	}
	if p.SenderAddress != nil {
		appendSet("sender_address", *p.SenderAddress)
	}
	if p.RecipientAddress != nil {
		appendSet("recipient_address", *p.RecipientAddress)
	}
	if p.ExpectedAmountLamports != nil {
		appendSet("expected_amount_lamports", *p.ExpectedAmountLamports)
	}
	if p.Status != nil {
		appendSet("status", *p.Status)
	}
	if p.PayerUserID != nil {
		appendSet("payer_user_id", *p.PayerUserID)
	}
	if p.PayeeUserID != nil {
		appendSet("payee_user_id", *p.PayeeUserID)
	}
	if p.SenderClaimedAt != nil {
		appendSet("sender_claimed_at", *p.SenderClaimedAt)
	}
	if p.RecipientClaimedAt != nil {
		appendSet("recipient_claimed_at", *p.RecipientClaimedAt)
	}
	if p.JoinTokenHash != nil {
		appendSet("join_token_hash", *p.JoinTokenHash)
	}
	if p.JoinExpiresAt != nil {
		appendSet("join_expires_at", *p.JoinExpiresAt)
	}
	if p.InviteTokenHash != nil {
		appendSet("invite_token_hash", *p.InviteTokenHash)
	}
	if p.InviteExpiresAt != nil {
		appendSet("invite_expires_at", *p.InviteExpiresAt)
	}
	if p.InviteUsedAt != nil {
		appendSet("invite_used_at", *p.InviteUsedAt)
	}
	if p.AcceptedAt != nil {
		appendSet("accepted_at", *p.AcceptedAt)
	}
	if p.FundedAt != nil {
		appendSet("funded_at", *p.FundedAt)
	}
	if p.ServiceMarkedCompleteAt != nil {
		appendSet("service_marked_complete_at", *p.ServiceMarkedCompleteAt)
	}
	if p.DisputedAt != nil {
		appendSet("disputed_at", *p.DisputedAt)
	}
	if p.DisputeReason != nil {
		appendSet("dispute_reason", *p.DisputeReason)
	}
	if p.FinalizeNonce != nil {
		appendSet("finalize_nonce", *p.FinalizeNonce)
	}
	if p.LastIntentHash != nil {
		appendSet("last_intent_hash", *p.LastIntentHash)
	}
	if p.SettledSignature != nil {
		appendSet("settled_signature", *p.SettledSignature)
	}
	if p.FailureReason != nil {
		appendSet("failure_reason", *p.FailureReason)
	} else if p.ClearFailureReason {
		set = append(set, "failure_reason = NULL")
	}

	query := "UPDATE escrows SET "
	for i, s := range set {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += fmt.Sprintf(" WHERE id = $%d AND version = $%d RETURNING %s", argIdx, argIdx+1, escrowColumns)
	args = append(args, id, expectedVersion)

	e, err := scanEscrow(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Either the row is gone or the version moved on. Distinguish so callers
	// can retry conflicts.
	var exists bool
	if checkErr := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM escrows WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
		return nil, checkErr
	}
	if exists {
		return nil, ErrVersionConflict
	}
	return nil, ErrNotFound
}

package repositories

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secure-shuttle/backend/internal/models"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

func (r *DisputeRepo) CreateMessage(ctx context.Context, m *models.DisputeMessage) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO dispute_messages (escrow_id, sender_user_id, sender_role, body, attachments)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, m.EscrowID, m.SenderUserID, m.SenderRole, m.Body, attachments).Scan(&m.ID, &m.CreatedAt)
}

func (r *DisputeRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.DisputeMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, escrow_id, sender_user_id, sender_role, body, attachments, created_at
		FROM dispute_messages WHERE escrow_id = $1 ORDER BY created_at ASC
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.DisputeMessage
	for rows.Next() {
		var m models.DisputeMessage
		var attachments []byte
		if err := rows.Scan(&m.ID, &m.EscrowID, &m.SenderUserID, &m.SenderRole, &m.Body,
			&attachments, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
				return nil, err
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secure-shuttle/backend/internal/models"
)

type RatingRepo struct {
	pool *pgxpool.Pool
}

func NewRatingRepo(pool *pgxpool.Pool) *RatingRepo {
	return &RatingRepo{pool: pool}
}

// Upsert inserts or overwrites the rater's rating for the counterparty on a
// given escrow. Re-rating updates the row in place.
func (r *RatingRepo) Upsert(ctx context.Context, rating *models.EscrowRating) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrow_ratings (escrow_id, from_user_id, to_user_id, score, comment)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (escrow_id, from_user_id, to_user_id)
		DO UPDATE SET score = EXCLUDED.score, comment = EXCLUDED.comment, updated_at = now()
		RETURNING id, created_at, updated_at
	`, rating.EscrowID, rating.FromUserID, rating.ToUserID, rating.Score, rating.Comment,
	).Scan(&rating.ID, &rating.CreatedAt, &rating.UpdatedAt)
}

func (r *RatingRepo) GetByRater(ctx context.Context, escrowID uuid.UUID, fromUserID string) (*models.EscrowRating, error) {
	var rating models.EscrowRating
	err := r.pool.QueryRow(ctx, `
		SELECT id, escrow_id, from_user_id, to_user_id, score, comment, created_at, updated_at
		FROM escrow_ratings WHERE escrow_id = $1 AND from_user_id = $2
	`, escrowID, fromUserID).Scan(&rating.ID, &rating.EscrowID, &rating.FromUserID,
		&rating.ToUserID, &rating.Score, &rating.Comment, &rating.CreatedAt, &rating.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rating, nil
}

func (r *RatingRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.EscrowRating, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, escrow_id, from_user_id, to_user_id, score, comment, created_at, updated_at
		FROM escrow_ratings WHERE escrow_id = $1 ORDER BY created_at ASC
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []models.EscrowRating
	for rows.Next() {
		var rating models.EscrowRating
		if err := rows.Scan(&rating.ID, &rating.EscrowID, &rating.FromUserID, &rating.ToUserID,
			&rating.Score, &rating.Comment, &rating.CreatedAt, &rating.UpdatedAt); err != nil {
			return nil, err
		}
		ratings = append(ratings, rating)
	}
	return ratings, rows.Err()
}

// UserSummary aggregates the ratings a user has received across escrows.
func (r *RatingRepo) UserSummary(ctx context.Context, userID string) (count int, average float64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT count(*), COALESCE(avg(score), 0) FROM escrow_ratings WHERE to_user_id = $1
	`, userID).Scan(&count, &average)
	return count, average, err
}

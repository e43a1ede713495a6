package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradehub/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func insertReview(ctx context.Context, exec sqlx.ExecerContext, r *models.Review) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO reviews (id, reviewer_id, target_user_id, order_id, sample_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.ReviewerID, r.TargetUserID, r.OrderID, r.SampleID, r.Rating, r.Comment, r.CreatedAt)
	return translate(err)
}

// CreateOrderReview inserts a review of a completed order
func (s *Store) CreateOrderReview(ctx context.Context, r *models.Review) error {
	return insertReview(ctx, s.db, r)
}

// CreateSampleReview inserts a review and moves the sample from received to
// reviewed in the same transaction
func (s *Store) CreateSampleReview(ctx context.Context, r *models.Review, sample *models.Sample) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertReview(ctx, tx, r); err != nil {
			return err
		}
		return updateSample(ctx, tx, sample, models.SampleStatusReceived)
	})
}

var statsColumns = map[string]bool{
	models.StatOrdersPlaced:       true,
	models.StatOrdersReceived:     true,
	models.StatOrdersCompleted:    true,
	models.StatOrdersCancelled:    true,
	models.StatSamplesRequested:   true,
	models.StatSamplesReceived:    true,
	models.StatNegotiationsAgreed: true,
	models.StatReviewsReceived:    true,
}

// ApplyStatsEvent applies counter increments exactly once per event id. It
// reports false when the event was already processed.
func (s *Store) ApplyStatsEvent(ctx context.Context, eventID, eventType string, deltas []models.StatsDelta) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
			eventID, eventType)
		if err != nil {
			return fmt.Errorf("failed to mark event processed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		for _, d := range deltas {
			if !statsColumns[d.Column] {
				return fmt.Errorf("unknown stats column %q", d.Column)
			}
			query := fmt.Sprintf(`
				INSERT INTO user_stats (user_id, %[1]s, updated_at) VALUES ($1, $2, $3)
				ON CONFLICT (user_id) DO UPDATE SET %[1]s = user_stats.%[1]s + $2, updated_at = $3`, d.Column)
			if _, err := tx.ExecContext(ctx, query, d.UserID, d.Amount, time.Now()); err != nil {
				return fmt.Errorf("failed to update stats: %w", err)
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// GetUserStats retrieves a user's counters, zero-valued when none exist yet
func (s *Store) GetUserStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	var stats models.UserStats
	err := s.db.GetContext(ctx, &stats, "SELECT * FROM user_stats WHERE user_id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.UserStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradehub/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const notificationColumns = `
	id, recipient_id, type, title, message, payload, is_read, read_at, action_required,
	priority, category, expires_at, created_at`

// CreateNotifications inserts a batch of notifications in one transaction
func (s *Store) CreateNotifications(ctx context.Context, notifications []*models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO notifications (id, recipient_id, type, title, message, payload, is_read,
				action_required, priority, category, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, FALSE, $7, $8, $9, $10, $11)`)
		if err != nil {
			return fmt.Errorf("failed to prepare notification insert: %w", err)
		}
		defer stmt.Close()

		for _, n := range notifications {
			payload := string(n.Payload)
			if payload == "" {
				payload = "{}"
			}
			if _, err := stmt.ExecContext(ctx,
				n.ID, n.RecipientID, n.Type, n.Title, n.Message, payload,
				n.ActionRequired, n.Priority, n.Category, n.ExpiresAt, n.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert notification: %w", err)
			}
		}
		return nil
	})
}

// GetNotificationByID retrieves a notification by ID
func (s *Store) GetNotificationByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	var n models.Notification
	err := s.db.GetContext(ctx, &n, "SELECT "+notificationColumns+" FROM notifications WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotifications retrieves a recipient's visible notifications, newest first
func (s *Store) ListNotifications(ctx context.Context, recipientID uuid.UUID, filter models.NotificationFilter, now time.Time) ([]models.Notification, error) {
	conds := []string{"recipient_id = $1", "(expires_at IS NULL OR expires_at > $2)"}
	args := []any{recipientID, now}
	if filter.UnreadOnly {
		conds = append(conds, "is_read = FALSE")
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf("SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		notificationColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	var out []models.Notification
	err := s.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

// CountUnreadNotifications counts a recipient's visible unread notifications
func (s *Store) CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND is_read = FALSE AND (expires_at IS NULL OR expires_at > $2)`,
		recipientID, now)
	return count, err
}

// MarkNotificationRead marks one notification read, keeping the first read timestamp
func (s *Store) MarkNotificationRead(ctx context.Context, id uuid.UUID, now time.Time) (*models.Notification, error) {
	var n models.Notification
	err := s.db.GetContext(ctx, &n, `
		UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, $2)
		WHERE id = $1
		RETURNING `+notificationColumns, id, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkAllNotificationsRead marks every unread notification of a recipient read
func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipientID uuid.UUID, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE, read_at = $2 WHERE recipient_id = $1 AND is_read = FALSE",
		recipientID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredNotifications removes notifications past their expiry
func (s *Store) DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= $1", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

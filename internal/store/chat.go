package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tradehub/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// GetOrCreateChatThread returns the chat thread of an order, creating it on first use
func (s *Store) GetOrCreateChatThread(ctx context.Context, order *models.Order) (*models.ChatThread, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_threads (id, order_id, buyer_id, seller_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING`,
		uuid.New(), order.ID, order.BuyerID, order.SellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat thread: %w", err)
	}
	return s.getChatThread(ctx, s.db, order.ID)
}

func (s *Store) getChatThread(ctx context.Context, q sqlx.QueryerContext, orderID uuid.UUID) (*models.ChatThread, error) {
	var thread models.ChatThread
	err := sqlx.GetContext(ctx, q, &thread, "SELECT * FROM chat_threads WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// AppendChatMessage stores a message and updates the thread summary and the
// recipient's unread counter in one transaction
func (s *Store) AppendChatMessage(ctx context.Context, msg *models.ChatMessage, recipientID uuid.UUID) (*models.ChatThread, error) {
	var thread *models.ChatThread
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, thread_id, order_id, sender_id, body, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
			msg.ID, msg.ThreadID, msg.OrderID, msg.SenderID, msg.Body, msg.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE chat_threads SET
				last_message = $2, last_sender_id = $3, last_message_at = $4, updated_at = $4,
				buyer_unread = buyer_unread + CASE WHEN buyer_id = $5 THEN 1 ELSE 0 END,
				seller_unread = seller_unread + CASE WHEN seller_id = $5 THEN 1 ELSE 0 END
			WHERE id = $1`,
			msg.ThreadID, msg.Body, msg.SenderID, msg.CreatedAt, recipientID)
		if err != nil {
			return fmt.Errorf("failed to update chat thread: %w", err)
		}
		if err := expectOne(res); err != nil {
			return ErrNotFound
		}

		thread, err = s.getChatThread(ctx, tx, msg.OrderID)
		return err
	})
	return thread, err
}

// MarkChatRead resets the reader's unread counter and flags the counterpart's messages read
func (s *Store) MarkChatRead(ctx context.Context, orderID, readerID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE chat_threads SET
				buyer_unread = CASE WHEN buyer_id = $2 THEN 0 ELSE buyer_unread END,
				seller_unread = CASE WHEN seller_id = $2 THEN 0 ELSE seller_unread END
			WHERE order_id = $1`, orderID, readerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE chat_messages SET is_read = TRUE WHERE order_id = $1 AND sender_id <> $2 AND is_read = FALSE",
			orderID, readerID)
		return err
	})
}

// ListChatMessages retrieves the latest messages of an order chat in chronological order
func (s *Store) ListChatMessages(ctx context.Context, orderID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT * FROM (
			SELECT * FROM chat_messages WHERE order_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`, orderID, limit)
	return msgs, err
}

// CreateGroupMessage stores a location room message
func (s *Store) CreateGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_messages (id, location, sender_id, sender_name, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.Location, msg.SenderID, msg.SenderName, msg.Body, msg.CreatedAt)
	return err
}

// ListGroupMessages retrieves the latest messages of a location room in chronological order
func (s *Store) ListGroupMessages(ctx context.Context, location string, limit int) ([]models.GroupMessage, error) {
	var msgs []models.GroupMessage
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT * FROM (
			SELECT * FROM group_messages WHERE location = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`, location, limit)
	return msgs, err
}

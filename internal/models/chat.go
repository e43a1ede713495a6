package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChatThread holds the per-order chat summary between buyer and seller
type ChatThread struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	OrderID       uuid.UUID  `db:"order_id" json:"order_id"`
	BuyerID       uuid.UUID  `db:"buyer_id" json:"buyer_id"`
	SellerID      uuid.UUID  `db:"seller_id" json:"seller_id"`
	LastMessage   string     `db:"last_message" json:"last_message,omitempty"`
	LastSenderID  *uuid.UUID `db:"last_sender_id" json:"last_sender_id,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	BuyerUnread   int        `db:"buyer_unread" json:"buyer_unread"`
	SellerUnread  int        `db:"seller_unread" json:"seller_unread"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// UnreadFor returns the unread counter of the given participant.
func (t *ChatThread) UnreadFor(userID uuid.UUID) int {
	if userID == t.BuyerID {
		return t.BuyerUnread
	}
	return t.SellerUnread
}

// ChatMessage is one message of an order chat
type ChatMessage struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ThreadID  uuid.UUID `db:"thread_id" json:"thread_id"`
	OrderID   uuid.UUID `db:"order_id" json:"order_id"`
	SenderID  uuid.UUID `db:"sender_id" json:"sender_id"`
	Body      string    `db:"body" json:"body"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GroupMessage is one message of a location chat room
type GroupMessage struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Location   string    `db:"location" json:"location"`
	SenderID   uuid.UUID `db:"sender_id" json:"sender_id"`
	SenderName string    `db:"sender_name" json:"sender_name"`
	Body       string    `db:"body" json:"body"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// NormalizeLocation produces the room key of a location string.
func NormalizeLocation(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

// Notification types
const (
	NotificationOrderPlaced         NotificationType = "order_placed"
	NotificationOrderConfirmed      NotificationType = "order_confirmed"
	NotificationOrderShipped        NotificationType = "order_shipped"
	NotificationOrderCompleted      NotificationType = "order_completed"
	NotificationOrderCancelled      NotificationType = "order_cancelled"
	NotificationSampleRequested     NotificationType = "sample_requested"
	NotificationSampleAccepted      NotificationType = "sample_accepted"
	NotificationSampleRejected      NotificationType = "sample_rejected"
	NotificationSampleReceived      NotificationType = "sample_received"
	NotificationNegotiationStarted  NotificationType = "negotiation_started"
	NotificationNegotiationMessage  NotificationType = "negotiation_message"
	NotificationNegotiationAgreed   NotificationType = "negotiation_agreed"
	NotificationNegotiationCanceled NotificationType = "negotiation_canceled"
	NotificationChatMessage         NotificationType = "chat_message"
	NotificationReviewReceived      NotificationType = "review_received"
	NotificationSystem              NotificationType = "system"
)

var notificationTypes = map[NotificationType]NotificationCategory{
	NotificationOrderPlaced:         CategoryOrder,
	NotificationOrderConfirmed:      CategoryOrder,
	NotificationOrderShipped:        CategoryOrder,
	NotificationOrderCompleted:      CategoryOrder,
	NotificationOrderCancelled:      CategoryOrder,
	NotificationSampleRequested:     CategorySample,
	NotificationSampleAccepted:      CategorySample,
	NotificationSampleRejected:      CategorySample,
	NotificationSampleReceived:      CategorySample,
	NotificationNegotiationStarted:  CategoryNegotiation,
	NotificationNegotiationMessage:  CategoryNegotiation,
	NotificationNegotiationAgreed:   CategoryNegotiation,
	NotificationNegotiationCanceled: CategoryNegotiation,
	NotificationChatMessage:         CategoryChat,
	NotificationReviewReceived:      CategoryReview,
	NotificationSystem:              CategorySystem,
}

func (t NotificationType) Valid() bool {
	_, ok := notificationTypes[t]
	return ok
}

// Category returns the default category of the type.
func (t NotificationType) Category() NotificationCategory {
	if c, ok := notificationTypes[t]; ok {
		return c
	}
	return CategorySystem
}

type NotificationCategory string

// Notification categories
const (
	CategoryOrder       NotificationCategory = "order"
	CategorySample      NotificationCategory = "sample"
	CategoryNegotiation NotificationCategory = "negotiation"
	CategoryChat        NotificationCategory = "chat"
	CategoryReview      NotificationCategory = "review"
	CategorySystem      NotificationCategory = "system"
)

type NotificationPriority string

// Notification priorities
const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Notification is a recipient-scoped event record
type Notification struct {
	ID             uuid.UUID            `db:"id" json:"id"`
	RecipientID    uuid.UUID            `db:"recipient_id" json:"recipient_id"`
	Type           NotificationType     `db:"type" json:"type"`
	Title          string               `db:"title" json:"title"`
	Message        string               `db:"message" json:"message"`
	Payload        json.RawMessage      `db:"payload" json:"payload,omitempty"`
	IsRead         bool                 `db:"is_read" json:"is_read"`
	ReadAt         *time.Time           `db:"read_at" json:"read_at,omitempty"`
	ActionRequired bool                 `db:"action_required" json:"action_required"`
	Priority       NotificationPriority `db:"priority" json:"priority"`
	Category       NotificationCategory `db:"category" json:"category"`
	ExpiresAt      *time.Time           `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt      time.Time            `db:"created_at" json:"created_at"`
}

// Expired reports whether the notification is past its expiry and therefore invisible.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}

// NotificationSummary is sent to a client right after it authenticates.
type NotificationSummary struct {
	UnreadCount int            `json:"unread_count"`
	Recent      []Notification `json:"recent"`
}

// NotificationFilter selects a page of a recipient's notifications.
type NotificationFilter struct {
	UnreadOnly bool
	Category   NotificationCategory
	Limit      int
	Offset     int
}

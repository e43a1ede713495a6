package service

import (
	"context"
	"time"

	"tradehub/internal/models"

	"github.com/google/uuid"
)

// OrderRepository persists orders. Updates are compare-and-set on status.
type OrderRepository interface {
	CreateOrderWithinCeiling(ctx context.Context, order *models.Order, ceiling int) (int, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order, expected models.OrderStatus) error
}

// ListingCatalog supplies read-only listing snapshots
type ListingCatalog interface {
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
}

type SampleRepository interface {
	CreateSample(ctx context.Context, sample *models.Sample) error
	GetSampleByID(ctx context.Context, id uuid.UUID) (*models.Sample, error)
	ListSamplesByUser(ctx context.Context, userID uuid.UUID) ([]models.Sample, error)
	UpdateSample(ctx context.Context, sample *models.Sample, expected models.SampleStatus) error
	DeleteSample(ctx context.Context, id uuid.UUID, expected models.SampleStatus) error
}

type NegotiationRepository interface {
	CreateNegotiation(ctx context.Context, n *models.Negotiation) error
	GetNegotiationByID(ctx context.Context, id uuid.UUID) (*models.Negotiation, error)
	GetNegotiationByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Negotiation, error)
	ListNegotiationsByUser(ctx context.Context, userID uuid.UUID) ([]models.Negotiation, error)
	UpdateNegotiation(ctx context.Context, n *models.Negotiation, expected models.NegotiationStatus, msgs ...models.NegotiationMessage) error
	AgreeNegotiation(ctx context.Context, n *models.Negotiation, msg models.NegotiationMessage, order *models.Order) error
}

type ReviewRepository interface {
	CreateOrderReview(ctx context.Context, r *models.Review) error
	CreateSampleReview(ctx context.Context, r *models.Review, sample *models.Sample) error
}

type NotificationRepository interface {
	CreateNotifications(ctx context.Context, notifications []*models.Notification) error
	GetNotificationByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	ListNotifications(ctx context.Context, recipientID uuid.UUID, filter models.NotificationFilter, now time.Time) ([]models.Notification, error)
	CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID, now time.Time) (int, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID, now time.Time) (*models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID uuid.UUID, now time.Time) (int64, error)
	DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error)
}

type ChatRepository interface {
	GetOrCreateChatThread(ctx context.Context, order *models.Order) (*models.ChatThread, error)
	AppendChatMessage(ctx context.Context, msg *models.ChatMessage, recipientID uuid.UUID) (*models.ChatThread, error)
	MarkChatRead(ctx context.Context, orderID, readerID uuid.UUID) error
	ListChatMessages(ctx context.Context, orderID uuid.UUID, limit int) ([]models.ChatMessage, error)
	CreateGroupMessage(ctx context.Context, msg *models.GroupMessage) error
	ListGroupMessages(ctx context.Context, location string, limit int) ([]models.GroupMessage, error)
}

type StatsRepository interface {
	ApplyStatsEvent(ctx context.Context, eventID, eventType string, deltas []models.StatsDelta) (bool, error)
	GetUserStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error)
}

// IdempotencyStore remembers the result of a keyed request and serializes
// concurrent requests carrying the same key
type IdempotencyStore interface {
	SetIdempotencyKey(ctx context.Context, key string, value string, ttl time.Duration) error
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// EventPublisher emits committed transitions to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, event *models.TransactionEvent) error
}

// HistoryRecorder keeps the audit trail of status changes
type HistoryRecorder interface {
	Record(ctx context.Context, change models.StatusChange) error
}

// Pusher delivers an event to the live notification connection of a user.
// It reports false when the user has no live connection.
type Pusher interface {
	Push(userID uuid.UUID, event string, payload any) bool
}

// Notifier is the dispatch side of NotificationService used by the
// transaction services
type Notifier interface {
	Dispatch(ctx context.Context, in NotificationInput) (*models.Notification, error)
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced         = "ORDER_PLACED"
	EventTypeOrderConfirmed      = "ORDER_CONFIRMED"
	EventTypeOrderShipped        = "ORDER_SHIPPED"
	EventTypeOrderCompleted      = "ORDER_COMPLETED"
	EventTypeOrderCancelled      = "ORDER_CANCELLED"
	EventTypeSampleRequested     = "SAMPLE_REQUESTED"
	EventTypeSampleAccepted      = "SAMPLE_ACCEPTED"
	EventTypeSampleRejected      = "SAMPLE_REJECTED"
	EventTypeSampleReceived      = "SAMPLE_RECEIVED"
	EventTypeSampleReviewed      = "SAMPLE_REVIEWED"
	EventTypeNegotiationStarted  = "NEGOTIATION_STARTED"
	EventTypeNegotiationAgreed   = "NEGOTIATION_AGREED"
	EventTypeNegotiationCanceled = "NEGOTIATION_CANCELED"
	EventTypeReviewCreated       = "REVIEW_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionEvent is published after every committed ledger transition.
// BuyerID is the buyer, sample receiver or reviewer; SellerID is the seller,
// supplier or reviewed user.
type TransactionEvent struct {
	BaseEvent
	EntityType string           `json:"entity_type"`
	EntityID   uuid.UUID        `json:"entity_id"`
	ActorID    uuid.UUID        `json:"actor_id"`
	BuyerID    uuid.UUID        `json:"buyer_id"`
	SellerID   uuid.UUID        `json:"seller_id"`
	Status     string           `json:"status"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// NewTransactionEvent stamps a fresh event id and timestamp.
func NewTransactionEvent(eventType, entityType string, entityID, actor, buyer, seller uuid.UUID, status string) *TransactionEvent {
	return &TransactionEvent{
		BaseEvent: BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actor,
		BuyerID:    buyer,
		SellerID:   seller,
		Status:     status,
	}
}

// Stats counter columns
const (
	StatOrdersPlaced       = "orders_placed"
	StatOrdersReceived     = "orders_received"
	StatOrdersCompleted    = "orders_completed"
	StatOrdersCancelled    = "orders_cancelled"
	StatSamplesRequested   = "samples_requested"
	StatSamplesReceived    = "samples_received"
	StatNegotiationsAgreed = "negotiations_agreed"
	StatReviewsReceived    = "reviews_received"
)

// StatsDeltas returns the counter increments an event implies.
func StatsDeltas(e *TransactionEvent) []StatsDelta {
	one := func(user uuid.UUID, column string) StatsDelta {
		return StatsDelta{UserID: user, Column: column, Amount: 1}
	}
	switch e.EventType {
	case EventTypeOrderPlaced:
		return []StatsDelta{one(e.BuyerID, StatOrdersPlaced), one(e.SellerID, StatOrdersReceived)}
	case EventTypeOrderCompleted:
		return []StatsDelta{one(e.BuyerID, StatOrdersCompleted), one(e.SellerID, StatOrdersCompleted)}
	case EventTypeOrderCancelled:
		return []StatsDelta{one(e.BuyerID, StatOrdersCancelled), one(e.SellerID, StatOrdersCancelled)}
	case EventTypeSampleRequested:
		return []StatsDelta{one(e.BuyerID, StatSamplesRequested)}
	case EventTypeSampleReceived:
		return []StatsDelta{one(e.BuyerID, StatSamplesReceived)}
	case EventTypeNegotiationAgreed:
		return []StatsDelta{one(e.BuyerID, StatNegotiationsAgreed), one(e.SellerID, StatNegotiationsAgreed)}
	case EventTypeReviewCreated:
		return []StatsDelta{one(e.SellerID, StatReviewsReceived)}
	}
	return nil
}

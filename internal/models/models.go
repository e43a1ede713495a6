package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Listing is the read-only snapshot of a catalog listing supplied by the catalog service
type Listing struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	SellerID          uuid.UUID       `db:"seller_id" json:"seller_id"`
	Title             string          `db:"title" json:"title"`
	Unit              string          `db:"unit" json:"unit"`
	PricePerUnit      decimal.Decimal `db:"price_per_unit" json:"price_per_unit"`
	DeliveryFee       decimal.Decimal `db:"delivery_fee" json:"delivery_fee"`
	AvailableQuantity int             `db:"available_quantity" json:"available_quantity"`
	Active            bool            `db:"active" json:"active"`
	Location          string          `db:"location" json:"location"`
}

// UserStats holds per-user counters maintained from transaction events
type UserStats struct {
	UserID             uuid.UUID `db:"user_id" json:"user_id"`
	OrdersPlaced       int       `db:"orders_placed" json:"orders_placed"`
	OrdersReceived     int       `db:"orders_received" json:"orders_received"`
	OrdersCompleted    int       `db:"orders_completed" json:"orders_completed"`
	OrdersCancelled    int       `db:"orders_cancelled" json:"orders_cancelled"`
	SamplesRequested   int       `db:"samples_requested" json:"samples_requested"`
	SamplesReceived    int       `db:"samples_received" json:"samples_received"`
	NegotiationsAgreed int       `db:"negotiations_agreed" json:"negotiations_agreed"`
	ReviewsReceived    int       `db:"reviews_received" json:"reviews_received"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// StatsDelta is a set of counter increments for one user.
type StatsDelta struct {
	UserID uuid.UUID
	Column string
	Amount int
}

// StatusChange is an audit record of one entity transition.
type StatusChange struct {
	EntityType string    `bson:"entity_type" json:"entity_type"`
	EntityID   string    `bson:"entity_id" json:"entity_id"`
	OldStatus  string    `bson:"old_status" json:"old_status"`
	NewStatus  string    `bson:"new_status" json:"new_status"`
	ActorID    string    `bson:"actor_id" json:"actor_id"`
	Reason     string    `bson:"reason,omitempty" json:"reason,omitempty"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Review rates the counterpart of a completed order or a received sample
type Review struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ReviewerID   uuid.UUID  `db:"reviewer_id" json:"reviewer_id"`
	TargetUserID uuid.UUID  `db:"target_user_id" json:"target_user_id"`
	OrderID      *uuid.UUID `db:"order_id" json:"order_id,omitempty"`
	SampleID     *uuid.UUID `db:"sample_id" json:"sample_id,omitempty"`
	Rating       int        `db:"rating" json:"rating"`
	Comment      string     `db:"comment" json:"comment"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

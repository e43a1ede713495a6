package models

import (
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/exchange"

	"github.com/google/uuid"
)

type SampleStatus string

// Sample statuses
const (
	SampleStatusPending   SampleStatus = "pending"
	SampleStatusDelivered SampleStatus = "delivered"
	SampleStatusReceived  SampleStatus = "received"
	SampleStatusReviewed  SampleStatus = "reviewed"

	// SampleStatusRejected is only written to the status history; rejected
	// requests are deleted.
	SampleStatusRejected SampleStatus = "rejected"
)

// Sample is a request for a free trial unit of a listing
type Sample struct {
	ID              uuid.UUID    `db:"id" json:"id"`
	ReceiverID      uuid.UUID    `db:"receiver_id" json:"receiver_id"`
	SupplierID      uuid.UUID    `db:"supplier_id" json:"supplier_id"`
	ListingID       uuid.UUID    `db:"listing_id" json:"listing_id"`
	ListingTitle    string       `db:"listing_title" json:"listing_title"`
	Quantity        int          `db:"quantity" json:"quantity"`
	Unit            string       `db:"unit" json:"unit"`
	DeliveryAddress string       `db:"delivery_address" json:"delivery_address"`
	Note            string       `db:"note" json:"note,omitempty"`
	Status          SampleStatus `db:"status" json:"status"`
	ExchangeCode    string       `db:"exchange_code" json:"exchange_code,omitempty"`
	DeliveredAt     *time.Time   `db:"delivered_at" json:"delivered_at,omitempty"`
	ReceivedAt      *time.Time   `db:"received_at" json:"received_at,omitempty"`
	ReviewedAt      *time.Time   `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

func (s *Sample) IsParty(userID uuid.UUID) bool {
	return userID == s.ReceiverID || userID == s.SupplierID
}

// Accept moves a pending sample to delivered. Supplier only. The exchange
// code is assigned by AssignExchangeCode.
func (s *Sample) Accept(actor uuid.UUID, now time.Time) error {
	if actor != s.SupplierID {
		return apperror.Forbidden("only the supplier can accept a sample request")
	}
	if s.Status != SampleStatusPending {
		return apperror.IllegalTransition("sample", "accept", string(s.Status))
	}
	s.Status = SampleStatusDelivered
	s.DeliveredAt = &now
	return nil
}

// AssignExchangeCode generates the handoff code unless one already exists.
func (s *Sample) AssignExchangeCode() error {
	if s.ExchangeCode != "" {
		return nil
	}
	code, err := exchange.Generate(exchange.SampleCodeLength)
	if err != nil {
		return err
	}
	s.ExchangeCode = code
	return nil
}

// CanReject reports whether the supplier may reject (delete) the request.
func (s *Sample) CanReject(actor uuid.UUID) error {
	if actor != s.SupplierID {
		return apperror.Forbidden("only the supplier can reject a sample request")
	}
	if s.Status != SampleStatusPending {
		return apperror.IllegalTransition("sample", "reject", string(s.Status))
	}
	return nil
}

// MarkReceived moves a delivered sample to received. Receiver only. When a
// code is supplied it must match the stored exchange code.
func (s *Sample) MarkReceived(actor uuid.UUID, code string, now time.Time) error {
	if actor != s.ReceiverID {
		return apperror.Forbidden("only the receiver can mark a sample received")
	}
	if s.Status != SampleStatusDelivered {
		return apperror.IllegalTransition("sample", "mark received", string(s.Status))
	}
	if code != "" && !exchange.Verify(s.ExchangeCode, code) {
		return apperror.New(apperror.KindVerificationFailed, "exchange code does not match")
	}
	s.Status = SampleStatusReceived
	s.ReceivedAt = &now
	return nil
}

// MarkReviewed is applied only while creating a review for this sample.
func (s *Sample) MarkReviewed(now time.Time) error {
	if s.Status != SampleStatusReceived {
		return apperror.IllegalTransition("sample", "review", string(s.Status))
	}
	s.Status = SampleStatusReviewed
	s.ReviewedAt = &now
	return nil
}

// Redacted hides the exchange code from the receiver, who must obtain it
// from the supplier at handoff.
func (s Sample) Redacted(viewer uuid.UUID) Sample {
	if viewer != s.SupplierID {
		s.ExchangeCode = ""
	}
	return s
}

// SampleNextAction names what the viewer is expected to do next, for UIs.
func SampleNextAction(s *Sample, viewer uuid.UUID) string {
	isSupplier := viewer == s.SupplierID
	switch s.Status {
	case SampleStatusPending:
		if isSupplier {
			return "accept_or_reject"
		}
		return "await_acceptance"
	case SampleStatusDelivered:
		if isSupplier {
			return "share_exchange_code"
		}
		return "mark_received"
	case SampleStatusReceived:
		if isSupplier {
			return "none"
		}
		return "review"
	default:
		return "none"
	}
}

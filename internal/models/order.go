package models

import (
	"strings"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/exchange"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusCompleted, OrderStatusCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// ChatEligible reports whether buyer and seller may use the order chat.
func (s OrderStatus) ChatEligible() bool {
	return s == OrderStatusConfirmed || s == OrderStatusShipped || s == OrderStatusCompleted
}

// NonTerminalOrderStatuses are the statuses counted against the seller ceiling.
var NonTerminalOrderStatuses = []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped}

// Order represents a purchase of a fixed quantity of a listing
type Order struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	BuyerID            uuid.UUID       `db:"buyer_id" json:"buyer_id"`
	SellerID           uuid.UUID       `db:"seller_id" json:"seller_id"`
	ListingID          uuid.UUID       `db:"listing_id" json:"listing_id"`
	ListingTitle       string          `db:"listing_title" json:"listing_title"`
	Quantity           int             `db:"quantity" json:"quantity"`
	Unit               string          `db:"unit" json:"unit"`
	BasePrice          decimal.Decimal `db:"base_price" json:"base_price"`
	DeliveryFee        decimal.Decimal `db:"delivery_fee" json:"delivery_fee"`
	TotalPrice         decimal.Decimal `db:"total_price" json:"total_price"`
	Status             OrderStatus     `db:"status" json:"status"`
	DeliveryAddress    string          `db:"delivery_address" json:"delivery_address"`
	BuyerExchangeCode  string          `db:"buyer_exchange_code" json:"buyer_exchange_code,omitempty"`
	SellerExchangeCode string          `db:"seller_exchange_code" json:"seller_exchange_code,omitempty"`
	CancellationReason string          `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID      `db:"cancelled_by" json:"cancelled_by,omitempty"`
	ConfirmedAt        *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	ShippedAt          *time.Time      `db:"shipped_at" json:"shipped_at,omitempty"`
	CompletedAt        *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt        *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// RecomputeTotal restores total = base + fee. Stores call it before every write.
func (o *Order) RecomputeTotal() {
	o.TotalPrice = o.BasePrice.Add(o.DeliveryFee)
}

func (o *Order) IsParty(userID uuid.UUID) bool {
	return userID == o.BuyerID || userID == o.SellerID
}

// Counterpart returns the other party of the order.
func (o *Order) Counterpart(userID uuid.UUID) uuid.UUID {
	if userID == o.BuyerID {
		return o.SellerID
	}
	return o.BuyerID
}

func (o *Order) transition(action string, next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return apperror.IllegalTransition("order", action, string(o.Status))
	}
	o.Status = next
	return nil
}

// Confirm moves a pending order to confirmed. Seller only.
func (o *Order) Confirm(actor uuid.UUID, now time.Time) error {
	if actor != o.SellerID {
		return apperror.Forbidden("only the seller can confirm an order")
	}
	if err := o.transition("confirm", OrderStatusConfirmed); err != nil {
		return err
	}
	o.ConfirmedAt = &now
	return nil
}

// Ship moves a confirmed order to shipped. Seller only. Exchange codes are
// assigned separately by AssignExchangeCodes since their uniqueness is
// decided by the store.
func (o *Order) Ship(actor uuid.UUID, now time.Time) error {
	if actor != o.SellerID {
		return apperror.Forbidden("only the seller can ship an order")
	}
	if err := o.transition("ship", OrderStatusShipped); err != nil {
		return err
	}
	o.ShippedAt = &now
	return nil
}

func (o *Order) HasExchangeCodes() bool {
	return o.BuyerExchangeCode != "" && o.SellerExchangeCode != ""
}

// AssignExchangeCodes generates both handoff codes unless they already exist.
func (o *Order) AssignExchangeCodes() error {
	if o.HasExchangeCodes() {
		return nil
	}
	buyerCode, err := exchange.Generate(exchange.OrderCodeLength)
	if err != nil {
		return err
	}
	sellerCode, err := exchange.Generate(exchange.OrderCodeLength)
	if err != nil {
		return err
	}
	o.BuyerExchangeCode = buyerCode
	o.SellerExchangeCode = sellerCode
	return nil
}

// Cancel moves a non-terminal order to cancelled. The seller may cancel any
// in-flight order; the buyer only while it is still pending.
func (o *Order) Cancel(actor uuid.UUID, reason string, now time.Time) error {
	switch actor {
	case o.SellerID:
	case o.BuyerID:
		if o.Status != OrderStatusPending && !o.Status.IsTerminal() {
			return apperror.Forbidden("buyer can only cancel a pending order").
				With("current_status", string(o.Status))
		}
	default:
		return apperror.Forbidden("not a party to this order")
	}
	if err := o.transition("cancel", OrderStatusCancelled); err != nil {
		return err
	}
	o.CancellationReason = strings.TrimSpace(reason)
	o.CancelledBy = &actor
	o.CancelledAt = &now
	return nil
}

// Complete moves a shipped order to completed when the buyer presents the
// seller-facing exchange code. A wrong code leaves the order untouched.
func (o *Order) Complete(actor uuid.UUID, code string, now time.Time) error {
	if actor != o.BuyerID {
		return apperror.Forbidden("only the buyer can complete an order")
	}
	if !o.Status.CanTransitionTo(OrderStatusCompleted) {
		return apperror.IllegalTransition("order", "complete", string(o.Status))
	}
	if !exchange.Verify(o.SellerExchangeCode, code) {
		return apperror.New(apperror.KindVerificationFailed, "exchange code does not match")
	}
	o.Status = OrderStatusCompleted
	o.CompletedAt = &now
	return nil
}

// ApplyNegotiatedPrice replaces the price of a pending order with an agreed offer.
func (o *Order) ApplyNegotiatedPrice(offer PriceOffer) error {
	if o.Status != OrderStatusPending {
		return apperror.IllegalTransition("order", "reprice", string(o.Status))
	}
	o.BasePrice = offer.BasePrice
	o.DeliveryFee = offer.DeliveryFee
	o.RecomputeTotal()
	return nil
}

// Reviewable reports whether the buyer may leave a review.
func (o *Order) Reviewable() bool {
	return o.Status == OrderStatusCompleted
}

// Redacted hides the exchange code that the viewer must obtain from the
// counterpart at handoff. Buyers never see the seller-facing code.
func (o Order) Redacted(viewer uuid.UUID) Order {
	switch viewer {
	case o.BuyerID:
		o.SellerExchangeCode = ""
	case o.SellerID:
		o.BuyerExchangeCode = ""
	default:
		o.BuyerExchangeCode = ""
		o.SellerExchangeCode = ""
	}
	return o
}

// OrderNextAction names what the viewer is expected to do next, for UIs.
func OrderNextAction(o *Order, viewer uuid.UUID) string {
	isSeller := viewer == o.SellerID
	switch o.Status {
	case OrderStatusPending:
		if isSeller {
			return "confirm"
		}
		return "await_confirmation"
	case OrderStatusConfirmed:
		if isSeller {
			return "ship"
		}
		return "await_shipment"
	case OrderStatusShipped:
		if isSeller {
			return "share_exchange_code"
		}
		return "enter_exchange_code"
	case OrderStatusCompleted:
		if isSeller {
			return "none"
		}
		return "review"
	default:
		return "none"
	}
}

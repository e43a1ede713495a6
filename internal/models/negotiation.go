package models

import (
	"fmt"
	"time"

	"tradehub/internal/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type NegotiationStatus string

// Negotiation statuses
const (
	NegotiationStatusActive   NegotiationStatus = "active"
	NegotiationStatusAgreed   NegotiationStatus = "agreed"
	NegotiationStatusCanceled NegotiationStatus = "canceled"
	NegotiationStatusExpired  NegotiationStatus = "expired"
)

type MessageKind string

// Negotiation message kinds
const (
	MessageKindText       MessageKind = "text"
	MessageKindPriceOffer MessageKind = "price_offer"
	MessageKindSystem     MessageKind = "system"
)

const priceScale = 2

// PriceOffer is a proposed price. TotalPrice is always BasePrice + DeliveryFee.
type PriceOffer struct {
	BasePrice   decimal.Decimal `json:"base_price"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// NewPriceOffer builds an offer with its total computed.
func NewPriceOffer(base, fee decimal.Decimal) (PriceOffer, error) {
	if base.IsNegative() || fee.IsNegative() {
		return PriceOffer{}, apperror.Validation("prices cannot be negative")
	}
	if !base.IsPositive() {
		return PriceOffer{}, apperror.Validation("base price must be positive")
	}
	// Money columns hold cents; finer amounts would be rounded per column
	// and break total = base + fee.
	if !base.Equal(base.Round(priceScale)) || !fee.Equal(fee.Round(priceScale)) {
		return PriceOffer{}, apperror.Validation("prices cannot have more than %d decimal places", priceScale)
	}
	base, fee = base.Round(priceScale), fee.Round(priceScale)
	return PriceOffer{BasePrice: base, DeliveryFee: fee, TotalPrice: base.Add(fee)}, nil
}

// NegotiationMessage is one entry of a negotiation thread
type NegotiationMessage struct {
	ID            uuid.UUID   `json:"id"`
	NegotiationID uuid.UUID   `json:"negotiation_id"`
	SenderID      uuid.UUID   `json:"sender_id"`
	Kind          MessageKind `json:"kind"`
	Text          string      `json:"text"`
	Offer         *PriceOffer `json:"price_offer,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Negotiation is the message thread attached 1:1 to an order
type Negotiation struct {
	ID           uuid.UUID            `json:"id"`
	OrderID      uuid.UUID            `json:"order_id"`
	BuyerID      uuid.UUID            `json:"buyer_id"`
	SellerID     uuid.UUID            `json:"seller_id"`
	ListingID    uuid.UUID            `json:"listing_id"`
	Status       NegotiationStatus    `json:"status"`
	FinalPrice   *PriceOffer          `json:"final_price_agreed,omitempty"`
	CancelReason string               `json:"cancel_reason,omitempty"`
	ExpiresAt    time.Time            `json:"expires_at"`
	LastActivity time.Time            `json:"last_activity"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	Messages     []NegotiationMessage `json:"messages"`
}

func (n *Negotiation) IsParty(userID uuid.UUID) bool {
	return userID == n.BuyerID || userID == n.SellerID
}

func (n *Negotiation) Counterpart(userID uuid.UUID) uuid.UUID {
	if userID == n.BuyerID {
		return n.SellerID
	}
	return n.BuyerID
}

// ExpireIfDue flips an active negotiation past its deadline to expired and
// reports whether it did so.
func (n *Negotiation) ExpireIfDue(now time.Time) bool {
	if n.Status == NegotiationStatusActive && !now.Before(n.ExpiresAt) {
		n.Status = NegotiationStatusExpired
		n.UpdatedAt = now
		return true
	}
	return false
}

func (n *Negotiation) ensureOpen(action string, now time.Time) error {
	if n.Status != NegotiationStatusActive {
		return apperror.IllegalTransition("negotiation", action, string(n.Status))
	}
	if !now.Before(n.ExpiresAt) {
		return apperror.IllegalTransition("negotiation", action, string(NegotiationStatusExpired))
	}
	return nil
}

func (n *Negotiation) append(sender uuid.UUID, kind MessageKind, text string, offer *PriceOffer, now time.Time) NegotiationMessage {
	msg := NegotiationMessage{
		ID:            uuid.New(),
		NegotiationID: n.ID,
		SenderID:      sender,
		Kind:          kind,
		Text:          text,
		Offer:         offer,
		CreatedAt:     now,
	}
	n.Messages = append(n.Messages, msg)
	n.LastActivity = now
	n.UpdatedAt = now
	return msg
}

// Open records the buyer's introductory message and initial offer on a new negotiation.
func (n *Negotiation) Open(intro string, offer PriceOffer, now time.Time) []NegotiationMessage {
	if intro == "" {
		intro = "Hi! I'd like to negotiate the price for this order."
	}
	first := n.append(n.BuyerID, MessageKindText, intro, nil, now)
	second := n.append(n.BuyerID, MessageKindPriceOffer,
		fmt.Sprintf("Offered %s + %s delivery", offer.BasePrice.StringFixed(2), offer.DeliveryFee.StringFixed(2)), &offer, now)
	return []NegotiationMessage{first, second}
}

// Send appends a text message or price offer from one of the parties.
func (n *Negotiation) Send(sender uuid.UUID, text string, offer *PriceOffer, now time.Time) (NegotiationMessage, error) {
	if !n.IsParty(sender) {
		return NegotiationMessage{}, apperror.Forbidden("not a party to this negotiation")
	}
	if err := n.ensureOpen("send message to", now); err != nil {
		return NegotiationMessage{}, err
	}
	kind := MessageKindText
	if offer != nil {
		kind = MessageKindPriceOffer
		if text == "" {
			text = fmt.Sprintf("Offered %s + %s delivery", offer.BasePrice.StringFixed(2), offer.DeliveryFee.StringFixed(2))
		}
	} else if text == "" {
		return NegotiationMessage{}, apperror.Validation("message text is required")
	}
	return n.append(sender, kind, text, offer, now), nil
}

// FindMessage returns the message with the given id.
func (n *Negotiation) FindMessage(id uuid.UUID) (*NegotiationMessage, bool) {
	for i := range n.Messages {
		if n.Messages[i].ID == id {
			return &n.Messages[i], true
		}
	}
	return nil, false
}

// AcceptOffer agrees on a price offer authored by the other party.
func (n *Negotiation) AcceptOffer(actor, messageID uuid.UUID, now time.Time) (NegotiationMessage, error) {
	if !n.IsParty(actor) {
		return NegotiationMessage{}, apperror.Forbidden("not a party to this negotiation")
	}
	if err := n.ensureOpen("accept offer in", now); err != nil {
		return NegotiationMessage{}, err
	}
	target, ok := n.FindMessage(messageID)
	if !ok {
		return NegotiationMessage{}, apperror.NotFound("offer message")
	}
	if target.Kind != MessageKindPriceOffer || target.Offer == nil {
		return NegotiationMessage{}, apperror.Validation("message is not a price offer")
	}
	if target.SenderID == actor {
		return NegotiationMessage{}, apperror.Forbidden("cannot accept your own offer")
	}
	final := *target.Offer
	n.Status = NegotiationStatusAgreed
	n.FinalPrice = &final
	msg := n.append(actor, MessageKindSystem,
		fmt.Sprintf("Offer accepted: total %s", final.TotalPrice.StringFixed(2)), nil, now)
	return msg, nil
}

// Cancel ends an active negotiation. Either party may cancel.
func (n *Negotiation) Cancel(actor uuid.UUID, reason string, now time.Time) (NegotiationMessage, error) {
	if !n.IsParty(actor) {
		return NegotiationMessage{}, apperror.Forbidden("not a party to this negotiation")
	}
	if n.Status != NegotiationStatusActive {
		return NegotiationMessage{}, apperror.IllegalTransition("negotiation", "cancel", string(n.Status))
	}
	n.Status = NegotiationStatusCanceled
	n.CancelReason = reason
	text := "Negotiation canceled"
	if reason != "" {
		text += ": " + reason
	}
	return n.append(actor, MessageKindSystem, text, nil, now), nil
}

// NegotiationNextAction names what the viewer is expected to do next, for UIs.
func NegotiationNextAction(n *Negotiation, viewer uuid.UUID) string {
	if n.Status != NegotiationStatusActive {
		return "none"
	}
	for i := len(n.Messages) - 1; i >= 0; i-- {
		msg := n.Messages[i]
		if msg.Kind != MessageKindPriceOffer {
			continue
		}
		if msg.SenderID == viewer {
			return "await_response"
		}
		return "respond_to_offer"
	}
	return "make_offer"
}

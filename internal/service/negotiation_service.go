package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/models"
	"tradehub/internal/store"
	"tradehub/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// NegotiationService runs the price negotiation attached to a pending order
type NegotiationService struct {
	negotiations NegotiationRepository
	orders       OrderRepository
	effects      effects
	ttl          time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewNegotiationService creates a new negotiation service
func NewNegotiationService(negotiations NegotiationRepository, orders OrderRepository, fx Effects, ttl time.Duration) *NegotiationService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &NegotiationService{
		negotiations: negotiations,
		orders:       orders,
		effects:      newEffects(fx),
		ttl:          ttl,
		now:          time.Now,
		logger:       util.GetLogger(),
	}
}

// StartNegotiationRequest opens a negotiation with an initial offer
type StartNegotiationRequest struct {
	OrderID     uuid.UUID       `json:"order_id" binding:"required"`
	Message     string          `json:"message" binding:"max=1000"`
	BasePrice   decimal.Decimal `json:"base_price"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
}

// SendNegotiationMessageRequest carries a text message, a price offer or both
type SendNegotiationMessageRequest struct {
	Text        string           `json:"text" binding:"max=1000"`
	BasePrice   *decimal.Decimal `json:"base_price"`
	DeliveryFee *decimal.Decimal `json:"delivery_fee"`
}

// NegotiationView is a negotiation as seen by one participant
type NegotiationView struct {
	models.Negotiation
	NextAction string `json:"next_action"`
}

func negotiationView(n *models.Negotiation, viewer uuid.UUID) *NegotiationView {
	view := &NegotiationView{Negotiation: *n, NextAction: models.NegotiationNextAction(n, viewer)}
	if view.Messages == nil {
		view.Messages = []models.NegotiationMessage{}
	}
	return view
}

// Start opens the negotiation of a pending order. Only the buyer may open
// it and an order has at most one negotiation ever.
func (s *NegotiationService) Start(ctx context.Context, buyer uuid.UUID, req *StartNegotiationRequest) (*NegotiationView, error) {
	ctx, span := util.StartSpan(ctx, "NegotiationService.Start")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, storeError("order", err)
	}
	if order.BuyerID != buyer {
		return nil, apperror.Forbidden("only the buyer can open a negotiation")
	}
	if order.Status != models.OrderStatusPending {
		return nil, apperror.IllegalTransition("order", "negotiate", string(order.Status))
	}
	offer, err := models.NewPriceOffer(req.BasePrice, req.DeliveryFee)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	n := &models.Negotiation{
		ID:           uuid.New(),
		OrderID:      order.ID,
		BuyerID:      order.BuyerID,
		SellerID:     order.SellerID,
		ListingID:    order.ListingID,
		Status:       models.NegotiationStatusActive,
		ExpiresAt:    now.Add(s.ttl),
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	n.Open(strings.TrimSpace(req.Message), offer, now)

	if err := s.negotiations.CreateNegotiation(ctx, n); err != nil {
		if isDuplicate(err) {
			return nil, apperror.New(apperror.KindAlreadyExists, "this order already has a negotiation")
		}
		return nil, storeError("negotiation", err)
	}

	s.afterTransition(ctx, n, "", buyer, models.EventTypeNegotiationStarted)
	s.effects.notify(ctx, NotificationInput{
		RecipientID:    n.SellerID,
		Type:           models.NotificationNegotiationStarted,
		Title:          "New price offer",
		Message:        fmt.Sprintf("The buyer offered %s for %s", offer.TotalPrice.StringFixed(2), order.ListingTitle),
		Payload:        negotiationPayload(n),
		ActionRequired: true,
	})
	return negotiationView(n, buyer), nil
}

// load fetches a negotiation for a party and persists a lazy expiry
func (s *NegotiationService) load(ctx context.Context, actor, id uuid.UUID) (*models.Negotiation, error) {
	n, err := s.negotiations.GetNegotiationByID(ctx, id)
	if err != nil {
		return nil, storeError("negotiation", err)
	}
	if !n.IsParty(actor) {
		return nil, apperror.Forbidden("not a party to this negotiation")
	}
	return s.expire(ctx, n)
}

func (s *NegotiationService) expire(ctx context.Context, n *models.Negotiation) (*models.Negotiation, error) {
	if !n.ExpireIfDue(s.now().UTC()) {
		return n, nil
	}
	err := s.negotiations.UpdateNegotiation(ctx, n, models.NegotiationStatusActive)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, storeError("negotiation", err)
	}
	if err != nil {
		// Another request moved it first; the stored state wins.
		fresh, getErr := s.negotiations.GetNegotiationByID(ctx, n.ID)
		if getErr != nil {
			return nil, storeError("negotiation", getErr)
		}
		return fresh, nil
	}
	s.logger.Info("Negotiation expired", zap.String("negotiation_id", n.ID.String()))
	util.TransitionsTotal.WithLabelValues("negotiation", string(n.Status)).Inc()
	s.effects.record(ctx, "negotiation", n.ID.String(), string(models.NegotiationStatusActive), string(n.Status), "", "expired")
	return n, nil
}

// Get returns a negotiation with its messages to one of its parties
func (s *NegotiationService) Get(ctx context.Context, viewer, id uuid.UUID) (*NegotiationView, error) {
	ctx, span := util.StartSpan(ctx, "NegotiationService.Get")
	defer span.End()

	n, err := s.load(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	return negotiationView(n, viewer), nil
}

// List returns the viewer's negotiations, most recently active first
func (s *NegotiationService) List(ctx context.Context, viewer uuid.UUID) ([]*NegotiationView, error) {
	ctx, span := util.StartSpan(ctx, "NegotiationService.List")
	defer span.End()

	list, err := s.negotiations.ListNegotiationsByUser(ctx, viewer)
	if err != nil {
		return nil, storeError("negotiation", err)
	}
	out := make([]*NegotiationView, 0, len(list))
	for i := range list {
		n, err := s.expire(ctx, &list[i])
		if err != nil {
			return nil, err
		}
		out = append(out, negotiationView(n, viewer))
	}
	return out, nil
}

// SendMessage appends a text message or a counter offer
func (s *NegotiationService) SendMessage(ctx context.Context, sender, id uuid.UUID, req *SendNegotiationMessageRequest) (*models.NegotiationMessage, error) {
	ctx, span := util.StartSpan(ctx, "NegotiationService.SendMessage")
	defer span.End()

	n, err := s.load(ctx, sender, id)
	if err != nil {
		return nil, err
	}

	var offer *models.PriceOffer
	if req.BasePrice != nil {
		fee := decimal.Zero
		if req.DeliveryFee != nil {
			fee = *req.DeliveryFee
		}
		o, err := models.NewPriceOffer(*req.BasePrice, fee)
		if err != nil {
			return nil, err
		}
		offer = &o
	}

	msg, err := n.Send(sender, strings.TrimSpace(req.Text), offer, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.negotiations.UpdateNegotiation(ctx, n, models.NegotiationStatusActive, msg); err != nil {
		return nil, storeError("negotiation", err)
	}

	title := "New negotiation message"
	if offer != nil {
		title = "New counter offer"
	}
	s.effects.notify(ctx, NotificationInput{
		RecipientID:    n.Counterpart(sender),
		Type:           models.NotificationNegotiationMessage,
		Title:          title,
		Message:        msg.Text,
		Payload:        negotiationPayload(n),
		ActionRequired: offer != nil,
	})
	return &msg, nil
}

// AcceptOffer agrees on a price offer authored by the other party and
// reprices the still-pending order in the same write
func (s *NegotiationService) AcceptOffer(ctx context.Context, actor, id, messageID uuid.UUID) (*NegotiationView, error) {
	ctx, span := util.StartSpan(ctx, "NegotiationService.AcceptOffer")
	defer span.End()

	n, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrderByID(ctx, n.OrderID)
	if err != nil {
		return nil, storeError("order", err)
	}

	now := s.now().UTC()
	msg, err := n.AcceptOffer(actor, messageID, now)
	if err != nil {
		return nil, err
	}
	if err := order.ApplyNegotiatedPrice(*n.FinalPrice); err != nil {
		return nil, err
	}
	order.UpdatedAt = now

	if err := s.negotiations.AgreeNegotiation(ctx, n, msg, order); err != nil {
		return nil, storeError("negotiation", err)
	}

	s.afterTransition(ctx, n, models.NegotiationStatusActive, actor, models.EventTypeNegotiationAgreed)
	s.effects.notify(ctx, NotificationInput{
		RecipientID: n.Counterpart(actor),
		Type:        models.NotificationNegotiationAgreed,
		Title:       "Offer accepted",
		Message:     fmt.Sprintf("Price agreed at %s", n.FinalPrice.TotalPrice.StringFixed(2)),
		Payload:     negotiationPayload(n),
		Priority:    models.PriorityHigh,
	})
	return negotiationView(n, actor), nil
}

// Cancel ends an active negotiation
func (s *NegotiationService) Cancel(ctx context.Context, actor, id uuid.UUID, reason string) (*NegotiationView, error) {
	ctx, span := util.StartSpan(ctx, "NegotiationService.Cancel")
	defer span.End()

	n, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	msg, err := n.Cancel(actor, strings.TrimSpace(reason), s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.negotiations.UpdateNegotiation(ctx, n, models.NegotiationStatusActive, msg); err != nil {
		return nil, storeError("negotiation", err)
	}

	s.afterTransition(ctx, n, models.NegotiationStatusActive, actor, models.EventTypeNegotiationCanceled)
	s.effects.notify(ctx, NotificationInput{
		RecipientID: n.Counterpart(actor),
		Type:        models.NotificationNegotiationCanceled,
		Title:       "Negotiation canceled",
		Message:     msg.Text,
		Payload:     negotiationPayload(n),
	})
	return negotiationView(n, actor), nil
}

func (s *NegotiationService) afterTransition(ctx context.Context, n *models.Negotiation, prev models.NegotiationStatus, actor uuid.UUID, eventType string) {
	util.TransitionsTotal.WithLabelValues("negotiation", string(n.Status)).Inc()
	s.logger.Info("Negotiation transitioned",
		zap.String("negotiation_id", n.ID.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(n.Status)))

	s.effects.record(ctx, "negotiation", n.ID.String(), string(prev), string(n.Status), actor.String(), n.CancelReason)

	event := models.NewTransactionEvent(eventType, "negotiation",
		n.ID, actor, n.BuyerID, n.SellerID, string(n.Status))
	if n.FinalPrice != nil {
		total := n.FinalPrice.TotalPrice
		event.Amount = &total
	}
	event.Reason = n.CancelReason
	s.effects.publish(ctx, event)
}

func negotiationPayload(n *models.Negotiation) map[string]any {
	return map[string]any{
		"negotiation_id": n.ID,
		"order_id":       n.OrderID,
		"status":         n.Status,
	}
}

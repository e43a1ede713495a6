package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/exchange"
	"tradehub/internal/models"
	"tradehub/internal/store"
	"tradehub/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Order status actions accepted by UpdateStatus
const (
	ActionConfirm = "confirm"
	ActionShip    = "ship"
	ActionCancel  = "cancel"
)

const placementLockTTL = 10 * time.Second

// OrderService handles order business logic
type OrderService struct {
	orders      OrderRepository
	listings    ListingCatalog
	idempotency IdempotencyStore
	effects     effects
	ceiling     int
	keyTTL      time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// OrderServiceConfig holds the tunables of OrderService
type OrderServiceConfig struct {
	MaxActiveOrdersPerSeller int
	IdempotencyTTL           time.Duration
}

// NewOrderService creates a new order service. idempotency may be nil.
func NewOrderService(
	orders OrderRepository,
	listings ListingCatalog,
	idempotency IdempotencyStore,
	fx Effects,
	cfg OrderServiceConfig,
) *OrderService {
	return &OrderService{
		orders:      orders,
		listings:    listings,
		idempotency: idempotency,
		effects:     newEffects(fx),
		ceiling:     cfg.MaxActiveOrdersPerSeller,
		keyTTL:      cfg.IdempotencyTTL,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	ListingID       uuid.UUID `json:"listing_id" binding:"required"`
	Quantity        int       `json:"quantity" binding:"required,min=1"`
	DeliveryAddress string    `json:"delivery_address" binding:"max=500"`
	IdempotencyKey  string    `json:"-"`
}

// OrderView is an order as seen by one participant
type OrderView struct {
	models.Order
	NextAction string `json:"next_action"`
}

func orderView(o *models.Order, viewer uuid.UUID) *OrderView {
	return &OrderView{Order: o.Redacted(viewer), NextAction: models.OrderNextAction(o, viewer)}
}

func (s *OrderService) idempotencyKey(buyer uuid.UUID, key string) string {
	return fmt.Sprintf("order:%s:%s", buyer, key)
}

// PlaceOrder creates a pending order against an active listing, subject to
// the seller's active order ceiling
func (s *OrderService) PlaceOrder(ctx context.Context, buyer uuid.UUID, req *PlaceOrderRequest) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if existing := s.replay(ctx, buyer, req.IdempotencyKey); existing != nil {
			return orderView(existing, buyer), nil
		}
		release, err := s.lockKey(ctx, buyer, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if req.Quantity <= 0 {
		return nil, apperror.Validation("quantity must be positive")
	}

	listing, err := s.listings.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, storeError("listing", err)
	}
	switch {
	case !listing.Active:
		util.OrdersRejectedTotal.WithLabelValues("inactive_listing").Inc()
		return nil, apperror.Validation("listing is not active")
	case req.Quantity > listing.AvailableQuantity:
		util.OrdersRejectedTotal.WithLabelValues("insufficient_quantity").Inc()
		return nil, apperror.Validation("requested quantity %d exceeds available %d", req.Quantity, listing.AvailableQuantity).
			With("available_quantity", listing.AvailableQuantity)
	case listing.SellerID == buyer:
		util.OrdersRejectedTotal.WithLabelValues("own_listing").Inc()
		return nil, apperror.Forbidden("cannot order your own listing")
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:              uuid.New(),
		BuyerID:         buyer,
		SellerID:        listing.SellerID,
		ListingID:       listing.ID,
		ListingTitle:    listing.Title,
		Quantity:        req.Quantity,
		Unit:            listing.Unit,
		BasePrice:       listing.PricePerUnit.Mul(decimal.NewFromInt(int64(req.Quantity))),
		DeliveryFee:     listing.DeliveryFee,
		Status:          models.OrderStatusPending,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.RecomputeTotal()

	active, err := s.orders.CreateOrderWithinCeiling(ctx, order, s.ceiling)
	if errors.Is(err, store.ErrCeilingReached) {
		util.OrdersRejectedTotal.WithLabelValues("ceiling").Inc()
		return nil, apperror.New(apperror.KindAdmissionRejected,
			"seller has reached the limit of %d active orders", s.ceiling).
			With("ceiling", s.ceiling).
			With("current_count", active)
	}
	if err != nil {
		return nil, storeError("order", err)
	}

	util.OrdersPlacedTotal.Inc()
	util.TransitionsTotal.WithLabelValues("order", string(order.Status)).Inc()
	s.logger.Info("Order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("seller_id", order.SellerID.String()),
		zap.String("total", order.TotalPrice.String()))

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.SetIdempotencyKey(ctx, s.idempotencyKey(buyer, req.IdempotencyKey), order.ID.String(), s.keyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.Error(err))
		}
	}

	s.afterTransition(ctx, order, "", buyer, "")
	s.effects.notify(ctx, NotificationInput{
		RecipientID:    order.SellerID,
		Type:           models.NotificationOrderPlaced,
		Title:          "New order received",
		Message:        fmt.Sprintf("New order for %d %s of %s", order.Quantity, order.Unit, order.ListingTitle),
		Payload:        orderPayload(order),
		ActionRequired: true,
		Priority:       models.PriorityHigh,
	})

	return orderView(order, buyer), nil
}

// lockKey holds the idempotency key while the order is written, so a
// concurrent retry with the same key cannot place a second order
func (s *OrderService) lockKey(ctx context.Context, buyer uuid.UUID, key string) (func(), error) {
	lockKey := s.idempotencyKey(buyer, key)
	token := uuid.NewString()
	ok, err := s.idempotency.AcquireLock(ctx, lockKey, token, placementLockTTL)
	if err != nil {
		// Redis trouble degrades to unkeyed placement.
		s.logger.Warn("Failed to acquire idempotency lock", zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, apperror.Conflict("a request with this idempotency key is already in progress")
	}
	return func() {
		if err := s.idempotency.ReleaseLock(detach(ctx), lockKey, token); err != nil {
			s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
		}
	}, nil
}

func (s *OrderService) replay(ctx context.Context, buyer uuid.UUID, key string) *models.Order {
	raw, ok, err := s.idempotency.GetIdempotencyKey(ctx, s.idempotencyKey(buyer, key))
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	order, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		return nil
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", order.ID.String()))
	return order
}

// GetOrder returns an order to one of its parties
func (s *OrderService) GetOrder(ctx context.Context, viewer, id uuid.UUID) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.load(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	return orderView(order, viewer), nil
}

// ListOrders returns the orders where viewer is buyer or seller, newest first
func (s *OrderService) ListOrders(ctx context.Context, viewer uuid.UUID) ([]*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.orders.ListOrdersByUser(ctx, viewer)
	if err != nil {
		return nil, storeError("order", err)
	}
	out := make([]*OrderView, 0, len(orders))
	for i := range orders {
		out = append(out, orderView(&orders[i], viewer))
	}
	return out, nil
}

func (s *OrderService) load(ctx context.Context, actor, id uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		return nil, storeError("order", err)
	}
	if !order.IsParty(actor) {
		return nil, apperror.Forbidden("not a party to this order")
	}
	return order, nil
}

// UpdateStatus applies confirm, ship or cancel on behalf of actor
func (s *OrderService) UpdateStatus(ctx context.Context, actor, id uuid.UUID, action, reason string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	order, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	prev := order.Status
	now := s.now().UTC()

	switch action {
	case ActionConfirm:
		err = order.Confirm(actor, now)
	case ActionShip:
		err = order.Ship(actor, now)
	case ActionCancel:
		err = order.Cancel(actor, reason, now)
	default:
		return nil, apperror.Validation("unknown order action %q", action)
	}
	if err != nil {
		return nil, err
	}
	order.UpdatedAt = now

	if action == ActionShip {
		err = s.persistWithCodes(ctx, order, prev)
	} else {
		err = s.orders.UpdateOrder(ctx, order, prev)
	}
	if err != nil {
		return nil, storeError("order", err)
	}

	s.afterTransition(ctx, order, prev, actor, order.CancellationReason)
	s.notifyTransition(ctx, order, actor)
	return orderView(order, actor), nil
}

// persistWithCodes writes a shipped order, regenerating exchange codes when
// they collide with codes of another order
func (s *OrderService) persistWithCodes(ctx context.Context, order *models.Order, expected models.OrderStatus) error {
	hadCodes := order.HasExchangeCodes()
	err := exchange.Retry(isDuplicate, func() error {
		if !hadCodes {
			order.BuyerExchangeCode, order.SellerExchangeCode = "", ""
		}
		if err := order.AssignExchangeCodes(); err != nil {
			return err
		}
		return s.orders.UpdateOrder(ctx, order, expected)
	})
	if errors.Is(err, exchange.ErrExhausted) {
		return apperror.Internal(err)
	}
	return err
}

// Complete finishes a shipped order when the buyer presents the seller's exchange code
func (s *OrderService) Complete(ctx context.Context, actor, id uuid.UUID, code string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Complete")
	defer span.End()

	order, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	prev := order.Status
	now := s.now().UTC()

	if err := order.Complete(actor, code, now); err != nil {
		if apperror.KindOf(err) == apperror.KindVerificationFailed {
			util.ExchangeVerificationsFailed.WithLabelValues("order").Inc()
		}
		return nil, err
	}
	order.UpdatedAt = now
	if err := s.orders.UpdateOrder(ctx, order, prev); err != nil {
		return nil, storeError("order", err)
	}

	s.afterTransition(ctx, order, prev, actor, "")
	s.notifyTransition(ctx, order, actor)
	return orderView(order, actor), nil
}

func (s *OrderService) afterTransition(ctx context.Context, order *models.Order, prev models.OrderStatus, actor uuid.UUID, reason string) {
	if prev != "" {
		util.TransitionsTotal.WithLabelValues("order", string(order.Status)).Inc()
	}
	s.logger.Info("Order transitioned",
		zap.String("order_id", order.ID.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(order.Status)))

	s.effects.record(ctx, "order", order.ID.String(), string(prev), string(order.Status), actor.String(), reason)

	event := models.NewTransactionEvent(orderEventType(order.Status), "order",
		order.ID, actor, order.BuyerID, order.SellerID, string(order.Status))
	total := order.TotalPrice
	event.Amount = &total
	event.Reason = reason
	s.effects.publish(ctx, event)
}

func orderEventType(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusConfirmed:
		return models.EventTypeOrderConfirmed
	case models.OrderStatusShipped:
		return models.EventTypeOrderShipped
	case models.OrderStatusCompleted:
		return models.EventTypeOrderCompleted
	case models.OrderStatusCancelled:
		return models.EventTypeOrderCancelled
	default:
		return models.EventTypeOrderPlaced
	}
}

func (s *OrderService) notifyTransition(ctx context.Context, order *models.Order, actor uuid.UUID) {
	in := NotificationInput{
		RecipientID: order.Counterpart(actor),
		Payload:     orderPayload(order),
	}
	switch order.Status {
	case models.OrderStatusConfirmed:
		in.Type = models.NotificationOrderConfirmed
		in.Title = "Order confirmed"
		in.Message = fmt.Sprintf("Your order for %s was confirmed", order.ListingTitle)
	case models.OrderStatusShipped:
		in.Type = models.NotificationOrderShipped
		in.Title = "Order shipped"
		in.Message = fmt.Sprintf("Your order for %s is on its way. Ask the seller for the exchange code at handoff", order.ListingTitle)
		in.ActionRequired = true
		in.Priority = models.PriorityHigh
	case models.OrderStatusCompleted:
		in.Type = models.NotificationOrderCompleted
		in.Title = "Order completed"
		in.Message = fmt.Sprintf("The order for %s was completed", order.ListingTitle)
	case models.OrderStatusCancelled:
		in.Type = models.NotificationOrderCancelled
		in.Title = "Order cancelled"
		in.Message = fmt.Sprintf("The order for %s was cancelled", order.ListingTitle)
		if order.CancellationReason != "" {
			in.Message += ": " + order.CancellationReason
		}
		in.Priority = models.PriorityHigh
	default:
		return
	}
	s.effects.notify(ctx, in)
}

func orderPayload(o *models.Order) map[string]any {
	return map[string]any{
		"order_id":    o.ID,
		"listing_id":  o.ListingID,
		"status":      o.Status,
		"total_price": o.TotalPrice,
	}
}

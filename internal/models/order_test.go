package models

import (
	"testing"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/exchange"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingOrder() *Order {
	o := &Order{
		ID:          uuid.New(),
		BuyerID:     uuid.New(),
		SellerID:    uuid.New(),
		ListingID:   uuid.New(),
		Quantity:    5,
		BasePrice:   decimal.NewFromInt(100),
		DeliveryFee: decimal.NewFromInt(10),
		Status:      OrderStatusPending,
	}
	o.RecomputeTotal()
	return o
}

func TestOrderTotal(t *testing.T) {
	o := newPendingOrder()
	assert.True(t, o.TotalPrice.Equal(decimal.NewFromInt(110)))
}

func TestOrderTransitionGraph(t *testing.T) {
	all := []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled}
	legal := map[[2]OrderStatus]bool{
		{OrderStatusPending, OrderStatusConfirmed}:   true,
		{OrderStatusPending, OrderStatusCancelled}:   true,
		{OrderStatusConfirmed, OrderStatusShipped}:   true,
		{OrderStatusConfirmed, OrderStatusCancelled}: true,
		{OrderStatusShipped, OrderStatusCompleted}:   true,
		{OrderStatusShipped, OrderStatusCancelled}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]OrderStatus{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestOrderHappyPath(t *testing.T) {
	o := newPendingOrder()
	now := time.Now()

	require.NoError(t, o.Confirm(o.SellerID, now))
	require.NoError(t, o.Ship(o.SellerID, now))
	require.NoError(t, o.AssignExchangeCodes())

	assert.Equal(t, OrderStatusShipped, o.Status)
	assert.True(t, exchange.Valid(o.BuyerExchangeCode, exchange.OrderCodeLength))
	assert.True(t, exchange.Valid(o.SellerExchangeCode, exchange.OrderCodeLength))

	err := o.Complete(o.BuyerID, "WRONG123", now)
	assert.Equal(t, apperror.KindVerificationFailed, apperror.KindOf(err))
	assert.Equal(t, OrderStatusShipped, o.Status)
	assert.Nil(t, o.CompletedAt)

	require.NoError(t, o.Complete(o.BuyerID, o.SellerExchangeCode, now))
	assert.Equal(t, OrderStatusCompleted, o.Status)
	assert.NotNil(t, o.CompletedAt)
	assert.True(t, o.Reviewable())
}

func TestOrderAssignExchangeCodesIdempotent(t *testing.T) {
	o := newPendingOrder()
	require.NoError(t, o.AssignExchangeCodes())
	buyer, seller := o.BuyerExchangeCode, o.SellerExchangeCode
	require.NoError(t, o.AssignExchangeCodes())
	assert.Equal(t, buyer, o.BuyerExchangeCode)
	assert.Equal(t, seller, o.SellerExchangeCode)
}

func TestOrderCompleteRejectsBuyerFacingCode(t *testing.T) {
	o := newPendingOrder()
	o.Status = OrderStatusShipped
	o.BuyerExchangeCode = "AAAAAAAA"
	o.SellerExchangeCode = "BBBBBBBB"

	err := o.Complete(o.BuyerID, "AAAAAAAA", time.Now())
	assert.Equal(t, apperror.KindVerificationFailed, apperror.KindOf(err))
}

func TestOrderIllegalTransitions(t *testing.T) {
	o := newPendingOrder()
	now := time.Now()

	err := o.Ship(o.SellerID, now)
	require.Error(t, err)
	appErr := apperror.As(err)
	assert.Equal(t, apperror.KindIllegalTransition, appErr.Kind)
	assert.Equal(t, "pending", appErr.Details["current_status"])

	err = o.Complete(o.BuyerID, "ANYTHING", now)
	assert.Equal(t, apperror.KindIllegalTransition, apperror.KindOf(err))
	assert.Equal(t, OrderStatusPending, o.Status)
}

func TestOrderRoleChecks(t *testing.T) {
	o := newPendingOrder()
	now := time.Now()
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(o.Confirm(o.BuyerID, now)))
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(o.Confirm(uuid.New(), now)))

	o.Status = OrderStatusShipped
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(o.Complete(o.SellerID, "X", now)))
}

func TestOrderCancelPolicy(t *testing.T) {
	now := time.Now()

	o := newPendingOrder()
	require.NoError(t, o.Cancel(o.BuyerID, " changed my mind ", now))
	assert.Equal(t, OrderStatusCancelled, o.Status)
	assert.Equal(t, "changed my mind", o.CancellationReason)
	assert.Equal(t, o.BuyerID, *o.CancelledBy)

	o = newPendingOrder()
	o.Status = OrderStatusConfirmed
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(o.Cancel(o.BuyerID, "", now)))
	require.NoError(t, o.Cancel(o.SellerID, "out of stock", now))

	err := o.Cancel(o.SellerID, "again", now)
	assert.Equal(t, apperror.KindIllegalTransition, apperror.KindOf(err))

	err = o.Cancel(o.BuyerID, "again", now)
	assert.Equal(t, apperror.KindIllegalTransition, apperror.KindOf(err))
}

func TestOrderApplyNegotiatedPrice(t *testing.T) {
	o := newPendingOrder()
	offer, err := NewPriceOffer(decimal.NewFromInt(90), decimal.NewFromInt(5))
	require.NoError(t, err)

	require.NoError(t, o.ApplyNegotiatedPrice(offer))
	assert.True(t, o.TotalPrice.Equal(decimal.NewFromInt(95)))

	o.Status = OrderStatusConfirmed
	assert.Error(t, o.ApplyNegotiatedPrice(offer))
}

func TestOrderRedacted(t *testing.T) {
	o := newPendingOrder()
	o.BuyerExchangeCode = "AAAAAAAA"
	o.SellerExchangeCode = "BBBBBBBB"

	asBuyer := o.Redacted(o.BuyerID)
	assert.Equal(t, "AAAAAAAA", asBuyer.BuyerExchangeCode)
	assert.Empty(t, asBuyer.SellerExchangeCode)

	asSeller := o.Redacted(o.SellerID)
	assert.Empty(t, asSeller.BuyerExchangeCode)
	assert.Equal(t, "BBBBBBBB", asSeller.SellerExchangeCode)

	assert.Equal(t, "BBBBBBBB", o.SellerExchangeCode)
}

func TestOrderNextAction(t *testing.T) {
	o := newPendingOrder()
	assert.Equal(t, "confirm", OrderNextAction(o, o.SellerID))
	assert.Equal(t, "await_confirmation", OrderNextAction(o, o.BuyerID))
	o.Status = OrderStatusShipped
	assert.Equal(t, "enter_exchange_code", OrderNextAction(o, o.BuyerID))
	o.Status = OrderStatusCancelled
	assert.Equal(t, "none", OrderNextAction(o, o.BuyerID))
}

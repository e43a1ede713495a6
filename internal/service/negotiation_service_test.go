package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/models"
	"tradehub/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) startNegotiation(t *testing.T, orderID uuid.UUID) *NegotiationView {
	t.Helper()
	view, err := f.negotiations.Start(f.ctx, f.buyer, &StartNegotiationRequest{
		OrderID:     orderID,
		Message:     "Can you do better on price?",
		BasePrice:   decimal.NewFromInt(90),
		DeliveryFee: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	return view
}

func TestNegotiationAgreementRepricesOrder(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 2)

	started := f.startNegotiation(t, order.ID)
	require.Len(t, started.Messages, 2)
	assert.Equal(t, models.MessageKindText, started.Messages[0].Kind)
	assert.Equal(t, models.MessageKindPriceOffer, started.Messages[1].Kind)
	assert.Equal(t, "await_response", started.NextAction)

	base, fee := decimal.NewFromInt(95), decimal.NewFromInt(5)
	counter, err := f.negotiations.SendMessage(f.ctx, f.seller, started.ID, &SendNegotiationMessageRequest{
		BasePrice:   &base,
		DeliveryFee: &fee,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageKindPriceOffer, counter.Kind)

	agreed, err := f.negotiations.AcceptOffer(f.ctx, f.buyer, started.ID, counter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusAgreed, agreed.Status)
	require.NotNil(t, agreed.FinalPrice)
	assert.True(t, agreed.FinalPrice.TotalPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, models.MessageKindSystem, agreed.Messages[len(agreed.Messages)-1].Kind)

	repriced, err := f.orders.GetOrder(f.ctx, f.buyer, order.ID)
	require.NoError(t, err)
	assert.True(t, repriced.BasePrice.Equal(base))
	assert.True(t, repriced.TotalPrice.Equal(decimal.NewFromInt(100)))

	_, err = f.negotiations.SendMessage(f.ctx, f.seller, started.ID, &SendNegotiationMessageRequest{Text: "thanks"})
	requireKind(t, err, apperror.KindIllegalTransition)

	assert.Contains(t, f.events.types(), models.EventTypeNegotiationAgreed)
	assert.True(t, hasNotification(f.notificationsOf(t, f.seller), models.NotificationNegotiationAgreed))
}

func TestOneNegotiationPerOrder(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 1)
	started := f.startNegotiation(t, order.ID)

	_, err := f.negotiations.Start(f.ctx, f.buyer, &StartNegotiationRequest{
		OrderID: order.ID, BasePrice: decimal.NewFromInt(40),
	})
	requireKind(t, err, apperror.KindAlreadyExists)

	// Still absolute after the first one ends.
	_, err = f.negotiations.Cancel(f.ctx, f.seller, started.ID, "")
	require.NoError(t, err)
	_, err = f.negotiations.Start(f.ctx, f.buyer, &StartNegotiationRequest{
		OrderID: order.ID, BasePrice: decimal.NewFromInt(40),
	})
	requireKind(t, err, apperror.KindAlreadyExists)
}

func TestAcceptOwnOfferFails(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 1)
	started := f.startNegotiation(t, order.ID)

	_, err := f.negotiations.AcceptOffer(f.ctx, f.buyer, started.ID, started.Messages[1].ID)
	requireKind(t, err, apperror.KindForbidden)

	_, err = f.negotiations.AcceptOffer(f.ctx, f.seller, started.ID, started.Messages[0].ID)
	requireKind(t, err, apperror.KindValidation)

	view, err := f.negotiations.Get(f.ctx, f.seller, started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusActive, view.Status)
	assert.Equal(t, "respond_to_offer", view.NextAction)
}

func TestStartNegotiationRequiresBuyerOfPendingOrder(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 1)

	_, err := f.negotiations.Start(f.ctx, f.seller, &StartNegotiationRequest{
		OrderID: order.ID, BasePrice: decimal.NewFromInt(40),
	})
	requireKind(t, err, apperror.KindForbidden)

	_, err = f.orders.UpdateStatus(f.ctx, f.seller, order.ID, ActionConfirm, "")
	require.NoError(t, err)
	_, err = f.negotiations.Start(f.ctx, f.buyer, &StartNegotiationRequest{
		OrderID: order.ID, BasePrice: decimal.NewFromInt(40),
	})
	requireKind(t, err, apperror.KindIllegalTransition)
}

func TestAgreementRefusedOnceOrderLeftPending(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 1)
	started := f.startNegotiation(t, order.ID)

	_, err := f.orders.UpdateStatus(f.ctx, f.seller, order.ID, ActionConfirm, "")
	require.NoError(t, err)

	_, err = f.negotiations.AcceptOffer(f.ctx, f.seller, started.ID, started.Messages[1].ID)
	requireKind(t, err, apperror.KindIllegalTransition)

	stored, err := f.store.GetNegotiationByID(f.ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusActive, stored.Status)
}

func TestNegotiationExpiresLazily(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 1)
	started := f.startNegotiation(t, order.ID)

	f.negotiations.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, err := f.negotiations.SendMessage(f.ctx, f.seller, started.ID, &SendNegotiationMessageRequest{Text: "still there?"})
	requireKind(t, err, apperror.KindIllegalTransition)

	stored, err := f.store.GetNegotiationByID(f.ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusExpired, stored.Status)

	list, err := f.negotiations.List(f.ctx, f.buyer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.NegotiationStatusExpired, list[0].Status)
	assert.Equal(t, "none", list[0].NextAction)
}

func TestNegotiationTextMessage(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 1)
	started := f.startNegotiation(t, order.ID)

	_, err := f.negotiations.SendMessage(f.ctx, f.seller, started.ID, &SendNegotiationMessageRequest{Text: "   "})
	requireKind(t, err, apperror.KindValidation)

	msg, err := f.negotiations.SendMessage(f.ctx, f.seller, started.ID, &SendNegotiationMessageRequest{Text: "Let me check"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageKindText, msg.Kind)

	view, err := f.negotiations.Get(f.ctx, f.buyer, started.ID)
	require.NoError(t, err)
	assert.Len(t, view.Messages, 3)
	assert.True(t, hasNotification(f.notificationsOf(t, f.buyer), models.NotificationNegotiationMessage))
}

func TestListCarriesThreadAndNextAction(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 1)
	started := f.startNegotiation(t, order.ID)

	list, err := f.negotiations.List(f.ctx, f.buyer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, started.ID, list[0].ID)
	assert.Len(t, list[0].Messages, 2)
	assert.Equal(t, "await_response", list[0].NextAction)

	list, err = f.negotiations.List(f.ctx, f.seller)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "respond_to_offer", list[0].NextAction)
}

func TestStartRejectsSubCentOffer(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 1)

	_, err := f.negotiations.Start(f.ctx, f.buyer, &StartNegotiationRequest{
		OrderID:     order.ID,
		BasePrice:   decimal.RequireFromString("10.005"),
		DeliveryFee: decimal.RequireFromString("0.005"),
	})
	requireKind(t, err, apperror.KindValidation)

	_, err = f.store.GetNegotiationByOrderID(f.ctx, order.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// failingNegotiations fails every update with err
type failingNegotiations struct {
	NegotiationRepository
	err error
}

func (r failingNegotiations) UpdateNegotiation(ctx context.Context, n *models.Negotiation, expected models.NegotiationStatus, msgs ...models.NegotiationMessage) error {
	return r.err
}

func TestExpiryWriteFailures(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, 1)
	started := f.startNegotiation(t, order.ID)
	later := func() time.Time { return time.Now().Add(25 * time.Hour) }

	broken := NewNegotiationService(failingNegotiations{f.store, errors.New("connection reset")}, f.store, Effects{}, 24*time.Hour)
	broken.now = later
	_, err := broken.Get(f.ctx, f.buyer, started.ID)
	requireKind(t, err, apperror.KindInternal)

	// A lost compare-and-set reloads the stored state instead.
	raced := NewNegotiationService(failingNegotiations{f.store, store.ErrConflict}, f.store, Effects{}, 24*time.Hour)
	raced.now = later
	view, err := raced.Get(f.ctx, f.buyer, started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusActive, view.Status)
}

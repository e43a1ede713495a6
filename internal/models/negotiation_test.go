package models

import (
	"testing"
	"time"

	"tradehub/internal/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenNegotiation(t *testing.T, now time.Time) *Negotiation {
	t.Helper()
	n := &Negotiation{
		ID:        uuid.New(),
		OrderID:   uuid.New(),
		BuyerID:   uuid.New(),
		SellerID:  uuid.New(),
		Status:    NegotiationStatusActive,
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}
	offer, err := NewPriceOffer(decimal.NewFromInt(100), decimal.NewFromInt(10))
	require.NoError(t, err)
	n.Open("", offer, now)
	return n
}

func TestNegotiationOpen(t *testing.T) {
	now := time.Now()
	n := newOpenNegotiation(t, now)

	require.Len(t, n.Messages, 2)
	assert.Equal(t, MessageKindText, n.Messages[0].Kind)
	assert.Equal(t, MessageKindPriceOffer, n.Messages[1].Kind)
	assert.Equal(t, n.BuyerID, n.Messages[1].SenderID)
	assert.True(t, n.Messages[1].Offer.TotalPrice.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, now, n.LastActivity)
}

func TestNegotiationSelfAcceptRejected(t *testing.T) {
	now := time.Now()
	n := newOpenNegotiation(t, now)
	offerID := n.Messages[1].ID

	_, err := n.AcceptOffer(n.BuyerID, offerID, now)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
	assert.Equal(t, NegotiationStatusActive, n.Status)
}

func TestNegotiationAcceptCounterOffer(t *testing.T) {
	now := time.Now()
	n := newOpenNegotiation(t, now)

	counter, err := NewPriceOffer(decimal.NewFromInt(105), decimal.NewFromInt(10))
	require.NoError(t, err)
	later := now.Add(time.Minute)
	msg, err := n.Send(n.SellerID, "", &counter, later)
	require.NoError(t, err)
	assert.Equal(t, later, n.LastActivity)

	_, err = n.AcceptOffer(n.BuyerID, n.Messages[0].ID, later)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	system, err := n.AcceptOffer(n.BuyerID, msg.ID, later)
	require.NoError(t, err)
	assert.Equal(t, MessageKindSystem, system.Kind)
	assert.Equal(t, NegotiationStatusAgreed, n.Status)
	assert.True(t, n.FinalPrice.TotalPrice.Equal(decimal.NewFromInt(115)))

	_, err = n.Send(n.SellerID, "one more thing", nil, later)
	assert.Equal(t, apperror.KindIllegalTransition, apperror.KindOf(err))
}

func TestNegotiationExpiry(t *testing.T) {
	now := time.Now()
	n := newOpenNegotiation(t, now)
	after := n.ExpiresAt.Add(time.Second)

	_, err := n.Send(n.SellerID, "hello", nil, after)
	assert.Equal(t, apperror.KindIllegalTransition, apperror.KindOf(err))

	assert.True(t, n.ExpireIfDue(after))
	assert.Equal(t, NegotiationStatusExpired, n.Status)
	assert.False(t, n.ExpireIfDue(after))
}

func TestNegotiationCancel(t *testing.T) {
	now := time.Now()
	n := newOpenNegotiation(t, now)

	_, err := n.Cancel(uuid.New(), "", now)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	msg, err := n.Cancel(n.SellerID, "price too low", now)
	require.NoError(t, err)
	assert.Equal(t, MessageKindSystem, msg.Kind)
	assert.Contains(t, msg.Text, "price too low")
	assert.Equal(t, NegotiationStatusCanceled, n.Status)

	_, err = n.Cancel(n.BuyerID, "", now)
	assert.Equal(t, apperror.KindIllegalTransition, apperror.KindOf(err))
}

func TestNewPriceOfferValidation(t *testing.T) {
	_, err := NewPriceOffer(decimal.NewFromInt(-1), decimal.Zero)
	assert.Error(t, err)
	_, err = NewPriceOffer(decimal.Zero, decimal.NewFromInt(5))
	assert.Error(t, err)
}

func TestNewPriceOfferRejectsSubCentAmounts(t *testing.T) {
	_, err := NewPriceOffer(decimal.RequireFromString("10.005"), decimal.RequireFromString("0.005"))
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = NewPriceOffer(decimal.NewFromInt(10), decimal.RequireFromString("0.001"))
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	offer, err := NewPriceOffer(decimal.RequireFromString("10.500"), decimal.RequireFromString("0.25"))
	require.NoError(t, err)
	assert.Equal(t, "10.75", offer.TotalPrice.String())
}

func TestNegotiationNextAction(t *testing.T) {
	now := time.Now()
	n := newOpenNegotiation(t, now)
	assert.Equal(t, "await_response", NegotiationNextAction(n, n.BuyerID))
	assert.Equal(t, "respond_to_offer", NegotiationNextAction(n, n.SellerID))
}

func TestStatsDeltas(t *testing.T) {
	buyer, seller := uuid.New(), uuid.New()
	e := NewTransactionEvent(EventTypeOrderPlaced, "order", uuid.New(), buyer, buyer, seller, "pending")
	deltas := StatsDeltas(e)
	require.Len(t, deltas, 2)
	assert.Equal(t, StatsDelta{UserID: buyer, Column: StatOrdersPlaced, Amount: 1}, deltas[0])
	assert.Equal(t, StatsDelta{UserID: seller, Column: StatOrdersReceived, Amount: 1}, deltas[1])

	e.EventType = EventTypeOrderShipped
	assert.Empty(t, StatsDeltas(e))
}

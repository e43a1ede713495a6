package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tradehub/internal/auth"
	"tradehub/internal/models"
	"tradehub/internal/service"
	"tradehub/internal/store/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	hub   *Hub
	store *memory.Store
	jwt   *auth.Validator

	notifications *service.NotificationService
	orders        *service.OrderService

	buyer   auth.Identity
	seller  auth.Identity
	listing models.Listing
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  memory.New(),
		jwt:    auth.NewValidator("test-secret"),
		buyer:  auth.Identity{UserID: uuid.New(), Name: "Amina", Role: "buyer"},
		seller: auth.Identity{UserID: uuid.New(), Name: "Baraka", Role: "seller"},
	}
	h.listing = models.Listing{
		ID:                uuid.New(),
		SellerID:          h.seller.UserID,
		Title:             "Avocados",
		Unit:              "crate",
		PricePerUnit:      decimal.NewFromInt(20),
		AvailableQuantity: 10,
		Active:            true,
	}
	h.store.PutListing(h.listing)

	h.notifications = service.NewNotificationService(h.store)
	fx := service.Effects{Notifier: h.notifications}
	h.orders = service.NewOrderService(h.store, h.store, nil, fx, service.OrderServiceConfig{MaxActiveOrdersPerSeller: 10})
	chat := service.NewChatService(h.store, h.store, fx, 1000)

	h.hub = NewHub(h.jwt, h.notifications, chat)
	h.notifications.SetPusher(h.hub.Presence())
	return h
}

func (h *harness) token(id auth.Identity) string {
	h.t.Helper()
	tok, err := h.jwt.GenerateToken(id, time.Hour)
	require.NoError(h.t, err)
	return tok
}

// connect returns an authenticated client with its auth frames drained
func (h *harness) connect(id auth.Identity) *Client {
	h.t.Helper()
	c := newClient(h.hub, nil)
	h.send(c, EventAuth, map[string]string{"token": h.token(id)})
	frames := drain(c)
	require.NotEmpty(h.t, frames)
	require.Equal(h.t, EventAuthSuccess, frames[0].Event)
	return c
}

func (h *harness) send(c *Client, event string, data any) {
	h.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(h.t, err)
	h.hub.Handle(h.ctx, c, Frame{Event: event, Data: raw})
}

// confirmedOrder places an order and confirms it so its chat is open
func (h *harness) confirmedOrder() uuid.UUID {
	h.t.Helper()
	view, err := h.orders.PlaceOrder(h.ctx, h.buyer.UserID, &service.PlaceOrderRequest{ListingID: h.listing.ID, Quantity: 1})
	require.NoError(h.t, err)
	_, err = h.orders.UpdateStatus(h.ctx, h.seller.UserID, view.ID, service.ActionConfirm, "")
	require.NoError(h.t, err)
	return view.ID
}

func drain(c *Client) []Frame {
	var out []Frame
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var f Frame
			if err := json.Unmarshal(raw, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func eventNames(frames []Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func find(t *testing.T, frames []Frame, event string, v any) {
	t.Helper()
	for _, f := range frames {
		if f.Event == event {
			require.NoError(t, json.Unmarshal(f.Data, v))
			return
		}
	}
	t.Fatalf("no %s frame in %v", event, eventNames(frames))
}

func TestAuthRegistersPresenceAndSendsSummary(t *testing.T) {
	h := newHarness(t)
	_, err := h.notifications.Dispatch(h.ctx, service.NotificationInput{
		RecipientID: h.buyer.UserID, Type: models.NotificationSystem, Title: "Welcome", Message: "Hello",
	})
	require.NoError(t, err)

	c := newClient(h.hub, nil)
	h.send(c, EventAuth, map[string]string{"token": h.token(h.buyer)})

	frames := drain(c)
	assert.Equal(t, []string{EventAuthSuccess, EventNotificationSummary}, eventNames(frames))
	var summary models.NotificationSummary
	find(t, frames, EventNotificationSummary, &summary)
	assert.Equal(t, 1, summary.UnreadCount)
	assert.True(t, h.hub.Presence().Online(h.buyer.UserID))
}

func TestAuthFailures(t *testing.T) {
	h := newHarness(t)
	c := newClient(h.hub, nil)

	h.send(c, EventJoinLocation, map[string]string{"location": "Kisumu"})
	var errFrame errorPayload
	find(t, drain(c), EventError, &errFrame)
	assert.Equal(t, "unauthorized", errFrame.Kind)

	h.send(c, EventAuth, map[string]string{"token": "garbage"})
	assert.Equal(t, []string{EventAuthError}, eventNames(drain(c)))

	h.send(c, EventAuth, map[string]string{})
	assert.Equal(t, []string{EventAuthError}, eventNames(drain(c)))
	assert.Nil(t, c.Identity())
}

func TestLiveNotificationPush(t *testing.T) {
	h := newHarness(t)
	seller := h.connect(h.seller)

	_, err := h.orders.PlaceOrder(h.ctx, h.buyer.UserID, &service.PlaceOrderRequest{ListingID: h.listing.ID, Quantity: 1})
	require.NoError(t, err)

	var n models.Notification
	find(t, drain(seller), service.EventNewNotification, &n)
	assert.Equal(t, models.NotificationOrderPlaced, n.Type)
}

func TestPresenceKeepsNewerConnection(t *testing.T) {
	h := newHarness(t)
	first := h.connect(h.buyer)
	second := h.connect(h.buyer)

	h.hub.disconnect(first)
	assert.True(t, h.hub.Presence().Online(h.buyer.UserID))

	h.hub.disconnect(second)
	assert.False(t, h.hub.Presence().Online(h.buyer.UserID))
}

func TestMarkNotificationsOverSocket(t *testing.T) {
	h := newHarness(t)
	n, err := h.notifications.Dispatch(h.ctx, service.NotificationInput{
		RecipientID: h.buyer.UserID, Type: models.NotificationSystem, Title: "A", Message: "B",
	})
	require.NoError(t, err)
	c := h.connect(h.buyer)
	drain(c)

	h.send(c, EventMarkNotificationRead, map[string]any{"notification_id": n.ID})
	var updated models.Notification
	find(t, drain(c), EventNotificationUpdated, &updated)
	assert.True(t, updated.IsRead)

	h.send(c, EventMarkAllRead, nil)
	var count map[string]int64
	find(t, drain(c), EventAllNotificationsRead, &count)
	assert.Equal(t, int64(0), count["count"])

	h.send(c, EventMarkNotificationRead, map[string]any{"notification_id": uuid.New()})
	var errFrame errorPayload
	find(t, drain(c), EventError, &errFrame)
	assert.Equal(t, "not_found", errFrame.Kind)
}

func TestLocationJoinIsIdempotentPerIdentity(t *testing.T) {
	h := newHarness(t)
	a := h.connect(h.buyer)
	b := h.connect(h.seller)

	h.send(a, EventJoinLocation, map[string]string{"location": "Nakuru"})
	h.send(a, EventJoinLocation, map[string]string{"location": "  NAKURU "})
	var count countPayload
	frames := drain(a)
	assert.Equal(t, []string{EventActiveUsersCount, EventActiveUsersCount}, eventNames(frames))
	require.NoError(t, json.Unmarshal(frames[1].Data, &count))
	assert.Equal(t, 1, count.Count)
	assert.Equal(t, "nakuru", count.Location)

	h.send(b, EventJoinLocation, map[string]string{"location": "nakuru"})
	frames = drain(a)
	assert.Equal(t, []string{EventUserJoined, EventActiveUsersCount}, eventNames(frames))
	find(t, frames, EventActiveUsersCount, &count)
	assert.Equal(t, 2, count.Count)
	drain(b)

	h.send(b, EventLeaveLocation, map[string]string{"location": "Nakuru"})
	frames = drain(a)
	assert.Equal(t, []string{EventUserLeft, EventActiveUsersCount}, eventNames(frames))
	find(t, frames, EventActiveUsersCount, &count)
	assert.Equal(t, 1, count.Count)

	// Leaving twice changes nothing.
	h.send(b, EventLeaveLocation, map[string]string{"location": "Nakuru"})
	assert.Empty(t, drain(a))

	h.send(a, EventLeaveLocation, map[string]string{"location": "Nakuru"})
	assert.Equal(t, 0, h.hub.locations.size())
}

func TestLocationMessagesPersistThenBroadcast(t *testing.T) {
	h := newHarness(t)
	a := h.connect(h.buyer)
	b := h.connect(h.seller)
	stranger := h.connect(auth.Identity{UserID: uuid.New(), Name: "Chege"})

	h.send(a, EventJoinLocation, map[string]string{"location": "Eldoret"})
	h.send(b, EventJoinLocation, map[string]string{"location": "Eldoret", "name": "Baraka Farms"})
	drain(a)
	drain(b)

	h.send(a, EventSendMessage, map[string]string{"location": "Eldoret", "body": "Selling maize"})
	var fromA, fromB models.GroupMessage
	find(t, drain(a), EventReceiveMessage, &fromA)
	find(t, drain(b), EventReceiveMessage, &fromB)
	assert.Equal(t, fromA.ID, fromB.ID)
	assert.Equal(t, "Amina", fromA.SenderName)

	stored, err := h.store.ListGroupMessages(h.ctx, "eldoret", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, fromA.ID, stored[0].ID)

	h.send(b, EventSendMessage, map[string]string{"location": "Eldoret", "body": "Interested"})
	var fromSeller models.GroupMessage
	find(t, drain(a), EventReceiveMessage, &fromSeller)
	assert.Equal(t, "Baraka Farms", fromSeller.SenderName)
	drain(b)

	h.send(stranger, EventSendMessage, map[string]string{"location": "Eldoret", "body": "spam"})
	var errFrame errorPayload
	find(t, drain(stranger), EventError, &errFrame)
	assert.Equal(t, "forbidden", errFrame.Kind)
	assert.Empty(t, drain(a))
}

func TestTypingIsBroadcastToOthersOnly(t *testing.T) {
	h := newHarness(t)
	a := h.connect(h.buyer)
	b := h.connect(h.seller)
	h.send(a, EventJoinLocation, map[string]string{"location": "Thika"})
	h.send(b, EventJoinLocation, map[string]string{"location": "Thika"})
	drain(a)
	drain(b)

	h.send(a, EventTyping, map[string]any{"location": "Thika", "is_typing": true})
	assert.Empty(t, drain(a))
	var typing typingPayload
	find(t, drain(b), EventUserTyping, &typing)
	assert.Equal(t, h.buyer.UserID, typing.UserID)
	assert.True(t, typing.IsTyping)

	stored, err := h.store.ListGroupMessages(h.ctx, "thika", 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	h := newHarness(t)
	orderID := h.confirmedOrder()
	a := h.connect(h.buyer)
	b := h.connect(h.seller)

	for _, loc := range []string{"Nyeri", "Meru"} {
		h.send(a, EventJoinLocation, map[string]string{"location": loc})
		h.send(b, EventJoinLocation, map[string]string{"location": loc})
	}
	h.send(a, EventJoinOrderChat, map[string]any{"order_id": orderID})
	h.send(b, EventJoinOrderChat, map[string]any{"order_id": orderID})
	drain(a)
	drain(b)

	h.hub.disconnect(a)

	frames := drain(b)
	left := 0
	for _, f := range frames {
		if f.Event == EventUserLeft {
			left++
		}
	}
	assert.Equal(t, 2, left)
	assert.Contains(t, eventNames(frames), EventUserLeftOrderChat)
	assert.Empty(t, h.hub.locations.roomsOf(h.buyer.UserID))
	assert.Empty(t, h.hub.orderChats.roomsOf(h.buyer.UserID))

	h.hub.disconnect(b)
	assert.Equal(t, 0, h.hub.locations.size())
	assert.Equal(t, 0, h.hub.orderChats.size())
}

func TestStaleConnectionDisconnectKeepsRoomMembership(t *testing.T) {
	h := newHarness(t)
	old := h.connect(h.buyer)
	h.send(old, EventJoinLocation, map[string]string{"location": "Kisii"})
	fresh := h.connect(h.buyer)
	h.send(fresh, EventJoinLocation, map[string]string{"location": "Kisii"})

	h.hub.disconnect(old)
	assert.Equal(t, []string{"kisii"}, h.hub.locations.roomsOf(h.buyer.UserID))
}

func TestOrderChat(t *testing.T) {
	h := newHarness(t)
	orderID := h.confirmedOrder()
	buyer := h.connect(h.buyer)
	seller := h.connect(h.seller)
	drain(seller)

	h.send(buyer, EventJoinOrderChat, map[string]any{"order_id": orderID})
	assert.Equal(t, []string{EventOrderChatJoined}, eventNames(drain(buyer)))

	// Seller is connected for notifications but not in the chat room.
	h.send(buyer, EventSendOrderChatMessage, map[string]any{"order_id": orderID, "body": "Is it ready?"})
	var sent models.ChatMessage
	find(t, drain(buyer), EventOrderChatMessageSent, &sent)
	assert.Equal(t, "Is it ready?", sent.Body)

	var pushed models.Notification
	find(t, drain(seller), service.EventNewNotification, &pushed)
	assert.Equal(t, models.NotificationChatMessage, pushed.Type)

	h.send(seller, EventJoinOrderChat, map[string]any{"order_id": orderID})
	var joined map[string]any
	find(t, drain(seller), EventOrderChatJoined, &joined)
	assert.Equal(t, true, joined["counterpart_online"])
	assert.Equal(t, []string{EventUserJoinedOrderChat}, eventNames(drain(buyer)))

	h.send(seller, EventSendOrderChatMessage, map[string]any{"order_id": orderID, "body": "Yes, tomorrow"})
	var received models.ChatMessage
	find(t, drain(buyer), EventReceiveOrderChatMessage, &received)
	assert.Equal(t, "Yes, tomorrow", received.Body)
	assert.Equal(t, []string{EventOrderChatMessageSent}, eventNames(drain(seller)))

	inbox, err := h.notifications.List(h.ctx, h.buyer.UserID, models.NotificationFilter{Category: models.CategoryChat})
	require.NoError(t, err)
	assert.Empty(t, inbox, "no out-of-band notification while the counterpart is in the room")

	h.send(buyer, EventOrderChatTyping, map[string]any{"order_id": orderID, "is_typing": true})
	assert.Equal(t, []string{EventOrderChatUserTyping}, eventNames(drain(seller)))

	h.send(seller, EventLeaveOrderChat, map[string]any{"order_id": orderID})
	assert.Equal(t, []string{EventUserLeftOrderChat}, eventNames(drain(buyer)))

	msgs, err := h.store.ListChatMessages(h.ctx, orderID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "leaving keeps the thread")
}

func TestOrderChatRejections(t *testing.T) {
	h := newHarness(t)
	orderID := h.confirmedOrder()
	stranger := h.connect(auth.Identity{UserID: uuid.New(), Name: "Chege"})

	h.send(stranger, EventJoinOrderChat, map[string]any{"order_id": orderID})
	var errFrame errorPayload
	find(t, drain(stranger), EventOrderChatError, &errFrame)
	assert.Equal(t, "forbidden", errFrame.Kind)
	require.NotNil(t, errFrame.OrderID)
	assert.Equal(t, orderID, *errFrame.OrderID)

	h.send(stranger, EventSendOrderChatMessage, map[string]any{"order_id": orderID, "body": "hi"})
	find(t, drain(stranger), EventOrderChatError, &errFrame)
	assert.Equal(t, "forbidden", errFrame.Kind)

	pending, err := h.orders.PlaceOrder(h.ctx, h.buyer.UserID, &service.PlaceOrderRequest{ListingID: h.listing.ID, Quantity: 1})
	require.NoError(t, err)
	buyer := h.connect(h.buyer)
	h.send(buyer, EventJoinOrderChat, map[string]any{"order_id": pending.ID})
	find(t, drain(buyer), EventOrderChatError, &errFrame)
	assert.Equal(t, "illegal_transition", errFrame.Kind)

	msgs, err := h.store.ListChatMessages(h.ctx, orderID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestChannelErrorsKeepConnectionUsable(t *testing.T) {
	h := newHarness(t)
	c := h.connect(h.buyer)

	h.hub.Handle(h.ctx, c, Frame{Event: EventJoinLocation, Data: json.RawMessage(`{"location": 42}`)})
	var errFrame errorPayload
	find(t, drain(c), EventError, &errFrame)
	assert.Equal(t, "channel", errFrame.Kind)

	h.send(c, "dance", nil)
	find(t, drain(c), EventError, &errFrame)
	assert.Equal(t, "channel", errFrame.Kind)

	h.send(c, EventJoinLocation, map[string]string{"location": ""})
	find(t, drain(c), EventError, &errFrame)
	assert.Equal(t, "validation", errFrame.Kind)

	h.send(c, EventJoinLocation, map[string]string{"location": "Embu"})
	assert.Equal(t, []string{EventActiveUsersCount}, eventNames(drain(c)))
}

// Package realtime implements the websocket side of tradehub: the presence
// registry used for notification push, location chat rooms and order chat
// rooms.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"tradehub/internal/apperror"
	"tradehub/internal/auth"
	"tradehub/internal/models"
	"tradehub/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenValidator resolves the token presented in the auth event
type TokenValidator interface {
	ValidateToken(token string) (*auth.Identity, error)
}

// NotificationFeed is the notification side used by the socket events
type NotificationFeed interface {
	Summary(ctx context.Context, recipientID uuid.UUID) (*models.NotificationSummary, error)
	MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
}

// ChatBackend persists chat messages and authorizes order chat access
type ChatBackend interface {
	OpenOrderChat(ctx context.Context, user, orderID uuid.UUID) (*models.Order, *models.ChatThread, error)
	SendOrderMessage(ctx context.Context, sender, orderID uuid.UUID, body string) (*models.ChatMessage, *models.Order, error)
	NotifyOffline(ctx context.Context, msg *models.ChatMessage, order *models.Order)
	SendGroupMessage(ctx context.Context, sender uuid.UUID, senderName, location, body string) (*models.GroupMessage, error)
}

// Hub routes inbound socket events to presence, rooms and persistence
type Hub struct {
	presence   *Presence
	locations  *roomTable
	orderChats *roomTable

	tokens        TokenValidator
	notifications NotificationFeed
	chat          ChatBackend

	validate *validator.Validate
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates a new hub
func NewHub(tokens TokenValidator, notifications NotificationFeed, chat ChatBackend) *Hub {
	return &Hub{
		presence:      NewPresence(),
		locations:     newRoomTable("location"),
		orderChats:    newRoomTable("order_chat"),
		tokens:        tokens,
		notifications: notifications,
		chat:          chat,
		validate:      validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Connections authenticate with a bearer token in the auth
			// event, not with cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: util.GetLogger(),
	}
}

// Presence returns the notification presence registry
func (h *Hub) Presence() *Presence {
	return h.presence
}

// ServeWS upgrades an HTTP request and starts the connection loops
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	c := newClient(h, conn)
	util.WebsocketConnections.Inc()
	go c.writePump()
	go c.readPump()
}

// detach keeps persistence started by an event alive after the connection drops
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (h *Hub) decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperror.New(apperror.KindChannel, "invalid payload: %v", err)
	}
	if err := h.validate.Struct(v); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "invalid payload: "+err.Error())
	}
	return nil
}

func errorFrame(event string, err error) errorPayload {
	appErr := apperror.As(err)
	return errorPayload{
		Event:   event,
		Kind:    string(appErr.Kind),
		Reason:  appErr.Reason,
		Details: appErr.Details,
	}
}

// fail reports a failed event to the originating connection only
func (h *Hub) fail(c *Client, event string, err error) {
	if apperror.KindOf(err) == apperror.KindInternal {
		h.logger.Error("Socket event failed", zap.String("event", event), zap.Error(err))
	}
	c.Send(EventError, errorFrame(event, err))
}

func (h *Hub) failOrderChat(c *Client, event string, orderID uuid.UUID, err error) {
	if apperror.KindOf(err) == apperror.KindInternal {
		h.logger.Error("Order chat event failed", zap.String("event", event), zap.Error(err))
	}
	payload := errorFrame(event, err)
	if orderID != uuid.Nil {
		payload.OrderID = &orderID
	}
	c.Send(EventOrderChatError, payload)
}

// Handle processes one inbound frame of c. Frames of one connection are
// handled sequentially by its read loop.
func (h *Hub) Handle(ctx context.Context, c *Client, frame Frame) {
	ctx, span := util.StartSpan(ctx, "Hub."+frame.Event)
	defer span.End()

	if frame.Event == EventAuth {
		h.handleAuth(ctx, c, frame.Data)
		return
	}
	id := c.Identity()
	if id == nil {
		h.fail(c, frame.Event, apperror.New(apperror.KindUnauthorized, "authenticate first"))
		return
	}

	var err error
	switch frame.Event {
	case EventMarkNotificationRead:
		err = h.handleMarkRead(ctx, c, id, frame.Data)
	case EventMarkAllRead:
		err = h.handleMarkAllRead(ctx, c, id)
	case EventJoinLocation:
		err = h.handleJoinLocation(c, id, frame.Data)
	case EventSendMessage:
		err = h.handleSendMessage(ctx, id, frame.Data)
	case EventTyping:
		err = h.handleTyping(id, frame.Data)
	case EventLeaveLocation:
		err = h.handleLeaveLocation(id, frame.Data)
	case EventJoinOrderChat:
		h.handleJoinOrderChat(ctx, c, id, frame.Data)
	case EventSendOrderChatMessage:
		h.handleSendOrderChatMessage(ctx, c, id, frame.Data)
	case EventOrderChatTyping:
		h.handleOrderChatTyping(c, id, frame.Data)
	case EventLeaveOrderChat:
		h.handleLeaveOrderChat(c, id, frame.Data)
	default:
		err = apperror.New(apperror.KindChannel, "unknown event %q", frame.Event)
	}
	if err != nil {
		h.fail(c, frame.Event, err)
	}
}

func (h *Hub) handleAuth(ctx context.Context, c *Client, data json.RawMessage) {
	var p authPayload
	if err := h.decode(data, &p); err != nil {
		c.Send(EventAuthError, errorPayload{Kind: string(apperror.KindUnauthorized), Reason: "token is required"})
		return
	}
	id, err := h.tokens.ValidateToken(p.Token)
	if err != nil {
		c.Send(EventAuthError, errorPayload{Kind: string(apperror.KindUnauthorized), Reason: "invalid token"})
		return
	}

	if prev := c.Identity(); prev != nil && prev.UserID != id.UserID {
		h.presence.Unregister(prev.UserID, c)
		h.leaveAll(c, prev)
	}
	c.setIdentity(id)
	h.presence.Register(id.UserID, c)
	c.Send(EventAuthSuccess, userPayload{UserID: id.UserID, Name: id.Name})

	summary, err := h.notifications.Summary(detach(ctx), id.UserID)
	if err != nil {
		h.logger.Error("Failed to load notification summary",
			zap.String("user_id", id.UserID.String()),
			zap.Error(err))
		return
	}
	c.Send(EventNotificationSummary, summary)
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, id *auth.Identity, data json.RawMessage) error {
	var p markReadPayload
	if err := h.decode(data, &p); err != nil {
		return err
	}
	n, err := h.notifications.MarkRead(detach(ctx), id.UserID, p.NotificationID)
	if err != nil {
		return err
	}
	c.Send(EventNotificationUpdated, n)
	return nil
}

func (h *Hub) handleMarkAllRead(ctx context.Context, c *Client, id *auth.Identity) error {
	count, err := h.notifications.MarkAllRead(detach(ctx), id.UserID)
	if err != nil {
		return err
	}
	c.Send(EventAllNotificationsRead, map[string]int64{"count": count})
	return nil
}

func displayName(id *auth.Identity, override string) string {
	if name := strings.TrimSpace(override); name != "" {
		return name
	}
	return id.Name
}

func (h *Hub) handleJoinLocation(c *Client, id *auth.Identity, data json.RawMessage) error {
	var p locationPayload
	if err := h.decode(data, &p); err != nil {
		return err
	}
	key := models.NormalizeLocation(p.Location)
	if key == "" {
		return apperror.Validation("location is required")
	}
	name := displayName(id, p.Name)

	r := h.locations.lock(key, true)
	defer h.locations.unlock(r)
	if h.locations.add(r, id.UserID, c, name) {
		r.broadcast(EventUserJoined, userPayload{UserID: id.UserID, Name: name, Location: key}, id.UserID)
	}
	r.broadcast(EventActiveUsersCount, countPayload{Location: key, Count: r.count()}, uuid.Nil)
	return nil
}

func (h *Hub) handleSendMessage(ctx context.Context, id *auth.Identity, data json.RawMessage) error {
	var p locationMessagePayload
	if err := h.decode(data, &p); err != nil {
		return err
	}
	key := models.NormalizeLocation(p.Location)
	r := h.locations.get(key)
	if r == nil {
		return apperror.Forbidden("join the location before sending messages")
	}

	r.seq.Lock()
	defer r.seq.Unlock()

	r.mu.Lock()
	m, joined := r.members[id.UserID]
	r.mu.Unlock()
	if !joined {
		return apperror.Forbidden("join the location before sending messages")
	}

	msg, err := h.chat.SendGroupMessage(detach(ctx), id.UserID, displayName(id, m.name), key, p.Body)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.broadcast(EventReceiveMessage, msg, uuid.Nil)
	r.mu.Unlock()
	return nil
}

func (h *Hub) handleTyping(id *auth.Identity, data json.RawMessage) error {
	var p locationTypingPayload
	if err := h.decode(data, &p); err != nil {
		return err
	}
	key := models.NormalizeLocation(p.Location)
	r := h.locations.lock(key, false)
	if r == nil {
		return apperror.Forbidden("join the location first")
	}
	defer h.locations.unlock(r)
	m, ok := r.members[id.UserID]
	if !ok {
		return apperror.Forbidden("join the location first")
	}
	r.broadcast(EventUserTyping, typingPayload{
		UserID:   id.UserID,
		Name:     m.name,
		Location: key,
		IsTyping: p.IsTyping,
	}, id.UserID)
	return nil
}

func (h *Hub) handleLeaveLocation(id *auth.Identity, data json.RawMessage) error {
	var p locationPayload
	if err := h.decode(data, &p); err != nil {
		return err
	}
	h.leaveLocation(models.NormalizeLocation(p.Location), id.UserID, nil)
	return nil
}

// leaveLocation removes userID from a location room and tells the rest.
// A non-nil c restricts the removal to that connection.
func (h *Hub) leaveLocation(key string, userID uuid.UUID, c *Client) {
	r := h.locations.lock(key, false)
	if r == nil {
		return
	}
	defer h.locations.unlock(r)
	m, ok := h.locations.remove(r, userID, c)
	if !ok {
		return
	}
	r.broadcast(EventUserLeft, userPayload{UserID: userID, Name: m.name, Location: key}, uuid.Nil)
	r.broadcast(EventActiveUsersCount, countPayload{Location: key, Count: r.count()}, uuid.Nil)
}

func (h *Hub) handleJoinOrderChat(ctx context.Context, c *Client, id *auth.Identity, data json.RawMessage) {
	var p orderChatPayload
	if err := h.decode(data, &p); err != nil {
		h.failOrderChat(c, EventJoinOrderChat, uuid.Nil, err)
		return
	}
	order, thread, err := h.chat.OpenOrderChat(detach(ctx), id.UserID, p.OrderID)
	if err != nil {
		h.failOrderChat(c, EventJoinOrderChat, p.OrderID, err)
		return
	}

	r := h.orderChats.lock(order.ID.String(), true)
	defer h.orderChats.unlock(r)
	added := h.orderChats.add(r, id.UserID, c, id.Name)
	c.Send(EventOrderChatJoined, map[string]any{
		"order_id":           order.ID,
		"thread":             thread,
		"counterpart_online": r.has(order.Counterpart(id.UserID)),
	})
	if added {
		r.broadcast(EventUserJoinedOrderChat, orderChatUserPayload{
			OrderID: order.ID, UserID: id.UserID, Name: id.Name,
		}, id.UserID)
	}
}

func (h *Hub) handleSendOrderChatMessage(ctx context.Context, c *Client, id *auth.Identity, data json.RawMessage) {
	var p orderChatMessagePayload
	if err := h.decode(data, &p); err != nil {
		h.failOrderChat(c, EventSendOrderChatMessage, uuid.Nil, err)
		return
	}
	notJoined := apperror.Forbidden("join the order chat before sending messages")
	r := h.orderChats.get(p.OrderID.String())
	if r == nil {
		h.failOrderChat(c, EventSendOrderChatMessage, p.OrderID, notJoined)
		return
	}

	r.seq.Lock()
	defer r.seq.Unlock()

	r.mu.Lock()
	joined := r.has(id.UserID)
	r.mu.Unlock()
	if !joined {
		h.failOrderChat(c, EventSendOrderChatMessage, p.OrderID, notJoined)
		return
	}

	msg, order, err := h.chat.SendOrderMessage(detach(ctx), id.UserID, p.OrderID, p.Body)
	if err != nil {
		h.failOrderChat(c, EventSendOrderChatMessage, p.OrderID, err)
		return
	}

	r.mu.Lock()
	r.broadcast(EventReceiveOrderChatMessage, msg, id.UserID)
	counterpartPresent := r.has(order.Counterpart(id.UserID))
	r.mu.Unlock()

	c.Send(EventOrderChatMessageSent, msg)
	if !counterpartPresent {
		h.chat.NotifyOffline(detach(ctx), msg, order)
	}
}

func (h *Hub) handleOrderChatTyping(c *Client, id *auth.Identity, data json.RawMessage) {
	var p orderChatTypingPayload
	if err := h.decode(data, &p); err != nil {
		h.failOrderChat(c, EventOrderChatTyping, uuid.Nil, err)
		return
	}
	r := h.orderChats.lock(p.OrderID.String(), false)
	if r == nil {
		return
	}
	defer h.orderChats.unlock(r)
	if !r.has(id.UserID) {
		return
	}
	orderID := p.OrderID
	r.broadcast(EventOrderChatUserTyping, typingPayload{
		UserID:   id.UserID,
		Name:     id.Name,
		OrderID:  &orderID,
		IsTyping: p.IsTyping,
	}, id.UserID)
}

func (h *Hub) handleLeaveOrderChat(c *Client, id *auth.Identity, data json.RawMessage) {
	var p orderChatPayload
	if err := h.decode(data, &p); err != nil {
		h.failOrderChat(c, EventLeaveOrderChat, uuid.Nil, err)
		return
	}
	h.leaveOrderChat(p.OrderID.String(), id.UserID, nil)
}

func (h *Hub) leaveOrderChat(key string, userID uuid.UUID, c *Client) {
	r := h.orderChats.lock(key, false)
	if r == nil {
		return
	}
	defer h.orderChats.unlock(r)
	m, ok := h.orderChats.remove(r, userID, c)
	if !ok {
		return
	}
	orderID, _ := uuid.Parse(key)
	r.broadcast(EventUserLeftOrderChat, orderChatUserPayload{OrderID: orderID, UserID: userID, Name: m.name}, uuid.Nil)
}

// leaveAll leaves every room the identity joined through c
func (h *Hub) leaveAll(c *Client, id *auth.Identity) {
	for _, key := range h.locations.roomsOf(id.UserID) {
		h.leaveLocation(key, id.UserID, c)
	}
	for _, key := range h.orderChats.roomsOf(id.UserID) {
		h.leaveOrderChat(key, id.UserID, c)
	}
}

// disconnect is an implicit leave of every room plus presence removal
func (h *Hub) disconnect(c *Client) {
	util.WebsocketConnections.Dec()
	id := c.Identity()
	if id == nil {
		return
	}
	h.presence.Unregister(id.UserID, c)
	h.leaveAll(c, id)
	h.logger.Debug("Connection closed", zap.String("user_id", id.UserID.String()))
}

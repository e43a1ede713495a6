package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"tradehub/internal/apperror"
	"tradehub/internal/models"
	"tradehub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultChatMaxLength = 1000
	defaultHistoryLimit  = 50
	maxHistoryLimit      = 200
)

// ChatService persists order chat and location chat messages. Broadcasting
// is left to the realtime hub.
type ChatService struct {
	orders    OrderRepository
	chats     ChatRepository
	effects   effects
	maxLength int
	now       func() time.Time
	logger    *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(orders OrderRepository, chats ChatRepository, fx Effects, maxLength int) *ChatService {
	if maxLength <= 0 {
		maxLength = defaultChatMaxLength
	}
	return &ChatService{
		orders:    orders,
		chats:     chats,
		effects:   newEffects(fx),
		maxLength: maxLength,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

func (s *ChatService) body(raw string) (string, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return "", apperror.Validation("message cannot be empty")
	}
	if utf8.RuneCountInString(body) > s.maxLength {
		return "", apperror.Validation("message exceeds %d characters", s.maxLength).
			With("max_length", s.maxLength)
	}
	return body, nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// chatOrder loads an order and checks that user may use its chat
func (s *ChatService) chatOrder(ctx context.Context, user, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storeError("order", err)
	}
	if !order.IsParty(user) {
		return nil, apperror.Forbidden("not a party to this order")
	}
	if !order.Status.ChatEligible() {
		return nil, apperror.IllegalTransition("order", "chat on", string(order.Status))
	}
	return order, nil
}

// OpenOrderChat authorizes user for the order chat, creates the thread on
// first use and resets the user's unread counter
func (s *ChatService) OpenOrderChat(ctx context.Context, user, orderID uuid.UUID) (*models.Order, *models.ChatThread, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.OpenOrderChat")
	defer span.End()

	order, err := s.chatOrder(ctx, user, orderID)
	if err != nil {
		return nil, nil, err
	}
	thread, err := s.chats.GetOrCreateChatThread(ctx, order)
	if err != nil {
		return nil, nil, storeError("chat thread", err)
	}
	if err := s.chats.MarkChatRead(ctx, order.ID, user); err != nil {
		return nil, nil, storeError("chat thread", err)
	}
	if user == thread.BuyerID {
		thread.BuyerUnread = 0
	} else {
		thread.SellerUnread = 0
	}
	return order, thread, nil
}

// SendOrderMessage persists a chat message and bumps the counterpart's
// unread counter. It returns the stored message and the order.
func (s *ChatService) SendOrderMessage(ctx context.Context, sender, orderID uuid.UUID, raw string) (*models.ChatMessage, *models.Order, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.SendOrderMessage")
	defer span.End()

	body, err := s.body(raw)
	if err != nil {
		return nil, nil, err
	}
	order, err := s.chatOrder(ctx, sender, orderID)
	if err != nil {
		return nil, nil, err
	}
	thread, err := s.chats.GetOrCreateChatThread(ctx, order)
	if err != nil {
		return nil, nil, storeError("chat thread", err)
	}

	start := time.Now()
	msg := &models.ChatMessage{
		ID:        uuid.New(),
		ThreadID:  thread.ID,
		OrderID:   order.ID,
		SenderID:  sender,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.chats.AppendChatMessage(ctx, msg, order.Counterpart(sender)); err != nil {
		return nil, nil, storeError("chat message", err)
	}
	util.ChatPersistLatency.Observe(time.Since(start).Seconds())
	util.ChatMessagesTotal.WithLabelValues("order").Inc()
	return msg, order, nil
}

// NotifyOffline dispatches a chat_message notification to a counterpart
// who is not in the chat room
func (s *ChatService) NotifyOffline(ctx context.Context, msg *models.ChatMessage, order *models.Order) {
	recipient := order.Counterpart(msg.SenderID)
	preview := msg.Body
	if utf8.RuneCountInString(preview) > 100 {
		preview = string([]rune(preview)[:100]) + "..."
	}
	s.effects.notify(ctx, NotificationInput{
		RecipientID: recipient,
		Type:        models.NotificationChatMessage,
		Title:       fmt.Sprintf("New message about %s", order.ListingTitle),
		Message:     preview,
		Payload: map[string]any{
			"order_id":   order.ID,
			"message_id": msg.ID,
			"sender_id":  msg.SenderID,
		},
	})
}

// History returns the latest order chat messages in chronological order
func (s *ChatService) History(ctx context.Context, user, orderID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.History")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storeError("order", err)
	}
	if !order.IsParty(user) {
		return nil, apperror.Forbidden("not a party to this order")
	}
	msgs, err := s.chats.ListChatMessages(ctx, order.ID, historyLimit(limit))
	if err != nil {
		return nil, storeError("chat message", err)
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

// SendGroupMessage persists a message to a location room
func (s *ChatService) SendGroupMessage(ctx context.Context, sender uuid.UUID, senderName, location, raw string) (*models.GroupMessage, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.SendGroupMessage")
	defer span.End()

	room := models.NormalizeLocation(location)
	if room == "" {
		return nil, apperror.Validation("location is required")
	}
	body, err := s.body(raw)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	msg := &models.GroupMessage{
		ID:         uuid.New(),
		Location:   room,
		SenderID:   sender,
		SenderName: senderName,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.chats.CreateGroupMessage(ctx, msg); err != nil {
		return nil, storeError("group message", err)
	}
	util.ChatPersistLatency.Observe(time.Since(start).Seconds())
	util.ChatMessagesTotal.WithLabelValues("location").Inc()
	return msg, nil
}

// GroupHistory returns the latest messages of a location room
func (s *ChatService) GroupHistory(ctx context.Context, location string, limit int) ([]models.GroupMessage, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.GroupHistory")
	defer span.End()

	room := models.NormalizeLocation(location)
	if room == "" {
		return nil, apperror.Validation("location is required")
	}
	msgs, err := s.chats.ListGroupMessages(ctx, room, historyLimit(limit))
	if err != nil {
		return nil, storeError("group message", err)
	}
	if msgs == nil {
		msgs = []models.GroupMessage{}
	}
	return msgs, nil
}

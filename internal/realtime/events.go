package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Inbound events
const (
	EventAuth                 = "auth"
	EventMarkNotificationRead = "mark_notification_read"
	EventMarkAllRead          = "mark_all_notifications_read"
	EventJoinLocation         = "joinLocation"
	EventSendMessage          = "sendMessage"
	EventTyping               = "typing"
	EventLeaveLocation        = "leaveLocation"
	EventJoinOrderChat        = "joinOrderChat"
	EventSendOrderChatMessage = "sendOrderChatMessage"
	EventOrderChatTyping      = "orderChatTyping"
	EventLeaveOrderChat       = "leaveOrderChat"
)

// Outbound events
const (
	EventAuthSuccess             = "auth_success"
	EventAuthError               = "auth_error"
	EventNotificationSummary     = "notification_summary"
	EventNotificationUpdated     = "notification_updated"
	EventAllNotificationsRead    = "all_notifications_read"
	EventUserJoined              = "userJoined"
	EventActiveUsersCount        = "activeUsersCount"
	EventReceiveMessage          = "receiveMessage"
	EventUserTyping              = "userTyping"
	EventUserLeft                = "userLeft"
	EventOrderChatJoined         = "orderChatJoined"
	EventOrderChatError          = "orderChatError"
	EventUserJoinedOrderChat     = "userJoinedOrderChat"
	EventReceiveOrderChatMessage = "receiveOrderChatMessage"
	EventOrderChatMessageSent    = "orderChatMessageSent"
	EventOrderChatUserTyping     = "orderChatUserTyping"
	EventUserLeftOrderChat       = "userLeftOrderChat"
	EventError                   = "error"
)

// Frame is the JSON envelope of every websocket message in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type authPayload struct {
	Token string `json:"token" validate:"required"`
}

type markReadPayload struct {
	NotificationID uuid.UUID `json:"notification_id" validate:"required"`
}

type locationPayload struct {
	Location string `json:"location" validate:"required,max=200"`
	Name     string `json:"name" validate:"max=100"`
}

type locationMessagePayload struct {
	Location string `json:"location" validate:"required,max=200"`
	Name     string `json:"name" validate:"max=100"`
	Body     string `json:"body" validate:"required"`
}

type locationTypingPayload struct {
	Location string `json:"location" validate:"required,max=200"`
	IsTyping bool   `json:"is_typing"`
}

type orderChatPayload struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
}

type orderChatMessagePayload struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
	Body    string    `json:"body" validate:"required"`
}

type orderChatTypingPayload struct {
	OrderID  uuid.UUID `json:"order_id" validate:"required"`
	IsTyping bool      `json:"is_typing"`
}

// errorPayload is sent only to the connection whose event failed
type errorPayload struct {
	Event   string         `json:"event,omitempty"`
	OrderID *uuid.UUID     `json:"order_id,omitempty"`
	Kind    string         `json:"kind"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

type userPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	Name     string    `json:"name,omitempty"`
	Location string    `json:"location,omitempty"`
}

type countPayload struct {
	Location string `json:"location"`
	Count    int    `json:"count"`
}

type typingPayload struct {
	UserID   uuid.UUID  `json:"user_id"`
	Name     string     `json:"name,omitempty"`
	Location string     `json:"location,omitempty"`
	OrderID  *uuid.UUID `json:"order_id,omitempty"`
	IsTyping bool       `json:"is_typing"`
}

type orderChatUserPayload struct {
	OrderID uuid.UUID `json:"order_id"`
	UserID  uuid.UUID `json:"user_id"`
	Name    string    `json:"name,omitempty"`
}

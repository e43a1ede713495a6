package api

import (
	"net/http"

	"tradehub/internal/auth"
	"tradehub/internal/models"

	"github.com/gin-gonic/gin"
)

// listNotifications supports ?unread=true, ?category=, ?limit= and ?offset=
func (h *Handler) listNotifications(c *gin.Context) {
	filter := models.NotificationFilter{
		UnreadOnly: c.Query("unread") == "true",
		Category:   models.NotificationCategory(c.Query("category")),
		Limit:      queryInt(c, "limit", 20),
		Offset:     queryInt(c, "offset", 0),
	}
	list, err := h.svc.Notifications.List(c.Request.Context(), auth.UserID(c), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *Handler) notificationSummary(c *gin.Context) {
	summary, err := h.svc.Notifications.Summary(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	n, err := h.svc.Notifications.MarkRead(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) markAllNotificationsRead(c *gin.Context) {
	count, err := h.svc.Notifications.MarkAllRead(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": count})
}

// orderChatHistory returns the latest messages of an order chat, oldest first
func (h *Handler) orderChatHistory(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	msgs, err := h.svc.Chat.History(c.Request.Context(), auth.UserID(c), id, queryInt(c, "limit", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) locationHistory(c *gin.Context) {
	msgs, err := h.svc.Chat.GroupHistory(c.Request.Context(), c.Param("location"), queryInt(c, "limit", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) userStats(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	stats, err := h.svc.Stats.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/auth"
	"tradehub/internal/realtime"
	"tradehub/internal/service"
	"tradehub/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the domain services served over HTTP
type Services struct {
	Orders        *service.OrderService
	Samples       *service.SampleService
	Negotiations  *service.NegotiationService
	Notifications *service.NotificationService
	Reviews       *service.ReviewService
	Chat          *service.ChatService
	Stats         *service.StatsService
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	hub    *realtime.Hub
	tokens *auth.Validator
	ready  []Pinger
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler. hub may be nil, in which case /ws
// is not mounted.
func NewHandler(svc Services, hub *realtime.Hub, tokens *auth.Validator, ready ...Pinger) *Handler {
	return &Handler{
		svc:    svc,
		hub:    hub,
		tokens: tokens,
		ready:  ready,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if h.hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			h.hub.ServeWS(c.Writer, c.Request)
		})
	}

	v1 := router.Group("/api/v1")
	v1.Use(auth.AuthRequired(h.tokens))
	{
		v1.POST("/orders", h.placeOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/complete", h.completeOrder)
		v1.GET("/orders/:id/chat", h.orderChatHistory)

		v1.POST("/samples", h.requestSample)
		v1.GET("/samples", h.listSamples)
		v1.GET("/samples/:id", h.getSample)
		v1.POST("/samples/:id/accept", h.acceptSample)
		v1.DELETE("/samples/:id", h.rejectSample)
		v1.POST("/samples/:id/received", h.markSampleReceived)

		v1.POST("/negotiations", h.startNegotiation)
		v1.GET("/negotiations", h.listNegotiations)
		v1.GET("/negotiations/:id", h.getNegotiation)
		v1.POST("/negotiations/:id/messages", h.sendNegotiationMessage)
		v1.POST("/negotiations/:id/accept", h.acceptOffer)
		v1.POST("/negotiations/:id/cancel", h.cancelNegotiation)

		v1.GET("/notifications", h.listNotifications)
		v1.GET("/notifications/summary", h.notificationSummary)
		v1.PATCH("/notifications/read-all", h.markAllNotificationsRead)
		v1.PATCH("/notifications/:id/read", h.markNotificationRead)

		v1.POST("/reviews", h.createReview)
		v1.GET("/locations/:location/messages", h.locationHistory)
		v1.GET("/users/:id/stats", h.userStats)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every backing dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, p := range h.ready {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"time":   time.Now().Unix(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError writes err as {"error", "kind", "details"} with the status of its kind
func (h *Handler) respondError(c *gin.Context, err error) {
	appErr := apperror.As(err)
	status := apperror.HTTPStatus(appErr.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	body := gin.H{
		"error": appErr.Reason,
		"kind":  appErr.Kind,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.JSON(status, body)
}

// bind decodes the JSON body into req, answering 400 on failure
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"kind":    apperror.KindValidation,
			"details": err.Error(),
		})
		return false
	}
	return true
}

// bindOptional is bind for bodies that may be empty
func (h *Handler) bindOptional(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.bind(c, req)
}

func (h *Handler) idParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.respondError(c, apperror.Validation("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

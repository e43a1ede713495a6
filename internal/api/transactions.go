package api

import (
	"net/http"

	"tradehub/internal/auth"
	"tradehub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type updateStatusRequest struct {
	Action string `json:"action" binding:"required,oneof=confirm ship cancel"`
	Reason string `json:"reason" binding:"max=500"`
}

type codeRequest struct {
	Code string `json:"code" binding:"max=16"`
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type acceptOfferRequest struct {
	MessageID uuid.UUID `json:"messageId" binding:"required"`
}

// placeOrder handles order placement. The Idempotency-Key header makes
// retries return the originally created order.
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if !h.bind(c, &req) {
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.svc.Orders.PlaceOrder(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.svc.Orders.ListOrders(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.svc.Orders.GetOrder(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// updateOrderStatus applies confirm, ship or cancel
func (h *Handler) updateOrderStatus(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if !h.bind(c, &req) {
		return
	}
	order, err := h.svc.Orders.UpdateStatus(c.Request.Context(), auth.UserID(c), id, req.Action, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) completeOrder(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req codeRequest
	if !h.bind(c, &req) {
		return
	}
	order, err := h.svc.Orders.Complete(c.Request.Context(), auth.UserID(c), id, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) requestSample(c *gin.Context) {
	var req service.RequestSampleRequest
	if !h.bind(c, &req) {
		return
	}
	sample, err := h.svc.Samples.RequestSample(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sample)
}

func (h *Handler) listSamples(c *gin.Context) {
	samples, err := h.svc.Samples.ListSamples(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

func (h *Handler) getSample(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	sample, err := h.svc.Samples.GetSample(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sample)
}

func (h *Handler) acceptSample(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	sample, err := h.svc.Samples.Accept(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sample)
}

// rejectSample deletes a pending request; the body carries an optional reason
func (h *Handler) rejectSample(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !h.bindOptional(c, &req) {
		return
	}
	if err := h.svc.Samples.Reject(c.Request.Context(), auth.UserID(c), id, req.Reason); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markSampleReceived(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req codeRequest
	if !h.bindOptional(c, &req) {
		return
	}
	sample, err := h.svc.Samples.MarkReceived(c.Request.Context(), auth.UserID(c), id, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sample)
}

func (h *Handler) startNegotiation(c *gin.Context) {
	var req service.StartNegotiationRequest
	if !h.bind(c, &req) {
		return
	}
	n, err := h.svc.Negotiations.Start(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *Handler) listNegotiations(c *gin.Context) {
	list, err := h.svc.Negotiations.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"negotiations": list})
}

func (h *Handler) getNegotiation(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	n, err := h.svc.Negotiations.Get(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) sendNegotiationMessage(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req service.SendNegotiationMessageRequest
	if !h.bind(c, &req) {
		return
	}
	msg, err := h.svc.Negotiations.SendMessage(c.Request.Context(), auth.UserID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) acceptOffer(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req acceptOfferRequest
	if !h.bind(c, &req) {
		return
	}
	n, err := h.svc.Negotiations.AcceptOffer(c.Request.Context(), auth.UserID(c), id, req.MessageID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) cancelNegotiation(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !h.bindOptional(c, &req) {
		return
	}
	n, err := h.svc.Negotiations.Cancel(c.Request.Context(), auth.UserID(c), id, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) createReview(c *gin.Context) {
	var req service.CreateReviewRequest
	if !h.bind(c, &req) {
		return
	}
	review, err := h.svc.Reviews.Create(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

package handler

import (
	"errors"
	"net/http"

	"nutbutter/internal/middleware"
	"nutbutter/internal/service"
	"nutbutter/pkg/payment"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	tracker    *service.Tracker
	reconciler *service.Reconciler
	provider   payment.Provider
}

func NewPaymentHandler(tracker *service.Tracker, reconciler *service.Reconciler, provider payment.Provider) *PaymentHandler {
	return &PaymentHandler{tracker: tracker, reconciler: reconciler, provider: provider}
}

// Initiate starts an M-Pesa STK push for an order. Returns immediately with
// the correlation id; the checkout page follows up over the status endpoint
// or the payments websocket.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	customerID := middleware.GetCustomerID(c)
	var req struct {
		OrderReference string `json:"order_reference" binding:"required"`
		AmountKES      int64  `json:"amount_kes" binding:"required,min=1"`
		Currency       string `json:"currency"`
		PayerPhone     string `json:"payer_phone" binding:"required"`
		Description    string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pr, err := h.tracker.Initiate(c.Request.Context(), service.InitiateParams{
		OrderReference: req.OrderReference,
		CustomerID:     customerID,
		AmountCents:    req.AmountKES * 100,
		Currency:       req.Currency,
		PayerPhone:     req.PayerPhone,
		Description:    req.Description,
	})
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrDuplicatePendingRequest):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "mpesa unavailable, please retry"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment initiation failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"correlation_id":  pr.CorrelationID,
		"order_reference": pr.OrderReference,
		"amount_kes":      pr.AmountCents / 100,
		"currency":        pr.Currency,
		"status":          pr.Status,
		"message":         "Check your phone to complete the M-Pesa payment.",
	})
}

func (h *PaymentHandler) GetStatus(c *gin.Context) {
	pr, err := h.tracker.GetByCorrelationID(c.Param("correlation_id"))
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment request not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, pr)
}

// ListForOrder returns every payment attempt for an order, oldest first.
func (h *PaymentHandler) ListForOrder(c *gin.Context) {
	attempts, err := h.tracker.ListByOrderReference(c.Param("reference"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_reference": c.Param("reference"), "attempts": attempts})
}

// Cancel aborts a pending request (customer closed checkout). Cancelling a
// settled request reports the terminal state instead.
func (h *PaymentHandler) Cancel(c *gin.Context) {
	pr, err := h.tracker.Cancel(c.Request.Context(), c.Param("correlation_id"))
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment request not found"})
		return
	}
	if errors.Is(err, service.ErrAlreadyTerminal) {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "payment request already settled",
			"status": pr.Status,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		return
	}
	c.JSON(http.StatusOK, pr)
}

// ListEvents exposes the audit trail for a correlation id, plus the state
// rebuilt from the log for cross-checking the primary record.
func (h *PaymentHandler) ListEvents(c *gin.Context) {
	correlationID := c.Param("correlation_id")
	evs, err := h.tracker.ListEvents(correlationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if len(evs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no events for correlation id"})
		return
	}
	rebuilt, _ := h.reconciler.RebuildState(correlationID)
	c.JSON(http.StatusOK, gin.H{
		"correlation_id": correlationID,
		"events":         evs,
		"rebuilt_status": rebuilt,
	})
}

// ProviderStatus queries Daraja directly for a push; for manual
// reconciliation of callbacks that never matched.
func (h *PaymentHandler) ProviderStatus(c *gin.Context) {
	resp, err := h.provider.QuerySTKStatus(c.Request.Context(), c.Param("correlation_id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"correlation_id": c.Param("correlation_id"),
		"result_code":    resp.ResultCode,
		"result_desc":    resp.ResultDesc,
	})
}

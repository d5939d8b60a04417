package handler

import (
	"errors"
	"io"
	"log"
	"net/http"

	"nutbutter/internal/service"

	"github.com/gin-gonic/gin"
)

type MpesaWebhookHandler struct {
	reconciler *service.Reconciler
}

func NewMpesaWebhookHandler(reconciler *service.Reconciler) *MpesaWebhookHandler {
	return &MpesaWebhookHandler{reconciler: reconciler}
}

// Handle processes the Daraja STK callback. Every structurally valid
// delivery gets the provider's expected ack, including ones we cannot match
// or that conflict with a recorded outcome - otherwise Daraja redelivers a
// callback we can never resolve.
func (h *MpesaWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "invalid body"})
		return
	}
	log.Printf("[MPESA callback] raw body: %s", string(body))
	res, err := h.reconciler.HandleCallback(c.Request.Context(), body, service.CallbackSource{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	switch {
	case errors.Is(err, service.ErrMalformedCallback):
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "malformed callback"})
		return
	case errors.Is(err, service.ErrUnknownCorrelation):
		// Acknowledged: nothing to match, retrying will never help.
		c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
		return
	case errors.Is(err, service.ErrConflictingCallback):
		// Acknowledged but kept for manual reconciliation; never overwrite.
		c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
		return
	case err != nil:
		log.Printf("[MPESA callback] reconcile error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "internal error"})
		return
	}
	if res.Duplicate {
		log.Printf("[MPESA callback] duplicate delivery correlation_id=%s status=%s", res.CorrelationID, res.Status)
	}
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// README: Payment gateway webhook receiver.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"coursier/internal/modules/payment"
)

const maxWebhookBody = 64 << 10

type WebhookHandler struct {
	payment *payment.Service
}

func NewWebhookHandler(payments *payment.Service) *WebhookHandler {
	return &WebhookHandler{payment: payments}
}

func (h *WebhookHandler) Payments(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, "unreadable body")
		return
	}
	err = h.payment.HandleWebhook(c.Request.Context(),
		c.GetHeader(payment.HeaderSignature),
		c.GetHeader(payment.HeaderTimestamp),
		body,
	)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"received": true})
}

package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fosten-shop/fosten-orders-service/internal/clients"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

const maxWebhookBody = 1 << 20

// VerifyPayment handles GET /api/v1/payments/paystack/verify/:reference
func (h *Handlers) VerifyPayment(c *gin.Context) {
	reference := c.Param("reference")

	result, err := h.paymentService.VerifyPayment(c.Request.Context(), reference)
	if err != nil {
		handleError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
		if result.GatewayStatus == models.GatewayStatusPending {
			status = http.StatusAccepted
		}
	}

	c.JSON(status, result)
}

// PaystackWebhook handles POST /api/v1/payments/paystack/webhook. The
// signature is checked against the raw body bytes.
func (h *Handlers) PaystackWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader(clients.SignatureHeader)
	h.logger.Debug("Webhook received", logging.Fields{
		"payload_size":  len(payload),
		"has_signature": signature != "",
	})

	if err := h.paymentService.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

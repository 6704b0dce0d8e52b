package handler

import (
	"errors"
	"net/http"

	"paycore/internal/domain"
	"paycore/internal/service"

	"github.com/gin-gonic/gin"
)

type WebhookHandler struct {
	svc *service.PaymentService
}

func NewWebhookHandler(svc *service.PaymentService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// Handle receives a gateway notification.
// POST /api/v1/webhooks/:gateway
//
// Duplicates and unknown references are acknowledged with 200 so the gateway
// stops retrying. Transient failures answer 5xx so it retries.
func (h *WebhookHandler) Handle(c *gin.Context) {
	res, err := h.svc.HandleWebhook(c.Request.Context(), c.Param("gateway"), c.Request, service.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			c.JSON(http.StatusOK, gin.H{"received": true, "ignored": "unknown payment"})
			return
		}
		respondError(c, err)
		return
	}

	body := gin.H{
		"received": true,
		"outcome":  res.Outcome,
		"status":   res.Payment.Status,
	}
	switch {
	case res.Outcome == service.OutcomeRejected:
		body["error"] = domain.ErrInvalidTransition.Error()
		c.JSON(http.StatusUnprocessableEntity, body)
		return
	case errors.Is(res.Reason, domain.ErrDuplicateDelivery):
		body["duplicate"] = true
	}
	c.JSON(http.StatusOK, body)
}

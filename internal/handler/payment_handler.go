package handler

import (
	"net/http"

	"paycore/internal/models"
	"paycore/internal/service"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	svc *service.PaymentService
}

func NewPaymentHandler(svc *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

type checkoutRequest struct {
	UserID      uint                   `json:"user_id" binding:"required"`
	Amount      int64                  `json:"amount" binding:"required,gt=0"`
	Currency    string                 `json:"currency" binding:"omitempty,len=3"`
	Kind        string                 `json:"kind" binding:"required,oneof=wallet-topup purchase"`
	Gateway     string                 `json:"gateway" binding:"required"`
	Description string                 `json:"description" binding:"max=255"`
	Email       string                 `json:"email" binding:"omitempty,email"`
	Phone       string                 `json:"phone" binding:"max=20"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func paymentView(p *models.Payment) gin.H {
	return gin.H{
		"id":             p.ID,
		"transaction_id": p.TransactionID,
		"external_id":    p.ExternalID,
		"user_id":        p.UserID,
		"wallet_id":      p.WalletID,
		"amount":         p.Amount,
		"currency":       p.Currency,
		"kind":           p.Kind,
		"gateway":        p.Gateway,
		"status":         p.Status,
		"failure_code":   p.FailureCode,
		"redirect_url":   p.RedirectURL,
		"created_at":     p.CreatedAt,
		"completed_at":   p.CompletedAt,
	}
}

// Create starts a checkout.
// POST /api/v1/payments
func (h *PaymentHandler) Create(c *gin.Context) {
	var req checkoutRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.svc.Initiate(c.Request.Context(), service.CheckoutRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Kind:        req.Kind,
		Gateway:     req.Gateway,
		Description: req.Description,
		Email:       req.Email,
		Phone:       req.Phone,
		Metadata:    req.Metadata,
	})
	if err != nil {
		if p != nil {
			// The payment exists and stays pending; reconciliation settles it.
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "payment": paymentView(p)})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": paymentView(p)})
}

// Get returns one payment.
// GET /api/v1/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": paymentView(p)})
}

// ListByUser returns a user's payments.
// GET /api/v1/users/:id/payments
func (h *PaymentHandler) ListByUser(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit, offset := page(c)
	list, err := h.svc.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]gin.H, 0, len(list))
	for i := range list {
		views = append(views, paymentView(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"payments": views})
}

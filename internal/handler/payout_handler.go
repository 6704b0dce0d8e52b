package handler

import (
	"net/http"
	"strconv"

	"paycore/internal/service"

	"github.com/gin-gonic/gin"
)

type PayoutHandler struct {
	svc *service.PayoutService
}

func NewPayoutHandler(svc *service.PayoutService) *PayoutHandler {
	return &PayoutHandler{svc: svc}
}

// ListEarnings filters earnings by status and referrer.
// GET /api/v1/payouts/earnings?status=pending&referrer_id=
func (h *PayoutHandler) ListEarnings(c *gin.Context) {
	var referrerID uint
	if v := c.Query("referrer_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referrer_id"})
			return
		}
		referrerID = uint(id)
	}
	limit, offset := page(c)
	list, err := h.svc.Earnings(c.Request.Context(), c.Query("status"), referrerID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"earnings": list})
}

// MarkPaid settles an earning and credits the referrer's wallet.
// POST /api/v1/payouts/earnings/:id/paid
func (h *PayoutHandler) MarkPaid(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	e, err := h.svc.MarkPaid(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"earning": e})
}

// MarkCancelled voids a pending earning.
// POST /api/v1/payouts/earnings/:id/cancelled
func (h *PayoutHandler) MarkCancelled(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	e, err := h.svc.MarkCancelled(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"earning": e})
}

package handler

import (
	"net/http"

	"paycore/internal/service"

	"github.com/gin-gonic/gin"
)

type ReferralHandler struct {
	svc *service.SponsorshipService
}

func NewReferralHandler(svc *service.SponsorshipService) *ReferralHandler {
	return &ReferralHandler{svc: svc}
}

type bindRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Code   string `json:"code" binding:"required,max=20"`
}

// Bind attaches a newly registered user to the owner of a referral code.
// POST /api/v1/referrals/bind
func (h *ReferralHandler) Bind(c *gin.Context) {
	var req bindRequest
	if !bindJSON(c, &req) {
		return
	}
	ref, err := h.svc.Bind(c.Request.Context(), req.UserID, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"referral": ref})
}

// GetCode returns the owner's referral code, creating one if it doesn't exist yet.
// GET /api/v1/referrals/code/:owner_id
func (h *ReferralHandler) GetCode(c *gin.Context) {
	ownerID, ok := paramID(c, "owner_id")
	if !ok {
		return
	}
	rc, err := h.svc.Code(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       rc.Code,
		"is_active":  rc.IsActive,
		"expires_at": rc.ExpiresAt,
		"created_at": rc.CreatedAt,
	})
}

// ListByReferrer returns the users bound to a referrer.
// GET /api/v1/referrals/by-referrer/:referrer_id
func (h *ReferralHandler) ListByReferrer(c *gin.Context) {
	referrerID, ok := paramID(c, "referrer_id")
	if !ok {
		return
	}
	limit, offset := page(c)
	list, total, err := h.svc.Referrals(c.Request.Context(), referrerID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrals": list, "total": total})
}

// Levels lists the commission tiers.
// GET /api/v1/referrals/levels
func (h *ReferralHandler) Levels(c *gin.Context) {
	levels, err := h.svc.Levels(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"levels": levels})
}

// Activate re-enables an owner's code for new bindings.
// POST /api/v1/admin/referrals/code/:owner_id/activate
func (h *ReferralHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// Deactivate stops new bindings on an owner's code. Existing referrals keep earning.
// POST /api/v1/admin/referrals/code/:owner_id/deactivate
func (h *ReferralHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *ReferralHandler) setActive(c *gin.Context, active bool) {
	ownerID, ok := paramID(c, "owner_id")
	if !ok {
		return
	}
	if err := h.svc.SetCodeActive(c.Request.Context(), ownerID, active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner_id": ownerID, "is_active": active})
}

package handler

import (
	"net/http"

	"paycore/internal/repository"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	repo *repository.NotificationRepository
}

func NewNotificationHandler(repo *repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{repo: repo}
}

// GET /api/v1/users/:id/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit, offset := page(c)
	list, err := h.repo.ListByUserID(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// POST /api/v1/users/:id/notifications/:notification_id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	id, ok := paramID(c, "notification_id")
	if !ok {
		return
	}
	if err := h.repo.MarkRead(c.Request.Context(), id, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type pushTokenRequest struct {
	Token string `json:"token" binding:"required,max=512"`
}

// SavePushToken registers the device token used for FCM pushes.
// POST /api/v1/users/:id/push-token
func (h *NotificationHandler) SavePushToken(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req pushTokenRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.repo.SavePushToken(c.Request.Context(), userID, req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

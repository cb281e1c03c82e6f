package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/api/dto"
	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/notification"
)

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	logger  *slog.Logger
	service NotificationService
}

// NewNotificationHandler creates a new NotificationHandler instance
func NewNotificationHandler(deps *Dependencies) *NotificationHandler {
	return &NotificationHandler{
		logger:  deps.Logger,
		service: deps.Notifications,
	}
}

// Create handles POST /api/v1/notifications
func (h *NotificationHandler) Create(c *gin.Context) {
	id, _ := GetIdentity(c)

	var req dto.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	n, err := h.service.Create(c.Request.Context(), req.ToCreateRequest(), id.UserID, id.CompanyID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, notification.NewView(*n))
}

// Inbox handles GET /api/v1/notifications/inbox
func (h *NotificationHandler) Inbox(c *gin.Context) {
	id, _ := GetIdentity(c)

	var req dto.InboxRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.FromUTC != nil && req.ToUTC != nil && req.FromUTC.After(*req.ToUTC) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "validation failed",
			Fields: map[string]string{"toUtc": "must not be before fromUtc"},
		})
		return
	}

	page, err := h.service.Inbox(c.Request.Context(), id.UserID, id.CompanyID, req.ToQuery())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewInboxResponse(page))
}

// MarkAsRead handles POST /api/v1/notifications/:id/read
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	id, _ := GetIdentity(c)

	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, domain.ErrNotificationNotFound)
		return
	}

	ok, err := h.service.MarkAsRead(c.Request.Context(), notificationID, id.UserID, id.CompanyID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !ok {
		respondError(c, h.logger, domain.ErrNotificationNotFound)
		return
	}

	c.Status(http.StatusNoContent)
}

// MarkAllAsRead handles POST /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	id, _ := GetIdentity(c)

	n, err := h.service.MarkAllAsRead(c.Request.Context(), id.UserID, id.CompanyID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.MarkAllReadResponse{UpdatedCount: n})
}

package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/flytwo-backend/internal/api/dto"
	"github.com/cuongbtq/flytwo-backend/internal/domain"
)

const keepAliveInterval = 25 * time.Second

// RealtimeHandler streams group pushes to connected clients.
type RealtimeHandler struct {
	logger *slog.Logger
	hub    GroupSubscriber
}

func NewRealtimeHandler(deps *Dependencies) *RealtimeHandler {
	return &RealtimeHandler{logger: deps.Logger, hub: deps.Hub}
}

// Groups are the realtime groups a caller joins on connect.
func Groups(id Identity) []string {
	groups := []string{domain.SystemGroup}
	if id.CompanyID != nil {
		groups = append(groups, domain.CompanyGroup(*id.CompanyID))
	}
	return append(groups, domain.UserGroup(id.UserID))
}

// Stream handles GET /api/v1/realtime/stream as Server-Sent Events.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	id, _ := GetIdentity(c)
	ctx := c.Request.Context()

	events, err := h.hub.Subscribe(ctx, Groups(id)...)
	if err != nil {
		h.logger.Error("Failed to open realtime stream",
			slog.String("user_id", id.UserID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "realtime stream unavailable"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	h.logger.Debug("Realtime stream opened", slog.String("user_id", id.UserID))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case env, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(env.Event, env.Payload)
			return true
		case <-ticker.C:
			c.SSEvent("keepalive", "")
			return true
		}
	})
	h.logger.Debug("Realtime stream closed", slog.String("user_id", id.UserID))
}

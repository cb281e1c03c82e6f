package router

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/api/dto"
	"github.com/cuongbtq/flytwo-backend/internal/api/handler"
)

// Identity headers set by the upstream gateway.
const (
	HeaderUserID    = "X-User-ID"
	HeaderCompanyID = "X-Company-ID"
	HeaderUserRoles = "X-User-Roles"
)

// RequestIDHeader correlates a request across the gateway and this service.
const RequestIDHeader = "X-Request-ID"

// LoggerMiddleware logs every request once it completes. Health checks and scrapes are
// logged at debug level.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		attrs := []any{
			slog.String("request_id", requestID),
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
			slog.Int("body_size", c.Writer.Size()),
		}
		if id, ok := handler.GetIdentity(c); ok {
			attrs = append(attrs, slog.String("user_id", id.UserID))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("HTTP Request", attrs...)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			logger.Debug("HTTP Request", attrs...)
		default:
			logger.Info("HTTP Request", attrs...)
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID, X-User-ID, X-Company-ID, X-User-Roles, X-Worker-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// IdentityMiddleware reads the caller from the gateway headers. Requests
// without a user, or with a malformed company id, are refused.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{Error: "caller identity is required"})
			return
		}

		id := handler.Identity{UserID: userID}

		if raw := strings.TrimSpace(c.GetHeader(HeaderCompanyID)); raw != "" {
			companyID, err := uuid.Parse(raw)
			if err != nil || companyID == uuid.Nil {
				c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{Error: "invalid company id"})
				return
			}
			id.CompanyID = &companyID
		}

		for _, role := range strings.Split(c.GetHeader(HeaderUserRoles), ",") {
			if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
				id.Roles = append(id.Roles, role)
			}
		}

		handler.SetIdentity(c, id)
		c.Next()
	}
}

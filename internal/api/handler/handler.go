package handler

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/notification"
	"github.com/cuongbtq/flytwo-backend/internal/printjob"
	"github.com/cuongbtq/flytwo-backend/internal/realtime"
)

// PrintJobService is implemented by *printjob.Service.
type PrintJobService interface {
	Create(ctx context.Context, userID string, companyID uuid.UUID, req printjob.CreateRequest) (*domain.Job, error)
	GetJob(ctx context.Context, id uuid.UUID, userID string, companyID uuid.UUID, isAdmin bool) (*domain.Job, error)
	GetWorkItem(ctx context.Context, id uuid.UUID) (*printjob.WorkItem, error)
}

// NotificationService is implemented by *notification.Engine.
type NotificationService interface {
	Create(ctx context.Context, req notification.CreateRequest, creatorUserID string, creatorCompanyID *uuid.UUID) (*domain.Notification, error)
	Inbox(ctx context.Context, userID string, companyID *uuid.UUID, q domain.InboxQuery) (domain.InboxPage, error)
	MarkAsRead(ctx context.Context, id uuid.UUID, userID string, companyID *uuid.UUID) (bool, error)
	MarkAllAsRead(ctx context.Context, userID string, companyID *uuid.UUID) (int, error)
}

// GroupSubscriber is implemented by *realtime.Hub.
type GroupSubscriber interface {
	Subscribe(ctx context.Context, groups ...string) (<-chan realtime.Envelope, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	ServiceName   string
	PrintJobs     PrintJobService
	Notifications NotificationService
	Hub           GroupSubscriber
	WorkerAPIKey  string
	HealthChecks  map[string]HealthCheck
}

// Identity is the caller as asserted by the upstream gateway.
type Identity struct {
	UserID    string
	CompanyID *uuid.UUID
	Roles     []string
}

// IsAdmin reports whether the caller may read every job of its company.
func (id Identity) IsAdmin() bool {
	for _, r := range id.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// companyOrNil is the company id, or uuid.Nil for callers without one.
func (id Identity) companyOrNil() uuid.UUID {
	if id.CompanyID == nil {
		return uuid.Nil
	}
	return *id.CompanyID
}

const (
	RoleAdmin = "admin"

	identityKey = "flytwo.identity"
)

// SetIdentity stores the caller on the gin context.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
}

// GetIdentity returns the caller stored by SetIdentity.
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/metrics"
	"github.com/cuongbtq/flytwo-backend/internal/realtime"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// MaxPage keeps the row offset well inside int range.
	MaxPage = 1_000_000
)

// Store is the persistence the engine needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	InsertNotification(ctx context.Context, n *domain.Notification) (int, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	GetRecipient(ctx context.Context, notificationID uuid.UUID, userID string) (*domain.Recipient, error)
	UpsertReadRecipient(ctx context.Context, notificationID uuid.UUID, userID string, readAt time.Time) error
	MarkRecipientRead(ctx context.Context, notificationID uuid.UUID, userID string, readAt time.Time) (bool, error)
	Inbox(ctx context.Context, userID string, companyID uuid.UUID, q domain.InboxQuery) ([]domain.InboxItem, int, error)
	MarkAllRead(ctx context.Context, userID string, companyID uuid.UUID, readAt time.Time) (int, error)
}

// CreateRequest is a request to publish a notification.
type CreateRequest struct {
	Scope        domain.Scope `validate:"required,oneof=System Company User"`
	CompanyID    *uuid.UUID
	TargetUserID *string `validate:"omitempty,max=450"`
	Title        string  `validate:"notblank,max=200"`
	Message      string  `validate:"notblank,max=4000"`
	Category     *string `validate:"omitempty,max=100"`
	Severity     *int    `validate:"omitempty,min=0"`
}

// Engine creates notifications and tracks per-user read state.
type Engine struct {
	store    Store
	pusher   realtime.Pusher
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(store Store, pusher realtime.Pusher, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		pusher:   pusher,
		validate: NewValidator(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewValidator returns a validator that knows the notification request rules.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterStructValidation(validateTargetFields, CreateRequest{})
	return v
}

// validateTargetFields checks that only the target field matching the scope is set.
func validateTargetFields(sl validator.StructLevel) {
	req := sl.Current().Interface().(CreateRequest)
	hasTarget := req.TargetUserID != nil && strings.TrimSpace(*req.TargetUserID) != ""

	switch req.Scope {
	case domain.ScopeSystem:
		if req.CompanyID != nil {
			sl.ReportError(req.CompanyID, "CompanyID", "CompanyID", "isdefault", "")
		}
		if req.TargetUserID != nil {
			sl.ReportError(req.TargetUserID, "TargetUserID", "TargetUserID", "isdefault", "")
		}
	case domain.ScopeCompany:
		if req.CompanyID != nil && *req.CompanyID == uuid.Nil {
			sl.ReportError(req.CompanyID, "CompanyID", "CompanyID", "required", "")
		}
		if req.TargetUserID != nil {
			sl.ReportError(req.TargetUserID, "TargetUserID", "TargetUserID", "isdefault", "")
		}
	case domain.ScopeUser:
		if !hasTarget {
			sl.ReportError(req.TargetUserID, "TargetUserID", "TargetUserID", "required", "")
		}
		if req.CompanyID != nil {
			sl.ReportError(req.CompanyID, "CompanyID", "CompanyID", "isdefault", "")
		}
	}
}

// Create validates and persists a notification, then pushes it to the
// target's realtime group. A push failure does not fail the call.
func (e *Engine) Create(ctx context.Context, req CreateRequest, creatorUserID string, creatorCompanyID *uuid.UUID) (*domain.Notification, error) {
	if strings.TrimSpace(creatorUserID) == "" {
		return nil, domain.Rejection("creator is required")
	}
	if err := e.validate.StructCtx(ctx, req); err != nil {
		return nil, err
	}

	target, err := e.resolveTarget(ctx, req, creatorCompanyID)
	if err != nil {
		return nil, err
	}

	n := &domain.Notification{
		ID:              uuid.New(),
		Target:          target,
		Title:           req.Title,
		Message:         req.Message,
		Category:        blankToNil(req.Category),
		Severity:        req.Severity,
		CreatedAt:       e.now(),
		CreatedByUserID: &creatorUserID,
	}

	recipients, err := e.store.InsertNotification(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to save notification: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(target.Scope())).Inc()

	e.logger.Info("Notification created",
		slog.String("notification_id", n.ID.String()),
		slog.String("scope", string(target.Scope())),
		slog.Int("recipients", recipients),
	)

	if err := e.pusher.PublishToGroup(ctx, target.GroupKey(), realtime.EventNotificationPushed, NewView(*n)); err != nil {
		metrics.PushFailures.WithLabelValues(realtime.EventNotificationPushed).Inc()
		e.logger.Warn("Failed to push notification",
			slog.String("notification_id", n.ID.String()),
			slog.String("group", target.GroupKey()),
			slog.Any("error", err),
		)
	}
	return n, nil
}

func (e *Engine) resolveTarget(ctx context.Context, req CreateRequest, creatorCompanyID *uuid.UUID) (domain.Target, error) {
	switch req.Scope {
	case domain.ScopeSystem:
		return domain.SystemTarget(), nil

	case domain.ScopeCompany:
		if creatorCompanyID == nil {
			return domain.Target{}, domain.Rejection("creator has no company")
		}
		if req.CompanyID != nil && *req.CompanyID != *creatorCompanyID {
			return domain.Target{}, domain.Rejection("company does not match the creator's company")
		}
		return domain.CompanyTarget(*creatorCompanyID), nil

	case domain.ScopeUser:
		if creatorCompanyID == nil {
			return domain.Target{}, domain.Rejection("creator has no company")
		}
		if req.TargetUserID == nil || strings.TrimSpace(*req.TargetUserID) == "" {
			return domain.Target{}, domain.Rejection("target user is required")
		}
		user, err := e.store.GetUser(ctx, *req.TargetUserID)
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.Target{}, domain.Rejection("target user not found")
		}
		if err != nil {
			return domain.Target{}, fmt.Errorf("failed to load target user: %w", err)
		}
		if user.CompanyID == nil || *user.CompanyID != *creatorCompanyID {
			return domain.Target{}, domain.Rejection("target user belongs to another company")
		}
		return domain.UserTarget(user.ID), nil
	}
	return domain.Target{}, domain.Rejection("unknown scope")
}

// Inbox returns one page of notifications visible to the user.
func (e *Engine) Inbox(ctx context.Context, userID string, companyID *uuid.UUID, q domain.InboxQuery) (domain.InboxPage, error) {
	q.Page, q.PageSize = normalizePage(q.Page, q.PageSize)
	page := domain.InboxPage{Items: []domain.InboxItem{}, Page: q.Page, PageSize: q.PageSize}

	if strings.TrimSpace(userID) == "" || companyID == nil || *companyID == uuid.Nil {
		return page, nil
	}

	items, total, err := e.store.Inbox(ctx, userID, *companyID, q)
	if err != nil {
		return domain.InboxPage{}, fmt.Errorf("failed to read inbox: %w", err)
	}
	if items != nil {
		page.Items = items
	}
	page.TotalCount = total
	return page, nil
}

func normalizePage(page, size int) (int, int) {
	page = max(1, min(page, MaxPage))
	switch {
	case size < 1:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// MarkAsRead latches read_at for the user. It reports false when the
// notification does not exist or is not visible to the user.
func (e *Engine) MarkAsRead(ctx context.Context, id uuid.UUID, userID string, companyID *uuid.UUID) (bool, error) {
	if id == uuid.Nil || strings.TrimSpace(userID) == "" {
		return false, nil
	}

	n, err := e.store.GetNotification(ctx, id)
	if errors.Is(err, domain.ErrNotificationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load notification: %w", err)
	}
	if !canAccess(n.Target, userID, companyID) {
		return false, nil
	}

	now := e.now()
	r, err := e.store.GetRecipient(ctx, id, userID)
	switch {
	case errors.Is(err, domain.ErrRecipientNotFound):
		if n.Target.Scope() != domain.ScopeSystem {
			return false, nil
		}
		if err := e.store.UpsertReadRecipient(ctx, id, userID, now); err != nil {
			return false, fmt.Errorf("failed to record read: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to load recipient: %w", err)
	}

	if r.ReadAt != nil {
		return true, nil
	}
	if _, err := e.store.MarkRecipientRead(ctx, id, userID, now); err != nil {
		return false, fmt.Errorf("failed to record read: %w", err)
	}
	return true, nil
}

// MarkAllAsRead marks every visible notification read and returns how many
// rows changed.
func (e *Engine) MarkAllAsRead(ctx context.Context, userID string, companyID *uuid.UUID) (int, error) {
	if strings.TrimSpace(userID) == "" || companyID == nil || *companyID == uuid.Nil {
		return 0, nil
	}
	changed, err := e.store.MarkAllRead(ctx, userID, *companyID, e.now())
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", err)
	}
	return changed, nil
}

func canAccess(t domain.Target, userID string, companyID *uuid.UUID) bool {
	switch t.Scope() {
	case domain.ScopeSystem:
		return true
	case domain.ScopeCompany:
		id, _ := t.CompanyID()
		return companyID != nil && *companyID == id
	case domain.ScopeUser:
		id, _ := t.UserID()
		return id == userID
	}
	return false
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

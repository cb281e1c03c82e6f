package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/notification"
)

// CreateNotificationRequest is the create body. Field rules are enforced by
// the notification engine so that API and admin callers share them.
type CreateNotificationRequest struct {
	Scope        string     `json:"scope"`
	CompanyID    *uuid.UUID `json:"companyId"`
	TargetUserID *string    `json:"targetUserId"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	Category     *string    `json:"category"`
	Severity     *int       `json:"severity"`
}

// ToCreateRequest accepts the scope name in any case.
func (r CreateNotificationRequest) ToCreateRequest() notification.CreateRequest {
	scope := domain.Scope(r.Scope)
	if parsed, err := domain.ParseScope(r.Scope); err == nil {
		scope = parsed
	}
	return notification.CreateRequest{
		Scope:        scope,
		CompanyID:    r.CompanyID,
		TargetUserID: r.TargetUserID,
		Title:        r.Title,
		Message:      r.Message,
		Category:     r.Category,
		Severity:     r.Severity,
	}
}

type InboxRequest struct {
	UnreadOnly bool       `form:"unreadOnly"`
	Severity   *int       `form:"severity" binding:"omitempty,min=0"`
	FromUTC    *time.Time `form:"fromUtc" time_format:"2006-01-02T15:04:05Z07:00"`
	ToUTC      *time.Time `form:"toUtc" time_format:"2006-01-02T15:04:05Z07:00"`
	Page       int        `form:"page"`
	PageSize   int        `form:"pageSize"`
}

func (r InboxRequest) ToQuery() domain.InboxQuery {
	return domain.InboxQuery{
		UnreadOnly: r.UnreadOnly,
		Severity:   r.Severity,
		From:       r.FromUTC,
		To:         r.ToUTC,
		Page:       r.Page,
		PageSize:   r.PageSize,
	}
}

type InboxResponse struct {
	Items      []notification.InboxItemView `json:"items"`
	Page       int                          `json:"page"`
	PageSize   int                          `json:"pageSize"`
	TotalCount int                          `json:"totalCount"`
}

func NewInboxResponse(page domain.InboxPage) InboxResponse {
	items := make([]notification.InboxItemView, len(page.Items))
	for i, item := range page.Items {
		items[i] = notification.NewInboxItemView(item)
	}
	return InboxResponse{
		Items:      items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
	}
}

type MarkAllReadResponse struct {
	UpdatedCount int `json:"updatedCount"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
)

// View is the wire shape of a notification, used for pushes and API responses.
type View struct {
	ID           uuid.UUID    `json:"id"`
	Scope        domain.Scope `json:"scope"`
	CompanyID    *uuid.UUID   `json:"companyId"`
	TargetUserID *string      `json:"targetUserId"`
	Title        string       `json:"title"`
	Message      string       `json:"message"`
	Category     *string      `json:"category"`
	Severity     *int         `json:"severity"`
	CreatedAtUTC time.Time    `json:"createdAtUtc"`
}

func NewView(n domain.Notification) View {
	v := View{
		ID:           n.ID,
		Scope:        n.Target.Scope(),
		Title:        n.Title,
		Message:      n.Message,
		Category:     n.Category,
		Severity:     n.Severity,
		CreatedAtUTC: n.CreatedAt.UTC(),
	}
	if id, ok := n.Target.CompanyID(); ok {
		v.CompanyID = &id
	}
	if id, ok := n.Target.UserID(); ok {
		v.TargetUserID = &id
	}
	return v
}

// InboxItemView adds the reader's read state.
type InboxItemView struct {
	View
	ReadAtUTC *time.Time `json:"readAtUtc"`
	IsRead    bool       `json:"isRead"`
}

func NewInboxItemView(item domain.InboxItem) InboxItemView {
	return InboxItemView{
		View:      NewView(item.Notification),
		ReadAtUTC: item.ReadAt,
		IsRead:    item.ReadAt != nil,
	}
}

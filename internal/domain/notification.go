package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope is the audience of a notification.
type Scope string

const (
	ScopeSystem  Scope = "System"
	ScopeCompany Scope = "Company"
	ScopeUser    Scope = "User"
)

// ParseScope accepts a scope name case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return ScopeSystem, nil
	case "company":
		return ScopeCompany, nil
	case "user":
		return ScopeUser, nil
	}
	return "", fmt.Errorf("unknown notification scope %q", s)
}

// Target is the audience of a notification. Exactly the field matching the
// scope is set; use the constructors.
type Target struct {
	scope     Scope
	companyID uuid.UUID
	userID    string
}

// SystemTarget addresses every user.
func SystemTarget() Target { return Target{scope: ScopeSystem} }

// CompanyTarget addresses every member of a company.
func CompanyTarget(companyID uuid.UUID) Target {
	return Target{scope: ScopeCompany, companyID: companyID}
}

// UserTarget addresses one user.
func UserTarget(userID string) Target {
	return Target{scope: ScopeUser, userID: userID}
}

func (t Target) Scope() Scope { return t.scope }

// CompanyID returns the company for Company targets.
func (t Target) CompanyID() (uuid.UUID, bool) {
	return t.companyID, t.scope == ScopeCompany
}

// UserID returns the user for User targets.
func (t Target) UserID() (string, bool) {
	return t.userID, t.scope == ScopeUser
}

// GroupKey is the realtime group that receives pushes for this target.
func (t Target) GroupKey() string {
	switch t.scope {
	case ScopeCompany:
		return CompanyGroup(t.companyID)
	case ScopeUser:
		return UserGroup(t.userID)
	default:
		return SystemGroup
	}
}

// SystemGroup is joined by every realtime connection.
const SystemGroup = "system"

func CompanyGroup(companyID uuid.UUID) string { return "company:" + companyID.String() }

func UserGroup(userID string) string { return "user:" + userID }

// Notification is a persisted notification.
type Notification struct {
	ID              uuid.UUID
	Target          Target
	Title           string
	Message         string
	Category        *string
	Severity        *int
	CreatedAt       time.Time
	CreatedByUserID *string
}

// Recipient is one user's delivery/read state for a notification.
type Recipient struct {
	NotificationID uuid.UUID  `db:"notification_id"`
	UserID         string     `db:"user_id"`
	ReadAt         *time.Time `db:"read_at"`
	DeliveredAt    *time.Time `db:"delivered_at"`
}

// InboxItem is a visible notification joined with the reader's state.
type InboxItem struct {
	Notification
	ReadAt *time.Time
}

// InboxQuery filters an inbox read. Bounds are inclusive.
type InboxQuery struct {
	UnreadOnly bool
	Severity   *int
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// InboxPage is one page of inbox items.
type InboxPage struct {
	Items      []InboxItem
	Page       int
	PageSize   int
	TotalCount int
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job is missing or not visible to the caller
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownReportKey is returned for report keys outside the allow-list
	ErrUnknownReportKey = errors.New("unknown report key")

	// ErrInvalidParameters is returned when report parameters fail validation
	ErrInvalidParameters = errors.New("invalid report parameters")

	// ErrNotificationRejected is returned when a create request breaks a scope rule
	ErrNotificationRejected = errors.New("notification rejected")

	// ErrNotificationNotFound is returned when a notification does not exist
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrRecipientNotFound is returned when a user has no recipient row for a notification
	ErrRecipientNotFound = errors.New("notification recipient not found")

	// ErrUserNotFound is returned when a user id does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrMissingIdentity is returned when a call carries no user or no company
	ErrMissingIdentity = errors.New("caller identity is required")

	// ErrMalformedEvent is returned when a worker event cannot be decoded
	ErrMalformedEvent = errors.New("malformed job event")
)

// Rejection wraps ErrNotificationRejected with the reason.
func Rejection(reason string) error {
	return fmt.Errorf("%w: %s", ErrNotificationRejected, reason)
}

// InvalidParameters wraps ErrInvalidParameters with the offending detail.
func InvalidParameters(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageTypePrintJobQueued tags the outbox message written with every new job.
const MessageTypePrintJobQueued = "print.job.queued.v1"

// MaxLastErrorLength bounds OutboxMessage.LastError in characters.
const MaxLastErrorLength = 4000

// OutboxMessage is a pending or relayed broker message.
type OutboxMessage struct {
	ID            uuid.UUID  `db:"id"`
	Type          string     `db:"type"`
	PayloadJSON   string     `db:"payload_json"`
	OccurredAt    time.Time  `db:"occurred_at"`
	ProcessedAt   *time.Time `db:"processed_at"`
	Attempts      int        `db:"attempts"`
	LockedUntil   *time.Time `db:"locked_until"`
	LastAttemptAt *time.Time `db:"last_attempt_at"`
	LastError     *string    `db:"last_error"`
}

// PrintJobQueuedPayload is the body of a print.job.queued.v1 message.
type PrintJobQueuedPayload struct {
	MessageType   string    `json:"messageType"`
	JobID         uuid.UUID `json:"jobId"`
	OccurredAtUTC time.Time `json:"occurredAtUtc"`
}

// OutboxStats summarizes the outbox table.
type OutboxStats struct {
	Pending     int `db:"pending"`
	Locked      int `db:"locked"`
	Processed   int `db:"processed"`
	MaxAttempts int `db:"max_attempts"`
}

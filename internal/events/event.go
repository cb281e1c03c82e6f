package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
)

// Type is the kind of a worker job event.
type Type string

const (
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
)

// Event is a job event emitted by the print worker on the events channel.
// Optional fields are nil when the worker left them out.
type Event struct {
	Type               Type       `json:"type"`
	JobID              uuid.UUID  `json:"jobId"`
	UserID             *string    `json:"userId"`
	Current            *int       `json:"current"`
	Total              *int       `json:"total"`
	Message            *string    `json:"message"`
	OutputBucket       *string    `json:"outputBucket"`
	OutputKey          *string    `json:"outputKey"`
	OutputURL          *string    `json:"outputUrl"`
	OutputExpiresAtUTC *time.Time `json:"outputExpiresAtUtc"`
	ErrorMessage       *string    `json:"errorMessage"`
	OccurredAtUTC      *time.Time `json:"occurredAtUtc"`
}

// Decode parses a raw event. The type is matched case-insensitively.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	switch t := Type(strings.ToLower(strings.TrimSpace(string(ev.Type)))); t {
	case TypeProgress, TypeCompleted, TypeFailed:
		ev.Type = t
	case "":
		return Event{}, fmt.Errorf("%w: missing type", domain.ErrMalformedEvent)
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedEvent, ev.Type)
	}

	if ev.JobID == uuid.Nil {
		return Event{}, fmt.Errorf("%w: missing jobId", domain.ErrMalformedEvent)
	}
	return ev, nil
}

// occurredAt returns the event time, or now when the worker sent none.
func (e Event) occurredAt(now time.Time) time.Time {
	if e.OccurredAtUTC == nil || e.OccurredAtUTC.IsZero() {
		return now
	}
	return e.OccurredAtUTC.UTC()
}

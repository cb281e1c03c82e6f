package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/metrics"
	"github.com/cuongbtq/flytwo-backend/internal/notification"
	"github.com/cuongbtq/flytwo-backend/internal/realtime"
)

const (
	reportsCategory   = "Reports"
	unknownJobFailure = "Unknown error"
)

// JobStore loads and saves print job state.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	UpdateJobState(ctx context.Context, job *domain.Job) error
}

// Notifier creates user notifications for finished jobs.
type Notifier interface {
	Create(ctx context.Context, req notification.CreateRequest, creatorUserID string, creatorCompanyID *uuid.UUID) (*domain.Notification, error)
}

// Progress is the payload pushed to the acting user on every applied event.
type Progress struct {
	JobID              uuid.UUID        `json:"jobId"`
	Status             domain.JobStatus `json:"status"`
	Current            *int             `json:"current"`
	Total              *int             `json:"total"`
	Message            *string          `json:"message"`
	Percent            *int             `json:"percent"`
	OutputURL          *string          `json:"outputUrl"`
	OutputExpiresAtUTC *time.Time       `json:"outputExpiresAtUtc"`
	ErrorMessage       *string          `json:"errorMessage"`
	OccurredAtUTC      time.Time        `json:"occurredAtUtc"`
}

// Applier turns job events into job state changes, pushes and notifications.
type Applier struct {
	jobs     JobStore
	pusher   realtime.Pusher
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewApplier(jobs JobStore, pusher realtime.Pusher, notifier Notifier, logger *slog.Logger) *Applier {
	return &Applier{
		jobs:     jobs,
		pusher:   pusher,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply handles one decoded event. A missing job is not an error; the event
// is dropped. Events for a Completed or Failed job only push, so status never
// leaves a terminal state. Push and notification failures are logged, never
// returned.
func (a *Applier) Apply(ctx context.Context, ev Event) error {
	job, err := a.jobs.GetJob(ctx, ev.JobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		metrics.EventsDropped.WithLabelValues("job_not_found").Inc()
		a.logger.Debug("Dropping event for unknown job",
			slog.String("job_id", ev.JobID.String()),
			slog.String("type", string(ev.Type)),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", ev.JobID, err)
	}

	now := a.now()
	at := ev.occurredAt(now)
	actingUser := job.CreatedByUserID
	if ev.UserID != nil && strings.TrimSpace(*ev.UserID) != "" {
		actingUser = *ev.UserID
	}

	var notice *notification.CreateRequest
	changed := false

	switch ev.Type {
	case TypeProgress:
		changed = applyProgress(job, ev, now, at)
	case TypeCompleted:
		if !job.Status.IsTerminal() {
			applyCompleted(job, ev, at)
			notice = completedNotice(job)
			changed = true
		}
	case TypeFailed:
		if !job.Status.IsTerminal() {
			applyFailed(job, ev, at)
			notice = failedNotice(job)
			changed = true
		}
	default:
		return fmt.Errorf("%w: unknown type %q", domain.ErrMalformedEvent, ev.Type)
	}

	if changed {
		if err := a.jobs.UpdateJobState(ctx, job); err != nil {
			return fmt.Errorf("failed to save job %s: %w", job.ID, err)
		}
	}
	metrics.EventsProcessed.WithLabelValues(string(ev.Type)).Inc()

	a.push(ctx, actingUser, newProgress(job, ev, at))

	if notice != nil {
		notice.TargetUserID = &actingUser
		companyID := job.CompanyID
		if _, err := a.notifier.Create(ctx, *notice, actingUser, &companyID); err != nil {
			a.logger.Warn("Failed to create job notification",
				slog.String("job_id", job.ID.String()),
				slog.String("user_id", actingUser),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// applyProgress reports whether the job changed. Terminal jobs are left
// untouched so a late progress event cannot reopen them.
func applyProgress(job *domain.Job, ev Event, now, at time.Time) bool {
	if job.Status.IsTerminal() {
		return false
	}
	if job.Status == domain.JobStatusQueued {
		job.Status = domain.JobStatusProcessing
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	}
	if ev.Current != nil {
		job.ProgressCurrent = ev.Current
	}
	if ev.Total != nil {
		job.ProgressTotal = ev.Total
	}
	job.LastProgressAt = &at
	job.ErrorMessage = nil
	return true
}

func applyCompleted(job *domain.Job, ev Event, at time.Time) {
	job.Status = domain.JobStatusCompleted
	job.CompletedAt = &at
	job.ProgressCurrent = firstNonNil(ev.Total, job.ProgressTotal, ev.Current, job.ProgressCurrent)
	job.ProgressTotal = firstNonNil(ev.Total, job.ProgressTotal)
	job.LastProgressAt = &at
	job.OutputBucket = ev.OutputBucket
	job.OutputKey = ev.OutputKey
	job.OutputURL = ev.OutputURL
	job.OutputExpiresAt = ev.OutputExpiresAtUTC
	job.ErrorMessage = nil
}

func applyFailed(job *domain.Job, ev Event, at time.Time) {
	msg := unknownJobFailure
	if ev.ErrorMessage != nil {
		msg = *ev.ErrorMessage
	}
	job.Status = domain.JobStatusFailed
	job.CompletedAt = &at
	job.LastProgressAt = &at
	job.ErrorMessage = &msg
}

func completedNotice(job *domain.Job) *notification.CreateRequest {
	msg := fmt.Sprintf("Your report '%s' has completed.", job.ReportKey)
	if job.OutputURL != nil && strings.TrimSpace(*job.OutputURL) != "" {
		msg += " Download: " + *job.OutputURL
	}
	return &notification.CreateRequest{
		Scope:    domain.ScopeUser,
		Title:    "Report completed",
		Message:  msg,
		Category: ptr(reportsCategory),
		Severity: ptr(0),
	}
}

func failedNotice(job *domain.Job) *notification.CreateRequest {
	reason := unknownJobFailure
	if job.ErrorMessage != nil {
		reason = *job.ErrorMessage
	}
	return &notification.CreateRequest{
		Scope:    domain.ScopeUser,
		Title:    "Report failed",
		Message:  fmt.Sprintf("Failed to generate report '%s': %s", job.ReportKey, reason),
		Category: ptr(reportsCategory),
		Severity: ptr(2),
	}
}

func newProgress(job *domain.Job, ev Event, at time.Time) Progress {
	current := firstNonNil(ev.Current, job.ProgressCurrent)
	total := firstNonNil(ev.Total, job.ProgressTotal)
	return Progress{
		JobID:              job.ID,
		Status:             job.Status,
		Current:            current,
		Total:              total,
		Message:            ev.Message,
		Percent:            Percent(current, total),
		OutputURL:          job.OutputURL,
		OutputExpiresAtUTC: job.OutputExpiresAt,
		ErrorMessage:       job.ErrorMessage,
		OccurredAtUTC:      at,
	}
}

func (a *Applier) push(ctx context.Context, userID string, p Progress) {
	if err := a.pusher.PublishToGroup(ctx, domain.UserGroup(userID), realtime.EventJobProgress, p); err != nil {
		metrics.PushFailures.WithLabelValues(realtime.EventJobProgress).Inc()
		a.logger.Warn("Failed to push job progress",
			slog.String("job_id", p.JobID.String()),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}

// Percent is current/total as a whole percentage in [0,100], or nil when
// either side is unknown or total is not positive. Halves round to even.
func Percent(current, total *int) *int {
	if current == nil || total == nil || *total <= 0 {
		return nil
	}
	p := int(math.RoundToEven(float64(*current) * 100 / float64(*total)))
	p = max(0, min(100, p))
	return &p
}

func firstNonNil[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

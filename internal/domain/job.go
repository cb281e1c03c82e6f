package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a print job.
type JobStatus string

// Job status constants
const (
	JobStatusQueued     JobStatus = "Queued"
	JobStatusProcessing JobStatus = "Processing"
	JobStatusCompleted  JobStatus = "Completed"
	JobStatusFailed     JobStatus = "Failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobFormat is the requested output format.
type JobFormat string

const (
	JobFormatPDF  JobFormat = "pdf"
	JobFormatXLSX JobFormat = "xlsx"
)

// Valid reports whether f is a supported format.
func (f JobFormat) Valid() bool {
	return f == JobFormatPDF || f == JobFormatXLSX
}

// Report keys accepted by the print pipeline.
const (
	ReportKeyWeatherForecast = "weather-forecast"
	ReportKeyProducts        = "products"
)

// Job is a print job row. CompanyID never changes after creation.
type Job struct {
	ID              uuid.UUID `db:"id"`
	CompanyID       uuid.UUID `db:"company_id"`
	CreatedByUserID string    `db:"created_by_user_id"`
	ReportKey       string    `db:"report_key"`
	Format          JobFormat `db:"format"`
	Status          JobStatus `db:"status"`
	ParametersJSON  *string   `db:"parameters_json"`

	CreatedAt      time.Time  `db:"created_at"`
	StartedAt      *time.Time `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	LastProgressAt *time.Time `db:"last_progress_at"`

	ProgressCurrent *int `db:"progress_current"`
	ProgressTotal   *int `db:"progress_total"`

	OutputBucket    *string    `db:"output_bucket"`
	OutputKey       *string    `db:"output_key"`
	OutputURL       *string    `db:"output_url"`
	OutputExpiresAt *time.Time `db:"output_expires_at"`

	ErrorMessage *string `db:"error_message"`
}

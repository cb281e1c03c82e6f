package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/events"
)

type CreatePrintJobRequest struct {
	ReportKey  string          `json:"reportKey" binding:"required"`
	Format     string          `json:"format" binding:"required"`
	Parameters json.RawMessage `json:"parameters"`
}

type PrintJobResponse struct {
	ID                 uuid.UUID        `json:"id"`
	CompanyID          uuid.UUID        `json:"companyId"`
	CreatedByUserID    string           `json:"createdByUserId"`
	ReportKey          string           `json:"reportKey"`
	Format             domain.JobFormat `json:"format"`
	Status             domain.JobStatus `json:"status"`
	Parameters         json.RawMessage  `json:"parameters,omitempty"`
	CreatedAtUTC       time.Time        `json:"createdAtUtc"`
	StartedAtUTC       *time.Time       `json:"startedAtUtc"`
	CompletedAtUTC     *time.Time       `json:"completedAtUtc"`
	LastProgressAtUTC  *time.Time       `json:"lastProgressAtUtc"`
	ProgressCurrent    *int             `json:"progressCurrent"`
	ProgressTotal      *int             `json:"progressTotal"`
	Percent            *int             `json:"percent"`
	OutputURL          *string          `json:"outputUrl"`
	OutputExpiresAtUTC *time.Time       `json:"outputExpiresAtUtc"`
	ErrorMessage       *string          `json:"errorMessage"`
}

func NewPrintJobResponse(job *domain.Job) PrintJobResponse {
	resp := PrintJobResponse{
		ID:                 job.ID,
		CompanyID:          job.CompanyID,
		CreatedByUserID:    job.CreatedByUserID,
		ReportKey:          job.ReportKey,
		Format:             job.Format,
		Status:             job.Status,
		CreatedAtUTC:       job.CreatedAt.UTC(),
		StartedAtUTC:       utc(job.StartedAt),
		CompletedAtUTC:     utc(job.CompletedAt),
		LastProgressAtUTC:  utc(job.LastProgressAt),
		ProgressCurrent:    job.ProgressCurrent,
		ProgressTotal:      job.ProgressTotal,
		Percent:            events.Percent(job.ProgressCurrent, job.ProgressTotal),
		OutputURL:          job.OutputURL,
		OutputExpiresAtUTC: utc(job.OutputExpiresAt),
		ErrorMessage:       job.ErrorMessage,
	}
	if job.ParametersJSON != nil {
		resp.Parameters = json.RawMessage(*job.ParametersJSON)
	}
	return resp
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

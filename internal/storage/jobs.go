package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
)

const jobColumns = `
	id, company_id, created_by_user_id, report_key, format, status,
	parameters_json, created_at, started_at, completed_at, last_progress_at,
	progress_current, progress_total, output_bucket, output_key, output_url,
	output_expires_at, error_message`

// CreateJobWithOutbox inserts the job and its outbox message in one transaction.
func (s *Storage) CreateJobWithOutbox(ctx context.Context, job *domain.Job, msg *domain.OutboxMessage) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO print_jobs (
				id, company_id, created_by_user_id, report_key,
				format, status, parameters_json, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			job.ID,
			job.CompanyID,
			job.CreatedByUserID,
			job.ReportKey,
			job.Format,
			job.Status,
			job.ParametersJSON,
			job.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert print job: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox_messages (id, type, payload_json, occurred_at, attempts)
			VALUES ($1, $2, $3, $4, 0)`,
			msg.ID,
			msg.Type,
			msg.PayloadJSON,
			msg.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert outbox message: %w", err)
		}
		return nil
	})
}

func (s *Storage) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM print_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get print job: %w", err)
	}
	return &job, nil
}

// UpdateJobState writes the fields the event subscriber mutates.
func (s *Storage) UpdateJobState(ctx context.Context, job *domain.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE print_jobs SET
			status = $2,
			started_at = $3,
			completed_at = $4,
			last_progress_at = $5,
			progress_current = $6,
			progress_total = $7,
			output_bucket = $8,
			output_key = $9,
			output_url = $10,
			output_expires_at = $11,
			error_message = $12
		WHERE id = $1`,
		job.ID,
		job.Status,
		job.StartedAt,
		job.CompletedAt,
		job.LastProgressAt,
		job.ProgressCurrent,
		job.ProgressTotal,
		job.OutputBucket,
		job.OutputKey,
		job.OutputURL,
		job.OutputExpiresAt,
		job.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update print job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

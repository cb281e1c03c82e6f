package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
)

// OutboxOutcome is the result of one publish attempt.
type OutboxOutcome struct {
	ID          uuid.UUID
	Published   bool
	ProcessedAt time.Time
	LastError   string
	LockedUntil time.Time
}

// ClaimOutbox locks up to limit eligible messages until lockUntil and bumps
// their attempt counters. The update commits on return; rows are ordered
// oldest first.
func (s *Storage) ClaimOutbox(ctx context.Context, now, lockUntil time.Time, limit int) ([]domain.OutboxMessage, error) {
	var msgs []domain.OutboxMessage
	err := s.db.SelectContext(ctx, &msgs, `
		UPDATE outbox_messages SET
			locked_until = $1,
			attempts = attempts + 1,
			last_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE processed_at IS NULL
			  AND (locked_until IS NULL OR locked_until <= $2)
			ORDER BY occurred_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, payload_json, occurred_at, processed_at,
			attempts, locked_until, last_attempt_at, last_error`,
		lockUntil, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].OccurredAt.Before(msgs[j].OccurredAt)
	})
	return msgs, nil
}

// SaveOutboxOutcomes records a batch of publish results in one transaction.
// Rows already processed are left untouched.
func (s *Storage) SaveOutboxOutcomes(ctx context.Context, outcomes []OutboxOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, o := range outcomes {
			var err error
			if o.Published {
				_, err = tx.ExecContext(ctx, `
					UPDATE outbox_messages SET
						processed_at = $2,
						locked_until = NULL,
						last_error = NULL
					WHERE id = $1 AND processed_at IS NULL`,
					o.ID, o.ProcessedAt,
				)
			} else {
				_, err = tx.ExecContext(ctx, `
					UPDATE outbox_messages SET
						last_error = $2,
						locked_until = $3
					WHERE id = $1 AND processed_at IS NULL`,
					o.ID, o.LastError, o.LockedUntil,
				)
			}
			if err != nil {
				return fmt.Errorf("failed to save outbox outcome for %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

// OutboxStats counts pending, locked and processed messages.
func (s *Storage) OutboxStats(ctx context.Context, now time.Time) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) FILTER (WHERE processed_at IS NULL) AS pending,
			COUNT(*) FILTER (WHERE processed_at IS NULL AND locked_until > $1) AS locked,
			COUNT(*) FILTER (WHERE processed_at IS NOT NULL) AS processed,
			COALESCE(MAX(attempts), 0) AS max_attempts
		FROM outbox_messages`,
		now,
	)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("failed to get outbox stats: %w", err)
	}
	return stats, nil
}

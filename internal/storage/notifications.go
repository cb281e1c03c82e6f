package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
)

const notificationColumns = `
	n.id, n.scope, n.company_id, n.target_user_id, n.title, n.message,
	n.category, n.severity, n.created_at, n.created_by_user_id`

type notificationRow struct {
	ID              uuid.UUID  `db:"id"`
	Scope           string     `db:"scope"`
	CompanyID       *uuid.UUID `db:"company_id"`
	TargetUserID    *string    `db:"target_user_id"`
	Title           string     `db:"title"`
	Message         string     `db:"message"`
	Category        *string    `db:"category"`
	Severity        *int       `db:"severity"`
	CreatedAt       time.Time  `db:"created_at"`
	CreatedByUserID *string    `db:"created_by_user_id"`
}

func (r notificationRow) toDomain() (domain.Notification, error) {
	var target domain.Target
	switch domain.Scope(r.Scope) {
	case domain.ScopeSystem:
		target = domain.SystemTarget()
	case domain.ScopeCompany:
		if r.CompanyID == nil {
			return domain.Notification{}, fmt.Errorf("notification %s: company scope without company id", r.ID)
		}
		target = domain.CompanyTarget(*r.CompanyID)
	case domain.ScopeUser:
		if r.TargetUserID == nil {
			return domain.Notification{}, fmt.Errorf("notification %s: user scope without target user", r.ID)
		}
		target = domain.UserTarget(*r.TargetUserID)
	default:
		return domain.Notification{}, fmt.Errorf("notification %s: unknown scope %q", r.ID, r.Scope)
	}

	return domain.Notification{
		ID:              r.ID,
		Target:          target,
		Title:           r.Title,
		Message:         r.Message,
		Category:        r.Category,
		Severity:        r.Severity,
		CreatedAt:       r.CreatedAt,
		CreatedByUserID: r.CreatedByUserID,
	}, nil
}

type inboxRow struct {
	notificationRow
	ReadAt *time.Time `db:"read_at"`
}

// InsertNotification stores n and its eager recipient rows in one transaction
// and returns the number of recipient rows written.
func (s *Storage) InsertNotification(ctx context.Context, n *domain.Notification) (int, error) {
	var companyID *uuid.UUID
	if id, ok := n.Target.CompanyID(); ok {
		companyID = &id
	}
	var targetUserID *string
	if id, ok := n.Target.UserID(); ok {
		targetUserID = &id
	}

	recipients := 0
	err := s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (
				id, scope, company_id, target_user_id, title, message,
				category, severity, created_at, created_by_user_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			n.ID,
			string(n.Target.Scope()),
			companyID,
			targetUserID,
			n.Title,
			n.Message,
			n.Category,
			n.Severity,
			n.CreatedAt,
			n.CreatedByUserID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}

		var res sql.Result
		switch n.Target.Scope() {
		case domain.ScopeCompany:
			res, err = tx.ExecContext(ctx, `
				INSERT INTO notification_recipients (notification_id, user_id)
				SELECT $1, id FROM users WHERE company_id = $2`,
				n.ID, companyID,
			)
		case domain.ScopeUser:
			res, err = tx.ExecContext(ctx, `
				INSERT INTO notification_recipients (notification_id, user_id)
				VALUES ($1, $2)`,
				n.ID, targetUserID,
			)
		default:
			// system recipients are created lazily on first read
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert notification recipients: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		recipients = int(affected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recipients, nil
}

func (s *Storage) GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+notificationColumns+` FROM notifications n WHERE n.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	n, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Storage) GetRecipient(ctx context.Context, notificationID uuid.UUID, userID string) (*domain.Recipient, error) {
	var r domain.Recipient
	err := s.db.GetContext(ctx, &r, `
		SELECT notification_id, user_id, read_at, delivered_at
		FROM notification_recipients
		WHERE notification_id = $1 AND user_id = $2`,
		notificationID, userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification recipient: %w", err)
	}
	return &r, nil
}

// UpsertReadRecipient creates a read recipient row, or latches read_at on an
// existing one. Concurrent callers still end with exactly one row.
// delivered_at is left unset.
func (s *Storage) UpsertReadRecipient(ctx context.Context, notificationID uuid.UUID, userID string, readAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_recipients (notification_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (notification_id, user_id)
		DO UPDATE SET read_at = COALESCE(notification_recipients.read_at, EXCLUDED.read_at)`,
		notificationID, userID, readAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert notification recipient: %w", err)
	}
	return nil
}

// MarkRecipientRead sets read_at if it is still unset.
func (s *Storage) MarkRecipientRead(ctx context.Context, notificationID uuid.UUID, userID string, readAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_recipients SET read_at = $3
		WHERE notification_id = $1 AND user_id = $2 AND read_at IS NULL`,
		notificationID, userID, readAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Inbox returns one page of notifications visible to the user, newest first,
// plus the total number of matches.
func (s *Storage) Inbox(ctx context.Context, userID string, companyID uuid.UUID, q domain.InboxQuery) ([]domain.InboxItem, int, error) {
	from := `
		FROM notifications n
		LEFT JOIN notification_recipients r
			ON r.notification_id = n.id AND r.user_id = $1
		WHERE ` + visibleToReader
	args := []interface{}{userID, companyID}
	argIdx := 3

	if q.UnreadOnly {
		from += " AND r.read_at IS NULL"
	}

	if q.Severity != nil {
		from += fmt.Sprintf(" AND n.severity = $%d", argIdx)
		args = append(args, *q.Severity)
		argIdx++
	}

	if q.From != nil {
		from += fmt.Sprintf(" AND n.created_at >= $%d", argIdx)
		args = append(args, *q.From)
		argIdx++
	}

	if q.To != nil {
		from += fmt.Sprintf(" AND n.created_at <= $%d", argIdx)
		args = append(args, *q.To)
		argIdx++
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) `+from, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count inbox: %w", err)
	}

	query := `SELECT ` + notificationColumns + `, r.read_at ` + from +
		fmt.Sprintf(" ORDER BY n.created_at DESC, n.id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)

	var rows []inboxRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to read inbox: %w", err)
	}

	items := make([]domain.InboxItem, 0, len(rows))
	for _, row := range rows {
		n, err := row.toDomain()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, domain.InboxItem{Notification: n, ReadAt: row.ReadAt})
	}
	return items, total, nil
}

// MarkAllRead latches read_at on every visible unread row of the user and
// creates read rows for system notifications the user never touched.
func (s *Storage) MarkAllRead(ctx context.Context, userID string, companyID uuid.UUID, readAt time.Time) (int, error) {
	total := 0
	err := s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE notification_recipients r SET read_at = $3
			FROM notifications n
			WHERE r.notification_id = n.id
			  AND r.user_id = $1
			  AND r.read_at IS NULL
			  AND `+visibleToReader,
			userID, companyID, readAt,
		)
		if err != nil {
			return fmt.Errorf("failed to mark recipients read: %w", err)
		}
		updated, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO notification_recipients (notification_id, user_id, read_at)
			SELECT n.id, $1, $2
			FROM notifications n
			WHERE n.scope = 'System'
			  AND NOT EXISTS (
				SELECT 1 FROM notification_recipients r
				WHERE r.notification_id = n.id AND r.user_id = $1
			  )
			ON CONFLICT (notification_id, user_id) DO NOTHING`,
			userID, readAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert system read rows: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		total = int(updated + inserted)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

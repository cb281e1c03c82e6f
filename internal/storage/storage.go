package storage

import (
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/flytwo-backend/shared/postgresql"
)

// Storage is the Postgres persistence layer for jobs, the outbox,
// notifications and the read-only user and product lookups.
type Storage struct {
	pg *postgresql.Client
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		pg: pg,
		db: pg.DB(),
	}
}

// visibleToReader matches notifications visible to user $1 in company $2.
const visibleToReader = `(n.scope = 'System'
		OR (n.scope = 'Company' AND n.company_id = $2)
		OR (n.scope = 'User' AND n.target_user_id = $1))`

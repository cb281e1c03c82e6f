package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product is a catalog item reported by the products report.
type Product struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CompanyID uuid.UUID `db:"company_id" json:"-"`
	Name      string    `db:"name" json:"name"`
	Category  *string   `db:"category" json:"category,omitempty"`
	Price     float64   `db:"price" json:"price"`
	IsActive  bool      `db:"is_active" json:"isActive"`
	CreatedAt time.Time `db:"created_at" json:"createdAtUtc"`
}

// User is the minimal identity row needed for tenancy checks and fan-out.
type User struct {
	ID        string     `db:"id"`
	CompanyID *uuid.UUID `db:"company_id"`
}

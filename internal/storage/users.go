package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
)

func (s *Storage) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user, `SELECT id, company_id FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// ListProducts returns the newest products of a company for the products report.
func (s *Storage) ListProducts(ctx context.Context, companyID uuid.UUID, onlyActive bool, category *string, limit int) ([]domain.Product, error) {
	query := `
		SELECT id, company_id, name, category, price, is_active, created_at
		FROM products
		WHERE company_id = $1
	`
	args := []interface{}{companyID}
	argIdx := 2

	if onlyActive {
		query += " AND is_active = TRUE"
	}

	if category != nil && *category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, *category)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	products := []domain.Product{}
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

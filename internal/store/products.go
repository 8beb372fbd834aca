package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetProductByID retrieves a product by ID.
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves a page of active products ordered by ID.
func (s *Store) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM products WHERE is_active = TRUE"); err != nil {
		return nil, 0, err
	}

	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE is_active = TRUE ORDER BY id LIMIT $1 OFFSET $2",
		limit, offset)
	return products, total, err
}

// GetProductsByIDs retrieves multiple products by ID.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-service/internal/models"
)

// GetOwnedAddress retrieves an address only if it belongs to the given user.
func (s *Store) GetOwnedAddress(ctx context.Context, userID, addressID int64) (*models.Address, error) {
	var addr models.Address
	err := s.db.GetContext(ctx, &addr,
		"SELECT * FROM addresses WHERE id = $1 AND user_id = $2", addressID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("address %d: %w", addressID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// CreateAddress inserts a new address for a user.
func (s *Store) CreateAddress(ctx context.Context, a *models.Address) error {
	query := `
		INSERT INTO addresses (user_id, first_name, last_name, address_line1, address_line2,
			city, state, postal_code, country, phone, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		a.UserID, a.FirstName, a.LastName, a.AddressLine1, a.AddressLine2,
		a.City, a.State, a.PostalCode, a.Country, a.Phone, a.IsDefault,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// ListAddressesByUser retrieves all addresses for a user, default first.
func (s *Store) ListAddressesByUser(ctx context.Context, userID int64) ([]models.Address, error) {
	var addrs []models.Address
	err := s.db.SelectContext(ctx, &addrs,
		"SELECT * FROM addresses WHERE user_id = $1 ORDER BY is_default DESC, id", userID)
	return addrs, err
}

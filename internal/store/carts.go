package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-service/internal/models"
)

// GetOrCreateCart returns the user's cart, creating an empty one on first use.
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID)
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// ON CONFLICT keeps concurrent first requests from racing on the unique
	// user_id constraint.
	err = s.db.GetContext(ctx, &cart, `
		INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING *`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return &cart, nil
}

// GetCartWithItems loads the user's cart and its lines.
func (s *Store) GetCartWithItems(ctx context.Context, userID int64) (*models.Cart, []models.CartItem, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("cart for user %d: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	var items []models.CartItem
	if err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY id", cart.ID); err != nil {
		return nil, nil, err
	}
	return &cart, items, nil
}

// GetCartItem retrieves a single line, or ErrNotFound.
func (s *Store) GetCartItem(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM cart_items WHERE cart_id = $1 AND product_id = $2", cartID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cart item for product %d: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SetCartItem upserts a cart line at an absolute quantity and recomputes the
// cart's cached totals within the same transaction, so the totals invariant
// holds the moment the mutation commits.
func (s *Store) SetCartItem(ctx context.Context, cartID int64, item *models.CartItem) (*models.Cart, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity, price, total_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			total_price = EXCLUDED.total_price,
			updated_at = NOW()`,
		cartID, item.ProductID, item.Quantity, item.Price, item.TotalPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cart item: %w", err)
	}

	cart, err := recomputeCartTotals(ctx, tx, cartID)
	if err != nil {
		return nil, err
	}
	return cart, tx.Commit()
}

// DeleteCartItem removes a line and recomputes totals in one transaction.
func (s *Store) DeleteCartItem(ctx context.Context, cartID, productID int64) (*models.Cart, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2", cartID, productID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("cart item for product %d: %w", productID, models.ErrNotFound)
	}

	cart, err := recomputeCartTotals(ctx, tx, cartID)
	if err != nil {
		return nil, err
	}
	return cart, tx.Commit()
}

// EmptyCart deletes every line and zeroes totals in one transaction.
func (s *Store) EmptyCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return nil, err
	}

	var cart models.Cart
	err = tx.GetContext(ctx, &cart, `
		UPDATE carts SET total_amount = 0, total_items = 0, updated_at = NOW()
		WHERE id = $1
		RETURNING *`, cartID)
	if err != nil {
		return nil, err
	}
	return &cart, tx.Commit()
}

// recomputeCartTotals re-derives the cached totals from the live line set.
// Runs inside the caller's transaction.
func recomputeCartTotals(ctx context.Context, tx querierTx, cartID int64) (*models.Cart, error) {
	var cart models.Cart
	err := tx.GetContext(ctx, &cart, `
		UPDATE carts SET
			total_amount = COALESCE((SELECT SUM(total_price) FROM cart_items WHERE cart_id = $1), 0),
			total_items  = COALESCE((SELECT SUM(quantity) FROM cart_items WHERE cart_id = $1), 0),
			updated_at = NOW()
		WHERE id = $1
		RETURNING *`, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute cart totals: %w", err)
	}
	return &cart, nil
}

type querierTx interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

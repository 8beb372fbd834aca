package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-service/internal/models"
)

// GetOwnedOrder retrieves an order belonging to the given user, with its items.
func (s *Store) GetOwnedOrder(ctx context.Context, userID, orderID int64) (*models.Order, []models.OrderItem, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 AND user_id = $2", orderID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID); err != nil {
		return nil, nil, err
	}
	return &order, items, nil
}

// ListOrdersByUser retrieves a page of a user's orders, newest first,
// optionally filtered by status. Returns the page and the unfiltered total
// matching the filter.
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Order, int64, error) {
	var (
		orders []models.Order
		total  int64
	)

	if status != "" {
		err := s.db.GetContext(ctx, &total,
			"SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status = $2", userID, status)
		if err != nil {
			return nil, 0, err
		}
		err = s.db.SelectContext(ctx, &orders,
			`SELECT * FROM orders WHERE user_id = $1 AND status = $2
			 ORDER BY created_at DESC LIMIT $3 OFFSET $4`, userID, status, limit, offset)
		return orders, total, err
	}

	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM orders WHERE user_id = $1", userID); err != nil {
		return nil, 0, err
	}
	err := s.db.SelectContext(ctx, &orders,
		`SELECT * FROM orders WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	return orders, total, err
}

// OrderForUpdate loads an order with a row lock so status checks and the
// subsequent update happen under the same lock.
func (t *orderTx) OrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *orderTx) OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := t.tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

func (t *orderTx) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (order_number, user_id, status, payment_status, payment_method,
			subtotal, tax_amount, shipping_cost, total_amount, shipping_address_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query,
		o.OrderNumber, o.UserID, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.Subtotal, o.TaxAmount, o.ShippingCost, o.TotalAmount, o.ShippingAddressID, o.Notes,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (t *orderTx) InsertOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, product_image,
			quantity, price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	for i := range items {
		items[i].OrderID = orderID
		err := t.tx.QueryRowxContext(ctx, query,
			orderID, items[i].ProductID, items[i].ProductName, items[i].ProductImage,
			items[i].Quantity, items[i].Price, items[i].TotalPrice,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

// DecrementStock conditionally deducts stock. The WHERE guard makes the
// check-then-decrement a single atomic statement: when two checkouts race for
// the last unit, exactly one update matches a row. Returns false when stock
// was insufficient.
func (t *orderTx) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1, updated_at = NOW()
		 WHERE id = $2 AND stock >= $1`, qty, productID)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *orderTx) RestoreStock(ctx context.Context, productID int64, qty int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2`,
		qty, productID)
	return err
}

// SetOrderStatus writes the mutable status fields of an order.
func (t *orderTx) SetOrderStatus(ctx context.Context, o *models.Order) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, payment_status = $2, tracking_number = $3,
			delivered_at = $4, updated_at = NOW()
		 WHERE id = $5`,
		o.Status, o.PaymentStatus, o.TrackingNumber, o.DeliveredAt, o.ID)
	return err
}

func (t *orderTx) ClearCart(ctx context.Context, cartID int64) error {
	if _, err := t.tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		"UPDATE carts SET total_amount = 0, total_items = 0, updated_at = NOW() WHERE id = $1",
		cartID)
	return err
}

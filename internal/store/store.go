package store

import (
	"context"
	"fmt"
	"time"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// OrderTx is the set of storage operations available inside an order
// transaction. Checkout, cancellation and payment confirmation each run
// entirely within one OrderTx so their stock and status mutations commit
// together or not at all.
type OrderTx interface {
	OrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error)
	OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	InsertOrder(ctx context.Context, o *models.Order) error
	InsertOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error
	DecrementStock(ctx context.Context, productID int64, qty int) (bool, error)
	RestoreStock(ctx context.Context, productID int64, qty int) error
	SetOrderStatus(ctx context.Context, o *models.Order) error
	ClearCart(ctx context.Context, cartID int64) error
}

// InTx runs fn inside a single database transaction. Any error from fn rolls
// the whole transaction back.
func (s *Store) InTx(ctx context.Context, fn func(tx OrderTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&orderTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// orderTx implements OrderTx over a live sqlx transaction.
type orderTx struct {
	tx *sqlx.Tx
}

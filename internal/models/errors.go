package models

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Storage and service layers return these (or typed
// errors unwrapping to them) so the HTTP layer can map failures without
// string matching.
var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAlreadyReviewed    = errors.New("product already reviewed")
)

// StockError reports which product failed the stock check and by how much.
type StockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	if e.ProductName != "" {
		return fmt.Sprintf("insufficient stock for %q: requested %d, available %d",
			e.ProductName, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for product %d: requested %d", e.ProductID, e.Requested)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// UnavailableError reports a cart line whose product has been deactivated.
type UnavailableError struct {
	ProductID   int64
	ProductName string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("product %q is no longer available", e.ProductName)
}

func (e *UnavailableError) Unwrap() error { return ErrProductUnavailable }

// TransitionError reports an illegal order status change.
type TransitionError struct {
	OrderID int64
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %d cannot transition from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

package service

import (
	"context"
	"errors"
	"fmt"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// CartStore is the storage surface the cart workflow needs. Every mutation
// commits the line change and the totals recompute in one transaction.
type CartStore interface {
	GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartWithItems(ctx context.Context, userID int64) (*models.Cart, []models.CartItem, error)
	GetCartItem(ctx context.Context, cartID, productID int64) (*models.CartItem, error)
	SetCartItem(ctx context.Context, cartID int64, item *models.CartItem) (*models.Cart, error)
	DeleteCartItem(ctx context.Context, cartID, productID int64) (*models.Cart, error)
	EmptyCart(ctx context.Context, cartID int64) (*models.Cart, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
}

// CartService handles the per-user basket.
type CartService struct {
	store  CartStore
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store CartStore) *CartService {
	return &CartService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// CartView is a cart together with its lines.
type CartView struct {
	Cart  *models.Cart      `json:"cart"`
	Items []models.CartItem `json:"items"`
}

// GetCart returns the user's cart, creating an empty one on first use.
func (s *CartService) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	if _, err := s.store.GetOrCreateCart(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return s.view(ctx, userID)
}

// AddItem adds quantity of a product to the cart, snapshotting the current
// product price for new lines. The cumulative line quantity is checked
// against current stock.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1")
	}

	product, err := s.activeProduct(ctx, productID)
	if err != nil {
		util.CartMutationsFailedTotal.WithLabelValues("product_unavailable").Inc()
		return nil, err
	}

	cart, err := s.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	newQuantity := quantity
	price := product.Price
	existing, err := s.store.GetCartItem(ctx, cart.ID, productID)
	switch {
	case err == nil:
		// Keep the original add-time price snapshot when topping up a line.
		newQuantity = existing.Quantity + quantity
		price = existing.Price
	case errors.Is(err, models.ErrNotFound):
	default:
		return nil, err
	}

	if newQuantity > product.Stock {
		util.CartMutationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, &models.StockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   newQuantity,
			Available:   product.Stock,
		}
	}

	item := &models.CartItem{
		CartID:     cart.ID,
		ProductID:  productID,
		Quantity:   newQuantity,
		Price:      price,
		TotalPrice: price * int64(newQuantity),
	}
	if _, err := s.store.SetCartItem(ctx, cart.ID, item); err != nil {
		return nil, fmt.Errorf("failed to save cart item: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("add").Inc()
	s.logger.Info("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", newQuantity))

	return s.view(ctx, userID)
}

// UpdateItem sets the absolute quantity of an existing line.
func (s *CartService) UpdateItem(ctx context.Context, userID, productID int64, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem")
	defer span.End()

	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1")
	}

	cart, _, err := s.store.GetCartWithItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetCartItem(ctx, cart.ID, productID)
	if err != nil {
		return nil, err
	}

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if quantity > product.Stock {
		util.CartMutationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, &models.StockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   quantity,
			Available:   product.Stock,
		}
	}

	item := &models.CartItem{
		CartID:     cart.ID,
		ProductID:  productID,
		Quantity:   quantity,
		Price:      existing.Price,
		TotalPrice: existing.Price * int64(quantity),
	}
	if _, err := s.store.SetCartItem(ctx, cart.ID, item); err != nil {
		return nil, fmt.Errorf("failed to save cart item: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("update").Inc()
	return s.view(ctx, userID)
}

// RemoveItem deletes one line from the cart.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	cart, _, err := s.store.GetCartWithItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.DeleteCartItem(ctx, cart.ID, productID); err != nil {
		return nil, err
	}

	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	return s.view(ctx, userID)
}

// Clear removes every line and zeroes the cached totals.
func (s *CartService) Clear(ctx context.Context, userID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	cart, _, err := s.store.GetCartWithItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.EmptyCart(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("clear").Inc()
	return s.view(ctx, userID)
}

func (s *CartService) view(ctx context.Context, userID int64) (*CartView, error) {
	cart, items, err := s.store.GetCartWithItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.CartItem{}
	}
	return &CartView{Cart: cart, Items: items}, nil
}

func (s *CartService) activeProduct(ctx context.Context, productID int64) (*models.Product, error) {
	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		// Inactive products are invisible to the cart.
		return nil, fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	return product, nil
}

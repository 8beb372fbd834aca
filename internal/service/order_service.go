package service

import (
	"context"
	"fmt"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the storage surface the order workflow needs. InTx gives the
// workflow a single transaction covering order insert, stock mutation and
// cart clear, so checkout is all-or-nothing.
type OrderStore interface {
	GetOwnedAddress(ctx context.Context, userID, addressID int64) (*models.Address, error)
	GetCartWithItems(ctx context.Context, userID int64) (*models.Cart, []models.CartItem, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetOwnedOrder(ctx context.Context, userID, orderID int64) (*models.Order, []models.OrderItem, error)
	ListOrdersByUser(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Order, int64, error)
	InTx(ctx context.Context, fn func(tx store.OrderTx) error) error
}

// EventPublisher publishes order lifecycle events.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// ProductCache is a read-through cache over catalog entries. Implementations
// must treat a miss as (nil, nil).
type ProductCache interface {
	Get(ctx context.Context, productID int64) (*models.Product, error)
	Set(ctx context.Context, product *models.Product) error
	Invalidate(ctx context.Context, productID int64) error
}

// IdempotencyCache short-circuits duplicate checkout submissions carrying the
// same Idempotency-Key.
type IdempotencyCache interface {
	GetOrderID(ctx context.Context, key string) (int64, bool, error)
	SaveOrderID(ctx context.Context, key string, orderID int64) error
}

// OrderService owns the cart-to-order workflow.
type OrderService struct {
	store       OrderStore
	publisher   EventPublisher
	cache       ProductCache
	idempotency IdempotencyCache
	pricing     PricingPolicy
	logger      *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	store OrderStore,
	publisher EventPublisher,
	cache ProductCache,
	idempotency IdempotencyCache,
	pricing PricingPolicy,
) *OrderService {
	return &OrderService{
		store:       store,
		publisher:   publisher,
		cache:       cache,
		idempotency: idempotency,
		pricing:     pricing,
		logger:      util.GetLogger(),
	}
}

// PlaceOrderRequest carries checkout input.
type PlaceOrderRequest struct {
	UserID            int64
	ShippingAddressID int64
	PaymentMethod     string
	Notes             string
	IdempotencyKey    string
}

// OrderView is an order together with its item snapshots.
type OrderView struct {
	Order *models.Order      `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// PlaceOrder converts the user's cart into an order. Validation, totals,
// order and item inserts, the conditional stock decrements and the cart clear
// all commit in one transaction; the deferred payment confirmation is handed
// to the broker after commit.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if req.IdempotencyKey != "" {
		orderID, found, err := s.idempotency.GetOrderID(ctx, req.IdempotencyKey)
		if err != nil {
			s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		} else if found {
			s.logger.Info("Duplicate checkout request",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", orderID))
			order, items, err := s.store.GetOwnedOrder(ctx, req.UserID, orderID)
			if err != nil {
				return nil, err
			}
			return &OrderView{Order: order, Items: items}, nil
		}
	}

	address, err := s.store.GetOwnedAddress(ctx, req.UserID, req.ShippingAddressID)
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues("address_not_found").Inc()
		return nil, err
	}

	cart, lines, err := s.store.GetCartWithItems(ctx, req.UserID)
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues("cart_not_found").Inc()
		return nil, err
	}
	if len(lines) == 0 {
		util.CheckoutFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, models.ErrEmptyCart
	}

	products, err := s.loadLineProducts(ctx, lines)
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	var subtotal int64
	orderItems := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product := products[line.ProductID]
		subtotal += line.TotalPrice
		orderItems = append(orderItems, models.OrderItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductImage: product.ImageURL,
			Quantity:     line.Quantity,
			Price:        line.Price,
			TotalPrice:   line.TotalPrice,
		})
	}

	tax, shipping, total := s.pricing.Totals(subtotal)

	order := &models.Order{
		OrderNumber:       newOrderNumber(),
		UserID:            req.UserID,
		Status:            models.OrderStatusPending,
		PaymentStatus:     models.PaymentStatusPending,
		PaymentMethod:     req.PaymentMethod,
		Subtotal:          subtotal,
		TaxAmount:         tax,
		ShippingCost:      shipping,
		TotalAmount:       total,
		ShippingAddressID: address.ID,
		Notes:             req.Notes,
	}

	err = s.store.InTx(ctx, func(tx store.OrderTx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if err := tx.InsertOrderItems(ctx, order.ID, orderItems); err != nil {
			return err
		}
		for _, line := range lines {
			ok, err := tx.DecrementStock(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				product := products[line.ProductID]
				return &models.StockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   line.Quantity,
					Available:   product.Stock,
				}
			}
		}
		return tx.ClearCart(ctx, cart.ID)
	})
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues("transaction").Inc()
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total_amount", order.TotalAmount))

	if req.IdempotencyKey != "" {
		if err := s.idempotency.SaveOrderID(ctx, req.IdempotencyKey, order.ID); err != nil {
			s.logger.Warn("Failed to save idempotency key", zap.Error(err))
		}
	}

	s.invalidateProducts(ctx, orderItems)
	s.publishOrderPlaced(ctx, order, orderItems)

	return &OrderView{Order: order, Items: orderItems}, nil
}

// GetOrder retrieves one of the user's orders with its items.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*OrderView, error) {
	order, items, err := s.store.GetOwnedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: order, Items: items}, nil
}

// ListOrders returns a page of the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID int64, status string, page, limit int) ([]models.Order, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	orders, total, err := s.store.ListOrdersByUser(ctx, userID, status, limit, (page-1)*limit)
	if err != nil {
		return nil, nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return orders, &models.Pagination{
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalItems:   total,
		ItemsPerPage: limit,
	}, nil
}

// CancelOrder cancels a pending or confirmed order, restoring each item's
// stock exactly once. Cancelling an already-cancelled order is a no-op that
// returns the order as-is, so retries never double-credit stock.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID int64) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	var (
		order     *models.Order
		items     []models.OrderItem
		cancelled bool
	)
	err := s.store.InTx(ctx, func(tx store.OrderTx) error {
		var err error
		order, err = tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
		}

		items, err = tx.OrderItems(ctx, orderID)
		if err != nil {
			return err
		}

		if order.Status == models.OrderStatusCancelled {
			// Retried cancel: stock was already restored.
			return nil
		}
		if !models.OrderCancellable(order.Status) {
			return &models.TransitionError{
				OrderID: orderID,
				From:    order.Status,
				To:      models.OrderStatusCancelled,
			}
		}

		cancelled = true
		return s.cancelInTx(ctx, tx, order, items)
	})
	if err != nil {
		return nil, err
	}

	if cancelled {
		util.OrdersCancelledTotal.Inc()
		s.logger.Info("Order cancelled",
			zap.Int64("order_id", order.ID),
			zap.String("payment_status", order.PaymentStatus))
		s.invalidateProducts(ctx, items)
		s.publishOrderCancelled(ctx, order, "cancelled by customer")
	}

	return &OrderView{Order: order, Items: items}, nil
}

// UpdateStatus applies an admin status change, validated against the order
// state machine. Delivery additionally requires a settled payment.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, newStatus, trackingNumber string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	var (
		order *models.Order
		items []models.OrderItem
	)
	err := s.store.InTx(ctx, func(tx store.OrderTx) error {
		var err error
		order, err = tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		items, err = tx.OrderItems(ctx, orderID)
		if err != nil {
			return err
		}

		if !models.CanTransitionOrder(order.Status, newStatus) {
			return &models.TransitionError{OrderID: orderID, From: order.Status, To: newStatus}
		}
		if newStatus == models.OrderStatusDelivered && order.PaymentStatus != models.PaymentStatusPaid {
			// An order cannot be delivered while its payment is unsettled.
			return &models.TransitionError{OrderID: orderID, From: order.Status, To: newStatus}
		}

		if newStatus == models.OrderStatusCancelled {
			return s.cancelInTx(ctx, tx, order, items)
		}

		order.Status = newStatus
		if trackingNumber != "" {
			order.TrackingNumber = trackingNumber
		}
		if newStatus == models.OrderStatusDelivered {
			now := time.Now()
			order.DeliveredAt = &now
		}
		return tx.SetOrderStatus(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	if newStatus == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
		s.invalidateProducts(ctx, items)
		s.publishOrderCancelled(ctx, order, "cancelled by admin")
	}

	return &OrderView{Order: order, Items: items}, nil
}

// cancelInTx restores each item's stock and flips the status fields. Runs
// inside the caller's transaction; order must hold the row lock.
func (s *OrderService) cancelInTx(ctx context.Context, tx store.OrderTx, order *models.Order, items []models.OrderItem) error {
	for _, item := range items {
		if err := tx.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("failed to restore stock for product %d: %w", item.ProductID, err)
		}
	}

	order.Status = models.OrderStatusCancelled
	switch {
	case models.CanTransitionPayment(order.PaymentStatus, models.PaymentStatusRefunded):
		order.PaymentStatus = models.PaymentStatusRefunded
	case models.CanTransitionPayment(order.PaymentStatus, models.PaymentStatusCancelled):
		order.PaymentStatus = models.PaymentStatusCancelled
	}
	return tx.SetOrderStatus(ctx, order)
}

func (s *OrderService) loadLineProducts(ctx context.Context, lines []models.CartItem) (map[int64]*models.Product, error) {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	for _, line := range lines {
		product, ok := byID[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", line.ProductID, models.ErrNotFound)
		}
		if !product.IsActive {
			return nil, &models.UnavailableError{ProductID: product.ID, ProductName: product.Name}
		}
		if product.Stock < line.Quantity {
			return nil, &models.StockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   line.Quantity,
				Available:   product.Stock,
			}
		}
	}
	return byID, nil
}

func (s *OrderService) invalidateProducts(ctx context.Context, items []models.OrderItem) {
	for _, item := range items {
		if err := s.cache.Invalidate(ctx, item.ProductID); err != nil {
			s.logger.Warn("Failed to invalidate product cache",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
		}
	}
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order, items []models.OrderItem) {
	eventItems := make([]models.OrderItemData, len(items))
	for i, item := range items {
		eventItems[i] = models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		}
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Items:       eventItems,
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

func (s *OrderService) publishOrderCancelled(ctx context.Context, order *models.Order, reason string) {
	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentStatus: order.PaymentStatus,
		Reason:        reason,
	}
	if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
}

// newOrderNumber returns the human-facing order identifier. UUIDs keep it
// collision-free under concurrent checkout.
func newOrderNumber() string {
	return fmt.Sprintf("ORD-%s", uuid.New().String())
}

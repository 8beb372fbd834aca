package models

import "time"

// Event types
const (
	EventTypeOrderPlaced    = "ORDER_PLACED"
	EventTypeOrderConfirmed = "ORDER_CONFIRMED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent is published when checkout commits. The payment worker
// consumes it to drive the deferred payment confirmation.
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderConfirmedEvent is published once payment is confirmed and the order
// moves to confirmed.
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	UserID         int64  `json:"user_id"`
	TrackingNumber string `json:"tracking_number"`
}

// OrderCancelledEvent is published when an order is cancelled and its stock
// restored.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	PaymentStatus string `json:"payment_status"`
	Reason        string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

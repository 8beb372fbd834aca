package models

import "time"

// Product is a catalog entry. Price is in cents. Stock is the count of
// sellable units and must never go negative.
type Product struct {
	ID            int64     `db:"id" json:"id"`
	SKU           string    `db:"sku" json:"sku"`
	Name          string    `db:"name" json:"name"`
	Description   string    `db:"description" json:"description"`
	ImageURL      string    `db:"image_url" json:"image_url,omitempty"`
	Price         int64     `db:"price" json:"price"`
	Stock         int       `db:"stock" json:"stock"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	AverageRating float64   `db:"average_rating" json:"average_rating"`
	ReviewCount   int       `db:"review_count" json:"review_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Cart is a per-user basket. TotalAmount and TotalItems are derived from the
// cart's lines and are recomputed in the same transaction as every line
// mutation.
type Cart struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	TotalAmount int64     `db:"total_amount" json:"total_amount"`
	TotalItems  int       `db:"total_items" json:"total_items"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CartItem is one (product, quantity) line in a cart. Price is a snapshot of
// the product price taken when the line was added, not the live price.
type CartItem struct {
	ID         int64     `db:"id" json:"id"`
	CartID     int64     `db:"cart_id" json:"cart_id"`
	ProductID  int64     `db:"product_id" json:"product_id"`
	Quantity   int       `db:"quantity" json:"quantity"`
	Price      int64     `db:"price" json:"price"`
	TotalPrice int64     `db:"total_price" json:"total_price"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Order is immutable once created except for its status fields. The money
// columns are fixed at checkout and never change, regardless of later cart
// or catalog edits.
type Order struct {
	ID                int64      `db:"id" json:"id"`
	OrderNumber       string     `db:"order_number" json:"order_number"`
	UserID            int64      `db:"user_id" json:"user_id"`
	Status            string     `db:"status" json:"status"`
	PaymentStatus     string     `db:"payment_status" json:"payment_status"`
	PaymentMethod     string     `db:"payment_method" json:"payment_method"`
	Subtotal          int64      `db:"subtotal" json:"subtotal"`
	TaxAmount         int64      `db:"tax_amount" json:"tax_amount"`
	ShippingCost      int64      `db:"shipping_cost" json:"shipping_cost"`
	TotalAmount       int64      `db:"total_amount" json:"total_amount"`
	ShippingAddressID int64      `db:"shipping_address_id" json:"shipping_address_id"`
	Notes             string     `db:"notes" json:"notes,omitempty"`
	TrackingNumber    string     `db:"tracking_number" json:"tracking_number,omitempty"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// OrderItem is an immutable snapshot of a purchased line. Product name and
// image are copied at order time so later catalog edits cannot corrupt
// order history.
type OrderItem struct {
	ID           int64  `db:"id" json:"id"`
	OrderID      int64  `db:"order_id" json:"order_id"`
	ProductID    int64  `db:"product_id" json:"product_id"`
	ProductName  string `db:"product_name" json:"product_name"`
	ProductImage string `db:"product_image" json:"product_image,omitempty"`
	Quantity     int    `db:"quantity" json:"quantity"`
	Price        int64  `db:"price" json:"price"`
	TotalPrice   int64  `db:"total_price" json:"total_price"`
}

// Review is a (user, product) unique rating 1..5. The product's aggregate
// rating is recomputed from the approved review set, never maintained
// incrementally.
type Review struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	ProductID  int64     `db:"product_id" json:"product_id"`
	Rating     int       `db:"rating" json:"rating"`
	Title      string    `db:"title" json:"title,omitempty"`
	Comment    string    `db:"comment" json:"comment"`
	IsApproved bool      `db:"is_approved" json:"is_approved"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Address is a shipping address owned by a user.
type Address struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	AddressLine1 string    `db:"address_line1" json:"address_line1"`
	AddressLine2 string    `db:"address_line2" json:"address_line2,omitempty"`
	City         string    `db:"city" json:"city"`
	State        string    `db:"state" json:"state"`
	PostalCode   string    `db:"postal_code" json:"postal_code"`
	Country      string    `db:"country" json:"country"`
	Phone        string    `db:"phone" json:"phone,omitempty"`
	IsDefault    bool      `db:"is_default" json:"is_default"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent records a consumed broker event for idempotency.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Pagination describes a page of a list response.
type Pagination struct {
	CurrentPage  int   `json:"current_page"`
	TotalPages   int   `json:"total_pages"`
	TotalItems   int64 `json:"total_items"`
	ItemsPerPage int   `json:"items_per_page"`
}

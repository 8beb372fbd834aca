package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"
)

// memStore is an in-memory stand-in for the sqlx store. InTx holds the store
// mutex for the whole callback and rolls back to a snapshot on error, giving
// the same serializable, all-or-nothing semantics the service relies on.
type memStore struct {
	mu         sync.Mutex
	products   map[int64]*models.Product
	carts      map[int64]*models.Cart
	cartByUser map[int64]int64
	cartItems  map[int64][]models.CartItem // keyed by cart ID
	orders     map[int64]*models.Order
	orderItems map[int64][]models.OrderItem
	addresses  map[int64]*models.Address
	reviews    map[int64]*models.Review
	processed  map[string]string
	nextID     int64

	failOn string // tx operation that returns an injected error
}

func newMemStore() *memStore {
	return &memStore{
		products:   make(map[int64]*models.Product),
		carts:      make(map[int64]*models.Cart),
		cartByUser: make(map[int64]int64),
		cartItems:  make(map[int64][]models.CartItem),
		orders:     make(map[int64]*models.Order),
		orderItems: make(map[int64][]models.OrderItem),
		addresses:  make(map[int64]*models.Address),
		reviews:    make(map[int64]*models.Review),
		processed:  make(map[string]string),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

// --- seeding helpers ---

func (s *memStore) seedProduct(price int64, stock int, active bool) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	p := &models.Product{
		ID:       id,
		SKU:      fmt.Sprintf("SKU-%d", id),
		Name:     fmt.Sprintf("Product %d", id),
		ImageURL: fmt.Sprintf("https://img.example/%d.jpg", id),
		Price:    price,
		Stock:    stock,
		IsActive: active,
	}
	s.products[id] = p
	return p
}

func (s *memStore) seedAddress(userID int64) *models.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &models.Address{
		ID:           s.id(),
		UserID:       userID,
		FirstName:    "Ada",
		LastName:     "Lovelace",
		AddressLine1: "1 Main St",
		City:         "Springfield",
		State:        "IL",
		PostalCode:   "62701",
		Country:      "United States",
	}
	s.addresses[a.ID] = a
	return a
}

func (s *memStore) productStock(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].Stock
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// --- CartStore ---

func (s *memStore) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cartID, ok := s.cartByUser[userID]; ok {
		c := *s.carts[cartID]
		return &c, nil
	}
	cart := &models.Cart{ID: s.id(), UserID: userID, CreatedAt: time.Now()}
	s.carts[cart.ID] = cart
	s.cartByUser[userID] = cart.ID
	c := *cart
	return &c, nil
}

func (s *memStore) GetCartWithItems(ctx context.Context, userID int64) (*models.Cart, []models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cartID, ok := s.cartByUser[userID]
	if !ok {
		return nil, nil, fmt.Errorf("cart for user %d: %w", userID, models.ErrNotFound)
	}
	c := *s.carts[cartID]
	items := append([]models.CartItem(nil), s.cartItems[cartID]...)
	return &c, items, nil
}

func (s *memStore) GetCartItem(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.cartItems[cartID] {
		if item.ProductID == productID {
			it := item
			return &it, nil
		}
	}
	return nil, fmt.Errorf("cart item for product %d: %w", productID, models.ErrNotFound)
}

func (s *memStore) SetCartItem(ctx context.Context, cartID int64, item *models.CartItem) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.cartItems[cartID]
	replaced := false
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i].Quantity = item.Quantity
			items[i].TotalPrice = item.TotalPrice
			replaced = true
			break
		}
	}
	if !replaced {
		line := *item
		line.ID = s.id()
		line.CartID = cartID
		items = append(items, line)
	}
	s.cartItems[cartID] = items
	return s.recomputeTotalsLocked(cartID), nil
}

func (s *memStore) DeleteCartItem(ctx context.Context, cartID, productID int64) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.cartItems[cartID]
	for i := range items {
		if items[i].ProductID == productID {
			s.cartItems[cartID] = append(items[:i:i], items[i+1:]...)
			return s.recomputeTotalsLocked(cartID), nil
		}
	}
	return nil, fmt.Errorf("cart item for product %d: %w", productID, models.ErrNotFound)
}

func (s *memStore) EmptyCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartItems[cartID] = nil
	return s.recomputeTotalsLocked(cartID), nil
}

func (s *memStore) recomputeTotalsLocked(cartID int64) *models.Cart {
	cart := s.carts[cartID]
	cart.TotalAmount = 0
	cart.TotalItems = 0
	for _, item := range s.cartItems[cartID] {
		cart.TotalAmount += item.TotalPrice
		cart.TotalItems += item.Quantity
	}
	c := *cart
	return &c
}

// --- CatalogStore / product reads ---

func (s *memStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Product
	for _, p := range s.products {
		if p.IsActive {
			all = append(all, *p)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return []models.Product{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *memStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

// --- AddressStore / OrderStore reads ---

func (s *memStore) GetOwnedAddress(ctx context.Context, userID, addressID int64) (*models.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok || a.UserID != userID {
		return nil, fmt.Errorf("address %d: %w", addressID, models.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) CreateAddress(ctx context.Context, a *models.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	cp := *a
	s.addresses[a.ID] = &cp
	return nil
}

func (s *memStore) ListAddressesByUser(ctx context.Context, userID int64) ([]models.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Address
	for _, a := range s.addresses {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memStore) GetOwnedOrder(ctx context.Context, userID, orderID int64) (*models.Order, []models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	cp := *o
	items := append([]models.OrderItem(nil), s.orderItems[orderID]...)
	return &cp, items, nil
}

func (s *memStore) ListOrdersByUser(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Order
	for _, o := range s.orders {
		if o.UserID == userID && (status == "" || o.Status == status) {
			all = append(all, *o)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// --- ReviewStore ---

func (s *memStore) GetOwnedReview(ctx context.Context, userID, reviewID int64) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[reviewID]
	if !ok || r.UserID != userID {
		return nil, fmt.Errorf("review %d: %w", reviewID, models.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) GetReviewByID(ctx context.Context, reviewID int64) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return nil, fmt.Errorf("review %d: %w", reviewID, models.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// --- PaymentStore ---

func (s *memStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *memStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = eventType
	return nil
}

// --- transactional unit of work ---

type memSnapshot struct {
	products   map[int64]*models.Product
	carts      map[int64]*models.Cart
	cartItems  map[int64][]models.CartItem
	orders     map[int64]*models.Order
	orderItems map[int64][]models.OrderItem
	reviews    map[int64]*models.Review
	nextID     int64
}

func (s *memStore) snapshotLocked() *memSnapshot {
	snap := &memSnapshot{
		products:   make(map[int64]*models.Product, len(s.products)),
		carts:      make(map[int64]*models.Cart, len(s.carts)),
		cartItems:  make(map[int64][]models.CartItem, len(s.cartItems)),
		orders:     make(map[int64]*models.Order, len(s.orders)),
		orderItems: make(map[int64][]models.OrderItem, len(s.orderItems)),
		reviews:    make(map[int64]*models.Review, len(s.reviews)),
		nextID:     s.nextID,
	}
	for k, v := range s.products {
		cp := *v
		snap.products[k] = &cp
	}
	for k, v := range s.carts {
		cp := *v
		snap.carts[k] = &cp
	}
	for k, v := range s.cartItems {
		snap.cartItems[k] = append([]models.CartItem(nil), v...)
	}
	for k, v := range s.orders {
		cp := *v
		snap.orders[k] = &cp
	}
	for k, v := range s.orderItems {
		snap.orderItems[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range s.reviews {
		cp := *v
		snap.reviews[k] = &cp
	}
	return snap
}

func (s *memStore) restoreLocked(snap *memSnapshot) {
	s.products = snap.products
	s.carts = snap.carts
	s.cartItems = snap.cartItems
	s.orders = snap.orders
	s.orderItems = snap.orderItems
	s.reviews = snap.reviews
	s.nextID = snap.nextID
}

// InTx serializes transactions behind the store mutex and restores the
// pre-transaction snapshot when fn fails.
func (s *memStore) InTx(ctx context.Context, fn func(tx store.OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	if err := fn(&memTx{s: s}); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

func (s *memStore) injectFail(op string) error {
	if s.failOn == op {
		return fmt.Errorf("injected %s failure", op)
	}
	return nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) fail(op string) error {
	return t.s.injectFail(op)
}

func (t *memTx) OrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (t *memTx) OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return append([]models.OrderItem(nil), t.s.orderItems[orderID]...), nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *models.Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	o.ID = t.s.id()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	t.s.orders[o.ID] = &cp
	return nil
}

func (t *memTx) InsertOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error {
	if err := t.fail("InsertOrderItems"); err != nil {
		return err
	}
	for i := range items {
		items[i].ID = t.s.id()
		items[i].OrderID = orderID
	}
	t.s.orderItems[orderID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	if err := t.fail("DecrementStock"); err != nil {
		return false, err
	}
	p, ok := t.s.products[productID]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	return true, nil
}

func (t *memTx) RestoreStock(ctx context.Context, productID int64, qty int) error {
	if err := t.fail("RestoreStock"); err != nil {
		return err
	}
	p, ok := t.s.products[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	p.Stock += qty
	return nil
}

func (t *memTx) SetOrderStatus(ctx context.Context, o *models.Order) error {
	if err := t.fail("SetOrderStatus"); err != nil {
		return err
	}
	stored, ok := t.s.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", o.ID, models.ErrNotFound)
	}
	stored.Status = o.Status
	stored.PaymentStatus = o.PaymentStatus
	stored.TrackingNumber = o.TrackingNumber
	stored.DeliveredAt = o.DeliveredAt
	return nil
}

func (t *memTx) ClearCart(ctx context.Context, cartID int64) error {
	if err := t.fail("ClearCart"); err != nil {
		return err
	}
	t.s.cartItems[cartID] = nil
	t.s.recomputeTotalsLocked(cartID)
	return nil
}

// InReviewTx mirrors InTx for the review unit of work.
func (s *memStore) InReviewTx(ctx context.Context, fn func(tx store.ReviewTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	if err := fn(&memReviewTx{s: s}); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

type memReviewTx struct {
	s *memStore
}

func (t *memReviewTx) fail(op string) error {
	return t.s.injectFail(op)
}

func (t *memReviewTx) InsertReview(ctx context.Context, r *models.Review) error {
	if err := t.fail("InsertReview"); err != nil {
		return err
	}
	for _, existing := range t.s.reviews {
		if existing.UserID == r.UserID && existing.ProductID == r.ProductID {
			return models.ErrAlreadyReviewed
		}
	}
	r.ID = t.s.nextID
	t.s.nextID++
	cp := *r
	t.s.reviews[r.ID] = &cp
	return nil
}

func (t *memReviewTx) UpdateReview(ctx context.Context, r *models.Review) error {
	if err := t.fail("UpdateReview"); err != nil {
		return err
	}
	stored, ok := t.s.reviews[r.ID]
	if !ok {
		return fmt.Errorf("review %d: %w", r.ID, models.ErrNotFound)
	}
	stored.Rating = r.Rating
	stored.Title = r.Title
	stored.Comment = r.Comment
	return nil
}

func (t *memReviewTx) DeleteReview(ctx context.Context, userID, reviewID int64) error {
	if err := t.fail("DeleteReview"); err != nil {
		return err
	}
	r, ok := t.s.reviews[reviewID]
	if !ok || r.UserID != userID {
		return fmt.Errorf("review %d: %w", reviewID, models.ErrNotFound)
	}
	delete(t.s.reviews, reviewID)
	return nil
}

func (t *memReviewTx) SetReviewApproval(ctx context.Context, reviewID int64, approved bool) error {
	if err := t.fail("SetReviewApproval"); err != nil {
		return err
	}
	r, ok := t.s.reviews[reviewID]
	if !ok {
		return fmt.Errorf("review %d: %w", reviewID, models.ErrNotFound)
	}
	r.IsApproved = approved
	return nil
}

func (t *memReviewTx) ListApprovedRatings(ctx context.Context, productID int64) ([]int, error) {
	if err := t.fail("ListApprovedRatings"); err != nil {
		return nil, err
	}
	var ratings []int
	for _, r := range t.s.reviews {
		if r.ProductID == productID && r.IsApproved {
			ratings = append(ratings, r.Rating)
		}
	}
	return ratings, nil
}

func (t *memReviewTx) SetProductRating(ctx context.Context, productID int64, average float64, count int) error {
	if err := t.fail("SetProductRating"); err != nil {
		return err
	}
	p, ok := t.s.products[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	p.AverageRating = average
	p.ReviewCount = count
	return nil
}

// --- collaborator fakes ---

type fakePublisher struct {
	mu        sync.Mutex
	placed    []*models.OrderPlacedEvent
	confirmed []*models.OrderConfirmedEvent
	cancelled []*models.OrderCancelledEvent
}

func (p *fakePublisher) PublishOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return nil
}

func (p *fakePublisher) PublishOrderConfirmed(ctx context.Context, e *models.OrderConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, e)
	return nil
}

func (p *fakePublisher) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[int64]*models.Product
	invalidated []int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[int64]*models.Product)}
}

func (c *fakeCache) Get(ctx context.Context, productID int64) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[productID], nil
}

func (c *fakeCache) Set(ctx context.Context, product *models.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[product.ID] = product
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
	c.invalidated = append(c.invalidated, productID)
	return nil
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]int64
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]int64)}
}

func (f *fakeIdempotency) GetOrderID(ctx context.Context, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.keys[key]
	return id, ok, nil
}

func (f *fakeIdempotency) SaveOrderID(ctx context.Context, key string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = orderID
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	deny bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

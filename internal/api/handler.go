package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/service"
	"shop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const userIDKey = "userID"

// Handler contains HTTP handlers
type Handler struct {
	cart      *service.CartService
	orders    *service.OrderService
	catalog   *service.CatalogService
	reviews   *service.ReviewService
	addresses *service.AddressService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	cart *service.CartService,
	orders *service.OrderService,
	catalog *service.CatalogService,
	reviews *service.ReviewService,
	addresses *service.AddressService,
) *Handler {
	return &Handler{
		cart:      cart,
		orders:    orders,
		catalog:   catalog,
		reviews:   reviews,
		addresses: addresses,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	v1.GET("/products", h.listProducts)
	v1.GET("/products/:id", h.getProduct)

	authed := v1.Group("")
	authed.Use(identityMiddleware())
	{
		authed.GET("/cart", h.getCart)
		authed.POST("/cart/items", h.addCartItem)
		authed.PUT("/cart/items/:productID", h.updateCartItem)
		authed.DELETE("/cart/items/:productID", h.removeCartItem)
		authed.DELETE("/cart", h.clearCart)

		authed.POST("/orders", h.placeOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)

		authed.GET("/addresses", h.listAddresses)
		authed.POST("/addresses", h.createAddress)

		authed.POST("/products/:id/reviews", h.createReview)
		authed.PUT("/reviews/:id", h.updateReview)
		authed.DELETE("/reviews/:id", h.deleteReview)
	}

	admin := v1.Group("")
	admin.Use(identityMiddleware(), adminMiddleware())
	{
		admin.PUT("/orders/:id/status", h.updateOrderStatus)
		admin.PUT("/reviews/:id/approval", h.setReviewApproval)
	}
}

// identityMiddleware resolves the authenticated user. Authentication itself
// is owned by an upstream gateway; the identity it forwards is trusted as
// given.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-User-Role") != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// --- catalog ---

func (h *Handler) listProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	products, pagination, err := h.catalog.ListProducts(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "pagination": pagination})
}

func (h *Handler) getProduct(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

// --- cart ---

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.cart.GetCart(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.cart.AddItem(c.Request.Context(), currentUserID(c), req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}
	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.cart.UpdateItem(c.Request.Context(), currentUserID(c), productID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}

	view, err := h.cart.RemoveItem(c.Request.Context(), currentUserID(c), productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) clearCart(c *gin.Context) {
	view, err := h.cart.Clear(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// --- orders ---

type placeOrderRequest struct {
	ShippingAddressID int64  `json:"shipping_address_id" binding:"required"`
	PaymentMethod     string `json:"payment_method" binding:"required"`
	Notes             string `json:"notes"`
}

func (h *Handler) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !models.ValidPaymentMethod(req.PaymentMethod) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported payment method"})
		return
	}

	view, err := h.orders.PlaceOrder(c.Request.Context(), &service.PlaceOrderRequest{
		UserID:            currentUserID(c),
		ShippingAddressID: req.ShippingAddressID,
		PaymentMethod:     req.PaymentMethod,
		Notes:             req.Notes,
		IdempotencyKey:    c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) listOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	status := c.Query("status")

	orders, pagination, err := h.orders.ListOrders(c.Request.Context(), currentUserID(c), status, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "pagination": pagination})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.orders.GetOrder(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.orders.CancelOrder(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type updateOrderStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"tracking_number"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.orders.UpdateStatus(c.Request.Context(), orderID, req.Status, req.TrackingNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// --- addresses ---

type createAddressRequest struct {
	FirstName    string `json:"first_name" binding:"required"`
	LastName     string `json:"last_name" binding:"required"`
	AddressLine1 string `json:"address_line1" binding:"required"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city" binding:"required"`
	State        string `json:"state" binding:"required"`
	PostalCode   string `json:"postal_code" binding:"required"`
	Country      string `json:"country"`
	Phone        string `json:"phone"`
	IsDefault    bool   `json:"is_default"`
}

func (h *Handler) createAddress(c *gin.Context) {
	var req createAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	address, err := h.addresses.CreateAddress(c.Request.Context(), &models.Address{
		UserID:       currentUserID(c),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		AddressLine1: req.AddressLine1,
		AddressLine2: req.AddressLine2,
		City:         req.City,
		State:        req.State,
		PostalCode:   req.PostalCode,
		Country:      req.Country,
		Phone:        req.Phone,
		IsDefault:    req.IsDefault,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": address})
}

func (h *Handler) listAddresses(c *gin.Context) {
	addrs, err := h.addresses.ListAddresses(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addrs})
}

// --- reviews ---

type reviewRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Title   string `json:"title"`
	Comment string `json:"comment" binding:"required"`
}

func (h *Handler) createReview(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	review, err := h.reviews.AddReview(c.Request.Context(), currentUserID(c), productID, req.Rating, req.Title, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review": review})
}

func (h *Handler) updateReview(c *gin.Context) {
	reviewID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	review, err := h.reviews.UpdateReview(c.Request.Context(), currentUserID(c), reviewID, req.Rating, req.Title, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": review})
}

func (h *Handler) deleteReview(c *gin.Context) {
	reviewID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.reviews.DeleteReview(c.Request.Context(), currentUserID(c), reviewID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Review deleted"})
}

type reviewApprovalRequest struct {
	IsApproved *bool `json:"is_approved" binding:"required"`
}

func (h *Handler) setReviewApproval(c *gin.Context) {
	reviewID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	review, err := h.reviews.SetApproval(c.Request.Context(), reviewID, *req.IsApproved)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": review})
}

// --- helpers ---

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// respondError maps domain errors to HTTP statuses. Validation failures carry
// their detail to the caller; anything unexpected is logged and surfaced as
// an opaque 500.
func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrProductUnavailable),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrAlreadyReviewed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

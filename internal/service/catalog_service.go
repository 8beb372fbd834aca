package service

import (
	"context"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// CatalogStore is the read surface over the product catalog.
type CatalogStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]models.Product, int64, error)
}

// CatalogService serves catalog reads through the product cache.
type CatalogService struct {
	store  CatalogStore
	cache  ProductCache
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store CatalogStore, cache ProductCache) *CatalogService {
	return &CatalogService{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// GetProduct returns a product, served from cache when possible.
func (s *CatalogService) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	cached, err := s.cache.Get(ctx, productID)
	if err != nil {
		s.logger.Warn("Product cache read failed", zap.Error(err))
	} else if cached != nil {
		util.ProductCacheHitsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	util.ProductCacheHitsTotal.WithLabelValues("miss").Inc()

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, product); err != nil {
		s.logger.Warn("Product cache write failed", zap.Error(err))
	}
	return product, nil
}

// ListProducts returns a page of active products.
func (s *CatalogService) ListProducts(ctx context.Context, page, limit int) ([]models.Product, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	products, total, err := s.store.ListProducts(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, nil, err
	}
	if products == nil {
		products = []models.Product{}
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return products, &models.Pagination{
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalItems:   total,
		ItemsPerPage: limit,
	}, nil
}

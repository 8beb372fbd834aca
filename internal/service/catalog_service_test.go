package service

import (
	"context"
	"errors"
	"testing"

	"shop-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProductCacheReadThrough(t *testing.T) {
	db := newMemStore()
	cache := newFakeCache()
	svc := NewCatalogService(db, cache)
	ctx := context.Background()

	p := db.seedProduct(1000, 10, true)

	got, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)

	// The miss populated the cache; a later store change is invisible until
	// invalidation.
	db.mu.Lock()
	db.products[p.ID].Price = 9999
	db.mu.Unlock()

	got, err = svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Price)

	require.NoError(t, cache.Invalidate(ctx, p.ID))
	got, err = svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9999), got.Price)
}

func TestGetProductNotFound(t *testing.T) {
	db := newMemStore()
	svc := NewCatalogService(db, newFakeCache())

	_, err := svc.GetProduct(context.Background(), 404)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestListProductsSkipsInactive(t *testing.T) {
	db := newMemStore()
	svc := NewCatalogService(db, newFakeCache())

	db.seedProduct(1000, 10, true)
	db.seedProduct(2000, 10, true)
	db.seedProduct(3000, 10, false)

	products, pagination, err := svc.ListProducts(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Len(t, products, 2)
	assert.Equal(t, int64(2), pagination.TotalItems)
	assert.Equal(t, 1, pagination.TotalPages)
}

func TestListProductsClampsPaging(t *testing.T) {
	db := newMemStore()
	svc := NewCatalogService(db, newFakeCache())
	db.seedProduct(1000, 10, true)

	products, pagination, err := svc.ListProducts(context.Background(), -3, 0)
	require.NoError(t, err)
	assert.Len(t, products, 1)
	assert.Equal(t, 1, pagination.CurrentPage)
	assert.Equal(t, 20, pagination.ItemsPerPage)
}

func TestCreateAddress(t *testing.T) {
	db := newMemStore()
	svc := NewAddressService(db)
	ctx := context.Background()

	created, err := svc.CreateAddress(ctx, &models.Address{
		UserID:       1,
		FirstName:    "Grace",
		LastName:     "Hopper",
		AddressLine1: "9 Harbor Way",
		City:         "Arlington",
		State:        "VA",
		PostalCode:   "22201",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "United States", created.Country)

	addrs, err := svc.ListAddresses(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, addrs, 1)
}

func TestCreateAddressMissingFields(t *testing.T) {
	db := newMemStore()
	svc := NewAddressService(db)

	_, err := svc.CreateAddress(context.Background(), &models.Address{
		UserID:    1,
		FirstName: "Grace",
	})
	assert.Error(t, err)
}

package service

import (
	"context"
	"fmt"

	"shop-service/internal/models"
	"shop-service/internal/util"
)

// AddressStore is the storage surface for shipping addresses.
type AddressStore interface {
	GetOwnedAddress(ctx context.Context, userID, addressID int64) (*models.Address, error)
	CreateAddress(ctx context.Context, a *models.Address) error
	ListAddressesByUser(ctx context.Context, userID int64) ([]models.Address, error)
}

// AddressService is a thin wrapper over the address store; checkout only
// needs owned-address resolution, the rest exists for the client to manage
// its address book.
type AddressService struct {
	store AddressStore
}

// NewAddressService creates a new address service
func NewAddressService(store AddressStore) *AddressService {
	return &AddressService{store: store}
}

// CreateAddress adds an address to the user's address book.
func (s *AddressService) CreateAddress(ctx context.Context, a *models.Address) (*models.Address, error) {
	ctx, span := util.StartSpan(ctx, "AddressService.CreateAddress")
	defer span.End()

	if a.FirstName == "" || a.LastName == "" || a.AddressLine1 == "" ||
		a.City == "" || a.State == "" || a.PostalCode == "" {
		return nil, fmt.Errorf("missing required address fields")
	}
	if a.Country == "" {
		a.Country = "United States"
	}

	if err := s.store.CreateAddress(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create address: %w", err)
	}
	return a, nil
}

// ListAddresses returns the user's address book, default first.
func (s *AddressService) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	addrs, err := s.store.ListAddressesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if addrs == nil {
		addrs = []models.Address{}
	}
	return addrs, nil
}

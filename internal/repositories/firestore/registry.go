package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/gourav-1711/jewellery-backend/internal/platform/firestore"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

// Registry bundles the Firestore repositories behind one provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	products *ProductRepository
	carts    *CartRepository
	counters *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		products: products,
		carts:    carts,
		counters: counters,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// ProductStore exposes the concrete product repository for seeding.
func (r *Registry) ProductStore() *ProductRepository { return r.products }

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

package firestore

import (
	"context"

	pfirestore "github.com/openshop/api/internal/platform/firestore"
	"github.com/openshop/api/internal/repositories"
)

// Registry groups the Firestore repositories over one provider.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	carts     *CartRepository
	addresses *AddressRepository
	variants  *VariantRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository against provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	variants, err := NewVariantRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, carts: carts, addresses: addresses, variants: variants}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Carts() repositories.CartRepository { return r.carts }
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) Variants() repositories.VariantRepository { return r.variants }

// UnitOfWork runs fn directly. Multi-document atomicity is provided by the repositories themselves.
func (r *Registry) UnitOfWork() repositories.UnitOfWork { return passthroughUnitOfWork{} }

func (r *Registry) Name() string { return "firestore" }

func (r *Registry) Ping(ctx context.Context) error { return r.provider.Ping(ctx) }

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

type passthroughUnitOfWork struct{}

func (passthroughUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

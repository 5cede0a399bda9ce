// Package memory provides process-local repositories for tests and local development.
package memory

import (
	"context"
	"sync"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/repositories"
)

// Store keeps every aggregate in maps guarded by a single lock so that multi-aggregate writes
// such as checkout are atomic.
type Store struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	carts     map[string]domain.Cart
	addresses map[string]domain.Address
	variants  map[string]domain.Variant
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty memory store.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.Order),
		carts:     make(map[string]domain.Cart),
		addresses: make(map[string]domain.Address),
		variants:  make(map[string]domain.Variant),
	}
}

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }
func (s *Store) Carts() repositories.CartRepository { return cartRepository{s} }
func (s *Store) Addresses() repositories.AddressRepository { return addressRepository{s} }
func (s *Store) Variants() repositories.VariantRepository { return variantRepository{s} }
func (s *Store) UnitOfWork() repositories.UnitOfWork { return unitOfWork{} }
func (s *Store) Name() string { return "memory" }
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close(context.Context) error { return nil }

type unitOfWork struct{}

// RunInTx runs fn directly. Each memory repository call is individually atomic.
func (unitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func cloneOrder(order domain.Order) domain.Order {
	if order.Items != nil {
		order.Items = append([]domain.OrderLineItem(nil), order.Items...)
	}
	if order.EstimatedDeliveryAt != nil {
		eta := *order.EstimatedDeliveryAt
		order.EstimatedDeliveryAt = &eta
	}
	return order
}

func cloneCart(cart domain.Cart) domain.Cart {
	if cart.Items != nil {
		cart.Items = append([]domain.CartItem(nil), cart.Items...)
	}
	return cart
}

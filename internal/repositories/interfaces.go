package repositories

import (
	"context"
	"math"
	"time"

	domain "github.com/openshop/api/internal/domain"
)

// Registry exposes the repositories of one storage backend and owns their lifecycle.
type Registry interface {
	Orders() OrderRepository
	Carts() CartRepository
	Addresses() AddressRepository
	Variants() VariantRepository
	UnitOfWork() UnitOfWork
	// Name identifies the backend in readiness reports.
	Name() string
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter selects a page of orders, optionally restricted to one status.
type OrderListFilter struct {
	Status *domain.OrderStatus
	Page   int
	Size   int
}

// Offset returns the number of orders before the page. ok is false for a negative page, a
// non-positive size, or a product that does not fit in int.
func (f OrderListFilter) Offset() (offset int, ok bool) {
	if f.Page < 0 || f.Size <= 0 || f.Page > math.MaxInt/f.Size {
		return 0, false
	}
	return f.Page * f.Size, true
}

// OrderRepository persists orders together with their line items.
type OrderRepository interface {
	// PlaceOrder inserts the order and its items and clears the source cart as one atomic unit.
	// A cart whose version differs from cartVersion yields a conflict and nothing is written.
	PlaceOrder(ctx context.Context, order domain.Order, cartID string, cartVersion int64) error
	// FindByID loads the order with its line items. Missing orders yield IsNotFound.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// ListByUser returns the user's orders newest first, optionally filtered by status.
	ListByUser(ctx context.Context, userID string, status *domain.OrderStatus) ([]domain.Order, error)
	// List returns one page of orders newest first together with the total match count.
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	// UpdateStatus performs a compare-and-set on version and writes version expectedVersion+1.
	// A stale version yields IsConflict, a missing order IsNotFound.
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) error
	// Delete removes the order and cascades to its line items.
	Delete(ctx context.Context, orderID string) error
}

// OrderStatusUpdate carries a versioned status write.
type OrderStatusUpdate struct {
	OrderID         string
	Status          domain.OrderStatus
	PaymentStatus   domain.PaymentStatus
	ExpectedVersion int64
	UpdatedAt       time.Time
}

// CartRepository persists one cart per user.
type CartRepository interface {
	// GetByUser returns the user's cart or an empty cart with version 0 when none exists.
	GetByUser(ctx context.Context, userID string) (domain.Cart, error)
	// Save writes the cart when the stored version equals expectedVersion and returns the stored cart.
	Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error)
}

// AddressRepository stores shipping addresses. Every read and delete is scoped to the owner,
// so another user's address looks missing.
type AddressRepository interface {
	FindByID(ctx context.Context, userID, addressID string) (domain.Address, error)
	// ListByUser returns the user's addresses oldest first.
	ListByUser(ctx context.Context, userID string) ([]domain.Address, error)
	// Upsert yields IsConflict when addr.ID already belongs to another user.
	Upsert(ctx context.Context, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID, addressID string) error
}

// VariantRepository exposes catalog variants for pricing.
type VariantRepository interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.Variant, error)
	FindByID(ctx context.Context, id string) (domain.Variant, error)
	Upsert(ctx context.Context, variant domain.Variant) (domain.Variant, error)
}

// HealthRepository aggregates dependency checks for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

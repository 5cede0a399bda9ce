package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/repositories"
)

type orderRepository struct {
	store *Store
}

func (r orderRepository) PlaceOrder(ctx context.Context, order domain.Order, cartID string, cartVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return repositories.NewConflictError("orders.place", fmt.Errorf("order %s already exists", order.ID))
	}
	cart, ok := s.carts[order.UserID]
	if !ok || cart.ID != cartID || cart.Version != cartVersion {
		return repositories.NewConflictError("orders.place", errors.New("cart changed since it was read"))
	}

	s.orders[order.ID] = cloneOrder(order)
	cart.Items = nil
	cart.Version++
	cart.UpdatedAt = order.CreatedAt
	s.carts[order.UserID] = cart
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.find", fmt.Errorf("order %s", orderID))
	}
	return cloneOrder(order), nil
}

func (r orderRepository) ListByUser(ctx context.Context, userID string, status *domain.OrderStatus) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.store.matching(func(o domain.Order) bool {
		return o.UserID == userID && (status == nil || o.Status == *status)
	}), nil
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if err := ctx.Err(); err != nil {
		return domain.Page[domain.Order]{}, err
	}
	all := r.store.matching(func(o domain.Order) bool {
		return filter.Status == nil || o.Status == *filter.Status
	})

	page := domain.Page[domain.Order]{Page: filter.Page, Size: filter.Size, Total: int64(len(all))}
	start, ok := filter.Offset()
	if !ok || start >= len(all) {
		page.Items = []domain.Order{}
		return page, nil
	}
	page.Items = all[start:min(start+filter.Size, len(all))]
	return page, nil
}

func (r orderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[update.OrderID]
	if !ok {
		return repositories.NewNotFoundError("orders.update_status", fmt.Errorf("order %s", update.OrderID))
	}
	if order.Version != update.ExpectedVersion {
		return repositories.NewConflictError("orders.update_status",
			fmt.Errorf("order %s at version %d, expected %d", order.ID, order.Version, update.ExpectedVersion))
	}
	order.Status = update.Status
	if update.PaymentStatus != "" {
		order.PaymentStatus = update.PaymentStatus
	}
	order.Version = update.ExpectedVersion + 1
	order.UpdatedAt = update.UpdatedAt
	s.orders[order.ID] = order
	return nil
}

func (r orderRepository) Delete(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		return repositories.NewNotFoundError("orders.delete", fmt.Errorf("order %s", orderID))
	}
	delete(s.orders, orderID)
	return nil
}

// matching returns copies of the orders accepted by keep, newest first.
func (s *Store) matching(keep func(domain.Order) bool) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if keep(order) {
			out = append(out, cloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

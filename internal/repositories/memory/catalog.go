package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/repositories"
)

type cartRepository struct {
	store *Store
}

func (r cartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[userID]
	if !ok {
		return domain.Cart{UserID: userID}, nil
	}
	return cloneCart(cart), nil
}

func (r cartRepository) Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	if cart.UserID == "" {
		return domain.Cart{}, errors.New("memory: cart user id is required")
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.carts[cart.UserID]
	if current.Version != expectedVersion {
		return domain.Cart{}, repositories.NewConflictError("carts.save",
			fmt.Errorf("cart for %s at version %d, expected %d", cart.UserID, current.Version, expectedVersion))
	}
	if current.ID != "" {
		cart.ID = current.ID
	}
	cart.Version = expectedVersion + 1
	stored := cloneCart(cart)
	s.carts[cart.UserID] = stored
	return cloneCart(stored), nil
}

type addressRepository struct {
	store *Store
}

func (r addressRepository) FindByID(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return domain.Address{}, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.addresses[addressID]
	if !ok || addr.UserID != userID {
		return domain.Address{}, repositories.NewNotFoundError("addresses.find", fmt.Errorf("address %s", addressID))
	}
	return addr, nil
}

func (r addressRepository) Upsert(ctx context.Context, addr domain.Address) (domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return domain.Address{}, err
	}
	if addr.ID == "" || addr.UserID == "" {
		return domain.Address{}, errors.New("memory: address id and user id are required")
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.addresses[addr.ID]; ok && current.UserID != addr.UserID {
		return domain.Address{}, repositories.NewConflictError("addresses.upsert", fmt.Errorf("address %s belongs to another user", addr.ID))
	}
	s.addresses[addr.ID] = addr
	return addr, nil
}

func (r addressRepository) ListByUser(ctx context.Context, userID string) ([]domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Address, 0)
	for _, addr := range s.addresses {
		if addr.UserID == userID {
			out = append(out, addr)
		}
	}
	slices.SortFunc(out, func(a, b domain.Address) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r addressRepository) Delete(ctx context.Context, userID, addressID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.addresses[addressID]
	if !ok || addr.UserID != userID {
		return repositories.NewNotFoundError("addresses.delete", fmt.Errorf("address %s", addressID))
	}
	delete(s.addresses, addressID)
	return nil
}

type variantRepository struct {
	store *Store
}

func (r variantRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Variant, len(ids))
	for _, id := range ids {
		if variant, ok := s.variants[id]; ok {
			out[id] = variant
		}
	}
	return out, nil
}

func (r variantRepository) FindByID(ctx context.Context, id string) (domain.Variant, error) {
	found, err := r.FindByIDs(ctx, []string{id})
	if err != nil {
		return domain.Variant{}, err
	}
	variant, ok := found[id]
	if !ok {
		return domain.Variant{}, repositories.NewNotFoundError("variants.find", fmt.Errorf("variant %s", id))
	}
	return variant, nil
}

func (r variantRepository) Upsert(ctx context.Context, variant domain.Variant) (domain.Variant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Variant{}, err
	}
	if variant.ID == "" {
		return domain.Variant{}, errors.New("memory: variant id is required")
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variant.ID] = variant
	return variant, nil
}

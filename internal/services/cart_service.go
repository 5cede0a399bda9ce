package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/openshop/api/internal/repositories"
)

const (
	cartIDPrefix     = "cart_"
	cartItemIDPrefix = "ci_"
)

var errCartRepositoryRequired = errors.New("cart service: cart repository is required")

// CartServiceDeps wires the repositories used for cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Variants    repositories.VariantRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	variants repositories.VariantRepository
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Variants == nil {
		return nil, errors.New("cart service: variant repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		variants: deps.Variants,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, actor Actor) (Cart, error) {
	uid, err := requireUser(actor)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.carts.GetByUser(ctx, uid)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return cart, nil
}

// AddItem replaces the quantity when the variant is already in the cart.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	uid, err := requireUser(cmd.Actor)
	if err != nil {
		return Cart{}, err
	}
	variantID := strings.TrimSpace(cmd.VariantID)
	if variantID == "" {
		return Cart{}, fmt.Errorf("%w: variant id is required", ErrOrderInvalidInput)
	}
	if err := checkQuantity(cmd.Quantity); err != nil {
		return Cart{}, err
	}

	variant, err := s.variants.FindByID(ctx, variantID)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrVariantNotFound)
	}

	cart, err := s.carts.GetByUser(ctx, uid)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	now := s.now()
	expected := cart.Version
	cart.UserID = uid
	if cart.ID == "" {
		cart.ID = cartIDPrefix + s.newID()
	}
	cart.Items = slices.Clone(cart.Items)
	idx := slices.IndexFunc(cart.Items, func(item CartItem) bool { return item.VariantID == variant.ID })
	if idx >= 0 {
		cart.Items[idx].Quantity = cmd.Quantity
		cart.Items[idx].UnitPrice = variant.Price
		cart.Items[idx].UpdatedAt = now
	} else {
		cart.Items = append(cart.Items, CartItem{
			ID:        cartItemIDPrefix + s.newID(),
			VariantID: variant.ID,
			Quantity:  cmd.Quantity,
			UnitPrice: variant.Price,
			AddedAt:   now,
			UpdatedAt: now,
		})
	}
	return s.save(ctx, cart, expected, now)
}

func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	uid, err := requireUser(cmd.Actor)
	if err != nil {
		return Cart{}, err
	}
	if err := checkQuantity(cmd.Quantity); err != nil {
		return Cart{}, err
	}

	cart, err := s.carts.GetByUser(ctx, uid)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	idx := indexOfCartItem(cart.Items, cmd.ItemID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, cmd.ItemID)
	}

	now := s.now()
	expected := cart.Version
	cart.Items = slices.Clone(cart.Items)
	cart.Items[idx].Quantity = cmd.Quantity
	cart.Items[idx].UpdatedAt = now
	return s.save(ctx, cart, expected, now)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	uid, err := requireUser(cmd.Actor)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.carts.GetByUser(ctx, uid)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if cart.IsEmpty() {
		return Cart{}, ErrEmptyCart
	}
	idx := indexOfCartItem(cart.Items, cmd.ItemID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, cmd.ItemID)
	}

	expected := cart.Version
	cart.Items = slices.Delete(slices.Clone(cart.Items), idx, idx+1)
	return s.save(ctx, cart, expected, s.now())
}

func (s *cartService) save(ctx context.Context, cart Cart, expected int64, now time.Time) (Cart, error) {
	cart.UpdatedAt = now
	saved, err := s.carts.Save(ctx, cart, expected)
	if err != nil {
		mapped := mapRepositoryError(err, ErrOrderNotFound)
		s.logger(ctx, "cart.save.failed", map[string]any{
			"userId":  cart.UserID,
			"version": expected,
			"error":   mapped.Error(),
		})
		return Cart{}, mapped
	}
	return saved, nil
}

func indexOfCartItem(items []CartItem, itemID string) int {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return -1
	}
	return slices.IndexFunc(items, func(item CartItem) bool { return item.ID == id })
}

func requireUser(actor Actor) (string, error) {
	uid := strings.TrimSpace(actor.UserID)
	if uid == "" {
		return "", fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return uid, nil
}

func checkQuantity(quantity int) error {
	switch {
	case quantity < 1:
		return fmt.Errorf("%w: quantity must be at least 1", ErrOrderInvalidInput)
	case quantity > MaxCartItemQuantity:
		return fmt.Errorf("%w: quantity must be at most %d", ErrOrderInvalidInput, MaxCartItemQuantity)
	}
	return nil
}

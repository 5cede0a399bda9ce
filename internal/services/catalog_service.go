package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/openshop/api/internal/repositories"
)

// MaxVariantPrice keeps every cart line priceable: a full line at this price still fits in int64.
const MaxVariantPrice = math.MaxInt64 / MaxCartItemQuantity

// CatalogServiceDeps wires the variant repository.
type CatalogServiceDeps struct {
	Variants repositories.VariantRepository
	// Currency is the store currency. Variants priced in anything else are rejected.
	Currency string
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type catalogService struct {
	variants repositories.VariantRepository
	currency string
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Variants == nil {
		return nil, errors.New("catalog service: variant repository is required")
	}
	code := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if code == "" {
		code = defaultOrderCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("catalog service: invalid currency %q: %w", deps.Currency, err)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		variants: deps.Variants,
		currency: unit.String(),
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *catalogService) GetVariant(ctx context.Context, variantID string) (Variant, error) {
	id := strings.TrimSpace(variantID)
	if id == "" {
		return Variant{}, fmt.Errorf("%w: variant id is required", ErrOrderInvalidInput)
	}
	variant, err := s.variants.FindByID(ctx, id)
	if err != nil {
		return Variant{}, mapRepositoryError(err, ErrVariantNotFound)
	}
	return variant, nil
}

// UpsertVariant creates or replaces a variant. Carts keep the price they observed until checkout,
// which reprices from the catalog.
func (s *catalogService) UpsertVariant(ctx context.Context, cmd UpsertVariantCommand) (Variant, error) {
	variant := Variant{
		ID:        strings.TrimSpace(cmd.VariantID),
		ProductID: strings.TrimSpace(cmd.ProductID),
		SKU:       strings.TrimSpace(cmd.SKU),
		Name:      strings.TrimSpace(cmd.Name),
		Price:     cmd.Price,
		Stock:     cmd.Stock,
		UpdatedAt: s.now(),
	}
	switch {
	case variant.ID == "":
		return Variant{}, fmt.Errorf("%w: variant id is required", ErrOrderInvalidInput)
	case variant.SKU == "" || variant.Name == "":
		return Variant{}, fmt.Errorf("%w: sku and name are required", ErrOrderInvalidInput)
	case variant.Price < 0 || variant.Price > MaxVariantPrice:
		return Variant{}, fmt.Errorf("%w: price must be between 0 and %d", ErrOrderInvalidInput, int64(MaxVariantPrice))
	case variant.Stock < 0:
		return Variant{}, fmt.Errorf("%w: stock must not be negative", ErrOrderInvalidInput)
	}
	variant.Currency = s.currency
	if raw := strings.TrimSpace(cmd.Currency); raw != "" && !strings.EqualFold(raw, s.currency) {
		return Variant{}, fmt.Errorf("%w: currency must be %s", ErrOrderInvalidInput, s.currency)
	}

	saved, err := s.variants.Upsert(ctx, variant)
	if err != nil {
		mapped := mapRepositoryError(err, ErrVariantNotFound)
		s.logger(ctx, "variant.save.failed", map[string]any{"variantId": variant.ID, "error": mapped.Error()})
		return Variant{}, mapped
	}
	s.logger(ctx, "variant.saved", map[string]any{"variantId": saved.ID, "price": saved.Price})
	return saved, nil
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/services"
)

// AdminCatalogHandlers let staff maintain the variants carts and orders are priced from.
type AdminCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewAdminCatalogHandlers constructs catalog handlers. Routes require the admin role when authn is set.
func NewAdminCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{authn: authn, catalog: catalog}
}

// Routes registers the /admin/variants endpoints.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Get("/variants/{variantID}", h.getVariant)
	r.Put("/variants/{variantID}", h.upsertVariant)
}

type upsertVariantRequest struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Currency  string `json:"currency"`
	Stock     int    `json:"stock"`
}

type variantPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id,omitempty"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Currency  string `json:"currency"`
	Stock     int    `json:"stock"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type variantResponse struct {
	Variant variantPayload `json:"variant"`
}

func (h *AdminCatalogHandlers) getVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}

	variant, err := h.catalog.GetVariant(ctx, strings.TrimSpace(chi.URLParam(r, "variantID")))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, variantResponse{Variant: buildVariantPayload(variant)})
}

func (h *AdminCatalogHandlers) upsertVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}

	var req upsertVariantRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	variant, err := h.catalog.UpsertVariant(ctx, services.UpsertVariantCommand{
		VariantID: strings.TrimSpace(chi.URLParam(r, "variantID")),
		ProductID: req.ProductID,
		SKU:       req.SKU,
		Name:      req.Name,
		Price:     req.Price,
		Currency:  req.Currency,
		Stock:     req.Stock,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, variantResponse{Variant: buildVariantPayload(variant)})
}

func buildVariantPayload(v services.Variant) variantPayload {
	return variantPayload{
		ID:        v.ID,
		ProductID: v.ProductID,
		SKU:       v.SKU,
		Name:      v.Name,
		Price:     v.Price,
		Currency:  v.Currency,
		Stock:     v.Stock,
		UpdatedAt: formatTime(v.UpdatedAt),
	}
}

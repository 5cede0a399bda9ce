package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/platform/httpx"
	"github.com/openshop/api/internal/services"
)

// CartHandlers exposes the authenticated user's cart.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs cart handlers. authn may be nil when authentication runs upstream.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
}

type addCartItemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type cartItemPayload struct {
	ID        string `json:"id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
	AddedAt   string `json:"added_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Items      []cartItemPayload `json:"items"`
	ItemsCount int               `json:"items_count"`
	Estimate   *totalsPayload    `json:"estimate,omitempty"`
	Version    int64             `json:"version"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.VariantID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "variant_id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		Actor:     actor,
		VariantID: strings.TrimSpace(req.VariantID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	cart, err := h.carts.UpdateItem(ctx, services.UpdateCartItemCommand{
		Actor:    actor,
		ItemID:   strings.TrimSpace(chi.URLParam(r, "itemID")),
		Quantity: req.Quantity,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		Actor:  actor,
		ItemID: strings.TrimSpace(chi.URLParam(r, "itemID")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func writeCart(w http.ResponseWriter, status int, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, status, cartResponse{Cart: buildCartPayload(cart)})
}

func buildCartPayload(cart services.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	lines := make([]services.PricedLine, 0, len(cart.Items))
	count := 0
	for _, item := range cart.Items {
		line := services.PricedLine{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
		lineTotal, _ := line.LineTotal()
		lines = append(lines, line)
		count += item.Quantity
		items = append(items, cartItemPayload{
			ID:        item.ID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: lineTotal,
			AddedAt:   formatTime(item.AddedAt),
			UpdatedAt: formatTime(item.UpdatedAt),
		})
	}

	payload := cartPayload{
		ID:         cart.ID,
		UserID:     cart.UserID,
		Items:      items,
		ItemsCount: count,
		Version:    cart.Version,
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
	// The estimate is omitted when the lines cannot be priced.
	if len(lines) > 0 {
		if totals, err := services.PriceCart(lines); err == nil {
			estimate := buildTotals(totals)
			payload.Estimate = &estimate
		}
	}
	return payload
}

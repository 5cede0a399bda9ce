package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/platform/httpx"
	"github.com/openshop/api/internal/platform/pagination"
	"github.com/openshop/api/internal/services"
)

// AdminOrderHandlers exposes order listing and status management to staff.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	paging pagination.Options
}

// NewAdminOrderHandlers constructs admin handlers. Routes require the admin role when authn is set.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
		paging: pagination.Options{DefaultPageSize: pagination.DefaultPageSize, MaxPageSize: pagination.DefaultMaxPageSize},
	}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Route("/orders", func(orders chi.Router) {
		orders.With(pagination.Middleware(h.paging)).Get("/", h.listOrders)
		orders.With(pagination.Middleware(h.paging)).Get("/status/{status}", h.listOrdersByStatus)
		orders.Put("/{orderID}/status", h.updateStatus)
	})
}

type updateStatusRequest struct {
	Status          string `json:"status"`
	ExpectedVersion *int64 `json:"expected_version"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	params := pagination.FromContextOrDefault(ctx)
	page, err := h.orders.ListOrders(ctx, params.Page, params.Size)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPage(page))
}

func (h *AdminOrderHandlers) listOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	params := pagination.FromContextOrDefault(ctx)
	page, err := h.orders.ListOrdersByStatus(ctx, strings.TrimSpace(chi.URLParam(r, "status")), params.Page, params.Size)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPage(page))
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateStatusCommand{
		OrderID:         strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:          strings.TrimSpace(req.Status),
		ExpectedVersion: req.ExpectedVersion,
		ActorID:         actor.UserID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/platform/httpx"
	"github.com/openshop/api/internal/services"
)

// OrderHandlers exposes checkout and the customer-facing order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with the supplied middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.listOrders)
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:verify-payment", h.verifyPayment)
	r.Get("/{orderID}/invoice", h.downloadInvoice)
}

type createOrderRequest struct {
	ShippingAddressID string `json:"shipping_address_id"`
	PaymentMethod     string `json:"payment_method"`
	Notes             string `json:"notes"`
}

type cancelOrderRequest struct {
	ExpectedVersion *int64 `json:"expected_version"`
}

type verifyPaymentRequest struct {
	Reference string `json:"reference"`
}

type verifyPaymentResponse struct {
	Verified bool `json:"verified"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.ShippingAddressID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipping_address_id is required", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_method is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Actor:             actor,
		ShippingAddressID: strings.TrimSpace(req.ShippingAddressID),
		PaymentMethod:     strings.TrimSpace(req.PaymentMethod),
		Notes:             req.Notes,
		ClientIP:          clientIP(r),
		UserAgent:         r.UserAgent(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	var filter *services.OrderStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_status", "unrecognised order status", http.StatusBadRequest))
			return
		}
		filter = &status
	}

	orders, err := h.orders.ListUserOrders(ctx, actor, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: buildOrderPayloads(orders)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, actor, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	// The body is optional; an empty one cancels without a version check.
	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeDecodeError(ctx, w, err)
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		Actor:           actor,
		OrderID:         strings.TrimSpace(chi.URLParam(r, "orderID")),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) downloadInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	body, err := h.orders.DownloadInvoice(ctx, actor, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	name := orderID
	if order, err := h.orders.GetOrder(ctx, actor, orderID); err == nil && order.OrderNumber != "" {
		name = order.OrderNumber
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+invoiceFileName(name)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.Reference) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reference is required", http.StatusBadRequest))
		return
	}

	verified, err := h.orders.VerifyPayment(ctx, services.VerifyPaymentCommand{
		Actor:     actor,
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		Reference: strings.TrimSpace(req.Reference),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, verifyPaymentResponse{Verified: verified})
}

// clientIP prefers RemoteAddr as rewritten by chi's RealIP middleware.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

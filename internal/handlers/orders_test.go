package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/services"
)

func sampleOrder() services.Order {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	eta := created.Add(7 * 24 * time.Hour)
	return services.Order{
		ID:            "ord_1",
		OrderNumber:   "ORD-20240301100000-ABC123",
		UserID:        "user-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: "CARD",
		Currency:      "INR",
		Totals: services.OrderTotals{
			ItemSubtotal: 115000,
			Tax:          5750,
			Shipping:     15000,
			Total:        135750,
		},
		Items: []services.OrderLineItem{{
			ID: "li_1", VariantID: "var-1", SKU: "SKU-1", Name: "Tee", Quantity: 2, UnitPrice: 57500, PriceSnapshot: 57500,
		}},
		ShippingAddressID:   "addr-1",
		EstimatedDeliveryAt: &eta,
		Version:             1,
		CreatedAt:           created,
		UpdatedAt:           created,
	}
}

func customer() *auth.Identity {
	return &auth.Identity{UID: "user-1", Roles: []string{auth.RoleUser}}
}

func TestOrderHandlers_CreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	h := mountRoutes(customer(), NewOrderHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodPost, "/", `{"shipping_address_id":" addr-1 ","payment_method":"CARD","notes":"leave at door"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Actor.UserID != "user-1" || captured.Actor.Admin {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
	if captured.ShippingAddressID != "addr-1" || captured.PaymentMethod != "CARD" || captured.Notes != "leave at door" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.ClientIP == "" {
		t.Fatalf("expected client ip to be captured")
	}

	resp := decodeBody[orderResponse](t, rec)
	if resp.Order.OrderNumber != "ORD-20240301100000-ABC123" {
		t.Fatalf("unexpected order number %q", resp.Order.OrderNumber)
	}
	if resp.Order.Totals.Total != 135750 || resp.Order.Totals.Tax != 5750 {
		t.Fatalf("unexpected totals %+v", resp.Order.Totals)
	}
	if resp.Order.EstimatedDeliveryAt != "2024-03-08T10:00:00Z" {
		t.Fatalf("unexpected eta %q", resp.Order.EstimatedDeliveryAt)
	}
	if loc := rec.Header().Get("Location"); loc != "/ord_1" {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestOrderHandlers_CreateOrderValidation(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			t.Fatal("service must not be called")
			return services.Order{}, nil
		},
	}
	h := mountRoutes(customer(), NewOrderHandlers(nil, svc).Routes)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "missing address", body: `{"payment_method":"CARD"}`},
		{name: "missing payment method", body: `{"shipping_address_id":"addr-1"}`},
		{name: "unknown field", body: `{"shipping_address_id":"addr-1","payment_method":"CARD","coupon":"X"}`},
		{name: "malformed", body: `{"shipping_address_id":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestOrderHandlers_RequiresIdentity(t *testing.T) {
	svc := &stubOrderService{}
	h := mountRoutes(nil, NewOrderHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOrderHandlers_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "empty cart", err: services.ErrEmptyCart, status: http.StatusBadRequest, code: "cart_empty"},
		{name: "invalid cart", err: services.ErrInvalidCartState, status: http.StatusBadRequest, code: "invalid_cart_state"},
		{name: "address", err: fmt.Errorf("lookup: %w", services.ErrAddressNotFound), status: http.StatusNotFound, code: "address_not_found"},
		{name: "conflict", err: services.ErrConcurrentModification, status: http.StatusConflict, code: "order_conflict"},
		{name: "unavailable", err: services.ErrOrderUnavailable, status: http.StatusServiceUnavailable, code: "store_unavailable"},
		{name: "unknown", err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "order_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			h := mountRoutes(customer(), NewOrderHandlers(nil, svc).Routes)
			rec := doRequest(t, h, http.MethodPost, "/", `{"shipping_address_id":"addr-1","payment_method":"CARD"}`)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if code := errorCode(t, rec); code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, code)
			}
		})
	}
}

func TestOrderHandlers_ListOrdersFiltersByStatus(t *testing.T) {
	var gotStatus *services.OrderStatus
	svc := &stubOrderService{
		listUserFn: func(_ context.Context, actor services.Actor, status *services.OrderStatus) ([]services.Order, error) {
			if actor.UserID != "user-1" {
				t.Fatalf("unexpected actor %+v", actor)
			}
			gotStatus = status
			return []services.Order{sampleOrder()}, nil
		},
	}
	h := mountRoutes(customer(), NewOrderHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodGet, "/?status=pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotStatus == nil || *gotStatus != domain.OrderStatusPending {
		t.Fatalf("expected pending filter, got %v", gotStatus)
	}
	resp := decodeBody[orderListResponse](t, rec)
	if len(resp.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(resp.Items))
	}

	rec = doRequest(t, h, http.MethodGet, "/?status=LOST", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestOrderHandlers_GetOrderNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, _ services.Actor, id string) (services.Order, error) {
			if id != "ord_missing" {
				t.Fatalf("unexpected id %q", id)
			}
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	h := mountRoutes(customer(), NewOrderHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodGet, "/ord_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOrderHandlers_Cancel(t *testing.T) {
	var captured services.CancelOrderCommand
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != 1 {
				return services.Order{}, services.ErrConcurrentModification
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			order.Version = 2
			return order, nil
		},
	}
	h := mountRoutes(customer(), NewOrderHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodPost, "/ord_1:cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.ExpectedVersion != nil {
		t.Fatalf("unexpected command %+v", captured)
	}
	if resp := decodeBody[orderResponse](t, rec); resp.Order.Status != "CANCELLED" {
		t.Fatalf("unexpected status %q", resp.Order.Status)
	}

	rec = doRequest(t, h, http.MethodPost, "/ord_1:cancel", `{"expected_version":3}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d", rec.Code)
	}
}

func TestOrderHandlers_CancelShippedIsConflict(t *testing.T) {
	svc := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrAlreadyShipped
		},
	}
	h := mountRoutes(customer(), NewOrderHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodPost, "/ord_1:cancel", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "order_invalid_state" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestOrderHandlers_DownloadInvoice(t *testing.T) {
	svc := &stubOrderService{
		invoiceFn: func(context.Context, services.Actor, string) ([]byte, error) {
			return []byte("Invoice for Order #: ORD-20240301100000-ABC123\nTotal: 1357.50 INR"), nil
		},
		getFn: func(context.Context, services.Actor, string) (services.Order, error) {
			return sampleOrder(), nil
		},
	}
	h := mountRoutes(customer(), NewOrderHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodGet, "/ord_1/invoice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "invoice-ORD-20240301100000-ABC123.txt") {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if !strings.HasSuffix(rec.Body.String(), "Total: 1357.50 INR") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestOrderHandlers_VerifyPayment(t *testing.T) {
	svc := &stubOrderService{
		verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (bool, error) {
			return cmd.Reference == "pi_123", nil
		},
	}
	h := mountRoutes(customer(), NewOrderHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodPost, "/ord_1:verify-payment", `{"reference":"pi_123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[verifyPaymentResponse](t, rec); !resp.Verified {
		t.Fatalf("expected verified payment")
	}

	rec = doRequest(t, h, http.MethodPost, "/ord_1:verify-payment", `{"reference":" "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank reference, got %d", rec.Code)
	}
}

func TestOrderHandlers_IdempotencyMiddlewareGuardsCreateOnly(t *testing.T) {
	calls := 0
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			next.ServeHTTP(w, r)
		})
	}
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return sampleOrder(), nil
		},
		listUserFn: func(context.Context, services.Actor, *services.OrderStatus) ([]services.Order, error) {
			return nil, nil
		},
	}
	h := mountRoutes(customer(), NewOrderHandlers(nil, svc, WithOrderIdempotency(mw)).Routes)

	doRequest(t, h, http.MethodGet, "/", "")
	if calls != 0 {
		t.Fatalf("expected list to bypass idempotency, got %d calls", calls)
	}
	doRequest(t, h, http.MethodPost, "/", `{"shipping_address_id":"addr-1","payment_method":"CARD"}`)
	if calls != 1 {
		t.Fatalf("expected create to pass through idempotency once, got %d", calls)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/services"
)

type stubOrderService struct {
	createFn       func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn          func(context.Context, services.Actor, string) (services.Order, error)
	listUserFn     func(context.Context, services.Actor, *services.OrderStatus) ([]services.Order, error)
	listFn         func(context.Context, int, int) (services.OrderPage, error)
	listByStatusFn func(context.Context, string, int, int) (services.OrderPage, error)
	updateFn       func(context.Context, services.UpdateStatusCommand) (services.Order, error)
	cancelFn       func(context.Context, services.CancelOrderCommand) (services.Order, error)
	invoiceFn      func(context.Context, services.Actor, string) ([]byte, error)
	verifyFn       func(context.Context, services.VerifyPaymentCommand) (bool, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, actor services.Actor, id string) (services.Order, error) {
	return s.getFn(ctx, actor, id)
}

func (s *stubOrderService) ListUserOrders(ctx context.Context, actor services.Actor, status *services.OrderStatus) ([]services.Order, error) {
	return s.listUserFn(ctx, actor, status)
}

func (s *stubOrderService) ListOrders(ctx context.Context, page, size int) (services.OrderPage, error) {
	return s.listFn(ctx, page, size)
}

func (s *stubOrderService) ListOrdersByStatus(ctx context.Context, status string, page, size int) (services.OrderPage, error) {
	return s.listByStatusFn(ctx, status, page, size)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateStatusCommand) (services.Order, error) {
	return s.updateFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) DownloadInvoice(ctx context.Context, actor services.Actor, id string) ([]byte, error) {
	return s.invoiceFn(ctx, actor, id)
}

func (s *stubOrderService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (bool, error) {
	return s.verifyFn(ctx, cmd)
}

type stubCartService struct {
	getFn    func(context.Context, services.Actor) (services.Cart, error)
	addFn    func(context.Context, services.AddCartItemCommand) (services.Cart, error)
	updateFn func(context.Context, services.UpdateCartItemCommand) (services.Cart, error)
	removeFn func(context.Context, services.RemoveCartItemCommand) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, actor services.Actor) (services.Cart, error) {
	return s.getFn(ctx, actor)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	return s.addFn(ctx, cmd)
}

func (s *stubCartService) UpdateItem(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	return s.updateFn(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	return s.removeFn(ctx, cmd)
}

type stubAddressService struct {
	listFn   func(context.Context, services.Actor) ([]services.Address, error)
	createFn func(context.Context, services.SaveAddressCommand) (services.Address, error)
	updateFn func(context.Context, services.SaveAddressCommand) (services.Address, error)
	deleteFn func(context.Context, services.Actor, string) error
}

func (s *stubAddressService) ListAddresses(ctx context.Context, actor services.Actor) ([]services.Address, error) {
	return s.listFn(ctx, actor)
}

func (s *stubAddressService) CreateAddress(ctx context.Context, cmd services.SaveAddressCommand) (services.Address, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubAddressService) UpdateAddress(ctx context.Context, cmd services.SaveAddressCommand) (services.Address, error) {
	return s.updateFn(ctx, cmd)
}

func (s *stubAddressService) DeleteAddress(ctx context.Context, actor services.Actor, id string) error {
	return s.deleteFn(ctx, actor, id)
}

type stubCatalogService struct {
	getFn    func(context.Context, string) (services.Variant, error)
	upsertFn func(context.Context, services.UpsertVariantCommand) (services.Variant, error)
}

func (s *stubCatalogService) GetVariant(ctx context.Context, id string) (services.Variant, error) {
	return s.getFn(ctx, id)
}

func (s *stubCatalogService) UpsertVariant(ctx context.Context, cmd services.UpsertVariantCommand) (services.Variant, error) {
	return s.upsertFn(ctx, cmd)
}

// withIdentity stands in for the authenticator in handler tests.
func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func mountRoutes(identity *auth.Identity, routes RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Use(withIdentity(identity))
	r.Group(func(g chi.Router) { routes(g) })
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[map[string]any](t, rec)
	code, _ := body["error"].(string)
	return code
}

type tokenVerifierFunc func(ctx context.Context, raw string) (auth.VerifiedToken, error)

func (f tokenVerifierFunc) Verify(ctx context.Context, raw string) (auth.VerifiedToken, error) {
	return f(ctx, raw)
}

func newAuthedRequest(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serveRecorder(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

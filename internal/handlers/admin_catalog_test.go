package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/services"
)

func TestAdminCatalogHandlers_UpsertVariant(t *testing.T) {
	var captured services.UpsertVariantCommand
	svc := &stubCatalogService{
		upsertFn: func(_ context.Context, cmd services.UpsertVariantCommand) (services.Variant, error) {
			captured = cmd
			return services.Variant{ID: cmd.VariantID, SKU: cmd.SKU, Name: cmd.Name, Price: cmd.Price, Currency: "INR", Stock: cmd.Stock}, nil
		},
	}
	h := mountRoutes(staff(), NewAdminCatalogHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodPut, "/variants/var-mug", `{"sku":"MUG-1","name":"Mug","price":49900,"stock":12}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.VariantID != "var-mug" || captured.Price != 49900 || captured.Stock != 12 {
		t.Fatalf("unexpected command %+v", captured)
	}
	resp := decodeBody[variantResponse](t, rec)
	if resp.Variant.ID != "var-mug" || resp.Variant.Currency != "INR" {
		t.Fatalf("unexpected variant %+v", resp.Variant)
	}
}

func TestAdminCatalogHandlers_UpsertRejectsOutOfRangePrice(t *testing.T) {
	svc := &stubCatalogService{
		upsertFn: func(context.Context, services.UpsertVariantCommand) (services.Variant, error) {
			return services.Variant{}, fmt.Errorf("%w: price out of range", services.ErrOrderInvalidInput)
		},
	}
	h := mountRoutes(staff(), NewAdminCatalogHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodPut, "/variants/var-1", `{"sku":"S","name":"N","price":9223372036854775807}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_request" {
		t.Fatalf("expected invalid_request, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminCatalogHandlers_GetVariant(t *testing.T) {
	svc := &stubCatalogService{
		getFn: func(_ context.Context, id string) (services.Variant, error) {
			if id == "var-none" {
				return services.Variant{}, services.ErrVariantNotFound
			}
			return services.Variant{ID: id, SKU: "S", Name: "N", Price: 100, Currency: "INR"}, nil
		},
	}
	h := mountRoutes(staff(), NewAdminCatalogHandlers(nil, svc).Routes)

	rec := doRequest(t, h, http.MethodGet, "/variants/var-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[variantResponse](t, rec); resp.Variant.Price != 100 {
		t.Fatalf("unexpected variant %+v", resp.Variant)
	}

	rec = doRequest(t, h, http.MethodGet, "/variants/var-none", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "variant_not_found" {
		t.Fatalf("expected variant_not_found, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminCatalogHandlers_RequireAdminRole(t *testing.T) {
	verifier := tokenVerifierFunc(func(_ context.Context, raw string) (auth.VerifiedToken, error) {
		roles := []any{"user"}
		if raw == "admin-token" {
			roles = []any{"admin"}
		}
		return auth.VerifiedToken{UID: raw, Claims: map[string]any{"role": roles}}, nil
	})
	svc := &stubCatalogService{
		getFn: func(_ context.Context, id string) (services.Variant, error) {
			return services.Variant{ID: id}, nil
		},
	}
	h := mountRoutes(nil, NewAdminCatalogHandlers(auth.NewAuthenticator(verifier), svc).Routes)

	for token, want := range map[string]int{"": http.StatusUnauthorized, "user-token": http.StatusForbidden, "admin-token": http.StatusOK} {
		rec := serveRecorder(h, newAuthedRequest(http.MethodGet, "/variants/var-1", token))
		if rec.Code != want {
			t.Fatalf("token %q: expected %d, got %d", token, want, rec.Code)
		}
	}
}

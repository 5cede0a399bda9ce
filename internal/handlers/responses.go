package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/platform/httpx"
	"github.com/openshop/api/internal/services"
)

const (
	maxJSONBodySize = 16 * 1024
	storeRetryAfter = 5 * time.Second
)

var errEmptyBody = errors.New("request body is required")

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSONBody reads at most maxJSONBodySize bytes into dst and rejects unknown fields.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	if errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
}

// actorFromRequest builds the service actor from the verified identity.
func actorFromRequest(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return services.Actor{UserID: strings.TrimSpace(identity.UID), Admin: identity.IsAdmin()}, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// writeOrderError maps service error kinds to HTTP statuses. Cart-shape failures during checkout
// are the client's to fix and map to 400 rather than 409.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidCartState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart_state", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.Unavailable("store_unavailable", "order store unavailable", storeRetryAfter))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

type totalsPayload struct {
	ItemSubtotal int64 `json:"item_subtotal"`
	Tax          int64 `json:"tax"`
	Shipping     int64 `json:"shipping"`
	Total        int64 `json:"total"`
}

type orderItemPayload struct {
	ID            string `json:"id"`
	VariantID     string `json:"variant_id"`
	SKU           string `json:"sku,omitempty"`
	Name          string `json:"name,omitempty"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	PriceSnapshot int64  `json:"price_snapshot"`
}

type orderPayload struct {
	ID                  string             `json:"id"`
	OrderNumber         string             `json:"order_number"`
	UserID              string             `json:"user_id"`
	Status              string             `json:"status"`
	PaymentStatus       string             `json:"payment_status"`
	PaymentMethod       string             `json:"payment_method"`
	PaymentReference    string             `json:"payment_reference"`
	Currency            string             `json:"currency"`
	Totals              totalsPayload      `json:"totals"`
	Items               []orderItemPayload `json:"items"`
	ShippingAddressID   string             `json:"shipping_address_id"`
	Notes               string             `json:"notes,omitempty"`
	TrackingID          string             `json:"tracking_id,omitempty"`
	CourierName         string             `json:"courier_name,omitempty"`
	EstimatedDeliveryAt string             `json:"estimated_delivery_at,omitempty"`
	Version             int64              `json:"version"`
	CreatedAt           string             `json:"created_at"`
	UpdatedAt           string             `json:"updated_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

type orderPageResponse struct {
	Items      []orderPayload `json:"items"`
	Page       int            `json:"page"`
	Size       int            `json:"size"`
	Total      int64          `json:"total"`
	TotalPages int            `json:"total_pages"`
}

func buildTotals(t services.OrderTotals) totalsPayload {
	return totalsPayload{ItemSubtotal: t.ItemSubtotal, Tax: t.Tax, Shipping: t.Shipping, Total: t.Total}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:            item.ID,
			VariantID:     item.VariantID,
			SKU:           item.SKU,
			Name:          item.Name,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			PriceSnapshot: item.PriceSnapshot,
		})
	}
	payload := orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentMethod:     order.PaymentMethod,
		PaymentReference:  order.PaymentReference,
		Currency:          order.Currency,
		Totals:            buildTotals(order.Totals),
		Items:             items,
		ShippingAddressID: order.ShippingAddressID,
		Notes:             order.Notes,
		TrackingID:        order.TrackingID,
		CourierName:       order.CourierName,
		Version:           order.Version,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
	if order.EstimatedDeliveryAt != nil {
		payload.EstimatedDeliveryAt = formatTime(*order.EstimatedDeliveryAt)
	}
	return payload
}

func buildOrderPayloads(orders []services.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

func buildOrderPage(page services.OrderPage) orderPageResponse {
	return orderPageResponse{
		Items:      buildOrderPayloads(page.Items),
		Page:       page.Page,
		Size:       page.Size,
		Total:      page.Total,
		TotalPages: page.TotalPages(),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func invoiceFileName(orderNumber string) string {
	return fmt.Sprintf("invoice-%s.txt", orderNumber)
}

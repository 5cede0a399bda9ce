package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/openshop/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})

	rec := httptest.NewRecorder()
	WriteError(ctx, rec, NewError("order_not_found", "order\nnot found", http.StatusNotFound))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "order_not_found" || body["message"] != "order not found" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["status"] != float64(http.StatusNotFound) {
		t.Fatalf("unexpected status field %v", body["status"])
	}
	if body["request_id"] != "req-7" || body["trace_id"] != "trace-1" {
		t.Fatalf("missing identifiers %v", body)
	}
}

func TestWriteErrorOmitsEmptyIdentifiers(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, Error{Code: "boom"})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for zero status, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "request_id") || strings.Contains(rec.Body.String(), "trace_id") {
		t.Fatalf("expected identifiers to be omitted, got %s", rec.Body.String())
	}
}

func TestUnavailableSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, Unavailable("store_unavailable", "try later", 1500*time.Millisecond))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
}

func TestNewErrorTruncatesByRune(t *testing.T) {
	err := NewError(strings.Repeat("é", 100), "", http.StatusBadRequest)
	if n := len([]rune(err.Code)); n != codeLimit {
		t.Fatalf("expected %d runes, got %d", codeLimit, n)
	}
}

package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"

	domain "github.com/openshop/api/internal/domain"
)

type fakeIntents struct {
	intent *stripe.PaymentIntent
	err    error
	lastID string
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.lastID = id
	return f.intent, f.err
}

type recordingVerifier struct {
	calls  int
	result bool
}

func (r *recordingVerifier) Verify(context.Context, domain.Order, string) (bool, error) {
	r.calls++
	return r.result, nil
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:       "ord_1",
		Currency: "INR",
		Totals:   domain.OrderTotals{ItemSubtotal: 115000, Tax: 5750, Shipping: 15000, Total: 135750},
	}
}

func TestReferenceVerifier(t *testing.T) {
	v := ReferenceVerifier{Prefix: "TXN"}
	cases := map[string]bool{
		"TXNORD-20250101120000-ABCDEF": true,
		"  TXN123 ":                    true,
		"":                             false,
		"txn123":                       false,
		"PAY123":                       false,
	}
	for ref, want := range cases {
		got, err := v.Verify(context.Background(), sampleOrder(), ref)
		if err != nil {
			t.Fatalf("verify %q: %v", ref, err)
		}
		if got != want {
			t.Fatalf("verify %q: expected %v, got %v", ref, want, got)
		}
	}
}

func TestRouterPrefersLongestPrefix(t *testing.T) {
	fallback := &recordingVerifier{result: false}
	short := &recordingVerifier{result: true}
	long := &recordingVerifier{result: true}

	router, err := NewRouter(fallback, WithRoute("pi", short), WithRoute("pi_", long))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	if ok, _ := router.Verify(context.Background(), sampleOrder(), "pi_123"); !ok {
		t.Fatalf("expected routed verifier to accept")
	}
	if long.calls != 1 || short.calls != 0 {
		t.Fatalf("expected longest prefix route, got long=%d short=%d", long.calls, short.calls)
	}
	if ok, _ := router.Verify(context.Background(), sampleOrder(), "TXN1"); ok {
		t.Fatalf("expected fallback to reject")
	}
	if fallback.calls != 1 {
		t.Fatalf("expected fallback call, got %d", fallback.calls)
	}
}

func TestNewRouterRequiresFallback(t *testing.T) {
	if _, err := NewRouter(nil); err == nil {
		t.Fatalf("expected error for missing fallback")
	}
}

func TestStripeVerifierAcceptsSucceededIntent(t *testing.T) {
	api := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:       "pi_123",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   135750,
		Currency: stripe.Currency("inr"),
	}}
	v, err := NewStripeVerifier(StripeConfig{intents: api})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	ok, err := v.Verify(context.Background(), sampleOrder(), "pi_123")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected intent to verify")
	}
	if api.lastID != "pi_123" {
		t.Fatalf("expected lookup of pi_123, got %q", api.lastID)
	}
}

func TestStripeVerifierRejectsMismatches(t *testing.T) {
	cases := []struct {
		name   string
		intent *stripe.PaymentIntent
	}{
		{name: "not succeeded", intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing, Amount: 135750, Currency: "inr"}},
		{name: "amount differs", intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded, Amount: 100, Currency: "inr"}},
		{name: "currency differs", intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded, Amount: 135750, Currency: "usd"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := NewStripeVerifier(StripeConfig{intents: &fakeIntents{intent: tc.intent}})
			if err != nil {
				t.Fatalf("new verifier: %v", err)
			}
			ok, err := v.Verify(context.Background(), sampleOrder(), "pi_1")
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if ok {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestStripeVerifierMissingIntentIsRejected(t *testing.T) {
	api := &fakeIntents{err: &stripe.Error{HTTPStatusCode: 404, Code: stripe.ErrorCodeResourceMissing}}
	v, _ := NewStripeVerifier(StripeConfig{intents: api})
	ok, err := v.Verify(context.Background(), sampleOrder(), "pi_missing")
	if err != nil || ok {
		t.Fatalf("expected silent rejection, got ok=%v err=%v", ok, err)
	}
}

func TestStripeVerifierPropagatesLookupErrors(t *testing.T) {
	api := &fakeIntents{err: errors.New("network down")}
	v, _ := NewStripeVerifier(StripeConfig{intents: api})
	if _, err := v.Verify(context.Background(), sampleOrder(), "pi_1"); err == nil {
		t.Fatalf("expected lookup error")
	}
}

func TestNewStripeVerifierRequiresKey(t *testing.T) {
	if _, err := NewStripeVerifier(StripeConfig{}); err == nil {
		t.Fatalf("expected api key error")
	}
}

package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/openshop/api/internal/domain"
)

// StripeIntentPrefix marks references that are Stripe PaymentIntent ids.
const StripeIntentPrefix = "pi_"

// StripeLogger defines the logging contract for Stripe lookups.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures the StripeVerifier.
type StripeConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger

	intents stripePaymentIntentAPI
}

// StripeVerifier treats the reference as a PaymentIntent id and accepts it when the intent
// succeeded for the order's amount and currency.
type StripeVerifier struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

// NewStripeVerifier constructs a verifier using the provided configuration.
func NewStripeVerifier(cfg StripeConfig) (*StripeVerifier, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeVerifier{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

func (v *StripeVerifier) Verify(ctx context.Context, order domain.Order, reference string) (bool, error) {
	if v == nil {
		return false, errors.New("stripe: verifier is nil")
	}
	reference = strings.TrimSpace(reference)
	if !strings.HasPrefix(reference, StripeIntentPrefix) {
		return false, nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if v.account != "" {
		params.SetStripeAccount(v.account)
	}
	intent, err := v.intents.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	if intent == nil {
		return false, nil
	}

	ok := intent.Status == stripe.PaymentIntentStatusSucceeded &&
		intent.Amount == order.Totals.Total &&
		strings.EqualFold(string(intent.Currency), order.Currency)
	v.logger(ctx, "stripe.payment_intent.checked", map[string]any{
		"orderId":  order.ID,
		"intentId": intent.ID,
		"status":   string(intent.Status),
		"verified": ok,
	})
	return ok, nil
}

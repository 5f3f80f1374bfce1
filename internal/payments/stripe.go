// Package payments reserves order totals on Stripe when an order is placed,
// captures them once a driver is assigned and releases them on decline.
package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

type StripeClient struct {
	api *client.API
}

func NewStripeClient(apiKey string) *StripeClient {
	return &StripeClient{api: client.New(apiKey, nil)}
}

// NewStripeClientWithBackend points the client at a non-default API URL,
// e.g. stripe-mock.
func NewStripeClientWithBackend(apiKey, url string) *StripeClient {
	b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:           stripe.String(url),
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
	})
	return &StripeClient{api: client.New(apiKey, &stripe.Backends{API: b, Connect: b, Uploads: b})}
}

// Hold creates a manual-capture PaymentIntent for amount minor units and
// returns its id. The customer id is recorded as metadata, not as a Stripe
// customer reference.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	if customerID != "" {
		params.AddMetadata("customer_id", customerID)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe hold: %w", err)
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if _, err := s.api.PaymentIntents.Capture(paymentIntentID, params); err != nil {
		return fmt.Errorf("stripe capture %s: %w", paymentIntentID, err)
	}
	return nil
}

func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := s.api.PaymentIntents.Cancel(paymentIntentID, params); err != nil {
		return fmt.Errorf("stripe cancel %s: %w", paymentIntentID, err)
	}
	return nil
}

// Package stripe adapts the Stripe PaymentIntents API to payment.Processor.
package stripe

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/xenking/lascentlo/internal/domain/payment"
)

// Config configures the Stripe client.
type Config struct {
	SecretKey string
	Currency  string
	// BaseURL overrides the API endpoint, e.g. for stripe-mock.
	BaseURL    string
	HTTPClient *http.Client
}

var _ payment.Processor = (*Processor)(nil)

// Processor creates and retrieves Stripe payment intents.
type Processor struct {
	api      *client.API
	currency string
}

// New returns a Processor for cfg.
func New(cfg Config) (*Processor, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is empty")
	}
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	var backends *stripe.Backends
	if cfg.BaseURL != "" || cfg.HTTPClient != nil {
		bc := &stripe.BackendConfig{
			HTTPClient:        cfg.HTTPClient,
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		}
		if cfg.BaseURL != "" {
			bc.URL = stripe.String(cfg.BaseURL)
		}
		api := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
		backends = &stripe.Backends{API: api, Connect: api, Uploads: api}
	}

	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)
	return &Processor{api: sc, currency: currency}, nil
}

// CreateIntent creates a card payment intent for p.Amount minor units.
func (p *Processor) CreateIntent(ctx context.Context, in payment.CreateIntentParams) (*payment.Intent, error) {
	currency := in.Currency
	if currency == "" {
		currency = p.currency
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify(ctx, err, "create payment intent")
	}
	return toIntent(pi), nil
}

// GetIntent retrieves the current state of a payment intent.
func (p *Processor) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, classify(ctx, err, "get payment intent")
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) *payment.Intent {
	return &payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       payment.IntentStatus(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}
}

// classify maps transport failures, timeouts and Stripe 5xx/429 responses to
// payment.ErrUnavailable and everything else to payment.ErrProcessor.
func classify(ctx context.Context, err error, op string) error {
	var (
		stripeErr *stripe.Error
		netErr    net.Error
	)
	switch {
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, payment.ErrUnavailable, err)
	case errors.As(err, &stripeErr):
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%s: %w: %w", op, payment.ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w: %w", op, payment.ErrProcessor, err)
	case errors.As(err, &netErr):
		return fmt.Errorf("%s: %w: %w", op, payment.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, payment.ErrProcessor, err)
	}
}

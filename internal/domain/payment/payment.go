// Package payment describes the external payment-processor capability used by
// checkout and payment confirmation.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// IntentStatus mirrors the processor-side lifecycle of a payment intent.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentCanceled              IntentStatus = "canceled"
	IntentSucceeded             IntentStatus = "succeeded"
)

var (
	// ErrProcessor wraps any non-transient failure reported by the processor.
	ErrProcessor = errors.New("payment processor error")
	// ErrUnavailable marks a processor call that timed out or could not reach
	// the processor. Callers may retry.
	ErrUnavailable = errors.New("payment processor unavailable")
)

// IntegrationMarker tags every intent this service creates.
const IntegrationMarker = "accept_a_payment"

// Intent is the processor's representation of an in-progress charge.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       int64
	Currency     string
}

// Settled reports whether the charge completed.
func (i *Intent) Settled() bool {
	return i.Status == IntentSucceeded
}

// CreateIntentParams describes a charge request. Amount is in the smallest
// currency unit; an empty Currency selects the processor's default.
type CreateIntentParams struct {
	Amount   int64
	Currency string
	Metadata map[string]string
}

// Processor creates and inspects payment intents.
type Processor interface {
	CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}

// ToMinorUnits converts a two-decimal amount into cents, rounding half away
// from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

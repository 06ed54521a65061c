// Package notify defines the lifecycle events emitted by the storefront and
// the relay that delivers them from the transactional outbox to sinks such as
// email or a message broker.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	OrderConfirmation   Type = "order.confirmation"
	PaymentConfirmation Type = "payment.confirmation"
	ShippingUpdate      Type = "order.shipped"
	RefundRequired      Type = "payment.refund_required"
	PasswordReset       Type = "user.password_reset"
	EmailVerification   Type = "user.email_verification"
)

// TokenKey is the payload key of the raw one-time token carried by password
// reset and verification events. Only the email sink may see it.
const TokenKey = "token"

// Event is a single outbox entry. Payload must be JSON-serializable.
type Event struct {
	ID        string
	Type      Type
	Recipient string
	OrderID   string
	Payload   map[string]any
	CreatedAt time.Time
	Attempts  int
}

// NewEvent builds an event with a fresh identifier.
func NewEvent(t Type, recipient, orderID string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Recipient: recipient,
		OrderID:   orderID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Redacted returns a copy of e without the one-time token.
func (e Event) Redacted() Event {
	if _, ok := e.Payload[TokenKey]; !ok {
		return e
	}
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		if k != TokenKey {
			payload[k] = v
		}
	}
	e.Payload = payload
	return e
}

// Sink delivers an event to the outside world. Implementations must be safe
// to call again for an event they already delivered.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// Outbox is the durable queue events are written to and drained from.
type Outbox interface {
	Insert(ctx context.Context, evt Event) error
	// Claim leases up to limit undelivered events with fewer than maxAttempts
	// failures. Claimed events are invisible to other relays until lease expires.
	Claim(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

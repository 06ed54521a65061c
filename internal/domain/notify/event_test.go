package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_Redacted(t *testing.T) {
	evt := NewEvent(EmailVerification, "jane@example.com", "", map[string]any{
		TokenKey:    "secret",
		"firstName": "Jane",
	})

	r := evt.Redacted()
	assert.Equal(t, map[string]any{"firstName": "Jane"}, r.Payload)
	assert.Equal(t, evt.ID, r.ID)
	assert.Equal(t, "secret", evt.Payload[TokenKey])

	plain := NewEvent(OrderConfirmation, "jane@example.com", "o1", map[string]any{"total": "10.00"})
	assert.Equal(t, plain.Payload, plain.Redacted().Payload)
}

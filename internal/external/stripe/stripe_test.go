package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/lascentlo/internal/domain/payment"
)

func newTestProcessor(t *testing.T, h http.HandlerFunc) *Processor {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	p, err := New(Config{SecretKey: "sk_test_123", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return p
}

func TestProcessor_CreateIntent(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "17598", r.FormValue("amount"))
		assert.Equal(t, "usd", r.FormValue("currency"))
		assert.Equal(t, "order-1", r.FormValue("metadata[order_id]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","amount":17598,"currency":"usd",
			"status":"requires_payment_method","client_secret":"pi_1_secret_x"}`))
	})

	intent, err := p.CreateIntent(context.Background(), payment.CreateIntentParams{
		Amount:   17598,
		Metadata: map[string]string{"order_id": "order-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "pi_1_secret_x", intent.ClientSecret)
	assert.Equal(t, payment.IntentRequiresPaymentMethod, intent.Status)
	assert.False(t, intent.Settled())
}

func TestProcessor_GetIntent(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","amount":1000,"currency":"usd","status":"succeeded"}`))
	})

	intent, err := p.GetIntent(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.True(t, intent.Settled())
}

func TestProcessor_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "card declined", status: http.StatusPaymentRequired, want: payment.ErrProcessor},
		{name: "invalid request", status: http.StatusBadRequest, want: payment.ErrProcessor},
		{name: "stripe outage", status: http.StatusInternalServerError, want: payment.ErrUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, want: payment.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
			})
			_, err := p.GetIntent(context.Background(), "pi_1")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProcessor_Timeout(t *testing.T) {
	release := make(chan struct{})
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.CreateIntent(ctx, payment.CreateIntentParams{Amount: 100})
	require.ErrorIs(t, err, payment.ErrUnavailable)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

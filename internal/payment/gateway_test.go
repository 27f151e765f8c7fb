package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

func TestCreateCheckout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment-requests", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("x-api-key"))

		var req struct {
			OrderCode   int64  `json:"order_code"`
			AmountCents int64  `json:"amount"`
			Description string `json:"description"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(9001), req.OrderCode)
		assert.Equal(t, int64(25650), req.AmountCents)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"checkout_url": "https://pay.example/9001",
			"status":       "PENDING",
		})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "key-123", "secret")
	url, err := g.CreateCheckout(context.Background(), 25650, "2 seats st-1", 9001)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/9001", url)
}

func TestGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment-requests/9001", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_code":     9001,
			"status":         "PAID",
			"transaction_id": "txn-77",
		})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "key-123", "secret")
	status, txn, err := g.GetStatus(context.Background(), 9001)
	require.NoError(t, err)
	assert.Equal(t, model.GatewayPaid, status)
	assert.Equal(t, "txn-77", txn)
}

func TestServerErrorsMapToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "key-123", "secret")
	_, err := g.CreateCheckout(context.Background(), 100, "x", 1)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	_, _, err = g.GetStatus(context.Background(), 1)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestUnreachableHostMapsToUnavailable(t *testing.T) {
	g := NewGateway("http://127.0.0.1:1", "key-123", "secret")
	_, err := g.CreateCheckout(context.Background(), 100, "x", 1)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestClientErrorsAreNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "key-123", "secret")
	_, err := g.CreateCheckout(context.Background(), 100, "x", 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGatewayUnavailable)
}

func TestSignatureRoundTrip(t *testing.T) {
	g := NewGateway("http://unused", "key", "checksum-secret")
	body := []byte(`{"order_code":9001,"status":"PAID"}`)

	sig := g.Sign(body)
	assert.True(t, g.VerifySignature(body, sig))
	assert.False(t, g.VerifySignature(body, sig[:10]))
	assert.False(t, g.VerifySignature([]byte(`tampered`), sig))

	other := NewGateway("http://unused", "key", "different-secret")
	assert.False(t, other.VerifySignature(body, sig))
}

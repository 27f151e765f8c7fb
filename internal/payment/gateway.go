// Package payment bridges the booking lifecycle to the external
// payment gateway: it creates checkout links, verifies and applies
// webhook notifications, and polls the gateway on demand when the
// webhook is late.  Both notification paths funnel into one idempotent
// entry point so their behavior cannot diverge.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/monitoring"
)

// ErrGatewayUnavailable means the provider could not be reached or
// answered with a server error.  It is recoverable and must never be
// treated as a failed payment; callers surface a retry affordance.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrInvalidSignature means a webhook payload failed HMAC verification
// and was discarded.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Gateway is the HTTP client for the external payment provider.
type Gateway struct {
	baseURL     string
	apiKey      string
	checksumKey []byte
	client      *http.Client
	log         *logrus.Entry
}

// NewGateway builds a gateway client.  checksumKey signs/verifies
// webhook payloads; apiKey authenticates outbound calls.
func NewGateway(baseURL, apiKey, checksumKey string) *Gateway {
	return &Gateway{
		baseURL:     baseURL,
		apiKey:      apiKey,
		checksumKey: []byte(checksumKey),
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         logrus.WithField("component", "gateway"),
	}
}

type checkoutRequest struct {
	OrderCode   int64  `json:"order_code"`
	AmountCents int64  `json:"amount"`
	Description string `json:"description"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"status"`
}

// CreateCheckout opens a payment link for the given order code and
// returns its URL.  Transport failures and 5xx answers map to
// ErrGatewayUnavailable.
func (g *Gateway) CreateCheckout(ctx context.Context, amountCents int64, description string, orderCode int64) (string, error) {
	body, err := json.Marshal(checkoutRequest{OrderCode: orderCode, AmountCents: amountCents, Description: description})
	if err != nil {
		return "", err
	}
	var out checkoutResponse
	if err := g.do(ctx, http.MethodPost, "/v1/payment-requests", body, &out); err != nil {
		monitoring.TrackGateway("create_checkout", "error")
		return "", err
	}
	monitoring.TrackGateway("create_checkout", "ok")
	return out.CheckoutURL, nil
}

type statusResponse struct {
	OrderCode     int64  `json:"order_code"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// GetStatus polls the provider for the current status of an order.
// The transaction id is only meaningful for terminal statuses.
func (g *Gateway) GetStatus(ctx context.Context, orderCode int64) (model.GatewayStatus, string, error) {
	var out statusResponse
	path := fmt.Sprintf("/v1/payment-requests/%d", orderCode)
	if err := g.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		monitoring.TrackGateway("get_status", "error")
		return "", "", err
	}
	monitoring.TrackGateway("get_status", "ok")
	return model.GatewayStatus(out.Status), out.TransactionID, nil
}

func (g *Gateway) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.WithError(err).Warn("gateway request failed")
		return ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		g.log.WithField("status", resp.StatusCode).Warn("gateway server error")
		return ErrGatewayUnavailable
	case resp.StatusCode >= 400:
		return fmt.Errorf("gateway rejected request: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// VerifySignature checks the HMAC-SHA256 hex signature the provider
// attaches to webhook deliveries against the raw request body.  The
// comparison is constant-time.
func (g *Gateway) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, g.checksumKey)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign produces the signature for a payload.  Exposed for tests and
// for the sandbox tool that replays webhooks.
func (g *Gateway) Sign(body []byte) string {
	mac := hmac.New(sha256.New, g.checksumKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

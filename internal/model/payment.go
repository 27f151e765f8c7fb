package model

import "time"

// GatewayStatus is the payment provider's view of one payment attempt.
// PENDING and PROCESSING are non-terminal; PAID, FAILED and CANCELLED
// are terminal and freeze the intent.
type GatewayStatus string

const (
	GatewayPending    GatewayStatus = "PENDING"
	GatewayProcessing GatewayStatus = "PROCESSING"
	GatewayPaid       GatewayStatus = "PAID"
	GatewayFailed     GatewayStatus = "FAILED"
	GatewayCancelled  GatewayStatus = "CANCELLED"
)

// Terminal reports whether the provider has given a final answer for
// this status.  Only terminal statuses may drive a booking transition.
func (s GatewayStatus) Terminal() bool {
	return s == GatewayPaid || s == GatewayFailed || s == GatewayCancelled
}

// PaymentIntent correlates a booking with one payment attempt at the
// external gateway.  OrderCode is the externally visible idempotency
// key; all webhook and polling reconciliation is keyed by it.  The
// record is immutable once GatewayStatus is terminal.
type PaymentIntent struct {
	OrderCode     int64         `json:"order_code"`
	BookingID     string        `json:"booking_id"`
	AmountCents   int64         `json:"amount_cents"`
	GatewayStatus GatewayStatus `json:"gateway_status"`
	CheckoutURL   string        `json:"checkout_url,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

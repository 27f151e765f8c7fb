package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/monitoring"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
	"github.com/iliyamo/cinema-booking-engine/internal/utils"
)

// BookingFinalizer is the slice of the booking orchestrator the
// reconciler drives.  Both methods are idempotent on the orchestrator
// side.
type BookingFinalizer interface {
	Get(ctx context.Context, bookingID string) (*model.Booking, error)
	Confirm(ctx context.Context, bookingID, transactionID string) (*model.Booking, error)
	Cancel(ctx context.Context, bookingID, reason string) (*model.Booking, error)
}

// GatewayClient abstracts the provider HTTP client for tests.
type GatewayClient interface {
	CreateCheckout(ctx context.Context, amountCents int64, description string, orderCode int64) (string, error)
	GetStatus(ctx context.Context, orderCode int64) (model.GatewayStatus, string, error)
	VerifySignature(body []byte, signature string) bool
}

// IntentStore abstracts the payment intent repository.
type IntentStore interface {
	Create(ctx context.Context, pi *model.PaymentIntent) error
	GetByOrderCode(ctx context.Context, orderCode int64) (*model.PaymentIntent, error)
	GetByBookingID(ctx context.Context, bookingID string) (*model.PaymentIntent, error)
	UpdateStatus(ctx context.Context, orderCode int64, status model.GatewayStatus) error
}

// Reconciler brings booking state in line with the gateway's
// authoritative payment status.  The webhook path and the polling
// fallback both terminate in ApplyOutcome, the single idempotent entry
// point, so the two paths cannot diverge.
type Reconciler struct {
	gateway  GatewayClient
	intents  IntentStore
	bookings BookingFinalizer
	log      *logrus.Entry
}

// NewReconciler wires a reconciler.  The finalizer is attached after
// construction (AttachFinalizer) because orchestrator and reconciler
// reference each other.
func NewReconciler(gw GatewayClient, intents IntentStore) *Reconciler {
	return &Reconciler{
		gateway: gw,
		intents: intents,
		log:     logrus.WithField("component", "reconciler"),
	}
}

// AttachFinalizer sets the booking orchestrator the reconciler reports
// outcomes to.  Must be called before any webhook or poll is served.
func (r *Reconciler) AttachFinalizer(f BookingFinalizer) { r.bookings = f }

// CreateIntent opens a payment link for a booking and persists the
// intent keyed by a freshly generated globally unique order code.
func (r *Reconciler) CreateIntent(ctx context.Context, bookingID string, amountCents int64) (*model.PaymentIntent, error) {
	orderCode := utils.NewOrderCode()
	description := fmt.Sprintf("booking %s", bookingID)

	url, err := r.gateway.CreateCheckout(ctx, amountCents, description, orderCode)
	if err != nil {
		return nil, err
	}
	pi := &model.PaymentIntent{
		OrderCode:     orderCode,
		BookingID:     bookingID,
		AmountCents:   amountCents,
		GatewayStatus: model.GatewayPending,
		CheckoutURL:   url,
	}
	if err := r.intents.Create(ctx, pi); err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"booking_id": bookingID, "order_code": orderCode}).
		Info("payment intent created")
	return pi, nil
}

// WebhookPayload is the provider's notification body after JSON
// decoding.  Unknown fields are ignored; unknown shapes are rejected
// before reaching ApplyOutcome.
type WebhookPayload struct {
	OrderCode     int64  `json:"order_code"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// OnWebhook verifies the delivery signature and applies the outcome.
// The returned bool is true when the notification changed state and
// false when it was a duplicate for an already-terminal booking.
func (r *Reconciler) OnWebhook(ctx context.Context, body []byte, signature string) (bool, error) {
	if !r.gateway.VerifySignature(body, signature) {
		monitoring.TrackWebhook("rejected")
		return false, ErrInvalidSignature
	}
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		monitoring.TrackWebhook("rejected")
		return false, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if p.OrderCode == 0 || p.Status == "" {
		monitoring.TrackWebhook("rejected")
		return false, errors.New("malformed webhook payload: missing order_code or status")
	}
	applied, err := r.ApplyOutcome(ctx, p.OrderCode, model.GatewayStatus(p.Status), p.TransactionID)
	if err != nil {
		monitoring.TrackWebhook("error")
		return false, err
	}
	if applied {
		monitoring.TrackWebhook("applied")
	} else {
		monitoring.TrackWebhook("ignored")
	}
	return applied, nil
}

// Poll asks the gateway for the current status of a booking's payment
// and applies it if terminal.  A non-terminal answer changes nothing.
// ErrGatewayUnavailable propagates untouched so the caller can present
// a retry affordance instead of a false failure.
func (r *Reconciler) Poll(ctx context.Context, bookingID string) (model.GatewayStatus, error) {
	pi, err := r.intents.GetByBookingID(ctx, bookingID)
	if err != nil {
		return "", err
	}
	status, transactionID, err := r.gateway.GetStatus(ctx, pi.OrderCode)
	if err != nil {
		return "", err
	}
	if !status.Terminal() {
		return status, nil
	}
	if _, err := r.ApplyOutcome(ctx, pi.OrderCode, status, transactionID); err != nil {
		return status, err
	}
	return status, nil
}

// ApplyOutcome is the idempotent reconciliation core shared by webhook
// and poll.  Non-terminal statuses are ignored.  For terminal
// statuses it looks up the intent, records the status, and drives the
// orchestrator: PAID confirms, FAILED/CANCELLED cancels.  If the
// booking is already terminal the call reports applied=false and no
// side effects run (duplicate-safe).
func (r *Reconciler) ApplyOutcome(ctx context.Context, orderCode int64, status model.GatewayStatus, transactionID string) (bool, error) {
	if !status.Terminal() {
		return false, nil
	}
	pi, err := r.intents.GetByOrderCode(ctx, orderCode)
	if err != nil {
		return false, err
	}
	log := r.log.WithFields(logrus.Fields{"order_code": orderCode, "booking_id": pi.BookingID, "status": status})

	// Record the gateway status first; a stale update means another
	// delivery already froze the intent, which is fine.
	if err := r.intents.UpdateStatus(ctx, orderCode, status); err != nil && !errors.Is(err, repository.ErrStaleUpdate) {
		return false, err
	}

	b, err := r.bookings.Get(ctx, pi.BookingID)
	if err != nil {
		return false, err
	}
	if b.Terminal() {
		if status == model.GatewayPaid && b.BookingStatus == model.BookingCancelled {
			// payment completed after the booking was cancelled; do not
			// guess at a fix, leave it to the out-of-band refund path
			log.Error("paid outcome for cancelled booking; manual reconciliation required")
		} else {
			log.Info("duplicate payment notification ignored")
		}
		return false, nil
	}

	if transactionID == "" {
		transactionID = fmt.Sprintf("order-%d", orderCode)
	}
	switch status {
	case model.GatewayPaid:
		if _, err := r.bookings.Confirm(ctx, pi.BookingID, transactionID); err != nil {
			return false, err
		}
		log.Info("payment confirmed")
	default: // FAILED, CANCELLED
		if _, err := r.bookings.Cancel(ctx, pi.BookingID, "payment "+string(status)); err != nil {
			return false, err
		}
		log.Info("payment failed; booking cancelled")
	}
	return true, nil
}

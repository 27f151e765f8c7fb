package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// PaymentIntentRepo stores payment intents keyed by order code, with a
// secondary lookup by booking id.  An intent is one-to-one with a
// booking while pending and immutable once the gateway reported a
// terminal state; UpdateStatus enforces that in SQL.
type PaymentIntentRepo struct {
	db *sql.DB
}

// NewPaymentIntentRepo returns a PaymentIntentRepo bound to the given
// database.
func NewPaymentIntentRepo(db *sql.DB) *PaymentIntentRepo { return &PaymentIntentRepo{db: db} }

// Create inserts a new intent.  Duplicate order codes fail on the
// primary key, which is exactly the idempotency guarantee the order
// code exists to provide.
func (r *PaymentIntentRepo) Create(ctx context.Context, pi *model.PaymentIntent) error {
	const q = `INSERT INTO payment_intents
		(order_code, booking_id, amount_cents, gateway_status, checkout_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	pi.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, q,
		pi.OrderCode, pi.BookingID, pi.AmountCents, string(pi.GatewayStatus), pi.CheckoutURL, pi.CreatedAt)
	return err
}

// GetByOrderCode fetches the intent for one order code.
func (r *PaymentIntentRepo) GetByOrderCode(ctx context.Context, orderCode int64) (*model.PaymentIntent, error) {
	const q = `SELECT order_code, booking_id, amount_cents, gateway_status, checkout_url, created_at
		FROM payment_intents WHERE order_code = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, q, orderCode))
}

// GetByBookingID fetches the most recent intent for a booking.
func (r *PaymentIntentRepo) GetByBookingID(ctx context.Context, bookingID string) (*model.PaymentIntent, error) {
	const q = `SELECT order_code, booking_id, amount_cents, gateway_status, checkout_url, created_at
		FROM payment_intents WHERE booking_id = ? ORDER BY created_at DESC LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, bookingID))
}

// UpdateStatus records the gateway's status for an intent.  Rows whose
// status is already terminal are never touched, keeping terminal
// intents immutable; ErrStaleUpdate signals the caller hit one.
func (r *PaymentIntentRepo) UpdateStatus(ctx context.Context, orderCode int64, status model.GatewayStatus) error {
	const q = `UPDATE payment_intents SET gateway_status = ?
		WHERE order_code = ? AND gateway_status IN (?, ?)`
	res, err := r.db.ExecContext(ctx, q, string(status), orderCode,
		string(model.GatewayPending), string(model.GatewayProcessing))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleUpdate
	}
	return nil
}

func (r *PaymentIntentRepo) scanOne(row *sql.Row) (*model.PaymentIntent, error) {
	var (
		pi     model.PaymentIntent
		status string
		url    sql.NullString
	)
	err := row.Scan(&pi.OrderCode, &pi.BookingID, &pi.AmountCents, &status, &url, &pi.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	pi.GatewayStatus = model.GatewayStatus(status)
	pi.CheckoutURL = url.String
	return &pi, nil
}

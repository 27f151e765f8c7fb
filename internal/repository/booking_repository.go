package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// BookingRepo stores booking aggregates.  Bookings are never deleted;
// terminal transitions only flip status columns so the audit trail
// survives.  Seats belonging to a booking live in booking_seats, one
// row per seat with the price charged (denormalized for audit).  All
// timestamps are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions
// spanning multiple repositories.
func (r *BookingRepo) DB() *sql.DB { return r.db }

// Create inserts the booking and its seat rows in one transaction.
// seatPrices maps seat id to the price charged; it must cover every
// seat in the booking.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking, seatPrices map[string]int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	combos, err := json.Marshal(b.Combos)
	if err != nil {
		return err
	}
	const q = `INSERT INTO bookings
		(id, showtime_id, holder_id, combos, voucher_id, customer_name, customer_email, customer_phone,
		 total_cents, payment_status, booking_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, q,
		b.ID, b.ShowtimeID, b.HolderID, string(combos), nullable(b.VoucherID),
		b.Customer.Name, b.Customer.Email, b.Customer.Phone,
		b.TotalCents, string(b.PaymentStatus), string(b.BookingStatus), now, now,
	); err != nil {
		return err
	}

	const sq = `INSERT INTO booking_seats (booking_id, showtime_id, seat_id, price_cents) VALUES (?, ?, ?, ?)`
	for _, seatID := range b.SeatIDs {
		if _, err := tx.ExecContext(ctx, sq, b.ID, b.ShowtimeID, seatID, seatPrices[seatID]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByID fetches one booking with its seat rows.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	const q = `SELECT id, showtime_id, holder_id, combos, voucher_id, customer_name, customer_email,
		customer_phone, total_cents, payment_status, booking_status, transaction_id, cancel_reason,
		created_at, updated_at FROM bookings WHERE id = ?`
	var (
		b         model.Booking
		combos    string
		voucher   sql.NullString
		txnID     sql.NullString
		reason    sql.NullString
		payStatus string
		bkStatus  string
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.ShowtimeID, &b.HolderID, &combos, &voucher,
		&b.Customer.Name, &b.Customer.Email, &b.Customer.Phone,
		&b.TotalCents, &payStatus, &bkStatus, &txnID, &reason,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if combos != "" {
		if err := json.Unmarshal([]byte(combos), &b.Combos); err != nil {
			return nil, err
		}
	}
	b.VoucherID = voucher.String
	b.TransactionID = txnID.String
	b.CancelReason = reason.String
	b.PaymentStatus = model.PaymentStatus(payStatus)
	b.BookingStatus = model.BookingStatus(bkStatus)

	const sq = `SELECT seat_id FROM booking_seats WHERE booking_id = ? ORDER BY seat_id`
	rows, err := r.db.QueryContext(ctx, sq, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seatID string
		if err := rows.Scan(&seatID); err != nil {
			return nil, err
		}
		b.SeatIDs = append(b.SeatIDs, seatID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &b, nil
}

// MarkConfirmed flips a pending booking to CONFIRMED/COMPLETED with the
// gateway transaction id.  The update is conditional on the booking
// still being pending; ErrStaleUpdate means it already moved and the
// caller must re-read to learn the actual state.
func (r *BookingRepo) MarkConfirmed(ctx context.Context, id, transactionID string) error {
	const q = `UPDATE bookings
		SET booking_status = ?, payment_status = ?, transaction_id = ?, updated_at = ?
		WHERE id = ? AND booking_status = ?`
	res, err := r.db.ExecContext(ctx, q,
		string(model.BookingConfirmed), string(model.PaymentCompleted), transactionID,
		time.Now().UTC(), id, string(model.BookingPending))
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

// MarkCancelled flips a pending booking to CANCELLED with the given
// payment outcome and reason.  Conditional on the booking still being
// pending, like MarkConfirmed.
func (r *BookingRepo) MarkCancelled(ctx context.Context, id string, payment model.PaymentStatus, reason string) error {
	const q = `UPDATE bookings
		SET booking_status = ?, payment_status = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ? AND booking_status = ?`
	res, err := r.db.ExecContext(ctx, q,
		string(model.BookingCancelled), string(payment), reason,
		time.Now().UTC(), id, string(model.BookingPending))
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

// PendingByHolderAndShowtime lists pending bookings for a holder on a
// showtime.  Used when a reserved hold expires to find the abandoned
// booking that must be cancelled with it.
func (r *BookingRepo) PendingByHolderAndShowtime(ctx context.Context, holderID, showtimeID string) ([]string, error) {
	const q = `SELECT id FROM bookings WHERE holder_id = ? AND showtime_id = ? AND booking_status = ?`
	rows, err := r.db.QueryContext(ctx, q, holderID, showtimeID, string(model.BookingPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

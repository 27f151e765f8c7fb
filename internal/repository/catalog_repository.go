package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// CatalogRepo reads showtime, seat, combo and voucher definitions
// owned by the catalog collaborator.  The booking core never writes
// these tables; they are consumed read-only for ledger bootstrap and
// pricing.
type CatalogRepo struct {
	db *sql.DB
}

// NewCatalogRepo returns a CatalogRepo bound to the given database.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

// ShowtimeExists reports whether a showtime is scheduled.
func (r *CatalogRepo) ShowtimeExists(ctx context.Context, showtimeID string) (bool, error) {
	const q = `SELECT 1 FROM showtimes WHERE id = ?`
	var one int
	err := r.db.QueryRowContext(ctx, q, showtimeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SeatsByShowtime returns the full seat map of a showtime with static
// pricing.  ErrShowtimeNotFound when the showtime has no seats at all.
func (r *CatalogRepo) SeatsByShowtime(ctx context.Context, showtimeID string) ([]model.Seat, error) {
	const q = `SELECT seat_id, row_label, seat_number, category, price_cents
		FROM showtime_seats WHERE showtime_id = ? ORDER BY row_label, seat_number`
	rows, err := r.db.QueryContext(ctx, q, showtimeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []model.Seat
	for rows.Next() {
		s := model.Seat{ShowtimeID: showtimeID}
		if err := rows.Scan(&s.SeatID, &s.Row, &s.Number, &s.Category, &s.PriceCents); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(seats) == 0 {
		return nil, ErrShowtimeNotFound
	}
	return seats, nil
}

// ActiveShowtimes lists showtimes whose seat maps belong in the
// ledger: everything that has not started yet, plus a grace window
// after the start so an in-flight checkout on a just-started screening
// can still finalize before the showtime is evicted.
func (r *CatalogRepo) ActiveShowtimes(ctx context.Context) ([]string, error) {
	const q = `SELECT id FROM showtimes WHERE starts_at > NOW() - INTERVAL 3 HOUR ORDER BY starts_at`
	rows, err := r.db.QueryContext(ctx, q)
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

// CombosByIDs resolves combo pricing for the given ids.  Unknown or
// inactive combos are simply absent from the result; the caller
// decides whether that is an error.
func (r *CatalogRepo) CombosByIDs(ctx context.Context, ids []string) (map[string]model.Combo, error) {
	out := make(map[string]model.Combo, len(ids))
	const q = `SELECT id, name, price_cents, active FROM combos WHERE id = ?`
	for _, id := range ids {
		var c model.Combo
		err := r.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.Name, &c.PriceCents, &c.Active)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.Active {
			out[c.ID] = c
		}
	}
	return out, nil
}

// VoucherByID fetches one voucher.
func (r *CatalogRepo) VoucherByID(ctx context.Context, id string) (*model.Voucher, error) {
	const q = `SELECT id, code, kind, value, active, expires_at FROM vouchers WHERE id = ?`
	var (
		v    model.Voucher
		kind string
		exp  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(&v.ID, &v.Code, &kind, &v.Value, &v.Active, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Kind = model.VoucherKind(kind)
	if exp.Valid {
		v.ExpiresAt = exp.Time.UTC()
	}
	return &v, nil
}

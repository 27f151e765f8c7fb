package model

import "time"

// PaymentStatus tracks the gateway-facing side of a booking.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// BookingStatus tracks the booking aggregate itself.  Confirmed and
// cancelled are terminal; bookings are never deleted, only marked
// terminal, to preserve audit history.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// ComboLine is one concession combo attached to a booking.
type ComboLine struct {
	ComboID  string `json:"combo_id"`
	Quantity int    `json:"quantity"`
}

// CustomerInfo carries the contact details collected at checkout.  The
// booking core does not own customer accounts; this is a denormalized
// copy for ticket delivery.
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Booking is the aggregate for one checkout attempt.  SeatIDs is fixed
// at creation and never changes.  Invariant: BookingStatus=CONFIRMED
// implies PaymentStatus=COMPLETED implies every seat in SeatIDs is
// booked in the ledger with this booking's holder.
type Booking struct {
	ID            string        `json:"id"`
	ShowtimeID    string        `json:"showtime_id"`
	HolderID      string        `json:"holder_id"`
	SeatIDs       []string      `json:"seat_ids"`
	Combos        []ComboLine   `json:"combos,omitempty"`
	VoucherID     string        `json:"voucher_id,omitempty"`
	Customer      CustomerInfo  `json:"customer"`
	TotalCents    int64         `json:"total_cents"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	BookingStatus BookingStatus `json:"booking_status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	CancelReason  string        `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Terminal reports whether the booking has reached a final state.
func (b *Booking) Terminal() bool {
	return b.BookingStatus == BookingConfirmed || b.BookingStatus == BookingCancelled
}

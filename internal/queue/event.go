// Package queue defines message payloads exchanged over the message
// broker plus the publisher and consumer for the booking.confirmed
// queue.
package queue

// BookingConfirmedEvent is published when a booking is confirmed.  It
// carries enough for downstream consumers (email/QR delivery,
// analytics) to act without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID     string   `json:"booking_id"`
	ShowtimeID    string   `json:"showtime_id"`
	HolderID      string   `json:"holder_id"`
	SeatIDs       []string `json:"seat_ids"`
	CustomerName  string   `json:"customer_name"`
	CustomerEmail string   `json:"customer_email"`
	TotalCents    int64    `json:"total_cents"`
	TransactionID string   `json:"transaction_id"`
	ConfirmedAt   string   `json:"confirmed_at"`
}

package model

import "time"

// SeatStatus enumerates the lifecycle states of a seat within one
// showtime.  Transitions between states are enforced exclusively by
// the hold coordinator; no other component mutates seat state.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available" // no active hold
	SeatSelected  SeatStatus = "selected"  // short-lived hold while the viewer picks seats
	SeatReserved  SeatStatus = "reserved"  // longer-lived hold while checkout runs
	SeatBooked    SeatStatus = "booked"    // terminal; confirmed sale, never auto-reverts
)

// Seat describes the static identity and pricing of one seat in a
// showtime.  Seats are defined by the catalog collaborator when a
// showtime is scheduled and are immutable afterwards.
//
// Fields:
//  ShowtimeID – showtime this seat belongs to.
//  SeatID     – stable seat identifier within the showtime.
//  Row        – row label (e.g. "A").
//  Number     – seat number within the row.
//  Category   – pricing category (e.g. "standard", "vip").
//  PriceCents – price in cents for this seat at this showtime.
type Seat struct {
	ShowtimeID string
	SeatID     string
	Row        string
	Number     int
	Category   string
	PriceCents int64
}

// SeatHold is the authoritative per-(showtime, seat) ownership record
// held by the seat ledger.  Exactly one SeatHold exists per seat at any
// time.  Version increases monotonically with every committed mutation
// and is the compare-and-swap token for optimistic concurrency.
//
// HolderID is empty while the seat is available.  ExpiresAt is the
// zero time for available and booked seats; booked is terminal and
// carries no deadline.
type SeatHold struct {
	ShowtimeID string     `json:"showtime_id"`
	SeatID     string     `json:"seat_id"`
	Status     SeatStatus `json:"status"`
	HolderID   string     `json:"holder_id,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at,omitempty"`
	Version    uint64     `json:"version"`
}

// Expired reports whether the hold carries a deadline that has already
// passed at the given instant.  Available and booked holds never expire.
func (h SeatHold) Expired(now time.Time) bool {
	if h.Status != SeatSelected && h.Status != SeatReserved {
		return false
	}
	return !h.ExpiresAt.After(now)
}

// HeldBy reports whether the hold is an active (selected or reserved)
// claim owned by the given holder.
func (h SeatHold) HeldBy(holderID string) bool {
	return (h.Status == SeatSelected || h.Status == SeatReserved) && h.HolderID == holderID
}

// Package repository provides MySQL persistence for bookings and
// payment intents plus read-only access to the catalog collaborator's
// tables.  Sentinel errors defined here let higher layers distinguish
// failure scenarios without string matching.
package repository

import "errors"

// ErrBookingNotFound is returned when a booking id has no row.
var ErrBookingNotFound = errors.New("booking not found")

// ErrIntentNotFound is returned when no payment intent matches the
// given order code or booking id.
var ErrIntentNotFound = errors.New("payment intent not found")

// ErrShowtimeNotFound is returned when a showtime id is unknown to the
// catalog.
var ErrShowtimeNotFound = errors.New("showtime not found")

// ErrVoucherNotFound is returned when a voucher id is unknown.
var ErrVoucherNotFound = errors.New("voucher not found")

// ErrStaleUpdate is returned when a conditional status update matched
// no row, meaning the record moved under the caller.  Callers should
// re-read the row rather than guess at the new state.
var ErrStaleUpdate = errors.New("stale update")

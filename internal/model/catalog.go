package model

import "time"

// Combo is a concession bundle sold alongside tickets.  Combos are
// owned by the catalog collaborator; the booking core only reads them
// for pricing.
type Combo struct {
	ID         string
	Name       string
	PriceCents int64
	Active     bool
}

// VoucherKind selects how a voucher's value is applied to a total.
type VoucherKind string

const (
	VoucherPercent VoucherKind = "PERCENT" // Value is a percentage 0..100
	VoucherFixed   VoucherKind = "FIXED"   // Value is an amount in cents
)

// Voucher is a discount read from the catalog collaborator.  The core
// validates applicability (active window) but never mutates vouchers.
type Voucher struct {
	ID        string
	Code      string
	Kind      VoucherKind
	Value     int64
	Active    bool
	ExpiresAt time.Time
}

// Usable reports whether the voucher may be applied at the given time.
func (v Voucher) Usable(now time.Time) bool {
	if !v.Active {
		return false
	}
	return v.ExpiresAt.IsZero() || v.ExpiresAt.After(now)
}

package booking

import "errors"

// ErrInvalidVoucher is returned when a voucher is unknown, inactive or
// expired.  Surfaced immediately to the caller; no retry.
var ErrInvalidVoucher = errors.New("invalid voucher")

// ErrValidation covers malformed checkout requests (no seats, missing
// customer info, unknown combos).
var ErrValidation = errors.New("validation error")

// ErrAlreadyConfirmed is returned when a cancel targets a confirmed
// booking; confirmed bookings are only unwound by the out-of-band
// refund process.
var ErrAlreadyConfirmed = errors.New("booking already confirmed")

// ErrInternalInconsistency means the ledger and the booking store
// disagree.  It is fatal for the operation: the orchestrator aborts
// and logs loudly rather than guessing at a repair.
var ErrInternalInconsistency = errors.New("internal inconsistency between ledger and booking store")

package hold

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSeatUnavailable is the recoverable conflict sentinel: the caller
// should surface it to the user so they can reselect.  An operation on
// an expired hold is reported the same way.  ConflictError values match
// it through errors.Is.
var ErrSeatUnavailable = errors.New("seat unavailable")

// ConflictError reports which seats blocked an all-or-nothing
// operation.  No seat changed state when it is returned.
type ConflictError struct {
	Op      string
	SeatIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: seats unavailable: %s", e.Op, strings.Join(e.SeatIDs, ","))
}

// Is lets callers test for the generic conflict with
// errors.Is(err, ErrSeatUnavailable).
func (e *ConflictError) Is(target error) bool { return target == ErrSeatUnavailable }

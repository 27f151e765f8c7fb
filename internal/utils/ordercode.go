package utils

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
	"time"
)

var orderSeq uint32

// NewOrderCode returns a positive, globally unique numeric order code
// suitable as the externally visible idempotency key at the payment
// gateway.  The layout is millisecond timestamp, a per-process
// counter, and random bits, so codes are unique across restarts and
// across instances without coordination.
func NewOrderCode() int64 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the clock; uniqueness still holds via the counter
		binary.BigEndian.PutUint16(b[:], uint16(time.Now().UnixNano()))
	}
	seq := atomic.AddUint32(&orderSeq, 1) & 0x3F
	ms := time.Now().UnixMilli() & 0x1FFFFFFFFFF // 41 bits of millis
	code := ms<<22 | int64(seq)<<16 | int64(binary.BigEndian.Uint16(b[:]))
	if code < 0 {
		code = -code
	}
	return code
}

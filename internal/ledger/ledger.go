// Package ledger implements the authoritative per-(showtime, seat)
// state store.  It is a pure state machine: it holds SeatHold records,
// supports consistent snapshots and compare-and-swap updates, and has
// no side effects beyond the store itself.  All notification is the
// caller's responsibility.
//
// The store is sharded by showtime id and each shard is guarded by its
// own mutex, so operations on different showtimes never contend while
// operations on the same showtime are serialized.
package ledger

import (
	"errors"
	"sort"
	"sync"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// ErrVersionConflict is returned by CompareAndSwap when the stored
// version does not match the caller's expectation.  Callers should
// re-read and retry, or report the seat unavailable.
var ErrVersionConflict = errors.New("ledger: version conflict")

// ErrUnknownSeat is returned when a seat id has no record in the
// showtime's shard.  Seats must be loaded via LoadShowtime before any
// operation references them.
var ErrUnknownSeat = errors.New("ledger: unknown seat")

// ErrUnknownShowtime is returned when no shard exists for a showtime.
var ErrUnknownShowtime = errors.New("ledger: unknown showtime")

type shard struct {
	mu    sync.Mutex
	seats map[string]*model.SeatHold
}

// Ledger is the single source of truth for seat status.  The zero
// value is not usable; construct with New.
type Ledger struct {
	mu     sync.RWMutex
	shards map[string]*shard
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{shards: make(map[string]*shard)}
}

// LoadShowtime materializes one SeatHold per seat id, all available at
// version 0.  Loading an already-known showtime only adds seats that
// are missing; existing records and their versions are left untouched,
// so a reload after a catalog refresh cannot clobber live holds.
func (l *Ledger) LoadShowtime(showtimeID string, seatIDs []string) {
	l.mu.Lock()
	s, ok := l.shards[showtimeID]
	if !ok {
		s = &shard{seats: make(map[string]*model.SeatHold, len(seatIDs))}
		l.shards[showtimeID] = s
	}
	l.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range seatIDs {
		if _, exists := s.seats[id]; exists {
			continue
		}
		s.seats[id] = &model.SeatHold{
			ShowtimeID: showtimeID,
			SeatID:     id,
			Status:     model.SeatAvailable,
		}
	}
}

// DropShowtime removes a showtime's shard entirely.  Intended for
// showtimes that have finished screening.
func (l *Ledger) DropShowtime(showtimeID string) {
	l.mu.Lock()
	delete(l.shards, showtimeID)
	l.mu.Unlock()
}

// Has reports whether a shard exists for the showtime.
func (l *Ledger) Has(showtimeID string) bool {
	_, ok := l.shard(showtimeID)
	return ok
}

// Showtimes lists every loaded showtime id, in no particular order.
func (l *Ledger) Showtimes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.shards))
	for id := range l.shards {
		out = append(out, id)
	}
	return out
}

func (l *Ledger) shard(showtimeID string) (*shard, bool) {
	l.mu.RLock()
	s, ok := l.shards[showtimeID]
	l.mu.RUnlock()
	return s, ok
}

// Snapshot returns copies of the SeatHold records for the requested
// seats as of one logical instant (the shard lock).  A nil or empty
// seatIDs returns every seat of the showtime, ordered by seat id.
// Unknown seat ids are skipped rather than erroring; the caller can
// detect them by comparing lengths.
func (l *Ledger) Snapshot(showtimeID string, seatIDs []string) ([]model.SeatHold, error) {
	s, ok := l.shard(showtimeID)
	if !ok {
		return nil, ErrUnknownShowtime
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(seatIDs) == 0 {
		out := make([]model.SeatHold, 0, len(s.seats))
		for _, h := range s.seats {
			out = append(out, *h)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
		return out, nil
	}
	out := make([]model.SeatHold, 0, len(seatIDs))
	for _, id := range seatIDs {
		if h, exists := s.seats[id]; exists {
			out = append(out, *h)
		}
	}
	return out, nil
}

// Get returns a copy of a single seat's hold record.
func (l *Ledger) Get(showtimeID, seatID string) (model.SeatHold, error) {
	s, ok := l.shard(showtimeID)
	if !ok {
		return model.SeatHold{}, ErrUnknownShowtime
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, exists := s.seats[seatID]
	if !exists {
		return model.SeatHold{}, ErrUnknownSeat
	}
	return *h, nil
}

// CompareAndSwap applies mutate to the seat's record only if the stored
// version equals expectedVersion.  On success the version is bumped by
// one.  The mutation callback receives a copy and returns the desired
// new state; identity fields and version are controlled by the ledger
// and cannot be forged by the callback.
func (l *Ledger) CompareAndSwap(showtimeID, seatID string, expectedVersion uint64, mutate func(model.SeatHold) model.SeatHold) error {
	s, ok := l.shard(showtimeID)
	if !ok {
		return ErrUnknownShowtime
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, exists := s.seats[seatID]
	if !exists {
		return ErrUnknownSeat
	}
	if h.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := mutate(*h)
	next.ShowtimeID = h.ShowtimeID
	next.SeatID = h.SeatID
	next.Version = h.Version + 1
	*h = next
	return nil
}

// Apply runs fn under the showtime's shard lock.  The view passed to fn
// reads and writes the live records through a restricted interface, so
// a multi-seat check-then-commit sequence executes as a single atomic
// batch: either fn returns nil and every write sticks, or fn returns an
// error and the tx's staged writes are discarded.
//
// This is the serialization point the hold coordinator uses for its
// all-or-nothing multi-seat transitions.
func (l *Ledger) Apply(showtimeID string, fn func(tx *Txn) error) error {
	s, ok := l.shard(showtimeID)
	if !ok {
		return ErrUnknownShowtime
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Txn{shard: s, staged: make(map[string]model.SeatHold)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, next := range tx.staged {
		cur := s.seats[id]
		next.ShowtimeID = cur.ShowtimeID
		next.SeatID = cur.SeatID
		next.Version = cur.Version + 1
		*cur = next
	}
	return nil
}

// Txn is the restricted view handed to Apply callbacks.  Reads see
// staged writes from the same transaction.
type Txn struct {
	shard  *shard
	staged map[string]model.SeatHold
}

// Get reads a seat's current (or staged) record within the transaction.
func (t *Txn) Get(seatID string) (model.SeatHold, error) {
	if h, ok := t.staged[seatID]; ok {
		return h, nil
	}
	h, ok := t.shard.seats[seatID]
	if !ok {
		return model.SeatHold{}, ErrUnknownSeat
	}
	return *h, nil
}

// Set stages a new state for a seat.  The write becomes visible to the
// shard only if the enclosing Apply callback returns nil.
func (t *Txn) Set(h model.SeatHold) {
	t.staged[h.SeatID] = h
}

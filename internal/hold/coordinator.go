// Package hold implements the hold coordinator and the expiry sweeper.
// The coordinator is the only writer of seat state: every legal
// SeatHold transition goes through it, multi-seat operations are
// applied all-or-nothing, and each applied transition is announced to
// the broadcast hub in the order it was committed.
package hold

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/hub"
	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/monitoring"
)

// SystemHolder is the holder id used for sweeper or administrative
// releases, which may revoke any active hold.
const SystemHolder = "SYSTEM"

// Publisher is the slice of the broadcast hub the coordinator needs.
type Publisher interface {
	Publish(showtimeID string, ev hub.Event)
}

// Scheduler receives expiry entries for every new or extended hold.
// The sweeper implements it; tests substitute a recorder.
type Scheduler interface {
	Schedule(e Entry)
}

// Entry is one scheduled revocation: at ExpiresAt, release SeatIDs on
// ShowtimeID if they are still held by HolderID with this exact
// deadline.
type Entry struct {
	ExpiresAt  time.Time
	ShowtimeID string
	SeatIDs    []string
	HolderID   string

	// retryAt defers a re-queued entry without changing the hold
	// deadline used for re-validation.  Zero means due at ExpiresAt.
	retryAt time.Time
}

func (e Entry) dueAt() time.Time {
	if !e.retryAt.IsZero() {
		return e.retryAt
	}
	return e.ExpiresAt
}

// Coordinator serializes all seat transitions for a showtime and keeps
// the ledger, the hub and the sweeper consistent with each other.
type Coordinator struct {
	ledger    *ledger.Ledger
	pub       Publisher
	sched     Scheduler
	selectTTL time.Duration
	reserveTTL time.Duration

	// per-showtime serialization point; held across commit + publish so
	// events leave in commit order
	locks sync.Map // showtimeID -> *sync.Mutex

	onExpiry func(showtimeID string, seatIDs []string, holderID string)
	loader   func(ctx context.Context, showtimeID string) ([]string, error)
	now      func() time.Time
}

// NewCoordinator wires a coordinator over the given ledger.  pub and
// sched may not be nil; TTLs must be positive.
func NewCoordinator(l *ledger.Ledger, pub Publisher, selectTTL, reserveTTL time.Duration) *Coordinator {
	if l == nil || pub == nil {
		panic("nil dependency passed to NewCoordinator")
	}
	return &Coordinator{
		ledger:     l,
		pub:        pub,
		selectTTL:  selectTTL,
		reserveTTL: reserveTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetScheduler attaches the expiry sweeper.  Until one is attached,
// holds rely purely on lazy expiry.
func (c *Coordinator) SetScheduler(s Scheduler) { c.sched = s }

// OnExpiry registers a callback invoked after the sweeper revokes a
// hold, so the booking orchestrator can cancel an abandoned pending
// booking.  The callback runs outside the showtime lock.
func (c *Coordinator) OnExpiry(fn func(showtimeID string, seatIDs []string, holderID string)) {
	c.onExpiry = fn
}

// SetLoader attaches a catalog-backed seat loader.  With one attached,
// a claim or snapshot on a showtime the ledger has not seen yet loads
// its seat map on demand, so showtimes scheduled after boot are served
// without a restart.
func (c *Coordinator) SetLoader(fn func(ctx context.Context, showtimeID string) ([]string, error)) {
	c.loader = fn
}

func (c *Coordinator) lock(showtimeID string) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(showtimeID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ensure lazily materializes an unknown showtime through the loader.
// Loader errors pass through so a catalog miss still answers as an
// unknown showtime.
func (c *Coordinator) ensure(ctx context.Context, showtimeID string) error {
	if c.loader == nil || c.ledger.Has(showtimeID) {
		return nil
	}
	seatIDs, err := c.loader(ctx, showtimeID)
	if err != nil {
		return err
	}
	c.ledger.LoadShowtime(showtimeID, seatIDs)
	return nil
}

// cleared returns the hold reset to available.
func cleared(h model.SeatHold) model.SeatHold {
	h.Status = model.SeatAvailable
	h.HolderID = ""
	h.ExpiresAt = time.Time{}
	return h
}

// effective folds lazy expiry into a read: a selected/reserved hold
// whose deadline has passed is treated as available.  This is the
// safety net under the active sweeper.
func effective(h model.SeatHold, now time.Time) model.SeatHold {
	if h.Expired(now) {
		return cleared(h)
	}
	return h
}

// Claim moves every requested seat from available to selected as one
// atomic batch.  If any seat is not available the whole operation
// fails with a ConflictError naming the contested seats and no seat
// changes state.  On success it returns the hold deadline and emits a
// seats-being-selected event.
func (c *Coordinator) Claim(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if err := c.ensure(ctx, showtimeID); err != nil {
		return time.Time{}, err
	}
	mu := c.lock(showtimeID)
	mu.Lock()
	defer mu.Unlock()

	now := c.now()
	expiresAt := now.Add(c.selectTTL)

	err := c.ledger.Apply(showtimeID, func(tx *ledger.Txn) error {
		var taken []string
		for _, id := range seatIDs {
			h, err := tx.Get(id)
			if err != nil {
				return err
			}
			if effective(h, now).Status != model.SeatAvailable {
				taken = append(taken, id)
			}
		}
		if len(taken) > 0 {
			return &ConflictError{Op: "claim", SeatIDs: taken}
		}
		for _, id := range seatIDs {
			h, _ := tx.Get(id)
			h.Status = model.SeatSelected
			h.HolderID = holderID
			h.ExpiresAt = expiresAt
			tx.Set(h)
		}
		return nil
	})
	if err != nil {
		monitoring.TrackTransition("claim", "conflict")
		return time.Time{}, err
	}

	monitoring.TrackTransition("claim", "ok")
	monitoring.HoldsAdded(len(seatIDs))
	c.schedule(Entry{ExpiresAt: expiresAt, ShowtimeID: showtimeID, SeatIDs: seatIDs, HolderID: holderID})
	c.pub.Publish(showtimeID, hub.Event{
		Type: hub.EventSeatsSelected, ShowtimeID: showtimeID,
		SeatIDs: seatIDs, HolderID: holderID, ExpiresAt: expiresAt,
	})
	return expiresAt, nil
}

// Extend refreshes the selection deadline for seats the holder already
// has selected (the confirmSelect transition).  All requested seats
// must currently be selected by the holder.
func (c *Coordinator) Extend(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	mu := c.lock(showtimeID)
	mu.Lock()
	defer mu.Unlock()

	now := c.now()
	expiresAt := now.Add(c.selectTTL)

	err := c.transitionAll(showtimeID, seatIDs, now, "extend", func(h model.SeatHold) (model.SeatHold, bool) {
		if h.Status != model.SeatSelected || h.HolderID != holderID {
			return h, false
		}
		h.ExpiresAt = expiresAt
		return h, true
	})
	if err != nil {
		monitoring.TrackTransition("extend", "conflict")
		return time.Time{}, err
	}
	monitoring.TrackTransition("extend", "ok")
	c.schedule(Entry{ExpiresAt: expiresAt, ShowtimeID: showtimeID, SeatIDs: seatIDs, HolderID: holderID})
	return expiresAt, nil
}

// Upgrade moves seats from selected to reserved when checkout begins,
// granting the longer reserved TTL.  Every seat must currently be
// selected by the holder; otherwise nothing changes and a
// ConflictError is returned.
func (c *Coordinator) Upgrade(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	mu := c.lock(showtimeID)
	mu.Lock()
	defer mu.Unlock()

	now := c.now()
	expiresAt := now.Add(c.reserveTTL)

	err := c.transitionAll(showtimeID, seatIDs, now, "upgrade", func(h model.SeatHold) (model.SeatHold, bool) {
		if h.Status != model.SeatSelected || h.HolderID != holderID {
			return h, false
		}
		h.Status = model.SeatReserved
		h.ExpiresAt = expiresAt
		return h, true
	})
	if err != nil {
		monitoring.TrackTransition("upgrade", "conflict")
		return time.Time{}, err
	}
	monitoring.TrackTransition("upgrade", "ok")
	c.schedule(Entry{ExpiresAt: expiresAt, ShowtimeID: showtimeID, SeatIDs: seatIDs, HolderID: holderID})
	c.pub.Publish(showtimeID, hub.Event{
		Type: hub.EventSeatsReserved, ShowtimeID: showtimeID,
		SeatIDs: seatIDs, HolderID: holderID, ExpiresAt: expiresAt,
	})
	return expiresAt, nil
}

// Finalize moves seats from reserved to booked, the only irreversible
// transition.  It is idempotent: seats already booked by the same
// holder count as success, so a duplicate confirmation cannot error.
// A finalize that starts before the deadline is allowed to complete
// even if the deadline passes mid-flight; the check below uses the
// state as read under the lock, and the sweeper re-validates before
// revoking, so the two can never both win.
func (c *Coordinator) Finalize(ctx context.Context, showtimeID string, seatIDs []string, holderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := c.lock(showtimeID)
	mu.Lock()
	defer mu.Unlock()

	var advanced []string
	err := c.ledger.Apply(showtimeID, func(tx *ledger.Txn) error {
		var blocked []string
		for _, id := range seatIDs {
			h, err := tx.Get(id)
			if err != nil {
				return err
			}
			switch {
			case h.Status == model.SeatBooked && h.HolderID == holderID:
				// already finalized; no-op
			case h.Status == model.SeatReserved && h.HolderID == holderID:
				// deliberately not consulting ExpiresAt: an in-flight
				// finalize beats the deadline (cooperative cancellation)
			default:
				blocked = append(blocked, id)
			}
		}
		if len(blocked) > 0 {
			return &ConflictError{Op: "finalize", SeatIDs: blocked}
		}
		for _, id := range seatIDs {
			h, _ := tx.Get(id)
			if h.Status == model.SeatBooked {
				continue
			}
			h.Status = model.SeatBooked
			h.ExpiresAt = time.Time{}
			tx.Set(h)
			advanced = append(advanced, id)
		}
		return nil
	})
	if err != nil {
		monitoring.TrackTransition("finalize", "conflict")
		return err
	}
	monitoring.TrackTransition("finalize", "ok")
	if len(advanced) > 0 {
		monitoring.HoldsRemoved(len(advanced))
		c.pub.Publish(showtimeID, hub.Event{
			Type: hub.EventSeatsBooked, ShowtimeID: showtimeID,
			SeatIDs: advanced, HolderID: holderID,
		})
	}
	return nil
}

// Release moves seats from selected/reserved back to available.  Seats
// already available are a no-op and booked seats are never touched, so
// release cannot destroy a confirmed sale.  SystemHolder may revoke any
// active hold; a regular holder only releases their own seats and gets
// a ConflictError naming seats held by someone else (those are left
// untouched).
func (c *Coordinator) Release(ctx context.Context, showtimeID string, seatIDs []string, holderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := c.lock(showtimeID)
	mu.Lock()
	defer mu.Unlock()

	released, foreign, err := c.release(showtimeID, seatIDs, holderID, nil)
	if err != nil {
		return err
	}
	if len(released) > 0 {
		c.pub.Publish(showtimeID, hub.Event{
			Type: hub.EventSeatsReleased, ShowtimeID: showtimeID,
			SeatIDs: released, HolderID: holderID,
		})
	}
	if len(foreign) > 0 && holderID != SystemHolder {
		monitoring.TrackTransition("release", "conflict")
		return &ConflictError{Op: "release", SeatIDs: foreign}
	}
	monitoring.TrackTransition("release", "ok")
	return nil
}

// release performs the per-seat revert under the showtime lock.  When
// deadline is non-nil only holds carrying exactly that deadline are
// revoked (the sweeper's re-validation).  It returns the seats actually
// released and the seats skipped because another holder owns them.
func (c *Coordinator) release(showtimeID string, seatIDs []string, holderID string, deadline *time.Time) (released, foreign []string, err error) {
	now := c.now()
	err = c.ledger.Apply(showtimeID, func(tx *ledger.Txn) error {
		for _, id := range seatIDs {
			h, err := tx.Get(id)
			if err != nil {
				return err
			}
			switch {
			case h.Status == model.SeatAvailable:
				// nothing to revoke
			case h.Status == model.SeatBooked:
				// terminal; never reverted here
			case holderID != SystemHolder && !h.HeldBy(holderID):
				if h.Expired(now) {
					tx.Set(cleared(h)) // stale foreign hold, fold the expiry in
				} else {
					foreign = append(foreign, id)
				}
			case deadline != nil && (h.HolderID != holderID || !h.ExpiresAt.Equal(*deadline)):
				// hold was re-acquired or extended since scheduling
			default:
				// The holder's own hold counts as released even when its
				// deadline has already passed; that is exactly the case
				// the sweeper exists to announce.
				tx.Set(cleared(h))
				released = append(released, id)
			}
		}
		return nil
	})
	if err != nil {
		released, foreign = nil, nil
		return
	}
	if len(released) > 0 {
		monitoring.HoldsRemoved(len(released))
	}
	return
}

// expireEntry is the sweeper's revocation path: it releases only seats
// still held by the scheduled holder with the scheduled deadline, so a
// hold that was extended, upgraded or finalized in the meantime is left
// untouched.
func (c *Coordinator) expireEntry(e Entry) {
	mu := c.lock(e.ShowtimeID)
	mu.Lock()
	released, _, err := c.release(e.ShowtimeID, e.SeatIDs, e.HolderID, &e.ExpiresAt)
	if err == nil && len(released) > 0 {
		c.pub.Publish(e.ShowtimeID, hub.Event{
			Type: hub.EventReservationExpired, ShowtimeID: e.ShowtimeID,
			SeatIDs: released, HolderID: e.HolderID,
		})
	}
	mu.Unlock()
	if err != nil {
		return
	}
	if len(released) > 0 {
		monitoring.TrackExpiry(len(released))
		if c.onExpiry != nil {
			c.onExpiry(e.ShowtimeID, released, e.HolderID)
		}
	}
}

// transitionAll applies step to every seat or none.  step reports
// whether the seat was eligible; any ineligible seat aborts the batch
// with a ConflictError.  Expiry is folded in before eligibility.
func (c *Coordinator) transitionAll(showtimeID string, seatIDs []string, now time.Time, op string, step func(model.SeatHold) (model.SeatHold, bool)) error {
	return c.ledger.Apply(showtimeID, func(tx *ledger.Txn) error {
		staged := make([]model.SeatHold, 0, len(seatIDs))
		var blocked []string
		for _, id := range seatIDs {
			h, err := tx.Get(id)
			if err != nil {
				return err
			}
			next, ok := step(effective(h, now))
			if !ok {
				blocked = append(blocked, id)
				continue
			}
			staged = append(staged, next)
		}
		if len(blocked) > 0 {
			return &ConflictError{Op: op, SeatIDs: blocked}
		}
		for _, h := range staged {
			tx.Set(h)
		}
		return nil
	})
}

func (c *Coordinator) schedule(e Entry) {
	if c.sched != nil {
		c.sched.Schedule(e)
	}
}

// Snapshot exposes a consistent read of the ledger for boundary
// handlers; clients joining a room read this before consuming events.
// Unknown showtimes are lazily loaded when a loader is attached.
func (c *Coordinator) Snapshot(ctx context.Context, showtimeID string, seatIDs []string) ([]model.SeatHold, error) {
	if err := c.ensure(ctx, showtimeID); err != nil {
		return nil, err
	}
	holds, err := c.ledger.Snapshot(showtimeID, seatIDs)
	if err != nil {
		return nil, err
	}
	now := c.now()
	for i := range holds {
		holds[i] = effective(holds[i], now)
	}
	return holds, nil
}

// Package booking owns the booking aggregate's lifecycle.  The
// orchestrator is the only writer of booking records: it creates a
// booking when checkout starts, drives the hold coordinator as the
// checkout progresses, and moves the booking to confirmed or cancelled
// exactly once.  Bookings are never deleted, only marked terminal.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking-engine/internal/hold"
	"github.com/iliyamo/cinema-booking-engine/internal/hub"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/queue"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
)

// SeatCoordinator is the slice of the hold coordinator the
// orchestrator drives.
type SeatCoordinator interface {
	Upgrade(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error)
	Finalize(ctx context.Context, showtimeID string, seatIDs []string, holderID string) error
	Release(ctx context.Context, showtimeID string, seatIDs []string, holderID string) error
}

// Store is the persistence surface the orchestrator writes bookings
// through.
type Store interface {
	Create(ctx context.Context, b *model.Booking, seatPrices map[string]int64) error
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	MarkConfirmed(ctx context.Context, id, transactionID string) error
	MarkCancelled(ctx context.Context, id string, payment model.PaymentStatus, reason string) error
	PendingByHolderAndShowtime(ctx context.Context, holderID, showtimeID string) ([]string, error)
}

// Catalog is the read-only collaborator supplying seat pricing, combo
// pricing and voucher definitions.
type Catalog interface {
	SeatsByShowtime(ctx context.Context, showtimeID string) ([]model.Seat, error)
	CombosByIDs(ctx context.Context, ids []string) (map[string]model.Combo, error)
	VoucherByID(ctx context.Context, id string) (*model.Voucher, error)
}

// IntentCreator opens a payment link for a booking; the payment
// reconciler implements it.
type IntentCreator interface {
	CreateIntent(ctx context.Context, bookingID string, amountCents int64) (*model.PaymentIntent, error)
}

// Notifier triggers the downstream "booking confirmed" delivery
// (email/QR).  Fire-and-forget: the orchestrator's transition is
// complete once ledger and booking agree, regardless of notification
// success.
type Notifier interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// Publisher is the slice of the broadcast hub used for
// payment-lifecycle events.
type Publisher interface {
	Publish(showtimeID string, ev hub.Event)
}

// CreateRequest is the validated checkout request.
type CreateRequest struct {
	ShowtimeID string
	SeatIDs    []string
	HolderID   string
	Combos     []model.ComboLine
	VoucherID  string
	Customer   model.CustomerInfo
}

// Orchestrator drives bookings through pending -> confirmed|cancelled.
type Orchestrator struct {
	coord    SeatCoordinator
	store    Store
	catalog  Catalog
	intents  IntentCreator
	notifier Notifier
	pub      Publisher
	now      func() time.Time
	log      *logrus.Entry

	// per-booking serialization point: Confirm and Cancel for one
	// booking never interleave, so the ledger finalize and the booking
	// row flip commit as a unit relative to a concurrent cancel
	locks sync.Map // bookingID -> *sync.Mutex
}

// NewOrchestrator wires an orchestrator.  The intent creator is
// attached separately (AttachIntentCreator) because orchestrator and
// reconciler reference each other.
func NewOrchestrator(coord SeatCoordinator, store Store, catalog Catalog, notifier Notifier, pub Publisher) *Orchestrator {
	return &Orchestrator{
		coord:    coord,
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		pub:      pub,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logrus.WithField("component", "orchestrator"),
	}
}

// AttachIntentCreator sets the payment reconciler used to open payment
// links.  Must be called before Create is served.
func (o *Orchestrator) AttachIntentCreator(ic IntentCreator) { o.intents = ic }

func (o *Orchestrator) lock(bookingID string) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(bookingID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create starts a checkout: it upgrades the holder's selected seats to
// reserved, prices the order, persists the pending booking and opens a
// payment intent.  A seat conflict surfaces as hold.ErrSeatUnavailable
// and nothing is persisted.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*model.Booking, *model.PaymentIntent, error) {
	if err := validate(req); err != nil {
		return nil, nil, err
	}

	seats, err := o.catalog.SeatsByShowtime(ctx, req.ShowtimeID)
	if err != nil {
		return nil, nil, err
	}
	seatPrices := make(map[string]int64, len(seats))
	for _, s := range seats {
		seatPrices[s.SeatID] = s.PriceCents
	}
	for _, id := range req.SeatIDs {
		if _, ok := seatPrices[id]; !ok {
			return nil, nil, fmt.Errorf("%w: unknown seat %s", ErrValidation, id)
		}
	}

	var voucher *model.Voucher
	if req.VoucherID != "" {
		voucher, err = o.catalog.VoucherByID(ctx, req.VoucherID)
		if err != nil {
			if errors.Is(err, repository.ErrVoucherNotFound) {
				return nil, nil, ErrInvalidVoucher
			}
			return nil, nil, err
		}
		if !voucher.Usable(o.now()) {
			return nil, nil, ErrInvalidVoucher
		}
	}

	comboIDs := make([]string, 0, len(req.Combos))
	for _, line := range req.Combos {
		comboIDs = append(comboIDs, line.ComboID)
	}
	catalogCombos, err := o.catalog.CombosByIDs(ctx, comboIDs)
	if err != nil {
		return nil, nil, err
	}

	total, err := priceOrder(seatPrices, req.SeatIDs, req.Combos, catalogCombos, voucher)
	if err != nil {
		return nil, nil, err
	}

	// Reserve the seats before persisting anything; a conflict here
	// means the holder's selection was lost (expired or never made).
	if _, err := o.coord.Upgrade(ctx, req.ShowtimeID, req.SeatIDs, req.HolderID); err != nil {
		return nil, nil, err
	}

	b := &model.Booking{
		ID:            uuid.NewString(),
		ShowtimeID:    req.ShowtimeID,
		HolderID:      req.HolderID,
		SeatIDs:       req.SeatIDs,
		Combos:        req.Combos,
		VoucherID:     req.VoucherID,
		Customer:      req.Customer,
		TotalCents:    total,
		PaymentStatus: model.PaymentPending,
		BookingStatus: model.BookingPending,
	}
	if err := o.store.Create(ctx, b, seatPrices); err != nil {
		// hand the seats back rather than strand them reserved
		_ = o.coord.Release(ctx, req.ShowtimeID, req.SeatIDs, req.HolderID)
		return nil, nil, err
	}

	pi, err := o.intents.CreateIntent(ctx, b.ID, total)
	if err != nil {
		// no payment link means checkout cannot proceed; unwind so the
		// caller can retry from seat selection
		mu := o.lock(b.ID)
		mu.Lock()
		o.cancelInternal(ctx, b, model.PaymentFailed, "payment link creation failed")
		mu.Unlock()
		return nil, nil, err
	}

	o.pub.Publish(req.ShowtimeID, hub.Event{
		Type: hub.EventPaymentInitiated, ShowtimeID: req.ShowtimeID,
		SeatIDs: req.SeatIDs, HolderID: req.HolderID, BookingID: b.ID,
	})
	o.log.WithFields(logrus.Fields{
		"booking_id": b.ID, "showtime_id": req.ShowtimeID,
		"seats": len(req.SeatIDs), "total_cents": total,
	}).Info("booking created")
	return b, pi, nil
}

// Get fetches a booking.
func (o *Orchestrator) Get(ctx context.Context, bookingID string) (*model.Booking, error) {
	return o.store.GetByID(ctx, bookingID)
}

// Confirm moves a pending booking to confirmed after a verified
// payment.  Idempotent: confirming an already-confirmed booking with
// the same transaction id returns it unchanged, and a different
// transaction id is treated as a duplicate notification rather than
// re-applied.  The ledger finalize runs before the booking flip;
// Confirm and Cancel hold the same per-booking lock, so a cancel can
// never slip between the two.  If the ledger refuses, booking and
// ledger disagree and the operation aborts loudly.
func (o *Orchestrator) Confirm(ctx context.Context, bookingID, transactionID string) (*model.Booking, error) {
	mu := o.lock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := o.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch b.BookingStatus {
	case model.BookingConfirmed:
		if b.TransactionID != transactionID {
			o.log.WithFields(logrus.Fields{"booking_id": bookingID, "transaction_id": transactionID}).
				Warn("duplicate confirmation with different transaction id ignored")
		}
		return b, nil
	case model.BookingCancelled:
		o.log.WithField("booking_id", bookingID).Error("confirmation arrived for cancelled booking")
		return nil, ErrInternalInconsistency
	}

	if err := o.coord.Finalize(ctx, b.ShowtimeID, b.SeatIDs, b.HolderID); err != nil {
		o.log.WithError(err).WithField("booking_id", bookingID).
			Error("ledger refused finalize for pending booking")
		return nil, ErrInternalInconsistency
	}

	if err := o.store.MarkConfirmed(ctx, bookingID, transactionID); err != nil {
		if errors.Is(err, repository.ErrStaleUpdate) {
			cur, gerr := o.store.GetByID(ctx, bookingID)
			if gerr != nil {
				return nil, gerr
			}
			if cur.BookingStatus == model.BookingCancelled {
				// the seats were just finalized but the row went
				// cancelled underneath; never report this as success
				o.log.WithField("booking_id", bookingID).
					Error("booking cancelled while its seats were being finalized")
				return nil, ErrInternalInconsistency
			}
			// someone confirmed concurrently; report theirs
			return cur, nil
		}
		return nil, err
	}
	b, err = o.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	o.pub.Publish(b.ShowtimeID, hub.Event{
		Type: hub.EventPaymentCompleted, ShowtimeID: b.ShowtimeID,
		SeatIDs: b.SeatIDs, HolderID: b.HolderID, BookingID: b.ID,
	})
	o.notify(b)
	o.log.WithFields(logrus.Fields{"booking_id": b.ID, "transaction_id": transactionID}).
		Info("booking confirmed")
	return b, nil
}

// Cancel moves a pending booking to cancelled and releases its seats
// unconditionally.  Idempotent: cancelling a cancelled booking returns
// it unchanged.  Confirmed bookings cannot be cancelled here; that is
// the out-of-band refund process.  Serialized against Confirm per
// booking id.
func (o *Orchestrator) Cancel(ctx context.Context, bookingID, reason string) (*model.Booking, error) {
	mu := o.lock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := o.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch b.BookingStatus {
	case model.BookingCancelled:
		return b, nil
	case model.BookingConfirmed:
		return nil, ErrAlreadyConfirmed
	}
	return o.cancelInternal(ctx, b, model.PaymentFailed, reason), nil
}

func (o *Orchestrator) cancelInternal(ctx context.Context, b *model.Booking, payment model.PaymentStatus, reason string) *model.Booking {
	if err := o.store.MarkCancelled(ctx, b.ID, payment, reason); err != nil {
		if !errors.Is(err, repository.ErrStaleUpdate) {
			o.log.WithError(err).WithField("booking_id", b.ID).Error("mark cancelled failed")
		}
		if cur, gerr := o.store.GetByID(ctx, b.ID); gerr == nil {
			return cur
		}
		return b
	}
	// release is total: seats already freed by the sweeper are a no-op
	if err := o.coord.Release(ctx, b.ShowtimeID, b.SeatIDs, b.HolderID); err != nil {
		o.log.WithError(err).WithField("booking_id", b.ID).Warn("seat release after cancel reported conflict")
	}
	o.pub.Publish(b.ShowtimeID, hub.Event{
		Type: hub.EventPaymentFailed, ShowtimeID: b.ShowtimeID,
		SeatIDs: b.SeatIDs, HolderID: b.HolderID, BookingID: b.ID,
	})
	o.log.WithFields(logrus.Fields{"booking_id": b.ID, "reason": reason}).Info("booking cancelled")
	cur, err := o.store.GetByID(ctx, b.ID)
	if err != nil {
		return b
	}
	return cur
}

// HandleHoldExpiry is registered as the coordinator's expiry callback:
// when the sweeper revokes a reserved hold, the abandoned pending
// booking behind it is cancelled too.
func (o *Orchestrator) HandleHoldExpiry(showtimeID string, seatIDs []string, holderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids, err := o.store.PendingByHolderAndShowtime(ctx, holderID, showtimeID)
	if err != nil {
		o.log.WithError(err).Warn("lookup of expired pending bookings failed")
		return
	}
	for _, id := range ids {
		if _, err := o.Cancel(ctx, id, "reservation expired"); err != nil {
			o.log.WithError(err).WithField("booking_id", id).Warn("cancel of expired booking failed")
		}
	}
}

func (o *Orchestrator) notify(b *model.Booking) {
	ev := queue.BookingConfirmedEvent{
		BookingID:     b.ID,
		ShowtimeID:    b.ShowtimeID,
		HolderID:      b.HolderID,
		SeatIDs:       b.SeatIDs,
		CustomerName:  b.Customer.Name,
		CustomerEmail: b.Customer.Email,
		TotalCents:    b.TotalCents,
		TransactionID: b.TransactionID,
		ConfirmedAt:   o.now().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := o.notifier.PublishBookingConfirmed(ctx, ev); err != nil {
			o.log.WithError(err).WithField("booking_id", b.ID).
				Warn("confirmation notification failed")
		}
	}()
}

func validate(req CreateRequest) error {
	if req.ShowtimeID == "" {
		return fmt.Errorf("%w: showtime id required", ErrValidation)
	}
	if len(req.SeatIDs) == 0 {
		return fmt.Errorf("%w: at least one seat required", ErrValidation)
	}
	if req.HolderID == "" || req.HolderID == hold.SystemHolder {
		return fmt.Errorf("%w: invalid holder id", ErrValidation)
	}
	if req.Customer.Name == "" || req.Customer.Email == "" {
		return fmt.Errorf("%w: customer name and email required", ErrValidation)
	}
	seen := make(map[string]struct{}, len(req.SeatIDs))
	for _, id := range req.SeatIDs {
		if id == "" {
			return fmt.Errorf("%w: empty seat id", ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate seat id %s", ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

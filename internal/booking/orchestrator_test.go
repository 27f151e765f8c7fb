package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/hold"
	"github.com/iliyamo/cinema-booking-engine/internal/hub"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/queue"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
)

// memStore is an in-memory Store with the same conditional-update
// semantics as the MySQL repository.
type memStore struct {
	mu        sync.Mutex
	bookings  map[string]*model.Booking
	createErr error

	// invoked at the top of MarkConfirmed, outside the store lock;
	// lets tests interleave work between finalize and the row flip
	beforeConfirm func()
}

func newMemStore() *memStore {
	return &memStore{bookings: make(map[string]*model.Booking)}
}

func (s *memStore) Create(ctx context.Context, b *model.Booking, seatPrices map[string]int64) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) MarkConfirmed(ctx context.Context, id, transactionID string) error {
	if s.beforeConfirm != nil {
		s.beforeConfirm()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrBookingNotFound
	}
	if b.BookingStatus != model.BookingPending {
		return repository.ErrStaleUpdate
	}
	b.BookingStatus = model.BookingConfirmed
	b.PaymentStatus = model.PaymentCompleted
	b.TransactionID = transactionID
	return nil
}

func (s *memStore) MarkCancelled(ctx context.Context, id string, payment model.PaymentStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrBookingNotFound
	}
	if b.BookingStatus != model.BookingPending {
		return repository.ErrStaleUpdate
	}
	b.BookingStatus = model.BookingCancelled
	b.PaymentStatus = payment
	b.CancelReason = reason
	return nil
}

func (s *memStore) PendingByHolderAndShowtime(ctx context.Context, holderID, showtimeID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, b := range s.bookings {
		if b.HolderID == holderID && b.ShowtimeID == showtimeID && b.BookingStatus == model.BookingPending {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

type fakeCoord struct {
	mu        sync.Mutex
	upgrades  int
	finalizes int
	releases  [][]string

	upgradeErr  error
	finalizeErr error
}

func (c *fakeCoord) Upgrade(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.upgradeErr != nil {
		return time.Time{}, c.upgradeErr
	}
	c.upgrades++
	return time.Now().Add(10 * time.Minute), nil
}

func (c *fakeCoord) Finalize(ctx context.Context, showtimeID string, seatIDs []string, holderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalizeErr != nil {
		return c.finalizeErr
	}
	c.finalizes++
	return nil
}

func (c *fakeCoord) Release(ctx context.Context, showtimeID string, seatIDs []string, holderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases = append(c.releases, seatIDs)
	return nil
}

type fakeCatalog struct {
	seats    []model.Seat
	vouchers map[string]*model.Voucher
	combos   map[string]model.Combo
}

func (f *fakeCatalog) SeatsByShowtime(ctx context.Context, showtimeID string) ([]model.Seat, error) {
	if len(f.seats) == 0 {
		return nil, repository.ErrShowtimeNotFound
	}
	return f.seats, nil
}

func (f *fakeCatalog) CombosByIDs(ctx context.Context, ids []string) (map[string]model.Combo, error) {
	out := make(map[string]model.Combo)
	for _, id := range ids {
		if c, ok := f.combos[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (f *fakeCatalog) VoucherByID(ctx context.Context, id string) (*model.Voucher, error) {
	v, ok := f.vouchers[id]
	if !ok {
		return nil, repository.ErrVoucherNotFound
	}
	return v, nil
}

type fakeIntents struct {
	mu  sync.Mutex
	err error
	n   int
}

func (f *fakeIntents) CreateIntent(ctx context.Context, bookingID string, amountCents int64) (*model.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.n++
	return &model.PaymentIntent{
		OrderCode:     4242,
		BookingID:     bookingID,
		AmountCents:   amountCents,
		GatewayStatus: model.GatewayPending,
		CheckoutURL:   "https://pay.example/4242",
	}, nil
}

type fakeNotifier struct {
	events chan queue.BookingConfirmedEvent
}

func (f *fakeNotifier) PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error {
	f.events <- ev
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []hub.Event
}

func (p *eventLog) Publish(showtimeID string, ev hub.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *eventLog) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	orch     *Orchestrator
	store    *memStore
	coord    *fakeCoord
	intents  *fakeIntents
	notifier *fakeNotifier
	pub      *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		coord:    &fakeCoord{},
		intents:  &fakeIntents{},
		notifier: &fakeNotifier{events: make(chan queue.BookingConfirmedEvent, 4)},
		pub:      &eventLog{},
	}
	catalog := &fakeCatalog{
		seats: []model.Seat{
			{ShowtimeID: "st-1", SeatID: "A1", PriceCents: 12000},
			{ShowtimeID: "st-1", SeatID: "A2", PriceCents: 12000},
		},
		vouchers: map[string]*model.Voucher{
			"v10": {ID: "v10", Kind: model.VoucherPercent, Value: 10, Active: true},
		},
		combos: map[string]model.Combo{
			"popcorn": {ID: "popcorn", PriceCents: 4500, Active: true},
		},
	}
	f.orch = NewOrchestrator(f.coord, f.store, catalog, f.notifier, f.pub)
	f.orch.AttachIntentCreator(f.intents)
	return f
}

func validRequest() CreateRequest {
	return CreateRequest{
		ShowtimeID: "st-1",
		SeatIDs:    []string{"A1", "A2"},
		HolderID:   "guest:alice",
		Customer:   model.CustomerInfo{Name: "Alice", Email: "alice@example.com"},
	}
}

func TestCreateHappyPath(t *testing.T) {
	f := newFixture(t)

	req := validRequest()
	req.Combos = []model.ComboLine{{ComboID: "popcorn", Quantity: 1}}
	req.VoucherID = "v10"

	b, pi, err := f.orch.Create(context.Background(), req)
	require.NoError(t, err)

	// (24000 + 4500) * 0.9 = 25650
	assert.Equal(t, int64(25650), b.TotalCents)
	assert.Equal(t, model.BookingPending, b.BookingStatus)
	assert.Equal(t, model.PaymentPending, b.PaymentStatus)
	assert.Equal(t, "https://pay.example/4242", pi.CheckoutURL)
	assert.Equal(t, 1, f.coord.upgrades)
	assert.Equal(t, []string{"payment-initiated"}, f.pub.types())

	stored, err := f.store.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.SeatIDs, stored.SeatIDs)
}

func TestCreateSeatConflictPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.coord.upgradeErr = &hold.ConflictError{Op: "upgrade", SeatIDs: []string{"A1"}}

	_, _, err := f.orch.Create(context.Background(), validRequest())
	require.ErrorIs(t, err, hold.ErrSeatUnavailable)

	assert.Empty(t, f.store.bookings)
	assert.Equal(t, 0, f.intents.n)
	assert.Empty(t, f.pub.types())
}

func TestCreateUnwindsWhenPaymentLinkFails(t *testing.T) {
	f := newFixture(t)
	f.intents.err = context.DeadlineExceeded

	_, _, err := f.orch.Create(context.Background(), validRequest())
	require.Error(t, err)

	// The one booking that was persisted is now cancelled and the
	// seats were handed back.
	require.Len(t, f.store.bookings, 1)
	for _, b := range f.store.bookings {
		assert.Equal(t, model.BookingCancelled, b.BookingStatus)
		assert.Equal(t, model.PaymentFailed, b.PaymentStatus)
	}
	require.Len(t, f.coord.releases, 1)
	assert.Equal(t, []string{"A1", "A2"}, f.coord.releases[0])
}

func TestCreateRejectsInvalidVoucher(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.VoucherID = "nope"

	_, _, err := f.orch.Create(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidVoucher)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := []CreateRequest{
		{},
		{ShowtimeID: "st-1"},
		{ShowtimeID: "st-1", SeatIDs: []string{"A1"}, HolderID: hold.SystemHolder, Customer: model.CustomerInfo{Name: "x", Email: "y"}},
		{ShowtimeID: "st-1", SeatIDs: []string{"A1", "A1"}, HolderID: "guest:a", Customer: model.CustomerInfo{Name: "x", Email: "y"}},
		{ShowtimeID: "st-1", SeatIDs: []string{"A1"}, HolderID: "guest:a"},
	}
	for _, req := range bad {
		_, _, err := f.orch.Create(ctx, req)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestConfirmFinalizesOnceAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, _, err := f.orch.Create(ctx, validRequest())
	require.NoError(t, err)

	confirmed, err := f.orch.Confirm(ctx, b.ID, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, confirmed.BookingStatus)
	assert.Equal(t, model.PaymentCompleted, confirmed.PaymentStatus)
	assert.Equal(t, "txn-1", confirmed.TransactionID)
	assert.Equal(t, 1, f.coord.finalizes)
	assert.Contains(t, f.pub.types(), "payment-completed")

	select {
	case ev := <-f.notifier.events:
		assert.Equal(t, b.ID, ev.BookingID)
		assert.Equal(t, "txn-1", ev.TransactionID)
	case <-time.After(time.Second):
		t.Fatal("no confirmation notification published")
	}

	// Duplicate webhook: same transaction id, nothing re-applied.
	again, err := f.orch.Confirm(ctx, b.ID, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", again.TransactionID)
	assert.Equal(t, 1, f.coord.finalizes)

	// Duplicate with a different transaction id keeps the original.
	other, err := f.orch.Confirm(ctx, b.ID, "txn-2")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", other.TransactionID)
	assert.Equal(t, 1, f.coord.finalizes)
}

func TestConfirmOnCancelledBookingIsInconsistency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, _, err := f.orch.Create(ctx, validRequest())
	require.NoError(t, err)
	_, err = f.orch.Cancel(ctx, b.ID, "changed my mind")
	require.NoError(t, err)

	_, err = f.orch.Confirm(ctx, b.ID, "txn-1")
	assert.ErrorIs(t, err, ErrInternalInconsistency)
}

func TestConfirmAbortsWhenLedgerRefuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, _, err := f.orch.Create(ctx, validRequest())
	require.NoError(t, err)

	f.coord.finalizeErr = &hold.ConflictError{Op: "finalize", SeatIDs: []string{"A1"}}
	_, err = f.orch.Confirm(ctx, b.ID, "txn-1")
	require.ErrorIs(t, err, ErrInternalInconsistency)

	cur, _ := f.store.GetByID(ctx, b.ID)
	assert.Equal(t, model.BookingPending, cur.BookingStatus)
}

// A user cancel racing a webhook confirmation must not leave booked
// seats behind a cancelled booking: the per-booking lock makes the
// cancel wait until the confirmation has committed, after which it is
// refused.
func TestCancelDuringConfirmWaitsAndIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, _, err := f.orch.Create(ctx, validRequest())
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.store.beforeConfirm = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	confirmDone := make(chan error, 1)
	go func() {
		_, err := f.orch.Confirm(ctx, b.ID, "txn-1")
		confirmDone <- err
	}()

	// Confirm has finalized the seats and is paused mid-flip; the
	// cancel arriving now must queue behind it.
	<-entered
	cancelDone := make(chan error, 1)
	go func() {
		_, err := f.orch.Cancel(ctx, b.ID, "changed my mind")
		cancelDone <- err
	}()
	close(release)

	require.NoError(t, <-confirmDone)
	assert.ErrorIs(t, <-cancelDone, ErrAlreadyConfirmed)

	cur, _ := f.store.GetByID(ctx, b.ID)
	assert.Equal(t, model.BookingConfirmed, cur.BookingStatus)
	assert.Equal(t, 1, f.coord.finalizes)
	assert.Empty(t, f.coord.releases, "confirmed seats must not be released")
}

// If the booking row still flips to cancelled between finalize and
// MarkConfirmed (a path outside the orchestrator's lock), Confirm must
// abort loudly instead of returning the cancelled booking as success.
func TestConfirmAbortsWhenRowCancelledUnderneath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, _, err := f.orch.Create(ctx, validRequest())
	require.NoError(t, err)

	f.store.beforeConfirm = func() {
		f.store.mu.Lock()
		cur := f.store.bookings[b.ID]
		cur.BookingStatus = model.BookingCancelled
		cur.PaymentStatus = model.PaymentFailed
		f.store.mu.Unlock()
	}

	_, err = f.orch.Confirm(ctx, b.ID, "txn-1")
	assert.ErrorIs(t, err, ErrInternalInconsistency)

	cur, _ := f.store.GetByID(ctx, b.ID)
	assert.Equal(t, model.BookingCancelled, cur.BookingStatus)
}

func TestCancelReleasesSeatsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, _, err := f.orch.Create(ctx, validRequest())
	require.NoError(t, err)

	cancelled, err := f.orch.Cancel(ctx, b.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.BookingStatus)
	assert.Equal(t, "changed my mind", cancelled.CancelReason)
	require.Len(t, f.coord.releases, 1)
	assert.Contains(t, f.pub.types(), "payment-failed")

	again, err := f.orch.Cancel(ctx, b.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, "changed my mind", again.CancelReason)
	assert.Len(t, f.coord.releases, 1, "second cancel must not release again")
}

func TestCancelConfirmedBookingRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, _, err := f.orch.Create(ctx, validRequest())
	require.NoError(t, err)
	_, err = f.orch.Confirm(ctx, b.ID, "txn-1")
	require.NoError(t, err)

	_, err = f.orch.Cancel(ctx, b.ID, "too late")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
}

func TestHandleHoldExpiryCancelsPendingBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, _, err := f.orch.Create(ctx, validRequest())
	require.NoError(t, err)

	f.orch.HandleHoldExpiry("st-1", b.SeatIDs, "guest:alice")

	cur, _ := f.store.GetByID(ctx, b.ID)
	assert.Equal(t, model.BookingCancelled, cur.BookingStatus)
	assert.Equal(t, "reservation expired", cur.CancelReason)
}

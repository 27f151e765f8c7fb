package hold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

func newSweeperFixture(t *testing.T, selectTTL time.Duration) (*Coordinator, *Sweeper, *time.Time) {
	t.Helper()
	l := ledger.New()
	l.LoadShowtime("st-1", []string{"A1", "A2"})

	c := NewCoordinator(l, &fakePub{}, selectTTL, 2*selectTTL)
	s := NewSweeper(c, time.Second)

	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	clock := &now
	c.now = func() time.Time { return *clock }
	return c, s, clock
}

func TestSweepRevokesDueEntriesOnly(t *testing.T) {
	c, s, clock := newSweeperFixture(t, time.Minute)
	ctx := context.Background()

	_, err := c.Claim(ctx, "st-1", []string{"A1"}, "guest:alice")
	require.NoError(t, err)

	*clock = clock.Add(30 * time.Second)
	_, err = c.Claim(ctx, "st-1", []string{"A2"}, "guest:bob")
	require.NoError(t, err)
	require.Equal(t, 2, s.PendingCount())

	// Only alice's deadline has passed.
	*clock = clock.Add(45 * time.Second)
	s.sweep(*clock)

	assert.Equal(t, 1, s.PendingCount())
	holds, _ := c.Snapshot(context.Background(), "st-1", nil)
	assert.Equal(t, model.SeatAvailable, holds[0].Status)
	assert.Equal(t, model.SeatSelected, holds[1].Status)
}

func TestSweepBeforeDeadlineIsNoOp(t *testing.T) {
	c, s, clock := newSweeperFixture(t, time.Minute)

	_, err := c.Claim(context.Background(), "st-1", []string{"A1"}, "guest:alice")
	require.NoError(t, err)

	s.sweep(clock.Add(10 * time.Second))

	assert.Equal(t, 1, s.PendingCount())
	holds, _ := c.Snapshot(context.Background(), "st-1", []string{"A1"})
	assert.Equal(t, model.SeatSelected, holds[0].Status)
}

func TestSweepPopsEntriesInDeadlineOrder(t *testing.T) {
	_, s, clock := newSweeperFixture(t, time.Minute)

	// Scheduled out of order; the heap must surface the soonest first.
	s.Schedule(Entry{ExpiresAt: clock.Add(3 * time.Minute), ShowtimeID: "st-1", SeatIDs: []string{"A1"}, HolderID: "x"})
	s.Schedule(Entry{ExpiresAt: clock.Add(1 * time.Minute), ShowtimeID: "st-1", SeatIDs: []string{"A2"}, HolderID: "y"})
	s.Schedule(Entry{ExpiresAt: clock.Add(2 * time.Minute), ShowtimeID: "st-1", SeatIDs: []string{"A1"}, HolderID: "z"})

	s.sweep(clock.Add(90 * time.Second))
	assert.Equal(t, 2, s.PendingCount())

	s.sweep(clock.Add(5 * time.Minute))
	assert.Equal(t, 0, s.PendingCount())
}

func TestSweeperLoopRevokesExpiredHold(t *testing.T) {
	l := ledger.New()
	l.LoadShowtime("st-1", []string{"A1"})

	c := NewCoordinator(l, &fakePub{}, 20*time.Millisecond, 40*time.Millisecond)
	s := NewSweeper(c, 5*time.Millisecond)
	s.Start()
	defer s.Stop()

	_, err := c.Claim(context.Background(), "st-1", []string{"A1"}, "guest:alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		holds, err := c.Snapshot(context.Background(), "st-1", []string{"A1"})
		return err == nil && holds[0].Status == model.SeatAvailable
	}, time.Second, 5*time.Millisecond, "hold should be revoked by the sweep loop")
}

func TestStopWithoutStart(t *testing.T) {
	_, s, _ := newSweeperFixture(t, time.Minute)
	s.Stop() // must not panic or block
}

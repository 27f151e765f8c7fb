package hold

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper guarantees that no selected/reserved hold outlives its TTL,
// independent of client liveness.  It keeps a time-ordered schedule of
// revocation entries and pops due entries on a fixed tick, asking the
// coordinator to revoke each one.  The coordinator re-validates the
// hold before revoking, so an entry whose hold was legitimately
// extended, upgraded or finalized is a harmless no-op.
//
// A missed sweep is self-correcting: the coordinator treats expired
// holds as available on every read (lazy expiry).
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration

	mu      sync.Mutex
	pending entryHeap
	wake    chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
	log    *logrus.Entry
}

// NewSweeper builds a sweeper over the coordinator and registers
// itself as the coordinator's scheduler.
func NewSweeper(c *Coordinator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	s := &Sweeper{
		coord:    c,
		interval: interval,
		wake:     make(chan struct{}, 1),
		log:      logrus.WithField("component", "sweeper"),
	}
	c.SetScheduler(s)
	return s
}

// Schedule queues one revocation entry.  Safe for concurrent use.
func (s *Sweeper) Schedule(e Entry) {
	s.mu.Lock()
	heap.Push(&s.pending, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the sweep loop.  Call Stop to shut it down.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop terminates the sweep loop and waits for it to drain.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now().UTC())
		case <-s.wake:
			// a new entry may be due sooner than the next tick
			s.sweep(time.Now().UTC())
		}
	}
}

// sweep pops every entry whose deadline has passed and revokes it.
// Revocation itself never returns an error (release is total); a
// panic in the coordinator is the only failure mode and is logged and
// swallowed so one bad entry cannot stop the loop.
func (s *Sweeper) sweep(now time.Time) {
	for {
		s.mu.Lock()
		if s.pending.Len() == 0 || s.pending[0].dueAt().After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.pending).(Entry)
		s.mu.Unlock()
		s.expire(e, now)
	}
}

func (s *Sweeper) expire(e Entry, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{
				"showtime_id": e.ShowtimeID,
				"holder_id":   e.HolderID,
				"panic":       r,
			}).Error("expiry revocation panicked; rescheduling")
			// keep the original deadline for re-validation, retry later
			e.retryAt = now.Add(s.interval)
			s.mu.Lock()
			heap.Push(&s.pending, e)
			s.mu.Unlock()
		}
	}()
	s.coord.expireEntry(e)
}

// PendingCount reports how many entries are queued; used by tests and
// the health endpoint.
func (s *Sweeper) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// entryHeap orders entries by deadline, soonest first.
type entryHeap []Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].dueAt().Before(h[j].dueAt()) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

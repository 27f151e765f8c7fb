// Package hub implements the realtime broadcast hub: one room per
// showtime fanning out seat-state and booking-state change events to
// every subscribed client.  The hub holds only ephemeral subscription
// lists, never business state; a client that misses events recovers by
// re-reading the ledger snapshot.
//
// When constructed with a redis client the hub also mirrors every
// publish onto a per-showtime pub/sub channel and re-fans remote
// events into local rooms, so several instances share one logical
// room.  Without redis it degrades to purely in-process fan-out, the
// same graceful degradation the rest of the service applies to redis.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking-engine/internal/monitoring"
)

// Event types fanned out to showtime rooms.
const (
	EventSeatsSelected      = "seats-being-selected"
	EventSelectionFailed    = "seat-selection-failed"
	EventSeatsReserved      = "seats-reserved-for-payment"
	EventSeatsReleased      = "seats-released"
	EventSeatsBooked        = "seats-booked"
	EventReservationExpired = "reservation-expired"
	EventPaymentInitiated   = "payment-initiated"
	EventPaymentCompleted   = "payment-completed"
	EventPaymentFailed      = "payment-failed"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
)

// Event is one state-change notification delivered to a showtime room.
// Seat events for the same seat are published in the order the hold
// coordinator applied them; no ordering is promised across seats.
type Event struct {
	Type       string    `json:"type"`
	ShowtimeID string    `json:"showtime_id"`
	SeatIDs    []string  `json:"seat_ids,omitempty"`
	HolderID   string    `json:"holder_id,omitempty"`
	BookingID  string    `json:"booking_id,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	At         time.Time `json:"at"`
	origin     string    // instance that produced the event; empty for local
}

const subscriberBuffer = 32

type room struct {
	subs map[string]chan Event // keyed by clientID
}

// Hub fans events out to per-showtime rooms.  Construct with New.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	rdb      *redis.Client
	instance string
	cancel   context.CancelFunc
	log      *logrus.Entry
}

// New returns a hub.  rdb may be nil to disable the cross-instance
// bridge.  instance identifies this process on the bridge so it can
// ignore its own mirrored publishes.
func New(rdb *redis.Client, instance string) *Hub {
	h := &Hub{
		rooms:    make(map[string]*room),
		rdb:      rdb,
		instance: instance,
		log:      logrus.WithField("component", "hub"),
	}
	if rdb != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.bridgeLoop(ctx)
	}
	return h
}

// Close stops the redis bridge, if any, and closes every subscriber
// channel.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		for id, ch := range r.subs {
			close(ch)
			delete(r.subs, id)
		}
	}
}

// Join subscribes a client to a showtime room and returns its event
// channel plus a leave function.  Joining announces user-joined to the
// rest of the room.  Clients must read the current seat snapshot after
// joining; the hub does not replay history.
func (h *Hub) Join(showtimeID, clientID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	r, ok := h.rooms[showtimeID]
	if !ok {
		r = &room{subs: make(map[string]chan Event)}
		h.rooms[showtimeID] = r
	}
	if old, exists := r.subs[clientID]; exists {
		close(old) // replace a stale subscription from the same client
	}
	r.subs[clientID] = ch
	h.mu.Unlock()
	monitoring.RoomJoined(showtimeID)

	h.Publish(showtimeID, Event{Type: EventUserJoined, ShowtimeID: showtimeID, ClientID: clientID, At: time.Now().UTC()})

	var once sync.Once
	leave := func() {
		once.Do(func() { h.leave(showtimeID, clientID) })
	}
	return ch, leave
}

func (h *Hub) leave(showtimeID, clientID string) {
	h.mu.Lock()
	if r, ok := h.rooms[showtimeID]; ok {
		if ch, exists := r.subs[clientID]; exists {
			close(ch)
			delete(r.subs, clientID)
		}
		if len(r.subs) == 0 {
			delete(h.rooms, showtimeID)
		}
	}
	h.mu.Unlock()
	monitoring.RoomLeft(showtimeID)

	h.Publish(showtimeID, Event{Type: EventUserLeft, ShowtimeID: showtimeID, ClientID: clientID, At: time.Now().UTC()})
}

// Publish delivers an event to every subscriber of the showtime's room
// and mirrors it to the redis bridge when enabled.  Delivery to
// connected clients is at-least-once with respect to the room; a
// subscriber whose buffer is full is dropped (its channel closed) so a
// slow client can never block the coordinator.  A dropped client
// recovers by rejoining and re-reading the snapshot.
func (h *Hub) Publish(showtimeID string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.deliverLocal(showtimeID, ev)

	if h.rdb != nil && ev.origin == "" {
		ev.origin = h.instance
		payload, err := json.Marshal(wireEvent{Origin: h.instance, Event: ev})
		if err != nil {
			h.log.WithError(err).Warn("marshal bridge event")
			return
		}
		if err := h.rdb.Publish(context.Background(), channelFor(showtimeID), payload).Err(); err != nil {
			h.log.WithError(err).Warn("publish bridge event")
		}
	}
}

func (h *Hub) deliverLocal(showtimeID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[showtimeID]
	if !ok {
		return
	}
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(r.subs, id)
			h.log.WithFields(logrus.Fields{"showtime_id": showtimeID, "client_id": id}).
				Warn("dropping slow subscriber")
		}
	}
}

// RoomSize returns the number of subscribers currently in a room.
func (h *Hub) RoomSize(showtimeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[showtimeID]; ok {
		return len(r.subs)
	}
	return 0
}

type wireEvent struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

func channelFor(showtimeID string) string {
	return "seatroom:" + showtimeID
}

// bridgeLoop subscribes to every seatroom channel and re-fans events
// produced by other instances into local rooms.
func (h *Hub) bridgeLoop(ctx context.Context) {
	sub := h.rdb.PSubscribe(ctx, "seatroom:*")
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				h.log.WithError(err).Warn("unmarshal bridge event")
				continue
			}
			if we.Origin == h.instance {
				continue // our own mirror
			}
			we.Event.origin = we.Origin
			h.deliverLocal(we.Event.ShowtimeID, we.Event)
		}
	}
}

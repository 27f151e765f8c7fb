// Package monitoring defines the prometheus metrics exported by the
// booking core.  Metrics are registered through promauto and exposed
// by the /metrics endpoint wired in the router.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	seatTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_transitions_total",
			Help: "Seat hold transitions applied by the coordinator",
		},
		[]string{"operation", "outcome"},
	)

	activeHolds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_seat_holds_total",
			Help: "Seats currently selected or reserved",
		},
	)

	expiredHolds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expired_seat_holds_total",
			Help: "Holds revoked by the expiry sweeper",
		},
	)

	roomSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "room_subscribers_total",
			Help: "Clients subscribed per showtime room",
		},
		[]string{"showtime_id"},
	)

	webhookOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_total",
			Help: "Webhook deliveries by outcome (applied, ignored, rejected)",
		},
		[]string{"outcome"},
	)

	gatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_requests_total",
			Help: "Outbound payment gateway calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// TrackTransition records the outcome of one coordinator operation.
func TrackTransition(operation, outcome string) {
	seatTransitions.WithLabelValues(operation, outcome).Inc()
}

// HoldsAdded moves the active-holds gauge up by n.
func HoldsAdded(n int) { activeHolds.Add(float64(n)) }

// HoldsRemoved moves the active-holds gauge down by n.
func HoldsRemoved(n int) { activeHolds.Sub(float64(n)) }

// TrackExpiry records n holds revoked by the sweeper.
func TrackExpiry(n int) { expiredHolds.Add(float64(n)) }

// RoomJoined bumps the subscriber gauge for a showtime.
func RoomJoined(showtimeID string) { roomSubscribers.WithLabelValues(showtimeID).Inc() }

// RoomLeft decrements the subscriber gauge for a showtime.
func RoomLeft(showtimeID string) { roomSubscribers.WithLabelValues(showtimeID).Dec() }

// TrackWebhook records one webhook delivery outcome.
func TrackWebhook(outcome string) { webhookOutcomes.WithLabelValues(outcome).Inc() }

// TrackGateway records one outbound gateway call.
func TrackGateway(operation, outcome string) {
	gatewayRequests.WithLabelValues(operation, outcome).Inc()
}

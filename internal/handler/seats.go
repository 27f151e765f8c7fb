package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-engine/internal/cache"
	"github.com/iliyamo/cinema-booking-engine/internal/hold"
	"github.com/iliyamo/cinema-booking-engine/internal/hub"
	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/middleware"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// HoldCoordinator is the subset of the hold coordinator the seat
// handlers drive. Declared here so tests can substitute a fake.
type HoldCoordinator interface {
	Claim(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error)
	Extend(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error)
	Upgrade(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error)
	Release(ctx context.Context, showtimeID string, seatIDs []string, holderID string) error
	Snapshot(ctx context.Context, showtimeID string, seatIDs []string) ([]model.SeatHold, error)
}

// RoomPublisher lets the handler announce failures the coordinator
// itself never sees, such as a rejected claim.
type RoomPublisher interface {
	Publish(showtimeID string, ev hub.Event)
}

// SeatHandler serves the seat map and the seat commands for a
// showtime. Successful commands invalidate the shared snapshot cache
// so the next map read reflects the transition.
type SeatHandler struct {
	Coordinator HoldCoordinator
	Rooms       RoomPublisher
	Snapshots   *cache.SnapshotCache
}

// NewSeatHandler constructs a SeatHandler. Coordinator and Rooms must
// be non-nil; the snapshot cache may be built around a nil redis
// client, which disables it.
func NewSeatHandler(coord HoldCoordinator, rooms RoomPublisher, snapshots *cache.SnapshotCache) *SeatHandler {
	if coord == nil || rooms == nil {
		panic("nil dependency passed to NewSeatHandler")
	}
	return &SeatHandler{Coordinator: coord, Rooms: rooms, Snapshots: snapshots}
}

// seatCommand is the closed form every seat mutation request is
// validated into before it reaches the coordinator. Inbound payloads
// carrying anything else are rejected at this boundary.
type seatCommand struct {
	ShowtimeID string
	SeatIDs    []string
	HolderID   string
}

// bindSeatCommand validates the request into a seatCommand: the path
// carries the showtime, the body carries seat ids, and the identity
// middleware supplies the holder. Empty or duplicated seat ids are a
// validation error, not a silent fixup, so clients learn about bugs
// early.
func bindSeatCommand(c echo.Context) (seatCommand, error) {
	cmd := seatCommand{
		ShowtimeID: c.Param("id"),
		HolderID:   middleware.HolderID(c),
	}
	if cmd.ShowtimeID == "" {
		return cmd, errors.New("missing showtime id")
	}
	if cmd.HolderID == "" {
		return cmd, errors.New("missing holder identity")
	}
	var body struct {
		SeatIDs []string `json:"seat_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return cmd, errors.New("invalid request body")
	}
	if len(body.SeatIDs) == 0 {
		return cmd, errors.New("seat_ids is required")
	}
	seen := make(map[string]struct{}, len(body.SeatIDs))
	for _, id := range body.SeatIDs {
		if id == "" {
			return cmd, errors.New("seat_ids must not contain empty ids")
		}
		if _, dup := seen[id]; dup {
			return cmd, errors.New("seat_ids must not contain duplicates")
		}
		seen[id] = struct{}{}
	}
	cmd.SeatIDs = body.SeatIDs
	return cmd, nil
}

// SeatMap handles GET /v1/showtimes/:id/seats. It returns the full
// seat state for the showtime, served from the snapshot cache when a
// fresh copy exists.
func (h *SeatHandler) SeatMap(c echo.Context) error {
	showtimeID := c.Param("id")
	if showtimeID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing showtime id"})
	}
	ctx := c.Request().Context()

	if h.Snapshots != nil {
		if bs, ok := h.Snapshots.Get(ctx, showtimeID); ok {
			return c.JSONBlob(http.StatusOK, bs)
		}
	}

	holds, err := h.Coordinator.Snapshot(ctx, showtimeID, nil)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownShowtime) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read seat map"})
	}

	payload := echo.Map{"showtime_id": showtimeID, "seats": holds}
	bs, err := json.Marshal(payload)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to encode seat map"})
	}
	if h.Snapshots != nil {
		h.Snapshots.Set(ctx, showtimeID, bs)
	}
	return c.JSONBlob(http.StatusOK, bs)
}

// Select handles POST /v1/showtimes/:id/seats/select. All requested
// seats are claimed together or not at all. A conflict answers 409
// with the ids that were taken, and the room hears about the failed
// attempt so other clients can update their view of contention.
func (h *SeatHandler) Select(c echo.Context) error {
	cmd, err := bindSeatCommand(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	expiry, err := h.Coordinator.Claim(c.Request().Context(), cmd.ShowtimeID, cmd.SeatIDs, cmd.HolderID)
	if err != nil {
		return h.commandError(c, cmd, err)
	}
	h.invalidate(c, cmd.ShowtimeID)
	return c.JSON(http.StatusOK, echo.Map{
		"status":     "selected",
		"seat_ids":   cmd.SeatIDs,
		"expires_at": expiry,
	})
}

// Extend handles POST /v1/showtimes/:id/seats/extend and pushes the
// expiry of an existing selection forward.
func (h *SeatHandler) Extend(c echo.Context) error {
	cmd, err := bindSeatCommand(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	expiry, err := h.Coordinator.Extend(c.Request().Context(), cmd.ShowtimeID, cmd.SeatIDs, cmd.HolderID)
	if err != nil {
		return h.commandError(c, cmd, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":     "extended",
		"seat_ids":   cmd.SeatIDs,
		"expires_at": expiry,
	})
}

// Release handles POST /v1/showtimes/:id/seats/release. Seats owned by
// the caller go back to available; ids held by someone else are
// reported as a conflict without touching them.
func (h *SeatHandler) Release(c echo.Context) error {
	cmd, err := bindSeatCommand(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := h.Coordinator.Release(c.Request().Context(), cmd.ShowtimeID, cmd.SeatIDs, cmd.HolderID); err != nil {
		// Seats the caller did own were still freed before the
		// conflict was reported, so the cached map is stale either way.
		h.invalidate(c, cmd.ShowtimeID)
		return h.commandError(c, cmd, err)
	}
	h.invalidate(c, cmd.ShowtimeID)
	return c.JSON(http.StatusOK, echo.Map{
		"status":   "released",
		"seat_ids": cmd.SeatIDs,
	})
}

// InitiatePayment handles POST /v1/showtimes/:id/seats/initiate-payment.
// It upgrades the caller's selection to the longer-lived reserved state
// that survives the checkout flow. The booking itself is created by a
// separate POST /v1/bookings call.
func (h *SeatHandler) InitiatePayment(c echo.Context) error {
	cmd, err := bindSeatCommand(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	expiry, err := h.Coordinator.Upgrade(c.Request().Context(), cmd.ShowtimeID, cmd.SeatIDs, cmd.HolderID)
	if err != nil {
		return h.commandError(c, cmd, err)
	}
	h.invalidate(c, cmd.ShowtimeID)
	return c.JSON(http.StatusOK, echo.Map{
		"status":     "reserved",
		"seat_ids":   cmd.SeatIDs,
		"expires_at": expiry,
	})
}

// commandError maps coordinator errors onto HTTP responses. Conflicts
// become 409 plus a room broadcast; unknown showtimes or seats are 404.
func (h *SeatHandler) commandError(c echo.Context, cmd seatCommand, err error) error {
	var conflict *hold.ConflictError
	if errors.As(err, &conflict) {
		h.Rooms.Publish(cmd.ShowtimeID, hub.Event{
			Type:       hub.EventSelectionFailed,
			ShowtimeID: cmd.ShowtimeID,
			SeatIDs:    conflict.SeatIDs,
			HolderID:   cmd.HolderID,
			At:         time.Now().UTC(),
		})
		return c.JSON(http.StatusConflict, echo.Map{
			"error":             "seats unavailable",
			"unavailable_seats": conflict.SeatIDs,
		})
	}
	if errors.Is(err, ledger.ErrUnknownShowtime) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime not found"})
	}
	if errors.Is(err, ledger.ErrUnknownSeat) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown seat id"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "seat command failed"})
}

func (h *SeatHandler) invalidate(c echo.Context, showtimeID string) {
	if h.Snapshots != nil {
		h.Snapshots.Invalidate(c.Request().Context(), showtimeID)
	}
}

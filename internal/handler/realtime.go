package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking-engine/internal/hub"
	"github.com/iliyamo/cinema-booking-engine/internal/middleware"
)

// RoomStreamer is the hub surface the realtime handler needs.
type RoomStreamer interface {
	Join(showtimeID, clientID string) (<-chan hub.Event, func())
}

// RealtimeHandler streams seat events for a showtime over SSE. Each
// connection is one room subscription; the client re-reads the seat
// map after connecting because the stream carries changes only, never
// history.
type RealtimeHandler struct {
	Rooms RoomStreamer
}

func NewRealtimeHandler(rooms RoomStreamer) *RealtimeHandler {
	if rooms == nil {
		panic("nil hub passed to NewRealtimeHandler")
	}
	return &RealtimeHandler{Rooms: rooms}
}

const heartbeatInterval = 15 * time.Second

// Stream handles GET /v1/showtimes/:id/stream. It subscribes the
// caller to the showtime room and writes each event as one SSE
// message. A comment line is sent periodically so proxies keep the
// idle connection open. The room is notified when the client joins
// and leaves.
func (h *RealtimeHandler) Stream(c echo.Context) error {
	showtimeID := c.Param("id")
	if showtimeID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing showtime id"})
	}

	clientID := middleware.HolderID(c)
	if clientID == "" {
		clientID = "anon:" + uuid.NewString()
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	// Join announces user-joined to the room and leave announces
	// user-left, so the handler only moves events onto the wire.
	events, leave := h.Rooms.Join(showtimeID, clientID)
	defer leave()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				// Hub dropped us, usually because we read too slowly.
				// The client reconnects and re-reads the seat map.
				return nil
			}
			if err := writeSSE(res, ev); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func writeSSE(res *echo.Response, ev hub.Event) error {
	bs, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).Warn("failed to encode stream event")
		return nil
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Type, bs); err != nil {
		return err
	}
	res.Flush()
	return nil
}

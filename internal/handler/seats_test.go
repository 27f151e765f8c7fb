package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/cache"
	"github.com/iliyamo/cinema-booking-engine/internal/hold"
	"github.com/iliyamo/cinema-booking-engine/internal/hub"
	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

type coordStub struct {
	claimErr error
	expiry   time.Time
	holds    []model.SeatHold
	snapErr  error
}

func (s *coordStub) Claim(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error) {
	return s.expiry, s.claimErr
}

func (s *coordStub) Extend(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error) {
	return s.expiry, s.claimErr
}

func (s *coordStub) Upgrade(ctx context.Context, showtimeID string, seatIDs []string, holderID string) (time.Time, error) {
	return s.expiry, s.claimErr
}

func (s *coordStub) Release(ctx context.Context, showtimeID string, seatIDs []string, holderID string) error {
	return s.claimErr
}

func (s *coordStub) Snapshot(ctx context.Context, showtimeID string, seatIDs []string) ([]model.SeatHold, error) {
	return s.holds, s.snapErr
}

type pubStub struct {
	mu     sync.Mutex
	events []hub.Event
}

func (p *pubStub) Publish(showtimeID string, ev hub.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func newSeatRequest(t *testing.T, method, target, body, holder string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("st-1")
	if holder != "" {
		c.Set("holder_id", holder)
	}
	return c, rec
}

func seatHandler(coord *coordStub, pub *pubStub) *SeatHandler {
	return NewSeatHandler(coord, pub, cache.NewSnapshotCache(nil, time.Second))
}

func TestSelectReturnsExpiry(t *testing.T) {
	expiry := time.Date(2026, 3, 14, 18, 5, 0, 0, time.UTC)
	h := seatHandler(&coordStub{expiry: expiry}, &pubStub{})

	c, rec := newSeatRequest(t, http.MethodPost, "/v1/showtimes/st-1/seats/select",
		`{"seat_ids":["A1","A2"]}`, "guest:alice")
	require.NoError(t, h.Select(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status    string    `json:"status"`
		SeatIDs   []string  `json:"seat_ids"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "selected", resp.Status)
	assert.Equal(t, []string{"A1", "A2"}, resp.SeatIDs)
	assert.True(t, expiry.Equal(resp.ExpiresAt))
}

func TestSelectConflictAnswers409AndTellsTheRoom(t *testing.T) {
	pub := &pubStub{}
	h := seatHandler(&coordStub{claimErr: &hold.ConflictError{Op: "claim", SeatIDs: []string{"A2"}}}, pub)

	c, rec := newSeatRequest(t, http.MethodPost, "/v1/showtimes/st-1/seats/select",
		`{"seat_ids":["A1","A2"]}`, "guest:alice")
	require.NoError(t, h.Select(c))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Unavailable []string `json:"unavailable_seats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"A2"}, resp.Unavailable)

	require.Len(t, pub.events, 1)
	assert.Equal(t, hub.EventSelectionFailed, pub.events[0].Type)
	assert.Equal(t, []string{"A2"}, pub.events[0].SeatIDs)
	assert.Equal(t, "guest:alice", pub.events[0].HolderID)
}

func TestSeatCommandValidation(t *testing.T) {
	h := seatHandler(&coordStub{}, &pubStub{})

	cases := []struct {
		name   string
		body   string
		holder string
	}{
		{"no body", "", "guest:alice"},
		{"empty seat list", `{"seat_ids":[]}`, "guest:alice"},
		{"duplicate seats", `{"seat_ids":["A1","A1"]}`, "guest:alice"},
		{"empty seat id", `{"seat_ids":["A1",""]}`, "guest:alice"},
		{"unexpected shape", `{"seats":"A1"}`, "guest:alice"},
		{"no holder", `{"seat_ids":["A1"]}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := newSeatRequest(t, http.MethodPost, "/v1/showtimes/st-1/seats/select", tc.body, tc.holder)
			require.NoError(t, h.Select(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCommandUnknownShowtimeIs404(t *testing.T) {
	h := seatHandler(&coordStub{claimErr: ledger.ErrUnknownShowtime}, &pubStub{})

	c, rec := newSeatRequest(t, http.MethodPost, "/v1/showtimes/st-1/seats/select",
		`{"seat_ids":["A1"]}`, "guest:alice")
	require.NoError(t, h.Select(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSeatMapServesSnapshot(t *testing.T) {
	holds := []model.SeatHold{
		{ShowtimeID: "st-1", SeatID: "A1", Status: model.SeatAvailable},
		{ShowtimeID: "st-1", SeatID: "A2", Status: model.SeatSelected, HolderID: "guest:bob"},
	}
	h := seatHandler(&coordStub{holds: holds}, &pubStub{})

	c, rec := newSeatRequest(t, http.MethodGet, "/v1/showtimes/st-1/seats", "", "")
	require.NoError(t, h.SeatMap(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ShowtimeID string           `json:"showtime_id"`
		Seats      []model.SeatHold `json:"seats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "st-1", resp.ShowtimeID)
	require.Len(t, resp.Seats, 2)
	assert.Equal(t, model.SeatSelected, resp.Seats[1].Status)
}

func TestSeatMapUnknownShowtime(t *testing.T) {
	h := seatHandler(&coordStub{snapErr: ledger.ErrUnknownShowtime}, &pubStub{})

	c, rec := newSeatRequest(t, http.MethodGet, "/v1/showtimes/st-1/seats", "", "")
	require.NoError(t, h.SeatMap(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

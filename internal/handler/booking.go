package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-engine/internal/booking"
	"github.com/iliyamo/cinema-booking-engine/internal/hold"
	"github.com/iliyamo/cinema-booking-engine/internal/middleware"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/payment"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
)

// BookingService is the orchestrator surface the booking handlers use.
type BookingService interface {
	Create(ctx context.Context, req booking.CreateRequest) (*model.Booking, *model.PaymentIntent, error)
	Get(ctx context.Context, bookingID string) (*model.Booking, error)
	Cancel(ctx context.Context, bookingID, reason string) (*model.Booking, error)
}

// PaymentChecker polls the gateway on behalf of a waiting client.
type PaymentChecker interface {
	Poll(ctx context.Context, bookingID string) (model.GatewayStatus, error)
}

// BookingHandler serves checkout: creating bookings, reading them back,
// client-triggered payment checks and explicit cancellation.
type BookingHandler struct {
	Bookings BookingService
	Payments PaymentChecker
}

func NewBookingHandler(bookings BookingService, payments PaymentChecker) *BookingHandler {
	if bookings == nil || payments == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: bookings, Payments: payments}
}

// Create handles POST /v1/bookings. The holder must already have the
// seats selected; the orchestrator upgrades them to reserved, prices
// the order and opens a payment link which is returned to the client.
func (h *BookingHandler) Create(c echo.Context) error {
	holderID := middleware.HolderID(c)
	if holderID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var body struct {
		ShowtimeID string             `json:"showtime_id"`
		SeatIDs    []string           `json:"seat_ids"`
		Combos     []model.ComboLine  `json:"combos"`
		VoucherID  string             `json:"voucher_id"`
		Customer   model.CustomerInfo `json:"customer"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	b, pi, err := h.Bookings.Create(c.Request().Context(), booking.CreateRequest{
		ShowtimeID: body.ShowtimeID,
		SeatIDs:    body.SeatIDs,
		HolderID:   holderID,
		Combos:     body.Combos,
		VoucherID:  body.VoucherID,
		Customer:   body.Customer,
	})
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrValidation):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		case errors.Is(err, booking.ErrInvalidVoucher):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid voucher"})
		case errors.Is(err, hold.ErrSeatUnavailable):
			var conflict *hold.ConflictError
			resp := echo.Map{"error": "seats unavailable"}
			if errors.As(err, &conflict) {
				resp["unavailable_seats"] = conflict.SeatIDs
			}
			return c.JSON(http.StatusConflict, resp)
		case errors.Is(err, repository.ErrShowtimeNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime not found"})
		case errors.Is(err, payment.ErrGatewayUnavailable):
			// The seats were released and the booking cancelled; the
			// client may retry checkout once the gateway is back.
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payment gateway unavailable, please retry"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create booking"})
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"booking":      b,
		"order_code":   pi.OrderCode,
		"checkout_url": pi.CheckoutURL,
	})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.Bookings.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load booking"})
	}
	if !ownsBooking(c, b) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your booking"})
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": b})
}

// CheckPayment handles POST /v1/bookings/:id/check-payment. Clients
// call it when the checkout page says the payment went through but the
// webhook has not arrived yet. A terminal gateway answer is applied
// immediately; gateway connectivity trouble is reported as retryable
// rather than as a failed payment.
func (h *BookingHandler) CheckPayment(c echo.Context) error {
	bookingID := c.Param("id")
	b, err := h.Bookings.Get(c.Request().Context(), bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load booking"})
	}
	if !ownsBooking(c, b) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your booking"})
	}

	status, err := h.Payments.Poll(c.Request().Context(), bookingID)
	if err != nil {
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{
				"error":     "payment gateway unreachable",
				"retryable": true,
			})
		}
		if errors.Is(err, repository.ErrIntentNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no payment intent for booking"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment check failed"})
	}

	// Re-read so the response reflects any state the poll just applied.
	b, err = h.Bookings.Get(c.Request().Context(), bookingID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load booking"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"gateway_status": status,
		"booking":        b,
	})
}

// Cancel handles POST /v1/bookings/:id/cancel. Cancelling a booking
// that is already cancelled is a no-op; cancelling a confirmed booking
// is refused.
func (h *BookingHandler) Cancel(c echo.Context) error {
	bookingID := c.Param("id")
	b, err := h.Bookings.Get(c.Request().Context(), bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load booking"})
	}
	if !ownsBooking(c, b) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your booking"})
	}

	b, err = h.Bookings.Cancel(c.Request().Context(), bookingID, "cancelled by customer")
	if err != nil {
		if errors.Is(err, booking.ErrAlreadyConfirmed) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "booking already confirmed"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cancel booking"})
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": b})
}

// ownsBooking checks the caller against the booking's holder so one
// customer cannot read or cancel another customer's checkout.
func ownsBooking(c echo.Context, b *model.Booking) bool {
	return middleware.HolderID(c) == b.HolderID
}

// WebhookReceiver applies signed gateway notifications; the payment
// reconciler implements it.
type WebhookReceiver interface {
	OnWebhook(ctx context.Context, body []byte, signature string) (bool, error)
}

// WebhookHandler terminates the payment provider's server-to-server
// notifications.
type WebhookHandler struct {
	Payments WebhookReceiver
}

func NewWebhookHandler(payments WebhookReceiver) *WebhookHandler {
	if payments == nil {
		panic("nil reconciler passed to NewWebhookHandler")
	}
	return &WebhookHandler{Payments: payments}
}

// Handle serves POST /v1/payments/webhook. The raw body is verified
// against the x-signature header before anything is parsed. Duplicate
// deliveries answer 200 with applied=false so the provider stops
// retrying.
func (h *WebhookHandler) Handle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}

	applied, err := h.Payments.OnWebhook(c.Request().Context(), body, c.Request().Header.Get("x-signature"))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
		}
		if errors.Is(err, repository.ErrIntentNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown order code"})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"applied": applied})
}

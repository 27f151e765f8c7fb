package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/handler"
	"github.com/iliyamo/cinema-booking-engine/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Seats    *handler.SeatHandler
	Realtime *handler.RealtimeHandler
	Bookings *handler.BookingHandler
	Webhook  *handler.WebhookHandler
	Health   *handler.HealthHandler
}

// Register mounts every route of the booking engine on e.
//
// Route layout:
//   - probes and metrics are unauthenticated
//   - the gateway webhook authenticates with its signature, not a user
//   - seat map and stream accept anonymous readers
//   - seat commands and checkout require a holder identity; seat
//     commands additionally pass the shared rate limiter, since they
//     are the endpoints a stuck retry loop would hammer
func Register(e *echo.Echo, cfg config.Config, rdb *redis.Client, h Handlers) {
	e.GET("/healthz", h.Health.Live)
	e.GET("/readyz", h.Health.Ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/v1/payments/webhook", h.Webhook.Handle)

	readIdentity := middleware.OptionalHolderIdentity(cfg.JWTSecret)
	e.GET("/v1/showtimes/:id/seats", h.Seats.SeatMap, readIdentity)
	e.GET("/v1/showtimes/:id/stream", h.Realtime.Stream, readIdentity)

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	seats := e.Group("/v1/showtimes/:id/seats", middleware.HolderIdentity(cfg.JWTSecret), limiter)
	seats.POST("/select", h.Seats.Select)
	seats.POST("/release", h.Seats.Release)
	seats.POST("/extend", h.Seats.Extend)
	seats.POST("/initiate-payment", h.Seats.InitiatePayment)

	bookings := e.Group("/v1/bookings", middleware.HolderIdentity(cfg.JWTSecret))
	bookings.POST("", h.Bookings.Create)
	bookings.GET("/:id", h.Bookings.Get)
	bookings.POST("/:id/check-payment", h.Bookings.CheckPayment)
	bookings.POST("/:id/cancel", h.Bookings.Cancel)
}

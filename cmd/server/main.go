package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking-engine/internal/booking"
	"github.com/iliyamo/cinema-booking-engine/internal/cache"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/database"
	"github.com/iliyamo/cinema-booking-engine/internal/handler"
	"github.com/iliyamo/cinema-booking-engine/internal/hold"
	"github.com/iliyamo/cinema-booking-engine/internal/hub"
	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/payment"
	"github.com/iliyamo/cinema-booking-engine/internal/queue"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
	"github.com/iliyamo/cinema-booking-engine/internal/router"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Env == "dev" {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	}
	log := logrus.WithField("instance", cfg.InstanceID)

	db, err := database.Connect(cfg)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	// Redis is optional: without it the hub runs single-instance, the
	// snapshot cache is off and the rate limiter fails open.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable, running degraded (no cross-instance fanout, cache or rate limiting)")
	}

	catalog := repository.NewCatalogRepo(db)
	bookingsRepo := repository.NewBookingRepo(db)
	intentsRepo := repository.NewPaymentIntentRepo(db)

	// Seed the in-memory seat ledger with every active showtime.
	led := ledger.New()
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if err := syncLedger(bootCtx, led, catalog); err != nil {
		cancelBoot()
		log.WithError(err).Fatal("seat ledger bootstrap failed")
	}
	cancelBoot()
	log.WithField("showtimes", len(led.Showtimes())).Info("seat ledger loaded")

	// Keep the ledger aligned with the schedule afterwards: showtimes
	// added later appear (also lazily via the coordinator's loader) and
	// finished ones are evicted.
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if err := syncLedger(refreshCtx, led, catalog); err != nil {
					log.WithError(err).Warn("ledger schedule refresh failed")
				}
			}
		}
	}()

	rooms := hub.New(rdb, cfg.InstanceID)
	defer rooms.Close()

	coord := hold.NewCoordinator(led, rooms, cfg.SelectTTL, cfg.ReserveTTL)
	// A showtime scheduled after boot is loaded on first touch instead
	// of answering not-found until the next refresh.
	coord.SetLoader(func(ctx context.Context, showtimeID string) ([]string, error) {
		ok, err := catalog.ShowtimeExists(ctx, showtimeID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ledger.ErrUnknownShowtime
		}
		seats, err := catalog.SeatsByShowtime(ctx, showtimeID)
		if err != nil {
			if errors.Is(err, repository.ErrShowtimeNotFound) {
				return nil, ledger.ErrUnknownShowtime
			}
			return nil, err
		}
		ids := make([]string, len(seats))
		for i, s := range seats {
			ids[i] = s.SeatID
		}
		return ids, nil
	})
	sweeper := hold.NewSweeper(coord, cfg.SweepInterval)
	coord.SetScheduler(sweeper)
	sweeper.Start()
	defer sweeper.Stop()

	gateway := payment.NewGateway(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayChecksumKey)
	reconciler := payment.NewReconciler(gateway, intentsRepo)

	notifier := queue.NewPublisher(cfg.RabbitURL)
	orch := booking.NewOrchestrator(coord, bookingsRepo, catalog, notifier, rooms)

	// Orchestrator and reconciler call into each other, so the cycle is
	// closed after both exist.
	orch.AttachIntentCreator(reconciler)
	reconciler.AttachFinalizer(orch)

	// Expired holds cancel any pending checkout that was riding on them.
	coord.OnExpiry(orch.HandleHoldExpiry)

	// Drain booking.confirmed for ticket delivery in the background.
	go func() {
		if err := queue.StartBookingConsumer(cfg.RabbitURL); err != nil {
			log.WithError(err).Error("booking consumer stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.Register(e, cfg, rdb, router.Handlers{
		Seats:    handler.NewSeatHandler(coord, rooms, cache.NewSnapshotCache(rdb, 2*time.Second)),
		Realtime: handler.NewRealtimeHandler(rooms),
		Bookings: handler.NewBookingHandler(orch, reconciler),
		Webhook:  handler.NewWebhookHandler(reconciler),
		Health:   handler.NewHealthHandler(db, rdb),
	})

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil {
			log.WithError(err).Info("http server closed")
		}
	}()
	log.WithField("port", cfg.Port).WithField("env", cfg.Env).Info("booking engine listening")

	// Graceful shutdown: stop accepting requests, then let the deferred
	// sweeper/hub teardown run.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown did not complete cleanly")
	}
}

// syncLedger aligns the seat ledger with the catalog schedule: seat
// maps for active showtimes are loaded and showtimes that left the
// schedule are dropped, since sales close once a screening ends its
// grace window.
func syncLedger(ctx context.Context, led *ledger.Ledger, catalog *repository.CatalogRepo) error {
	showtimes, err := catalog.ActiveShowtimes(ctx)
	if err != nil {
		return err
	}
	active := make(map[string]struct{}, len(showtimes))
	for _, st := range showtimes {
		active[st] = struct{}{}
		if led.Has(st) {
			continue
		}
		seats, err := catalog.SeatsByShowtime(ctx, st)
		if err != nil {
			return fmt.Errorf("seat map for showtime %s: %w", st, err)
		}
		ids := make([]string, len(seats))
		for i, s := range seats {
			ids[i] = s.SeatID
		}
		led.LoadShowtime(st, ids)
	}
	for _, st := range led.Showtimes() {
		if _, ok := active[st]; !ok {
			led.DropShowtime(st)
		}
	}
	return nil
}

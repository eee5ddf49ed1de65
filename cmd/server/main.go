// Command server runs the seat admission engine: the HTTP API, the
// payment-result consumer and the reconciliation sweeps, all under one
// supervisor tree.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-admission/internal/config"
	"github.com/iliyamo/seat-admission/internal/database"
	"github.com/iliyamo/seat-admission/internal/events"
	"github.com/iliyamo/seat-admission/internal/handler"
	"github.com/iliyamo/seat-admission/internal/lock"
	"github.com/iliyamo/seat-admission/internal/logging"
	"github.com/iliyamo/seat-admission/internal/middleware"
	"github.com/iliyamo/seat-admission/internal/model"
	"github.com/iliyamo/seat-admission/internal/repository"
	"github.com/iliyamo/seat-admission/internal/router"
	"github.com/iliyamo/seat-admission/internal/scheduler"
	"github.com/iliyamo/seat-admission/internal/service"
	"github.com/iliyamo/seat-admission/internal/strategy"
	"github.com/iliyamo/seat-admission/internal/supervisor"
	"github.com/iliyamo/seat-admission/internal/waitroom"
)

func main() {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	engine, err := config.LoadEngineConfig()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid engine configuration")
	}
	broker := config.LoadBrokerConfig()

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.Close()

	// Redis holds the seat locks and the waiting rooms; there is no
	// degraded mode without it.
	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("redis unavailable")
	}
	defer rdb.Close()

	// persistence
	seats := repository.NewScheduleSeatRepo(db)
	reservations := repository.NewReservationRepo(db, model.KindReservation)
	strategyBookings := repository.NewReservationRepo(db, model.KindStrategyBooking)
	ledger := repository.NewLedger(db, seats, reservations, strategyBookings)
	schedules := repository.NewScheduleRepo(db)
	queues := repository.NewQueueRepo(db)
	entitlements := repository.NewEntitlementRepo(db)
	lottery := repository.NewLotteryRepo(db)

	// events
	emitter := events.NewEmitter(events.LogObserver(), events.MetricsObserver())
	if broker.Enabled {
		pub := events.NewPublisher(broker)
		defer pub.Close()
		emitter.Register(pub)
	}

	// engine
	locks := lock.NewManager(rdb)
	room := waitroom.NewRoom(rdb, queues, emitter)
	gate := strategy.NewGate(entitlements, lottery, room)
	releaser := service.NewHoldReleaser(ledger, locks, emitter)
	booking := service.NewBookingService(service.BookingDeps{
		Schedules: schedules,
		Gate:      gate,
		Locks:     locks,
		Ledger:    ledger,
		Releaser:  releaser,
		Tickets:   room,
		Events:    emitter,
	}, engine.HoldTTL)

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	router.Register(e, router.Handlers{
		Booking:      handler.NewBookingHandler(booking),
		Queue:        handler.NewQueueHandler(service.NewQueueService(queues, room)),
		Entitlements: handler.NewEntitlementHandler(service.NewEntitlementService(schedules, entitlements)),
		Admin: handler.NewAdminHandler(
			service.NewInventoryService(schedules, seats),
			service.NewLotteryService(schedules, lottery),
			booking,
		),
		Readiness: handler.NewReadinessHandler(map[string]handler.Check{
			"mysql": db.PingContext,
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
	}, router.Middleware{
		JWTSecret: cfg.JWTSecret,
		RateLimit: middleware.RateLimit(config.LoadRateLimitConfig(), rdb),
		Cache:     middleware.ResponseCache(config.LoadCacheConfig(), rdb),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// supervision
	tree := supervisor.NewTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: engine.ShutdownTimeout,
	})
	batch := engine.SweepBatchSize
	tree.AddSweep(scheduler.NewPeriodicService(scheduler.NewReservationExpiry(ledger, releaser, emitter, batch), engine.SweepInterval))
	tree.AddSweep(scheduler.NewPeriodicService(scheduler.NewSeatRelease(ledger, releaser, batch), engine.SweepInterval))
	tree.AddSweep(scheduler.NewPeriodicService(scheduler.NewQueuePromotion(queues, room, engine.PromotionBatchSize), engine.PromotionInterval))
	tree.AddSweep(scheduler.NewPeriodicService(scheduler.NewTicketExpiry(queues, room, batch), engine.TicketSweepInterval))
	if broker.Enabled {
		tree.AddMessagingService(events.NewPaymentConsumer(broker, booking))
	}
	tree.AddAPIService(supervisor.NewHTTPService(srv, engine.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Bool("broker", broker.Enabled).Msg("starting seat admission engine")
	if err := <-tree.ServeBackground(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree stopped")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop in time")
	}
	logging.Info().Msg("shutdown complete")
}

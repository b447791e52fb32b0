package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/slotpage/slotpage/libs/config"
	"github.com/slotpage/slotpage/libs/db"
	"github.com/slotpage/slotpage/libs/httpx"
	"github.com/slotpage/slotpage/libs/kafkax"
	otelx "github.com/slotpage/slotpage/libs/otel"
	"github.com/slotpage/slotpage/libs/runtime"
	"github.com/slotpage/slotpage/services/booking-service/internal/booking"
	"github.com/slotpage/slotpage/services/booking-service/internal/calendar"
	"github.com/slotpage/slotpage/services/booking-service/internal/calsync"
	"github.com/slotpage/slotpage/services/booking-service/internal/deposits"
	"github.com/slotpage/slotpage/services/booking-service/internal/handlers"
	"github.com/slotpage/slotpage/services/booking-service/internal/outbox"
	"github.com/slotpage/slotpage/services/booking-service/internal/reminders"
	"github.com/slotpage/slotpage/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	remindersRepo := reminders.NewRepository(pool)
	repo := storage.NewRepository(pool, outboxRepo, remindersRepo)
	caljobsRepo := calsync.NewRepository(pool)

	schedulingProvider, err := newSchedulingProvider(ctx, logger)
	if err != nil {
		logger.Error("scheduling provider init failed", "err", err)
		panic(err)
	}

	var cal calendar.Provider = calendar.Noop{}
	if bridgeURL := config.String("CALENDAR_BRIDGE_URL", ""); bridgeURL != "" {
		cal = calendar.NewHTTPProvider(bridgeURL, config.String("CALENDAR_BRIDGE_API_KEY", ""), 5*time.Second)
	}

	engine := booking.NewEngine(repo, schedulingProvider, cal, caljobsRepo, logger)

	depositsRepo := deposits.NewRepository(pool)
	gate := deposits.NewGate(deposits.Config{
		SecretKey:        config.String("STRIPE_SECRET_KEY", ""),
		WebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance: time.Duration(config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,
		SuccessURL:       config.String("DEPOSIT_SUCCESS_URL", "https://slotpage.example.com/deposit/success"),
		CancelURL:        config.String("DEPOSIT_CANCEL_URL", "https://slotpage.example.com/deposit/cancelled"),
		Currency:         config.String("DEPOSIT_CURRENCY", "usd"),
	}, depositsRepo, engine, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	reminderWorker := reminders.NewWorker(pool, remindersRepo, outboxRepo, logger,
		time.Duration(config.Int("REMINDER_SWEEP_SECONDS", 15))*time.Second)
	go reminderWorker.Run(ctx)

	calsyncWorker := calsync.NewWorker(pool, caljobsRepo, cal, repo, outboxRepo, logger,
		time.Duration(config.Int("CALENDAR_SYNC_SWEEP_SECONDS", 30))*time.Second)
	go calsyncWorker.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(engine, repo, gate, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Request)
	mux.HandleFunc("/api/v1/public/cancel", bookingHandler.ManageCancel)
	mux.HandleFunc("/api/v1/public/deposit/checkout", bookingHandler.DepositCheckout)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/approve", bookingHandler.Approve)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("/api/v1/appointments/deposit-paid", bookingHandler.DepositPaid)
	mux.HandleFunc("/api/v1/webhooks/stripe", gate.Webhook)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

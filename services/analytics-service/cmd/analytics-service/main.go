package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/slotpage/slotpage/libs/config"
	"github.com/slotpage/slotpage/libs/db"
	"github.com/slotpage/slotpage/libs/httpx"
	"github.com/slotpage/slotpage/libs/kafkax"
	otelx "github.com/slotpage/slotpage/libs/otel"
	"github.com/slotpage/slotpage/libs/runtime"
	"github.com/slotpage/slotpage/services/analytics-service/internal/consumer"
	"github.com/slotpage/slotpage/services/analytics-service/internal/inbox"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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

	inboxRepo := inbox.NewRepository(pool)
	consumerCfg := func(topic string) consumer.Config {
		return consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "analytics-service"),
			Topic:   topic,
		}
	}

	handleNotificationStatus := func(ctx context.Context, msg kafka.Message, status string) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
			BusinessID    string `json:"business_id"`
			Channel       string `json:"channel"`
			SentAt        string `json:"sent_at"`
			FailedAt      string `json:"failed_at"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid notification payload", "err", err)
			return nil
		}
		occurredAt := payload.SentAt
		if status == "failed" {
			occurredAt = payload.FailedAt
		}
		if payload.AppointmentID == "" || payload.Channel == "" || occurredAt == "" {
			logger.Error("missing notification fields", "topic", msg.Topic)
			return nil
		}
		if _, err := time.Parse(time.RFC3339, occurredAt); err != nil {
			logger.Error("invalid notification timestamp", "err", err)
			return nil
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO notification_metrics (appointment_id, business_id, channel, occurred_at, status)
			VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
		`, payload.AppointmentID, payload.BusinessID, payload.Channel, occurredAt, status)
		if err != nil {
			logger.Error("failed to write notification metric", "err", err)
			return err
		}

		sentInc, failedInc := 1, 0
		if status == "failed" {
			sentInc, failedInc = 0, 1
		}
		if payload.BusinessID != "" {
			if err := bumpNotificationAggregate(ctx, pool, payload.BusinessID, payload.Channel, occurredAt, sentInc, failedInc); err != nil {
				logger.Error("failed to update daily notification metrics", "err", err)
				return err
			}
		}

		logger.Info("notification metric recorded", "appointment_id", payload.AppointmentID, "channel", payload.Channel, "status", status)
		return nil
	}

	sentConsumer := consumer.New(logger, inboxRepo, consumerCfg("notification.sent"), func(ctx context.Context, msg kafka.Message) error {
		return handleNotificationStatus(ctx, msg, "sent")
	})
	go sentConsumer.Run(ctx)

	failedConsumer := consumer.New(logger, inboxRepo, consumerCfg("notification.failed"), func(ctx context.Context, msg kafka.Message) error {
		return handleNotificationStatus(ctx, msg, "failed")
	})
	go failedConsumer.Run(ctx)

	syncFailedConsumer := consumer.New(logger, inboxRepo, consumerCfg("booking.calendar.sync_failed"), func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
			BusinessID    string `json:"business_id"`
			Op            string `json:"op"`
			Error         string `json:"error"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid sync failure payload", "err", err)
			return nil
		}
		if payload.AppointmentID == "" || payload.BusinessID == "" {
			logger.Error("missing sync failure fields")
			return nil
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO calendar_sync_failures (appointment_id, business_id, op, error_reason)
			VALUES ($1, $2, $3, $4)
		`, payload.AppointmentID, payload.BusinessID, payload.Op, payload.Error)
		if err != nil {
			logger.Error("failed to write sync failure", "err", err)
			return err
		}

		logger.Warn("calendar sync failure recorded", "appointment_id", payload.AppointmentID, "op", payload.Op)
		return nil
	})
	go syncFailedConsumer.Run(ctx)

	authAuditConsumer := consumer.New(logger, inboxRepo, consumerCfg("auth.audit"), func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			EventType string          `json:"event_type"`
			ActorID   string          `json:"actor_id"`
			Metadata  json.RawMessage `json:"metadata"`
			CreatedAt string          `json:"created_at"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid auth audit payload", "err", err)
			return nil
		}
		if payload.EventType == "" || payload.CreatedAt == "" {
			logger.Error("missing auth audit fields")
			return nil
		}
		if _, err := time.Parse(time.RFC3339, payload.CreatedAt); err != nil {
			logger.Error("invalid auth audit created_at", "err", err)
			return nil
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO security_audit_events (event_type, actor_id, metadata, created_at)
			VALUES ($1, NULLIF($2, ''), $3, $4)
		`, payload.EventType, payload.ActorID, payload.Metadata, payload.CreatedAt)
		if err != nil {
			logger.Error("failed to write security audit event", "err", err)
			return err
		}

		logger.Info("security audit recorded", "event_type", payload.EventType)
		return nil
	})
	go authAuditConsumer.Run(ctx)

	handleBookingEvent := func(ctx context.Context, msg kafka.Message, kind string) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
			BusinessID    string `json:"business_id"`
			StartTime     string `json:"start_time"`
			EndTime       string `json:"end_time"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking payload", "err", err)
			return nil
		}
		if payload.AppointmentID == "" || payload.BusinessID == "" || payload.StartTime == "" {
			logger.Error("missing booking fields")
			return nil
		}
		startTime, err := time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			logger.Error("invalid start_time", "err", err)
			return nil
		}

		meta := kafkax.ExtractEventMeta(msg)

		tx, err := pool.Begin(ctx)
		if err != nil {
			logger.Error("db begin failed", "err", err)
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		// The inbox dedupes deliveries, but the event row is the durable
		// ledger; keep it idempotent on event_id as well.
		tag, err := tx.Exec(ctx, `
			INSERT INTO booking_events (event_id, event_type, business_id, appointment_id, occurred_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id) DO NOTHING
		`, meta.EventID, meta.EventType, payload.BusinessID, payload.AppointmentID, startTime.UTC())
		if err != nil {
			logger.Error("failed to insert booking event", "err", err)
			return err
		}
		if tag.RowsAffected() == 0 {
			_ = tx.Commit(ctx)
			return nil
		}

		bookedInc := 0
		canceledInc := 0
		if kind == "booked" {
			bookedInc = 1
		} else if kind == "canceled" {
			canceledInc = 1
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO daily_appointment_metrics (business_id, day, booked_count, canceled_count)
			VALUES ($1, $2::date, $3, $4)
			ON CONFLICT (business_id, day)
			DO UPDATE SET booked_count = daily_appointment_metrics.booked_count + EXCLUDED.booked_count,
			              canceled_count = daily_appointment_metrics.canceled_count + EXCLUDED.canceled_count,
			              updated_at = now()
		`, payload.BusinessID, startTime.UTC(), bookedInc, canceledInc); err != nil {
			logger.Error("failed to update daily metrics", "err", err)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			logger.Error("failed to commit booking metric", "err", err)
			return err
		}

		logger.Info("booking metric recorded", "appointment_id", payload.AppointmentID, "business_id", payload.BusinessID, "event_type", meta.EventType)
		return nil
	}

	confirmedConsumer := consumer.New(logger, inboxRepo, consumerCfg("booking.appointment.confirmed"), func(ctx context.Context, msg kafka.Message) error {
		return handleBookingEvent(ctx, msg, "booked")
	})
	go confirmedConsumer.Run(ctx)

	cancelConsumer := consumer.New(logger, inboxRepo, consumerCfg("booking.appointment.cancelled"), func(ctx context.Context, msg kafka.Message) error {
		return handleBookingEvent(ctx, msg, "canceled")
	})
	go cancelConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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

func bumpNotificationAggregate(ctx context.Context, pool *db.Pool, businessID, channel, ts string, sentInc, failedInc int) error {
	if businessID == "" || channel == "" || ts == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO daily_notification_metrics (business_id, day, channel, sent_count, failed_count)
		VALUES ($1, $2::date, $3, $4, $5)
		ON CONFLICT (business_id, day, channel)
		DO UPDATE SET sent_count = daily_notification_metrics.sent_count + EXCLUDED.sent_count,
		              failed_count = daily_notification_metrics.failed_count + EXCLUDED.failed_count,
		              updated_at = now()
	`, businessID, t.UTC(), channel, sentInc, failedInc)
	return err
}

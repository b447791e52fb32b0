package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/slotpage/slotpage/libs/config"
	"github.com/slotpage/slotpage/libs/db"
	"github.com/slotpage/slotpage/libs/httpx"
	"github.com/slotpage/slotpage/libs/kafkax"
	otelx "github.com/slotpage/slotpage/libs/otel"
	"github.com/slotpage/slotpage/libs/runtime"
	"github.com/slotpage/slotpage/services/notification-service/internal/consumer"
	"github.com/slotpage/slotpage/services/notification-service/internal/email"
	"github.com/slotpage/slotpage/services/notification-service/internal/inbox"
	"github.com/slotpage/slotpage/services/notification-service/internal/outbox"
	"github.com/slotpage/slotpage/services/notification-service/internal/sms"
	"github.com/slotpage/slotpage/services/notification-service/internal/storage"
	"github.com/slotpage/slotpage/services/notification-service/internal/templates"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Topics this service consumes. Client-facing events go to the client's
// email; operator alerts go to the configured alert address.
var clientTopics = []string{
	"booking.appointment.requested",
	"booking.appointment.confirmed",
	"booking.appointment.cancelled",
	"booking.appointment.rescheduled",
	"booking.deposit.due",
	"booking.reminder.due",
}

var operatorTopics = []string{
	"booking.calendar.sync_failed",
	"booking.deposit.conflict",
}

func isOperatorTopic(topic string) bool {
	for _, t := range operatorTopics {
		if t == topic {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func writeStatusEvent(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, eventType string, body map[string]any) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	appointmentID, _ := body["appointment_id"].(string)
	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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
	notificationsRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@slotpage.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)
	emailProviderID := "smtp"

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	smsWebhookURL := config.String("SMS_WEBHOOK_URL", "")
	smsWebhookToken := config.String("SMS_WEBHOOK_TOKEN", "")
	var smsSender sms.Sender
	switch smsProvider {
	case "noop":
		smsSender = sms.NewNoopSender()
	default:
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	}

	operatorEmail := strings.TrimSpace(config.String("OPERATOR_ALERT_EMAIL", ""))

	consumerCfg := consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  append(append([]string{}, clientTopics...), operatorTopics...),
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		var payload map[string]any
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if !templates.Supported(msg.Topic) {
			logger.Warn("no template for topic", "topic", msg.Topic)
			return nil
		}

		appointmentID := stringField(payload, "appointment_id")
		businessID := stringField(payload, "business_id")
		if appointmentID == "" || businessID == "" {
			logger.Error("missing event identity fields", "topic", msg.Topic)
			return nil
		}

		channel := "email"
		recipient := stringField(payload, "client_email")
		if isOperatorTopic(msg.Topic) {
			recipient = operatorEmail
		}
		if msg.Topic == "booking.reminder.due" {
			if c := stringField(payload, "channel"); c != "" {
				channel = strings.ToLower(c)
			}
			if rec := stringField(payload, "recipient"); rec != "" {
				recipient = rec
			}
			// Reminder copy lives in template_data, captured at scheduling time.
			if data, ok := payload["template_data"].(map[string]any); ok {
				for k, v := range data {
					if _, exists := payload[k]; !exists {
						payload[k] = v
					}
				}
			}
		}

		rendered, err := templates.Render(msg.Topic, templates.Data(payload))
		if err != nil {
			logger.Error("template render failed", "err", err, "topic", msg.Topic)
			return nil
		}

		status := "sent"
		failureReason := ""
		providerID := ""
		if recipient == "" {
			status = "skipped"
			failureReason = "no recipient"
		} else {
			switch channel {
			case "email":
				if err := emailSender.Send(recipient, rendered.Subject, rendered.Body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("email send failed", "err", err, "recipient", recipient)
				} else {
					providerID = emailProviderID
				}
			case "sms":
				if err := smsSender.Send(ctx, recipient, rendered.Body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("sms send failed", "err", err, "recipient", recipient)
				} else {
					providerID = smsSender.ProviderID()
				}
			default:
				status = "failed"
				failureReason = "unsupported channel: " + channel
				logger.Error("unsupported channel", "channel", channel)
			}
		}

		if err := notificationsRepo.Insert(ctx, storage.Notification{
			AppointmentID: appointmentID,
			BusinessID:    businessID,
			EventType:     msg.Topic,
			Channel:       channel,
			Recipient:     recipient,
			Subject:       rendered.Subject,
			Payload:       payload,
			Status:        status,
			ProviderID:    providerID,
			FailureReason: failureReason,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}

		statusBody := map[string]any{
			"appointment_id": appointmentID,
			"business_id":    businessID,
			"event_type":     msg.Topic,
			"channel":        channel,
		}
		switch status {
		case "failed":
			statusBody["error_reason"] = failureReason
			statusBody["failed_at"] = time.Now().UTC().Format(time.RFC3339)
			if err := writeStatusEvent(ctx, pool, outboxRepo, "notification.failed", statusBody); err != nil {
				logger.Error("failed to enqueue notification.failed", "err", err)
				return err
			}
		case "sent":
			if providerID == "" {
				providerID = "unknown"
			}
			statusBody["provider_id"] = providerID
			statusBody["sent_at"] = time.Now().UTC().Format(time.RFC3339)
			if err := writeStatusEvent(ctx, pool, outboxRepo, "notification.sent", statusBody); err != nil {
				logger.Error("failed to enqueue notification.sent", "err", err)
				return err
			}
		}

		logger.Info("event processed", "topic", msg.Topic, "appointment_id", appointmentID, "channel", channel, "status", status)
		return nil
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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

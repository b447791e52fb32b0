package reminders

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/slotpage/slotpage/libs/db"
	"github.com/slotpage/slotpage/services/booking-service/internal/outbox"
)

const (
	TopicReminderDue = "booking.reminder.due"

	defaultBatchSize = 50
)

// Worker drains due reminder jobs into the outbox so the notification
// pipeline delivers them. Runs alongside the outbox publisher in the
// service process.
type Worker struct {
	pool     *db.Pool
	repo     *Repository
	outbox   *outbox.Repository
	logger   *slog.Logger
	interval time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Worker{pool: pool, repo: repo, outbox: outboxRepo, logger: logger, interval: interval}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runOnce(ctx); err != nil {
				w.logger.Error("reminder sweep failed", "error", err)
			}
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	jobs, err := w.repo.FetchDue(ctx, tx, defaultBatchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var done []int64
	for _, job := range jobs {
		payload, err := json.Marshal(map[string]any{
			"appointment_id": job.AppointmentID,
			"business_id":    job.BusinessID,
			"channel":        job.Channel,
			"recipient":      job.Recipient,
			"remind_at":      job.RemindAt.UTC().Format(time.RFC3339),
			"template_data":  job.TemplateData,
		})
		if err != nil {
			job.Attempts++
			if job.Attempts >= job.MaxAttempts {
				if derr := w.repo.MarkDead(ctx, tx, job.ID); derr != nil {
					return derr
				}
				w.logger.Error("reminder dropped after max attempts", "job_id", job.ID, "appointment_id", job.AppointmentID, "error", err)
				continue
			}
			next := time.Now().Add(backoff(job.Attempts))
			if ferr := w.repo.MarkFailed(ctx, tx, job.ID, job.Attempts, next, err.Error()); ferr != nil {
				return ferr
			}
			continue
		}
		if err := w.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   job.AppointmentID,
			EventType:     TopicReminderDue,
			Payload:       payload,
		}); err != nil {
			return err
		}
		done = append(done, job.ID)
	}
	if err := w.repo.MarkProcessed(ctx, tx, done); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	w.logger.Info("reminders dispatched", "count", len(done))
	return nil
}

func backoff(attempts int) time.Duration {
	d := time.Minute
	for i := 1; i < attempts && d < 30*time.Minute; i++ {
		d *= 2
	}
	if d > 30*time.Minute {
		d = 30 * time.Minute
	}
	return d
}

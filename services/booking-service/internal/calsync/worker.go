package calsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slotpage/slotpage/libs/db"
	"github.com/slotpage/slotpage/services/booking-service/internal/calendar"
	"github.com/slotpage/slotpage/services/booking-service/internal/model"
	"github.com/slotpage/slotpage/services/booking-service/internal/outbox"
)

const (
	TopicSyncFailed = "booking.calendar.sync_failed"

	defaultBatchSize = 20
)

// Appointments is the slice of the appointment store the worker needs to
// check state before replaying and to record sync results.
type Appointments interface {
	Get(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)
	SetCalendarEvent(ctx context.Context, businessID, appointmentID, eventRef string, syncPending bool) error
}

type Worker struct {
	pool         *db.Pool
	repo         *Repository
	calendar     calendar.Provider
	appointments Appointments
	outbox       *outbox.Repository
	logger       *slog.Logger
	interval     time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, cal calendar.Provider, appts Appointments, outboxRepo *outbox.Repository, logger *slog.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		pool:         pool,
		repo:         repo,
		calendar:     cal,
		appointments: appts,
		outbox:       outboxRepo,
		logger:       logger,
		interval:     interval,
	}
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
				w.logger.Error("calendar sync sweep failed", "error", err)
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

	for _, job := range jobs {
		var eventRef string
		appt, runErr := w.appointments.Get(ctx, job.BusinessID, job.AppointmentID)
		if runErr == nil {
			replay, ok := reconcile(job, appt)
			if !ok {
				if err := w.repo.MarkDone(ctx, tx, job.ID); err != nil {
					return err
				}
				if err := w.appointments.SetCalendarEvent(ctx, job.BusinessID, job.AppointmentID, "", false); err != nil {
					w.logger.Error("calendar sync result not recorded", "appointment_id", job.AppointmentID, "error", err)
				}
				w.logger.Info("calendar sync superseded", "appointment_id", job.AppointmentID, "op", job.Op)
				continue
			}
			job = replay
			eventRef, runErr = w.apply(ctx, job)
		}
		if runErr == nil {
			if err := w.repo.MarkDone(ctx, tx, job.ID); err != nil {
				return err
			}
			pending := false
			if job.Op == OpDelete {
				eventRef = ""
			}
			if err := w.appointments.SetCalendarEvent(ctx, job.BusinessID, job.AppointmentID, eventRef, pending); err != nil {
				w.logger.Error("calendar sync result not recorded", "appointment_id", job.AppointmentID, "error", err)
			}
			w.logger.Info("calendar sync replayed", "appointment_id", job.AppointmentID, "op", job.Op)
			continue
		}

		job.Attempts++
		if job.Attempts >= job.MaxAttempts {
			if err := w.repo.MarkDead(ctx, tx, job.ID, runErr.Error()); err != nil {
				return err
			}
			payload, _ := json.Marshal(map[string]any{
				"appointment_id": job.AppointmentID,
				"business_id":    job.BusinessID,
				"op":             job.Op,
				"error":          runErr.Error(),
			})
			if err := w.outbox.Insert(ctx, tx, outbox.Event{
				AggregateType: "appointment",
				AggregateID:   job.AppointmentID,
				EventType:     TopicSyncFailed,
				Payload:       payload,
			}); err != nil {
				return err
			}
			w.logger.Error("calendar sync abandoned", "appointment_id", job.AppointmentID, "op", job.Op, "error", runErr)
			continue
		}
		next := time.Now().Add(backoff(job.Attempts))
		if err := w.repo.MarkFailed(ctx, tx, job.ID, job.Attempts, next, runErr.Error()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// reconcile checks a due job against the appointment's current state. The
// appointment may have been cancelled or rescheduled between enqueue and
// replay, and the queued mutation must not resurrect it: a create or update
// for a cancelled appointment becomes a delete of whatever event exists, or
// nothing when none was ever written, and a job for a live appointment picks
// up the appointment's current interval. The second return is false when the
// job is superseded and should be retired without touching the calendar.
func reconcile(job Job, appt model.Appointment) (Job, bool) {
	if appt.State == model.StateCancelled {
		if job.Op == OpDelete {
			return job, true
		}
		ref := job.EventRef
		if ref == "" {
			ref = appt.CalendarEventRef
		}
		if ref == "" {
			return job, false
		}
		job.Op = OpDelete
		job.EventRef = ref
		return job, true
	}
	if job.Op != OpDelete {
		job.Start = appt.StartTime
		job.End = appt.EndTime
	}
	return job, true
}

func (w *Worker) apply(ctx context.Context, job Job) (string, error) {
	evt := calendar.Event{
		Start:       job.Start,
		End:         job.End,
		Summary:     job.Summary,
		Description: job.Description,
	}
	switch job.Op {
	case OpCreate:
		return w.calendar.CreateEvent(ctx, job.CalendarRef, evt)
	case OpUpdate:
		err := w.calendar.UpdateEvent(ctx, job.CalendarRef, job.EventRef, job.Start, job.End)
		if errors.Is(err, calendar.ErrEventNotFound) {
			// The event vanished upstream. Recreate it rather than fail forever.
			return w.calendar.CreateEvent(ctx, job.CalendarRef, evt)
		}
		return job.EventRef, err
	case OpDelete:
		return "", w.calendar.DeleteEvent(ctx, job.CalendarRef, job.EventRef)
	default:
		return "", fmt.Errorf("unknown calendar op %q", job.Op)
	}
}

func backoff(attempts int) time.Duration {
	d := time.Minute
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

package reminders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/slotpage/slotpage/libs/db"
	otelx "github.com/slotpage/slotpage/libs/otel"
)

// Job is one reminder to deliver for a confirmed appointment. Jobs are
// written in the same transaction as the state change that schedules them
// and cleared when the appointment is cancelled or rescheduled.
type Job struct {
	ID            int64
	AppointmentID string
	BusinessID    string
	Channel       string
	Recipient     string
	RemindAt      time.Time
	TemplateData  map[string]any
	Attempts      int
	MaxAttempts   int
	Traceparent   string
	Tracestate    string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) error {
	data, err := json.Marshal(job.TemplateData)
	if err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 5
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO reminder_jobs
			(appointment_id, business_id, channel, recipient, remind_at, template_data, max_attempts, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $5, $8, $9)
	`, job.AppointmentID, job.BusinessID, job.Channel, job.Recipient, job.RemindAt, data, job.MaxAttempts, traceparent, tracestate)
	return err
}

// ClearPending drops undelivered reminders for an appointment. Called inside
// cancel/reschedule transactions.
func (r *Repository) ClearPending(ctx context.Context, tx pgx.Tx, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM reminder_jobs
		WHERE appointment_id = $1 AND processed_at IS NULL
	`, appointmentID)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, appointment_id::text, business_id::text, channel, recipient, remind_at,
			template_data, attempts, max_attempts, COALESCE(traceparent, ''), COALESCE(tracestate, '')
		FROM reminder_jobs
		WHERE processed_at IS NULL
			AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var data []byte
		if err := rows.Scan(&job.ID, &job.AppointmentID, &job.BusinessID, &job.Channel, &job.Recipient,
			&job.RemindAt, &data, &job.Attempts, &job.MaxAttempts, &job.Traceparent, &job.Tracestate); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &job.TemplateData); err != nil {
				job.TemplateData = nil
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET processed_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, nextRunAt time.Time, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
			next_run_at = $3,
			last_error = $4
		WHERE id = $1
	`, id, attempts, nextRunAt, reason)
	return err
}

// MarkDead stops retrying a job that exhausted its attempts.
func (r *Repository) MarkDead(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET processed_at = now(),
			last_error = COALESCE(last_error, 'max attempts reached')
		WHERE id = $1
	`, id)
	return err
}

package calsync

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/slotpage/slotpage/libs/db"
)

// Op names the external calendar mutation to replay.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Job is a deferred external calendar mutation. Bookings never fail because
// the calendar bridge is down: the mutation is queued here and replayed until
// it sticks or exhausts its attempts.
type Job struct {
	ID            int64
	AppointmentID string
	BusinessID    string
	Op            string
	CalendarRef   string
	EventRef      string
	Start         time.Time
	End           time.Time
	Summary       string
	Description   string
	Attempts      int
	MaxAttempts   int
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Enqueue(ctx context.Context, job Job) error {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 8
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO calendar_sync_jobs
			(appointment_id, business_id, op, calendar_ref, event_ref, start_time, end_time, summary, description, max_attempts, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
	`, job.AppointmentID, job.BusinessID, job.Op, job.CalendarRef, job.EventRef,
		job.Start, job.End, job.Summary, job.Description, job.MaxAttempts)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, appointment_id::text, business_id::text, op, calendar_ref, COALESCE(event_ref, ''),
			start_time, end_time, summary, description, attempts, max_attempts
		FROM calendar_sync_jobs
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
		if err := rows.Scan(&job.ID, &job.AppointmentID, &job.BusinessID, &job.Op, &job.CalendarRef, &job.EventRef,
			&job.Start, &job.End, &job.Summary, &job.Description, &job.Attempts, &job.MaxAttempts); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *Repository) MarkDone(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET processed_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, nextRunAt time.Time, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET attempts = $2,
			next_run_at = $3,
			last_error = $4
		WHERE id = $1
	`, id, attempts, nextRunAt, reason)
	return err
}

func (r *Repository) MarkDead(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET processed_at = now(),
			last_error = $2
		WHERE id = $1
	`, id, reason)
	return err
}

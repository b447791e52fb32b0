package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/slotpage/slotpage/libs/db"
	"github.com/slotpage/slotpage/services/business-service/internal/schedule"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Policy is the business's booking policy. Defaults are applied on read so
// booking-service never has to re-apply fallbacks.
type Policy struct {
	RequireManualConfirmation bool  `json:"require_manual_confirmation"`
	RequestDeposit            bool  `json:"request_deposit"`
	DepositPercentage         int   `json:"deposit_percentage"`
	SlotStepMinutes           int   `json:"slot_step_minutes"`
	ReminderOffsetsMinutes    []int `json:"reminder_offsets_minutes"`
}

type Business struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Timezone         string          `json:"timezone"`
	AvailabilityMode string          `json:"availability_mode"`
	CalendarRef      string          `json:"calendar_ref,omitempty"`
	Policy           Policy          `json:"policy"`
	Schedule         schedule.Weekly `json:"schedule"`
}

type Service struct {
	ID              string    `json:"id"`
	BusinessID      string    `json:"business_id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	PriceCents      int64     `json:"price_cents"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Worker is a bookable staff member. Schedule is nil when the worker
// inherits the business-level weekly schedule.
type Worker struct {
	ID          string           `json:"id"`
	BusinessID  string           `json:"business_id"`
	Name        string           `json:"name"`
	CalendarRef string           `json:"calendar_ref,omitempty"`
	IsActive    bool             `json:"is_active"`
	Schedule    *schedule.Weekly `json:"schedule,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// TimeOff blocks a window of time. WorkerID is empty for business-wide
// closures, which apply to every worker.
type TimeOff struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	WorkerID   string    `json:"worker_id,omitempty"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Reason     string    `json:"reason,omitempty"`
}

// defaultWeekly is Mon-Fri 09:00-17:00, seeded when a business row is first
// created so slot generation works before any configuration happens.
func defaultWeekly() schedule.Weekly {
	var w schedule.Weekly
	for wd := time.Monday; wd <= time.Friday; wd++ {
		w[int(wd)] = schedule.Day{
			Open:   true,
			Ranges: []schedule.TimeRange{{StartMinute: 540, EndMinute: 1020}},
		}
	}
	return w
}

func (r *Repository) GetOrCreateBusiness(ctx context.Context, businessID string) (Business, error) {
	// Create a default row if missing (keeps dev UX smooth while other services mature).
	defaults, err := json.Marshal(defaultWeekly())
	if err != nil {
		return Business{}, fmt.Errorf("marshal default schedule: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO businesses (
			id, name, timezone, availability_mode, calendar_ref,
			require_manual_confirmation, request_deposit, deposit_percentage,
			slot_step_minutes, reminder_offsets_minutes, weekly_schedule
		)
		VALUES ($1, '', 'UTC', 'per_worker', '', false, false, 0, 15, '{1440,60}', $2)
		ON CONFLICT (id) DO NOTHING
	`, businessID, defaults)
	if err != nil {
		return Business{}, fmt.Errorf("ensure business: %w", err)
	}
	return r.GetBusiness(ctx, businessID)
}

func (r *Repository) GetBusiness(ctx context.Context, businessID string) (Business, error) {
	var (
		b   Business
		raw []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, timezone, availability_mode, calendar_ref,
		       require_manual_confirmation, request_deposit, deposit_percentage,
		       slot_step_minutes, reminder_offsets_minutes, weekly_schedule
		FROM businesses
		WHERE id = $1
	`, businessID).Scan(
		&b.ID, &b.Name, &b.Timezone, &b.AvailabilityMode, &b.CalendarRef,
		&b.Policy.RequireManualConfirmation, &b.Policy.RequestDeposit, &b.Policy.DepositPercentage,
		&b.Policy.SlotStepMinutes, &b.Policy.ReminderOffsetsMinutes, &raw,
	)
	if err != nil {
		return Business{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &b.Schedule); err != nil {
			return Business{}, fmt.Errorf("decode weekly schedule: %w", err)
		}
	}
	if b.Timezone == "" {
		b.Timezone = "UTC"
	}
	if b.AvailabilityMode == "" {
		b.AvailabilityMode = "per_worker"
	}
	if b.Policy.SlotStepMinutes <= 0 {
		b.Policy.SlotStepMinutes = 15
	}
	if len(b.Policy.ReminderOffsetsMinutes) == 0 {
		b.Policy.ReminderOffsetsMinutes = []int{1440, 60}
	}
	return b, nil
}

func (r *Repository) UpdateBusiness(ctx context.Context, businessID, name, timezone, mode, calendarRef string, policy Policy) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE businesses
		SET name = $2,
		    timezone = $3,
		    availability_mode = $4,
		    calendar_ref = $5,
		    require_manual_confirmation = $6,
		    request_deposit = $7,
		    deposit_percentage = $8,
		    slot_step_minutes = $9,
		    reminder_offsets_minutes = $10,
		    updated_at = now()
		WHERE id = $1
	`, businessID, name, timezone, mode, calendarRef,
		policy.RequireManualConfirmation, policy.RequestDeposit, policy.DepositPercentage,
		policy.SlotStepMinutes, policy.ReminderOffsetsMinutes)
	if err != nil {
		return fmt.Errorf("update business: %w", err)
	}
	return nil
}

func (r *Repository) UpdateBusinessSchedule(ctx context.Context, businessID string, weekly schedule.Weekly) error {
	raw, err := json.Marshal(weekly)
	if err != nil {
		return fmt.Errorf("marshal weekly schedule: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE businesses SET weekly_schedule = $2, updated_at = now() WHERE id = $1
	`, businessID, raw)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) CreateService(ctx context.Context, businessID, name string, durationMins int, priceCents int64, description string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_services (id, business_id, name, duration_minutes, price_cents, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, businessID, name, durationMins, priceCents, description)
	if err != nil {
		return "", fmt.Errorf("insert service: %w", err)
	}
	return id, nil
}

func (r *Repository) ListServices(ctx context.Context, businessID string, limit int) ([]Service, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price_cents, description, created_at
		FROM business_services
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	out := make([]Service, 0, limit)
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Description, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetService(ctx context.Context, businessID, serviceID string) (Service, error) {
	var s Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price_cents, description, created_at
		FROM business_services
		WHERE business_id = $1 AND id = $2
	`, businessID, serviceID).Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Description, &s.CreatedAt)
	if err != nil {
		return Service{}, err
	}
	return s, nil
}

func (r *Repository) CreateWorker(ctx context.Context, businessID, name, calendarRef string, isActive bool) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workers (id, business_id, name, calendar_ref, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, id, businessID, name, calendarRef, isActive)
	if err != nil {
		return "", fmt.Errorf("insert worker: %w", err)
	}
	return id, nil
}

const workerColumns = `id::text, business_id::text, name, calendar_ref, is_active, weekly_schedule, created_at`

func scanWorker(row pgx.Row) (Worker, error) {
	var (
		w   Worker
		raw []byte
	)
	if err := row.Scan(&w.ID, &w.BusinessID, &w.Name, &w.CalendarRef, &w.IsActive, &raw, &w.CreatedAt); err != nil {
		return Worker{}, err
	}
	if len(raw) > 0 {
		var override schedule.Weekly
		if err := json.Unmarshal(raw, &override); err != nil {
			return Worker{}, fmt.Errorf("decode worker schedule: %w", err)
		}
		w.Schedule = &override
	}
	return w, nil
}

func (r *Repository) GetWorker(ctx context.Context, businessID, workerID string) (Worker, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+workerColumns+`
		FROM workers
		WHERE business_id = $1 AND id = $2
	`, businessID, workerID)
	return scanWorker(row)
}

func (r *Repository) ListWorkers(ctx context.Context, businessID string, activeOnly bool, limit int) ([]Worker, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+workerColumns+`
		FROM workers
		WHERE business_id = $1 AND ($2 = false OR is_active)
		ORDER BY created_at ASC
		LIMIT $3
	`, businessID, activeOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	out := make([]Worker, 0, limit)
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateWorker(ctx context.Context, businessID, workerID, name, calendarRef string, isActive bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workers
		SET name = $3, calendar_ref = $4, is_active = $5
		WHERE business_id = $1 AND id = $2
	`, businessID, workerID, name, calendarRef, isActive)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateWorkerSchedule sets or, with nil, clears the worker's schedule
// override. A cleared override falls back to the business schedule.
func (r *Repository) UpdateWorkerSchedule(ctx context.Context, businessID, workerID string, weekly *schedule.Weekly) error {
	var raw any
	if weekly != nil {
		encoded, err := json.Marshal(weekly)
		if err != nil {
			return fmt.Errorf("marshal worker schedule: %w", err)
		}
		raw = encoded
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE workers SET weekly_schedule = $3 WHERE business_id = $1 AND id = $2
	`, businessID, workerID, raw)
	if err != nil {
		return fmt.Errorf("update worker schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CreateTimeOff records a blocked window. An empty workerID creates a
// business-wide closure; otherwise the worker must belong to the business.
func (r *Repository) CreateTimeOff(ctx context.Context, businessID, workerID string, start, end time.Time, reason string) (string, error) {
	var workerRef any
	if workerID != "" {
		var ok bool
		err := r.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM workers WHERE business_id = $1 AND id = $2)
		`, businessID, workerID).Scan(&ok)
		if err != nil {
			return "", fmt.Errorf("check worker: %w", err)
		}
		if !ok {
			return "", pgx.ErrNoRows
		}
		workerRef = workerID
	}

	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO time_off (id, business_id, worker_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, businessID, workerRef, start, end, reason)
	if err != nil {
		return "", fmt.Errorf("insert time off: %w", err)
	}
	return id, nil
}

// ListTimeOff returns blocks overlapping [from, to). With a workerID it
// returns that worker's blocks plus business-wide closures; with an empty
// workerID it returns every block for the business.
func (r *Repository) ListTimeOff(ctx context.Context, businessID, workerID string, from, to time.Time, limit int) ([]TimeOff, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, COALESCE(worker_id::text, ''), start_time, end_time, COALESCE(reason, '')
		FROM time_off
		WHERE business_id = $1
		  AND ($2 = '' OR worker_id IS NULL OR worker_id::text = $2)
		  AND start_time < $4
		  AND end_time > $3
		ORDER BY start_time ASC
		LIMIT $5
	`, businessID, workerID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list time off: %w", err)
	}
	defer rows.Close()

	out := make([]TimeOff, 0, limit)
	for rows.Next() {
		var t TimeOff
		if err := rows.Scan(&t.ID, &t.BusinessID, &t.WorkerID, &t.StartTime, &t.EndTime, &t.Reason); err != nil {
			return nil, fmt.Errorf("scan time off: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteTimeOff(ctx context.Context, businessID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM time_off WHERE business_id = $1 AND id = $2
	`, businessID, id)
	if err != nil {
		return fmt.Errorf("delete time off: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/slotpage/slotpage/libs/db"
	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
	"github.com/slotpage/slotpage/services/booking-service/internal/model"
	"github.com/slotpage/slotpage/services/booking-service/internal/outbox"
	"github.com/slotpage/slotpage/services/booking-service/internal/reminders"
)

// Followups are rows that must commit atomically with an appointment
// mutation: outbox events and reminder jobs. Either the whole set lands or
// none of it does.
type Followups struct {
	Events    []outbox.Event
	Reminders []reminders.Job
}

// Repository owns the appointments table. All interval-guarded writes take a
// per-scope advisory lock and re-check overlap inside the transaction, so two
// concurrent requests for the same slot serialize and exactly one wins.
type Repository struct {
	pool      *db.Pool
	outbox    *outbox.Repository
	reminders *reminders.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository, remindersRepo *reminders.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo, reminders: remindersRepo}
}

const apptColumns = `
	id::text, business_id::text, COALESCE(worker_id::text, ''), service_id::text, resource_scope,
	client_name, client_email, COALESCE(client_phone, ''),
	start_time, end_time, state,
	deposit_required, deposit_paid, deposit_amount_cents,
	COALESCE(calendar_event_ref, ''), calendar_sync_pending,
	COALESCE(cancel_reason, ''), cancelled_at, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.WorkerID,
		&appt.ServiceID,
		&appt.ResourceScope,
		&appt.ClientName,
		&appt.ClientEmail,
		&appt.ClientPhone,
		&appt.StartTime,
		&appt.EndTime,
		&appt.State,
		&appt.DepositRequired,
		&appt.DepositPaid,
		&appt.DepositAmountCents,
		&appt.CalendarEventRef,
		&appt.CalendarSyncPending,
		&appt.CancelReason,
		&appt.CancelledAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// scopeKey identifies the advisory-lock scope for interval writes. Schedule
// ranges never cross midnight, so locking the start date covers the interval.
func scopeKey(businessID, resourceScope string, start time.Time) string {
	return fmt.Sprintf("%s|%s|%s", businessID, resourceScope, start.UTC().Format("2006-01-02"))
}

func lockScope(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}

// hasOverlap reports whether a non-cancelled appointment in the scope
// overlaps [start, end). Intervals are half-open, so back-to-back bookings
// do not collide. excludeID skips the appointment's own row on reschedule.
func hasOverlap(ctx context.Context, tx pgx.Tx, businessID, resourceScope string, start, end time.Time, excludeID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE business_id = $1
				AND resource_scope = $2
				AND state != 'cancelled'
				AND start_time < $4
				AND end_time > $3
				AND ($5 = '' OR id::text != $5)
		)
	`, businessID, resourceScope, start, end, excludeID).Scan(&exists)
	return exists, err
}

func (r *Repository) insertFollowups(ctx context.Context, tx pgx.Tx, fu Followups) error {
	for _, evt := range fu.Events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	for _, job := range fu.Reminders {
		if err := r.reminders.Insert(ctx, tx, job); err != nil {
			return err
		}
	}
	return nil
}

// ReserveIfFree inserts the appointment only if its interval is free within
// its resource scope. Followup rows commit in the same transaction, so the
// requested event is never emitted for a booking that did not land.
func (r *Repository) ReserveIfFree(ctx context.Context, appt model.Appointment, manageTokenHash []byte, fu Followups) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer tx.Rollback(ctx)

	if err := lockScope(ctx, tx, scopeKey(appt.BusinessID, appt.ResourceScope, appt.StartTime)); err != nil {
		return model.Appointment{}, err
	}
	taken, err := hasOverlap(ctx, tx, appt.BusinessID, appt.ResourceScope, appt.StartTime, appt.EndTime, "")
	if err != nil {
		return model.Appointment{}, err
	}
	if taken {
		return model.Appointment{}, ErrConflict
	}

	var workerID any
	if appt.WorkerID != "" {
		workerID = appt.WorkerID
	}
	// The caller assigns the ID up front so followup rows can reference it
	// inside the same transaction.
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, business_id, worker_id, service_id, resource_scope,
			 client_name, client_email, client_phone,
			 start_time, end_time, state,
			 deposit_required, deposit_paid, deposit_amount_cents,
			 manage_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at
	`, appt.ID, appt.BusinessID, workerID, appt.ServiceID, appt.ResourceScope,
		appt.ClientName, appt.ClientEmail, appt.ClientPhone,
		appt.StartTime, appt.EndTime, appt.State,
		appt.DepositRequired, appt.DepositPaid, appt.DepositAmountCents,
		manageTokenHash).Scan(&appt.CreatedAt)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := r.insertFollowups(ctx, tx, fu); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *Repository) Get(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID))
	if IsNotFound(err) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

// ManageTokenHash returns the bcrypt hash of the appointment's self-service
// token.
func (r *Repository) ManageTokenHash(ctx context.Context, businessID, appointmentID string) ([]byte, error) {
	var hash []byte
	err := r.pool.QueryRow(ctx, `
		SELECT manage_token_hash
		FROM appointments
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID).Scan(&hash)
	if IsNotFound(err) {
		return nil, ErrNotFound
	}
	return hash, err
}

// Transition moves the appointment to a new state only if its current state
// is one of from. Used for operator approval.
func (r *Repository) Transition(ctx context.Context, businessID, appointmentID string, from []model.State, to model.State, fu Followups) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer tx.Rollback(ctx)

	appt, err := r.getForUpdate(ctx, tx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	allowed := false
	for _, s := range from {
		if appt.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return appt, ErrInvalidState
	}
	if _, err := tx.Exec(ctx, `
		UPDATE appointments SET state = $3 WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID, to); err != nil {
		return model.Appointment{}, err
	}
	appt.State = to

	if err := r.insertFollowups(ctx, tx, fu); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// ConfirmDepositIfFree records a paid deposit. If the appointment was
// cancelled while the payment was in flight, the conflict followups (the
// operator alert) still commit before the conflict is reported, so a paid
// deposit on a lost slot is never silently dropped.
func (r *Repository) ConfirmDepositIfFree(ctx context.Context, businessID, appointmentID string, ok, conflict Followups) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer tx.Rollback(ctx)

	appt, err := r.getForUpdate(ctx, tx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	switch appt.State {
	case model.StateConfirmed:
		// Duplicate webhook delivery. Nothing to do.
		return appt, tx.Commit(ctx)
	case model.StateCancelled:
		if err := r.insertFollowups(ctx, tx, conflict); err != nil {
			return model.Appointment{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return model.Appointment{}, err
		}
		return appt, ErrConflict
	case model.StateAwaitingDeposit, model.StatePending:
		// Deposits can settle before an operator approves; both states accept.
	default:
		return appt, ErrInvalidState
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments
		SET state = 'confirmed', deposit_paid = TRUE
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID); err != nil {
		return model.Appointment{}, err
	}
	appt.State = model.StateConfirmed
	appt.DepositPaid = true

	if err := r.insertFollowups(ctx, tx, ok); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// RescheduleIfFree moves a live appointment to a new interval if that
// interval is free. The old interval's reminders are cleared and the new
// followups committed atomically. On conflict the appointment is untouched.
func (r *Repository) RescheduleIfFree(ctx context.Context, businessID, appointmentID string, newStart, newEnd time.Time, fu Followups) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer tx.Rollback(ctx)

	appt, err := r.getForUpdate(ctx, tx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.State.Terminal() {
		return appt, ErrInvalidState
	}

	// Lock both dates in sorted order so two reschedules crossing the same
	// pair of days cannot deadlock.
	oldKey := scopeKey(appt.BusinessID, appt.ResourceScope, appt.StartTime)
	newKey := scopeKey(appt.BusinessID, appt.ResourceScope, newStart)
	first, second := oldKey, newKey
	if second < first {
		first, second = second, first
	}
	if err := lockScope(ctx, tx, first); err != nil {
		return model.Appointment{}, err
	}
	if first != second {
		if err := lockScope(ctx, tx, second); err != nil {
			return model.Appointment{}, err
		}
	}

	taken, err := hasOverlap(ctx, tx, appt.BusinessID, appt.ResourceScope, newStart, newEnd, appt.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	if taken {
		return appt, ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $3, end_time = $4, calendar_sync_pending = (calendar_event_ref IS NOT NULL)
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID, newStart, newEnd); err != nil {
		return model.Appointment{}, err
	}
	appt.StartTime = newStart
	appt.EndTime = newEnd

	if err := r.reminders.ClearPending(ctx, tx, appointmentID); err != nil {
		return model.Appointment{}, err
	}
	if err := r.insertFollowups(ctx, tx, fu); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Cancel is idempotent: a second cancel returns the appointment as-is with
// changed=false and commits no followups.
func (r *Repository) Cancel(ctx context.Context, businessID, appointmentID, reason string, fu Followups) (model.Appointment, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, false, err
	}
	defer tx.Rollback(ctx)

	appt, err := r.getForUpdate(ctx, tx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, false, err
	}
	if appt.State == model.StateCancelled {
		return appt, false, tx.Commit(ctx)
	}

	var cancelledAt time.Time
	if err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET state = 'cancelled', cancel_reason = $3, cancelled_at = now()
		WHERE id = $1 AND business_id = $2
		RETURNING cancelled_at
	`, appointmentID, businessID, reason).Scan(&cancelledAt); err != nil {
		return model.Appointment{}, false, err
	}
	appt.State = model.StateCancelled
	appt.CancelReason = reason
	appt.CancelledAt = &cancelledAt

	if err := r.reminders.ClearPending(ctx, tx, appointmentID); err != nil {
		return model.Appointment{}, false, err
	}
	if err := r.insertFollowups(ctx, tx, fu); err != nil {
		return model.Appointment{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

func (r *Repository) SetCalendarEvent(ctx context.Context, businessID, appointmentID, eventRef string, syncPending bool) error {
	var ref any
	if eventRef != "" {
		ref = eventRef
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET calendar_event_ref = $3, calendar_sync_pending = $4
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID, ref, syncPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BusyIntervals lists the occupied intervals for a resource scope within
// [from, to). Pending and awaiting-deposit appointments hold their slot, so
// they count as busy.
func (r *Repository) BusyIntervals(ctx context.Context, businessID, resourceScope string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE business_id = $1
			AND resource_scope = $2
			AND state != 'cancelled'
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time
	`, businessID, resourceScope, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	return busy, rows.Err()
}

// CountActive returns the number of live appointments per resource scope
// within [from, to). Used to pick the least-loaded worker for any-worker
// bookings.
func (r *Repository) CountActive(ctx context.Context, businessID string, scopes []string, from, to time.Time) (map[string]int, error) {
	counts := make(map[string]int, len(scopes))
	for _, scope := range scopes {
		counts[scope] = 0
	}
	rows, err := r.pool.Query(ctx, `
		SELECT resource_scope, COUNT(*)
		FROM appointments
		WHERE business_id = $1
			AND resource_scope = ANY($2)
			AND state != 'cancelled'
			AND start_time < $4
			AND end_time > $3
		GROUP BY resource_scope
	`, businessID, scopes, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var scope string
		var n int
		if err := rows.Scan(&scope, &n); err != nil {
			return nil, err
		}
		counts[scope] = n
	}
	return counts, rows.Err()
}

func (r *Repository) ListByBusiness(ctx context.Context, businessID string, from, to time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE business_id = $1
			AND start_time >= $2
			AND start_time < $3
		ORDER BY start_time
		LIMIT $4
	`, businessID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

// EmitFollowups persists followup rows outside any appointment mutation.
// Used for operator alerts that accompany no state change.
func (r *Repository) EmitFollowups(ctx context.Context, fu Followups) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := r.insertFollowups(ctx, tx, fu); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) getForUpdate(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, appointmentID, businessID))
	if IsNotFound(err) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

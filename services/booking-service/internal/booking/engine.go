package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
	"github.com/slotpage/slotpage/services/booking-service/internal/calendar"
	"github.com/slotpage/slotpage/services/booking-service/internal/calsync"
	"github.com/slotpage/slotpage/services/booking-service/internal/model"
	"github.com/slotpage/slotpage/services/booking-service/internal/outbox"
	"github.com/slotpage/slotpage/services/booking-service/internal/scheduling"
	"github.com/slotpage/slotpage/services/booking-service/internal/storage"
)

// Engine drives the appointment lifecycle. Every state change commits through
// the store together with its outbox events and reminders; external calendar
// writes happen after the commit and degrade to background retries, so a
// calendar outage can never block or lose a booking.
type Engine struct {
	store    Store
	provider scheduling.Provider
	calendar calendar.Provider
	caljobs  CalendarJobs
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(store Store, provider scheduling.Provider, cal calendar.Provider, caljobs CalendarJobs, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		provider: provider,
		calendar: cal,
		caljobs:  caljobs,
		logger:   logger,
		now:      time.Now,
	}
}

// Slot is one offered start time. WorkerIDs lists the workers free at that
// time under per-worker mode; empty under single-resource mode.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	WorkerIDs []string  `json:"worker_ids,omitempty"`
}

// ListSlots returns the bookable slots for a business-local date. workerID ""
// means any worker: the result is the union of every worker's free slots.
func (e *Engine) ListSlots(ctx context.Context, businessID, serviceID, workerID, date string) ([]Slot, error) {
	cfg, err := e.provider.DayConfigForDate(ctx, businessID, serviceID, workerID, date)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(cfg.DurationMinutes) * time.Minute
	step := time.Duration(cfg.Policy.SlotStepMinutes) * time.Minute

	byStart := make(map[time.Time]*Slot)
	for _, res := range cfg.Resources {
		free, err := e.freeSlots(ctx, cfg, res, duration, step)
		if err != nil {
			return nil, err
		}
		for _, iv := range free {
			slot, ok := byStart[iv.Start]
			if !ok {
				slot = &Slot{Start: iv.Start, End: iv.End}
				byStart[iv.Start] = slot
			}
			if res.WorkerID != "" {
				slot.WorkerIDs = append(slot.WorkerIDs, res.WorkerID)
			}
		}
	}

	slots := make([]Slot, 0, len(byStart))
	for _, s := range byStart {
		sort.Strings(s.WorkerIDs)
		slots = append(slots, *s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

func (e *Engine) freeSlots(ctx context.Context, cfg scheduling.DayConfig, res scheduling.ResourceDay, duration, step time.Duration) ([]availability.Interval, error) {
	candidates := availability.Candidates(res.Windows, duration, step)
	candidates = availability.NotBefore(candidates, e.now())
	if len(candidates) == 0 {
		return nil, nil
	}

	from, to := dayBounds(res.Windows)
	busy, err := e.busyFor(ctx, cfg.BusinessID, res, from, to)
	if err != nil {
		return nil, err
	}
	return availability.Filter(candidates, busy), nil
}

// busyFor merges the three busy sources for a resource: internal live
// appointments, manual blocks, and the external calendar.
func (e *Engine) busyFor(ctx context.Context, businessID string, res scheduling.ResourceDay, from, to time.Time) ([]availability.Interval, error) {
	internal, err := e.store.BusyIntervals(ctx, businessID, res.WorkerID, from, to)
	if err != nil {
		return nil, err
	}
	var external []availability.Interval
	if res.CalendarRef != "" {
		external, err = e.calendar.BusyIntervals(ctx, res.CalendarRef, from, to)
		if err != nil {
			// A dead calendar bridge must not take slot listing down with
			// it; internal bookings still guard against double-booking.
			e.logger.Warn("calendar busy query failed", "business_id", businessID, "error", err)
			external = nil
		}
	}
	return availability.Merge(internal, res.TimeOff, external), nil
}

// RequestInput is a client booking request. WorkerID "" under per-worker
// mode means any worker.
type RequestInput struct {
	BusinessID  string
	ServiceID   string
	WorkerID    string
	Start       time.Time
	ClientName  string
	ClientEmail string
	ClientPhone string
}

// Request validates and atomically reserves a slot. On success it returns
// the created appointment plus the client's one-time manage token for
// self-service cancellation. Exactly one of two concurrent requests for the
// same slot succeeds.
func (e *Engine) Request(ctx context.Context, in RequestInput) (model.Appointment, string, error) {
	cfg, err := e.provider.DayConfigAt(ctx, in.BusinessID, in.ServiceID, in.WorkerID, in.Start)
	if err != nil {
		return model.Appointment{}, "", err
	}

	duration := time.Duration(cfg.DurationMinutes) * time.Minute
	step := time.Duration(cfg.Policy.SlotStepMinutes) * time.Minute
	slot := availability.Interval{Start: in.Start, End: in.Start.Add(duration)}

	res, err := e.chooseResource(ctx, cfg, in.WorkerID, slot, step)
	if err != nil {
		return model.Appointment{}, "", err
	}

	workerID := res.WorkerID
	if cfg.Mode == scheduling.ModeSingleResource && in.WorkerID != "" {
		// Recorded for display only; the conflict scope stays business-wide.
		workerID = in.WorkerID
	}

	appt := model.Appointment{
		ID:            uuid.NewString(),
		BusinessID:    in.BusinessID,
		WorkerID:      workerID,
		ServiceID:     in.ServiceID,
		ResourceScope: res.WorkerID,
		ClientName:    in.ClientName,
		ClientEmail:   in.ClientEmail,
		ClientPhone:   in.ClientPhone,
		StartTime:     slot.Start,
		EndTime:       slot.End,
		State:         model.InitialState(cfg.Policy.RequireManualConfirmation, cfg.Policy.RequestDeposit),
	}
	if cfg.Policy.RequestDeposit {
		appt.DepositRequired = true
		appt.DepositAmountCents = cfg.PriceCents * int64(cfg.Policy.DepositPercentage) / 100
	}

	token, tokenHash, err := newManageToken()
	if err != nil {
		return model.Appointment{}, "", err
	}

	followups := storage.Followups{
		Events: []outbox.Event{appointmentEvent(TopicAppointmentRequested, appt, nil)},
	}
	switch appt.State {
	case model.StateAwaitingDeposit:
		followups.Events = append(followups.Events, appointmentEvent(TopicDepositDue, appt, map[string]any{
			"deposit_amount_cents": appt.DepositAmountCents,
		}))
	case model.StateConfirmed:
		followups.Events = append(followups.Events, appointmentEvent(TopicAppointmentConfirmed, appt, nil))
		followups.Reminders = reminderJobs(appt, cfg.Policy, cfg.ServiceName, e.now())
	}

	created, err := e.store.ReserveIfFree(ctx, appt, tokenHash, followups)
	if err != nil {
		if storage.IsConflict(err) {
			return model.Appointment{}, "", ErrSlotUnavailable
		}
		return model.Appointment{}, "", err
	}

	e.logger.Info("appointment requested",
		"appointment_id", created.ID,
		"business_id", created.BusinessID,
		"worker_id", created.WorkerID,
		"state", created.State,
	)

	if created.State == model.StateConfirmed {
		if err := e.syncCreate(ctx, &created, cfg); err != nil {
			return created, token, err
		}
	}
	return created, token, nil
}

// chooseResource validates the slot and, for any-worker requests under
// per-worker mode, binds the least-loaded free worker (ties broken by lowest
// worker ID). Under single-resource mode the business-wide calendar is the
// only resource; a named worker narrows nothing.
func (e *Engine) chooseResource(ctx context.Context, cfg scheduling.DayConfig, workerID string, slot availability.Interval, step time.Duration) (scheduling.ResourceDay, error) {
	if cfg.Mode == scheduling.ModeSingleResource {
		workerID = ""
	}
	if workerID != "" || cfg.Mode == scheduling.ModeSingleResource {
		res, ok := cfg.Resource(workerID)
		if !ok {
			return scheduling.ResourceDay{}, scheduling.ErrWorkerNotFound
		}
		if err := e.validateSlot(ctx, cfg, res, slot, step); err != nil {
			return scheduling.ResourceDay{}, err
		}
		return res, nil
	}

	var free []scheduling.ResourceDay
	var lastErr error
	for _, res := range cfg.Resources {
		if err := e.validateSlot(ctx, cfg, res, slot, step); err != nil {
			if errors.Is(err, ErrInvalidSchedule) || errors.Is(err, ErrSlotUnavailable) {
				lastErr = err
				continue
			}
			return scheduling.ResourceDay{}, err
		}
		free = append(free, res)
	}
	if len(free) == 0 {
		if lastErr == nil {
			lastErr = ErrInvalidSchedule
		}
		return scheduling.ResourceDay{}, lastErr
	}
	if len(free) == 1 {
		return free[0], nil
	}

	scopes := make([]string, len(free))
	for i, res := range free {
		scopes[i] = res.WorkerID
	}
	dayStart := slot.Start.UTC().Truncate(24 * time.Hour)
	counts, err := e.store.CountActive(ctx, cfg.BusinessID, scopes, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return scheduling.ResourceDay{}, err
	}
	best := free[0]
	for _, res := range free[1:] {
		if counts[res.WorkerID] < counts[best.WorkerID] ||
			(counts[res.WorkerID] == counts[best.WorkerID] && res.WorkerID < best.WorkerID) {
			best = res
		}
	}
	return best, nil
}

// validateSlot checks that the interval is a legal candidate for the
// resource and is not already busy. ignore drops busy intervals exactly
// matching that span (the appointment's own external event on reschedule).
func (e *Engine) validateSlot(ctx context.Context, cfg scheduling.DayConfig, res scheduling.ResourceDay, slot availability.Interval, step time.Duration) error {
	return e.validateSlotExcluding(ctx, cfg, res, slot, step, availability.Interval{})
}

func (e *Engine) validateSlotExcluding(ctx context.Context, cfg scheduling.DayConfig, res scheduling.ResourceDay, slot availability.Interval, step time.Duration, ignore availability.Interval) error {
	duration := slot.End.Sub(slot.Start)
	candidates := availability.Candidates(res.Windows, duration, step)
	onGrid := false
	for _, c := range candidates {
		if c.Start.Equal(slot.Start) {
			onGrid = true
			break
		}
	}
	if !onGrid {
		return ErrInvalidSchedule
	}
	if !slot.Start.After(e.now()) {
		return ErrInvalidSchedule
	}

	from, to := dayBounds(res.Windows)
	busy, err := e.busyFor(ctx, cfg.BusinessID, res, from, to)
	if err != nil {
		return err
	}
	for _, b := range busy {
		if !ignore.Start.IsZero() && b.Start.Equal(ignore.Start) && b.End.Equal(ignore.End) {
			continue
		}
		if availability.Overlaps(slot, b) {
			return ErrSlotUnavailable
		}
	}
	return nil
}

// Approve moves a pending appointment forward: to awaiting_deposit when the
// current policy asks for a deposit, otherwise straight to confirmed. The
// policy is re-read at approval time. Approving an already confirmed
// appointment is a no-op.
func (e *Engine) Approve(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := e.store.Get(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, mapStoreErr(err)
	}
	switch appt.State {
	case model.StateConfirmed:
		return appt, nil
	case model.StateCancelled:
		return appt, ErrInvalidTransition
	case model.StateAwaitingDeposit:
		// Confirmation happens through the deposit, not a second approval.
		return appt, ErrInvalidTransition
	}

	cfg, err := e.provider.DayConfigAt(ctx, businessID, appt.ServiceID, appt.WorkerID, appt.StartTime)
	if err != nil {
		return model.Appointment{}, err
	}

	if cfg.Policy.RequestDeposit {
		amount := cfg.PriceCents * int64(cfg.Policy.DepositPercentage) / 100
		appt.DepositRequired = true
		appt.DepositAmountCents = amount
		fu := storage.Followups{Events: []outbox.Event{appointmentEvent(TopicDepositDue, appt, map[string]any{
			"deposit_amount_cents": amount,
		})}}
		updated, err := e.store.Transition(ctx, businessID, appointmentID, []model.State{model.StatePending}, model.StateAwaitingDeposit, fu)
		if err != nil {
			return updated, mapStoreErr(err)
		}
		e.logger.Info("appointment approved, deposit due", "appointment_id", appointmentID, "amount_cents", amount)
		return updated, nil
	}

	appt.State = model.StateConfirmed
	fu := storage.Followups{
		Events:    []outbox.Event{appointmentEvent(TopicAppointmentConfirmed, appt, nil)},
		Reminders: reminderJobs(appt, cfg.Policy, cfg.ServiceName, e.now()),
	}
	updated, err := e.store.Transition(ctx, businessID, appointmentID, []model.State{model.StatePending}, model.StateConfirmed, fu)
	if err != nil {
		return updated, mapStoreErr(err)
	}
	e.logger.Info("appointment approved", "appointment_id", appointmentID)

	if err := e.syncCreate(ctx, &updated, cfg); err != nil {
		return updated, err
	}
	return updated, nil
}

// MarkDepositPaid confirms the appointment once the deposit settles. The
// slot is re-validated first; if it was lost in the meantime the appointment
// stays put and an operator alert is committed before the conflict is
// reported.
func (e *Engine) MarkDepositPaid(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := e.store.Get(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, mapStoreErr(err)
	}
	if appt.State == model.StateConfirmed {
		return appt, nil
	}

	cfg, err := e.provider.DayConfigAt(ctx, businessID, appt.ServiceID, appt.WorkerID, appt.StartTime)
	if err != nil {
		return model.Appointment{}, err
	}
	res, ok := cfg.Resource(appt.ResourceScope)
	if !ok {
		return model.Appointment{}, scheduling.ErrWorkerNotFound
	}

	conflictAlert := storage.Followups{Events: []outbox.Event{appointmentEvent(TopicDepositConflict, appt, map[string]any{
		"reason": "slot lost before deposit settled",
	})}}

	// The appointment holds its interval internally while awaiting the
	// deposit, so only the external calendar can have claimed it since.
	if res.CalendarRef != "" {
		external, err := e.calendar.BusyIntervals(ctx, res.CalendarRef, appt.StartTime, appt.EndTime)
		if err == nil {
			for _, b := range external {
				if availability.Overlaps(availability.Interval{Start: appt.StartTime, End: appt.EndTime}, b) {
					if emitErr := e.store.EmitFollowups(ctx, conflictAlert); emitErr != nil {
						return appt, emitErr
					}
					return appt, ErrSlotNoLongerAvailable
				}
			}
		}
	}

	appt.State = model.StateConfirmed
	appt.DepositPaid = true
	ok2 := storage.Followups{
		Events:    []outbox.Event{appointmentEvent(TopicAppointmentConfirmed, appt, map[string]any{"deposit_paid": true})},
		Reminders: reminderJobs(appt, cfg.Policy, cfg.ServiceName, e.now()),
	}
	updated, err := e.store.ConfirmDepositIfFree(ctx, businessID, appointmentID, ok2, conflictAlert)
	if err != nil {
		if storage.IsConflict(err) {
			return updated, ErrSlotNoLongerAvailable
		}
		return updated, mapStoreErr(err)
	}
	e.logger.Info("deposit settled, appointment confirmed", "appointment_id", appointmentID)

	if err := e.syncCreate(ctx, &updated, cfg); err != nil {
		return updated, err
	}
	return updated, nil
}

// Cancel transitions any live appointment to cancelled and removes its
// external event. Cancelling an already cancelled appointment is a no-op.
func (e *Engine) Cancel(ctx context.Context, businessID, appointmentID, reason string) (model.Appointment, error) {
	fuAppt, err := e.store.Get(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, mapStoreErr(err)
	}
	fuAppt.State = model.StateCancelled
	fuAppt.CancelReason = reason
	fu := storage.Followups{Events: []outbox.Event{appointmentEvent(TopicAppointmentCancelled, fuAppt, map[string]any{
		"reason": reason,
	})}}

	appt, changed, err := e.store.Cancel(ctx, businessID, appointmentID, reason, fu)
	if err != nil {
		return appt, mapStoreErr(err)
	}
	if !changed {
		return appt, nil
	}
	e.logger.Info("appointment cancelled", "appointment_id", appointmentID, "reason", reason)

	if appt.CalendarEventRef != "" {
		if err := e.syncDelete(ctx, appt); err != nil {
			return appt, err
		}
	}
	return appt, nil
}

// CancelWithToken is the client self-service path: the bearer of the manage
// token issued at request time may cancel without an account.
func (e *Engine) CancelWithToken(ctx context.Context, businessID, appointmentID, token string) (model.Appointment, error) {
	hash, err := e.store.ManageTokenHash(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, mapStoreErr(err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
		return model.Appointment{}, ErrNotFound
	}
	return e.Cancel(ctx, businessID, appointmentID, "cancelled by client")
}

// Reschedule validates the new interval exactly like a fresh request, then
// moves the appointment. Any non-terminal appointment may move: a pending or
// awaiting-deposit request keeps its state and its pending confirmation or
// deposit, only the interval changes. On any failure the original booking is
// untouched. The service duration is the one booked, not the service's
// current setting.
func (e *Engine) Reschedule(ctx context.Context, businessID, appointmentID string, newStart time.Time) (model.Appointment, error) {
	appt, err := e.store.Get(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, mapStoreErr(err)
	}
	if appt.State.Terminal() {
		return appt, ErrInvalidTransition
	}

	cfg, err := e.provider.DayConfigAt(ctx, businessID, appt.ServiceID, appt.WorkerID, newStart)
	if err != nil {
		return model.Appointment{}, err
	}
	res, ok := cfg.Resource(appt.ResourceScope)
	if !ok {
		return model.Appointment{}, scheduling.ErrWorkerNotFound
	}

	duration := appt.EndTime.Sub(appt.StartTime)
	step := time.Duration(cfg.Policy.SlotStepMinutes) * time.Minute
	slot := availability.Interval{Start: newStart, End: newStart.Add(duration)}

	// The external calendar reports the appointment's own event as busy.
	// Ignore the exact current span so a same-day move is not self-blocked.
	current := availability.Interval{Start: appt.StartTime, End: appt.EndTime}
	if err := e.validateSlotExcluding(ctx, cfg, res, slot, step, current); err != nil {
		return appt, err
	}

	moved := appt
	moved.StartTime = slot.Start
	moved.EndTime = slot.End
	fu := storage.Followups{
		Events: []outbox.Event{appointmentEvent(TopicAppointmentRescheduled, moved, map[string]any{
			"previous_start_time": appt.StartTime.UTC().Format(time.RFC3339),
		})},
	}
	if moved.State == model.StateConfirmed {
		fu.Reminders = reminderJobs(moved, cfg.Policy, cfg.ServiceName, e.now())
	}

	updated, err := e.store.RescheduleIfFree(ctx, businessID, appointmentID, slot.Start, slot.End, fu)
	if err != nil {
		if storage.IsConflict(err) {
			return updated, ErrSlotUnavailable
		}
		return updated, mapStoreErr(err)
	}
	e.logger.Info("appointment rescheduled", "appointment_id", appointmentID, "start", slot.Start)

	if updated.CalendarEventRef != "" {
		if err := e.syncUpdate(ctx, updated, res.CalendarRef); err != nil {
			return updated, err
		}
	} else if updated.State == model.StateConfirmed {
		if err := e.syncCreate(ctx, &updated, cfg); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

func (e *Engine) Get(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := e.store.Get(ctx, businessID, appointmentID)
	return appt, mapStoreErr(err)
}

// syncCreate writes the external event for a newly confirmed appointment.
// Failure flags the appointment sync-pending and queues a background retry;
// the booking itself stands.
func (e *Engine) syncCreate(ctx context.Context, appt *model.Appointment, cfg scheduling.DayConfig) error {
	res, ok := cfg.Resource(appt.ResourceScope)
	if !ok || res.CalendarRef == "" {
		return nil
	}
	ev := calendar.Event{
		Start:       appt.StartTime,
		End:         appt.EndTime,
		Summary:     fmt.Sprintf("%s - %s", cfg.ServiceName, appt.ClientName),
		Description: fmt.Sprintf("Booked via slotpage (%s)", appt.ID),
	}
	ref, err := e.calendar.CreateEvent(ctx, res.CalendarRef, ev)
	if err != nil {
		e.logger.Error("calendar event creation failed", "appointment_id", appt.ID, "error", err)
		appt.CalendarSyncPending = true
		if serr := e.store.SetCalendarEvent(ctx, appt.BusinessID, appt.ID, "", true); serr != nil {
			return serr
		}
		if qerr := e.caljobs.Enqueue(ctx, calsync.Job{
			AppointmentID: appt.ID,
			BusinessID:    appt.BusinessID,
			Op:            calsync.OpCreate,
			CalendarRef:   res.CalendarRef,
			Start:         ev.Start,
			End:           ev.End,
			Summary:       ev.Summary,
			Description:   ev.Description,
		}); qerr != nil {
			return qerr
		}
		return ErrCalendarSync
	}
	appt.CalendarEventRef = ref
	return e.store.SetCalendarEvent(ctx, appt.BusinessID, appt.ID, ref, false)
}

func (e *Engine) syncUpdate(ctx context.Context, appt model.Appointment, calendarRef string) error {
	err := e.calendar.UpdateEvent(ctx, calendarRef, appt.CalendarEventRef, appt.StartTime, appt.EndTime)
	if err == nil {
		return e.store.SetCalendarEvent(ctx, appt.BusinessID, appt.ID, appt.CalendarEventRef, false)
	}
	e.logger.Error("calendar event update failed", "appointment_id", appt.ID, "error", err)
	if qerr := e.caljobs.Enqueue(ctx, calsync.Job{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		Op:            calsync.OpUpdate,
		CalendarRef:   calendarRef,
		EventRef:      appt.CalendarEventRef,
		Start:         appt.StartTime,
		End:           appt.EndTime,
	}); qerr != nil {
		return qerr
	}
	return ErrCalendarSync
}

func (e *Engine) syncDelete(ctx context.Context, appt model.Appointment) error {
	cfg, err := e.provider.DayConfigAt(ctx, appt.BusinessID, appt.ServiceID, appt.WorkerID, appt.StartTime)
	if err != nil {
		return err
	}
	res, ok := cfg.Resource(appt.ResourceScope)
	if !ok || res.CalendarRef == "" {
		return nil
	}
	err = e.calendar.DeleteEvent(ctx, res.CalendarRef, appt.CalendarEventRef)
	if err == nil || errors.Is(err, calendar.ErrEventNotFound) {
		return e.store.SetCalendarEvent(ctx, appt.BusinessID, appt.ID, "", false)
	}
	e.logger.Error("calendar event deletion failed", "appointment_id", appt.ID, "error", err)
	if qerr := e.caljobs.Enqueue(ctx, calsync.Job{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		Op:            calsync.OpDelete,
		CalendarRef:   res.CalendarRef,
		EventRef:      appt.CalendarEventRef,
		Start:         appt.StartTime,
		End:           appt.EndTime,
	}); qerr != nil {
		return qerr
	}
	return ErrCalendarSync
}

func newManageToken() (string, []byte, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, err
	}
	token := hex.EncodeToString(buf)
	// bcrypt caps input at 72 bytes; a 48-char hex token fits.
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}
	return token, hash, nil
}

func dayBounds(windows []availability.Interval) (time.Time, time.Time) {
	if len(windows) == 0 {
		return time.Time{}, time.Time{}
	}
	from, to := windows[0].Start, windows[0].End
	for _, w := range windows[1:] {
		if w.Start.Before(from) {
			from = w.Start
		}
		if w.End.After(to) {
			to = w.End
		}
	}
	return from, to
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case storage.IsNotFound(err):
		return ErrNotFound
	case errors.Is(err, storage.ErrInvalidState):
		return ErrInvalidTransition
	default:
		return err
	}
}

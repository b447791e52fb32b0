package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
	"github.com/slotpage/slotpage/services/booking-service/internal/calendar"
	"github.com/slotpage/slotpage/services/booking-service/internal/calsync"
	"github.com/slotpage/slotpage/services/booking-service/internal/model"
	"github.com/slotpage/slotpage/services/booking-service/internal/scheduling"
	"github.com/slotpage/slotpage/services/booking-service/internal/storage"
)

var day = time.Date(2030, 6, 3, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func windows(pairs ...[2]time.Time) []availability.Interval {
	var out []availability.Interval
	for _, p := range pairs {
		out = append(out, availability.Interval{Start: p[0], End: p[1]})
	}
	return out
}

type fakeStore struct {
	mu     sync.Mutex
	appts  map[string]model.Appointment
	tokens map[string][]byte
	events []string
	rems   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		appts:  make(map[string]model.Appointment),
		tokens: make(map[string][]byte),
	}
}

func (s *fakeStore) overlapLocked(businessID, scope string, start, end time.Time, excludeID string) bool {
	for id, a := range s.appts {
		if id == excludeID || a.BusinessID != businessID || a.ResourceScope != scope || a.State == model.StateCancelled {
			continue
		}
		if a.StartTime.Before(end) && a.EndTime.After(start) {
			return true
		}
	}
	return false
}

func (s *fakeStore) recordFollowups(fu storage.Followups) {
	for _, evt := range fu.Events {
		s.events = append(s.events, evt.EventType)
	}
	s.rems += len(fu.Reminders)
}

func (s *fakeStore) ReserveIfFree(_ context.Context, appt model.Appointment, hash []byte, fu storage.Followups) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlapLocked(appt.BusinessID, appt.ResourceScope, appt.StartTime, appt.EndTime, "") {
		return model.Appointment{}, storage.ErrConflict
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	appt.CreatedAt = time.Now()
	s.appts[appt.ID] = appt
	s.tokens[appt.ID] = hash
	s.recordFollowups(fu)
	return appt, nil
}

func (s *fakeStore) Get(_ context.Context, businessID, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok || a.BusinessID != businessID {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) ManageTokenHash(_ context.Context, businessID, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[id]; !ok {
		return nil, storage.ErrNotFound
	}
	return s.tokens[id], nil
}

func (s *fakeStore) Transition(_ context.Context, businessID, id string, from []model.State, to model.State, fu storage.Followups) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if a.State == st {
			allowed = true
		}
	}
	if !allowed {
		return a, storage.ErrInvalidState
	}
	a.State = to
	s.appts[id] = a
	s.recordFollowups(fu)
	return a, nil
}

func (s *fakeStore) ConfirmDepositIfFree(_ context.Context, businessID, id string, ok, conflict storage.Followups) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, found := s.appts[id]
	if !found {
		return model.Appointment{}, storage.ErrNotFound
	}
	switch a.State {
	case model.StateConfirmed:
		return a, nil
	case model.StateCancelled:
		s.recordFollowups(conflict)
		return a, storage.ErrConflict
	}
	a.State = model.StateConfirmed
	a.DepositPaid = true
	s.appts[id] = a
	s.recordFollowups(ok)
	return a, nil
}

func (s *fakeStore) RescheduleIfFree(_ context.Context, businessID, id string, start, end time.Time, fu storage.Followups) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	if a.State == model.StateCancelled {
		return a, storage.ErrInvalidState
	}
	if s.overlapLocked(a.BusinessID, a.ResourceScope, start, end, id) {
		return a, storage.ErrConflict
	}
	a.StartTime = start
	a.EndTime = end
	s.appts[id] = a
	s.recordFollowups(fu)
	return a, nil
}

func (s *fakeStore) Cancel(_ context.Context, businessID, id, reason string, fu storage.Followups) (model.Appointment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, false, storage.ErrNotFound
	}
	if a.State == model.StateCancelled {
		return a, false, nil
	}
	now := time.Now()
	a.State = model.StateCancelled
	a.CancelReason = reason
	a.CancelledAt = &now
	s.appts[id] = a
	s.recordFollowups(fu)
	return a, true, nil
}

func (s *fakeStore) SetCalendarEvent(_ context.Context, businessID, id, ref string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.CalendarEventRef = ref
	a.CalendarSyncPending = pending
	s.appts[id] = a
	return nil
}

func (s *fakeStore) BusyIntervals(_ context.Context, businessID, scope string, from, to time.Time) ([]availability.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var busy []availability.Interval
	for _, a := range s.appts {
		if a.BusinessID != businessID || a.ResourceScope != scope || a.State == model.StateCancelled {
			continue
		}
		if a.StartTime.Before(to) && a.EndTime.After(from) {
			busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
		}
	}
	return busy, nil
}

func (s *fakeStore) CountActive(_ context.Context, businessID string, scopes []string, from, to time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, sc := range scopes {
		counts[sc] = 0
	}
	for _, a := range s.appts {
		if a.BusinessID != businessID || a.State == model.StateCancelled {
			continue
		}
		if _, ok := counts[a.ResourceScope]; ok && a.StartTime.Before(to) && a.EndTime.After(from) {
			counts[a.ResourceScope]++
		}
	}
	return counts, nil
}

func (s *fakeStore) EmitFollowups(_ context.Context, fu storage.Followups) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordFollowups(fu)
	return nil
}

func (s *fakeStore) eventCount(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	cfg scheduling.DayConfig
	err error
}

func (p *fakeProvider) DayConfigForDate(context.Context, string, string, string, string) (scheduling.DayConfig, error) {
	return p.cfg, p.err
}

func (p *fakeProvider) DayConfigAt(context.Context, string, string, string, time.Time) (scheduling.DayConfig, error) {
	return p.cfg, p.err
}

type fakeCalEntry struct {
	ref string
	ev  calendar.Event
}

type fakeCalendar struct {
	mu         sync.Mutex
	busy       map[string][]availability.Interval
	events     map[string]fakeCalEntry
	creates    int
	failWrites bool
	nextRef    int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		busy:   make(map[string][]availability.Interval),
		events: make(map[string]fakeCalEntry),
	}
}

func (c *fakeCalendar) BusyIntervals(_ context.Context, ref string, from, to time.Time) ([]availability.Interval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []availability.Interval
	out = append(out, c.busy[ref]...)
	for _, entry := range c.events {
		if entry.ref == ref {
			out = append(out, availability.Interval{Start: entry.ev.Start, End: entry.ev.End})
		}
	}
	return out, nil
}

func (c *fakeCalendar) CreateEvent(_ context.Context, ref string, ev calendar.Event) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return "", calendar.ErrUnavailable
	}
	c.creates++
	c.nextRef++
	eventRef := fmt.Sprintf("evt-%d", c.nextRef)
	c.events[eventRef] = fakeCalEntry{ref: ref, ev: ev}
	return eventRef, nil
}

func (c *fakeCalendar) UpdateEvent(_ context.Context, ref, eventRef string, start, end time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return calendar.ErrUnavailable
	}
	entry, ok := c.events[eventRef]
	if !ok {
		return calendar.ErrEventNotFound
	}
	entry.ev.Start, entry.ev.End = start, end
	c.events[eventRef] = entry
	return nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, ref, eventRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return calendar.ErrUnavailable
	}
	delete(c.events, eventRef)
	return nil
}

func (c *fakeCalendar) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type fakeCalJobs struct {
	mu   sync.Mutex
	jobs []calsync.Job
}

func (j *fakeCalJobs) Enqueue(_ context.Context, job calsync.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs = append(j.jobs, job)
	return nil
}

func singleResourceConfig(policy scheduling.Policy) scheduling.DayConfig {
	return scheduling.DayConfig{
		BusinessID:      "biz-1",
		Timezone:        "UTC",
		Mode:            scheduling.ModeSingleResource,
		ServiceID:       "svc-1",
		ServiceName:     "Haircut",
		DurationMinutes: 60,
		PriceCents:      5000,
		Policy:          policy,
		Resources: []scheduling.ResourceDay{{
			WorkerID:    "",
			CalendarRef: "cal-biz",
			Windows:     windows([2]time.Time{at(9, 0), at(13, 0)}, [2]time.Time{at(16, 0), at(20, 0)}),
		}},
	}
}

func defaultPolicy() scheduling.Policy {
	return scheduling.Policy{SlotStepMinutes: 30}
}

func newTestEngine(store Store, cfg scheduling.DayConfig, cal calendar.Provider, jobs CalendarJobs) *Engine {
	e := NewEngine(store, &fakeProvider{cfg: cfg}, cal, jobs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return day }
	return e
}

func request(start time.Time) RequestInput {
	return RequestInput{
		BusinessID:  "biz-1",
		ServiceID:   "svc-1",
		Start:       start,
		ClientName:  "Dana",
		ClientEmail: "dana@example.com",
	}
}

func TestRequestInitialState(t *testing.T) {
	tests := []struct {
		name    string
		manual  bool
		deposit bool
		want    model.State
	}{
		{"auto-confirm", false, false, model.StateConfirmed},
		{"manual only", true, false, model.StatePending},
		{"deposit only", false, true, model.StateAwaitingDeposit},
		{"deposit beats manual", true, true, model.StateAwaitingDeposit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := defaultPolicy()
			policy.RequireManualConfirmation = tt.manual
			policy.RequestDeposit = tt.deposit
			policy.DepositPercentage = 50
			store := newFakeStore()
			e := newTestEngine(store, singleResourceConfig(policy), newFakeCalendar(), &fakeCalJobs{})

			appt, token, err := e.Request(context.Background(), request(at(10, 0)))
			if err != nil {
				t.Fatalf("Request: %v", err)
			}
			if appt.State != tt.want {
				t.Fatalf("state = %s, want %s", appt.State, tt.want)
			}
			if token == "" {
				t.Fatal("expected a manage token")
			}
			if tt.deposit && appt.DepositAmountCents != 2500 {
				t.Fatalf("deposit = %d, want 2500", appt.DepositAmountCents)
			}
			if got := store.eventCount(TopicAppointmentRequested); got != 1 {
				t.Fatalf("requested events = %d, want 1", got)
			}
		})
	}
}

func TestRequestOffGridOrOutsideHours(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, singleResourceConfig(defaultPolicy()), newFakeCalendar(), &fakeCalJobs{})

	for _, start := range []time.Time{at(10, 15), at(14, 0), at(12, 30), at(19, 30)} {
		_, _, err := e.Request(context.Background(), request(start))
		if !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("Request(%s): err = %v, want ErrInvalidSchedule", start.Format("15:04"), err)
		}
	}
}

func TestConcurrentRequestsOneWinner(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, singleResourceConfig(defaultPolicy()), newFakeCalendar(), &fakeCalJobs{})

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.Request(context.Background(), request(at(11, 0)))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotUnavailable):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != n-1 {
		t.Fatalf("wins = %d, losses = %d, want 1 and %d", wins, losses, n-1)
	}
}

func TestApproveIdempotentNoDuplicateEvent(t *testing.T) {
	policy := defaultPolicy()
	policy.RequireManualConfirmation = true
	store := newFakeStore()
	cal := newFakeCalendar()
	e := newTestEngine(store, singleResourceConfig(policy), cal, &fakeCalJobs{})

	appt, _, err := e.Request(context.Background(), request(at(9, 0)))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	first, err := e.Approve(context.Background(), "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	if first.State != model.StateConfirmed {
		t.Fatalf("state = %s, want confirmed", first.State)
	}
	second, err := e.Approve(context.Background(), "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("second Approve: %v", err)
	}
	if second.State != model.StateConfirmed {
		t.Fatalf("state after second approve = %s", second.State)
	}
	if cal.creates != 1 {
		t.Fatalf("calendar creates = %d, want 1", cal.creates)
	}
	if got := store.eventCount(TopicAppointmentConfirmed); got != 1 {
		t.Fatalf("confirmed events = %d, want 1", got)
	}
}

func TestApproveReReadsDepositPolicy(t *testing.T) {
	policy := defaultPolicy()
	policy.RequireManualConfirmation = true
	store := newFakeStore()
	provider := &fakeProvider{cfg: singleResourceConfig(policy)}
	e := NewEngine(store, provider, newFakeCalendar(), &fakeCalJobs{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return day }

	appt, _, err := e.Request(context.Background(), request(at(9, 30)))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	// The business turns on deposits between request and approval.
	provider.cfg.Policy.RequestDeposit = true
	provider.cfg.Policy.DepositPercentage = 20

	updated, err := e.Approve(context.Background(), "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if updated.State != model.StateAwaitingDeposit {
		t.Fatalf("state = %s, want awaiting_deposit", updated.State)
	}
	if got := store.eventCount(TopicDepositDue); got != 1 {
		t.Fatalf("deposit due events = %d, want 1", got)
	}
}

func TestDepositConflictStaysAwaitingAndAlerts(t *testing.T) {
	policy := defaultPolicy()
	policy.RequestDeposit = true
	policy.DepositPercentage = 50
	store := newFakeStore()
	cal := newFakeCalendar()
	e := newTestEngine(store, singleResourceConfig(policy), cal, &fakeCalJobs{})

	appt, _, err := e.Request(context.Background(), request(at(16, 0)))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	// The slot gets claimed on the external calendar before the deposit lands.
	cal.busy["cal-biz"] = []availability.Interval{{Start: at(16, 0), End: at(17, 0)}}

	_, err = e.MarkDepositPaid(context.Background(), "biz-1", appt.ID)
	if !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Fatalf("err = %v, want ErrSlotNoLongerAvailable", err)
	}
	got, err := e.Get(context.Background(), "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != model.StateAwaitingDeposit {
		t.Fatalf("state = %s, want awaiting_deposit", got.State)
	}
	if n := store.eventCount(TopicDepositConflict); n != 1 {
		t.Fatalf("conflict events = %d, want 1", n)
	}
}

func TestDepositPaidConfirmsAndSyncs(t *testing.T) {
	policy := defaultPolicy()
	policy.RequestDeposit = true
	policy.DepositPercentage = 50
	store := newFakeStore()
	cal := newFakeCalendar()
	e := newTestEngine(store, singleResourceConfig(policy), cal, &fakeCalJobs{})

	appt, _, err := e.Request(context.Background(), request(at(17, 0)))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	updated, err := e.MarkDepositPaid(context.Background(), "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("MarkDepositPaid: %v", err)
	}
	if updated.State != model.StateConfirmed || !updated.DepositPaid {
		t.Fatalf("state = %s, depositPaid = %v", updated.State, updated.DepositPaid)
	}
	if cal.creates != 1 {
		t.Fatalf("calendar creates = %d, want 1", cal.creates)
	}
	// Duplicate webhook delivery.
	again, err := e.MarkDepositPaid(context.Background(), "biz-1", appt.ID)
	if err != nil || again.State != model.StateConfirmed {
		t.Fatalf("replay: appt = %+v, err = %v", again, err)
	}
	if cal.creates != 1 {
		t.Fatalf("calendar creates after replay = %d, want 1", cal.creates)
	}
}

func TestRescheduleConflictLeavesOriginalUntouched(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	e := newTestEngine(store, singleResourceConfig(defaultPolicy()), cal, &fakeCalJobs{})

	if _, _, err := e.Request(context.Background(), request(at(10, 0))); err != nil {
		t.Fatalf("first Request: %v", err)
	}
	second, _, err := e.Request(context.Background(), request(at(11, 0)))
	if err != nil {
		t.Fatalf("second Request: %v", err)
	}

	_, err = e.Reschedule(context.Background(), "biz-1", second.ID, at(10, 0))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
	got, err := e.Get(context.Background(), "biz-1", second.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.StartTime.Equal(at(11, 0)) {
		t.Fatalf("start moved to %s", got.StartTime)
	}
}

func TestRescheduleThenCancelLeavesNoEvent(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	e := newTestEngine(store, singleResourceConfig(defaultPolicy()), cal, &fakeCalJobs{})

	appt, _, err := e.Request(context.Background(), request(at(9, 0)))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	moved, err := e.Reschedule(context.Background(), "biz-1", appt.ID, at(16, 30))
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !moved.StartTime.Equal(at(16, 30)) {
		t.Fatalf("start = %s, want 16:30", moved.StartTime)
	}
	if _, err := e.Cancel(context.Background(), "biz-1", appt.ID, "client request"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cal.eventCount() != 0 {
		t.Fatalf("calendar still holds %d events", cal.eventCount())
	}
}

func TestCancelIdempotent(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, singleResourceConfig(defaultPolicy()), newFakeCalendar(), &fakeCalJobs{})

	appt, _, err := e.Request(context.Background(), request(at(12, 0)))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := e.Cancel(context.Background(), "biz-1", appt.ID, "no-show"); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if _, err := e.Cancel(context.Background(), "biz-1", appt.ID, "no-show"); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if got := store.eventCount(TopicAppointmentCancelled); got != 1 {
		t.Fatalf("cancelled events = %d, want 1", got)
	}
}

func TestCancelWithToken(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, singleResourceConfig(defaultPolicy()), newFakeCalendar(), &fakeCalJobs{})

	appt, token, err := e.Request(context.Background(), request(at(18, 0)))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := e.CancelWithToken(context.Background(), "biz-1", appt.ID, "wrong-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong token: err = %v, want ErrNotFound", err)
	}
	got, err := e.CancelWithToken(context.Background(), "biz-1", appt.ID, token)
	if err != nil {
		t.Fatalf("CancelWithToken: %v", err)
	}
	if got.State != model.StateCancelled {
		t.Fatalf("state = %s, want cancelled", got.State)
	}
}

func perWorkerConfig() scheduling.DayConfig {
	cfg := singleResourceConfig(defaultPolicy())
	cfg.Mode = scheduling.ModePerWorker
	w := windows([2]time.Time{at(9, 0), at(13, 0)})
	cfg.Resources = []scheduling.ResourceDay{
		{WorkerID: "worker-a", CalendarRef: "cal-a", Windows: w},
		{WorkerID: "worker-b", CalendarRef: "cal-b", Windows: w},
	}
	return cfg
}

func TestAnyWorkerBindsFreeWorker(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, perWorkerConfig(), newFakeCalendar(), &fakeCalJobs{})

	// Worker A takes 10:00 directly.
	inA := request(at(10, 0))
	inA.WorkerID = "worker-a"
	if _, _, err := e.Request(context.Background(), inA); err != nil {
		t.Fatalf("worker-a Request: %v", err)
	}

	// An any-worker request for the same time lands on worker B.
	appt, _, err := e.Request(context.Background(), request(at(10, 0)))
	if err != nil {
		t.Fatalf("any-worker Request: %v", err)
	}
	if appt.WorkerID != "worker-b" {
		t.Fatalf("bound worker = %q, want worker-b", appt.WorkerID)
	}
	if appt.ResourceScope != "worker-b" {
		t.Fatalf("resource scope = %q, want worker-b", appt.ResourceScope)
	}
}

func TestAnyWorkerTieBreaksByLowestID(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, perWorkerConfig(), newFakeCalendar(), &fakeCalJobs{})

	appt, _, err := e.Request(context.Background(), request(at(9, 0)))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if appt.WorkerID != "worker-a" {
		t.Fatalf("bound worker = %q, want worker-a", appt.WorkerID)
	}
}

func TestSingleResourceModeBlocksEveryone(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, singleResourceConfig(defaultPolicy()), newFakeCalendar(), &fakeCalJobs{})

	if _, _, err := e.Request(context.Background(), request(at(10, 30))); err != nil {
		t.Fatalf("first Request: %v", err)
	}
	_, _, err := e.Request(context.Background(), request(at(10, 30)))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
}

func TestRescheduleFromPendingKeepsState(t *testing.T) {
	policy := defaultPolicy()
	policy.RequireManualConfirmation = true
	policy.ReminderOffsetsMinutes = []int{60}
	store := newFakeStore()
	cal := newFakeCalendar()
	e := newTestEngine(store, singleResourceConfig(policy), cal, &fakeCalJobs{})

	appt, _, err := e.Request(context.Background(), request(at(10, 0)))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if appt.State != model.StatePending {
		t.Fatalf("state = %s, want pending", appt.State)
	}

	moved, err := e.Reschedule(context.Background(), "biz-1", appt.ID, at(11, 0))
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if moved.State != model.StatePending {
		t.Errorf("state = %s, want pending after move", moved.State)
	}
	if !moved.StartTime.Equal(at(11, 0)) {
		t.Errorf("start = %v, want %v", moved.StartTime, at(11, 0))
	}
	// Reminders and calendar events wait for confirmation.
	if store.rems != 0 {
		t.Errorf("reminders scheduled = %d, want 0", store.rems)
	}
	if cal.eventCount() != 0 {
		t.Errorf("calendar events = %d, want 0", cal.eventCount())
	}
	if got := store.eventCount(TopicAppointmentRescheduled); got != 1 {
		t.Errorf("rescheduled events = %d, want 1", got)
	}
}

func TestSingleResourceModeAcceptsNamedWorker(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, singleResourceConfig(defaultPolicy()), newFakeCalendar(), &fakeCalJobs{})

	in := request(at(10, 30))
	in.WorkerID = "w1"
	appt, _, err := e.Request(context.Background(), in)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if appt.WorkerID != "w1" {
		t.Errorf("worker = %q, want w1", appt.WorkerID)
	}
	if appt.ResourceScope != "" {
		t.Errorf("resource scope = %q, want business-wide", appt.ResourceScope)
	}

	// The shared calendar still blocks everyone, whichever worker is named.
	in2 := request(at(10, 30))
	in2.WorkerID = "w2"
	if _, _, err := e.Request(context.Background(), in2); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
}

func TestCalendarFailureFlagsSyncPending(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	cal.failWrites = true
	jobs := &fakeCalJobs{}
	e := newTestEngine(store, singleResourceConfig(defaultPolicy()), cal, jobs)

	appt, _, err := e.Request(context.Background(), request(at(19, 0)))
	if !errors.Is(err, ErrCalendarSync) {
		t.Fatalf("err = %v, want ErrCalendarSync", err)
	}
	got, gerr := e.Get(context.Background(), "biz-1", appt.ID)
	if gerr != nil {
		t.Fatalf("Get: %v", gerr)
	}
	if got.State != model.StateConfirmed {
		t.Fatalf("state = %s, want confirmed despite sync failure", got.State)
	}
	if !got.CalendarSyncPending {
		t.Fatal("expected calendar_sync_pending")
	}
	if len(jobs.jobs) != 1 || jobs.jobs[0].Op != calsync.OpCreate {
		t.Fatalf("jobs = %+v, want one create", jobs.jobs)
	}
}

func TestListSlotsFiltersBusyAndUnionsWorkers(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, perWorkerConfig(), newFakeCalendar(), &fakeCalJobs{})

	inA := request(at(9, 0))
	inA.WorkerID = "worker-a"
	if _, _, err := e.Request(context.Background(), inA); err != nil {
		t.Fatalf("Request: %v", err)
	}

	slots, err := e.ListSlots(context.Background(), "biz-1", "svc-1", "", "2030-06-03")
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	bySt := make(map[string][]string)
	for _, s := range slots {
		bySt[s.Start.Format("15:04")] = s.WorkerIDs
	}
	// 9:00 is only free for worker B; later slots for both.
	if got := bySt["09:00"]; len(got) != 1 || got[0] != "worker-b" {
		t.Fatalf("09:00 workers = %v, want [worker-b]", got)
	}
	if got := bySt["10:00"]; len(got) != 2 {
		t.Fatalf("10:00 workers = %v, want both", got)
	}
	if _, ok := bySt["12:30"]; ok {
		t.Fatal("12:30 offered but a 60-minute service cannot finish by 13:00")
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
	"github.com/slotpage/slotpage/services/booking-service/internal/booking"
	"github.com/slotpage/slotpage/services/booking-service/internal/calendar"
	"github.com/slotpage/slotpage/services/booking-service/internal/calsync"
	"github.com/slotpage/slotpage/services/booking-service/internal/model"
	"github.com/slotpage/slotpage/services/booking-service/internal/scheduling"
	"github.com/slotpage/slotpage/services/booking-service/internal/storage"
)

// stubStore holds a single appointment; only the methods the deposit path
// touches do real work.
type stubStore struct {
	appt model.Appointment
}

func (s *stubStore) Get(_ context.Context, businessID, id string) (model.Appointment, error) {
	if s.appt.ID != id || s.appt.BusinessID != businessID {
		return model.Appointment{}, storage.ErrNotFound
	}
	return s.appt, nil
}

func (s *stubStore) ConfirmDepositIfFree(_ context.Context, businessID, id string, ok, _ storage.Followups) (model.Appointment, error) {
	if s.appt.ID != id || s.appt.BusinessID != businessID {
		return model.Appointment{}, storage.ErrNotFound
	}
	s.appt.State = model.StateConfirmed
	s.appt.DepositPaid = true
	return s.appt, nil
}

func (s *stubStore) ReserveIfFree(_ context.Context, appt model.Appointment, _ []byte, _ storage.Followups) (model.Appointment, error) {
	return appt, nil
}

func (s *stubStore) ManageTokenHash(context.Context, string, string) ([]byte, error) {
	return nil, storage.ErrNotFound
}

func (s *stubStore) Transition(_ context.Context, _, _ string, _ []model.State, _ model.State, _ storage.Followups) (model.Appointment, error) {
	return s.appt, nil
}

func (s *stubStore) RescheduleIfFree(_ context.Context, _, _ string, _, _ time.Time, _ storage.Followups) (model.Appointment, error) {
	return s.appt, nil
}

func (s *stubStore) Cancel(_ context.Context, _, _, _ string, _ storage.Followups) (model.Appointment, bool, error) {
	return s.appt, false, nil
}

func (s *stubStore) SetCalendarEvent(context.Context, string, string, string, bool) error {
	return nil
}

func (s *stubStore) BusyIntervals(context.Context, string, string, time.Time, time.Time) ([]availability.Interval, error) {
	return nil, nil
}

func (s *stubStore) CountActive(context.Context, string, []string, time.Time, time.Time) (map[string]int, error) {
	return map[string]int{}, nil
}

func (s *stubStore) EmitFollowups(context.Context, storage.Followups) error { return nil }

type fixedProvider struct {
	cfg scheduling.DayConfig
}

func (p fixedProvider) DayConfigForDate(context.Context, string, string, string, string) (scheduling.DayConfig, error) {
	return p.cfg, nil
}

func (p fixedProvider) DayConfigAt(context.Context, string, string, string, time.Time) (scheduling.DayConfig, error) {
	return p.cfg, nil
}

type noJobs struct{}

func (noJobs) Enqueue(context.Context, calsync.Job) error { return nil }

func newDepositTestHandler(appt model.Appointment) (*BookingHandler, *stubStore) {
	store := &stubStore{appt: appt}
	cfg := scheduling.DayConfig{
		BusinessID: appt.BusinessID,
		Mode:       scheduling.ModeSingleResource,
		Policy:     scheduling.Policy{SlotStepMinutes: 30, RequestDeposit: true, DepositPercentage: 50},
		Resources:  []scheduling.ResourceDay{{WorkerID: ""}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := booking.NewEngine(store, fixedProvider{cfg: cfg}, calendar.Noop{}, noJobs{}, logger)
	return NewBookingHandler(engine, nil, nil, logger), store
}

func TestDepositPaidConfirmsOutOfBand(t *testing.T) {
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)
	appt := model.Appointment{
		ID:         "appt-1",
		BusinessID: "biz-1",
		ServiceID:  "svc-1",
		State:      model.StateAwaitingDeposit,
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
	}
	h, store := newDepositTestHandler(appt)

	body := `{"business_id":"biz-1","appointment_id":"appt-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/deposit-paid", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.DepositPaid(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp appointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != string(model.StateConfirmed) {
		t.Errorf("state = %s, want confirmed", resp.State)
	}
	if store.appt.State != model.StateConfirmed || !store.appt.DepositPaid {
		t.Errorf("stored appointment = %+v, want confirmed with deposit paid", store.appt)
	}
}

func TestDepositPaidValidation(t *testing.T) {
	appt := model.Appointment{ID: "appt-1", BusinessID: "biz-1", State: model.StateAwaitingDeposit}
	h, _ := newDepositTestHandler(appt)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing ids", `{}`, http.StatusBadRequest},
		{"unknown appointment", `{"business_id":"biz-1","appointment_id":"nope"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/deposit-paid", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.DepositPaid(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

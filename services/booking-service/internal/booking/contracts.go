package booking

import (
	"context"
	"time"

	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
	"github.com/slotpage/slotpage/services/booking-service/internal/calsync"
	"github.com/slotpage/slotpage/services/booking-service/internal/model"
	"github.com/slotpage/slotpage/services/booking-service/internal/storage"
)

// Store is the slice of the appointment repository the engine depends on.
// Satisfied by *storage.Repository; tests substitute an in-memory fake.
type Store interface {
	ReserveIfFree(ctx context.Context, appt model.Appointment, manageTokenHash []byte, fu storage.Followups) (model.Appointment, error)
	Get(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)
	ManageTokenHash(ctx context.Context, businessID, appointmentID string) ([]byte, error)
	Transition(ctx context.Context, businessID, appointmentID string, from []model.State, to model.State, fu storage.Followups) (model.Appointment, error)
	ConfirmDepositIfFree(ctx context.Context, businessID, appointmentID string, ok, conflict storage.Followups) (model.Appointment, error)
	RescheduleIfFree(ctx context.Context, businessID, appointmentID string, newStart, newEnd time.Time, fu storage.Followups) (model.Appointment, error)
	Cancel(ctx context.Context, businessID, appointmentID, reason string, fu storage.Followups) (model.Appointment, bool, error)
	SetCalendarEvent(ctx context.Context, businessID, appointmentID, eventRef string, syncPending bool) error
	BusyIntervals(ctx context.Context, businessID, resourceScope string, from, to time.Time) ([]availability.Interval, error)
	CountActive(ctx context.Context, businessID string, scopes []string, from, to time.Time) (map[string]int, error)
	EmitFollowups(ctx context.Context, fu storage.Followups) error
}

// CalendarJobs queues failed external calendar writes for background replay.
type CalendarJobs interface {
	Enqueue(ctx context.Context, job calsync.Job) error
}

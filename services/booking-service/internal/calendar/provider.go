package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
)

var (
	ErrEventNotFound = errors.New("calendar event not found")
	ErrUnavailable   = errors.New("calendar provider unavailable")
)

// Event is the payload written to the external calendar for a confirmed
// appointment.
type Event struct {
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
}

// Provider is the external calendar collaborator. calendarRef identifies the
// remote calendar (per business, or per worker under per-worker mode); an
// empty ref means the resource has no external calendar connected.
type Provider interface {
	BusyIntervals(ctx context.Context, calendarRef string, from, to time.Time) ([]availability.Interval, error)
	CreateEvent(ctx context.Context, calendarRef string, ev Event) (eventRef string, err error)
	UpdateEvent(ctx context.Context, calendarRef, eventRef string, start, end time.Time) error
	DeleteEvent(ctx context.Context, calendarRef, eventRef string) error
}

// Noop is used when a business has no calendar integration configured. It
// reports no busy time and accepts every write.
type Noop struct{}

func (Noop) BusyIntervals(context.Context, string, time.Time, time.Time) ([]availability.Interval, error) {
	return nil, nil
}

func (Noop) CreateEvent(context.Context, string, Event) (string, error) { return "", nil }

func (Noop) UpdateEvent(context.Context, string, string, time.Time, time.Time) error { return nil }

func (Noop) DeleteEvent(context.Context, string, string) error { return nil }

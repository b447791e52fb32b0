package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
)

var (
	ErrBusinessNotFound = errors.New("business not found")
	ErrServiceNotFound  = errors.New("service not found")
	ErrWorkerNotFound   = errors.New("worker not found")
)

// Mode is the business-level resource isolation mode.
type Mode string

const (
	// ModeSingleResource shares one calendar: any booking blocks the whole
	// business regardless of worker.
	ModeSingleResource Mode = "single_resource"
	// ModePerWorker gives every worker an independent calendar.
	ModePerWorker Mode = "per_worker"
)

// Policy is the business's booking policy, defaulted at load time by
// business-service so callers never re-apply fallbacks.
type Policy struct {
	RequireManualConfirmation bool
	RequestDeposit            bool
	DepositPercentage         int
	SlotStepMinutes           int
	ReminderOffsetsMinutes    []int
}

// ResourceDay is one bookable resource's availability on a single date. Under
// single-resource mode there is exactly one entry with an empty WorkerID
// representing the business itself.
type ResourceDay struct {
	WorkerID    string
	CalendarRef string
	// Windows are the open schedule ranges for the date, in UTC, after
	// worker-override resolution and legacy-shape normalization.
	Windows []availability.Interval
	// TimeOff are manual blocks (vacations, holidays) overlapping the date.
	// They are busy intervals, not schedule edits.
	TimeOff []availability.Interval
}

// DayConfig is everything the booking engine needs to evaluate one
// (business, service, date) triple.
type DayConfig struct {
	BusinessID      string
	Timezone        string
	Mode            Mode
	ServiceID       string
	ServiceName     string
	DurationMinutes int
	PriceCents      int64
	Policy          Policy
	Resources       []ResourceDay
}

// Resource returns the entry for workerID ("" means the business-wide entry
// under single-resource mode).
func (c DayConfig) Resource(workerID string) (ResourceDay, bool) {
	for _, r := range c.Resources {
		if r.WorkerID == workerID {
			return r, true
		}
	}
	return ResourceDay{}, false
}

// Provider fetches booking configuration from business-service.
//
// DayConfigForDate takes a business-local calendar date (YYYY-MM-DD);
// DayConfigAt resolves a UTC instant to the business-local date first. Pass
// workerID="" for the business-wide view (all workers under per-worker mode).
type Provider interface {
	DayConfigForDate(ctx context.Context, businessID, serviceID, workerID, date string) (DayConfig, error)
	DayConfigAt(ctx context.Context, businessID, serviceID, workerID string, at time.Time) (DayConfig, error)
}

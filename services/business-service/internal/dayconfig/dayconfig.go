// Package dayconfig composes the per-date availability configuration that
// booking-service consumes: service pricing, booking policy, and one
// resolved resource per bookable calendar (the business itself under
// single-resource mode, each active worker otherwise).
package dayconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/slotpage/slotpage/services/business-service/internal/schedule"
	"github.com/slotpage/slotpage/services/business-service/internal/storage"
)

var (
	ErrBusinessNotFound = errors.New("business not found")
	ErrServiceNotFound  = errors.New("service not found")
	ErrWorkerNotFound   = errors.New("worker not found")
)

const (
	ModeSingleResource = "single_resource"
	ModePerWorker      = "per_worker"
)

// Store is the slice of storage.Repository this package reads.
type Store interface {
	GetBusiness(ctx context.Context, businessID string) (storage.Business, error)
	GetService(ctx context.Context, businessID, serviceID string) (storage.Service, error)
	GetWorker(ctx context.Context, businessID, workerID string) (storage.Worker, error)
	ListWorkers(ctx context.Context, businessID string, activeOnly bool, limit int) ([]storage.Worker, error)
	ListTimeOff(ctx context.Context, businessID, workerID string, from, to time.Time, limit int) ([]storage.TimeOff, error)
}

type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Resource struct {
	WorkerID    string     `json:"worker_id"`
	CalendarRef string     `json:"calendar_ref"`
	Windows     []Interval `json:"windows"`
	TimeOff     []Interval `json:"time_off"`
}

type Config struct {
	BusinessID      string         `json:"business_id"`
	Timezone        string         `json:"timezone"`
	Mode            string         `json:"availability_mode"`
	ServiceID       string         `json:"service_id"`
	ServiceName     string         `json:"service_name"`
	DurationMinutes int            `json:"duration_minutes"`
	PriceCents      int64          `json:"price_cents"`
	Policy          storage.Policy `json:"policy"`
	Resources       []Resource     `json:"resources"`
}

// Params identifies one (business, service, date) lookup. Exactly one of
// Date (business-local YYYY-MM-DD) or At must be set; WorkerID narrows the
// result to a single worker under per-worker mode.
type Params struct {
	BusinessID string
	ServiceID  string
	WorkerID   string
	Date       string
	At         *time.Time
}

func Build(ctx context.Context, store Store, p Params) (Config, error) {
	b, err := store.GetBusiness(ctx, p.BusinessID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrBusinessNotFound
		}
		return Config{}, fmt.Errorf("load business: %w", err)
	}

	svc, err := store.GetService(ctx, p.BusinessID, p.ServiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrServiceNotFound
		}
		return Config{}, fmt.Errorf("load service: %w", err)
	}

	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		loc = time.UTC
		b.Timezone = "UTC"
	}

	var localDate time.Time
	switch {
	case p.At != nil:
		localDate = p.At.In(loc)
	case p.Date != "":
		localDate, err = time.ParseInLocation("2006-01-02", p.Date, loc)
		if err != nil {
			return Config{}, fmt.Errorf("parse date %q: %w", p.Date, err)
		}
	default:
		return Config{}, errors.New("date or at is required")
	}

	year, month, day := localDate.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, loc).UTC()
	dayEnd := dayStart.Add(24 * time.Hour)

	cfg := Config{
		BusinessID:      b.ID,
		Timezone:        b.Timezone,
		Mode:            b.AvailabilityMode,
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		DurationMinutes: svc.DurationMinutes,
		PriceCents:      svc.PriceCents,
		Policy:          b.Policy,
	}

	blocks, err := store.ListTimeOff(ctx, p.BusinessID, "", dayStart, dayEnd, 1000)
	if err != nil {
		return Config{}, fmt.Errorf("list time off: %w", err)
	}

	if b.AvailabilityMode == ModeSingleResource {
		// One shared calendar: a named worker narrows nothing, but the name
		// must still refer to a real, active worker.
		if p.WorkerID != "" {
			w, err := store.GetWorker(ctx, p.BusinessID, p.WorkerID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return Config{}, ErrWorkerNotFound
				}
				return Config{}, fmt.Errorf("load worker: %w", err)
			}
			if !w.IsActive {
				return Config{}, ErrWorkerNotFound
			}
		}
		cfg.Resources = []Resource{{
			WorkerID:    "",
			CalendarRef: b.CalendarRef,
			Windows:     toIntervals(b.Schedule.Windows(localDate, loc)),
			TimeOff:     blocksFor(blocks, ""),
		}}
		return cfg, nil
	}

	var workers []storage.Worker
	if p.WorkerID != "" {
		w, err := store.GetWorker(ctx, p.BusinessID, p.WorkerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Config{}, ErrWorkerNotFound
			}
			return Config{}, fmt.Errorf("load worker: %w", err)
		}
		if !w.IsActive {
			return Config{}, ErrWorkerNotFound
		}
		workers = []storage.Worker{w}
	} else {
		workers, err = store.ListWorkers(ctx, p.BusinessID, true, 500)
		if err != nil {
			return Config{}, fmt.Errorf("list workers: %w", err)
		}
	}

	for _, w := range workers {
		eff := schedule.Effective(b.Schedule, w.Schedule)
		cfg.Resources = append(cfg.Resources, Resource{
			WorkerID:    w.ID,
			CalendarRef: w.CalendarRef,
			Windows:     toIntervals(eff.Windows(localDate, loc)),
			TimeOff:     blocksFor(blocks, w.ID),
		})
	}
	return cfg, nil
}

func toIntervals(windows []schedule.Window) []Interval {
	out := make([]Interval, 0, len(windows))
	for _, w := range windows {
		out = append(out, Interval{Start: w.Start, End: w.End})
	}
	return out
}

// blocksFor keeps the blocks that apply to workerID: its own rows plus
// business-wide closures.
func blocksFor(blocks []storage.TimeOff, workerID string) []Interval {
	out := make([]Interval, 0, len(blocks))
	for _, b := range blocks {
		if b.WorkerID != "" && b.WorkerID != workerID {
			continue
		}
		out = append(out, Interval{Start: b.StartTime.UTC(), End: b.EndTime.UTC()})
	}
	return out
}

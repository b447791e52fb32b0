package dayconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/slotpage/slotpage/services/business-service/internal/schedule"
	"github.com/slotpage/slotpage/services/business-service/internal/storage"
)

type fakeStore struct {
	business storage.Business
	services map[string]storage.Service
	workers  []storage.Worker
	timeOff  []storage.TimeOff
}

func (f *fakeStore) GetBusiness(_ context.Context, businessID string) (storage.Business, error) {
	if f.business.ID != businessID {
		return storage.Business{}, pgx.ErrNoRows
	}
	return f.business, nil
}

func (f *fakeStore) GetService(_ context.Context, _, serviceID string) (storage.Service, error) {
	s, ok := f.services[serviceID]
	if !ok {
		return storage.Service{}, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) GetWorker(_ context.Context, _, workerID string) (storage.Worker, error) {
	for _, w := range f.workers {
		if w.ID == workerID {
			return w, nil
		}
	}
	return storage.Worker{}, pgx.ErrNoRows
}

func (f *fakeStore) ListWorkers(_ context.Context, _ string, activeOnly bool, _ int) ([]storage.Worker, error) {
	var out []storage.Worker
	for _, w := range f.workers {
		if activeOnly && !w.IsActive {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeStore) ListTimeOff(_ context.Context, _, workerID string, from, to time.Time, _ int) ([]storage.TimeOff, error) {
	var out []storage.TimeOff
	for _, t := range f.timeOff {
		if workerID != "" && t.WorkerID != "" && t.WorkerID != workerID {
			continue
		}
		if t.StartTime.Before(to) && t.EndTime.After(from) {
			out = append(out, t)
		}
	}
	return out, nil
}

func weekday9to5(days ...time.Weekday) schedule.Weekly {
	var w schedule.Weekly
	for _, d := range days {
		w[int(d)] = schedule.Day{Open: true, Ranges: []schedule.TimeRange{{StartMinute: 540, EndMinute: 1020}}}
	}
	return w
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		business: storage.Business{
			ID:               "biz-1",
			Name:             "Fade Factory",
			Timezone:         "America/New_York",
			AvailabilityMode: ModePerWorker,
			Policy: storage.Policy{
				SlotStepMinutes:        15,
				ReminderOffsetsMinutes: []int{1440, 60},
			},
			Schedule: weekday9to5(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
		},
		services: map[string]storage.Service{
			"svc-cut": {ID: "svc-cut", BusinessID: "biz-1", Name: "Haircut", DurationMinutes: 45, PriceCents: 4000},
		},
		workers: []storage.Worker{
			{ID: "worker-a", BusinessID: "biz-1", Name: "Alex", CalendarRef: "cal-a", IsActive: true},
			{ID: "worker-b", BusinessID: "biz-1", Name: "Blair", CalendarRef: "cal-b", IsActive: true},
		},
	}
}

// 2030-06-03 is a Monday.
const mondayDate = "2030-06-03"

func TestBuildPerWorkerListsAllActiveWorkers(t *testing.T) {
	store := newFakeStore()
	store.workers = append(store.workers, storage.Worker{ID: "worker-c", BusinessID: "biz-1", Name: "Casey", IsActive: false})

	cfg, err := Build(context.Background(), store, Params{BusinessID: "biz-1", ServiceID: "svc-cut", Date: mondayDate})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.DurationMinutes != 45 || cfg.PriceCents != 4000 {
		t.Fatalf("unexpected service config: %+v", cfg)
	}
	if len(cfg.Resources) != 2 {
		t.Fatalf("expected 2 active workers, got %d", len(cfg.Resources))
	}
	// New York is UTC-4 in June, so 09:00 local is 13:00 UTC.
	want := time.Date(2030, 6, 3, 13, 0, 0, 0, time.UTC)
	if len(cfg.Resources[0].Windows) != 1 || !cfg.Resources[0].Windows[0].Start.Equal(want) {
		t.Fatalf("expected window starting %v, got %+v", want, cfg.Resources[0].Windows)
	}
}

func TestBuildWorkerOverrideReplacesBusinessSchedule(t *testing.T) {
	store := newFakeStore()
	override := weekday9to5(time.Saturday)
	store.workers[1].Schedule = &override

	cfg, err := Build(context.Background(), store, Params{BusinessID: "biz-1", ServiceID: "svc-cut", WorkerID: "worker-b", Date: mondayDate})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(cfg.Resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(cfg.Resources))
	}
	if len(cfg.Resources[0].Windows) != 0 {
		t.Fatalf("override is Saturday-only, Monday should be closed: %+v", cfg.Resources[0].Windows)
	}
}

func TestBuildBusinessWideClosureAppliesToEveryWorker(t *testing.T) {
	store := newFakeStore()
	store.timeOff = []storage.TimeOff{
		{
			ID:         "to-1",
			BusinessID: "biz-1",
			StartTime:  time.Date(2030, 6, 3, 13, 0, 0, 0, time.UTC),
			EndTime:    time.Date(2030, 6, 3, 15, 0, 0, 0, time.UTC),
		},
		{
			ID:         "to-2",
			BusinessID: "biz-1",
			WorkerID:   "worker-a",
			StartTime:  time.Date(2030, 6, 3, 17, 0, 0, 0, time.UTC),
			EndTime:    time.Date(2030, 6, 3, 18, 0, 0, 0, time.UTC),
		},
	}

	cfg, err := Build(context.Background(), store, Params{BusinessID: "biz-1", ServiceID: "svc-cut", Date: mondayDate})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	byWorker := map[string]int{}
	for _, res := range cfg.Resources {
		byWorker[res.WorkerID] = len(res.TimeOff)
	}
	if byWorker["worker-a"] != 2 {
		t.Fatalf("worker-a should see closure plus own block, got %d", byWorker["worker-a"])
	}
	if byWorker["worker-b"] != 1 {
		t.Fatalf("worker-b should see only the closure, got %d", byWorker["worker-b"])
	}
}

func TestBuildSingleResourceIgnoresWorkers(t *testing.T) {
	store := newFakeStore()
	store.business.AvailabilityMode = ModeSingleResource
	store.business.CalendarRef = "cal-biz"
	store.timeOff = []storage.TimeOff{
		{
			ID:         "to-1",
			BusinessID: "biz-1",
			WorkerID:   "worker-a",
			StartTime:  time.Date(2030, 6, 3, 13, 0, 0, 0, time.UTC),
			EndTime:    time.Date(2030, 6, 3, 14, 0, 0, 0, time.UTC),
		},
	}

	cfg, err := Build(context.Background(), store, Params{BusinessID: "biz-1", ServiceID: "svc-cut", Date: mondayDate})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(cfg.Resources) != 1 {
		t.Fatalf("single resource mode should yield one resource, got %d", len(cfg.Resources))
	}
	res := cfg.Resources[0]
	if res.WorkerID != "" || res.CalendarRef != "cal-biz" {
		t.Fatalf("unexpected resource identity: %+v", res)
	}
	if len(res.TimeOff) != 0 {
		t.Fatalf("worker-specific blocks do not apply to the shared calendar: %+v", res.TimeOff)
	}
}

func TestBuildSingleResourceNamedWorker(t *testing.T) {
	store := newFakeStore()
	store.business.AvailabilityMode = ModeSingleResource
	store.business.CalendarRef = "cal-biz"

	// Naming a real worker still yields the shared business-wide resource.
	cfg, err := Build(context.Background(), store, Params{BusinessID: "biz-1", ServiceID: "svc-cut", WorkerID: "worker-a", Date: mondayDate})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(cfg.Resources) != 1 || cfg.Resources[0].WorkerID != "" {
		t.Fatalf("expected the business-wide resource, got %+v", cfg.Resources)
	}

	_, err = Build(context.Background(), store, Params{BusinessID: "biz-1", ServiceID: "svc-cut", WorkerID: "nope", Date: mondayDate})
	if !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound for an unknown worker, got %v", err)
	}
}

func TestBuildResolvesInstantToBusinessLocalDate(t *testing.T) {
	store := newFakeStore()
	// 2030-06-04 01:30 UTC is still Monday evening in New York.
	at := time.Date(2030, 6, 4, 1, 30, 0, 0, time.UTC)

	cfg, err := Build(context.Background(), store, Params{BusinessID: "biz-1", ServiceID: "svc-cut", WorkerID: "worker-a", At: &at})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(cfg.Resources[0].Windows) != 1 {
		t.Fatalf("expected Monday window, got %+v", cfg.Resources[0].Windows)
	}
	if got := cfg.Resources[0].Windows[0].Start; got.Day() != 3 {
		t.Fatalf("expected window on June 3, got %v", got)
	}
}

func TestBuildNotFound(t *testing.T) {
	store := newFakeStore()
	tests := []struct {
		name string
		p    Params
		want error
	}{
		{"unknown business", Params{BusinessID: "nope", ServiceID: "svc-cut", Date: mondayDate}, ErrBusinessNotFound},
		{"unknown service", Params{BusinessID: "biz-1", ServiceID: "nope", Date: mondayDate}, ErrServiceNotFound},
		{"unknown worker", Params{BusinessID: "biz-1", ServiceID: "svc-cut", WorkerID: "nope", Date: mondayDate}, ErrWorkerNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Build(context.Background(), store, tc.p); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBuildInactiveWorkerIsNotFound(t *testing.T) {
	store := newFakeStore()
	store.workers[0].IsActive = false
	_, err := Build(context.Background(), store, Params{BusinessID: "biz-1", ServiceID: "svc-cut", WorkerID: "worker-a", Date: mondayDate})
	if !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
}

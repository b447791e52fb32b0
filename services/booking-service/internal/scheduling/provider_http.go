package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
)

// HTTPProvider talks to business-service's internal availability-config
// endpoint. It is the default wiring; the gRPC client (protogen builds) is
// preferred in-cluster.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type dayConfigResponse struct {
	BusinessID      string `json:"business_id"`
	Timezone        string `json:"timezone"`
	Mode            string `json:"availability_mode"`
	ServiceID       string `json:"service_id"`
	ServiceName     string `json:"service_name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Policy          struct {
		RequireManualConfirmation bool  `json:"require_manual_confirmation"`
		RequestDeposit            bool  `json:"request_deposit"`
		DepositPercentage         int   `json:"deposit_percentage"`
		SlotStepMinutes           int   `json:"slot_step_minutes"`
		ReminderOffsetsMinutes    []int `json:"reminder_offsets_minutes"`
	} `json:"policy"`
	Resources []struct {
		WorkerID    string         `json:"worker_id"`
		CalendarRef string         `json:"calendar_ref"`
		Windows     []intervalJSON `json:"windows"`
		TimeOff     []intervalJSON `json:"time_off"`
	} `json:"resources"`
}

type intervalJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p *HTTPProvider) DayConfigForDate(ctx context.Context, businessID, serviceID, workerID, date string) (DayConfig, error) {
	q := url.Values{}
	q.Set("business_id", businessID)
	q.Set("service_id", serviceID)
	q.Set("date", date)
	if workerID != "" {
		q.Set("worker_id", workerID)
	}
	return p.fetch(ctx, q)
}

func (p *HTTPProvider) DayConfigAt(ctx context.Context, businessID, serviceID, workerID string, at time.Time) (DayConfig, error) {
	q := url.Values{}
	q.Set("business_id", businessID)
	q.Set("service_id", serviceID)
	q.Set("at", at.UTC().Format(time.RFC3339))
	if workerID != "" {
		q.Set("worker_id", workerID)
	}
	return p.fetch(ctx, q)
}

func (p *HTTPProvider) fetch(ctx context.Context, q url.Values) (DayConfig, error) {
	reqURL := p.baseURL + "/internal/v1/availability-config?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return DayConfig{}, fmt.Errorf("build availability-config request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return DayConfig{}, fmt.Errorf("availability-config request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return DayConfig{}, notFoundErr(resp)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return DayConfig{}, fmt.Errorf("availability-config status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw dayConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return DayConfig{}, fmt.Errorf("decode availability-config response: %w", err)
	}
	return raw.toDomain(), nil
}

func notFoundErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	msg := strings.TrimSpace(string(body))
	switch {
	case strings.Contains(msg, "service"):
		return ErrServiceNotFound
	case strings.Contains(msg, "worker"):
		return ErrWorkerNotFound
	default:
		return ErrBusinessNotFound
	}
}

func (r dayConfigResponse) toDomain() DayConfig {
	cfg := DayConfig{
		BusinessID:      r.BusinessID,
		Timezone:        r.Timezone,
		Mode:            Mode(r.Mode),
		ServiceID:       r.ServiceID,
		ServiceName:     r.ServiceName,
		DurationMinutes: r.DurationMinutes,
		PriceCents:      r.PriceCents,
		Policy: Policy{
			RequireManualConfirmation: r.Policy.RequireManualConfirmation,
			RequestDeposit:            r.Policy.RequestDeposit,
			DepositPercentage:         r.Policy.DepositPercentage,
			SlotStepMinutes:           r.Policy.SlotStepMinutes,
			ReminderOffsetsMinutes:    r.Policy.ReminderOffsetsMinutes,
		},
	}
	for _, res := range r.Resources {
		cfg.Resources = append(cfg.Resources, ResourceDay{
			WorkerID:    res.WorkerID,
			CalendarRef: res.CalendarRef,
			Windows:     toIntervals(res.Windows),
			TimeOff:     toIntervals(res.TimeOff),
		})
	}
	return cfg
}

func toIntervals(in []intervalJSON) []availability.Interval {
	out := make([]availability.Interval, 0, len(in))
	for _, i := range in {
		if i.End.After(i.Start) {
			out = append(out, availability.Interval{Start: i.Start.UTC(), End: i.End.UTC()})
		}
	}
	return out
}

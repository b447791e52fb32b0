package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
)

// HTTPProvider speaks to a calendar bridge service (the piece that holds the
// Google/Outlook OAuth tokens) over a plain JSON API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type busyResponse struct {
	Busy []struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"busy"`
}

func (p *HTTPProvider) BusyIntervals(ctx context.Context, calendarRef string, from, to time.Time) ([]availability.Interval, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	path := fmt.Sprintf("/v1/calendars/%s/busy?%s", url.PathEscape(calendarRef), q.Encode())

	var resp busyResponse
	if err := p.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]availability.Interval, 0, len(resp.Busy))
	for _, b := range resp.Busy {
		if b.End.After(b.Start) {
			out = append(out, availability.Interval{Start: b.Start.UTC(), End: b.End.UTC()})
		}
	}
	return out, nil
}

func (p *HTTPProvider) CreateEvent(ctx context.Context, calendarRef string, ev Event) (string, error) {
	body := map[string]any{
		"start":       ev.Start.UTC().Format(time.RFC3339),
		"end":         ev.End.UTC().Format(time.RFC3339),
		"summary":     ev.Summary,
		"description": ev.Description,
	}
	var resp struct {
		EventRef string `json:"event_ref"`
	}
	path := fmt.Sprintf("/v1/calendars/%s/events", url.PathEscape(calendarRef))
	if err := p.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	if resp.EventRef == "" {
		return "", fmt.Errorf("%w: empty event_ref in response", ErrUnavailable)
	}
	return resp.EventRef, nil
}

func (p *HTTPProvider) UpdateEvent(ctx context.Context, calendarRef, eventRef string, start, end time.Time) error {
	body := map[string]any{
		"start": start.UTC().Format(time.RFC3339),
		"end":   end.UTC().Format(time.RFC3339),
	}
	path := fmt.Sprintf("/v1/calendars/%s/events/%s", url.PathEscape(calendarRef), url.PathEscape(eventRef))
	return p.do(ctx, http.MethodPatch, path, body, nil)
}

func (p *HTTPProvider) DeleteEvent(ctx context.Context, calendarRef, eventRef string) error {
	path := fmt.Sprintf("/v1/calendars/%s/events/%s", url.PathEscape(calendarRef), url.PathEscape(eventRef))
	err := p.do(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrEventNotFound) {
		// Deleting an already-deleted event is fine.
		return nil
	}
	return err
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode calendar request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return ErrEventNotFound
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("calendar bridge status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode calendar response: %w", err)
		}
	}
	return nil
}

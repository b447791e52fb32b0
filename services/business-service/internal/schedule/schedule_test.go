package schedule

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDayUnmarshal_LegacySingleRange(t *testing.T) {
	var d Day
	if err := json.Unmarshal([]byte(`{"open":true,"start_minute":540,"end_minute":1020}`), &d); err != nil {
		t.Fatalf("unmarshal legacy day: %v", err)
	}
	if !d.Open {
		t.Fatal("expected open day")
	}
	if len(d.Ranges) != 1 {
		t.Fatalf("expected 1 normalized range, got %d", len(d.Ranges))
	}
	if d.Ranges[0].StartMinute != 540 || d.Ranges[0].EndMinute != 1020 {
		t.Fatalf("unexpected range %s", d.Ranges[0])
	}
}

func TestDayUnmarshal_CurrentShapeWins(t *testing.T) {
	// If both shapes are present, the ranges list is authoritative.
	var d Day
	raw := `{"open":true,"start_minute":0,"end_minute":60,"ranges":[{"start_minute":540,"end_minute":780}]}`
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(d.Ranges) != 1 || d.Ranges[0].StartMinute != 540 {
		t.Fatalf("expected ranges list to win, got %+v", d.Ranges)
	}
}

func TestEffectiveRanges_ClosedDayIgnoresStoredRanges(t *testing.T) {
	d := Day{Open: false, Ranges: []TimeRange{{StartMinute: 540, EndMinute: 1020}}}
	if got := d.EffectiveRanges(); got != nil {
		t.Fatalf("closed day should have no effective ranges, got %v", got)
	}
}

func TestEffectiveRanges_SortsUnorderedConfig(t *testing.T) {
	d := Day{Open: true, Ranges: []TimeRange{
		{StartMinute: 960, EndMinute: 1200},
		{StartMinute: 540, EndMinute: 780},
	}}
	got := d.EffectiveRanges()
	if len(got) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(got))
	}
	if got[0].StartMinute != 540 || got[1].StartMinute != 960 {
		t.Fatalf("expected sorted ranges, got %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		day     Day
		wantErr bool
	}{
		{"empty", Day{}, false},
		{"single", Day{Open: true, Ranges: []TimeRange{{540, 1020}}}, false},
		{"split shift", Day{Open: true, Ranges: []TimeRange{{540, 780}, {960, 1200}}}, false},
		{"three ranges", Day{Open: true, Ranges: []TimeRange{{480, 600}, {660, 780}, {840, 1020}}}, false},
		{"touching is fine", Day{Open: true, Ranges: []TimeRange{{540, 780}, {780, 1020}}}, false},
		{"overlap", Day{Open: true, Ranges: []TimeRange{{540, 800}, {780, 1020}}}, true},
		{"overlap listed out of order", Day{Open: true, Ranges: []TimeRange{{780, 1020}, {540, 800}}}, true},
		{"inverted", Day{Open: true, Ranges: []TimeRange{{780, 540}}}, true},
		{"past midnight", Day{Open: true, Ranges: []TimeRange{{1380, 1500}}}, true},
		{"negative", Day{Open: true, Ranges: []TimeRange{{-30, 60}}}, true},
		{"overlap on closed day ignored", Day{Open: false, Ranges: []TimeRange{{540, 800}, {780, 1020}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w Weekly
			w[1] = tt.day
			err := w.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEffective_WorkerOverride(t *testing.T) {
	var business Weekly
	business[1] = Day{Open: true, Ranges: []TimeRange{{540, 1020}}}

	if got := Effective(business, nil); !got.OpenOn(monday(t)) {
		t.Fatal("expected business default when no override")
	}

	var worker Weekly // all closed
	if got := Effective(business, &worker); got.OpenOn(monday(t)) {
		t.Fatal("expected worker override to replace business schedule")
	}
}

func TestWindows_TimezoneConversion(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	var w Weekly
	w[1] = Day{Open: true, Ranges: []TimeRange{{540, 780}}} // Mon 09:00-13:00 local

	// 2026-03-02 is a Monday; New York is UTC-5 on that date.
	windows := w.Windows(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), loc)
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	wantStart := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	if !windows[0].Start.Equal(wantStart) {
		t.Fatalf("expected window start %s, got %s", wantStart, windows[0].Start)
	}
	if !windows[0].End.Equal(wantStart.Add(4 * time.Hour)) {
		t.Fatalf("unexpected window end %s", windows[0].End)
	}
}

func TestWindows_ClosedDay(t *testing.T) {
	var w Weekly
	if got := w.Windows(monday(t), time.UTC); len(got) != 0 {
		t.Fatalf("expected no windows on closed day, got %v", got)
	}
}

func monday(t *testing.T) time.Time {
	t.Helper()
	d := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if d.Weekday() != time.Monday {
		t.Fatal("fixture date is not a Monday")
	}
	return d
}

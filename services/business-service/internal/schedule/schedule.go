package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const minutesPerDay = 24 * 60

// TimeRange is a half-open [StartMinute, EndMinute) range of minutes since
// local midnight, e.g. 540-780 for 09:00-13:00.
type TimeRange struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.StartMinute/60, r.StartMinute%60, r.EndMinute/60, r.EndMinute%60)
}

// Day is one weekday's opening hours. A closed day has no effective ranges
// regardless of what is stored.
type Day struct {
	Open   bool        `json:"open"`
	Ranges []TimeRange `json:"ranges,omitempty"`
}

// UnmarshalJSON accepts both the current shape {"open":true,"ranges":[...]}
// and the legacy single-range shape {"open":true,"start_minute":540,"end_minute":1020}.
// Callers never see the legacy shape; it is converted here and nowhere else.
func (d *Day) UnmarshalJSON(data []byte) error {
	var raw struct {
		Open        bool        `json:"open"`
		Ranges      []TimeRange `json:"ranges"`
		StartMinute *int        `json:"start_minute"`
		EndMinute   *int        `json:"end_minute"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Open = raw.Open
	d.Ranges = raw.Ranges
	if len(d.Ranges) == 0 && raw.StartMinute != nil && raw.EndMinute != nil {
		d.Ranges = []TimeRange{{StartMinute: *raw.StartMinute, EndMinute: *raw.EndMinute}}
	}
	return nil
}

// EffectiveRanges returns the day's ranges sorted by start, or nil when closed.
// Stored order is not trusted; configuration may list an afternoon range first.
func (d Day) EffectiveRanges() []TimeRange {
	if !d.Open || len(d.Ranges) == 0 {
		return nil
	}
	out := make([]TimeRange, len(d.Ranges))
	copy(out, d.Ranges)
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out
}

// Weekly maps weekday (0=Sunday .. 6=Saturday) to that day's hours.
type Weekly [7]Day

// Day returns the entry for wd.
func (w Weekly) Day(wd time.Weekday) Day {
	return w[int(wd)]
}

// OpenOn reports whether the schedule has any effective range on the date's weekday.
func (w Weekly) OpenOn(date time.Time) bool {
	return len(w.Day(date.Weekday()).EffectiveRanges()) > 0
}

// Validate rejects inverted, out-of-bounds, and overlapping ranges. The number
// of ranges per day is intentionally unbounded.
func (w Weekly) Validate() error {
	for wd, day := range w {
		ranges := day.EffectiveRanges()
		for i, r := range ranges {
			if r.StartMinute < 0 || r.EndMinute > minutesPerDay {
				return fmt.Errorf("weekday %d: range %s out of bounds", wd, r)
			}
			if r.StartMinute >= r.EndMinute {
				return fmt.Errorf("weekday %d: range %s is empty or inverted", wd, r)
			}
			if i > 0 && ranges[i-1].EndMinute > r.StartMinute {
				return fmt.Errorf("weekday %d: ranges %s and %s overlap", wd, ranges[i-1], r)
			}
		}
	}
	return nil
}

// Effective resolves a worker's schedule override against the business default.
func Effective(business Weekly, worker *Weekly) Weekly {
	if worker != nil {
		return *worker
	}
	return business
}

// Window is a concrete open interval on a specific date, in UTC.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Windows materializes the open ranges for the given local calendar date
// (year/month/day taken from date) into UTC intervals. The returned slice is
// sorted ascending and empty when the day is closed.
func (w Weekly) Windows(date time.Time, loc *time.Location) []Window {
	if loc == nil {
		loc = time.UTC
	}
	year, month, day := date.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, loc)

	ranges := w.Day(midnight.Weekday()).EffectiveRanges()
	windows := make([]Window, 0, len(ranges))
	for _, r := range ranges {
		windows = append(windows, Window{
			Start: midnight.Add(time.Duration(r.StartMinute) * time.Minute).UTC(),
			End:   midnight.Add(time.Duration(r.EndMinute) * time.Minute).UTC(),
		})
	}
	return windows
}

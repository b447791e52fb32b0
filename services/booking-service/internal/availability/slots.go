package availability

import (
	"sort"
	"time"
)

// Interval is a half-open [Start, End) span of time.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals overlap. Touching
// endpoints (a ends exactly where b starts) do not count.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Candidates expands open windows into bookable slot intervals of exactly
// duration, walking each window independently on a step grid anchored at the
// window's start. A candidate that would run past its window's end is
// dropped, so a slot never bridges two windows (a lunch break stays closed).
//
// Windows may arrive in any order; the result is sorted ascending by start.
// step is independent of duration: a 90-minute service can start on a
// 30-minute grid.
func Candidates(windows []Interval, duration, step time.Duration) []Interval {
	if duration <= 0 || step <= 0 {
		return nil
	}

	var out []Interval
	for _, win := range windows {
		if !win.End.After(win.Start) {
			continue
		}
		for t := win.Start; !t.Add(duration).After(win.End); t = t.Add(step) {
			out = append(out, Interval{Start: t, End: t.Add(duration)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Filter returns the candidates that do not overlap any busy interval.
func Filter(candidates, busy []Interval) []Interval {
	out := make([]Interval, 0, len(candidates))
	for _, c := range candidates {
		if !overlapsAny(c, busy) {
			out = append(out, c)
		}
	}
	return out
}

// NotBefore drops candidates starting before cutoff. Used to hide slots that
// are already in the past or inside a minimum-notice window.
func NotBefore(candidates []Interval, cutoff time.Time) []Interval {
	out := make([]Interval, 0, len(candidates))
	for _, c := range candidates {
		if !c.Start.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// Contained reports whether slot fits entirely inside a single window.
func Contained(slot Interval, windows []Interval) bool {
	for _, w := range windows {
		if !slot.Start.Before(w.Start) && !slot.End.After(w.End) {
			return true
		}
	}
	return false
}

// Merge concatenates busy sources into one slice.
func Merge(sources ...[]Interval) []Interval {
	var out []Interval
	for _, s := range sources {
		out = append(out, s...)
	}
	return out
}

func overlapsAny(c Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(c, b) {
			return true
		}
	}
	return false
}

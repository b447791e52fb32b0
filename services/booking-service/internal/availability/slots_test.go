package availability

import (
	"testing"
	"time"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // a Monday

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func iv(sh, sm, eh, em int) Interval {
	return Interval{Start: at(sh, sm), End: at(eh, em)}
}

func TestCandidates_SplitShift(t *testing.T) {
	// Open 09:00-13:00 and 16:00-20:00, 60-minute service on a 30-minute grid.
	windows := []Interval{iv(9, 0, 13, 0), iv(16, 0, 20, 0)}
	got := Candidates(windows, 60*time.Minute, 30*time.Minute)

	wantStarts := []time.Time{
		at(9, 0), at(9, 30), at(10, 0), at(10, 30), at(11, 0), at(11, 30), at(12, 0),
		at(16, 0), at(16, 30), at(17, 0), at(17, 30), at(18, 0), at(18, 30), at(19, 0),
	}
	if len(got) != len(wantStarts) {
		t.Fatalf("expected %d candidates, got %d: %v", len(wantStarts), len(got), got)
	}
	for i, want := range wantStarts {
		if !got[i].Start.Equal(want) {
			t.Fatalf("candidate %d: expected start %s, got %s", i, want, got[i].Start)
		}
		if !got[i].End.Equal(want.Add(60 * time.Minute)) {
			t.Fatalf("candidate %d: expected 60m duration, got end %s", i, got[i].End)
		}
	}
	// 12:30 would end 13:30 > 13:00 and must not bridge into the 16:00 window.
	for _, c := range got {
		if c.Start.Equal(at(12, 30)) {
			t.Fatal("12:30 candidate should have been dropped")
		}
	}
}

func TestCandidates_UnsortedWindows(t *testing.T) {
	windows := []Interval{iv(16, 0, 18, 0), iv(9, 0, 11, 0)}
	got := Candidates(windows, 60*time.Minute, 60*time.Minute)
	if len(got) != 4 {
		t.Fatalf("expected 4 candidates, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start.Before(got[i-1].Start) {
			t.Fatalf("candidates not sorted: %v", got)
		}
	}
	if !got[0].Start.Equal(at(9, 0)) {
		t.Fatalf("expected first candidate 09:00, got %s", got[0].Start)
	}
}

func TestCandidates_DurationLongerThanEveryRange(t *testing.T) {
	windows := []Interval{iv(9, 0, 10, 0), iv(12, 0, 13, 0)}
	if got := Candidates(windows, 2*time.Hour, 30*time.Minute); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}

func TestCandidates_StepIndependentOfDuration(t *testing.T) {
	windows := []Interval{iv(9, 0, 12, 0)}
	got := Candidates(windows, 90*time.Minute, 30*time.Minute)
	wantStarts := []time.Time{at(9, 0), at(9, 30), at(10, 0), at(10, 30)}
	if len(got) != len(wantStarts) {
		t.Fatalf("expected %d candidates, got %d", len(wantStarts), len(got))
	}
	for i, want := range wantStarts {
		if !got[i].Start.Equal(want) {
			t.Fatalf("candidate %d: expected %s, got %s", i, want, got[i].Start)
		}
	}
}

func TestCandidates_ContainedInSingleWindow(t *testing.T) {
	windows := []Interval{iv(9, 0, 13, 0), iv(16, 0, 20, 0)}
	for _, c := range Candidates(windows, 45*time.Minute, 20*time.Minute) {
		if !Contained(c, windows) {
			t.Fatalf("candidate %v not contained in any single window", c)
		}
	}
}

func TestCandidates_InvalidInputs(t *testing.T) {
	windows := []Interval{iv(9, 0, 12, 0)}
	if got := Candidates(windows, 0, 30*time.Minute); got != nil {
		t.Fatal("zero duration should yield nil")
	}
	if got := Candidates(windows, 30*time.Minute, 0); got != nil {
		t.Fatal("zero step should yield nil")
	}
	if got := Candidates([]Interval{iv(12, 0, 9, 0)}, 30*time.Minute, 30*time.Minute); len(got) != 0 {
		t.Fatal("inverted window should yield no candidates")
	}
}

func TestFilter_HalfOpenSemantics(t *testing.T) {
	candidates := []Interval{iv(9, 0, 10, 0), iv(10, 0, 11, 0), iv(11, 0, 12, 0)}
	busy := []Interval{iv(10, 0, 11, 0)}

	got := Filter(candidates, busy)
	if len(got) != 2 {
		t.Fatalf("expected 2 free slots, got %d: %v", len(got), got)
	}
	// Touching endpoints do not conflict: 09:00-10:00 and 11:00-12:00 survive.
	if !got[0].Start.Equal(at(9, 0)) || !got[1].Start.Equal(at(11, 0)) {
		t.Fatalf("unexpected surviving slots: %v", got)
	}
}

func TestFilter_PartialOverlapBlocks(t *testing.T) {
	candidates := []Interval{iv(9, 0, 10, 30)}
	busy := []Interval{iv(10, 0, 10, 15)}
	if got := Filter(candidates, busy); len(got) != 0 {
		t.Fatalf("expected overlap to block candidate, got %v", got)
	}
}

func TestNotBefore(t *testing.T) {
	candidates := []Interval{iv(9, 0, 10, 0), iv(10, 0, 11, 0)}
	got := NotBefore(candidates, at(9, 30))
	if len(got) != 1 || !got[0].Start.Equal(at(10, 0)) {
		t.Fatalf("expected only the 10:00 slot, got %v", got)
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"disjoint", iv(9, 0, 10, 0), iv(11, 0, 12, 0), false},
		{"touching", iv(9, 0, 10, 0), iv(10, 0, 11, 0), false},
		{"overlap", iv(9, 0, 10, 30), iv(10, 0, 11, 0), true},
		{"contained", iv(9, 0, 12, 0), iv(10, 0, 11, 0), true},
		{"identical", iv(9, 0, 10, 0), iv(9, 0, 10, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.a, tt.b); got != tt.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := Overlaps(tt.b, tt.a); got != tt.want {
				t.Fatalf("Overlaps is not symmetric for %v, %v", tt.a, tt.b)
			}
		})
	}
}

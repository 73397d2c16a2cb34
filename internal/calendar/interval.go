package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrInvalidInterval = errors.New("invalid interval")

// Interval is the half-open span [Start, End) between two instants.
// Comparisons are made on instants, so intervals built in a tenant's zone
// stay correct across daylight-saving transitions.
type Interval struct {
	start time.Time
	end   time.Time
}

func NewInterval(start, end time.Time) (Interval, error) {
	if !end.After(start) {
		return Interval{}, fmt.Errorf("%w: end %s is not after start %s",
			ErrInvalidInterval, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Interval{start: start, end: end}, nil
}

// DayInterval builds [from, to) on date in loc. Spans crossing midnight are
// not representable; to may be 24:00 at most.
func DayInterval(date Date, from, to TimeOfDay, loc *time.Location) (Interval, error) {
	if !from.Valid() || !to.Valid() || to <= from {
		return Interval{}, fmt.Errorf("%w: %s-%s on %s", ErrInvalidInterval, from, to, date)
	}
	return NewInterval(date.At(from, loc), date.At(to, loc))
}

// FullDay is [00:00, 24:00) of date in loc.
func FullDay(date Date, loc *time.Location) Interval {
	return Interval{start: date.In(loc), end: date.AddDays(1).In(loc)}
}

func (i Interval) Start() time.Time { return i.start }
func (i Interval) End() time.Time   { return i.end }

func (i Interval) Duration() time.Duration {
	return i.end.Sub(i.start)
}

func (i Interval) IsZero() bool {
	return i.start.IsZero() && i.end.IsZero()
}

func (i Interval) Equal(o Interval) bool {
	return i.start.Equal(o.start) && i.end.Equal(o.end)
}

// Contains reports whether t lies in [Start, End).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.start) && t.Before(i.end)
}

// Covers reports whether o lies entirely inside i.
func (i Interval) Covers(o Interval) bool {
	return !o.start.Before(i.start) && !o.end.After(i.end)
}

// Overlaps is the strict half-open overlap test; touching intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.start.Before(o.end) && o.start.Before(i.end)
}

// In returns the same interval expressed in loc.
func (i Interval) In(loc *time.Location) Interval {
	return Interval{start: i.start.In(loc), end: i.end.In(loc)}
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.start.Format(time.RFC3339), i.end.Format(time.RFC3339))
}

// Intersect returns the common part of a and b, if any.
func Intersect(a, b Interval) (Interval, bool) {
	start := a.start
	if b.start.After(start) {
		start = b.start
	}
	end := a.end
	if b.end.Before(end) {
		end = b.end
	}
	if !end.After(start) {
		return Interval{}, false
	}
	return Interval{start: start, end: end}, true
}

// Merge sorts intervals and coalesces the ones that overlap or touch.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sortIntervals(sorted)

	merged := []Interval{sorted[0]}
	for _, cur := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !cur.start.After(last.end) {
			if cur.end.After(last.end) {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// Subtract removes every blocker from a and returns what remains, ascending.
func Subtract(a Interval, blockers []Interval) []Interval {
	remaining := []Interval{a}
	for _, b := range Merge(blockers) {
		next := remaining[:0:0]
		for _, r := range remaining {
			if !r.Overlaps(b) {
				next = append(next, r)
				continue
			}
			if r.start.Before(b.start) {
				next = append(next, Interval{start: r.start, end: b.start})
			}
			if b.end.Before(r.end) {
				next = append(next, Interval{start: b.end, end: r.end})
			}
		}
		remaining = next
		if len(remaining) == 0 {
			return nil
		}
	}
	return remaining
}

// SubtractAll applies Subtract to every base interval.
func SubtractAll(base, blockers []Interval) []Interval {
	var out []Interval
	for _, b := range base {
		out = append(out, Subtract(b, blockers)...)
	}
	sortIntervals(out)
	return out
}

func sortIntervals(intervals []Interval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		if intervals[i].start.Equal(intervals[j].start) {
			return intervals[i].end.Before(intervals[j].end)
		}
		return intervals[i].start.Before(intervals[j].start)
	})
}

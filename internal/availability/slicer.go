package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/booking-engine/internal/calendar"
)

const DefaultGranularityMinutes = 30

var ErrInvalidSlotParams = errors.New("invalid slot parameters")

// Slot is one bookable start time.
type Slot struct {
	Time      string    `json:"time"`
	DateTime  time.Time `json:"datetime"`
	Available bool      `json:"available"`
}

// GenerateSlots walks each open interval from its start in granularity steps
// and emits a slot wherever [t, t+duration) fits inside the interval and
// overlaps no busy interval. Output order follows the input order of open.
func GenerateSlots(open []calendar.Interval, durationMinutes, granularityMinutes int, busy []calendar.Interval) ([]Slot, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration %d", ErrInvalidSlotParams, durationMinutes)
	}
	if granularityMinutes <= 0 {
		granularityMinutes = DefaultGranularityMinutes
	}
	if granularityMinutes > calendar.MinutesPerDay {
		return nil, fmt.Errorf("%w: granularity %d", ErrInvalidSlotParams, granularityMinutes)
	}

	duration := time.Duration(durationMinutes) * time.Minute
	step := time.Duration(granularityMinutes) * time.Minute

	slots := []Slot{}
	for _, iv := range open {
		for t := iv.Start(); !t.Add(duration).After(iv.End()); t = t.Add(step) {
			candidate, err := calendar.NewInterval(t, t.Add(duration))
			if err != nil {
				return nil, err
			}
			if overlapsAny(candidate, busy) {
				continue
			}
			slots = append(slots, Slot{
				Time:      t.Format(calendar.TimeLayout),
				DateTime:  t,
				Available: true,
			})
		}
	}
	return slots, nil
}

// Fits reports whether candidate lies inside one open interval and clear of
// every busy interval. It is the commit-time form of the slicer's test.
func Fits(candidate calendar.Interval, open, busy []calendar.Interval) bool {
	for _, iv := range open {
		if iv.Covers(candidate) {
			return !overlapsAny(candidate, busy)
		}
	}
	return false
}

func overlapsAny(candidate calendar.Interval, busy []calendar.Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

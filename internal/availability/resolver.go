package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/calendar"
)

// ResolveOpenIntervals returns the ascending open intervals of target on date,
// in loc. A special schedule for the date replaces weekly hours outright;
// otherwise the professional's weekly hours apply, falling back to the
// location's when the professional has none at all. Active blocks are then
// subtracted. Malformed data yields a *ConfigurationError and no intervals.
func ResolveOpenIntervals(
	ctx context.Context,
	src Source,
	target Target,
	date calendar.Date,
	serviceID *uuid.UUID,
	loc *time.Location,
) ([]calendar.Interval, error) {
	base, err := baseIntervals(ctx, src, target, date, serviceID, loc)
	if err != nil {
		return nil, err
	}
	if len(base) == 0 {
		return nil, nil
	}

	blockers, err := blockingIntervals(ctx, src, target.ProfessionalID, date, loc)
	if err != nil {
		return nil, err
	}

	return calendar.SubtractAll(calendar.Merge(base), blockers), nil
}

func baseIntervals(
	ctx context.Context,
	src Source,
	target Target,
	date calendar.Date,
	serviceID *uuid.UUID,
	loc *time.Location,
) ([]calendar.Interval, error) {
	special, err := src.FindSpecialSchedule(ctx, target.ProfessionalID, date)
	switch {
	case err == nil:
		return specialScheduleOverride(*special, serviceID, loc)
	case !errors.Is(err, ErrNoSpecialSchedule):
		return nil, fmt.Errorf("load special schedule: %w", err)
	}

	weekly, err := src.ListWeeklyAvailability(ctx, ProfessionalOwner(target.ProfessionalID))
	if err != nil {
		return nil, fmt.Errorf("load professional weekly availability: %w", err)
	}
	if len(weekly) == 0 && target.LocationID != nil {
		weekly, err = src.ListWeeklyAvailability(ctx, LocationOwner(*target.LocationID))
		if err != nil {
			return nil, fmt.Errorf("load location weekly availability: %w", err)
		}
	}

	return weeklyForDate(weekly, date, loc)
}

// specialScheduleOverride is the precedence rule: a special schedule is the
// only source for its date and is never merged with weekly hours.
func specialScheduleOverride(s SpecialSchedule, serviceID *uuid.UUID, loc *time.Location) ([]calendar.Interval, error) {
	if !s.Allows(serviceID) {
		return nil, nil
	}
	iv, err := calendar.DayInterval(s.Date, s.StartTime, s.EndTime, loc)
	if err != nil {
		return nil, configErr("special_schedule", s.ID, "invalid hours %s-%s", s.StartTime, s.EndTime)
	}
	return []calendar.Interval{iv}, nil
}

func weeklyForDate(weekly []WeeklyAvailability, date calendar.Date, loc *time.Location) ([]calendar.Interval, error) {
	weekday := date.Weekday()

	var ranges []WeeklyAvailability
	for _, w := range weekly {
		if _, err := calendar.WeekdayFromIndex(int(w.Weekday)); err != nil {
			return nil, configCause("weekly_availability", w.ID, err)
		}
		if w.Weekday == weekday {
			ranges = append(ranges, w)
		}
	}

	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].StartTime < ranges[j].StartTime })

	out := make([]calendar.Interval, 0, len(ranges))
	for i, w := range ranges {
		if i > 0 && w.StartTime < ranges[i-1].EndTime {
			return nil, configErr("weekly_availability", w.ID, "overlaps another range on %s", weekday)
		}
		iv, err := calendar.DayInterval(date, w.StartTime, w.EndTime, loc)
		if err != nil {
			return nil, configErr("weekly_availability", w.ID, "invalid hours %s-%s", w.StartTime, w.EndTime)
		}
		out = append(out, iv)
	}
	return out, nil
}

func blockingIntervals(ctx context.Context, src Source, professionalID uuid.UUID, date calendar.Date, loc *time.Location) ([]calendar.Interval, error) {
	blocks, err := src.FindActiveBlocks(ctx, professionalID, date)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}

	var out []calendar.Interval
	for _, b := range blocks {
		if !b.Active {
			continue
		}
		rule, err := b.Rule()
		if err != nil {
			return nil, err
		}
		if !rule.AppliesOn(date) {
			continue
		}
		iv, err := BlockingInterval(rule, date, loc)
		if err != nil {
			return nil, configErr(blockEntity, b.ID, "%v", err)
		}
		out = append(out, iv)
	}
	return out, nil
}

package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/calendar"
)

type BlockType string

const (
	BlockSingleDay        BlockType = "single_day"
	BlockDateRange        BlockType = "date_range"
	BlockWeekdaysPattern  BlockType = "weekdays_pattern"
	BlockMonthlyRecurring BlockType = "monthly_recurring"
)

// ProfessionalBlock is a block exception as it is stored. Which optional
// fields are meaningful depends on Type; Rule turns it into a checked variant.
type ProfessionalBlock struct {
	ID                uuid.UUID
	ProfessionalID    uuid.UUID
	Type              BlockType
	StartDate         calendar.Date
	EndDate           *calendar.Date
	StartTime         *calendar.TimeOfDay
	EndTime           *calendar.TimeOfDay
	WeekdaysPattern   []int
	MonthlyDayOfMonth *int
	MonthlyEndDate    *calendar.Date
	Active            bool
	Reason            string
}

// TimeWindow restricts a block to part of each matching day.
type TimeWindow struct {
	From calendar.TimeOfDay
	To   calendar.TimeOfDay
}

// Rule is the recurrence shape of a block. The set of variants is closed:
// SingleDay, DateRange, WeekdaysPattern and MonthlyRecurring.
type Rule interface {
	AppliesOn(date calendar.Date) bool
	// Window is nil when the block covers whole days.
	Window() *TimeWindow
	rule()
}

type SingleDay struct {
	Date calendar.Date
	Time *TimeWindow
}

type DateRange struct {
	From calendar.Date
	To   calendar.Date
	Time *TimeWindow
}

type WeekdaysPattern struct {
	Weekdays [7]bool
	From     calendar.Date
	Until    calendar.Date // zero means open-ended
	Time     *TimeWindow
}

type MonthlyRecurring struct {
	DayOfMonth int
	From       calendar.Date
	Until      calendar.Date // zero means open-ended
	Time       *TimeWindow
}

func (r SingleDay) AppliesOn(d calendar.Date) bool { return d == r.Date }
func (r DateRange) AppliesOn(d calendar.Date) bool { return d.Between(r.From, r.To) }

func (r WeekdaysPattern) AppliesOn(d calendar.Date) bool {
	return d.Between(r.From, r.Until) && r.Weekdays[d.Weekday()]
}

// AppliesOn never fires in months shorter than DayOfMonth.
func (r MonthlyRecurring) AppliesOn(d calendar.Date) bool {
	return d.Between(r.From, r.Until) && d.Day == r.DayOfMonth
}

func (r SingleDay) Window() *TimeWindow        { return r.Time }
func (r DateRange) Window() *TimeWindow        { return r.Time }
func (r WeekdaysPattern) Window() *TimeWindow  { return r.Time }
func (r MonthlyRecurring) Window() *TimeWindow { return r.Time }

func (SingleDay) rule()        {}
func (DateRange) rule()        {}
func (WeekdaysPattern) rule()  {}
func (MonthlyRecurring) rule() {}

const blockEntity = "professional_block"

// Rule validates the stored fields and returns the matching variant.
func (b ProfessionalBlock) Rule() (Rule, error) {
	window, err := b.window()
	if err != nil {
		return nil, err
	}
	if b.StartDate.IsZero() {
		return nil, configErr(blockEntity, b.ID, "missing start date")
	}

	switch b.Type {
	case BlockSingleDay:
		return SingleDay{Date: b.StartDate, Time: window}, nil

	case BlockDateRange:
		if b.EndDate == nil {
			return nil, configErr(blockEntity, b.ID, "date_range requires an end date")
		}
		if b.EndDate.Before(b.StartDate) {
			return nil, configErr(blockEntity, b.ID, "end date %s before start date %s", b.EndDate, b.StartDate)
		}
		return DateRange{From: b.StartDate, To: *b.EndDate, Time: window}, nil

	case BlockWeekdaysPattern:
		if len(b.WeekdaysPattern) == 0 {
			return nil, configErr(blockEntity, b.ID, "weekdays_pattern requires at least one weekday")
		}
		rule := WeekdaysPattern{From: b.StartDate, Time: window}
		for _, raw := range b.WeekdaysPattern {
			wd, err := calendar.WeekdayFromIndex(raw)
			if err != nil {
				return nil, configCause(blockEntity, b.ID, err)
			}
			rule.Weekdays[wd] = true
		}
		if b.EndDate != nil {
			if b.EndDate.Before(b.StartDate) {
				return nil, configErr(blockEntity, b.ID, "end date %s before start date %s", b.EndDate, b.StartDate)
			}
			rule.Until = *b.EndDate
		}
		return rule, nil

	case BlockMonthlyRecurring:
		if b.MonthlyDayOfMonth == nil || *b.MonthlyDayOfMonth < 1 || *b.MonthlyDayOfMonth > 31 {
			return nil, configErr(blockEntity, b.ID, "monthly_recurring requires a day of month in 1..31")
		}
		rule := MonthlyRecurring{DayOfMonth: *b.MonthlyDayOfMonth, From: b.StartDate, Time: window}
		if b.MonthlyEndDate != nil {
			if b.MonthlyEndDate.Before(b.StartDate) {
				return nil, configErr(blockEntity, b.ID, "monthly end date %s before start date %s", b.MonthlyEndDate, b.StartDate)
			}
			rule.Until = *b.MonthlyEndDate
		}
		return rule, nil
	}

	return nil, configErr(blockEntity, b.ID, "unknown block type %q", b.Type)
}

func (b ProfessionalBlock) window() (*TimeWindow, error) {
	switch {
	case b.StartTime == nil && b.EndTime == nil:
		return nil, nil
	case b.StartTime == nil || b.EndTime == nil:
		return nil, configErr(blockEntity, b.ID, "start and end time must be set together")
	}
	w := &TimeWindow{From: *b.StartTime, To: *b.EndTime}
	if !w.From.Valid() || !w.To.Valid() || w.To <= w.From {
		return nil, configErr(blockEntity, b.ID, "invalid time window %s-%s", w.From, w.To)
	}
	return w, nil
}

// BlockingInterval is the part of date removed by rule, in loc.
func BlockingInterval(rule Rule, date calendar.Date, loc *time.Location) (calendar.Interval, error) {
	w := rule.Window()
	if w == nil {
		return calendar.FullDay(date, loc), nil
	}
	return calendar.DayInterval(date, w.From, w.To, loc)
}

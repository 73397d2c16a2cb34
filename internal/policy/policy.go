// Package policy implements the tenant booking-window rules applied to new,
// modified and cancelled appointments.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BookingPolicy is the tenant-wide rule set. Durations are whole minutes or days.
type BookingPolicy struct {
	MinimumBookingTimeMinutes int    `json:"minimumBookingTimeMinutes"`
	MaximumFutureTimeDays     int    `json:"maximumFutureTimeDays"`
	EditableBookings          bool   `json:"editableBookings"`
	CancellableBookings       bool   `json:"cancellableBookings"`
	MinimumEditTimeMinutes    int    `json:"minimumEditTimeMinutes"`
	MaximumEdits              int    `json:"maximumEdits"`
	TimeZone                  string `json:"timeZone"`
}

// Default is used for tenants that never saved a policy.
func Default(timeZone string) BookingPolicy {
	return BookingPolicy{
		MinimumBookingTimeMinutes: 60,
		MaximumFutureTimeDays:     90,
		EditableBookings:          true,
		CancellableBookings:       true,
		MinimumEditTimeMinutes:    120,
		MaximumEdits:              3,
		TimeZone:                  timeZone,
	}
}

var ErrUnknownTimeZone = errors.New("unknown policy time zone")

// Location resolves TimeZone. An empty zone is UTC; a name the tz database
// does not know is an error rather than a silent UTC shift.
func (p BookingPolicy) Location() (*time.Location, error) {
	if p.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownTimeZone, p.TimeZone, err)
	}
	return loc, nil
}

type Code string

const (
	CodeTooSoon          Code = "TOO_SOON"
	CodeTooFar           Code = "TOO_FAR"
	CodeNotAllowed       Code = "NOT_ALLOWED"
	CodeTooLateToEdit    Code = "TOO_LATE_TO_EDIT"
	CodeEditLimitReached Code = "EDIT_LIMIT_REACHED"
)

type Violation struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ViolationError carries every rule that failed, in evaluation order.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	codes := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		codes = append(codes, string(v.Code))
	}
	return "policy violation: " + strings.Join(codes, ", ")
}

func (e *ViolationError) Codes() []Code {
	out := make([]Code, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Code)
	}
	return out
}

// AsError returns nil for an empty list so callers can write
// `if err := policy.AsError(vs); err != nil`.
func AsError(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ViolationError{Violations: violations}
}

// Target is the existing appointment a modification or cancellation acts on.
type Target struct {
	ScheduledAt       time.Time
	ModificationCount int
}

// ValidateNewBooking checks lead time and horizon for a requested start.
func ValidateNewBooking(now, scheduledAt time.Time, p BookingPolicy) []Violation {
	var out []Violation

	earliest := now.Add(time.Duration(p.MinimumBookingTimeMinutes) * time.Minute)
	if scheduledAt.Before(earliest) {
		out = append(out, Violation{
			Code:    CodeTooSoon,
			Message: fmt.Sprintf("bookings must be made at least %d minutes in advance", p.MinimumBookingTimeMinutes),
		})
	}

	latest := now.AddDate(0, 0, p.MaximumFutureTimeDays)
	if scheduledAt.After(latest) {
		out = append(out, Violation{
			Code:    CodeTooFar,
			Message: fmt.Sprintf("bookings cannot be made more than %d days ahead", p.MaximumFutureTimeDays),
		})
	}

	return out
}

// ValidateModification checks whether an existing appointment may be
// rescheduled at now.
func ValidateModification(now time.Time, target Target, p BookingPolicy) []Violation {
	var out []Violation

	if !p.EditableBookings {
		out = append(out, Violation{Code: CodeNotAllowed, Message: "bookings cannot be edited"})
	}
	if v, ok := leadTime(now, target, p); !ok {
		out = append(out, v)
	}
	if target.ModificationCount >= p.MaximumEdits {
		out = append(out, Violation{
			Code:    CodeEditLimitReached,
			Message: fmt.Sprintf("booking was already modified %d times (limit %d)", target.ModificationCount, p.MaximumEdits),
		})
	}

	return out
}

// ValidateCancellation checks whether an existing appointment may be
// cancelled at now. The edit counter does not apply.
func ValidateCancellation(now time.Time, target Target, p BookingPolicy) []Violation {
	var out []Violation

	if !p.CancellableBookings {
		out = append(out, Violation{Code: CodeNotAllowed, Message: "bookings cannot be cancelled"})
	}
	if v, ok := leadTime(now, target, p); !ok {
		out = append(out, v)
	}

	return out
}

func leadTime(now time.Time, target Target, p BookingPolicy) (Violation, bool) {
	cutoff := now.Add(time.Duration(p.MinimumEditTimeMinutes) * time.Minute)
	if target.ScheduledAt.Before(cutoff) {
		return Violation{
			Code:    CodeTooLateToEdit,
			Message: fmt.Sprintf("changes must be made at least %d minutes before the appointment", p.MinimumEditTimeMinutes),
		}, false
	}
	return Violation{}, true
}

package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/availability"
	"github.com/hackgods/booking-engine/internal/calendar"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusNoShow      AppointmentStatus = "no_show"
	StatusCompleted   AppointmentStatus = "completed"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// Occupies reports whether an appointment in this status holds its time range.
func (s AppointmentStatus) Occupies() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusNoShow, StatusCompleted, StatusRescheduled:
		return true
	}
	return false
}

// transitions lists the status changes allowed through UpdateStatus.
// rescheduled is only ever set by Reschedule.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow, StatusCompleted},
	StatusConfirmed: {StatusCancelled, StatusNoShow, StatusCompleted},
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceAdmin  Source = "admin"
	SourceUser   Source = "user"
	SourceAPI    Source = "api"
	SourceImport Source = "import"
	SourceSystem Source = "system"
)

func (s Source) Valid() bool {
	switch s {
	case SourceAdmin, SourceUser, SourceAPI, SourceImport, SourceSystem:
		return true
	}
	return false
}

type Company struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

type Location struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Name      string
}

type Professional struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	LocationID *uuid.UUID
	Name       string
	Active     bool
}

// CatalogService is a bookable service offered by a company.
type CatalogService struct {
	ID              uuid.UUID
	CompanyID       uuid.UUID
	Name            string
	DurationMinutes int
	Active          bool
}

type Patient struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Name      string
	Email     *string
}

type Appointment struct {
	ID                    uuid.UUID
	CompanyID             uuid.UUID
	ProfessionalID        uuid.UUID
	ServiceID             *uuid.UUID
	PatientID             *uuid.UUID
	ScheduledAt           time.Time
	DurationMinutes       int
	Status                AppointmentStatus
	Source                Source
	ModificationCount     int
	OriginalAppointmentID *uuid.UUID
	PreviousAppointmentID *uuid.UUID
	StatusReason          *string
	Notes                 *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (a Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Interval is the occupied range [ScheduledAt, EndsAt).
func (a Appointment) Interval() (calendar.Interval, error) {
	return calendar.NewInterval(a.ScheduledAt, a.EndsAt())
}

// Snapshot is the audit representation of the appointment.
func (a Appointment) Snapshot() map[string]any {
	m := map[string]any{
		"id":                a.ID.String(),
		"professionalId":    a.ProfessionalID.String(),
		"scheduledAt":       a.ScheduledAt.UTC().Format(time.RFC3339),
		"durationMinutes":   a.DurationMinutes,
		"status":            string(a.Status),
		"source":            string(a.Source),
		"modificationCount": a.ModificationCount,
	}
	putID(m, "serviceId", a.ServiceID)
	putID(m, "patientId", a.PatientID)
	putID(m, "originalAppointmentId", a.OriginalAppointmentID)
	putID(m, "previousAppointmentId", a.PreviousAppointmentID)
	if a.StatusReason != nil {
		m["statusReason"] = *a.StatusReason
	}
	return m
}

func putID(m map[string]any, key string, id *uuid.UUID) {
	if id != nil {
		m[key] = id.String()
	}
}

// DayAvailability is the slot list for one professional, service and date.
type DayAvailability struct {
	Date           calendar.Date
	ProfessionalID uuid.UUID
	ServiceID      uuid.UUID
	TimeZone       string
	Slots          []availability.Slot
}

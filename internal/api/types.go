package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/availability"
	"github.com/hackgods/booking-engine/internal/policy"
)

type ReserveAppointmentRequest struct {
	ProfessionalID string     `json:"professionalId" validate:"required,uuid"`
	ServiceID      string     `json:"serviceId" validate:"required,uuid"`
	PatientID      *string    `json:"patientId" validate:"omitempty,uuid"`
	ScheduledAt    *time.Time `json:"scheduledAt" validate:"required"`
	Source         string     `json:"source" validate:"omitempty,oneof=admin user api import system"`
	Notes          *string    `json:"notes" validate:"omitempty,max=2000"`
}

// ModifyAppointmentRequest is a reschedule (newStart) or a status change
// (newStatus), never both.
type ModifyAppointmentRequest struct {
	NewStart  *time.Time `json:"newStart" validate:"required_without=NewStatus"`
	NewStatus *string    `json:"newStatus" validate:"omitempty,oneof=scheduled confirmed cancelled no_show completed"`
	Reason    *string    `json:"reason" validate:"omitempty,max=500"`
}

type AppointmentResponse struct {
	ID                    uuid.UUID  `json:"id"`
	CompanyID             uuid.UUID  `json:"companyId"`
	ProfessionalID        uuid.UUID  `json:"professionalId"`
	ServiceID             *uuid.UUID `json:"serviceId,omitempty"`
	PatientID             *uuid.UUID `json:"patientId,omitempty"`
	ScheduledAt           time.Time  `json:"scheduledAt"`
	EndsAt                time.Time  `json:"endsAt"`
	DurationMinutes       int        `json:"durationMinutes"`
	Status                string     `json:"status"`
	Source                string     `json:"source"`
	ModificationCount     int        `json:"modificationCount"`
	OriginalAppointmentID *uuid.UUID `json:"originalAppointmentId,omitempty"`
	PreviousAppointmentID *uuid.UUID `json:"previousAppointmentId,omitempty"`
	StatusReason          *string    `json:"statusReason,omitempty"`
	Notes                 *string    `json:"notes,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                    a.ID,
		CompanyID:             a.CompanyID,
		ProfessionalID:        a.ProfessionalID,
		ServiceID:             a.ServiceID,
		PatientID:             a.PatientID,
		ScheduledAt:           a.ScheduledAt,
		EndsAt:                a.EndsAt(),
		DurationMinutes:       a.DurationMinutes,
		Status:                string(a.Status),
		Source:                string(a.Source),
		ModificationCount:     a.ModificationCount,
		OriginalAppointmentID: a.OriginalAppointmentID,
		PreviousAppointmentID: a.PreviousAppointmentID,
		StatusReason:          a.StatusReason,
		Notes:                 a.Notes,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

type DayAvailabilityResponse struct {
	Date           string              `json:"date"`
	ProfessionalID uuid.UUID           `json:"professionalId"`
	ServiceID      uuid.UUID           `json:"serviceId"`
	TimeZone       string              `json:"timeZone"`
	Slots          []availability.Slot `json:"slots"`
}

func newDayAvailabilityResponse(d appointment.DayAvailability) DayAvailabilityResponse {
	slots := d.Slots
	if slots == nil {
		slots = []availability.Slot{}
	}
	return DayAvailabilityResponse{
		Date:           d.Date.String(),
		ProfessionalID: d.ProfessionalID,
		ServiceID:      d.ServiceID,
		TimeZone:       d.TimeZone,
		Slots:          slots,
	}
}

type ErrorResponse struct {
	Error      string             `json:"error"`
	Details    string             `json:"details,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
}

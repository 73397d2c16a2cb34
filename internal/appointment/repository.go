package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/audit"
	"github.com/hackgods/booking-engine/internal/availability"
	"github.com/hackgods/booking-engine/internal/calendar"
	"github.com/hackgods/booking-engine/internal/policy"
)

var (
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrServiceNotFound      = errors.New("service not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrPolicyNotFound       = errors.New("booking policy not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
)

// Reader holds every lookup the service performs, both inside and outside
// a transaction.
type Reader interface {
	availability.Source

	GetProfessional(ctx context.Context, id uuid.UUID) (*Professional, error)
	GetService(ctx context.Context, id uuid.UUID) (*CatalogService, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetBookingPolicy(ctx context.Context, companyID uuid.UUID) (*policy.BookingPolicy, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindOverlappingAppointments returns occupying appointments of the
	// professional that overlap window, skipping excludeID when set.
	FindOverlappingAppointments(ctx context.Context, professionalID uuid.UUID, window calendar.Interval, excludeID *uuid.UUID) ([]Appointment, error)

	ListAuditEntries(ctx context.Context, entityType string, entityID uuid.UUID) ([]audit.Entry, error)
}

// Tx is the write side, only reachable inside WithinTx.
type Tx interface {
	Reader
	audit.Writer

	InsertAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointmentStatus moves id from one status to another and
	// returns ErrAppointmentNotFound if it is no longer in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error)
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Reader

	// WithinTx runs fn in one transaction that first locks the professional's
	// row. fn's error rolls everything back.
	WithinTx(ctx context.Context, professionalID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error

	// Completion worker
	FindEndedAppointments(ctx context.Context, before time.Time, limit int) ([]Appointment, error)
}

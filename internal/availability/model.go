package availability

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/calendar"
)

type OwnerKind string

const (
	OwnerProfessional OwnerKind = "professional"
	OwnerLocation     OwnerKind = "location"
)

// Owner identifies whose weekly hours are being read.
type Owner struct {
	Kind OwnerKind
	ID   uuid.UUID
}

func ProfessionalOwner(id uuid.UUID) Owner { return Owner{Kind: OwnerProfessional, ID: id} }
func LocationOwner(id uuid.UUID) Owner     { return Owner{Kind: OwnerLocation, ID: id} }

// WeeklyAvailability is one recurring opening range on a weekday.
type WeeklyAvailability struct {
	ID        uuid.UUID
	Owner     Owner
	Weekday   calendar.Weekday
	StartTime calendar.TimeOfDay
	EndTime   calendar.TimeOfDay
}

// SpecialSchedule replaces the weekly hours of a professional on one date.
type SpecialSchedule struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	Date           calendar.Date
	StartTime      calendar.TimeOfDay
	EndTime        calendar.TimeOfDay
	ServiceIDs     []uuid.UUID
}

// Allows reports whether the schedule applies to serviceID. An empty
// restriction allows every service.
func (s SpecialSchedule) Allows(serviceID *uuid.UUID) bool {
	if len(s.ServiceIDs) == 0 {
		return true
	}
	if serviceID == nil {
		return false
	}
	for _, id := range s.ServiceIDs {
		if id == *serviceID {
			return true
		}
	}
	return false
}

// Target is the professional whose availability is resolved.
type Target struct {
	ProfessionalID uuid.UUID
	LocationID     *uuid.UUID
}

var ErrNoSpecialSchedule = errors.New("no special schedule for date")

// Source is the read side the resolver depends on.
type Source interface {
	ListWeeklyAvailability(ctx context.Context, owner Owner) ([]WeeklyAvailability, error)
	// FindSpecialSchedule returns ErrNoSpecialSchedule when none exists.
	FindSpecialSchedule(ctx context.Context, professionalID uuid.UUID, date calendar.Date) (*SpecialSchedule, error)
	// FindActiveBlocks returns active block rows whose date bounds may include date.
	FindActiveBlocks(ctx context.Context, professionalID uuid.UUID, date calendar.Date) ([]ProfessionalBlock, error)
}

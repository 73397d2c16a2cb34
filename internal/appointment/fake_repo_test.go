package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/audit"
	"github.com/hackgods/booking-engine/internal/availability"
	"github.com/hackgods/booking-engine/internal/calendar"
	"github.com/hackgods/booking-engine/internal/policy"
)

// memRepo is an in-memory Repository. WithinTx serializes per professional
// like the row lock does and only publishes writes when fn succeeds.
type memRepo struct {
	mu            sync.Mutex
	professionals map[uuid.UUID]Professional
	services      map[uuid.UUID]CatalogService
	patients      map[uuid.UUID]Patient
	policies      map[uuid.UUID]policy.BookingPolicy
	weekly        map[availability.Owner][]availability.WeeklyAvailability
	special       map[uuid.UUID]map[calendar.Date]availability.SpecialSchedule
	blocks        map[uuid.UUID][]availability.ProfessionalBlock
	appointments  map[uuid.UUID]Appointment
	audit         []audit.Entry
	failAudit     bool

	rowLocksMu sync.Mutex
	rowLocks   map[uuid.UUID]*sync.Mutex
}

func newMemRepo() *memRepo {
	return &memRepo{
		professionals: map[uuid.UUID]Professional{},
		services:      map[uuid.UUID]CatalogService{},
		patients:      map[uuid.UUID]Patient{},
		policies:      map[uuid.UUID]policy.BookingPolicy{},
		weekly:        map[availability.Owner][]availability.WeeklyAvailability{},
		special:       map[uuid.UUID]map[calendar.Date]availability.SpecialSchedule{},
		blocks:        map[uuid.UUID][]availability.ProfessionalBlock{},
		appointments:  map[uuid.UUID]Appointment{},
		rowLocks:      map[uuid.UUID]*sync.Mutex{},
	}
}

func (r *memRepo) rowLock(id uuid.UUID) *sync.Mutex {
	r.rowLocksMu.Lock()
	defer r.rowLocksMu.Unlock()
	m, ok := r.rowLocks[id]
	if !ok {
		m = &sync.Mutex{}
		r.rowLocks[id] = m
	}
	return m
}

func (r *memRepo) committedAppointments() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, a)
	}
	return out
}

func (r *memRepo) auditFor(id uuid.UUID) []audit.Entry {
	entries, _ := r.ListAuditEntries(context.Background(), EntityAppointment, id)
	return entries
}

func (r *memRepo) GetProfessional(ctx context.Context, id uuid.UUID) (*Professional, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.professionals[id]
	if !ok {
		return nil, ErrProfessionalNotFound
	}
	return &p, nil
}

func (r *memRepo) GetService(ctx context.Context, id uuid.UUID) (*CatalogService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (r *memRepo) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetBookingPolicy(ctx context.Context, companyID uuid.UUID) (*policy.BookingPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[companyID]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return &p, nil
}

func (r *memRepo) ListWeeklyAvailability(ctx context.Context, owner availability.Owner) ([]availability.WeeklyAvailability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]availability.WeeklyAvailability(nil), r.weekly[owner]...), nil
}

func (r *memRepo) FindSpecialSchedule(ctx context.Context, professionalID uuid.UUID, date calendar.Date) (*availability.SpecialSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.special[professionalID][date]
	if !ok {
		return nil, availability.ErrNoSpecialSchedule
	}
	return &sp, nil
}

func (r *memRepo) FindActiveBlocks(ctx context.Context, professionalID uuid.UUID, date calendar.Date) ([]availability.ProfessionalBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]availability.ProfessionalBlock(nil), r.blocks[professionalID]...), nil
}

func (r *memRepo) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) FindOverlappingAppointments(ctx context.Context, professionalID uuid.UUID, window calendar.Interval, excludeID *uuid.UUID) ([]Appointment, error) {
	return overlapping(r.committedAppointments(), professionalID, window, excludeID), nil
}

func overlapping(all []Appointment, professionalID uuid.UUID, window calendar.Interval, excludeID *uuid.UUID) []Appointment {
	var out []Appointment
	for _, a := range all {
		if a.ProfessionalID != professionalID || !a.Status.Occupies() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.ScheduledAt.Before(window.End()) && a.EndsAt().After(window.Start()) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (r *memRepo) ListAuditEntries(ctx context.Context, entityType string, entityID uuid.UUID) ([]audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []audit.Entry{}
	for _, e := range r.audit {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRepo) FindEndedAppointments(ctx context.Context, before time.Time, limit int) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.committedAppointments() {
		if a.Status == StatusConfirmed && !a.EndsAt().After(before) {
			out = append(out, a)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) WithinTx(ctx context.Context, professionalID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	if _, err := r.GetProfessional(ctx, professionalID); err != nil {
		return err
	}

	row := r.rowLock(professionalID)
	row.Lock()
	defer row.Unlock()

	tx := &memTx{memRepo: r, staged: map[uuid.UUID]Appointment{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range tx.staged {
		r.appointments[id] = a
	}
	r.audit = append(r.audit, tx.audit...)
	return nil
}

// memTx overlays staged writes on the committed state.
type memTx struct {
	*memRepo
	staged map[uuid.UUID]Appointment
	audit  []audit.Entry
}

func (t *memTx) view() []Appointment {
	all := map[uuid.UUID]Appointment{}
	for _, a := range t.memRepo.committedAppointments() {
		all[a.ID] = a
	}
	for id, a := range t.staged {
		all[id] = a
	}
	out := make([]Appointment, 0, len(all))
	for _, a := range all {
		out = append(out, a)
	}
	return out
}

func (t *memTx) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if a, ok := t.staged[id]; ok {
		return &a, nil
	}
	return t.memRepo.GetAppointment(ctx, id)
}

func (t *memTx) FindOverlappingAppointments(ctx context.Context, professionalID uuid.UUID, window calendar.Interval, excludeID *uuid.UUID) ([]Appointment, error) {
	return overlapping(t.view(), professionalID, window, excludeID), nil
}

func (t *memTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	iv, err := a.Interval()
	if err != nil {
		return err
	}
	if len(overlapping(t.view(), a.ProfessionalID, iv, nil)) > 0 {
		return ErrSlotNoLongerAvailable
	}
	t.staged[a.ID] = *a
	return nil
}

func (t *memTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	a, err := t.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if reason != nil {
		a.StatusReason = reason
	}
	t.staged[id] = *a
	return a, nil
}

func (t *memTx) InsertAuditEntry(ctx context.Context, e audit.Entry) error {
	if t.memRepo.failAudit {
		return errors.New("audit table unavailable")
	}
	t.audit = append(t.audit, e)
	return nil
}

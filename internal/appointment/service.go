package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/booking-engine/internal/audit"
	"github.com/hackgods/booking-engine/internal/availability"
	"github.com/hackgods/booking-engine/internal/calendar"
	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/lock"
	"github.com/hackgods/booking-engine/internal/metrics"
	"github.com/hackgods/booking-engine/internal/policy"
)

const EntityAppointment = "appointment"

const (
	opReserve    = "reserve"
	opReschedule = "reschedule"
	opStatus     = "status"
)

// rangeConcurrency bounds the per-day fan-out of GetAvailabilityRange.
const rangeConcurrency = 4

var (
	ErrProfessionalOrServiceNotFound = errors.New("professional or service not found")
	ErrSlotNoLongerAvailable         = errors.New("slot is no longer available")
	ErrInvalidStatusTransition       = errors.New("invalid status transition")
	ErrInvalidRequest                = errors.New("invalid request")
)

type Service struct {
	repo     Repository
	locker   lock.Locker
	cfg      config.Config
	recorder *audit.Recorder
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(repo Repository, locker lock.Locker, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:    repo,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	s.recorder = audit.NewRecorder(func() time.Time { return s.now() })
	return s
}

type ReserveRequest struct {
	ProfessionalID uuid.UUID
	ServiceID      uuid.UUID
	PatientID      *uuid.UUID
	ScheduledAt    time.Time
	Source         Source
	Notes          *string
}

// ModifyRequest carries exactly one of NewStart or NewStatus.
type ModifyRequest struct {
	NewStart  *time.Time
	NewStatus *AppointmentStatus
	Reason    *string
}

// bookingContext is everything about a professional that availability and
// reservation decisions depend on.
type bookingContext struct {
	professional *Professional
	service      *CatalogService
	policy       policy.BookingPolicy
	loc          *time.Location
}

func (bc *bookingContext) target() availability.Target {
	return availability.Target{
		ProfessionalID: bc.professional.ID,
		LocationID:     bc.professional.LocationID,
	}
}

func (s *Service) loadBookingContext(ctx context.Context, r Reader, professionalID uuid.UUID, serviceID *uuid.UUID) (*bookingContext, error) {
	prof, err := r.GetProfessional(ctx, professionalID)
	if err != nil {
		if errors.Is(err, ErrProfessionalNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrProfessionalOrServiceNotFound, err)
		}
		return nil, fmt.Errorf("load professional: %w", err)
	}
	if !prof.Active {
		return nil, fmt.Errorf("%w: professional %s is inactive", ErrProfessionalOrServiceNotFound, prof.ID)
	}

	bc := &bookingContext{professional: prof}

	if serviceID != nil {
		svc, err := r.GetService(ctx, *serviceID)
		if err != nil {
			if errors.Is(err, ErrServiceNotFound) {
				return nil, fmt.Errorf("%w: %w", ErrProfessionalOrServiceNotFound, err)
			}
			return nil, fmt.Errorf("load service: %w", err)
		}
		if !svc.Active || svc.CompanyID != prof.CompanyID {
			return nil, fmt.Errorf("%w: service %s is not offered", ErrProfessionalOrServiceNotFound, svc.ID)
		}
		bc.service = svc
	}

	p, err := s.policyFor(ctx, r, prof.CompanyID)
	if err != nil {
		return nil, err
	}
	bc.policy = p
	if bc.loc, err = p.Location(); err != nil {
		return nil, fmt.Errorf("load booking policy: %w", err)
	}

	return bc, nil
}

func (s *Service) policyFor(ctx context.Context, r Reader, companyID uuid.UUID) (policy.BookingPolicy, error) {
	p, err := r.GetBookingPolicy(ctx, companyID)
	switch {
	case err == nil:
		if p.TimeZone == "" {
			p.TimeZone = s.cfg.DefaultTimeZone
		}
		if _, err := p.Location(); err != nil {
			s.logger.Warn("booking policy has an unknown time zone, using the default",
				zap.String("company_id", companyID.String()),
				zap.String("time_zone", p.TimeZone),
				zap.String("default_time_zone", s.cfg.DefaultTimeZone),
			)
			p.TimeZone = s.cfg.DefaultTimeZone
		}
		return *p, nil
	case errors.Is(err, ErrPolicyNotFound):
		return policy.Default(s.cfg.DefaultTimeZone), nil
	default:
		return policy.BookingPolicy{}, fmt.Errorf("load booking policy: %w", err)
	}
}

// GetAvailability lists the bookable slots for one date. Slots the booking
// policy would reject right now are left out. A granularity of 0 uses the
// configured default.
func (s *Service) GetAvailability(ctx context.Context, professionalID, serviceID uuid.UUID, date calendar.Date, granularity int) (*DayAvailability, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveResolution("day", time.Since(start)) }()

	step, err := s.slotStep(granularity)
	if err != nil {
		return nil, err
	}

	bc, err := s.loadBookingContext(ctx, s.repo, professionalID, &serviceID)
	if err != nil {
		return nil, err
	}

	slots, err := s.daySlots(ctx, s.repo, bc, date, step, s.now())
	if err != nil {
		return nil, err
	}

	return &DayAvailability{
		Date:           date,
		ProfessionalID: professionalID,
		ServiceID:      serviceID,
		TimeZone:       bc.loc.String(),
		Slots:          slots,
	}, nil
}

// GetAvailabilityRange computes days consecutive dates starting at from.
// Days are resolved in parallel; the result is in date order.
func (s *Service) GetAvailabilityRange(ctx context.Context, professionalID, serviceID uuid.UUID, from calendar.Date, days, granularity int) ([]DayAvailability, error) {
	if days < 1 || days > s.cfg.MaxRangeDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRequest, s.cfg.MaxRangeDays)
	}
	step, err := s.slotStep(granularity)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { s.metrics.ObserveResolution("range", time.Since(start)) }()

	bc, err := s.loadBookingContext(ctx, s.repo, professionalID, &serviceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]DayAvailability, days)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rangeConcurrency)
	for i := 0; i < days; i++ {
		date := from.AddDays(i)
		g.Go(func() error {
			slots, err := s.daySlots(gctx, s.repo, bc, date, step, now)
			if err != nil {
				return fmt.Errorf("availability for %s: %w", date, err)
			}
			out[i] = DayAvailability{
				Date:           date,
				ProfessionalID: professionalID,
				ServiceID:      serviceID,
				TimeZone:       bc.loc.String(),
				Slots:          slots,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Service) slotStep(requested int) (int, error) {
	switch {
	case requested < 0 || requested > calendar.MinutesPerDay:
		return 0, fmt.Errorf("%w: granularity must be between 1 and %d minutes", ErrInvalidRequest, calendar.MinutesPerDay)
	case requested > 0:
		return requested, nil
	default:
		return s.cfg.DefaultGranularity, nil
	}
}

func (s *Service) daySlots(ctx context.Context, r Reader, bc *bookingContext, date calendar.Date, granularity int, now time.Time) ([]availability.Slot, error) {
	open, err := availability.ResolveOpenIntervals(ctx, r, bc.target(), date, &bc.service.ID, bc.loc)
	if err != nil {
		if errors.Is(err, availability.ErrConfiguration) {
			s.logger.Warn("availability configuration error, treating day as unavailable",
				zap.String("professional_id", bc.professional.ID.String()),
				zap.String("date", date.String()),
				zap.Error(err),
			)
			return []availability.Slot{}, nil
		}
		return nil, fmt.Errorf("resolve availability: %w", err)
	}
	if len(open) == 0 {
		return []availability.Slot{}, nil
	}

	busy, err := busyIntervals(ctx, r, bc.professional.ID, calendar.FullDay(date, bc.loc), nil)
	if err != nil {
		return nil, err
	}

	slots, err := availability.GenerateSlots(open, bc.service.DurationMinutes, granularity, busy)
	if err != nil {
		return nil, fmt.Errorf("generate slots: %w", err)
	}

	bookable := slots[:0]
	for _, slot := range slots {
		if len(policy.ValidateNewBooking(now, slot.DateTime, bc.policy)) == 0 {
			bookable = append(bookable, slot)
		}
	}
	return bookable, nil
}

func busyIntervals(ctx context.Context, r Reader, professionalID uuid.UUID, window calendar.Interval, excludeID *uuid.UUID) ([]calendar.Interval, error) {
	existing, err := r.FindOverlappingAppointments(ctx, professionalID, window, excludeID)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	busy := make([]calendar.Interval, 0, len(existing))
	for _, a := range existing {
		iv, err := a.Interval()
		if err != nil {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
		}
		busy = append(busy, iv)
	}
	return busy, nil
}

// Reserve books a new appointment. Availability is re-resolved inside the
// professional's lock, so a slot taken since it was displayed is rejected
// with ErrSlotNoLongerAvailable.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	created, err := s.reserve(ctx, req)
	s.metrics.ObserveReservation(opReserve, outcome(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment reserved",
		zap.String("appointment_id", created.ID.String()),
		zap.String("professional_id", created.ProfessionalID.String()),
		zap.Time("scheduled_at", created.ScheduledAt),
	)
	return created, nil
}

func (s *Service) reserve(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	if req.Source == "" {
		req.Source = SourceAPI
	}
	if !req.Source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, req.Source)
	}

	bc, err := s.loadBookingContext(ctx, s.repo, req.ProfessionalID, &req.ServiceID)
	if err != nil {
		return nil, err
	}

	if req.PatientID != nil {
		patient, err := s.repo.GetPatient(ctx, *req.PatientID)
		if err != nil {
			if errors.Is(err, ErrPatientNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load patient: %w", err)
		}
		if patient.CompanyID != bc.professional.CompanyID {
			return nil, ErrPatientNotFound
		}
	}

	now := s.now()
	if err := policy.AsError(policy.ValidateNewBooking(now, req.ScheduledAt, bc.policy)); err != nil {
		return nil, err
	}

	serviceID := req.ServiceID
	appt := &Appointment{
		ID:              uuid.New(),
		CompanyID:       bc.professional.CompanyID,
		ProfessionalID:  bc.professional.ID,
		ServiceID:       &serviceID,
		PatientID:       req.PatientID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: bc.service.DurationMinutes,
		Status:          StatusScheduled,
		Source:          req.Source,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.commit(ctx, opReserve, bc.professional.ID, func(ctx context.Context, tx Tx) error {
		if err := s.ensureFits(ctx, tx, bc, appt, nil); err != nil {
			return err
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, tx, EntityAppointment, appt.ID, audit.ActionCreate, nil, appt.Snapshot())
		return err
	})
	if err != nil {
		return nil, err
	}

	return appt, nil
}

// Reschedule books newStart as a new version of appointment id. The prior
// version becomes rescheduled and the new one carries the lineage links.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*Appointment, error) {
	next, err := s.reschedule(ctx, id, newStart)
	s.metrics.ObserveReservation(opReschedule, outcome(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment rescheduled",
		zap.String("appointment_id", next.ID.String()),
		zap.String("previous_appointment_id", id.String()),
		zap.Int("modification_count", next.ModificationCount),
	)
	return next, nil
}

func (s *Service) reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*Appointment, error) {
	prior, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !prior.Status.Occupies() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidStatusTransition, prior.Status)
	}

	bc, err := s.loadBookingContext(ctx, s.repo, prior.ProfessionalID, prior.ServiceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	violations := policy.ValidateModification(now, policy.Target{
		ScheduledAt:       prior.ScheduledAt,
		ModificationCount: prior.ModificationCount,
	}, bc.policy)
	violations = append(violations, policy.ValidateNewBooking(now, newStart, bc.policy)...)
	if err := policy.AsError(violations); err != nil {
		return nil, err
	}

	var next *Appointment
	err = s.commit(ctx, opReschedule, prior.ProfessionalID, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.Occupies() {
			return fmt.Errorf("%w: appointment %s is %s", ErrInvalidStatusTransition, current.ID, current.Status)
		}

		candidate := successor(*current, newStart, now)
		if err := s.ensureFits(ctx, tx, bc, candidate, &current.ID); err != nil {
			return err
		}

		// The prior version must stop occupying its range before the new
		// version is inserted, or an overlapping move trips the exclusion constraint.
		reason := "rescheduled to " + candidate.ID.String()
		superseded, err := tx.UpdateAppointmentStatus(ctx, current.ID, current.Status, StatusRescheduled, &reason)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrSlotNoLongerAvailable
			}
			return err
		}
		if err := tx.InsertAppointment(ctx, candidate); err != nil {
			return err
		}

		if _, err := s.recorder.Record(ctx, tx, EntityAppointment, current.ID, audit.ActionStatusChange,
			current.Snapshot(), superseded.Snapshot()); err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, tx, EntityAppointment, candidate.ID, audit.ActionReschedule,
			current.Snapshot(), candidate.Snapshot()); err != nil {
			return err
		}

		next = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	return next, nil
}

func successor(prior Appointment, start, now time.Time) *Appointment {
	original := prior.ID
	if prior.OriginalAppointmentID != nil {
		original = *prior.OriginalAppointmentID
	}
	previous := prior.ID

	return &Appointment{
		ID:                    uuid.New(),
		CompanyID:             prior.CompanyID,
		ProfessionalID:        prior.ProfessionalID,
		ServiceID:             prior.ServiceID,
		PatientID:             prior.PatientID,
		ScheduledAt:           start,
		DurationMinutes:       prior.DurationMinutes,
		Status:                StatusScheduled,
		Source:                prior.Source,
		ModificationCount:     prior.ModificationCount + 1,
		OriginalAppointmentID: &original,
		PreviousAppointmentID: &previous,
		Notes:                 prior.Notes,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// UpdateStatus applies a lifecycle transition. Cancellation is subject to
// the tenant's cancellation policy.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus, reason *string) (*Appointment, error) {
	updated, err := s.updateStatus(ctx, id, to, reason)
	s.metrics.ObserveReservation(opStatus, outcome(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment status changed",
		zap.String("appointment_id", id.String()),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

func (s *Service) updateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus, reason *string) (*Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, to)
	}

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, to)
	}

	if to == StatusCancelled {
		p, err := s.policyFor(ctx, s.repo, current.CompanyID)
		if err != nil {
			return nil, err
		}
		violations := policy.ValidateCancellation(s.now(), policy.Target{
			ScheduledAt:       current.ScheduledAt,
			ModificationCount: current.ModificationCount,
		}, p)
		if err := policy.AsError(violations); err != nil {
			return nil, err
		}
	}

	var updated *Appointment
	err = s.commit(ctx, opStatus, current.ProfessionalID, func(ctx context.Context, tx Tx) error {
		u, err := tx.UpdateAppointmentStatus(ctx, id, current.Status, to, reason)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("%w: appointment %s changed concurrently", ErrInvalidStatusTransition, id)
			}
			return err
		}
		if _, err := s.recorder.Record(ctx, tx, EntityAppointment, id, audit.ActionStatusChange,
			current.Snapshot(), u.Snapshot()); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Modify dispatches a PATCH to Reschedule or UpdateStatus.
func (s *Service) Modify(ctx context.Context, id uuid.UUID, req ModifyRequest) (*Appointment, error) {
	switch {
	case req.NewStart != nil && req.NewStatus != nil:
		return nil, fmt.Errorf("%w: newStart and newStatus are mutually exclusive", ErrInvalidRequest)
	case req.NewStart != nil:
		return s.Reschedule(ctx, id, *req.NewStart)
	case req.NewStatus != nil:
		return s.UpdateStatus(ctx, id, *req.NewStatus, req.Reason)
	default:
		return nil, fmt.Errorf("%w: one of newStart or newStatus is required", ErrInvalidRequest)
	}
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

// ListAudit returns the audit trail of an appointment, oldest first.
func (s *Service) ListAudit(ctx context.Context, id uuid.UUID) ([]audit.Entry, error) {
	if _, err := s.repo.GetAppointment(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListAuditEntries(ctx, EntityAppointment, id)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// CompletePastAppointments is intended to be called by the worker periodically.
// It moves confirmed appointments whose range has ended to completed.
func (s *Service) CompletePastAppointments(ctx context.Context) (int, error) {
	ended, err := s.repo.FindEndedAppointments(ctx, s.now(), s.cfg.WorkerBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find ended appointments: %w", err)
	}

	ctx = audit.WithActor(ctx, audit.Actor{UserAgent: "completion-worker"})
	reason := "completed after end time"

	completed := 0
	for _, a := range ended {
		err := s.repo.WithinTx(ctx, a.ProfessionalID, func(ctx context.Context, tx Tx) error {
			u, err := tx.UpdateAppointmentStatus(ctx, a.ID, a.Status, StatusCompleted, &reason)
			if err != nil {
				return err
			}
			_, err = s.recorder.Record(ctx, tx, EntityAppointment, a.ID, audit.ActionStatusChange, a.Snapshot(), u.Snapshot())
			return err
		})
		if errors.Is(err, ErrAppointmentNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("failed to complete appointment",
				zap.String("appointment_id", a.ID.String()),
				zap.Error(err),
			)
			continue
		}
		completed++
	}

	s.metrics.AddCompleted(completed)
	return completed, nil
}

// commit serializes fn per professional. The caller may abandon the attempt
// while it waits for the lock; once the transaction starts it runs to commit
// or rollback regardless of the caller's context.
func (s *Service) commit(ctx context.Context, op string, professionalID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	waitStart := time.Now()
	err := s.locker.WithLock(ctx, lock.ProfessionalKey(professionalID), func(lockCtx context.Context) error {
		s.metrics.ObserveLockWait(op, time.Since(waitStart))
		if err := lockCtx.Err(); err != nil {
			return err
		}
		return s.repo.WithinTx(context.WithoutCancel(lockCtx), professionalID, fn)
	})
	if errors.Is(err, lock.ErrLockTimeout) && !errors.Is(err, ErrSlotNoLongerAvailable) {
		return fmt.Errorf("%w: %w", ErrSlotNoLongerAvailable, err)
	}
	return err
}

// ensureFits re-runs resolution and slicing for appt inside the transaction.
func (s *Service) ensureFits(ctx context.Context, tx Tx, bc *bookingContext, appt *Appointment, excludeID *uuid.UUID) error {
	candidate, err := appt.Interval()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	date := calendar.DateOf(appt.ScheduledAt.In(bc.loc))
	open, err := availability.ResolveOpenIntervals(ctx, tx, bc.target(), date, appt.ServiceID, bc.loc)
	if err != nil {
		if errors.Is(err, availability.ErrConfiguration) {
			s.logger.Warn("availability configuration error at commit",
				zap.String("professional_id", bc.professional.ID.String()),
				zap.String("date", date.String()),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %v", ErrSlotNoLongerAvailable, err)
		}
		return fmt.Errorf("resolve availability: %w", err)
	}

	busy, err := busyIntervals(ctx, tx, bc.professional.ID, candidate, excludeID)
	if err != nil {
		return err
	}

	if !availability.Fits(candidate, open, busy) {
		return ErrSlotNoLongerAvailable
	}
	return nil
}

func outcome(err error) string {
	var violation *policy.ViolationError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, lock.ErrLockTimeout):
		return metrics.OutcomeLockTimeout
	case errors.Is(err, ErrSlotNoLongerAvailable):
		return metrics.OutcomeConflict
	case errors.As(err, &violation):
		return metrics.OutcomeRejected
	case errors.Is(err, ErrProfessionalOrServiceNotFound),
		errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrAppointmentNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}

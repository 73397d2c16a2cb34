package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/booking-engine/internal/audit"
	"github.com/hackgods/booking-engine/internal/availability"
	"github.com/hackgods/booking-engine/internal/calendar"
	"github.com/hackgods/booking-engine/internal/lock"
	"github.com/hackgods/booking-engine/internal/policy"
)

const (
	pgExclusionViolation   = "23P01"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgStore implements Reader and Tx on top of any querier.
type pgStore struct {
	q querier
}

type PgRepository struct {
	pgStore
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPgRepository creates a repository. lockTimeout bounds how long a
// transaction waits for a professional's row lock.
func NewPgRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *PgRepository {
	return &PgRepository{
		pgStore:     pgStore{q: pool},
		pool:        pool,
		lockTimeout: lockTimeout,
	}
}

func (r *PgRepository) WithinTx(ctx context.Context, professionalID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if r.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id
		FROM professionals
		WHERE id = $1
		FOR UPDATE
	`, professionalID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProfessionalNotFound
		}
		return mapPgError(fmt.Errorf("lock professional: %w", err))
	}

	if err := fn(ctx, &pgTx{pgStore: pgStore{q: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (r *PgRepository) FindEndedAppointments(ctx context.Context, before time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND ends_at <= $1
		ORDER BY ends_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

type pgTx struct {
	pgStore
}

var (
	_ Repository = (*PgRepository)(nil)
	_ Tx         = (*pgTx)(nil)
)

// mapPgError turns storage-level contention into the service's errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgExclusionViolation, pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrSlotNoLongerAvailable, pgErr.Message)
	case pgLockNotAvailable:
		return fmt.Errorf("%w: %s", lock.ErrLockTimeout, pgErr.Message)
	}
	return err
}

// Helpers

const appointmentColumns = `id, company_id, professional_id, service_id, patient_id, scheduled_at,
	duration_minutes, status, source, modification_count, original_appointment_id,
	previous_appointment_id, status_reason, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.CompanyID,
		&a.ProfessionalID,
		&a.ServiceID,
		&a.PatientID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Status,
		&a.Source,
		&a.ModificationCount,
		&a.OriginalAppointmentID,
		&a.PreviousAppointmentID,
		&a.StatusReason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func timeOfDay(t pgtype.Time) calendar.TimeOfDay {
	return calendar.TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func optionalTimeOfDay(t pgtype.Time) *calendar.TimeOfDay {
	if !t.Valid {
		return nil
	}
	v := timeOfDay(t)
	return &v
}

func optionalDate(t *time.Time) *calendar.Date {
	if t == nil {
		return nil
	}
	d := calendar.DateOf(*t)
	return &d
}

func jsonOrNull(values map[string]any) (*string, error) {
	if values == nil {
		return nil, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}

// Interface methods

func (s *pgStore) GetProfessional(ctx context.Context, id uuid.UUID) (*Professional, error) {
	var p Professional
	err := s.q.QueryRow(ctx, `
		SELECT id, company_id, location_id, name, active
		FROM professionals
		WHERE id = $1
	`, id).Scan(&p.ID, &p.CompanyID, &p.LocationID, &p.Name, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfessionalNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *pgStore) GetService(ctx context.Context, id uuid.UUID) (*CatalogService, error) {
	var svc CatalogService
	err := s.q.QueryRow(ctx, `
		SELECT id, company_id, name, duration_minutes, active
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.CompanyID, &svc.Name, &svc.DurationMinutes, &svc.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &svc, nil
}

func (s *pgStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := s.q.QueryRow(ctx, `
		SELECT id, company_id, name, email
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.CompanyID, &p.Name, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *pgStore) GetBookingPolicy(ctx context.Context, companyID uuid.UUID) (*policy.BookingPolicy, error) {
	var p policy.BookingPolicy
	err := s.q.QueryRow(ctx, `
		SELECT minimum_booking_time_minutes, maximum_future_time_days, editable_bookings,
		       cancellable_bookings, minimum_edit_time_minutes, maximum_edits, time_zone
		FROM booking_policies
		WHERE company_id = $1
	`, companyID).Scan(
		&p.MinimumBookingTimeMinutes,
		&p.MaximumFutureTimeDays,
		&p.EditableBookings,
		&p.CancellableBookings,
		&p.MinimumEditTimeMinutes,
		&p.MaximumEdits,
		&p.TimeZone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *pgStore) ListWeeklyAvailability(ctx context.Context, owner availability.Owner) ([]availability.WeeklyAvailability, error) {
	column := "professional_id"
	if owner.Kind == availability.OwnerLocation {
		column = "location_id"
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, weekday, start_time, end_time
		FROM weekly_availability
		WHERE `+column+` = $1
		ORDER BY weekday, start_time
	`, owner.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.WeeklyAvailability
	for rows.Next() {
		var (
			w          availability.WeeklyAvailability
			weekday    int16
			start, end pgtype.Time
		)
		if err := rows.Scan(&w.ID, &weekday, &start, &end); err != nil {
			return nil, err
		}
		w.Owner = owner
		w.Weekday = calendar.Weekday(weekday)
		w.StartTime = timeOfDay(start)
		w.EndTime = timeOfDay(end)
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *pgStore) FindSpecialSchedule(ctx context.Context, professionalID uuid.UUID, date calendar.Date) (*availability.SpecialSchedule, error) {
	var (
		sp         availability.SpecialSchedule
		day        time.Time
		start, end pgtype.Time
		serviceIDs []string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, professional_id, date, start_time, end_time, service_ids::text[]
		FROM special_schedules
		WHERE professional_id = $1 AND date = $2::date
	`, professionalID, date.String()).Scan(&sp.ID, &sp.ProfessionalID, &day, &start, &end, &serviceIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, availability.ErrNoSpecialSchedule
		}
		return nil, err
	}

	sp.Date = calendar.DateOf(day)
	sp.StartTime = timeOfDay(start)
	sp.EndTime = timeOfDay(end)
	for _, raw := range serviceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("special schedule %s: service id %q: %w", sp.ID, raw, err)
		}
		sp.ServiceIDs = append(sp.ServiceIDs, id)
	}
	return &sp, nil
}

func (s *pgStore) FindActiveBlocks(ctx context.Context, professionalID uuid.UUID, date calendar.Date) ([]availability.ProfessionalBlock, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, professional_id, block_type, start_date, end_date, start_time, end_time,
		       weekdays_pattern, monthly_day_of_month, monthly_end_date, active, COALESCE(reason, '')
		FROM professional_blocks
		WHERE professional_id = $1
		  AND active
		  AND start_date <= $2::date
		  AND COALESCE(monthly_end_date, end_date, $2::date) >= $2::date
		ORDER BY start_date, id
	`, professionalID, date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.ProfessionalBlock
	for rows.Next() {
		var (
			b                   availability.ProfessionalBlock
			blockType           string
			startDate           time.Time
			endDate, monthlyEnd *time.Time
			startTime, endTime  pgtype.Time
			pattern             []int16
			dayOfMonth          *int16
		)
		err := rows.Scan(&b.ID, &b.ProfessionalID, &blockType, &startDate, &endDate, &startTime, &endTime,
			&pattern, &dayOfMonth, &monthlyEnd, &b.Active, &b.Reason)
		if err != nil {
			return nil, err
		}

		b.Type = availability.BlockType(blockType)
		b.StartDate = calendar.DateOf(startDate)
		b.EndDate = optionalDate(endDate)
		b.StartTime = optionalTimeOfDay(startTime)
		b.EndTime = optionalTimeOfDay(endTime)
		b.MonthlyEndDate = optionalDate(monthlyEnd)
		for _, wd := range pattern {
			b.WeekdaysPattern = append(b.WeekdaysPattern, int(wd))
		}
		if dayOfMonth != nil {
			d := int(*dayOfMonth)
			b.MonthlyDayOfMonth = &d
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *pgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *pgStore) FindOverlappingAppointments(ctx context.Context, professionalID uuid.UUID, window calendar.Interval, excludeID *uuid.UUID) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE professional_id = $1
		  AND status IN ('scheduled', 'confirmed')
		  AND scheduled_at < $3
		  AND ends_at > $2
		  AND ($4::uuid IS NULL OR id <> $4::uuid)
		ORDER BY scheduled_at
	`, professionalID, window.Start(), window.End(), excludeID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *pgStore) ListAuditEntries(ctx context.Context, entityType string, entityID uuid.UUID) ([]audit.Entry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, entity_type, entity_id, action, old_values, new_values, actor_id,
		       COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
		FROM audit_log_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, id
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []audit.Entry{}
	for rows.Next() {
		var (
			e              audit.Entry
			oldRaw, newRaw []byte
		)
		err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &oldRaw, &newRaw, &e.ActorID,
			&e.IPAddress, &e.UserAgent, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(oldRaw) > 0 {
			if err := json.Unmarshal(oldRaw, &e.OldValues); err != nil {
				return nil, fmt.Errorf("audit entry %s old values: %w", e.ID, err)
			}
		}
		if len(newRaw) > 0 {
			if err := json.Unmarshal(newRaw, &e.NewValues); err != nil {
				return nil, fmt.Errorf("audit entry %s new values: %w", e.ID, err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *pgStore) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO appointments (
			id, company_id, professional_id, service_id, patient_id, scheduled_at,
			duration_minutes, ends_at, status, source, modification_count,
			original_appointment_id, previous_appointment_id, status_reason, notes,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`,
		a.ID, a.CompanyID, a.ProfessionalID, a.ServiceID, a.PatientID, a.ScheduledAt,
		a.DurationMinutes, a.EndsAt(), a.Status, a.Source, a.ModificationCount,
		a.OriginalAppointmentID, a.PreviousAppointmentID, a.StatusReason, a.Notes,
		a.CreatedAt,
	)
	if err != nil {
		return mapPgError(fmt.Errorf("insert appointment: %w", err))
	}
	return nil
}

func (s *pgStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    status_reason = COALESCE($4, status_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from, reason)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, mapPgError(err)
	}
	return a, nil
}

func (s *pgStore) InsertAuditEntry(ctx context.Context, e audit.Entry) error {
	oldValues, err := jsonOrNull(e.OldValues)
	if err != nil {
		return fmt.Errorf("encode old values: %w", err)
	}
	newValues, err := jsonOrNull(e.NewValues)
	if err != nil {
		return fmt.Errorf("encode new values: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO audit_log_entries (
			id, entity_type, entity_id, action, old_values, new_values,
			actor_id, ip_address, user_agent, created_at
		)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, NULLIF($8, ''), NULLIF($9, ''), $10)
	`, e.ID, e.EntityType, e.EntityID, e.Action, oldValues, newValues,
		e.ActorID, e.IPAddress, e.UserAgent, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

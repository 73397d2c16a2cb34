package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/audit"
	"github.com/hackgods/booking-engine/internal/availability"
	"github.com/hackgods/booking-engine/internal/calendar"
	"github.com/hackgods/booking-engine/internal/lock"
	"github.com/hackgods/booking-engine/internal/metrics"
	"github.com/hackgods/booking-engine/internal/policy"
)

type stubService struct {
	day      *appointment.DayAvailability
	days     []appointment.DayAvailability
	appt     *appointment.Appointment
	entries  []audit.Entry
	err      error
	reserved appointment.ReserveRequest
	modified appointment.ModifyRequest
	actor    audit.Actor
	gotDays  int
	gotStep  int
	deadline bool
}

func (s *stubService) GetAvailability(ctx context.Context, professionalID, serviceID uuid.UUID, date calendar.Date, granularity int) (*appointment.DayAvailability, error) {
	s.gotStep = granularity
	return s.day, s.err
}

func (s *stubService) GetAvailabilityRange(ctx context.Context, professionalID, serviceID uuid.UUID, from calendar.Date, days, granularity int) ([]appointment.DayAvailability, error) {
	s.gotDays = days
	return s.days, s.err
}

func (s *stubService) Reserve(ctx context.Context, req appointment.ReserveRequest) (*appointment.Appointment, error) {
	s.reserved = req
	s.actor = audit.ActorFrom(ctx)
	return s.appt, s.err
}

func (s *stubService) Modify(ctx context.Context, id uuid.UUID, req appointment.ModifyRequest) (*appointment.Appointment, error) {
	s.modified = req
	return s.appt, s.err
}

func (s *stubService) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	_, s.deadline = ctx.Deadline()
	return s.appt, s.err
}

func (s *stubService) ListAudit(ctx context.Context, id uuid.UUID) ([]audit.Entry, error) {
	return s.entries, s.err
}

func newTestRouter(svc AppointmentService) http.Handler {
	return NewRouter(RouterConfig{Service: svc, Metrics: metrics.New()})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func sampleAppointment() *appointment.Appointment {
	svcID := uuid.New()
	return &appointment.Appointment{
		ID:              uuid.New(),
		CompanyID:       uuid.New(),
		ProfessionalID:  uuid.New(),
		ServiceID:       &svcID,
		ScheduledAt:     time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
		Status:          appointment.StatusScheduled,
		Source:          appointment.SourceAPI,
	}
}

func TestGetAvailability(t *testing.T) {
	slot := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	svc := &stubService{day: &appointment.DayAvailability{
		Date:     calendar.NewDate(2025, 3, 4),
		TimeZone: "UTC",
		Slots:    []availability.Slot{{Time: "09:00", DateTime: slot, Available: true}},
	}}
	router := newTestRouter(svc)

	path := fmt.Sprintf("/professionals/%s/availability?service_id=%s&date=2025-03-04&granularity=15", uuid.New(), uuid.New())
	rec := do(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DayAvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-03-04", resp.Date)
	require.Len(t, resp.Slots, 1)
	assert.Equal(t, "09:00", resp.Slots[0].Time)
	assert.True(t, resp.Slots[0].Available)
	assert.Equal(t, 15, svc.gotStep)
}

func TestGetAvailabilityBadInput(t *testing.T) {
	router := newTestRouter(&stubService{})

	cases := map[string]string{
		"bad professional": fmt.Sprintf("/professionals/nope/availability?service_id=%s&date=2025-03-04", uuid.New()),
		"bad service":      fmt.Sprintf("/professionals/%s/availability?service_id=x&date=2025-03-04", uuid.New()),
		"bad date":         fmt.Sprintf("/professionals/%s/availability?service_id=%s&date=04-03-2025", uuid.New(), uuid.New()),
		"bad granularity":  fmt.Sprintf("/professionals/%s/availability?service_id=%s&date=2025-03-04&granularity=-5", uuid.New(), uuid.New()),
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetAvailabilityRangeDefaultsToAWeek(t *testing.T) {
	svc := &stubService{days: []appointment.DayAvailability{{Date: calendar.NewDate(2025, 3, 8)}}}
	router := newTestRouter(svc)

	path := fmt.Sprintf("/professionals/%s/availability/days?service_id=%s&from=2025-03-08", uuid.New(), uuid.New())
	rec := do(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, svc.gotDays)

	var resp []DayAvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.NotNil(t, resp[0].Slots, "empty days serialize as []")
}

func TestReserveAppointment(t *testing.T) {
	appt := sampleAppointment()
	svc := &stubService{appt: appt}
	router := newTestRouter(svc)

	actor := uuid.New()
	body, err := json.Marshal(map[string]any{
		"professionalId": appt.ProfessionalID.String(),
		"serviceId":      appt.ServiceID.String(),
		"scheduledAt":    "2025-03-04T10:00:00Z",
		"source":         "user",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewReader(body))
	req.Header.Set("X-Actor-ID", actor.String())
	req.Header.Set("User-Agent", "booking-ui/1.0")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, appt.ID, resp.ID)
	assert.Equal(t, "scheduled", resp.Status)
	assert.True(t, appt.EndsAt().Equal(resp.EndsAt))

	assert.Equal(t, appt.ProfessionalID, svc.reserved.ProfessionalID)
	assert.Equal(t, appointment.SourceUser, svc.reserved.Source)
	assert.Nil(t, svc.reserved.PatientID)
	require.NotNil(t, svc.actor.ID)
	assert.Equal(t, actor, *svc.actor.ID)
	assert.Equal(t, "booking-ui/1.0", svc.actor.UserAgent)
}

func TestReserveAppointmentValidation(t *testing.T) {
	router := newTestRouter(&stubService{})

	cases := map[string]any{
		"missing professional": map[string]any{"serviceId": uuid.NewString(), "scheduledAt": "2025-03-04T10:00:00Z"},
		"bad patient":          map[string]any{"professionalId": uuid.NewString(), "serviceId": uuid.NewString(), "patientId": "x", "scheduledAt": "2025-03-04T10:00:00Z"},
		"missing start":        map[string]any{"professionalId": uuid.NewString(), "serviceId": uuid.NewString()},
		"unknown source":       map[string]any{"professionalId": uuid.NewString(), "serviceId": uuid.NewString(), "scheduledAt": "2025-03-04T10:00:00Z", "source": "fax"},
		"unknown field":        map[string]any{"professionalId": uuid.NewString(), "serviceId": uuid.NewString(), "scheduledAt": "2025-03-04T10:00:00Z", "slotId": "1"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/appointments", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestReserveAppointmentErrorMapping(t *testing.T) {
	violations := policy.AsError([]policy.Violation{
		{Code: policy.CodeTooSoon, Message: "too soon"},
		{Code: policy.CodeTooFar, Message: "too far"},
	})

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"policy", violations, http.StatusUnprocessableEntity, "policy_violation"},
		{"conflict", appointment.ErrSlotNoLongerAvailable, http.StatusConflict, "slot_no_longer_available"},
		{"lock timeout", fmt.Errorf("%w: %w", appointment.ErrSlotNoLongerAvailable, lock.ErrLockTimeout), http.StatusConflict, "slot_no_longer_available"},
		{"not found", fmt.Errorf("%w: gone", appointment.ErrProfessionalOrServiceNotFound), http.StatusNotFound, "professional_or_service_not_found"},
		{"patient", appointment.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{"audit", fmt.Errorf("%w: boom", audit.ErrAuditWriteFailed), http.StatusInternalServerError, "audit_write_failed"},
		{"unknown", errors.New("db exploded"), http.StatusInternalServerError, "internal_error"},
	}

	body := map[string]any{
		"professionalId": uuid.NewString(),
		"serviceId":      uuid.NewString(),
		"scheduledAt":    "2025-03-04T10:00:00Z",
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubService{err: tc.err})
			rec := do(t, router, http.MethodPost, "/appointments", body)
			assert.Equal(t, tc.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tc.code, resp.Error)
			if tc.name == "policy" {
				require.Len(t, resp.Violations, 2)
				assert.Equal(t, policy.CodeTooSoon, resp.Violations[0].Code)
				assert.Equal(t, policy.CodeTooFar, resp.Violations[1].Code)
			}
			if tc.name == "unknown" {
				assert.NotContains(t, resp.Details, "exploded")
			}
		})
	}
}

func TestModifyAppointment(t *testing.T) {
	appt := sampleAppointment()
	svc := &stubService{appt: appt}
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodPatch, "/appointments/"+appt.ID.String(), map[string]any{
		"newStatus": "cancelled",
		"reason":    "sick",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.modified.NewStatus)
	assert.Equal(t, appointment.StatusCancelled, *svc.modified.NewStatus)
	assert.Nil(t, svc.modified.NewStart)
	require.NotNil(t, svc.modified.Reason)
	assert.Equal(t, "sick", *svc.modified.Reason)

	rec = do(t, router, http.MethodPatch, "/appointments/"+appt.ID.String(), map[string]any{
		"newStart": "2025-03-05T11:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.modified.NewStart)
	assert.True(t, svc.modified.NewStart.Equal(time.Date(2025, 3, 5, 11, 0, 0, 0, time.UTC)))
}

func TestModifyAppointmentValidation(t *testing.T) {
	router := newTestRouter(&stubService{})
	id := uuid.NewString()

	rec := do(t, router, http.MethodPatch, "/appointments/"+id, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPatch, "/appointments/"+id, map[string]any{"newStatus": "rescheduled"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPatch, "/appointments/not-a-uuid", map[string]any{"newStatus": "confirmed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModifyAppointmentTransitionConflict(t *testing.T) {
	router := newTestRouter(&stubService{err: appointment.ErrInvalidStatusTransition})
	rec := do(t, router, http.MethodPatch, "/appointments/"+uuid.NewString(), map[string]any{"newStatus": "confirmed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)
}

func TestModifyAppointmentLockTimeout(t *testing.T) {
	router := newTestRouter(&stubService{err: fmt.Errorf("update status: %w", lock.ErrLockTimeout)})
	rec := do(t, router, http.MethodPatch, "/appointments/"+uuid.NewString(), map[string]any{"newStatus": "cancelled"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "lock_timeout", decodeError(t, rec).Error)
}

func TestGetAppointmentAndAudit(t *testing.T) {
	appt := sampleAppointment()
	entries := []audit.Entry{{ID: uuid.New(), EntityType: "appointment", EntityID: appt.ID, Action: audit.ActionCreate}}
	router := newTestRouter(&stubService{appt: appt, entries: entries})

	rec := do(t, router, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/appointments/"+appt.ID.String()+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []audit.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, audit.ActionCreate, got[0].Action)

	missing := newTestRouter(&stubService{err: appointment.ErrAppointmentNotFound})
	rec = do(t, missing, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitOnMutatingRoutes(t *testing.T) {
	router := NewRouter(RouterConfig{
		Service:        &stubService{err: appointment.ErrSlotNoLongerAvailable},
		RateLimitRPS:   0.001,
		RateLimitBurst: 1,
	})
	body := map[string]any{"professionalId": uuid.NewString(), "serviceId": uuid.NewString(), "scheduledAt": "2025-03-04T10:00:00Z"}

	first := do(t, router, http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusConflict, first.Code)

	second := do(t, router, http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// reads are not limited
	read := do(t, router, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusConflict, read.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	router := newTestRouter(&stubService{appt: sampleAppointment()})

	req := httptest.NewRequest(http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = do(t, router, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&stubService{appt: sampleAppointment()})
	do(t, router, http.MethodGet, "/appointments/"+uuid.NewString(), nil)

	rec := do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/appointments/{id}"`)
}

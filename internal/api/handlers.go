package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/audit"
	"github.com/hackgods/booking-engine/internal/calendar"
	"github.com/hackgods/booking-engine/internal/lock"
	"github.com/hackgods/booking-engine/internal/policy"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc      AppointmentService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(svc AppointmentService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, validate: validator.New(), logger: logger}
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := uuidParam(w, r, "id", "invalid_professional_id")
	if !ok {
		return
	}
	serviceID, ok := uuidQuery(w, r, "service_id")
	if !ok {
		return
	}
	date, err := calendar.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	granularity, ok := intQuery(w, r, "granularity", 0)
	if !ok {
		return
	}

	day, err := h.svc.GetAvailability(r.Context(), professionalID, serviceID, date, granularity)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newDayAvailabilityResponse(*day))
}

func (h *Handler) GetAvailabilityRange(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := uuidParam(w, r, "id", "invalid_professional_id")
	if !ok {
		return
	}
	serviceID, ok := uuidQuery(w, r, "service_id")
	if !ok {
		return
	}
	from, err := calendar.ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD")
		return
	}
	days, ok := intQuery(w, r, "days", 7)
	if !ok {
		return
	}
	granularity, ok := intQuery(w, r, "granularity", 0)
	if !ok {
		return
	}

	result, err := h.svc.GetAvailabilityRange(r.Context(), professionalID, serviceID, from, days, granularity)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := make([]DayAvailabilityResponse, 0, len(result))
	for _, d := range result {
		resp = append(resp, newDayAvailabilityResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ReserveAppointment(w http.ResponseWriter, r *http.Request) {
	var req ReserveAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := appointment.ReserveRequest{
		ProfessionalID: uuid.MustParse(req.ProfessionalID),
		ServiceID:      uuid.MustParse(req.ServiceID),
		ScheduledAt:    *req.ScheduledAt,
		Source:         appointment.Source(req.Source),
		Notes:          req.Notes,
	}
	if req.PatientID != nil {
		id := uuid.MustParse(*req.PatientID)
		in.PatientID = &id
	}

	appt, err := h.svc.Reserve(r.Context(), in)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
}

func (h *Handler) ModifyAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req ModifyAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := appointment.ModifyRequest{NewStart: req.NewStart, Reason: req.Reason}
	if req.NewStatus != nil {
		status := appointment.AppointmentStatus(*req.NewStatus)
		in.NewStatus = &status
	}

	appt, err := h.svc.Modify(r.Context(), id, in)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	entries, err := h.svc.ListAudit(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *policy.ViolationError
	switch {
	case errors.As(err, &violation):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      "policy_violation",
			Details:    violation.Error(),
			Violations: violation.Violations,
		})
	case errors.Is(err, appointment.ErrSlotNoLongerAvailable):
		writeError(w, http.StatusConflict, "slot_no_longer_available", "the requested time is no longer available, refresh availability and retry")
	case errors.Is(err, lock.ErrLockTimeout):
		writeError(w, http.StatusConflict, "lock_timeout", "the professional is busy with another change, retry shortly")
	case errors.Is(err, appointment.ErrProfessionalOrServiceNotFound):
		writeError(w, http.StatusNotFound, "professional_or_service_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, audit.ErrAuditWriteFailed):
		h.logger.Error("audit write failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit_write_failed", "the change was rolled back")
	default:
		h.logger.Error("request failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func uuidQuery(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

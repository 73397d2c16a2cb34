package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/audit"
	"github.com/hackgods/booking-engine/internal/calendar"
	"github.com/hackgods/booking-engine/internal/metrics"
)

type AppointmentService interface {
	GetAvailability(ctx context.Context, professionalID, serviceID uuid.UUID, date calendar.Date, granularity int) (*appointment.DayAvailability, error)
	GetAvailabilityRange(ctx context.Context, professionalID, serviceID uuid.UUID, from calendar.Date, days, granularity int) ([]appointment.DayAvailability, error)
	Reserve(ctx context.Context, req appointment.ReserveRequest) (*appointment.Appointment, error)
	Modify(ctx context.Context, id uuid.UUID, req appointment.ModifyRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAudit(ctx context.Context, id uuid.UUID) ([]audit.Entry, error)
}

var _ AppointmentService = (*appointment.Service)(nil)

// RouterConfig wires the HTTP surface. TrustProxy rewrites RemoteAddr from
// forwarded headers; enable it only when every request arrives through a
// proxy that sets them.
type RouterConfig struct {
	Service        AppointmentService
	Health         *HealthHandler
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
	TrustProxy     bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	h := NewHandler(cfg.Service, logger)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)
		if cfg.RequestTimeout > 0 {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
		}

		r.Get("/professionals/{id}/availability", h.GetAvailability)
		r.Get("/professionals/{id}/availability/days", h.GetAvailabilityRange)
		r.Get("/appointments/{id}", h.GetAppointment)
		r.Get("/appointments/{id}/audit", h.ListAudit)

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, logger))
			r.Post("/appointments", h.ReserveAppointment)
			r.Patch("/appointments/{id}", h.ModifyAppointment)
		})
	})

	return r
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

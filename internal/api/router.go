package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service     *appointment.Service
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Logger      *zap.Logger
	Metrics     *metrics.Collector
	RateLimiter *RateLimiter // nil disables rate limiting
	StoreDriver string
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	// innermost, so a recovered panic is still logged and counted as a 500
	r.Use(middleware.Recoverer)

	// Health and metrics stay outside the rate limiter
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.StoreDriver, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	h := NewHandler(cfg.Service, log, cfg.Metrics)

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(RateLimitMiddleware(cfg.RateLimiter, cfg.Metrics))
		}

		r.Route("/patients", func(r chi.Router) {
			r.Post("/", h.CreatePatient)
			r.Get("/", h.ListPatients)
			r.Get("/{id}", h.GetPatient)
			r.Delete("/{id}", h.DeletePatient)
		})

		r.Route("/doctors", func(r chi.Router) {
			r.Post("/", h.CreateDoctor)
			r.Get("/", h.ListDoctors)
			r.Get("/{id}", h.GetDoctor)
			r.Patch("/{id}/status", h.UpdateDoctorStatus)
			r.Delete("/{id}", h.DeleteDoctor)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.CreateAppointment)
			r.Get("/", h.ListAppointments)
			r.Get("/{id}", h.GetAppointment)
			r.Delete("/{id}", h.DeleteAppointment)
		})
	})

	return r
}

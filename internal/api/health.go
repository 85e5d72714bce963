package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports process and dependency health. A nil pool or client
// means the dependency is not configured and is reported as "disabled".
type HealthHandler struct {
	pgPool  *pgxpool.Pool
	redis   *redis.Client
	store   string
	env     string
	version string
}

func NewHealthHandler(pgPool *pgxpool.Pool, redis *redis.Client, store, env, version string) *HealthHandler {
	return &HealthHandler{
		pgPool:  pgPool,
		redis:   redis,
		store:   store,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Store        string            `json:"store"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness fails when the appointment store is unreachable. A down Redis
// only degrades the service: bookings still serialise on the doctor row.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	switch {
	case h.pgPool == nil:
		deps["postgres"] = "disabled"
	case ping(ctx, h.pgPool.Ping) != nil:
		deps["postgres"] = "down"
		status = "error"
	default:
		deps["postgres"] = "ok"
	}

	switch {
	case h.redis == nil:
		deps["redis"] = "disabled"
	case ping(ctx, func(ctx context.Context) error { return h.redis.Ping(ctx).Err() }) != nil:
		deps["redis"] = "down"
		if status == "ok" {
			status = "degraded"
		}
	default:
		deps["redis"] = "ok"
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Store:        h.store,
		Dependencies: deps,
	})
}

func ping(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return fn(ctx)
}

package handlers

import (
	"context"
	"net/http"

	"github.com/iotgrid/user-service/internal/api/dto"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler reports liveness and readiness. Both endpoints run the same
// dependency probes; readiness additionally gates traffic, so the platform
// stops routing to an instance that lost its database or queue backend.
type HealthHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewHealthHandler(db *gorm.DB, redis *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// probe pings each dependency and reports per-service state. Redis is
// optional (mirror retries degrade without it), so a nil client is skipped
// rather than reported down.
func (h *HealthHandler) probe(ctx context.Context) (map[string]string, bool) {
	services := make(map[string]string)
	healthy := true

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		services["database"] = "unhealthy"
		healthy = false
	} else {
		services["database"] = "healthy"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			services["redis"] = "unhealthy"
			healthy = false
		} else {
			services["redis"] = "healthy"
		}
	}

	return services, healthy
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	services, healthy := h.probe(r.Context())

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, HealthResponse{Status: status, Services: services})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, healthy := h.probe(r.Context()); !healthy {
		writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Not ready"})
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

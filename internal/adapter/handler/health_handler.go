package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"quotehub/internal/domain/port"
)

type HealthHandler struct {
	storage port.StoragePort
	tiers   []port.CacheTier
	logger  *slog.Logger
}

func NewHealthHandler(storage port.StoragePort, tiers []port.CacheTier, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		tiers:   tiers,
		logger:  logger,
	}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	overallStatus := "healthy"
	checks := make(map[string]string, len(h.tiers)+1)

	checks["database"] = "healthy"
	if err := h.storage.Ping(ctx); err != nil {
		checks["database"] = "unhealthy"
		overallStatus = "degraded"
		h.logger.Warn("database health check failed", "error", err)
	}

	for _, tier := range h.tiers {
		name := "cache_" + string(tier.Tier())
		checks[name] = "healthy"
		if err := tier.Ping(ctx); err != nil {
			checks[name] = "unhealthy"
			overallStatus = "degraded"
			h.logger.Warn("cache health check failed", "tier", tier.Tier(), "error", err)
		}
	}

	statusCode := http.StatusOK
	if overallStatus == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"status": overallStatus,
		"checks": checks,
	})
}

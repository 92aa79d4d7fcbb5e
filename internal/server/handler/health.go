package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// HealthCheckFunc probes one dependency.
type HealthCheckFunc func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks   map[string]HealthCheckFunc
	sequence func() uint64
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler. sequence reports the ledger's
// last committed event number; checks probe optional backends.
func NewHealthHandler(sequence func() uint64, checks map[string]HealthCheckFunc, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:   checks,
		sequence: sequence,
		logger:   logHandler(logger, "health"),
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Sequence  uint64            `json:"sequence"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck responds 200 when every backend answers and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.sequence != nil {
		resp.Sequence = h.sequence()
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	for _, name := range names {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

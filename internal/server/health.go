package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Checker verifies that an infrastructure dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// HealthResponse maps each dependency to its check result.
type HealthResponse map[string]HealthResult

type HealthResult struct {
	Status string `json:"status"`
}

func handleHealth(logger *slog.Logger, checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		results := make(HealthResponse, len(checks))
		status := http.StatusOK

		for name, c := range checks {
			if err := c.Check(ctx); err != nil {
				logger.Error("health check failed", "name", name, "error", err)
				results[name] = HealthResult{Status: "error"}
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = HealthResult{Status: "ok"}
		}

		writeJSON(w, status, results)
	}
}

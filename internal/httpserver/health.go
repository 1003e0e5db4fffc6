package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// ReadyzCheck reports whether one dependency (database, cache, queue) is
// reachable.
type ReadyzCheck func(ctx context.Context) error

type probeStatus struct {
	Status string `json:"status"`
	Failed int    `json:"failedChecks,omitempty"`
}

func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, probeStatus{Status: "ok"})
	}
}

// Readyz runs every check under a shared deadline. All checks run even after
// a failure so the log shows each broken dependency.
func Readyz(timeout time.Duration, checks ...ReadyzCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		failed := 0
		for i, check := range checks {
			if err := check(ctx); err != nil {
				failed++
				slog.WarnContext(ctx, "readiness check failed", "check", i, "err", err)
			}
		}
		if failed > 0 {
			writeJSON(w, http.StatusServiceUnavailable, probeStatus{Status: "not ready", Failed: failed})
			return
		}
		writeJSON(w, http.StatusOK, probeStatus{Status: "ready"})
	}
}

package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/observability"
	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests no route matched, keeping raw paths with
// ids out of the metric labels.
const unmatchedRoute = "unmatched"

// MetricsMiddleware observes request latency per route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &accessRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.ObserveHTTP(r.Method, routePattern(r), rec.status, time.Since(started))
	})
}

// routePattern returns the matched chi pattern, e.g. /escrow/{id}/approve.
func routePattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil || rc.RoutePattern() == "" {
		return unmatchedRoute
	}
	return rc.RoutePattern()
}

package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/api/problem"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits unauthenticated callers per IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "IP", httprate.KeyByIP)
}

// WebhookRateLimiter limits provider callbacks per provider and source IP, so
// a noisy provider cannot starve another one sharing an egress address.
func WebhookRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "provider", func(r *http.Request) (string, error) {
		ip, err := httprate.KeyByIP(r)
		if err != nil {
			return "", err
		}
		return strings.ToLower(chi.URLParam(r, "provider")) + "|" + ip, nil
	})
}

// AuthRateLimiter limits authenticated callers by user id, falling back to IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "user", func(r *http.Request) (string, error) {
		if userID := UserIDFromContext(r.Context()); userID != "" {
			return "user|" + userID, nil
		}
		return httprate.KeyByIP(r)
	})
}

func limiter(rps int, scope string, key httprate.KeyFunc) func(http.Handler) http.Handler {
	detail := fmt.Sprintf("rate limit of %d requests per second exceeded for this %s", rps, scope)
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests), detail)
		}),
	)
}

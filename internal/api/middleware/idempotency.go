package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/escrow-settlement/internal/api/problem"
	"github.com/ayo6706/escrow-settlement/internal/idempotency"
	"github.com/ayo6706/escrow-settlement/internal/observability"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader    = "Idempotency-Key"
	IdempotentReplayHeader  = "X-Idempotent-Replay"
	maxIdempotencyKeyLength = 255
	maxIdempotentBodyBytes  = 1 << 20
)

// IdempotencyMiddleware requires an Idempotency-Key on mutating requests and
// replays the stored response when the same caller repeats the same request.
// Keys are scoped per user.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	g := &idempotencyGuard{store: store, logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

type idempotencyGuard struct {
	store  *idempotency.Store
	logger *zap.Logger
}

func (g *idempotencyGuard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	switch {
	case key == "":
		g.reject(w, r, http.StatusBadRequest, "missing-key", "Idempotency-Key header is required")
		return
	case len(key) > maxIdempotencyKeyLength:
		g.reject(w, r, http.StatusBadRequest, "invalid-key", "Idempotency-Key is too long")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBodyBytes))
	if err != nil {
		problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.Type("request/invalid-body"), "", "request body is unreadable or too large")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	req := idempotency.Request{
		Key:    UserIDFromContext(r.Context()) + ":" + key,
		Hash:   requestHash(r.Method, r.URL.Path, body),
		Method: r.Method,
		Path:   r.URL.Path,
	}
	stored, err := g.store.Begin(r.Context(), req)
	switch {
	case errors.Is(err, idempotency.ErrHashMismatch):
		g.reject(w, r, http.StatusConflict, "key-conflict", "Idempotency-Key was already used for a different request")
		return
	case errors.Is(err, idempotency.ErrInProgress):
		g.reject(w, r, http.StatusConflict, "in-progress", "a request with this Idempotency-Key is still being processed")
		return
	case err != nil:
		observability.IncrementIdempotencyEvent("store_error")
		g.logger.Error("idempotency begin failed", zap.Error(err), zap.String("request_id", TraceIDFromContext(r.Context())))
		problem.Write(w, r, http.StatusServiceUnavailable, problem.Type("idempotency/unavailable"), "", "idempotency store unavailable")
		return
	case stored != nil:
		observability.IncrementIdempotencyEvent("replay_" + string(stored.Source))
		replay(w, stored)
		return
	}

	rec := &responseCapture{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rec, r)

	// the client may have gone away; the outcome is still recorded
	ctx := context.WithoutCancel(r.Context())
	outcome := "stored"
	if rec.status >= http.StatusInternalServerError {
		outcome = "released"
	}
	if err := g.store.Complete(ctx, req, idempotency.Response{
		Status:      rec.status,
		Body:        rec.body.Bytes(),
		ContentType: contentTypeOr(rec.Header().Get("Content-Type"), "application/json"),
		Hash:        req.Hash,
	}); err != nil {
		outcome = "complete_error"
		g.logger.Warn("idempotency complete failed", zap.Error(err), zap.String("key", req.Key))
	}
	observability.IncrementIdempotencyEvent(outcome)
}

func (g *idempotencyGuard) reject(w http.ResponseWriter, r *http.Request, status int, slug, detail string) {
	observability.IncrementIdempotencyEvent(strings.ReplaceAll(slug, "-", "_"))
	problem.Write(w, r, status, problem.Type("idempotency/"+slug), "", detail)
}

func replay(w http.ResponseWriter, resp *idempotency.Response) {
	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set(IdempotentReplayHeader, string(resp.Source))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func contentTypeOr(ct, fallback string) string {
	if ct == "" {
		return fallback
	}
	return ct
}

// responseCapture tees the handler's response so it can be stored.
type responseCapture struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/api/middleware"
	"github.com/ayo6706/escrow-settlement/internal/session"
	"go.uber.org/zap"
)

// AuthHandler manages the lifecycle of an already issued session. Login
// itself belongs to the identity service that mints the first token.
type AuthHandler struct {
	sessions *session.Manager
	tokenTTL time.Duration
}

func NewAuthHandler(sessions *session.Manager, tokenTTL time.Duration) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}
	return &AuthHandler{sessions: sessions, tokenTTL: tokenTTL}
}

type tokenResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Refresh handles POST /auth/refresh: a fresh token for the same session.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserIDFromContext(ctx)
	sessionID := middleware.SessionIDFromContext(ctx)
	if userID == "" || sessionID == "" {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	token, expiresAt, err := middleware.IssueToken(userID, middleware.UserRoleFromContext(ctx), middleware.UserEmailFromContext(ctx), sessionID, h.tokenTTL)
	if err != nil {
		zap.L().Error("refresh token failed", zap.Error(err), zap.String("session_id", sessionID))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-issue-failed", "Failed to sign token")
		return
	}
	RespondJSON(w, http.StatusOK, tokenResponse{Token: token, SessionID: sessionID, ExpiresAt: expiresAt})
}

// Logout handles POST /auth/logout. Every token of the session stops working.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.SessionIDFromContext(ctx)
	if sessionID == "" || h.sessions == nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	// Refreshed tokens can outlive the presented one by at most one TTL.
	until := middleware.TokenExpiryFromContext(ctx).Add(h.tokenTTL)
	if err := h.sessions.Revoke(ctx, sessionID, until); err != nil {
		if errors.Is(err, ctx.Err()) {
			return
		}
		zap.L().Error("logout failed", zap.Error(err), zap.String("session_id", sessionID))
		RespondError(w, r, http.StatusServiceUnavailable, "auth/session-unavailable", "session store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/escrow-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBytes = 256 << 10

// WebhookHandler handles incoming webhook events from payment providers.
type WebhookHandler struct {
	ingestor *service.WebhookIngestor
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(ingestor *service.WebhookIngestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// Handle handles POST /webhooks/{provider}. Duplicates and deferred events
// are acknowledged with 200 so the provider stops redelivering.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err), zap.String("provider", provider))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	result, err := h.ingestor.Handle(r.Context(), provider, body, r.Header)
	if err != nil {
		writeServiceError(w, r, "process webhook", err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

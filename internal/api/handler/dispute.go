package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/escrow-settlement/internal/service"
)

// DisputeHandler serves admin arbitration.
type DisputeHandler struct {
	disputes *service.DisputeService
}

func NewDisputeHandler(disputes *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// List handles GET /admin/disputes?status=open|resolved.
func (h *DisputeHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeServiceError(w, r, "list disputes", err)
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	disputes, err := h.disputes.List(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, r, "list disputes", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  disputes,
		"limit":  limit,
		"offset": offset,
		"count":  len(disputes),
	})
}

type resolveDisputeRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=release refund"`
	Note       string `json:"note" validate:"max=2000"`
}

// Resolve handles POST /admin/disputes/{id}/resolve.
func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := actor(w, r)
	if !ok {
		return
	}
	disputeID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req resolveDisputeRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	dispute, err := h.disputes.Resolve(r.Context(), service.ResolveDisputeRequest{
		DisputeID:  disputeID,
		Resolution: req.Resolution,
		Note:       req.Note,
		AdminID:    adminID,
	})
	if err != nil {
		writeServiceError(w, r, "resolve dispute", err)
		return
	}
	RespondJSON(w, http.StatusOK, dispute)
}

package handler

import (
	"net/http"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/api/middleware"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/service"
)

// ProjectHandler exposes the milestone escrow workflow.
type ProjectHandler struct {
	projects *service.ProjectWorkflowService
	currency string
}

func NewProjectHandler(projects *service.ProjectWorkflowService, currency string) *ProjectHandler {
	return &ProjectHandler{projects: projects, currency: currency}
}

type createProjectRequest struct {
	FreelancerID string `json:"freelancer_id" validate:"required,uuid"`
	Title        string `json:"title" validate:"max=200"`
	AgreedPrice  string `json:"agreed_price" validate:"required"`
}

// Create handles POST /projects. The caller becomes the project owner.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := actor(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	freelancerID, err := parseUUIDField("freelancer_id", req.FreelancerID)
	if err != nil {
		writeServiceError(w, r, "create project", err)
		return
	}
	price, err := domain.ParseAmount("agreed_price", req.AgreedPrice)
	if err != nil {
		writeServiceError(w, r, "create project", err)
		return
	}

	project, err := h.projects.Create(r.Context(), service.CreateProjectRequest{
		OwnerID:      ownerID,
		FreelancerID: freelancerID,
		Title:        req.Title,
		AgreedPrice:  price,
		Currency:     h.currency,
	})
	if err != nil {
		writeServiceError(w, r, "create project", err)
		return
	}
	RespondJSON(w, http.StatusCreated, project)
}

// Get handles GET /projects/{id}.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	project, err := h.projects.Get(r.Context(), projectID, actorID, isAdmin)
	if err != nil {
		writeServiceError(w, r, "get project", err)
		return
	}
	RespondJSON(w, http.StatusOK, project)
}

type placeProjectEscrowRequest struct {
	ProjectID    string `json:"project_id" validate:"required,uuid"`
	Amount       string `json:"amount" validate:"required"`
	FreelancerID string `json:"freelancer_id" validate:"required,uuid"`
}

type checkoutResponse struct {
	CheckoutURL string    `json:"checkout_url"`
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PlaceEscrow handles POST /projects/escrow/place. The amount is the agreed
// price; the platform fee is added on top in the checkout session.
func (h *ProjectHandler) PlaceEscrow(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	var req placeProjectEscrowRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	projectID, err := parseUUIDField("project_id", req.ProjectID)
	if err != nil {
		writeServiceError(w, r, "place project escrow", err)
		return
	}
	freelancerID, err := parseUUIDField("freelancer_id", req.FreelancerID)
	if err != nil {
		writeServiceError(w, r, "place project escrow", err)
		return
	}
	amount, err := domain.ParseAmount("amount", req.Amount)
	if err != nil {
		writeServiceError(w, r, "place project escrow", err)
		return
	}

	session, err := h.projects.PlaceEscrow(r.Context(), service.PlaceProjectEscrowRequest{
		ProjectID:    projectID,
		ActorID:      actorID,
		FreelancerID: freelancerID,
		Amount:       amount,
		Email:        middleware.UserEmailFromContext(r.Context()),
	})
	if err != nil {
		writeServiceError(w, r, "place project escrow", err)
		return
	}
	RespondJSON(w, http.StatusCreated, checkoutResponse{
		CheckoutURL: session.CheckoutURL,
		SessionID:   session.ID.String(),
		Status:      session.Status,
		ExpiresAt:   session.ExpiresAt,
	})
}

type submitWorkRequest struct {
	Deliverables string `json:"deliverables" validate:"required,max=10000"`
}

// SubmitWork handles POST /projects/{id}/submit-work.
func (h *ProjectHandler) SubmitWork(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req submitWorkRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	project, err := h.projects.SubmitWork(r.Context(), projectID, actorID, req.Deliverables)
	if err != nil {
		writeServiceError(w, r, "submit work", err)
		return
	}
	RespondJSON(w, http.StatusOK, project)
}

// ApproveWork handles POST /projects/{id}/approve-work.
func (h *ProjectHandler) ApproveWork(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	project, err := h.projects.ApproveWork(r.Context(), projectID, actorID)
	if err != nil {
		writeServiceError(w, r, "approve work", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": project.WorkflowStatus})
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// Dispute handles POST /projects/{id}/dispute.
func (h *ProjectHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req disputeRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	dispute, err := h.projects.Dispute(r.Context(), projectID, actorID, req.Reason)
	if err != nil {
		writeServiceError(w, r, "open project dispute", err)
		return
	}
	RespondJSON(w, http.StatusCreated, dispute)
}

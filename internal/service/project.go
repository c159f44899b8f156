package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/notify"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultApprovalWindow is how long an owner has to review submitted work.
const DefaultApprovalWindow = 14 * 24 * time.Hour

// ProjectWorkflowService drives a project from price agreement to payment.
type ProjectWorkflowService struct {
	store          QueryStore
	funding        *FundingService
	ledger         *EscrowLedger
	disputes       *DisputeService
	audit          *AuditService
	notifier       notify.Notifier
	clock          Clock
	approvalWindow time.Duration
}

func NewProjectWorkflowService(store QueryStore, funding *FundingService, disputes *DisputeService, notifier notify.Notifier, approvalWindow time.Duration, clock Clock) *ProjectWorkflowService {
	if approvalWindow <= 0 {
		approvalWindow = DefaultApprovalWindow
	}
	return &ProjectWorkflowService{
		store:          store,
		funding:        funding,
		ledger:         funding.ledger,
		disputes:       disputes,
		audit:          funding.audit,
		notifier:       notifier,
		clock:          clock,
		approvalWindow: approvalWindow,
	}
}

// CreateProjectRequest records a price agreed between an owner and a freelancer.
type CreateProjectRequest struct {
	OwnerID      uuid.UUID
	FreelancerID uuid.UUID
	Title        string
	AgreedPrice  int64
	Currency     string
}

func (s *ProjectWorkflowService) Create(ctx context.Context, req CreateProjectRequest) (models.Project, error) {
	if req.AgreedPrice <= 0 {
		return models.Project{}, domain.NewValidationError("agreed_price", domain.ReasonNotPositive, "agreed price must be positive")
	}
	if req.FreelancerID == uuid.Nil {
		return models.Project{}, domain.NewValidationError("freelancer_id", domain.ReasonEmpty, "freelancer is required")
	}
	if req.FreelancerID == req.OwnerID {
		return models.Project{}, domain.NewValidationError("freelancer_id", domain.ReasonMismatch, "owner cannot hire themselves")
	}

	var project models.Project
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		project, err = qtx.CreateProject(ctx, models.Project{
			ID:             uuid.New(),
			OwnerID:        req.OwnerID,
			FreelancerID:   req.FreelancerID,
			Title:          strings.TrimSpace(req.Title),
			AgreedPrice:    req.AgreedPrice,
			Currency:       req.Currency,
			WorkflowStatus: domain.ProjectStatusPriceAgreed,
		})
		if err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		return s.audit.Write(ctx, qtx, "project", project.ID, &req.OwnerID, "price_agreed", "", project.WorkflowStatus, nil)
	})
	if err != nil {
		return models.Project{}, err
	}
	return project, nil
}

// Get returns a project visible to actorID.
func (s *ProjectWorkflowService) Get(ctx context.Context, projectID, actorID uuid.UUID, isAdmin bool) (models.Project, error) {
	project, err := s.store.Queries().GetProject(ctx, projectID)
	if err != nil {
		return models.Project{}, notFound(err, "project")
	}
	if !isAdmin && actorID != project.OwnerID && actorID != project.FreelancerID {
		return models.Project{}, domain.ErrForbidden
	}
	return project, nil
}

// PlaceProjectEscrowRequest asks to fund a project's agreed price.
type PlaceProjectEscrowRequest struct {
	ProjectID    uuid.UUID
	ActorID      uuid.UUID
	FreelancerID uuid.UUID
	Amount       int64
	Email        string
}

// PlaceEscrow opens (or reuses) a checkout session for the project's agreed
// price plus the platform fee. The project stays price_agreed until the
// provider confirms payment.
func (s *ProjectWorkflowService) PlaceEscrow(ctx context.Context, req PlaceProjectEscrowRequest) (models.PaymentSession, error) {
	project, err := s.store.Queries().GetProject(ctx, req.ProjectID)
	if err != nil {
		return models.PaymentSession{}, notFound(err, "project")
	}
	if req.ActorID != project.OwnerID {
		return models.PaymentSession{}, domain.ErrForbidden
	}
	if err := projectTransitions.check("project", project.WorkflowStatus, domain.ProjectStatusEscrowFunded); err != nil {
		return models.PaymentSession{}, err
	}
	if req.Amount != project.AgreedPrice {
		return models.PaymentSession{}, domain.NewValidationError("amount", domain.ReasonMismatch, "amount must equal the agreed price")
	}
	if req.FreelancerID != uuid.Nil && req.FreelancerID != project.FreelancerID {
		return models.PaymentSession{}, domain.NewValidationError("freelancer_id", domain.ReasonMismatch, "freelancer does not match the project")
	}

	return s.funding.OpenSession(ctx, SessionRequest{
		Kind:      domain.EscrowKindProject,
		SubjectID: project.ID,
		PayerID:   project.OwnerID,
		PayeeID:   project.FreelancerID,
		Base:      project.AgreedPrice,
		Currency:  project.Currency,
		Email:     req.Email,
	})
}

// markProjectFunded advances a project once its escrow record is held.
func markProjectFunded(ctx context.Context, qtx repository.Querier, audit *AuditService, projectID, recordID uuid.UUID) error {
	project, err := qtx.GetProjectForUpdate(ctx, projectID)
	if err != nil {
		return notFound(err, "project")
	}
	if err := projectTransitions.check("project", project.WorkflowStatus, domain.ProjectStatusEscrowFunded); err != nil {
		return err
	}
	rows, err := qtx.UpdateProjectWorkflow(ctx, repository.UpdateProjectWorkflowParams{
		ID:             project.ID,
		WorkflowStatus: domain.ProjectStatusEscrowFunded,
		EscrowRecordID: &recordID,
	})
	if err != nil {
		return fmt.Errorf("mark project funded: %w", err)
	}
	if err := requireExactlyOne(rows, "mark project funded"); err != nil {
		return err
	}
	return audit.Write(ctx, qtx, "project", project.ID, nil, "escrow_funded", project.WorkflowStatus, domain.ProjectStatusEscrowFunded, nil)
}

// SubmitWork records the freelancer's deliverables and starts the approval window.
func (s *ProjectWorkflowService) SubmitWork(ctx context.Context, projectID, actorID uuid.UUID, deliverables string) (models.Project, error) {
	deliverables = strings.TrimSpace(deliverables)
	if deliverables == "" {
		return models.Project{}, domain.NewValidationError("deliverables", domain.ReasonEmpty, "deliverables are required")
	}

	var project models.Project
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		project, err = qtx.GetProjectForUpdate(ctx, projectID)
		if err != nil {
			return notFound(err, "project")
		}
		if actorID != project.FreelancerID {
			return domain.ErrForbidden
		}
		if err := projectTransitions.check("project", project.WorkflowStatus, domain.ProjectStatusPendingApproval); err != nil {
			return err
		}

		due := s.clock.now().Add(s.approvalWindow)
		rows, err := qtx.UpdateProjectWorkflow(ctx, repository.UpdateProjectWorkflowParams{
			ID:             project.ID,
			WorkflowStatus: domain.ProjectStatusPendingApproval,
			Deliverables:   &deliverables,
			ApprovalDueAt:  &due,
		})
		if err != nil {
			return fmt.Errorf("submit work: %w", err)
		}
		if err := requireExactlyOne(rows, "submit work"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, "project", project.ID, &actorID, "work_submitted", project.WorkflowStatus, domain.ProjectStatusPendingApproval, nil); err != nil {
			return err
		}
		project.WorkflowStatus = domain.ProjectStatusPendingApproval
		project.Deliverables = deliverables
		project.ApprovalDueAt = &due
		return nil
	})
	if err != nil {
		return models.Project{}, err
	}

	notify.Send(ctx, s.notifier, notify.Notification{
		Type:      notify.TypeWorkSubmitted,
		UserID:    project.OwnerID,
		SubjectID: project.ID,
		Data:      map[string]any{"approval_due_at": project.ApprovalDueAt},
	})
	return project, nil
}

// ApproveWork releases escrow to the freelancer. The project passes through
// completed to paid in the same transaction as the ledger release.
func (s *ProjectWorkflowService) ApproveWork(ctx context.Context, projectID, actorID uuid.UUID) (models.Project, error) {
	return s.approve(ctx, projectID, &actorID, "work_approved")
}

func (s *ProjectWorkflowService) approve(ctx context.Context, projectID uuid.UUID, actorID *uuid.UUID, action string) (models.Project, error) {
	var (
		project models.Project
		credit  models.WalletCredit
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		project, err = qtx.GetProjectForUpdate(ctx, projectID)
		if err != nil {
			return notFound(err, "project")
		}
		if actorID != nil && *actorID != project.OwnerID {
			return domain.ErrForbidden
		}
		if err := projectTransitions.check("project", project.WorkflowStatus, domain.ProjectStatusCompleted); err != nil {
			return err
		}
		if project.EscrowRecordID == nil {
			return fmt.Errorf("%w: project has no escrow record", domain.ErrInvalidState)
		}

		if err := s.setProjectStatus(ctx, qtx, project, domain.ProjectStatusCompleted, actorID, action); err != nil {
			return err
		}
		project.WorkflowStatus = domain.ProjectStatusCompleted

		credit, err = s.ledger.Release(ctx, qtx, *project.EscrowRecordID, actorID)
		if err != nil {
			return err
		}
		if err := s.setProjectStatus(ctx, qtx, project, domain.ProjectStatusPaid, actorID, "paid"); err != nil {
			return err
		}
		project.WorkflowStatus = domain.ProjectStatusPaid
		return nil
	})
	if err != nil {
		return models.Project{}, err
	}

	notify.Send(ctx, s.notifier, notify.Notification{
		Type:      notify.TypeEscrowReleased,
		UserID:    credit.UserID,
		SubjectID: project.ID,
		Data:      map[string]any{"amount_micros": credit.Amount},
	})
	return project, nil
}

func (s *ProjectWorkflowService) setProjectStatus(ctx context.Context, qtx repository.Querier, project models.Project, next string, actorID *uuid.UUID, action string) error {
	if err := projectTransitions.check("project", project.WorkflowStatus, next); err != nil {
		return err
	}
	rows, err := qtx.UpdateProjectWorkflow(ctx, repository.UpdateProjectWorkflowParams{
		ID:             project.ID,
		WorkflowStatus: next,
	})
	if err != nil {
		return fmt.Errorf("update project workflow: %w", err)
	}
	if err := requireExactlyOne(rows, "update project workflow"); err != nil {
		return err
	}
	return s.audit.Write(ctx, qtx, "project", project.ID, actorID, action, project.WorkflowStatus, next, nil)
}

// Dispute freezes the project's escrow and opens a dispute case. Either party may dispute.
func (s *ProjectWorkflowService) Dispute(ctx context.Context, projectID, actorID uuid.UUID, reason string) (models.DisputeCase, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.DisputeCase{}, domain.NewValidationError("reason", domain.ReasonEmpty, "dispute reason is required")
	}

	var (
		project models.Project
		dispute models.DisputeCase
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		project, err = qtx.GetProjectForUpdate(ctx, projectID)
		if err != nil {
			return notFound(err, "project")
		}
		if actorID != project.OwnerID && actorID != project.FreelancerID {
			return domain.ErrForbidden
		}
		if err := projectTransitions.check("project", project.WorkflowStatus, domain.ProjectStatusDisputed); err != nil {
			return err
		}
		if project.EscrowRecordID == nil {
			return fmt.Errorf("%w: project has no escrow record", domain.ErrInvalidState)
		}

		dispute, err = s.disputes.open(ctx, qtx, domain.EscrowKindProject, project.ID, *project.EscrowRecordID, actorID, reason)
		if err != nil {
			return err
		}
		return s.setProjectStatus(ctx, qtx, project, domain.ProjectStatusDisputed, &actorID, "disputed")
	})
	if err != nil {
		return models.DisputeCase{}, err
	}

	counterparty := project.OwnerID
	if actorID == project.OwnerID {
		counterparty = project.FreelancerID
	}
	notify.Send(ctx, s.notifier, notify.Notification{
		Type:      notify.TypeDisputeOpened,
		UserID:    counterparty,
		SubjectID: project.ID,
		Data:      map[string]any{"dispute_id": dispute.ID, "reason": reason},
	})
	return dispute, nil
}

// AutoApproveDue approves pending projects whose approval window has passed
// and returns how many were paid. Projects that changed state concurrently
// are skipped.
func (s *ProjectWorkflowService) AutoApproveDue(ctx context.Context, limit int32) (int, error) {
	due, err := s.store.Queries().ListProjectsDueForApproval(ctx, s.clock.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list projects due for approval: %w", err)
	}

	approved := 0
	for _, project := range due {
		if err := ctx.Err(); err != nil {
			return approved, err
		}
		if _, err := s.approve(ctx, project.ID, nil, "auto_approved"); err != nil {
			if domain.IsStateConflict(err) {
				zap.L().Info("auto-approval skipped", zap.String("project_id", project.ID.String()), zap.Error(err))
				continue
			}
			zap.L().Error("auto-approval failed", zap.String("project_id", project.ID.String()), zap.Error(err))
			continue
		}
		approved++
	}
	if approved > 0 {
		zap.L().Info("projects auto-approved", zap.Int("count", approved))
	}
	return approved, nil
}

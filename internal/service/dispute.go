package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/notify"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DisputeService opens dispute cases and lets an admin settle the frozen escrow.
type DisputeService struct {
	store    QueryStore
	ledger   *EscrowLedger
	audit    *AuditService
	notifier notify.Notifier
	clock    Clock
}

func NewDisputeService(store QueryStore, ledger *EscrowLedger, notifier notify.Notifier, clock Clock) *DisputeService {
	return &DisputeService{
		store:    store,
		ledger:   ledger,
		audit:    ledger.audit,
		notifier: notifier,
		clock:    clock,
	}
}

// open freezes the escrow record and records the case inside qtx.
func (s *DisputeService) open(ctx context.Context, qtx repository.Querier, kind string, subjectID, recordID, actorID uuid.UUID, reason string) (models.DisputeCase, error) {
	if _, err := s.ledger.Freeze(ctx, qtx, recordID, &actorID); err != nil {
		return models.DisputeCase{}, err
	}
	dispute, err := qtx.CreateDispute(ctx, models.DisputeCase{
		ID:             uuid.New(),
		Kind:           kind,
		SubjectID:      subjectID,
		EscrowRecordID: recordID,
		OpenedBy:       actorID,
		Reason:         reason,
		Status:         domain.DisputeStatusOpen,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DisputeCase{}, fmt.Errorf("%w: dispute already open", domain.ErrInvalidState)
		}
		return models.DisputeCase{}, fmt.Errorf("create dispute: %w", err)
	}
	if err := s.audit.Write(ctx, qtx, "dispute", dispute.ID, &actorID, "opened", "", dispute.Status, marshalReasonMetadata(reason)); err != nil {
		return models.DisputeCase{}, err
	}
	zap.L().Info("dispute opened",
		zap.String("dispute_id", dispute.ID.String()),
		zap.String("kind", kind),
		zap.String("subject_id", subjectID.String()),
		zap.String("escrow_id", recordID.String()),
	)
	return dispute, nil
}

// ResolveDisputeRequest is an admin's ruling on an open dispute.
type ResolveDisputeRequest struct {
	DisputeID  uuid.UUID
	Resolution string
	Note       string
	AdminID    uuid.UUID
}

// Resolve settles the disputed escrow through the ledger and moves the
// project to paid/refunded or the order to released/refunded.
func (s *DisputeService) Resolve(ctx context.Context, req ResolveDisputeRequest) (models.DisputeCase, error) {
	resolution := strings.ToLower(strings.TrimSpace(req.Resolution))
	if resolution != domain.DisputeResolutionRelease && resolution != domain.DisputeResolutionRefund {
		return models.DisputeCase{}, domain.NewValidationError("resolution", domain.ReasonInvalidFormat, "resolution must be release or refund")
	}

	var (
		dispute models.DisputeCase
		credit  models.WalletCredit
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		dispute, err = qtx.GetDisputeForUpdate(ctx, req.DisputeID)
		if err != nil {
			return notFound(err, "dispute")
		}
		if dispute.Status != domain.DisputeStatusOpen {
			return fmt.Errorf("%w: dispute is %s", domain.ErrInvalidTransition, dispute.Status)
		}

		credit, err = s.ledger.Resolve(ctx, qtx, dispute.EscrowRecordID, resolution, &req.AdminID)
		if err != nil {
			return err
		}

		now := s.clock.now()
		rows, err := qtx.ResolveDispute(ctx, repository.ResolveDisputeParams{
			ID:         dispute.ID,
			Resolution: resolution,
			Note:       strings.TrimSpace(req.Note),
			ResolvedBy: req.AdminID,
			ResolvedAt: now,
		})
		if err != nil {
			return fmt.Errorf("resolve dispute: %w", err)
		}
		if err := requireExactlyOne(rows, "resolve dispute"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, "dispute", dispute.ID, &req.AdminID, "resolved", dispute.Status, domain.DisputeStatusResolved, marshalMetadata(map[string]any{
			"resolution": resolution,
			"note":       req.Note,
		})); err != nil {
			return err
		}

		if err := s.settleSubject(ctx, qtx, dispute, resolution, req.AdminID); err != nil {
			return err
		}

		note := strings.TrimSpace(req.Note)
		dispute.Status = domain.DisputeStatusResolved
		dispute.Resolution = &resolution
		dispute.ResolutionNote = &note
		dispute.ResolvedBy = &req.AdminID
		dispute.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return models.DisputeCase{}, err
	}

	notify.Send(ctx, s.notifier, notify.Notification{
		Type:      notify.TypeDisputeResolved,
		UserID:    credit.UserID,
		SubjectID: dispute.SubjectID,
		Data:      map[string]any{"resolution": resolution, "amount_micros": credit.Amount},
	})
	return dispute, nil
}

func (s *DisputeService) settleSubject(ctx context.Context, qtx repository.Querier, dispute models.DisputeCase, resolution string, adminID uuid.UUID) error {
	switch dispute.Kind {
	case domain.EscrowKindProject:
		next := domain.ProjectStatusPaid
		if resolution == domain.DisputeResolutionRefund {
			next = domain.ProjectStatusRefunded
		}
		project, err := qtx.GetProjectForUpdate(ctx, dispute.SubjectID)
		if err != nil {
			return notFound(err, "project")
		}
		if err := projectTransitions.check("project", project.WorkflowStatus, next); err != nil {
			return err
		}
		rows, err := qtx.UpdateProjectWorkflow(ctx, repository.UpdateProjectWorkflowParams{ID: project.ID, WorkflowStatus: next})
		if err != nil {
			return fmt.Errorf("settle disputed project: %w", err)
		}
		if err := requireExactlyOne(rows, "settle disputed project"); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, "project", project.ID, &adminID, "dispute_resolved", project.WorkflowStatus, next, nil)
	case domain.EscrowKindOrder:
		next := domain.OrderStatusReleased
		if resolution == domain.DisputeResolutionRefund {
			next = domain.OrderStatusRefunded
		}
		order, err := qtx.GetOrderForUpdate(ctx, dispute.SubjectID)
		if err != nil {
			return notFound(err, "order")
		}
		return setOrderStatus(ctx, qtx, s.audit, order, next, &adminID, "dispute_resolved", repository.UpdateOrderParams{})
	default:
		return fmt.Errorf("unknown dispute kind %q", dispute.Kind)
	}
}

// Get returns a dispute case.
func (s *DisputeService) Get(ctx context.Context, id uuid.UUID) (models.DisputeCase, error) {
	dispute, err := s.store.Queries().GetDispute(ctx, id)
	if err != nil {
		return models.DisputeCase{}, notFound(err, "dispute")
	}
	return dispute, nil
}

// List returns disputes filtered by status; an empty status lists all.
func (s *DisputeService) List(ctx context.Context, status string, limit, offset int32) ([]models.DisputeCase, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	switch status {
	case "", domain.DisputeStatusOpen, domain.DisputeStatusResolved:
	default:
		return nil, domain.NewValidationError("status", domain.ReasonInvalidFormat, "status must be open or resolved")
	}
	disputes, err := s.store.Queries().ListDisputes(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	return disputes, nil
}

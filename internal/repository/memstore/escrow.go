package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func isActiveEscrow(status string) bool {
	return status == domain.EscrowStatusHeld || status == domain.EscrowStatusDisputed
}

func (q *Queries) CreateEscrowRecord(_ context.Context, arg models.EscrowRecord) (models.EscrowRecord, error) {
	st, done := q.acquire()
	defer done()

	if _, exists := st.escrows[arg.ID]; exists {
		return models.EscrowRecord{}, pgx.ErrNoRows
	}
	if isActiveEscrow(arg.Status) {
		for _, e := range st.escrows {
			if e.Kind == arg.Kind && e.SubjectID == arg.SubjectID && isActiveEscrow(e.Status) {
				return models.EscrowRecord{}, pgx.ErrNoRows
			}
		}
	}
	now := q.now()
	if arg.FundedAt.IsZero() {
		arg.FundedAt = now
	}
	arg.UpdatedAt = now
	st.escrows[arg.ID] = arg
	return arg, nil
}

func (q *Queries) GetEscrowRecord(_ context.Context, id uuid.UUID) (models.EscrowRecord, error) {
	st, done := q.acquire()
	defer done()
	e, ok := st.escrows[id]
	if !ok {
		return models.EscrowRecord{}, pgx.ErrNoRows
	}
	return e, nil
}

func (q *Queries) GetEscrowRecordForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error) {
	return q.GetEscrowRecord(ctx, id)
}

func (q *Queries) GetActiveEscrowForSubject(_ context.Context, kind string, subjectID uuid.UUID) (models.EscrowRecord, error) {
	st, done := q.acquire()
	defer done()
	for _, e := range st.escrows {
		if e.Kind == kind && e.SubjectID == subjectID && isActiveEscrow(e.Status) {
			return e, nil
		}
	}
	return models.EscrowRecord{}, pgx.ErrNoRows
}

func (q *Queries) UpdateEscrowStatus(_ context.Context, arg repository.UpdateEscrowStatusParams) (int64, error) {
	st, done := q.acquire()
	defer done()
	e, ok := st.escrows[arg.ID]
	if !ok {
		return 0, nil
	}
	e.Status = arg.Status
	if e.ReleasedAt == nil && arg.ReleasedAt != nil {
		e.ReleasedAt = ptr(*arg.ReleasedAt)
	}
	if e.RefundedAt == nil && arg.RefundedAt != nil {
		e.RefundedAt = ptr(*arg.RefundedAt)
	}
	e.UpdatedAt = q.now()
	st.escrows[arg.ID] = e
	return 1, nil
}

func (q *Queries) CreateProject(_ context.Context, arg models.Project) (models.Project, error) {
	st, done := q.acquire()
	defer done()
	if _, exists := st.projects[arg.ID]; exists {
		return models.Project{}, pgx.ErrNoRows
	}
	now := q.now()
	arg.CreatedAt, arg.UpdatedAt = now, now
	st.projects[arg.ID] = arg
	return arg, nil
}

func (q *Queries) GetProject(_ context.Context, id uuid.UUID) (models.Project, error) {
	st, done := q.acquire()
	defer done()
	p, ok := st.projects[id]
	if !ok {
		return models.Project{}, pgx.ErrNoRows
	}
	return p, nil
}

func (q *Queries) GetProjectForUpdate(ctx context.Context, id uuid.UUID) (models.Project, error) {
	return q.GetProject(ctx, id)
}

func (q *Queries) UpdateProjectWorkflow(_ context.Context, arg repository.UpdateProjectWorkflowParams) (int64, error) {
	st, done := q.acquire()
	defer done()
	p, ok := st.projects[arg.ID]
	if !ok {
		return 0, nil
	}
	p.WorkflowStatus = arg.WorkflowStatus
	if arg.EscrowRecordID != nil {
		p.EscrowRecordID = ptr(*arg.EscrowRecordID)
	}
	if arg.Deliverables != nil {
		p.Deliverables = *arg.Deliverables
	}
	if arg.ApprovalDueAt != nil {
		p.ApprovalDueAt = ptr(*arg.ApprovalDueAt)
	}
	p.UpdatedAt = q.now()
	st.projects[arg.ID] = p
	return 1, nil
}

func (q *Queries) ListProjectsDueForApproval(_ context.Context, now time.Time, limit int32) ([]models.Project, error) {
	st, done := q.acquire()
	defer done()
	var out []models.Project
	for _, p := range st.projects {
		if p.WorkflowStatus == domain.ProjectStatusPendingApproval && p.ApprovalDueAt != nil && !p.ApprovalDueAt.After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovalDueAt.Before(*out[j].ApprovalDueAt) })
	return page(out, limit, 0), nil
}

func (q *Queries) CreateOrder(_ context.Context, arg models.Order) (models.Order, error) {
	st, done := q.acquire()
	defer done()
	if _, exists := st.orders[arg.ID]; exists {
		return models.Order{}, pgx.ErrNoRows
	}
	now := q.now()
	arg.CreatedAt, arg.UpdatedAt = now, now
	st.orders[arg.ID] = arg
	return arg, nil
}

func (q *Queries) GetOrder(_ context.Context, id uuid.UUID) (models.Order, error) {
	st, done := q.acquire()
	defer done()
	o, ok := st.orders[id]
	if !ok {
		return models.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (models.Order, error) {
	return q.GetOrder(ctx, id)
}

func (q *Queries) UpdateOrder(_ context.Context, arg repository.UpdateOrderParams) (int64, error) {
	st, done := q.acquire()
	defer done()
	o, ok := st.orders[arg.ID]
	if !ok {
		return 0, nil
	}
	o.Status = arg.Status
	if arg.EscrowRecordID != nil {
		o.EscrowRecordID = ptr(*arg.EscrowRecordID)
	}
	if arg.BuyerApproved != nil {
		o.BuyerApproved = *arg.BuyerApproved
	}
	if arg.DeliveryConfirmed != nil {
		o.DeliveryConfirmed = *arg.DeliveryConfirmed
	}
	if arg.HeldAt != nil {
		o.HeldAt = ptr(*arg.HeldAt)
	}
	o.UpdatedAt = q.now()
	st.orders[arg.ID] = o
	return 1, nil
}

func (q *Queries) CreateDispute(_ context.Context, arg models.DisputeCase) (models.DisputeCase, error) {
	st, done := q.acquire()
	defer done()
	if _, exists := st.disputes[arg.ID]; exists {
		return models.DisputeCase{}, pgx.ErrNoRows
	}
	for _, d := range st.disputes {
		if d.EscrowRecordID == arg.EscrowRecordID && d.Status == domain.DisputeStatusOpen {
			return models.DisputeCase{}, pgx.ErrNoRows
		}
	}
	arg.CreatedAt = q.now()
	st.disputes[arg.ID] = arg
	return arg, nil
}

func (q *Queries) GetDispute(_ context.Context, id uuid.UUID) (models.DisputeCase, error) {
	st, done := q.acquire()
	defer done()
	d, ok := st.disputes[id]
	if !ok {
		return models.DisputeCase{}, pgx.ErrNoRows
	}
	return d, nil
}

func (q *Queries) GetDisputeForUpdate(ctx context.Context, id uuid.UUID) (models.DisputeCase, error) {
	return q.GetDispute(ctx, id)
}

func (q *Queries) GetOpenDisputeForEscrowForUpdate(_ context.Context, escrowRecordID uuid.UUID) (models.DisputeCase, error) {
	st, done := q.acquire()
	defer done()
	for _, d := range st.disputes {
		if d.EscrowRecordID == escrowRecordID && d.Status == domain.DisputeStatusOpen {
			return d, nil
		}
	}
	return models.DisputeCase{}, pgx.ErrNoRows
}

func (q *Queries) ResolveDispute(_ context.Context, arg repository.ResolveDisputeParams) (int64, error) {
	st, done := q.acquire()
	defer done()
	d, ok := st.disputes[arg.ID]
	if !ok || d.Status != domain.DisputeStatusOpen {
		return 0, nil
	}
	d.Status = domain.DisputeStatusResolved
	d.Resolution = ptr(arg.Resolution)
	d.ResolutionNote = ptr(arg.Note)
	d.ResolvedBy = ptr(arg.ResolvedBy)
	d.ResolvedAt = ptr(arg.ResolvedAt)
	st.disputes[arg.ID] = d
	return 1, nil
}

func (q *Queries) ListDisputes(_ context.Context, status string, limit, offset int32) ([]models.DisputeCase, error) {
	st, done := q.acquire()
	defer done()
	var out []models.DisputeCase
	for _, d := range st.disputes {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

package repository

import (
	"context"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const escrowColumns = `id, kind, subject_id, payer_id, payee_id, amount, platform_fee, currency, status, funded_at, released_at, refunded_at, updated_at`

func scanEscrowRecord(row pgx.Row) (models.EscrowRecord, error) {
	var e models.EscrowRecord
	err := row.Scan(
		&e.ID, &e.Kind, &e.SubjectID, &e.PayerID, &e.PayeeID, &e.Amount, &e.PlatformFee,
		&e.Currency, &e.Status, &e.FundedAt, &e.ReleasedAt, &e.RefundedAt, &e.UpdatedAt,
	)
	return e, err
}

func (q *Queries) CreateEscrowRecord(ctx context.Context, arg models.EscrowRecord) (models.EscrowRecord, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO escrow_records (id, kind, subject_id, payer_id, payee_id, amount, platform_fee, currency, status, funded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
		RETURNING `+escrowColumns,
		arg.ID, arg.Kind, arg.SubjectID, arg.PayerID, arg.PayeeID, arg.Amount, arg.PlatformFee,
		arg.Currency, arg.Status, arg.FundedAt,
	)
	return scanEscrowRecord(row)
}

func (q *Queries) GetEscrowRecord(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error) {
	return scanEscrowRecord(q.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_records WHERE id = $1`, id))
}

func (q *Queries) GetEscrowRecordForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error) {
	return scanEscrowRecord(q.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_records WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetActiveEscrowForSubject(ctx context.Context, kind string, subjectID uuid.UUID) (models.EscrowRecord, error) {
	return scanEscrowRecord(q.db.QueryRow(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_records
		WHERE kind = $1 AND subject_id = $2 AND status IN ('held', 'disputed')
		FOR UPDATE`, kind, subjectID))
}

func (q *Queries) UpdateEscrowStatus(ctx context.Context, arg UpdateEscrowStatusParams) (int64, error) {
	return q.execRows(ctx, `
		UPDATE escrow_records
		SET status = $2,
		    released_at = COALESCE(released_at, $3),
		    refunded_at = COALESCE(refunded_at, $4),
		    updated_at = NOW()
		WHERE id = $1`,
		arg.ID, arg.Status, arg.ReleasedAt, arg.RefundedAt,
	)
}

const projectColumns = `id, owner_id, freelancer_id, title, agreed_price, currency, workflow_status, escrow_record_id, deliverables, approval_due_at, created_at, updated_at`

func scanProject(row pgx.Row) (models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.FreelancerID, &p.Title, &p.AgreedPrice, &p.Currency, &p.WorkflowStatus,
		&p.EscrowRecordID, &p.Deliverables, &p.ApprovalDueAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (q *Queries) CreateProject(ctx context.Context, arg models.Project) (models.Project, error) {
	return scanProject(q.db.QueryRow(ctx, `
		INSERT INTO projects (id, owner_id, freelancer_id, title, agreed_price, currency, workflow_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+projectColumns,
		arg.ID, arg.OwnerID, arg.FreelancerID, arg.Title, arg.AgreedPrice, arg.Currency, arg.WorkflowStatus,
	))
}

func (q *Queries) GetProject(ctx context.Context, id uuid.UUID) (models.Project, error) {
	return scanProject(q.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (q *Queries) GetProjectForUpdate(ctx context.Context, id uuid.UUID) (models.Project, error) {
	return scanProject(q.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) UpdateProjectWorkflow(ctx context.Context, arg UpdateProjectWorkflowParams) (int64, error) {
	return q.execRows(ctx, `
		UPDATE projects
		SET workflow_status = $2,
		    escrow_record_id = COALESCE($3, escrow_record_id),
		    deliverables = COALESCE($4, deliverables),
		    approval_due_at = COALESCE($5, approval_due_at),
		    updated_at = NOW()
		WHERE id = $1`,
		arg.ID, arg.WorkflowStatus, arg.EscrowRecordID, arg.Deliverables, arg.ApprovalDueAt,
	)
}

func (q *Queries) ListProjectsDueForApproval(ctx context.Context, now time.Time, limit int32) ([]models.Project, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE workflow_status = 'pending_approval' AND approval_due_at <= $1
		ORDER BY approval_due_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProject)
}

const orderColumns = `id, buyer_id, seller_id, description, total_amount, currency, status, escrow_record_id, buyer_approved, delivery_confirmed, held_at, created_at, updated_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.Description, &o.TotalAmount, &o.Currency, &o.Status,
		&o.EscrowRecordID, &o.BuyerApproved, &o.DeliveryConfirmed, &o.HeldAt, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func (q *Queries) CreateOrder(ctx context.Context, arg models.Order) (models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `
		INSERT INTO orders (id, buyer_id, seller_id, description, total_amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+orderColumns,
		arg.ID, arg.BuyerID, arg.SellerID, arg.Description, arg.TotalAmount, arg.Currency, arg.Status,
	))
}

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) UpdateOrder(ctx context.Context, arg UpdateOrderParams) (int64, error) {
	return q.execRows(ctx, `
		UPDATE orders
		SET status = $2,
		    escrow_record_id = COALESCE($3, escrow_record_id),
		    buyer_approved = COALESCE($4, buyer_approved),
		    delivery_confirmed = COALESCE($5, delivery_confirmed),
		    held_at = COALESCE($6, held_at),
		    updated_at = NOW()
		WHERE id = $1`,
		arg.ID, arg.Status, arg.EscrowRecordID, arg.BuyerApproved, arg.DeliveryConfirmed, arg.HeldAt,
	)
}

const disputeColumns = `id, kind, subject_id, escrow_record_id, opened_by, reason, status, resolution, resolution_note, resolved_by, resolved_at, created_at`

func scanDispute(row pgx.Row) (models.DisputeCase, error) {
	var d models.DisputeCase
	err := row.Scan(
		&d.ID, &d.Kind, &d.SubjectID, &d.EscrowRecordID, &d.OpenedBy, &d.Reason, &d.Status,
		&d.Resolution, &d.ResolutionNote, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt,
	)
	return d, err
}

func (q *Queries) CreateDispute(ctx context.Context, arg models.DisputeCase) (models.DisputeCase, error) {
	return scanDispute(q.db.QueryRow(ctx, `
		INSERT INTO dispute_cases (id, kind, subject_id, escrow_record_id, opened_by, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING `+disputeColumns,
		arg.ID, arg.Kind, arg.SubjectID, arg.EscrowRecordID, arg.OpenedBy, arg.Reason, arg.Status,
	))
}

func (q *Queries) GetDispute(ctx context.Context, id uuid.UUID) (models.DisputeCase, error) {
	return scanDispute(q.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM dispute_cases WHERE id = $1`, id))
}

func (q *Queries) GetDisputeForUpdate(ctx context.Context, id uuid.UUID) (models.DisputeCase, error) {
	return scanDispute(q.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM dispute_cases WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetOpenDisputeForEscrowForUpdate(ctx context.Context, escrowRecordID uuid.UUID) (models.DisputeCase, error) {
	return scanDispute(q.db.QueryRow(ctx, `
		SELECT `+disputeColumns+`
		FROM dispute_cases
		WHERE escrow_record_id = $1 AND status = 'open'
		FOR UPDATE`, escrowRecordID))
}

func (q *Queries) ResolveDispute(ctx context.Context, arg ResolveDisputeParams) (int64, error) {
	return q.execRows(ctx, `
		UPDATE dispute_cases
		SET status = 'resolved', resolution = $2, resolution_note = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $1 AND status = 'open'`,
		arg.ID, arg.Resolution, arg.Note, arg.ResolvedBy, arg.ResolvedAt,
	)
}

func (q *Queries) ListDisputes(ctx context.Context, status string, limit, offset int32) ([]models.DisputeCase, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+disputeColumns+`
		FROM dispute_cases
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDispute)
}

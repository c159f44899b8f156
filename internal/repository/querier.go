package repository

import (
	"context"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/google/uuid"
)

// Querier is the data access surface shared by the Postgres queries and the
// in-memory store. Single-row reads return pgx.ErrNoRows when nothing matches;
// inserts guarded by a uniqueness rule return pgx.ErrNoRows on conflict.
// Update methods return the number of affected rows.
type Querier interface {
	CreateEscrowRecord(ctx context.Context, arg models.EscrowRecord) (models.EscrowRecord, error)
	GetEscrowRecord(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error)
	GetEscrowRecordForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error)
	GetActiveEscrowForSubject(ctx context.Context, kind string, subjectID uuid.UUID) (models.EscrowRecord, error)
	UpdateEscrowStatus(ctx context.Context, arg UpdateEscrowStatusParams) (int64, error)

	CreateProject(ctx context.Context, arg models.Project) (models.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (models.Project, error)
	GetProjectForUpdate(ctx context.Context, id uuid.UUID) (models.Project, error)
	UpdateProjectWorkflow(ctx context.Context, arg UpdateProjectWorkflowParams) (int64, error)
	ListProjectsDueForApproval(ctx context.Context, now time.Time, limit int32) ([]models.Project, error)

	CreateOrder(ctx context.Context, arg models.Order) (models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (models.Order, error)
	UpdateOrder(ctx context.Context, arg UpdateOrderParams) (int64, error)

	CreatePaymentSession(ctx context.Context, arg models.PaymentSession) (models.PaymentSession, error)
	GetPaymentSession(ctx context.Context, id uuid.UUID) (models.PaymentSession, error)
	GetPaymentSessionByReferenceForUpdate(ctx context.Context, provider, reference string) (models.PaymentSession, error)
	GetOpenPaymentSessionForSubject(ctx context.Context, kind string, subjectID uuid.UUID) (models.PaymentSession, error)
	UpdatePaymentSessionStatus(ctx context.Context, arg UpdatePaymentSessionStatusParams) (int64, error)
	ListStalePaymentSessions(ctx context.Context, createdBefore time.Time, limit int32) ([]models.PaymentSession, error)

	CreateDispute(ctx context.Context, arg models.DisputeCase) (models.DisputeCase, error)
	GetDispute(ctx context.Context, id uuid.UUID) (models.DisputeCase, error)
	GetDisputeForUpdate(ctx context.Context, id uuid.UUID) (models.DisputeCase, error)
	GetOpenDisputeForEscrowForUpdate(ctx context.Context, escrowRecordID uuid.UUID) (models.DisputeCase, error)
	ResolveDispute(ctx context.Context, arg ResolveDisputeParams) (int64, error)
	ListDisputes(ctx context.Context, status string, limit, offset int32) ([]models.DisputeCase, error)

	EnsureWalletAccount(ctx context.Context, userID uuid.UUID, currency string) error
	GetWalletAccount(ctx context.Context, userID uuid.UUID) (models.WalletAccount, error)
	GetWalletAccountForUpdate(ctx context.Context, userID uuid.UUID) (models.WalletAccount, error)
	AdjustWalletBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error)
	ListWalletAccounts(ctx context.Context) ([]models.WalletAccount, error)

	CreateLedgerEntry(ctx context.Context, arg models.LedgerEntry) error
	GetLedgerTotals(ctx context.Context) (LedgerTotals, error)
	GetLedgerAccountNet(ctx context.Context, account string) (int64, error)
	ListLedgerEntriesForEscrow(ctx context.Context, escrowRecordID uuid.UUID) ([]models.LedgerEntry, error)

	CreateWithdrawal(ctx context.Context, arg models.WithdrawalRequest) (models.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error)
	GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error)
	GetWithdrawalByProviderReference(ctx context.Context, provider, reference string) (models.WithdrawalRequest, error)
	ListWithdrawalsByUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, arg UpdateWithdrawalParams) (int64, error)
	ClaimWithdrawal(ctx context.Context, arg ClaimWithdrawalParams) (int64, error)
	ReleaseWithdrawalClaim(ctx context.Context, id uuid.UUID) (int64, error)
	ListClaimableWithdrawals(ctx context.Context, staleBefore time.Time, limit int32) ([]models.WithdrawalRequest, error)

	DeactivateBankAccountRefs(ctx context.Context, userID uuid.UUID, provider string) (int64, error)
	CreateBankAccountRef(ctx context.Context, arg models.BankAccountRef) (models.BankAccountRef, error)
	GetBankAccountRef(ctx context.Context, id uuid.UUID) (models.BankAccountRef, error)
	GetActiveBankAccountRef(ctx context.Context, userID uuid.UUID, provider string) (models.BankAccountRef, error)

	CreatePaymentEvent(ctx context.Context, arg models.PaymentEvent) (models.PaymentEvent, error)
	GetPaymentEvent(ctx context.Context, id uuid.UUID) (models.PaymentEvent, error)
	GetPaymentEventByKey(ctx context.Context, idempotencyKey string) (models.PaymentEvent, error)

	EnqueueDeferredEvent(ctx context.Context, arg models.DeferredEvent) error
	GetDeferredEventForUpdate(ctx context.Context, eventID uuid.UUID) (models.DeferredEvent, error)
	ListDueDeferredEvents(ctx context.Context, now time.Time, limit int32) ([]models.DeferredEvent, error)
	RescheduleDeferredEvent(ctx context.Context, arg RescheduleDeferredEventParams) (int64, error)
	MarkDeferredEventDead(ctx context.Context, eventID uuid.UUID, lastError string) (int64, error)
	DeleteDeferredEvent(ctx context.Context, eventID uuid.UUID) (int64, error)
	CountPendingDeferredEvents(ctx context.Context) (int64, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error)

	GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyRecord, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (models.IdempotencyRecord, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (models.IdempotencyRecord, error)
	// DeleteIdempotencyKey drops key when it still carries requestHash.
	DeleteIdempotencyKey(ctx context.Context, key, requestHash string) error
}

type UpdateEscrowStatusParams struct {
	ID         uuid.UUID
	Status     string
	ReleasedAt *time.Time
	RefundedAt *time.Time
}

// UpdateProjectWorkflowParams sets the workflow status; nil fields keep their stored value.
type UpdateProjectWorkflowParams struct {
	ID             uuid.UUID
	WorkflowStatus string
	EscrowRecordID *uuid.UUID
	Deliverables   *string
	ApprovalDueAt  *time.Time
}

// UpdateOrderParams sets the order status; nil fields keep their stored value.
type UpdateOrderParams struct {
	ID                uuid.UUID
	Status            string
	EscrowRecordID    *uuid.UUID
	BuyerApproved     *bool
	DeliveryConfirmed *bool
	HeldAt            *time.Time
}

type UpdatePaymentSessionStatusParams struct {
	ID          uuid.UUID
	Status      string
	ConfirmedAt *time.Time
}

type ResolveDisputeParams struct {
	ID         uuid.UUID
	Resolution string
	Note       string
	ResolvedBy uuid.UUID
	ResolvedAt time.Time
}

// UpdateWithdrawalParams sets the withdrawal status; nil fields keep their stored value.
type UpdateWithdrawalParams struct {
	ID                uuid.UUID
	Status            string
	ProviderReference *string
	FailureReason     *string
	SubmittedAt       *time.Time
}

// ClaimWithdrawalParams claims an unsubmitted processing withdrawal whose
// previous claim, if any, is older than StaleBefore.
type ClaimWithdrawalParams struct {
	ID          uuid.UUID
	ClaimedAt   time.Time
	StaleBefore time.Time
}

type RescheduleDeferredEventParams struct {
	EventID       uuid.UUID
	Attempts      int32
	NextAttemptAt time.Time
	LastError     string
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

// LedgerTotals sums every ledger entry by direction.
type LedgerTotals struct {
	Debits  int64
	Credits int64
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowRecord is funds held on behalf of a payer pending settlement to a payee.
type EscrowRecord struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"`
	SubjectID   uuid.UUID  `json:"subject_id"`
	PayerID     uuid.UUID  `json:"payer_id"`
	PayeeID     uuid.UUID  `json:"payee_id"`
	Amount      int64      `json:"amount_micros"`
	PlatformFee int64      `json:"platform_fee_micros"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	FundedAt    time.Time  `json:"funded_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PayeeAmount is what the payee receives on release.
func (e EscrowRecord) PayeeAmount() int64 {
	return e.Amount - e.PlatformFee
}

type Project struct {
	ID             uuid.UUID  `json:"id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	FreelancerID   uuid.UUID  `json:"freelancer_id"`
	Title          string     `json:"title"`
	AgreedPrice    int64      `json:"agreed_price_micros"`
	Currency       string     `json:"currency"`
	WorkflowStatus string     `json:"workflow_status"`
	EscrowRecordID *uuid.UUID `json:"escrow_record_id,omitempty"`
	Deliverables   string     `json:"deliverables,omitempty"`
	ApprovalDueAt  *time.Time `json:"approval_due_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Order struct {
	ID                uuid.UUID  `json:"id"`
	BuyerID           uuid.UUID  `json:"buyer_id"`
	SellerID          uuid.UUID  `json:"seller_id"`
	Description       string     `json:"description"`
	TotalAmount       int64      `json:"total_amount_micros"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	EscrowRecordID    *uuid.UUID `json:"escrow_record_id,omitempty"`
	BuyerApproved     bool       `json:"buyer_approved"`
	DeliveryConfirmed bool       `json:"delivery_confirmed"`
	HeldAt            *time.Time `json:"held_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PaymentSession tracks a checkout at a provider until the webhook confirms funding.
type PaymentSession struct {
	ID                uuid.UUID  `json:"id"`
	Kind              string     `json:"kind"`
	SubjectID         uuid.UUID  `json:"subject_id"`
	Provider          string     `json:"provider"`
	ProviderReference string     `json:"provider_reference"`
	PayerID           uuid.UUID  `json:"payer_id"`
	PayeeID           uuid.UUID  `json:"payee_id"`
	Amount            int64      `json:"amount_micros"`
	PlatformFee       int64      `json:"platform_fee_micros"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	CheckoutURL       string     `json:"checkout_url"`
	ExpiresAt         time.Time  `json:"expires_at"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type DisputeCase struct {
	ID             uuid.UUID  `json:"id"`
	Kind           string     `json:"kind"`
	SubjectID      uuid.UUID  `json:"subject_id"`
	EscrowRecordID uuid.UUID  `json:"escrow_record_id"`
	OpenedBy       uuid.UUID  `json:"opened_by"`
	Reason         string     `json:"reason"`
	Status         string     `json:"status"`
	Resolution     *string    `json:"resolution,omitempty"`
	ResolutionNote *string    `json:"resolution_note,omitempty"`
	ResolvedBy     *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type WalletAccount struct {
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance_micros"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletCredit describes the wallet movement produced by an escrow settlement.
type WalletCredit struct {
	EscrowRecordID uuid.UUID `json:"escrow_record_id"`
	UserID         uuid.UUID `json:"user_id"`
	Amount         int64     `json:"amount_micros"`
	PlatformFee    int64     `json:"platform_fee_micros"`
	Currency       string    `json:"currency"`
	Reason         string    `json:"reason"`
}

type WithdrawalRequest struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	Amount            int64      `json:"amount_micros"`
	Currency          string     `json:"currency"`
	PayoutMethod      string     `json:"payout_method"`
	BankAccountRefID  uuid.UUID  `json:"bank_account_ref_id"`
	Status            string     `json:"status"`
	ProviderReference *string    `json:"provider_reference,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	Attempts          int32      `json:"attempts"`
	ClaimedAt         *time.Time `json:"-"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// BankAccountRef is a masked, provider-registered payout destination.
type BankAccountRef struct {
	ID                   uuid.UUID `json:"id"`
	UserID               uuid.UUID `json:"user_id"`
	Provider             string    `json:"provider"`
	Kind                 string    `json:"kind"`
	HolderName           string    `json:"holder_name"`
	BankName             string    `json:"bank_name,omitempty"`
	BankCode             string    `json:"bank_code,omitempty"`
	Country              string    `json:"country"`
	Last4                string    `json:"last4"`
	Fingerprint          string    `json:"-"`
	ProviderRecipientRef string    `json:"-"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
}

// PaymentEvent is an inbound provider event. Rows are never mutated after insert.
type PaymentEvent struct {
	ID                uuid.UUID `json:"id"`
	Provider          string    `json:"provider"`
	ProviderReference string    `json:"provider_reference"`
	EventType         string    `json:"event_type"`
	IdempotencyKey    string    `json:"idempotency_key"`
	PayloadHash       string    `json:"payload_hash"`
	Payload           []byte    `json:"payload"`
	ReceivedAt        time.Time `json:"received_at"`
}

// DeferredEvent queues a payment event whose subject was not ready when it arrived.
type DeferredEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	Attempts      int32     `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     *string   `json:"last_error,omitempty"`
	Dead          bool      `json:"dead"`
	CreatedAt     time.Time `json:"created_at"`
}

type LedgerEntry struct {
	ID             uuid.UUID  `json:"id"`
	EscrowRecordID *uuid.UUID `json:"escrow_record_id,omitempty"`
	WithdrawalID   *uuid.UUID `json:"withdrawal_id,omitempty"`
	Account        string     `json:"account"`
	Amount         int64      `json:"amount_micros"`
	Direction      string     `json:"direction"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IdempotencyRecord is a stored HTTP response keyed by Idempotency-Key.
type IdempotencyRecord struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
}

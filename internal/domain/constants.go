package domain

import "github.com/google/uuid"

const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"

	RoleAdmin = "admin"
	RoleUser  = "user"

	EscrowKindProject = "project"
	EscrowKindOrder   = "order"

	// Escrow record statuses
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
	EscrowStatusDisputed = "disputed"

	// Project workflow statuses
	ProjectStatusPriceAgreed     = "price_agreed"
	ProjectStatusEscrowFunded    = "escrow_funded"
	ProjectStatusPendingApproval = "pending_approval"
	ProjectStatusCompleted       = "completed"
	ProjectStatusPaid            = "paid"
	ProjectStatusDisputed        = "disputed"
	ProjectStatusRefunded        = "refunded"

	// Order statuses
	OrderStatusAwaitingPayment   = "awaiting_payment"
	OrderStatusHeld              = "held"
	OrderStatusDeliveryConfirmed = "delivery_confirmed"
	OrderStatusBuyerApproved     = "buyer_approved"
	OrderStatusReleased          = "released"
	OrderStatusDisputed          = "disputed"
	OrderStatusRefunded          = "refunded"

	// Payment session statuses
	SessionStatusPendingConfirmation = "pending_confirmation"
	SessionStatusConfirmed           = "confirmed"
	SessionStatusFailed              = "failed"
	SessionStatusExpired             = "expired"
	SessionStatusCredited            = "credited"

	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"

	DisputeResolutionRelease = "release"
	DisputeResolutionRefund  = "refund"

	// Withdrawal statuses
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusPaid       = "paid"
	WithdrawalStatusFailed     = "failed"

	ProviderPaystack    = "paystack"
	ProviderFlutterwave = "flutterwave"
	ProviderMock        = "mock"

	// Normalized webhook event types
	EventEscrowFunded  = "escrow_funded"
	EventPaymentFailed = "payment_failed"
	EventPayoutPaid    = "payout_paid"
	EventPayoutFailed  = "payout_failed"

	DestinationBank = "bank"
	DestinationCard = "card"

	// Ledger accounts
	AccountProviderClearing = "provider_clearing"
	AccountEscrow           = "escrow"
	AccountPlatformFees     = "platform_fees"
	AccountPayoutClearing   = "payout_clearing"
	AccountPayoutSettled    = "payout_settled"

	walletAccountPrefix = "wallet:"
)

// WalletLedgerAccount names the ledger account backing a user's wallet.
func WalletLedgerAccount(userID uuid.UUID) string {
	return walletAccountPrefix + userID.String()
}

// IsPayoutProvider reports whether name is a provider that can carry withdrawals.
func IsPayoutProvider(name string) bool {
	switch name {
	case ProviderPaystack, ProviderFlutterwave, ProviderMock:
		return true
	default:
		return false
	}
}

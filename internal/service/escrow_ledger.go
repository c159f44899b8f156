package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/observability"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// EscrowLedger moves escrowed funds. Every method runs inside the caller's
// transaction and locks the escrow record before checking its status, so
// concurrent release and refund calls on one record serialize and at most
// one of them settles it.
type EscrowLedger struct {
	audit *AuditService
	clock Clock
}

func NewEscrowLedger(audit *AuditService, clock Clock) *EscrowLedger {
	if audit == nil {
		audit = NewAuditService()
	}
	return &EscrowLedger{audit: audit, clock: clock}
}

// FundParams describes a confirmed payment to place in escrow.
type FundParams struct {
	Kind        string
	SubjectID   uuid.UUID
	PayerID     uuid.UUID
	PayeeID     uuid.UUID
	Amount      int64
	PlatformFee int64
	Currency    string
}

// Fund creates a held escrow record for a subject that has none active.
func (l *EscrowLedger) Fund(ctx context.Context, qtx repository.Querier, p FundParams) (models.EscrowRecord, error) {
	if p.Amount <= 0 {
		return models.EscrowRecord{}, domain.NewValidationError("amount", domain.ReasonNotPositive, "escrow amount must be positive")
	}
	if p.PlatformFee < 0 || p.PlatformFee >= p.Amount {
		return models.EscrowRecord{}, domain.NewValidationError("platform_fee", domain.ReasonInvalidFormat, "platform fee must be below the escrow amount")
	}

	if _, err := qtx.GetActiveEscrowForSubject(ctx, p.Kind, p.SubjectID); err == nil {
		return models.EscrowRecord{}, domain.ErrAlreadyFunded
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return models.EscrowRecord{}, fmt.Errorf("check active escrow: %w", err)
	}

	now := l.clock.now()
	record, err := qtx.CreateEscrowRecord(ctx, models.EscrowRecord{
		ID:          uuid.New(),
		Kind:        p.Kind,
		SubjectID:   p.SubjectID,
		PayerID:     p.PayerID,
		PayeeID:     p.PayeeID,
		Amount:      p.Amount,
		PlatformFee: p.PlatformFee,
		Currency:    p.Currency,
		Status:      domain.EscrowStatusHeld,
		FundedAt:    now,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.EscrowRecord{}, domain.ErrAlreadyFunded
		}
		return models.EscrowRecord{}, fmt.Errorf("create escrow record: %w", err)
	}

	if err := postEntries(ctx, qtx, &record.ID, nil,
		debitLeg(domain.AccountProviderClearing, record.Amount),
		creditLeg(domain.AccountEscrow, record.Amount),
	); err != nil {
		return models.EscrowRecord{}, err
	}
	if err := l.audit.Write(ctx, qtx, "escrow", record.ID, nil, "funded", "", domain.EscrowStatusHeld, marshalMetadata(map[string]any{
		"kind":       record.Kind,
		"subject_id": record.SubjectID,
		"amount":     record.Amount,
	})); err != nil {
		return models.EscrowRecord{}, err
	}

	observability.IncrementEscrowTransition(record.Kind, domain.EscrowStatusHeld)
	zap.L().Info("escrow funded",
		zap.String("escrow_id", record.ID.String()),
		zap.String("kind", record.Kind),
		zap.String("subject_id", record.SubjectID.String()),
		zap.Int64("amount_micros", record.Amount),
	)
	return record, nil
}

// Release pays a held record out to the payee, net of the platform fee.
func (l *EscrowLedger) Release(ctx context.Context, qtx repository.Querier, recordID uuid.UUID, actorID *uuid.UUID) (models.WalletCredit, error) {
	record, err := l.lock(ctx, qtx, recordID)
	if err != nil {
		return models.WalletCredit{}, err
	}
	switch record.Status {
	case domain.EscrowStatusHeld:
	case domain.EscrowStatusReleased:
		return models.WalletCredit{}, domain.ErrAlreadyReleased
	default:
		return models.WalletCredit{}, fmt.Errorf("%w: release from %s", domain.ErrInvalidState, record.Status)
	}
	return l.settle(ctx, qtx, record, domain.EscrowStatusReleased, actorID, "released")
}

// Refund returns a held record's full amount to the payer.
func (l *EscrowLedger) Refund(ctx context.Context, qtx repository.Querier, recordID uuid.UUID, actorID *uuid.UUID) (models.WalletCredit, error) {
	record, err := l.lock(ctx, qtx, recordID)
	if err != nil {
		return models.WalletCredit{}, err
	}
	switch record.Status {
	case domain.EscrowStatusHeld:
	case domain.EscrowStatusRefunded:
		return models.WalletCredit{}, domain.ErrAlreadyRefunded
	default:
		return models.WalletCredit{}, fmt.Errorf("%w: refund from %s", domain.ErrInvalidState, record.Status)
	}
	return l.settle(ctx, qtx, record, domain.EscrowStatusRefunded, actorID, "refunded")
}

// Freeze moves a held record to disputed; only Resolve can settle it afterwards.
func (l *EscrowLedger) Freeze(ctx context.Context, qtx repository.Querier, recordID uuid.UUID, actorID *uuid.UUID) (models.EscrowRecord, error) {
	record, err := l.lock(ctx, qtx, recordID)
	if err != nil {
		return models.EscrowRecord{}, err
	}
	if record.Status != domain.EscrowStatusHeld {
		return models.EscrowRecord{}, fmt.Errorf("%w: freeze from %s", domain.ErrInvalidState, record.Status)
	}
	rows, err := qtx.UpdateEscrowStatus(ctx, repository.UpdateEscrowStatusParams{ID: record.ID, Status: domain.EscrowStatusDisputed})
	if err != nil {
		return models.EscrowRecord{}, fmt.Errorf("freeze escrow: %w", err)
	}
	if err := requireExactlyOne(rows, "freeze escrow"); err != nil {
		return models.EscrowRecord{}, err
	}
	if err := l.audit.Write(ctx, qtx, "escrow", record.ID, actorID, "frozen", record.Status, domain.EscrowStatusDisputed, nil); err != nil {
		return models.EscrowRecord{}, err
	}
	observability.IncrementEscrowTransition(record.Kind, domain.EscrowStatusDisputed)
	record.Status = domain.EscrowStatusDisputed
	return record, nil
}

// Resolve settles a disputed record in favour of the payee (release) or the payer (refund).
func (l *EscrowLedger) Resolve(ctx context.Context, qtx repository.Querier, recordID uuid.UUID, resolution string, actorID *uuid.UUID) (models.WalletCredit, error) {
	record, err := l.lock(ctx, qtx, recordID)
	if err != nil {
		return models.WalletCredit{}, err
	}
	if record.Status != domain.EscrowStatusDisputed {
		return models.WalletCredit{}, fmt.Errorf("%w: resolve from %s", domain.ErrInvalidState, record.Status)
	}
	switch resolution {
	case domain.DisputeResolutionRelease:
		return l.settle(ctx, qtx, record, domain.EscrowStatusReleased, actorID, "dispute_released")
	case domain.DisputeResolutionRefund:
		return l.settle(ctx, qtx, record, domain.EscrowStatusRefunded, actorID, "dispute_refunded")
	default:
		return models.WalletCredit{}, domain.NewValidationError("resolution", domain.ReasonInvalidFormat, "resolution must be release or refund")
	}
}

func (l *EscrowLedger) lock(ctx context.Context, qtx repository.Querier, recordID uuid.UUID) (models.EscrowRecord, error) {
	record, err := qtx.GetEscrowRecordForUpdate(ctx, recordID)
	if err != nil {
		return models.EscrowRecord{}, notFound(err, "escrow record")
	}
	return record, nil
}

func (l *EscrowLedger) settle(ctx context.Context, qtx repository.Querier, record models.EscrowRecord, next string, actorID *uuid.UUID, action string) (models.WalletCredit, error) {
	if err := escrowTransitions.check("escrow", record.Status, next); err != nil {
		return models.WalletCredit{}, err
	}

	now := l.clock.now()
	credit := models.WalletCredit{
		EscrowRecordID: record.ID,
		Currency:       record.Currency,
		Reason:         action,
	}
	params := repository.UpdateEscrowStatusParams{ID: record.ID, Status: next}
	var legs []ledgerLeg
	if next == domain.EscrowStatusReleased {
		credit.UserID = record.PayeeID
		credit.Amount = record.PayeeAmount()
		credit.PlatformFee = record.PlatformFee
		params.ReleasedAt = &now
		legs = []ledgerLeg{
			debitLeg(domain.AccountEscrow, record.Amount),
			creditLeg(domain.WalletLedgerAccount(record.PayeeID), credit.Amount),
			creditLeg(domain.AccountPlatformFees, record.PlatformFee),
		}
	} else {
		credit.UserID = record.PayerID
		credit.Amount = record.Amount
		params.RefundedAt = &now
		legs = []ledgerLeg{
			debitLeg(domain.AccountEscrow, record.Amount),
			creditLeg(domain.WalletLedgerAccount(record.PayerID), credit.Amount),
		}
	}

	rows, err := qtx.UpdateEscrowStatus(ctx, params)
	if err != nil {
		return models.WalletCredit{}, fmt.Errorf("update escrow status: %w", err)
	}
	if err := requireExactlyOne(rows, "settle escrow"); err != nil {
		return models.WalletCredit{}, err
	}

	if err := creditWallet(ctx, qtx, credit.UserID, credit.Currency, credit.Amount); err != nil {
		return models.WalletCredit{}, err
	}
	if err := postEntries(ctx, qtx, &record.ID, nil, legs...); err != nil {
		return models.WalletCredit{}, err
	}
	if err := l.audit.Write(ctx, qtx, "escrow", record.ID, actorID, action, record.Status, next, marshalMetadata(map[string]any{
		"user_id":      credit.UserID,
		"amount":       credit.Amount,
		"platform_fee": credit.PlatformFee,
	})); err != nil {
		return models.WalletCredit{}, err
	}

	observability.IncrementEscrowTransition(record.Kind, next)
	zap.L().Info("escrow settled",
		zap.String("escrow_id", record.ID.String()),
		zap.String("status", next),
		zap.String("user_id", credit.UserID.String()),
		zap.Int64("amount_micros", credit.Amount),
	)
	return credit, nil
}

// creditWallet adds amount to a user's wallet, opening it on first use.
func creditWallet(ctx context.Context, qtx repository.Querier, userID uuid.UUID, currency string, amount int64) error {
	if err := qtx.EnsureWalletAccount(ctx, userID, currency); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	rows, err := qtx.AdjustWalletBalance(ctx, userID, amount)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	return requireExactlyOne(rows, "credit wallet")
}

type ledgerLeg struct {
	account   string
	amount    int64
	direction string
}

func debitLeg(account string, amount int64) ledgerLeg {
	return ledgerLeg{account: account, amount: amount, direction: domain.DirectionDebit}
}

func creditLeg(account string, amount int64) ledgerLeg {
	return ledgerLeg{account: account, amount: amount, direction: domain.DirectionCredit}
}

// postEntries appends a balanced set of ledger entries. Zero-amount legs are skipped.
func postEntries(ctx context.Context, qtx repository.Querier, escrowID, withdrawalID *uuid.UUID, legs ...ledgerLeg) error {
	var debits, credits int64
	for _, leg := range legs {
		switch leg.direction {
		case domain.DirectionDebit:
			debits += leg.amount
		case domain.DirectionCredit:
			credits += leg.amount
		}
	}
	if debits != credits {
		return fmt.Errorf("unbalanced ledger posting: debits %d credits %d", debits, credits)
	}

	for _, leg := range legs {
		if leg.amount == 0 {
			continue
		}
		if err := qtx.CreateLedgerEntry(ctx, models.LedgerEntry{
			ID:             uuid.New(),
			EscrowRecordID: escrowID,
			WithdrawalID:   withdrawalID,
			Account:        leg.account,
			Amount:         leg.amount,
			Direction:      leg.direction,
		}); err != nil {
			return fmt.Errorf("create %s entry on %s: %w", leg.direction, leg.account, err)
		}
	}
	return nil
}

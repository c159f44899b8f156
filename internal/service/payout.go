package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/bankaccount"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/gateway"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/notify"
	"github.com/ayo6706/escrow-settlement/internal/observability"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	defaultPayoutMaxRetries = 3
	defaultPayoutRetryDelay = 500 * time.Millisecond
	defaultClaimTTL         = 2 * time.Minute
)

// PayoutConfig tunes provider submission.
type PayoutConfig struct {
	FingerprintKey string
	MaxRetries     int
	RetryDelay     time.Duration
	// ClaimTTL is how long a claimed, unsubmitted withdrawal is left alone
	// before another worker may claim it again.
	ClaimTTL time.Duration
}

// PayoutProcessor registers payout destinations, debits wallets into
// withdrawal requests and submits them to payout providers.
type PayoutProcessor struct {
	store     QueryStore
	providers *gateway.Registry
	audit     *AuditService
	notifier  notify.Notifier
	clock     Clock
	cfg       PayoutConfig
}

func NewPayoutProcessor(store QueryStore, providers *gateway.Registry, audit *AuditService, notifier notify.Notifier, cfg PayoutConfig, clock Clock) *PayoutProcessor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultPayoutMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultPayoutRetryDelay
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaultClaimTTL
	}
	if audit == nil {
		audit = NewAuditService()
	}
	return &PayoutProcessor{
		store:     store,
		providers: providers,
		audit:     audit,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
	}
}

// RegisterBankAccount validates the destination, registers it as a recipient
// at the provider and stores the masked reference. Any previously active
// reference for the same provider is deactivated.
func (s *PayoutProcessor) RegisterBankAccount(ctx context.Context, userID uuid.UUID, provider string, dest bankaccount.Destination) (models.BankAccountRef, error) {
	pp, err := s.providers.Payout(provider)
	if err != nil {
		return models.BankAccountRef{}, err
	}
	if err := dest.Validate(s.clock.now()); err != nil {
		return models.BankAccountRef{}, err
	}

	recipient := gateway.Recipient{
		Kind:          dest.Kind(),
		HolderName:    dest.HolderName(),
		AccountNumber: dest.Number(),
		Country:       dest.Country(),
	}
	ref := models.BankAccountRef{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    provider,
		Kind:        dest.Kind(),
		HolderName:  dest.HolderName(),
		Country:     dest.Country(),
		Last4:       dest.Last4(),
		Fingerprint: s.fingerprint(dest.Number()),
	}
	if dest.Bank != nil {
		recipient.BankCode = dest.Bank.BankCode
		if recipient.BankCode == "" {
			recipient.BankCode = bankaccount.DigitsOnly(dest.Bank.RoutingNumber)
		}
		ref.BankCode = recipient.BankCode
		ref.BankName = dest.Bank.BankName
	}
	if dest.Card != nil {
		recipient.CardExpiry = dest.Card.Expiry
	}

	started := time.Now()
	recipientRef, err := pp.RegisterRecipient(ctx, recipient)
	observability.ObserveProviderCall(provider, "register_recipient", err, time.Since(started))
	if err != nil {
		return models.BankAccountRef{}, fmt.Errorf("register recipient: %w", err)
	}
	ref.ProviderRecipientRef = recipientRef

	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.DeactivateBankAccountRefs(ctx, userID, provider); err != nil {
			return fmt.Errorf("deactivate bank account refs: %w", err)
		}
		var err error
		ref, err = qtx.CreateBankAccountRef(ctx, ref)
		if err != nil {
			return fmt.Errorf("create bank account ref: %w", err)
		}
		return s.audit.Write(ctx, qtx, "bank_account_ref", ref.ID, &userID, "registered", "", "active", marshalMetadata(map[string]any{
			"provider": provider,
			"kind":     ref.Kind,
			"last4":    ref.Last4,
		}))
	})
	if err != nil {
		return models.BankAccountRef{}, err
	}

	zap.L().Info("payout destination registered",
		zap.String("user_id", userID.String()),
		zap.String("provider", provider),
		zap.String("kind", ref.Kind),
		zap.String("bank_account_ref_id", ref.ID.String()),
	)
	return ref, nil
}

// fingerprint identifies an account number without storing it.
func (s *PayoutProcessor) fingerprint(number string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.FingerprintKey))
	mac.Write([]byte(number))
	return hex.EncodeToString(mac.Sum(nil))
}

// WithdrawalParams asks to move Amount micros from a wallet to a destination:
// either a registered BankAccountRefID or inline Destination details.
type WithdrawalParams struct {
	UserID           uuid.UUID
	Amount           int64
	Method           string
	BankAccountRefID uuid.UUID
	Destination      *bankaccount.Destination
}

// destinationRef returns the user's active reference at provider when it
// points at the same account as dest, and registers dest otherwise.
func (s *PayoutProcessor) destinationRef(ctx context.Context, userID uuid.UUID, provider string, dest bankaccount.Destination) (models.BankAccountRef, error) {
	if err := dest.Validate(s.clock.now()); err != nil {
		return models.BankAccountRef{}, err
	}
	active, err := s.store.Queries().GetActiveBankAccountRef(ctx, userID, provider)
	switch {
	case err == nil && active.Kind == dest.Kind() && active.Fingerprint == s.fingerprint(dest.Number()):
		return active, nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return models.BankAccountRef{}, fmt.Errorf("load active bank account: %w", err)
	}
	return s.RegisterBankAccount(ctx, userID, provider, dest)
}

// RequestWithdrawal debits the wallet and creates a processing withdrawal in
// one transaction. The wallet row is locked, so concurrent withdrawals can
// never overdraw it.
func (s *PayoutProcessor) RequestWithdrawal(ctx context.Context, p WithdrawalParams) (models.WithdrawalRequest, error) {
	if p.Amount <= 0 {
		return models.WithdrawalRequest{}, domain.NewValidationError("amount", domain.ReasonNotPositive, "withdrawal amount must be positive")
	}
	if _, err := s.providers.Payout(p.Method); err != nil {
		return models.WithdrawalRequest{}, domain.NewValidationError("payout_method", domain.ReasonInvalidFormat, err.Error())
	}
	if p.BankAccountRefID == uuid.Nil {
		if p.Destination == nil {
			return models.WithdrawalRequest{}, domain.NewValidationError("payout_details", domain.ReasonRequired, "a bank account reference or payout details are required")
		}
		ref, err := s.destinationRef(ctx, p.UserID, p.Method, *p.Destination)
		if err != nil {
			return models.WithdrawalRequest{}, err
		}
		p.BankAccountRefID = ref.ID
	}

	var withdrawal models.WithdrawalRequest
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		ref, err := qtx.GetBankAccountRef(ctx, p.BankAccountRefID)
		if err != nil {
			return notFound(err, "bank account")
		}
		if ref.UserID != p.UserID {
			return fmt.Errorf("bank account: %w", domain.ErrNotFound)
		}
		if !ref.Active {
			return domain.NewValidationError("bank_account_ref_id", domain.ReasonInvalidFormat, "bank account is no longer active")
		}
		if ref.Provider != p.Method {
			return domain.NewValidationError("bank_account_ref_id", domain.ReasonMismatch, "bank account is registered with another provider")
		}

		wallet, err := qtx.GetWalletAccountForUpdate(ctx, p.UserID)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInsufficientBalance
		}
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if !domain.IsWholeMinorUnit(p.Amount, wallet.Currency) {
			return domain.NewValidationError("amount", domain.ReasonInvalidFormat, "amount must be a whole number of "+wallet.Currency+" minor units")
		}
		if wallet.Balance < p.Amount {
			return domain.ErrInsufficientBalance
		}

		withdrawal, err = qtx.CreateWithdrawal(ctx, models.WithdrawalRequest{
			ID:               uuid.New(),
			UserID:           p.UserID,
			Amount:           p.Amount,
			Currency:         wallet.Currency,
			PayoutMethod:     p.Method,
			BankAccountRefID: ref.ID,
			Status:           domain.WithdrawalStatusPending,
		})
		if err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}
		if err := s.audit.Write(ctx, qtx, "withdrawal", withdrawal.ID, &p.UserID, "created", "", withdrawal.Status, marshalMetadata(map[string]any{
			"amount":   withdrawal.Amount,
			"provider": withdrawal.PayoutMethod,
		})); err != nil {
			return err
		}

		rows, err := qtx.AdjustWalletBalance(ctx, p.UserID, -p.Amount)
		if err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}
		if rows == 0 {
			return domain.ErrInsufficientBalance
		}
		if err := postEntries(ctx, qtx, nil, &withdrawal.ID,
			debitLeg(domain.WalletLedgerAccount(p.UserID), p.Amount),
			creditLeg(domain.AccountPayoutClearing, p.Amount),
		); err != nil {
			return err
		}

		if err := s.setWithdrawalStatus(ctx, qtx, withdrawal, domain.WithdrawalStatusProcessing, &p.UserID, "debited", repository.UpdateWithdrawalParams{}); err != nil {
			return err
		}
		withdrawal.Status = domain.WithdrawalStatusProcessing
		return nil
	})
	if err != nil {
		return models.WithdrawalRequest{}, err
	}

	zap.L().Info("withdrawal requested",
		zap.String("withdrawal_id", withdrawal.ID.String()),
		zap.String("user_id", withdrawal.UserID.String()),
		zap.String("provider", withdrawal.PayoutMethod),
		zap.Int64("amount_micros", withdrawal.Amount),
	)
	return withdrawal, nil
}

// Submit sends a processing withdrawal to provider, which must be the
// withdrawal's payout method. A withdrawal that was already submitted or
// settled is returned unchanged. When the provider rejects the payout the
// wallet is credited back before the error is returned.
func (s *PayoutProcessor) Submit(ctx context.Context, withdrawalID uuid.UUID, provider string) (models.WithdrawalRequest, error) {
	withdrawal, err := s.store.Queries().GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return models.WithdrawalRequest{}, notFound(err, "withdrawal")
	}
	if withdrawal.PayoutMethod != provider {
		return models.WithdrawalRequest{}, fmt.Errorf("%w: withdrawal uses %s", domain.ErrProviderMismatch, withdrawal.PayoutMethod)
	}
	if withdrawal.Status != domain.WithdrawalStatusProcessing || withdrawal.SubmittedAt != nil {
		return withdrawal, nil
	}

	claimed, err := s.claim(ctx, withdrawal.ID)
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	if !claimed {
		return models.WithdrawalRequest{}, fmt.Errorf("%w: withdrawal is already being submitted", domain.ErrInvalidState)
	}
	return s.submitClaimed(ctx, withdrawal)
}

// ProcessPending submits up to batch unclaimed or stale-claimed withdrawals
// and returns how many reached the provider.
func (s *PayoutProcessor) ProcessPending(ctx context.Context, batch int32) (int, error) {
	pending, err := s.store.Queries().ListClaimableWithdrawals(ctx, s.clock.now().Add(-s.cfg.ClaimTTL), batch)
	if err != nil {
		return 0, fmt.Errorf("list claimable withdrawals: %w", err)
	}

	submitted := 0
	for _, withdrawal := range pending {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		claimed, err := s.claim(ctx, withdrawal.ID)
		if err != nil {
			return submitted, err
		}
		if !claimed {
			continue
		}
		if _, err := s.submitClaimed(ctx, withdrawal); err != nil {
			if ctx.Err() != nil {
				return submitted, ctx.Err()
			}
			zap.L().Warn("withdrawal submission failed",
				zap.String("withdrawal_id", withdrawal.ID.String()),
				zap.String("provider", withdrawal.PayoutMethod),
				zap.Error(err),
			)
			continue
		}
		submitted++
	}
	return submitted, nil
}

func (s *PayoutProcessor) claim(ctx context.Context, withdrawalID uuid.UUID) (bool, error) {
	var claimed bool
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		now := s.clock.now()
		rows, err := qtx.ClaimWithdrawal(ctx, repository.ClaimWithdrawalParams{
			ID:          withdrawalID,
			ClaimedAt:   now,
			StaleBefore: now.Add(-s.cfg.ClaimTTL),
		})
		if err != nil {
			return fmt.Errorf("claim withdrawal: %w", err)
		}
		claimed = rows == 1
		return nil
	})
	return claimed, err
}

func (s *PayoutProcessor) submitClaimed(ctx context.Context, withdrawal models.WithdrawalRequest) (models.WithdrawalRequest, error) {
	pp, err := s.providers.Payout(withdrawal.PayoutMethod)
	if err != nil {
		s.releaseClaim(withdrawal.ID)
		return models.WithdrawalRequest{}, err
	}
	ref, err := s.store.Queries().GetBankAccountRef(ctx, withdrawal.BankAccountRefID)
	if err != nil {
		s.releaseClaim(withdrawal.ID)
		return models.WithdrawalRequest{}, notFound(err, "bank account")
	}

	result, sendErr := s.send(ctx, pp, gateway.PayoutRequest{
		IdempotencyKey: withdrawal.ID.String(),
		RecipientRef:   ref.ProviderRecipientRef,
		Amount:         withdrawal.Amount,
		Currency:       withdrawal.Currency,
		Reason:         "wallet withdrawal",
	})
	if sendErr != nil && ctx.Err() != nil {
		// The outcome is unknown; leave the withdrawal for the next worker run.
		s.releaseClaim(withdrawal.ID)
		return models.WithdrawalRequest{}, ctx.Err()
	}

	var note *notify.Notification
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		current, err := qtx.GetWithdrawalForUpdate(ctx, withdrawal.ID)
		if err != nil {
			return notFound(err, "withdrawal")
		}
		switch {
		case sendErr != nil:
			note, err = s.fail(ctx, qtx, current, sendErr.Error())
			return err
		case result.Status == gateway.StatusFailed:
			note, err = s.fail(ctx, qtx, current, "rejected by provider")
			return err
		case result.Status == gateway.StatusPaid:
			note, err = s.markPaid(ctx, qtx, current, result.ProviderReference)
			return err
		default:
			return s.markSubmitted(ctx, qtx, current, result.ProviderReference)
		}
	})
	if err != nil {
		zap.L().Error("withdrawal outcome could not be recorded",
			zap.Bool("alert", true),
			zap.String("withdrawal_id", withdrawal.ID.String()),
			zap.String("provider", withdrawal.PayoutMethod),
			zap.String("provider_reference", result.ProviderReference),
			zap.Error(err),
		)
		return models.WithdrawalRequest{}, err
	}
	if note != nil {
		notify.Send(ctx, s.notifier, *note)
	}

	outcome := string(result.Status)
	if sendErr != nil {
		outcome = string(gateway.StatusFailed)
	}
	observability.IncrementPayoutOutcome(withdrawal.PayoutMethod, outcome)

	updated, err := s.store.Queries().GetWithdrawal(ctx, withdrawal.ID)
	if err != nil {
		return models.WithdrawalRequest{}, notFound(err, "withdrawal")
	}
	if sendErr != nil {
		return updated, fmt.Errorf("send payout: %w", sendErr)
	}
	return updated, nil
}

// send calls the provider, retrying retryable failures with exponential backoff.
func (s *PayoutProcessor) send(ctx context.Context, pp gateway.PayoutProvider, req gateway.PayoutRequest) (gateway.PayoutResult, error) {
	var result gateway.PayoutResult
	attempt := 0
	op := func() error {
		attempt++
		started := time.Now()
		res, err := pp.SendPayout(ctx, req)
		observability.ObserveProviderCall(pp.Provider(), "send_payout", err, time.Since(started))
		if err != nil {
			if gateway.IsRetryable(err) {
				zap.L().Warn("payout attempt failed, retrying",
					zap.String("withdrawal_id", req.IdempotencyKey),
					zap.String("provider", pp.Provider()),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryDelay
	b.MaxInterval = 10 * s.cfg.RetryDelay
	b.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxRetries)), ctx))
	return result, err
}

func (s *PayoutProcessor) releaseClaim(withdrawalID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		_, err := qtx.ReleaseWithdrawalClaim(ctx, withdrawalID)
		return err
	})
	if err != nil {
		zap.L().Error("failed to release withdrawal claim", zap.String("withdrawal_id", withdrawalID.String()), zap.Error(err))
	}
}

// ApplyPayoutOutcome finishes a submitted withdrawal from a payout_paid or
// payout_failed event. It returns domain.ErrNotReady when the withdrawal is
// unknown or has not been submitted yet, so the event can be retried later.
func (s *PayoutProcessor) ApplyPayoutOutcome(ctx context.Context, qtx repository.Querier, ev gateway.Event) (*notify.Notification, error) {
	withdrawal, err := s.lookupByReference(ctx, qtx, ev)
	if err != nil {
		return nil, err
	}
	if withdrawal.SubmittedAt == nil && withdrawal.Status == domain.WithdrawalStatusProcessing {
		return nil, fmt.Errorf("withdrawal %s not yet submitted: %w", withdrawal.ID, domain.ErrNotReady)
	}

	switch withdrawal.Status {
	case domain.WithdrawalStatusProcessing:
	case domain.WithdrawalStatusPaid, domain.WithdrawalStatusFailed:
		expected := domain.WithdrawalStatusPaid
		if ev.Type == domain.EventPayoutFailed {
			expected = domain.WithdrawalStatusFailed
		}
		if withdrawal.Status != expected {
			zap.L().Error("payout outcome contradicts settled withdrawal",
				zap.Bool("alert", true),
				zap.String("withdrawal_id", withdrawal.ID.String()),
				zap.String("status", withdrawal.Status),
				zap.String("event_type", ev.Type),
				zap.String("provider", ev.Provider),
			)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: withdrawal is %s", domain.ErrInvalidState, withdrawal.Status)
	}

	if ev.Type == domain.EventPayoutFailed {
		reason := ev.FailureReason
		if reason == "" {
			reason = "failed at provider"
		}
		note, err := s.fail(ctx, qtx, withdrawal, reason)
		if err == nil {
			observability.IncrementPayoutOutcome(withdrawal.PayoutMethod, string(gateway.StatusFailed))
		}
		return note, err
	}
	note, err := s.markPaid(ctx, qtx, withdrawal, ev.Reference)
	if err == nil {
		observability.IncrementPayoutOutcome(withdrawal.PayoutMethod, string(gateway.StatusPaid))
	}
	return note, err
}

// lookupByReference finds the withdrawal an event refers to, either by the
// provider's transfer reference or by the withdrawal id used as idempotency key.
func (s *PayoutProcessor) lookupByReference(ctx context.Context, qtx repository.Querier, ev gateway.Event) (models.WithdrawalRequest, error) {
	id, parseErr := uuid.Parse(ev.Reference)
	if parseErr != nil {
		found, err := qtx.GetWithdrawalByProviderReference(ctx, ev.Provider, ev.Reference)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WithdrawalRequest{}, fmt.Errorf("withdrawal %s/%s: %w", ev.Provider, ev.Reference, domain.ErrNotReady)
		}
		if err != nil {
			return models.WithdrawalRequest{}, fmt.Errorf("load withdrawal by reference: %w", err)
		}
		id = found.ID
	}

	withdrawal, err := qtx.GetWithdrawalForUpdate(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WithdrawalRequest{}, fmt.Errorf("withdrawal %s: %w", id, domain.ErrNotReady)
	}
	if err != nil {
		return models.WithdrawalRequest{}, fmt.Errorf("lock withdrawal: %w", err)
	}
	if withdrawal.PayoutMethod != ev.Provider {
		return models.WithdrawalRequest{}, fmt.Errorf("%w: event from %s for a %s withdrawal", domain.ErrProviderMismatch, ev.Provider, withdrawal.PayoutMethod)
	}
	return withdrawal, nil
}

func (s *PayoutProcessor) setWithdrawalStatus(ctx context.Context, qtx repository.Querier, withdrawal models.WithdrawalRequest, next string, actorID *uuid.UUID, action string, extra repository.UpdateWithdrawalParams) error {
	if next != withdrawal.Status {
		if err := withdrawalTransitions.check("withdrawal", withdrawal.Status, next); err != nil {
			return err
		}
	}
	extra.ID = withdrawal.ID
	extra.Status = next
	rows, err := qtx.UpdateWithdrawal(ctx, extra)
	if err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}
	if err := requireExactlyOne(rows, "update withdrawal"); err != nil {
		return err
	}
	return s.audit.Write(ctx, qtx, "withdrawal", withdrawal.ID, actorID, action, withdrawal.Status, next, nil)
}

// markSubmitted records a transfer the provider accepted but has not completed.
func (s *PayoutProcessor) markSubmitted(ctx context.Context, qtx repository.Querier, withdrawal models.WithdrawalRequest, reference string) error {
	params := repository.UpdateWithdrawalParams{SubmittedAt: timePtr(s.clock.now())}
	if reference != "" {
		params.ProviderReference = &reference
	}
	return s.setWithdrawalStatus(ctx, qtx, withdrawal, domain.WithdrawalStatusProcessing, nil, "submitted", params)
}

func (s *PayoutProcessor) markPaid(ctx context.Context, qtx repository.Querier, withdrawal models.WithdrawalRequest, reference string) (*notify.Notification, error) {
	params := repository.UpdateWithdrawalParams{}
	if reference != "" && withdrawal.ProviderReference == nil {
		params.ProviderReference = &reference
	}
	if withdrawal.SubmittedAt == nil {
		params.SubmittedAt = timePtr(s.clock.now())
	}
	if err := s.setWithdrawalStatus(ctx, qtx, withdrawal, domain.WithdrawalStatusPaid, nil, "paid", params); err != nil {
		return nil, err
	}
	if err := postEntries(ctx, qtx, nil, &withdrawal.ID,
		debitLeg(domain.AccountPayoutClearing, withdrawal.Amount),
		creditLeg(domain.AccountPayoutSettled, withdrawal.Amount),
	); err != nil {
		return nil, err
	}
	zap.L().Info("withdrawal paid",
		zap.String("withdrawal_id", withdrawal.ID.String()),
		zap.String("provider", withdrawal.PayoutMethod),
	)
	return &notify.Notification{
		Type:      notify.TypeWithdrawalPaid,
		UserID:    withdrawal.UserID,
		SubjectID: withdrawal.ID,
		Data:      map[string]any{"amount_micros": withdrawal.Amount},
	}, nil
}

// fail marks the withdrawal failed and credits the wallet back in qtx.
func (s *PayoutProcessor) fail(ctx context.Context, qtx repository.Querier, withdrawal models.WithdrawalRequest, reason string) (*notify.Notification, error) {
	if err := s.setWithdrawalStatus(ctx, qtx, withdrawal, domain.WithdrawalStatusFailed, nil, "failed", repository.UpdateWithdrawalParams{
		FailureReason: &reason,
	}); err != nil {
		return nil, err
	}
	if err := creditWallet(ctx, qtx, withdrawal.UserID, withdrawal.Currency, withdrawal.Amount); err != nil {
		return nil, err
	}
	if err := postEntries(ctx, qtx, nil, &withdrawal.ID,
		debitLeg(domain.AccountPayoutClearing, withdrawal.Amount),
		creditLeg(domain.WalletLedgerAccount(withdrawal.UserID), withdrawal.Amount),
	); err != nil {
		return nil, err
	}
	zap.L().Warn("withdrawal failed, wallet restored",
		zap.String("withdrawal_id", withdrawal.ID.String()),
		zap.String("provider", withdrawal.PayoutMethod),
		zap.String("reason", reason),
	)
	return &notify.Notification{
		Type:      notify.TypeWithdrawalFailed,
		UserID:    withdrawal.UserID,
		SubjectID: withdrawal.ID,
		Data:      map[string]any{"amount_micros": withdrawal.Amount, "reason": reason},
	}, nil
}

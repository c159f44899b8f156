package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/gateway"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/observability"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// FundingService opens checkout sessions at the configured gateway and turns
// confirmed payments into held escrow records.
type FundingService struct {
	store       QueryStore
	gateways    *gateway.Registry
	ledger      *EscrowLedger
	audit       *AuditService
	clock       Clock
	callbackURL string
	feeBPS      int
}

// FundingConfig carries the checkout policy.
type FundingConfig struct {
	CallbackURL    string
	PlatformFeeBPS int
}

func NewFundingService(store QueryStore, gateways *gateway.Registry, ledger *EscrowLedger, cfg FundingConfig, clock Clock) *FundingService {
	return &FundingService{
		store:       store,
		gateways:    gateways,
		ledger:      ledger,
		audit:       ledger.audit,
		clock:       clock,
		callbackURL: cfg.CallbackURL,
		feeBPS:      cfg.PlatformFeeBPS,
	}
}

// Charge returns what the payer is charged for a base price and the platform
// fee retained on release. The payee receives exactly base. The charge is a
// whole number of currency minor units, so the fee absorbs the rounding.
func (s *FundingService) Charge(base int64, currency string) (amount, fee int64) {
	amount = domain.RoundToMinorUnit(base+domain.PlatformFee(base, s.feeBPS), currency)
	if amount < base {
		amount = domain.CeilToMinorUnit(base, currency)
	}
	return amount, amount - base
}

// SessionRequest identifies what a checkout session pays for.
type SessionRequest struct {
	Kind      string
	SubjectID uuid.UUID
	PayerID   uuid.UUID
	PayeeID   uuid.UUID
	Base      int64
	Currency  string
	Email     string
}

// OpenSession returns the subject's open checkout session, creating one at the
// checkout gateway when none exists or the previous one has expired.
func (s *FundingService) OpenSession(ctx context.Context, req SessionRequest) (models.PaymentSession, error) {
	now := s.clock.now()
	queries := s.store.Queries()

	existing, err := queries.GetOpenPaymentSessionForSubject(ctx, req.Kind, req.SubjectID)
	switch {
	case err == nil && existing.ExpiresAt.After(now):
		return existing, nil
	case err == nil:
		if err := s.expireSession(ctx, existing); err != nil {
			return models.PaymentSession{}, err
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return models.PaymentSession{}, fmt.Errorf("load open payment session: %w", err)
	}

	gw, err := s.gateways.Checkout()
	if err != nil {
		return models.PaymentSession{}, err
	}

	amount, fee := s.Charge(req.Base, req.Currency)
	sessionID := uuid.New()
	email := req.Email
	if email == "" {
		email = req.PayerID.String() + "@users.escrow.invalid"
	}

	started := time.Now()
	checkout, err := gw.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		Reference:   "esc_" + sessionID.String(),
		Amount:      amount,
		Currency:    req.Currency,
		Email:       email,
		CallbackURL: s.callbackURL,
		Metadata: map[string]string{
			"kind":       req.Kind,
			"subject_id": req.SubjectID.String(),
		},
	})
	observability.ObserveProviderCall(gw.Provider(), "checkout", err, time.Since(started))
	if err != nil {
		return models.PaymentSession{}, fmt.Errorf("create checkout session: %w", err)
	}

	var session models.PaymentSession
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		session, err = qtx.CreatePaymentSession(ctx, models.PaymentSession{
			ID:                sessionID,
			Kind:              req.Kind,
			SubjectID:         req.SubjectID,
			Provider:          gw.Provider(),
			ProviderReference: checkout.Reference,
			PayerID:           req.PayerID,
			PayeeID:           req.PayeeID,
			Amount:            amount,
			PlatformFee:       fee,
			Currency:          req.Currency,
			Status:            domain.SessionStatusPendingConfirmation,
			CheckoutURL:       checkout.CheckoutURL,
			ExpiresAt:         checkout.ExpiresAt,
		})
		if err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, "payment_session", session.ID, &req.PayerID, "created", "", session.Status, marshalMetadata(map[string]any{
			"provider":  session.Provider,
			"reference": session.ProviderReference,
			"amount":    session.Amount,
		}))
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent request opened the session first.
		return queries.GetOpenPaymentSessionForSubject(ctx, req.Kind, req.SubjectID)
	}
	if err != nil {
		return models.PaymentSession{}, fmt.Errorf("store payment session: %w", err)
	}

	zap.L().Info("payment session opened",
		zap.String("session_id", session.ID.String()),
		zap.String("provider", session.Provider),
		zap.String("kind", session.Kind),
		zap.String("subject_id", session.SubjectID.String()),
	)
	return session, nil
}

func (s *FundingService) expireSession(ctx context.Context, session models.PaymentSession) error {
	return s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		return s.transitionSession(ctx, qtx, session, domain.SessionStatusExpired, "expired", nil)
	})
}

func (s *FundingService) transitionSession(ctx context.Context, qtx repository.Querier, session models.PaymentSession, next, action string, metadata []byte) error {
	if err := sessionTransitions.check("payment session", session.Status, next); err != nil {
		return err
	}
	params := repository.UpdatePaymentSessionStatusParams{ID: session.ID, Status: next}
	if next == domain.SessionStatusConfirmed {
		params.ConfirmedAt = timePtr(s.clock.now())
	}
	rows, err := qtx.UpdatePaymentSessionStatus(ctx, params)
	if err != nil {
		return fmt.Errorf("update payment session: %w", err)
	}
	if err := requireExactlyOne(rows, "update payment session"); err != nil {
		return err
	}
	return s.audit.Write(ctx, qtx, "payment_session", session.ID, nil, action, session.Status, next, metadata)
}

// ConfirmFunding applies a verified escrow_funded event: the session is
// confirmed, the ledger funds a held record and the project or order advances.
// A session that is already confirmed or credited is a no-op. Money collected
// for a subject that no longer awaits funding goes to the payer's wallet.
func (s *FundingService) ConfirmFunding(ctx context.Context, qtx repository.Querier, ev gateway.Event) error {
	session, err := qtx.GetPaymentSessionByReferenceForUpdate(ctx, ev.Provider, ev.Reference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("payment session %s/%s: %w", ev.Provider, ev.Reference, domain.ErrNotReady)
		}
		return fmt.Errorf("load payment session: %w", err)
	}
	if session.Status == domain.SessionStatusConfirmed || session.Status == domain.SessionStatusCredited {
		return nil
	}
	if ev.Amount != 0 && !domain.SameMinorAmount(ev.Amount, session.Amount, session.Currency) {
		return domain.NewValidationError("amount", domain.ReasonMismatch, fmt.Sprintf("paid %d micros, expected %d", ev.Amount, session.Amount))
	}
	if ev.Currency != "" && ev.Currency != session.Currency {
		return domain.NewValidationError("currency", domain.ReasonMismatch, fmt.Sprintf("paid in %s, expected %s", ev.Currency, session.Currency))
	}

	awaiting, err := subjectAwaitsFunding(ctx, qtx, session)
	if err != nil {
		return err
	}
	if !awaiting {
		return s.creditPayer(ctx, qtx, session)
	}

	if err := s.transitionSession(ctx, qtx, session, domain.SessionStatusConfirmed, "confirmed", nil); err != nil {
		return err
	}
	record, err := s.ledger.Fund(ctx, qtx, FundParams{
		Kind:        session.Kind,
		SubjectID:   session.SubjectID,
		PayerID:     session.PayerID,
		PayeeID:     session.PayeeID,
		Amount:      session.Amount,
		PlatformFee: session.PlatformFee,
		Currency:    session.Currency,
	})
	if err != nil {
		return err
	}

	switch session.Kind {
	case domain.EscrowKindProject:
		return markProjectFunded(ctx, qtx, s.audit, session.SubjectID, record.ID)
	case domain.EscrowKindOrder:
		return markOrderHeld(ctx, qtx, s.audit, session.SubjectID, record.ID, s.clock.now())
	default:
		return fmt.Errorf("unknown escrow kind %q", session.Kind)
	}
}

func subjectAwaitsFunding(ctx context.Context, qtx repository.Querier, session models.PaymentSession) (bool, error) {
	switch session.Kind {
	case domain.EscrowKindProject:
		project, err := qtx.GetProjectForUpdate(ctx, session.SubjectID)
		if err != nil {
			return false, notFound(err, "project")
		}
		return project.WorkflowStatus == domain.ProjectStatusPriceAgreed, nil
	case domain.EscrowKindOrder:
		order, err := qtx.GetOrderForUpdate(ctx, session.SubjectID)
		if err != nil {
			return false, notFound(err, "order")
		}
		return order.Status == domain.OrderStatusAwaitingPayment, nil
	default:
		return false, fmt.Errorf("unknown escrow kind %q", session.Kind)
	}
}

// creditPayer handles a payment captured for a failed session, or for a
// subject that was funded by a newer session in the meantime. The collected
// amount is credited to the payer's wallet, from where it can be withdrawn.
func (s *FundingService) creditPayer(ctx context.Context, qtx repository.Querier, session models.PaymentSession) error {
	if err := s.transitionSession(ctx, qtx, session, domain.SessionStatusCredited, "credited_to_wallet", marshalMetadata(map[string]any{
		"payer_id": session.PayerID,
		"amount":   session.Amount,
	})); err != nil {
		return err
	}
	if err := creditWallet(ctx, qtx, session.PayerID, session.Currency, session.Amount); err != nil {
		return err
	}
	if err := postEntries(ctx, qtx, nil, nil,
		debitLeg(domain.AccountProviderClearing, session.Amount),
		creditLeg(domain.WalletLedgerAccount(session.PayerID), session.Amount),
	); err != nil {
		return err
	}
	zap.L().Error("payment collected for a subject that no longer awaits funding; credited payer wallet",
		zap.Bool("alert", true),
		zap.String("session_id", session.ID.String()),
		zap.String("previous_status", session.Status),
		zap.String("kind", session.Kind),
		zap.String("subject_id", session.SubjectID.String()),
		zap.String("payer_id", session.PayerID.String()),
		zap.Int64("amount", session.Amount),
	)
	return nil
}

// FailFunding marks the session failed. The subject stays where it was so the
// payer can start a new checkout.
func (s *FundingService) FailFunding(ctx context.Context, qtx repository.Querier, ev gateway.Event) error {
	session, err := qtx.GetPaymentSessionByReferenceForUpdate(ctx, ev.Provider, ev.Reference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("payment session %s/%s: %w", ev.Provider, ev.Reference, domain.ErrNotReady)
		}
		return fmt.Errorf("load payment session: %w", err)
	}
	if session.Status != domain.SessionStatusPendingConfirmation {
		return nil
	}
	return s.transitionSession(ctx, qtx, session, domain.SessionStatusFailed, "payment_failed", marshalReasonMetadata(ev.FailureReason))
}

// GetSession returns a payment session by id.
func (s *FundingService) GetSession(ctx context.Context, id uuid.UUID) (models.PaymentSession, error) {
	session, err := s.store.Queries().GetPaymentSession(ctx, id)
	if err != nil {
		return models.PaymentSession{}, notFound(err, "payment session")
	}
	return session, nil
}

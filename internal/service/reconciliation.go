package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/gateway"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/observability"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"go.uber.org/zap"
)

// DefaultFundingConfirmationWindow is how long a checkout may wait for its
// webhook before the provider is polled.
const DefaultFundingConfirmationWindow = 24 * time.Hour

// ReconciliationService catches up on missed funding webhooks and verifies
// ledger integrity invariants.
type ReconciliationService struct {
	store    QueryStore
	gateways *gateway.Registry
	funding  *FundingService
	clock    Clock
	window   time.Duration
}

func NewReconciliationService(store QueryStore, gateways *gateway.Registry, funding *FundingService, window time.Duration, clock Clock) *ReconciliationService {
	if window <= 0 {
		window = DefaultFundingConfirmationWindow
	}
	return &ReconciliationService{
		store:    store,
		gateways: gateways,
		funding:  funding,
		clock:    clock,
		window:   window,
	}
}

// SweepResult counts what a session sweep did.
type SweepResult struct {
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
	Pending   int `json:"pending"`
}

// SweepStaleSessions polls the gateway for sessions still awaiting
// confirmation after the confirmation window. Paid sessions are confirmed as
// if the webhook had arrived, failed ones are failed and sessions past their
// expiry are expired. Running it twice has no further effect.
func (s *ReconciliationService) SweepStaleSessions(ctx context.Context, limit int32) (SweepResult, error) {
	now := s.clock.now()
	stale, err := s.store.Queries().ListStalePaymentSessions(ctx, now.Add(-s.window), limit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list stale payment sessions: %w", err)
	}

	var result SweepResult
	for _, session := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, err := s.reconcileSession(ctx, session, now)
		if err != nil {
			zap.L().Error("session reconciliation failed",
				zap.String("session_id", session.ID.String()),
				zap.String("provider", session.Provider),
				zap.Error(err),
			)
			continue
		}
		switch outcome {
		case domain.SessionStatusConfirmed:
			result.Confirmed++
		case domain.SessionStatusFailed:
			result.Failed++
		case domain.SessionStatusExpired:
			result.Expired++
		default:
			result.Pending++
		}
	}
	if len(stale) > 0 {
		zap.L().Info("stale payment sessions swept",
			zap.Int("confirmed", result.Confirmed),
			zap.Int("failed", result.Failed),
			zap.Int("expired", result.Expired),
			zap.Int("pending", result.Pending),
		)
	}
	return result, nil
}

func (s *ReconciliationService) reconcileSession(ctx context.Context, session models.PaymentSession, now time.Time) (string, error) {
	gw, err := s.gateways.Gateway(session.Provider)
	if err != nil {
		return "", err
	}
	started := time.Now()
	status, err := gw.GetPaymentStatus(ctx, session.ProviderReference)
	observability.ObserveProviderCall(session.Provider, "payment_status", err, time.Since(started))
	if err != nil {
		return "", fmt.Errorf("poll payment status: %w", err)
	}

	ev := gateway.Event{
		Provider:  session.Provider,
		Reference: session.ProviderReference,
		Amount:    session.Amount,
		Currency:  session.Currency,
	}
	switch status {
	case gateway.StatusPaid:
		ev.Type = domain.EventEscrowFunded
		err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
			return s.funding.ConfirmFunding(ctx, qtx, ev)
		})
		return domain.SessionStatusConfirmed, err
	case gateway.StatusFailed:
		ev.Type = domain.EventPaymentFailed
		ev.FailureReason = "reported failed on reconciliation"
		err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
			return s.funding.FailFunding(ctx, qtx, ev)
		})
		return domain.SessionStatusFailed, err
	default:
		if now.After(session.ExpiresAt) {
			return domain.SessionStatusExpired, s.funding.expireSession(ctx, session)
		}
		return domain.SessionStatusPendingConfirmation, nil
	}
}

// LedgerReport is the outcome of a ledger integrity check.
type LedgerReport struct {
	Debits             int64    `json:"debits"`
	Credits            int64    `json:"credits"`
	WalletsChecked     int      `json:"wallets_checked"`
	ImbalancedAccounts []string `json:"imbalanced_accounts,omitempty"`
}

// Balanced reports whether every check passed.
func (r LedgerReport) Balanced() bool {
	return r.Debits == r.Credits && len(r.ImbalancedAccounts) == 0
}

// CheckLedger verifies that total debits equal total credits and that every
// wallet balance equals the net of its ledger account. Imbalances are logged
// as alerts and counted; they are not errors.
func (s *ReconciliationService) CheckLedger(ctx context.Context) (LedgerReport, error) {
	queries := s.store.Queries()
	totals, err := queries.GetLedgerTotals(ctx)
	if err != nil {
		return LedgerReport{}, fmt.Errorf("run ledger totals query: %w", err)
	}
	report := LedgerReport{Debits: totals.Debits, Credits: totals.Credits}
	if totals.Debits != totals.Credits {
		observability.IncrementLedgerImbalance("totals")
		zap.L().Error("ledger imbalance detected",
			zap.Bool("alert", true),
			zap.Int64("debits", totals.Debits),
			zap.Int64("credits", totals.Credits),
		)
	}

	wallets, err := queries.ListWalletAccounts(ctx)
	if err != nil {
		return LedgerReport{}, fmt.Errorf("list wallets: %w", err)
	}
	for _, wallet := range wallets {
		account := domain.WalletLedgerAccount(wallet.UserID)
		net, err := queries.GetLedgerAccountNet(ctx, account)
		if err != nil {
			return LedgerReport{}, fmt.Errorf("ledger net for %s: %w", account, err)
		}
		report.WalletsChecked++
		if net != wallet.Balance {
			report.ImbalancedAccounts = append(report.ImbalancedAccounts, account)
			observability.IncrementLedgerImbalance("wallet")
			zap.L().Error("wallet balance diverges from ledger",
				zap.Bool("alert", true),
				zap.String("user_id", wallet.UserID.String()),
				zap.Int64("balance_micros", wallet.Balance),
				zap.Int64("ledger_net_micros", net),
			)
		}
	}

	if report.Balanced() {
		zap.L().Info("ledger balanced", zap.Int("wallets_checked", report.WalletsChecked))
	}
	return report, nil
}

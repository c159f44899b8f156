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

func (q *Queries) CreatePaymentSession(_ context.Context, arg models.PaymentSession) (models.PaymentSession, error) {
	st, done := q.acquire()
	defer done()
	for _, s := range st.sessions {
		if s.ID == arg.ID || (s.Provider == arg.Provider && s.ProviderReference == arg.ProviderReference) {
			return models.PaymentSession{}, pgx.ErrNoRows
		}
		if arg.Status == domain.SessionStatusPendingConfirmation && s.Status == domain.SessionStatusPendingConfirmation &&
			s.Kind == arg.Kind && s.SubjectID == arg.SubjectID {
			return models.PaymentSession{}, pgx.ErrNoRows
		}
	}
	now := q.now()
	arg.CreatedAt, arg.UpdatedAt = now, now
	st.sessions[arg.ID] = arg
	return arg, nil
}

func (q *Queries) GetPaymentSession(_ context.Context, id uuid.UUID) (models.PaymentSession, error) {
	st, done := q.acquire()
	defer done()
	s, ok := st.sessions[id]
	if !ok {
		return models.PaymentSession{}, pgx.ErrNoRows
	}
	return s, nil
}

func (q *Queries) GetPaymentSessionByReferenceForUpdate(_ context.Context, provider, reference string) (models.PaymentSession, error) {
	st, done := q.acquire()
	defer done()
	for _, s := range st.sessions {
		if s.Provider == provider && s.ProviderReference == reference {
			return s, nil
		}
	}
	return models.PaymentSession{}, pgx.ErrNoRows
}

func (q *Queries) GetOpenPaymentSessionForSubject(_ context.Context, kind string, subjectID uuid.UUID) (models.PaymentSession, error) {
	st, done := q.acquire()
	defer done()
	for _, s := range st.sessions {
		if s.Kind == kind && s.SubjectID == subjectID && s.Status == domain.SessionStatusPendingConfirmation {
			return s, nil
		}
	}
	return models.PaymentSession{}, pgx.ErrNoRows
}

func (q *Queries) UpdatePaymentSessionStatus(_ context.Context, arg repository.UpdatePaymentSessionStatusParams) (int64, error) {
	st, done := q.acquire()
	defer done()
	s, ok := st.sessions[arg.ID]
	if !ok {
		return 0, nil
	}
	s.Status = arg.Status
	if arg.ConfirmedAt != nil {
		s.ConfirmedAt = ptr(*arg.ConfirmedAt)
	}
	s.UpdatedAt = q.now()
	st.sessions[arg.ID] = s
	return 1, nil
}

func (q *Queries) ListStalePaymentSessions(_ context.Context, createdBefore time.Time, limit int32) ([]models.PaymentSession, error) {
	st, done := q.acquire()
	defer done()
	var out []models.PaymentSession
	for _, s := range st.sessions {
		if s.Status == domain.SessionStatusPendingConfirmation && s.CreatedAt.Before(createdBefore) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (q *Queries) EnsureWalletAccount(_ context.Context, userID uuid.UUID, currency string) error {
	st, done := q.acquire()
	defer done()
	if _, ok := st.wallets[userID]; ok {
		return nil
	}
	st.wallets[userID] = models.WalletAccount{UserID: userID, Currency: currency, UpdatedAt: q.now()}
	return nil
}

func (q *Queries) GetWalletAccount(_ context.Context, userID uuid.UUID) (models.WalletAccount, error) {
	st, done := q.acquire()
	defer done()
	w, ok := st.wallets[userID]
	if !ok {
		return models.WalletAccount{}, pgx.ErrNoRows
	}
	return w, nil
}

func (q *Queries) GetWalletAccountForUpdate(ctx context.Context, userID uuid.UUID) (models.WalletAccount, error) {
	return q.GetWalletAccount(ctx, userID)
}

func (q *Queries) AdjustWalletBalance(_ context.Context, userID uuid.UUID, delta int64) (int64, error) {
	st, done := q.acquire()
	defer done()
	w, ok := st.wallets[userID]
	if !ok || w.Balance+delta < 0 {
		return 0, nil
	}
	w.Balance += delta
	w.UpdatedAt = q.now()
	st.wallets[userID] = w
	return 1, nil
}

func (q *Queries) ListWalletAccounts(_ context.Context) ([]models.WalletAccount, error) {
	st, done := q.acquire()
	defer done()
	out := make([]models.WalletAccount, 0, len(st.wallets))
	for _, w := range st.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

func (q *Queries) CreateLedgerEntry(_ context.Context, arg models.LedgerEntry) error {
	st, done := q.acquire()
	defer done()
	arg.CreatedAt = q.now()
	st.ledger = append(st.ledger, arg)
	return nil
}

func (q *Queries) GetLedgerTotals(_ context.Context) (repository.LedgerTotals, error) {
	st, done := q.acquire()
	defer done()
	var t repository.LedgerTotals
	for _, e := range st.ledger {
		if e.Direction == domain.DirectionDebit {
			t.Debits += e.Amount
		} else {
			t.Credits += e.Amount
		}
	}
	return t, nil
}

func (q *Queries) GetLedgerAccountNet(_ context.Context, account string) (int64, error) {
	st, done := q.acquire()
	defer done()
	var net int64
	for _, e := range st.ledger {
		if e.Account != account {
			continue
		}
		if e.Direction == domain.DirectionCredit {
			net += e.Amount
		} else {
			net -= e.Amount
		}
	}
	return net, nil
}

func (q *Queries) ListLedgerEntriesForEscrow(_ context.Context, escrowRecordID uuid.UUID) ([]models.LedgerEntry, error) {
	st, done := q.acquire()
	defer done()
	var out []models.LedgerEntry
	for _, e := range st.ledger {
		if e.EscrowRecordID != nil && *e.EscrowRecordID == escrowRecordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *Queries) CreateWithdrawal(_ context.Context, arg models.WithdrawalRequest) (models.WithdrawalRequest, error) {
	st, done := q.acquire()
	defer done()
	if _, exists := st.withdrawals[arg.ID]; exists {
		return models.WithdrawalRequest{}, pgx.ErrNoRows
	}
	now := q.now()
	arg.CreatedAt, arg.UpdatedAt = now, now
	st.withdrawals[arg.ID] = arg
	return arg, nil
}

func (q *Queries) GetWithdrawal(_ context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	st, done := q.acquire()
	defer done()
	w, ok := st.withdrawals[id]
	if !ok {
		return models.WithdrawalRequest{}, pgx.ErrNoRows
	}
	return w, nil
}

func (q *Queries) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return q.GetWithdrawal(ctx, id)
}

func (q *Queries) GetWithdrawalByProviderReference(_ context.Context, provider, reference string) (models.WithdrawalRequest, error) {
	st, done := q.acquire()
	defer done()
	for _, w := range st.withdrawals {
		if w.PayoutMethod == provider && w.ProviderReference != nil && *w.ProviderReference == reference {
			return w, nil
		}
	}
	return models.WithdrawalRequest{}, pgx.ErrNoRows
}

func (q *Queries) ListWithdrawalsByUser(_ context.Context, userID uuid.UUID, limit, offset int32) ([]models.WithdrawalRequest, error) {
	st, done := q.acquire()
	defer done()
	var out []models.WithdrawalRequest
	for _, w := range st.withdrawals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (q *Queries) UpdateWithdrawal(_ context.Context, arg repository.UpdateWithdrawalParams) (int64, error) {
	st, done := q.acquire()
	defer done()
	w, ok := st.withdrawals[arg.ID]
	if !ok {
		return 0, nil
	}
	w.Status = arg.Status
	if arg.ProviderReference != nil {
		w.ProviderReference = ptr(*arg.ProviderReference)
	}
	if arg.FailureReason != nil {
		w.FailureReason = ptr(*arg.FailureReason)
	}
	if arg.SubmittedAt != nil {
		w.SubmittedAt = ptr(*arg.SubmittedAt)
	}
	w.UpdatedAt = q.now()
	st.withdrawals[arg.ID] = w
	return 1, nil
}

func claimable(w models.WithdrawalRequest, staleBefore time.Time) bool {
	return w.Status == domain.WithdrawalStatusProcessing &&
		w.SubmittedAt == nil &&
		(w.ClaimedAt == nil || w.ClaimedAt.Before(staleBefore))
}

func (q *Queries) ClaimWithdrawal(_ context.Context, arg repository.ClaimWithdrawalParams) (int64, error) {
	st, done := q.acquire()
	defer done()
	w, ok := st.withdrawals[arg.ID]
	if !ok || !claimable(w, arg.StaleBefore) {
		return 0, nil
	}
	w.ClaimedAt = ptr(arg.ClaimedAt)
	w.Attempts++
	w.UpdatedAt = q.now()
	st.withdrawals[arg.ID] = w
	return 1, nil
}

func (q *Queries) ReleaseWithdrawalClaim(_ context.Context, id uuid.UUID) (int64, error) {
	st, done := q.acquire()
	defer done()
	w, ok := st.withdrawals[id]
	if !ok {
		return 0, nil
	}
	w.ClaimedAt = nil
	w.UpdatedAt = q.now()
	st.withdrawals[id] = w
	return 1, nil
}

func (q *Queries) ListClaimableWithdrawals(_ context.Context, staleBefore time.Time, limit int32) ([]models.WithdrawalRequest, error) {
	st, done := q.acquire()
	defer done()
	var out []models.WithdrawalRequest
	for _, w := range st.withdrawals {
		if claimable(w, staleBefore) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (q *Queries) DeactivateBankAccountRefs(_ context.Context, userID uuid.UUID, provider string) (int64, error) {
	st, done := q.acquire()
	defer done()
	var n int64
	for id, b := range st.bankRefs {
		if b.UserID == userID && b.Provider == provider && b.Active {
			b.Active = false
			st.bankRefs[id] = b
			n++
		}
	}
	return n, nil
}

func (q *Queries) CreateBankAccountRef(_ context.Context, arg models.BankAccountRef) (models.BankAccountRef, error) {
	st, done := q.acquire()
	defer done()
	for _, b := range st.bankRefs {
		if b.ID == arg.ID || (b.UserID == arg.UserID && b.Provider == arg.Provider && b.Active) {
			return models.BankAccountRef{}, pgx.ErrNoRows
		}
	}
	arg.Active = true
	arg.CreatedAt = q.now()
	st.bankRefs[arg.ID] = arg
	return arg, nil
}

func (q *Queries) GetBankAccountRef(_ context.Context, id uuid.UUID) (models.BankAccountRef, error) {
	st, done := q.acquire()
	defer done()
	b, ok := st.bankRefs[id]
	if !ok {
		return models.BankAccountRef{}, pgx.ErrNoRows
	}
	return b, nil
}

func (q *Queries) GetActiveBankAccountRef(_ context.Context, userID uuid.UUID, provider string) (models.BankAccountRef, error) {
	st, done := q.acquire()
	defer done()
	for _, b := range st.bankRefs {
		if b.UserID == userID && b.Provider == provider && b.Active {
			return b, nil
		}
	}
	return models.BankAccountRef{}, pgx.ErrNoRows
}

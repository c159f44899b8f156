package repository

import (
	"context"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `user_id, balance, currency, updated_at`

func scanWallet(row pgx.Row) (models.WalletAccount, error) {
	var w models.WalletAccount
	err := row.Scan(&w.UserID, &w.Balance, &w.Currency, &w.UpdatedAt)
	return w, err
}

func (q *Queries) EnsureWalletAccount(ctx context.Context, userID uuid.UUID, currency string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO wallet_accounts (user_id, balance, currency)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, currency)
	return err
}

func (q *Queries) GetWalletAccount(ctx context.Context, userID uuid.UUID) (models.WalletAccount, error) {
	return scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallet_accounts WHERE user_id = $1`, userID))
}

func (q *Queries) GetWalletAccountForUpdate(ctx context.Context, userID uuid.UUID) (models.WalletAccount, error) {
	return scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallet_accounts WHERE user_id = $1 FOR UPDATE`, userID))
}

// AdjustWalletBalance applies delta and refuses to drive the balance negative.
func (q *Queries) AdjustWalletBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	return q.execRows(ctx, `
		UPDATE wallet_accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE user_id = $1 AND balance + $2 >= 0`, userID, delta)
}

func (q *Queries) ListWalletAccounts(ctx context.Context) ([]models.WalletAccount, error) {
	rows, err := q.db.Query(ctx, `SELECT `+walletColumns+` FROM wallet_accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWallet)
}

const ledgerColumns = `id, escrow_record_id, withdrawal_id, account, amount, direction, created_at`

func scanLedgerEntry(row pgx.Row) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.EscrowRecordID, &e.WithdrawalID, &e.Account, &e.Amount, &e.Direction, &e.CreatedAt)
	return e, err
}

func (q *Queries) CreateLedgerEntry(ctx context.Context, arg models.LedgerEntry) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO ledger_entries (id, escrow_record_id, withdrawal_id, account, amount, direction)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		arg.ID, arg.EscrowRecordID, arg.WithdrawalID, arg.Account, arg.Amount, arg.Direction,
	)
	return err
}

func (q *Queries) GetLedgerTotals(ctx context.Context) (LedgerTotals, error) {
	var t LedgerTotals
	err := q.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'debit'), 0)::BIGINT,
			COALESCE(SUM(amount) FILTER (WHERE direction = 'credit'), 0)::BIGINT
		FROM ledger_entries`).Scan(&t.Debits, &t.Credits)
	return t, err
}

// GetLedgerAccountNet returns credits minus debits for account.
func (q *Queries) GetLedgerAccountNet(ctx context.Context, account string) (int64, error) {
	var net int64
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)::BIGINT
		FROM ledger_entries
		WHERE account = $1`, account).Scan(&net)
	return net, err
}

func (q *Queries) ListLedgerEntriesForEscrow(ctx context.Context, escrowRecordID uuid.UUID) ([]models.LedgerEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE escrow_record_id = $1
		ORDER BY created_at, id`, escrowRecordID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLedgerEntry)
}

const withdrawalColumns = `id, user_id, amount, currency, payout_method, bank_account_ref_id, status, provider_reference, failure_reason, attempts, claimed_at, submitted_at, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(
		&w.ID, &w.UserID, &w.Amount, &w.Currency, &w.PayoutMethod, &w.BankAccountRefID, &w.Status,
		&w.ProviderReference, &w.FailureReason, &w.Attempts, &w.ClaimedAt, &w.SubmittedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

func (q *Queries) CreateWithdrawal(ctx context.Context, arg models.WithdrawalRequest) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (id, user_id, amount, currency, payout_method, bank_account_ref_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+withdrawalColumns,
		arg.ID, arg.UserID, arg.Amount, arg.Currency, arg.PayoutMethod, arg.BankAccountRefID, arg.Status,
	))
}

func (q *Queries) GetWithdrawal(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
}

func (q *Queries) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetWithdrawalByProviderReference(ctx context.Context, provider, reference string) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE payout_method = $1 AND provider_reference = $2
		FOR UPDATE`, provider, reference))
}

func (q *Queries) ListWithdrawalsByUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWithdrawal)
}

func (q *Queries) UpdateWithdrawal(ctx context.Context, arg UpdateWithdrawalParams) (int64, error) {
	return q.execRows(ctx, `
		UPDATE withdrawal_requests
		SET status = $2,
		    provider_reference = COALESCE($3, provider_reference),
		    failure_reason = COALESCE($4, failure_reason),
		    submitted_at = COALESCE($5, submitted_at),
		    updated_at = NOW()
		WHERE id = $1`,
		arg.ID, arg.Status, arg.ProviderReference, arg.FailureReason, arg.SubmittedAt,
	)
}

func (q *Queries) ClaimWithdrawal(ctx context.Context, arg ClaimWithdrawalParams) (int64, error) {
	return q.execRows(ctx, `
		UPDATE withdrawal_requests
		SET claimed_at = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
		  AND status = 'processing'
		  AND submitted_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at < $3)`,
		arg.ID, arg.ClaimedAt, arg.StaleBefore,
	)
}

func (q *Queries) ReleaseWithdrawalClaim(ctx context.Context, id uuid.UUID) (int64, error) {
	return q.execRows(ctx, `UPDATE withdrawal_requests SET claimed_at = NULL, updated_at = NOW() WHERE id = $1`, id)
}

func (q *Queries) ListClaimableWithdrawals(ctx context.Context, staleBefore time.Time, limit int32) ([]models.WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE status = 'processing'
		  AND submitted_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at < $1)
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWithdrawal)
}

const bankRefColumns = `id, user_id, provider, kind, holder_name, bank_name, bank_code, country, last4, fingerprint, provider_recipient_ref, active, created_at`

func scanBankRef(row pgx.Row) (models.BankAccountRef, error) {
	var b models.BankAccountRef
	err := row.Scan(
		&b.ID, &b.UserID, &b.Provider, &b.Kind, &b.HolderName, &b.BankName, &b.BankCode, &b.Country,
		&b.Last4, &b.Fingerprint, &b.ProviderRecipientRef, &b.Active, &b.CreatedAt,
	)
	return b, err
}

func (q *Queries) DeactivateBankAccountRefs(ctx context.Context, userID uuid.UUID, provider string) (int64, error) {
	return q.execRows(ctx, `UPDATE bank_account_refs SET active = FALSE WHERE user_id = $1 AND provider = $2 AND active`, userID, provider)
}

func (q *Queries) CreateBankAccountRef(ctx context.Context, arg models.BankAccountRef) (models.BankAccountRef, error) {
	return scanBankRef(q.db.QueryRow(ctx, `
		INSERT INTO bank_account_refs (id, user_id, provider, kind, holder_name, bank_name, bank_code, country, last4, fingerprint, provider_recipient_ref, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
		RETURNING `+bankRefColumns,
		arg.ID, arg.UserID, arg.Provider, arg.Kind, arg.HolderName, arg.BankName, arg.BankCode, arg.Country,
		arg.Last4, arg.Fingerprint, arg.ProviderRecipientRef,
	))
}

func (q *Queries) GetBankAccountRef(ctx context.Context, id uuid.UUID) (models.BankAccountRef, error) {
	return scanBankRef(q.db.QueryRow(ctx, `SELECT `+bankRefColumns+` FROM bank_account_refs WHERE id = $1`, id))
}

func (q *Queries) GetActiveBankAccountRef(ctx context.Context, userID uuid.UUID, provider string) (models.BankAccountRef, error) {
	return scanBankRef(q.db.QueryRow(ctx, `
		SELECT `+bankRefColumns+`
		FROM bank_account_refs
		WHERE user_id = $1 AND provider = $2 AND active`, userID, provider))
}

package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/db"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/ayo6706/escrow-settlement/internal/repository/memstore"
	"github.com/ayo6706/escrow-settlement/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type store interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

func init() {
	_ = godotenv.Load("../../.env")
}

// forEachStore runs fn against the in-memory store and, when DATABASE_URL is
// set, against Postgres.
func forEachStore(t *testing.T, fn func(t *testing.T, s store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, memstore.New())
	})
	t.Run("postgres", func(t *testing.T) {
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			t.Skip("Skipping integration test: DATABASE_URL not set")
		}
		dblock.Acquire(t)

		ctx := context.Background()
		pool, err := db.Connect(ctx, dsn)
		require.NoError(t, err)
		defer pool.Close()
		require.NoError(t, db.Migrate(ctx, pool))
		fn(t, repository.NewStore(pool))
	})
}

func heldEscrow(kind string) models.EscrowRecord {
	return models.EscrowRecord{
		ID:          uuid.New(),
		Kind:        kind,
		SubjectID:   uuid.New(),
		PayerID:     uuid.New(),
		PayeeID:     uuid.New(),
		Amount:      1_025_000_000,
		PlatformFee: 25_000_000,
		Currency:    "USD",
		Status:      domain.EscrowStatusHeld,
	}
}

func TestEscrowRecordUniquePerSubject(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		q := s.Queries()

		first := heldEscrow(domain.EscrowKindOrder)
		created, err := q.CreateEscrowRecord(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, first.ID, created.ID)
		assert.Equal(t, int64(1_000_000_000), created.PayeeAmount())

		second := heldEscrow(domain.EscrowKindOrder)
		second.SubjectID = first.SubjectID
		_, err = q.CreateEscrowRecord(ctx, second)
		require.ErrorIs(t, err, pgx.ErrNoRows)

		active, err := q.GetActiveEscrowForSubject(ctx, domain.EscrowKindOrder, first.SubjectID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, active.ID)

		now := time.Now().UTC()
		rows, err := q.UpdateEscrowStatus(ctx, repository.UpdateEscrowStatusParams{ID: first.ID, Status: domain.EscrowStatusReleased, ReleasedAt: &now})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		_, err = q.GetActiveEscrowForSubject(ctx, domain.EscrowKindOrder, first.SubjectID)
		require.ErrorIs(t, err, pgx.ErrNoRows)
	})
}

func TestWalletBalanceNeverNegative(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		q := s.Queries()
		user := uuid.New()

		require.NoError(t, q.EnsureWalletAccount(ctx, user, "USD"))
		require.NoError(t, q.EnsureWalletAccount(ctx, user, "USD"))

		rows, err := q.AdjustWalletBalance(ctx, user, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		rows, err = q.AdjustWalletBalance(ctx, user, -51)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rows)

		wallet, err := q.GetWalletAccount(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, int64(50), wallet.Balance)

		_, err = q.GetWalletAccount(ctx, uuid.New())
		require.ErrorIs(t, err, pgx.ErrNoRows)
	})
}

func TestRunInTxRollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		user := uuid.New()
		require.NoError(t, s.Queries().EnsureWalletAccount(ctx, user, "USD"))

		err := s.RunInTx(ctx, func(qtx repository.Querier) error {
			if _, err := qtx.AdjustWalletBalance(ctx, user, 10); err != nil {
				return err
			}
			return domain.ErrInsufficientBalance
		})
		require.ErrorIs(t, err, domain.ErrInsufficientBalance)

		wallet, err := s.Queries().GetWalletAccount(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, int64(0), wallet.Balance)
	})
}

func TestWithdrawalClaimIsExclusive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		q := s.Queries()
		user := uuid.New()

		ref, err := q.CreateBankAccountRef(ctx, models.BankAccountRef{
			ID:                   uuid.New(),
			UserID:               user,
			Provider:             domain.ProviderMock,
			Kind:                 "bank",
			HolderName:           "Ada Lovelace",
			Country:              "US",
			Last4:                "6789",
			Fingerprint:          "fp-" + user.String(),
			ProviderRecipientRef: "rcp_" + user.String(),
			Active:               true,
		})
		require.NoError(t, err)

		w, err := q.CreateWithdrawal(ctx, models.WithdrawalRequest{
			ID:               uuid.New(),
			UserID:           user,
			Amount:           10,
			Currency:         "USD",
			PayoutMethod:     domain.ProviderMock,
			BankAccountRefID: ref.ID,
			Status:           domain.WithdrawalStatusProcessing,
		})
		require.NoError(t, err)

		now := time.Now().UTC()
		claim := repository.ClaimWithdrawalParams{ID: w.ID, ClaimedAt: now, StaleBefore: now.Add(-time.Minute)}
		rows, err := q.ClaimWithdrawal(ctx, claim)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		rows, err = q.ClaimWithdrawal(ctx, claim)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rows, "a fresh claim blocks a second claimant")

		rows, err = q.ClaimWithdrawal(ctx, repository.ClaimWithdrawalParams{ID: w.ID, ClaimedAt: now.Add(time.Hour), StaleBefore: now.Add(time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows, "a stale claim can be taken over")

		stored, err := q.GetWithdrawal(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(2), stored.Attempts)
	})
}

func TestPaymentEventKeyIsUnique(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		q := s.Queries()
		key := domain.ProviderMock + ":" + uuid.NewString() + ":" + domain.EventEscrowFunded

		ev := models.PaymentEvent{
			ID:                uuid.New(),
			Provider:          domain.ProviderMock,
			ProviderReference: "ref",
			EventType:         domain.EventEscrowFunded,
			IdempotencyKey:    key,
			PayloadHash:       "abc",
			Payload:           []byte(`{}`),
		}
		_, err := q.CreatePaymentEvent(ctx, ev)
		require.NoError(t, err)

		ev.ID = uuid.New()
		_, err = q.CreatePaymentEvent(ctx, ev)
		require.ErrorIs(t, err, pgx.ErrNoRows)

		stored, err := q.GetPaymentEventByKey(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "abc", stored.PayloadHash)
	})
}

func TestIdempotencyKeyLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		q := s.Queries()
		key := "user:" + uuid.NewString()

		rec, err := q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
			IdempotencyKey: key, RequestHash: "h1", Method: "POST", Path: "/wallet/withdrawals",
		})
		require.NoError(t, err)
		assert.True(t, rec.InProgress)

		_, err = q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{IdempotencyKey: key, RequestHash: "h1"})
		require.ErrorIs(t, err, pgx.ErrNoRows)

		_, err = q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{IdempotencyKey: key, RequestHash: "h2", ResponseStatus: 202})
		require.ErrorIs(t, err, pgx.ErrNoRows)

		rec, err = q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
			IdempotencyKey: key, RequestHash: "h1", ResponseStatus: 202, ResponseBody: []byte(`{"ok":true}`), ContentType: "application/json",
		})
		require.NoError(t, err)
		assert.False(t, rec.InProgress)
		assert.Equal(t, int32(202), rec.ResponseStatus)

		require.NoError(t, q.DeleteIdempotencyKey(ctx, key, "h2"))
		_, err = q.GetIdempotencyKey(ctx, key)
		require.NoError(t, err, "delete with another hash is a no-op")

		require.NoError(t, q.DeleteIdempotencyKey(ctx, key, "h1"))
		_, err = q.GetIdempotencyKey(ctx, key)
		require.ErrorIs(t, err, pgx.ErrNoRows)
	})
}

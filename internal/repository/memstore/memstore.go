// Package memstore is an in-memory implementation of repository.Querier with
// the same row semantics as the Postgres queries. Transactions are serialized
// by a single mutex and applied copy-on-commit, so a failed transaction leaves
// no trace. It backs unit tests and the memory storage driver.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/google/uuid"
)

type state struct {
	escrows     map[uuid.UUID]models.EscrowRecord
	projects    map[uuid.UUID]models.Project
	orders      map[uuid.UUID]models.Order
	sessions    map[uuid.UUID]models.PaymentSession
	disputes    map[uuid.UUID]models.DisputeCase
	wallets     map[uuid.UUID]models.WalletAccount
	withdrawals map[uuid.UUID]models.WithdrawalRequest
	bankRefs    map[uuid.UUID]models.BankAccountRef
	events      map[uuid.UUID]models.PaymentEvent
	deferred    map[uuid.UUID]models.DeferredEvent
	idempotency map[string]models.IdempotencyRecord
	ledger      []models.LedgerEntry
	audit       []AuditEntry
}

// AuditEntry is a stored audit row.
type AuditEntry struct {
	ID int64
	repository.InsertAuditLogParams
	CreatedAt time.Time
}

func newState() *state {
	return &state{
		escrows:     map[uuid.UUID]models.EscrowRecord{},
		projects:    map[uuid.UUID]models.Project{},
		orders:      map[uuid.UUID]models.Order{},
		sessions:    map[uuid.UUID]models.PaymentSession{},
		disputes:    map[uuid.UUID]models.DisputeCase{},
		wallets:     map[uuid.UUID]models.WalletAccount{},
		withdrawals: map[uuid.UUID]models.WithdrawalRequest{},
		bankRefs:    map[uuid.UUID]models.BankAccountRef{},
		events:      map[uuid.UUID]models.PaymentEvent{},
		deferred:    map[uuid.UUID]models.DeferredEvent{},
		idempotency: map[string]models.IdempotencyRecord{},
	}
}

func (s *state) clone() *state {
	return &state{
		escrows:     maps.Clone(s.escrows),
		projects:    maps.Clone(s.projects),
		orders:      maps.Clone(s.orders),
		sessions:    maps.Clone(s.sessions),
		disputes:    maps.Clone(s.disputes),
		wallets:     maps.Clone(s.wallets),
		withdrawals: maps.Clone(s.withdrawals),
		bankRefs:    maps.Clone(s.bankRefs),
		events:      maps.Clone(s.events),
		deferred:    maps.Clone(s.deferred),
		idempotency: maps.Clone(s.idempotency),
		ledger:      slices.Clone(s.ledger),
		audit:       slices.Clone(s.audit),
	}
}

// Store is a transactional in-memory store.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithClock overrides the timestamp source used for created_at/updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Queries returns an autocommit query set. Each call locks the store, so it
// must not be used from inside RunInTx.
func (s *Store) Queries() repository.Querier {
	return &Queries{store: s}
}

// RunInTx runs fn against a private copy of the state and publishes it only
// when fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&Queries{store: s, tx: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// AuditEntries returns a copy of the audit trail.
func (s *Store) AuditEntries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.audit)
}

// Queries implements repository.Querier over a Store. When tx is set the
// calls operate on the transaction's working copy without locking.
type Queries struct {
	store *Store
	tx    *state
}

var _ repository.Querier = (*Queries)(nil)

func (q *Queries) acquire() (*state, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.store.mu.Lock()
	return q.store.state, q.store.mu.Unlock
}

func (q *Queries) now() time.Time {
	return q.store.now()
}

func ptr[T any](v T) *T {
	return &v
}

func page[T any](items []T, limit, offset int32) []T {
	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

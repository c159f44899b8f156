package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (q *Queries) CreatePaymentEvent(_ context.Context, arg models.PaymentEvent) (models.PaymentEvent, error) {
	st, done := q.acquire()
	defer done()
	for _, e := range st.events {
		if e.ID == arg.ID || e.IdempotencyKey == arg.IdempotencyKey {
			return models.PaymentEvent{}, pgx.ErrNoRows
		}
	}
	arg.ReceivedAt = q.now()
	st.events[arg.ID] = arg
	return arg, nil
}

func (q *Queries) GetPaymentEvent(_ context.Context, id uuid.UUID) (models.PaymentEvent, error) {
	st, done := q.acquire()
	defer done()
	e, ok := st.events[id]
	if !ok {
		return models.PaymentEvent{}, pgx.ErrNoRows
	}
	return e, nil
}

func (q *Queries) GetPaymentEventByKey(_ context.Context, idempotencyKey string) (models.PaymentEvent, error) {
	st, done := q.acquire()
	defer done()
	for _, e := range st.events {
		if e.IdempotencyKey == idempotencyKey {
			return e, nil
		}
	}
	return models.PaymentEvent{}, pgx.ErrNoRows
}

func (q *Queries) EnqueueDeferredEvent(_ context.Context, arg models.DeferredEvent) error {
	st, done := q.acquire()
	defer done()
	if _, exists := st.deferred[arg.EventID]; exists {
		return nil
	}
	arg.CreatedAt = q.now()
	st.deferred[arg.EventID] = arg
	return nil
}

func (q *Queries) GetDeferredEventForUpdate(_ context.Context, eventID uuid.UUID) (models.DeferredEvent, error) {
	st, done := q.acquire()
	defer done()
	d, ok := st.deferred[eventID]
	if !ok || d.Dead {
		return models.DeferredEvent{}, pgx.ErrNoRows
	}
	return d, nil
}

func (q *Queries) ListDueDeferredEvents(_ context.Context, now time.Time, limit int32) ([]models.DeferredEvent, error) {
	st, done := q.acquire()
	defer done()
	var out []models.DeferredEvent
	for _, d := range st.deferred {
		if !d.Dead && !d.NextAttemptAt.After(now) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return page(out, limit, 0), nil
}

func (q *Queries) RescheduleDeferredEvent(_ context.Context, arg repository.RescheduleDeferredEventParams) (int64, error) {
	st, done := q.acquire()
	defer done()
	d, ok := st.deferred[arg.EventID]
	if !ok {
		return 0, nil
	}
	d.Attempts = arg.Attempts
	d.NextAttemptAt = arg.NextAttemptAt
	d.LastError = ptr(arg.LastError)
	st.deferred[arg.EventID] = d
	return 1, nil
}

func (q *Queries) MarkDeferredEventDead(_ context.Context, eventID uuid.UUID, lastError string) (int64, error) {
	st, done := q.acquire()
	defer done()
	d, ok := st.deferred[eventID]
	if !ok {
		return 0, nil
	}
	d.Dead = true
	d.LastError = ptr(lastError)
	st.deferred[eventID] = d
	return 1, nil
}

func (q *Queries) DeleteDeferredEvent(_ context.Context, eventID uuid.UUID) (int64, error) {
	st, done := q.acquire()
	defer done()
	if _, ok := st.deferred[eventID]; !ok {
		return 0, nil
	}
	delete(st.deferred, eventID)
	return 1, nil
}

func (q *Queries) CountPendingDeferredEvents(_ context.Context) (int64, error) {
	st, done := q.acquire()
	defer done()
	var n int64
	for _, d := range st.deferred {
		if !d.Dead {
			n++
		}
	}
	return n, nil
}

func (q *Queries) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) (int64, error) {
	st, done := q.acquire()
	defer done()
	id := int64(len(st.audit) + 1)
	st.audit = append(st.audit, AuditEntry{ID: id, InsertAuditLogParams: arg, CreatedAt: q.now()})
	return id, nil
}

func (q *Queries) GetIdempotencyKey(_ context.Context, key string) (models.IdempotencyRecord, error) {
	st, done := q.acquire()
	defer done()
	r, ok := st.idempotency[key]
	if !ok {
		return models.IdempotencyRecord{}, pgx.ErrNoRows
	}
	return r, nil
}

func (q *Queries) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (models.IdempotencyRecord, error) {
	st, done := q.acquire()
	defer done()
	if _, exists := st.idempotency[arg.IdempotencyKey]; exists {
		return models.IdempotencyRecord{}, pgx.ErrNoRows
	}
	r := models.IdempotencyRecord{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		Method:         arg.Method,
		Path:           arg.Path,
		ContentType:    "application/json",
		InProgress:     true,
		CreatedAt:      q.now(),
	}
	st.idempotency[arg.IdempotencyKey] = r
	return r, nil
}

func (q *Queries) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (models.IdempotencyRecord, error) {
	st, done := q.acquire()
	defer done()
	r, ok := st.idempotency[arg.IdempotencyKey]
	if !ok || r.RequestHash != arg.RequestHash {
		return models.IdempotencyRecord{}, pgx.ErrNoRows
	}
	r.ResponseStatus = arg.ResponseStatus
	r.ResponseBody = append([]byte(nil), arg.ResponseBody...)
	r.ContentType = arg.ContentType
	r.InProgress = false
	st.idempotency[arg.IdempotencyKey] = r
	return r, nil
}

func (q *Queries) DeleteIdempotencyKey(_ context.Context, key, requestHash string) error {
	st, done := q.acquire()
	defer done()
	if r, ok := st.idempotency[key]; ok && r.RequestHash == requestHash {
		delete(st.idempotency, key)
	}
	return nil
}

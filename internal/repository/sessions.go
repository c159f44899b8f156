package repository

import (
	"context"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, kind, subject_id, provider, provider_reference, payer_id, payee_id, amount, platform_fee, currency, status, checkout_url, expires_at, confirmed_at, created_at, updated_at`

func scanPaymentSession(row pgx.Row) (models.PaymentSession, error) {
	var s models.PaymentSession
	err := row.Scan(
		&s.ID, &s.Kind, &s.SubjectID, &s.Provider, &s.ProviderReference, &s.PayerID, &s.PayeeID,
		&s.Amount, &s.PlatformFee, &s.Currency, &s.Status, &s.CheckoutURL, &s.ExpiresAt,
		&s.ConfirmedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

func (q *Queries) CreatePaymentSession(ctx context.Context, arg models.PaymentSession) (models.PaymentSession, error) {
	return scanPaymentSession(q.db.QueryRow(ctx, `
		INSERT INTO payment_sessions (id, kind, subject_id, provider, provider_reference, payer_id, payee_id, amount, platform_fee, currency, status, checkout_url, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING
		RETURNING `+sessionColumns,
		arg.ID, arg.Kind, arg.SubjectID, arg.Provider, arg.ProviderReference, arg.PayerID, arg.PayeeID,
		arg.Amount, arg.PlatformFee, arg.Currency, arg.Status, arg.CheckoutURL, arg.ExpiresAt,
	))
}

func (q *Queries) GetPaymentSession(ctx context.Context, id uuid.UUID) (models.PaymentSession, error) {
	return scanPaymentSession(q.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1`, id))
}

func (q *Queries) GetPaymentSessionByReferenceForUpdate(ctx context.Context, provider, reference string) (models.PaymentSession, error) {
	return scanPaymentSession(q.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM payment_sessions
		WHERE provider = $1 AND provider_reference = $2
		FOR UPDATE`, provider, reference))
}

func (q *Queries) GetOpenPaymentSessionForSubject(ctx context.Context, kind string, subjectID uuid.UUID) (models.PaymentSession, error) {
	return scanPaymentSession(q.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM payment_sessions
		WHERE kind = $1 AND subject_id = $2 AND status = 'pending_confirmation'`, kind, subjectID))
}

func (q *Queries) UpdatePaymentSessionStatus(ctx context.Context, arg UpdatePaymentSessionStatusParams) (int64, error) {
	return q.execRows(ctx, `
		UPDATE payment_sessions
		SET status = $2, confirmed_at = COALESCE($3, confirmed_at), updated_at = NOW()
		WHERE id = $1`,
		arg.ID, arg.Status, arg.ConfirmedAt,
	)
}

func (q *Queries) ListStalePaymentSessions(ctx context.Context, createdBefore time.Time, limit int32) ([]models.PaymentSession, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM payment_sessions
		WHERE status = 'pending_confirmation' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPaymentSession)
}

const eventColumns = `id, provider, provider_reference, event_type, idempotency_key, payload_hash, payload, received_at`

func scanPaymentEvent(row pgx.Row) (models.PaymentEvent, error) {
	var e models.PaymentEvent
	err := row.Scan(&e.ID, &e.Provider, &e.ProviderReference, &e.EventType, &e.IdempotencyKey, &e.PayloadHash, &e.Payload, &e.ReceivedAt)
	return e, err
}

func (q *Queries) CreatePaymentEvent(ctx context.Context, arg models.PaymentEvent) (models.PaymentEvent, error) {
	return scanPaymentEvent(q.db.QueryRow(ctx, `
		INSERT INTO payment_events (id, provider, provider_reference, event_type, idempotency_key, payload_hash, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+eventColumns,
		arg.ID, arg.Provider, arg.ProviderReference, arg.EventType, arg.IdempotencyKey, arg.PayloadHash, arg.Payload,
	))
}

func (q *Queries) GetPaymentEvent(ctx context.Context, id uuid.UUID) (models.PaymentEvent, error) {
	return scanPaymentEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM payment_events WHERE id = $1`, id))
}

func (q *Queries) GetPaymentEventByKey(ctx context.Context, idempotencyKey string) (models.PaymentEvent, error) {
	return scanPaymentEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM payment_events WHERE idempotency_key = $1`, idempotencyKey))
}

const deferredColumns = `event_id, attempts, next_attempt_at, last_error, dead, created_at`

func scanDeferredEvent(row pgx.Row) (models.DeferredEvent, error) {
	var d models.DeferredEvent
	err := row.Scan(&d.EventID, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.Dead, &d.CreatedAt)
	return d, err
}

func (q *Queries) EnqueueDeferredEvent(ctx context.Context, arg models.DeferredEvent) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO deferred_events (event_id, attempts, next_attempt_at, last_error)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		arg.EventID, arg.Attempts, arg.NextAttemptAt, arg.LastError,
	)
	return err
}

func (q *Queries) GetDeferredEventForUpdate(ctx context.Context, eventID uuid.UUID) (models.DeferredEvent, error) {
	return scanDeferredEvent(q.db.QueryRow(ctx, `
		SELECT `+deferredColumns+`
		FROM deferred_events
		WHERE event_id = $1 AND NOT dead
		FOR UPDATE SKIP LOCKED`, eventID))
}

func (q *Queries) ListDueDeferredEvents(ctx context.Context, now time.Time, limit int32) ([]models.DeferredEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+deferredColumns+`
		FROM deferred_events
		WHERE NOT dead AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDeferredEvent)
}

func (q *Queries) RescheduleDeferredEvent(ctx context.Context, arg RescheduleDeferredEventParams) (int64, error) {
	return q.execRows(ctx, `
		UPDATE deferred_events
		SET attempts = $2, next_attempt_at = $3, last_error = $4
		WHERE event_id = $1`,
		arg.EventID, arg.Attempts, arg.NextAttemptAt, arg.LastError,
	)
}

func (q *Queries) MarkDeferredEventDead(ctx context.Context, eventID uuid.UUID, lastError string) (int64, error) {
	return q.execRows(ctx, `UPDATE deferred_events SET dead = TRUE, last_error = $2 WHERE event_id = $1`, eventID, lastError)
}

func (q *Queries) DeleteDeferredEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	return q.execRows(ctx, `DELETE FROM deferred_events WHERE event_id = $1`, eventID)
}

func (q *Queries) CountPendingDeferredEvents(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM deferred_events WHERE NOT dead`).Scan(&n)
	return n, err
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata,
	).Scan(&id)
	return id, err
}

const idempotencyColumns = `idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, created_at`

func scanIdempotencyRecord(row pgx.Row) (models.IdempotencyRecord, error) {
	var r models.IdempotencyRecord
	err := row.Scan(&r.IdempotencyKey, &r.RequestHash, &r.Method, &r.Path, &r.ResponseStatus, &r.ResponseBody, &r.ContentType, &r.InProgress, &r.CreatedAt)
	return r, err
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyRecord, error) {
	return scanIdempotencyRecord(q.db.QueryRow(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE idempotency_key = $1`, key))
}

func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (models.IdempotencyRecord, error) {
	return scanIdempotencyRecord(q.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+idempotencyColumns,
		arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path,
	))
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (models.IdempotencyRecord, error) {
	return scanIdempotencyRecord(q.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING `+idempotencyColumns,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash,
	))
}

func (q *Queries) DeleteIdempotencyKey(ctx context.Context, key, requestHash string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND request_hash = $2`, key, requestHash)
	return err
}

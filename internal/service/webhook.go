package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

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

// Webhook handling outcomes.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookDeferred  = "deferred"
)

const defaultDeferredMaxAttempts = 10

var errDuplicateEvent = errors.New("payment event already recorded")

// WebhookIngestor verifies provider deliveries, deduplicates them and applies
// them to payment sessions and withdrawals exactly once.
type WebhookIngestor struct {
	store       QueryStore
	gateways    *gateway.Registry
	funding     *FundingService
	payouts     *PayoutProcessor
	notifier    notify.Notifier
	clock       Clock
	maxAttempts int
	retryDelay  time.Duration
}

func NewWebhookIngestor(store QueryStore, gateways *gateway.Registry, funding *FundingService, payouts *PayoutProcessor, notifier notify.Notifier, maxAttempts int, clock Clock) *WebhookIngestor {
	if maxAttempts <= 0 {
		maxAttempts = defaultDeferredMaxAttempts
	}
	return &WebhookIngestor{
		store:       store,
		gateways:    gateways,
		funding:     funding,
		payouts:     payouts,
		notifier:    notifier,
		clock:       clock,
		maxAttempts: maxAttempts,
		retryDelay:  30 * time.Second,
	}
}

// WebhookResult reports what Handle did with a delivery.
type WebhookResult struct {
	EventID uuid.UUID `json:"event_id"`
	Status  string    `json:"status"`
}

// Handle verifies and applies one webhook delivery. A replay of an already
// processed event is a no-op; a replay whose content differs returns
// domain.ErrIdempotencyViolation. Events whose subject is not ready yet are
// stored and deferred.
func (w *WebhookIngestor) Handle(ctx context.Context, provider string, payload []byte, headers http.Header) (WebhookResult, error) {
	gw, err := w.gateways.Gateway(provider)
	if err != nil {
		return WebhookResult{}, err
	}
	ev, err := gw.ParseWebhook(payload, headers)
	if err != nil {
		observability.IncrementWebhookEvent(provider, "rejected")
		return WebhookResult{}, err
	}
	ev.Provider = provider
	ev.Reference = strings.TrimSpace(ev.Reference)
	if ev.Reference == "" {
		return WebhookResult{}, domain.NewValidationError("reference", domain.ReasonEmpty, "event reference is required")
	}

	normalized, err := json.Marshal(ev)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("encode event: %w", err)
	}
	key := eventIdempotencyKey(ev)
	hash := sha256Hex(normalized)

	existing, err := w.store.Queries().GetPaymentEventByKey(ctx, key)
	switch {
	case err == nil:
		return w.replay(existing, ev, hash)
	case !errors.Is(err, pgx.ErrNoRows):
		return WebhookResult{}, fmt.Errorf("check event idempotency: %w", err)
	}

	event := models.PaymentEvent{
		ID:                uuid.New(),
		Provider:          provider,
		ProviderReference: ev.Reference,
		EventType:         ev.Type,
		IdempotencyKey:    key,
		PayloadHash:       hash,
		Payload:           normalized,
	}

	var notes []notify.Notification
	err = w.store.RunInTx(ctx, func(qtx repository.Querier) error {
		created, err := qtx.CreatePaymentEvent(ctx, event)
		if errors.Is(err, pgx.ErrNoRows) {
			return errDuplicateEvent
		}
		if err != nil {
			return fmt.Errorf("create payment event: %w", err)
		}
		event = created
		notes, err = w.dispatch(ctx, qtx, ev)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, errDuplicateEvent):
		// A concurrent delivery of the same event won the insert.
		existing, getErr := w.store.Queries().GetPaymentEventByKey(ctx, key)
		if getErr != nil {
			return WebhookResult{}, fmt.Errorf("reload payment event: %w", getErr)
		}
		return w.replay(existing, ev, hash)
	case errors.Is(err, domain.ErrNotReady):
		return w.deferEvent(ctx, event, err)
	default:
		observability.IncrementWebhookEvent(provider, "failed")
		return WebhookResult{}, err
	}

	for _, note := range notes {
		notify.Send(ctx, w.notifier, note)
	}
	observability.IncrementWebhookEvent(provider, WebhookProcessed)
	zap.L().Info("webhook processed",
		zap.String("event_id", event.ID.String()),
		zap.String("provider", provider),
		zap.String("event_type", ev.Type),
		zap.String("reference", ev.Reference),
	)
	return WebhookResult{EventID: event.ID, Status: WebhookProcessed}, nil
}

func (w *WebhookIngestor) replay(existing models.PaymentEvent, ev gateway.Event, hash string) (WebhookResult, error) {
	if existing.PayloadHash != hash {
		observability.IncrementWebhookEvent(ev.Provider, "idempotency_violation")
		zap.L().Error("webhook replay with different payload",
			zap.Bool("alert", true),
			zap.String("event_id", existing.ID.String()),
			zap.String("provider", ev.Provider),
			zap.String("event_type", ev.Type),
			zap.String("reference", ev.Reference),
		)
		return WebhookResult{}, domain.ErrIdempotencyViolation
	}
	observability.IncrementWebhookEvent(ev.Provider, WebhookDuplicate)
	return WebhookResult{EventID: existing.ID, Status: WebhookDuplicate}, nil
}

// dispatch applies a normalized event inside qtx and returns the
// notifications to send once it commits.
func (w *WebhookIngestor) dispatch(ctx context.Context, qtx repository.Querier, ev gateway.Event) ([]notify.Notification, error) {
	switch ev.Type {
	case domain.EventEscrowFunded:
		return nil, w.funding.ConfirmFunding(ctx, qtx, ev)
	case domain.EventPaymentFailed:
		return nil, w.funding.FailFunding(ctx, qtx, ev)
	case domain.EventPayoutPaid, domain.EventPayoutFailed:
		note, err := w.payouts.ApplyPayoutOutcome(ctx, qtx, ev)
		if err != nil || note == nil {
			return nil, err
		}
		return []notify.Notification{*note}, nil
	default:
		zap.L().Info("ignoring webhook event", zap.String("provider", ev.Provider), zap.String("event_type", ev.Type))
		return nil, nil
	}
}

// deferEvent stores an event whose subject is not ready and queues it for retry.
func (w *WebhookIngestor) deferEvent(ctx context.Context, event models.PaymentEvent, cause error) (WebhookResult, error) {
	err := w.store.RunInTx(ctx, func(qtx repository.Querier) error {
		created, err := qtx.CreatePaymentEvent(ctx, event)
		if errors.Is(err, pgx.ErrNoRows) {
			return errDuplicateEvent
		}
		if err != nil {
			return fmt.Errorf("create payment event: %w", err)
		}
		event = created
		reason := cause.Error()
		return qtx.EnqueueDeferredEvent(ctx, models.DeferredEvent{
			EventID:       event.ID,
			Attempts:      0,
			NextAttemptAt: w.clock.now().Add(w.retryDelay),
			LastError:     &reason,
		})
	})
	if errors.Is(err, errDuplicateEvent) {
		existing, getErr := w.store.Queries().GetPaymentEventByKey(ctx, event.IdempotencyKey)
		if getErr != nil {
			return WebhookResult{}, fmt.Errorf("reload payment event: %w", getErr)
		}
		return w.replay(existing, gateway.Event{Provider: event.Provider, Type: event.EventType, Reference: event.ProviderReference}, event.PayloadHash)
	}
	if err != nil {
		return WebhookResult{}, fmt.Errorf("defer payment event: %w", err)
	}

	observability.IncrementWebhookEvent(event.Provider, WebhookDeferred)
	zap.L().Warn("webhook deferred",
		zap.String("event_id", event.ID.String()),
		zap.String("provider", event.Provider),
		zap.String("event_type", event.EventType),
		zap.String("reference", event.ProviderReference),
		zap.Error(cause),
	)
	w.reportQueueSize(ctx)
	return WebhookResult{EventID: event.ID, Status: WebhookDeferred}, nil
}

// RetryDeferred re-dispatches due deferred events. An event that is still not
// ready is rescheduled with exponential delay until maxAttempts, after which
// it is marked dead and an alert is logged. It returns how many were applied.
func (w *WebhookIngestor) RetryDeferred(ctx context.Context, limit int32) (int, error) {
	due, err := w.store.Queries().ListDueDeferredEvents(ctx, w.clock.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list deferred events: %w", err)
	}

	applied := 0
	for _, item := range due {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		ok, err := w.retryOne(ctx, item.EventID)
		if err != nil {
			zap.L().Error("deferred event retry failed", zap.String("event_id", item.EventID.String()), zap.Error(err))
			continue
		}
		if ok {
			applied++
		}
	}
	w.reportQueueSize(ctx)
	return applied, nil
}

func (w *WebhookIngestor) retryOne(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var (
		notes   []notify.Notification
		applied bool
	)
	err := w.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.GetDeferredEventForUpdate(ctx, eventID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("lock deferred event: %w", err)
		}
		event, err := qtx.GetPaymentEvent(ctx, eventID)
		if err != nil {
			return notFound(err, "payment event")
		}
		var ev gateway.Event
		if err := json.Unmarshal(event.Payload, &ev); err != nil {
			return fmt.Errorf("decode payment event: %w", err)
		}

		notes, err = w.dispatch(ctx, qtx, ev)
		if err != nil {
			return err
		}
		if _, err := qtx.DeleteDeferredEvent(ctx, eventID); err != nil {
			return fmt.Errorf("delete deferred event: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, w.reschedule(ctx, eventID, err)
	}
	for _, note := range notes {
		notify.Send(ctx, w.notifier, note)
	}
	if applied {
		zap.L().Info("deferred webhook applied", zap.String("event_id", eventID.String()))
	}
	return applied, nil
}

// reschedule records a failed retry. Failures other than domain.ErrNotReady
// are retried too; they count towards the same attempt limit.
func (w *WebhookIngestor) reschedule(ctx context.Context, eventID uuid.UUID, cause error) error {
	return w.store.RunInTx(ctx, func(qtx repository.Querier) error {
		item, err := qtx.GetDeferredEventForUpdate(ctx, eventID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock deferred event: %w", err)
		}
		attempts := item.Attempts + 1
		if int(attempts) >= w.maxAttempts {
			if _, err := qtx.MarkDeferredEventDead(ctx, eventID, cause.Error()); err != nil {
				return fmt.Errorf("mark deferred event dead: %w", err)
			}
			zap.L().Error("deferred webhook abandoned",
				zap.Bool("alert", true),
				zap.String("event_id", eventID.String()),
				zap.Int32("attempts", attempts),
				zap.Error(cause),
			)
			return nil
		}
		_, err = qtx.RescheduleDeferredEvent(ctx, repository.RescheduleDeferredEventParams{
			EventID:       eventID,
			Attempts:      attempts,
			NextAttemptAt: w.clock.now().Add(w.deferredDelay(attempts)),
			LastError:     cause.Error(),
		})
		if err != nil {
			return fmt.Errorf("reschedule deferred event: %w", err)
		}
		return nil
	})
}

// deferredDelay is the wait before retry number attempts+1.
func (w *WebhookIngestor) deferredDelay(attempts int32) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	delay := b.NextBackOff()
	for i := int32(1); i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (w *WebhookIngestor) reportQueueSize(ctx context.Context) {
	size, err := w.store.Queries().CountPendingDeferredEvents(ctx)
	if err != nil {
		zap.L().Warn("count deferred events failed", zap.Error(err))
		return
	}
	observability.SetDeferredQueueSize(size)
}

func eventIdempotencyKey(ev gateway.Event) string {
	return sha256Hex([]byte(ev.Provider + "|" + ev.Reference + "|" + ev.Type))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/gateway"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeRoundsToMinorUnit(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name       string
		base       int64
		currency   string
		wantAmount int64
		wantFee    int64
	}{
		{name: "whole fee", base: units(1000), currency: "USD", wantAmount: units(1025), wantFee: units(25)},
		{name: "fractional fee rounds down", base: 10_010_000, currency: "USD", wantAmount: 10_260_000, wantFee: 250_000},
		{name: "fractional fee rounds up", base: 10_220_000, currency: "USD", wantAmount: 10_480_000, wantFee: 260_000},
		{name: "sub-cent base", base: 10_004_000, currency: "USD", wantAmount: 10_250_000, wantFee: 246_000},
		{name: "zero decimal currency", base: units(1001), currency: "XOF", wantAmount: units(1026), wantFee: units(25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, fee := h.funding.Charge(tt.base, tt.currency)
			assert.Equal(t, tt.wantAmount, amount)
			assert.Equal(t, tt.wantFee, fee)
			assert.Equal(t, tt.base, amount-fee)
			assert.True(t, domain.IsWholeMinorUnit(amount, tt.currency))
		})
	}
}

func TestProjectFundedAtMinorUnitPrecision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, freelancer := uuid.New(), uuid.New()
	project, err := h.projects.Create(ctx, CreateProjectRequest{
		OwnerID: owner, FreelancerID: freelancer, AgreedPrice: 10_010_000, Currency: testCurrency,
	})
	require.NoError(t, err)
	session, err := h.projects.PlaceEscrow(ctx, PlaceProjectEscrowRequest{ProjectID: project.ID, ActorID: owner, Amount: 10_010_000})
	require.NoError(t, err)
	assert.Equal(t, int64(10_260_000), session.Amount)
	assert.Equal(t, int64(250_000), session.PlatformFee)

	// The provider reports what it actually collected, in cents.
	res, err := h.deliver(t, gateway.Event{
		Reference: session.ProviderReference,
		Type:      domain.EventEscrowFunded,
		Amount:    domain.FromMinorUnits(domain.ToMinorUnits(session.Amount)),
		Currency:  testCurrency,
	})
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, res.Status)

	_, err = h.projects.SubmitWork(ctx, project.ID, freelancer, "https://files.example.com/v1.zip")
	require.NoError(t, err)
	paid, err := h.projects.ApproveWork(ctx, project.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusPaid, paid.WorkflowStatus)

	assert.Equal(t, int64(10_010_000), h.balance(t, freelancer))
	assert.Equal(t, int64(250_000), h.accountNet(t, domain.AccountPlatformFees))
	h.requireBalanced(t)
}

func TestLatePaymentForReplacedSessionCreditsPayer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, freelancer := uuid.New(), uuid.New()
	project, err := h.projects.Create(ctx, CreateProjectRequest{
		OwnerID: owner, FreelancerID: freelancer, AgreedPrice: units(40), Currency: testCurrency,
	})
	require.NoError(t, err)
	req := PlaceProjectEscrowRequest{ProjectID: project.ID, ActorID: owner, Amount: units(40)}

	stale, err := h.projects.PlaceEscrow(ctx, req)
	require.NoError(t, err)
	h.clock.Advance(25 * time.Hour)
	current, err := h.projects.PlaceEscrow(ctx, req)
	require.NoError(t, err)
	require.NotEqual(t, stale.ID, current.ID)
	h.confirm(t, current)

	lateEvent := gateway.Event{
		Reference: stale.ProviderReference,
		Type:      domain.EventEscrowFunded,
		Amount:    stale.Amount,
		Currency:  stale.Currency,
	}
	res, err := h.deliver(t, lateEvent)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, res.Status)
	_, err = h.store.Queries().GetPaymentEvent(ctx, res.EventID)
	require.NoError(t, err)

	credited, err := h.funding.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCredited, credited.Status)

	assert.Equal(t, stale.Amount, h.balance(t, owner))
	assert.Equal(t, current.Amount, h.accountNet(t, domain.AccountEscrow))
	stored, err := h.projects.Get(ctx, project.ID, owner, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusEscrowFunded, stored.WorkflowStatus)
	h.requireBalanced(t)

	res, err = h.deliver(t, lateEvent)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Status)
	assert.Equal(t, stale.Amount, h.balance(t, owner))
}

func TestCaptureAfterFailure(t *testing.T) {
	failedOrder := func(t *testing.T, h *harness) (models.Order, models.PaymentSession) {
		ctx := context.Background()
		order, err := h.orders.Create(ctx, CreateOrderRequest{BuyerID: uuid.New(), SellerID: uuid.New(), TotalAmount: units(10), Currency: testCurrency})
		require.NoError(t, err)
		session, err := h.orders.PlaceEscrow(ctx, order.ID, order.BuyerID, "")
		require.NoError(t, err)
		res, err := h.deliver(t, gateway.Event{
			Reference:     session.ProviderReference,
			Type:          domain.EventPaymentFailed,
			FailureReason: "issuer timeout",
		})
		require.NoError(t, err)
		require.Equal(t, WebhookProcessed, res.Status)
		return order, session
	}
	captured := func(session models.PaymentSession) gateway.Event {
		return gateway.Event{
			Reference: session.ProviderReference,
			Type:      domain.EventEscrowFunded,
			Amount:    session.Amount,
			Currency:  session.Currency,
		}
	}

	t.Run("order still awaiting payment is funded", func(t *testing.T) {
		h := newHarness(t)
		order, session := failedOrder(t, h)

		res, err := h.deliver(t, captured(session))
		require.NoError(t, err)
		assert.Equal(t, WebhookProcessed, res.Status)

		view, err := h.orders.Get(context.Background(), order.ID, order.BuyerID, false)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusHeld, view.Order.Status)
		assert.Equal(t, int64(0), h.balance(t, order.BuyerID))
		h.requireBalanced(t)
	})

	t.Run("order funded by a retry credits the payer", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		order, session := failedOrder(t, h)

		retry, err := h.orders.PlaceEscrow(ctx, order.ID, order.BuyerID, "")
		require.NoError(t, err)
		h.confirm(t, retry)

		res, err := h.deliver(t, captured(session))
		require.NoError(t, err)
		assert.Equal(t, WebhookProcessed, res.Status)

		credited, err := h.funding.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusCredited, credited.Status)
		assert.Equal(t, session.Amount, h.balance(t, order.BuyerID))
		assert.Equal(t, retry.Amount, h.accountNet(t, domain.AccountEscrow))
		h.requireBalanced(t)
	})
}

func TestConcurrentDeliveriesProcessOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, freelancer := uuid.New(), uuid.New()
	project, err := h.projects.Create(ctx, CreateProjectRequest{
		OwnerID: owner, FreelancerID: freelancer, AgreedPrice: units(40), Currency: testCurrency,
	})
	require.NoError(t, err)
	session, err := h.projects.PlaceEscrow(ctx, PlaceProjectEscrowRequest{ProjectID: project.ID, ActorID: owner, Amount: units(40)})
	require.NoError(t, err)
	payload, err := json.Marshal(gateway.Event{
		Reference: session.ProviderReference,
		Type:      domain.EventEscrowFunded,
		Amount:    session.Amount,
		Currency:  session.Currency,
	})
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set(gateway.MockSignatureHeader, h.gw.Sign(payload))

	const deliveries = 16
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		statuses = make(chan string, deliveries)
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := h.webhooks.Handle(ctx, domain.ProviderMock, payload, headers)
			if assert.NoError(t, err) {
				statuses <- res.Status
			}
		}()
	}
	close(start)
	wg.Wait()
	close(statuses)

	counts := map[string]int{}
	for status := range statuses {
		counts[status]++
	}
	assert.Equal(t, 1, counts[WebhookProcessed])
	assert.Equal(t, deliveries-1, counts[WebhookDuplicate])
	assert.Equal(t, session.Amount, h.accountNet(t, domain.AccountEscrow))
	h.requireBalanced(t)
}

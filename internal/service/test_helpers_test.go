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
	"github.com/ayo6706/escrow-settlement/internal/notify"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/ayo6706/escrow-settlement/internal/repository/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	testCurrency = "USD"
	testFeeBPS   = 250
	testSecret   = "whsec_test"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires every service against an in-memory store and an instant mock provider.
type harness struct {
	store    *memstore.Store
	clock    *fakeClock
	gw       *gateway.MockGateway
	registry *gateway.Registry
	notes    *notify.Recorder

	ledger   *EscrowLedger
	funding  *FundingService
	disputes *DisputeService
	projects *ProjectWorkflowService
	orders   *OrderEscrowService
	payouts  *PayoutProcessor
	webhooks *WebhookIngestor
	wallets  *WalletService
	recon    *ReconciliationService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
	store := memstore.New().WithClock(clock.Now)
	gw := gateway.NewInstantMockGateway(domain.ProviderMock, testSecret, gateway.MockOutcomePaid)
	registry := gateway.NewRegistry(domain.ProviderMock)
	registry.Register(gw)
	notes := notify.NewRecorder(64)

	h := &harness{store: store, clock: clock, gw: gw, registry: registry, notes: notes}
	svcClock := Clock(clock.Now)
	audit := NewAuditService()
	h.ledger = NewEscrowLedger(audit, svcClock)
	h.funding = NewFundingService(store, registry, h.ledger, FundingConfig{
		CallbackURL:    "https://app.example.com/checkout/done",
		PlatformFeeBPS: testFeeBPS,
	}, svcClock)
	h.disputes = NewDisputeService(store, h.ledger, notes, svcClock)
	h.projects = NewProjectWorkflowService(store, h.funding, h.disputes, notes, DefaultApprovalWindow, svcClock)
	h.orders = NewOrderEscrowService(store, h.funding, h.disputes, notes, DefaultOrderStaleAfter, svcClock)
	h.payouts = NewPayoutProcessor(store, registry, audit, notes, PayoutConfig{
		FingerprintKey: "fp-test",
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}, svcClock)
	h.webhooks = NewWebhookIngestor(store, registry, h.funding, h.payouts, notes, 3, svcClock)
	h.wallets = NewWalletService(store, testCurrency)
	h.recon = NewReconciliationService(store, registry, h.funding, DefaultFundingConfirmationWindow, svcClock)
	return h
}

// deliver signs ev with the mock secret and feeds it to the webhook ingestor.
func (h *harness) deliver(t *testing.T, ev gateway.Event) (WebhookResult, error) {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set(gateway.MockSignatureHeader, h.gw.Sign(payload))
	return h.webhooks.Handle(context.Background(), domain.ProviderMock, payload, headers)
}

// confirm delivers the escrow_funded webhook for session.
func (h *harness) confirm(t *testing.T, session models.PaymentSession) {
	t.Helper()
	res, err := h.deliver(t, gateway.Event{
		Reference: session.ProviderReference,
		Type:      domain.EventEscrowFunded,
		Amount:    session.Amount,
		Currency:  session.Currency,
	})
	require.NoError(t, err)
	require.Equal(t, WebhookProcessed, res.Status)
}

// seedWallet credits a wallet through a balanced ledger posting.
func (h *harness) seedWallet(t *testing.T, userID uuid.UUID, amount int64) {
	t.Helper()
	err := h.store.RunInTx(context.Background(), func(qtx repository.Querier) error {
		if err := creditWallet(context.Background(), qtx, userID, testCurrency, amount); err != nil {
			return err
		}
		return postEntries(context.Background(), qtx, nil, nil,
			debitLeg(domain.AccountProviderClearing, amount),
			creditLeg(domain.WalletLedgerAccount(userID), amount),
		)
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	wallet, err := h.wallets.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return wallet.Balance
}

func (h *harness) accountNet(t *testing.T, account string) int64 {
	t.Helper()
	net, err := h.store.Queries().GetLedgerAccountNet(context.Background(), account)
	require.NoError(t, err)
	return net
}

func (h *harness) requireBalanced(t *testing.T) {
	t.Helper()
	report, err := h.recon.CheckLedger(context.Background())
	require.NoError(t, err)
	require.True(t, report.Balanced(), "ledger report: %+v", report)
}

// fundedProject creates a project and confirms its escrow funding.
func (h *harness) fundedProject(t *testing.T, price int64) (models.Project, models.PaymentSession) {
	t.Helper()
	ctx := context.Background()
	owner, freelancer := uuid.New(), uuid.New()
	project, err := h.projects.Create(ctx, CreateProjectRequest{
		OwnerID:      owner,
		FreelancerID: freelancer,
		Title:        "Landing page",
		AgreedPrice:  price,
		Currency:     testCurrency,
	})
	require.NoError(t, err)

	session, err := h.projects.PlaceEscrow(ctx, PlaceProjectEscrowRequest{
		ProjectID:    project.ID,
		ActorID:      owner,
		FreelancerID: freelancer,
		Amount:       price,
	})
	require.NoError(t, err)
	h.confirm(t, session)

	project, err = h.projects.Get(ctx, project.ID, owner, false)
	require.NoError(t, err)
	require.Equal(t, domain.ProjectStatusEscrowFunded, project.WorkflowStatus)
	return project, session
}

// heldOrder creates an order and confirms its escrow funding.
func (h *harness) heldOrder(t *testing.T, total int64) models.Order {
	t.Helper()
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	order, err := h.orders.Create(ctx, CreateOrderRequest{
		BuyerID:     buyer,
		SellerID:    seller,
		Description: "Vintage lamp",
		TotalAmount: total,
		Currency:    testCurrency,
	})
	require.NoError(t, err)

	session, err := h.orders.PlaceEscrow(ctx, order.ID, buyer, "")
	require.NoError(t, err)
	h.confirm(t, session)

	view, err := h.orders.Get(ctx, order.ID, buyer, false)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusHeld, view.Order.Status)
	return view.Order
}

// fundRecord places a held escrow record directly through the ledger.
func (h *harness) fundRecord(t *testing.T, amount, fee int64) models.EscrowRecord {
	t.Helper()
	var record models.EscrowRecord
	err := h.store.RunInTx(context.Background(), func(qtx repository.Querier) error {
		var err error
		record, err = h.ledger.Fund(context.Background(), qtx, FundParams{
			Kind:        domain.EscrowKindOrder,
			SubjectID:   uuid.New(),
			PayerID:     uuid.New(),
			PayeeID:     uuid.New(),
			Amount:      amount,
			PlatformFee: fee,
			Currency:    testCurrency,
		})
		return err
	})
	require.NoError(t, err)
	return record
}

// registerBank registers a valid US bank account for userID at the mock provider.
func (h *harness) registerBank(t *testing.T, userID uuid.UUID) models.BankAccountRef {
	t.Helper()
	ref, err := h.payouts.RegisterBankAccount(context.Background(), userID, domain.ProviderMock, validBankDestination())
	require.NoError(t, err)
	return ref
}

func units(n int64) int64 {
	return n * 1_000_000
}

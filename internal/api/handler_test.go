package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/api"
	"github.com/ayo6706/escrow-settlement/internal/api/middleware"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/gateway"
	"github.com/ayo6706/escrow-settlement/internal/idempotency"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/notify"
	"github.com/ayo6706/escrow-settlement/internal/observability"
	"github.com/ayo6706/escrow-settlement/internal/repository/memstore"
	"github.com/ayo6706/escrow-settlement/internal/service"
	"github.com/ayo6706/escrow-settlement/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "escrow-settlement-test"
	testJWTAudience = "escrow-api-test"
	testSecret      = "whsec_api_test"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	middleware.SetSessionManager(session.NewManager(time.Hour))
	observability.Init()
	os.Exit(m.Run())
}

type testAPI struct {
	router chi.Router
	store  *memstore.Store
	gw     *gateway.MockGateway
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memstore.New()
	gw := gateway.NewInstantMockGateway(domain.ProviderMock, testSecret, gateway.MockOutcomePaid)
	registry := gateway.NewRegistry(domain.ProviderMock)
	registry.Register(gw)
	notes := notify.NewRecorder(256)

	audit := service.NewAuditService()
	ledger := service.NewEscrowLedger(audit, nil)
	funding := service.NewFundingService(store, registry, ledger, service.FundingConfig{
		CallbackURL:    "https://app.example.com/checkout/done",
		PlatformFeeBPS: 250,
	}, nil)
	disputes := service.NewDisputeService(store, ledger, notes, nil)
	payouts := service.NewPayoutProcessor(store, registry, audit, notes, service.PayoutConfig{
		FingerprintKey: "fp-api-test",
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
	}, nil)
	services := api.Services{
		Projects: service.NewProjectWorkflowService(store, funding, disputes, notes, service.DefaultApprovalWindow, nil),
		Orders:   service.NewOrderEscrowService(store, funding, disputes, notes, service.DefaultOrderStaleAfter, nil),
		Disputes: disputes,
		Wallets:  service.NewWalletService(store, "USD"),
		Payouts:  payouts,
		Webhooks: service.NewWebhookIngestor(store, registry, funding, payouts, notes, 3, nil),
	}
	idem := idempotency.NewStore(nil, store.Queries(), time.Hour)
	router := api.NewRouter(zap.NewNop(), services, idem, middleware.SessionManager(), store, nil, api.Options{
		Currency:           "USD",
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		TokenTTL:           time.Hour,
	})
	return &testAPI{router: router.Routes(), store: store, gw: gw}
}

func tokenFor(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	token, _, err := middleware.IssueToken(userID.String(), role, "", uuid.NewString(), time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) webhook(t *testing.T, ev gateway.Event) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mock", bytes.NewReader(payload))
	req.Header.Set(gateway.MockSignatureHeader, a.gw.Sign(payload))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type checkout struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
}

// heldOrder creates and funds an order worth total through the API.
func (a *testAPI) heldOrder(t *testing.T, buyer, seller string, sellerID uuid.UUID, total string) models.Order {
	t.Helper()
	w := a.do(t, http.MethodPost, "/orders", buyer, map[string]string{
		"seller_id":    sellerID.String(),
		"total_amount": total,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[models.Order](t, w)

	w = a.do(t, http.MethodPost, "/orders/"+order.ID.String()+"/escrow/place", buyer, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	co := decode[checkout](t, w)
	assert.Equal(t, domain.SessionStatusPendingConfirmation, co.Status)
	assert.NotEmpty(t, co.CheckoutURL)

	sessionID, err := uuid.Parse(co.SessionID)
	require.NoError(t, err)
	ps, err := a.store.Queries().GetPaymentSession(context.Background(), sessionID)
	require.NoError(t, err)
	w = a.webhook(t, gateway.Event{Reference: ps.ProviderReference, Type: domain.EventEscrowFunded, Amount: ps.Amount, Currency: ps.Currency})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/escrow/"+order.ID.String(), seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[service.OrderView](t, w)
	require.Equal(t, domain.OrderStatusHeld, view.Order.Status)
	require.NotNil(t, view.Escrow)
	return view.Order
}

func walletBalance(t *testing.T, a *testAPI, token string) int64 {
	t.Helper()
	w := a.do(t, http.MethodGet, "/wallet", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	return int64(body["balance_micros"].(float64))
}

func TestRFC7807ProblemDetails(t *testing.T) {
	a := setupAPI(t)
	w := a.do(t, http.MethodGet, "/wallet", "", nil)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
	body := decode[map[string]any](t, w)
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/wallet", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestValidationProblemListsFields(t *testing.T) {
	a := setupAPI(t)
	owner := tokenFor(t, uuid.New(), domain.RoleUser)

	w := a.do(t, http.MethodPost, "/projects", owner, map[string]string{"agreed_price": "100"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	fields := body["errors"].([]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "freelancer_id", fields[0].(map[string]any)["field"])
	assert.Equal(t, domain.ReasonRequired, fields[0].(map[string]any)["reason"])

	w = a.do(t, http.MethodPost, "/projects", owner, map[string]string{"freelancer_id": uuid.NewString(), "agreed_price": "-5"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body = decode[map[string]any](t, w)
	assert.Equal(t, "agreed_price", body["errors"].([]any)[0].(map[string]any)["field"])
}

func TestProjectEscrowFlow(t *testing.T) {
	a := setupAPI(t)
	ownerID, freelancerID := uuid.New(), uuid.New()
	owner := tokenFor(t, ownerID, domain.RoleUser)
	freelancer := tokenFor(t, freelancerID, domain.RoleUser)

	w := a.do(t, http.MethodPost, "/projects", owner, map[string]string{
		"freelancer_id": freelancerID.String(),
		"title":         "Landing page",
		"agreed_price":  "1000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	project := decode[models.Project](t, w)
	assert.Equal(t, domain.ProjectStatusPriceAgreed, project.WorkflowStatus)

	w = a.do(t, http.MethodPost, "/projects/escrow/place", owner, map[string]string{
		"project_id":    project.ID.String(),
		"amount":        "999",
		"freelancer_id": freelancerID.String(),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/projects/escrow/place", owner, map[string]string{
		"project_id":    project.ID.String(),
		"amount":        "1000",
		"freelancer_id": freelancerID.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	co := decode[checkout](t, w)
	sessionID := uuid.MustParse(co.SessionID)
	ps, err := a.store.Queries().GetPaymentSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1025_000_000), ps.Amount)

	w = a.webhook(t, gateway.Event{Reference: ps.ProviderReference, Type: domain.EventEscrowFunded, Amount: ps.Amount, Currency: "usd"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, "/projects/"+project.ID.String()+"/approve-work", owner, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodPost, "/projects/"+project.ID.String()+"/submit-work", freelancer, map[string]string{"deliverables": "https://files.example.com/site.zip"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.ProjectStatusPendingApproval, decode[models.Project](t, w).WorkflowStatus)

	w = a.do(t, http.MethodPost, "/projects/"+project.ID.String()+"/approve-work", freelancer, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/projects/"+project.ID.String()+"/approve-work", owner, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]string{"status": domain.ProjectStatusPaid}, decode[map[string]string](t, w))

	assert.Equal(t, int64(1000_000_000), walletBalance(t, a, freelancer))
	assert.Equal(t, int64(0), walletBalance(t, a, owner))

	w = a.do(t, http.MethodGet, "/projects/"+project.ID.String(), tokenFor(t, uuid.New(), domain.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOrderDisputeResolvedByAdmin(t *testing.T) {
	a := setupAPI(t)
	buyerID, sellerID := uuid.New(), uuid.New()
	buyer := tokenFor(t, buyerID, domain.RoleUser)
	seller := tokenFor(t, sellerID, domain.RoleUser)
	admin := tokenFor(t, uuid.New(), domain.RoleAdmin)

	order := a.heldOrder(t, buyer, seller, sellerID, "200")
	orderPath := "/escrow/" + order.ID.String()

	w := a.do(t, http.MethodPost, orderPath+"/approve", buyer, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodPost, orderPath+"/dispute", seller, map[string]string{"reason": "buyer unresponsive"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	dispute := decode[models.DisputeCase](t, w)

	w = a.do(t, http.MethodPost, orderPath+"/refund", buyer, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, http.MethodGet, "/admin/disputes?status=open", buyer, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodGet, "/admin/disputes?status=open", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[map[string]any](t, w)
	assert.Equal(t, float64(1), list["count"])

	w = a.do(t, http.MethodPost, "/admin/disputes/"+dispute.ID.String()+"/resolve", admin, map[string]string{"resolution": "split"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/admin/disputes/"+dispute.ID.String()+"/resolve", admin, map[string]string{"resolution": "refund", "note": "no delivery"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resolved := decode[models.DisputeCase](t, w)
	assert.Equal(t, domain.DisputeStatusResolved, resolved.Status)

	w = a.do(t, http.MethodGet, orderPath, buyer, nil)
	view := decode[service.OrderView](t, w)
	assert.Equal(t, domain.OrderStatusRefunded, view.Order.Status)
	assert.Equal(t, domain.EscrowStatusRefunded, view.Escrow.Status)
	assert.Equal(t, view.Escrow.Amount, walletBalance(t, a, buyer))
	assert.Equal(t, int64(0), walletBalance(t, a, seller))

	w = a.do(t, http.MethodPost, "/admin/disputes/"+dispute.ID.String()+"/resolve", admin, map[string]string{"resolution": "release"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWithdrawalFlow(t *testing.T) {
	a := setupAPI(t)
	buyerID, sellerID := uuid.New(), uuid.New()
	buyer := tokenFor(t, buyerID, domain.RoleUser)
	seller := tokenFor(t, sellerID, domain.RoleUser)

	order := a.heldOrder(t, buyer, seller, sellerID, "300")
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/escrow/"+order.ID.String()+"/confirm-delivery", seller, nil).Code)
	w := a.do(t, http.MethodPost, "/escrow/"+order.ID.String()+"/approve", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.OrderStatusReleased, decode[models.Order](t, w).Status)
	require.Equal(t, int64(300_000_000), walletBalance(t, a, seller))

	w = a.do(t, http.MethodPost, "/payouts/mock/bank-account", seller, map[string]string{
		"bank_name":           "First Test Bank",
		"account_number":      "0001-2345-6789",
		"account_holder_name": "Ada Lovelace",
		"country":             "US",
		"routing_number":      "021000021",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ref := decode[map[string]any](t, w)
	assert.Equal(t, "6789", ref["last4"])
	assert.NotContains(t, w.Body.String(), "000123456789")
	refID := ref["id"].(string)

	w = a.do(t, http.MethodPost, "/payouts/mock/bank-account", seller, map[string]any{
		"bank": map[string]string{"holder_name": "Ada", "account_number": "12345678", "country": "US"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "routing_number")

	w = a.do(t, http.MethodPost, "/payouts/mock/bank-account", seller, map[string]any{
		"account_number": "12345678",
		"card":           map[string]string{"holder_name": "Ada", "number": "4111111111111111", "expiry": "12/99", "cvv": "123"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "payout_details")

	withdraw := map[string]any{
		"amount":         "120.50",
		"payout_method":  "mock",
		"payout_details": map[string]string{"bank_account_ref_id": refID},
	}
	w = a.do(t, http.MethodPost, "/wallet/withdrawals", seller, withdraw)
	require.Equal(t, http.StatusBadRequest, w.Code, "Idempotency-Key is required")

	w = a.do(t, http.MethodPost, "/wallet/withdrawals", seller, withdraw, "Idempotency-Key", "wd-1")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	first := decode[models.WithdrawalRequest](t, w)
	assert.Equal(t, domain.WithdrawalStatusProcessing, first.Status)

	w = a.do(t, http.MethodPost, "/wallet/withdrawals", seller, withdraw, "Idempotency-Key", "wd-1")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, first.ID, decode[models.WithdrawalRequest](t, w).ID)
	assert.Equal(t, int64(179_500_000), walletBalance(t, a, seller))

	withdraw["amount"] = "10"
	w = a.do(t, http.MethodPost, "/wallet/withdrawals", seller, withdraw, "Idempotency-Key", "wd-1")
	assert.Equal(t, http.StatusConflict, w.Code)

	withdraw["amount"] = "500"
	w = a.do(t, http.MethodPost, "/wallet/withdrawals", seller, withdraw, "Idempotency-Key", "wd-2")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	path := "/payouts/paystack/process/" + first.ID.String()
	w = a.do(t, http.MethodPost, path, seller, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodPost, "/payouts/mock/process/"+first.ID.String(), buyer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodPost, "/payouts/mock/process/"+first.ID.String(), seller, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.WithdrawalStatusPaid, decode[map[string]string](t, w)["status"])

	w = a.do(t, http.MethodGet, "/wallet/withdrawals?page=1&page_size=10", seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string]any](t, w)["items"], 1)

	w = a.do(t, http.MethodGet, "/wallet/withdrawals/"+first.ID.String(), seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.WithdrawalStatusPaid, decode[models.WithdrawalRequest](t, w).Status)
}

func TestWithdrawalWithPayoutDetails(t *testing.T) {
	a := setupAPI(t)
	buyerID, sellerID := uuid.New(), uuid.New()
	buyer := tokenFor(t, buyerID, domain.RoleUser)
	seller := tokenFor(t, sellerID, domain.RoleUser)

	order := a.heldOrder(t, buyer, seller, sellerID, "100")
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/escrow/"+order.ID.String()+"/confirm-delivery", seller, nil).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/escrow/"+order.ID.String()+"/approve", buyer, nil).Code)

	details := map[string]string{
		"bank_name":           "First Test Bank",
		"account_number":      "000123456789",
		"account_holder_name": "Ada Lovelace",
		"country":             "US",
		"routing_number":      "021000021",
	}
	w := a.do(t, http.MethodPost, "/wallet/withdrawals", seller, map[string]any{
		"amount": "25", "payout_method": "mock", "payout_details": details,
	}, "Idempotency-Key", "wd-inline-1")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	first := decode[models.WithdrawalRequest](t, w)
	assert.Equal(t, domain.WithdrawalStatusProcessing, first.Status)
	assert.Equal(t, int64(75_000_000), walletBalance(t, a, seller))

	w = a.do(t, http.MethodPost, "/wallet/withdrawals", seller, map[string]any{
		"amount": "25", "payout_method": "mock", "payout_details": details,
	}, "Idempotency-Key", "wd-inline-2")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, first.BankAccountRefID, decode[models.WithdrawalRequest](t, w).BankAccountRefID)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{name: "missing details", body: map[string]any{"amount": "1", "payout_method": "mock"}, field: "payout_details"},
		{name: "unknown method", body: map[string]any{"amount": "1", "payout_method": "carrier-pigeon", "payout_details": details}, field: "payout_method"},
		{name: "ref and details", body: map[string]any{"amount": "1", "payout_method": "mock", "payout_details": map[string]string{
			"bank_account_ref_id": first.BankAccountRefID.String(), "account_number": "000123456789",
		}}, field: "payout_details"},
		{name: "bad check digit", body: map[string]any{"amount": "1", "payout_method": "mock", "payout_details": map[string]string{
			"account_number": "000123456789", "account_holder_name": "Ada", "country": "US", "routing_number": "021000022",
		}}, field: "routing_number"},
		{name: "amount overflow", body: map[string]any{"amount": "18446744073709.551716", "payout_method": "mock", "payout_details": details}, field: "amount"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, "/wallet/withdrawals", seller, tt.body, "Idempotency-Key", fmt.Sprintf("wd-bad-%d", i))
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.field)
		})
	}
	assert.Equal(t, int64(50_000_000), walletBalance(t, a, seller))
}

func TestWebhookSignatureAndReplay(t *testing.T) {
	a := setupAPI(t)
	buyerID, sellerID := uuid.New(), uuid.New()
	buyer := tokenFor(t, buyerID, domain.RoleUser)
	w := a.do(t, http.MethodPost, "/orders", buyer, map[string]string{"seller_id": sellerID.String(), "total_amount": "50"})
	require.Equal(t, http.StatusCreated, w.Code)
	order := decode[models.Order](t, w)
	w = a.do(t, http.MethodPost, "/orders/"+order.ID.String()+"/escrow/place", buyer, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	ps, err := a.store.Queries().GetPaymentSession(context.Background(), uuid.MustParse(decode[checkout](t, w).SessionID))
	require.NoError(t, err)

	ev := gateway.Event{Reference: ps.ProviderReference, Type: domain.EventEscrowFunded, Amount: ps.Amount, Currency: ps.Currency}
	payload, _ := json.Marshal(ev)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mock", bytes.NewReader(payload))
	req.Header.Set(gateway.MockSignatureHeader, "sha256=deadbeef")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	w = a.webhook(t, ev)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.WebhookProcessed, decode[service.WebhookResult](t, w).Status)

	w = a.webhook(t, ev)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.WebhookDuplicate, decode[service.WebhookResult](t, w).Status)

	ev.Amount++
	w = a.webhook(t, ev)
	assert.Equal(t, http.StatusConflict, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionRefreshAndLogout(t *testing.T) {
	a := setupAPI(t)
	userID := uuid.New()
	sessionID := uuid.NewString()
	token, _, err := middleware.IssueToken(userID.String(), domain.RoleUser, "", sessionID, time.Hour)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/wallet", token, nil).Code)
	assert.True(t, middleware.SessionManager().Active(sessionID))

	w := a.do(t, http.MethodPost, "/auth/refresh", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	refreshed := decode[map[string]any](t, w)
	assert.Equal(t, sessionID, refreshed["session_id"])
	newToken := refreshed["token"].(string)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/wallet", newToken, nil).Code)

	w = a.do(t, http.MethodPost, "/auth/logout", newToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	for _, tok := range []string{token, newToken} {
		w = a.do(t, http.MethodGet, "/wallet", tok, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "session-revoked")
	}
}

func TestHealthMetricsAndDocs(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")

	w = a.do(t, http.MethodGet, "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/wallet/withdrawals")
}

package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
)

// MockSignatureHeader carries "sha256=<hex hmac>" of the webhook body.
const MockSignatureHeader = "X-Mock-Signature"

// Payout outcomes a MockGateway can be pinned to.
const (
	MockOutcomeRandom  = ""
	MockOutcomePaid    = "paid"
	MockOutcomePending = "pending"
	MockOutcomeFail    = "fail"
	MockOutcomeOutage  = "outage"
)

// MockGateway simulates a payment provider for development and tests.
// Payouts sleep for a random delay in [MinDelay, MaxDelay) and fail with
// probability FailureRate unless Outcome pins the result. Repeated payouts
// with the same idempotency key return the first result.
type MockGateway struct {
	// FailureRate is the probability of failure (0.0 to 1.0). Default: 0.1 (10%)
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Outcome     string

	name    string
	secret  []byte
	baseURL string

	mu       sync.Mutex
	payments map[string]PaymentStatus
	payouts  map[string]PayoutResult
	calls    int
}

// NewMockGateway creates a MockGateway named name that signs webhooks with secret.
func NewMockGateway(name, secret string) *MockGateway {
	if name == "" {
		name = domain.ProviderMock
	}
	return &MockGateway{
		FailureRate: 0.1,
		MinDelay:    2 * time.Second,
		MaxDelay:    5 * time.Second,
		name:        name,
		secret:      []byte(secret),
		baseURL:     "https://checkout.mock.local",
		payments:    map[string]PaymentStatus{},
		payouts:     map[string]PayoutResult{},
	}
}

// NewInstantMockGateway returns a mock with no latency and a pinned outcome.
func NewInstantMockGateway(name, secret, outcome string) *MockGateway {
	g := NewMockGateway(name, secret)
	g.MinDelay, g.MaxDelay = 0, 0
	g.Outcome = outcome
	return g
}

func (g *MockGateway) Provider() string {
	return g.name
}

func (g *MockGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (CheckoutSession, error) {
	g.mu.Lock()
	g.payments[req.Reference] = StatusPending
	g.mu.Unlock()
	return CheckoutSession{
		Provider:    g.name,
		Reference:   req.Reference,
		CheckoutURL: g.baseURL + "/pay/" + req.Reference,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}, nil
}

// SetPaymentStatus makes GetPaymentStatus report status for reference.
func (g *MockGateway) SetPaymentStatus(reference string, status PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[reference] = status
}

func (g *MockGateway) GetPaymentStatus(_ context.Context, reference string) (PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.payments[reference]
	if !ok {
		return "", &ProviderError{Provider: g.name, Op: "verify transaction", StatusCode: http.StatusNotFound, Err: fmt.Errorf("unknown reference %q", reference)}
	}
	return status, nil
}

func (g *MockGateway) RegisterRecipient(_ context.Context, r Recipient) (string, error) {
	last4 := r.AccountNumber
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return fmt.Sprintf("MOCK-RCP-%s-%05d", last4, rand.Intn(100000)), nil
}

// SendPayout simulates network latency, then succeeds, stays pending or
// fails according to Outcome and FailureRate.
func (g *MockGateway) SendPayout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	g.mu.Lock()
	g.calls++
	if prev, ok := g.payouts[req.IdempotencyKey]; ok {
		g.mu.Unlock()
		return prev, nil
	}
	g.mu.Unlock()

	if delay := g.delay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return PayoutResult{}, fmt.Errorf("gateway call canceled: %w", ctx.Err())
		}
	}

	outcome := g.Outcome
	if outcome == MockOutcomeRandom {
		outcome = MockOutcomePaid
		if rand.Float64() < g.FailureRate {
			outcome = MockOutcomeOutage
		}
	}

	switch outcome {
	case MockOutcomeOutage:
		return PayoutResult{}, &ProviderError{Provider: g.name, Op: "initiate transfer", StatusCode: http.StatusServiceUnavailable, Retryable: true, Err: fmt.Errorf("gateway temporarily unavailable")}
	case MockOutcomeFail:
		return PayoutResult{}, &ProviderError{Provider: g.name, Op: "initiate transfer", StatusCode: http.StatusBadRequest, Err: fmt.Errorf("destination rejected")}
	}

	// Format: MOCK-YYYYMMDD-HHMMSS-XXXXX
	res := PayoutResult{
		ProviderReference: fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000)),
		Status:            StatusPaid,
	}
	if outcome == MockOutcomePending {
		res.Status = StatusPending
	}
	g.mu.Lock()
	g.payouts[req.IdempotencyKey] = res
	g.mu.Unlock()
	return res, nil
}

// PayoutCalls returns how many times SendPayout has been invoked.
func (g *MockGateway) PayoutCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *MockGateway) delay() time.Duration {
	if g.MaxDelay <= g.MinDelay {
		return g.MinDelay
	}
	return g.MinDelay + time.Duration(rand.Int63n(int64(g.MaxDelay-g.MinDelay)))
}

// Sign returns the signature header value for payload.
func (g *MockGateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook accepts a JSON-encoded Event signed with Sign.
func (g *MockGateway) ParseWebhook(payload []byte, headers http.Header) (Event, error) {
	if len(g.secret) == 0 || !hmac.Equal([]byte(headers.Get(MockSignatureHeader)), []byte(g.Sign(payload))) {
		return Event{}, domain.ErrInvalidSignature
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, domain.NewValidationError("payload", domain.ReasonInvalidFormat, "malformed webhook body")
	}
	ev.Provider = g.name
	ev.Reference = strings.TrimSpace(ev.Reference)
	ev.Currency = strings.ToUpper(ev.Currency)
	switch ev.Type {
	case domain.EventEscrowFunded, domain.EventPaymentFailed, domain.EventPayoutPaid, domain.EventPayoutFailed:
	default:
		return Event{}, domain.NewValidationError("type", domain.ReasonInvalidFormat, fmt.Sprintf("unsupported event %q", ev.Type))
	}
	if ev.Reference == "" {
		return Event{}, domain.NewValidationError("reference", domain.ReasonEmpty, "webhook reference is required")
	}
	return ev, nil
}

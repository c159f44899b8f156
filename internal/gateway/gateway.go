// Package gateway adapts external payment providers behind two capability
// interfaces: PaymentGateway collects escrow funding and PayoutProvider sends
// withdrawals. One implementation exists per provider.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
)

// PaymentStatus is a provider-neutral payment or transfer state.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPending PaymentStatus = "pending"
	StatusFailed  PaymentStatus = "failed"
)

// CheckoutRequest asks a provider to open a hosted checkout for Amount micros.
type CheckoutRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	Email       string
	CallbackURL string
	Metadata    map[string]string
}

// CheckoutSession is the provider's answer to a CheckoutRequest.
type CheckoutSession struct {
	Provider    string
	Reference   string
	CheckoutURL string
	ExpiresAt   time.Time
}

// Event is a verified, normalized webhook notification. Type is one of the
// domain.Event* constants. Amount is in micros.
type Event struct {
	Provider      string `json:"provider"`
	Reference     string `json:"reference"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount_micros"`
	Currency      string `json:"currency"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// PaymentGateway collects funds from a payer.
type PaymentGateway interface {
	Provider() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	GetPaymentStatus(ctx context.Context, reference string) (PaymentStatus, error)
	// ParseWebhook verifies the delivery's signature and normalizes it.
	// It returns domain.ErrInvalidSignature when verification fails.
	ParseWebhook(payload []byte, headers http.Header) (Event, error)
}

// Recipient is a payout destination in the form providers register it.
type Recipient struct {
	Kind          string
	HolderName    string
	AccountNumber string
	BankCode      string
	Country       string
	Currency      string
	CardExpiry    string
}

// PayoutRequest sends Amount micros to a registered recipient. IdempotencyKey
// is stable across retries of the same withdrawal.
type PayoutRequest struct {
	IdempotencyKey string
	RecipientRef   string
	Amount         int64
	Currency       string
	Reason         string
}

// PayoutResult reports whether a transfer completed or was only accepted.
type PayoutResult struct {
	ProviderReference string
	Status            PaymentStatus
}

// PayoutProvider sends money to external accounts.
type PayoutProvider interface {
	Provider() string
	RegisterRecipient(ctx context.Context, r Recipient) (string, error)
	SendPayout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
}

// ProviderError is a failed provider call. Retryable marks transient failures
// (network errors, 5xx, rate limiting).
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a ProviderError worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// AsProviderError extracts a ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Registry resolves gateways and payout providers by name.
type Registry struct {
	gateways map[string]PaymentGateway
	payouts  map[string]PayoutProvider
	checkout string
}

// NewRegistry creates an empty registry whose checkout gateway is checkout.
func NewRegistry(checkout string) *Registry {
	return &Registry{
		gateways: map[string]PaymentGateway{},
		payouts:  map[string]PayoutProvider{},
		checkout: checkout,
	}
}

// Register adds p under its provider name for every capability it implements.
func (r *Registry) Register(p interface{ Provider() string }) {
	if g, ok := p.(PaymentGateway); ok {
		r.gateways[g.Provider()] = g
	}
	if pp, ok := p.(PayoutProvider); ok {
		r.payouts[pp.Provider()] = pp
	}
}

// Gateway returns the payment gateway for name.
func (r *Registry) Gateway(name string) (PaymentGateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, name)
	}
	return g, nil
}

// Payout returns the payout provider for name.
func (r *Registry) Payout(name string) (PayoutProvider, error) {
	p, ok := r.payouts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, name)
	}
	return p, nil
}

// Checkout returns the gateway used to open new payment sessions.
func (r *Registry) Checkout() (PaymentGateway, error) {
	return r.Gateway(r.checkout)
}

// PayoutProviders lists registered payout provider names in sorted order.
func (r *Registry) PayoutProviders() []string {
	names := make([]string, 0, len(r.payouts))
	for name := range r.payouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
)

const (
	DefaultPaystackBaseURL   = "https://api.paystack.co"
	paystackSignatureHeader  = "X-Paystack-Signature"
	paystackCheckoutLifetime = 24 * time.Hour
)

// Paystack implements PaymentGateway and PayoutProvider against the Paystack API.
// Amounts travel in minor units (kobo).
type Paystack struct {
	client apiClient
	secret []byte
	now    func() time.Time
}

// NewPaystack creates a Paystack client. A nil httpClient uses a default with a timeout.
func NewPaystack(secretKey, baseURL string, httpClient *http.Client) *Paystack {
	if baseURL == "" {
		baseURL = DefaultPaystackBaseURL
	}
	return &Paystack{
		client: newAPIClient(domain.ProviderPaystack, baseURL, secretKey, httpClient),
		secret: []byte(secretKey),
		now:    time.Now,
	}
}

func (p *Paystack) Provider() string {
	return domain.ProviderPaystack
}

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (p *Paystack) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    domain.ToMinorUnits(req.Amount),
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var resp paystackEnvelope[struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}]
	if err := p.client.do(ctx, "initialize transaction", http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		return CheckoutSession{}, err
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return CheckoutSession{}, &ProviderError{Provider: p.Provider(), Op: "initialize transaction", Err: errors.New(resp.Message)}
	}
	ref := resp.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return CheckoutSession{
		Provider:    p.Provider(),
		Reference:   ref,
		CheckoutURL: resp.Data.AuthorizationURL,
		ExpiresAt:   p.now().Add(paystackCheckoutLifetime),
	}, nil
}

func (p *Paystack) GetPaymentStatus(ctx context.Context, reference string) (PaymentStatus, error) {
	var resp paystackEnvelope[struct {
		Status string `json:"status"`
	}]
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := p.client.do(ctx, "verify transaction", http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	switch resp.Data.Status {
	case "success":
		return StatusPaid, nil
	case "failed", "abandoned", "reversed":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

func (p *Paystack) RegisterRecipient(ctx context.Context, r Recipient) (string, error) {
	if r.Kind == domain.DestinationCard {
		return "", &ProviderError{Provider: p.Provider(), Op: "create recipient", Err: errors.New("card destinations are not supported")}
	}
	body := map[string]any{
		"type":           "nuban",
		"name":           r.HolderName,
		"account_number": r.AccountNumber,
		"bank_code":      r.BankCode,
		"currency":       r.Currency,
	}
	var resp paystackEnvelope[struct {
		RecipientCode string `json:"recipient_code"`
	}]
	if err := p.client.do(ctx, "create recipient", http.MethodPost, "/transferrecipient", body, &resp); err != nil {
		return "", err
	}
	if resp.Data.RecipientCode == "" {
		return "", &ProviderError{Provider: p.Provider(), Op: "create recipient", Err: errors.New("missing recipient_code")}
	}
	return resp.Data.RecipientCode, nil
}

// SendPayout uses the idempotency key as the transfer reference, so Paystack
// rejects a second transfer for the same withdrawal.
func (p *Paystack) SendPayout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    domain.ToMinorUnits(req.Amount),
		"recipient": req.RecipientRef,
		"reason":    req.Reason,
		"reference": req.IdempotencyKey,
		"currency":  req.Currency,
	}
	var resp paystackEnvelope[struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}]
	if err := p.client.do(ctx, "initiate transfer", http.MethodPost, "/transfer", body, &resp); err != nil {
		return PayoutResult{}, err
	}
	ref := resp.Data.Reference
	if ref == "" {
		ref = req.IdempotencyKey
	}
	switch resp.Data.Status {
	case "success":
		return PayoutResult{ProviderReference: ref, Status: StatusPaid}, nil
	case "failed", "reversed":
		return PayoutResult{}, &ProviderError{Provider: p.Provider(), Op: "initiate transfer", Err: fmt.Errorf("transfer %s", resp.Data.Status)}
	default:
		return PayoutResult{ProviderReference: ref, Status: StatusPending}, nil
	}
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		Reason          string `json:"reason"`
		GatewayResponse string `json:"gateway_response"`
	} `json:"data"`
}

// ParseWebhook checks the hex HMAC-SHA512 of the raw body keyed by the secret key.
func (p *Paystack) ParseWebhook(payload []byte, headers http.Header) (Event, error) {
	if !p.verifySignature(payload, headers.Get(paystackSignatureHeader)) {
		return Event{}, domain.ErrInvalidSignature
	}

	var wh paystackWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return Event{}, domain.NewValidationError("payload", domain.ReasonInvalidFormat, "malformed webhook body")
	}

	ev := Event{
		Provider:  p.Provider(),
		Reference: strings.TrimSpace(wh.Data.Reference),
		Amount:    domain.FromMinorUnits(wh.Data.Amount),
		Currency:  strings.ToUpper(wh.Data.Currency),
	}
	switch wh.Event {
	case "charge.success":
		ev.Type = domain.EventEscrowFunded
	case "charge.failed":
		ev.Type = domain.EventPaymentFailed
		ev.FailureReason = wh.Data.GatewayResponse
	case "transfer.success":
		ev.Type = domain.EventPayoutPaid
	case "transfer.failed", "transfer.reversed":
		ev.Type = domain.EventPayoutFailed
		ev.FailureReason = wh.Data.Reason
		if ev.FailureReason == "" {
			ev.FailureReason = wh.Event
		}
	default:
		return Event{}, domain.NewValidationError("event", domain.ReasonInvalidFormat, fmt.Sprintf("unsupported event %q", wh.Event))
	}
	if ev.Reference == "" {
		return Event{}, domain.NewValidationError("reference", domain.ReasonEmpty, "webhook reference is required")
	}
	return ev, nil
}

func (p *Paystack) verifySignature(payload []byte, signature string) bool {
	if len(p.secret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, p.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

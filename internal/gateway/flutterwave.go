package gateway

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	DefaultFlutterwaveBaseURL   = "https://api.flutterwave.com"
	flutterwaveSignatureHeader  = "Verif-Hash"
	flutterwaveCheckoutLifetime = 24 * time.Hour
)

// Flutterwave implements PaymentGateway and PayoutProvider against the
// Flutterwave v3 API. Amounts travel in major units.
type Flutterwave struct {
	client      apiClient
	webhookHash []byte
	now         func() time.Time
}

// NewFlutterwave creates a Flutterwave client. webhookHash is the secret hash
// configured on the dashboard and echoed in the verif-hash header.
func NewFlutterwave(secretKey, webhookHash, baseURL string, httpClient *http.Client) *Flutterwave {
	if baseURL == "" {
		baseURL = DefaultFlutterwaveBaseURL
	}
	return &Flutterwave{
		client:      newAPIClient(domain.ProviderFlutterwave, baseURL, secretKey, httpClient),
		webhookHash: []byte(webhookHash),
		now:         time.Now,
	}
}

func (f *Flutterwave) Provider() string {
	return domain.ProviderFlutterwave
}

type flutterwaveEnvelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (f *Flutterwave) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	body := map[string]any{
		"tx_ref":       req.Reference,
		"amount":       json.Number(domain.MicrosToDecimal(req.Amount).String()),
		"currency":     req.Currency,
		"redirect_url": req.CallbackURL,
		"customer":     map[string]string{"email": req.Email},
	}
	if len(req.Metadata) > 0 {
		body["meta"] = req.Metadata
	}

	var resp flutterwaveEnvelope[struct {
		Link string `json:"link"`
	}]
	if err := f.client.do(ctx, "create payment", http.MethodPost, "/v3/payments", body, &resp); err != nil {
		return CheckoutSession{}, err
	}
	if resp.Status != "success" || resp.Data.Link == "" {
		return CheckoutSession{}, &ProviderError{Provider: f.Provider(), Op: "create payment", Err: errors.New(resp.Message)}
	}
	return CheckoutSession{
		Provider:    f.Provider(),
		Reference:   req.Reference,
		CheckoutURL: resp.Data.Link,
		ExpiresAt:   f.now().Add(flutterwaveCheckoutLifetime),
	}, nil
}

func (f *Flutterwave) GetPaymentStatus(ctx context.Context, reference string) (PaymentStatus, error) {
	var resp flutterwaveEnvelope[struct {
		Status string `json:"status"`
	}]
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)
	if err := f.client.do(ctx, "verify transaction", http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return flutterwaveStatus(resp.Data.Status), nil
}

func flutterwaveStatus(s string) PaymentStatus {
	switch strings.ToLower(s) {
	case "successful", "success":
		return StatusPaid
	case "failed", "cancelled":
		return StatusFailed
	default:
		return StatusPending
	}
}

func (f *Flutterwave) RegisterRecipient(ctx context.Context, r Recipient) (string, error) {
	if r.Kind == domain.DestinationCard {
		return "", &ProviderError{Provider: f.Provider(), Op: "create beneficiary", Err: errors.New("card destinations are not supported")}
	}
	body := map[string]any{
		"account_bank":     r.BankCode,
		"account_number":   r.AccountNumber,
		"beneficiary_name": r.HolderName,
		"currency":         r.Currency,
	}
	var resp flutterwaveEnvelope[struct {
		ID int64 `json:"id"`
	}]
	if err := f.client.do(ctx, "create beneficiary", http.MethodPost, "/v3/beneficiaries", body, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == 0 {
		return "", &ProviderError{Provider: f.Provider(), Op: "create beneficiary", Err: errors.New("missing beneficiary id")}
	}
	return strconv.FormatInt(resp.Data.ID, 10), nil
}

func (f *Flutterwave) SendPayout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	beneficiary, err := strconv.ParseInt(req.RecipientRef, 10, 64)
	if err != nil {
		return PayoutResult{}, &ProviderError{Provider: f.Provider(), Op: "initiate transfer", Err: fmt.Errorf("invalid beneficiary id %q", req.RecipientRef)}
	}
	body := map[string]any{
		"beneficiary": beneficiary,
		"amount":      json.Number(domain.MicrosToDecimal(req.Amount).String()),
		"currency":    req.Currency,
		"narration":   req.Reason,
		"reference":   req.IdempotencyKey,
	}
	var resp flutterwaveEnvelope[struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}]
	if err := f.client.do(ctx, "initiate transfer", http.MethodPost, "/v3/transfers", body, &resp); err != nil {
		return PayoutResult{}, err
	}
	ref := resp.Data.Reference
	if ref == "" {
		ref = req.IdempotencyKey
	}
	switch flutterwaveStatus(resp.Data.Status) {
	case StatusPaid:
		return PayoutResult{ProviderReference: ref, Status: StatusPaid}, nil
	case StatusFailed:
		return PayoutResult{}, &ProviderError{Provider: f.Provider(), Op: "initiate transfer", Err: fmt.Errorf("transfer %s", strings.ToLower(resp.Data.Status))}
	default:
		return PayoutResult{ProviderReference: ref, Status: StatusPending}, nil
	}
}

type flutterwaveWebhook struct {
	Event string `json:"event"`
	Data  struct {
		TxRef           string          `json:"tx_ref"`
		Reference       string          `json:"reference"`
		Status          string          `json:"status"`
		Amount          decimal.Decimal `json:"amount"`
		Currency        string          `json:"currency"`
		CompleteMessage string          `json:"complete_message"`
		ProcessorReply  string          `json:"processor_response"`
	} `json:"data"`
}

// ParseWebhook compares the verif-hash header with the configured secret hash.
func (f *Flutterwave) ParseWebhook(payload []byte, headers http.Header) (Event, error) {
	sig := headers.Get(flutterwaveSignatureHeader)
	if len(f.webhookHash) == 0 || sig == "" || !hmac.Equal([]byte(sig), f.webhookHash) {
		return Event{}, domain.ErrInvalidSignature
	}

	var wh flutterwaveWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return Event{}, domain.NewValidationError("payload", domain.ReasonInvalidFormat, "malformed webhook body")
	}

	amount, err := domain.FromDecimal(wh.Data.Amount)
	if err != nil {
		return Event{}, domain.NewValidationError("amount", domain.ReasonTooLarge, "webhook amount out of range")
	}
	ev := Event{
		Provider: f.Provider(),
		Amount:   amount,
		Currency: strings.ToUpper(wh.Data.Currency),
	}
	status := flutterwaveStatus(wh.Data.Status)
	switch wh.Event {
	case "charge.completed":
		ev.Reference = wh.Data.TxRef
		switch status {
		case StatusPaid:
			ev.Type = domain.EventEscrowFunded
		case StatusFailed:
			ev.Type = domain.EventPaymentFailed
			ev.FailureReason = wh.Data.ProcessorReply
		default:
			return Event{}, domain.NewValidationError("status", domain.ReasonInvalidFormat, "charge is not final")
		}
	case "transfer.completed":
		ev.Reference = wh.Data.Reference
		switch status {
		case StatusPaid:
			ev.Type = domain.EventPayoutPaid
		case StatusFailed:
			ev.Type = domain.EventPayoutFailed
			ev.FailureReason = wh.Data.CompleteMessage
		default:
			return Event{}, domain.NewValidationError("status", domain.ReasonInvalidFormat, "transfer is not final")
		}
	default:
		return Event{}, domain.NewValidationError("event", domain.ReasonInvalidFormat, fmt.Sprintf("unsupported event %q", wh.Event))
	}
	ev.Reference = strings.TrimSpace(ev.Reference)
	if ev.Reference == "" {
		return Event{}, domain.NewValidationError("reference", domain.ReasonEmpty, "webhook reference is required")
	}
	return ev, nil
}

package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/escrow-settlement/internal/bankaccount"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/service"
	"github.com/google/uuid"
)

// WalletHandler serves the caller's balance and withdrawals.
type WalletHandler struct {
	wallets *service.WalletService
	payouts *service.PayoutProcessor
}

func NewWalletHandler(wallets *service.WalletService, payouts *service.PayoutProcessor) *WalletHandler {
	return &WalletHandler{wallets: wallets, payouts: payouts}
}

// GetWallet handles GET /wallet.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := actor(w, r)
	if !ok {
		return
	}
	wallet, err := h.wallets.GetWallet(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, "get wallet", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"user_id":        wallet.UserID,
		"balance_micros": wallet.Balance,
		"balance":        domain.MicrosToDecimal(wallet.Balance).StringFixed(2),
		"currency":       wallet.Currency,
	})
}

// ListWithdrawals handles GET /wallet/withdrawals?page=&page_size=.
func (h *WalletHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := actor(w, r)
	if !ok {
		return
	}
	page, err := positiveQueryInt(r, "page", 1)
	if err != nil {
		writeServiceError(w, r, "list withdrawals", err)
		return
	}
	pageSize, err := positiveQueryInt(r, "page_size", 20)
	if err != nil {
		writeServiceError(w, r, "list withdrawals", err)
		return
	}
	items, err := h.wallets.ListWithdrawals(r.Context(), userID, page, pageSize)
	if err != nil {
		writeServiceError(w, r, "list withdrawals", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetWithdrawal handles GET /wallet/withdrawals/{id}.
func (h *WalletHandler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := actor(w, r)
	if !ok {
		return
	}
	withdrawalID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	withdrawal, err := h.wallets.GetWithdrawal(r.Context(), userID, withdrawalID)
	if err != nil {
		writeServiceError(w, r, "get withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusOK, withdrawal)
}

// payoutDetails names the destination of a withdrawal: a registered
// bank_account_ref_id, or the destination fields themselves.
type payoutDetails struct {
	BankAccountRefID string `json:"bank_account_ref_id,omitempty" validate:"omitempty,uuid"`
	bankaccount.Submission
}

type withdrawalRequest struct {
	Amount           string         `json:"amount" validate:"required"`
	PayoutMethod     string         `json:"payout_method" validate:"required"`
	PayoutDetails    *payoutDetails `json:"payout_details,omitempty"`
	BankAccountRefID string         `json:"bank_account_ref_id,omitempty" validate:"omitempty,uuid"`
}

// params resolves the destination. A top-level bank_account_ref_id is
// accepted alongside payout_details for older clients.
func (req withdrawalRequest) params(userID uuid.UUID, amount int64) (service.WithdrawalParams, error) {
	p := service.WithdrawalParams{
		UserID: userID,
		Amount: amount,
		Method: strings.ToLower(strings.TrimSpace(req.PayoutMethod)),
	}
	refRaw := req.BankAccountRefID
	details := req.PayoutDetails
	if details != nil && details.BankAccountRefID != "" {
		if refRaw != "" && refRaw != details.BankAccountRefID {
			return p, domain.NewValidationError("bank_account_ref_id", domain.ReasonMismatch, "bank_account_ref_id differs from payout_details")
		}
		refRaw = details.BankAccountRefID
	}
	hasDestination := details != nil && !details.Submission.Empty()

	switch {
	case refRaw != "" && hasDestination:
		return p, domain.NewValidationError("payout_details", domain.ReasonInvalidFormat, "give either bank_account_ref_id or destination details")
	case refRaw != "":
		refID, err := parseUUIDField("bank_account_ref_id", refRaw)
		if err != nil {
			return p, err
		}
		p.BankAccountRefID = refID
	case hasDestination:
		dest, err := details.Submission.Destination()
		if err != nil {
			return p, err
		}
		p.Destination = &dest
	default:
		return p, domain.NewValidationError("payout_details", domain.ReasonRequired, "payout_details is required")
	}
	return p, nil
}

// RequestWithdrawal handles POST /wallet/withdrawals. The route requires an
// Idempotency-Key, so a retried request never debits twice.
func (h *WalletHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := actor(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	amount, err := domain.ParseAmount("amount", req.Amount)
	if err != nil {
		writeServiceError(w, r, "request withdrawal", err)
		return
	}
	params, err := req.params(userID, amount)
	if err != nil {
		writeServiceError(w, r, "request withdrawal", err)
		return
	}
	withdrawal, err := h.payouts.RequestWithdrawal(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, "request withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, withdrawal)
}

func positiveQueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, domain.NewValidationError(name, domain.ReasonInvalidFormat, name+" must be a positive integer")
	}
	return v, nil
}

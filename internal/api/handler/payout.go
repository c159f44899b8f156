package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/escrow-settlement/internal/bankaccount"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/service"
	"github.com/go-chi/chi/v5"
)

// PayoutHandler handles HTTP requests for payout destinations and submission.
type PayoutHandler struct {
	payouts *service.PayoutProcessor
	wallets *service.WalletService
}

// NewPayoutHandler creates a new PayoutHandler instance.
func NewPayoutHandler(payouts *service.PayoutProcessor, wallets *service.WalletService) *PayoutHandler {
	return &PayoutHandler{payouts: payouts, wallets: wallets}
}

// RegisterBankAccount handles POST /payouts/{provider}/bank-account. The body
// carries the flat bank fields (bank_name, account_number,
// account_holder_name, country, routing_number), or a nested bank or card
// object. Raw numbers never leave this request; the response carries the
// masked reference.
func (h *PayoutHandler) RegisterBankAccount(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := actor(w, r)
	if !ok {
		return
	}
	provider := strings.ToLower(chi.URLParam(r, "provider"))

	var sub bankaccount.Submission
	if !decodeBody(w, r, &sub, false) {
		return
	}
	dest, err := sub.Destination()
	if err != nil {
		writeServiceError(w, r, "register bank account", err)
		return
	}

	ref, err := h.payouts.RegisterBankAccount(r.Context(), userID, provider, dest)
	if err != nil {
		writeServiceError(w, r, "register bank account", err)
		return
	}
	RespondJSON(w, http.StatusCreated, ref)
}

// Process handles POST /payouts/{provider}/process/{withdrawal_id}. Owners
// may submit their own withdrawals; admins any.
func (h *PayoutHandler) Process(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return
	}
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	withdrawalID, ok := pathUUID(w, r, "withdrawal_id")
	if !ok {
		return
	}
	if !isAdmin {
		if _, err := h.wallets.GetWithdrawal(r.Context(), actorID, withdrawalID); err != nil {
			writeServiceError(w, r, "process withdrawal", err)
			return
		}
	}

	withdrawal, err := h.payouts.Submit(r.Context(), withdrawalID, provider)
	if err != nil {
		writeServiceError(w, r, "process withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{
		"message": processMessage(withdrawal.Status),
		"status":  withdrawal.Status,
	})
}

func processMessage(status string) string {
	switch status {
	case domain.WithdrawalStatusPaid:
		return "withdrawal paid"
	case domain.WithdrawalStatusFailed:
		return "withdrawal failed and the wallet was credited back"
	default:
		return "withdrawal submitted; awaiting provider confirmation"
	}
}

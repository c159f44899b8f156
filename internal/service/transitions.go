package service

import (
	"fmt"
	"strings"

	"github.com/ayo6706/escrow-settlement/internal/domain"
)

type transitionTable map[string]map[string]struct{}

func states(next ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(next))
	for _, s := range next {
		out[s] = struct{}{}
	}
	return out
}

var escrowTransitions = transitionTable{
	domain.EscrowStatusHeld:     states(domain.EscrowStatusReleased, domain.EscrowStatusRefunded, domain.EscrowStatusDisputed),
	domain.EscrowStatusDisputed: states(domain.EscrowStatusReleased, domain.EscrowStatusRefunded),
	domain.EscrowStatusReleased: {},
	domain.EscrowStatusRefunded: {},
}

var projectTransitions = transitionTable{
	domain.ProjectStatusPriceAgreed:     states(domain.ProjectStatusEscrowFunded),
	domain.ProjectStatusEscrowFunded:    states(domain.ProjectStatusPendingApproval, domain.ProjectStatusDisputed),
	domain.ProjectStatusPendingApproval: states(domain.ProjectStatusCompleted, domain.ProjectStatusDisputed),
	domain.ProjectStatusCompleted:       states(domain.ProjectStatusPaid),
	domain.ProjectStatusDisputed:        states(domain.ProjectStatusPaid, domain.ProjectStatusRefunded),
	domain.ProjectStatusPaid:            {},
	domain.ProjectStatusRefunded:        {},
}

var orderTransitions = transitionTable{
	domain.OrderStatusAwaitingPayment:   states(domain.OrderStatusHeld),
	domain.OrderStatusHeld:              states(domain.OrderStatusDeliveryConfirmed, domain.OrderStatusDisputed, domain.OrderStatusRefunded),
	domain.OrderStatusDeliveryConfirmed: states(domain.OrderStatusBuyerApproved, domain.OrderStatusDisputed),
	domain.OrderStatusBuyerApproved:     states(domain.OrderStatusReleased),
	domain.OrderStatusDisputed:          states(domain.OrderStatusReleased, domain.OrderStatusRefunded),
	domain.OrderStatusReleased:          {},
	domain.OrderStatusRefunded:          {},
}

// A session that expired or failed locally may still be paid at the provider.
// Credited sessions were paid after their subject stopped awaiting funding.
var sessionTransitions = transitionTable{
	domain.SessionStatusPendingConfirmation: states(domain.SessionStatusConfirmed, domain.SessionStatusFailed, domain.SessionStatusExpired, domain.SessionStatusCredited),
	domain.SessionStatusExpired:             states(domain.SessionStatusConfirmed, domain.SessionStatusCredited),
	domain.SessionStatusFailed:              states(domain.SessionStatusConfirmed, domain.SessionStatusCredited),
	domain.SessionStatusConfirmed:           {},
	domain.SessionStatusCredited:            {},
}

var withdrawalTransitions = transitionTable{
	domain.WithdrawalStatusPending:    states(domain.WithdrawalStatusProcessing, domain.WithdrawalStatusFailed),
	domain.WithdrawalStatusProcessing: states(domain.WithdrawalStatusPaid, domain.WithdrawalStatusFailed),
	domain.WithdrawalStatusPaid:       {},
	domain.WithdrawalStatusFailed:     {},
}

func normalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

func (t transitionTable) can(current, next string) bool {
	nextStates, ok := t[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

// check returns domain.ErrInvalidTransition when current cannot move to next.
func (t transitionTable) check(entity, current, next string) error {
	if !t.can(current, next) {
		return fmt.Errorf("%w: %s %s -> %s", domain.ErrInvalidTransition, entity, current, next)
	}
	return nil
}

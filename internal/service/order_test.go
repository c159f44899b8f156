package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/notify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderDeliveryThenApproveReleasesToSeller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.heldOrder(t, units(200))
	require.NotNil(t, order.HeldAt)

	_, err := h.orders.Approve(ctx, order.ID, order.BuyerID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.orders.ConfirmDelivery(ctx, order.ID, order.BuyerID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	delivered, err := h.orders.ConfirmDelivery(ctx, order.ID, order.SellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDeliveryConfirmed, delivered.Status)
	assert.True(t, delivered.DeliveryConfirmed)

	_, err = h.orders.Approve(ctx, order.ID, order.SellerID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	released, err := h.orders.Approve(ctx, order.ID, order.BuyerID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReleased, released.Status)
	assert.True(t, released.BuyerApproved)

	assert.Equal(t, units(200), h.balance(t, order.SellerID))
	assert.Equal(t, units(5), h.accountNet(t, domain.AccountPlatformFees))
	h.requireBalanced(t)

	view, err := h.orders.Get(ctx, order.ID, order.SellerID, false)
	require.NoError(t, err)
	require.NotNil(t, view.Escrow)
	assert.Equal(t, domain.EscrowStatusReleased, view.Escrow.Status)

	notes := h.notes.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.TypeEscrowReleased, notes[0].Type)
	assert.Equal(t, order.SellerID, notes[0].UserID)
}

func TestOrderCreateValidation(t *testing.T) {
	h := newHarness(t)
	buyer := uuid.New()

	_, err := h.orders.Create(context.Background(), CreateOrderRequest{BuyerID: buyer, SellerID: uuid.New(), Currency: testCurrency})
	_, ok := domain.AsValidationError(err)
	require.True(t, ok)

	_, err = h.orders.Create(context.Background(), CreateOrderRequest{BuyerID: buyer, SellerID: buyer, TotalAmount: 10, Currency: testCurrency})
	_, ok = domain.AsValidationError(err)
	require.True(t, ok)
}

func TestOrderPlaceEscrowBuyerOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	order, err := h.orders.Create(ctx, CreateOrderRequest{BuyerID: buyer, SellerID: seller, TotalAmount: units(10), Currency: testCurrency})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, order.Status)

	_, err = h.orders.PlaceEscrow(ctx, order.ID, seller, "")
	require.ErrorIs(t, err, domain.ErrForbidden)

	session, err := h.orders.PlaceEscrow(ctx, order.ID, buyer, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowKindOrder, session.Kind)
	assert.Equal(t, units(10)+domain.PlatformFee(units(10), testFeeBPS), session.Amount)
}

func TestOrderDisputeBlocksApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.heldOrder(t, units(80))
	_, err := h.orders.ConfirmDelivery(ctx, order.ID, order.SellerID)
	require.NoError(t, err)

	dispute, err := h.orders.Dispute(ctx, order.ID, order.BuyerID, "item damaged")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowKindOrder, dispute.Kind)
	assert.Equal(t, order.BuyerID, dispute.OpenedBy)

	_, err = h.orders.Approve(ctx, order.ID, order.BuyerID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, int64(0), h.balance(t, order.SellerID))

	notes := h.notes.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.TypeDisputeOpened, notes[0].Type)
	assert.Equal(t, order.SellerID, notes[0].UserID)

	open, err := h.disputes.List(ctx, domain.DisputeStatusOpen, 0, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, dispute.ID, open[0].ID)
}

func TestOrderRefundDisputedResolvesDispute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.heldOrder(t, units(80))
	dispute, err := h.orders.Dispute(ctx, order.ID, order.SellerID, "buyer never collected")
	require.NoError(t, err)

	admin := uuid.New()
	refunded, err := h.orders.Refund(ctx, order.ID, admin, "agreed to cancel")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, refunded.Status)

	fee := domain.PlatformFee(units(80), testFeeBPS)
	assert.Equal(t, units(80)+fee, h.balance(t, order.BuyerID))
	assert.Equal(t, int64(0), h.accountNet(t, domain.AccountPlatformFees))
	h.requireBalanced(t)

	stored, err := h.disputes.Get(ctx, dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResolved, stored.Status)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, domain.DisputeResolutionRefund, *stored.Resolution)
	require.NotNil(t, stored.ResolvedBy)
	assert.Equal(t, admin, *stored.ResolvedBy)

	_, err = h.orders.Refund(ctx, order.ID, admin, "again")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestOrderRefundHeldOnlyWhenStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.heldOrder(t, units(30))
	admin := uuid.New()

	_, err := h.orders.Refund(ctx, order.ID, admin, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, int64(0), h.balance(t, order.BuyerID))

	h.clock.Advance(DefaultOrderStaleAfter + time.Minute)
	refunded, err := h.orders.Refund(ctx, order.ID, admin, "seller vanished")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, refunded.Status)
	assert.Equal(t, units(30)+domain.PlatformFee(units(30), testFeeBPS), h.balance(t, order.BuyerID))
	h.requireBalanced(t)
}

func TestOrderResolveDisputeRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.heldOrder(t, units(60))
	dispute, err := h.orders.Dispute(ctx, order.ID, order.BuyerID, "late")
	require.NoError(t, err)

	_, err = h.disputes.Resolve(ctx, ResolveDisputeRequest{DisputeID: dispute.ID, Resolution: "maybe", AdminID: uuid.New()})
	_, ok := domain.AsValidationError(err)
	require.True(t, ok)

	_, err = h.disputes.Resolve(ctx, ResolveDisputeRequest{DisputeID: dispute.ID, Resolution: domain.DisputeResolutionRelease, AdminID: uuid.New()})
	require.NoError(t, err)

	view, err := h.orders.Get(ctx, order.ID, order.BuyerID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReleased, view.Order.Status)
	assert.Equal(t, units(60), h.balance(t, order.SellerID))

	resolved, err := h.disputes.List(ctx, domain.DisputeStatusResolved, 10, 0)
	require.NoError(t, err)
	assert.Len(t, resolved, 1)

	_, err = h.disputes.List(ctx, "pending", 10, 0)
	_, ok = domain.AsValidationError(err)
	assert.True(t, ok)
}

func TestOrderGetForbiddenForStranger(t *testing.T) {
	h := newHarness(t)
	order := h.heldOrder(t, units(5))
	_, err := h.orders.Get(context.Background(), order.ID, uuid.New(), false)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.orders.Get(context.Background(), uuid.New(), order.BuyerID, false)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

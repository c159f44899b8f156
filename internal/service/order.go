package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/notify"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultOrderStaleAfter is how long a held order must sit untouched before an
// admin may refund it without a dispute.
const DefaultOrderStaleAfter = 30 * 24 * time.Hour

// OrderEscrowService runs marketplace orders through escrow.
type OrderEscrowService struct {
	store      QueryStore
	funding    *FundingService
	ledger     *EscrowLedger
	disputes   *DisputeService
	audit      *AuditService
	notifier   notify.Notifier
	clock      Clock
	staleAfter time.Duration
}

func NewOrderEscrowService(store QueryStore, funding *FundingService, disputes *DisputeService, notifier notify.Notifier, staleAfter time.Duration, clock Clock) *OrderEscrowService {
	if staleAfter <= 0 {
		staleAfter = DefaultOrderStaleAfter
	}
	return &OrderEscrowService{
		store:      store,
		funding:    funding,
		ledger:     funding.ledger,
		disputes:   disputes,
		audit:      funding.audit,
		notifier:   notifier,
		clock:      clock,
		staleAfter: staleAfter,
	}
}

type CreateOrderRequest struct {
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	Description string
	TotalAmount int64
	Currency    string
}

func (s *OrderEscrowService) Create(ctx context.Context, req CreateOrderRequest) (models.Order, error) {
	if req.TotalAmount <= 0 {
		return models.Order{}, domain.NewValidationError("total_amount", domain.ReasonNotPositive, "order total must be positive")
	}
	if req.SellerID == uuid.Nil {
		return models.Order{}, domain.NewValidationError("seller_id", domain.ReasonEmpty, "seller is required")
	}
	if req.SellerID == req.BuyerID {
		return models.Order{}, domain.NewValidationError("seller_id", domain.ReasonMismatch, "buyer cannot purchase from themselves")
	}

	var order models.Order
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		order, err = qtx.CreateOrder(ctx, models.Order{
			ID:          uuid.New(),
			BuyerID:     req.BuyerID,
			SellerID:    req.SellerID,
			Description: strings.TrimSpace(req.Description),
			TotalAmount: req.TotalAmount,
			Currency:    req.Currency,
			Status:      domain.OrderStatusAwaitingPayment,
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return s.audit.Write(ctx, qtx, "order", order.ID, &req.BuyerID, "created", "", order.Status, nil)
	})
	if err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// OrderView is an order together with its escrow record, if funded.
type OrderView struct {
	Order  models.Order         `json:"order"`
	Escrow *models.EscrowRecord `json:"escrow,omitempty"`
}

// Get returns the order and its escrow record to the buyer, the seller or an admin.
func (s *OrderEscrowService) Get(ctx context.Context, orderID, actorID uuid.UUID, isAdmin bool) (OrderView, error) {
	queries := s.store.Queries()
	order, err := queries.GetOrder(ctx, orderID)
	if err != nil {
		return OrderView{}, notFound(err, "order")
	}
	if !isAdmin && actorID != order.BuyerID && actorID != order.SellerID {
		return OrderView{}, domain.ErrForbidden
	}
	view := OrderView{Order: order}
	if order.EscrowRecordID != nil {
		record, err := queries.GetEscrowRecord(ctx, *order.EscrowRecordID)
		if err != nil {
			return OrderView{}, notFound(err, "escrow record")
		}
		view.Escrow = &record
	}
	return view, nil
}

// PlaceEscrow opens a checkout session for the buyer. The order stays
// awaiting_payment until the webhook confirms funding.
func (s *OrderEscrowService) PlaceEscrow(ctx context.Context, orderID, actorID uuid.UUID, email string) (models.PaymentSession, error) {
	order, err := s.store.Queries().GetOrder(ctx, orderID)
	if err != nil {
		return models.PaymentSession{}, notFound(err, "order")
	}
	if actorID != order.BuyerID {
		return models.PaymentSession{}, domain.ErrForbidden
	}
	if err := orderTransitions.check("order", order.Status, domain.OrderStatusHeld); err != nil {
		return models.PaymentSession{}, err
	}
	return s.funding.OpenSession(ctx, SessionRequest{
		Kind:      domain.EscrowKindOrder,
		SubjectID: order.ID,
		PayerID:   order.BuyerID,
		PayeeID:   order.SellerID,
		Base:      order.TotalAmount,
		Currency:  order.Currency,
		Email:     email,
	})
}

// markOrderHeld advances an order once its escrow record is held.
func markOrderHeld(ctx context.Context, qtx repository.Querier, audit *AuditService, orderID, recordID uuid.UUID, now time.Time) error {
	order, err := qtx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return notFound(err, "order")
	}
	return setOrderStatus(ctx, qtx, audit, order, domain.OrderStatusHeld, nil, "escrow_funded", repository.UpdateOrderParams{
		EscrowRecordID: &recordID,
		HeldAt:         &now,
	})
}

// setOrderStatus checks the transition and persists it. ID and Status in
// extra are overwritten.
func setOrderStatus(ctx context.Context, qtx repository.Querier, audit *AuditService, order models.Order, next string, actorID *uuid.UUID, action string, extra repository.UpdateOrderParams) error {
	if err := orderTransitions.check("order", order.Status, next); err != nil {
		return err
	}
	extra.ID = order.ID
	extra.Status = next
	rows, err := qtx.UpdateOrder(ctx, extra)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if err := requireExactlyOne(rows, "update order"); err != nil {
		return err
	}
	return audit.Write(ctx, qtx, "order", order.ID, actorID, action, order.Status, next, nil)
}

// ConfirmDelivery is the seller's statement that the goods were delivered.
func (s *OrderEscrowService) ConfirmDelivery(ctx context.Context, orderID, actorID uuid.UUID) (models.Order, error) {
	var order models.Order
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		order, err = qtx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, "order")
		}
		if actorID != order.SellerID {
			return domain.ErrForbidden
		}
		confirmed := true
		if err := setOrderStatus(ctx, qtx, s.audit, order, domain.OrderStatusDeliveryConfirmed, &actorID, "delivery_confirmed", repository.UpdateOrderParams{
			DeliveryConfirmed: &confirmed,
		}); err != nil {
			return err
		}
		order.Status = domain.OrderStatusDeliveryConfirmed
		order.DeliveryConfirmed = true
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// Approve is the buyer's acceptance. It requires a confirmed delivery and
// releases escrow to the seller in the same transaction.
func (s *OrderEscrowService) Approve(ctx context.Context, orderID, actorID uuid.UUID) (models.Order, error) {
	var (
		order  models.Order
		credit models.WalletCredit
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		order, err = qtx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, "order")
		}
		if actorID != order.BuyerID {
			return domain.ErrForbidden
		}
		if order.EscrowRecordID == nil {
			return fmt.Errorf("%w: order has no escrow record", domain.ErrInvalidState)
		}
		approved := true
		if err := setOrderStatus(ctx, qtx, s.audit, order, domain.OrderStatusBuyerApproved, &actorID, "buyer_approved", repository.UpdateOrderParams{
			BuyerApproved: &approved,
		}); err != nil {
			return err
		}
		order.Status = domain.OrderStatusBuyerApproved
		order.BuyerApproved = true

		credit, err = s.ledger.Release(ctx, qtx, *order.EscrowRecordID, &actorID)
		if err != nil {
			return err
		}
		if err := setOrderStatus(ctx, qtx, s.audit, order, domain.OrderStatusReleased, &actorID, "released", repository.UpdateOrderParams{}); err != nil {
			return err
		}
		order.Status = domain.OrderStatusReleased
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}

	notify.Send(ctx, s.notifier, notify.Notification{
		Type:      notify.TypeEscrowReleased,
		UserID:    credit.UserID,
		SubjectID: order.ID,
		Data:      map[string]any{"amount_micros": credit.Amount},
	})
	return order, nil
}

// Dispute freezes the order's escrow. Buyer or seller may dispute before release.
func (s *OrderEscrowService) Dispute(ctx context.Context, orderID, actorID uuid.UUID, reason string) (models.DisputeCase, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.DisputeCase{}, domain.NewValidationError("reason", domain.ReasonEmpty, "dispute reason is required")
	}

	var (
		order   models.Order
		dispute models.DisputeCase
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		order, err = qtx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, "order")
		}
		if actorID != order.BuyerID && actorID != order.SellerID {
			return domain.ErrForbidden
		}
		if err := orderTransitions.check("order", order.Status, domain.OrderStatusDisputed); err != nil {
			return err
		}
		if order.EscrowRecordID == nil {
			return fmt.Errorf("%w: order has no escrow record", domain.ErrInvalidState)
		}
		dispute, err = s.disputes.open(ctx, qtx, domain.EscrowKindOrder, order.ID, *order.EscrowRecordID, actorID, reason)
		if err != nil {
			return err
		}
		return setOrderStatus(ctx, qtx, s.audit, order, domain.OrderStatusDisputed, &actorID, "disputed", repository.UpdateOrderParams{})
	})
	if err != nil {
		return models.DisputeCase{}, err
	}

	counterparty := order.BuyerID
	if actorID == order.BuyerID {
		counterparty = order.SellerID
	}
	notify.Send(ctx, s.notifier, notify.Notification{
		Type:      notify.TypeDisputeOpened,
		UserID:    counterparty,
		SubjectID: order.ID,
		Data:      map[string]any{"dispute_id": dispute.ID, "reason": reason},
	})
	return dispute, nil
}

// Refund returns the escrow to the buyer. Admin only; allowed for disputed
// orders, whose open dispute is resolved as a refund, and for held orders
// left untouched longer than the stale window.
func (s *OrderEscrowService) Refund(ctx context.Context, orderID, adminID uuid.UUID, note string) (models.Order, error) {
	var (
		order  models.Order
		credit models.WalletCredit
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		order, err = qtx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, "order")
		}
		if err := orderTransitions.check("order", order.Status, domain.OrderStatusRefunded); err != nil {
			return err
		}
		if order.EscrowRecordID == nil {
			return fmt.Errorf("%w: order has no escrow record", domain.ErrInvalidState)
		}

		switch order.Status {
		case domain.OrderStatusHeld:
			if order.HeldAt == nil || s.clock.now().Sub(*order.HeldAt) < s.staleAfter {
				return fmt.Errorf("%w: held order is not stale yet", domain.ErrInvalidTransition)
			}
			credit, err = s.ledger.Refund(ctx, qtx, *order.EscrowRecordID, &adminID)
		case domain.OrderStatusDisputed:
			credit, err = s.ledger.Resolve(ctx, qtx, *order.EscrowRecordID, domain.DisputeResolutionRefund, &adminID)
			if err == nil {
				err = s.closeOpenDispute(ctx, qtx, *order.EscrowRecordID, adminID, note)
			}
		}
		if err != nil {
			return err
		}

		if err := setOrderStatus(ctx, qtx, s.audit, order, domain.OrderStatusRefunded, &adminID, "refunded", repository.UpdateOrderParams{}); err != nil {
			return err
		}
		order.Status = domain.OrderStatusRefunded
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}

	notify.Send(ctx, s.notifier, notify.Notification{
		Type:      notify.TypeEscrowRefunded,
		UserID:    credit.UserID,
		SubjectID: order.ID,
		Data:      map[string]any{"amount_micros": credit.Amount},
	})
	return order, nil
}

// closeOpenDispute marks the open dispute on a record as resolved by refund.
func (s *OrderEscrowService) closeOpenDispute(ctx context.Context, qtx repository.Querier, recordID, adminID uuid.UUID, note string) error {
	dispute, err := qtx.GetOpenDisputeForEscrowForUpdate(ctx, recordID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load open dispute: %w", err)
	}
	note = strings.TrimSpace(note)
	rows, err := qtx.ResolveDispute(ctx, repository.ResolveDisputeParams{
		ID:         dispute.ID,
		Resolution: domain.DisputeResolutionRefund,
		Note:       note,
		ResolvedBy: adminID,
		ResolvedAt: s.clock.now(),
	})
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	if err := requireExactlyOne(rows, "resolve dispute"); err != nil {
		return err
	}
	return s.audit.Write(ctx, qtx, "dispute", dispute.ID, &adminID, "resolved", dispute.Status, domain.DisputeStatusResolved, marshalMetadata(map[string]any{
		"resolution": domain.DisputeResolutionRefund,
		"note":       note,
	}))
}

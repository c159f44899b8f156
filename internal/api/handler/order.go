package handler

import (
	"net/http"

	"github.com/ayo6706/escrow-settlement/internal/api/middleware"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/service"
)

// OrderHandler exposes marketplace order escrow. Routes under /escrow/{id}
// take the order id.
type OrderHandler struct {
	orders   *service.OrderEscrowService
	currency string
}

func NewOrderHandler(orders *service.OrderEscrowService, currency string) *OrderHandler {
	return &OrderHandler{orders: orders, currency: currency}
}

type createOrderRequest struct {
	SellerID    string `json:"seller_id" validate:"required,uuid"`
	Description string `json:"description" validate:"max=2000"`
	TotalAmount string `json:"total_amount" validate:"required"`
}

// Create handles POST /orders. The caller is the buyer.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	buyerID, _, ok := actor(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	sellerID, err := parseUUIDField("seller_id", req.SellerID)
	if err != nil {
		writeServiceError(w, r, "create order", err)
		return
	}
	total, err := domain.ParseAmount("total_amount", req.TotalAmount)
	if err != nil {
		writeServiceError(w, r, "create order", err)
		return
	}
	order, err := h.orders.Create(r.Context(), service.CreateOrderRequest{
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Description: req.Description,
		TotalAmount: total,
		Currency:    h.currency,
	})
	if err != nil {
		writeServiceError(w, r, "create order", err)
		return
	}
	RespondJSON(w, http.StatusCreated, order)
}

// Get handles GET /escrow/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.orders.Get(r.Context(), orderID, actorID, isAdmin)
	if err != nil {
		writeServiceError(w, r, "get order", err)
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

// PlaceEscrow handles POST /orders/{id}/escrow/place.
func (h *OrderHandler) PlaceEscrow(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	session, err := h.orders.PlaceEscrow(r.Context(), orderID, actorID, middleware.UserEmailFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, "place order escrow", err)
		return
	}
	RespondJSON(w, http.StatusCreated, checkoutResponse{
		CheckoutURL: session.CheckoutURL,
		SessionID:   session.ID.String(),
		Status:      session.Status,
		ExpiresAt:   session.ExpiresAt,
	})
}

// ConfirmDelivery handles POST /escrow/{id}/confirm-delivery.
func (h *OrderHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.ConfirmDelivery(r.Context(), orderID, actorID)
	if err != nil {
		writeServiceError(w, r, "confirm delivery", err)
		return
	}
	RespondJSON(w, http.StatusOK, order)
}

// Approve handles POST /escrow/{id}/approve.
func (h *OrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.Approve(r.Context(), orderID, actorID)
	if err != nil {
		writeServiceError(w, r, "approve order", err)
		return
	}
	RespondJSON(w, http.StatusOK, order)
}

// Dispute handles POST /escrow/{id}/dispute.
func (h *OrderHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req disputeRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	dispute, err := h.orders.Dispute(r.Context(), orderID, actorID, req.Reason)
	if err != nil {
		writeServiceError(w, r, "open order dispute", err)
		return
	}
	RespondJSON(w, http.StatusCreated, dispute)
}

type refundRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

// Refund handles POST /escrow/{id}/refund (admin only).
func (h *OrderHandler) Refund(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req refundRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	order, err := h.orders.Refund(r.Context(), orderID, adminID, req.Note)
	if err != nil {
		writeServiceError(w, r, "refund order", err)
		return
	}
	RespondJSON(w, http.StatusOK, order)
}

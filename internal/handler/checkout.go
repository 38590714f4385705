package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

type beginCheckoutRequest struct {
	// AttemptID is the client-supplied idempotency key. Retrying with the
	// same ID returns the same attempt instead of starting a new one.
	AttemptID string `json:"attempt_id"`
}

type attemptItemDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type attemptResponse struct {
	AttemptID   string           `json:"attempt_id"`
	Status      string           `json:"status"`
	Items       []attemptItemDTO `json:"items"`
	Total       string           `json:"total"`
	Currency    string           `json:"currency"`
	OrderID     string           `json:"order_id,omitempty"`
	FailureCode string           `json:"failure_code,omitempty"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// BeginCheckout starts (or re-joins) a checkout attempt for the caller's
// cart. The attempt ID doubles as the idempotency key end to end, down to
// the payment gateway.
func (h *Handler) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	var req beginCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if req.AttemptID == "" {
		req.AttemptID = uuid.NewString()
	} else if _, err := uuid.Parse(req.AttemptID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid_attempt_id", "attempt_id must be a UUID")
		return
	}

	attempt, err := h.checkout.Begin(r.Context(), req.AttemptID, session.ShopperID, session.Email)
	if err != nil {
		h.lg.Warn("begin checkout",
			zap.String("attempt_id", req.AttemptID),
			zap.Error(err))
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, attemptToResponse(attempt))
}

// CheckoutStatus returns the current state of an attempt. Safe to poll; the
// response converges once the attempt reaches a terminal status.
func (h *Handler) CheckoutStatus(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	attemptID := chi.URLParam(r, "attemptID")

	attempt, err := h.checkout.Status(r.Context(), attemptID, session.ShopperID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, attemptToResponse(attempt))
}

type orderItemDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type orderResponse struct {
	OrderID   string         `json:"order_id"`
	Status    string         `json:"status"`
	Total     string         `json:"total"`
	Currency  string         `json:"currency"`
	Items     []orderItemDTO `json:"items"`
	CreatedAt time.Time      `json:"created_at"`
}

// GetOrder returns one of the caller's orders. Orders belonging to other
// shoppers are indistinguishable from missing ones.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	orderID := chi.URLParam(r, "orderID")

	o, items, err := h.orders.GetForShopper(r.Context(), orderID, session.ShopperID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := orderResponse{
		OrderID:   o.ID,
		Status:    string(o.Status),
		Total:     o.Total.StringFixed(2),
		Currency:  o.Currency,
		Items:     make([]orderItemDTO, 0, len(items)),
		CreatedAt: o.CreatedAt,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, orderItemDTO{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func attemptToResponse(a *checkout.Attempt) attemptResponse {
	resp := attemptResponse{
		AttemptID:   a.ID,
		Status:      string(a.Status),
		Items:       make([]attemptItemDTO, 0, len(a.Items)),
		Total:       a.Total.StringFixed(2),
		Currency:    a.Currency,
		OrderID:     a.OrderID,
		FailureCode: a.FailureCode,
		ExpiresAt:   a.ExpiresAt,
	}
	for _, it := range a.Items {
		resp.Items = append(resp.Items, attemptItemDTO{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	return resp
}

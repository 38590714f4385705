package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Code: code, Message: message})
}

// respondDomainError maps domain errors to HTTP status codes. Unknown errors
// become opaque 500s; the caller logs the detail.
func respondDomainError(w http.ResponseWriter, err error) {
	var (
		insufficient *catalog.InsufficientStockError
		declined     *payment.DeclinedError
	)
	switch {
	case errors.As(err, &insufficient):
		respondError(w, http.StatusConflict, "insufficient_stock",
			"not enough stock for product "+insufficient.ProductID)
	case errors.As(err, &declined):
		respondError(w, http.StatusPaymentRequired, "payment_declined", declined.Reason)
	case errors.Is(err, payment.ErrGatewayUnavailable):
		respondError(w, http.StatusServiceUnavailable, "gateway_unavailable",
			"payment gateway unavailable, retry later")
	case errors.Is(err, cart.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", "cart has no lines")
	case errors.Is(err, catalog.ErrNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", "unknown product")
	case errors.Is(err, checkout.ErrAttemptNotFound):
		respondError(w, http.StatusNotFound, "attempt_not_found", "unknown checkout attempt")
	case errors.Is(err, order.ErrNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", "unknown order")
	default:
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// Package handler exposes the storefront checkout pipeline over HTTP.
package handler

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Handler wires the domain services to the HTTP API. Authentication is a
// bearer shopper token resolved to a session by the auth middleware; every
// route under /api except the webhook requires it.
type Handler struct {
	carts    cart.Repository
	products catalog.Repository
	checkout *checkout.Orchestrator
	orders   order.Ledger
	sessions auth.Repository
	pepper   []byte
	lg       *zap.Logger
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	carts cart.Repository,
	products catalog.Repository,
	orchestrator *checkout.Orchestrator,
	orders order.Ledger,
	sessions auth.Repository,
	pepper []byte,
	lg *zap.Logger,
) *Handler {
	return &Handler{
		carts:    carts,
		products: products,
		checkout: orchestrator,
		orders:   orders,
		sessions: sessions,
		pepper:   pepper,
		lg:       lg,
	}
}

// Routes mounts the API routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		// The gateway signs webhook deliveries; it has no shopper token.
		r.Post("/webhooks/payment", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			r.Get("/cart", h.GetCart)
			r.Put("/cart/{productID}", h.PutCartLine)
			r.Delete("/cart/{productID}", h.RemoveCartLine)

			r.Post("/checkout", h.BeginCheckout)
			r.Get("/checkout/{attemptID}", h.CheckoutStatus)

			r.Get("/orders/{orderID}", h.GetOrder)
		})
	})
}

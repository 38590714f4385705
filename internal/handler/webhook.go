package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// maxWebhookBody caps gateway event payloads.
const maxWebhookBody = 64 << 10

// PaymentWebhook ingests one gateway event delivery. The gateway retries on
// any non-2xx response, so duplicates, unknown intents, and filed anomalies
// all return 204: the delivery is accounted for and must not be retried.
// Only a bad signature earns a 401.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "unreadable body")
		return
	}

	signature := r.Header.Get("X-Payment-Signature")
	if err := h.checkout.HandlePaymentEvent(r.Context(), body, signature); err != nil {
		switch {
		case errors.Is(err, payment.ErrUntrustedEvent):
			h.lg.Warn("webhook signature rejected", zap.String("remote", r.RemoteAddr))
			respondError(w, http.StatusUnauthorized, "untrusted_event", "signature verification failed")
			return
		case errors.Is(err, payment.ErrMalformedEvent):
			respondError(w, http.StatusBadRequest, "malformed_event", "event payload could not be decoded")
			return
		case errors.Is(err, payment.ErrIntentNotFound):
			// An event for an intent this service never created. Accept the
			// delivery so the gateway stops redelivering it.
			h.lg.Warn("event for unknown intent", zap.Error(err))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		// Transient failures (storage, gateway lookups) get a 5xx so the
		// gateway redelivers; reconciliation is idempotent.
		h.lg.Error("webhook processing", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", "event not applied")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

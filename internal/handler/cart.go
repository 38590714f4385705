package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

type cartLineDTO struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price,omitempty"`
}

type cartResponse struct {
	Lines []cartLineDTO `json:"lines"`
	Total string        `json:"total"`
}

// GetCart lists the caller's cart lines with current catalog prices.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	lines, err := h.carts.List(r.Context(), session.ShopperID)
	if err != nil {
		h.lg.Error("list cart", zap.Error(err))
		respondDomainError(w, err)
		return
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products := map[string]catalog.Product{}
	if len(ids) > 0 {
		found, err := h.products.GetByIDs(r.Context(), ids)
		if err != nil {
			h.lg.Error("lookup cart products", zap.Error(err))
			respondDomainError(w, err)
			return
		}
		for _, p := range found {
			products[p.ID] = p
		}
	}

	resp := cartResponse{Lines: make([]cartLineDTO, 0, len(lines))}
	total := decimal.Zero
	for _, l := range lines {
		dto := cartLineDTO{ProductID: l.ProductID, Quantity: l.Quantity}
		if p, ok := products[l.ProductID]; ok {
			dto.Name = p.Name
			dto.UnitPrice = p.UnitPrice.StringFixed(2)
			total = total.Add(p.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
		resp.Lines = append(resp.Lines, dto)
	}
	resp.Total = total.StringFixed(2)

	respondJSON(w, http.StatusOK, resp)
}

type putCartLineRequest struct {
	Quantity int `json:"quantity"`
}

// PutCartLine sets the desired quantity for one product, replacing any
// previous value.
func (h *Handler) PutCartLine(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	productID := chi.URLParam(r, "productID")

	var req putCartLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusUnprocessableEntity, "invalid_quantity", "quantity must be positive")
		return
	}

	found, err := h.products.GetByIDs(r.Context(), []string{productID})
	if err != nil {
		h.lg.Error("lookup product", zap.Error(err))
		respondDomainError(w, err)
		return
	}
	if len(found) == 0 || found[0].Status != catalog.StatusActive {
		respondDomainError(w, catalog.ErrNotFound)
		return
	}

	line := cart.Line{
		ShopperID: session.ShopperID,
		ProductID: productID,
		Quantity:  req.Quantity,
		AddedAt:   time.Now(),
	}
	if err := h.carts.Put(r.Context(), line); err != nil {
		h.lg.Error("put cart line", zap.Error(err))
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cartLineDTO{ProductID: productID, Quantity: req.Quantity})
}

// RemoveCartLine deletes one product from the cart. Removing an absent line
// is a no-op.
func (h *Handler) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	productID := chi.URLParam(r, "productID")

	if err := h.carts.Remove(r.Context(), session.ShopperID, productID); err != nil {
		h.lg.Error("remove cart line", zap.Error(err))
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

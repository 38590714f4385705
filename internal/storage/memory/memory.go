// Package memory provides an in-process implementation of every pipeline
// store. It backs local development (no DATABASE_URL) and the concurrency
// tests; state does not survive restarts.
//
// Each contract is exposed as a view over one shared Store, the way the
// Postgres repositories share one pool. The single mutex gives the same
// atomicity Postgres gets from transactions; the conditional semantics
// (stock guard, status CAS) are identical.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/reservation"
)

// Store holds all pipeline state behind one mutex.
type Store struct {
	mu sync.Mutex

	products        map[string]catalog.Product
	carts           map[string]map[string]cart.Line
	reservations    map[string][]reservation.Reservation
	intents         map[string]payment.Intent
	intentByAttempt map[string]string
	events          map[string]string
	attempts        map[string]checkout.Attempt
	orders          map[string]order.Order
	orderByAttempt  map[string]string
	orderItems      map[string][]order.Item
	anomalies       map[string]checkout.Anomaly
	sessions        map[string]auth.Session
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		products:        make(map[string]catalog.Product),
		carts:           make(map[string]map[string]cart.Line),
		reservations:    make(map[string][]reservation.Reservation),
		intents:         make(map[string]payment.Intent),
		intentByAttempt: make(map[string]string),
		events:          make(map[string]string),
		attempts:        make(map[string]checkout.Attempt),
		orders:          make(map[string]order.Order),
		orderByAttempt:  make(map[string]string),
		orderItems:      make(map[string][]order.Item),
		anomalies:       make(map[string]checkout.Anomaly),
		sessions:        make(map[string]auth.Session),
	}
}

// Views over the shared state, one per pipeline contract.

func (s *Store) Catalog() catalog.Repository         { return catalogView{s} }
func (s *Store) Carts() cart.Repository              { return cartView{s} }
func (s *Store) Reservations() reservation.Repository { return reservationView{s} }
func (s *Store) Intents() payment.IntentStore        { return intentView{s} }
func (s *Store) Events() payment.EventLog            { return eventView{s} }
func (s *Store) Attempts() checkout.AttemptStore     { return attemptView{s} }
func (s *Store) Anomalies() checkout.AnomalyStore    { return anomalyView{s} }
func (s *Store) Ledger() order.Ledger                { return ledgerView{s} }
func (s *Store) Sessions() auth.Repository           { return sessionView{s} }

// SeedProduct inserts or replaces a catalog product.
func (s *Store) SeedProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// SeedSession inserts or replaces a shopper session.
func (s *Store) SeedSession(sess auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.TokenHash] = sess
}

// StockOf reports a product's current available stock. Test helper.
func (s *Store) StockOf(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].AvailableStock
}

// --- catalog.Repository ---

type catalogView struct{ s *Store }

func (v catalogView) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := v.s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (v catalogView) ReserveStock(_ context.Context, lines []catalog.Line) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	// Validate every line before touching any counter: all-or-nothing.
	for _, l := range lines {
		p, ok := v.s.products[l.ProductID]
		if !ok || p.Status != catalog.StatusActive || p.AvailableStock < l.Quantity {
			return &catalog.InsufficientStockError{ProductID: l.ProductID}
		}
	}
	for _, l := range lines {
		p := v.s.products[l.ProductID]
		p.AvailableStock -= l.Quantity
		v.s.products[l.ProductID] = p
	}
	return nil
}

func (v catalogView) ReleaseStock(_ context.Context, lines []catalog.Line) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	for _, l := range lines {
		p, ok := v.s.products[l.ProductID]
		if !ok {
			continue
		}
		p.AvailableStock += l.Quantity
		v.s.products[l.ProductID] = p
	}
	return nil
}

// --- cart.Repository ---

type cartView struct{ s *Store }

func (v cartView) List(_ context.Context, shopperID string) ([]cart.Line, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	lines := make([]cart.Line, 0, len(v.s.carts[shopperID]))
	for _, l := range v.s.carts[shopperID] {
		lines = append(lines, l)
	}
	return lines, nil
}

func (v cartView) Put(_ context.Context, line cart.Line) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if v.s.carts[line.ShopperID] == nil {
		v.s.carts[line.ShopperID] = make(map[string]cart.Line)
	}
	v.s.carts[line.ShopperID][line.ProductID] = line
	return nil
}

func (v cartView) Remove(_ context.Context, shopperID, productID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.carts[shopperID], productID)
	return nil
}

func (v cartView) Clear(_ context.Context, shopperID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.carts, shopperID)
	return nil
}

// --- auth.Repository ---

type sessionView struct{ s *Store }

func (v sessionView) FindByTokenHash(_ context.Context, hash string) (*auth.Session, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	sess, ok := v.s.sessions[hash]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	out := sess
	return &out, nil
}

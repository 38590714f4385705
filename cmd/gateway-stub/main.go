// Command gateway-stub is a fake payment provider for local development and
// integration tests. It creates intents deterministically (the intent ID is
// derived from the Idempotency-Key header) so test drivers can compute the
// intent ID for an attempt without reading it back.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type intent struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type store struct {
	mu      sync.Mutex
	byID    map[string]*intent
	byIdemp map[string]*intent
}

func newStore() *store {
	return &store{
		byID:    make(map[string]*intent),
		byIdemp: make(map[string]*intent),
	}
}

func (s *store) create(idempotencyKey, amount, currency string) *intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if existing, ok := s.byIdemp[idempotencyKey]; ok {
			return existing
		}
	}

	id := "pi_" + idempotencyKey
	if idempotencyKey == "" {
		id = "pi_" + uuid.NewString()
	}
	in := &intent{ID: id, Status: "created", Amount: amount, Currency: currency}
	s.byID[id] = in
	if idempotencyKey != "" {
		s.byIdemp[idempotencyKey] = in
	}
	return in
}

func (s *store) get(id string) (*intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	return in, ok
}

func (s *store) setStatus(id, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	if !ok {
		return false
	}
	in.Status = status
	return true
}

func main() {
	var (
		addr        string
		declineOver string
	)
	flag.StringVar(&addr, "addr", ":8090", "listen address")
	flag.StringVar(&declineOver, "decline-over", "", "decline intents above this amount (test hook)")
	flag.Parse()

	intents := newStore()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/intents", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if declineOver != "" && compareAmount(req.Amount, declineOver) > 0 {
			writeJSON(w, http.StatusPaymentRequired, map[string]string{"decline_reason": "amount_too_large"})
			return
		}

		in := intents.create(r.Header.Get("Idempotency-Key"), req.Amount, req.Currency)
		slog.Info("intent created", slog.String("id", in.ID), slog.String("amount", in.Amount))
		writeJSON(w, http.StatusCreated, in)
	})

	mux.HandleFunc("GET /v1/intents/{id}", func(w http.ResponseWriter, r *http.Request) {
		in, ok := intents.get(r.PathValue("id"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, in)
	})

	// Test hook: drive an intent to a terminal status out of band.
	mux.HandleFunc("PUT /v1/intents/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !intents.setStatus(r.PathValue("id"), req.Status) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway stub listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("serve", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// compareAmount compares two decimal strings of the form "123.45" without
// pulling in a decimal library for a throwaway stub.
func compareAmount(a, b string) int {
	pad := func(s string) string {
		if !strings.Contains(s, ".") {
			s += ".00"
		}
		whole := s[:strings.Index(s, ".")]
		return strings.Repeat("0", 20-len(whole)) + s
	}
	return strings.Compare(pad(a), pad(b))
}

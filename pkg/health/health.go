// Package health serves Kubernetes-style liveness and readiness probes.
//
// Checks are evaluated by a single scheduler goroutine on a fixed interval
// and their latest result is cached, so probe endpoints never block on a slow
// dependency. Readiness additionally gates on an explicit ready flag that the
// service flips during startup and graceful shutdown.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports whether one component is healthy. A nil return means
// healthy.
type CheckFunc func(ctx context.Context) error

type probeKind int

const (
	liveness probeKind = iota
	readiness
)

type probe struct {
	kind    probeKind
	name    string
	timeout time.Duration
	fn      CheckFunc

	// last holds the most recent evaluation result. nil means the probe has
	// not run yet, which counts as healthy so a slow first evaluation does
	// not fail startup probes.
	last atomic.Pointer[result]
}

type result struct {
	err error
}

func (p *probe) evaluate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.last.Store(&result{err: p.fn(ctx)})
}

func (p *probe) failure() (string, bool) {
	r := p.last.Load()
	if r == nil || r.err == nil {
		return "", false
	}
	return r.err.Error(), true
}

// Health evaluates registered checks and serves the probe endpoints.
type Health struct {
	ready atomic.Bool

	// mu guards probes and cancel. Registration happens before Start; the
	// endpoints only read.
	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New returns a Health with no checks. The service starts not ready; call
// SetReady(true) once initialization finishes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process should
// be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(liveness, name, timeout, check)
}

// AddReadinessCheck registers a check that decides whether the service may
// receive traffic, a database ping being the usual case.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(readiness, name, timeout, check)
}

func (h *Health) add(kind probeKind, name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, &probe{kind: kind, name: name, timeout: timeout, fn: check})
}

// Start launches the scheduler goroutine. Every probe is evaluated once
// immediately and then on each tick.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			for _, p := range probes {
				p.evaluate(ctx)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the scheduler. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the explicit readiness flag. Set false during graceful
// shutdown so load balancers drain the instance before it stops listening.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the ready flag is set and every readiness check
// passed its latest evaluation.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.failures(readiness)) == 0
}

func (h *Health) failures(kind probeKind) map[string]string {
	h.mu.RLock()
	probes := h.probes
	h.mu.RUnlock()

	var out map[string]string
	for _, p := range probes {
		if p.kind != kind {
			continue
		}
		if msg, failed := p.failure(); failed {
			if out == nil {
				out = make(map[string]string)
			}
			out[p.name] = msg
		}
	}
	return out
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while liveness checks pass, 503 with the
// failing checks otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, h.failures(liveness))
}

// ReadyEndpoint serves /readyz: 200 once SetReady(true) was called and all
// readiness checks pass.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(readiness)
	if !h.ready.Load() {
		if failures == nil {
			failures = make(map[string]string)
		}
		failures["_readiness"] = "service is not ready"
	}
	writeProbe(w, failures)
}

func writeProbe(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := probeResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = probeResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

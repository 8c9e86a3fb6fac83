// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ops exposes the operational HTTP surface: health checks, an
// out-of-band trigger for a processing cycle, and archived document lookup
// for audit and manual resend.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/billforge/invoicer/internal/archive"
	"github.com/billforge/invoicer/internal/models"
	"github.com/billforge/invoicer/internal/pipeline"
)

// HealthChecker is a dependency that can report liveness.
type HealthChecker func(ctx context.Context) error

// RecentLister lists the most recently issued invoices. Implemented by
// ledger.Store.
type RecentLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.InvoiceRecord, error)
}

// recentLimit caps the /invoices listing.
const recentLimit = 50

// Handler serves the ops endpoints.
type Handler struct {
	pipeline *pipeline.Pipeline
	archive  *archive.Store
	ledger   RecentLister
	lookback time.Duration
	checks   map[string]HealthChecker
}

// NewHandler creates an ops handler. checks maps a dependency name to its
// liveness probe; all must pass for /health to report healthy.
func NewHandler(p *pipeline.Pipeline, store *archive.Store, ledger RecentLister, lookback time.Duration, checks map[string]HealthChecker) *Handler {
	return &Handler{
		pipeline: p,
		archive:  store,
		ledger:   ledger,
		lookback: lookback,
		checks:   checks,
	}
}

// ServeHealth reports liveness of every backing dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			http.Error(w, name+" unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

// ServeRun triggers one processing cycle out of band and reports its summary.
func (h *Handler) ServeRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sum := h.pipeline.Cycle(r.Context(), h.lookback)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"run_id":    sum.RunID,
		"fetched":   sum.Fetched,
		"delivered": sum.Delivered,
		"skipped":   sum.Skipped,
		"failed":    sum.Failed,
		"elapsed":   sum.Elapsed.String(),
	})
}

// ServeInvoice returns the archived PDF for an invoice number, or the recent
// invoice records when no number is given.
// Paths: /invoices/{number}, /invoices/
func (h *Handler) ServeInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/invoices/")
	if raw == "" {
		h.serveRecent(w, r)
		return
	}

	number, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || number <= 0 {
		http.Error(w, "invalid invoice number", http.StatusBadRequest)
		return
	}

	data, err := h.archive.GetDocument(archive.DocumentKey(number))
	if errors.Is(err, archive.ErrNotFound) {
		http.Error(w, "invoice not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("document lookup failed", "invoice_number", number, "error", err)
		http.Error(w, "archive unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("Invoice %06d.pdf", number)))
	w.Write(data)
}

// serveRecent lists the most recently issued invoice records, newest first.
func (h *Handler) serveRecent(w http.ResponseWriter, r *http.Request) {
	records, err := h.ledger.ListRecent(r.Context(), recentLimit)
	if err != nil {
		slog.Error("recent invoices lookup failed", "error", err)
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	if records == nil {
		records = []models.InvoiceRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// Serve starts the ops HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before starting
// to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.ServeHealth)
	mux.HandleFunc("/run", handler.ServeRun)
	mux.HandleFunc("/invoices/", handler.ServeInvoice)

	// WriteTimeout leaves room for /run, which blocks for a full cycle.
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind ops port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("ops server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("ops server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("ops server error", "error", err)
		}
	}()

	return ready, nil
}

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

// Invoicer — mail-to-invoice processing service
//
// Entry point for the invoicing service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL (ledger), Redis (dedup), and the archive file
//  3. Builds the OAuth2 mail client, extractor, and renderer
//  4. Runs the inbox poll loop that drives the dispatch pipeline
//  5. Serves the ops endpoints (health, manual run, document lookup)
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/billforge/invoicer/internal/archive"
	"github.com/billforge/invoicer/internal/authorize"
	"github.com/billforge/invoicer/internal/config"
	"github.com/billforge/invoicer/internal/dedup"
	"github.com/billforge/invoicer/internal/extract"
	"github.com/billforge/invoicer/internal/ledger"
	"github.com/billforge/invoicer/internal/mail"
	"github.com/billforge/invoicer/internal/ops"
	"github.com/billforge/invoicer/internal/pipeline"
	"github.com/billforge/invoicer/internal/render"
	"github.com/billforge/invoicer/internal/sequence"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting invoicing service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"approved_senders", len(cfg.ApprovedSenders),
		"poll_interval", cfg.PollInterval,
		"poll_lookback", cfg.PollLookback,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	invoices, err := ledger.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise invoice ledger", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	filter := dedup.NewFilter(rdb)
	if err := filter.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Archive Store ---
	store, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		slog.Error("failed to open archive store", "path", cfg.ArchivePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	last, err := store.LastIssued()
	if err != nil {
		slog.Error("failed to read invoice counter", "error", err)
		os.Exit(1)
	}
	slog.Info("archive store opened", "path", cfg.ArchivePath, "last_invoice_number", last)

	// --- OAuth2 mail client ---
	creds := &clientcredentials.Config{
		ClientID:     cfg.Mailbox.ClientID,
		ClientSecret: cfg.Mailbox.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Mailbox.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	mailbox := mail.NewClient(creds.Client(ctx), cfg.Mailbox.BaseURL, cfg.Mailbox.MailboxID)

	// --- Pipeline components ---
	authorizer := authorize.New(cfg.ApprovedSenders)
	extractor := extract.New(
		extract.NewOpenAIClient(cfg.Extractor.APIKey, cfg.Extractor.Model, cfg.Extractor.BaseURL, cfg.StageTimeout),
		cfg.DefaultCurrency,
	)
	allocator := sequence.New(store, func(err error) bool {
		return errors.Is(err, archive.ErrConflict)
	})
	renderer := render.New(render.NewHTTPEngine(cfg.RendererURL, cfg.StageTimeout), cfg.SellerName)

	pipe := pipeline.New(pipeline.Config{
		Mailbox:      mailbox,
		Authorizer:   authorizer,
		Extractor:    extractor,
		Allocator:    allocator,
		Renderer:     renderer,
		Archive:      store,
		Ledger:       invoices,
		Dedup:        filter,
		SellerName:   cfg.SellerName,
		StageTimeout: cfg.StageTimeout,
	})

	// --- Ops server ---
	handler := ops.NewHandler(pipe, store, invoices, cfg.PollLookback, map[string]ops.HealthChecker{
		"redis":    func(ctx context.Context) error { return filter.Ping(ctx) },
		"postgres": func(ctx context.Context) error { return invoices.Ping(ctx) },
		"archive":  func(context.Context) error { return store.Ping() },
	})
	ready, err := ops.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start ops server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the poll loop and ops server
	}()

	// --- Poll loop (blocks until shutdown) ---
	poller := pipeline.NewPoller(pipe, cfg.PollInterval, cfg.PollLookback)
	poller.Run(ctx)

	rdb.Close()
	slog.Info("invoicing service stopped")
}

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

// Invoicer — Manual Resend Command
//
// Standalone CLI tool that re-sends an archived invoice to its original
// requester. Intended for invoices whose delivery failed after archiving
// (delivery_status = send_failed); those are recoverable without
// re-rendering or re-numbering. It never writes to the archive.
//
// Usage:
//
//	go run ./cmd/resend/ --number 42 [--to other@example.com]
//	go run ./cmd/resend/ --failed      # re-send every send_failed invoice
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/billforge/invoicer/internal/archive"
	"github.com/billforge/invoicer/internal/config"
	"github.com/billforge/invoicer/internal/ledger"
	"github.com/billforge/invoicer/internal/mail"
	"github.com/billforge/invoicer/internal/models"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	numberFlag := flag.Int64("number", 0, "Invoice number to re-send")
	toFlag := flag.String("to", "", "Override recipient address (optional; default = original sender)")
	failedFlag := flag.Bool("failed", false, "Re-send every invoice marked send_failed")
	flag.Parse()

	if *numberFlag == 0 && !*failedFlag {
		fmt.Fprintf(os.Stderr, "Error: either --number or --failed is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	invoices, err := ledger.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise invoice ledger", "error", err)
		os.Exit(1)
	}

	// --- Archive Store ---
	store, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		slog.Error("failed to open archive store", "path", cfg.ArchivePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// --- OAuth2 mail client ---
	creds := &clientcredentials.Config{
		ClientID:     cfg.Mailbox.ClientID,
		ClientSecret: cfg.Mailbox.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Mailbox.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	mailbox := mail.NewClient(creds.Client(ctx), cfg.Mailbox.BaseURL, cfg.Mailbox.MailboxID)

	// --- Collect targets ---
	var targets []models.InvoiceRecord
	if *failedFlag {
		targets, err = invoices.ListUndelivered(ctx)
		if err != nil {
			slog.Error("failed to list undelivered invoices", "error", err)
			os.Exit(1)
		}
		if len(targets) == 0 {
			slog.Info("no undelivered invoices")
			return
		}
	} else {
		rec, err := invoices.GetByNumber(ctx, *numberFlag)
		if err != nil {
			slog.Error("failed to look up invoice", "invoice_number", *numberFlag, "error", err)
			os.Exit(1)
		}
		if rec == nil {
			slog.Error("invoice not found", "invoice_number", *numberFlag)
			os.Exit(1)
		}
		targets = append(targets, *rec)
	}

	// --- Re-send each target ---
	sent, failed := 0, 0
	for _, rec := range targets {
		if err := resend(ctx, cfg, store, invoices, mailbox, rec, *toFlag); err != nil {
			slog.Error("resend failed",
				"invoice_number", rec.Number,
				"error", err,
			)
			failed++
			continue
		}
		sent++
	}

	slog.Info("resend complete", "sent", sent, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// resend fetches one archived document and mails it out again.
func resend(ctx context.Context, cfg *config.Config, store *archive.Store, invoices *ledger.Store, mailbox *mail.Client, rec models.InvoiceRecord, overrideTo string) error {
	pdf, err := store.GetDocument(rec.DocumentKey)
	if err != nil {
		return fmt.Errorf("fetch archived document %s: %w", rec.DocumentKey, err)
	}

	to := rec.SenderAddress
	if overrideTo != "" {
		to = overrideTo
	}

	date := rec.GeneratedAt.Format("2 January 2006")
	subject := fmt.Sprintf("%s — Invoice #%06d dated %s (resend)", cfg.SellerName, rec.Number, date)
	body := fmt.Sprintf(`<p>Hi,</p>
<p>Re-sending invoice #%06d for %s, originally issued %s.</p>
<p>Thanks,<br>%s</p>`,
		rec.Number, rec.Request.RecipientName, date, cfg.SellerName)

	sendCtx, cancel := context.WithTimeout(ctx, cfg.StageTimeout)
	defer cancel()
	if err := mailbox.SendReply(sendCtx, to, subject, body,
		fmt.Sprintf("Invoice %06d.pdf", rec.Number), pdf); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := invoices.MarkDelivery(ctx, rec.Number, models.DeliverySent); err != nil {
		slog.Warn("sent but failed to update delivery status",
			"invoice_number", rec.Number,
			"error", err,
		)
	}

	slog.Info("invoice re-sent", "invoice_number", rec.Number, "to", to)
	return nil
}

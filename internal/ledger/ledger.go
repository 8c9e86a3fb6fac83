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

// Package ledger provides a Postgres-backed store for issued invoice
// records. One row per invoice number; the unique index on the source
// message id is the durable half of message de-duplication — a message that
// already produced an invoice can never produce a second one.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billforge/invoicer/internal/models"
)

// Store provides CRUD operations for invoice records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an invoice ledger backed by the given Postgres pool.
// It ensures the invoices table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure invoice schema: %w", err)
	}
	slog.Info("invoice ledger initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS invoices (
			number            BIGINT PRIMARY KEY,
			recipient_name    TEXT NOT NULL,
			recipient_address TEXT DEFAULT '',
			line_items        JSONB NOT NULL,
			currency          TEXT NOT NULL,
			due_date          TEXT DEFAULT '',
			notes             TEXT DEFAULT '',
			generated_at      TIMESTAMPTZ NOT NULL,
			source_message_id TEXT NOT NULL UNIQUE,
			sender_address    TEXT NOT NULL,
			document_key      TEXT NOT NULL,
			delivery_status   TEXT DEFAULT '',
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_invoices_sender ON invoices(sender_address);
		CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(delivery_status);
	`)
	return err
}

// Insert records a newly issued invoice. The primary key and the unique
// source_message_id index reject duplicates from overlapping instances.
func (s *Store) Insert(ctx context.Context, r models.InvoiceRecord) error {
	items, err := json.Marshal(r.Request.LineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO invoices
			(number, recipient_name, recipient_address, line_items, currency,
			 due_date, notes, generated_at, source_message_id, sender_address,
			 document_key, delivery_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.Number, r.Request.RecipientName, r.Request.RecipientAddress, items,
		r.Request.Currency, r.Request.DueDate, r.Request.Notes, r.GeneratedAt,
		r.SourceMessageID, r.SenderAddress, r.DocumentKey, r.DeliveryStatus)
	return err
}

// GetByNumber retrieves a single invoice record. Returns nil when absent.
func (s *Store) GetByNumber(ctx context.Context, number int64) (*models.InvoiceRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT number, recipient_name, recipient_address, line_items, currency,
		       due_date, notes, generated_at, source_message_id, sender_address,
		       document_key, delivery_status
		FROM invoices
		WHERE number = $1
	`, number)
	return scanRecord(row)
}

// GetBySourceMessage retrieves the invoice issued for a message id, if any.
// This is the durable idempotence check the pipeline consults before
// allocating a number.
func (s *Store) GetBySourceMessage(ctx context.Context, messageID string) (*models.InvoiceRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT number, recipient_name, recipient_address, line_items, currency,
		       due_date, notes, generated_at, source_message_id, sender_address,
		       document_key, delivery_status
		FROM invoices
		WHERE source_message_id = $1
	`, messageID)
	return scanRecord(row)
}

// ListRecent returns the most recently issued invoices, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]models.InvoiceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT number, recipient_name, recipient_address, line_items, currency,
		       due_date, notes, generated_at, source_message_id, sender_address,
		       document_key, delivery_status
		FROM invoices
		ORDER BY number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListUndelivered returns invoices whose reply never went out, oldest first.
// Feeds the manual resend flow.
func (s *Store) ListUndelivered(ctx context.Context) ([]models.InvoiceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT number, recipient_name, recipient_address, line_items, currency,
		       due_date, notes, generated_at, source_message_id, sender_address,
		       document_key, delivery_status
		FROM invoices
		WHERE delivery_status = $1
		ORDER BY number
	`, models.DeliveryFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// MarkDelivery sets the delivery status for an invoice.
func (s *Store) MarkDelivery(ctx context.Context, number int64, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET delivery_status = $1, updated_at = NOW()
		WHERE number = $2
	`, status, number)
	return err
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scanRecord scans a single row into an InvoiceRecord.
func scanRecord(row pgx.Row) (*models.InvoiceRecord, error) {
	var r models.InvoiceRecord
	var items []byte
	err := row.Scan(
		&r.Number, &r.Request.RecipientName, &r.Request.RecipientAddress,
		&items, &r.Request.Currency, &r.Request.DueDate, &r.Request.Notes,
		&r.GeneratedAt, &r.SourceMessageID, &r.SenderAddress,
		&r.DocumentKey, &r.DeliveryStatus,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &r.Request.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}
	return &r, nil
}

// collectRecords scans multiple rows into a slice of records.
func collectRecords(rows pgx.Rows) ([]models.InvoiceRecord, error) {
	var records []models.InvoiceRecord
	for rows.Next() {
		var r models.InvoiceRecord
		var items []byte
		if err := rows.Scan(
			&r.Number, &r.Request.RecipientName, &r.Request.RecipientAddress,
			&items, &r.Request.Currency, &r.Request.DueDate, &r.Request.Notes,
			&r.GeneratedAt, &r.SourceMessageID, &r.SenderAddress,
			&r.DocumentKey, &r.DeliveryStatus,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &r.Request.LineItems); err != nil {
			return nil, fmt.Errorf("unmarshal line items: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

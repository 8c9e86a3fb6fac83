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

// Package models defines the data structures shared across the invoicing service.
package models

import "time"

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// InboundMessage is a single email fetched from the mail API, immutable once
// fetched. It is consumed exactly once by the dispatch pipeline.
type InboundMessage struct {
	ID         string       `json:"id"`
	From       EmailAddress `json:"from"`
	Subject    string       `json:"subject"`
	BodyText   string       `json:"body_text"`
	ReceivedAt time.Time    `json:"received_at"`
}

// LineItem is one billable row on an invoice.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// Amount returns the extended price for the line.
func (li LineItem) Amount() float64 {
	return li.Quantity * li.UnitPrice
}

// InvoiceRequest holds the structured billing parameters extracted from an
// email body. Optional fields may be empty; that is a legitimate state, not
// an error. RecipientName and at least one line item are mandatory before
// rendering.
type InvoiceRequest struct {
	RecipientName    string     `json:"recipient_name"`
	RecipientAddress string     `json:"recipient_address,omitempty"`
	LineItems        []LineItem `json:"line_items"`
	Currency         string     `json:"currency"`
	DueDate          string     `json:"due_date,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}

// Total sums the extended prices of all line items.
func (r InvoiceRequest) Total() float64 {
	var total float64
	for _, li := range r.LineItems {
		total += li.Amount()
	}
	return total
}

// Delivery status values recorded on an InvoiceRecord.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "send_failed"
)

// InvoiceRecord is the durable record of one issued invoice. Created exactly
// once per successfully processed message; the number is never reused.
type InvoiceRecord struct {
	Number          int64          `json:"number"`
	Request         InvoiceRequest `json:"request"`
	GeneratedAt     time.Time      `json:"generated_at"`
	SourceMessageID string         `json:"source_message_id"`
	SenderAddress   string         `json:"sender_address"`
	DocumentKey     string         `json:"document_key"`
	DeliveryStatus  string         `json:"delivery_status"`
}

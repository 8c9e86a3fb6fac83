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

// Package extract turns raw email text into a structured invoice request
// using a text-understanding service. The service output is untrusted input:
// it is decoded against a fixed schema and normalised before any field is
// used. Extraction never raises an unrecoverable fault — every failure is a
// typed error for the pipeline to classify.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/billforge/invoicer/internal/models"
)

// Extraction failure kinds. The pipeline retries ErrServiceUnavailable;
// the other two indicate the input itself and are terminal.
var (
	// ErrServiceUnavailable means the text-understanding service errored or
	// timed out.
	ErrServiceUnavailable = errors.New("extraction service unavailable")

	// ErrSchemaViolation means the service returned output that does not
	// conform to the invoice schema.
	ErrSchemaViolation = errors.New("extraction schema violation")

	// ErrInsufficientContent means the output was schema-valid but the
	// message does not carry enough to bill: no invoice intent, no
	// recipient, or no line items.
	ErrInsufficientContent = errors.New("insufficient invoice content")
)

// systemPrompt instructs the service to emit exactly the wire schema below.
const systemPrompt = `You will be given the body of an email. Decide whether it is asking for an invoice to be issued. Respond with ONLY a JSON object matching this exact schema:
{
  "is_invoice_request": <true|false>,
  "recipient_name": "<who the invoice bills, empty string if unknown>",
  "recipient_address": "<postal or email address of the recipient, empty string if unknown>",
  "line_items": [
    {"description": "<what is billed>", "quantity": <number, default 1>, "unit_price": <number>}
  ],
  "currency": "<ISO 4217 code if stated, empty string otherwise>",
  "due_date": "<due date as written in the email, empty string otherwise>",
  "notes": "<any free-form instructions, empty string otherwise>"
}
Rules:
- If the email is not asking for an invoice, set is_invoice_request to false and leave the other fields empty.
- Never invent amounts: only include line items with an amount stated in the email.
- Output ONLY the JSON, no markdown, no explanations.`

// wireLineItem mirrors one line item as the service emits it. Quantity and
// unit price tolerate quoted numeric strings.
type wireLineItem struct {
	Description string      `json:"description"`
	Quantity    *flexNumber `json:"quantity"`
	UnitPrice   *flexNumber `json:"unit_price"`
}

// wireInvoice is the fixed contract the service must emit.
type wireInvoice struct {
	IsInvoiceRequest *bool          `json:"is_invoice_request"`
	RecipientName    string         `json:"recipient_name"`
	RecipientAddress string         `json:"recipient_address"`
	LineItems        []wireLineItem `json:"line_items"`
	Currency         string         `json:"currency"`
	DueDate          string         `json:"due_date"`
	Notes            string         `json:"notes"`
}

// flexNumber decodes either a JSON number or a quoted numeric string.
// The service occasionally emits "500" instead of 500.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(strings.TrimPrefix(str, "$"))
		str = strings.ReplaceAll(str, ",", "")
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("numeric string %q: %w", str, err)
		}
		*n = flexNumber(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = flexNumber(v)
	return nil
}

// Extractor validates and normalises service output into an InvoiceRequest.
type Extractor struct {
	client          ChatClient
	defaultCurrency string
}

// New creates an extractor. defaultCurrency is applied when the service
// reports no currency.
func New(client ChatClient, defaultCurrency string) *Extractor {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Extractor{client: client, defaultCurrency: defaultCurrency}
}

// Extract runs the text-understanding service over the message body and
// returns the validated invoice request. Failures map to exactly one of
// ErrServiceUnavailable, ErrSchemaViolation, or ErrInsufficientContent.
func (e *Extractor) Extract(ctx context.Context, messageBody string) (*models.InvoiceRequest, error) {
	raw, err := e.client.Complete(ctx, systemPrompt, messageBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	jsonStr, err := extractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	var wire wireInvoice
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	if wire.IsInvoiceRequest == nil {
		return nil, fmt.Errorf("%w: is_invoice_request missing", ErrSchemaViolation)
	}
	if !*wire.IsInvoiceRequest {
		return nil, fmt.Errorf("%w: message is not an invoice request", ErrInsufficientContent)
	}

	req, err := normalize(wire, e.defaultCurrency)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// normalize applies field-level cleanup and enforces the mandatory fields.
func normalize(wire wireInvoice, defaultCurrency string) (*models.InvoiceRequest, error) {
	req := &models.InvoiceRequest{
		RecipientName:    strings.TrimSpace(wire.RecipientName),
		RecipientAddress: strings.TrimSpace(wire.RecipientAddress),
		Currency:         strings.ToUpper(strings.TrimSpace(wire.Currency)),
		DueDate:          strings.TrimSpace(wire.DueDate),
		Notes:            strings.TrimSpace(wire.Notes),
	}
	if req.Currency == "" {
		req.Currency = defaultCurrency
	}

	for i, item := range wire.LineItems {
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			return nil, fmt.Errorf("%w: line item %d has no description", ErrSchemaViolation, i)
		}
		if item.UnitPrice == nil {
			return nil, fmt.Errorf("%w: line item %d has no unit price", ErrSchemaViolation, i)
		}

		// Quantity defaults to 1 when the service omits it.
		qty := 1.0
		if item.Quantity != nil {
			qty = float64(*item.Quantity)
		}
		price := float64(*item.UnitPrice)

		if qty <= 0 {
			return nil, fmt.Errorf("%w: line item %d has non-positive quantity %v", ErrSchemaViolation, i, qty)
		}
		if price < 0 {
			return nil, fmt.Errorf("%w: line item %d has negative unit price %v", ErrSchemaViolation, i, price)
		}

		req.LineItems = append(req.LineItems, models.LineItem{
			Description: desc,
			Quantity:    qty,
			UnitPrice:   price,
		})
	}

	if req.RecipientName == "" {
		return nil, fmt.Errorf("%w: no recipient identity", ErrInsufficientContent)
	}
	if len(req.LineItems) == 0 {
		return nil, fmt.Errorf("%w: no line items", ErrInsufficientContent)
	}

	return req, nil
}

// extractJSON finds the first complete JSON object in a string. The service
// is told to emit bare JSON but occasionally wraps it in prose or fences.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	out := s[start : end+1]
	if !json.Valid([]byte(out)) {
		return "", fmt.Errorf("response does not contain valid JSON")
	}
	return out, nil
}

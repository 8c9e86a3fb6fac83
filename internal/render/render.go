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

// Package render maps a structured invoice request plus an allocated number
// into a finished PDF. The HTML template is filled by plain string
// substitution of [[TOKEN]] placeholders; every placeholder must be
// satisfied before the black-box PDF engine is invoked.
package render

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/billforge/invoicer/internal/models"
)

var (
	// ErrIncompleteTemplate means a mandatory field was empty or a template
	// placeholder was left unresolved. Not retryable.
	ErrIncompleteTemplate = errors.New("incomplete invoice template")

	// ErrEngineFailure means the external rendering engine failed or timed
	// out.
	ErrEngineFailure = errors.New("rendering engine failure")
)

// Engine converts HTML to PDF bytes. Treated as a black box.
type Engine interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// placeholderPattern matches any unresolved [[TOKEN]] left after substitution.
var placeholderPattern = regexp.MustCompile(`\[\[[A-Z_]+\]\]`)

// Renderer fills the invoice template and delegates PDF conversion.
type Renderer struct {
	engine     Engine
	sellerName string
}

// New creates a renderer. sellerName appears in the invoice header and the
// document title.
func New(engine Engine, sellerName string) *Renderer {
	return &Renderer{engine: engine, sellerName: sellerName}
}

// Render produces the finished PDF for the request under the allocated
// invoice number.
func (r *Renderer) Render(ctx context.Context, req *models.InvoiceRequest, invoiceNumber int64, issuedAt time.Time) ([]byte, error) {
	page, err := r.fill(req, invoiceNumber, issuedAt)
	if err != nil {
		return nil, err
	}

	pdf, err := r.engine.Render(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: engine returned no bytes", ErrEngineFailure)
	}
	return pdf, nil
}

// fill substitutes every placeholder and verifies none remain.
func (r *Renderer) fill(req *models.InvoiceRequest, invoiceNumber int64, issuedAt time.Time) (string, error) {
	if req == nil || strings.TrimSpace(req.RecipientName) == "" {
		return "", fmt.Errorf("%w: recipient identity missing", ErrIncompleteTemplate)
	}
	if len(req.LineItems) == 0 {
		return "", fmt.Errorf("%w: no line items", ErrIncompleteTemplate)
	}

	total := req.Total()
	replacer := strings.NewReplacer(
		"[[SELLER_NAME]]", html.EscapeString(r.sellerName),
		"[[INVOICE_NUMBER]]", fmt.Sprintf("%06d", invoiceNumber),
		"[[INVOICE_DATE]]", issuedAt.Format("2 January 2006"),
		"[[RECIPIENT_NAME]]", html.EscapeString(req.RecipientName),
		"[[RECIPIENT_ADDRESS]]", html.EscapeString(req.RecipientAddress),
		"[[LINE_ITEMS]]", lineItemRows(req.LineItems),
		"[[CURRENCY]]", html.EscapeString(req.Currency),
		"[[TOTAL]]", formatAmount(total),
		"[[TOTAL_WORDS]]", amountInWords(total),
		"[[DUE_DATE]]", html.EscapeString(req.DueDate),
		"[[NOTES]]", html.EscapeString(req.Notes),
	)
	page := replacer.Replace(invoiceTemplate)

	// Any token the replacer did not know about is a template defect, not an
	// engine problem. Catch it before spending an engine call.
	if leftover := placeholderPattern.FindString(page); leftover != "" {
		return "", fmt.Errorf("%w: unresolved placeholder %s", ErrIncompleteTemplate, leftover)
	}

	return page, nil
}

// lineItemRows renders the line item table body.
func lineItemRows(items []models.LineItem) string {
	var sb strings.Builder
	for _, li := range items {
		sb.WriteString("<tr>")
		sb.WriteString("<td>" + html.EscapeString(li.Description) + "</td>")
		sb.WriteString("<td class=\"num\">" + formatQuantity(li.Quantity) + "</td>")
		sb.WriteString("<td class=\"num\">" + formatAmount(li.UnitPrice) + "</td>")
		sb.WriteString("<td class=\"num\">" + formatAmount(li.Amount()) + "</td>")
		sb.WriteString("</tr>\n")
	}
	return sb.String()
}

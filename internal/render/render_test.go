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

package render

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/billforge/invoicer/internal/models"
)

// captureEngine records the page it received and echoes canned bytes back.
type captureEngine struct {
	page string
	out  []byte
	err  error
}

func (e *captureEngine) Render(ctx context.Context, page string) ([]byte, error) {
	e.page = page
	return e.out, e.err
}

func testRequest() *models.InvoiceRequest {
	return &models.InvoiceRequest{
		RecipientName:    "Acme Corp",
		RecipientAddress: "1 Main St",
		LineItems: []models.LineItem{
			{Description: "consulting", Quantity: 2, UnitPrice: 750},
			{Description: "travel", Quantity: 1, UnitPrice: 120.50},
		},
		Currency: "USD",
		DueDate:  "in 30 days",
		Notes:    "PO #991",
	}
}

// TestRenderFillsTemplate verifies the page the engine sees carries the
// invoice number, date, recipient, rows, and formatted totals.
func TestRenderFillsTemplate(t *testing.T) {
	engine := &captureEngine{out: []byte("%PDF-1.4")}
	r := New(engine, "BillForge Ltd")

	issued := time.Date(2026, time.March, 7, 10, 0, 0, 0, time.UTC)
	pdf, err := r.Render(context.Background(), testRequest(), 42, issued)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(pdf) != "%PDF-1.4" {
		t.Errorf("pdf = %q", pdf)
	}

	for _, want := range []string{
		"BillForge Ltd",
		"000042",
		"7 March 2026",
		"Acme Corp",
		"1 Main St",
		"consulting",
		"travel",
		"1,620.50",                                 // 2*750 + 120.50
		"One Thousand Six Hundred Twenty and 50/100 Only", // total in words
		"in 30 days",
		"PO #991",
	} {
		if !strings.Contains(engine.page, want) {
			t.Errorf("rendered page missing %q", want)
		}
	}

	if strings.Contains(engine.page, "[[") {
		t.Errorf("rendered page still has placeholders: %s",
			placeholderPattern.FindString(engine.page))
	}
}

// TestRenderEscapesHTML verifies request fields cannot inject markup.
func TestRenderEscapesHTML(t *testing.T) {
	engine := &captureEngine{out: []byte("%PDF-1.4")}
	r := New(engine, "BillForge Ltd")

	req := testRequest()
	req.RecipientName = `<script>alert("x")</script>`
	if _, err := r.Render(context.Background(), req, 1, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(engine.page, "<script>") {
		t.Error("recipient name was not escaped")
	}
}

// TestRenderIncompleteTemplate verifies mandatory-field gaps fail before the
// engine is invoked.
func TestRenderIncompleteTemplate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.InvoiceRequest)
	}{
		{"no recipient", func(r *models.InvoiceRequest) { r.RecipientName = "  " }},
		{"no line items", func(r *models.InvoiceRequest) { r.LineItems = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &captureEngine{out: []byte("%PDF-1.4")}
			r := New(engine, "BillForge Ltd")

			req := testRequest()
			tt.mutate(req)
			_, err := r.Render(context.Background(), req, 1, time.Now())
			if !errors.Is(err, ErrIncompleteTemplate) {
				t.Errorf("error = %v, want ErrIncompleteTemplate", err)
			}
			if engine.page != "" {
				t.Error("engine was invoked for an incomplete request")
			}
		})
	}
}

// TestRenderEngineFailure verifies engine errors and empty output both map to
// ErrEngineFailure.
func TestRenderEngineFailure(t *testing.T) {
	tests := []struct {
		name   string
		engine *captureEngine
	}{
		{"engine error", &captureEngine{err: errors.New("wkhtmltopdf crashed")}},
		{"empty output", &captureEngine{out: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.engine, "BillForge Ltd")
			_, err := r.Render(context.Background(), testRequest(), 1, time.Now())
			if !errors.Is(err, ErrEngineFailure) {
				t.Errorf("error = %v, want ErrEngineFailure", err)
			}
		})
	}
}

// TestHTTPEngine verifies the conversion wire format against a stub service.
func TestHTTPEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "text/html" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "<html>") {
			t.Errorf("body does not look like a page: %q", body)
		}
		w.Write([]byte("%PDF-1.4 rendered"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, 0)
	pdf, err := e.Render(context.Background(), "<html><body>hi</body></html>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(pdf) != "%PDF-1.4 rendered" {
		t.Errorf("pdf = %q", pdf)
	}
}

// TestHTTPEngineServerError verifies non-200 conversion responses error out.
func TestHTTPEngineServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, 0)
	if _, err := e.Render(context.Background(), "<html></html>"); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

// TestFormatAmount verifies separator grouping and fraction handling.
func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{5, "5"},
		{1500, "1,500"},
		{1500.5, "1,500.50"},
		{1234567.89, "1,234,567.89"},
		{-42.25, "-42.25"},
		// Fractions that round up to a whole carry into the integer part.
		{2.999, "3"},
		{1234.999, "1,235"},
		{99.999, "100"},
		{-1.999, "-2"},
		{0.004, "0"},
	}
	for _, tt := range tests {
		if got := formatAmount(tt.in); got != tt.want {
			t.Errorf("formatAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestFigureMatchesWords verifies the rendered figure and the words line
// agree after rounding, including the carry case.
func TestFigureMatchesWords(t *testing.T) {
	tests := []struct {
		in        float64
		wantFig   string
		wantWords string
	}{
		{2.999, "3", "Three Only"},
		{1234.999, "1,235", "One Thousand Two Hundred Thirty-Five Only"},
		{120.505, "120.50", "One Hundred Twenty and 50/100 Only"},
	}
	for _, tt := range tests {
		if got := formatAmount(tt.in); got != tt.wantFig {
			t.Errorf("formatAmount(%v) = %q, want %q", tt.in, got, tt.wantFig)
		}
		if got := amountInWords(tt.in); got != tt.wantWords {
			t.Errorf("amountInWords(%v) = %q, want %q", tt.in, got, tt.wantWords)
		}
	}
}

// TestAmountInWords verifies the words line for representative amounts.
func TestAmountInWords(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "Zero Only"},
		{7, "Seven Only"},
		{21, "Twenty-One Only"},
		{115, "One Hundred Fifteen Only"},
		{500.25, "Five Hundred and 25/100 Only"},
		{1500, "One Thousand Five Hundred Only"},
		{2000000, "Two Million Only"},
		{1000001, "One Million One Only"},
		// Past the scale table the whole part falls back to digits.
		{2000000000000, "2,000,000,000,000 Only"},
	}
	for _, tt := range tests {
		if got := amountInWords(tt.in); got != tt.want {
			t.Errorf("amountInWords(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

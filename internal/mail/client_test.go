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

package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestListUnreadPaginates verifies the client follows @odata.nextLink and
// flattens all pages in order.
func TestListUnreadPaginates(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/users/billing@example.com/messages") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("client-request-id") == "" {
			t.Error("missing client-request-id header")
		}

		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value": [
				{"id": "msg-2", "subject": "Second",
				 "from": {"emailAddress": {"address": "Bob@Example.com", "name": "Bob"}},
				 "body": {"contentType": "text", "content": "second body"},
				 "receivedDateTime": "2026-03-07T11:00:00Z"}
			]}`)
			return
		}

		filter := r.URL.Query().Get("$filter")
		if !strings.Contains(filter, "isRead eq false") {
			t.Errorf("filter = %q, want unread-only", filter)
		}
		if !strings.Contains(filter, "receivedDateTime ge ") {
			t.Errorf("filter = %q, want lookback bound", filter)
		}

		fmt.Fprintf(w, `{"value": [
			{"id": "msg-1", "subject": "First",
			 "from": {"emailAddress": {"address": "alice@example.com", "name": "Alice"}},
			 "body": {"contentType": "text", "content": "first body"},
			 "receivedDateTime": "2026-03-07T10:00:00Z"}
		], "@odata.nextLink": %q}`, srv.URL+"/users/billing@example.com/messages?page=2")
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "billing@example.com")
	msgs, err := c.ListUnread(context.Background(), time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "msg-1" || msgs[1].ID != "msg-2" {
		t.Errorf("order = %s, %s", msgs[0].ID, msgs[1].ID)
	}
	// Sender addresses are normalised to lower case at the boundary.
	if msgs[1].From.Address != "bob@example.com" {
		t.Errorf("sender = %q, want lower-cased", msgs[1].From.Address)
	}
	if msgs[0].BodyText != "first body" {
		t.Errorf("body = %q", msgs[0].BodyText)
	}
}

// TestListUnreadServerError verifies a non-200 list response fails the call.
func TestListUnreadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": "TooManyRequests"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "billing@example.com")
	if _, err := c.ListUnread(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error for HTTP 429")
	}
}

// TestSendReply verifies the sendMail envelope: recipient, HTML body, and
// base64 PDF attachment.
func TestSendReply(t *testing.T) {
	pdf := []byte("%PDF-1.4 invoice")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/billing@example.com/sendMail" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		msg := payload["message"].(map[string]any)
		if msg["subject"] != "Acme — Invoice #000042 dated 7 March 2026" {
			t.Errorf("subject = %v", msg["subject"])
		}
		att := msg["attachments"].([]any)[0].(map[string]any)
		if att["@odata.type"] != "#microsoft.graph.fileAttachment" {
			t.Errorf("attachment type = %v", att["@odata.type"])
		}
		if att["name"] != "Invoice 000042.pdf" {
			t.Errorf("attachment name = %v", att["name"])
		}
		if att["contentBytes"] != base64.StdEncoding.EncodeToString(pdf) {
			t.Error("attachment bytes do not match")
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "billing@example.com")
	err := c.SendReply(context.Background(), "alice@example.com",
		"Acme — Invoice #000042 dated 7 March 2026", "<p>attached</p>",
		"Invoice 000042.pdf", pdf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestSendReplyServerError verifies a rejected send surfaces as an error.
func TestSendReplyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "billing@example.com")
	err := c.SendReply(context.Background(), "alice@example.com", "s", "b", "a.pdf", []byte("x"))
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

// TestMarkRead verifies the PATCH request shape.
func TestMarkRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q", r.Method)
		}
		if r.URL.Path != "/users/billing@example.com/messages/msg-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"isRead": true}` {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "billing@example.com")
	if err := c.MarkRead(context.Background(), "msg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestParseMessage verifies boundary normalisation of a wire message.
func TestParseMessage(t *testing.T) {
	msg, err := parseMessage(wireMessage{
		ID:               "msg-9",
		Subject:          "Invoice please",
		ReceivedDateTime: "2026-03-07T10:30:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.ReceivedAt.Equal(time.Date(2026, 3, 7, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("received = %v", msg.ReceivedAt)
	}

	if _, err := parseMessage(wireMessage{Subject: "no id"}); err == nil {
		t.Error("expected error for message without id")
	}

	if _, err := parseMessage(wireMessage{ID: "x", ReceivedDateTime: "yesterday"}); err == nil {
		t.Error("expected error for bad receivedDateTime")
	}
}

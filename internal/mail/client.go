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

// Package mail is the client for the REST mail API backing the service
// mailbox. It lists unread messages for a polling cycle, sends invoice
// replies with a PDF attachment, and marks messages read best-effort after
// processing. De-duplication never depends on the read flag — that is the
// pipeline's job.
package mail

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"context"

	"github.com/google/uuid"

	"github.com/billforge/invoicer/internal/models"
)

// Client talks to the mail API for a single mailbox. The http.Client carries
// OAuth2 client-credentials tokens and the enforced timeout.
type Client struct {
	httpClient *http.Client
	baseURL    string
	mailboxID  string
}

// NewClient creates a mail API client.
func NewClient(httpClient *http.Client, baseURL, mailboxID string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		mailboxID:  mailboxID,
	}
}

// messagesResponse represents a page of the /messages list response.
type messagesResponse struct {
	Value    []wireMessage `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

// ListUnread returns all unread messages received at or after since,
// oldest first. Pages through the list endpoint until exhausted.
func (c *Client) ListUnread(ctx context.Context, since time.Time) ([]models.InboundMessage, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("isRead eq false and receivedDateTime ge %s",
		since.UTC().Format(time.RFC3339)))
	params.Set("$select", "id,subject,from,body,receivedDateTime")
	params.Set("$orderby", "receivedDateTime asc")
	params.Set("$top", "50")

	listURL := fmt.Sprintf("%s/users/%s/messages?%s", c.baseURL, c.mailboxID, params.Encode())

	var messages []models.InboundMessage
	for nextURL := listURL; nextURL != ""; {
		page, err := c.fetchPage(ctx, nextURL)
		if err != nil {
			return nil, err
		}
		for _, wire := range page.Value {
			msg, err := parseMessage(wire)
			if err != nil {
				return nil, fmt.Errorf("parse message %s: %w", wire.ID, err)
			}
			messages = append(messages, msg)
		}
		nextURL = page.NextLink
	}

	return messages, nil
}

// fetchPage retrieves a single page of messages from the list endpoint.
func (c *Client) fetchPage(ctx context.Context, pageURL string) (*messagesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "outlook.body-content-type=\"text\"")
	req.Header.Set("client-request-id", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("messages list returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var page messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}

	return &page, nil
}

// sendMailRequest is the outbound message envelope.
type sendMailRequest struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []struct {
			EmailAddress struct {
				Address string `json:"address"`
			} `json:"emailAddress"`
		} `json:"toRecipients"`
		Attachments []fileAttachment `json:"attachments,omitempty"`
	} `json:"message"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// SendReply sends an email with the rendered invoice attached.
func (c *Client) SendReply(ctx context.Context, toAddress, subject, bodyHTML, attachmentName string, attachment []byte) error {
	var payload sendMailRequest
	payload.Message.Subject = subject
	payload.Message.Body.ContentType = "HTML"
	payload.Message.Body.Content = bodyHTML

	var recipient struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	}
	recipient.EmailAddress.Address = toAddress
	payload.Message.ToRecipients = append(payload.Message.ToRecipients, recipient)

	if len(attachment) > 0 {
		payload.Message.Attachments = append(payload.Message.Attachments, fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         attachmentName,
			ContentType:  "application/pdf",
			ContentBytes: base64.StdEncoding.EncodeToString(attachment),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	sendURL := fmt.Sprintf("%s/users/%s/sendMail", c.baseURL, c.mailboxID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("client-request-id", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sendMail returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// MarkRead flags a processed message as read. Best-effort: the pipeline
// dedupes by message id, so a failure here costs nothing but inbox tidiness.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	patchURL := fmt.Sprintf("%s/users/%s/messages/%s", c.baseURL, c.mailboxID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, patchURL,
		bytes.NewReader([]byte(`{"isRead": true}`)))
	if err != nil {
		return fmt.Errorf("build mark-read request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mark read returned HTTP %d", resp.StatusCode)
	}
	return nil
}

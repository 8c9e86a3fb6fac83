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
	"fmt"
	"strings"
	"time"

	"github.com/billforge/invoicer/internal/models"
)

// wireMessage represents the relevant fields of a mail API message.
type wireMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ReceivedDateTime string `json:"receivedDateTime"`
}

// parseMessage converts a mail API message into the canonical InboundMessage.
func parseMessage(wire wireMessage) (models.InboundMessage, error) {
	if wire.ID == "" {
		return models.InboundMessage{}, fmt.Errorf("message has no id")
	}

	received := time.Now().UTC()
	if wire.ReceivedDateTime != "" {
		t, err := time.Parse(time.RFC3339, wire.ReceivedDateTime)
		if err != nil {
			return models.InboundMessage{}, fmt.Errorf("parse receivedDateTime: %w", err)
		}
		received = t.UTC()
	}

	return models.InboundMessage{
		ID: wire.ID,
		From: models.EmailAddress{
			Address: strings.ToLower(strings.TrimSpace(wire.From.EmailAddress.Address)),
			Name:    wire.From.EmailAddress.Name,
		},
		Subject:    wire.Subject,
		BodyText:   wire.Body.Content,
		ReceivedAt: received,
	}, nil
}

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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultEngineTimeout = 30 * time.Second

// HTTPEngine converts HTML to PDF through an external rendering service.
// The service accepts the page as text/html and responds with the PDF bytes.
type HTTPEngine struct {
	url  string
	http *http.Client
}

// NewHTTPEngine creates an engine client for the given conversion endpoint.
// A zero timeout uses the default.
func NewHTTPEngine(url string, timeout time.Duration) *HTTPEngine {
	if timeout == 0 {
		timeout = defaultEngineTimeout
	}
	return &HTTPEngine{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// Render posts the HTML page and returns the produced PDF bytes.
func (e *HTTPEngine) Render(ctx context.Context, page string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html")
	req.Header.Set("Accept", "application/pdf")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rendering engine returned HTTP %d", resp.StatusCode)
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rendered document: %w", err)
	}
	return pdf, nil
}

// Copyright 2025 CanvasFlow
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

// Package client is a thin HTTP client for the orchestrator API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to one orchestrator instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// CommandRequest is the body of POST /api/v1/commands.
type CommandRequest struct {
	Text      string                 `json:"text"`
	CanvasID  string                 `json:"canvas_id"`
	Selection []string               `json:"selection,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// ToolResult is one executed tool call.
type ToolResult struct {
	Tool    string                 `json:"tool"`
	Input   map[string]interface{} `json:"input"`
	Success bool                   `json:"success"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// CommandResponse is the successful result of a command.
type CommandResponse struct {
	Success        bool         `json:"success"`
	RequestID      string       `json:"request_id"`
	Classification string       `json:"classification"`
	Rule           string       `json:"rule"`
	ProviderUsed   string       `json:"provider_used"`
	FellBack       bool         `json:"fell_back"`
	Results        []ToolResult `json:"results"`
	Text           string       `json:"text"`
	CostMicros     int64        `json:"cost_micros"`
	DurationMS     int64        `json:"duration_ms"`
}

// ProviderStatus is one provider in /api/v1/providers/status.
type ProviderStatus struct {
	Name             string `json:"name"`
	Tier             string `json:"tier"`
	AverageLatencyMS int64  `json:"average_latency_ms"`
	Health           struct {
		Status        string `json:"status"`
		LastLatencyMS int64  `json:"last_latency_ms"`
	} `json:"health"`
	Circuit struct {
		State               string `json:"state"`
		ConsecutiveFailures int    `json:"consecutive_failures"`
	} `json:"circuit"`
	RateLimit struct {
		Count int `json:"count"`
		Limit int `json:"limit"`
	} `json:"rate_limit"`
}

// New creates a client for baseURL, e.g. http://localhost:8081.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 45 * time.Second},
	}
}

// Execute sends a command and waits for its result.
func (c *Client) Execute(ctx context.Context, req CommandRequest) (*CommandResponse, error) {
	var out CommandResponse
	if err := c.do(ctx, "POST", "/api/v1/commands", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProviderStatus lists provider health, circuits and rate limits.
func (c *Client) ProviderStatus(ctx context.Context) ([]ProviderStatus, error) {
	var out struct {
		Providers []ProviderStatus `json:"providers"`
	}
	if err := c.do(ctx, "GET", "/api/v1/providers/status", nil, &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

// CreateCanvas registers a canvas and returns its ID.
func (c *Client) CreateCanvas(ctx context.Context, id, name string, width, height float64) (string, error) {
	body := map[string]interface{}{"id": id, "name": name, "width": width, "height": height}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "POST", "/api/v1/canvases", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var wrapped struct {
			Error struct {
				Kind              string `json:"kind"`
				Message           string `json:"message"`
				RetryAfterSeconds int    `json:"retry_after_seconds"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &wrapped) == nil && wrapped.Error.Message != "" {
			apiErr.Kind = wrapped.Error.Kind
			apiErr.Message = wrapped.Error.Message
			apiErr.RetryAfter = wrapped.Error.RetryAfterSeconds
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

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

// Package anthropic provides the capable-tier provider backed by Anthropic's
// Messages API with tool use.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"canvasflow/platform/orchestrator/llm"
)

const (
	// ProviderName identifies this provider in breakers, limiters and telemetry.
	ProviderName = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout bounds a single request
	DefaultTimeout = 20 * time.Second

	// DefaultMaxTokens is the default max tokens for a command
	DefaultMaxTokens = 4096

	// DefaultAverageLatency is the static latency descriptor
	DefaultAverageLatency = 2500 * time.Millisecond
)

// Model constants for supported Claude models
const (
	ModelClaude4Sonnet  = "claude-sonnet-4-20250514"
	ModelClaude35Sonnet = "claude-3-5-sonnet-20241022"
	ModelClaude35Haiku  = "claude-3-5-haiku-20241022"

	// Default model
	DefaultModel = ModelClaude35Sonnet
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey         string               // Optional when Credentials is set
	Credentials    llm.CredentialSource // Optional: resolves the key per call
	BaseURL        string               // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion     string               // Optional: API version (default: 2023-06-01)
	Model          string               // Optional: Default model
	Timeout        time.Duration        // Optional: HTTP timeout (default: 20s)
	MaxTokens      int                  // Optional: output cap (default: 4096)
	AverageLatency time.Duration        // Optional: latency descriptor (default: 2.5s)
}

// Provider implements llm.Provider for Anthropic Claude
type Provider struct {
	apiKey         string
	credentials    llm.CredentialSource
	baseURL        string
	apiVersion     string
	model          string
	timeout        time.Duration
	maxTokens      int
	averageLatency time.Duration
	client         HTTPClient
}

// NewProvider creates a new Anthropic provider instance. A missing API key
// is not an error here; Call reports it as missing_credentials.
func NewProvider(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.AverageLatency == 0 {
		cfg.AverageLatency = DefaultAverageLatency
	}

	return &Provider{
		apiKey:         cfg.APIKey,
		credentials:    cfg.Credentials,
		baseURL:        cfg.BaseURL,
		apiVersion:     cfg.APIVersion,
		model:          cfg.Model,
		timeout:        cfg.Timeout,
		maxTokens:      cfg.MaxTokens,
		averageLatency: cfg.AverageLatency,
		client:         &http.Client{Timeout: cfg.Timeout},
	}
}

// SetHTTPClient replaces the HTTP client (for testing).
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

// Name returns the provider name
func (p *Provider) Name() string {
	return ProviderName
}

// AverageLatency returns the static latency descriptor.
func (p *Provider) AverageLatency() time.Duration {
	return p.averageLatency
}

// MaxOutputTokens returns the configured output cap.
func (p *Provider) MaxOutputTokens() int {
	return p.maxTokens
}

// Call sends command and the tool schemas and parses tool_use blocks.
func (p *Provider) Call(ctx context.Context, command string, tools []llm.ToolSchema, opts llm.CallOptions) (*llm.CallResult, error) {
	start := time.Now()

	apiKey, err := llm.ResolveAPIKey(ctx, ProviderName, p.apiKey, p.credentials)
	if err != nil {
		return nil, err
	}

	apiReq := NewMessagesRequest(command, tools, opts, p.maxTokens)
	apiReq.Model = p.model
	if opts.Model != "" {
		apiReq.Model = opts.Model
	}

	body, err := p.send(ctx, apiKey, apiReq)
	if err != nil {
		return nil, err
	}

	result, err := ParseMessagesResponse(ProviderName, body)
	if err != nil {
		return nil, err
	}
	result.Latency = time.Since(start)
	return result, nil
}

// Probe sends a one-token request without tools.
func (p *Provider) Probe(ctx context.Context) error {
	apiKey, err := llm.ResolveAPIKey(ctx, ProviderName, p.apiKey, p.credentials)
	if err != nil {
		return err
	}

	_, err = p.send(ctx, apiKey, MessagesRequest{
		Model:     p.model,
		MaxTokens: 1,
		Messages:  []Message{{Role: "user", Content: "ping"}},
	})
	return err
}

func (p *Provider) send(ctx context.Context, apiKey string, apiReq MessagesRequest) ([]byte, error) {
	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, llm.NewRequestFailedError(ProviderName, fmt.Errorf("failed to marshal request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, llm.NewRequestFailedError(ProviderName, fmt.Errorf("failed to create request: %w", err))
	}
	p.setHeaders(httpReq, apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewRequestFailedError(ProviderName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewRequestFailedError(ProviderName, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, llm.NewHTTPError(ProviderName, resp.StatusCode, body)
	}
	return body, nil
}

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", p.apiVersion)
}

var _ llm.Provider = (*Provider)(nil)

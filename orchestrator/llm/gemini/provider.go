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

// Package gemini provides the fast-tier provider backed by Google's Gemini
// generateContent API with function calling.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvasflow/platform/orchestrator/llm"
)

const (
	// ProviderName identifies this provider in breakers, limiters and telemetry.
	ProviderName = "gemini"

	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the Gemini API version.
	DefaultAPIVersion = "v1beta"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxTokens is the default max output tokens for a command.
	DefaultMaxTokens = 2048

	// DefaultAverageLatency is the static latency descriptor.
	DefaultAverageLatency = 800 * time.Millisecond
)

// Model constants for supported Gemini models.
const (
	ModelGemini25Flash    = "gemini-2.5-flash"
	ModelGemini2Flash     = "gemini-2.0-flash"
	ModelGemini2FlashLite = "gemini-2.0-flash-lite"

	// Default model - use latest Flash for best availability
	DefaultModel = ModelGemini2Flash
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Gemini provider.
type Config struct {
	APIKey         string               // Optional when Credentials is set
	Credentials    llm.CredentialSource // Optional: resolves the key per call
	BaseURL        string               // Optional: API base URL
	APIVersion     string               // Optional: API version (default: v1beta)
	Model          string               // Optional: Default model (default: gemini-2.0-flash)
	Timeout        time.Duration        // Optional: HTTP timeout (default: 10s)
	MaxTokens      int                  // Optional: output cap (default: 2048)
	AverageLatency time.Duration        // Optional: latency descriptor (default: 800ms)
}

// Provider implements llm.Provider for Google Gemini.
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

// NewProvider creates a new Gemini provider instance.
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
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:     cfg.APIVersion,
		model:          cfg.Model,
		timeout:        cfg.Timeout,
		maxTokens:      cfg.MaxTokens,
		averageLatency: cfg.AverageLatency,
		client:         &http.Client{Timeout: cfg.Timeout},
	}
}

// SetHTTPClient sets a custom HTTP client for testing.
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

// Name returns the provider name.
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

// Call sends command with the tools as function declarations and parses
// functionCall parts.
func (p *Provider) Call(ctx context.Context, command string, tools []llm.ToolSchema, opts llm.CallOptions) (*llm.CallResult, error) {
	start := time.Now()

	apiKey, err := llm.ResolveAPIKey(ctx, ProviderName, p.apiKey, p.credentials)
	if err != nil {
		return nil, err
	}

	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	reqBody, err := json.Marshal(p.buildAPIRequest(command, tools, opts))
	if err != nil {
		return nil, llm.NewRequestFailedError(ProviderName, fmt.Errorf("failed to marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		p.baseURL, p.apiVersion, model, url.QueryEscape(apiKey))

	body, err := p.do(ctx, "POST", endpoint, reqBody)
	if err != nil {
		return nil, err
	}

	result, err := parseResponse(body)
	if err != nil {
		return nil, err
	}
	if result.Model == "" {
		result.Model = model
	}
	result.Latency = time.Since(start)
	return result, nil
}

// Probe fetches the model metadata, which costs no tokens.
func (p *Provider) Probe(ctx context.Context) error {
	apiKey, err := llm.ResolveAPIKey(ctx, ProviderName, p.apiKey, p.credentials)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s?key=%s", p.baseURL, p.apiVersion, p.model, url.QueryEscape(apiKey))
	_, err = p.do(ctx, "GET", endpoint, nil)
	return err
}

func (p *Provider) do(ctx context.Context, method, endpoint string, reqBody []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var reader io.Reader
	if reqBody != nil {
		reader = bytes.NewReader(reqBody)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, llm.NewRequestFailedError(ProviderName, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewRequestFailedError(ProviderName, redactKey(err))
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

// redactKey strips the URL (which carries the API key) from transport errors.
func redactKey(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request failed: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

func (p *Provider) buildAPIRequest(command string, tools []llm.ToolSchema, opts llm.CallOptions) map[string]any {
	system := opts.SystemPrompt
	if system == "" {
		system = llm.DefaultSystemPrompt
	}
	maxTokens := p.maxTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}

	generationConfig := map[string]any{
		"maxOutputTokens": maxTokens,
	}
	if opts.Temperature != nil {
		generationConfig["temperature"] = *opts.Temperature
	}

	apiReq := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": command}},
			},
		},
		"systemInstruction": map[string]any{
			"parts": []map[string]any{{"text": system}},
		},
		"generationConfig": generationConfig,
	}

	if len(tools) > 0 {
		declarations := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			declarations = append(declarations, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  sanitizeSchema(t.Parameters),
			})
		}
		apiReq["tools"] = []map[string]any{{"functionDeclarations": declarations}}
		apiReq["toolConfig"] = map[string]any{
			"functionCallingConfig": map[string]any{"mode": "AUTO"},
		}
	}

	return apiReq
}

// sanitizeSchema drops JSON Schema keywords the function-declaration schema
// subset rejects.
func sanitizeSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		switch k {
		case "default", "additionalProperties", "$schema":
			continue
		}
		switch typed := v.(type) {
		case map[string]interface{}:
			out[k] = sanitizeSchema(typed)
		default:
			out[k] = v
		}
	}
	return out
}

func parseResponse(body []byte) (*llm.CallResult, error) {
	var apiResp geminiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, llm.NewMalformedResponseError(ProviderName, fmt.Errorf("failed to decode response: %w", err))
	}

	if len(apiResp.Candidates) == 0 {
		reason := "no candidates"
		if apiResp.PromptFeedback != nil && apiResp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + apiResp.PromptFeedback.BlockReason
		}
		return nil, llm.NewMalformedResponseError(ProviderName, errors.New(reason))
	}

	candidate := apiResp.Candidates[0]
	result := &llm.CallResult{
		Model:      apiResp.ModelVersion,
		StopReason: mapFinishReason(candidate.FinishReason),
	}
	if apiResp.UsageMetadata != nil {
		result.Usage = llm.UsageStats{
			InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  apiResp.UsageMetadata.TotalTokenCount,
		}
	}

	var text strings.Builder
	for i, part := range candidate.Content.Parts {
		if part.FunctionCall != nil {
			if part.FunctionCall.Name == "" {
				return nil, llm.NewMalformedResponseError(ProviderName, errors.New("functionCall without a name"))
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:    fmt.Sprintf("call_%d", i),
				Name:  part.FunctionCall.Name,
				Input: args,
			})
			continue
		}
		text.WriteString(part.Text)
	}
	result.Text = strings.TrimSpace(text.String())

	if len(result.ToolCalls) == 0 && result.Text == "" {
		return nil, llm.NewMalformedResponseError(ProviderName, errors.New("candidate has no text or functionCall parts"))
	}
	return result, nil
}

// mapFinishReason maps Gemini finish reasons to standard reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION":
		return "content_filter"
	case "OTHER":
		return "other"
	default:
		return reason
	}
}

// Internal API types

type geminiResponse struct {
	Candidates     []geminiCandidate    `json:"candidates,omitempty"`
	UsageMetadata  *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion   string               `json:"modelVersion,omitempty"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

var _ llm.Provider = (*Provider)(nil)

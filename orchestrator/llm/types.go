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

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ToolSchema describes one tool offered to a model. Parameters is a JSON
// Schema object ("type": "object", "properties", "required").
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"input_schema"`
}

// ToolCall is a structured instruction returned by a model.
type ToolCall struct {
	// ID is the provider-assigned call ID, when the wire format has one.
	ID string `json:"id,omitempty"`

	// Name must match a registered tool.
	Name string `json:"name"`

	// Input holds the decoded arguments. Values are JSON-decoded
	// (float64 numbers, []interface{} arrays, map objects).
	Input map[string]interface{} `json:"input"`
}

// CallOptions tunes a single provider call.
type CallOptions struct {
	// SystemPrompt overrides DefaultSystemPrompt when set.
	SystemPrompt string

	// MaxOutputTokens caps the response; zero uses the provider descriptor.
	MaxOutputTokens int

	// Temperature; nil uses the provider default.
	Temperature *float64

	// Model overrides the provider's configured model.
	Model string
}

// UsageStats contains token usage statistics.
type UsageStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// CallResult is what a provider returned for one command: structured tool
// calls, a plain-text reply, or both.
type CallResult struct {
	ToolCalls  []ToolCall    `json:"tool_calls"`
	Text       string        `json:"text,omitempty"`
	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason,omitempty"`
	Usage      UsageStats    `json:"usage"`
	Latency    time.Duration `json:"latency"`
}

// DefaultSystemPrompt frames the model as a canvas operator.
const DefaultSystemPrompt = `You operate a collaborative drawing canvas. Translate the user's instruction into calls to the provided tools.
Use explicit numeric coordinates and sizes in pixels and hex colors such as "#FF0000".
Refer to existing objects only by the IDs or aliases given in the canvas context.
Prefer one tool call per object. If the instruction cannot be expressed with the tools, reply with a short plain-text explanation instead.`

// HealthStatus represents the health state of a provider.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// Error types for provider operations.

// ErrorKind is the closed set of provider failure kinds.
type ErrorKind string

const (
	// ErrorKindMissingCredentials means no API key was available for the provider.
	ErrorKindMissingCredentials ErrorKind = "missing_credentials"

	// ErrorKindRequestFailed covers transport failures and timeouts.
	ErrorKindRequestFailed ErrorKind = "request_failed"

	// ErrorKindHTTPError means the provider answered with a non-2xx status.
	ErrorKindHTTPError ErrorKind = "http_error"

	// ErrorKindMalformedResponse means the response could not be decoded.
	ErrorKindMalformedResponse ErrorKind = "malformed_response"
)

const maxErrorBody = 512

// ProviderError represents an error from an LLM provider.
type ProviderError struct {
	// Provider is the name of the provider that returned the error.
	Provider string `json:"provider"`

	// Kind is one of the ErrorKind constants.
	Kind ErrorKind `json:"kind"`

	// StatusCode is set for http_error.
	StatusCode int `json:"status_code,omitempty"`

	// Body is the (truncated) response body for http_error.
	Body string `json:"body,omitempty"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	switch e.Kind {
	case ErrorKindMissingCredentials:
		return fmt.Sprintf("%s: missing credentials", e.Provider)
	case ErrorKindHTTPError:
		return fmt.Sprintf("%s: http error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsTimeout reports whether the failure was a deadline expiry.
func (e *ProviderError) IsTimeout() bool {
	return errors.Is(e.Cause, context.DeadlineExceeded)
}

// ShouldFallback reports whether the alternate provider may succeed where
// this one failed. Malformed responses are not retried elsewhere: the
// instruction is the likelier culprit.
func (e *ProviderError) ShouldFallback() bool {
	switch e.Kind {
	case ErrorKindMissingCredentials, ErrorKindRequestFailed, ErrorKindHTTPError:
		return true
	default:
		return false
	}
}

// IsAuthError reports whether the provider rejected the credentials.
func (e *ProviderError) IsAuthError() bool {
	return e.Kind == ErrorKindHTTPError &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// NewMissingCredentialsError creates a missing_credentials error.
func NewMissingCredentialsError(provider string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrorKindMissingCredentials}
}

// NewRequestFailedError creates a request_failed error.
func NewRequestFailedError(provider string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrorKindRequestFailed, Cause: cause}
}

// NewHTTPError creates an http_error with a truncated body.
func NewHTTPError(provider string, statusCode int, body []byte) *ProviderError {
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return &ProviderError{Provider: provider, Kind: ErrorKindHTTPError, StatusCode: statusCode, Body: b}
}

// NewMalformedResponseError creates a malformed_response error.
func NewMalformedResponseError(provider string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrorKindMalformedResponse, Cause: cause}
}

// AsProviderError extracts a *ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

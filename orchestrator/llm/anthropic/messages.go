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

package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"canvasflow/platform/orchestrator/llm"
)

// MessagesRequest is the Messages API request body. Bedrock accepts the
// same shape with Model omitted and AnthropicVersion set.
type MessagesRequest struct {
	AnthropicVersion string         `json:"anthropic_version,omitempty"`
	Model            string         `json:"model,omitempty"`
	MaxTokens        int            `json:"max_tokens"`
	System           string         `json:"system,omitempty"`
	Messages         []Message      `json:"messages"`
	Tools            []ToolDef      `json:"tools,omitempty"`
	ToolChoice       map[string]any `json:"tool_choice,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDef is a tool definition in Messages API form.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// MessagesResponse is the Messages API response body.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []ContentBlock `json:"content"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ContentBlock is one text or tool_use block of a response.
type ContentBlock struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// NewMessagesRequest builds the request body for one command.
func NewMessagesRequest(command string, tools []llm.ToolSchema, opts llm.CallOptions, maxTokens int) MessagesRequest {
	system := opts.SystemPrompt
	if system == "" {
		system = llm.DefaultSystemPrompt
	}
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}

	req := MessagesRequest{
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []Message{{Role: "user", Content: command}},
		Temperature: opts.Temperature,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = map[string]any{"type": "auto"}
	}
	return req
}

// ParseMessagesResponse decodes a Messages API body into a CallResult.
// Decoding failures and responses carrying neither text nor tool calls are
// reported as malformed_response for provider.
func ParseMessagesResponse(provider string, body []byte) (*llm.CallResult, error) {
	var resp MessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewMalformedResponseError(provider, fmt.Errorf("failed to decode response: %w", err))
	}

	result := &llm.CallResult{
		Model:      resp.Model,
		StopReason: resp.StopReason,
		Usage: llm.UsageStats{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			if block.Name == "" {
				return nil, llm.NewMalformedResponseError(provider, errors.New("tool_use block without a name"))
			}
			input := block.Input
			if input == nil {
				input = map[string]interface{}{}
			}
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	result.Text = strings.TrimSpace(text.String())

	if len(result.ToolCalls) == 0 && result.Text == "" {
		return nil, llm.NewMalformedResponseError(provider, errors.New("response has no text or tool_use content"))
	}
	return result, nil
}

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

package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"canvasflow/platform/orchestrator/llm"
)

// mockHTTPClient is a mock HTTP client for testing.
type mockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

func rawResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// Helper to create a successful function-call response.
func functionCallResponse(name string, args map[string]interface{}) *http.Response {
	resp := geminiResponse{
		Candidates: []geminiCandidate{
			{
				Content: geminiContent{
					Parts: []geminiPart{{FunctionCall: &geminiFunctionCall{Name: name, Args: args}}},
					Role:  "model",
				},
				FinishReason: "STOP",
			},
		},
		UsageMetadata: &geminiUsageMetadata{
			PromptTokenCount:     40,
			CandidatesTokenCount: 12,
			TotalTokenCount:      52,
		},
		ModelVersion: DefaultModel,
	}
	body, _ := json.Marshal(resp)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

// Helper to create an error response.
func errorResponse(statusCode int, message, status string) *http.Response {
	resp := map[string]any{
		"error": map[string]any{
			"code":    statusCode,
			"message": message,
			"status":  status,
		},
	}
	body, _ := json.Marshal(resp)
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

func shapeSchema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "create_shape",
		Description: "Create a shape",
		Parameters: map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]interface{}{
				"color": map[string]interface{}{"type": "string", "default": "#000000"},
			},
		},
	}
}

func TestNewProvider_Defaults(t *testing.T) {
	p := NewProvider(Config{APIKey: "k"})

	if p.Name() != "gemini" {
		t.Errorf("Name() = %q, want gemini", p.Name())
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
	if p.apiVersion != DefaultAPIVersion {
		t.Errorf("apiVersion = %q, want %q", p.apiVersion, DefaultAPIVersion)
	}
	if p.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", p.timeout, DefaultTimeout)
	}
	if p.MaxOutputTokens() != DefaultMaxTokens {
		t.Errorf("MaxOutputTokens() = %d, want %d", p.MaxOutputTokens(), DefaultMaxTokens)
	}
	if p.AverageLatency() != DefaultAverageLatency {
		t.Errorf("AverageLatency() = %v, want %v", p.AverageLatency(), DefaultAverageLatency)
	}
}

func TestCall_FunctionCall(t *testing.T) {
	var captured map[string]any
	var capturedURL string

	p := NewProvider(Config{APIKey: "test-key", BaseURL: "https://example.test/"})
	p.SetHTTPClient(&mockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			capturedURL = req.URL.String()
			body, _ := io.ReadAll(req.Body)
			if err := json.Unmarshal(body, &captured); err != nil {
				t.Fatalf("request body is not JSON: %v", err)
			}
			return functionCallResponse("create_shape", map[string]interface{}{
				"type": "circle", "x": 100, "y": 100, "color": "#FF0000",
			}), nil
		},
	})

	result, err := p.Call(context.Background(), "create a red circle at 100,100", []llm.ToolSchema{shapeSchema()}, llm.CallOptions{})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	wantURL := "https://example.test/v1beta/models/gemini-2.0-flash:generateContent?key=test-key"
	if capturedURL != wantURL {
		t.Errorf("URL = %q, want %q", capturedURL, wantURL)
	}

	if len(result.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(result.ToolCalls))
	}
	call := result.ToolCalls[0]
	if call.Name != "create_shape" || call.Input["type"] != "circle" || call.Input["x"] != float64(100) {
		t.Errorf("unexpected tool call: %+v", call)
	}
	if result.Usage.TotalTokens != 52 {
		t.Errorf("TotalTokens = %d, want 52", result.Usage.TotalTokens)
	}
	if result.StopReason != "stop" {
		t.Errorf("StopReason = %q, want stop", result.StopReason)
	}

	tools, ok := captured["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools not sent: %v", captured["tools"])
	}
	decls := tools[0].(map[string]any)["functionDeclarations"].([]any)
	params := decls[0].(map[string]any)["parameters"].(map[string]any)
	if _, present := params["additionalProperties"]; present {
		t.Error("additionalProperties should be stripped from function parameters")
	}
	color := params["properties"].(map[string]any)["color"].(map[string]any)
	if _, present := color["default"]; present {
		t.Error("default should be stripped from nested properties")
	}
	if captured["systemInstruction"] == nil {
		t.Error("systemInstruction should be set")
	}
}

func TestCall_TextReply(t *testing.T) {
	p := NewProvider(Config{APIKey: "k"})
	p.SetHTTPClient(&mockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return rawResponse(http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Which shape do you mean?"}]},"finishReason":"STOP"}]}`), nil
		},
	})

	result, err := p.Call(context.Background(), "make it bigger", nil, llm.CallOptions{})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result.Text != "Which shape do you mean?" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Model != DefaultModel {
		t.Errorf("Model = %q, want fallback to configured model", result.Model)
	}
}

func TestCall_Errors(t *testing.T) {
	tests := []struct {
		name     string
		resp     *http.Response
		err      error
		wantKind llm.ErrorKind
		status   int
	}{
		{"quota exhausted", errorResponse(429, "quota", "RESOURCE_EXHAUSTED"), nil, llm.ErrorKindHTTPError, 429},
		{"bad key", errorResponse(403, "denied", "PERMISSION_DENIED"), nil, llm.ErrorKindHTTPError, 403},
		{"transport", nil, errors.New("no route to host"), llm.ErrorKindRequestFailed, 0},
		{"not json", rawResponse(200, "<html>"), nil, llm.ErrorKindMalformedResponse, 0},
		{"no candidates", rawResponse(200, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`), nil, llm.ErrorKindMalformedResponse, 0},
		{"empty parts", rawResponse(200, `{"candidates":[{"content":{"parts":[]}}]}`), nil, llm.ErrorKindMalformedResponse, 0},
		{"unnamed call", rawResponse(200, `{"candidates":[{"content":{"parts":[{"functionCall":{"args":{}}}]}}]}`), nil, llm.ErrorKindMalformedResponse, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(Config{APIKey: "k"})
			p.SetHTTPClient(&mockHTTPClient{
				DoFunc: func(req *http.Request) (*http.Response, error) {
					return tt.resp, tt.err
				},
			})

			_, err := p.Call(context.Background(), "create a circle", nil, llm.CallOptions{})
			pe, ok := llm.AsProviderError(err)
			if !ok {
				t.Fatalf("expected *llm.ProviderError, got %T (%v)", err, err)
			}
			if pe.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", pe.Kind, tt.wantKind)
			}
			if pe.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", pe.StatusCode, tt.status)
			}
		})
	}
}

func TestCall_TransportErrorHidesKey(t *testing.T) {
	p := NewProvider(Config{APIKey: "super-secret"})
	p.SetHTTPClient(&mockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return nil, &url.Error{Op: "Post", URL: req.URL.String(), Err: errors.New("connection reset")}
		},
	})

	_, err := p.Call(context.Background(), "create a circle", nil, llm.CallOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "super-secret") {
		t.Errorf("error leaks API key: %v", err)
	}
}

func TestCall_MissingCredentials(t *testing.T) {
	called := false
	p := NewProvider(Config{})
	p.SetHTTPClient(&mockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			called = true
			return nil, nil
		},
	})

	_, err := p.Call(context.Background(), "create a circle", nil, llm.CallOptions{})
	pe, ok := llm.AsProviderError(err)
	if !ok || pe.Kind != llm.ErrorKindMissingCredentials {
		t.Fatalf("expected missing_credentials, got %v", err)
	}
	if called {
		t.Error("no request should be sent without credentials")
	}
}

func TestProbe(t *testing.T) {
	var method, path string
	p := NewProvider(Config{APIKey: "k"})
	p.SetHTTPClient(&mockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			method, path = req.Method, req.URL.Path
			return rawResponse(http.StatusOK, `{"name":"models/gemini-2.0-flash"}`), nil
		},
	})

	if err := p.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if method != "GET" || path != "/v1beta/models/gemini-2.0-flash" {
		t.Errorf("probe request = %s %s", method, path)
	}
}

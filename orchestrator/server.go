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

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"canvasflow/platform/orchestrator/canvas"
	"canvasflow/platform/orchestrator/circuitbreaker"
	"canvasflow/platform/orchestrator/classifier"
	"canvasflow/platform/orchestrator/llm"
	"canvasflow/platform/shared/logger"
)

// Version is reported by /health.
const Version = "1.0.0"

// CanvasCreator is implemented by stores that can register canvases.
type CanvasCreator interface {
	CreateCanvas(ctx context.Context, c *canvas.Canvas) error
}

// EventStreamer serves a live event feed for one canvas.
type EventStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, canvasID string)
}

// Server exposes the Agent over HTTP.
type Server struct {
	agent          *Agent
	store          canvas.Store
	recent         *RecentTelemetry
	stream         EventStreamer
	allowedOrigins []string
	log            *logger.Logger
	started        time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRecentTelemetry serves recent telemetry at /api/v1/telemetry.
func WithRecentTelemetry(r *RecentTelemetry) ServerOption {
	return func(s *Server) { s.recent = r }
}

// WithAllowedOrigins restricts CORS origins. The default allows any.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithEventStream serves a WebSocket feed at /api/v1/canvases/{id}/stream.
func WithEventStream(es EventStreamer) ServerOption {
	return func(s *Server) { s.stream = es }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// NewServer creates a Server for agent.
func NewServer(agent *Agent, opts ...ServerOption) *Server {
	s := &Server{
		agent:          agent,
		store:          agent.store,
		allowedOrigins: []string{"*"},
		log:            logger.New("api"),
		started:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/commands", s.executeCommandHandler).Methods("POST")
	r.HandleFunc("/api/v1/classify", s.classifyHandler).Methods("POST")
	r.HandleFunc("/api/v1/providers/status", s.providerStatusHandler).Methods("GET")
	r.HandleFunc("/api/v1/rate-limits", s.rateLimitsHandler).Methods("GET")
	r.HandleFunc("/api/v1/telemetry", s.telemetryHandler).Methods("GET")
	r.HandleFunc("/api/v1/canvases", s.createCanvasHandler).Methods("POST")
	r.HandleFunc("/api/v1/canvases/{id}/entities", s.listEntitiesHandler).Methods("GET")
	if s.stream != nil {
		r.HandleFunc("/api/v1/canvases/{id}/stream", s.streamHandler).Methods("GET")
	}

	circuitbreaker.NewHandler(s.agent.Breaker()).RegisterRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// ErrorBody is the error half of a command response.
type ErrorBody struct {
	Kind              ErrorKind `json:"kind"`
	Message           string    `json:"message"`
	Detail            string    `json:"detail,omitempty"`
	Provider          string    `json:"provider,omitempty"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

// CommandResponse is the body of POST /api/v1/commands.
type CommandResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	*ExecutionResult
	Error *ErrorBody `json:"error,omitempty"`
}

func (s *Server) executeCommandHandler(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if cmd.TargetID == "" {
		sendErrorResponse(w, "canvas_id is required", http.StatusBadRequest)
		return
	}
	if cmd.RequestID == "" {
		cmd.RequestID = r.Header.Get("X-Request-ID")
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}

	result, err := s.agent.Execute(r.Context(), cmd)
	if err != nil {
		e, ok := AsError(err)
		if !ok {
			e = newError(ErrorKindRequestFailed, "", err)
		}
		body := &ErrorBody{
			Kind:     e.Kind,
			Message:  e.UserMessage(),
			Detail:   e.Error(),
			Provider: e.Provider,
		}
		if e.RetryAfter > 0 {
			body.RetryAfterSeconds = int(e.RetryAfter.Round(time.Second).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
		}
		writeJSON(w, e.HTTPStatus(), CommandResponse{RequestID: cmd.RequestID, Error: body})
		return
	}

	writeJSON(w, http.StatusOK, CommandResponse{Success: true, RequestID: result.RequestID, ExecutionResult: result})
}

func (s *Server) classifyHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Text) == "" {
		sendErrorResponse(w, "text is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, classifier.Explain(body.Text))
}

// ProviderStatus is one entry of /api/v1/providers/status.
type ProviderStatus struct {
	Name             string                    `json:"name"`
	Tier             classifier.Classification `json:"tier"`
	AverageLatencyMS int64                     `json:"average_latency_ms"`
	MaxOutputTokens  int                       `json:"max_output_tokens"`
	Health           llm.HealthRecord          `json:"health"`
	Circuit          circuitbreaker.Snapshot   `json:"circuit"`
	RateLimit        RateLimitStatus           `json:"rate_limit"`
}

// RateLimitStatus is one entry of /api/v1/rate-limits.
type RateLimitStatus struct {
	Provider      string  `json:"provider"`
	Count         int     `json:"count"`
	Limit         int     `json:"limit"`
	WindowSeconds float64 `json:"window_seconds"`
	Error         string  `json:"error,omitempty"`
}

func (s *Server) rateLimitStatus(ctx context.Context, provider string) RateLimitStatus {
	cfg := s.agent.Limiter().Config()
	st := RateLimitStatus{Provider: provider, Limit: cfg.MaxRequests, WindowSeconds: cfg.Window.Seconds()}
	n, err := s.agent.Limiter().Count(ctx, provider)
	if err != nil {
		st.Error = err.Error()
	}
	st.Count = n
	return st
}

func (s *Server) providerStatuses(ctx context.Context) []ProviderStatus {
	var out []ProviderStatus
	for _, p := range s.agent.Providers() {
		health := llm.HealthRecord{Provider: p.Name(), Status: llm.HealthStatusUnknown}
		if h := s.agent.Health(); h != nil {
			health, _ = h.Record(p.Name())
		}
		out = append(out, ProviderStatus{
			Name:             p.Name(),
			Tier:             s.agent.Tier(p.Name()),
			AverageLatencyMS: p.AverageLatency().Milliseconds(),
			MaxOutputTokens:  p.MaxOutputTokens(),
			Health:           health,
			Circuit:          s.agent.Breaker().Snapshot(p.Name()),
			RateLimit:        s.rateLimitStatus(ctx, p.Name()),
		})
	}
	return out
}

func (s *Server) providerStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.providerStatuses(r.Context()),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) rateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	var out []RateLimitStatus
	for _, p := range s.agent.Providers() {
		out = append(out, s.rateLimitStatus(r.Context(), p.Name()))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rate_limits": out})
}

func (s *Server) telemetryHandler(w http.ResponseWriter, r *http.Request) {
	events := []TelemetryEvent{}
	if s.recent != nil {
		events = s.recent.Events()
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(events) {
			events = events[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) createCanvasHandler(w http.ResponseWriter, r *http.Request) {
	creator, ok := s.store.(CanvasCreator)
	if !ok {
		sendErrorResponse(w, "This store does not support creating canvases", http.StatusNotImplemented)
		return
	}
	var c canvas.Canvas
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := creator.CreateCanvas(r.Context(), &c); err != nil {
		s.log.Error(c.ID, "", "Failed to create canvas", map[string]interface{}{"error": err.Error()})
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := s.store.GetCanvas(r.Context(), c.ID)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listEntitiesHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetCanvas(r.Context(), id); err != nil {
		if errors.Is(err, canvas.ErrNotFound) {
			sendErrorResponse(w, "canvas not found", http.StatusNotFound)
			return
		}
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	entities, err := s.store.ListEntities(r.Context(), id)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"canvas_id": id, "entities": entities})
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetCanvas(r.Context(), id); err != nil {
		if errors.Is(err, canvas.ErrNotFound) {
			sendErrorResponse(w, "canvas not found", http.StatusNotFound)
			return
		}
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.stream.Serve(w, r, id)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]string)
	for _, p := range s.agent.Providers() {
		status := llm.HealthStatusUnknown
		if h := s.agent.Health(); h != nil {
			status = h.Status(p.Name())
		}
		providers[p.Name()] = string(status)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "canvasflow-orchestrator",
		"version":        Version,
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"providers":      providers,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   map[string]string{"message": message},
	})
}

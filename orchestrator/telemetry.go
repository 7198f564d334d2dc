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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"canvasflow/platform/orchestrator/circuitbreaker"
	"canvasflow/platform/orchestrator/llm"
	"canvasflow/platform/orchestrator/tools"
)

// Prometheus metrics
var (
	promCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasflow_commands_total",
			Help: "Total number of commands executed",
		},
		[]string{"classification", "status"},
	)
	promCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canvasflow_command_duration_milliseconds",
			Help:    "Command duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"classification"},
	)
	promProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasflow_provider_calls_total",
			Help: "Total number of provider calls by outcome",
		},
		[]string{"provider", "status"},
	)
	promFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasflow_fallbacks_total",
			Help: "Total number of fallbacks from one provider to another",
		},
		[]string{"from", "to"},
	)
	promCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canvasflow_circuit_state",
			Help: "Circuit state per provider (0 closed, 1 half_open, 2 open)",
		},
		[]string{"provider"},
	)
	promProviderHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canvasflow_provider_probe_latency_milliseconds",
			Help: "Latency of the last health probe per provider",
		},
		[]string{"provider", "status"},
	)
	promBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canvasflow_batch_insert_duration_milliseconds",
			Help:    "Batch insert duration in milliseconds",
			Buckets: []float64{5, 10, 50, 100, 250, 500, 1000, 2000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(promCommandsTotal)
	prometheus.MustRegister(promCommandDuration)
	prometheus.MustRegister(promProviderCalls)
	prometheus.MustRegister(promFallbacks)
	prometheus.MustRegister(promCircuitState)
	prometheus.MustRegister(promProviderHealth)
	prometheus.MustRegister(promBatchDuration)
}

// TelemetryEvent is emitted once per Execute, whatever the outcome.
type TelemetryEvent struct {
	RequestID      string    `json:"request_id"`
	CanvasID       string    `json:"canvas_id"`
	Classification string    `json:"classification"`
	Rule           string    `json:"rule,omitempty"`
	ProviderUsed   string    `json:"provider_used,omitempty"`
	FellBack       bool      `json:"fell_back"`
	DurationMS     int64     `json:"duration_ms"`
	Success        bool      `json:"success"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ToolCalls      int       `json:"tool_calls"`
	FailedCalls    int       `json:"failed_calls"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	CostMicros     int64     `json:"cost_micros"`
	At             time.Time `json:"at"`
}

// TelemetrySink receives telemetry events. Implementations must not block.
type TelemetrySink interface {
	Record(ctx context.Context, event TelemetryEvent)
}

// TelemetrySinkFunc adapts a function to TelemetrySink.
type TelemetrySinkFunc func(ctx context.Context, event TelemetryEvent)

// Record implements TelemetrySink.
func (f TelemetrySinkFunc) Record(ctx context.Context, event TelemetryEvent) { f(ctx, event) }

// RecentTelemetry keeps the last N events in memory for the inspection API.
type RecentTelemetry struct {
	mu     sync.Mutex
	events []TelemetryEvent
	next   int
	full   bool
}

// NewRecentTelemetry creates a ring of the given size (default 100).
func NewRecentTelemetry(size int) *RecentTelemetry {
	if size <= 0 {
		size = 100
	}
	return &RecentTelemetry{events: make([]TelemetryEvent, size)}
}

// Record implements TelemetrySink.
func (r *RecentTelemetry) Record(_ context.Context, event TelemetryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = event
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
}

// Events returns the stored events, newest first.
func (r *RecentTelemetry) Events() []TelemetryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.events)
	}
	out := make([]TelemetryEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}

func recordPrometheus(event TelemetryEvent) {
	status := "success"
	if !event.Success {
		status = event.ErrorKind
	}
	promCommandsTotal.WithLabelValues(event.Classification, status).Inc()
	promCommandDuration.WithLabelValues(event.Classification).Observe(float64(event.DurationMS))
}

func recordProviderCall(provider, status string) {
	promProviderCalls.WithLabelValues(provider, status).Inc()
}

func recordFallback(from, to string) {
	promFallbacks.WithLabelValues(from, to).Inc()
}

// CircuitStateHook exports breaker transitions as a gauge.
func CircuitStateHook() circuitbreaker.StateChangeFunc {
	return func(provider string, _, to circuitbreaker.State) {
		var v float64
		switch to {
		case circuitbreaker.StateHalfOpen:
			v = 1
		case circuitbreaker.StateOpen:
			v = 2
		}
		promCircuitState.WithLabelValues(provider).Set(v)
	}
}

// HealthRecordHook exports probe latency per provider and status.
func HealthRecordHook() func(llm.HealthRecord) {
	return func(r llm.HealthRecord) {
		for _, s := range []llm.HealthStatus{llm.HealthStatusHealthy, llm.HealthStatusDegraded, llm.HealthStatusUnhealthy} {
			promProviderHealth.DeleteLabelValues(r.Provider, string(s))
		}
		promProviderHealth.WithLabelValues(r.Provider, string(r.Status)).Set(float64(r.LastLatencyMS))
	}
}

// BatchObserver exports batch insert durations.
func BatchObserver() tools.BatchObserver {
	return func(_ int, d time.Duration, _ error) {
		promBatchDuration.Observe(float64(d.Milliseconds()))
	}
}

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
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultHealthInterval is how often providers are probed.
	DefaultHealthInterval = 5 * time.Minute

	// DefaultProbeTimeout bounds a single probe. Probes never share the
	// timeout budget of user requests.
	DefaultProbeTimeout = 10 * time.Second

	// HealthyLatency is the upper bound (exclusive) for a healthy probe.
	HealthyLatency = 1 * time.Second

	// DegradedLatency is the upper bound (inclusive) for a degraded probe.
	DegradedLatency = 3 * time.Second
)

// Prober is the part of Provider the monitor needs.
type Prober interface {
	Name() string
	Probe(ctx context.Context) error
}

// HealthRecord is the latest probe outcome for one provider.
type HealthRecord struct {
	Provider            string        `json:"provider"`
	Status              HealthStatus  `json:"status"`
	LastLatency         time.Duration `json:"-"`
	LastLatencyMS       int64         `json:"last_latency_ms"`
	LastCheckedAt       time.Time     `json:"last_checked_at"`
	Message             string        `json:"message,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// ClassifyProbe maps a probe outcome to a status: any error is unhealthy,
// otherwise <1s healthy, 1-3s degraded, >3s unhealthy.
func ClassifyProbe(latency time.Duration, err error) HealthStatus {
	switch {
	case err != nil:
		return HealthStatusUnhealthy
	case latency < HealthyLatency:
		return HealthStatusHealthy
	case latency <= DegradedLatency:
		return HealthStatusDegraded
	default:
		return HealthStatusUnhealthy
	}
}

// HealthConfig configures a HealthMonitor.
type HealthConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// HealthMonitor periodically probes providers and keeps the latest record
// for each. It only observes; it never blocks calls.
type HealthMonitor struct {
	providers []Prober
	config    HealthConfig

	mu      sync.RWMutex
	records map[string]*HealthRecord

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	onRecord func(HealthRecord)
	now      func() time.Time
	logger   *log.Logger
}

// HealthOption configures a HealthMonitor.
type HealthOption func(*HealthMonitor)

// WithHealthLogger sets a custom logger.
func WithHealthLogger(logger *log.Logger) HealthOption {
	return func(m *HealthMonitor) {
		m.logger = logger
	}
}

// WithRecordHook is invoked after every probe, outside the monitor lock.
func WithRecordHook(fn func(HealthRecord)) HealthOption {
	return func(m *HealthMonitor) {
		m.onRecord = fn
	}
}

// NewHealthMonitor creates a monitor for the given providers.
func NewHealthMonitor(providers []Prober, config HealthConfig, opts ...HealthOption) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = DefaultHealthInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}

	m := &HealthMonitor{
		providers: providers,
		config:    config,
		records:   make(map[string]*HealthRecord, len(providers)),
		now:       time.Now,
		logger:    log.New(os.Stdout, "[LLM_HEALTH] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckNow probes every provider concurrently and returns the new records.
// Each probe gets its own timeout derived from ctx.
func (m *HealthMonitor) CheckNow(ctx context.Context) map[string]HealthRecord {
	results := make(map[string]HealthRecord, len(m.providers))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range m.providers {
		wg.Add(1)
		go func(p Prober) {
			defer wg.Done()
			record := m.probe(ctx, p)
			resultsMu.Lock()
			results[p.Name()] = record
			resultsMu.Unlock()
		}(p)
	}
	wg.Wait()

	return results
}

func (m *HealthMonitor) probe(ctx context.Context, p Prober) HealthRecord {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	start := m.now()
	err := p.Probe(probeCtx)
	latency := m.now().Sub(start)

	record := HealthRecord{
		Provider:      p.Name(),
		Status:        ClassifyProbe(latency, err),
		LastLatency:   latency,
		LastLatencyMS: latency.Milliseconds(),
		LastCheckedAt: m.now(),
	}
	if err != nil {
		record.Message = err.Error()
	}

	m.mu.Lock()
	if prev, ok := m.records[p.Name()]; ok && record.Status == HealthStatusUnhealthy {
		record.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	} else if record.Status == HealthStatusUnhealthy {
		record.ConsecutiveFailures = 1
	}
	stored := record
	m.records[p.Name()] = &stored
	m.mu.Unlock()

	if record.Status != HealthStatusHealthy {
		m.logger.Printf("Provider %s is %s (latency %v): %s", record.Provider, record.Status, latency, record.Message)
	}
	if m.onRecord != nil {
		m.onRecord(record)
	}
	return record
}

// Start runs an immediate check and then one every interval until Stop is
// called or ctx is cancelled. Calling Start twice is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.logger.Printf("Starting periodic health check (every %v)", m.config.Interval)

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		m.CheckNow(runCtx)
		for {
			select {
			case <-runCtx.Done():
				m.logger.Println("Stopping periodic health check")
				return
			case <-ticker.C:
				m.CheckNow(runCtx)
			}
		}
	}(m.done)
}

// Stop ends the background loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	m.lifecycle.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifecycle.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Status returns the provider's last status, or unknown if never probed.
func (m *HealthMonitor) Status(provider string) HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[provider]; ok {
		return r.Status
	}
	return HealthStatusUnknown
}

// LastLatency returns the latency of the provider's last probe.
func (m *HealthMonitor) LastLatency(provider string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[provider]; ok {
		return r.LastLatency, true
	}
	return 0, false
}

// Record returns a copy of the provider's last record.
func (m *HealthMonitor) Record(provider string) (HealthRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[provider]; ok {
		return *r, true
	}
	return HealthRecord{Provider: provider, Status: HealthStatusUnknown}, false
}

// Records returns one record per monitored provider, sorted by name.
// Providers never probed are reported as unknown.
func (m *HealthMonitor) Records() []HealthRecord {
	out := make([]HealthRecord, 0, len(m.providers))
	for _, p := range m.providers {
		r, _ := m.Record(p.Name())
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

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
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedProber simulates a probe taking latency on the shared clock.
type scriptedProber struct {
	name    string
	clock   *manualClock
	latency time.Duration
	err     error

	mu    sync.Mutex
	calls int
}

func (p *scriptedProber) Name() string { return p.name }

func (p *scriptedProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.clock.Advance(p.latency)
	return p.err
}

func (p *scriptedProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func quietMonitor(providers []Prober, cfg HealthConfig, clock *manualClock) *HealthMonitor {
	m := NewHealthMonitor(providers, cfg, WithHealthLogger(log.New(io.Discard, "", 0)))
	if clock != nil {
		m.now = clock.Now
	}
	return m
}

func TestClassifyProbe(t *testing.T) {
	tests := []struct {
		name     string
		latency  time.Duration
		err      error
		expected HealthStatus
	}{
		{"fast success", 200 * time.Millisecond, nil, HealthStatusHealthy},
		{"just under a second", 999 * time.Millisecond, nil, HealthStatusHealthy},
		{"one second is degraded", time.Second, nil, HealthStatusDegraded},
		{"three seconds is degraded", 3 * time.Second, nil, HealthStatusDegraded},
		{"over three seconds", 3*time.Second + time.Millisecond, nil, HealthStatusUnhealthy},
		{"failure", 10 * time.Millisecond, errors.New("boom"), HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyProbe(tt.latency, tt.err))
		})
	}
}

func TestHealthMonitor_CheckNow(t *testing.T) {
	// Each prober gets its own clock so concurrent probes don't skew latencies.
	fastClock := &manualClock{now: time.Unix(0, 0)}
	slowClock := &manualClock{now: time.Unix(0, 0)}

	fast := &scriptedProber{name: "gemini", clock: fastClock, latency: 300 * time.Millisecond}
	slow := &scriptedProber{name: "anthropic", clock: slowClock, latency: 2 * time.Second}

	m := quietMonitor([]Prober{fast}, HealthConfig{}, fastClock)
	results := m.CheckNow(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, HealthStatusHealthy, results["gemini"].Status)
	assert.Equal(t, int64(300), results["gemini"].LastLatencyMS)

	m = quietMonitor([]Prober{slow}, HealthConfig{}, slowClock)
	m.CheckNow(context.Background())
	assert.Equal(t, HealthStatusDegraded, m.Status("anthropic"))
	latency, ok := m.LastLatency("anthropic")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, latency)
}

func TestHealthMonitor_FailureTracking(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	p := &scriptedProber{name: "bedrock", clock: clock, err: errors.New("connection refused")}
	m := quietMonitor([]Prober{p}, HealthConfig{}, clock)

	m.CheckNow(context.Background())
	m.CheckNow(context.Background())

	record, ok := m.Record("bedrock")
	require.True(t, ok)
	assert.Equal(t, HealthStatusUnhealthy, record.Status)
	assert.Equal(t, 2, record.ConsecutiveFailures)
	assert.Equal(t, "connection refused", record.Message)

	p.err = nil
	m.CheckNow(context.Background())
	record, _ = m.Record("bedrock")
	assert.Equal(t, HealthStatusHealthy, record.Status)
	assert.Equal(t, 0, record.ConsecutiveFailures)
}

func TestHealthMonitor_UnknownBeforeFirstProbe(t *testing.T) {
	p := &scriptedProber{name: "gemini", clock: &manualClock{}}
	m := quietMonitor([]Prober{p}, HealthConfig{}, nil)

	assert.Equal(t, HealthStatusUnknown, m.Status("gemini"))
	_, ok := m.LastLatency("gemini")
	assert.False(t, ok)

	records := m.Records()
	require.Len(t, records, 1)
	assert.Equal(t, HealthStatusUnknown, records[0].Status)
}

func TestHealthMonitor_RecordHook(t *testing.T) {
	clock := &manualClock{}
	p := &scriptedProber{name: "gemini", clock: clock, latency: 10 * time.Millisecond}

	var seen []HealthRecord
	m := NewHealthMonitor([]Prober{p}, HealthConfig{},
		WithHealthLogger(log.New(io.Discard, "", 0)),
		WithRecordHook(func(r HealthRecord) { seen = append(seen, r) }),
	)
	m.now = clock.Now

	m.CheckNow(context.Background())
	require.Len(t, seen, 1)
	assert.Equal(t, "gemini", seen[0].Provider)
}

func TestHealthMonitor_ProbeTimeoutIsIndependent(t *testing.T) {
	blocking := &blockingProber{name: "anthropic"}
	m := NewHealthMonitor([]Prober{blocking}, HealthConfig{ProbeTimeout: 20 * time.Millisecond},
		WithHealthLogger(log.New(io.Discard, "", 0)))

	start := time.Now()
	results := m.CheckNow(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, HealthStatusUnhealthy, results["anthropic"].Status)
}

type blockingProber struct{ name string }

func (p *blockingProber) Name() string { return p.name }

func (p *blockingProber) Probe(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHealthMonitor_StartStopDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := &manualClock{}
	p := &scriptedProber{name: "gemini", clock: clock}
	m := quietMonitor([]Prober{p}, HealthConfig{Interval: 5 * time.Millisecond}, clock)

	m.Start(context.Background())
	m.Start(context.Background())

	require.Eventually(t, func() bool { return p.Calls() >= 3 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()

	calls := p.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, p.Calls(), "no probes after Stop")
}

func TestProviderError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		message  string
		fallback bool
	}{
		{
			name:     "missing credentials",
			err:      NewMissingCredentialsError("anthropic"),
			message:  "anthropic: missing credentials",
			fallback: true,
		},
		{
			name:     "request failed",
			err:      NewRequestFailedError("gemini", errors.New("dial tcp: refused")),
			message:  "gemini: request_failed: dial tcp: refused",
			fallback: true,
		},
		{
			name:     "http error",
			err:      NewHTTPError("gemini", 503, []byte("overloaded")),
			message:  "gemini: http error (status 503): overloaded",
			fallback: true,
		},
		{
			name:     "malformed response",
			err:      NewMalformedResponseError("bedrock", errors.New("unexpected EOF")),
			message:  "bedrock: malformed_response: unexpected EOF",
			fallback: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error())
			assert.Equal(t, tt.fallback, tt.err.ShouldFallback())

			wrapped := errors.Join(errors.New("outer"), tt.err)
			pe, ok := AsProviderError(wrapped)
			require.True(t, ok)
			assert.Equal(t, tt.err.Kind, pe.Kind)
		})
	}
}

func TestProviderError_TimeoutAndAuth(t *testing.T) {
	timeout := NewRequestFailedError("gemini", context.DeadlineExceeded)
	assert.True(t, timeout.IsTimeout())
	assert.True(t, errors.Is(timeout, context.DeadlineExceeded))

	auth := NewHTTPError("anthropic", 401, nil)
	assert.True(t, auth.IsAuthError())
	assert.False(t, NewHTTPError("anthropic", 500, nil).IsAuthError())
}

func TestNewHTTPError_TruncatesBody(t *testing.T) {
	body := make([]byte, 2048)
	for i := range body {
		body[i] = 'x'
	}
	err := NewHTTPError("gemini", 500, body)
	assert.Len(t, err.Body, 512)
}

type stubCredentials map[string]string

func (s stubCredentials) APIKey(ctx context.Context, provider string) (string, error) {
	key, ok := s[provider]
	if !ok {
		return "", errors.New("no secret for " + provider)
	}
	return key, nil
}

func TestResolveAPIKey(t *testing.T) {
	ctx := context.Background()

	key, err := ResolveAPIKey(ctx, "anthropic", "static-key", nil)
	require.NoError(t, err)
	assert.Equal(t, "static-key", key)

	key, err = ResolveAPIKey(ctx, "anthropic", "", stubCredentials{"anthropic": "from-source"})
	require.NoError(t, err)
	assert.Equal(t, "from-source", key)

	_, err = ResolveAPIKey(ctx, "gemini", "", stubCredentials{})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorKindMissingCredentials, pe.Kind)
	assert.EqualError(t, pe.Cause, "no secret for gemini")

	_, err = ResolveAPIKey(ctx, "gemini", "", stubCredentials{"gemini": ""})
	pe, _ = AsProviderError(err)
	assert.Equal(t, ErrorKindMissingCredentials, pe.Kind)

	_, err = ResolveAPIKey(ctx, "gemini", "", nil)
	pe, _ = AsProviderError(err)
	assert.Equal(t, ErrorKindMissingCredentials, pe.Kind)
}

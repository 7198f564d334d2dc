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

// Package ratelimit bounds how many calls each provider receives per window.
//
// A rejection is local and immediate. Callers must not treat it like a
// provider outage: the alternate provider has its own budget, so switching
// providers does not relieve overload. Report it to the user instead.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultMaxRequests is the per-provider budget per window.
	DefaultMaxRequests = 60

	// DefaultWindow is the sliding window length.
	DefaultWindow = 60 * time.Second
)

// ErrRateLimited matches every rejection returned by a Limiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// RejectedError describes a rejected call.
type RejectedError struct {
	Provider   string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for provider %s: %d requests per %s (retry after %s)",
		e.Provider, e.Limit, e.Window, e.RetryAfter.Round(time.Millisecond))
}

// Is lets errors.Is match ErrRateLimited.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Config configures a limiter.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultConfig returns 60 requests per 60 seconds.
func DefaultConfig() Config {
	return Config{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
}

func (c Config) withDefaults() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Limiter guards provider calls.
type Limiter interface {
	// Check records an attempted call and returns a *RejectedError when the
	// provider's budget for the current window is spent.
	Check(ctx context.Context, provider string) error

	// Count returns the number of calls recorded in the current window.
	Count(ctx context.Context, provider string) (int, error)

	// Config returns the limiter configuration.
	Config() Config
}

// MemoryLimiter is a sliding-window limiter held in process memory.
type MemoryLimiter struct {
	config Config
	now    func() time.Time

	mu      sync.RWMutex
	windows map[string]*window
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(config Config) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config.withDefaults(),
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// SetClock replaces time.Now; used by tests.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// Config returns the limiter configuration.
func (l *MemoryLimiter) Config() Config {
	return l.config
}

func (l *MemoryLimiter) get(provider string) *window {
	l.mu.RLock()
	w, ok := l.windows[provider]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[provider]; ok {
		return w
	}
	w = &window{}
	l.windows[provider] = w
	return w
}

// prune drops stamps that have left the window. Caller holds w.mu.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(ctx context.Context, provider string) error {
	w := l.get(provider)
	now := l.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now.Add(-l.config.Window))
	if len(w.stamps) >= l.config.MaxRequests {
		return &RejectedError{
			Provider:   provider,
			Limit:      l.config.MaxRequests,
			Window:     l.config.Window,
			RetryAfter: w.stamps[0].Add(l.config.Window).Sub(now),
		}
	}
	w.stamps = append(w.stamps, now)
	return nil
}

// Count implements Limiter.
func (l *MemoryLimiter) Count(ctx context.Context, provider string) (int, error) {
	w := l.get(provider)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(l.now().Add(-l.config.Window))
	return len(w.stamps), nil
}

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

// Package circuitbreaker isolates failing language-model providers.
//
// Each provider gets its own state machine:
//
//	closed --(threshold consecutive failures)--> open
//	open --(cool-down elapsed, one trial admitted)--> half_open
//	half_open --(trial succeeds)--> closed
//	half_open --(trial fails)--> open
//
// State for different providers is fully independent: every provider owns a
// mutex and transitions never take a lock shared by other providers.
package circuitbreaker

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// State is the state of a provider's circuit.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	// DefaultFailureThreshold is the number of consecutive failures that opens the circuit.
	DefaultFailureThreshold = 5

	// DefaultCoolDown is how long an open circuit rejects calls before a trial.
	DefaultCoolDown = 60 * time.Second
)

// ErrOpen is returned for calls short-circuited by an open circuit.
var ErrOpen = errors.New("circuit open")

// OpenError identifies the provider whose circuit refused a call.
type OpenError struct {
	Provider string
	State    State
	RetryAt  time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %s for provider %s", e.State, e.Provider)
}

// Is lets errors.Is match ErrOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Config contains circuit breaker configuration.
type Config struct {
	FailureThreshold int
	CoolDown         time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		CoolDown:         DefaultCoolDown,
	}
}

// Snapshot is a read-only copy of one provider's circuit.
type Snapshot struct {
	Provider            string     `json:"provider"`
	State               State      `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	TotalFailures       int64      `json:"total_failures"`
	TotalSuccesses      int64      `json:"total_successes"`
	Rejected            int64      `json:"rejected"`
}

// StateChangeFunc observes transitions.
type StateChangeFunc func(provider string, from, to State)

type circuit struct {
	mu sync.Mutex

	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool

	totalFailures  int64
	totalSuccesses int64
	rejected       int64
}

// Breaker tracks one circuit per provider.
type Breaker struct {
	config Config

	mu       sync.RWMutex
	circuits map[string]*circuit

	now      func() time.Time
	onChange StateChangeFunc
	logger   *log.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// WithClock replaces time.Now; used by tests to step through cool-downs.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateChangeHook registers a callback invoked after every transition.
// The hook runs outside the provider lock.
func WithStateChangeHook(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// New creates a breaker. Zero config values fall back to the defaults.
func New(config Config, opts ...Option) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.CoolDown <= 0 {
		config.CoolDown = DefaultCoolDown
	}

	b := &Breaker{
		config:   config,
		circuits: make(map[string]*circuit),
		now:      time.Now,
		logger:   log.New(os.Stdout, "[CIRCUIT_BREAKER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the breaker configuration.
func (b *Breaker) Config() Config {
	return b.config
}

func (b *Breaker) get(provider string) *circuit {
	b.mu.RLock()
	c, ok := b.circuits[provider]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.circuits[provider]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	b.circuits[provider] = c
	return c
}

// Allow reports whether a call to provider may proceed. An open circuit whose
// cool-down has elapsed moves to half_open and admits exactly one caller;
// everyone else is refused until that trial is recorded.
func (b *Breaker) Allow(provider string) bool {
	return b.Check(provider) == nil
}

// Check is Allow with a typed error describing the refusal.
func (b *Breaker) Check(provider string) error {
	c := b.get(provider)

	c.mu.Lock()
	from := c.state
	var err error
	switch c.state {
	case StateClosed:
	case StateOpen:
		retryAt := c.openedAt.Add(b.config.CoolDown)
		if b.now().Before(retryAt) {
			c.rejected++
			err = &OpenError{Provider: provider, State: StateOpen, RetryAt: retryAt}
			break
		}
		c.state = StateHalfOpen
		c.trialInFlight = true
	case StateHalfOpen:
		if c.trialInFlight {
			c.rejected++
			err = &OpenError{Provider: provider, State: StateHalfOpen}
			break
		}
		c.trialInFlight = true
	}
	to := c.state
	c.mu.Unlock()

	b.transitioned(provider, from, to)
	return err
}

// Release gives back an admission that never reached the provider. A
// half-open trial released this way lets the next caller take the trial;
// no success or failure is recorded.
func (b *Breaker) Release(provider string) {
	c := b.get(provider)

	c.mu.Lock()
	if c.state == StateHalfOpen {
		c.trialInFlight = false
	}
	c.mu.Unlock()
}

// RecordSuccess records a successful call. A successful half-open trial
// closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess(provider string) {
	c := b.get(provider)

	c.mu.Lock()
	from := c.state
	c.totalSuccesses++
	c.consecutiveFailures = 0
	c.trialInFlight = false
	if c.state == StateHalfOpen {
		c.state = StateClosed
		c.openedAt = time.Time{}
	}
	to := c.state
	c.mu.Unlock()

	b.transitioned(provider, from, to)
}

// RecordFailure records a failed call. Reaching the threshold while closed,
// or failing the half-open trial, opens the circuit and restarts the cool-down.
func (b *Breaker) RecordFailure(provider string) {
	c := b.get(provider)

	c.mu.Lock()
	from := c.state
	c.totalFailures++
	c.consecutiveFailures++
	switch c.state {
	case StateClosed:
		if c.consecutiveFailures >= b.config.FailureThreshold {
			c.state = StateOpen
			c.openedAt = b.now()
		}
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = b.now()
		c.trialInFlight = false
	case StateOpen:
		// a call admitted before the circuit opened finished late
	}
	to := c.state
	c.mu.Unlock()

	b.transitioned(provider, from, to)
}

// State returns the current state without side effects. An open circuit
// whose cool-down has elapsed is still reported as open until a caller
// asks to be admitted.
func (b *Breaker) State(provider string) State {
	c := b.get(provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the provider's circuit.
func (b *Breaker) Snapshot(provider string) Snapshot {
	c := b.get(provider)
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Provider:            provider,
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
		TotalFailures:       c.totalFailures,
		TotalSuccesses:      c.totalSuccesses,
		Rejected:            c.rejected,
	}
	if !c.openedAt.IsZero() {
		openedAt := c.openedAt
		s.OpenedAt = &openedAt
	}
	return s
}

// Snapshots returns every known circuit sorted by provider name.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.RLock()
	names := make([]string, 0, len(b.circuits))
	for name := range b.circuits {
		names = append(names, name)
	}
	b.mu.RUnlock()

	sort.Strings(names)
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		out = append(out, b.Snapshot(name))
	}
	return out
}

// Reset forces the provider's circuit closed and clears its counters.
func (b *Breaker) Reset(provider string) {
	c := b.get(provider)

	c.mu.Lock()
	from := c.state
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.openedAt = time.Time{}
	c.trialInFlight = false
	c.mu.Unlock()

	b.transitioned(provider, from, StateClosed)
}

func (b *Breaker) transitioned(provider string, from, to State) {
	if from == to {
		return
	}
	b.logger.Printf("Provider %s circuit %s -> %s", provider, from, to)
	if b.onChange != nil {
		b.onChange(provider, from, to)
	}
}

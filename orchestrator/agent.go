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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"canvasflow/platform/common/usage"
	"canvasflow/platform/orchestrator/canvas"
	"canvasflow/platform/orchestrator/circuitbreaker"
	"canvasflow/platform/orchestrator/classifier"
	"canvasflow/platform/orchestrator/llm"
	"canvasflow/platform/orchestrator/ratelimit"
	"canvasflow/platform/orchestrator/tools"
	"canvasflow/platform/shared/logger"
)

// DefaultCommandTimeout bounds one Execute call end to end.
const DefaultCommandTimeout = 30 * time.Second

// Command is one natural-language instruction against a canvas.
type Command struct {
	Text      string                 `json:"text"`
	TargetID  string                 `json:"canvas_id"`
	Selection []string               `json:"selection,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Attempt records one provider attempt.
type Attempt struct {
	Provider   string `json:"provider"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
}

// ExecutionResult is what a successful Execute returns. Individual tool
// results may still have failed; see Failed.
type ExecutionResult struct {
	RequestID      string                    `json:"request_id"`
	CanvasID       string                    `json:"canvas_id"`
	Classification classifier.Classification `json:"classification"`
	Rule           classifier.Rule           `json:"rule"`
	ProviderUsed   string                    `json:"provider_used"`
	Model          string                    `json:"model,omitempty"`
	FellBack       bool                      `json:"fell_back"`
	Attempts       []Attempt                 `json:"attempts"`
	Results        []tools.ToolResult        `json:"results"`
	Text           string                    `json:"text,omitempty"`
	Usage          llm.UsageStats            `json:"usage"`
	CostMicros     int64                     `json:"cost_micros"`
	DurationMS     int64                     `json:"duration_ms"`
}

// Failed counts unsuccessful tool results.
func (r *ExecutionResult) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Success {
			n++
		}
	}
	return n
}

// AgentConfig wires an Agent. Fast, Capable, Store and Registry are
// required; everything else has a default.
type AgentConfig struct {
	Fast    llm.Provider
	Capable llm.Provider

	Store     canvas.Store
	Publisher canvas.Publisher
	Registry  *tools.Registry

	Breaker   *circuitbreaker.Breaker
	Limiter   ratelimit.Limiter
	Health    *llm.HealthMonitor
	Telemetry TelemetrySink

	// Timeout bounds the whole command. Defaults to DefaultCommandTimeout.
	Timeout time.Duration

	// ProviderTimeout optionally bounds each provider attempt on top of
	// the adapter's own timeout, leaving budget for the fallback.
	ProviderTimeout time.Duration

	BatchOptions []tools.BatchOption
	Logger       *logger.Logger
}

// Agent turns commands into canvas mutations.
type Agent struct {
	fast    llm.Provider
	capable llm.Provider

	store      canvas.Store
	registry   *tools.Registry
	schemas    []llm.ToolSchema
	dispatcher *tools.Dispatcher
	batch      *tools.BatchExecutor

	breaker   *circuitbreaker.Breaker
	limiter   ratelimit.Limiter
	health    *llm.HealthMonitor
	telemetry TelemetrySink

	timeout         time.Duration
	providerTimeout time.Duration

	log *logger.Logger
	now func() time.Time
}

// NewAgent validates cfg and builds an Agent.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Fast == nil || cfg.Capable == nil {
		return nil, errors.New("both fast and capable providers are required")
	}
	if cfg.Fast.Name() == cfg.Capable.Name() {
		return nil, fmt.Errorf("fast and capable providers must differ, both are %s", cfg.Fast.Name())
	}
	if cfg.Store == nil {
		return nil, errors.New("document store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("tool registry is required")
	}

	if cfg.Publisher == nil {
		cfg.Publisher = canvas.NoopPublisher{}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewMemoryLimiter(ratelimit.DefaultConfig())
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCommandTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("orchestrator")
	}

	toolLog := logger.New("tools")
	toolLog.MinLevel = cfg.Logger.MinLevel

	return &Agent{
		fast:            cfg.Fast,
		capable:         cfg.Capable,
		store:           cfg.Store,
		registry:        cfg.Registry,
		schemas:         cfg.Registry.Schemas(),
		dispatcher:      tools.NewDispatcher(cfg.Registry, cfg.Store, cfg.Publisher, toolLog),
		batch:           tools.NewBatchExecutor(cfg.Registry, cfg.Store, cfg.Publisher, toolLog, cfg.BatchOptions...),
		breaker:         cfg.Breaker,
		limiter:         cfg.Limiter,
		health:          cfg.Health,
		telemetry:       cfg.Telemetry,
		timeout:         cfg.Timeout,
		providerTimeout: cfg.ProviderTimeout,
		log:             cfg.Logger,
		now:             time.Now,
	}, nil
}

// Providers returns the fast and capable providers, in that order.
func (a *Agent) Providers() []llm.Provider {
	return []llm.Provider{a.fast, a.capable}
}

// Breaker returns the circuit breaker shared by all commands.
func (a *Agent) Breaker() *circuitbreaker.Breaker { return a.breaker }

// Limiter returns the rate limiter shared by all commands.
func (a *Agent) Limiter() ratelimit.Limiter { return a.limiter }

// Health returns the health monitor, or nil.
func (a *Agent) Health() *llm.HealthMonitor { return a.health }

// Tier names the routing class served by provider.
func (a *Agent) Tier(provider string) classifier.Classification {
	if provider == a.capable.Name() {
		return classifier.Capable
	}
	return classifier.Fast
}

// Execute runs cmd to completion or until the command timeout. Every
// failure is an *Error. Telemetry is emitted whatever the outcome.
func (a *Agent) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	start := a.now()
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}

	decision := classifier.Explain(cmd.Text)
	result := &ExecutionResult{
		RequestID:      cmd.RequestID,
		CanvasID:       cmd.TargetID,
		Classification: decision.Classification,
		Rule:           decision.Rule,
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.execute(ctx, cmd, result)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if e, ok := AsError(err); !ok || e.Kind != ErrorKindTimeout {
			err = newError(ErrorKindTimeout, result.ProviderUsed, fmt.Errorf("command exceeded %s: %w", a.timeout, err))
		}
	}
	result.DurationMS = a.now().Sub(start).Milliseconds()

	a.emit(ctx, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Agent) execute(ctx context.Context, cmd Command, result *ExecutionResult) error {
	if strings.TrimSpace(cmd.Text) == "" {
		return newError(ErrorKindValidation, "", errors.New("command text is empty"))
	}

	cv, err := a.store.GetCanvas(ctx, cmd.TargetID)
	if err != nil {
		if errors.Is(err, canvas.ErrNotFound) {
			return newError(ErrorKindTargetNotFound, "", err)
		}
		return newError(ErrorKindDomain, "", fmt.Errorf("failed to load canvas: %w", err))
	}

	en := enrichCommand(cmd.Text, cv, a.loadSelection(ctx, cmd), cmd.Options)

	a.log.Info(cmd.TargetID, cmd.RequestID, "Command classified", map[string]interface{}{
		"classification": result.Classification,
		"rule":           result.Rule,
		"selection":      len(en.aliases),
	})

	callResult, err := a.callWithFallback(ctx, cmd, result, en.prompt)
	if err != nil {
		return err
	}

	result.Model = callResult.Model
	result.Text = callResult.Text
	result.Usage = callResult.Usage
	result.CostMicros = usage.CalculateCost(result.ProviderUsed, callResult.Model,
		callResult.Usage.InputTokens, callResult.Usage.OutputTokens)

	calls := normalizeCalls(callResult.ToolCalls, en.aliases)
	result.Results = a.runCalls(ctx, calls, tools.Target{CanvasID: cv.ID, RequestID: cmd.RequestID})
	return nil
}

// loadSelection fetches the selected entities, skipping any that no
// longer exist.
func (a *Agent) loadSelection(ctx context.Context, cmd Command) []*canvas.Entity {
	selected := make([]*canvas.Entity, 0, len(cmd.Selection))
	for _, id := range cmd.Selection {
		e, err := a.store.GetEntity(ctx, cmd.TargetID, id)
		if err != nil {
			a.log.Debug(cmd.TargetID, cmd.RequestID, "Selected object not found", map[string]interface{}{
				"entity_id": id,
				"error":     err.Error(),
			})
			continue
		}
		selected = append(selected, e)
	}
	return selected
}

// providerOrder returns the primary and alternate for a classification.
// An unhealthy primary yields to an alternate that is not.
func (a *Agent) providerOrder(c classifier.Classification) (llm.Provider, llm.Provider) {
	primary, alternate := a.fast, a.capable
	if c == classifier.Capable {
		primary, alternate = a.capable, a.fast
	}
	if a.health != nil &&
		a.health.Status(primary.Name()) == llm.HealthStatusUnhealthy &&
		a.health.Status(alternate.Name()) != llm.HealthStatusUnhealthy {
		return alternate, primary
	}
	return primary, alternate
}

// callWithFallback tries the primary and, when its failure allows it, the
// alternate exactly once.
func (a *Agent) callWithFallback(ctx context.Context, cmd Command, result *ExecutionResult, prompt string) (*llm.CallResult, error) {
	primary, alternate := a.providerOrder(result.Classification)

	for i, p := range []llm.Provider{primary, alternate} {
		started := a.now()
		res, err := a.attempt(ctx, p, prompt)
		elapsed := a.now().Sub(started).Milliseconds()

		if err == nil {
			result.ProviderUsed = p.Name()
			result.Attempts = append(result.Attempts, Attempt{Provider: p.Name(), Outcome: "success", DurationMS: elapsed})
			return res, nil
		}

		e, fallback := classifyProviderError(p.Name(), err)
		if ctx.Err() != nil {
			e, fallback = newError(ErrorKindTimeout, p.Name(), err), false
		}
		result.Attempts = append(result.Attempts, Attempt{Provider: p.Name(), Outcome: string(e.Kind), DurationMS: elapsed})

		if !fallback || i == 1 {
			return nil, e
		}

		result.FellBack = true
		recordFallback(p.Name(), alternate.Name())
		a.log.Warn(cmd.TargetID, cmd.RequestID, "Falling back to alternate provider", map[string]interface{}{
			"from":   p.Name(),
			"to":     alternate.Name(),
			"reason": string(e.Kind),
			"error":  err.Error(),
		})
	}
	// unreachable: the second iteration always returns
	return nil, newError(ErrorKindRequestFailed, "", errors.New("no provider attempted"))
}

// attempt gates one provider call through the breaker and limiter and
// records the outcome on the breaker. A provider refused by the breaker
// spends no rate budget.
func (a *Agent) attempt(ctx context.Context, p llm.Provider, prompt string) (*llm.CallResult, error) {
	name := p.Name()

	if err := a.breaker.Check(name); err != nil {
		recordProviderCall(name, "circuit_open")
		return nil, err
	}

	if err := a.limiter.Check(ctx, name); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			a.breaker.Release(name)
			recordProviderCall(name, "rate_limited")
			return nil, err
		}
		a.log.Warn("", "", "Rate limiter unavailable, allowing call", map[string]interface{}{
			"provider": name,
			"error":    err.Error(),
		})
	}

	callCtx := ctx
	if a.providerTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.providerTimeout)
		defer cancel()
	}

	res, err := a.invoke(callCtx, p, prompt)
	if err != nil {
		a.breaker.RecordFailure(name)
		recordProviderCall(name, "error")
		return nil, err
	}
	a.breaker.RecordSuccess(name)
	recordProviderCall(name, "success")
	return res, nil
}

type callOutcome struct {
	result *llm.CallResult
	err    error
}

// invoke runs the provider call on its own goroutine. When ctx ends first
// the call is abandoned and its result discarded. A panic in the adapter
// becomes request_failed.
func (a *Agent) invoke(ctx context.Context, p llm.Provider, prompt string) (*llm.CallResult, error) {
	ch := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- callOutcome{err: llm.NewRequestFailedError(p.Name(), fmt.Errorf("provider panic: %v", r))}
			}
		}()
		res, err := p.Call(ctx, prompt, a.schemas, llm.CallOptions{})
		ch <- callOutcome{result: res, err: err}
	}()

	select {
	case out := <-ch:
		if out.err == nil && out.result == nil {
			return nil, llm.NewMalformedResponseError(p.Name(), errors.New("empty result"))
		}
		return out.result, out.err
	case <-ctx.Done():
		return nil, llm.NewRequestFailedError(p.Name(), ctx.Err())
	}
}

// runCalls executes calls in order. Consecutive runs of two or more
// batchable creates go through one atomic batch.
func (a *Agent) runCalls(ctx context.Context, calls []llm.ToolCall, target tools.Target) []tools.ToolResult {
	results := make([]tools.ToolResult, 0, len(calls))
	for _, seg := range partition(calls, a.registry.IsBatchable) {
		if seg.batch {
			results = append(results, a.batch.ExecuteBatch(ctx, seg.calls, target)...)
			continue
		}
		for _, c := range seg.calls {
			results = append(results, a.dispatcher.Dispatch(ctx, c, target))
		}
	}
	return results
}

func (a *Agent) emit(ctx context.Context, result *ExecutionResult, err error) {
	event := TelemetryEvent{
		RequestID:      result.RequestID,
		CanvasID:       result.CanvasID,
		Classification: string(result.Classification),
		Rule:           string(result.Rule),
		ProviderUsed:   result.ProviderUsed,
		FellBack:       result.FellBack,
		DurationMS:     result.DurationMS,
		Success:        err == nil,
		ToolCalls:      len(result.Results),
		FailedCalls:    result.Failed(),
		InputTokens:    result.Usage.InputTokens,
		OutputTokens:   result.Usage.OutputTokens,
		CostMicros:     result.CostMicros,
		At:             a.now().UTC(),
	}
	if e, ok := AsError(err); ok {
		event.ErrorKind = string(e.Kind)
	} else if err != nil {
		event.ErrorKind = string(ErrorKindRequestFailed)
	}

	recordPrometheus(event)

	fields := map[string]interface{}{
		"classification": event.Classification,
		"provider_used":  event.ProviderUsed,
		"fell_back":      event.FellBack,
		"success":        event.Success,
		"tool_calls":     event.ToolCalls,
		"failed_calls":   event.FailedCalls,
		"cost":           usage.FormatMicroDollars(event.CostMicros),
	}
	if err != nil {
		fields["error_kind"] = event.ErrorKind
		fields["error"] = err.Error()
		a.log.WarnWithDuration(result.CanvasID, result.RequestID, "Command failed", float64(event.DurationMS), fields)
	} else {
		a.log.InfoWithDuration(result.CanvasID, result.RequestID, "Command completed", float64(event.DurationMS), fields)
	}

	if a.telemetry != nil {
		a.telemetry.Record(context.WithoutCancel(ctx), event)
	}
}

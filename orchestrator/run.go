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
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"canvasflow/platform/connectors/config"
	"canvasflow/platform/connectors/stream"
	events "canvasflow/platform/connectors/redis"
	"canvasflow/platform/orchestrator/canvas"
	"canvasflow/platform/orchestrator/circuitbreaker"
	"canvasflow/platform/orchestrator/llm"
	"canvasflow/platform/orchestrator/llm/anthropic"
	"canvasflow/platform/orchestrator/llm/bedrock"
	"canvasflow/platform/orchestrator/llm/gemini"
	"canvasflow/platform/orchestrator/ratelimit"
	"canvasflow/platform/orchestrator/tools"
	"canvasflow/platform/shared/logger"
)

// recentTelemetrySize is how many events /api/v1/telemetry keeps.
const recentTelemetrySize = 200

// App is a fully wired orchestrator.
type App struct {
	Agent  *Agent
	Server *Server
	Health *llm.HealthMonitor
	Recent *RecentTelemetry
	Stream *stream.Hub

	config  *config.Config
	closers []func() error
}

// Build wires every component named by cfg. Nothing is started; call
// Run or start the health monitor yourself.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{config: cfg}
	level := logger.ParseLevel(cfg.LogLevel)
	stdLog := log.New(os.Stdout, "[ORCHESTRATOR] ", log.LstdFlags)

	store, err := app.buildStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	publisher, err := app.buildPublisher(ctx, cfg, level)
	if err != nil {
		app.Close()
		return nil, err
	}
	streamLog := logger.New("stream")
	streamLog.MinLevel = level
	app.Stream = stream.NewHub(stream.WithLogger(streamLog))
	app.closers = append(app.closers, app.Stream.Close)
	publisher = canvas.MultiPublisher{publisher, app.Stream}

	limiter, err := app.buildLimiter(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	creds, err := config.NewCredentialSource(ctx, cfg, log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to build credential source: %w", err)
	}

	fast, err := buildProvider(ctx, cfg, cfg.Routing.Fast, creds)
	if err != nil {
		app.Close()
		return nil, err
	}
	capable, err := buildProvider(ctx, cfg, cfg.Routing.Capable, creds)
	if err != nil {
		app.Close()
		return nil, err
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		CoolDown:         cfg.CircuitBreaker.Cooldown(),
	}, circuitbreaker.WithStateChangeHook(CircuitStateHook()))

	if !cfg.Health.Disabled {
		app.Health = llm.NewHealthMonitor([]llm.Prober{fast, capable}, llm.HealthConfig{
			Interval:     cfg.Health.Interval(),
			ProbeTimeout: cfg.Health.ProbeTimeout(),
		}, llm.WithRecordHook(HealthRecordHook()))
	}

	app.Recent = NewRecentTelemetry(recentTelemetrySize)

	agentLog := logger.New("orchestrator")
	agentLog.MinLevel = level

	agent, err := NewAgent(AgentConfig{
		Fast:         fast,
		Capable:      capable,
		Store:        store,
		Publisher:    publisher,
		Registry:     tools.NewCanvasRegistry(),
		Breaker:      breaker,
		Limiter:      limiter,
		Health:       app.Health,
		Telemetry:    app.Recent,
		Timeout:      cfg.CommandTimeout(),
		BatchOptions: []tools.BatchOption{tools.WithBatchObserver(BatchObserver())},
		Logger:       agentLog,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Agent = agent

	apiLog := logger.New("api")
	apiLog.MinLevel = level
	app.Server = NewServer(agent,
		WithRecentTelemetry(app.Recent),
		WithAllowedOrigins(cfg.Server.AllowedOrigins),
		WithServerLogger(apiLog),
		WithEventStream(app.Stream),
	)

	stdLog.Printf("Routing fast=%s capable=%s, storage=%s, events=%s, rate limit=%s",
		fast.Name(), capable.Name(), cfg.Storage.Backend, cfg.Events.Backend, cfg.RateLimit.Backend)
	return app, nil
}

func (a *App) buildStore(ctx context.Context, cfg *config.Config) (canvas.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := canvas.OpenPostgres(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		store := canvas.NewPostgresStore(db)
		if cfg.Storage.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate canvas schema: %w", err)
			}
		}
		return store, nil
	case config.BackendMemory, "":
		return canvas.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg *config.Config, level logger.LogLevel) (canvas.Publisher, error) {
	switch cfg.Events.Backend {
	case config.BackendRedis:
		client, err := ratelimit.Connect(ctx, cfg.Events.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		pubLog := logger.New("events")
		pubLog.MinLevel = level
		pub := events.NewPublisher(client,
			events.WithTimeout(cfg.Events.PublishTimeout()),
			events.WithLogger(pubLog),
		)
		a.closers = append(a.closers, func() error {
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Events.PublishTimeout())
			defer cancel()
			if err := pub.Flush(flushCtx); err != nil {
				log.Printf("Pending events not flushed: %v", err)
			}
			return client.Close()
		})
		return pub, nil
	case config.BackendNone, "":
		return canvas.NoopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}

func (a *App) buildLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, error) {
	rl := ratelimit.Config{MaxRequests: cfg.RateLimit.MaxRequests, Window: cfg.RateLimit.Window()}
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		client, err := ratelimit.Connect(ctx, cfg.RateLimit.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return ratelimit.NewRedisLimiter(client, rl), nil
	case config.BackendMemory, "":
		return ratelimit.NewMemoryLimiter(rl), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

func buildProvider(ctx context.Context, cfg *config.Config, name string, creds config.CredentialSource) (llm.Provider, error) {
	pc, ok := cfg.Provider(name)
	if !ok || !pc.Enabled {
		return nil, fmt.Errorf("provider %s is not configured", name)
	}

	switch name {
	case config.ProviderAnthropic:
		return anthropic.NewProvider(anthropic.Config{
			APIKey:         pc.APIKey,
			Credentials:    creds,
			BaseURL:        pc.BaseURL,
			Model:          pc.Model,
			Timeout:        pc.Timeout(),
			MaxTokens:      pc.MaxTokens,
			AverageLatency: pc.AverageLatency(),
		}), nil
	case config.ProviderGemini:
		return gemini.NewProvider(gemini.Config{
			APIKey:         pc.APIKey,
			Credentials:    creds,
			BaseURL:        pc.BaseURL,
			Model:          pc.Model,
			Timeout:        pc.Timeout(),
			MaxTokens:      pc.MaxTokens,
			AverageLatency: pc.AverageLatency(),
		}), nil
	case config.ProviderBedrock:
		p, err := bedrock.NewProvider(ctx, bedrock.Config{
			Region:         pc.Region,
			Model:          pc.Model,
			Timeout:        pc.Timeout(),
			MaxTokens:      pc.MaxTokens,
			AverageLatency: pc.AverageLatency(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// Close releases database and Redis connections. Errors are joined.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run builds the app, starts health probing and serves HTTP until ctx is
// cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config) error {
	log.Println("Starting CanvasFlow Orchestrator...")

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("Error closing connections: %v", err)
		}
	}()

	if app.Health != nil {
		app.Health.Start(ctx)
		defer app.Health.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           app.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("CanvasFlow Orchestrator listening on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout()+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

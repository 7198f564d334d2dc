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

// Package main is the entry point for the CanvasFlow orchestrator service.
//
// The orchestrator turns natural-language canvas commands into tool calls:
// - Classifies each command as fast or capable
// - Routes it to the matching LLM provider, falling back once on failure
// - Guards providers with a circuit breaker, a rate limiter and health probes
// - Validates and applies the returned tool calls to the canvas store
//
// Usage:
//
//	./orchestrator -config canvasflow.yaml
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8081)
//	ANTHROPIC_API_KEY - Anthropic API key
//	GEMINI_API_KEY - Gemini API key (GOOGLE_API_KEY also accepted)
//	REDIS_URL - Shared rate limiter and event bus (optional)
//	DATABASE_URL - PostgreSQL canvas store (optional)
//	LOG_LEVEL - DEBUG, INFO, WARN or ERROR
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"canvasflow/platform/connectors/config"
	"canvasflow/platform/orchestrator"
)

func main() {
	configPath := flag.String("config", os.Getenv("CANVASFLOW_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Run(ctx, cfg); err != nil {
		log.Fatalf("Orchestrator stopped: %v", err)
	}
}

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

/*
Package logger provides structured JSON logging for CanvasFlow components.

# Overview

Every entry is a single JSON line written to stdout so it can be shipped to
any log aggregation system. Each entry carries:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (orchestrator, tools, health, ...)
  - Instance ID and container name
  - Canvas ID and request ID for correlating one command end to end
  - Custom fields

# Usage

	log := logger.New("orchestrator")

	log.Info("canvas-42", "req-456", "Command classified", map[string]interface{}{
	    "classification": "fast",
	})

	log.InfoWithDuration("canvas-42", "req-456", "Command completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - LOG_LEVEL: minimum level written (DEBUG, INFO, WARN, ERROR; default INFO)

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger

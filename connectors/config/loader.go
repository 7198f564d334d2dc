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

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarRegex matches ${VAR}, ${VAR:-default} and $VAR.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Load reads the YAML file at path, expands environment references, fills
// defaults, applies environment overrides and validates the result. An
// empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML content after environment expansion and fills any
// missing values with defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// expandEnvVars substitutes environment variables in content. Undefined
// variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// ExampleConfig is a commented starting point printed by the CLI.
const ExampleConfig = `# CanvasFlow orchestrator configuration
version: "1"
log_level: ${LOG_LEVEL:-INFO}
command_timeout_ms: 30000

server:
  port: 8081
  allowed_origins: ["http://localhost:3000"]

routing:
  fast: gemini
  capable: anthropic

providers:
  anthropic:
    enabled: true
    model: claude-3-5-sonnet-20241022
    timeout_ms: 20000
  gemini:
    enabled: true
    model: gemini-2.0-flash
    timeout_ms: 10000
  bedrock:
    enabled: false
    region: ${AWS_REGION:-us-east-1}

circuit_breaker:
  failure_threshold: 5
  cooldown_ms: 60000

rate_limit:
  backend: memory
  max_requests: 60
  window_ms: 60000

health:
  interval_ms: 300000
  probe_timeout_ms: 10000

storage:
  backend: memory
  auto_migrate: true

events:
  backend: none
  publish_timeout_ms: 2000

credentials:
  # API keys are resolved per call, first source wins.
  sources: [static, env]
  # secret_ids:
  #   anthropic: arn:aws:secretsmanager:us-east-1:123456789012:secret:anthropic
`

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
Package config loads the orchestrator configuration and resolves provider
credentials.

Configuration comes from three layers, later layers winning:

 1. Built-in defaults (Default)
 2. An optional YAML file, with ${VAR} and ${VAR:-default} expansion
 3. Environment variables such as PORT, COMMAND_TIMEOUT, REDIS_URL and
    DATABASE_URL (see Config.ApplyEnv)

API keys are never read at startup. Adapters ask a CredentialSource on
every call, so a key rotated in AWS Secrets Manager is picked up once the
cache entry expires. Sources can be chained:

	src, err := config.NewCredentialSource(ctx, cfg, nil)
	key, err := src.APIKey(ctx, "anthropic")
	if errors.Is(err, config.ErrMissingCredentials) {
		// no source had a key
	}
*/
package config

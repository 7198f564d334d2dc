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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrMissingCredentials matches every MissingCredentialsError.
var ErrMissingCredentials = errors.New("missing credentials")

// MissingCredentialsError reports that no key could be found for a provider.
type MissingCredentialsError struct {
	Provider string
	Source   string
	Cause    error
}

func (e *MissingCredentialsError) Error() string {
	msg := fmt.Sprintf("no credentials for provider %s", e.Provider)
	if e.Source != "" {
		msg += " in " + e.Source
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MissingCredentialsError) Unwrap() error { return e.Cause }

// Is lets errors.Is match ErrMissingCredentials.
func (e *MissingCredentialsError) Is(target error) bool {
	return target == ErrMissingCredentials
}

// CredentialSource resolves a provider's API key.
type CredentialSource interface {
	APIKey(ctx context.Context, provider string) (string, error)
}

// StaticSource serves keys written in the config file.
type StaticSource map[string]string

// NewStaticSource collects api_key values from provider configs.
func NewStaticSource(providers map[string]ProviderConfig) StaticSource {
	s := make(StaticSource)
	for name, p := range providers {
		if p.APIKey != "" {
			s[name] = p.APIKey
		}
	}
	return s
}

// APIKey implements CredentialSource.
func (s StaticSource) APIKey(_ context.Context, provider string) (string, error) {
	if key := s[provider]; key != "" {
		return key, nil
	}
	return "", &MissingCredentialsError{Provider: provider, Source: SourceStatic}
}

// defaultEnvVars lists the variables checked per provider, in order.
var defaultEnvVars = map[string][]string{
	ProviderAnthropic: {"ANTHROPIC_API_KEY"},
	ProviderGemini:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// EnvSource reads keys from environment variables.
type EnvSource struct {
	vars map[string][]string
}

// NewEnvSource creates a source using the standard variable names. Any
// other provider is looked up as <PROVIDER>_API_KEY.
func NewEnvSource() *EnvSource {
	return &EnvSource{vars: defaultEnvVars}
}

// APIKey implements CredentialSource.
func (s *EnvSource) APIKey(_ context.Context, provider string) (string, error) {
	names, ok := s.vars[provider]
	if !ok {
		names = []string{strings.ToUpper(provider) + "_API_KEY"}
	}
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", &MissingCredentialsError{
		Provider: provider,
		Source:   SourceEnv,
		Cause:    fmt.Errorf("none of %s set", strings.Join(names, ", ")),
	}
}

// ChainSource asks each source in turn and returns the first key found.
type ChainSource []CredentialSource

// APIKey implements CredentialSource. Errors from every source are joined
// into the final MissingCredentialsError.
func (c ChainSource) APIKey(ctx context.Context, provider string) (string, error) {
	var errs []error
	for _, src := range c {
		key, err := src.APIKey(ctx, provider)
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return "", &MissingCredentialsError{Provider: provider, Source: "chain", Cause: errors.Join(errs...)}
}

// SecretsClient is the part of the Secrets Manager API the source uses.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsOptions configures an AWSSecretsSource.
type AWSSecretsOptions struct {
	Region    string
	SecretIDs map[string]string
	CacheTTL  time.Duration
	Logger    *log.Logger
}

// AWSSecretsSource reads provider keys from AWS Secrets Manager. Each
// provider maps to one secret; values are cached for CacheTTL.
type AWSSecretsSource struct {
	client    SecretsClient
	secretIDs map[string]string
	cache     *TTLCache[map[string]string]
	logger    *log.Logger
}

// NewAWSSecretsSource creates a source using the default AWS config chain.
func NewAWSSecretsSource(ctx context.Context, opts AWSSecretsOptions) (*AWSSecretsSource, error) {
	var cfgOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSSecretsSourceWithClient(secretsmanager.NewFromConfig(cfg), opts), nil
}

// NewAWSSecretsSourceWithClient creates a source around an existing client.
func NewAWSSecretsSourceWithClient(client SecretsClient, opts AWSSecretsOptions) *AWSSecretsSource {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}
	ids := make(map[string]string, len(opts.SecretIDs))
	for k, v := range opts.SecretIDs {
		ids[k] = v
	}
	return &AWSSecretsSource{
		client:    client,
		secretIDs: ids,
		cache:     NewTTLCache[map[string]string](opts.CacheTTL),
		logger:    logger,
	}
}

// APIKey implements CredentialSource. The secret may be a JSON object with
// an "api_key" (or "<provider>_api_key") field, or the bare key.
func (s *AWSSecretsSource) APIKey(ctx context.Context, provider string) (string, error) {
	secretID, ok := s.secretIDs[provider]
	if !ok {
		return "", &MissingCredentialsError{Provider: provider, Source: SourceAWS, Cause: errors.New("no secret configured")}
	}

	secret, err := s.GetSecret(ctx, secretID)
	if err != nil {
		return "", &MissingCredentialsError{Provider: provider, Source: SourceAWS, Cause: err}
	}
	for _, field := range []string{"api_key", provider + "_api_key", "value"} {
		if v := strings.TrimSpace(secret[field]); v != "" {
			return v, nil
		}
	}
	return "", &MissingCredentialsError{
		Provider: provider,
		Source:   SourceAWS,
		Cause:    fmt.Errorf("secret %s has no api_key field", maskARN(secretID)),
	}
}

// GetSecret fetches a secret, serving repeated reads from the cache.
func (s *AWSSecretsSource) GetSecret(ctx context.Context, secretID string) (map[string]string, error) {
	if value, ok := s.cache.Get(secretID); ok {
		return value, nil
	}

	s.logger.Printf("Fetching secret %s from AWS Secrets Manager", maskARN(secretID))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretID), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretID))
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		values = map[string]string{"value": *result.SecretString}
	}

	s.cache.Set(secretID, values)
	return values, nil
}

// InvalidateSecret drops one cached secret so the next read refetches it.
func (s *AWSSecretsSource) InvalidateSecret(secretID string) {
	s.cache.Invalidate(secretID)
	s.logger.Printf("Invalidated cache for secret %s", maskARN(secretID))
}

// InvalidateAll clears the secret cache.
func (s *AWSSecretsSource) InvalidateAll() {
	s.cache.InvalidateAll()
	s.logger.Println("Invalidated all cached secrets")
}

// CacheStats reports cache hits and misses.
func (s *AWSSecretsSource) CacheStats() CacheStats {
	return s.cache.Stats()
}

// maskARN shows only the last 8 characters of a secret identifier.
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// NewCredentialSource builds the chain named by cfg.Credentials.Sources.
func NewCredentialSource(ctx context.Context, cfg *Config, logger *log.Logger) (CredentialSource, error) {
	var chain ChainSource
	for _, name := range cfg.Credentials.Sources {
		switch name {
		case SourceStatic:
			chain = append(chain, NewStaticSource(cfg.Providers))
		case SourceEnv:
			chain = append(chain, NewEnvSource())
		case SourceAWS:
			src, err := NewAWSSecretsSource(ctx, AWSSecretsOptions{
				Region:    cfg.Credentials.AWSRegion,
				SecretIDs: cfg.Credentials.SecretIDs,
				CacheTTL:  cfg.Credentials.CacheTTL(),
				Logger:    logger,
			})
			if err != nil {
				return nil, err
			}
			chain = append(chain, src)
		default:
			return nil, fmt.Errorf("unknown credential source %q", name)
		}
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

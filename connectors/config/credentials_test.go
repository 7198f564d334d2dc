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
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeSecrets struct {
	mu      sync.Mutex
	values  map[string]*string
	err     error
	calls   int
	lastIDs []string
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastIDs = append(f.lastIDs, aws.ToString(in.SecretId))
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException: secret not found")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: v}, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestMaskARN(t *testing.T) {
	tests := []struct {
		name string
		arn  string
		want string
	}{
		{"full ARN", "arn:aws:secretsmanager:us-east-1:123456789012:secret:my-secret-abc123", "...t-abc123"},
		{"short string", "short", "***"},
		{"exact 12 chars", "123456789012", "***"},
		{"13 chars", "1234567890123", "...67890123"},
		{"empty string", "", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskARN(tt.arn); got != tt.want {
				t.Errorf("maskARN(%q) = %q, want %q", tt.arn, got, tt.want)
			}
		})
	}
}

func TestMissingCredentialsError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&MissingCredentialsError{Provider: "gemini", Source: SourceEnv, Cause: cause})

	if !errors.Is(err, ErrMissingCredentials) {
		t.Error("expected errors.Is to match ErrMissingCredentials")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
	if got := err.Error(); got != "no credentials for provider gemini in env: boom" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(map[string]ProviderConfig{
		ProviderAnthropic: {Enabled: true, APIKey: "sk-static"},
		ProviderGemini:    {Enabled: true},
	})

	key, err := src.APIKey(context.Background(), ProviderAnthropic)
	if err != nil || key != "sk-static" {
		t.Errorf("APIKey = %q, %v", key, err)
	}
	if _, err := src.APIKey(context.Background(), ProviderGemini); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected missing credentials, got %v", err)
	}
}

func TestEnvSource(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", " sk-env ")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("MISTRAL_API_KEY", "")

	src := NewEnvSource()
	ctx := context.Background()

	if key, err := src.APIKey(ctx, ProviderAnthropic); err != nil || key != "sk-env" {
		t.Errorf("anthropic: %q, %v", key, err)
	}
	if key, err := src.APIKey(ctx, ProviderGemini); err != nil || key != "g-key" {
		t.Errorf("gemini should fall back to GOOGLE_API_KEY: %q, %v", key, err)
	}

	_, err := src.APIKey(ctx, "mistral")
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
	if !strings.Contains(err.Error(), "MISTRAL_API_KEY") {
		t.Errorf("error should name the variable: %v", err)
	}
}

func TestChainSource(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	ctx := context.Background()

	chain := ChainSource{StaticSource{ProviderGemini: "g-static"}, NewEnvSource()}

	if key, _ := chain.APIKey(ctx, ProviderGemini); key != "g-static" {
		t.Errorf("first source should win, got %q", key)
	}
	if key, _ := chain.APIKey(ctx, ProviderAnthropic); key != "sk-env" {
		t.Errorf("second source should be consulted, got %q", key)
	}

	_, err := chain.APIKey(ctx, "bedrock")
	var mce *MissingCredentialsError
	if !errors.As(err, &mce) || mce.Source != "chain" {
		t.Fatalf("expected chain MissingCredentialsError, got %v", err)
	}
	if !strings.Contains(err.Error(), "BEDROCK_API_KEY") {
		t.Errorf("chain error should include each source's reason: %v", err)
	}
}

func TestAWSSecretsSource(t *testing.T) {
	arn := "arn:aws:secretsmanager:us-east-1:123456789012:secret:anthropic-Ab12Cd"
	client := &fakeSecrets{values: map[string]*string{
		arn:           aws.String(`{"api_key":"sk-from-aws"}`),
		"gemini-raw":  aws.String("g-raw-key"),
		"bedrock-odd": aws.String(`{"username":"x"}`),
	}}
	src := NewAWSSecretsSourceWithClient(client, AWSSecretsOptions{
		SecretIDs: map[string]string{
			ProviderAnthropic: arn,
			ProviderGemini:    "gemini-raw",
			ProviderBedrock:   "bedrock-odd",
		},
		CacheTTL: time.Minute,
		Logger:   quietLogger(),
	})
	ctx := context.Background()

	t.Run("json secret", func(t *testing.T) {
		key, err := src.APIKey(ctx, ProviderAnthropic)
		if err != nil || key != "sk-from-aws" {
			t.Errorf("APIKey = %q, %v", key, err)
		}
	})

	t.Run("plain secret", func(t *testing.T) {
		key, err := src.APIKey(ctx, ProviderGemini)
		if err != nil || key != "g-raw-key" {
			t.Errorf("APIKey = %q, %v", key, err)
		}
	})

	t.Run("secret without key field", func(t *testing.T) {
		if _, err := src.APIKey(ctx, ProviderBedrock); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("expected missing credentials, got %v", err)
		}
	})

	t.Run("unmapped provider", func(t *testing.T) {
		if _, err := src.APIKey(ctx, "mistral"); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("expected missing credentials, got %v", err)
		}
	})
}

func TestAWSSecretsSourceCaching(t *testing.T) {
	client := &fakeSecrets{values: map[string]*string{"s1": aws.String(`{"api_key":"v1"}`)}}
	src := NewAWSSecretsSourceWithClient(client, AWSSecretsOptions{
		SecretIDs: map[string]string{ProviderAnthropic: "s1"},
		CacheTTL:  time.Minute,
		Logger:    quietLogger(),
	})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	src.cache.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := src.APIKey(ctx, ProviderAnthropic); err != nil {
			t.Fatalf("APIKey failed: %v", err)
		}
	}
	if client.calls != 1 {
		t.Errorf("expected 1 fetch while cached, got %d", client.calls)
	}
	if stats := src.CacheStats(); stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	// Rotated secret is seen after expiry.
	client.values["s1"] = aws.String(`{"api_key":"v2"}`)
	now = now.Add(time.Minute)
	key, _ := src.APIKey(ctx, ProviderAnthropic)
	if key != "v2" || client.calls != 2 {
		t.Errorf("expected refetch after TTL, key=%q calls=%d", key, client.calls)
	}

	src.InvalidateSecret("s1")
	if _, err := src.APIKey(ctx, ProviderAnthropic); err != nil {
		t.Fatalf("APIKey failed: %v", err)
	}
	if client.calls != 3 {
		t.Errorf("expected refetch after invalidation, calls=%d", client.calls)
	}

	src.InvalidateAll()
	if stats := src.CacheStats(); stats.Evictions != 2 {
		t.Errorf("Evictions = %d, want 2", stats.Evictions)
	}
}

func TestAWSSecretsSourceErrors(t *testing.T) {
	client := &fakeSecrets{err: errors.New("AccessDeniedException")}
	src := NewAWSSecretsSourceWithClient(client, AWSSecretsOptions{
		SecretIDs: map[string]string{ProviderAnthropic: "arn:aws:secretsmanager:us-east-1:1:secret:key-abcdef"},
		Logger:    quietLogger(),
	})

	_, err := src.APIKey(context.Background(), ProviderAnthropic)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
	if strings.Contains(err.Error(), "123456789012") || !strings.Contains(err.Error(), "...y-abcdef") {
		t.Errorf("error should carry the masked ARN only: %v", err)
	}

	client.err = nil
	client.values = map[string]*string{"binary": nil}
	src = NewAWSSecretsSourceWithClient(client, AWSSecretsOptions{
		SecretIDs: map[string]string{ProviderGemini: "binary"},
		Logger:    quietLogger(),
	})
	if _, err := src.APIKey(context.Background(), ProviderGemini); err == nil || !strings.Contains(err.Error(), "no string value") {
		t.Errorf("expected no string value error, got %v", err)
	}
}

func TestNewCredentialSource(t *testing.T) {
	cfg := Default()
	cfg.Providers[ProviderAnthropic] = ProviderConfig{Enabled: true, APIKey: "sk-file"}

	src, err := NewCredentialSource(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewCredentialSource failed: %v", err)
	}
	if _, ok := src.(ChainSource); !ok {
		t.Fatalf("expected a chain for two sources, got %T", src)
	}
	if key, _ := src.APIKey(context.Background(), ProviderAnthropic); key != "sk-file" {
		t.Errorf("static key should win, got %q", key)
	}

	cfg.Credentials.Sources = []string{SourceEnv}
	src, err = NewCredentialSource(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewCredentialSource failed: %v", err)
	}
	if _, ok := src.(*EnvSource); !ok {
		t.Errorf("expected a bare EnvSource, got %T", src)
	}

	cfg.Credentials.Sources = []string{"vault"}
	if _, err := NewCredentialSource(context.Background(), cfg, quietLogger()); err == nil {
		t.Error("expected error for unknown source")
	}
}

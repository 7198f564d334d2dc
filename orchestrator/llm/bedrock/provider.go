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

// Package bedrock provides an optional capable-tier provider that reaches
// Claude through AWS Bedrock, authenticated with SigV4 via the AWS SDK.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"canvasflow/platform/orchestrator/llm"
	"canvasflow/platform/orchestrator/llm/anthropic"
)

const (
	// ProviderName identifies this provider in breakers, limiters and telemetry.
	ProviderName = "bedrock"

	// DefaultRegion is used when no region is configured.
	DefaultRegion = "us-east-1"

	// DefaultModel is the Bedrock model ID for Claude 3.5 Sonnet.
	DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	// AnthropicVersion is the body version Bedrock expects for Claude models.
	AnthropicVersion = "bedrock-2023-05-31"

	DefaultTimeout        = 20 * time.Second
	DefaultMaxTokens      = 4096
	DefaultAverageLatency = 3 * time.Second
)

// InvokeModelAPI is the subset of the Bedrock runtime client the provider
// uses (enables testing).
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config contains configuration for the Bedrock provider.
type Config struct {
	Region         string
	Model          string
	Timeout        time.Duration
	MaxTokens      int
	AverageLatency time.Duration

	// Static credentials; when empty the default AWS credential chain
	// (env, shared config, IAM role) is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Provider implements llm.Provider for Claude on AWS Bedrock.
type Provider struct {
	client         InvokeModelAPI
	credentials    aws.CredentialsProvider
	region         string
	model          string
	timeout        time.Duration
	maxTokens      int
	averageLatency time.Duration
	logger         *log.Logger
}

func (cfg *Config) withDefaults() {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.AverageLatency == 0 {
		cfg.AverageLatency = DefaultAverageLatency
	}
}

// NewProvider loads the AWS configuration for cfg.Region and creates a
// Bedrock runtime client.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	cfg.withDefaults()

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", cfg.Region, err)
	}

	p := NewProviderWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg)
	p.credentials = awsCfg.Credentials
	p.logger.Printf("Initialized Bedrock provider (region: %s, model: %s)", cfg.Region, cfg.Model)
	return p, nil
}

// NewProviderWithClient creates a provider around an existing client.
func NewProviderWithClient(client InvokeModelAPI, cfg Config) *Provider {
	cfg.withDefaults()
	return &Provider{
		client:         client,
		region:         cfg.Region,
		model:          cfg.Model,
		timeout:        cfg.Timeout,
		maxTokens:      cfg.MaxTokens,
		averageLatency: cfg.AverageLatency,
		logger:         log.New(os.Stdout, "[Bedrock] ", log.LstdFlags),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderName
}

// AverageLatency returns the static latency descriptor.
func (p *Provider) AverageLatency() time.Duration {
	return p.averageLatency
}

// MaxOutputTokens returns the configured output cap.
func (p *Provider) MaxOutputTokens() int {
	return p.maxTokens
}

// Call invokes the model with the Messages body and parses tool_use blocks.
func (p *Provider) Call(ctx context.Context, command string, tools []llm.ToolSchema, opts llm.CallOptions) (*llm.CallResult, error) {
	start := time.Now()

	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	req := anthropic.NewMessagesRequest(command, tools, opts, p.maxTokens)
	req.AnthropicVersion = AnthropicVersion

	body, err := p.invoke(ctx, model, req)
	if err != nil {
		return nil, err
	}

	result, err := anthropic.ParseMessagesResponse(ProviderName, body)
	if err != nil {
		return nil, err
	}
	if result.Model == "" {
		result.Model = model
	}
	result.Latency = time.Since(start)
	return result, nil
}

// Probe invokes the model with a one-token request.
func (p *Provider) Probe(ctx context.Context) error {
	_, err := p.invoke(ctx, p.model, anthropic.MessagesRequest{
		AnthropicVersion: AnthropicVersion,
		MaxTokens:        1,
		Messages:         []anthropic.Message{{Role: "user", Content: "ping"}},
	})
	return err
}

func (p *Provider) invoke(ctx context.Context, model string, req anthropic.MessagesRequest) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.credentials != nil {
		if _, err := p.credentials.Retrieve(ctx); err != nil {
			pe := llm.NewMissingCredentialsError(ProviderName)
			pe.Cause = err
			return nil, pe
		}
	}

	requestJSON, err := json.Marshal(req)
	if err != nil {
		return nil, llm.NewRequestFailedError(ProviderName, fmt.Errorf("failed to marshal request: %w", err))
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return output.Body, nil
}

// mapError converts SDK errors: responses from the service become
// http_error, everything else request_failed.
func mapError(err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		msg := respErr.Err
		body := ""
		if msg != nil {
			body = msg.Error()
		}
		pe := llm.NewHTTPError(ProviderName, respErr.HTTPStatusCode(), []byte(body))
		pe.Cause = err
		return pe
	}
	return llm.NewRequestFailedError(ProviderName, err)
}

var _ llm.Provider = (*Provider)(nil)

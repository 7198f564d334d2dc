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

package ratelimit

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisLimiter is a sliding-window limiter shared by every orchestrator
// instance. Each provider has a sorted set of call timestamps (milliseconds)
// under "ratelimit:provider:{name}".
type RedisLimiter struct {
	client   *redis.Client
	config   Config
	now      func() time.Time
	fallback *MemoryLimiter
	logger   *log.Logger
}

// NewRedisLimiter creates a Redis-backed limiter. A nil client degrades to an
// in-memory window so a missing Redis never disables rate limiting outright.
func NewRedisLimiter(client *redis.Client, config Config) *RedisLimiter {
	config = config.withDefaults()
	return &RedisLimiter{
		client:   client,
		config:   config,
		now:      time.Now,
		fallback: NewMemoryLimiter(config),
		logger:   log.New(os.Stdout, "[RATE_LIMIT] ", log.LstdFlags),
	}
}

// Connect parses a redis:// URL and verifies the connection.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// SetClock replaces time.Now; used by tests.
func (l *RedisLimiter) SetClock(now func() time.Time) {
	l.now = now
	l.fallback.SetClock(now)
}

// Config returns the limiter configuration.
func (l *RedisLimiter) Config() Config {
	return l.config
}

func key(provider string) string {
	return "ratelimit:provider:" + provider
}

// Check implements Limiter.
func (l *RedisLimiter) Check(ctx context.Context, provider string) error {
	if l.client == nil {
		return l.fallback.Check(ctx, provider)
	}

	now := l.now()
	k := key(provider)
	cutoff := now.Add(-l.config.Window).UnixMilli()

	member := uuid.NewString()

	// Prune, record this call and count in one MULTI/EXEC so concurrent
	// callers each see a distinct count
	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, k, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: member,
	})
	card := pipe.ZCard(ctx, k)
	pipe.Expire(ctx, k, 2*l.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		// On Redis error, fail open (allow request) and log
		l.logger.Printf("Warning: rate limit check failed for %s: %v (failing open)", provider, err)
		return nil
	}

	if card.Val() <= int64(l.config.MaxRequests) {
		return nil
	}

	// Over the limit: a rejected call does not consume budget
	if err := l.client.ZRem(ctx, k, member).Err(); err != nil {
		l.logger.Printf("Warning: failed to release rejected call for %s: %v", provider, err)
	}

	retryAfter := l.config.Window
	oldest, err := l.client.ZRangeWithScores(ctx, k, 0, 0).Result()
	if err == nil && len(oldest) == 1 {
		oldestAt := time.UnixMilli(int64(oldest[0].Score))
		retryAfter = oldestAt.Add(l.config.Window).Sub(now)
	}
	return &RejectedError{
		Provider:   provider,
		Limit:      l.config.MaxRequests,
		Window:     l.config.Window,
		RetryAfter: retryAfter,
	}
}

// Count implements Limiter.
func (l *RedisLimiter) Count(ctx context.Context, provider string) (int, error) {
	if l.client == nil {
		return l.fallback.Count(ctx, provider)
	}

	cutoff := l.now().Add(-l.config.Window).UnixMilli()
	count, err := l.client.ZCount(ctx, key(provider), "("+strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limit count: %w", err)
	}
	return int(count), nil
}

// Flush removes all recorded calls for a provider.
func (l *RedisLimiter) Flush(ctx context.Context, provider string) error {
	if l.client == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := l.client.Del(ctx, key(provider)).Err(); err != nil {
		return fmt.Errorf("failed to flush rate limit data: %w", err)
	}
	return nil
}

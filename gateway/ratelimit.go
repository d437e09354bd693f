// Copyright 2025 AxonFlow
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

package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"sentinel/gateway/shared/logger"
)

// ErrRateLimited is returned when a session exceeds its per-minute budget.
var ErrRateLimited = fmt.Errorf("rate limit exceeded")

// RateLimiter throttles validation requests per session with a one-minute
// sliding window. Redis gives distributed counting across gateway replicas;
// without Redis (or on Redis failure) it degrades to a per-process
// in-memory window rather than rejecting traffic.
type RateLimiter struct {
	perMinute int
	client    *redis.Client
	log       *logger.Logger

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewRateLimiter creates a limiter. redisURL may be empty for in-memory
// only operation.
func NewRateLimiter(perMinute int, redisURL string) (*RateLimiter, error) {
	rl := &RateLimiter{
		perMinute: perMinute,
		log:       logger.New("ratelimit"),
		windows:   make(map[string][]time.Time),
	}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rl.client = client
	}

	return rl, nil
}

// NewRateLimiterWithClient creates a limiter over an existing Redis client.
// Used by tests.
func NewRateLimiterWithClient(perMinute int, client *redis.Client) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		client:    client,
		log:       logger.New("ratelimit"),
		windows:   make(map[string][]time.Time),
	}
}

// Allow reports whether sessionID may make another request now. Returns
// ErrRateLimited when over budget; infrastructure failures fail open.
func (rl *RateLimiter) Allow(ctx context.Context, sessionID string) error {
	if rl.client == nil {
		return rl.allowInMemory(sessionID)
	}

	now := time.Now()
	key := fmt.Sprintf("ratelimit:%s", sessionID)

	pipe := rl.client.Pipeline()
	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// Redis outage must not take the gateway down with it.
		rl.log.Warn(sessionID, "", "redis rate limit check failed, falling back to in-memory", map[string]interface{}{
			"error": err.Error(),
		})
		return rl.allowInMemory(sessionID)
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count >= int64(rl.perMinute) {
		return fmt.Errorf("%w: %d requests/minute (limit %d)", ErrRateLimited, count+1, rl.perMinute)
	}
	return nil
}

// allowInMemory applies the sliding window against process-local state.
func (rl *RateLimiter) allowInMemory(sessionID string) error {
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := rl.windows[sessionID]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.perMinute {
		rl.windows[sessionID] = kept
		return fmt.Errorf("%w: %d requests/minute (limit %d)", ErrRateLimited, len(kept)+1, rl.perMinute)
	}

	rl.windows[sessionID] = append(kept, now)
	return nil
}

// Close releases the Redis client if one is held.
func (rl *RateLimiter) Close() error {
	if rl.client != nil {
		return rl.client.Close()
	}
	return nil
}

/*
 * Lingualink
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"

	"github.com/gravitational/lingualink"
)

// redisProbeTimeout bounds the reachability ping.
const redisProbeTimeout = 2 * time.Second

// RedisCacheConfig configures the redis verification cache.
type RedisCacheConfig struct {
	// Addr is the host:port of the redis server.
	Addr string
	// Password is optional.
	Password string
	// DB selects the redis logical database.
	DB int
	// TTL bounds staleness of cached verifications.
	TTL time.Duration
	// Logger emits cache diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *RedisCacheConfig) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing redis address")
	}
	if c.TTL <= 0 {
		return trace.BadParameter("cache TTL must be positive, got %v", c.TTL)
	}
	if c.Logger == nil {
		c.Logger = slog.With(lingualink.ComponentKey, lingualink.ComponentAuth)
	}
	return nil
}

// redisCache stores verification entries in redis so multiple gateway
// instances share one cache and one invalidation.
type redisCache struct {
	cfg    RedisCacheConfig
	client *redis.Client
}

// NewRedisCache connects to redis and verifies reachability once. Callers
// degrade to direct store verification when this fails.
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (KeyCache, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisProbeTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, trace.ConnectionProblem(err, "redis at %v is not reachable", cfg.Addr)
	}
	return &redisCache{cfg: cfg, client: client}, nil
}

func (c *redisCache) Get(ctx context.Context, secret string) (*Entry, bool) {
	data, err := c.client.Get(ctx, cacheKey(secret)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.cfg.Logger.DebugContext(ctx, "Cache probe failed.", "error", err)
		}
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// drop undecodable entries so they stop serving
		c.client.Del(ctx, cacheKey(secret))
		return nil, false
	}
	return &e, true
}

func (c *redisCache) Put(ctx context.Context, secret string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(c.client.Set(ctx, cacheKey(secret), data, c.cfg.TTL).Err())
}

func (c *redisCache) Invalidate(ctx context.Context, secret string) error {
	return trace.Wrap(c.client.Del(ctx, cacheKey(secret)).Err())
}

func (c *redisCache) Clear(ctx context.Context) (int, error) {
	keys, err := c.scanKeys(ctx)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return 0, trace.Wrap(err)
	}
	return len(keys), nil
}

func (c *redisCache) Count(ctx context.Context) (int, error) {
	keys, err := c.scanKeys(ctx)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return len(keys), nil
}

// scanKeys walks the keyspace with SCAN so large caches do not block the
// server the way KEYS would.
func (c *redisCache) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	return keys, nil
}

func (c *redisCache) Healthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, redisProbeTimeout)
	defer cancel()
	return c.client.Ping(pingCtx).Err() == nil
}

func (c *redisCache) Close() error {
	return trace.Wrap(c.client.Close())
}

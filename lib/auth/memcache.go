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
	"time"

	"github.com/gravitational/trace"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gravitational/lingualink/lib/defaults"
)

// memoryCache is the in-process verification cache for single-instance
// deployments that do not run redis. Entries expire after the TTL; the LRU
// bound keeps a credential scan from growing the cache without limit.
type memoryCache struct {
	lru *expirable.LRU[string, Entry]
}

// NewMemoryCache returns an in-process cache with the given TTL. A
// non-positive size falls back to the default bound.
func NewMemoryCache(ttl time.Duration, size int) (KeyCache, error) {
	if ttl <= 0 {
		return nil, trace.BadParameter("cache TTL must be positive, got %v", ttl)
	}
	if size <= 0 {
		size = defaults.CacheMemoryEntries
	}
	return &memoryCache{
		lru: expirable.NewLRU[string, Entry](size, nil, ttl),
	}, nil
}

func (c *memoryCache) Get(_ context.Context, secret string) (*Entry, bool) {
	e, ok := c.lru.Get(cacheKey(secret))
	if !ok {
		return nil, false
	}
	return &e, true
}

func (c *memoryCache) Put(_ context.Context, secret string, e Entry) error {
	c.lru.Add(cacheKey(secret), e)
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, secret string) error {
	c.lru.Remove(cacheKey(secret))
	return nil
}

func (c *memoryCache) Clear(context.Context) (int, error) {
	n := c.lru.Len()
	c.lru.Purge()
	return n, nil
}

func (c *memoryCache) Count(context.Context) (int, error) {
	return c.lru.Len(), nil
}

func (c *memoryCache) Healthy(context.Context) bool { return true }

func (c *memoryCache) Close() error { return nil }

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
)

// cacheKeyPrefix namespaces verification entries in the shared cache.
const cacheKeyPrefix = "api_key_auth:"

// cacheKeyChars is how much of the secret identifies its cache entry. The
// full secret never reaches the cache; a prefix collision only means the
// collided caller gets re-verified at the next TTL boundary.
const cacheKeyChars = 16

func cacheKey(secret string) string {
	if len(secret) > cacheKeyChars {
		secret = secret[:cacheKeyChars]
	}
	return cacheKeyPrefix + secret
}

// Entry is one cached verification result. Only positive results are ever
// stored: negative lookups always hit the store so the cache cannot be used
// as a dictionary oracle.
type Entry struct {
	Valid    bool      `json:"valid"`
	Admin    bool      `json:"admin"`
	CachedAt time.Time `json:"cached_at"`
}

// KeyCache is the verification cache in front of the store. Implementations
// must be safe for concurrent use.
type KeyCache interface {
	// Get returns the entry for the secret, if present and fresh.
	Get(ctx context.Context, secret string) (*Entry, bool)
	// Put stores a positive entry under the secret's cache key.
	Put(ctx context.Context, secret string, e Entry) error
	// Invalidate drops the entry for the secret.
	Invalidate(ctx context.Context, secret string) error
	// Clear drops every verification entry and reports how many.
	Clear(ctx context.Context) (int, error)
	// Count reports the number of verification entries held.
	Count(ctx context.Context) (int, error)
	// Healthy reports cache reachability, promptly.
	Healthy(ctx context.Context) bool
	// Close releases the cache connection.
	Close() error
}

// CacheStats is the operator view of the cache, served by the web layer.
type CacheStats struct {
	// Enabled is false when the verifier runs directly against the store.
	Enabled bool `json:"enabled"`
	// Backend names the implementation: redis, memory or disabled.
	Backend string `json:"backend"`
	// Entries is the number of cached verifications.
	Entries int `json:"entries"`
	// Hits and Misses count cache probes since process start.
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	// TTLSeconds bounds entry staleness.
	TTLSeconds int `json:"ttl_seconds"`
}

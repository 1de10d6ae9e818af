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
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/lingualink"
	"github.com/gravitational/lingualink/lib/utils"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lingualink_auth_cache_hits_total",
		Help: "Credential verifications served from the cache.",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lingualink_auth_cache_misses_total",
		Help: "Credential verifications that fell through to the store.",
	})
	verificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingualink_auth_verifications_total",
		Help: "Credential verification outcomes.",
	}, []string{"result"})
)

// usageBumpTimeout bounds the asynchronous usage update on cache hits.
const usageBumpTimeout = 5 * time.Second

// Identity describes the verified principal attached to a request by the
// web layer.
type Identity struct {
	// KeyPrefix is the non-sensitive prefix of the presented secret.
	KeyPrefix string
	// Admin grants the operator endpoints.
	Admin bool
	// Anonymous marks requests admitted while credential checks are
	// disabled by configuration.
	Anonymous bool
}

// VerifierConfig configures the credential verifier.
type VerifierConfig struct {
	// Store is the authoritative credential store.
	Store *Store
	// Cache sits in front of the store. Nil runs without caching.
	Cache KeyCache
	// CacheBackend names the cache implementation for the stats surface.
	CacheBackend string
	// CacheTTL is reported in stats; the cache itself owns enforcement.
	CacheTTL time.Duration
	// Disabled turns credential checks off: every verification succeeds
	// without a principal.
	Disabled bool
	// Clock stamps cache entries.
	Clock clockwork.Clock
	// Logger emits verifier diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *VerifierConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing credential store")
	}
	if c.CacheBackend == "" {
		c.CacheBackend = "disabled"
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(lingualink.ComponentKey, lingualink.ComponentAuth)
	}
	return nil
}

// Verifier answers "is this secret valid and is it an admin" on the request
// hot path. Reads go through the cache when one is configured; every
// credential mutation synchronously invalidates the secret's cache entry
// before reporting success.
type Verifier struct {
	cfg    VerifierConfig
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewVerifier returns a verifier over the given store and optional cache.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(cacheHits, cacheMisses, verificationsTotal); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Verifier{cfg: cfg}, nil
}

// Disabled reports whether credential checks are globally off.
func (v *Verifier) Disabled() bool { return v.cfg.Disabled }

// Verify checks the secret. A cache hit schedules a best-effort usage bump
// and returns immediately; a miss verifies against the store and caches
// positive results only.
func (v *Verifier) Verify(ctx context.Context, secret string) (valid bool, admin bool, err error) {
	if v.cfg.Disabled {
		return true, false, nil
	}
	if secret == "" {
		verificationsTotal.WithLabelValues("invalid").Inc()
		return false, false, nil
	}

	if v.cfg.Cache != nil {
		if e, ok := v.cfg.Cache.Get(ctx, secret); ok && e.Valid {
			v.hits.Add(1)
			cacheHits.Inc()
			verificationsTotal.WithLabelValues("valid").Inc()
			go v.bumpUsage(secret)
			return e.Valid, e.Admin, nil
		}
		v.misses.Add(1)
		cacheMisses.Inc()
	}

	valid, admin, err = v.cfg.Store.VerifyKey(ctx, secret)
	if err != nil {
		return false, false, trace.Wrap(err)
	}
	if valid && v.cfg.Cache != nil {
		entry := Entry{Valid: true, Admin: admin, CachedAt: v.cfg.Clock.Now().UTC()}
		if err := v.cfg.Cache.Put(ctx, secret, entry); err != nil {
			v.cfg.Logger.WarnContext(ctx, "Failed to cache verification result.", "error", err)
		}
	}
	if valid {
		verificationsTotal.WithLabelValues("valid").Inc()
	} else {
		verificationsTotal.WithLabelValues("invalid").Inc()
	}
	return valid, admin, nil
}

// bumpUsage applies the cache-hit usage update off the request path. Losing
// one under a crash is acceptable; reordering within a key is not, and the
// store's single-statement update preserves that.
func (v *Verifier) bumpUsage(secret string) {
	ctx, cancel := context.WithTimeout(context.Background(), usageBumpTimeout)
	defer cancel()
	if err := v.cfg.Store.BumpUsage(ctx, secret); err != nil {
		v.cfg.Logger.DebugContext(ctx, "Failed to bump usage for cached credential.", "error", err)
	}
}

// CreateKey issues a new credential through the store. Nothing to
// invalidate: a fresh secret cannot be cached yet.
func (v *Verifier) CreateKey(ctx context.Context, req CreateKeyRequest) (*Key, error) {
	key, err := v.cfg.Store.CreateKey(ctx, req)
	return key, trace.Wrap(err)
}

// ListKeys lists credential records from the store.
func (v *Verifier) ListKeys(ctx context.Context, includeRevoked bool) ([]Key, error) {
	keys, err := v.cfg.Store.ListKeys(ctx, includeRevoked)
	return keys, trace.Wrap(err)
}

// Revoke clears the key's active flag and synchronously drops its cache
// entry. The first return reports whether the record exists.
func (v *Verifier) Revoke(ctx context.Context, secret string) (bool, error) {
	found, err := v.cfg.Store.RevokeKey(ctx, secret)
	if err != nil {
		return false, trace.Wrap(err)
	}
	if err := v.invalidate(ctx, secret); err != nil {
		return false, trace.Wrap(err)
	}
	return found, nil
}

// SetAdmin flips the admin flag and synchronously drops the cache entry.
func (v *Verifier) SetAdmin(ctx context.Context, secret string, admin bool) (bool, error) {
	found, err := v.cfg.Store.SetAdmin(ctx, secret, admin)
	if err != nil {
		return false, trace.Wrap(err)
	}
	if err := v.invalidate(ctx, secret); err != nil {
		return false, trace.Wrap(err)
	}
	return found, nil
}

// UpdateDescription replaces the description. The cache entry is dropped
// too, keeping mutation semantics uniform.
func (v *Verifier) UpdateDescription(ctx context.Context, secret, description string) (bool, error) {
	found, err := v.cfg.Store.UpdateDescription(ctx, secret, description)
	if err != nil {
		return false, trace.Wrap(err)
	}
	if err := v.invalidate(ctx, secret); err != nil {
		return false, trace.Wrap(err)
	}
	return found, nil
}

func (v *Verifier) invalidate(ctx context.Context, secret string) error {
	if v.cfg.Cache == nil {
		return nil
	}
	return trace.Wrap(v.cfg.Cache.Invalidate(ctx, secret))
}

// InvalidateSecret drops the cache entry for one secret, for the operator
// cache API.
func (v *Verifier) InvalidateSecret(ctx context.Context, secret string) error {
	if v.cfg.Cache == nil {
		return trace.BadParameter("cache is disabled")
	}
	return trace.Wrap(v.cfg.Cache.Invalidate(ctx, secret))
}

// ClearCache drops every cached verification and reports how many.
func (v *Verifier) ClearCache(ctx context.Context) (int, error) {
	if v.cfg.Cache == nil {
		return 0, trace.BadParameter("cache is disabled")
	}
	n, err := v.cfg.Cache.Clear(ctx)
	return n, trace.Wrap(err)
}

// CacheStats returns the operator view of the cache.
func (v *Verifier) CacheStats(ctx context.Context) CacheStats {
	stats := CacheStats{
		Enabled:    v.cfg.Cache != nil,
		Backend:    v.cfg.CacheBackend,
		Hits:       v.hits.Load(),
		Misses:     v.misses.Load(),
		TTLSeconds: int(v.cfg.CacheTTL / time.Second),
	}
	if v.cfg.Cache != nil {
		if n, err := v.cfg.Cache.Count(ctx); err == nil {
			stats.Entries = n
		}
	}
	return stats
}

// CacheHealthy reports cache reachability. A disabled cache is not healthy,
// it is absent; callers surface that difference.
func (v *Verifier) CacheHealthy(ctx context.Context) bool {
	if v.cfg.Cache == nil {
		return false
	}
	return v.cfg.Cache.Healthy(ctx)
}

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

// Package service assembles the gateway from its parts and runs it: the
// credential store and cache, the backend pool with its prober, the audio
// normalizer, the dispatcher and the HTTP server, with ordered shutdown.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/lingualink"
	"github.com/gravitational/lingualink/lib/audio"
	"github.com/gravitational/lingualink/lib/auth"
	"github.com/gravitational/lingualink/lib/balancer"
	"github.com/gravitational/lingualink/lib/config"
	"github.com/gravitational/lingualink/lib/defaults"
	"github.com/gravitational/lingualink/lib/inference"
	"github.com/gravitational/lingualink/lib/web"
)

// Run starts the gateway and blocks until ctx is canceled or the listener
// fails. Cancellation triggers graceful shutdown: the prober stops, in-flight
// requests get the drain window, then the store closes.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := slog.With(lingualink.ComponentKey, lingualink.ComponentService)
	clock := clockwork.NewRealClock()

	store, err := auth.NewStore(auth.StoreConfig{Path: cfg.Auth.StorePath, Clock: clock})
	if err != nil {
		return trace.Wrap(err)
	}
	defer store.Close()

	cache, cacheBackend := buildCache(ctx, cfg, logger)
	if cache != nil {
		defer cache.Close()
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Store:        store,
		Cache:        cache,
		CacheBackend: cacheBackend,
		CacheTTL:     cfg.Auth.Cache.TTL(),
		Disabled:     !*cfg.Auth.Enabled,
		Clock:        clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if verifier.Disabled() {
		logger.WarnContext(ctx, "Credential verification is disabled, every request is admitted.")
	}

	registry, err := balancer.NewRegistry(balancer.RegistryConfig{
		Strategy: balancer.Strategy(cfg.Pool.Strategy),
		Clock:    clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	for _, b := range cfg.Backends() {
		if err := registry.Add(balancer.Config{
			Name:           b.Name,
			URL:            b.URL,
			Model:          b.Model,
			APIKey:         b.APIKey,
			Weight:         b.Weight,
			MaxConnections: b.MaxConnections,
			Timeout:        b.Timeout.Duration(),
			Priority:       b.Priority,
			Tags:           b.Tags,
		}); err != nil {
			return trace.Wrap(err)
		}
	}

	prober, err := balancer.NewProber(balancer.ProberConfig{
		Registry:         registry,
		Interval:         cfg.Pool.HealthCheckInterval.Duration(),
		FailureThreshold: cfg.Pool.FailureThreshold,
		Clock:            clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if cfg.PoolMode() {
		prober.Start()
	}
	defer prober.Stop()

	normalizer, err := audio.NewNormalizer(audio.NormalizerConfig{
		Slots:      cfg.Audio.Slots,
		Workers:    cfg.Audio.Workers,
		Dir:        cfg.Upload.TempDir,
		FFmpegPath: cfg.Audio.FFmpegPath,
		Formats:    cfg.Upload.AllowedFormats,
		Clock:      clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer normalizer.Close()

	// outside pool mode every request targets the conventional single
	// backend directly, health state notwithstanding
	singleBackend := ""
	if !cfg.PoolMode() {
		singleBackend = defaults.SingleBackendName
	}
	dispatcher, err := inference.NewService(inference.ServiceConfig{
		Registry:           registry,
		Normalizer:         normalizer,
		SingleBackend:      singleBackend,
		MaxRetries:         *cfg.Pool.MaxRetries,
		MaxTokens:          cfg.Inference.MaxTokens,
		Temperature:        cfg.Inference.Temperature,
		DefaultQuery:       cfg.Inference.DefaultQuery,
		DefaultTargetLangs: cfg.Inference.TargetLanguages,
		RequestTimeout:     cfg.Inference.RequestTimeout.Duration(),
		Clock:              clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	handler, err := web.NewHandler(web.Config{
		Verifier:   verifier,
		Registry:   registry,
		Prober:     prober,
		Normalizer: normalizer,
		Dispatcher: dispatcher,
		UploadCap:  cfg.Upload.MaxBytes,
		TempDir:    cfg.Upload.TempDir,
		Debug:      cfg.Debug,
		Clock:      clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	reapCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go reapExpired(reapCtx, store, clock, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}
	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe()
	}()
	logger.InfoContext(ctx, "Lingualink gateway is listening.",
		"addr", cfg.ListenAddr,
		"version", lingualink.Version,
		"backends", registry.Len(),
		"pool_mode", cfg.PoolMode(),
	)

	select {
	case err := <-errC:
		return trace.Wrap(err)
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "Shutting down.", "drain_timeout", defaults.ShutdownTimeout)
	prober.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return trace.Wrap(err)
	}
	return nil
}

// buildCache constructs the verification cache named by the configuration.
// An unreachable redis degrades to no cache rather than failing startup;
// verification then hits the store directly.
func buildCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.KeyCache, string) {
	if !*cfg.Auth.Enabled || !cfg.Auth.Cache.Enabled {
		return nil, "disabled"
	}
	switch cfg.Auth.Cache.Backend {
	case "memory":
		cache, err := auth.NewMemoryCache(cfg.Auth.Cache.TTL(), 0)
		if err != nil {
			logger.WarnContext(ctx, "Failed to build the memory cache, verification goes to the store directly.", "error", err)
			return nil, "disabled"
		}
		return cache, "memory"
	default:
		cache, err := auth.NewRedisCache(ctx, auth.RedisCacheConfig{
			Addr:     cfg.Auth.Cache.Addr,
			Password: cfg.Auth.Cache.Password,
			DB:       cfg.Auth.Cache.DB,
			TTL:      cfg.Auth.Cache.TTL(),
		})
		if err != nil {
			logger.WarnContext(ctx, "Redis is not reachable, verification goes to the store directly.",
				"addr", cfg.Auth.Cache.Addr, "error", err)
			return nil, "disabled"
		}
		return cache, "redis"
	}
}

// reapExpired periodically deactivates credentials whose expiry has passed.
func reapExpired(ctx context.Context, store *auth.Store, clock clockwork.Clock, logger *slog.Logger) {
	ticker := clock.NewTicker(defaults.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := store.CleanupExpired(ctx)
			if err != nil {
				logger.WarnContext(ctx, "Failed to reap expired credentials.", "error", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "Reaped expired credentials.", "count", n)
			}
		}
	}
}

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

package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/lingualink/lib/config"
)

// testConfig builds a minimal single-backend config; cacheYAML is spliced
// into the auth section.
func testConfig(t *testing.T, cacheYAML string) *config.Config {
	t.Helper()
	yaml := `
listen_addr: "127.0.0.1:0"
auth:
  store_path: ` + filepath.Join(t.TempDir(), "keys.db") + `
` + cacheYAML + `
llm:
  server_url: http://127.0.0.1:9/v1
  model: test-model
`
	cfg, err := config.ReadConfig(strings.NewReader(yaml))
	require.NoError(t, err)
	return cfg
}

func TestRunStartsAndShutsDown(t *testing.T) {
	cfg := testConfig(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	// let the listener come up, then ask for shutdown
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestBuildCacheMemory(t *testing.T) {
	cfg := testConfig(t, `
  cache:
    enabled: true
    backend: memory
`)
	require.Equal(t, "memory", cfg.Auth.Cache.Backend)

	cache, backend := buildCache(context.Background(), cfg, slog.Default())
	require.NotNil(t, cache)
	require.Equal(t, "memory", backend)
	cache.Close()
}

func TestBuildCacheRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := testConfig(t, `
  cache:
    enabled: true
    backend: redis
    addr: `+srv.Addr()+`
`)

	cache, backend := buildCache(context.Background(), cfg, slog.Default())
	require.NotNil(t, cache)
	require.Equal(t, "redis", backend)
	cache.Close()
}

func TestBuildCacheDegradesWithoutRedis(t *testing.T) {
	cfg := testConfig(t, `
  cache:
    enabled: true
    backend: redis
    addr: 127.0.0.1:1
`)

	cache, backend := buildCache(context.Background(), cfg, slog.Default())
	require.Nil(t, cache)
	require.Equal(t, "disabled", backend)
}

func TestBuildCacheDisabled(t *testing.T) {
	cfg := testConfig(t, "")
	cache, backend := buildCache(context.Background(), cfg, slog.Default())
	require.Nil(t, cache)
	require.Equal(t, "disabled", backend)
}

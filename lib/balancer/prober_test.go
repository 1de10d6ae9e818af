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

package balancer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// newTestProber wires a prober whose probe outcome is switched by ok.
func newTestProber(t *testing.T, r *Registry, ok *atomic.Bool, probes *atomic.Int64) *Prober {
	t.Helper()
	p, err := NewProber(ProberConfig{
		Registry: r,
		Probe: func(ctx context.Context, cfg Config) error {
			if probes != nil {
				probes.Add(1)
			}
			if ok.Load() {
				return nil
			}
			return trace.ConnectionProblem(nil, "connection refused")
		},
	})
	require.NoError(t, err)
	return p
}

func TestProberThresholdTransition(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyRoundRobin, "a")
	var ok atomic.Bool
	p := newTestProber(t, r, &ok, nil)
	ctx := context.Background()

	// two failures keep the backend healthy, the third crosses the
	// threshold
	for i := 1; i <= 2; i++ {
		status, err := p.CheckNow(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, StatusHealthy, status)
		require.Equal(t, i, snapshotOf(t, r, "a").Metrics.ConsecutiveFailures)
	}
	status, err := p.CheckNow(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, StatusUnhealthy, status)

	m := snapshotOf(t, r, "a").Metrics
	require.Equal(t, 3, m.ConsecutiveFailures)
	require.Contains(t, m.LastError, "connection refused")
	require.NotNil(t, m.LastCheck)

	// one success brings it back and resets the counter
	ok.Store(true)
	status, err = p.CheckNow(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, StatusHealthy, status)
	require.Equal(t, 0, snapshotOf(t, r, "a").Metrics.ConsecutiveFailures)
	require.Empty(t, snapshotOf(t, r, "a").Metrics.LastError)
}

func TestProberDisabledBackendStaysDisabled(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyRoundRobin, "a")
	var ok atomic.Bool
	ok.Store(true)
	p := newTestProber(t, r, &ok, nil)

	require.NoError(t, r.Disable("a"))
	status, err := p.CheckNow(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, StatusDisabled, status)

	// failures are still recorded on disabled backends
	ok.Store(false)
	status, err = p.CheckNow(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, StatusDisabled, status)
	require.Contains(t, snapshotOf(t, r, "a").Metrics.LastError, "connection refused")
}

func TestProberCheckNowUnknownBackend(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyRoundRobin)
	var ok atomic.Bool
	p := newTestProber(t, r, &ok, nil)

	_, err := p.CheckNow(context.Background(), "ghost")
	require.True(t, trace.IsNotFound(err))
}

func TestProberLoop(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyRoundRobin, "a", "b")
	clock := clockwork.NewFakeClock()
	var probes atomic.Int64

	p, err := NewProber(ProberConfig{
		Registry: r,
		Interval: 30 * time.Second,
		Clock:    clock,
		Probe: func(ctx context.Context, cfg Config) error {
			probes.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	p.Start()
	p.Start() // idempotent
	require.True(t, p.Running())

	clock.BlockUntilContext(context.Background(), 1)
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return probes.Load() == 2
	}, 5*time.Second, 10*time.Millisecond, "one sweep probes every backend")

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return probes.Load() == 4
	}, 5*time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop() // idempotent
	require.False(t, p.Running())
}

func TestProbeModelsContract(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	healthy := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if healthy.Load() {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := Config{Name: "a", URL: srv.URL + "/v1", Model: "m", APIKey: "sk-upstream"}
	require.NoError(t, cfg.CheckAndSetDefaults())

	err := probeModels(context.Background(), cfg)
	require.Error(t, err)

	healthy.Store(true)
	require.NoError(t, probeModels(context.Background(), cfg))
	require.Equal(t, "/v1/models", gotPath)
	require.Equal(t, "Bearer sk-upstream", gotAuth)
}

func snapshotOf(t *testing.T, r *Registry, name string) BackendStatus {
	t.Helper()
	b, err := r.Get(name)
	require.NoError(t, err)
	return b.Snapshot()
}

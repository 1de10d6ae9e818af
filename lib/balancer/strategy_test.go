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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// selectName picks once and releases immediately, returning the name.
func selectName(t *testing.T, r *Registry, requestKey string) string {
	t.Helper()
	b, err := r.Select(requestKey)
	require.NoError(t, err)
	r.Release(b.Name())
	return b.Name()
}

func TestRoundRobinSequence(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyRoundRobin, "a", "b")

	var got []string
	for it := 0; it < 5; it++ {
		got = append(got, selectName(t, r, ""))
	}
	require.Equal(t, []string{"a", "b", "a", "b", "a"}, got)
}

func TestWeightedRoundRobinSequence(t *testing.T) {
	t.Parallel()
	r, err := NewRegistry(RegistryConfig{Strategy: StrategyWeightedRoundRobin})
	require.NoError(t, err)
	require.NoError(t, r.Add(Config{Name: "a", URL: "http://a:1", Model: "m", Weight: 2}))
	require.NoError(t, r.Add(Config{Name: "b", URL: "http://b:1", Model: "m", Weight: 1}))

	var got []string
	for it := 0; it < 6; it++ {
		got = append(got, selectName(t, r, ""))
	}
	require.Equal(t, []string{"a", "a", "b", "a", "a", "b"}, got)
}

func TestLeastConnections(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyLeastConnections, "a", "b")

	// hold a slot on a; b must win until it catches up
	held, err := r.Select("")
	require.NoError(t, err)
	require.Equal(t, "a", held.Name())

	next, err := r.Select("")
	require.NoError(t, err)
	require.Equal(t, "b", next.Name())

	// tie now; name order breaks it
	tied, err := r.Select("")
	require.NoError(t, err)
	require.Equal(t, "a", tied.Name())

	r.Release(held.Name())
	r.Release(next.Name())
	r.Release(tied.Name())
}

func TestRandomSingleCandidate(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyRandom, "only")

	for it := 0; it < 10; it++ {
		require.Equal(t, "only", selectName(t, r, ""))
	}
}

func TestResponseTime(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyResponseTime, "fast", "slow")

	// no samples yet: falls back to round robin over the healthy subset
	require.Equal(t, "fast", selectName(t, r, ""))
	require.Equal(t, "slow", selectName(t, r, ""))

	r.RecordResult("fast", true, 50*time.Millisecond, "")
	r.RecordResult("slow", true, 500*time.Millisecond, "")
	for it := 0; it < 5; it++ {
		require.Equal(t, "fast", selectName(t, r, ""))
	}

	// sampled backends beat unsampled ones
	require.NoError(t, r.Add(Config{Name: "cold", URL: "http://cold:1", Model: "m"}))
	require.Equal(t, "fast", selectName(t, r, ""))
}

func TestEveryStrategySingleBackend(t *testing.T) {
	t.Parallel()

	for _, s := range Strategies() {
		s := s
		t.Run(string(s), func(t *testing.T) {
			t.Parallel()
			r := newTestRegistry(t, s, "only")
			r.RecordResult("only", true, time.Millisecond, "")
			for it := 0; it < 3; it++ {
				require.Equal(t, "only", selectName(t, r, "some-key"))
			}
		})
	}
}

func TestStrategyCheck(t *testing.T) {
	t.Parallel()

	for _, s := range Strategies() {
		require.NoError(t, s.Check())
	}
	require.Error(t, Strategy("").Check())
	require.Error(t, Strategy("round-robin").Check())
}

func TestSelectionSkipsUnhealthy(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyRoundRobin, "a", "b")

	b, err := r.Get("a")
	require.NoError(t, err)
	for it := 0; it < 3; it++ {
		b.recordProbe(false, 0, "connection refused", 3, time.Now())
	}
	require.Equal(t, StatusUnhealthy, b.Status())

	for it := 0; it < 4; it++ {
		require.Equal(t, "b", selectName(t, r, ""))
	}
}

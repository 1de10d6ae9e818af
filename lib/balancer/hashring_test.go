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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashRingVnodeCount(t *testing.T) {
	t.Parallel()

	ring := newHashRing()
	ring.add("a", 1)
	require.Len(t, ring.vnodes, 10)
	ring.add("b", 3)
	require.Len(t, ring.vnodes, 40)
	ring.remove("b")
	require.Len(t, ring.vnodes, 10)
}

func TestHashRingDeterministic(t *testing.T) {
	t.Parallel()

	ring := newHashRing()
	ring.add("a", 1)
	ring.add("b", 1)
	ring.add("c", 1)
	all := map[string]bool{"a": true, "b": true, "c": true}

	for _, key := range []string{"tenant-1", "tenant-2", DefaultRequestKey} {
		first, ok := ring.lookup(key, all)
		require.True(t, ok)
		for it := 0; it < 10; it++ {
			again, ok := ring.lookup(key, all)
			require.True(t, ok)
			require.Equal(t, first, again, "key %v", key)
		}
	}
}

func TestHashRingSkipsIneligible(t *testing.T) {
	t.Parallel()

	ring := newHashRing()
	ring.add("a", 1)
	ring.add("b", 1)

	onlyB := map[string]bool{"b": true}
	for i := 0; i < 20; i++ {
		name, ok := ring.lookup(fmt.Sprintf("key-%d", i), onlyB)
		require.True(t, ok)
		require.Equal(t, "b", name)
	}

	_, ok := ring.lookup("key", map[string]bool{})
	require.False(t, ok)
}

// A key's pick must not move when an unrelated backend flaps: the ring is
// rebuilt on membership changes only, and health is a lookup-time filter.
func TestConsistentHashStableUnderUnrelatedFlaps(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyConsistentHash, "a", "b", "c")

	const key = "pinned-tenant"
	picked := selectName(t, r, key)

	// flap every backend except the picked one
	for _, name := range r.Names() {
		if name == picked {
			continue
		}
		b, err := r.Get(name)
		require.NoError(t, err)
		for it := 0; it < 3; it++ {
			b.recordProbe(false, 0, "refused", 3, time.Now())
		}
		require.Equal(t, picked, selectName(t, r, key))

		b.recordProbe(true, time.Millisecond, "", 3, time.Now())
		require.Equal(t, picked, selectName(t, r, key))
	}
}

func TestConsistentHashFailover(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyConsistentHash, "a", "b")

	const key = "tenant"
	picked := selectName(t, r, key)

	// when the pinned backend goes down the key moves to a survivor,
	// and returns home once the backend recovers
	b, err := r.Get(picked)
	require.NoError(t, err)
	for it := 0; it < 3; it++ {
		b.recordProbe(false, 0, "refused", 3, time.Now())
	}
	failover := selectName(t, r, key)
	require.NotEqual(t, picked, failover)

	b.recordProbe(true, time.Millisecond, "", 3, time.Now())
	require.Equal(t, picked, selectName(t, r, key))
}

func TestConsistentHashDefaultKey(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, StrategyConsistentHash, "a", "b", "c")

	require.Equal(t, selectName(t, r, ""), selectName(t, r, DefaultRequestKey))
}

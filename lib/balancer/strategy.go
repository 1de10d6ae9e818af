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
	"math/rand"

	"github.com/gravitational/trace"
)

// Strategy names a backend selection policy.
type Strategy string

const (
	// StrategyRoundRobin cycles through the healthy subset in name order.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyWeightedRoundRobin cycles through a multiset where each
	// backend appears weight times.
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"
	// StrategyLeastConnections picks the backend with the fewest in-flight
	// requests.
	StrategyLeastConnections Strategy = "least_connections"
	// StrategyRandom picks uniformly at random.
	StrategyRandom Strategy = "random"
	// StrategyConsistentHash pins a request key to a backend via an
	// MD5-keyed virtual-node ring.
	StrategyConsistentHash Strategy = "consistent_hash"
	// StrategyResponseTime picks the backend with the lowest rolling mean
	// response time.
	StrategyResponseTime Strategy = "response_time"
)

// Strategies lists every recognized policy.
func Strategies() []Strategy {
	return []Strategy{
		StrategyRoundRobin,
		StrategyWeightedRoundRobin,
		StrategyLeastConnections,
		StrategyRandom,
		StrategyConsistentHash,
		StrategyResponseTime,
	}
}

// Check validates the strategy name.
func (s Strategy) Check() error {
	for _, known := range Strategies() {
		if s == known {
			return nil
		}
	}
	return trace.BadParameter("unknown selection strategy %q", s)
}

// DefaultRequestKey pins consistent-hash lookups that carry no explicit
// request key.
const DefaultRequestKey = "default"

// pick applies the active policy to the non-empty candidate slice, which is
// sorted by name. Ties favor the earliest candidate. Called with the
// registry lock held.
func (r *Registry) pick(candidates []*Backend, requestKey string) *Backend {
	switch r.strategy {
	case StrategyWeightedRoundRobin:
		return r.pickWeightedRoundRobin(candidates)
	case StrategyLeastConnections:
		return pickLeastConnections(candidates)
	case StrategyRandom:
		return candidates[rand.Intn(len(candidates))]
	case StrategyConsistentHash:
		return r.pickConsistentHash(candidates, requestKey)
	case StrategyResponseTime:
		return r.pickResponseTime(candidates)
	default:
		return r.pickRoundRobin(candidates)
	}
}

func (r *Registry) pickRoundRobin(candidates []*Backend) *Backend {
	b := candidates[r.cursor%uint64(len(candidates))]
	r.cursor++
	return b
}

func (r *Registry) pickWeightedRoundRobin(candidates []*Backend) *Backend {
	total := 0
	for _, b := range candidates {
		total += b.cfg.Weight
	}
	if total == 0 {
		return r.pickRoundRobin(candidates)
	}
	slot := r.cursor % uint64(total)
	r.cursor++
	for _, b := range candidates {
		if slot < uint64(b.cfg.Weight) {
			return b
		}
		slot -= uint64(b.cfg.Weight)
	}
	return candidates[0]
}

func pickLeastConnections(candidates []*Backend) *Backend {
	best := candidates[0]
	bestConns := best.connections()
	for _, b := range candidates[1:] {
		if c := b.connections(); c < bestConns {
			best, bestConns = b, c
		}
	}
	return best
}

func (r *Registry) pickConsistentHash(candidates []*Backend, requestKey string) *Backend {
	if requestKey == "" {
		requestKey = DefaultRequestKey
	}
	eligible := make(map[string]bool, len(candidates))
	for _, b := range candidates {
		eligible[b.Name()] = true
	}
	name, ok := r.ring.lookup(requestKey, eligible)
	if !ok {
		return nil
	}
	return r.backends[name]
}

// pickResponseTime ignores backends without samples; when nobody has any
// yet it falls back to round robin so cold pools still rotate.
func (r *Registry) pickResponseTime(candidates []*Backend) *Backend {
	var best *Backend
	var bestMean float64
	for _, b := range candidates {
		mean, n := b.meanResponse()
		if n == 0 {
			continue
		}
		if best == nil || mean < bestMean {
			best, bestMean = b, mean
		}
	}
	if best == nil {
		return r.pickRoundRobin(candidates)
	}
	return best
}

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
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/lingualink"
	"github.com/gravitational/lingualink/lib/utils"
)

var (
	backendHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lingualink_backend_healthy",
		Help: "1 when the backend is healthy, 0 otherwise.",
	}, []string{"backend"})
	backendRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingualink_backend_requests_total",
		Help: "Dispatch attempts per backend by result.",
	}, []string{"backend", "result"})
	activeConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lingualink_backend_active_connections",
		Help: "In-flight requests per backend.",
	}, []string{"backend"})
)

func setHealthGauge(name string, s Status) {
	v := 0.0
	if s == StatusHealthy {
		v = 1.0
	}
	backendHealthy.WithLabelValues(name).Set(v)
}

// RegistryConfig configures the backend registry.
type RegistryConfig struct {
	// Strategy is the initial selection policy.
	Strategy Strategy
	// Clock is used by policies that time selection.
	Clock clockwork.Clock
	// Logger emits registry diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *RegistryConfig) CheckAndSetDefaults() error {
	if c.Strategy == "" {
		c.Strategy = StrategyRoundRobin
	}
	if err := c.Strategy.Check(); err != nil {
		return trace.Wrap(err)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(lingualink.ComponentKey, lingualink.ComponentBalancer)
	}
	return nil
}

// Registry owns the pool of backends. Structural changes take the registry
// lock; per-backend state stays behind each backend's own lock.
type Registry struct {
	cfg RegistryConfig

	mu       sync.RWMutex
	backends map[string]*Backend
	strategy Strategy
	cursor   uint64
	ring     *hashRing
}

// NewRegistry returns an empty registry with the given policy.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(backendHealthy, backendRequests, activeConnections); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Registry{
		cfg:      cfg,
		backends: make(map[string]*Backend),
		strategy: cfg.Strategy,
		ring:     newHashRing(),
	}, nil
}

// Add registers a backend. The name must be unused.
func (r *Registry) Add(cfg Config) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[cfg.Name]; ok {
		return trace.AlreadyExists("backend %q already exists", cfg.Name)
	}
	b, err := newBackend(cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	r.backends[cfg.Name] = b
	r.ring.add(cfg.Name, cfg.Weight)
	setHealthGauge(cfg.Name, StatusHealthy)
	r.cfg.Logger.Info("Registered backend.", "backend", cfg.Name, "url", cfg.URL, "model", cfg.Model, "weight", cfg.Weight)
	return nil
}

// Remove drops a backend from the pool. In-flight requests against it
// finish; their release becomes a no-op.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[name]; !ok {
		return trace.NotFound("backend %q not found", name)
	}
	delete(r.backends, name)
	r.ring.remove(name)
	backendHealthy.DeleteLabelValues(name)
	activeConnections.DeleteLabelValues(name)
	r.cfg.Logger.Info("Removed backend.", "backend", name)
	return nil
}

// Get returns the backend by name.
func (r *Registry) Get(name string) (*Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, trace.NotFound("backend %q not found", name)
	}
	return b, nil
}

// Names returns all backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// Snapshot returns a deep-copied view of every backend for the operator
// API, ordered by name.
func (r *Registry) Snapshot() []BackendStatus {
	r.mu.RLock()
	backends := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		backends = append(backends, b)
	}
	r.mu.RUnlock()

	out := make([]BackendStatus, 0, len(backends))
	for _, b := range backends {
		out = append(out, b.Snapshot())
	}
	slices.SortFunc(out, func(a, b BackendStatus) int {
		return strings.Compare(a.Config.Name, b.Config.Name)
	})
	return out
}

// Enable returns a disabled backend to Healthy and resets its failure
// counter.
func (r *Registry) Enable(name string) error {
	b, err := r.Get(name)
	if err != nil {
		return trace.Wrap(err)
	}
	b.setStatus(StatusHealthy)
	r.cfg.Logger.Info("Enabled backend.", "backend", name)
	return nil
}

// Disable takes a backend out of selection administratively. Probes keep
// running but cannot bring it back; only Enable does.
func (r *Registry) Disable(name string) error {
	b, err := r.Get(name)
	if err != nil {
		return trace.Wrap(err)
	}
	b.setStatus(StatusDisabled)
	r.cfg.Logger.Info("Disabled backend.", "backend", name)
	return nil
}

// Strategy returns the active selection policy.
func (r *Registry) Strategy() Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy
}

// SetStrategy switches the selection policy at runtime.
func (r *Registry) SetStrategy(s Strategy) error {
	if err := s.Check(); err != nil {
		return trace.Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = s
	r.cfg.Logger.Info("Switched selection strategy.", "strategy", s)
	return nil
}

// Select picks one healthy backend with spare capacity under the active
// policy and takes a connection slot on it. Callers must pair every
// successful Select with exactly one Release. Candidates at capacity are
// treated as unavailable for this instant and selection retries among the
// rest.
func (r *Registry) Select(requestKey string) (*Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := r.healthySorted()
	for len(candidates) > 0 {
		b := r.pick(candidates, requestKey)
		if b == nil {
			break
		}
		if b.tryAcquire() {
			return b, nil
		}
		candidates = slices.DeleteFunc(candidates, func(c *Backend) bool {
			return c.Name() == b.Name()
		})
	}
	return nil, trace.Wrap(NewNoBackend("no healthy backend with spare capacity"))
}

// Take acquires a connection slot on the named backend directly, bypassing
// policy selection and the health filter. Single-backend deployments use it
// so that metrics and the connection budget still apply without a selector.
func (r *Registry) Take(name string) (*Backend, error) {
	b, err := r.Get(name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !b.tryAcquire() {
		return nil, trace.Wrap(NewNoBackend("backend %q is at capacity", name))
	}
	return b, nil
}

// Release returns the connection slot taken by Select. Unknown names are a
// no-op so that releases racing a Remove stay safe.
func (r *Registry) Release(name string) {
	r.mu.RLock()
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if ok {
		b.release()
	}
}

// RecordResult accounts one dispatch attempt against the named backend.
func (r *Registry) RecordResult(name string, ok bool, elapsed time.Duration, errMsg string) {
	r.mu.RLock()
	b, found := r.backends[name]
	r.mu.RUnlock()
	if found {
		b.recordResult(ok, elapsed, errMsg)
	}
}

// healthySorted returns the selectable subset in deterministic name order.
// Called with the registry lock held.
func (r *Registry) healthySorted() []*Backend {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]*Backend, 0, len(names))
	for _, name := range names {
		if b := r.backends[name]; b.healthy() {
			out = append(out, b)
		}
	}
	return out
}

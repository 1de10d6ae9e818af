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

// Package balancer maintains the pool of upstream inference backends: their
// typed configuration, per-backend health and traffic metrics, a background
// health prober, and six interchangeable selection policies.
package balancer

import (
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/lingualink/lib/defaults"
	"github.com/gravitational/lingualink/lib/utils"
)

// Status is the health state of one backend.
type Status string

const (
	// StatusHealthy admits the backend to selection.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy excludes the backend until a probe succeeds.
	StatusUnhealthy Status = "unhealthy"
	// StatusDisabled is the administrative off switch. Probes keep running
	// but cannot transition a disabled backend; only Enable does.
	StatusDisabled Status = "disabled"
)

// Config is one upstream inference endpoint.
type Config struct {
	// Name uniquely identifies the backend in the pool.
	Name string `json:"name" yaml:"name"`
	// URL is the endpoint base, with or without a trailing /v1.
	URL string `json:"url" yaml:"url"`
	// Model is the identifier sent in chat-completions requests.
	Model string `json:"model" yaml:"model"`
	// APIKey is the upstream credential, sent as a bearer token.
	APIKey string `json:"-" yaml:"api_key"`
	// Weight scales the backend's share under weighted policies.
	Weight int `json:"weight" yaml:"weight"`
	// MaxConnections caps concurrent in-flight requests.
	MaxConnections int `json:"max_connections" yaml:"max_connections"`
	// Timeout bounds one chat-completions call.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// Priority orders backends in operator listings.
	Priority int `json:"priority" yaml:"priority"`
	// Tags carry free-form operator labels.
	Tags []string `json:"tags,omitempty" yaml:"tags"`
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Name == "" {
		return trace.BadParameter("missing backend name")
	}
	if c.URL == "" {
		return trace.BadParameter("backend %q: missing url", c.Name)
	}
	if c.Model == "" {
		return trace.BadParameter("backend %q: missing model", c.Name)
	}
	if c.Weight < 0 || c.MaxConnections < 0 || c.Timeout < 0 {
		return trace.BadParameter("backend %q: weight, max_connections and timeout must be positive", c.Name)
	}
	if c.Weight == 0 {
		c.Weight = defaults.BackendWeight
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = defaults.BackendMaxConnections
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.BackendTimeout
	}
	return nil
}

// BaseURL returns the endpoint with any trailing /v1 stripped, so clients
// always form exactly one /v1 prefix.
func (c *Config) BaseURL() string {
	return strings.TrimSuffix(strings.TrimSuffix(c.URL, "/"), "/v1")
}

// Metrics is the operator view of one backend's state. All fields are
// copies; the live values stay under the backend's lock.
type Metrics struct {
	Status              Status     `json:"status"`
	TotalRequests       int64      `json:"total_requests"`
	SuccessfulRequests  int64      `json:"successful_requests"`
	FailedRequests      int64      `json:"failed_requests"`
	ActiveConnections   int        `json:"active_connections"`
	MeanResponseSeconds float64    `json:"mean_response_seconds"`
	ResponseSamples     int        `json:"response_samples"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastCheck           *time.Time `json:"last_check,omitempty"`
}

// BackendStatus pairs a backend's config with a snapshot of its metrics for
// the operator API.
type BackendStatus struct {
	Config  Config  `json:"config"`
	Metrics Metrics `json:"metrics"`
}

// Backend is one pool member: immutable config plus mutable state guarded
// by the backend's own lock, so contention on one backend never stalls
// another.
type Backend struct {
	cfg Config

	mu                  sync.Mutex
	status              Status
	totalRequests       int64
	successfulRequests  int64
	failedRequests      int64
	activeConnections   int
	responseTimes       *utils.CircularBuffer
	consecutiveFailures int
	lastError           string
	lastCheck           time.Time
}

func newBackend(cfg Config) (*Backend, error) {
	buf, err := utils.NewCircularBuffer(defaults.ResponseTimeWindow)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// optimistic start; the first probe corrects
	return &Backend{cfg: cfg, status: StatusHealthy, responseTimes: buf}, nil
}

// Name returns the backend's unique name.
func (b *Backend) Name() string { return b.cfg.Name }

// Config returns a copy of the backend's configuration.
func (b *Backend) Config() Config { return b.cfg }

// Status returns the current health state.
func (b *Backend) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Snapshot returns a copy of the backend's metrics.
func (b *Backend) Snapshot() BackendStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{
		Status:              b.status,
		TotalRequests:       b.totalRequests,
		SuccessfulRequests:  b.successfulRequests,
		FailedRequests:      b.failedRequests,
		ActiveConnections:   b.activeConnections,
		MeanResponseSeconds: b.responseTimes.Mean(),
		ResponseSamples:     b.responseTimes.Len(),
		ConsecutiveFailures: b.consecutiveFailures,
		LastError:           b.lastError,
	}
	if !b.lastCheck.IsZero() {
		t := b.lastCheck
		m.LastCheck = &t
	}
	return BackendStatus{Config: b.cfg, Metrics: m}
}

// healthy reports whether the backend is in the selectable state.
func (b *Backend) healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status == StatusHealthy
}

// tryAcquire takes one connection slot unless the backend is at capacity.
func (b *Backend) tryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeConnections >= b.cfg.MaxConnections {
		return false
	}
	b.activeConnections++
	activeConnections.WithLabelValues(b.cfg.Name).Inc()
	return true
}

// release returns one connection slot. The count never goes negative.
func (b *Backend) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeConnections > 0 {
		b.activeConnections--
		activeConnections.WithLabelValues(b.cfg.Name).Dec()
	}
}

func (b *Backend) connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeConnections
}

func (b *Backend) meanResponse() (float64, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.responseTimes.Mean(), b.responseTimes.Len()
}

// recordResult accounts one dispatch attempt. Response times are sampled on
// success only so failures cannot skew the response-time policy.
func (b *Backend) recordResult(ok bool, elapsed time.Duration, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	if ok {
		b.successfulRequests++
		b.responseTimes.Add(elapsed.Seconds())
		backendRequests.WithLabelValues(b.cfg.Name, "success").Inc()
		return
	}
	b.failedRequests++
	b.lastError = errMsg
	backendRequests.WithLabelValues(b.cfg.Name, "failure").Inc()
}

// recordProbe applies one health probe outcome and returns the resulting
// status. Threshold crossings flip Healthy to Unhealthy; success flips
// Unhealthy back. Disabled backends record the outcome but never move.
func (b *Backend) recordProbe(ok bool, elapsed time.Duration, errMsg string, threshold int, now time.Time) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastCheck = now
	if ok {
		b.consecutiveFailures = 0
		b.lastError = ""
		if b.status == StatusUnhealthy {
			b.status = StatusHealthy
		}
		if b.status == StatusHealthy {
			b.responseTimes.Add(elapsed.Seconds())
		}
	} else {
		b.consecutiveFailures++
		b.lastError = errMsg
		if b.status == StatusHealthy && b.consecutiveFailures >= threshold {
			b.status = StatusUnhealthy
		}
	}
	setHealthGauge(b.cfg.Name, b.status)
	return b.status
}

// setStatus applies an administrative transition. Enable resets the failure
// counter and returns the backend to Healthy.
func (b *Backend) setStatus(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == StatusHealthy {
		b.consecutiveFailures = 0
	}
	b.status = s
	setHealthGauge(b.cfg.Name, s)
}

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
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/lingualink"
	"github.com/gravitational/lingualink/lib/defaults"
)

// ProbeFunc checks one backend's liveness. A nil error means healthy.
type ProbeFunc func(ctx context.Context, cfg Config) error

// ProberConfig configures the health prober.
type ProberConfig struct {
	// Registry is the pool being probed.
	Registry *Registry
	// Interval is the probe period.
	Interval time.Duration
	// FailureThreshold is how many consecutive failures mark a healthy
	// backend unhealthy.
	FailureThreshold int
	// Probe checks one backend; defaults to GET {url}/v1/models with the
	// backend's bearer credential.
	Probe ProbeFunc
	// Clock drives ticks and latency measurement.
	Clock clockwork.Clock
	// Logger emits probe diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *ProberConfig) CheckAndSetDefaults() error {
	if c.Registry == nil {
		return trace.BadParameter("missing registry")
	}
	if c.Interval < 0 || c.FailureThreshold < 0 {
		return trace.BadParameter("interval and failure threshold must be positive")
	}
	if c.Interval == 0 {
		c.Interval = defaults.HealthCheckInterval
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.Probe == nil {
		c.Probe = probeModels
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(lingualink.ComponentKey, lingualink.ComponentProber)
	}
	return nil
}

// probeModels is the default liveness probe: list the backend's models with
// a fixed deadline independent of the backend's request timeout, so probe
// latency stays decoupled from traffic latency.
func probeModels(ctx context.Context, cfg Config) error {
	clt, err := roundtrip.NewClient(cfg.BaseURL(), "v1",
		roundtrip.HTTPClient(&http.Client{Timeout: defaults.HealthCheckTimeout}),
		roundtrip.BearerAuth(cfg.APIKey),
	)
	if err != nil {
		return trace.Wrap(err)
	}
	resp, err := clt.Get(ctx, clt.Endpoint("models"), url.Values{})
	if err != nil {
		return trace.ConnectionProblem(err, "health probe against %v failed", cfg.Name)
	}
	if resp.Code() < 200 || resp.Code() > 299 {
		return trace.ConnectionProblem(nil, "health probe against %v returned HTTP %v", cfg.Name, resp.Code())
	}
	return nil
}

// Prober drives the per-backend health state machine: one worker goroutine
// that fans probes out over every registered backend each tick. Disabled
// backends are probed too; their outcome is recorded but their status can
// only change administratively.
type Prober struct {
	cfg ProberConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewProber returns a stopped prober; call Start to begin probing.
func NewProber(cfg ProberConfig) (*Prober, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Prober{cfg: cfg}, nil
}

// Running reports whether the probe loop is active.
func (p *Prober) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Start launches the probe loop. Starting a running prober is a no-op.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.stopped = make(chan struct{})
	go p.run(ctx, p.stopped)
	p.cfg.Logger.Info("Health prober started.", "interval", p.cfg.Interval, "failure_threshold", p.cfg.FailureThreshold)
}

// Stop halts the probe loop and waits for the current sweep to finish.
// Stopping a stopped prober is a no-op.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.cancel, p.stopped = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	p.cfg.Logger.Info("Health prober stopped.")
}

func (p *Prober) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.probeAll(ctx)
		}
	}
}

// probeAll sweeps every backend concurrently and waits for the sweep to
// complete before the next tick is considered.
func (p *Prober) probeAll(ctx context.Context) {
	var group errgroup.Group
	for _, name := range p.cfg.Registry.Names() {
		name := name
		group.Go(func() error {
			if _, err := p.probeOne(ctx, name); err != nil && !trace.IsNotFound(err) {
				p.cfg.Logger.DebugContext(ctx, "Backend probe errored.", "backend", name, "error", err)
			}
			return nil
		})
	}
	group.Wait()
}

// CheckNow forces one synchronous probe of the named backend and returns
// the resulting status.
func (p *Prober) CheckNow(ctx context.Context, name string) (Status, error) {
	return p.probeOne(ctx, name)
}

func (p *Prober) probeOne(ctx context.Context, name string) (Status, error) {
	b, err := p.cfg.Registry.Get(name)
	if err != nil {
		return "", trace.Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaults.HealthCheckTimeout)
	defer cancel()

	start := p.cfg.Clock.Now()
	probeErr := p.cfg.Probe(ctx, b.Config())
	elapsed := p.cfg.Clock.Now().Sub(start)

	errMsg := ""
	if probeErr != nil {
		errMsg = probeErr.Error()
	}
	before := b.Status()
	after := b.recordProbe(probeErr == nil, elapsed, errMsg, p.cfg.FailureThreshold, p.cfg.Clock.Now())
	if before != after {
		p.cfg.Logger.InfoContext(ctx, "Backend changed health state.",
			"backend", name, "from", before, "to", after, "error", errMsg)
	}
	return after, nil
}

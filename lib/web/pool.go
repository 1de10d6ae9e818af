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

package web

import (
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/lingualink/lib/auth"
	"github.com/gravitational/lingualink/lib/balancer"
	"github.com/gravitational/lingualink/lib/httplib"
)

// listBackends returns the pool snapshot, sorted by name.
func (h *Handler) listBackends(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	snapshot := h.cfg.Registry.Snapshot()
	return map[string]any{"backends": snapshot, "count": len(snapshot)}, nil
}

// addBackendRequest is the wire shape of backend registration. The upstream
// credential is accepted here but never serialized back out.
type addBackendRequest struct {
	Name           string   `json:"name"`
	URL            string   `json:"url"`
	Model          string   `json:"model"`
	APIKey         string   `json:"api_key"`
	Weight         int      `json:"weight"`
	MaxConnections int      `json:"max_connections"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Priority       int      `json:"priority"`
	Tags           []string `json:"tags"`
}

// addBackend registers a backend at runtime. It starts healthy and joins
// selection immediately; the next probe cycle corrects optimism.
func (h *Handler) addBackend(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	var req addBackendRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	cfg := balancer.Config{
		Name:           req.Name,
		URL:            req.URL,
		Model:          req.Model,
		APIKey:         req.APIKey,
		Weight:         req.Weight,
		MaxConnections: req.MaxConnections,
		Timeout:        time.Duration(req.TimeoutSeconds) * time.Second,
		Priority:       req.Priority,
		Tags:           req.Tags,
	}
	if err := h.cfg.Registry.Add(cfg); err != nil {
		return nil, trace.Wrap(err)
	}
	b, err := h.cfg.Registry.Get(req.Name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return b.Snapshot(), nil
}

// removeBackend drops the backend from the pool. In-flight requests on it
// finish; their release against a removed name is a no-op.
func (h *Handler) removeBackend(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	name := p.ByName("name")
	if err := h.cfg.Registry.Remove(name); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"removed": name}, nil
}

// enableBackend lifts the administrative off switch.
func (h *Handler) enableBackend(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	name := p.ByName("name")
	if err := h.cfg.Registry.Enable(name); err != nil {
		return nil, trace.Wrap(err)
	}
	b, err := h.cfg.Registry.Get(name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return b.Snapshot(), nil
}

// disableBackend pins the backend out of selection until re-enabled.
func (h *Handler) disableBackend(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	name := p.ByName("name")
	if err := h.cfg.Registry.Disable(name); err != nil {
		return nil, trace.Wrap(err)
	}
	b, err := h.cfg.Registry.Get(name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return b.Snapshot(), nil
}

// checkBackend probes one backend immediately, outside the periodic cycle.
func (h *Handler) checkBackend(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	name := p.ByName("name")
	status, err := h.cfg.Prober.CheckNow(r.Context(), name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"name": name, "status": status}, nil
}

// poolMetrics aggregates request counters across the pool.
func (h *Handler) poolMetrics(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	snapshot := h.cfg.Registry.Snapshot()
	var total, succeeded, failed int64
	var active int
	for _, b := range snapshot {
		total += b.Metrics.TotalRequests
		succeeded += b.Metrics.SuccessfulRequests
		failed += b.Metrics.FailedRequests
		active += b.Metrics.ActiveConnections
	}
	return map[string]any{
		"total_requests":      total,
		"successful_requests": succeeded,
		"failed_requests":     failed,
		"active_connections":  active,
		"backends":            snapshot,
	}, nil
}

// getStrategy reports the active selection policy and the valid choices.
func (h *Handler) getStrategy(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	return map[string]any{
		"strategy":  h.cfg.Registry.Strategy(),
		"available": balancer.Strategies(),
	}, nil
}

// setStrategy switches the selection policy at runtime.
func (h *Handler) setStrategy(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	var req struct {
		Strategy string `json:"strategy"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Registry.SetStrategy(balancer.Strategy(req.Strategy)); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"strategy": h.cfg.Registry.Strategy()}, nil
}

// startProber launches periodic health checks. Idempotent.
func (h *Handler) startProber(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	h.cfg.Prober.Start()
	return map[string]any{"running": h.cfg.Prober.Running()}, nil
}

// stopProber halts periodic health checks. Backends keep their last state.
func (h *Handler) stopProber(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	h.cfg.Prober.Stop()
	return map[string]any{"running": h.cfg.Prober.Running()}, nil
}

// poolStatus summarizes the pool for dashboards.
func (h *Handler) poolStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	snapshot := h.cfg.Registry.Snapshot()
	counts := map[balancer.Status]int{}
	for _, b := range snapshot {
		counts[b.Metrics.Status]++
	}
	return map[string]any{
		"total":          len(snapshot),
		"healthy":        counts[balancer.StatusHealthy],
		"unhealthy":      counts[balancer.StatusUnhealthy],
		"disabled":       counts[balancer.StatusDisabled],
		"strategy":       h.cfg.Registry.Strategy(),
		"prober_running": h.cfg.Prober.Running(),
	}, nil
}

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

	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/lingualink"
	"github.com/gravitational/lingualink/lib/balancer"
)

// serviceStatus is the unauthenticated service overview.
func (h *Handler) serviceStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	snapshot := h.cfg.Registry.Snapshot()
	healthy := 0
	for _, b := range snapshot {
		if b.Metrics.Status == balancer.StatusHealthy {
			healthy++
		}
	}
	audioStats := h.cfg.Normalizer.Stats()
	return map[string]any{
		"service":        "lingualink",
		"version":        lingualink.Version,
		"uptime_seconds": int64(h.cfg.Clock.Since(h.started) / time.Second),
		"auth_enabled":   !h.cfg.Verifier.Disabled(),
		"pool": map[string]any{
			"backends":       len(snapshot),
			"healthy":        healthy,
			"strategy":       h.cfg.Registry.Strategy(),
			"prober_running": h.cfg.Prober.Running(),
		},
		"audio": map[string]any{
			"active_transcodes": audioStats.Active,
			"total_transcodes":  audioStats.Total,
		},
	}, nil
}

// healthz is the liveness probe: the process is up and serving.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return map[string]any{"status": "ok"}, nil
}

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

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/lingualink/lib/auth"
	"github.com/gravitational/lingualink/lib/httplib"
)

// cacheStats exposes hit/miss counters and the entry count of the
// verification cache.
func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	return h.cfg.Verifier.CacheStats(r.Context()), nil
}

// cacheClear drops every cached verification.
func (h *Handler) cacheClear(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	n, err := h.cfg.Verifier.ClearCache(r.Context())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"cleared": n}, nil
}

// cacheInvalidate drops the cached verification of one secret.
func (h *Handler) cacheInvalidate(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.APIKey == "" {
		return nil, trace.BadParameter("missing api_key")
	}
	if err := h.cfg.Verifier.InvalidateSecret(r.Context(), req.APIKey); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"invalidated": true}, nil
}

// cacheHealth reports reachability of the cache backend without requiring a
// credential, so probes can watch it.
func (h *Handler) cacheHealth(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	stats := h.cfg.Verifier.CacheStats(r.Context())
	return map[string]any{
		"enabled": stats.Enabled,
		"backend": stats.Backend,
		"healthy": h.cfg.Verifier.CacheHealthy(r.Context()),
	}, nil
}

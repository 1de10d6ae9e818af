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

// Package web is the gateway's HTTP surface: the audio ingestion endpoint,
// credential verification and management, and the operator API over the
// backend pool, the prober and the verification cache.
package web

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravitational/lingualink"
	"github.com/gravitational/lingualink/lib/audio"
	"github.com/gravitational/lingualink/lib/auth"
	"github.com/gravitational/lingualink/lib/balancer"
	"github.com/gravitational/lingualink/lib/defaults"
	"github.com/gravitational/lingualink/lib/httplib"
	"github.com/gravitational/lingualink/lib/inference"
)

// Config configures the web handler.
type Config struct {
	// Verifier authenticates presented credentials.
	Verifier *auth.Verifier
	// Registry is the backend pool.
	Registry *balancer.Registry
	// Prober drives backend health.
	Prober *balancer.Prober
	// Normalizer validates and converts uploads.
	Normalizer *audio.Normalizer
	// Dispatcher runs audio requests end to end.
	Dispatcher *inference.Service
	// UploadCap bounds one uploaded file in bytes.
	UploadCap int64
	// TempDir receives uploaded files.
	TempDir string
	// Debug includes error details in responses.
	Debug bool
	// Clock measures uptime.
	Clock clockwork.Clock
	// Logger emits request diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Verifier == nil {
		return trace.BadParameter("missing verifier")
	}
	if c.Registry == nil {
		return trace.BadParameter("missing registry")
	}
	if c.Prober == nil {
		return trace.BadParameter("missing prober")
	}
	if c.Normalizer == nil {
		return trace.BadParameter("missing normalizer")
	}
	if c.Dispatcher == nil {
		return trace.BadParameter("missing dispatcher")
	}
	if c.UploadCap <= 0 {
		c.UploadCap = defaults.MaxUploadBytes
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(lingualink.ComponentKey, lingualink.ComponentWeb)
	}
	return nil
}

// Handler routes the gateway's HTTP API.
type Handler struct {
	httprouter.Router
	cfg     Config
	started time.Time
}

// NewHandler builds the route table.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{cfg: cfg, started: cfg.Clock.Now()}

	// data path
	h.POST("/api/v1/audio/process", h.withAuth(h.processAudio))
	h.GET("/api/v1/audio/formats", h.withAuth(h.audioFormats))

	// credentials
	h.POST("/api/v1/auth/verify", h.public(h.verifyCredential))
	h.GET("/api/v1/auth/keys", h.withAdmin(h.listKeys))
	h.POST("/api/v1/auth/keys", h.withAdmin(h.createKey))
	h.DELETE("/api/v1/auth/keys/:secret", h.withAdmin(h.revokeKey))

	// backend pool
	h.GET("/api/v1/pool/backends", h.withAuth(h.listBackends))
	h.POST("/api/v1/pool/backends", h.withAdmin(h.addBackend))
	h.DELETE("/api/v1/pool/backends/:name", h.withAdmin(h.removeBackend))
	h.POST("/api/v1/pool/backends/:name/enable", h.withAdmin(h.enableBackend))
	h.POST("/api/v1/pool/backends/:name/disable", h.withAdmin(h.disableBackend))
	h.POST("/api/v1/pool/backends/:name/check", h.withAdmin(h.checkBackend))
	h.GET("/api/v1/pool/metrics", h.withAuth(h.poolMetrics))
	h.GET("/api/v1/pool/strategy", h.withAuth(h.getStrategy))
	h.PUT("/api/v1/pool/strategy", h.withAdmin(h.setStrategy))
	h.POST("/api/v1/pool/prober/start", h.withAdmin(h.startProber))
	h.POST("/api/v1/pool/prober/stop", h.withAdmin(h.stopProber))
	h.GET("/api/v1/pool/status", h.withAuth(h.poolStatus))

	// verification cache
	h.GET("/api/v1/cache/stats", h.withAdmin(h.cacheStats))
	h.POST("/api/v1/cache/clear", h.withAdmin(h.cacheClear))
	h.POST("/api/v1/cache/invalidate", h.withAdmin(h.cacheInvalidate))
	h.GET("/api/v1/cache/health", h.public(h.cacheHealth))

	// service
	h.GET("/api/v1/status", h.public(h.serviceStatus))
	h.GET("/healthz", h.public(h.healthz))
	h.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return h, nil
}

// authHandler receives the verified principal by value.
type authHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error)

// public mounts an endpoint with no credential check.
func (h *Handler) public(fn httplib.HandlerFunc) httprouter.Handle {
	return httplib.MakeHandler(fn, h.cfg.Debug)
}

// withAuth requires any valid credential, or none when verification is
// globally disabled.
func (h *Handler) withAuth(fn authHandler) httprouter.Handle {
	return httplib.MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		id, err := h.authenticate(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return fn(w, r, p, id)
	}, h.cfg.Debug)
}

// withAdmin additionally requires the admin flag. Anonymous principals
// admitted under disabled verification pass: the operator turned the lock
// off deliberately.
func (h *Handler) withAdmin(fn authHandler) httprouter.Handle {
	return h.withAuth(func(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
		if !id.Admin && !id.Anonymous {
			return nil, trace.AccessDenied("this operation requires an admin credential")
		}
		return fn(w, r, p, id)
	})
}

// authenticate extracts and verifies the presented credential. X-API-Key
// wins over a bearer Authorization header when both are present.
func (h *Handler) authenticate(r *http.Request) (auth.Identity, error) {
	if h.cfg.Verifier.Disabled() {
		return auth.Identity{Anonymous: true}, nil
	}
	secret := credentialFrom(r)
	if secret == "" {
		return auth.Identity{}, trace.Wrap(auth.NewUnauthorized("missing credential: set X-API-Key or a bearer Authorization header"))
	}
	valid, admin, err := h.cfg.Verifier.Verify(r.Context(), secret)
	if err != nil {
		return auth.Identity{}, trace.Wrap(err)
	}
	if !valid {
		return auth.Identity{}, trace.Wrap(auth.NewUnauthorized("invalid or expired credential"))
	}
	return auth.Identity{KeyPrefix: keyPrefix(secret), Admin: admin}, nil
}

func credentialFrom(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	const bearer = "Bearer "
	if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, bearer) {
		return strings.TrimPrefix(ah, bearer)
	}
	return ""
}

func keyPrefix(secret string) string {
	const visible = 12
	if len(secret) <= visible {
		return secret
	}
	return secret[:visible]
}

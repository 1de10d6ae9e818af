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
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/lingualink/lib/audio"
	"github.com/gravitational/lingualink/lib/auth"
	"github.com/gravitational/lingualink/lib/balancer"
	"github.com/gravitational/lingualink/lib/httplib"
	"github.com/gravitational/lingualink/lib/inference"
)

// canonicalWAV builds a minimal 16 kHz mono 16-bit PCM file that the
// normalizer passes through untouched, so no transcoder runs in tests.
func canonicalWAV(t *testing.T, samples int) []byte {
	t.Helper()
	dataLen := samples * 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // mono
	binary.Write(&buf, binary.LittleEndian, uint32(16000)) // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(32000)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))     // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))    // bit depth
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

func chatReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": text}},
		},
	})
	return string(b)
}

type testEnv struct {
	srv         *httptest.Server
	handler     *Handler
	adminSecret string
	userSecret  string
	verifier    *auth.Verifier
	registry    *balancer.Registry
}

// newTestEnv brings up the whole gateway behind httptest: sqlite store,
// in-process cache, a pool with one upstream, and the full route table.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	store, err := auth.NewStore(auth.StoreConfig{Path: filepath.Join(t.TempDir(), "keys.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache, err := auth.NewMemoryCache(time.Minute, 0)
	require.NoError(t, err)

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Store:        store,
		Cache:        cache,
		CacheBackend: "memory",
		CacheTTL:     time.Minute,
	})
	require.NoError(t, err)

	admin, err := store.CreateKey(context.Background(), auth.CreateKeyRequest{Name: "admin", Admin: true})
	require.NoError(t, err)
	user, err := store.CreateKey(context.Background(), auth.CreateKeyRequest{Name: "user"})
	require.NoError(t, err)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			fmt.Fprint(w, `{"data":[]}`)
		case "/v1/chat/completions":
			fmt.Fprint(w, chatReply("原文：你好\n英文：Hello"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(upstream.Close)

	registry, err := balancer.NewRegistry(balancer.RegistryConfig{Strategy: balancer.StrategyRoundRobin})
	require.NoError(t, err)
	require.NoError(t, registry.Add(balancer.Config{
		Name: "upstream", URL: upstream.URL, Model: "test-model", APIKey: "sk-upstream",
	}))

	prober, err := balancer.NewProber(balancer.ProberConfig{Registry: registry})
	require.NoError(t, err)
	t.Cleanup(prober.Stop)

	normalizer, err := audio.NewNormalizer(audio.NormalizerConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	dispatcher, err := inference.NewService(inference.ServiceConfig{
		Registry:   registry,
		Normalizer: normalizer,
	})
	require.NoError(t, err)

	cfg := Config{
		Verifier:   verifier,
		Registry:   registry,
		Prober:     prober,
		Normalizer: normalizer,
		Dispatcher: dispatcher,
		TempDir:    t.TempDir(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := NewHandler(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testEnv{
		srv:         srv,
		handler:     handler,
		adminSecret: admin.Secret,
		userSecret:  user.Secret,
		verifier:    verifier,
		registry:    registry,
	}
}

// do performs a request against the test server and decodes the envelope.
func (e *testEnv) do(t *testing.T, method, path, secret string, body io.Reader, contentType string) (int, httplib.Envelope) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if secret != "" {
		req.Header.Set("X-API-Key", secret)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env httplib.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (e *testEnv) doJSON(t *testing.T, method, path, secret string, payload any) (int, httplib.Envelope) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, method, path, secret, bytes.NewReader(b), "application/json")
}

// upload builds a multipart audio request body.
func upload(t *testing.T, filename string, data []byte, fields map[string][]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio_file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	for field, values := range fields {
		for _, v := range values {
			require.NoError(t, mw.WriteField(field, v))
		}
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestProcessAudioEndToEnd(t *testing.T) {
	e := newTestEnv(t, nil)
	body, ctype := upload(t, "clip.wav", canonicalWAV(t, 1600), map[string][]string{
		"target_languages": {"英文"},
	})

	code, env := e.do(t, http.MethodPost, "/api/v1/audio/process", e.userSecret, body, ctype)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "success", env.Status)

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "upstream", data["backend"])
	sections, ok := data["sections"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "你好", sections["原文"])
	require.Equal(t, "Hello", sections["英文"])
	require.NotEmpty(t, sections[inference.RawTextKey])
}

func TestProcessAudioRequiresCredential(t *testing.T) {
	e := newTestEnv(t, nil)
	body, ctype := upload(t, "clip.wav", canonicalWAV(t, 16), nil)

	code, env := e.do(t, http.MethodPost, "/api/v1/audio/process", "", body, ctype)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "error", env.Status)
}

func TestCredentialHeaderPrecedence(t *testing.T) {
	e := newTestEnv(t, nil)

	// X-API-Key wins even when the bearer header carries garbage
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/v1/audio/formats", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", e.userSecret)
	req.Header.Set("Authorization", "Bearer not-a-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// bearer alone works too
	req, err = http.NewRequest(http.MethodGet, e.srv.URL+"/api/v1/audio/formats", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.userSecret)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// invalid bearer alone is rejected
	req, err = http.NewRequest(http.MethodGet, e.srv.URL+"/api/v1/audio/formats", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadCapBoundary(t *testing.T) {
	wav := canonicalWAV(t, 1600)
	e := newTestEnv(t, func(cfg *Config) {
		cfg.UploadCap = int64(len(wav))
	})

	// exactly at the cap passes
	body, ctype := upload(t, "clip.wav", wav, nil)
	code, _ := e.do(t, http.MethodPost, "/api/v1/audio/process", e.userSecret, body, ctype)
	require.Equal(t, http.StatusOK, code)

	// one byte over is rejected with 413
	body, ctype = upload(t, "clip.wav", append(canonicalWAV(t, 1600), 0), nil)
	code, env := e.do(t, http.MethodPost, "/api/v1/audio/process", e.userSecret, body, ctype)
	require.Equal(t, http.StatusRequestEntityTooLarge, code)
	require.Equal(t, "error", env.Status)
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	e := newTestEnv(t, nil)
	body, ctype := upload(t, "notes.txt", []byte("hello"), nil)

	code, env := e.do(t, http.MethodPost, "/api/v1/audio/process", e.userSecret, body, ctype)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, env.Message, "txt")
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	e := newTestEnv(t, nil)
	body, ctype := upload(t, "clip.wav", nil, nil)

	code, _ := e.do(t, http.MethodPost, "/api/v1/audio/process", e.userSecret, body, ctype)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestUploadRequiresFileField(t *testing.T) {
	e := newTestEnv(t, nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("user_prompt", "hello"))
	require.NoError(t, mw.Close())

	code, _ := e.do(t, http.MethodPost, "/api/v1/audio/process", e.userSecret, &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, code)
}

func TestAdminGating(t *testing.T) {
	e := newTestEnv(t, nil)

	code, _ := e.do(t, http.MethodGet, "/api/v1/auth/keys", e.userSecret, nil, "")
	require.Equal(t, http.StatusForbidden, code)

	code, env := e.do(t, http.MethodGet, "/api/v1/auth/keys", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "success", env.Status)
}

func TestAuthDisabledAdmitsAnonymousAdmin(t *testing.T) {
	e := newTestEnv(t, func(cfg *Config) {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Store:    mustStore(t),
			Disabled: true,
		})
		require.NoError(t, err)
		cfg.Verifier = verifier
	})

	// no credential at all, including admin endpoints
	code, _ := e.do(t, http.MethodGet, "/api/v1/auth/keys", "", nil, "")
	require.Equal(t, http.StatusOK, code)

	code, env := e.do(t, http.MethodPost, "/api/v1/auth/verify", "", nil, "")
	require.Equal(t, http.StatusOK, code)
	data := env.Data.(map[string]any)
	require.Equal(t, true, data["auth_disabled"])
}

func mustStore(t *testing.T) *auth.Store {
	t.Helper()
	store, err := auth.NewStore(auth.StoreConfig{Path: filepath.Join(t.TempDir(), "keys.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestVerifyCredentialEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)

	code, env := e.do(t, http.MethodPost, "/api/v1/auth/verify", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	data := env.Data.(map[string]any)
	require.Equal(t, true, data["valid"])
	require.Equal(t, true, data["is_admin"])

	code, env = e.do(t, http.MethodPost, "/api/v1/auth/verify", "lls_bogus", nil, "")
	require.Equal(t, http.StatusOK, code)
	data = env.Data.(map[string]any)
	require.Equal(t, false, data["valid"])

	code, _ = e.do(t, http.MethodPost, "/api/v1/auth/verify", "", nil, "")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t, nil)

	// create
	code, env := e.doJSON(t, http.MethodPost, "/api/v1/auth/keys", e.adminSecret, map[string]any{
		"name": "ci", "ttl_days": 7,
	})
	require.Equal(t, http.StatusOK, code)
	created := env.Data.(map[string]any)
	secret, ok := created["api_key"].(string)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(secret, auth.SecretPrefix))

	// the new key authenticates
	code, _ = e.do(t, http.MethodGet, "/api/v1/audio/formats", secret, nil, "")
	require.Equal(t, http.StatusOK, code)

	// listings mask the secret
	code, env = e.do(t, http.MethodGet, "/api/v1/auth/keys", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	listing := env.Data.(map[string]any)
	for _, k := range listing["keys"].([]any) {
		masked := k.(map[string]any)["api_key"].(string)
		require.NotEqual(t, secret, masked)
		require.LessOrEqual(t, len(masked), len(auth.SecretPrefix)+8+3)
	}

	// revoke drops access immediately, cache included
	code, _ = e.do(t, http.MethodDelete, "/api/v1/auth/keys/"+secret, e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/audio/formats", secret, nil, "")
	require.Equal(t, http.StatusUnauthorized, code)

	// revoking an unknown key is a 404
	code, _ = e.do(t, http.MethodDelete, "/api/v1/auth/keys/lls_missing", e.adminSecret, nil, "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestBackendManagement(t *testing.T) {
	e := newTestEnv(t, nil)

	// add requires admin
	code, _ := e.doJSON(t, http.MethodPost, "/api/v1/pool/backends", e.userSecret, map[string]any{
		"name": "b2", "url": "http://localhost:9", "model": "m",
	})
	require.Equal(t, http.StatusForbidden, code)

	code, env := e.doJSON(t, http.MethodPost, "/api/v1/pool/backends", e.adminSecret, map[string]any{
		"name": "b2", "url": "http://localhost:9", "model": "m", "weight": 3,
	})
	require.Equal(t, http.StatusOK, code)
	added := env.Data.(map[string]any)
	cfg := added["config"].(map[string]any)
	require.Equal(t, "b2", cfg["name"])
	require.EqualValues(t, 3, cfg["weight"])
	// the upstream credential never round-trips
	require.NotContains(t, cfg, "api_key")

	// duplicate registration conflicts
	code, _ = e.doJSON(t, http.MethodPost, "/api/v1/pool/backends", e.adminSecret, map[string]any{
		"name": "b2", "url": "http://localhost:9", "model": "m",
	})
	require.Equal(t, http.StatusConflict, code)

	// listing is open to any credential
	code, env = e.do(t, http.MethodGet, "/api/v1/pool/backends", e.userSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, env.Data.(map[string]any)["count"])

	// disable pins it out, enable brings it back
	code, env = e.do(t, http.MethodPost, "/api/v1/pool/backends/b2/disable", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	metrics := env.Data.(map[string]any)["metrics"].(map[string]any)
	require.Equal(t, string(balancer.StatusDisabled), metrics["status"])

	code, env = e.do(t, http.MethodPost, "/api/v1/pool/backends/b2/enable", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	metrics = env.Data.(map[string]any)["metrics"].(map[string]any)
	require.Equal(t, string(balancer.StatusHealthy), metrics["status"])

	// remove, then 404 on a second remove
	code, _ = e.do(t, http.MethodDelete, "/api/v1/pool/backends/b2", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodDelete, "/api/v1/pool/backends/b2", e.adminSecret, nil, "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestCheckBackendNow(t *testing.T) {
	e := newTestEnv(t, nil)

	code, env := e.do(t, http.MethodPost, "/api/v1/pool/backends/upstream/check", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	data := env.Data.(map[string]any)
	require.Equal(t, string(balancer.StatusHealthy), data["status"])

	code, _ = e.do(t, http.MethodPost, "/api/v1/pool/backends/ghost/check", e.adminSecret, nil, "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestStrategyEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)

	code, env := e.do(t, http.MethodGet, "/api/v1/pool/strategy", e.userSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	data := env.Data.(map[string]any)
	require.Equal(t, string(balancer.StrategyRoundRobin), data["strategy"])
	require.Len(t, data["available"], len(balancer.Strategies()))

	code, _ = e.doJSON(t, http.MethodPut, "/api/v1/pool/strategy", e.adminSecret, map[string]any{
		"strategy": "random",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, balancer.StrategyRandom, e.registry.Strategy())

	code, _ = e.doJSON(t, http.MethodPut, "/api/v1/pool/strategy", e.adminSecret, map[string]any{
		"strategy": "no-such-policy",
	})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestProberEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)

	code, env := e.do(t, http.MethodPost, "/api/v1/pool/prober/start", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, env.Data.(map[string]any)["running"])

	code, env = e.do(t, http.MethodPost, "/api/v1/pool/prober/stop", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, env.Data.(map[string]any)["running"])
}

func TestCacheEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)

	// a verification populates the cache
	code, _ := e.do(t, http.MethodGet, "/api/v1/audio/formats", e.userSecret, nil, "")
	require.Equal(t, http.StatusOK, code)

	code, env := e.do(t, http.MethodGet, "/api/v1/cache/stats", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	stats := env.Data.(map[string]any)
	require.Equal(t, true, stats["enabled"])
	require.Equal(t, "memory", stats["backend"])

	code, env = e.doJSON(t, http.MethodPost, "/api/v1/cache/invalidate", e.adminSecret, map[string]any{
		"api_key": e.userSecret,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, env.Data.(map[string]any)["invalidated"])

	code, _ = e.doJSON(t, http.MethodPost, "/api/v1/cache/invalidate", e.adminSecret, map[string]any{})
	require.Equal(t, http.StatusBadRequest, code)

	code, env = e.do(t, http.MethodPost, "/api/v1/cache/clear", e.adminSecret, nil, "")
	require.Equal(t, http.StatusOK, code)

	// health is public
	code, env = e.do(t, http.MethodGet, "/api/v1/cache/health", "", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, env.Data.(map[string]any)["healthy"])
}

func TestServiceStatusAndHealthz(t *testing.T) {
	e := newTestEnv(t, nil)

	code, env := e.do(t, http.MethodGet, "/api/v1/status", "", nil, "")
	require.Equal(t, http.StatusOK, code)
	data := env.Data.(map[string]any)
	require.Equal(t, "lingualink", data["service"])
	require.Equal(t, true, data["auth_enabled"])
	pool := data["pool"].(map[string]any)
	require.EqualValues(t, 1, pool["backends"])

	code, env = e.do(t, http.MethodGet, "/healthz", "", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", env.Data.(map[string]any)["status"])
}

func TestAudioFormatsListing(t *testing.T) {
	e := newTestEnv(t, nil)

	code, env := e.do(t, http.MethodGet, "/api/v1/audio/formats", e.userSecret, nil, "")
	require.Equal(t, http.StatusOK, code)
	data := env.Data.(map[string]any)
	require.Contains(t, data["supported_formats"], "wav")
	require.Contains(t, data["supported_formats"], "opus")
	canonical := data["canonical"].(map[string]any)
	require.EqualValues(t, 16000, canonical["sample_rate"])
}

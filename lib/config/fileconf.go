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

// Package config parses the gateway's YAML configuration file and fills in
// defaults. The command line may override a handful of fields after parsing;
// components receive values from here through their own config structs, never
// by reading files themselves.
package config

import (
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/gravitational/lingualink/lib/defaults"
)

// Config is the root of the YAML configuration file. Every field is
// optional; CheckAndSetDefaults fills the gaps.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`
	// Debug enables verbose logging and error details in responses.
	Debug bool `yaml:"debug"`

	Upload    Upload    `yaml:"upload"`
	Audio     Audio     `yaml:"audio"`
	Auth      Auth      `yaml:"auth"`
	Inference Inference `yaml:"inference"`
	LLM       LLM       `yaml:"llm"`
	Pool      Pool      `yaml:"pool"`
}

// Upload controls validation of incoming audio files.
type Upload struct {
	// MaxBytes caps the size of one uploaded file.
	MaxBytes int64 `yaml:"max_bytes"`
	// AllowedFormats is the filename extension allow-list.
	AllowedFormats []string `yaml:"allowed_formats"`
	// TempDir hosts uploaded and transcoded files. Empty means the
	// system temporary directory.
	TempDir string `yaml:"temp_dir"`
}

// Audio controls the normalizer's resource pools.
type Audio struct {
	// Slots bounds concurrent transcodes.
	Slots int `yaml:"slots"`
	// Workers bounds transcoder child processes.
	Workers int `yaml:"workers"`
	// FFmpegPath locates the transcoder binary.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// Auth controls credential verification.
type Auth struct {
	// Enabled turns credential checks on. Unset means on; turning it off
	// makes every verification succeed without a credential.
	Enabled *bool `yaml:"enabled"`
	// StorePath is the credential database file.
	StorePath string `yaml:"store_path"`
	Cache     Cache  `yaml:"cache"`
}

// Cache controls the verification result cache in front of the store.
type Cache struct {
	Enabled bool `yaml:"enabled"`
	// Backend selects the cache implementation: redis or memory.
	Backend  string `yaml:"backend"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// TTLSeconds bounds staleness of cached verifications.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// TTL returns the entry lifetime as a duration.
func (c Cache) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Inference controls prompt construction and the dispatch loop.
type Inference struct {
	TargetLanguages []string `yaml:"default_target_languages"`
	DefaultQuery    string   `yaml:"default_query"`
	MaxTokens       int      `yaml:"max_tokens"`
	Temperature     float64  `yaml:"temperature"`
	RequestTimeout  Duration `yaml:"request_timeout"`
}

// LLM holds the single-backend shortcut fields. They are ignored when
// pool.backends is non-empty.
type LLM struct {
	ServerURL string `yaml:"server_url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
}

// Pool configures the backend pool and its health prober.
type Pool struct {
	// Enabled requests policy-driven selection over the backend list.
	// Unset auto-enables when backends are configured.
	Enabled             *bool     `yaml:"enabled"`
	Strategy            string    `yaml:"strategy"`
	HealthCheckInterval Duration  `yaml:"health_check_interval"`
	MaxRetries          *int      `yaml:"max_retries"`
	FailureThreshold    int       `yaml:"failure_threshold"`
	Backends            []Backend `yaml:"backends"`
}

// Backend is one upstream inference endpoint.
type Backend struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Model          string   `yaml:"model"`
	APIKey         string   `yaml:"api_key"`
	Weight         int      `yaml:"weight"`
	MaxConnections int      `yaml:"max_connections"`
	Timeout        Duration `yaml:"timeout"`
	Priority       int      `yaml:"priority"`
	Tags           []string `yaml:"tags"`
}

// Duration is a time.Duration that decodes from either a Go duration string
// ("30s", "2m") or a bare number of seconds.
type Duration time.Duration

// Duration returns the standard library form.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return trace.BadParameter("duration must be a scalar, got %v", node.Tag)
	}
	if secs, err := strconv.Atoi(node.Value); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return trace.BadParameter("invalid duration %q: use a form like 30s or 2m, or a number of seconds", node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// ReadFromFile reads and validates the configuration file at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()
	cfg, err := ReadConfig(f)
	if err != nil {
		return nil, trace.Wrap(err, "failed to parse %v", path)
	}
	return cfg, nil
}

// ReadConfig decodes YAML from the reader and validates it. Unknown keys are
// ignored so configs can carry operator annotations.
func ReadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		if err != io.EOF {
			return nil, trace.BadParameter("failed parsing YAML configuration: %v", err)
		}
		// an empty document still goes through validation below
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

// PoolMode reports whether policy-driven selection is active: requested
// explicitly, or implied by a non-empty backend list.
func (c *Config) PoolMode() bool {
	if c.Pool.Enabled != nil {
		return *c.Pool.Enabled
	}
	return len(c.Pool.Backends) > 0
}

// Backends returns the effective upstream set. The pool list wins over the
// llm shortcut fields; with only the shortcut set the result is a single
// backend under the conventional name.
func (c *Config) Backends() []Backend {
	if len(c.Pool.Backends) > 0 {
		return c.Pool.Backends
	}
	if c.LLM.ServerURL == "" {
		return nil
	}
	return []Backend{{
		Name:   defaults.SingleBackendName,
		URL:    c.LLM.ServerURL,
		Model:  c.LLM.Model,
		APIKey: c.LLM.APIKey,
	}}
}

// CheckAndSetDefaults validates the configuration and fills unset fields
// with defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}

	if c.Upload.MaxBytes < 0 {
		return trace.BadParameter("upload.max_bytes must be positive, got %v", c.Upload.MaxBytes)
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = defaults.MaxUploadBytes
	}
	if len(c.Upload.AllowedFormats) == 0 {
		c.Upload.AllowedFormats = defaults.AllowedFormats()
	}
	for i, f := range c.Upload.AllowedFormats {
		c.Upload.AllowedFormats[i] = strings.ToLower(strings.TrimPrefix(f, "."))
	}

	if c.Audio.Slots < 0 || c.Audio.Workers < 0 {
		return trace.BadParameter("audio.slots and audio.workers must be positive")
	}
	if c.Audio.Slots == 0 {
		c.Audio.Slots = defaults.AudioSlots
	}
	if c.Audio.Workers == 0 {
		c.Audio.Workers = defaults.AudioWorkers
	}
	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = defaults.FFmpegPath
	}

	if c.Auth.Enabled == nil {
		enabled := true
		c.Auth.Enabled = &enabled
	}
	if c.Auth.StorePath == "" {
		c.Auth.StorePath = defaults.StorePath
	}
	if c.Auth.Cache.Backend == "" {
		c.Auth.Cache.Backend = "redis"
	}
	if c.Auth.Cache.Backend != "redis" && c.Auth.Cache.Backend != "memory" {
		return trace.BadParameter("auth.cache.backend must be redis or memory, got %q", c.Auth.Cache.Backend)
	}
	if c.Auth.Cache.Addr == "" {
		c.Auth.Cache.Addr = defaults.CacheAddr
	}
	if c.Auth.Cache.TTLSeconds < 0 {
		return trace.BadParameter("auth.cache.ttl_seconds must be positive, got %v", c.Auth.Cache.TTLSeconds)
	}
	if c.Auth.Cache.TTLSeconds == 0 {
		c.Auth.Cache.TTLSeconds = int(defaults.CacheTTL / time.Second)
	}

	if len(c.Inference.TargetLanguages) == 0 {
		c.Inference.TargetLanguages = defaults.TargetLanguages()
	}
	if c.Inference.DefaultQuery == "" {
		c.Inference.DefaultQuery = defaults.DefaultQuery
	}
	if c.Inference.MaxTokens < 0 {
		return trace.BadParameter("inference.max_tokens must be positive, got %v", c.Inference.MaxTokens)
	}
	if c.Inference.MaxTokens == 0 {
		c.Inference.MaxTokens = defaults.MaxTokens
	}
	if c.Inference.RequestTimeout == 0 {
		c.Inference.RequestTimeout = Duration(defaults.RequestTimeout)
	}

	if err := c.checkPool(); err != nil {
		return trace.Wrap(err)
	}

	if len(c.Backends()) == 0 {
		return trace.BadParameter("no inference backend configured: set llm.server_url or pool.backends")
	}
	return nil
}

func (c *Config) checkPool() error {
	if c.Pool.Strategy == "" {
		c.Pool.Strategy = "round_robin"
	}
	if c.Pool.HealthCheckInterval == 0 {
		c.Pool.HealthCheckInterval = Duration(defaults.HealthCheckInterval)
	}
	if c.Pool.MaxRetries == nil {
		retries := defaults.MaxRetries
		c.Pool.MaxRetries = &retries
	}
	if *c.Pool.MaxRetries < 0 {
		return trace.BadParameter("pool.max_retries must be zero or positive, got %v", *c.Pool.MaxRetries)
	}
	if c.Pool.FailureThreshold < 0 {
		return trace.BadParameter("pool.failure_threshold must be positive, got %v", c.Pool.FailureThreshold)
	}
	if c.Pool.FailureThreshold == 0 {
		c.Pool.FailureThreshold = defaults.FailureThreshold
	}

	seen := make(map[string]bool, len(c.Pool.Backends))
	for i, b := range c.Pool.Backends {
		if b.Name == "" {
			return trace.BadParameter("pool.backends[%v].name is required", i)
		}
		if b.URL == "" {
			return trace.BadParameter("pool.backends[%v].url is required", i)
		}
		if b.Model == "" {
			return trace.BadParameter("pool.backends[%v].model is required", i)
		}
		if b.Weight < 0 || b.MaxConnections < 0 || b.Timeout < 0 {
			return trace.BadParameter("pool.backends[%v]: weight, max_connections and timeout must be positive", i)
		}
		if seen[b.Name] {
			return trace.BadParameter("pool.backends[%v].name %q is used twice", i, b.Name)
		}
		seen[b.Name] = true
	}

	if c.PoolMode() && len(c.Backends()) == 0 {
		return trace.BadParameter("pool.enabled is set but no backend is configured")
	}
	return nil
}

// AllowedFormat reports whether ext (without the dot, any case) is on the
// upload allow-list.
func (c *Config) AllowedFormat(ext string) bool {
	return slices.Contains(c.Upload.AllowedFormats, strings.ToLower(strings.TrimPrefix(ext, ".")))
}

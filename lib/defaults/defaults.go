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

// Package defaults contains the default values used across the gateway when
// the configuration file or the command line leave them unset.
package defaults

import "time"

const (
	// ListenAddr is the default host:port the HTTP server binds to.
	ListenAddr = "0.0.0.0:5000"

	// MaxUploadBytes caps the size of one uploaded audio file (16 MiB).
	MaxUploadBytes = 16 * 1024 * 1024

	// AudioSlots is the number of concurrent transcodes admitted by the
	// normalizer's semaphore.
	AudioSlots = 10

	// AudioWorkers is the number of OS processes the transcoder worker
	// pool runs at once.
	AudioWorkers = 5

	// FFmpegPath is the transcoder binary resolved from PATH.
	FFmpegPath = "ffmpeg"

	// TempFilePrefix marks every file the gateway writes into the
	// temporary directory so operators can reap strays safely.
	TempFilePrefix = "lingualink_"

	// StorePath is the credential store database file.
	StorePath = "lingualink.db"

	// CacheAddr is the address of the optional redis credential cache.
	CacheAddr = "localhost:6379"

	// CacheTTL bounds staleness of cached verification results.
	CacheTTL = 300 * time.Second

	// CacheMemoryEntries bounds the in-process credential cache.
	CacheMemoryEntries = 4096

	// MaxTokens is the completion budget sent to upstream backends.
	MaxTokens = 200

	// Temperature is the sampling temperature sent to upstream backends.
	Temperature = 0.0

	// RequestTimeout bounds one audio request end to end.
	RequestTimeout = 2 * time.Minute

	// BackendTimeout bounds one upstream chat-completions call.
	BackendTimeout = time.Minute

	// BackendWeight is the default selection weight of a backend.
	BackendWeight = 1

	// BackendMaxConnections caps concurrent in-flight requests per backend.
	BackendMaxConnections = 10

	// HealthCheckInterval is the period of the background prober.
	HealthCheckInterval = 30 * time.Second

	// HealthCheckTimeout bounds one probe regardless of backend timeout.
	HealthCheckTimeout = 10 * time.Second

	// FailureThreshold is the number of consecutive probe failures after
	// which a healthy backend is marked unhealthy.
	FailureThreshold = 3

	// MaxRetries is the number of additional dispatch attempts after the
	// first one fails.
	MaxRetries = 2

	// ResponseTimeWindow is the number of samples kept per backend for the
	// rolling mean response time.
	ResponseTimeWindow = 50

	// SingleBackendName names the implicit backend registered when the
	// gateway runs with a single configured upstream.
	SingleBackendName = "default"

	// ShutdownTimeout is how long the HTTP server drains on shutdown.
	ShutdownTimeout = 30 * time.Second

	// CleanupInterval is the period of the expired-credential sweep.
	CleanupInterval = time.Hour
)

// DefaultQuery is the user prompt attached to an upload when the request
// does not carry one.
const DefaultQuery = "请处理下面的音频。"

// TargetLanguages returns the default translation targets. It returns a
// fresh slice so callers can append without aliasing.
func TargetLanguages() []string {
	return []string{"英文", "日文"}
}

// AllowedFormats returns the upload extension allow-list.
func AllowedFormats() []string {
	return []string{"wav", "opus", "ogg", "mp3", "flac", "m4a", "aac"}
}

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

// Package inference dispatches normalized audio to the backend pool: it
// builds the multimodal chat-completions request, retries across selected
// backends, accounts every attempt, and parses the model's sectioned reply.
package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/lingualink"
	"github.com/gravitational/lingualink/lib/audio"
	"github.com/gravitational/lingualink/lib/balancer"
	"github.com/gravitational/lingualink/lib/defaults"
	"github.com/gravitational/lingualink/lib/utils"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingualink_requests_total",
		Help: "Audio requests by outcome.",
	}, []string{"outcome"})
	requestSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lingualink_request_seconds",
		Help:    "End to end duration of one audio request.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// ServiceConfig configures the dispatcher.
type ServiceConfig struct {
	// Registry is the backend pool.
	Registry *balancer.Registry
	// Normalizer produces the canonical waveform.
	Normalizer *audio.Normalizer
	// SingleBackend, when non-empty, bypasses policy selection and targets
	// the named backend on every attempt.
	SingleBackend string
	// MaxRetries is the number of additional attempts after the first;
	// total attempts = MaxRetries+1.
	MaxRetries int
	// MaxTokens is the completion budget per request.
	MaxTokens int
	// Temperature is the sampling temperature per request.
	Temperature float64
	// DefaultQuery replaces an empty user prompt.
	DefaultQuery string
	// DefaultTargetLangs replaces an empty target language list.
	DefaultTargetLangs []string
	// RequestTimeout bounds one request end to end.
	RequestTimeout time.Duration
	// Clock times attempts.
	Clock clockwork.Clock
	// Logger emits dispatch diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *ServiceConfig) CheckAndSetDefaults() error {
	if c.Registry == nil {
		return trace.BadParameter("missing registry")
	}
	if c.Normalizer == nil {
		return trace.BadParameter("missing normalizer")
	}
	if c.MaxRetries < 0 {
		return trace.BadParameter("max retries must be zero or positive, got %v", c.MaxRetries)
	}
	if c.MaxTokens < 0 {
		return trace.BadParameter("max tokens must be positive, got %v", c.MaxTokens)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.DefaultQuery == "" {
		c.DefaultQuery = defaults.DefaultQuery
	}
	if len(c.DefaultTargetLangs) == 0 {
		c.DefaultTargetLangs = defaults.TargetLanguages()
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(lingualink.ComponentKey, lingualink.ComponentInference)
	}
	return nil
}

// ProcessRequest is one audio request handed over by the web layer, which
// has already authenticated the caller and saved the upload to AudioPath.
type ProcessRequest struct {
	// AudioPath is the uploaded clip on disk. The dispatcher removes it
	// before returning, success or failure.
	AudioPath string
	// UserPrompt is the caller's free-text query; empty uses the default.
	UserPrompt string
	// TargetLangs are the translation targets in order; empty uses the
	// defaults.
	TargetLangs []string
	// RequestKey pins consistent-hash selection; empty uses the literal
	// default key.
	RequestKey string
}

// Result is a completed audio request.
type Result struct {
	// Sections maps reply headers to their text, always including
	// RawTextKey.
	Sections map[string]string `json:"sections"`
	// Backend served the successful attempt.
	Backend string `json:"backend"`
	// Duration is the upstream latency of the successful attempt.
	Duration time.Duration `json:"duration"`
	// Attempts is how many select-call-account cycles ran.
	Attempts int `json:"attempts"`
	// RequestID correlates logs with the response.
	RequestID string `json:"request_id"`
}

// Service is the per-request orchestrator: normalize, select, call, retry,
// account, parse.
type Service struct {
	cfg ServiceConfig
}

// NewService returns a dispatcher over the given pool and normalizer.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(requestsTotal, requestSeconds); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// Process runs one audio request end to end. Both the upload and any
// transcoded copy are removed before it returns on every path.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (result *Result, err error) {
	requestID := uuid.NewString()
	logger := s.cfg.Logger.With("request_id", requestID)
	started := s.cfg.Clock.Now()
	defer func() {
		requestSeconds.Observe(s.cfg.Clock.Now().Sub(started).Seconds())
		if err != nil {
			requestsTotal.WithLabelValues("failure").Inc()
		} else {
			requestsTotal.WithLabelValues("success").Inc()
		}
	}()
	defer func() {
		if rmErr := os.Remove(req.AudioPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.WarnContext(ctx, "Failed to remove uploaded file.", "path", req.AudioPath, "error", rmErr)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	wav, err := s.cfg.Normalizer.Normalize(ctx, req.AudioPath)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer s.cfg.Normalizer.CleanupWAV(wav, req.AudioPath)

	chatReq, err := s.buildChatRequest(req, wav)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var lastErr error
	lastBackend := ""
	attempts := s.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		content, backend, elapsed, attemptErr := s.attempt(ctx, chatReq, req.RequestKey)
		if attemptErr == nil {
			logger.InfoContext(ctx, "Request served.", "backend", backend, "attempt", attempt+1, "elapsed", elapsed)
			return &Result{
				Sections:  ParseReply(content),
				Backend:   backend,
				Duration:  elapsed,
				Attempts:  attempt + 1,
				RequestID: requestID,
			}, nil
		}
		lastErr = attemptErr
		if backend != "" {
			lastBackend = backend
		}
		logger.WarnContext(ctx, "Attempt failed.", "backend", backend, "attempt", attempt+1, "error", attemptErr)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, trace.Wrap(ctx.Err())
		}
	}

	// a pool that never yielded a backend surfaces as NoBackend, not as an
	// all-attempts failure; with retries disabled the single upstream
	// error propagates as is
	if lastBackend == "" || s.cfg.MaxRetries == 0 {
		return nil, trace.Wrap(lastErr)
	}
	return nil, trace.Wrap(&AllFailedError{
		Backend:   lastBackend,
		LastError: lastErr.Error(),
		Attempts:  attempts,
	})
}

// buildChatRequest reads and inlines the canonical waveform. The model is
// filled per attempt from the selected backend.
func (s *Service) buildChatRequest(req ProcessRequest, wav string) (ChatRequest, error) {
	data, err := os.ReadFile(wav)
	if err != nil {
		return ChatRequest{}, trace.ConvertSystemError(err)
	}

	query := req.UserPrompt
	if query == "" {
		query = s.cfg.DefaultQuery
	}
	langs := req.TargetLangs
	if len(langs) == 0 {
		langs = s.cfg.DefaultTargetLangs
	}

	var messages []ChatMessage
	if prompt := BuildSystemPrompt(langs); prompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: prompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: []ContentPart{
		{Type: "text", Text: query},
		{Type: "input_audio", InputAudio: &InputAudio{
			Data:   base64.StdEncoding.EncodeToString(data),
			Format: "wav",
		}},
	}})

	return ChatRequest{
		Messages:    messages,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}, nil
}

// attempt runs one select-call-account cycle. The connection slot taken at
// selection is released on every path.
func (s *Service) attempt(ctx context.Context, chatReq ChatRequest, requestKey string) (content, backend string, elapsed time.Duration, err error) {
	var b *balancer.Backend
	if s.cfg.SingleBackend != "" {
		b, err = s.cfg.Registry.Take(s.cfg.SingleBackend)
	} else {
		b, err = s.cfg.Registry.Select(requestKey)
	}
	if err != nil {
		return "", "", 0, trace.Wrap(err)
	}
	name := b.Name()
	defer s.cfg.Registry.Release(name)

	cfg := b.Config()
	chatReq.Model = cfg.Model
	clt, err := newUpstreamClient(cfg)
	if err != nil {
		s.cfg.Registry.RecordResult(name, false, 0, err.Error())
		return "", name, 0, trace.Wrap(err)
	}

	start := s.cfg.Clock.Now()
	resp, err := clt.ChatCompletions(ctx, chatReq)
	elapsed = s.cfg.Clock.Now().Sub(start)
	if err != nil {
		s.cfg.Registry.RecordResult(name, false, elapsed, err.Error())
		return "", name, elapsed, trace.Wrap(err)
	}
	content = resp.Content()
	if content == "" {
		err = trace.ConnectionProblem(nil, "upstream returned no choices")
		s.cfg.Registry.RecordResult(name, false, elapsed, err.Error())
		return "", name, elapsed, trace.Wrap(err)
	}
	s.cfg.Registry.RecordResult(name, true, elapsed, "")
	return content, name, elapsed, nil
}

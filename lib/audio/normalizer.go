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

// Package audio normalizes uploaded clips to the canonical waveform: 16 kHz,
// mono, 16-bit signed PCM in a RIFF/WAV container. Inputs that already match
// pass through untouched; everything else is transcoded by an external
// ffmpeg process under two independent bounds, a semaphore on concurrent
// normalizations and a fixed pool of transcoder workers.
package audio

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/gravitational/lingualink"
	"github.com/gravitational/lingualink/lib/defaults"
	"github.com/gravitational/lingualink/lib/utils"
)

var (
	transcodesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lingualink_audio_transcodes_active",
		Help: "Transcodes currently running.",
	})
	transcodesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingualink_audio_transcodes_total",
		Help: "Completed transcodes by result.",
	}, []string{"result"})
	transcodeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lingualink_audio_transcode_seconds",
		Help:    "Wall time of one transcode.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// stderrTailBytes is how much transcoder stderr is preserved in errors.
const stderrTailBytes = 512

// NormalizerConfig configures the audio normalizer.
type NormalizerConfig struct {
	// Slots bounds concurrent normalizations; callers block here first.
	Slots int
	// Workers bounds transcoder child processes running at once.
	Workers int
	// Dir hosts transcoded files. Empty means the system temp directory.
	Dir string
	// FFmpegPath locates the transcoder binary.
	FFmpegPath string
	// Formats is the extension allow-list, lower case without dots.
	Formats []string
	// Clock times transcodes.
	Clock clockwork.Clock
	// Logger emits normalizer diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *NormalizerConfig) CheckAndSetDefaults() error {
	if c.Slots < 0 || c.Workers < 0 {
		return trace.BadParameter("slots and workers must be positive")
	}
	if c.Slots == 0 {
		c.Slots = defaults.AudioSlots
	}
	if c.Workers == 0 {
		c.Workers = defaults.AudioWorkers
	}
	if c.Dir == "" {
		c.Dir = os.TempDir()
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = defaults.FFmpegPath
	}
	if len(c.Formats) == 0 {
		c.Formats = defaults.AllowedFormats()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(lingualink.ComponentKey, lingualink.ComponentAudio)
	}
	return nil
}

// Stats is the operator view of the normalizer.
type Stats struct {
	// Active is the number of transcodes running right now.
	Active int64 `json:"active_transcodes"`
	// Total counts transcodes since process start.
	Total int64 `json:"total_transcodes"`
	// TotalSeconds is the summed wall time of all transcodes.
	TotalSeconds float64 `json:"total_seconds"`
}

// Normalizer converts uploads to the canonical waveform. It owns neither
// input nor output path lifetimes; the dispatcher cleans both up via
// CleanupWAV and its own unconditional removal of the original.
type Normalizer struct {
	cfg   NormalizerConfig
	slots *semaphore.Weighted
	jobs  chan transcodeJob
	wg    sync.WaitGroup

	active    atomic.Int64
	total     atomic.Int64
	wallNanos atomic.Int64

	// execCommand builds the transcoder invocation; tests substitute it.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

type transcodeJob struct {
	ctx  context.Context
	cmd  *exec.Cmd
	done chan error
}

// NewNormalizer starts the worker pool and returns a ready normalizer.
func NewNormalizer(cfg NormalizerConfig) (*Normalizer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(transcodesActive, transcodesTotal, transcodeSeconds); err != nil {
		return nil, trace.Wrap(err)
	}
	n := &Normalizer{
		cfg:         cfg,
		slots:       semaphore.NewWeighted(int64(cfg.Slots)),
		jobs:        make(chan transcodeJob),
		execCommand: exec.CommandContext,
	}
	for w := 0; w < cfg.Workers; w++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n, nil
}

// Close stops the worker pool. In-flight transcodes finish first.
func (n *Normalizer) Close() error {
	close(n.jobs)
	n.wg.Wait()
	return nil
}

func (n *Normalizer) worker() {
	defer n.wg.Done()
	for job := range n.jobs {
		if err := job.ctx.Err(); err != nil {
			job.done <- trace.Wrap(err)
			continue
		}
		job.done <- job.cmd.Run()
	}
}

// Supported reports whether ext (without the dot, any case) is on the
// allow-list.
func (n *Normalizer) Supported(ext string) bool {
	return slices.Contains(n.cfg.Formats, strings.ToLower(strings.TrimPrefix(ext, ".")))
}

// Normalize returns the path of a canonical WAV rendition of the clip at
// path. Already-canonical WAV inputs are returned unchanged; everything else
// is transcoded into a fresh temp file that the caller owns.
func (n *Normalizer) Normalize(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !n.Supported(ext) {
		return "", trace.Wrap(NewUnsupportedFormat(ext))
	}

	if ext == "wav" {
		info, err := InspectWAV(path)
		if err == nil && info.Canonical() {
			return path, nil
		}
		if err != nil {
			n.cfg.Logger.DebugContext(ctx, "WAV header not parseable, transcoding.", "path", path, "error", err)
		}
	}

	if err := n.slots.Acquire(ctx, 1); err != nil {
		return "", trace.Wrap(err)
	}
	defer n.slots.Release(1)

	out, err := os.CreateTemp(n.cfg.Dir, defaults.TempFilePrefix+"*.wav")
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	outPath := out.Name()
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", trace.ConvertSystemError(err)
	}

	if err := n.transcode(ctx, ext, path, outPath); err != nil {
		os.Remove(outPath)
		return "", trace.Wrap(err)
	}
	return outPath, nil
}

// transcode runs one ffmpeg child process through the worker pool.
func (n *Normalizer) transcode(ctx context.Context, ext, in, out string) error {
	var stderr bytes.Buffer
	cmd := n.execCommand(ctx, n.cfg.FFmpegPath, transcodeArgs(ext, in, out)...)
	cmd.Stderr = &stderr

	n.active.Add(1)
	transcodesActive.Inc()
	start := n.cfg.Clock.Now()
	defer func() {
		elapsed := n.cfg.Clock.Now().Sub(start)
		n.active.Add(-1)
		n.total.Add(1)
		n.wallNanos.Add(int64(elapsed))
		transcodesActive.Dec()
		transcodeSeconds.Observe(elapsed.Seconds())
	}()

	job := transcodeJob{ctx: ctx, cmd: cmd, done: make(chan error, 1)}
	select {
	case n.jobs <- job:
	case <-ctx.Done():
		transcodesTotal.WithLabelValues("failure").Inc()
		return trace.Wrap(ctx.Err())
	}
	if err := <-job.done; err != nil {
		transcodesTotal.WithLabelValues("failure").Inc()
		return trace.Wrap(NewTranscodeError("%v: %v", err, tail(stderr.Bytes())))
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		transcodesTotal.WithLabelValues("failure").Inc()
		return trace.Wrap(NewTranscodeError("transcoder produced no output for %v", filepath.Base(in)))
	}
	transcodesTotal.WithLabelValues("success").Inc()
	n.cfg.Logger.DebugContext(ctx, "Transcoded clip.", "in", filepath.Base(in), "out", filepath.Base(out))
	return nil
}

// transcodeArgs builds the ffmpeg command line. Opus uploads are demuxed as
// ogg with the libopus decoder; other formats use their natural container.
func transcodeArgs(ext, in, out string) []string {
	args := []string{"-y"}
	if ext == "opus" {
		args = append(args, "-f", "ogg", "-acodec", "libopus")
	}
	return append(args,
		"-i", in,
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-ac", strconv.Itoa(CanonicalChannels),
		"-sample_fmt", "s16",
		out,
	)
}

// CleanupWAV removes the canonical file when it is a transcoded copy. The
// original upload is never removed here; the dispatcher owns it.
func (n *Normalizer) CleanupWAV(wav, original string) {
	if wav == "" || wav == original {
		return
	}
	if err := os.Remove(wav); err != nil && !os.IsNotExist(err) {
		n.cfg.Logger.WarnContext(context.Background(), "Failed to remove transcoded file.", "path", wav, "error", err)
	}
}

// Stats returns running totals for the operator status endpoint.
func (n *Normalizer) Stats() Stats {
	return Stats{
		Active:       n.active.Load(),
		Total:        n.total.Load(),
		TotalSeconds: time.Duration(n.wallNanos.Load()).Seconds(),
	}
}

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return s
}

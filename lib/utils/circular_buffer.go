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

package utils

import (
	"sync"

	"github.com/gravitational/trace"
)

// CircularBuffer is a fixed-capacity ring of float64 samples. Once full,
// every Add evicts the oldest sample. It keeps a running sum so the rolling
// mean is O(1); the balancer uses one buffer per backend for response times.
type CircularBuffer struct {
	sync.Mutex
	buf   []float64
	start int
	end   int
	size  int
	sum   float64
}

// NewCircularBuffer returns a circular buffer that holds up to size samples
// before it rotates.
func NewCircularBuffer(size int) (*CircularBuffer, error) {
	if size <= 0 {
		return nil, trace.BadParameter("circular buffer size should be > 0")
	}
	return &CircularBuffer{
		buf:   make([]float64, size),
		start: -1,
		end:   -1,
	}, nil
}

// Add pushes a new sample onto the buffer, evicting the oldest one when the
// buffer is at capacity.
func (t *CircularBuffer) Add(d float64) {
	t.Lock()
	defer t.Unlock()

	if t.size == 0 {
		t.start = 0
		t.end = 0
		t.size = 1
	} else if t.size < len(t.buf) {
		t.end++
		t.size++
	} else {
		t.sum -= t.buf[t.start]
		t.end = t.start
		t.start = (t.start + 1) % len(t.buf)
	}

	t.buf[t.end] = d
	t.sum += d
}

// Data returns up to n of the most recent samples, oldest first.
func (t *CircularBuffer) Data(n int) []float64 {
	t.Lock()
	defer t.Unlock()

	if n <= 0 || t.size == 0 {
		return nil
	}

	// skip leading samples so that the most recent are always provided
	start := t.start
	if n < t.size {
		start = (t.start + (t.size - n)) % len(t.buf)
	}

	if start <= t.end {
		return append([]float64(nil), t.buf[start:t.end+1]...)
	}

	return append(append([]float64(nil), t.buf[start:]...), t.buf[:t.end+1]...)
}

// Len returns the number of samples currently held.
func (t *CircularBuffer) Len() int {
	t.Lock()
	defer t.Unlock()
	return t.size
}

// Mean returns the rolling mean over the held samples, or 0 when empty.
func (t *CircularBuffer) Mean() float64 {
	t.Lock()
	defer t.Unlock()
	if t.size == 0 {
		return 0
	}
	return t.sum / float64(t.size)
}

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

package audio

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/gravitational/trace"
)

// Canonical waveform parameters. Every upload is normalized to this triple
// before it is shipped upstream.
const (
	// CanonicalSampleRate is the canonical sampling frequency in Hz.
	CanonicalSampleRate = 16000
	// CanonicalChannels is the canonical channel count.
	CanonicalChannels = 1
	// CanonicalBitDepth is the canonical bits per sample, signed PCM.
	CanonicalBitDepth = 16
)

// pcmFormatTag is the RIFF format tag of uncompressed PCM audio.
const pcmFormatTag = 1

// WAVInfo describes the fmt chunk of a RIFF/WAV file.
type WAVInfo struct {
	// FormatTag is the RIFF audio format code; 1 is PCM.
	FormatTag uint16
	// Channels is the channel count.
	Channels uint16
	// SampleRate is the sampling frequency in Hz.
	SampleRate uint32
	// BitsPerSample is the sample width in bits.
	BitsPerSample uint16
}

// Canonical reports whether the file already matches the canonical triple
// and needs no transcoding.
func (i WAVInfo) Canonical() bool {
	return i.FormatTag == pcmFormatTag &&
		i.SampleRate == CanonicalSampleRate &&
		i.Channels == CanonicalChannels &&
		i.BitsPerSample == CanonicalBitDepth
}

// InspectWAV parses the RIFF header of the file at path and returns its fmt
// chunk. Malformed or truncated headers are errors; callers treat any error
// as "not canonical" and transcode.
func InspectWAV(path string) (*WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()
	info, err := ReadWAVHeader(f)
	return info, trace.Wrap(err)
}

// ReadWAVHeader parses a RIFF/WAVE header from r up to and including the
// fmt chunk.
func ReadWAVHeader(r io.Reader) (*WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, trace.BadParameter("truncated RIFF header: %v", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, trace.BadParameter("not a RIFF/WAVE file")
	}

	// chunks are not ordered; scan until fmt shows up
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return nil, trace.BadParameter("no fmt chunk found: %v", err)
		}
		size := binary.LittleEndian.Uint32(chunk[4:8])
		if string(chunk[0:4]) != "fmt " {
			// chunk sizes are padded to an even byte count
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, trace.BadParameter("truncated %q chunk: %v", string(chunk[0:4]), err)
			}
			continue
		}
		if size < 16 {
			return nil, trace.BadParameter("fmt chunk too short: %v bytes", size)
		}
		var fmtChunk [16]byte
		if _, err := io.ReadFull(r, fmtChunk[:]); err != nil {
			return nil, trace.BadParameter("truncated fmt chunk: %v", err)
		}
		return &WAVInfo{
			FormatTag:     binary.LittleEndian.Uint16(fmtChunk[0:2]),
			Channels:      binary.LittleEndian.Uint16(fmtChunk[2:4]),
			SampleRate:    binary.LittleEndian.Uint32(fmtChunk[4:8]),
			BitsPerSample: binary.LittleEndian.Uint16(fmtChunk[14:16]),
		}, nil
	}
}

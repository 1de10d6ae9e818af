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
	"errors"
	"fmt"
)

// UnsupportedFormatError rejects an upload whose extension is not on the
// allow-list. It maps to HTTP 400.
type UnsupportedFormatError struct {
	// Format is the offending extension, without the dot.
	Format string
}

// Error implements the error interface.
func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported audio format %q", e.Format)
}

// NewUnsupportedFormat returns an UnsupportedFormatError for ext.
func NewUnsupportedFormat(ext string) error {
	return &UnsupportedFormatError{Format: ext}
}

// IsUnsupportedFormat reports whether err is an UnsupportedFormatError at
// any depth.
func IsUnsupportedFormat(err error) bool {
	var u *UnsupportedFormatError
	return errors.As(err, &u)
}

// TranscodeError reports a transcoder child process that failed or produced
// no output. It maps to HTTP 500.
type TranscodeError struct {
	// Message carries the transcoder's failure text, typically the tail of
	// its stderr.
	Message string
}

// Error implements the error interface.
func (e *TranscodeError) Error() string {
	if e.Message == "" {
		return "audio transcoding failed"
	}
	return fmt.Sprintf("audio transcoding failed: %v", e.Message)
}

// NewTranscodeError returns a TranscodeError with a formatted message.
func NewTranscodeError(format string, args ...any) error {
	return &TranscodeError{Message: fmt.Sprintf(format, args...)}
}

// IsTranscodeError reports whether err is a TranscodeError at any depth.
func IsTranscodeError(err error) bool {
	var t *TranscodeError
	return errors.As(err, &t)
}

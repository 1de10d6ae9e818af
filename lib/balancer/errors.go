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

package balancer

import (
	"errors"
	"fmt"
)

// NoBackendError reports that no healthy backend with spare capacity was
// available at selection time. It maps to HTTP 503.
type NoBackendError struct {
	// Message says why selection came up empty.
	Message string
}

// Error implements the error interface.
func (e *NoBackendError) Error() string {
	if e.Message == "" {
		return "no backend available"
	}
	return e.Message
}

// NewNoBackend returns a NoBackendError with a formatted message.
func NewNoBackend(format string, args ...any) error {
	return &NoBackendError{Message: fmt.Sprintf(format, args...)}
}

// IsNoBackend reports whether err is a NoBackendError at any depth.
func IsNoBackend(err error) bool {
	var n *NoBackendError
	return errors.As(err, &n)
}

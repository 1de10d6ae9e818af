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

package inference

import (
	"errors"
	"fmt"
)

// AllFailedError reports that every dispatch attempt against a healthy
// backend failed. It maps to HTTP 502.
type AllFailedError struct {
	// Backend is the last backend tried.
	Backend string
	// LastError is the failure text of the final attempt.
	LastError string
	// Attempts is how many select-call-account cycles ran.
	Attempts int
}

// Error implements the error interface.
func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all %d attempts failed, last backend %q: %v", e.Attempts, e.Backend, e.LastError)
}

// IsAllFailed reports whether err is an AllFailedError at any depth.
func IsAllFailed(err error) bool {
	var a *AllFailedError
	return errors.As(err, &a)
}

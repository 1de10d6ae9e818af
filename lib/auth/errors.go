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

package auth

import (
	"errors"
	"fmt"
)

// UnauthorizedError rejects a request that presented no valid credential.
// It maps to HTTP 401; trace.AccessDenied stays reserved for valid
// credentials that lack the admin flag (403).
type UnauthorizedError struct {
	// Message says what was wrong with the credential.
	Message string
}

// Error implements the error interface.
func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

// NewUnauthorized returns an UnauthorizedError with a formatted message.
func NewUnauthorized(format string, args ...any) error {
	return &UnauthorizedError{Message: fmt.Sprintf(format, args...)}
}

// IsUnauthorized reports whether err is an UnauthorizedError at any depth.
func IsUnauthorized(err error) bool {
	var u *UnauthorizedError
	return errors.As(err, &u)
}

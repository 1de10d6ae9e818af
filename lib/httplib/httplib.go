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

// Package httplib renders every gateway response in one JSON envelope and
// maps the domain error taxonomy onto HTTP status codes.
package httplib

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/lingualink/lib/audio"
	"github.com/gravitational/lingualink/lib/auth"
	"github.com/gravitational/lingualink/lib/balancer"
	"github.com/gravitational/lingualink/lib/inference"
)

// Envelope is the uniform response shape of every endpoint.
type Envelope struct {
	// Status is "success" or "error".
	Status string `json:"status"`
	// Message is the human-readable error text, error responses only.
	Message string `json:"message,omitempty"`
	// Data is the endpoint's payload, success responses only.
	Data any `json:"data,omitempty"`
	// Details carries structured error context when debug is enabled.
	Details any `json:"details,omitempty"`
}

// HandlerFunc is an endpoint that returns a payload or a domain error; the
// wrapper owns serialization and status codes.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler adapts fn to httprouter, wrapping its result in the envelope.
// With debug set, error responses carry the full error text in details.
func MakeHandler(fn HandlerFunc, debug bool) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err, debug)
			return
		}
		ReplyJSON(w, http.StatusOK, Envelope{Status: "success", Data: out})
	}
}

// ReplyJSON writes the envelope with the given status code.
func ReplyJSON(w http.ResponseWriter, code int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(env)
}

// ReplyError maps err to its status code and writes an error envelope.
// Internal errors are masked unless debug is on. Validation failures always
// carry details; everything else only when debug is on.
func ReplyError(w http.ResponseWriter, err error, debug bool) {
	code := ErrorToCode(err)
	env := Envelope{Status: "error", Message: trace.UserMessage(err)}
	if code == http.StatusInternalServerError && !debug {
		env.Message = "internal server error"
	}
	if debug || code == http.StatusBadRequest {
		env.Details = map[string]any{"error": err.Error()}
	}
	ReplyJSON(w, code, env)
}

// ErrorToCode maps the gateway's error taxonomy onto HTTP status codes.
func ErrorToCode(err error) int {
	switch {
	case auth.IsUnauthorized(err):
		return http.StatusUnauthorized
	case trace.IsAccessDenied(err):
		return http.StatusForbidden
	case trace.IsLimitExceeded(err):
		return http.StatusRequestEntityTooLarge
	case audio.IsUnsupportedFormat(err), trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsAlreadyExists(err):
		return http.StatusConflict
	case balancer.IsNoBackend(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case inference.IsAllFailed(err), trace.IsConnectionProblem(err):
		return http.StatusBadGateway
	case audio.IsTranscodeError(err):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// maxJSONBodyBytes caps operator API request bodies.
const maxJSONBodyBytes = 1 << 20

// ReadJSON decodes the request body into val.
func ReadJSON(r *http.Request, val any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, val); err != nil {
		return trace.BadParameter("malformed request body: %v", err)
	}
	return nil
}

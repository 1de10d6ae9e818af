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

package web

import (
	"net/http"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/lingualink/lib/auth"
	"github.com/gravitational/lingualink/lib/httplib"
)

// verifyCredential checks the credential presented in the usual headers and
// reports validity without gating on it, so clients can probe their own key.
func (h *Handler) verifyCredential(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if h.cfg.Verifier.Disabled() {
		return map[string]any{"valid": true, "auth_disabled": true}, nil
	}
	secret := credentialFrom(r)
	if secret == "" {
		return nil, trace.Wrap(auth.NewUnauthorized("missing credential: set X-API-Key or a bearer Authorization header"))
	}
	valid, admin, err := h.cfg.Verifier.Verify(r.Context(), secret)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"valid": valid, "is_admin": admin}, nil
}

// maskedKey is the listing shape of a credential record: every field of the
// stored key except the full secret.
type maskedKey struct {
	Secret string `json:"api_key"`
	auth.Key
}

// listKeys returns all credential records with masked secrets. Revoked
// records are included with ?include_revoked=true.
func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	includeRevoked, _ := strconv.ParseBool(r.URL.Query().Get("include_revoked"))
	keys, err := h.cfg.Verifier.ListKeys(r.Context(), includeRevoked)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]maskedKey, 0, len(keys))
	for _, key := range keys {
		mk := maskedKey{Secret: key.Masked(), Key: key}
		mk.Key.Secret = ""
		out = append(out, mk)
	}
	return map[string]any{"keys": out, "count": len(out)}, nil
}

type createKeyRequest struct {
	Name        string `json:"name"`
	TTLDays     int    `json:"ttl_days"`
	Description string `json:"description"`
	Admin       bool   `json:"is_admin"`
}

// createKey issues a new credential. The full secret appears in this
// response and never again.
func (h *Handler) createKey(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	var req createKeyRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	createdBy := id.KeyPrefix
	if id.Anonymous {
		createdBy = "anonymous"
	}
	key, err := h.cfg.Verifier.CreateKey(r.Context(), auth.CreateKeyRequest{
		Name:        req.Name,
		TTLDays:     req.TTLDays,
		Description: req.Description,
		CreatedBy:   createdBy,
		Admin:       req.Admin,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return key, nil
}

// revokeKey deactivates the credential and drops its cache entry.
func (h *Handler) revokeKey(w http.ResponseWriter, r *http.Request, p httprouter.Params, id auth.Identity) (any, error) {
	secret := p.ByName("secret")
	found, err := h.cfg.Verifier.Revoke(r.Context(), secret)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !found {
		return nil, trace.NotFound("key not found")
	}
	return map[string]any{"revoked": true}, nil
}

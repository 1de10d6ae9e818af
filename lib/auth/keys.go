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

// Package auth implements the credential subsystem of the gateway: a durable
// store of opaque API keys, an optional verification cache in front of it,
// and the verifier that the web layer consults on every request.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/gravitational/trace"
)

// SecretPrefix starts every credential secret issued by this gateway.
const SecretPrefix = "lls_"

// secretRandomBytes is the entropy of one secret before encoding.
const secretRandomBytes = 32

// Key is one credential record. The secret itself is the lookup key; rows
// are never deleted, revocation only clears Active.
type Key struct {
	// Secret is the opaque credential presented by callers.
	Secret string `json:"api_key"`
	// Name is the display name given at creation.
	Name string `json:"name"`
	// CreatedAt is when the key was issued.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is the optional expiry. Nil means the key never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Active is cleared by revocation.
	Active bool `json:"is_active"`
	// UsageCount increments on every successful verification.
	UsageCount int64 `json:"usage_count"`
	// LastUsedAt tracks the most recent successful verification.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	// Description is free operator text.
	Description string `json:"description,omitempty"`
	// CreatedBy tags the issuer.
	CreatedBy string `json:"created_by,omitempty"`
	// Admin grants access to the operator endpoints.
	Admin bool `json:"is_admin"`
}

// Valid reports whether the key authenticates at the given instant.
func (k *Key) Valid(now time.Time) bool {
	return k.Active && (k.ExpiresAt == nil || k.ExpiresAt.After(now))
}

// Masked returns the secret's printable form for listings: the prefix and
// the first few random characters, never the whole credential.
func (k *Key) Masked() string {
	const visible = len(SecretPrefix) + 8
	if len(k.Secret) <= visible {
		return k.Secret
	}
	return k.Secret[:visible] + "..."
}

// NewSecret generates a fresh credential secret: the fixed prefix followed
// by 32 bytes of cryptographic randomness, URL-safe encoded without padding.
func NewSecret() (string, error) {
	b := make([]byte, secretRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", trace.Wrap(err)
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

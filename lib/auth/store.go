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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/gravitational/lingualink"
)

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
    api_key      TEXT PRIMARY KEY,
    name         TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL,
    expires_at   TIMESTAMP,
    is_active    BOOLEAN NOT NULL DEFAULT TRUE,
    usage_count  INTEGER NOT NULL DEFAULT 0,
    last_used_at TIMESTAMP,
    description  TEXT NOT NULL DEFAULT '',
    created_by   TEXT NOT NULL DEFAULT '',
    is_admin     BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS api_keys_active_idx ON api_keys (is_active);
`

const keyColumns = "api_key, name, created_at, expires_at, is_active, usage_count, last_used_at, description, created_by, is_admin"

// StoreConfig configures the credential store.
type StoreConfig struct {
	// Path is the sqlite database file. Created when missing.
	Path string
	// Clock issues creation, expiry and last-used timestamps.
	Clock clockwork.Clock
	// Logger emits store diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *StoreConfig) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("missing store path")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(lingualink.ComponentKey, lingualink.ComponentAuth)
	}
	return nil
}

// Store is the durable credential record store. Verification is one indexed
// lookup plus one single-statement counter update, so it is safe on the
// request hot path even without the cache.
type Store struct {
	cfg StoreConfig
	db  *sql.DB
}

// NewStore opens (and if needed creates) the credential database.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%v?_busy_timeout=10000", cfg.Path))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "failed to initialize credential schema at %v", cfg.Path)
	}
	return &Store{cfg: cfg, db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return trace.Wrap(s.db.Close())
}

// CreateKeyRequest carries the parameters of CreateKey.
type CreateKeyRequest struct {
	// Name is the display name of the key.
	Name string
	// TTLDays sets the expiry that many days from now. Zero means the key
	// never expires.
	TTLDays int
	// Description is free operator text.
	Description string
	// CreatedBy tags the issuer.
	CreatedBy string
	// Admin grants access to operator endpoints.
	Admin bool
}

// CreateKey generates a fresh secret and persists its record. The full
// secret is returned exactly once, inside the stored Key.
func (s *Store) CreateKey(ctx context.Context, req CreateKeyRequest) (*Key, error) {
	if req.TTLDays < 0 {
		return nil, trace.BadParameter("ttl days must be zero or positive, got %v", req.TTLDays)
	}

	key := Key{
		Name:        req.Name,
		CreatedAt:   s.cfg.Clock.Now().UTC(),
		Active:      true,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		Admin:       req.Admin,
	}
	if req.TTLDays > 0 {
		expires := key.CreatedAt.Add(time.Duration(req.TTLDays) * 24 * time.Hour)
		key.ExpiresAt = &expires
	}

	// collisions of 32 random bytes are vanishingly rare, retry regardless
	for attempt := 0; attempt < 3; attempt++ {
		secret, err := NewSecret()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		key.Secret = secret

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO api_keys (`+keyColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			key.Secret, key.Name, key.CreatedAt, key.ExpiresAt, key.Active,
			key.UsageCount, key.LastUsedAt, key.Description, key.CreatedBy, key.Admin)
		if err == nil {
			return &key, nil
		}
		if !isUniqueViolation(err) {
			return nil, trace.Wrap(err)
		}
		s.cfg.Logger.WarnContext(ctx, "Generated secret collided, retrying.")
	}
	return nil, trace.AlreadyExists("failed to generate a unique secret")
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		serr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// VerifyKey checks the secret and, when it is valid, atomically increments
// the usage counter and stamps last-used. Missing or invalid secrets are not
// errors: the first return distinguishes them.
func (s *Store) VerifyKey(ctx context.Context, secret string) (valid bool, admin bool, err error) {
	var active bool
	var expires sql.NullTime
	row := s.db.QueryRowContext(ctx,
		`SELECT is_active, is_admin, expires_at FROM api_keys WHERE api_key = ?`, secret)
	if err := row.Scan(&active, &admin, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, trace.Wrap(err)
	}

	now := s.cfg.Clock.Now().UTC()
	if !active || (expires.Valid && !expires.Time.After(now)) {
		return false, admin, nil
	}
	if err := s.BumpUsage(ctx, secret); err != nil {
		return false, false, trace.Wrap(err)
	}
	return true, admin, nil
}

// BumpUsage increments the usage counter and stamps last-used in one
// statement. Unknown secrets are a no-op.
func (s *Store) BumpUsage(ctx context.Context, secret string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = ? WHERE api_key = ?`,
		s.cfg.Clock.Now().UTC(), secret)
	return trace.Wrap(err)
}

// RevokeKey clears the active flag. It reports whether the record exists;
// revoking an already revoked key succeeds again.
func (s *Store) RevokeKey(ctx context.Context, secret string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = FALSE WHERE api_key = ?`, secret)
	if err != nil {
		return false, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return n > 0, nil
}

// SetAdmin flips the admin flag. It reports whether the record exists.
func (s *Store) SetAdmin(ctx context.Context, secret string, admin bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_admin = ? WHERE api_key = ?`, admin, secret)
	if err != nil {
		return false, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return n > 0, nil
}

// UpdateDescription replaces the free-text description. It reports whether
// the record exists.
func (s *Store) UpdateDescription(ctx context.Context, secret, description string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET description = ? WHERE api_key = ?`, description, secret)
	if err != nil {
		return false, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return n > 0, nil
}

// GetKey returns the full record for the secret.
func (s *Store) GetKey(ctx context.Context, secret string) (*Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE api_key = ?`, secret)
	key, err := scanKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("key not found")
		}
		return nil, trace.Wrap(err)
	}
	return key, nil
}

// ListKeys returns all records, newest first. Revoked records are included
// only on request.
func (s *Store) ListKeys(ctx context.Context, includeRevoked bool) ([]Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys`
	if !includeRevoked {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at DESC, api_key`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		keys = append(keys, *key)
	}
	return keys, trace.Wrap(rows.Err())
}

// CleanupExpired revokes every record whose expiry has passed and reports
// how many were affected. Safe to run periodically.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = FALSE
		 WHERE is_active AND expires_at IS NOT NULL AND expires_at <= ?`,
		s.cfg.Clock.Now().UTC())
	if err != nil {
		return 0, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*Key, error) {
	var key Key
	var expires, lastUsed sql.NullTime
	if err := row.Scan(&key.Secret, &key.Name, &key.CreatedAt, &expires, &key.Active,
		&key.UsageCount, &lastUsed, &key.Description, &key.CreatedBy, &key.Admin); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		key.ExpiresAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsedAt = &t
	}
	return &key, nil
}

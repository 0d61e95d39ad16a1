// internal/config/store.go
//
// Runtime key-value store for sync tunables.
//
// Context
// -------
// Static configuration (loader.go) covers boot-time settings.  A handful of
// sync tunables must additionally be adjustable at run time, both by
// operators and by counterpart domains via `configuration_sync` pushes.
// Those live in the `sync_config` table and are read through this store.
//
// Inbound configuration pushes are untrusted, so MergeRecognized only
// accepts keys on a fixed allowlist; everything else is dropped and logged
// by the caller.

package config

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/jmoiron/sqlx"
)

// Recognized keys accepted from configuration_sync payloads and exposed to
// the orchestrator.  Keep this list closed; arbitrary keys from the wire
// must never reach the table.
const (
	KeySyncEnabled      = "sync_enabled"
	KeyRealTimeSync     = "real_time_sync"
	KeyConflictStrategy = "conflict_strategy"
	KeyCompress         = "compress_payloads"
	KeyEncrypt          = "encrypt_payloads"
	KeyBatchSize        = "batch_size"
)

var recognized = map[string]bool{
	KeySyncEnabled:      true,
	KeyRealTimeSync:     true,
	KeyConflictStrategy: true,
	KeyCompress:         true,
	KeyEncrypt:          true,
	KeyBatchSize:        true,
}

// Store reads and writes the sync_config table.  Safe for concurrent use;
// all state lives in the database.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db.  The table is expected to exist.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// Get returns the stored value and whether the key exists.
func (s *Store) Get(ctx context.Context, name string) (string, bool, error) {
	var val string
	err := s.db.GetContext(ctx, &val,
		`SELECT value FROM sync_config WHERE name = ?`, name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set upserts one key.
func (s *Store) Set(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sync_config (name, value)
        VALUES (?, ?)
        ON DUPLICATE KEY UPDATE value = VALUES(value)`,
		name, value)
	return err
}

// Bool reads a key as boolean, returning def when absent or malformed.
func (s *Store) Bool(ctx context.Context, name string, def bool) bool {
	val, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

// Int reads a key as integer, returning def when absent or malformed.
func (s *Store) Int(ctx context.Context, name string, def int) int {
	val, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

// String reads a key, returning def when absent.
func (s *Store) String(ctx context.Context, name, def string) string {
	val, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return def
	}
	return val
}

// MergeRecognized applies only allowlisted keys from an inbound
// configuration_sync payload.  Returns the keys applied and the keys
// skipped so the receiver can log both.
func (s *Store) MergeRecognized(ctx context.Context, values map[string]string) (applied, skipped []string, err error) {
	for name, value := range values {
		if !recognized[name] {
			skipped = append(skipped, name)
			continue
		}
		if err = s.Set(ctx, name, value); err != nil {
			return applied, skipped, err
		}
		applied = append(applied, name)
	}
	return applied, skipped, nil
}

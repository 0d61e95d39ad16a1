// internal/domain/repository.go
//
// Query helpers for the satellite domain registry.
//
// Context
// -------
// These helpers accept a *sqlx.DB and perform simple parameterised queries.
// They are thin; the origin-resolution cache in cache.go wraps ByOrigin with
// memoisation for the hot inbound-webhook path.
//
// The failure counter is updated with `counter = counter + 1` so concurrent
// writers (parallel sends, multiple processes) cannot lose increments.

package domain

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when no domain row matches an origin.
var ErrNotFound = errors.New("domain not found")

const selectColumns = `
        id, name, base_url, webhook_url, webhook_secret,
        status, verification, webhook_failures,
        last_activity_at, last_webhook_at, created_at, updated_at`

// ListEligible returns every domain that participates in sync: active,
// verified, and carrying a webhook URL.  Order is stable so batch runs walk
// domains deterministically.
func ListEligible(ctx context.Context, db *sqlx.DB) ([]Record, error) {
	const q = `
        SELECT ` + selectColumns + `
        FROM   domain
        WHERE  status = 'active'
          AND  verification = 'verified'
          AND  webhook_url IS NOT NULL
          AND  webhook_url <> ''
        ORDER BY id`
	var rows []Record
	if err := db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// ByOrigin fetches the domain whose base URL matches the request origin.
// The origin is normalised to scheme://host before lookup so paths and
// trailing slashes on either side do not matter.
func ByOrigin(ctx context.Context, db *sqlx.DB, origin string) (*Record, error) {
	norm, err := NormalizeOrigin(origin)
	if err != nil {
		return nil, ErrNotFound
	}

	const q = `
        SELECT ` + selectColumns + `
        FROM   domain
        WHERE  base_url = ?
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, norm); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// IncrementWebhookFailure bumps the counter atomically at the storage
// layer.
func IncrementWebhookFailure(ctx context.Context, db *sqlx.DB, id uint64) error {
	_, err := db.ExecContext(ctx, `
        UPDATE domain
        SET    webhook_failures = webhook_failures + 1
        WHERE  id = ?`, id)
	return err
}

// ResetWebhookFailure zeroes the counter and stamps the last successful
// delivery time.
func ResetWebhookFailure(ctx context.Context, db *sqlx.DB, id uint64) error {
	_, err := db.ExecContext(ctx, `
        UPDATE domain
        SET    webhook_failures = 0,
               last_webhook_at  = NOW()
        WHERE  id = ?`, id)
	return err
}

// TouchActivity stamps last_activity_at, called when a valid inbound push
// arrives from the domain.
func TouchActivity(ctx context.Context, db *sqlx.DB, id uint64) error {
	_, err := db.ExecContext(ctx, `
        UPDATE domain
        SET    last_activity_at = NOW()
        WHERE  id = ?`, id)
	return err
}

// NormalizeOrigin reduces an Origin header or arbitrary URL to
// scheme://host.  A bare host is assumed to be https.
func NormalizeOrigin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty origin")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", errors.New("unparseable origin")
	}
	return u.Scheme + "://" + u.Host, nil
}

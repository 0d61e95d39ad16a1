// internal/tracking/importer.go
//
// Idempotent apply path for inbound data_sync payloads.
//
// Context
// -------
// Each row type deduplicates on a natural composite key before inserting:
//
//   conversions  (domain, value, created_at)
//   usage        (session_id, vanity_code_id, created_at)
//   vanity codes (code, domain)
//   analytics    none, append-only log
//
// The conversion key is coarse: two genuinely distinct sales with the same
// value in the same second from the same domain collapse into one row.
// The upstream data carries no stable event id, so this approximation is
// accepted and downstream reporting tolerates the rare miss.
//
// The check-then-insert pair is not transactional.  Two concurrent
// deliveries of the same record can both pass the existence check and
// insert twice.  That window is narrow, the keys rarely collide, and the
// duplicate heuristic in the integrity checker surfaces any fallout; do
// not paper over it with a lock here.

package tracking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/codec"
	"github.com/AdeptTravel/satlink/internal/domain"
)

// Importer applies decoded wire rows to the local tables.
type Importer struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewImporter constructs an Importer.
func NewImporter(db *sqlx.DB, log *zap.SugaredLogger) *Importer {
	return &Importer{db: db, log: log}
}

// Apply routes rows to the importer for dt and returns how many were
// inserted (duplicates skip silently).  Row-level problems are logged and
// skipped; only storage failures abort the batch.
func (im *Importer) Apply(ctx context.Context, dt codec.DataType, source *domain.Record, rows []codec.Row) (int, error) {
	inserted := 0
	for _, row := range rows {
		var (
			ok  bool
			err error
		)
		switch dt {
		case codec.DataConversion:
			ok, err = im.applyConversion(ctx, source, row)
		case codec.DataUsage:
			ok, err = im.applyUsage(ctx, source, row)
		case codec.DataAnalytics:
			ok, err = im.applyAnalytics(ctx, source, row)
		case codec.DataVanityCode:
			ok, err = im.applyVanityCode(ctx, source, row)
		case codec.DataSyncMarker:
			return inserted, fmt.Errorf("apply: %s payloads carry no rows", dt)
		default:
			return inserted, fmt.Errorf("apply: unknown data type %q", dt)
		}
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (im *Importer) applyConversion(ctx context.Context, source *domain.Record, row codec.Row) (bool, error) {
	host := rowString(row, "domain", source.BaseURL)
	value, err := rowFloat(row, "value")
	if err != nil {
		im.log.Warnw("conversion row skipped", "source", source.Name, "err", err)
		return false, nil
	}
	createdAt, err := rowTime(row, "created_at")
	if err != nil {
		im.log.Warnw("conversion row skipped", "source", source.Name, "err", err)
		return false, nil
	}

	var exists int
	err = im.db.GetContext(ctx, &exists, `
        SELECT COUNT(*) FROM conversion
        WHERE  domain = ? AND value = ? AND created_at = ?`,
		host, value, createdAt.Format(wireTime))
	if err != nil {
		return false, fmt.Errorf("conversion existence check: %w", err)
	}
	if exists > 0 {
		return false, nil
	}

	_, err = im.db.ExecContext(ctx, `
        INSERT INTO conversion (domain, code, value, session_id, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		host, rowString(row, "code", ""), value,
		rowString(row, "session_id", ""), createdAt.Format(wireTime))
	if err != nil {
		return false, fmt.Errorf("insert conversion: %w", err)
	}
	return true, nil
}

func (im *Importer) applyUsage(ctx context.Context, source *domain.Record, row codec.Row) (bool, error) {
	sessionID := rowString(row, "session_id", "")
	codeID, err := rowUint(row, "vanity_code_id")
	if err != nil || sessionID == "" {
		im.log.Warnw("usage row skipped", "source", source.Name, "err", err)
		return false, nil
	}
	createdAt, err := rowTime(row, "created_at")
	if err != nil {
		im.log.Warnw("usage row skipped", "source", source.Name, "err", err)
		return false, nil
	}

	var exists int
	err = im.db.GetContext(ctx, &exists, `
        SELECT COUNT(*) FROM code_usage
        WHERE  session_id = ? AND vanity_code_id = ? AND created_at = ?`,
		sessionID, codeID, createdAt.Format(wireTime))
	if err != nil {
		return false, fmt.Errorf("usage existence check: %w", err)
	}
	if exists > 0 {
		return false, nil
	}

	_, err = im.db.ExecContext(ctx, `
        INSERT INTO code_usage (vanity_code_id, session_id, domain, created_at)
        VALUES (?, ?, ?, ?)`,
		codeID, sessionID,
		rowString(row, "domain", source.BaseURL), createdAt.Format(wireTime))
	if err != nil {
		return false, fmt.Errorf("insert usage: %w", err)
	}
	return true, nil
}

// applyAnalytics inserts unconditionally; the table is an append-only log.
func (im *Importer) applyAnalytics(ctx context.Context, source *domain.Record, row codec.Row) (bool, error) {
	createdAt, err := rowTime(row, "created_at")
	if err != nil {
		createdAt = time.Now()
	}
	_, err = im.db.ExecContext(ctx, `
        INSERT INTO analytics_event
               (domain, event, url, browser, os, device_class, country, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rowString(row, "domain", source.BaseURL),
		rowString(row, "event", ""),
		rowString(row, "url", ""),
		rowString(row, "browser", ""),
		rowString(row, "os", ""),
		rowString(row, "device_class", ""),
		rowString(row, "country", ""),
		createdAt.Format(wireTime))
	if err != nil {
		return false, fmt.Errorf("insert analytics: %w", err)
	}
	return true, nil
}

func (im *Importer) applyVanityCode(ctx context.Context, source *domain.Record, row codec.Row) (bool, error) {
	code := rowString(row, "code", "")
	if code == "" {
		im.log.Warnw("vanity code row skipped", "source", source.Name)
		return false, nil
	}
	host := rowString(row, "domain", source.BaseURL)

	var exists int
	err := im.db.GetContext(ctx, &exists, `
        SELECT COUNT(*) FROM vanity_code
        WHERE  code = ? AND domain = ?`, code, host)
	if err != nil {
		return false, fmt.Errorf("vanity code existence check: %w", err)
	}
	if exists > 0 {
		return false, nil
	}

	createdAt, err := rowTime(row, "created_at")
	if err != nil {
		createdAt = time.Now()
	}
	_, err = im.db.ExecContext(ctx, `
        INSERT INTO vanity_code (code, domain, active, created_at)
        VALUES (?, ?, ?, ?)`,
		code, host, rowBool(row, "active", true), createdAt.Format(wireTime))
	if err != nil {
		return false, fmt.Errorf("insert vanity code: %w", err)
	}
	return true, nil
}

/*──────────────────────── row field helpers ───────────────────────────────*/

// JSON decoding leaves numbers as float64 and everything else as string or
// bool; these helpers absorb that looseness once, at the edge.

func rowString(row codec.Row, key, def string) string {
	if v, ok := row[key].(string); ok && v != "" {
		return v
	}
	return def
}

func rowFloat(row codec.Row, key string) (float64, error) {
	switch v := row[key].(type) {
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return 0, fmt.Errorf("field %q missing or not numeric", key)
}

func rowUint(row codec.Row, key string) (uint64, error) {
	switch v := row[key].(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("field %q negative", key)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case string:
		return strconv.ParseUint(v, 10, 64)
	}
	return 0, fmt.Errorf("field %q missing or not numeric", key)
}

func rowBool(row codec.Row, key string, def bool) bool {
	if v, ok := row[key].(bool); ok {
		return v
	}
	return def
}

func rowTime(row codec.Row, key string) (time.Time, error) {
	s, ok := row[key].(string)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("field %q missing", key)
	}
	if t, err := time.Parse(wireTime, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

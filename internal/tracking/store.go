// internal/tracking/store.go
//
// Read-side helpers for payload assembly, plus retention purges.
//
// Context
// -------
// The orchestrator pulls recent rows here, converts them to wire rows, and
// hands them to the transport.  Field names in the returned codec.Row maps
// are the wire contract; the importers on the receiving side read the same
// names back.

package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/AdeptTravel/satlink/internal/codec"
)

// Store wraps the tracking tables.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// FetchRows returns wire rows of the given type created since the cutoff,
// oldest first, bounded by limit.  The switch is exhaustive over payload
// data types; sync markers never carry rows.
func (s *Store) FetchRows(ctx context.Context, dt codec.DataType, since time.Time, limit int) ([]codec.Row, error) {
	switch dt {
	case codec.DataConversion:
		var recs []Conversion
		err := s.db.SelectContext(ctx, &recs, `
            SELECT id, domain, code, value, session_id, created_at
            FROM   conversion
            WHERE  created_at >= ?
            ORDER BY created_at ASC, id ASC
            LIMIT  ?`, since, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch conversions: %w", err)
		}
		rows := make([]codec.Row, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, codec.Row{
				"domain":     r.Domain,
				"code":       r.Code,
				"value":      r.Value,
				"session_id": r.SessionID,
				"created_at": r.CreatedAt.Format(wireTime),
			})
		}
		return rows, nil

	case codec.DataUsage:
		var recs []Usage
		err := s.db.SelectContext(ctx, &recs, `
            SELECT id, vanity_code_id, session_id, domain, created_at
            FROM   code_usage
            WHERE  created_at >= ?
            ORDER BY created_at ASC, id ASC
            LIMIT  ?`, since, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch usage: %w", err)
		}
		rows := make([]codec.Row, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, codec.Row{
				"vanity_code_id": r.VanityCodeID,
				"session_id":     r.SessionID,
				"domain":         r.Domain,
				"created_at":     r.CreatedAt.Format(wireTime),
			})
		}
		return rows, nil

	case codec.DataAnalytics:
		var recs []AnalyticsEvent
		err := s.db.SelectContext(ctx, &recs, `
            SELECT id, domain, event, url, browser, os, device_class, country, created_at
            FROM   analytics_event
            WHERE  created_at >= ?
            ORDER BY created_at ASC, id ASC
            LIMIT  ?`, since, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch analytics: %w", err)
		}
		rows := make([]codec.Row, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, codec.Row{
				"domain":       r.Domain,
				"event":        r.Event,
				"url":          r.URL,
				"browser":      r.Browser,
				"os":           r.OS,
				"device_class": r.DeviceClass,
				"country":      r.Country,
				"created_at":   r.CreatedAt.Format(wireTime),
			})
		}
		return rows, nil

	case codec.DataVanityCode:
		var recs []VanityCode
		err := s.db.SelectContext(ctx, &recs, `
            SELECT id, code, domain, active, created_at
            FROM   vanity_code
            WHERE  created_at >= ?
            ORDER BY created_at ASC, id ASC
            LIMIT  ?`, since, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch vanity codes: %w", err)
		}
		rows := make([]codec.Row, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, codec.Row{
				"code":       r.Code,
				"domain":     r.Domain,
				"active":     r.Active,
				"created_at": r.CreatedAt.Format(wireTime),
			})
		}
		return rows, nil

	case codec.DataSyncMarker:
		return nil, nil
	}
	return nil, fmt.Errorf("fetch: unknown data type %q", dt)
}

// PurgeOlderThan deletes tracking rows past the retention window.
// Vanity codes are definitions, not events, and are never purged.
func (s *Store) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	var total int64
	for _, table := range []string{"conversion", "code_usage", "analytics_event"} {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE created_at < NOW() - INTERVAL ? DAY`,
			retentionDays)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// internal/syncer/run.go
//
// Audit records for batch and full runs.
//
// Context
// -------
// One sync_run row is inserted when a run starts and finalized exactly
// once when it ends; the row is immutable afterwards and exists purely for
// observability (status endpoint, operator queries).  Per-domain errors
// accumulate in a JSON list on the row.

package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Result accumulates per-run counters while the run executes.
type Result struct {
	DomainsTotal     int
	DomainsSucceeded int
	RecordsAttempted int
	RecordsSucceeded int
	RecordsFailed    int
	Errors           []string
}

// addError records one per-domain failure without aborting the run.
func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// startRun inserts the open run row.
func startRun(ctx context.Context, db *sqlx.DB, id, cadence string) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO sync_run (id, cadence, started_at, failed)
        VALUES (?, ?, NOW(), FALSE)`, id, cadence)
	if err != nil {
		return fmt.Errorf("start %s run: %w", cadence, err)
	}
	return nil
}

// finishRun finalizes the row.  runErr non-nil marks the whole run failed;
// res may be partially filled in that case.
func finishRun(ctx context.Context, db *sqlx.DB, id string, res *Result, runErr error) error {
	errList, err := json.Marshal(res.Errors)
	if err != nil {
		errList = []byte("[]")
	}

	var errMsg *string
	failed := false
	if runErr != nil {
		failed = true
		msg := runErr.Error()
		errMsg = &msg
	}

	_, err = db.ExecContext(ctx, `
        UPDATE sync_run
        SET    finished_at = NOW(), failed = ?, error = ?,
               domains_total = ?, domains_succeeded = ?,
               records_attempted = ?, records_succeeded = ?, records_failed = ?,
               errors = ?
        WHERE  id = ?`,
		failed, errMsg,
		res.DomainsTotal, res.DomainsSucceeded,
		res.RecordsAttempted, res.RecordsSucceeded, res.RecordsFailed,
		string(errList), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// Stats summarises the sync_run table for the status endpoint.
type Stats struct {
	TotalSyncs      int        `db:"total_syncs" json:"total_syncs"`
	SuccessfulSyncs int        `db:"successful_syncs" json:"successful_syncs"`
	FailedSyncs     int        `db:"failed_syncs" json:"failed_syncs"`
	LastSync        *time.Time `db:"last_sync" json:"last_sync"`
}

// loadStats counts finished runs.
func loadStats(ctx context.Context, db *sqlx.DB) (Stats, error) {
	var s Stats
	err := db.GetContext(ctx, &s, `
        SELECT COUNT(*)                              AS total_syncs,
               COALESCE(SUM(failed = FALSE), 0)      AS successful_syncs,
               COALESCE(SUM(failed = TRUE), 0)       AS failed_syncs,
               MAX(finished_at)                      AS last_sync
        FROM   sync_run
        WHERE  finished_at IS NOT NULL`)
	if err != nil {
		return s, fmt.Errorf("load sync stats: %w", err)
	}
	return s, nil
}

// internal/integrity/checker.go
//
// Data-health checks run once per full sync, globally.
//
// Context
// -------
// Two heuristics, both report-only:
//
//   • orphaned usage – usage rows whose vanity code no longer exists
//   • duplicate conversions – (domain, code, value, day) groups appearing
//     more than once
//
// The checker never repairs anything; the latest-wins deletions happen in
// the conflict resolver, scoped to usage rows.  Results surface to
// operators through logs and two gauges.

package integrity

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/metrics"
)

// Report summarises one check pass.
type Report struct {
	OrphanedUsage        int
	DuplicateConversions int
}

// Checker runs the health queries.
type Checker struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// New constructs a Checker.
func New(db *sqlx.DB, log *zap.SugaredLogger) *Checker {
	return &Checker{db: db, log: log}
}

// Check runs both heuristics and publishes the gauges.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	var rep Report

	err := c.db.GetContext(ctx, &rep.OrphanedUsage, `
        SELECT COUNT(*)
        FROM   code_usage u
        LEFT JOIN vanity_code v ON v.id = u.vanity_code_id
        WHERE  v.id IS NULL`)
	if err != nil {
		return rep, fmt.Errorf("orphan check: %w", err)
	}

	err = c.db.GetContext(ctx, &rep.DuplicateConversions, `
        SELECT COUNT(*) FROM (
            SELECT domain, code, value, DATE(created_at) AS day
            FROM   conversion
            GROUP BY domain, code, value, DATE(created_at)
            HAVING COUNT(*) > 1
        ) dup`)
	if err != nil {
		return rep, fmt.Errorf("duplicate check: %w", err)
	}

	metrics.IntegrityOrphans.Set(float64(rep.OrphanedUsage))
	metrics.IntegrityDuplicates.Set(float64(rep.DuplicateConversions))

	if rep.OrphanedUsage > 0 || rep.DuplicateConversions > 0 {
		c.log.Warnw("integrity check found issues",
			"orphaned_usage", rep.OrphanedUsage,
			"duplicate_conversions", rep.DuplicateConversions)
	} else {
		c.log.Infow("integrity check clean")
	}
	return rep, nil
}

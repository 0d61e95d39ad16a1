// internal/conflict/resolver.go
//
// Conflict resolution for divergent usage records.
//
// Context
// -------
// Full sync can surface the same code usage recorded on both sides of a
// domain pair.  The resolver reconciles duplicates sharing
// (vanity_code_id, session_id), scoped to one domain, under a configured
// strategy:
//
//   latest_wins – keep only the newest row, delete the rest
//   merge       – hook for deployment-specific rules; no-op by default
//   manual      – count and flag for human review, mutate nothing
//
// This is deliberately a heuristic, not consensus.  Domain pairs reconcile
// independently and a deterministic rule is enough at this scale.

package conflict

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/metrics"
)

// Strategy selects the reconciliation rule.
type Strategy string

const (
	LatestWins Strategy = "latest_wins"
	Merge      Strategy = "merge"
	Manual     Strategy = "manual"
)

// ParseStrategy validates a configuration value.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case LatestWins, Merge, Manual:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Outcome reports what one resolution pass did.  Ephemeral; logged, never
// stored.
type Outcome struct {
	Strategy        Strategy
	Domain          string
	RecordsAffected int64
	Flagged         int64
}

// Resolver reconciles duplicate usage rows.
type Resolver struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// New constructs a Resolver.
func New(db *sqlx.DB, log *zap.SugaredLogger) *Resolver {
	return &Resolver{db: db, log: log}
}

// Resolve applies strategy to the usage rows of one domain.  The switch is
// exhaustive; ParseStrategy guards the configuration edge.
func (r *Resolver) Resolve(ctx context.Context, strategy Strategy, domainHost string) (Outcome, error) {
	out := Outcome{Strategy: strategy, Domain: domainHost}

	switch strategy {
	case LatestWins:
		n, err := r.deleteStale(ctx, domainHost)
		if err != nil {
			return out, err
		}
		out.RecordsAffected = n
		metrics.ConflictsResolvedTotal.Add(float64(n))
		if n > 0 {
			r.log.Infow("conflicts resolved",
				"strategy", strategy, "domain", domainHost, "deleted", n)
		}

	case Merge:
		// Deployment hook.  Stock builds keep both rows.

	case Manual:
		n, err := r.countDuplicates(ctx, domainHost)
		if err != nil {
			return out, err
		}
		out.Flagged = n
		if n > 0 {
			r.log.Warnw("conflicts flagged for review",
				"strategy", strategy, "domain", domainHost, "groups", n)
		}
	}

	return out, nil
}

// deleteStale removes every usage row that shares (vanity_code_id,
// session_id) with a newer row, keeping the one with the greatest
// created_at.  Ties break on id so the statement is deterministic.
func (r *Resolver) deleteStale(ctx context.Context, domainHost string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
        DELETE u FROM code_usage u
        JOIN   code_usage newer
          ON   newer.vanity_code_id = u.vanity_code_id
         AND   newer.session_id     = u.session_id
         AND  (newer.created_at > u.created_at
               OR (newer.created_at = u.created_at AND newer.id > u.id))
        WHERE  u.domain = ?`, domainHost)
	if err != nil {
		return 0, fmt.Errorf("latest-wins delete for %s: %w", domainHost, err)
	}
	return res.RowsAffected()
}

// countDuplicates counts conflicting groups without touching them.
func (r *Resolver) countDuplicates(ctx context.Context, domainHost string) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `
        SELECT COUNT(*) FROM (
            SELECT vanity_code_id, session_id
            FROM   code_usage
            WHERE  domain = ?
            GROUP BY vanity_code_id, session_id
            HAVING COUNT(*) > 1
        ) dup`, domainHost)
	if err != nil {
		return 0, fmt.Errorf("duplicate count for %s: %w", domainHost, err)
	}
	return n, nil
}

// internal/syncer/orchestrator.go
//
// Cadence driver for cross-domain synchronization.
//
// Context
// -------
// Three cadences move data:
//
//   real-time – a tracked event enqueues one item and drains a small queue
//               slice inline, so hook latency is bounded by the slice, not
//               queue depth
//   batch     – every few minutes, recent conversions and usage go to
//               every eligible domain
//   full      – hourly, all four data types over a 24 h window, followed
//               by per-domain conflict resolution, one global integrity
//               check, and the retention sweeps
//
// Failure semantics: anything thrown inside a run is caught at this
// boundary, the run row is marked failed, and the guard is released.  A
// failed run never retries itself; the next tick starts fresh.  Per-domain
// failures accumulate in the run's error list and the loop moves on.

package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/codec"
	"github.com/AdeptTravel/satlink/internal/config"
	"github.com/AdeptTravel/satlink/internal/conflict"
	"github.com/AdeptTravel/satlink/internal/domain"
	"github.com/AdeptTravel/satlink/internal/integrity"
	"github.com/AdeptTravel/satlink/internal/metrics"
)

// realtimeDrainSize bounds the inline drain on the real-time path.
const realtimeDrainSize = 10

// interDomainDelay spaces deliveries so a run does not burst the whole
// network at once.
const interDomainDelay = 250 * time.Millisecond

// Cadence windows.
const (
	batchWindow = time.Hour
	fullWindow  = 24 * time.Hour
)

var (
	batchDataTypes = []codec.DataType{codec.DataConversion, codec.DataUsage}
	fullDataTypes  = []codec.DataType{
		codec.DataConversion, codec.DataUsage,
		codec.DataAnalytics, codec.DataVanityCode,
	}
)

// DomainLister yields the domains participating in sync.
type DomainLister interface {
	ListEligible(ctx context.Context) ([]domain.Record, error)
}

// PayloadSender delivers one payload to one domain.  *transport.Sender
// satisfies this.
type PayloadSender interface {
	Send(ctx context.Context, dom *domain.Record, p *codec.Payload, opts codec.Options) error
}

// DataSource supplies outbound rows and owns the tracking retention.
// *tracking.Store satisfies this.
type DataSource interface {
	FetchRows(ctx context.Context, dt codec.DataType, since time.Time, limit int) ([]codec.Row, error)
	PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// WorkQueue is the slice of the sync queue the orchestrator drives.
type WorkQueue interface {
	Enqueue(ctx context.Context, dt codec.DataType, payload any) (uint64, error)
	Drain(ctx context.Context, max int) (int, error)
	SweepExpired(ctx context.Context, retentionDays int) (int64, error)
}

// ConflictResolver reconciles one domain's duplicates.
type ConflictResolver interface {
	Resolve(ctx context.Context, strategy conflict.Strategy, domainHost string) (conflict.Outcome, error)
}

// HealthChecker runs the global integrity pass.
type HealthChecker interface {
	Check(ctx context.Context) (integrity.Report, error)
}

// Registry adapts the domain package's query helpers to DomainLister.
type Registry struct {
	DB *sqlx.DB
}

func (r Registry) ListEligible(ctx context.Context) ([]domain.Record, error) {
	return domain.ListEligible(ctx, r.DB)
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	DB       *sqlx.DB
	Cfg      *config.Config
	Conf     *config.Store
	Guard    *Guard
	Queue    WorkQueue
	Domains  DomainLister
	Sender   PayloadSender
	Source   DataSource
	Resolver ConflictResolver
	Checker  HealthChecker
	Self     string // this site's origin, stamped as source_domain
	Log      *zap.SugaredLogger
}

// Orchestrator drives the three cadences.  Safe for concurrent use; the
// guard serializes batch and full runs per process.
type Orchestrator struct {
	deps Deps
	now  func() time.Time
}

// New constructs an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, now: time.Now}
}

/*──────────────────────────── real-time path ──────────────────────────────*/

// RealTime enqueues one freshly tracked event and drains a small slice
// inline.  When real-time sync is disabled the event simply waits for the
// next batch run.
func (o *Orchestrator) RealTime(ctx context.Context, dt codec.DataType, payload any) error {
	if !o.deps.Conf.Bool(ctx, config.KeyRealTimeSync, o.deps.Cfg.Sync.RealTime) {
		return nil
	}
	if _, err := o.deps.Queue.Enqueue(ctx, dt, payload); err != nil {
		return err
	}
	_, err := o.deps.Queue.Drain(ctx, realtimeDrainSize)
	return err
}

// DeliverQueued is the queue handler: it fans one queued row out to every
// eligible domain.  Any failed delivery returns an error so the queue's
// bounded retry kicks in; importers are idempotent, so the domains that
// already succeeded tolerate the redelivery.
func (o *Orchestrator) DeliverQueued(ctx context.Context, dt codec.DataType, payloadJSON []byte) error {
	var row codec.Row
	if err := json.Unmarshal(payloadJSON, &row); err != nil {
		return fmt.Errorf("queued payload unmarshal: %w", err)
	}

	doms, err := o.deps.Domains.ListEligible(ctx)
	if err != nil {
		return fmt.Errorf("list domains: %w", err)
	}
	if len(doms) == 0 {
		return nil
	}

	p := o.buildPayload(dt, []codec.Row{row})
	opts := o.codecOptions(ctx)

	var errs []error
	for i := range doms {
		if err := o.deps.Sender.Send(ctx, &doms[i], p, opts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

/*──────────────────────────── scheduled paths ─────────────────────────────*/

// RunBatch executes one batch cadence: recent conversions and usage to
// every eligible domain.
func (o *Orchestrator) RunBatch(ctx context.Context) error {
	return o.runCadence(ctx, CadenceBatch, batchWindow, batchDataTypes, false)
}

// RunFull executes one full cadence: all data types over 24 h, then
// conflict resolution, integrity check, and retention sweeps.
func (o *Orchestrator) RunFull(ctx context.Context) error {
	return o.runCadence(ctx, CadenceFull, fullWindow, fullDataTypes, true)
}

func (o *Orchestrator) runCadence(ctx context.Context, cadence string, window time.Duration, types []codec.DataType, deep bool) error {
	if !o.deps.Conf.Bool(ctx, config.KeySyncEnabled, true) {
		return nil
	}

	meta := RunMeta{ID: uuid.NewString(), Cadence: cadence, StartedAt: o.now()}
	if !o.deps.Guard.TryBegin(meta) {
		o.deps.Log.Debugw("cadence already running", "cadence", cadence)
		return nil
	}
	defer o.deps.Guard.End(cadence)

	if err := startRun(ctx, o.deps.DB, meta.ID, cadence); err != nil {
		metrics.SyncRunsTotal.WithLabelValues(cadence, "failure").Inc()
		return err
	}

	res := &Result{}
	runErr := o.execute(ctx, cadence, window, types, deep, res)

	outcome := "success"
	if runErr != nil {
		outcome = "failure"
	}
	metrics.SyncRunsTotal.WithLabelValues(cadence, outcome).Inc()

	// Finalize even when the surrounding context is already cancelled; the
	// audit row must not stay open.
	if err := finishRun(context.WithoutCancel(ctx), o.deps.DB, meta.ID, res, runErr); err != nil {
		o.deps.Log.Errorw("run finalize failed", "run", meta.ID, "err", err)
	}

	if runErr != nil {
		o.deps.Log.Errorw("sync run failed",
			"cadence", cadence, "run", meta.ID, "err", runErr)
		return runErr
	}
	o.deps.Log.Infow("sync run complete",
		"cadence", cadence, "run", meta.ID,
		"domains", res.DomainsTotal, "domains_ok", res.DomainsSucceeded,
		"records", res.RecordsAttempted, "records_ok", res.RecordsSucceeded,
		"errors", len(res.Errors))
	return nil
}

// execute is the run body.  A panic here becomes the run's failure rather
// than the process's.
func (o *Orchestrator) execute(ctx context.Context, cadence string, window time.Duration, types []codec.DataType, deep bool, res *Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s run panicked: %v", cadence, p)
		}
	}()

	doms, err := o.deps.Domains.ListEligible(ctx)
	if err != nil {
		return fmt.Errorf("list domains: %w", err)
	}
	res.DomainsTotal = len(doms)

	limit := o.deps.Conf.Int(ctx, config.KeyBatchSize, o.deps.Cfg.Sync.BatchSize)
	opts := o.codecOptions(ctx)
	since := o.now().Add(-window)

	var strategy conflict.Strategy
	if deep {
		strategy = o.conflictStrategy(ctx)
	}

	for i := range doms {
		// Cancellation is honored between domains, never mid-delivery.
		if err := ctx.Err(); err != nil {
			return err
		}
		dom := &doms[i]
		domainOK := true

		for _, dt := range types {
			rows, ferr := o.deps.Source.FetchRows(ctx, dt, since, limit)
			if ferr != nil {
				res.addError("%s: fetch %s: %v", dom.Name, dt, ferr)
				domainOK = false
				continue
			}
			if len(rows) == 0 {
				continue
			}
			res.RecordsAttempted += len(rows)

			if serr := o.deps.Sender.Send(ctx, dom, o.buildPayload(dt, rows), opts); serr != nil {
				res.RecordsFailed += len(rows)
				res.addError("%s: send %s: %v", dom.Name, dt, serr)
				domainOK = false
				continue
			}
			res.RecordsSucceeded += len(rows)
		}

		if deep {
			if _, cerr := o.deps.Resolver.Resolve(ctx, strategy, hostOf(dom.BaseURL)); cerr != nil {
				res.addError("%s: conflict resolution: %v", dom.Name, cerr)
				domainOK = false
			}
		}

		if domainOK {
			res.DomainsSucceeded++
		}
		if i < len(doms)-1 {
			o.pause(ctx)
		}
	}

	if deep {
		if _, cerr := o.deps.Checker.Check(ctx); cerr != nil {
			res.addError("integrity check: %v", cerr)
		}
		o.sweep(ctx, res)
	}
	return nil
}

// sweep runs the retention cleanups at the tail of a full run.
func (o *Orchestrator) sweep(ctx context.Context, res *Result) {
	if n, err := o.deps.Queue.SweepExpired(ctx, o.deps.Cfg.Sync.QueueRetention); err != nil {
		res.addError("queue sweep: %v", err)
	} else if n > 0 {
		o.deps.Log.Infow("queue rows swept", "rows", n)
	}

	if n, err := o.deps.Source.PurgeOlderThan(ctx, o.deps.Cfg.Sync.DataRetention); err != nil {
		res.addError("tracking purge: %v", err)
	} else if n > 0 {
		o.deps.Log.Infow("tracking rows purged", "rows", n)
	}
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func (o *Orchestrator) buildPayload(dt codec.DataType, rows []codec.Row) *codec.Payload {
	return &codec.Payload{
		SyncType:     codec.SyncData,
		DataType:     dt,
		Data:         rows,
		Timestamp:    o.now().Unix(),
		SourceDomain: o.deps.Self,
		Checksum:     codec.Checksum(rows),
	}
}

func (o *Orchestrator) codecOptions(ctx context.Context) codec.Options {
	return codec.Options{
		Encrypt:  o.deps.Conf.Bool(ctx, config.KeyEncrypt, o.deps.Cfg.Sync.Encrypt),
		Compress: o.deps.Conf.Bool(ctx, config.KeyCompress, o.deps.Cfg.Sync.Compress),
	}
}

func (o *Orchestrator) conflictStrategy(ctx context.Context) conflict.Strategy {
	raw := o.deps.Conf.String(ctx, config.KeyConflictStrategy, o.deps.Cfg.Sync.ConflictStrategy)
	strategy, err := conflict.ParseStrategy(raw)
	if err != nil {
		o.deps.Log.Warnw("bad conflict strategy, using latest_wins", "value", raw)
		return conflict.LatestWins
	}
	return strategy
}

// pause inserts the inter-domain delay, cut short by cancellation.
func (o *Orchestrator) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(interDomainDelay):
	}
}

// hostOf reduces a base URL to its host for domain-scoped SQL.
func hostOf(baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
}

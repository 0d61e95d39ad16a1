// internal/syncer/orchestrator_test.go
//
// Cadence behaviour with fake collaborators and sqlmock for the run audit
// rows.  The runtime-config lookups intentionally have no sqlmock
// expectations; the store falls back to the static defaults, which is the
// behaviour a fresh database exhibits anyway.
//
// Covered:
//
//   • a batch run delivers both batch data types to every eligible domain
//     and records the counters on its sync_run row
//   • one failing domain never blocks the others, and the run still
//     finishes cleanly with the failure in its error list
//   • a second run of the same cadence is refused while the first holds
//     the guard
//   • a full run additionally resolves conflicts per domain, runs the
//     integrity check, and sweeps both retentions
//   • the real-time path is a no-op when disabled and enqueue-then-drain
//     when enabled
//   • a queued item fans out to every domain and reports partial failure
//     so the queue retries

package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/codec"
	"github.com/AdeptTravel/satlink/internal/config"
	"github.com/AdeptTravel/satlink/internal/conflict"
	"github.com/AdeptTravel/satlink/internal/domain"
	"github.com/AdeptTravel/satlink/internal/integrity"
)

/*──────────────────────────── fakes ───────────────────────────────────────*/

type fakeLister struct {
	domains []domain.Record
	err     error
}

func (f *fakeLister) ListEligible(context.Context) ([]domain.Record, error) {
	return f.domains, f.err
}

type sentPayload struct {
	Domain string
	Type   codec.DataType
	Rows   int
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentPayload
	failFor map[string]bool
}

func (f *fakeSender) Send(_ context.Context, dom *domain.Record, p *codec.Payload, _ codec.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[dom.Name] {
		return fmt.Errorf("delivery to %s refused", dom.Name)
	}
	f.sent = append(f.sent, sentPayload{Domain: dom.Name, Type: p.DataType, Rows: len(p.Data)})
	return nil
}

type fakeSource struct {
	rows   map[codec.DataType][]codec.Row
	purged int
}

func (f *fakeSource) FetchRows(_ context.Context, dt codec.DataType, _ time.Time, _ int) ([]codec.Row, error) {
	return f.rows[dt], nil
}

func (f *fakeSource) PurgeOlderThan(context.Context, int) (int64, error) {
	f.purged++
	return 3, nil
}

type fakeQueue struct {
	enqueued []codec.DataType
	drains   int
	sweeps   int
}

func (f *fakeQueue) Enqueue(_ context.Context, dt codec.DataType, _ any) (uint64, error) {
	f.enqueued = append(f.enqueued, dt)
	return uint64(len(f.enqueued)), nil
}

func (f *fakeQueue) Drain(context.Context, int) (int, error) {
	f.drains++
	return 0, nil
}

func (f *fakeQueue) SweepExpired(context.Context, int) (int64, error) {
	f.sweeps++
	return 1, nil
}

type fakeResolver struct {
	hosts []string
}

func (f *fakeResolver) Resolve(_ context.Context, _ conflict.Strategy, host string) (conflict.Outcome, error) {
	f.hosts = append(f.hosts, host)
	return conflict.Outcome{Domain: host}, nil
}

type fakeChecker struct {
	checks int
}

func (f *fakeChecker) Check(context.Context) (integrity.Report, error) {
	f.checks++
	return integrity.Report{}, nil
}

/*──────────────────────────── fixture ─────────────────────────────────────*/

type testRig struct {
	orch     *Orchestrator
	mock     sqlmock.Sqlmock
	sender   *fakeSender
	source   *fakeSource
	queue    *fakeQueue
	resolver *fakeResolver
	checker  *fakeChecker
	guard    *Guard
}

func eligible(name, host string) domain.Record {
	url := "https://" + host + "/sync/webhook"
	return domain.Record{
		Name:          name,
		BaseURL:       "https://" + host,
		WebhookURL:    &url,
		WebhookSecret: "s3cret",
		Status:        domain.StatusActive,
		Verification:  domain.VerificationVerified,
	}
}

func rig(t *testing.T, realTime bool, doms ...domain.Record) *testRig {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	db := sqlx.NewDb(raw, "mysql")

	cfg := &config.Config{}
	cfg.Sync.RealTime = realTime
	cfg.Sync.BatchSize = 100
	cfg.Sync.QueueRetention = 7
	cfg.Sync.DataRetention = 365
	cfg.Sync.ConflictStrategy = "latest_wins"

	r := &testRig{
		mock: mock,
		sender: &fakeSender{failFor: map[string]bool{}},
		source: &fakeSource{rows: map[codec.DataType][]codec.Row{
			codec.DataConversion: {{"value": 12.5}, {"value": 3.0}},
			codec.DataUsage:      {{"session_id": "s1"}},
		}},
		queue:    &fakeQueue{},
		resolver: &fakeResolver{},
		checker:  &fakeChecker{},
		guard:    NewGuard(),
	}
	r.orch = New(Deps{
		DB:       db,
		Cfg:      cfg,
		Conf:     config.NewStore(db),
		Guard:    r.guard,
		Queue:    r.queue,
		Domains:  &fakeLister{domains: doms},
		Sender:   r.sender,
		Source:   r.source,
		Resolver: r.resolver,
		Checker:  r.checker,
		Self:     "https://hub.example.com",
		Log:      zap.NewNop().Sugar(),
	})
	return r
}

func expectRunRow(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT INTO sync_run").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

/*──────────────────────────── scheduled cadences ──────────────────────────*/

func TestRunBatchDeliversToEveryDomain(t *testing.T) {
	r := rig(t, false, eligible("alpha", "alpha.example.com"), eligible("beta", "beta.example.com"))

	expectRunRow(r.mock)
	// 2 domains × (2 conversion rows + 1 usage row) = 6 attempted, all OK.
	r.mock.ExpectExec("UPDATE sync_run").
		WithArgs(false, nil, 2, 2, 6, 6, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.orch.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if got := len(r.sender.sent); got != 4 {
		t.Fatalf("sent %d payloads, want 4 (2 domains × 2 data types)", got)
	}
	perDomain := map[string]int{}
	for _, s := range r.sender.sent {
		perDomain[s.Domain]++
		if s.Type != codec.DataConversion && s.Type != codec.DataUsage {
			t.Fatalf("batch run sent %s, which is a full-run data type", s.Type)
		}
	}
	if perDomain["alpha"] != 2 || perDomain["beta"] != 2 {
		t.Fatalf("uneven delivery: %v", perDomain)
	}
	if r.checker.checks != 0 || len(r.resolver.hosts) != 0 {
		t.Fatal("batch run must not run the deep pass")
	}
	if err := r.mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRunBatchIsolatesDomainFailure(t *testing.T) {
	r := rig(t, false, eligible("alpha", "alpha.example.com"), eligible("beta", "beta.example.com"))
	r.sender.failFor["alpha"] = true

	expectRunRow(r.mock)
	// alpha's 3 rows fail, beta's 3 succeed; the run itself still succeeds.
	r.mock.ExpectExec("UPDATE sync_run").
		WithArgs(false, nil, 2, 1, 6, 3, 3, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.orch.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	for _, s := range r.sender.sent {
		if s.Domain == "alpha" {
			t.Fatal("failing domain recorded a successful send")
		}
	}
	if perBeta := len(r.sender.sent); perBeta != 2 {
		t.Fatalf("beta received %d payloads, want 2", perBeta)
	}
	if err := r.mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRunBatchRefusedWhileRunning(t *testing.T) {
	r := rig(t, false, eligible("alpha", "alpha.example.com"))

	if !r.guard.TryBegin(RunMeta{ID: "held", Cadence: CadenceBatch, StartedAt: time.Now()}) {
		t.Fatal("pre-claim failed")
	}
	defer r.guard.End(CadenceBatch)

	if err := r.orch.RunBatch(context.Background()); err != nil {
		t.Fatalf("overlapping RunBatch: %v", err)
	}
	if len(r.sender.sent) != 0 {
		t.Fatal("guarded run still delivered payloads")
	}
	// No sync_run rows may be written for a refused run.
	if err := r.mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRunFullDeepPass(t *testing.T) {
	r := rig(t, false, eligible("alpha", "alpha.example.com"))
	r.source.rows[codec.DataAnalytics] = []codec.Row{{"event_type": "pageview"}}
	r.source.rows[codec.DataVanityCode] = []codec.Row{{"code": "SUMMER"}}

	expectRunRow(r.mock)
	r.mock.ExpectExec("UPDATE sync_run").
		WithArgs(false, nil, 1, 1, 5, 5, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.orch.RunFull(context.Background()); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	types := map[codec.DataType]bool{}
	for _, s := range r.sender.sent {
		types[s.Type] = true
	}
	for _, dt := range fullDataTypes {
		if !types[dt] {
			t.Fatalf("full run never sent %s", dt)
		}
	}
	if got := r.resolver.hosts; len(got) != 1 || got[0] != "alpha.example.com" {
		t.Fatalf("conflict resolution hosts = %v, want [alpha.example.com]", got)
	}
	if r.checker.checks != 1 {
		t.Fatalf("integrity checks = %d, want 1", r.checker.checks)
	}
	if r.queue.sweeps != 1 || r.source.purged != 1 {
		t.Fatalf("retention sweeps = %d queue / %d tracking, want 1/1",
			r.queue.sweeps, r.source.purged)
	}
	if err := r.mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

/*──────────────────────────── real-time path ──────────────────────────────*/

func TestRealTimeDisabledIsNoop(t *testing.T) {
	r := rig(t, false, eligible("alpha", "alpha.example.com"))

	if err := r.orch.RealTime(context.Background(), codec.DataConversion, map[string]any{"value": 1.0}); err != nil {
		t.Fatalf("RealTime: %v", err)
	}
	if len(r.queue.enqueued) != 0 || r.queue.drains != 0 {
		t.Fatal("disabled real-time sync still touched the queue")
	}
}

func TestRealTimeEnqueuesThenDrains(t *testing.T) {
	r := rig(t, true, eligible("alpha", "alpha.example.com"))

	if err := r.orch.RealTime(context.Background(), codec.DataUsage, map[string]any{"session_id": "s1"}); err != nil {
		t.Fatalf("RealTime: %v", err)
	}
	if len(r.queue.enqueued) != 1 || r.queue.enqueued[0] != codec.DataUsage {
		t.Fatalf("enqueued = %v, want one usage item", r.queue.enqueued)
	}
	if r.queue.drains != 1 {
		t.Fatalf("drains = %d, want 1", r.queue.drains)
	}
}

/*──────────────────────────── queued fan-out ──────────────────────────────*/

func TestDeliverQueuedFansOut(t *testing.T) {
	r := rig(t, true,
		eligible("alpha", "alpha.example.com"),
		eligible("beta", "beta.example.com"))

	payload := []byte(`{"value":19.99,"code":"SUMMER"}`)
	if err := r.orch.DeliverQueued(context.Background(), codec.DataConversion, payload); err != nil {
		t.Fatalf("DeliverQueued: %v", err)
	}
	if len(r.sender.sent) != 2 {
		t.Fatalf("delivered to %d domains, want 2", len(r.sender.sent))
	}
	for _, s := range r.sender.sent {
		if s.Type != codec.DataConversion || s.Rows != 1 {
			t.Fatalf("unexpected delivery %+v", s)
		}
	}
}

func TestDeliverQueuedPartialFailureRetries(t *testing.T) {
	r := rig(t, true,
		eligible("alpha", "alpha.example.com"),
		eligible("beta", "beta.example.com"))
	r.sender.failFor["beta"] = true

	err := r.orch.DeliverQueued(context.Background(), codec.DataConversion, []byte(`{"value":1}`))
	if err == nil {
		t.Fatal("partial failure must surface so the queue retries")
	}
	if !strings.Contains(err.Error(), "beta") {
		t.Fatalf("error does not name the failing domain: %v", err)
	}
	if len(r.sender.sent) != 1 || r.sender.sent[0].Domain != "alpha" {
		t.Fatalf("healthy domain skipped: %+v", r.sender.sent)
	}
}

func TestDeliverQueuedRejectsGarbage(t *testing.T) {
	r := rig(t, true, eligible("alpha", "alpha.example.com"))

	if err := r.orch.DeliverQueued(context.Background(), codec.DataConversion, []byte("not json")); err == nil {
		t.Fatal("garbage payload accepted")
	}
	if len(r.sender.sent) != 0 {
		t.Fatal("garbage payload was delivered")
	}
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func TestHostOf(t *testing.T) {
	cases := map[string]string{
		"https://alpha.example.com":      "alpha.example.com",
		"https://alpha.example.com/path": "alpha.example.com",
		"http://beta.example.com":        "beta.example.com",
		"gamma.example.com":              "gamma.example.com",
	}
	for in, want := range cases {
		if got := hostOf(in); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

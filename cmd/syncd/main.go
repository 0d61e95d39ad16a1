// cmd/syncd/main.go
//
// SatLink – cross-domain sync daemon entry point.
//
// Boot sequence
// -------------
//
//  1. Load configuration (conf/.env → conf/global.yaml → SATLINK_ env
//     overrides).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Open the local MySQL store and log registered-domain count.
//
//  4. Build secret resolver (Vault when VAULT_ADDR is set, passthrough
//     otherwise) and the origin → domain cache on top of it.
//
//  5. Wire the sync engine: durable queue with its fan-out handlers, the
//     webhook sender/receiver pair, the cadence orchestrator, and the
//     batch/full scheduler.
//
//  6. Mount the HTTP surface and serve until SIGINT/SIGTERM, then drain.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AdeptTravel/satlink/internal/codec"
	"github.com/AdeptTravel/satlink/internal/config"
	"github.com/AdeptTravel/satlink/internal/conflict"
	"github.com/AdeptTravel/satlink/internal/database"
	"github.com/AdeptTravel/satlink/internal/domain"
	"github.com/AdeptTravel/satlink/internal/integrity"
	"github.com/AdeptTravel/satlink/internal/logger"
	"github.com/AdeptTravel/satlink/internal/queue"
	"github.com/AdeptTravel/satlink/internal/secrets"
	"github.com/AdeptTravel/satlink/internal/server"
	"github.com/AdeptTravel/satlink/internal/syncer"
	"github.com/AdeptTravel/satlink/internal/tracking"
	"github.com/AdeptTravel/satlink/internal/transport"
)

// queuedTypes are the data types the real-time queue fans out.
var queuedTypes = []codec.DataType{
	codec.DataConversion, codec.DataUsage,
	codec.DataAnalytics, codec.DataVanityCode,
	codec.DataSyncMarker,
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// selfHost reduces the configured origin to its bare host for local rows.
func selfHost(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Host
	}
	return origin
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Configuration ───────────────────────────────────────────────
	//
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOut, err := logger.New(cfg.Paths.Root, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	//
	// ── 2.  Local store ─────────────────────────────────────────────────
	//
	logOut.Infow("connecting to local store")
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		logOut.Fatalw("connect local store", "err", err)
	}
	defer db.Close()

	// Log registered-domain count as an early sanity check.
	var registered int
	_ = db.GetContext(ctx, &registered, `SELECT COUNT(*) FROM domain`)
	logOut.Infow("local store online", "domains", registered)

	conf := config.NewStore(db)

	//
	// ── 3.  Secrets and domain cache ────────────────────────────────────
	//
	sec, err := secrets.New(ctx)
	if err != nil {
		logOut.Fatalw("secret resolver", "err", err)
	}
	cache := domain.NewCache(db, sec, domain.CacheTTL)
	defer cache.Close()

	//
	// ── 4.  Sync engine ─────────────────────────────────────────────────
	//
	q := queue.New(db, cfg.Sync.MaxRetries, logOut)
	sender := transport.NewSender(db, sec, cfg.Site.Origin, cfg.Sync.SendTimeout, logOut)
	source := tracking.NewStore(db)
	guard := syncer.NewGuard()

	orch := syncer.New(syncer.Deps{
		DB:       db,
		Cfg:      cfg,
		Conf:     conf,
		Guard:    guard,
		Queue:    q,
		Domains:  syncer.Registry{DB: db},
		Sender:   sender,
		Source:   source,
		Resolver: conflict.New(db, logOut),
		Checker:  integrity.New(db, logOut),
		Self:     cfg.Site.Origin,
		Log:      logOut,
	})

	for _, dt := range queuedTypes {
		q.Handle(dt, func(ctx context.Context, item *queue.Item) error {
			return orch.DeliverQueued(ctx, item.DataType, item.Payload)
		})
	}

	//
	// ── 5.  Inbound surface ─────────────────────────────────────────────
	//
	importer := tracking.NewImporter(db, logOut)
	stamp := func(ctx context.Context, id uint64) error {
		return domain.TouchActivity(ctx, db, id)
	}
	receiver := transport.NewReceiver(cache, importer, conf, stamp, cfg.Sync.ReplayWindow, logOut)

	geo, err := tracking.OpenGeo(cfg.Geo.DBPath)
	if err != nil {
		logOut.Warnw("geo database unavailable, analytics will lack country",
			"path", cfg.Geo.DBPath, "err", err)
	}
	hooks := tracking.NewHooks(db, selfHost(cfg.Site.Origin), geo, orch, logOut)
	status := syncer.NewStatusHandler(db, conf, guard, cfg.HTTP.AdminToken, logOut)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Method(http.MethodPost, "/sync/webhook", receiver)
	r.Method(http.MethodGet, "/sync/status", status)
	r.Post("/track/conversion", hooks.Conversion)
	r.Post("/track/usage", hooks.Usage)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.PingContext(req.Context()); err != nil {
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	//
	// ── 6.  Run ─────────────────────────────────────────────────────────
	//
	sched := syncer.NewScheduler(orch, cfg.Sync.BatchInterval, cfg.Sync.FullInterval, logOut)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr, "origin", cfg.Site.Origin)
	if err := server.Run(ctx, server.New(cfg.HTTP.ListenAddr, r)); err != nil {
		logOut.Errorw("http server", "err", err)
	}

	stop()
	wg.Wait()
	logOut.Infow("shutdown complete")
}

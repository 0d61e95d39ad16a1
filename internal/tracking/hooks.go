// internal/tracking/hooks.go
//
// Real-time event hooks (POST /track/conversion, POST /track/usage).
//
// Context
// -------
// Satellite pages call these endpoints when a visitor converts or applies a
// vanity code.  Each hook:
//
//  1. inserts the local tracking row,
//  2. appends one enriched analytics event (UA + geo),
//  3. hands the row to the real-time sync path (enqueue + small inline
//     drain), when real-time sync is enabled.
//
// Step 3 failures never fail the request; the batch cadence sweeps up
// anything the real-time path missed.

package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/codec"
)

// RealTimeSyncer pushes one freshly recorded event through the queue.  The
// orchestrator implements it; hooks only know this sliver of it.
type RealTimeSyncer interface {
	RealTime(ctx context.Context, dt codec.DataType, payload any) error
}

// Hooks serves the tracking endpoints.
type Hooks struct {
	db     *sqlx.DB
	self   string // this site's host, stamped on every local row
	geo    GeoLookup
	syncer RealTimeSyncer
	log    *zap.SugaredLogger
}

// NewHooks wires the endpoints.  geo and syncer may be nil.
func NewHooks(db *sqlx.DB, selfHost string, geo GeoLookup, syncer RealTimeSyncer, log *zap.SugaredLogger) *Hooks {
	return &Hooks{db: db, self: selfHost, geo: geo, syncer: syncer, log: log}
}

type conversionRequest struct {
	Code      string  `json:"code"`
	Value     float64 `json:"value"`
	SessionID string  `json:"session_id"`
	URL       string  `json:"url"`
}

type usageRequest struct {
	VanityCodeID uint64 `json:"vanity_code_id"`
	SessionID    string `json:"session_id"`
	URL          string `json:"url"`
}

// Conversion handles POST /track/conversion.
func (h *Hooks) Conversion(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	now := time.Now()
	ctx := r.Context()
	_, err := h.db.ExecContext(ctx, `
        INSERT INTO conversion (domain, code, value, session_id, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		h.self, req.Code, req.Value, req.SessionID, now.Format(wireTime))
	if err != nil {
		h.log.Errorw("conversion insert failed", "err", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	h.recordAnalytics(ctx, r, "conversion", req.URL)

	wireRow := codec.Row{
		"domain":     h.self,
		"code":       req.Code,
		"value":      req.Value,
		"session_id": req.SessionID,
		"created_at": now.Format(wireTime),
	}
	h.pushRealTime(ctx, codec.DataConversion, wireRow)

	w.WriteHeader(http.StatusCreated)
}

// Usage handles POST /track/usage.
func (h *Hooks) Usage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SessionID == "" || req.VanityCodeID == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	now := time.Now()
	ctx := r.Context()
	_, err := h.db.ExecContext(ctx, `
        INSERT INTO code_usage (vanity_code_id, session_id, domain, created_at)
        VALUES (?, ?, ?, ?)`,
		req.VanityCodeID, req.SessionID, h.self, now.Format(wireTime))
	if err != nil {
		h.log.Errorw("usage insert failed", "err", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	h.recordAnalytics(ctx, r, "code_usage", req.URL)

	wireRow := codec.Row{
		"vanity_code_id": req.VanityCodeID,
		"session_id":     req.SessionID,
		"domain":         h.self,
		"created_at":     now.Format(wireTime),
	}
	h.pushRealTime(ctx, codec.DataUsage, wireRow)

	w.WriteHeader(http.StatusCreated)
}

// recordAnalytics appends one enriched event row.  Best effort; a failed
// insert costs an analytics point, not the tracked event.
func (h *Hooks) recordAnalytics(ctx context.Context, r *http.Request, event, url string) {
	vis := Fingerprint(r.UserAgent(), r.RemoteAddr, h.geo)
	if vis.IsBot {
		return
	}
	_, err := h.db.ExecContext(ctx, `
        INSERT INTO analytics_event
               (domain, event, url, browser, os, device_class, country, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, NOW())`,
		h.self, event, url, vis.Browser, vis.OS, vis.DeviceClass, vis.Country)
	if err != nil {
		h.log.Warnw("analytics insert failed", "event", event, "err", err)
	}
}

func (h *Hooks) pushRealTime(ctx context.Context, dt codec.DataType, row codec.Row) {
	if h.syncer == nil {
		return
	}
	if err := h.syncer.RealTime(ctx, dt, row); err != nil {
		h.log.Warnw("real-time sync push failed", "data_type", dt, "err", err)
	}
}

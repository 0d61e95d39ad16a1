// internal/transport/receiver.go
//
// Inbound webhook endpoint (POST /sync/webhook).
//
// Context
// -------
// Every inbound push walks the same gauntlet, in order:
//
//  1. signature header present
//  2. timestamp within the replay window
//  3. origin resolves to a known domain with a secret
//  4. constant-time HMAC comparison
//  5. codec decode (decompress → decrypt → checksum)
//  6. dispatch by sync_type
//
// Steps 1–4 answer 401 and log a security event; step 5 answers 400 for a
// corrupt body.  Only after all six does any state change.  Importers are
// idempotent, so a duplicate delivery of the same payload is harmless.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/codec"
	"github.com/AdeptTravel/satlink/internal/config"
	"github.com/AdeptTravel/satlink/internal/domain"
	"github.com/AdeptTravel/satlink/internal/metrics"
)

// maxBody caps an inbound request body.  Mirrors the inflater cap in the
// codec.
const maxBody = 16 << 20

// DomainResolver resolves a request origin to a registered domain whose
// secret is already usable.  *domain.Cache satisfies this.
type DomainResolver interface {
	ByOrigin(ctx context.Context, origin string) (*domain.Record, error)
}

// Importer applies decoded data rows to the local store.  Implementations
// must be idempotent; the transport retries nothing, but senders may
// deliver the same payload more than once.
type Importer interface {
	Apply(ctx context.Context, dt codec.DataType, source *domain.Record, rows []codec.Row) (int, error)
}

// ActivityStamper records that a valid push arrived from a domain.
type ActivityStamper func(ctx context.Context, domainID uint64) error

// Receiver handles inbound sync webhooks.
type Receiver struct {
	domains  DomainResolver
	importer Importer
	conf     *config.Store
	stamp    ActivityStamper
	window   time.Duration
	now      func() time.Time
	log      *zap.SugaredLogger
}

// NewReceiver wires the inbound endpoint.  window is the replay window;
// stamp may be nil.
func NewReceiver(domains DomainResolver, importer Importer, conf *config.Store, stamp ActivityStamper, window time.Duration, log *zap.SugaredLogger) *Receiver {
	return &Receiver{
		domains:  domains,
		importer: importer,
		conf:     conf,
		stamp:    stamp,
		window:   window,
		now:      time.Now,
		log:      log,
	}
}

type webhookResponse struct {
	Success   bool   `json:"success"`
	Timestamp int64  `json:"timestamp"`
	Imported  int    `json:"imported,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ServeHTTP implements the six-step gauntlet described in the header.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil || len(body) > maxBody {
		rc.reject(w, r, http.StatusBadRequest, "oversized or unreadable body", "body")
		return
	}

	// 1. Signature header present.
	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		rc.reject(w, r, http.StatusUnauthorized, "missing signature", "missing_signature")
		return
	}

	// 2. Freshness.  A stale or future-dated timestamp is a replay.
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		rc.reject(w, r, http.StatusUnauthorized, "missing or malformed timestamp", "replay")
		return
	}
	if age := math.Abs(float64(rc.now().Unix() - ts)); age > rc.window.Seconds() {
		rc.reject(w, r, http.StatusUnauthorized, "timestamp outside replay window", "replay")
		return
	}

	// 3. Resolve the sender.
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	sender, err := rc.domains.ByOrigin(ctx, origin)
	if err != nil || sender.WebhookSecret == "" {
		rc.reject(w, r, http.StatusUnauthorized, "unknown or secretless origin", "unknown_origin")
		return
	}

	// 4. Constant-time signature check.
	if !VerifySignature(body, sender.WebhookSecret, sig) {
		rc.reject(w, r, http.StatusUnauthorized, "signature mismatch", "bad_signature")
		return
	}

	// 5. Decode.  Corrupt payloads are the sender's problem, not ours.
	payload, err := codec.Decode(body, sender.WebhookSecret)
	if err != nil {
		if errors.Is(err, codec.ErrCorrupt) {
			rc.reject(w, r, http.StatusBadRequest, err.Error(), "corrupt")
			return
		}
		rc.log.Errorw("webhook decode failed", "origin", origin, "err", err)
		rc.respond(w, http.StatusInternalServerError, webhookResponse{Timestamp: rc.now().Unix()})
		return
	}

	// 6. Dispatch.  The switch is exhaustive over SyncType; Decode already
	// rejected unknown values.
	var imported int
	switch payload.SyncType {
	case codec.SyncData:
		imported, err = rc.importer.Apply(ctx, payload.DataType, sender, payload.Data)
		if err != nil {
			rc.log.Errorw("inbound apply failed",
				"origin", origin, "data_type", payload.DataType, "err", err)
			rc.respond(w, http.StatusInternalServerError, webhookResponse{Timestamp: rc.now().Unix()})
			return
		}
	case codec.SyncConfiguration:
		applied, skipped, mergeErr := rc.conf.MergeRecognized(ctx, payload.Configuration)
		if mergeErr != nil {
			rc.log.Errorw("configuration merge failed", "origin", origin, "err", mergeErr)
			rc.respond(w, http.StatusInternalServerError, webhookResponse{Timestamp: rc.now().Unix()})
			return
		}
		if len(skipped) > 0 {
			rc.log.Warnw("configuration keys ignored", "origin", origin, "keys", skipped)
		}
		imported = len(applied)
	case codec.SyncTest:
		// Acknowledge without side effects.
	}

	if rc.stamp != nil {
		if err := rc.stamp(ctx, sender.ID); err != nil {
			rc.log.Warnw("activity stamp failed", "domain", sender.Name, "err", err)
		}
	}

	rc.respond(w, http.StatusOK, webhookResponse{
		Success:   true,
		Timestamp: rc.now().Unix(),
		Imported:  imported,
	})
}

// reject answers an error status and logs a security event for 401s.
func (rc *Receiver) reject(w http.ResponseWriter, r *http.Request, status int, msg, reason string) {
	metrics.InboundRejectedTotal.WithLabelValues(reason).Inc()
	if status == http.StatusUnauthorized {
		rc.log.Warnw("webhook rejected",
			"reason", reason,
			"origin", r.Header.Get("Origin"),
			"remote", r.RemoteAddr,
		)
	}
	rc.respond(w, status, webhookResponse{Timestamp: rc.now().Unix(), Error: msg})
}

func (rc *Receiver) respond(w http.ResponseWriter, status int, body webhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

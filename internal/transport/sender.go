// internal/transport/sender.go
//
// Outbound webhook delivery.
//
// Context
// -------
// Send serializes a payload through the codec, signs the resulting body
// with the counterpart's shared secret, and POSTs it within a bounded
// timeout.  Delivery outcome feeds the domain's webhook failure counter:
// any network error or non-2xx increments it, a 2xx resets it to zero and
// stamps last_webhook_at.  Counter updates are best-effort; a failed
// bookkeeping write is logged but never turns a delivered payload into a
// reported failure.
//
// There is no in-place retry.  Transient failures surface to the caller
// and are retried by the next cadence tick (batch/full) or by the queue's
// bounded redelivery (real-time).

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/codec"
	"github.com/AdeptTravel/satlink/internal/domain"
	"github.com/AdeptTravel/satlink/internal/metrics"
)

// Sender delivers signed payloads to counterpart domains.  Safe for
// concurrent use.
type Sender struct {
	db      *sqlx.DB
	client  *http.Client
	secrets domain.SecretResolver
	origin  string
	log     *zap.SugaredLogger
}

// NewSender builds a Sender with the given delivery timeout.  origin is
// this site's own origin, sent as the Origin header so the counterpart
// can resolve us in its registry; browsers set it, server-to-server
// clients must, too.  secrets may be nil when all domain secrets are
// stored inline.
func NewSender(db *sqlx.DB, secrets domain.SecretResolver, origin string, timeout time.Duration, log *zap.SugaredLogger) *Sender {
	return &Sender{
		db:      db,
		client:  &http.Client{Timeout: timeout},
		secrets: secrets,
		origin:  origin,
		log:     log,
	}
}

// Send delivers p to dom's webhook URL.  The returned error covers
// encoding, transport, and non-2xx responses; counter bookkeeping has
// already happened by the time it returns.
func (s *Sender) Send(ctx context.Context, dom *domain.Record, p *codec.Payload, opts codec.Options) error {
	if dom.WebhookURL == nil || *dom.WebhookURL == "" {
		return fmt.Errorf("domain %s has no webhook URL", dom.Name)
	}

	secret := dom.WebhookSecret
	if s.secrets != nil {
		resolved, err := s.secrets.Resolve(ctx, secret)
		if err != nil {
			return fmt.Errorf("resolve secret for %s: %w", dom.Name, err)
		}
		secret = resolved
	}

	body, err := codec.Encode(p, secret, opts)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", dom.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *dom.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", dom.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", s.origin)
	req.Header.Set(HeaderSignature, Sign(body, secret))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))

	resp, err := s.client.Do(req)
	if err != nil {
		s.recordFailure(ctx, dom)
		return fmt.Errorf("deliver to %s: %w", dom.Name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.recordFailure(ctx, dom)
		return fmt.Errorf("deliver to %s: status %d", dom.Name, resp.StatusCode)
	}

	metrics.WebhookSendsTotal.WithLabelValues("success").Inc()
	if err := domain.ResetWebhookFailure(ctx, s.db, dom.ID); err != nil {
		s.log.Warnw("webhook counter reset failed", "domain", dom.Name, "err", err)
	}
	return nil
}

func (s *Sender) recordFailure(ctx context.Context, dom *domain.Record) {
	metrics.WebhookSendsTotal.WithLabelValues("failure").Inc()
	if err := domain.IncrementWebhookFailure(ctx, s.db, dom.ID); err != nil {
		s.log.Warnw("webhook counter increment failed", "domain", dom.Name, "err", err)
	}
}

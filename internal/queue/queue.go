// internal/queue/queue.go
//
// Durable, priority-ordered mailbox for pending sync work.
//
// Context
// -------
// Real-time event hooks enqueue one row per tracked event; the orchestrator
// drains small slices inline and the retention sweep removes terminal rows
// after a few days.  Delivery is at-least-once with bounded retries:
//
//	pending → processing → completed
//	                    ↘ pending   (handler error, retries < max)
//	                    ↘ failed    (handler error, retries = max)
//
// Claiming uses a conditional UPDATE (status='pending' guard), so two
// drainers racing over one row results in exactly one claim.  A crash
// between "processing" and the final status update leaves the row stuck in
// processing; an operator sweep can requeue stragglers.  Handlers must
// therefore be idempotent.

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/codec"
	"github.com/AdeptTravel/satlink/internal/metrics"
)

// Item states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// priorities maps data types to drain priority.  Conversions carry money
// and go first; markers are housekeeping and go last.
var priorities = map[codec.DataType]int{
	codec.DataConversion: 100,
	codec.DataUsage:      80,
	codec.DataVanityCode: 60,
	codec.DataAnalytics:  40,
	codec.DataSyncMarker: 10,
}

// Item mirrors one row in the persistent `sync_queue` table.
type Item struct {
	ID          uint64         `db:"id"`
	DataType    codec.DataType `db:"data_type"`
	Payload     []byte         `db:"payload"`
	Priority    int            `db:"priority"`
	Status      string         `db:"status"`
	Retries     int            `db:"retries"`
	LastError   *string        `db:"last_error"`
	CreatedAt   time.Time      `db:"created_at"`
	ProcessedAt *time.Time     `db:"processed_at"`
}

// Handler consumes one claimed item.  An error triggers the bounded retry
// path; success completes the item.
type Handler func(ctx context.Context, item *Item) error

// Queue is the durable mailbox.  Safe for concurrent use.
type Queue struct {
	db         *sqlx.DB
	maxRetries int
	log        *zap.SugaredLogger

	mu       sync.RWMutex
	handlers map[codec.DataType]Handler
}

// New constructs a Queue.  maxRetries bounds redelivery per item.
func New(db *sqlx.DB, maxRetries int, log *zap.SugaredLogger) *Queue {
	return &Queue{
		db:         db,
		maxRetries: maxRetries,
		log:        log,
		handlers:   make(map[codec.DataType]Handler),
	}
}

// Handle registers the handler for one data type.  Registration happens
// during boot, before any drain runs.
func (q *Queue) Handle(dt codec.DataType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[dt] = h
}

func (q *Queue) handler(dt codec.DataType) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[dt]
	return h, ok
}

// Enqueue persists one pending item.  payload must be JSON-serializable.
func (q *Queue) Enqueue(ctx context.Context, dt codec.DataType, payload any) (uint64, error) {
	if !dt.Valid() {
		return 0, fmt.Errorf("enqueue: unknown data type %q", dt)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue: marshal payload: %w", err)
	}

	res, err := q.db.ExecContext(ctx, `
        INSERT INTO sync_queue (data_type, payload, priority, status, retries, created_at)
        VALUES (?, ?, ?, 'pending', 0, NOW())`,
		string(dt), body, priorities[dt])
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	metrics.QueueItemsTotal.WithLabelValues(StatusPending).Inc()
	return uint64(id), nil
}

// Drain claims and processes up to max pending items, highest priority
// first, oldest first within equal priority.  Returns the number of items
// that reached completed.  Per-item failures do not abort the drain.
func (q *Queue) Drain(ctx context.Context, max int) (int, error) {
	var items []Item
	err := q.db.SelectContext(ctx, &items, `
        SELECT id, data_type, payload, priority, status, retries,
               last_error, created_at, processed_at
        FROM   sync_queue
        WHERE  status = 'pending'
        ORDER BY priority DESC, created_at ASC, id ASC
        LIMIT  ?`, max)
	if err != nil {
		return 0, fmt.Errorf("drain select: %w", err)
	}

	completed := 0
	for i := range items {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		item := &items[i]

		claimed, err := q.claim(ctx, item.ID)
		if err != nil {
			return completed, err
		}
		if !claimed {
			continue // another drainer got there first
		}

		h, ok := q.handler(item.DataType)
		if !ok {
			// No handler is a wiring bug, not a transient fault; park the
			// item as failed so it stops churning.
			q.finishFailed(ctx, item, fmt.Sprintf("no handler for %s", item.DataType))
			continue
		}

		if err := h(ctx, item); err != nil {
			q.retryOrFail(ctx, item, err)
			continue
		}

		if _, err := q.db.ExecContext(ctx, `
            UPDATE sync_queue
            SET    status = 'completed', processed_at = NOW()
            WHERE  id = ?`, item.ID); err != nil {
			return completed, fmt.Errorf("complete item %d: %w", item.ID, err)
		}
		metrics.QueueItemsTotal.WithLabelValues(StatusCompleted).Inc()
		completed++
	}

	q.refreshDepth(ctx)
	return completed, nil
}

// claim flips pending → processing; the status guard makes it a lightweight
// lock.
func (q *Queue) claim(ctx context.Context, id uint64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
        UPDATE sync_queue
        SET    status = 'processing'
        WHERE  id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("claim item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// retryOrFail requeues the item or parks it as failed once retries are
// exhausted.  The handler error is captured either way.
func (q *Queue) retryOrFail(ctx context.Context, item *Item, cause error) {
	item.Retries++
	msg := cause.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}

	if item.Retries >= q.maxRetries {
		q.finishFailed(ctx, item, msg)
		return
	}

	if _, err := q.db.ExecContext(ctx, `
        UPDATE sync_queue
        SET    status = 'pending', retries = ?, last_error = ?
        WHERE  id = ?`, item.Retries, msg, item.ID); err != nil {
		q.log.Errorw("queue requeue failed", "item", item.ID, "err", err)
		return
	}
	metrics.QueueItemsTotal.WithLabelValues("retried").Inc()
	q.log.Warnw("queue item requeued",
		"item", item.ID, "data_type", item.DataType,
		"retries", item.Retries, "err", msg)
}

func (q *Queue) finishFailed(ctx context.Context, item *Item, msg string) {
	if _, err := q.db.ExecContext(ctx, `
        UPDATE sync_queue
        SET    status = 'failed', retries = ?, last_error = ?, processed_at = NOW()
        WHERE  id = ?`, item.Retries, msg, item.ID); err != nil {
		q.log.Errorw("queue fail-mark failed", "item", item.ID, "err", err)
		return
	}
	metrics.QueueItemsTotal.WithLabelValues(StatusFailed).Inc()
	q.log.Errorw("queue item failed terminally",
		"item", item.ID, "data_type", item.DataType, "err", msg)
}

// SweepExpired deletes terminal rows older than the retention window.
func (q *Queue) SweepExpired(ctx context.Context, retentionDays int) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
        DELETE FROM sync_queue
        WHERE  status IN ('completed', 'failed')
          AND  created_at < NOW() - INTERVAL ? DAY`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("queue sweep: %w", err)
	}
	return res.RowsAffected()
}

// refreshDepth republishes the pending-row gauge.  Best effort.
func (q *Queue) refreshDepth(ctx context.Context) {
	var depth int
	if err := q.db.GetContext(ctx, &depth,
		`SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'`); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}

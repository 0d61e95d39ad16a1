// internal/domain/cache.go
//
// Origin-resolution cache for inbound webhook handling.
//
// Context
// -------
// Every inbound push resolves the sender's Origin header to a domain row
// before its signature can be checked.  At webhook rates that lookup is hot,
// so resolved records are cached in a sync.Map with a short TTL, and
// concurrent misses for the same origin are collapsed through singleflight.
// Secrets carrying a `vault:` prefix are resolved once at load time, so the
// transport layer only ever sees a usable secret.
//
// Entries expire on TTL rather than LRU pressure; the domain table is small
// (hundreds of rows, not millions).

package domain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"
)

// Static defaults.
const (
	CacheTTL      = 5 * time.Minute
	evictInterval = time.Minute
)

// SecretResolver turns a configured secret reference into a usable secret.
// The Vault-backed implementation lives in internal/secrets; a passthrough
// is used when no Vault is configured.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

type cacheEntry struct {
	rec      *Record
	loadedAt int64 // unix nanos
}

// Cache memoises ByOrigin lookups.  Safe for concurrent use.
type Cache struct {
	db      *sqlx.DB
	secrets SecretResolver
	ttl     time.Duration
	sfg     singleflight.Group
	m       sync.Map // normalized origin → *cacheEntry
	ticker  *time.Ticker
	done    chan struct{}
}

// NewCache constructs a Cache and starts the background evictor.  secrets
// may be nil, in which case secret references are used verbatim.
func NewCache(db *sqlx.DB, secrets SecretResolver, ttl time.Duration) *Cache {
	c := &Cache{
		db:      db,
		secrets: secrets,
		ttl:     ttl,
		ticker:  time.NewTicker(evictInterval),
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Close stops the evictor.
func (c *Cache) Close() {
	c.ticker.Stop()
	close(c.done)
}

// ByOrigin returns the domain for origin, loading and caching on demand.
func (c *Cache) ByOrigin(ctx context.Context, origin string) (*Record, error) {
	norm, err := NormalizeOrigin(origin)
	if err != nil {
		return nil, ErrNotFound
	}

	if v, ok := c.m.Load(norm); ok {
		ent := v.(*cacheEntry)
		if time.Duration(time.Now().UnixNano()-atomic.LoadInt64(&ent.loadedAt)) < c.ttl {
			return ent.rec, nil
		}
		c.m.Delete(norm)
	}

	v, err, _ := c.sfg.Do(norm, func() (interface{}, error) {
		// Double-check after the singleflight barrier.
		if v, ok := c.m.Load(norm); ok {
			return v.(*cacheEntry).rec, nil
		}
		rec, err := ByOrigin(ctx, c.db, norm)
		if err != nil {
			return nil, err
		}
		if c.secrets != nil && rec.WebhookSecret != "" {
			secret, err := c.secrets.Resolve(ctx, rec.WebhookSecret)
			if err != nil {
				return nil, err
			}
			rec.WebhookSecret = secret
		}
		c.m.Store(norm, &cacheEntry{rec: rec, loadedAt: time.Now().UnixNano()})
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// Invalidate drops one origin, used after admin edits to a domain row.
func (c *Cache) Invalidate(origin string) {
	if norm, err := NormalizeOrigin(origin); err == nil {
		c.m.Delete(norm)
	}
}

func (c *Cache) evictLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			now := time.Now().UnixNano()
			c.m.Range(func(key, value any) bool {
				ent := value.(*cacheEntry)
				if time.Duration(now-atomic.LoadInt64(&ent.loadedAt)) > c.ttl {
					c.m.Delete(key)
				}
				return true
			})
		}
	}
}

package verify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/casetrust/anchor/pkg/ledger"
)

// LedgerCache is a short-TTL read-through cache for ledger entries,
// backed by Redis. Entries on the ledger are immutable once written, so
// a positive read can be cached safely; negative and error outcomes are
// never cached. A nil *LedgerCache is a valid no-op cache, and every
// Redis failure degrades to a ledger read rather than an error.
type LedgerCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewLedgerCache wraps a Redis client. TTL defaults to 30s; it exists
// to bound staleness against operator intervention on the gateway, not
// for correctness.
func NewLedgerCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *LedgerCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerCache{rdb: rdb, ttl: ttl, prefix: "anchor:ledger:", logger: logger}
}

// Get returns the cached entry for a fingerprint, if present.
func (c *LedgerCache) Get(ctx context.Context, fp string) (*ledger.Entry, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, c.prefix+fp).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("ledger cache read failed", "fingerprint", fp, "error", err)
		}
		return nil, false
	}
	var entry ledger.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("ledger cache entry corrupt, dropping", "fingerprint", fp, "error", err)
		_ = c.rdb.Del(ctx, c.prefix+fp).Err()
		return nil, false
	}
	return &entry, true
}

// Put caches a positive ledger entry.
func (c *LedgerCache) Put(ctx context.Context, fp string, entry *ledger.Entry) {
	if c == nil || c.rdb == nil || entry == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+fp, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("ledger cache write failed", "fingerprint", fp, "error", err)
	}
}

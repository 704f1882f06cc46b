package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/common/metrics"
	"ledger-query-workers/internal/ledger"

	"github.com/redis/go-redis/v9"
)

// cacheKey is (source, schema version) only. Query parameters never take
// part in it.
type cacheKey struct {
	source        string
	schemaVersion int
}

func (k cacheKey) redisKey() string {
	return fmt.Sprintf("ledger:snapshot:%s:v%d", k.source, k.schemaVersion)
}

// SnapshotCache holds complete unfiltered snapshots in process, with an
// optional Redis tier shared across replicas. Snapshots are replaced
// wholesale; the lock is held only for the map access.
type SnapshotCache struct {
	maxAge time.Duration
	shared *redis.Client
	logger logger.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[cacheKey]*ledger.Snapshot
}

// NewSnapshotCache creates the cache. shared may be nil.
func NewSnapshotCache(maxAge time.Duration, shared *redis.Client, log logger.Logger) *SnapshotCache {
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	return &SnapshotCache{
		maxAge:  maxAge,
		shared:  shared,
		logger:  log.With(map[string]interface{}{"component": "snapshot-cache"}),
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[cacheKey]*ledger.Snapshot{},
	}
}

// Get returns a fresh complete snapshot, trying memory then Redis.
func (c *SnapshotCache) Get(ctx context.Context, source string, schemaVersion int) (*ledger.Snapshot, bool) {
	key := cacheKey{source, schemaVersion}

	c.mu.RLock()
	snap := c.entries[key]
	c.mu.RUnlock()
	if c.usable(snap) {
		metrics.SnapshotCacheLookups.WithLabelValues("memory", "hit").Inc()
		return snap, true
	}
	metrics.SnapshotCacheLookups.WithLabelValues("memory", "miss").Inc()

	if c.shared == nil {
		return nil, false
	}
	snap, err := c.loadShared(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("shared snapshot cache read failed", map[string]interface{}{"key": key.redisKey(), "error": err})
		}
		metrics.SnapshotCacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	if !c.usable(snap) {
		metrics.SnapshotCacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	metrics.SnapshotCacheLookups.WithLabelValues("redis", "hit").Inc()
	c.store(key, snap)
	return snap, true
}

// Put stores snap if it is complete. Incomplete snapshots are never cached.
func (c *SnapshotCache) Put(ctx context.Context, snap *ledger.Snapshot) bool {
	if !snap.Complete() {
		c.logger.Warn("refusing to cache incomplete snapshot", map[string]interface{}{
			"source":      snap.SourceIdentity,
			"rows":        len(snap.Rows),
			"sourceTotal": snap.SourceTotal,
		})
		return false
	}
	key := cacheKey{snap.SourceIdentity, snap.SchemaVersion}
	c.store(key, snap)
	metrics.SnapshotRows.WithLabelValues(snap.SourceIdentity).Set(float64(snap.RowCount))

	if c.shared != nil {
		data, err := json.Marshal(snap)
		if err == nil {
			err = c.shared.Set(ctx, key.redisKey(), data, c.maxAge).Err()
		}
		if err != nil {
			c.logger.Warn("shared snapshot cache write failed", map[string]interface{}{"key": key.redisKey(), "error": err})
		}
	}
	return true
}

// Invalidate drops the snapshot for source from both tiers.
func (c *SnapshotCache) Invalidate(ctx context.Context, source string, schemaVersion int) {
	key := cacheKey{source, schemaVersion}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.shared != nil {
		if err := c.shared.Del(ctx, key.redisKey()).Err(); err != nil {
			c.logger.Warn("shared snapshot cache delete failed", map[string]interface{}{"key": key.redisKey(), "error": err})
		}
	}
}

func (c *SnapshotCache) store(key cacheKey, snap *ledger.Snapshot) {
	c.mu.Lock()
	c.entries[key] = snap
	c.mu.Unlock()
}

func (c *SnapshotCache) usable(snap *ledger.Snapshot) bool {
	return snap != nil && snap.Complete() && snap.Age(c.now()) <= c.maxAge
}

func (c *SnapshotCache) loadShared(ctx context.Context, key cacheKey) (*ledger.Snapshot, error) {
	data, err := c.shared.Get(ctx, key.redisKey()).Bytes()
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var snap ledger.Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, err
	}
	if snap.SourceIdentity != key.source || snap.SchemaVersion != key.schemaVersion {
		return nil, fmt.Errorf("snapshot under %s belongs to %s v%d", key.redisKey(), snap.SourceIdentity, snap.SchemaVersion)
	}
	return &snap, nil
}

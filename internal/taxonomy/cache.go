package taxonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/p-n-ai/pai-homework/internal/platform/cache"
)

// KV is the key/value surface CachedStore needs. *cache.Cache satisfies it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Counter(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
}

const versionKey = "taxonomy:version"

// CachedStore caches knowledge-point listings in a KV store. Every key embeds
// a version counter that is bumped whenever a knowledge point is created, so
// stale pools are never served after a write.
type CachedStore struct {
	Store
	kv  KV
	ttl time.Duration
}

// NewCachedStore wraps store with a read-through cache.
func NewCachedStore(store Store, kv KV, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: store, kv: kv, ttl: ttl}
}

func (c *CachedStore) EnsureKnowledgePoint(ctx context.Context, kp KnowledgePoint) (KnowledgePoint, bool, error) {
	out, created, err := c.Store.EnsureKnowledgePoint(ctx, kp)
	if err != nil || !created {
		return out, created, err
	}
	c.invalidate(ctx)
	return out, created, nil
}

func (c *CachedStore) ListKnowledgePoints(ctx context.Context, f KnowledgePointFilter) ([]KnowledgePoint, error) {
	key := fmt.Sprintf("list:%d:%s:%d", f.SubjectID, f.GradeLevel.Canonical(), f.Limit)
	return c.cached(ctx, key, func() ([]KnowledgePoint, error) {
		return c.Store.ListKnowledgePoints(ctx, f)
	})
}

func (c *CachedStore) KnowledgePointsByName(ctx context.Context, names []string, limit int) ([]KnowledgePoint, error) {
	key := fmt.Sprintf("names:%s:%d", strings.Join(names, "|"), limit)
	return c.cached(ctx, key, func() ([]KnowledgePoint, error) {
		return c.Store.KnowledgePointsByName(ctx, names, limit)
	})
}

func (c *CachedStore) cached(ctx context.Context, key string, load func() ([]KnowledgePoint, error)) ([]KnowledgePoint, error) {
	version, err := c.kv.Counter(ctx, versionKey)
	if err != nil {
		slog.Warn("taxonomy cache unavailable", "error", err)
		return load()
	}
	full := fmt.Sprintf("taxonomy:v%d:%s", version, key)

	data, err := c.kv.Get(ctx, full)
	if err == nil {
		var kps []KnowledgePoint
		if jsonErr := json.Unmarshal(data, &kps); jsonErr == nil {
			return kps, nil
		}
		slog.Warn("discarding corrupt taxonomy cache entry", "key", full)
	} else if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("taxonomy cache get failed", "key", full, "error", err)
	}

	kps, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(kps); err == nil {
		if err := c.kv.Set(ctx, full, data, c.ttl); err != nil {
			slog.Warn("taxonomy cache set failed", "key", full, "error", err)
		}
	}
	return kps, nil
}

func (c *CachedStore) invalidate(ctx context.Context) {
	if _, err := c.kv.Incr(ctx, versionKey); err != nil {
		slog.Warn("taxonomy cache invalidation failed", "error", err)
	}
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/log"
	"github.com/hearth-sh/hearth/pkg/metrics"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

// DefaultTTL applies when GetOrFill is called with a zero ttl.
const DefaultTTL = time.Hour

// record is the persisted shape of one entry. Expiry is handled by the
// store's TTL, tags ride along for invalidation.
type record struct {
	Schema  int      `json:"schema"`
	Payload []byte   `json:"payload"`
	Tags    []string `json:"tags,omitempty"`
}

// Cache is a content-addressed function-result cache. Entries persist in
// the store; hit and miss counters are per-process.
type Cache struct {
	store  storage.Store
	clock  ident.Clock
	logger zerolog.Logger
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache over the given store.
func New(store storage.Store, clock ident.Clock) *Cache {
	return &Cache{store: store, clock: clock, logger: log.WithComponent("cache")}
}

// Key derives a cache key from a function name and its canonicalized
// arguments. Equal arguments yield equal keys regardless of call site.
func Key(fn string, args ...any) (string, error) {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, fn)
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return "", errdefs.New(errdefs.KindUsage, "argument %d is not canonicalizable: %v", i, err)
		}
		parts = append(parts, string(data))
	}
	return ident.FingerprintStrings(parts...), nil
}

// GetOrFill returns the cached value for key, invoking producer on a miss.
// Concurrent callers for the same key share a single producer invocation.
// A failed producer caches nothing and every sharing caller sees the error.
func (c *Cache) GetOrFill(ctx context.Context, key string, ttl time.Duration, tags []string, producer func(context.Context) ([]byte, error)) ([]byte, error) {
	if key == "" {
		return nil, errdefs.New(errdefs.KindUsage, "cache key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	executed := false
	value, err, _ := c.group.Do(key, func() (any, error) {
		executed = true
		entry, err := c.store.Get(storage.NamespaceCache, key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			var rec record
			if err := json.Unmarshal(entry.Value, &rec); err != nil {
				return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
			}
			c.hits.Add(1)
			metrics.CacheHitsTotal.Inc()
			return rec.Payload, nil
		}

		c.misses.Add(1)
		metrics.CacheMissesTotal.Inc()
		payload, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(record{Schema: types.SchemaVersion, Payload: payload, Tags: tags})
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err)
		}
		if err := c.store.Put(storage.NamespaceCache, key, data, ttl); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	if !executed {
		// Piggybacked on another caller's flight.
		c.hits.Add(1)
		metrics.CacheHitsTotal.Inc()
	}
	return value.([]byte), nil
}

// Get returns a cached value without filling.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	entry, err := c.store.Get(storage.NamespaceCache, key)
	if err != nil || entry == nil {
		return nil, false, err
	}
	var rec record
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	c.hits.Add(1)
	metrics.CacheHitsTotal.Inc()
	return rec.Payload, true, nil
}

// Invalidate removes every entry with a tag matching the glob pattern and
// returns how many were removed.
func (c *Cache) Invalidate(tagPattern string) (int, error) {
	if _, err := path.Match(tagPattern, ""); err != nil {
		return 0, errdefs.New(errdefs.KindUsage, "bad tag pattern %q: %v", tagPattern, err)
	}

	var stale []string
	err := c.store.Scan(storage.NamespaceCache, "", func(key string, e *storage.Entry) error {
		var rec record
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil
		}
		for _, tag := range rec.Tags {
			if ok, _ := path.Match(tagPattern, tag); ok {
				stale = append(stale, key)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range stale {
		existed, err := c.store.Delete(storage.NamespaceCache, key)
		if err != nil {
			return removed, err
		}
		if existed {
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug().Str("pattern", tagPattern).Int("removed", removed).Msg("cache invalidated")
	}
	return removed, nil
}

// Entries lists live entries, optionally filtered by a tag glob.
func (c *Cache) Entries(tagPattern string) ([]*types.CacheEntry, error) {
	var entries []*types.CacheEntry
	err := c.store.Scan(storage.NamespaceCache, "", func(key string, e *storage.Entry) error {
		var rec record
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil
		}
		if tagPattern != "" {
			matched := false
			for _, tag := range rec.Tags {
				if ok, _ := path.Match(tagPattern, tag); ok {
					matched = true
					break
				}
			}
			if !matched {
				return nil
			}
		}
		entry := &types.CacheEntry{
			Schema:    rec.Schema,
			Key:       key,
			Payload:   append([]byte(nil), rec.Payload...),
			CreatedAt: e.CreatedAt,
			Tags:      rec.Tags,
		}
		if e.ExpiresAt != nil {
			entry.ExpiresAt = *e.ExpiresAt
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Stats reports entry count, total payload bytes, and per-process hit and
// miss counters.
func (c *Cache) Stats() (types.CacheStats, error) {
	stats := types.CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	err := c.store.Scan(storage.NamespaceCache, "", func(key string, e *storage.Entry) error {
		var rec record
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil
		}
		stats.EntryCount++
		stats.SizeBytes += int64(len(rec.Payload))
		return nil
	})
	if err != nil {
		return types.CacheStats{}, err
	}
	return stats, nil
}

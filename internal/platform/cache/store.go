// Package cache provides a process-local cache whose entries are invalidated by tag.
//
// Entries expire after an idle period and the store is bounded by entry count. Readers that
// populate the cache after a persistence read use Snapshot and PutIfFresh so an invalidation
// that lands between the read and the put is never overwritten with stale data.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	// DefaultIdleTTL evicts entries not read for this long.
	DefaultIdleTTL = 10 * time.Minute
	// DefaultMaxEntries bounds the number of cached entries.
	DefaultMaxEntries = 10000

	metricNamespace = "github.com/openshop/api/internal/platform/cache"
	maxTrackedTags  = 50000
)

// Token is a generation marker returned by Snapshot.
type Token uint64

// Options configures a Store.
type Options struct {
	IdleTTL    time.Duration
	MaxEntries int
	Meter      metric.Meter
}

type entry struct {
	value any
}

// Store is safe for concurrent use.
type Store struct {
	items *ttlcache.Cache[string, entry]

	mu         sync.Mutex
	generation uint64
	// floor is the oldest generation whose tag history is still tracked.
	floor    uint64
	tagGen   map[string]uint64
	tagIndex map[string]map[string]struct{}
	keyTags  map[string][]string

	stopEviction func()

	hits          metric.Int64Counter
	misses        metric.Int64Counter
	invalidations metric.Int64Counter
	skippedPuts   metric.Int64Counter
}

// New constructs a Store and starts its expiry loop. Call Close to stop it.
func New(opts Options) *Store {
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	capacity := opts.MaxEntries
	if capacity <= 0 {
		capacity = DefaultMaxEntries
	}

	s := &Store{
		items: ttlcache.New[string, entry](
			ttlcache.WithTTL[string, entry](ttl),
			ttlcache.WithCapacity[string, entry](uint64(capacity)),
		),
		tagGen:   make(map[string]uint64),
		tagIndex: make(map[string]map[string]struct{}),
		keyTags:  make(map[string][]string),
	}

	meter := opts.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	s.hits = counter(meter, "cache.hits", "Cache lookups served from memory")
	s.misses = counter(meter, "cache.misses", "Cache lookups that fell through to persistence")
	s.invalidations = counter(meter, "cache.invalidations", "Entries removed by tag invalidation")
	s.skippedPuts = counter(meter, "cache.stale_puts", "Puts skipped because a tag was invalidated after the read")

	s.stopEviction = s.items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, entry]) {
		if reason == ttlcache.EvictionReasonDeleted {
			return
		}
		s.unindex(item.Key())
	})
	go s.items.Start()
	return s
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// Get returns the cached value for key. The shape label only feeds metrics.
func (s *Store) Get(ctx context.Context, shape, key string) (any, bool) {
	item := s.items.Get(key)
	attrs := metric.WithAttributes(attribute.String("shape", shape))
	if item == nil {
		s.misses.Add(ctx, 1, attrs)
		return nil, false
	}
	s.hits.Add(ctx, 1, attrs)
	return item.Value().value, true
}

// Snapshot returns the current generation. Pass it to PutIfFresh after loading from persistence.
func (s *Store) Snapshot() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Token(s.generation)
}

// PutIfFresh caches value under key unless one of tags was invalidated after token was taken.
// It reports whether the value was stored.
func (s *Store) PutIfFresh(ctx context.Context, key string, value any, tags []string, token Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint64(token) < s.floor {
		s.skippedPuts.Add(ctx, 1)
		return false
	}
	for _, tag := range tags {
		if s.tagGen[tag] > uint64(token) {
			s.skippedPuts.Add(ctx, 1)
			return false
		}
	}

	tagsCopy := append([]string(nil), tags...)
	s.dropKey(key)
	s.items.Set(key, entry{value: value}, ttlcache.DefaultTTL)
	s.keyTags[key] = tagsCopy
	for _, tag := range tagsCopy {
		keys, ok := s.tagIndex[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tagIndex[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return true
}

// Invalidate removes every entry carrying any of tags and marks the tags as changed so that
// in-flight readers holding an older token do not repopulate them.
func (s *Store) Invalidate(ctx context.Context, tags ...string) int {
	if len(tags) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	if len(s.tagGen)+len(tags) > maxTrackedTags {
		s.tagGen = make(map[string]uint64)
		s.floor = s.generation
	}

	removed := 0
	for _, tag := range tags {
		s.tagGen[tag] = s.generation
		for key := range s.tagIndex[tag] {
			s.items.Delete(key)
			s.dropKey(key)
			removed++
		}
		delete(s.tagIndex, tag)
	}
	if removed > 0 {
		s.invalidations.Add(ctx, int64(removed))
	}
	return removed
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	return s.items.Len()
}

// Close stops the expiry loop.
func (s *Store) Close() {
	s.items.Stop()
	if s.stopEviction != nil {
		s.stopEviction()
	}
}

// dropKey removes key from the tag index. Callers hold s.mu.
func (s *Store) dropKey(key string) {
	for _, tag := range s.keyTags[key] {
		if keys, ok := s.tagIndex[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(s.tagIndex, tag)
			}
		}
	}
	delete(s.keyTags, key)
}

// unindex runs asynchronously after expiry or capacity eviction. A key that was set again in
// the meantime keeps its index.
func (s *Store) unindex(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items.Has(key) {
		return
	}
	s.dropKey(key)
}

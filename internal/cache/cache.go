// Package cache provides the two-tier entity cache.
//
// Named entity collections are kept in an in-memory tier and persisted,
// after a short debounce, to a durable domain.Storage. Expiry is evaluated
// lazily at read time against a tier chosen by the reader. Storage failures
// never reach callers: they degrade to misses or no-ops and the memory tier
// stays the source of truth for the rest of the process lifetime.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidepoint/marketplace/internal/domain"
)

const (
	// KeyPrefix namespaces every durable key written by the cache.
	KeyPrefix = "entity_cache_"

	// TimestampKeyPrefix namespaces the write-time companions of payload keys.
	TimestampKeyPrefix = KeyPrefix + "timestamp_"

	// DefaultDebounceWindow is how long a write waits for a newer value before persisting.
	DefaultDebounceWindow = 100 * time.Millisecond

	storageTimeout = 5 * time.Second
)

// EntityCache is a read-through, write-behind cache for named entity collections.
type EntityCache struct {
	mu      sync.Mutex
	storage domain.Storage
	memory  map[string]memoryEntry
	pending map[string]*pendingWrite
	seq     uint64
	stats   statsCollector
	closed  bool

	// generations and epoch advance on Clear and ClearAll so reads that
	// started earlier do not repopulate the memory tier.
	generations map[string]uint64
	epoch       uint64

	// storageMu serializes durable writes and clears. Reads share it so a
	// clear never interleaves with a read it invalidates.
	storageMu sync.RWMutex

	window time.Duration
	now    func() time.Time
	pick   func(n int) int
	logger *slog.Logger
}

type memoryEntry struct {
	data      json.RawMessage
	timestamp time.Time
}

type pendingWrite struct {
	timer   *time.Timer
	token   uint64
	version uint64
	data    json.RawMessage
	at      time.Time
}

// Option configures an EntityCache.
type Option func(*EntityCache)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *EntityCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDebounceWindow sets how long writes are coalesced before persisting.
func WithDebounceWindow(d time.Duration) Option {
	return func(c *EntityCache) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithLogger sets the logger used for swallowed storage errors.
func WithLogger(logger *slog.Logger) Option {
	return func(c *EntityCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPicker replaces the random choice used to select an eviction victim.
func WithPicker(pick func(n int) int) Option {
	return func(c *EntityCache) {
		if pick != nil {
			c.pick = pick
		}
	}
}

// New creates an entity cache backed by storage.
func New(storage domain.Storage, opts ...Option) *EntityCache {
	c := &EntityCache{
		storage:     storage,
		memory:      make(map[string]memoryEntry),
		pending:     make(map[string]*pendingWrite),
		stats:       newStatsCollector(),
		generations: make(map[string]uint64),
		window:      DefaultDebounceWindow,
		now:         time.Now,
		pick:        rand.IntN,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores data under name. The memory tier is updated immediately and a
// durable write is scheduled after the debounce window; a newer Set for the
// same name within the window replaces the scheduled value.
// The only error is a value that cannot be encoded as JSON.
func (c *EntityCache) Set(name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode entity %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.store(name, raw)
	return nil
}

// SetIfVersion stores data only when name has not been cleared since version
// was read with Version. It reports whether the value was stored.
func (c *EntityCache) SetIfVersion(name string, data any, version uint64) (bool, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("encode entity %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.version(name) != version {
		return false, nil
	}
	c.store(name, raw)
	return true, nil
}

// Version returns a value that changes whenever name is cleared.
func (c *EntityCache) Version(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version(name)
}

func (c *EntityCache) version(name string) uint64 {
	return c.epoch + c.generations[name]
}

// store updates the memory tier and schedules the durable write. Callers
// must hold mu.
func (c *EntityCache) store(name string, raw json.RawMessage) {
	now := c.now()

	c.memory[name] = memoryEntry{data: raw, timestamp: now}
	c.stats.recordWrite(name, now)

	if c.closed || c.storage == nil {
		return
	}

	if prev, ok := c.pending[name]; ok {
		prev.timer.Stop()
	}

	c.seq++
	token := c.seq
	p := &pendingWrite{token: token, version: c.version(name), data: raw, at: now}
	p.timer = time.AfterFunc(c.window, func() {
		c.flushPending(name, token)
	})
	c.pending[name] = p
}

// Get resolves name against the memory tier, then durable storage.
// A durable entry is promoted into memory when fresh. An expired entry is
// still returned when the caller asks for the Long tier.
func (c *EntityCache) Get(ctx context.Context, name string, tier Tier) (json.RawMessage, bool) {
	now := c.now()

	c.mu.Lock()
	entry, inMemory := c.memory[name]
	if inMemory && fresh(now, entry.timestamp, tier) {
		c.stats.recordHit(name, now)
		c.mu.Unlock()
		return entry.data, true
	}
	version := c.version(name)
	c.mu.Unlock()

	data, storedAt, found := c.readStorage(ctx, name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.version(name) != version {
		// Cleared during the storage read; only a value set since then counts.
		if cur, ok := c.memory[name]; ok && fresh(now, cur.timestamp, tier) {
			c.stats.recordHit(name, now)
			return cur.data, true
		}
		c.stats.recordMiss(name, now)
		return nil, false
	}

	if !found {
		// Storage may be unavailable; a stale memory entry is all we have.
		if inMemory && tier == Long {
			c.stats.recordHit(name, now)
			return entry.data, true
		}
		c.stats.recordMiss(name, now)
		return nil, false
	}

	if fresh(now, storedAt, tier) {
		if cur, ok := c.memory[name]; !ok || !cur.timestamp.After(storedAt) {
			c.memory[name] = memoryEntry{data: data, timestamp: storedAt}
		}
		c.stats.recordHit(name, now)
		return data, true
	}

	if tier == Long {
		c.stats.recordHit(name, now)
		return data, true
	}

	c.stats.recordMiss(name, now)
	return nil, false
}

// Load decodes the cached value for name into T.
func Load[T any](ctx context.Context, c *EntityCache, name string, tier Tier) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, name, tier)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("entity cache decode failed", "entity", name, "error", err)
		return out, false
	}
	return out, true
}

// Has reports whether Get would return a value.
func (c *EntityCache) Has(ctx context.Context, name string, tier Tier) bool {
	_, ok := c.Get(ctx, name, tier)
	return ok
}

// GetExpired returns whatever is available for name, even if stale.
func (c *EntityCache) GetExpired(ctx context.Context, name string) (json.RawMessage, bool) {
	return c.Get(ctx, name, Long)
}

// Clear removes name from both tiers and drops any pending write.
func (c *EntityCache) Clear(ctx context.Context, name string) {
	c.storageMu.Lock()
	defer c.storageMu.Unlock()

	c.mu.Lock()
	c.generations[name]++
	delete(c.memory, name)
	if p, ok := c.pending[name]; ok {
		p.timer.Stop()
		delete(c.pending, name)
	}
	c.mu.Unlock()

	if c.storage == nil {
		return
	}

	if err := c.storage.Remove(ctx, dataKey(name)); err != nil {
		c.logger.Warn("entity cache clear failed", "entity", name, "error", err)
	}
	if err := c.storage.Remove(ctx, timestampKey(name)); err != nil {
		c.logger.Warn("entity cache clear failed", "entity", name, "error", err)
	}
}

// ClearAll removes every namespaced durable key, empties the memory tier and
// resets statistics. It affects every entity, not only the caller's.
func (c *EntityCache) ClearAll(ctx context.Context) {
	c.storageMu.Lock()
	defer c.storageMu.Unlock()

	c.mu.Lock()
	c.epoch++
	for name, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, name)
	}
	c.memory = make(map[string]memoryEntry)
	c.stats = newStatsCollector()
	c.mu.Unlock()

	if c.storage == nil {
		return
	}

	keys, err := c.storage.Keys(ctx, KeyPrefix)
	if err != nil {
		c.logger.Warn("entity cache clear all failed", "error", err)
		return
	}
	for _, key := range keys {
		if err := c.storage.Remove(ctx, key); err != nil {
			c.logger.Warn("entity cache clear all failed", "key", key, "error", err)
		}
	}
}

// Stats returns a snapshot of counters and the durable footprint.
func (c *EntityCache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	out := c.stats.snapshot()
	out.MemoryEntries = len(c.memory)
	out.PendingWrites = len(c.pending)
	c.mu.Unlock()

	if c.storage == nil {
		return out
	}

	keys, err := c.storage.Keys(ctx, KeyPrefix)
	if err != nil {
		c.logger.Warn("entity cache size scan failed", "error", err)
		return out
	}
	for _, key := range keys {
		value, ok, err := c.storage.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		out.StorageBytes += int64(len(value))
		out.ApproxUTF16Bytes += utf16Bytes(value)
	}
	return out
}

// Flush persists every pending write immediately.
func (c *EntityCache) Flush(ctx context.Context) {
	c.mu.Lock()
	writes := make(map[string]*pendingWrite, len(c.pending))
	for name, p := range c.pending {
		p.timer.Stop()
		writes[name] = p
		delete(c.pending, name)
	}
	c.mu.Unlock()

	for name, p := range writes {
		c.persist(ctx, name, p)
	}
}

// Close flushes pending writes. Later writes only reach the memory tier.
func (c *EntityCache) Close(ctx context.Context) {
	c.Flush(ctx)

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *EntityCache) flushPending(name string, token uint64) {
	c.mu.Lock()
	p, ok := c.pending[name]
	if !ok || p.token != token {
		c.mu.Unlock()
		return
	}
	delete(c.pending, name)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	c.persist(ctx, name, p)
}

// persist writes p unless name was cleared after p was scheduled.
func (c *EntityCache) persist(ctx context.Context, name string, p *pendingWrite) {
	c.storageMu.Lock()
	defer c.storageMu.Unlock()

	c.mu.Lock()
	cleared := c.version(name) != p.version
	c.mu.Unlock()
	if cleared {
		return
	}

	err := c.storage.Set(ctx, dataKey(name), string(p.data))
	if err == nil {
		err = c.storage.Set(ctx, timestampKey(name), strconv.FormatInt(p.at.UnixMilli(), 10))
	}
	if err != nil {
		c.logger.Warn("entity cache write failed", "entity", name, "error", err)
		c.cleanupStorage(ctx)
	}
}

// cleanupStorage evicts one randomly chosen entity from durable storage to
// free space. Callers must hold storageMu.
func (c *EntityCache) cleanupStorage(ctx context.Context) {
	keys, err := c.storage.Keys(ctx, KeyPrefix)
	if err != nil {
		c.logger.Warn("entity cache cleanup failed", "error", err)
		return
	}

	var names []string
	for _, key := range keys {
		if strings.HasPrefix(key, TimestampKeyPrefix) {
			continue
		}
		names = append(names, strings.TrimPrefix(key, KeyPrefix))
	}
	if len(names) == 0 {
		return
	}

	victim := names[c.pick(len(names))]
	if err := c.storage.Remove(ctx, dataKey(victim)); err != nil {
		c.logger.Warn("entity cache cleanup failed", "entity", victim, "error", err)
		return
	}
	if err := c.storage.Remove(ctx, timestampKey(victim)); err != nil {
		c.logger.Warn("entity cache cleanup failed", "entity", victim, "error", err)
	}

	c.logger.Info("entity cache evicted entity from storage", "entity", victim)
}

// readStorage returns the durable payload and its write time. A missing or
// unparsable timestamp yields the zero time, which no tier considers fresh.
func (c *EntityCache) readStorage(ctx context.Context, name string) (json.RawMessage, time.Time, bool) {
	if c.storage == nil {
		return nil, time.Time{}, false
	}

	c.storageMu.RLock()
	defer c.storageMu.RUnlock()

	value, ok, err := c.storage.Get(ctx, dataKey(name))
	if err != nil {
		c.logger.Debug("entity cache read failed", "entity", name, "error", err)
		return nil, time.Time{}, false
	}
	if !ok || !json.Valid([]byte(value)) {
		return nil, time.Time{}, false
	}

	var storedAt time.Time
	if ts, ok, err := c.storage.Get(ctx, timestampKey(name)); err == nil && ok {
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			storedAt = time.UnixMilli(ms)
		}
	}

	return json.RawMessage(value), storedAt, true
}

func dataKey(name string) string {
	return KeyPrefix + name
}

func timestampKey(name string) string {
	return TimestampKeyPrefix + name
}

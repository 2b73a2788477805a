package cache

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidepoint/marketplace/internal/domain"
)

type beach struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Flag bool   `json:"blue_flag"`
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingStorage wraps MemoryStorage and records writes to payload keys.
type recordingStorage struct {
	*MemoryStorage
	mu      sync.Mutex
	writes  []string
	failGet bool
	failSet bool
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{MemoryStorage: NewMemoryStorage(0)}
}

func (s *recordingStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return "", false, errors.New("storage unavailable")
	}
	return s.MemoryStorage.Get(ctx, key)
}

func (s *recordingStorage) Set(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	fail := s.failSet
	if !strings.HasPrefix(key, TimestampKeyPrefix) {
		s.writes = append(s.writes, value)
	}
	s.mu.Unlock()
	if fail {
		return errors.New("storage unavailable")
	}
	return s.MemoryStorage.Set(ctx, key, value)
}

func (s *recordingStorage) payloadWrites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// gatedStorage blocks the next timestamp read until release is called.
type gatedStorage struct {
	*MemoryStorage
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStorage() *gatedStorage {
	return &gatedStorage{
		MemoryStorage: NewMemoryStorage(0),
		entered:       make(chan struct{}),
		gate:          make(chan struct{}),
	}
}

func (s *gatedStorage) arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

func (s *gatedStorage) release() {
	close(s.gate)
}

func (s *gatedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	block := s.armed && strings.HasPrefix(key, TimestampKeyPrefix)
	if block {
		s.armed = false
	}
	s.mu.Unlock()
	if block {
		close(s.entered)
		<-s.gate
	}
	return s.MemoryStorage.Get(ctx, key)
}

var sampleBeaches = []beach{
	{ID: "b-1", Name: "Playa de la Concha", Flag: true},
	{ID: "b-2", Name: "Praia da Rocha", Flag: false},
}

func TestEntityCache(t *testing.T) {
	ctx := context.Background()

	t.Run("SetThenGetShort", func(t *testing.T) {
		c := New(NewMemoryStorage(0))

		if err := c.Set("beaches", sampleBeaches); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		got, ok := Load[[]beach](ctx, c, "beaches", Short)
		if !ok {
			t.Fatal("expected hit after set")
		}
		if !reflect.DeepEqual(got, sampleBeaches) {
			t.Errorf("expected %v, got %v", sampleBeaches, got)
		}
	})

	t.Run("MissForUnknownEntity", func(t *testing.T) {
		c := New(NewMemoryStorage(0))

		if _, ok := c.Get(ctx, "cities", Long); ok {
			t.Error("expected miss for unknown entity")
		}

		stats := c.Stats(ctx)
		if stats.Misses != 1 {
			t.Errorf("expected 1 miss, got %d", stats.Misses)
		}
	})

	t.Run("ClearRemovesBothTiers", func(t *testing.T) {
		storage := NewMemoryStorage(0)
		c := New(storage)

		_ = c.Set("beaches", sampleBeaches)
		c.Flush(ctx)

		c.Clear(ctx, "beaches")

		if _, ok := c.Get(ctx, "beaches", Long); ok {
			t.Error("expected absent after clear")
		}
		if _, ok, _ := storage.Get(ctx, KeyPrefix+"beaches"); ok {
			t.Error("expected payload key removed from storage")
		}
	})

	t.Run("ClearDropsPendingWrite", func(t *testing.T) {
		storage := newRecordingStorage()
		c := New(storage, WithDebounceWindow(20*time.Millisecond))

		_ = c.Set("beaches", sampleBeaches)
		c.Clear(ctx, "beaches")

		time.Sleep(80 * time.Millisecond)

		if writes := storage.payloadWrites(); len(writes) != 0 {
			t.Errorf("expected no durable write after clear, got %d", len(writes))
		}
	})

	t.Run("TierExpiry", func(t *testing.T) {
		clock := newFakeClock()
		storage := NewMemoryStorage(0)
		c := New(storage, WithClock(clock.Now))

		_ = c.Set("beaches", sampleBeaches)
		c.Flush(ctx)

		clock.Advance(10 * time.Minute)

		if _, ok := c.Get(ctx, "beaches", Medium); ok {
			t.Error("expected medium tier to report expired entry as absent")
		}

		got, ok := Load[[]beach](ctx, c, "beaches", Long)
		if !ok {
			t.Fatal("expected long tier to return stale entry")
		}
		if !reflect.DeepEqual(got, sampleBeaches) {
			t.Errorf("expected stale value %v, got %v", sampleBeaches, got)
		}
	})

	t.Run("TierExpiryAfterRestart", func(t *testing.T) {
		clock := newFakeClock()
		storage := NewMemoryStorage(0)

		first := New(storage, WithClock(clock.Now))
		_ = first.Set("beaches", sampleBeaches)
		first.Close(ctx)

		clock.Advance(2 * time.Hour)
		second := New(storage, WithClock(clock.Now))

		if second.Has(ctx, "beaches", Short) || second.Has(ctx, "beaches", Medium) {
			t.Error("expected expired entry to be absent under short and medium tiers")
		}
		if _, ok := second.GetExpired(ctx, "beaches"); !ok {
			t.Error("expected GetExpired to return stale durable entry")
		}
	})

	t.Run("SameEntryDifferentTiers", func(t *testing.T) {
		clock := newFakeClock()
		c := New(NewMemoryStorage(0), WithClock(clock.Now))

		_ = c.Set("events", []string{"festival"})
		c.Flush(ctx)
		clock.Advance(time.Minute)

		if c.Has(ctx, "events", Short) {
			t.Error("expected one-minute-old entry to be expired under short tier")
		}
		if !c.Has(ctx, "events", Medium) {
			t.Error("expected one-minute-old entry to be fresh under medium tier")
		}
	})

	t.Run("PromotesFreshStorageEntry", func(t *testing.T) {
		clock := newFakeClock()
		storage := NewMemoryStorage(0)

		writer := New(storage, WithClock(clock.Now))
		_ = writer.Set("cities", []string{"Lisbon"})
		writer.Flush(ctx)

		reader := New(storage, WithClock(clock.Now))
		if reader.Stats(ctx).MemoryEntries != 0 {
			t.Fatal("expected empty memory tier on new cache")
		}

		got, ok := Load[[]string](ctx, reader, "cities", Medium)
		if !ok || len(got) != 1 || got[0] != "Lisbon" {
			t.Fatalf("expected promoted value, got %v (ok=%v)", got, ok)
		}
		if reader.Stats(ctx).MemoryEntries != 1 {
			t.Error("expected storage entry to be promoted into memory")
		}
	})

	t.Run("DebouncedWritesCoalesce", func(t *testing.T) {
		storage := newRecordingStorage()
		c := New(storage, WithDebounceWindow(30*time.Millisecond))

		_ = c.Set("beaches", []string{"a"})
		_ = c.Set("beaches", []string{"b"})

		time.Sleep(150 * time.Millisecond)

		writes := storage.payloadWrites()
		if len(writes) != 1 {
			t.Fatalf("expected exactly 1 durable write, got %d", len(writes))
		}
		if writes[0] != `["b"]` {
			t.Errorf("expected last value to be persisted, got %s", writes[0])
		}

		stats := c.Stats(ctx)
		if stats.Writes != 2 {
			t.Errorf("expected 2 counted writes, got %d", stats.Writes)
		}
	})

	t.Run("ClearAllResetsEverything", func(t *testing.T) {
		storage := NewMemoryStorage(0)
		c := New(storage)

		_ = c.Set("beaches", sampleBeaches)
		_ = c.Set("cities", []string{"Porto"})
		c.Flush(ctx)
		_ = storage.Set(ctx, "unrelated", "keep")

		c.Get(ctx, "beaches", Short)
		c.Get(ctx, "nothing", Short)

		c.ClearAll(ctx)

		stats := c.Stats(ctx)
		if stats.Hits != 0 || stats.Misses != 0 || stats.Writes != 0 {
			t.Errorf("expected zeroed counters, got %+v", stats)
		}
		if len(stats.Entities) != 0 {
			t.Errorf("expected no entity stats, got %d", len(stats.Entities))
		}

		for _, tier := range []Tier{Short, Medium, Long} {
			if c.Has(ctx, "beaches", tier) || c.Has(ctx, "cities", tier) {
				t.Errorf("expected entities absent under %s tier", tier)
			}
		}

		if _, ok, _ := storage.Get(ctx, "unrelated"); !ok {
			t.Error("expected keys outside the namespace to survive")
		}
	})

	t.Run("StatsTrackPerEntity", func(t *testing.T) {
		clock := newFakeClock()
		c := New(NewMemoryStorage(0), WithClock(clock.Now))

		_ = c.Set("beaches", sampleBeaches)
		c.Get(ctx, "beaches", Medium)
		c.Get(ctx, "beaches", Medium)
		c.Get(ctx, "events", Medium)
		c.Flush(ctx)

		stats := c.Stats(ctx)
		if stats.Hits != 2 || stats.Misses != 1 || stats.Writes != 1 {
			t.Errorf("unexpected counters: %+v", stats)
		}
		b := stats.Entities["beaches"]
		if b.Hits != 2 || b.Writes != 1 {
			t.Errorf("unexpected beach stats: %+v", b)
		}
		if !b.LastWrite.Equal(clock.Now()) || !b.LastAccess.Equal(clock.Now()) {
			t.Errorf("expected timestamps to match clock, got %+v", b)
		}
		if stats.StorageBytes <= 0 {
			t.Error("expected non-zero storage footprint")
		}
		if stats.ApproxUTF16Bytes < stats.StorageBytes {
			t.Errorf("expected UTF-16 estimate >= exact ASCII size, got %d < %d", stats.ApproxUTF16Bytes, stats.StorageBytes)
		}
	})

	t.Run("CorruptedPayloadIsMiss", func(t *testing.T) {
		storage := NewMemoryStorage(0)
		_ = storage.Set(ctx, KeyPrefix+"beaches", "{not json")
		_ = storage.Set(ctx, TimestampKeyPrefix+"beaches", "1")

		c := New(storage)
		if _, ok := c.Get(ctx, "beaches", Long); ok {
			t.Error("expected corrupted payload to be treated as a miss")
		}
	})

	t.Run("MissingTimestampIsStale", func(t *testing.T) {
		storage := NewMemoryStorage(0)
		_ = storage.Set(ctx, KeyPrefix+"cities", `["Faro"]`)

		c := New(storage)
		if c.Has(ctx, "cities", Medium) {
			t.Error("expected entry without timestamp to be expired")
		}
		if !c.Has(ctx, "cities", Long) {
			t.Error("expected long tier to accept entry without timestamp")
		}
	})

	t.Run("StorageUnavailable", func(t *testing.T) {
		storage := newRecordingStorage()
		storage.failGet = true
		storage.failSet = true
		c := New(storage, WithDebounceWindow(5*time.Millisecond))

		if err := c.Set("beaches", sampleBeaches); err != nil {
			t.Fatalf("Set must not surface storage errors: %v", err)
		}
		time.Sleep(40 * time.Millisecond)

		got, ok := Load[[]beach](ctx, c, "beaches", Short)
		if !ok || len(got) != 2 {
			t.Error("expected memory tier to keep serving after storage failure")
		}
		if _, ok := c.Get(ctx, "cities", Long); ok {
			t.Error("expected miss for unknown entity when storage fails")
		}
	})

	t.Run("QuotaFailureEvictsOneEntity", func(t *testing.T) {
		storage := NewMemoryStorage(200)
		c := New(storage, WithPicker(func(n int) int { return 0 }))

		_ = c.Set("aaa", []string{"x"})
		c.Flush(ctx)
		if _, ok, _ := storage.Get(ctx, KeyPrefix+"aaa"); !ok {
			t.Fatal("expected first entity to be persisted")
		}

		_ = c.Set("big", strings.Repeat("y", 500))
		c.Flush(ctx)

		if _, ok, _ := storage.Get(ctx, KeyPrefix+"aaa"); ok {
			t.Error("expected victim to be evicted after quota failure")
		}
		if _, ok, _ := storage.Get(ctx, TimestampKeyPrefix+"aaa"); ok {
			t.Error("expected victim timestamp to be evicted too")
		}
		if !c.Has(ctx, "big", Short) {
			t.Error("expected memory tier to keep the value that failed to persist")
		}
	})

	t.Run("UnencodableValue", func(t *testing.T) {
		c := New(NewMemoryStorage(0))
		if err := c.Set("bad", make(chan int)); err == nil {
			t.Error("expected error for unencodable value")
		}
	})

	t.Run("ClearDuringStorageRead", func(t *testing.T) {
		clears := map[string]func(c *EntityCache){
			"Clear":    func(c *EntityCache) { c.Clear(ctx, "beaches") },
			"ClearAll": func(c *EntityCache) { c.ClearAll(ctx) },
		}
		for name, clearFn := range clears {
			t.Run(name, func(t *testing.T) {
				storage := newGatedStorage()
				seed := New(storage)
				_ = seed.Set("beaches", sampleBeaches)
				seed.Flush(ctx)

				c := New(storage)
				storage.arm()

				var wg sync.WaitGroup
				wg.Add(2)
				go func() {
					defer wg.Done()
					c.Get(ctx, "beaches", Long)
				}()
				<-storage.entered
				go func() {
					defer wg.Done()
					clearFn(c)
				}()
				time.Sleep(10 * time.Millisecond)
				storage.release()
				wg.Wait()

				if _, ok := c.Get(ctx, "beaches", Long); ok {
					t.Errorf("expected beaches to stay cleared after %s", name)
				}
			})
		}
	})

	t.Run("SetIfVersion", func(t *testing.T) {
		c := New(NewMemoryStorage(0))

		version := c.Version("beaches")
		c.Clear(ctx, "beaches")

		stored, err := c.SetIfVersion("beaches", sampleBeaches, version)
		if err != nil {
			t.Fatalf("SetIfVersion failed: %v", err)
		}
		if stored || c.Has(ctx, "beaches", Short) {
			t.Error("expected value read before Clear to be rejected")
		}

		stored, err = c.SetIfVersion("beaches", sampleBeaches, c.Version("beaches"))
		if err != nil || !stored {
			t.Fatalf("expected current version to be accepted, stored=%v err=%v", stored, err)
		}
		if !c.Has(ctx, "beaches", Short) {
			t.Error("expected value to be cached")
		}
	})

	t.Run("PendingWriteDroppedByClear", func(t *testing.T) {
		storage := newRecordingStorage()
		c := New(storage)

		_ = c.Set("beaches", sampleBeaches)
		c.Clear(ctx, "beaches")
		time.Sleep(2 * DefaultDebounceWindow)

		if len(storage.payloadWrites()) != 0 {
			t.Error("expected cleared entity not to be persisted")
		}
	})

	t.Run("CloseKeepsMemoryOnly", func(t *testing.T) {
		storage := newRecordingStorage()
		c := New(storage)
		c.Close(ctx)

		_ = c.Set("beaches", sampleBeaches)
		time.Sleep(2 * DefaultDebounceWindow)

		if len(storage.payloadWrites()) != 0 {
			t.Error("expected no durable writes after close")
		}
		if !c.Has(ctx, "beaches", Short) {
			t.Error("expected memory tier to work after close")
		}
	})
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input   string
		want    Tier
		wantErr bool
	}{
		{"", Medium, false},
		{"short", Short, false},
		{"medium", Medium, false},
		{"long", Long, false},
		{"forever", "", true},
	}

	for _, tt := range tests {
		got, err := ParseTier(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseTier(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	if Short.TTL() != 30*time.Second || Medium.TTL() != 5*time.Minute || Long.TTL() != time.Hour {
		t.Error("unexpected tier TTLs")
	}
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("Quota", func(t *testing.T) {
		s := NewMemoryStorage(10)
		if err := s.Set(ctx, "k", "12345"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := s.Set(ctx, "k2", "1234567890"); !errors.Is(err, domain.ErrQuotaExceeded) {
			t.Errorf("expected ErrQuotaExceeded, got %v", err)
		}
		// Overwriting reuses the old value's space.
		if err := s.Set(ctx, "k", "123456789"); err != nil {
			t.Errorf("expected overwrite within quota, got %v", err)
		}
		if s.Size() != 10 {
			t.Errorf("expected size 10, got %d", s.Size())
		}
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		s := NewMemoryStorage(0)
		_ = s.Set(ctx, "entity_cache_b", "1")
		_ = s.Set(ctx, "entity_cache_a", "1")
		_ = s.Set(ctx, "other", "1")

		keys, _ := s.Keys(ctx, KeyPrefix)
		if !reflect.DeepEqual(keys, []string{"entity_cache_a", "entity_cache_b"}) {
			t.Errorf("unexpected keys: %v", keys)
		}

		_ = s.Remove(ctx, "entity_cache_a")
		keys, _ = s.Keys(ctx, KeyPrefix)
		if len(keys) != 1 {
			t.Errorf("expected 1 key after remove, got %d", len(keys))
		}
	})
}

func TestNewStorage(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		s, err := NewStorage(domain.StorageConfig{Type: "memory"}, nil)
		if err != nil {
			t.Fatalf("NewStorage failed: %v", err)
		}
		if _, ok := s.(*MemoryStorage); !ok {
			t.Error("expected MemoryStorage for memory type")
		}
	})

	t.Run("SQLTypeNeedsRepository", func(t *testing.T) {
		if _, err := NewStorage(domain.StorageConfig{Type: "sql"}, nil); err == nil {
			t.Error("expected error without repository")
		}
		backing := NewMemoryStorage(0)
		s, err := NewStorage(domain.StorageConfig{Type: "sql"}, backing)
		if err != nil || s != domain.Storage(backing) {
			t.Errorf("expected provided storage to be returned, got %v, %v", s, err)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := NewStorage(domain.StorageConfig{Type: "indexeddb"}, nil); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

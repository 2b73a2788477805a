package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tidepoint/marketplace/internal/cache"
	"github.com/tidepoint/marketplace/internal/domain"
)

// Listing is the result of a catalog read.
type Listing struct {
	Records []Record `json:"data"`

	// Cached is true when the records came from the entity cache.
	Cached bool `json:"cached"`

	// Stale is true when the backend failed and an expired cache entry was served.
	Stale bool `json:"stale,omitempty"`
}

// InvalidationEvent announces that a collection changed.
type InvalidationEvent struct {
	Entity string    `json:"entity"`
	Reason string    `json:"reason"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Catalog serves entity collections through the entity cache.
type Catalog struct {
	backend Backend
	cache   *cache.EntityCache
	bus     domain.EventBus
	logger  *slog.Logger
	origin  string
}

// NewCatalog creates a catalog. bus may be nil.
func NewCatalog(backend Backend, c *cache.EntityCache, bus domain.EventBus, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		backend: backend,
		cache:   c,
		bus:     bus,
		logger:  logger,
		origin:  uuid.New().String(),
	}
}

// List returns a collection, preferring a cache entry that is fresh under tier.
// When the backend fails, any cached copy is served as stale.
func (c *Catalog) List(ctx context.Context, name string, tier cache.Tier) (*Listing, error) {
	if records, ok := cache.Load[[]Record](ctx, c.cache, name, tier); ok {
		return &Listing{Records: records, Cached: true}, nil
	}

	version := c.cache.Version(name)
	records, err := c.backend.List(ctx, name)
	if err != nil {
		if stale, ok := cache.Load[[]Record](ctx, c.cache, name, cache.Long); ok {
			c.logger.Warn("entity backend failed, serving stale cache", "entity", name, "error", err)
			return &Listing{Records: stale, Cached: true, Stale: true}, nil
		}
		return nil, err
	}

	// A mutation that landed during the backend read already cleared the entry.
	if _, err := c.cache.SetIfVersion(name, records, version); err != nil {
		c.logger.Warn("entity cache set failed", "entity", name, "error", err)
	}
	return &Listing{Records: records}, nil
}

// Filter returns the records of a collection matching query exactly.
// A cached collection fresh under tier is filtered in place; otherwise the
// backend filters, and a failing backend falls back to any cached copy.
func (c *Catalog) Filter(ctx context.Context, name string, query map[string]any, tier cache.Tier) (*Listing, error) {
	if records, ok := cache.Load[[]Record](ctx, c.cache, name, tier); ok {
		return &Listing{Records: match(records, query), Cached: true}, nil
	}

	records, err := c.backend.Filter(ctx, name, query)
	if err != nil {
		if stale, ok := cache.Load[[]Record](ctx, c.cache, name, cache.Long); ok {
			c.logger.Warn("entity backend filter failed, serving stale cache", "entity", name, "error", err)
			return &Listing{Records: match(stale, query), Cached: true, Stale: true}, nil
		}
		return nil, err
	}
	return &Listing{Records: records}, nil
}

func match(records []Record, query map[string]any) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Matches(query) {
			out = append(out, rec)
		}
	}
	return out
}

// Get returns one record from the backend.
func (c *Catalog) Get(ctx context.Context, name, id string) (Record, error) {
	return c.backend.Get(ctx, name, id)
}

// Create adds a record and invalidates the cached collection.
func (c *Catalog) Create(ctx context.Context, name string, data Record) (Record, error) {
	rec, err := c.backend.Create(ctx, name, data)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, name, "create")
	return rec, nil
}

// Update patches a record and invalidates the cached collection.
func (c *Catalog) Update(ctx context.Context, name, id string, patch Record) (Record, error) {
	rec, err := c.backend.Update(ctx, name, id, patch)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, name, "update")
	return rec, nil
}

// Delete removes a record and invalidates the cached collection.
func (c *Catalog) Delete(ctx context.Context, name, id string) error {
	if err := c.backend.Delete(ctx, name, id); err != nil {
		return err
	}
	c.invalidate(ctx, name, "delete")
	return nil
}

// Subscribe clears local cache entries when another instance announces a change.
func (c *Catalog) Subscribe(ctx context.Context) (domain.Subscription, error) {
	if c.bus == nil {
		return nil, fmt.Errorf("catalog has no event bus")
	}
	return c.bus.Subscribe(ctx, domain.TopicCacheInvalidated, func(ctx context.Context, msg *domain.Message) error {
		var ev InvalidationEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode invalidation: %w", err)
		}
		if ev.Origin == c.origin || ev.Entity == "" {
			return nil
		}
		c.cache.Clear(ctx, ev.Entity)
		c.logger.Debug("entity cache invalidated by peer", "entity", ev.Entity, "reason", ev.Reason)
		return nil
	})
}

func (c *Catalog) invalidate(ctx context.Context, name, reason string) {
	c.cache.Clear(ctx, name)

	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(InvalidationEvent{
		Entity: name,
		Reason: reason,
		Origin: c.origin,
		At:     time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, domain.TopicCacheInvalidated, payload); err != nil {
		c.logger.Warn("failed to publish cache invalidation", "entity", name, "error", err)
	}
}

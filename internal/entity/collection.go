// Package entity implements the mocked entity API behind the marketplace
// catalog and a read-through cached view over it.
package entity

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("entity not found")
	ErrUnknownCollection = errors.New("unknown entity collection")
)

// Record is one schemaless entity. Every record carries "id" and "created_date".
type Record map[string]any

// ID returns the record id.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Matches reports whether every key in query is present in r with an equal value.
// Values are compared by their printed form so string queries match numbers and bools.
func (r Record) Matches(query map[string]any) bool {
	for k, want := range query {
		have, ok := r[k]
		if !ok {
			return false
		}
		if fmt.Sprint(have) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Collection is an in-memory, insertion-ordered set of records.
type Collection struct {
	name  string
	mu    sync.RWMutex
	items map[string]Record
	order []string
	now   func() time.Time
}

// NewCollection creates an empty collection.
func NewCollection(name string) *Collection {
	return &Collection{
		name:  name,
		items: make(map[string]Record),
		order: make([]string, 0),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// List returns every record in insertion order.
func (c *Collection) List() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, maps.Clone(c.items[id]))
	}
	return out
}

// Filter returns the records matching query in insertion order.
func (c *Collection) Filter(query map[string]any) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, 0)
	for _, id := range c.order {
		if item := c.items[id]; item.Matches(query) {
			out = append(out, maps.Clone(item))
		}
	}
	return out
}

// Get returns one record.
func (c *Collection) Get(id string) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, c.name, id)
	}
	return maps.Clone(item), nil
}

// Create stores data as a new record. A caller-supplied id is kept when it
// is not already taken.
func (c *Collection) Create(data Record) Record {
	item := maps.Clone(data)
	if item == nil {
		item = Record{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := item.ID()
	if _, taken := c.items[id]; id == "" || taken {
		id = uuid.New().String()
	}
	item["id"] = id
	if _, ok := item["created_date"]; !ok {
		item["created_date"] = c.now().Format(time.RFC3339)
	}

	c.items[id] = item
	c.order = append(c.order, id)
	return maps.Clone(item)
}

// Update merges patch into an existing record. The id and creation date
// cannot be changed.
func (c *Collection) Update(id string, patch Record) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, c.name, id)
	}

	merged := maps.Clone(item)
	for k, v := range patch {
		if k == "id" || k == "created_date" {
			continue
		}
		merged[k] = v
	}
	merged["updated_date"] = c.now().Format(time.RFC3339)

	c.items[id] = merged
	return maps.Clone(merged), nil
}

// Delete removes a record.
func (c *Collection) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[id]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, c.name, id)
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Count returns the number of records.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

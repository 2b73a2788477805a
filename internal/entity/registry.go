package entity

import (
	"context"
	"fmt"
	"sort"
)

// Backend is the entity API the catalog reads through to.
type Backend interface {
	List(ctx context.Context, name string) ([]Record, error)
	Filter(ctx context.Context, name string, query map[string]any) ([]Record, error)
	Get(ctx context.Context, name, id string) (Record, error)
	Create(ctx context.Context, name string, data Record) (Record, error)
	Update(ctx context.Context, name, id string, patch Record) (Record, error)
	Delete(ctx context.Context, name, id string) error
}

// Collection names served by the marketplace.
const (
	Cities     = "cities"
	Beaches    = "beaches"
	Properties = "properties"
	Businesses = "businesses"
	Events     = "events"
)

// Registry holds the named collections and implements Backend.
type Registry struct {
	collections map[string]*Collection
}

// NewRegistry creates a registry with the marketplace collections.
// When seed is true they are filled with sample records.
func NewRegistry(seed bool) *Registry {
	r := &Registry{collections: make(map[string]*Collection)}
	for _, name := range []string{Cities, Beaches, Properties, Businesses, Events} {
		r.collections[name] = NewCollection(name)
	}
	if seed {
		seedRegistry(r)
	}
	return r
}

var _ Backend = (*Registry)(nil)

// Names returns the collection names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Collection returns a collection by name.
func (r *Registry) Collection(name string) (*Collection, error) {
	c, ok := r.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}

func (r *Registry) List(ctx context.Context, name string) ([]Record, error) {
	c, err := r.Collection(name)
	if err != nil {
		return nil, err
	}
	return c.List(), nil
}

func (r *Registry) Filter(ctx context.Context, name string, query map[string]any) ([]Record, error) {
	c, err := r.Collection(name)
	if err != nil {
		return nil, err
	}
	return c.Filter(query), nil
}

func (r *Registry) Get(ctx context.Context, name, id string) (Record, error) {
	c, err := r.Collection(name)
	if err != nil {
		return nil, err
	}
	return c.Get(id)
}

func (r *Registry) Create(ctx context.Context, name string, data Record) (Record, error) {
	c, err := r.Collection(name)
	if err != nil {
		return nil, err
	}
	return c.Create(data), nil
}

func (r *Registry) Update(ctx context.Context, name, id string, patch Record) (Record, error) {
	c, err := r.Collection(name)
	if err != nil {
		return nil, err
	}
	return c.Update(id, patch)
}

func (r *Registry) Delete(ctx context.Context, name, id string) error {
	c, err := r.Collection(name)
	if err != nil {
		return err
	}
	return c.Delete(id)
}

package entity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCollection(t *testing.T) {
	c := NewCollection("beaches")
	c.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	t.Run("CreateAssignsIDAndDate", func(t *testing.T) {
		rec := c.Create(Record{"name": "Praia da Luz", "blue_flag": true})
		if rec.ID() == "" {
			t.Fatal("expected generated id")
		}
		if rec["created_date"] != "2025-06-01T12:00:00Z" {
			t.Errorf("unexpected created_date %v", rec["created_date"])
		}
	})

	t.Run("CreateKeepsFreeID", func(t *testing.T) {
		rec := c.Create(Record{"id": "beach-luz", "name": "Luz"})
		if rec.ID() != "beach-luz" {
			t.Errorf("expected id beach-luz, got %s", rec.ID())
		}

		dup := c.Create(Record{"id": "beach-luz", "name": "Other"})
		if dup.ID() == "beach-luz" {
			t.Error("taken id should be replaced")
		}
	})

	t.Run("ListKeepsInsertionOrder", func(t *testing.T) {
		list := c.List()
		if len(list) != 3 {
			t.Fatalf("expected 3 records, got %d", len(list))
		}
		if list[1].ID() != "beach-luz" {
			t.Errorf("expected beach-luz second, got %s", list[1].ID())
		}
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		rec, err := c.Get("beach-luz")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		rec["name"] = "mutated"

		again, _ := c.Get("beach-luz")
		if again["name"] != "Luz" {
			t.Errorf("stored record was mutated: %v", again["name"])
		}
	})

	t.Run("Filter", func(t *testing.T) {
		got := c.Filter(map[string]any{"blue_flag": "true"})
		if len(got) != 1 || got[0]["name"] != "Praia da Luz" {
			t.Errorf("unexpected filter result: %v", got)
		}

		if got := c.Filter(map[string]any{"missing": "x"}); len(got) != 0 {
			t.Errorf("expected no matches, got %d", len(got))
		}
	})

	t.Run("UpdateProtectsIdentity", func(t *testing.T) {
		rec, err := c.Update("beach-luz", Record{"id": "other", "created_date": "never", "name": "Praia da Luz"})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if rec.ID() != "beach-luz" {
			t.Errorf("id changed to %s", rec.ID())
		}
		if rec["created_date"] != "2025-06-01T12:00:00Z" {
			t.Errorf("created_date changed to %v", rec["created_date"])
		}
		if rec["updated_date"] == nil {
			t.Error("expected updated_date")
		}
		if rec["name"] != "Praia da Luz" {
			t.Errorf("expected name updated, got %v", rec["name"])
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := c.Delete("beach-luz"); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if c.Count() != 2 {
			t.Errorf("expected 2 records, got %d", c.Count())
		}
		if _, err := c.Get("beach-luz"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := c.Delete("beach-luz"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		if _, err := c.Update("beach-luz", Record{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on update, got %v", err)
		}
	})
}

func TestRecordMatches(t *testing.T) {
	rec := Record{"id": "p1", "bedrooms": float64(2), "status": "available"}

	tests := []struct {
		name  string
		query map[string]any
		want  bool
	}{
		{"empty query", nil, true},
		{"string equal", map[string]any{"status": "available"}, true},
		{"number as string", map[string]any{"bedrooms": "2"}, true},
		{"number as int", map[string]any{"bedrooms": 2}, true},
		{"mismatch", map[string]any{"status": "sold"}, false},
		{"absent key", map[string]any{"city_id": "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rec.Matches(tt.query); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(true)

	names := r.Names()
	want := []string{Beaches, Businesses, Cities, Events, Properties}
	if len(names) != len(want) {
		t.Fatalf("expected %d collections, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("name %d: expected %s, got %s", i, want[i], names[i])
		}
	}

	cities, err := r.List(ctx, Cities)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(cities) != 3 {
		t.Errorf("expected 3 seeded cities, got %d", len(cities))
	}

	featured, err := r.Filter(ctx, Cities, map[string]any{"is_featured": true})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if len(featured) != 2 {
		t.Errorf("expected 2 featured cities, got %d", len(featured))
	}

	if _, err := r.List(ctx, "volcanoes"); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("expected ErrUnknownCollection, got %v", err)
	}

	empty := NewRegistry(false)
	list, _ := empty.List(ctx, Cities)
	if len(list) != 0 {
		t.Errorf("expected empty registry, got %d cities", len(list))
	}
}

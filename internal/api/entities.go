package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidepoint/marketplace/internal/cache"
	"github.com/tidepoint/marketplace/internal/domain"
	"github.com/tidepoint/marketplace/internal/entity"
)

// tierParam is the query parameter selecting the cache expiry tier.
const tierParam = "tier"

// ListEntities handles GET /entities/{name}. Query parameters other than
// tier filter the collection by exact match.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !authorize(w, r, h.resolver, domain.Permission(name, "view")) {
		return
	}

	q := r.URL.Query()
	tier, err := cache.ParseTier(q.Get(tierParam))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	filter := make(map[string]any)
	for key, values := range q {
		if key == tierParam || len(values) == 0 {
			continue
		}
		filter[key] = values[0]
	}

	var listing *entity.Listing
	if len(filter) == 0 {
		listing, err = h.catalog.List(r.Context(), name, tier)
	} else {
		listing, err = h.catalog.Filter(r.Context(), name, filter, tier)
	}
	if err != nil {
		writeError(w, "failed to list entities", err)
		return
	}

	writeJSON(w, http.StatusOK, listing)
}

// GetEntity handles GET /entities/{name}/{id}.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !authorize(w, r, h.resolver, domain.Permission(name, "view")) {
		return
	}

	rec, err := h.catalog.Get(r.Context(), name, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "failed to get entity", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateEntity handles POST /entities/{name}.
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !authorize(w, r, h.resolver, domain.Permission(name, "create")) {
		return
	}

	var data entity.Record
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rec, err := h.catalog.Create(r.Context(), name, data)
	if err != nil {
		writeError(w, "failed to create entity", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// UpdateEntity handles PUT and PATCH /entities/{name}/{id}. Both merge.
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !authorize(w, r, h.resolver, domain.Permission(name, "edit")) {
		return
	}

	var patch entity.Record
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rec, err := h.catalog.Update(r.Context(), name, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, "failed to update entity", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteEntity handles DELETE /entities/{name}/{id}.
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !authorize(w, r, h.resolver, domain.Permission(name, "delete")) {
		return
	}

	if err := h.catalog.Delete(r.Context(), name, chi.URLParam(r, "id")); err != nil {
		writeError(w, "failed to delete entity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CacheStats handles GET /cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

// ClearCache handles DELETE /cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.cache.ClearAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ClearCacheEntity handles DELETE /cache/{name}.
func (h *Handler) ClearCacheEntity(w http.ResponseWriter, r *http.Request) {
	h.cache.Clear(r.Context(), chi.URLParam(r, "name"))
	w.WriteHeader(http.StatusNoContent)
}

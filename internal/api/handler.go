package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidepoint/marketplace/internal/cache"
	"github.com/tidepoint/marketplace/internal/domain"
	"github.com/tidepoint/marketplace/internal/entity"
	"github.com/tidepoint/marketplace/internal/loyalty"
	"github.com/tidepoint/marketplace/internal/permission"
	"github.com/tidepoint/marketplace/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	bus      domain.EventBus
	cache    *cache.EntityCache
	catalog  *entity.Catalog
	loyalty  *loyalty.Service
	resolver *permission.Resolver
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, version string) *Handler {
	return &Handler{
		repo:     svc.Repo,
		bus:      svc.Bus,
		cache:    svc.Cache,
		catalog:  svc.Catalog,
		loyalty:  svc.Loyalty,
		resolver: svc.Resolver,
		version:  version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// MyPermissions returns the effective permissions of the caller.
// Anonymous callers get an empty set.
func (h *Handler) MyPermissions(w http.ResponseWriter, r *http.Request) {
	result := h.resolver.Resolve(r.Context(), GetIdentity(r.Context()))
	writeJSON(w, http.StatusOK, result)
}

// SaveRole creates or replaces a role and its permissions.
func (h *Handler) SaveRole(w http.ResponseWriter, r *http.Request) {
	var role domain.Role
	if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	role.ID = chi.URLParam(r, "roleID")
	if role.Name == "" {
		role.Name = role.ID
	}

	if err := h.repo.SaveRole(r.Context(), &role); err != nil {
		writeError(w, "failed to save role", err)
		return
	}

	// Any cached user may hold this role.
	h.resolver.InvalidateAll()

	slog.Info("role saved", "role_id", role.ID, "permissions", len(role.Permissions))
	writeJSON(w, http.StatusOK, role)
}

// AssignRole grants a role to a user.
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	roleID := chi.URLParam(r, "roleID")

	if err := h.repo.AssignRole(r.Context(), userID, roleID); err != nil {
		writeError(w, "failed to assign role", err)
		return
	}
	h.resolver.Invalidate(userID)

	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"role_id": roleID,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, loyalty.ErrInvalidRequest),
		errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, entity.ErrNotFound),
		errors.Is(err, entity.ErrUnknownCollection):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, repository.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs unexpected failures and writes a JSON error body.
// Client errors carry their message; server errors carry msg only.
func writeError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

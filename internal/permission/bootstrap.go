package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tidepoint/marketplace/internal/domain"
)

// PlatformAdminRoleID is the role seeded for the platform operator.
const PlatformAdminRoleID = "platform-admin"

// Bootstrap grants the platform operator the full permission catalog through
// a regular role assignment in the store, creating the user when needed.
// The resolved set is primed into the cache so the operator's first request
// does not touch the store.
func (r *Resolver) Bootstrap(ctx context.Context, email string) (*domain.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("bootstrap email is required")
	}

	user, err := r.store.GetUser(ctx, "", email)
	if errors.Is(err, domain.ErrNotFound) {
		user = &domain.User{
			ID:       uuid.New().String(),
			Email:    email,
			FullName: "Platform operator",
			Role:     "admin",
		}
		if err := r.store.SaveUser(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create operator user: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up operator user: %w", err)
	}

	catalog := domain.PermissionCatalog()
	role := &domain.Role{
		ID:          PlatformAdminRoleID,
		Name:        "Platform Admin",
		Description: "Full access to every resource",
		Permissions: catalog,
	}
	if err := r.store.SaveRole(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to seed platform admin role: %w", err)
	}
	if err := r.store.AssignRole(ctx, user.ID, PlatformAdminRoleID); err != nil {
		return nil, fmt.Errorf("failed to assign platform admin role: %w", err)
	}

	perms := clone(catalog)
	sort.Strings(perms)
	r.remember(user.ID, user.Email, perms)

	r.logger.Info("platform operator bootstrapped",
		"user_id", user.ID,
		"email", user.Email,
		"permissions", len(perms),
	)
	return user, nil
}

package domain

import (
	"context"
	"time"
)

// Identity is the session identity presented by a caller.
// Nothing about it is verified.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// User is the effective user record behind an identity.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_date"`
}

// Role groups permissions.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// PermissionStore is the backend the permission resolver reads from.
type PermissionStore interface {
	// GetUser returns the effective user for an identity, matching by id first
	// and by email second.
	GetUser(ctx context.Context, id, email string) (*User, error)
	SaveUser(ctx context.Context, user *User) error

	ListUserRoles(ctx context.Context, userID string) ([]string, error)
	AssignRole(ctx context.Context, userID, roleID string) error

	GetRolePermissions(ctx context.Context, roleID string) ([]string, error)
	SaveRole(ctx context.Context, role *Role) error
}

// Resources and actions that make up the permission catalog.
var (
	PermissionResources = []string{
		"cities", "beaches", "properties", "businesses", "events",
		"loyalty_rules", "transactions", "tourists", "users", "roles", "cache",
	}
	PermissionActions = []string{"view", "create", "edit", "delete"}
)

// Permission formats a resource/action pair.
func Permission(resource, action string) string {
	return resource + ":" + action
}

// PermissionCatalog returns every known permission.
func PermissionCatalog() []string {
	out := make([]string, 0, len(PermissionResources)*len(PermissionActions))
	for _, r := range PermissionResources {
		for _, a := range PermissionActions {
			out = append(out, Permission(r, a))
		}
	}
	return out
}

// FallbackPermissions is the minimal set granted when resolution keeps failing.
func FallbackPermissions() []string {
	return []string{
		Permission("cities", "view"),
		Permission("beaches", "view"),
	}
}

// PermissionConfig tunes the permission resolver.
type PermissionConfig struct {
	CacheTTL       time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	RoleFetchPause time.Duration `env:"ROLE_FETCH_PAUSE" envDefault:"300ms"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryStep      time.Duration `env:"RETRY_STEP" envDefault:"1s"`

	// BootstrapAdminEmail is seeded with the platform-admin role at startup.
	BootstrapAdminEmail string `env:"BOOTSTRAP_ADMIN_EMAIL"`
}

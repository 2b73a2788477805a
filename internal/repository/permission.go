package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidepoint/marketplace/internal/domain"
)

// GetUser returns the user matching id, or failing that, email.
func (r *SQLRepository) GetUser(ctx context.Context, id, email string) (*domain.User, error) {
	if id == "" && email == "" {
		return nil, fmt.Errorf("%w: user id or email is required", ErrInvalidInput)
	}

	query := `
		SELECT id, email, full_name, role, created_at
		FROM users
		WHERE id = ?
	`

	if id != "" {
		user, err := r.scanUser(ctx, query, id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return user, err
		}
	}

	if email != "" {
		query = `
			SELECT id, email, full_name, role, created_at
			FROM users
			WHERE email = ?
		`
		return r.scanUser(ctx, query, email)
	}

	return nil, ErrNotFound
}

func (r *SQLRepository) scanUser(ctx context.Context, query string, arg string) (*domain.User, error) {
	var u domain.User
	var fullName sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), arg).Scan(
		&u.ID, &u.Email, &fullName, &u.Role, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.FullName = fullName.String
	return &u, nil
}

// SaveUser inserts or updates a user.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" || user.Email == "" {
		return fmt.Errorf("%w: user id and email are required", ErrInvalidInput)
	}
	if user.Role == "" {
		user.Role = "user"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, email, full_name, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			full_name = excluded.full_name,
			role = excluded.role
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		user.ID, user.Email, user.FullName, user.Role, user.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: email %s already in use", ErrInvalidInput, user.Email)
	}
	return err
}

// ListUserRoles returns the ids of roles assigned to a user.
func (r *SQLRepository) ListUserRoles(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT role_id FROM user_roles WHERE user_id = ? ORDER BY role_id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, err
		}
		roleIDs = append(roleIDs, roleID)
	}

	return roleIDs, rows.Err()
}

// AssignRole grants a role to a user. Assigning twice is a no-op.
func (r *SQLRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}

	var exists int
	err := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT 1 FROM users u, roles ro WHERE u.id = ? AND ro.id = ?
	`), userID, roleID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: user %s or role %s", ErrNotFound, userID, roleID)
	}
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)
		ON CONFLICT(user_id, role_id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), userID, roleID)
	return err
}

// GetRolePermissions returns the permission strings held by a role.
func (r *SQLRepository) GetRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM roles WHERE id = ?`), roleID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	query := `SELECT permission FROM role_permissions WHERE role_id = ? ORDER BY permission`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}

	return perms, rows.Err()
}

// SaveRole inserts or replaces a role and its permission list.
func (r *SQLRepository) SaveRole(ctx context.Context, role *domain.Role) error {
	if role.ID == "" || role.Name == "" {
		return fmt.Errorf("%w: role id and name are required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	upsert := `
		INSERT INTO roles (id, name, description) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description
	`
	if _, err := dbTx.ExecContext(ctx, r.rebind(upsert), role.ID, role.Name, role.Description); err != nil {
		return err
	}

	if _, err := dbTx.ExecContext(ctx, r.rebind(`DELETE FROM role_permissions WHERE role_id = ?`), role.ID); err != nil {
		return err
	}

	insert := `
		INSERT INTO role_permissions (role_id, permission) VALUES (?, ?)
		ON CONFLICT(role_id, permission) DO NOTHING
	`
	for _, p := range role.Permissions {
		if _, err := dbTx.ExecContext(ctx, r.rebind(insert), role.ID, p); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

// Store handles role persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new role store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole creates a new role. A duplicate name in the organization is ErrConflict.
func (s *Store) CreateRole(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role (id, organization_id, name, description, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		role.ID, role.OrganizationID, role.Name, role.Description, role.Permissions, now, now)
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key") {
			return fmt.Errorf("role %s: %w", role.Name, auth.ErrConflict)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRoleByName retrieves a role by name within an organization
func (s *Store) GetRoleByName(ctx context.Context, orgID, name string) (*auth.Role, error) {
	var role auth.Role
	var description sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, description, permissions FROM role WHERE organization_id = $1 AND name = $2`,
		orgID, name,
	).Scan(&role.ID, &role.OrganizationID, &role.Name, &description, &role.Permissions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", name, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	role.Description = description.String
	return &role, nil
}

// ListRoles lists the roles of an organization ordered by name
func (s *Store) ListRoles(ctx context.Context, orgID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, name, description, permissions FROM role WHERE organization_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var role auth.Role
		var description sql.NullString
		if err := rows.Scan(&role.ID, &role.OrganizationID, &role.Name, &description, &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.Description = description.String
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole replaces the description and permissions of a role
func (s *Store) UpdateRole(ctx context.Context, role *auth.Role) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE role SET description = $1, permissions = $2, updated_at = $3 WHERE organization_id = $4 AND name = $5`,
		role.Description, role.Permissions, time.Now().UTC(), role.OrganizationID, role.Name)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("role %s: %w", role.Name, auth.ErrNotFound)
	}
	return nil
}

// DeleteRole removes a role. Memberships naming it resolve to no permissions afterwards.
func (s *Store) DeleteRole(ctx context.Context, orgID, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM role WHERE organization_id = $1 AND name = $2`, orgID, name)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("role %s: %w", name, auth.ErrNotFound)
	}
	return nil
}

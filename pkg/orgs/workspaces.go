package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

const workspaceColumns = `id, name, description, organization_id, is_default, created_at, updated_at`

func scanWorkspace(row interface{ Scan(...interface{}) error }) (*auth.Workspace, error) {
	ws := &auth.Workspace{}
	var description sql.NullString
	if err := row.Scan(&ws.ID, &ws.Name, &description, &ws.OrganizationID, &ws.IsDefault, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		return nil, err
	}
	ws.Description = description.String
	return ws, nil
}

// CreateWorkspace inserts ws, assigning an ID when empty
func (s *Store) CreateWorkspace(ctx context.Context, ws *auth.Workspace) error {
	if ws.ID == "" {
		ws.ID = newID()
	}
	now := s.timestamp()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO workspace (id, name, description, organization_id, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ws.ID, ws.Name, nullString(ws.Description), ws.OrganizationID, ws.IsDefault, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workspace %s: %w", ws.Name, auth.ErrConflict)
		}
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	ws.CreatedAt, ws.UpdatedAt = now, now
	return nil
}

// GetWorkspace retrieves a workspace by ID
func (s *Store) GetWorkspace(ctx context.Context, id string) (*auth.Workspace, error) {
	ws, err := scanWorkspace(s.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspace WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace %s: %w", id, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

// PersonalWorkspace returns the personal workspace of userID, located by its derived description
func (s *Store) PersonalWorkspace(ctx context.Context, userID string) (*auth.Workspace, error) {
	ws, err := scanWorkspace(s.q.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspace WHERE name = $1 AND description = $2`,
		auth.PersonalWorkspaceName, auth.PersonalWorkspaceDescription(userID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("personal workspace of %s: %w", userID, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

// ListWorkspaces lists the organization's workspaces ordered by creation time.
// Personal workspaces are excluded unless includePersonal is set.
func (s *Store) ListWorkspaces(ctx context.Context, orgID string, includePersonal bool) ([]*auth.Workspace, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspace WHERE organization_id = $1 ORDER BY created_at ASC, id ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*auth.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		if ws.IsPersonal() && !includePersonal {
			continue
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// UpdateWorkspace changes the name and description
func (s *Store) UpdateWorkspace(ctx context.Context, ws *auth.Workspace) error {
	return s.execOne(ctx, "workspace "+ws.ID,
		`UPDATE workspace SET name = $1, description = $2, updated_at = $3 WHERE id = $4`,
		ws.Name, nullString(ws.Description), s.timestamp(), ws.ID)
}

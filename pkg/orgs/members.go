package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

// AddMember adds userID to workspaceID with role, replacing the role of an existing membership
func (s *Store) AddMember(ctx context.Context, workspaceID, userID, role string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO workspace_users (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// GetMember retrieves the membership row of userID in workspaceID
func (s *Store) GetMember(ctx context.Context, workspaceID, userID string) (*auth.WorkspaceUser, error) {
	m := &auth.WorkspaceUser{}
	var lastLogin sql.NullTime
	err := s.q.QueryRowContext(ctx,
		`SELECT workspace_id, user_id, role, last_login FROM workspace_users WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID).Scan(&m.WorkspaceID, &m.UserID, &m.Role, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("membership %s/%s: %w", workspaceID, userID, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		m.LastLogin = &t
	}
	return m, nil
}

// ListMemberships lists the workspaces userID belongs to, ordered by workspace creation
func (s *Store) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT w.id, w.name, wu.role, w.is_default
		FROM workspace_users wu JOIN workspace w ON w.id = wu.workspace_id
		WHERE wu.user_id = $1
		ORDER BY w.created_at ASC, w.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.WorkspaceID, &m.WorkspaceName, &m.Role, &m.IsDefault); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMembers lists the membership rows of workspaceID
func (s *Store) ListMembers(ctx context.Context, workspaceID string) ([]auth.WorkspaceUser, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT workspace_id, user_id, role FROM workspace_users WHERE workspace_id = $1 ORDER BY user_id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var out []auth.WorkspaceUser
	for rows.Next() {
		var m auth.WorkspaceUser
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TouchMemberLogin records the last time userID entered workspaceID
func (s *Store) TouchMemberLogin(ctx context.Context, workspaceID, userID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE workspace_users SET last_login = $1 WHERE workspace_id = $2 AND user_id = $3`,
		s.timestamp(), workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return nil
}

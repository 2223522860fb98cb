package orgs

import (
	"context"
	"fmt"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

// Delete helpers are idempotent: removing rows that are already gone is not an error,
// except for DeleteWorkspace and DeleteUser which report ErrNotFound.

// RemoveMember deletes the membership of userID in workspaceID
func (s *Store) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	return s.exec(ctx, "remove member",
		`DELETE FROM workspace_users WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID)
}

// DeleteUserMemberships deletes every membership of userID
func (s *Store) DeleteUserMemberships(ctx context.Context, userID string) error {
	return s.exec(ctx, "delete memberships", `DELETE FROM workspace_users WHERE user_id = $1`, userID)
}

// DeleteWorkspaceMembers deletes every membership of workspaceID
func (s *Store) DeleteWorkspaceMembers(ctx context.Context, workspaceID string) error {
	return s.exec(ctx, "delete members", `DELETE FROM workspace_users WHERE workspace_id = $1`, workspaceID)
}

// ShareItem shares an item with workspaceID
func (s *Store) ShareItem(ctx context.Context, item auth.WorkspaceShared) error {
	return s.exec(ctx, "share item",
		`INSERT INTO workspace_shared (shared_item_id, workspace_id, item_type, created_at) VALUES ($1, $2, $3, $4)`,
		item.SharedItemID, item.WorkspaceID, item.ItemType, s.timestamp())
}

// DeleteWorkspaceShared deletes every shared-item row of workspaceID
func (s *Store) DeleteWorkspaceShared(ctx context.Context, workspaceID string) error {
	return s.exec(ctx, "delete shared items", `DELETE FROM workspace_shared WHERE workspace_id = $1`, workspaceID)
}

// DeleteOwned deletes the rows of table whose column equals value and returns how many went
func (s *Store) DeleteOwned(ctx context.Context, table, column, value string) (int64, error) {
	res, err := s.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, column), value)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UsersWithActiveWorkspace lists the users whose active workspace is workspaceID
func (s *Store) UsersWithActiveWorkspace(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM "user" WHERE active_workspace_id = $1 ORDER BY id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteWorkspace deletes the workspace row
func (s *Store) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	return s.execOne(ctx, "workspace "+workspaceID, `DELETE FROM workspace WHERE id = $1`, workspaceID)
}

// DeleteUser deletes the user row
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.execOne(ctx, "user "+userID, `DELETE FROM "user" WHERE id = $1`, userID)
}

func (s *Store) exec(ctx context.Context, what, query string, args ...interface{}) error {
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	return nil
}

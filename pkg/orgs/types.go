package orgs

import (
	"context"
	"database/sql"
)

// Querier is the subset of *sql.DB and *sql.Tx used by Store
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Membership is a workspace_users row joined with its workspace
type Membership struct {
	WorkspaceID   string
	WorkspaceName string
	Role          string
	IsDefault     bool
}

// UserUpdate lists the mutable user columns. Nil fields are left unchanged.
type UserUpdate struct {
	Name              *string
	Credential        *string
	Status            *string
	ActiveWorkspaceID *string
}

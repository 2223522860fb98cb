package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/flowguard/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// OwnedTables lists every tenant-owned resource table. Each carries a workspace_id column.
var OwnedTables = []string{
	"chat_flow",
	"credential",
	"tool",
	"assistant",
	"variable",
	"document_store",
	"custom_template",
	"dataset",
	"evaluation",
	"evaluator",
	"execution",
}

// The statements below stay within the SQL subset shared by PostgreSQL and SQLite so the
// same schema backs the in-memory test databases.

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organization and user tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organization (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					admin_user_id TEXT,
					default_workspace_id TEXT,
					sso_config TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS "user" (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					email TEXT NOT NULL UNIQUE,
					credential TEXT,
					status TEXT NOT NULL DEFAULT 'INVITED',
					active_workspace_id TEXT,
					temp_token TEXT,
					temp_token_type TEXT,
					token_expiry TIMESTAMP,
					last_login TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_user_temp_token ON "user"(temp_token);
			`,
		},
		{
			Version:     2,
			Description: "Create role and workspace tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS role (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					name TEXT NOT NULL,
					description TEXT,
					permissions TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(organization_id, name)
				);

				CREATE TABLE IF NOT EXISTS workspace (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					description TEXT,
					organization_id TEXT NOT NULL,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_workspace_organization_id ON workspace(organization_id);

				CREATE TABLE IF NOT EXISTS workspace_users (
					workspace_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					role TEXT NOT NULL,
					last_login TIMESTAMP,
					PRIMARY KEY (workspace_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_workspace_users_user_id ON workspace_users(user_id);

				CREATE TABLE IF NOT EXISTS workspace_shared (
					shared_item_id TEXT NOT NULL,
					workspace_id TEXT NOT NULL,
					item_type TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (shared_item_id, workspace_id)
				);

				CREATE TABLE IF NOT EXISTS apikey (
					id TEXT PRIMARY KEY,
					workspace_id TEXT,
					key_name TEXT NOT NULL,
					api_key_hash TEXT NOT NULL UNIQUE,
					key_prefix TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     3,
			Description: "Create tenant-owned resource tables",
			SQL:         ownedTablesSQL(),
		},
		{
			Version:     4,
			Description: "Create login activity table",
			SQL: `
				CREATE TABLE IF NOT EXISTS login_activity (
					id TEXT PRIMARY KEY,
					username TEXT NOT NULL,
					activity_code INTEGER NOT NULL,
					message TEXT,
					login_mode TEXT,
					attempted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_login_activity_attempted_at ON login_activity(attempted_at);
				CREATE INDEX IF NOT EXISTS idx_login_activity_username ON login_activity(username);
			`,
		},
		{
			Version:     5,
			Description: "Allow one personal workspace per user",
			SQL: `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_workspace_personal
					ON workspace(description) WHERE name = 'Personal Workspace';
			`,
		},
	}
}

func ownedTablesSQL() string {
	var stmts string
	for _, table := range OwnedTables {
		stmts += fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %[1]s (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					workspace_id TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_%[1]s_workspace_id ON %[1]s(workspace_id);
`, table)
	}
	return stmts
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

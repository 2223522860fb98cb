// Package postgres opens the relational datastore and applies the schema.
//
// The schema covers organizations, users, roles, workspaces, memberships, shared items,
// API keys and every tenant-owned resource table listed in OwnedTables. Migrations are
// recorded in schema_migrations and are safe to re-run.
package postgres

// Package orgs is the directory store: organizations, users, workspaces and workspace
// memberships.
//
// Every method works against either the database or a transaction:
//
//	store := orgs.NewStore(db)
//	tx, _ := db.BeginTx(ctx, nil)
//	err := store.WithTx(tx).AddMember(ctx, workspaceID, userID, "editor")
//
// Missing rows surface as auth.ErrNotFound and duplicate emails as auth.ErrConflict.
package orgs

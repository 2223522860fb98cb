// Package rbac resolves principals and their permissions.
//
// Permissions are flat "<group>:<action>" keys from the embedded catalog
// (permissions.yaml). A custom role is a named subset of the catalog stored per
// organization; two role names are reserved and expand to the whole catalog:
// org_admin for the organization admin and pw for a user in their personal workspace.
//
// The Resolver owns workspace selection. At login it computes the assigned workspace
// list, defaults the active workspace when it is unset or stale, and persists the choice.
// SwitchWorkspace re-checks membership in the store and against the principal's assigned
// list before moving a non-admin. Role expansions are cached in an expiring LRU and
// invalidated when a role changes.
//
//	resolver := rbac.NewResolver(directory, rbac.NewStore(db), rbac.DefaultCatalog(), logger, 0, 0)
//	principal, err := resolver.ResolveLogin(ctx, user, org, auth.LoginModeEmail)
//
//	router.Handle("/roles", rbac.RequirePermission("roles:manage")(handler))
package rbac

// Package tenant keeps the tenant model consistent across multi-entity changes.
//
// Deleting a user or a workspace touches memberships, shared items, personal workspaces
// and every table registered in the ResourceRegistry. Each operation runs in a single
// database transaction: a failure at any step rolls back and surfaces as
// auth.ErrConsistency. Requests that are refused up front (the organization admin, the
// default workspace) return auth.ErrForbidden before anything is written.
//
// The account flows live here too. Invites and password resets hand out opaque tokens whose
// SHA-256 hash is stored with a type and an expiry; the invite window is a day, the reset
// window fifteen minutes.
package tenant

package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 5 * time.Minute
)

// Resolver builds principals: it picks the active workspace, resolves the effective role
// and expands it to permissions.
type Resolver struct {
	dir     *orgs.Store
	roles   *Store
	catalog *Catalog
	logger  *observability.Logger

	// role permissions keyed by organization and role name
	cache *expirable.LRU[string, []string]
}

// NewResolver creates a resolver. Zero cacheSize or cacheTTL select the defaults.
func NewResolver(dir *orgs.Store, roles *Store, catalog *Catalog, logger *observability.Logger, cacheSize int, cacheTTL time.Duration) *Resolver {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Resolver{
		dir:     dir,
		roles:   roles,
		catalog: catalog,
		logger:  logger,
		cache:   expirable.NewLRU[string, []string](cacheSize, nil, cacheTTL),
	}
}

// Catalog returns the permission catalog
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

func cacheKey(orgID, role string) string {
	return orgID + "\x00" + role
}

// ResolveLogin builds the principal for a user that just authenticated.
//
// The organization admin always resolves to org_admin. Everyone else takes the role of
// their membership in the active workspace, which defaults server-side when unset or no
// longer assigned.
func (r *Resolver) ResolveLogin(ctx context.Context, user *auth.User, org *auth.Organization, mode auth.LoginMode) (*auth.LoggedInUser, error) {
	isAdmin := org.AdminUserID != "" && org.AdminUserID == user.ID

	assigned, err := r.assignedWorkspaces(ctx, user.ID, org, isAdmin)
	if err != nil {
		return nil, err
	}
	if len(assigned) == 0 {
		return nil, fmt.Errorf("user %s has no assigned workspace: %w", user.ID, auth.ErrAuthorization)
	}

	activeID := user.ActiveWorkspaceID
	if !containsWorkspace(assigned, activeID) {
		activeID = defaultWorkspace(assigned, org, isAdmin)
		if err := r.dir.UpdateUser(ctx, user.ID, orgs.UserUpdate{ActiveWorkspaceID: &activeID}); err != nil {
			return nil, err
		}
	}

	principal, err := r.build(ctx, user, org, isAdmin, assigned, activeID)
	if err != nil {
		return nil, err
	}
	principal.LoginMode = mode

	if err := r.dir.TouchLastLogin(ctx, user.ID); err != nil {
		r.logger.WithError(err).Warn("Failed to record last login")
	}
	if !isAdmin {
		if err := r.dir.TouchMemberLogin(ctx, activeID, user.ID); err != nil {
			r.logger.WithError(err).Warn("Failed to record workspace login")
		}
	}
	return principal, nil
}

// SwitchWorkspace moves the principal to targetID and returns the refreshed principal.
//
// A non-admin must pass two independent checks: a membership row for the target and the
// target's presence in the principal's assigned list. Failing either is ErrAuthorization.
func (r *Resolver) SwitchWorkspace(ctx context.Context, principal *auth.LoggedInUser, targetID string) (*auth.LoggedInUser, error) {
	if principal == nil || principal.ID == "" {
		return nil, fmt.Errorf("no principal: %w", auth.ErrAuthentication)
	}
	if targetID == "" {
		return nil, fmt.Errorf("workspace id is required: %w", auth.ErrValidation)
	}

	logger := r.logger.WithFields(map[string]interface{}{"user_id": principal.ID, "workspace_id": targetID})

	if principal.IsOrganizationAdmin {
		ws, err := r.dir.GetWorkspace(ctx, targetID)
		if err != nil {
			return nil, err
		}
		if principal.ActiveOrganizationID != "" && ws.OrganizationID != principal.ActiveOrganizationID {
			logger.Warn("Admin switch to workspace of another organization rejected")
			return nil, fmt.Errorf("workspace %s: %w", targetID, auth.ErrAuthorization)
		}
	} else {
		if _, err := r.dir.GetMember(ctx, targetID, principal.ID); err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				logger.Warn("Workspace switch rejected: no membership")
				return nil, fmt.Errorf("workspace %s not assigned: %w", targetID, auth.ErrAuthorization)
			}
			return nil, err
		}
		if !principal.IsAssigned(targetID) {
			logger.Warn("Workspace switch rejected: not in assigned list")
			return nil, fmt.Errorf("workspace %s not assigned: %w", targetID, auth.ErrAuthorization)
		}
	}

	user, err := r.dir.GetUser(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	org, err := r.organization(ctx, principal, targetID)
	if err != nil {
		return nil, err
	}

	if err := r.dir.UpdateUser(ctx, user.ID, orgs.UserUpdate{ActiveWorkspaceID: &targetID}); err != nil {
		return nil, err
	}

	isAdmin := org.AdminUserID == user.ID
	assigned, err := r.assignedWorkspaces(ctx, user.ID, org, isAdmin)
	if err != nil {
		return nil, err
	}
	if isAdmin && !containsWorkspace(assigned, targetID) {
		// another user's personal workspace
		ws, err := r.dir.GetWorkspace(ctx, targetID)
		if err != nil {
			return nil, err
		}
		assigned = append(assigned, auth.AssignedWorkspace{ID: ws.ID, Name: ws.Name, Role: auth.RoleOrgAdmin})
	}

	next, err := r.build(ctx, user, org, isAdmin, assigned, targetID)
	if err != nil {
		return nil, err
	}
	next.LoginMode = principal.LoginMode
	next.SSOProvider = principal.SSOProvider
	next.SSOToken = principal.SSOToken
	next.SSORefreshToken = principal.SSORefreshToken

	if !isAdmin {
		if err := r.dir.TouchMemberLogin(ctx, targetID, user.ID); err != nil {
			logger.WithError(err).Warn("Failed to record workspace login")
		}
	}
	return next, nil
}

func (r *Resolver) organization(ctx context.Context, principal *auth.LoggedInUser, workspaceID string) (*auth.Organization, error) {
	if principal.ActiveOrganizationID != "" {
		return r.dir.GetOrganization(ctx, principal.ActiveOrganizationID)
	}
	return r.dir.OrganizationForWorkspace(ctx, workspaceID)
}

// build assembles the principal for activeID, which must be in assigned
func (r *Resolver) build(ctx context.Context, user *auth.User, org *auth.Organization, isAdmin bool, assigned []auth.AssignedWorkspace, activeID string) (*auth.LoggedInUser, error) {
	var active auth.AssignedWorkspace
	for _, ws := range assigned {
		if ws.ID == activeID {
			active = ws
			break
		}
	}

	perms, err := r.Permissions(ctx, org.ID, active.Role)
	if err != nil {
		return nil, err
	}

	return &auth.LoggedInUser{
		ID:                   user.ID,
		Email:                user.Email,
		Name:                 user.Name,
		Role:                 active.Role,
		ActiveOrganizationID: org.ID,
		ActiveWorkspaceID:    active.ID,
		ActiveWorkspace:      active.Name,
		AssignedWorkspaces:   assigned,
		Permissions:          perms,
		IsOrganizationAdmin:  isAdmin,
	}, nil
}

// Permissions expands a workspace role. org_admin and pw expand to the full catalog.
// An unknown role name expands to nothing.
func (r *Resolver) Permissions(ctx context.Context, orgID, role string) ([]string, error) {
	switch role {
	case auth.RoleOrgAdmin, auth.RolePersonalWorkspace:
		return r.catalog.All(), nil
	case "":
		return nil, nil
	}

	key := cacheKey(orgID, role)
	if perms, ok := r.cache.Get(key); ok {
		return append([]string(nil), perms...), nil
	}

	stored, err := r.roles.GetRoleByName(ctx, orgID, role)
	if errors.Is(err, auth.ErrNotFound) {
		r.logger.WithField("role", role).Warn("Membership names a role that does not exist")
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	perms := stored.PermissionList()
	r.cache.Add(key, perms)
	return append([]string(nil), perms...), nil
}

func (r *Resolver) assignedWorkspaces(ctx context.Context, userID string, org *auth.Organization, isAdmin bool) ([]auth.AssignedWorkspace, error) {
	if isAdmin {
		all, err := r.dir.ListWorkspaces(ctx, org.ID, true)
		if err != nil {
			return nil, err
		}
		own := auth.PersonalWorkspaceDescription(userID)
		out := make([]auth.AssignedWorkspace, 0, len(all))
		for _, ws := range all {
			if ws.IsPersonal() && ws.Description != own {
				continue
			}
			out = append(out, auth.AssignedWorkspace{ID: ws.ID, Name: ws.Name, Role: auth.RoleOrgAdmin})
		}
		return out, nil
	}

	memberships, err := r.dir.ListMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]auth.AssignedWorkspace, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, auth.AssignedWorkspace{ID: m.WorkspaceID, Name: m.WorkspaceName, Role: m.Role})
	}
	return out, nil
}

// defaultWorkspace picks the active workspace when none is set: the organization default
// for members assigned to it, otherwise the first assigned workspace
func defaultWorkspace(assigned []auth.AssignedWorkspace, org *auth.Organization, isAdmin bool) string {
	if !isAdmin && containsWorkspace(assigned, org.DefaultWorkspaceID) {
		return org.DefaultWorkspaceID
	}
	return assigned[0].ID
}

func containsWorkspace(assigned []auth.AssignedWorkspace, id string) bool {
	if id == "" {
		return false
	}
	for _, ws := range assigned {
		if ws.ID == id {
			return true
		}
	}
	return false
}

// CreateRole validates and stores a new role
func (r *Resolver) CreateRole(ctx context.Context, role *auth.Role) error {
	if err := r.validateRole(role); err != nil {
		return err
	}
	return r.roles.CreateRole(ctx, role)
}

// UpdateRole validates and stores new permissions, invalidating the cached expansion
func (r *Resolver) UpdateRole(ctx context.Context, role *auth.Role) error {
	if err := r.validateRole(role); err != nil {
		return err
	}
	defer r.cache.Remove(cacheKey(role.OrganizationID, role.Name))
	return r.roles.UpdateRole(ctx, role)
}

// DeleteRole removes a role and its cached expansion
func (r *Resolver) DeleteRole(ctx context.Context, orgID, name string) error {
	defer r.cache.Remove(cacheKey(orgID, name))
	return r.roles.DeleteRole(ctx, orgID, name)
}

// ListRoles lists the roles of an organization
func (r *Resolver) ListRoles(ctx context.Context, orgID string) ([]auth.Role, error) {
	return r.roles.ListRoles(ctx, orgID)
}

func (r *Resolver) validateRole(role *auth.Role) error {
	if role.Name == "" || role.OrganizationID == "" {
		return fmt.Errorf("role name and organization are required: %w", auth.ErrValidation)
	}
	if role.Name == auth.RoleOrgAdmin || role.Name == auth.RolePersonalWorkspace {
		return fmt.Errorf("role name %q is reserved: %w", role.Name, auth.ErrValidation)
	}
	if unknown := r.catalog.Unknown(role.PermissionList()); len(unknown) > 0 {
		return fmt.Errorf("unknown permissions %v: %w", unknown, auth.ErrValidation)
	}
	return nil
}

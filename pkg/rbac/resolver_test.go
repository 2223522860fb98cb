package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
	"github.com/platinummonkey/flowguard/pkg/storage/postgres"
)

type resolverFixture struct {
	resolver *Resolver
	dir      *orgs.Store
	roles    *Store
	org      *auth.Organization
	admin    *auth.User
	member   *auth.User
	defaultW *auth.Workspace
	teamB    *auth.Workspace
	adminPW  *auth.Workspace
	memberPW *auth.Workspace
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	ctx := context.Background()
	db := postgres.NewTestDB(t)
	f := &resolverFixture{dir: orgs.NewStore(db), roles: NewStore(db)}
	f.resolver = NewResolver(f.dir, f.roles, DefaultCatalog(), observability.NewNopLogger(), 0, 0)

	f.org = &auth.Organization{Name: "Acme"}
	require.NoError(t, f.dir.CreateOrganization(ctx, f.org))

	f.admin = &auth.User{Name: "Admin", Email: "admin@acme.io", Status: auth.UserStatusActive}
	f.member = &auth.User{Name: "Member", Email: "member@acme.io", Status: auth.UserStatusActive}
	require.NoError(t, f.dir.CreateUser(ctx, f.admin))
	require.NoError(t, f.dir.CreateUser(ctx, f.member))

	f.defaultW = &auth.Workspace{Name: "Default Workspace", OrganizationID: f.org.ID, IsDefault: true}
	f.teamB = &auth.Workspace{Name: "Team B", OrganizationID: f.org.ID}
	f.adminPW = &auth.Workspace{Name: auth.PersonalWorkspaceName, Description: auth.PersonalWorkspaceDescription(f.admin.ID), OrganizationID: f.org.ID}
	f.memberPW = &auth.Workspace{Name: auth.PersonalWorkspaceName, Description: auth.PersonalWorkspaceDescription(f.member.ID), OrganizationID: f.org.ID}
	for _, ws := range []*auth.Workspace{f.defaultW, f.teamB, f.adminPW, f.memberPW} {
		require.NoError(t, f.dir.CreateWorkspace(ctx, ws))
	}
	require.NoError(t, f.dir.SetOrganizationDefaults(ctx, f.org.ID, f.admin.ID, f.defaultW.ID))
	f.org.AdminUserID = f.admin.ID
	f.org.DefaultWorkspaceID = f.defaultW.ID

	require.NoError(t, f.roles.CreateRole(ctx, &auth.Role{
		OrganizationID: f.org.ID,
		Name:           "editor",
		Permissions:    "chatflows:view,chatflows:create,chatflows:update",
	}))
	require.NoError(t, f.dir.AddMember(ctx, f.defaultW.ID, f.member.ID, "editor"))
	require.NoError(t, f.dir.AddMember(ctx, f.memberPW.ID, f.member.ID, auth.RolePersonalWorkspace))
	return f
}

func TestResolver_ResolveLoginMember(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	p, err := f.resolver.ResolveLogin(ctx, f.member, f.org, auth.LoginModeEmail)
	require.NoError(t, err)

	assert.Equal(t, f.member.ID, p.ID)
	assert.False(t, p.IsOrganizationAdmin)
	assert.Equal(t, auth.LoginModeEmail, p.LoginMode)
	assert.Equal(t, f.defaultW.ID, p.ActiveWorkspaceID)
	assert.Equal(t, "editor", p.Role)
	assert.ElementsMatch(t, []string{"chatflows:view", "chatflows:create", "chatflows:update"}, p.Permissions)
	assert.Len(t, p.AssignedWorkspaces, 2)
	assert.False(t, p.IsAssigned(f.teamB.ID))

	// default persisted
	stored, err := f.dir.GetUser(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, f.defaultW.ID, stored.ActiveWorkspaceID)
	assert.NotNil(t, stored.LastLogin)
}

func TestResolver_ResolveLoginKeepsValidActiveWorkspace(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	f.member.ActiveWorkspaceID = f.memberPW.ID

	p, err := f.resolver.ResolveLogin(ctx, f.member, f.org, auth.LoginModeSSO)
	require.NoError(t, err)
	assert.Equal(t, f.memberPW.ID, p.ActiveWorkspaceID)
	assert.Equal(t, auth.RolePersonalWorkspace, p.Role)
	assert.Equal(t, DefaultCatalog().All(), p.Permissions)
}

func TestResolver_ResolveLoginStaleActiveWorkspace(t *testing.T) {
	f := newResolverFixture(t)
	f.member.ActiveWorkspaceID = f.teamB.ID

	p, err := f.resolver.ResolveLogin(context.Background(), f.member, f.org, auth.LoginModeEmail)
	require.NoError(t, err)
	assert.Equal(t, f.defaultW.ID, p.ActiveWorkspaceID)
}

func TestResolver_ResolveLoginWithoutWorkspace(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	loner := &auth.User{Email: "loner@acme.io", Status: auth.UserStatusActive}
	require.NoError(t, f.dir.CreateUser(ctx, loner))

	_, err := f.resolver.ResolveLogin(ctx, loner, f.org, auth.LoginModeEmail)
	assert.ErrorIs(t, err, auth.ErrAuthorization)
}

func TestResolver_ResolveLoginAdmin(t *testing.T) {
	f := newResolverFixture(t)

	p, err := f.resolver.ResolveLogin(context.Background(), f.admin, f.org, auth.LoginModeEmail)
	require.NoError(t, err)

	assert.True(t, p.IsOrganizationAdmin)
	assert.Equal(t, auth.RoleOrgAdmin, p.Role)
	assert.Equal(t, DefaultCatalog().All(), p.Permissions)

	// every org workspace except other users' personal ones
	assert.Len(t, p.AssignedWorkspaces, 3)
	assert.True(t, p.IsAssigned(f.adminPW.ID))
	assert.True(t, p.IsAssigned(f.teamB.ID))
	assert.False(t, p.IsAssigned(f.memberPW.ID))
	for _, ws := range p.AssignedWorkspaces {
		assert.Equal(t, auth.RoleOrgAdmin, ws.Role)
	}
	assert.True(t, p.IsAssigned(p.ActiveWorkspaceID))
}

func TestResolver_SwitchWorkspaceMember(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	p, err := f.resolver.ResolveLogin(ctx, f.member, f.org, auth.LoginModeSSO)
	require.NoError(t, err)
	p.SSOProvider = "azure"
	p.SSOToken = "upstream"

	next, err := f.resolver.SwitchWorkspace(ctx, p, f.memberPW.ID)
	require.NoError(t, err)
	assert.Equal(t, f.memberPW.ID, next.ActiveWorkspaceID)
	assert.Equal(t, auth.RolePersonalWorkspace, next.Role)
	assert.Equal(t, auth.LoginModeSSO, next.LoginMode)
	assert.Equal(t, "azure", next.SSOProvider)
	assert.Equal(t, "upstream", next.SSOToken)

	stored, err := f.dir.GetUser(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, f.memberPW.ID, stored.ActiveWorkspaceID)
}

func TestResolver_SwitchWorkspaceRejectsNonMember(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	p, err := f.resolver.ResolveLogin(ctx, f.member, f.org, auth.LoginModeEmail)
	require.NoError(t, err)

	_, err = f.resolver.SwitchWorkspace(ctx, p, f.teamB.ID)
	assert.ErrorIs(t, err, auth.ErrAuthorization)

	// a fabricated assigned list is not enough without a membership row
	p.AssignedWorkspaces = append(p.AssignedWorkspaces, auth.AssignedWorkspace{ID: f.teamB.ID, Role: "editor"})
	_, err = f.resolver.SwitchWorkspace(ctx, p, f.teamB.ID)
	assert.ErrorIs(t, err, auth.ErrAuthorization)

	// a membership added after login is not honored until the assigned list is recomputed
	require.NoError(t, f.dir.AddMember(ctx, f.teamB.ID, f.member.ID, "editor"))
	stale, err := f.resolver.ResolveLogin(ctx, f.member, f.org, auth.LoginModeEmail)
	require.NoError(t, err)
	stale.AssignedWorkspaces = stale.AssignedWorkspaces[:0]
	_, err = f.resolver.SwitchWorkspace(ctx, stale, f.teamB.ID)
	assert.ErrorIs(t, err, auth.ErrAuthorization)

	stored, err := f.dir.GetUser(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, f.defaultW.ID, stored.ActiveWorkspaceID)
}

func TestResolver_SwitchWorkspaceAdmin(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	p, err := f.resolver.ResolveLogin(ctx, f.admin, f.org, auth.LoginModeEmail)
	require.NoError(t, err)

	next, err := f.resolver.SwitchWorkspace(ctx, p, f.teamB.ID)
	require.NoError(t, err)
	assert.Equal(t, f.teamB.ID, next.ActiveWorkspaceID)
	assert.Equal(t, auth.RoleOrgAdmin, next.Role)

	// another user's personal workspace is appended to the list
	next, err = f.resolver.SwitchWorkspace(ctx, next, f.memberPW.ID)
	require.NoError(t, err)
	assert.True(t, next.IsAssigned(f.memberPW.ID))

	other := &auth.Organization{Name: "Other"}
	require.NoError(t, f.dir.CreateOrganization(ctx, other))
	foreign := &auth.Workspace{Name: "Foreign", OrganizationID: other.ID}
	require.NoError(t, f.dir.CreateWorkspace(ctx, foreign))
	_, err = f.resolver.SwitchWorkspace(ctx, next, foreign.ID)
	assert.ErrorIs(t, err, auth.ErrAuthorization)
}

func TestResolver_SwitchWorkspaceValidation(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	_, err := f.resolver.SwitchWorkspace(ctx, nil, f.teamB.ID)
	assert.ErrorIs(t, err, auth.ErrAuthentication)

	_, err = f.resolver.SwitchWorkspace(ctx, &auth.LoggedInUser{ID: f.member.ID}, "")
	assert.ErrorIs(t, err, auth.ErrValidation)
}

func TestResolver_Permissions(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	perms, err := f.resolver.Permissions(ctx, f.org.ID, "")
	require.NoError(t, err)
	assert.Nil(t, perms)

	perms, err = f.resolver.Permissions(ctx, f.org.ID, "ghost")
	require.NoError(t, err)
	assert.Empty(t, perms)

	perms, err = f.resolver.Permissions(ctx, f.org.ID, auth.RoleOrgAdmin)
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog().All(), perms)
}

func TestResolver_RoleCache(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	perms, err := f.resolver.Permissions(ctx, f.org.ID, "editor")
	require.NoError(t, err)
	assert.Len(t, perms, 3)

	// a write that bypasses the resolver is served stale from the cache
	require.NoError(t, f.roles.UpdateRole(ctx, &auth.Role{OrganizationID: f.org.ID, Name: "editor", Permissions: "tools:view"}))
	perms, err = f.resolver.Permissions(ctx, f.org.ID, "editor")
	require.NoError(t, err)
	assert.Len(t, perms, 3)

	// a write through the resolver invalidates
	require.NoError(t, f.resolver.UpdateRole(ctx, &auth.Role{OrganizationID: f.org.ID, Name: "editor", Permissions: "tools:view,tools:create"}))
	perms, err = f.resolver.Permissions(ctx, f.org.ID, "editor")
	require.NoError(t, err)
	assert.Equal(t, []string{"tools:view", "tools:create"}, perms)

	require.NoError(t, f.resolver.DeleteRole(ctx, f.org.ID, "editor"))
	perms, err = f.resolver.Permissions(ctx, f.org.ID, "editor")
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestResolver_RoleValidation(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		role auth.Role
	}{
		{name: "missing name", role: auth.Role{OrganizationID: f.org.ID}},
		{name: "missing org", role: auth.Role{Name: "x"}},
		{name: "reserved org_admin", role: auth.Role{OrganizationID: f.org.ID, Name: auth.RoleOrgAdmin}},
		{name: "reserved pw", role: auth.Role{OrganizationID: f.org.ID, Name: auth.RolePersonalWorkspace}},
		{name: "unknown permission", role: auth.Role{OrganizationID: f.org.ID, Name: "x", Permissions: "chatflows:view,rockets:launch"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role := tt.role
			assert.ErrorIs(t, f.resolver.CreateRole(ctx, &role), auth.ErrValidation)
		})
	}

	require.NoError(t, f.resolver.CreateRole(ctx, &auth.Role{OrganizationID: f.org.ID, Name: "viewer", Permissions: "chatflows:view"}))
	roles, err := f.resolver.ListRoles(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Len(t, roles, 2)
}

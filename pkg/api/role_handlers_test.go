package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

func TestPermissionCatalog(t *testing.T) {
	f := newAPIFixture(t, true)
	cookies := f.login(t, adminEmail, adminPass)

	rec := f.do(t, http.MethodGet, "/permissions", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var perms []string
	decode(t, rec, &perms)
	assert.Contains(t, perms, "chatflows:view")
	assert.Contains(t, perms, "roles:manage")
}

func TestRoleCRUD(t *testing.T) {
	f := newAPIFixture(t, true)
	cookies := f.login(t, adminEmail, adminPass)

	rec := f.do(t, http.MethodPost, "/role", RoleRequest{
		Name:        "viewer",
		Description: "read only",
		Permissions: []string{"chatflows:view", "workspace:view"},
	}, cookies...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created auth.Role
	decode(t, rec, &created)
	assert.Equal(t, "chatflows:view,workspace:view", created.Permissions)
	assert.Equal(t, f.org.ID, created.OrganizationID)

	rec = f.do(t, http.MethodPost, "/role", RoleRequest{Name: "viewer", Permissions: []string{"chatflows:view"}}, cookies...)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPut, "/role/viewer", RoleRequest{Permissions: []string{"chatflows:view"}}, cookies...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/role", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	var roles []auth.Role
	decode(t, rec, &roles)
	byName := map[string]string{}
	for _, r := range roles {
		byName[r.Name] = r.Permissions
	}
	assert.Equal(t, "chatflows:view", byName["viewer"])
	assert.Contains(t, byName, "editor")

	rec = f.do(t, http.MethodDelete, "/role/viewer", nil, cookies...)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/role/viewer", nil, cookies...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoleCreate_Rejected(t *testing.T) {
	f := newAPIFixture(t, true)
	cookies := f.login(t, adminEmail, adminPass)

	tests := []struct {
		name string
		req  RoleRequest
	}{
		{"unknown permission", RoleRequest{Name: "bad", Permissions: []string{"chatflows:fly"}}},
		{"reserved name", RoleRequest{Name: auth.RoleOrgAdmin, Permissions: []string{"chatflows:view"}}},
		{"missing name", RoleRequest{Permissions: []string{"chatflows:view"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/role", tt.req, cookies...)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("editor lacks roles:manage", func(t *testing.T) {
		f.member(t, "ed@acme.io", &auth.Workspace{ID: f.org.DefaultWorkspaceID}, "editor")
		editor := f.login(t, "ed@acme.io", "member-pass")
		rec := f.do(t, http.MethodGet, "/role", nil, editor...)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/rbac"
)

// RoleHandlers manages organization roles and exposes the permission catalog
type RoleHandlers struct {
	deps Dependencies
}

// NewRoleHandlers creates role handlers
func NewRoleHandlers(deps Dependencies) *RoleHandlers {
	return &RoleHandlers{deps: deps}
}

// RegisterRoutes registers role routes
func (h *RoleHandlers) RegisterRoutes(router *mux.Router) {
	manage := rbac.RequirePermission("roles:manage")

	router.HandleFunc("/permissions", h.catalog).Methods("GET")
	router.Handle("/role", manage(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/role", manage(http.HandlerFunc(h.create))).Methods("POST")
	router.Handle("/role/{name}", manage(http.HandlerFunc(h.update))).Methods("PUT")
	router.Handle("/role/{name}", manage(http.HandlerFunc(h.delete))).Methods("DELETE")
}

// catalog handles GET /permissions
func (h *RoleHandlers) catalog(w http.ResponseWriter, _ *http.Request) {
	_ = httputil.WriteSuccess(w, h.deps.Resolver.Catalog().All())
}

func (h *RoleHandlers) organization(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, ok := userPrincipal(w, r)
	if !ok {
		return "", false
	}
	orgID, err := principalOrganization(r.Context(), h.deps.Directory, principal)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return "", false
	}
	return orgID, true
}

// list handles GET /role
func (h *RoleHandlers) list(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.organization(w, r)
	if !ok {
		return
	}
	roles, err := h.deps.Resolver.ListRoles(r.Context(), orgID)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	_ = httputil.WriteSuccess(w, roles)
}

// create handles POST /role
func (h *RoleHandlers) create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.organization(w, r)
	if !ok {
		return
	}
	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &auth.Role{
		OrganizationID: orgID,
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		Permissions:    strings.Join(req.Permissions, ","),
	}
	if err := h.deps.Resolver.CreateRole(r.Context(), role); err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, role)
}

// update handles PUT /role/{name}
func (h *RoleHandlers) update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.organization(w, r)
	if !ok {
		return
	}
	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &auth.Role{
		OrganizationID: orgID,
		Name:           mux.Vars(r)["name"],
		Description:    req.Description,
		Permissions:    strings.Join(req.Permissions, ","),
	}
	if err := h.deps.Resolver.UpdateRole(r.Context(), role); err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// delete handles DELETE /role/{name}
func (h *RoleHandlers) delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.organization(w, r)
	if !ok {
		return
	}
	if err := h.deps.Resolver.DeleteRole(r.Context(), orgID, mux.Vars(r)["name"]); err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/middleware"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
	"github.com/platinummonkey/flowguard/pkg/rbac"
)

// WorkspaceHandlers handles workspace switching and lifecycle
type WorkspaceHandlers struct {
	deps    Dependencies
	cookies *cookieWriter
}

// NewWorkspaceHandlers creates workspace handlers
func NewWorkspaceHandlers(deps Dependencies, cookies *cookieWriter) *WorkspaceHandlers {
	return &WorkspaceHandlers{deps: deps, cookies: cookies}
}

// RegisterRoutes registers workspace routes
func (h *WorkspaceHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/workspace/switch", h.switchWorkspace).Methods("POST")
	router.Handle("/workspace", rbac.RequirePermission("workspace:create")(http.HandlerFunc(h.create))).Methods("POST")
	router.Handle("/workspace", rbac.RequirePermission("workspace:view")(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/workspace/{id}", rbac.RequirePermission("workspace:delete")(http.HandlerFunc(h.delete))).Methods("DELETE")
}

// userPrincipal returns the principal of a signed-in user. API keys act on a workspace,
// not as a user, and are refused.
func userPrincipal(w http.ResponseWriter, r *http.Request) (*auth.LoggedInUser, bool) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}
	if principal.IsAPIKeyValidated {
		httputil.WriteForbidden(w, "API keys cannot perform this operation")
		return nil, false
	}
	return principal, true
}

// principalOrganization returns the organization the principal acts in
func principalOrganization(ctx context.Context, dir *orgs.Store, principal *auth.LoggedInUser) (string, error) {
	if principal.ActiveOrganizationID != "" {
		return principal.ActiveOrganizationID, nil
	}
	if principal.ActiveWorkspaceID != "" {
		org, err := dir.OrganizationForWorkspace(ctx, principal.ActiveWorkspaceID)
		if err == nil {
			return org.ID, nil
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("principal has no organization: %w", auth.ErrAuthorization)
}

// switchWorkspace handles POST /workspace/switch?id=
func (h *WorkspaceHandlers) switchWorkspace(w http.ResponseWriter, r *http.Request) {
	principal, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	next, err := h.deps.Resolver.SwitchWorkspace(ctx, principal, r.URL.Query().Get("id"))
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}

	access, refresh, err := issueSession(ctx, h.deps.Tokens, next)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("Failed to reissue session")
		httputil.WriteInternalError(w)
		return
	}
	h.cookies.respond(w, next, access, refresh)
}

// create handles POST /workspace
func (h *WorkspaceHandlers) create(w http.ResponseWriter, r *http.Request) {
	principal, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req CreateWorkspaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	orgID, err := principalOrganization(ctx, h.deps.Directory, principal)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}

	// the admin is an implicit member everywhere; a personal-workspace role does not carry over
	creatorID, role := principal.ID, principal.Role
	if principal.IsOrganizationAdmin || role == auth.RolePersonalWorkspace || role == auth.RoleOrgAdmin {
		creatorID, role = "", ""
	}

	ws, err := h.deps.Engine.CreateWorkspace(ctx, orgID, creatorID, req.Name, req.Description, role)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, ws)
}

// list handles GET /workspace
func (h *WorkspaceHandlers) list(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	ctx := r.Context()

	orgID, err := principalOrganization(ctx, h.deps.Directory, principal)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	workspaces, err := h.deps.Engine.ListWorkspaces(ctx, orgID)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	if workspaces == nil {
		workspaces = []*auth.Workspace{}
	}
	_ = httputil.WriteSuccess(w, workspaces)
}

// delete handles DELETE /workspace/{id}
func (h *WorkspaceHandlers) delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	orgID, err := principalOrganization(ctx, h.deps.Directory, principal)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}

	// sessions pointing at the workspace are dropped once it is gone
	displaced, err := h.deps.Directory.UsersWithActiveWorkspace(ctx, id)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}

	if err := h.deps.Engine.DeleteWorkspace(ctx, orgID, id); err != nil {
		logger.WithError(err).WithField("workspace_id", id).Warn("Workspace delete failed")
		httputil.WriteAuthError(w, err)
		return
	}

	for _, userID := range displaced {
		if err := h.deps.Tokens.Sessions().Delete(ctx, userID); err != nil {
			logger.WithError(err).WithField("user_id", userID).Warn("Failed to drop session")
		}
	}
	_ = httputil.WriteSuccess(w, MessageResponse{Message: "deleted"})
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/rbac"
	"github.com/platinummonkey/flowguard/pkg/tenant"
)

// AccountHandlers handles organization setup, invites, registration and password resets
type AccountHandlers struct {
	mode auth.DeploymentMode
	deps Dependencies
}

// NewAccountHandlers creates account handlers
func NewAccountHandlers(mode auth.DeploymentMode, deps Dependencies) *AccountHandlers {
	return &AccountHandlers{mode: mode, deps: deps}
}

// RegisterRoutes registers account routes
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/organization/setup", limited(h.deps, http.HandlerFunc(h.setup))).Methods("POST")

	router.Handle("/user/invite", rbac.RequirePermission("users:manage", "workspace:add-user")(http.HandlerFunc(h.invite))).Methods("POST")
	router.Handle("/user", rbac.RequirePermission("users:manage")(http.HandlerFunc(h.deleteUser))).Methods("DELETE")

	router.Handle("/account/register", limited(h.deps, http.HandlerFunc(h.register))).Methods("POST")
	router.Handle("/account/forgot-password", limited(h.deps, http.HandlerFunc(h.forgotPassword))).Methods("POST")
	router.Handle("/account/reset-password", limited(h.deps, http.HandlerFunc(h.resetPassword))).Methods("POST")
}

// setup handles POST /organization/setup
func (h *AccountHandlers) setup(w http.ResponseWriter, r *http.Request) {
	if h.mode == auth.ModeEnterprise && (h.deps.License == nil || !h.deps.License.IsValid()) {
		writeLoginFailure(w, auth.MsgLicenseInvalid)
		return
	}

	var req tenant.SetupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	org, admin, err := h.deps.Engine.SetupOrganization(r.Context(), req)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	observability.FromContext(r.Context()).WithField("organization_id", org.ID).Info("Organization created")
	_ = httputil.WriteCreated(w, SetupResponse{Organization: org, User: admin})
}

// invite handles POST /user/invite
func (h *AccountHandlers) invite(w http.ResponseWriter, r *http.Request) {
	principal, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req tenant.InviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	orgID, err := principalOrganization(ctx, h.deps.Directory, principal)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	req.OrganizationID = orgID

	result, err := h.deps.Engine.InviteUser(ctx, req)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, InviteResponse{User: result.User})
}

// deleteUser handles DELETE /user?id=
func (h *AccountHandlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	id := r.URL.Query().Get("id")
	if !httputil.RequireNonEmpty(w, id, "id") {
		return
	}
	orgID, err := principalOrganization(ctx, h.deps.Directory, principal)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}

	if err := h.deps.Engine.DeleteUser(ctx, orgID, id); err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	if err := h.deps.Tokens.Sessions().Delete(ctx, id); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("user_id", id).Warn("Failed to drop session")
	}
	_ = httputil.WriteSuccess(w, MessageResponse{Message: "deleted"})
}

// register handles POST /account/register
func (h *AccountHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req tenant.RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	user, err := h.deps.Engine.RegisterUser(r.Context(), req)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, user)
}

// forgotPassword handles POST /account/forgot-password. The response does not reveal
// whether the address is registered.
func (h *AccountHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}
	if err := h.deps.Engine.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, MessageResponse{Message: "reset link sent if the account exists"})
}

// resetPassword handles POST /account/reset-password
func (h *AccountHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req tenant.ResetRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.deps.Engine.ResetPassword(r.Context(), req); err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, MessageResponse{Message: "password updated"})
}

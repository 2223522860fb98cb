package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowguard/pkg/audit"
	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
	"github.com/platinummonkey/flowguard/pkg/rbac"
	"github.com/platinummonkey/flowguard/pkg/sso"
)

const (
	// StateCookie binds a provider callback to the browser that started the login
	StateCookie = "ssoState"

	stateMaxAge = 600
)

var errLicenseInvalid = fmt.Errorf("%s: %w", auth.MsgLicenseInvalid, auth.ErrAuthorization)

// SSOHandlers serves the provider login flows and the organization SSO configuration
type SSOHandlers struct {
	cfg     Config
	deps    Dependencies
	cookies *cookieWriter
}

// NewSSOHandlers creates SSO handlers
func NewSSOHandlers(cfg Config, deps Dependencies, cookies *cookieWriter) *SSOHandlers {
	return &SSOHandlers{cfg: cfg, deps: deps, cookies: cookies}
}

// RegisterRoutes registers SSO routes. The provider routes match any path segment and
// must be registered after every fixed route.
func (h *SSOHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/saml/metadata", h.metadata).Methods("GET")
	router.Handle("/sso-config", rbac.RequireOrganizationAdmin(http.HandlerFunc(h.getConfig))).Methods("GET")
	router.Handle("/sso-config", rbac.RequireOrganizationAdmin(http.HandlerFunc(h.putConfig))).Methods("PUT")

	router.HandleFunc("/{provider}/login", h.login).Methods("GET")
	router.HandleFunc("/{provider}/callback", h.callback).Methods("GET", "POST")
}

func (h *SSOHandlers) stateCookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     StateCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
	// the SAML POST binding is a cross-site form post
	if h.cfg.SecureCookies {
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

// login handles GET /{provider}/login
func (h *SSOHandlers) login(w http.ResponseWriter, r *http.Request) {
	name, err := providerName(r)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	adapter, err := h.deps.SSO.Enabled(name)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}

	state := uuid.New().String()
	target, err := adapter.LoginURL(state)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("provider", string(name)).Error("Failed to build login URL")
		httputil.WriteInternalError(w)
		return
	}

	http.SetCookie(w, h.stateCookie(state, stateMaxAge))
	http.Redirect(w, r, target, http.StatusFound)
}

// callbackState returns the state echoed by the provider: query state for OAuth2 flows,
// RelayState for SAML
func callbackState(r *http.Request) string {
	if s := r.URL.Query().Get("state"); s != "" {
		return s
	}
	return r.FormValue("RelayState")
}

// callback handles GET and POST /{provider}/callback
func (h *SSOHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name, err := providerName(r)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	adapter, err := h.deps.SSO.Enabled(name)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}

	c, cerr := r.Cookie(StateCookie)
	state := callbackState(r)
	http.SetCookie(w, h.stateCookie("", -1))
	if cerr != nil || c.Value == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) != 1 {
		h.fail(w, r, name, fmt.Errorf("sso state mismatch: %w", auth.ErrAuthentication))
		return
	}

	if h.cfg.Mode == auth.ModeEnterprise && (h.deps.License == nil || !h.deps.License.IsValid()) {
		h.fail(w, r, name, errLicenseInvalid)
		return
	}

	ssoUser, err := adapter.HandleCallback(ctx, r)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}

	email := ssoUser.Email
	org, err := h.deps.Directory.FirstOrganization(ctx)
	if err != nil {
		h.reject(w, r, name, email, audit.UnknownError, err)
		return
	}
	user, err := h.deps.Engine.ProvisionSSOUser(ctx, org.ID, email, ssoUser.Name)
	if err != nil {
		code := audit.UnknownError
		// with an email present the only authentication failure is a disabled account
		if email != "" && errors.Is(err, auth.ErrAuthentication) {
			code = audit.UserDisabled
		}
		h.reject(w, r, name, email, code, err)
		return
	}
	principal, err := h.deps.Resolver.ResolveLogin(ctx, user, org, auth.LoginModeSSO)
	if err != nil {
		h.reject(w, r, name, email, failureCode(err), err)
		return
	}
	upstream := &auth.SSOTokens{AccessToken: ssoUser.AccessToken, IDToken: ssoUser.IDToken}
	principal.SSOProvider = string(name)
	principal.SSOToken = upstream.SessionToken()
	principal.SSORefreshToken = ssoUser.RefreshToken

	access, refresh, err := issueSession(ctx, h.deps.Tokens, principal)
	if err != nil {
		h.reject(w, r, name, email, audit.UnknownError, err)
		return
	}
	h.deps.Metrics.RecordLogin(string(auth.LoginModeSSO), "success")
	h.deps.Activity.Record(ctx, user.Email, audit.LoginSuccess, string(auth.LoginModeSSO), string(name))

	target := h.cfg.BaseURL + "/sso-success"
	if h.cookies.inBody {
		raw, err := json.Marshal(SessionResponse{LoggedInUser: principal.Public(), Token: access, RefreshToken: refresh})
		if err != nil {
			h.fail(w, r, name, err)
			return
		}
		target += "?user=" + url.QueryEscape(string(raw))
	} else {
		h.cookies.set(w, access, refresh)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// reject records a failed attempt by a known identity, then fails the login
func (h *SSOHandlers) reject(w http.ResponseWriter, r *http.Request, name sso.ProviderName, email string, code audit.ActivityCode, err error) {
	if email != "" {
		h.deps.Activity.Record(r.Context(), orgs.NormalizeEmail(email), code, string(auth.LoginModeSSO), string(name))
	}
	h.fail(w, r, name, err)
}

// fail sends the browser back to the sign-in page. Details stay in the log.
func (h *SSOHandlers) fail(w http.ResponseWriter, r *http.Request, name sso.ProviderName, err error) {
	observability.FromContext(r.Context()).WithError(err).WithField("provider", string(name)).Warn("SSO login failed")
	h.deps.Metrics.RecordLogin(string(auth.LoginModeSSO), "failed")

	message := "SSO login failed"
	if errors.Is(err, errLicenseInvalid) {
		message = auth.MsgLicenseInvalid
	}
	http.Redirect(w, r, h.cfg.BaseURL+"/signin?error="+url.QueryEscape(message), http.StatusFound)
}

// metadata handles GET /saml/metadata
func (h *SSOHandlers) metadata(w http.ResponseWriter, r *http.Request) {
	adapter, ok := h.deps.SSO.Get(sso.ProviderSAML)
	samlAdapter, isSAML := adapter.(*sso.SAMLAdapter)
	if !ok || !isSAML {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "SAML is not configured")
		return
	}

	md, err := samlAdapter.Metadata()
	if errors.Is(err, auth.ErrConfiguration) || errors.Is(err, sso.ErrDisabled) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "SAML is not configured")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to render SAML metadata")
		httputil.WriteInternalError(w)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	_, _ = w.Write(md)
}

func (h *SSOHandlers) configResponse(cfg *sso.Config) SSOConfigResponse {
	resp := SSOConfigResponse{Config: cfg.Sanitized(), Registered: []sso.ProviderName{}}
	for _, name := range h.deps.SSO.Names() {
		if _, err := h.deps.SSO.Enabled(name); err == nil {
			resp.Registered = append(resp.Registered, name)
		}
	}
	return resp
}

// getConfig handles GET /sso-config
func (h *SSOHandlers) getConfig(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.organization(w, r)
	if !ok {
		return
	}
	cfg, err := h.deps.SSOStore.Load(r.Context(), orgID)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, h.configResponse(cfg))
}

// putConfig handles PUT /sso-config. The stored config is replaced and the registry is
// reconciled against it; a provider that fails to initialize stays disabled.
func (h *SSOHandlers) putConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.organization(w, r)
	if !ok {
		return
	}

	var update sso.Config
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}
	current, err := h.deps.SSOStore.Load(ctx, orgID)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}

	merged := sso.Merge(current, &update)
	if err := h.deps.SSOStore.Save(ctx, orgID, merged); err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	if err := h.deps.SSO.Reconcile(ctx, merged); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("SSO reconciliation left providers disabled")
	}
	_ = httputil.WriteSuccess(w, h.configResponse(merged))
}

func (h *SSOHandlers) organization(w http.ResponseWriter, r *http.Request) (string, bool) {
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

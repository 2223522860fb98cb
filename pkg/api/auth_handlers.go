package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowguard/pkg/audit"
	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/middleware"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
	"github.com/platinummonkey/flowguard/pkg/sso"
)

// AuthHandlers handles login, token refresh and logout
type AuthHandlers struct {
	cfg     Config
	deps    Dependencies
	cookies *cookieWriter
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(cfg Config, deps Dependencies, cookies *cookieWriter) *AuthHandlers {
	return &AuthHandlers{cfg: cfg, deps: deps, cookies: cookies}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/resolve", h.resolve).Methods("POST")
	router.Handle("/auth/login", limited(h.deps, http.HandlerFunc(h.login))).Methods("POST")
	router.HandleFunc("/auth/refreshToken", h.refresh).Methods("POST")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")
}

// limited wraps next with the login rate limiter when one is configured
func limited(deps Dependencies, next http.Handler) http.Handler {
	if deps.LoginLimiter == nil {
		return next
	}
	return middleware.RateLimit(deps.LoginLimiter, deps.TrustedProxies, deps.Logger)(next)
}

func (h *AuthHandlers) licenseValid() bool {
	return h.deps.License != nil && h.deps.License.IsValid()
}

// resolve handles POST /auth/resolve
func (h *AuthHandlers) resolve(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Mode == auth.ModeEnterprise {
		if !h.licenseValid() {
			_ = httputil.WriteSuccess(w, ResolveResponse{RedirectURL: middleware.LicenseExpiredURL})
			return
		}
		if _, err := h.deps.Directory.FirstOrganization(r.Context()); err != nil {
			if !errors.Is(err, auth.ErrNotFound) {
				httputil.WriteAuthError(w, err)
				return
			}
			_ = httputil.WriteSuccess(w, ResolveResponse{RedirectURL: "/organization-setup"})
			return
		}
	}

	target := "/signin"
	if h.deps.SSO != nil {
		var enabled []string
		for _, name := range h.deps.SSO.Names() {
			if _, err := h.deps.SSO.Enabled(name); err == nil {
				enabled = append(enabled, string(name))
			}
		}
		if len(enabled) > 0 {
			target += "?ssoProvider=" + url.QueryEscape(strings.Join(enabled, ","))
		}
	}
	_ = httputil.WriteSuccess(w, ResolveResponse{RedirectURL: target})
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	if h.cfg.Mode == auth.ModeEnterprise && !h.licenseValid() {
		h.deps.Metrics.RecordLogin(string(auth.LoginModeEmail), "license")
		writeLoginFailure(w, auth.MsgLicenseInvalid)
		return
	}

	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	email := orgs.NormalizeEmail(req.Email)
	user, err := h.deps.Directory.GetUserByEmail(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		h.attempt(ctx, email, "unregistered", audit.UnknownUser)
		writeLoginFailure(w, auth.MsgUserNotRegistered)
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load user")
		httputil.WriteInternalError(w)
		return
	}

	switch user.Status {
	case auth.UserStatusDisabled:
		h.attempt(ctx, email, "disabled", audit.UserDisabled)
		writeLoginFailure(w, auth.MsgUserDisabled)
		return
	case auth.UserStatusActive:
	default:
		h.attempt(ctx, email, "invalid", audit.RegistrationPending)
		writeLoginFailure(w, auth.MsgInvalidCredentials)
		return
	}
	if user.Credential == "" || h.deps.Hasher.Compare(user.Credential, req.Password) != nil {
		h.attempt(ctx, email, "invalid", audit.IncorrectCredential)
		writeLoginFailure(w, auth.MsgInvalidCredentials)
		return
	}

	org, err := loginOrganization(ctx, h.deps.Directory, user)
	if err != nil {
		h.attempt(ctx, email, "error", failureCode(err))
		httputil.WriteAuthError(w, err)
		return
	}
	principal, err := h.deps.Resolver.ResolveLogin(ctx, user, org, auth.LoginModeEmail)
	if err != nil {
		h.attempt(ctx, email, "error", failureCode(err))
		httputil.WriteAuthError(w, err)
		return
	}

	access, refresh, err := issueSession(ctx, h.deps.Tokens, principal)
	if err != nil {
		logger.WithError(err).Error("Failed to issue session")
		h.attempt(ctx, email, "error", audit.UnknownError)
		httputil.WriteInternalError(w)
		return
	}

	h.attempt(ctx, email, "success", audit.LoginSuccess)
	logger.WithField("user_id", principal.ID).Info("User logged in")
	h.cookies.respond(w, principal, access, refresh)
}

// refresh handles POST /auth/refreshToken
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := ""
	if c, err := r.Cookie(middleware.RefreshCookie); err == nil {
		token = c.Value
	}
	if token == "" && h.cfg.TokenInBody {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if httputil.ParseJSON(r, &body) == nil {
			token = body.RefreshToken
		}
	}
	if token == "" {
		h.deps.Metrics.RecordRefresh("missing")
		httputil.WriteUnauthorized(w, "Refresh token is missing")
		return
	}

	result, err := h.deps.Tokens.Refresh(ctx, token, false)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Debug("Refresh rejected")
		h.deps.Metrics.RecordRefresh("expired")
		h.cookies.clear(w)
		_ = httputil.WriteJSON(w, http.StatusForbidden, MessageResponse{Message: auth.MsgRefreshTokenExpired})
		return
	}

	h.deps.Metrics.RecordRefresh("success")
	h.cookies.respond(w, result.User, result.AccessToken, result.RefreshToken)
}

// logout handles POST /auth/logout. The session is dropped when either token still
// identifies it; cookies are always cleared.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if userID := h.sessionUser(r); userID != "" {
		if user, err := h.deps.Directory.GetUser(ctx, userID); err == nil {
			h.deps.Activity.Record(ctx, user.Email, audit.LogoutSuccess, "", "")
		}
		if err := h.deps.Tokens.Sessions().Delete(ctx, userID); err != nil && !errors.Is(err, auth.ErrNotFound) {
			observability.FromContext(ctx).WithError(err).Warn("Failed to delete session")
		}
	}

	h.cookies.clear(w)
	_ = httputil.WriteSuccess(w, MessageResponse{Message: "logged_out"})
}

// attempt records an email login outcome in metrics and login activity
func (h *AuthHandlers) attempt(ctx context.Context, email, outcome string, code audit.ActivityCode) {
	h.deps.Metrics.RecordLogin(string(auth.LoginModeEmail), outcome)
	h.deps.Activity.Record(ctx, email, code, string(auth.LoginModeEmail), "")
}

// failureCode maps a post-credential login error to its activity code
func failureCode(err error) audit.ActivityCode {
	if errors.Is(err, auth.ErrAuthorization) {
		return audit.NoAssignedWorkspace
	}
	return audit.UnknownError
}

func (h *AuthHandlers) sessionUser(r *http.Request) string {
	candidates := []struct {
		kind   auth.TokenKind
		cookie string
	}{
		{auth.AccessToken, middleware.TokenCookie},
		{auth.RefreshToken, middleware.RefreshCookie},
	}
	for _, c := range candidates {
		token := ""
		if ck, err := r.Cookie(c.cookie); err == nil {
			token = ck.Value
		}
		if token == "" && c.kind == auth.AccessToken {
			token = httputil.BearerToken(r)
		}
		if token == "" {
			continue
		}
		if claims, err := h.deps.Tokens.Validate(c.kind, token); err == nil {
			return claims.UserID
		}
	}
	return ""
}

// providerName parses the {provider} route variable
func providerName(r *http.Request) (sso.ProviderName, error) {
	name, err := sso.ParseProviderName(mux.Vars(r)["provider"])
	if err != nil {
		return "", fmt.Errorf("%w: %v", auth.ErrNotFound, err)
	}
	return name, nil
}

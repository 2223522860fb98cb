package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/contextkeys"
	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/observability"
)

const (
	// InternalHeader marks requests issued by the bundled UI
	InternalHeader      = "x-request-from"
	InternalHeaderValue = "internal"

	// TokenCookie and RefreshCookie carry the bearer tokens of browser sessions
	TokenCookie   = "token"
	RefreshCookie = "refreshToken"

	// LicenseExpiredURL is the redirect hint of a session request under an invalid license
	LicenseExpiredURL = "/license-expired"
)

// Authenticator resolves a session access token to its principal
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.LoggedInUser, error)
}

// APIKeyVerifier resolves a pre-shared API key
type APIKeyVerifier interface {
	Verify(ctx context.Context, key string) (*auth.APIKey, error)
}

// LicenseChecker reports the cached license state
type LicenseChecker interface {
	IsValid() bool
}

// GatewayConfig configures the gateway. Mode is fixed for the gateway's lifetime.
type GatewayConfig struct {
	Mode   auth.DeploymentMode
	Prefix string // guarded prefix, e.g. /api/v1

	// Whitelist holds public paths relative to Prefix. Empty selects DefaultWhitelist(nil).
	Whitelist []string

	// single-user basic auth for internal requests; empty disables the check
	Username string
	Password string
}

// DefaultWhitelist returns the public paths, including the login and callback routes of
// each SSO provider
func DefaultWhitelist(providers []string) []string {
	paths := []string{
		"/auth/resolve",
		"/auth/login",
		"/auth/refreshToken",
		"/auth/logout",
		"/ping",
		"/account/register",
		"/account/forgot-password",
		"/account/reset-password",
		"/organization/setup",
		"/saml/metadata",
	}
	for _, p := range providers {
		paths = append(paths, "/"+p+"/login", "/"+p+"/callback")
	}
	return paths
}

// Gateway classifies every request under the guarded prefix and attaches a principal.
//
//  1. outside the prefix: pass
//  2. prefix matches only case-insensitively: reject
//  3. public whitelist: pass
//  4. internal header: session token (enterprise, cloud) or basic auth (single-user)
//  5. otherwise: license (enterprise) then API key
//
// Every rejection is a 401 JSON response.
type Gateway struct {
	cfg       GatewayConfig
	whitelist map[string]struct{}
	tokens    Authenticator
	keys      APIKeyVerifier
	license   LicenseChecker
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewGateway creates a gateway. license may be nil outside enterprise mode.
func NewGateway(cfg GatewayConfig, tokens Authenticator, keys APIKeyVerifier, license LicenseChecker, logger *observability.Logger, metrics *observability.Metrics) *Gateway {
	cfg.Prefix = strings.TrimRight(cfg.Prefix, "/")
	if cfg.Whitelist == nil {
		cfg.Whitelist = DefaultWhitelist(nil)
	}
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, p := range cfg.Whitelist {
		wl[strings.TrimRight(p, "/")] = struct{}{}
	}
	return &Gateway{
		cfg:       cfg,
		whitelist: wl,
		tokens:    tokens,
		keys:      keys,
		license:   license,
		logger:    logger,
		metrics:   metrics,
	}
}

// decision is the outcome of classifying one request
type decision struct {
	branch      string
	principal   *auth.LoggedInUser
	err         error
	redirectURL string
}

// Handler wraps next with the gateway
func (g *Gateway) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.classify(r)
		if d.err != nil {
			g.metrics.RecordGatewayDecision(d.branch, "rejected")
			g.reject(w, r, d)
			return
		}
		g.metrics.RecordGatewayDecision(d.branch, "passed")

		if d.principal != nil {
			ctx := contextkeys.WithPrincipal(r.Context(), d.principal)
			ctx = contextkeys.WithUserID(ctx, d.principal.ID)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// classify never panics: a panic in a collaborator becomes a rejection
func (g *Gateway) classify(r *http.Request) (d decision) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.WithField("panic", rec).Error("PANIC in gateway")
			d = decision{branch: "panic", err: fmt.Errorf("gateway failure: %w", auth.ErrAuthentication)}
		}
	}()

	path := r.URL.Path
	rel, guarded, exact := g.matchPrefix(path)
	if !guarded {
		return decision{branch: "unguarded"}
	}
	if !exact {
		return decision{branch: "case", err: fmt.Errorf("path %q: %w", path, auth.ErrAuthentication)}
	}
	if _, ok := g.whitelist[strings.TrimRight(rel, "/")]; ok {
		return decision{branch: "whitelist"}
	}
	if r.Header.Get(InternalHeader) == InternalHeaderValue {
		return g.internal(r)
	}
	return g.external(r)
}

// matchPrefix reports whether path is under the prefix case-insensitively, and whether
// it also matches exactly. rel is the remainder after the prefix.
func (g *Gateway) matchPrefix(path string) (rel string, guarded, exact bool) {
	p := g.cfg.Prefix
	if len(path) < len(p) || !strings.EqualFold(path[:len(p)], p) {
		return "", false, false
	}
	if len(path) > len(p) && path[len(p)] != '/' {
		return "", false, false
	}
	return path[len(p):], true, path[:len(p)] == p
}

func (g *Gateway) internal(r *http.Request) decision {
	if g.cfg.Mode == auth.ModeSingleUser {
		if g.cfg.Username == "" && g.cfg.Password == "" {
			return decision{branch: "internal"}
		}
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(g.cfg.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(g.cfg.Password)) != 1 {
			return decision{branch: "internal", err: fmt.Errorf("basic auth: %w", auth.ErrAuthentication)}
		}
		return decision{branch: "internal"}
	}

	if g.cfg.Mode == auth.ModeEnterprise && !g.licenseValid() {
		return decision{
			branch:      "internal",
			err:         fmt.Errorf("%s: %w", auth.MsgLicenseInvalid, auth.ErrAuthorization),
			redirectURL: LicenseExpiredURL,
		}
	}

	token := sessionToken(r)
	if token == "" {
		return decision{branch: "internal", err: fmt.Errorf("missing session token: %w", auth.ErrAuthentication)}
	}
	principal, err := g.tokens.Authenticate(r.Context(), token)
	if err != nil {
		return decision{branch: "internal", err: err}
	}
	return decision{branch: "internal", principal: principal}
}

func (g *Gateway) external(r *http.Request) decision {
	if g.cfg.Mode == auth.ModeEnterprise && !g.licenseValid() {
		return decision{branch: "external", err: fmt.Errorf("%s: %w", auth.MsgLicenseInvalid, auth.ErrAuthorization)}
	}

	key := httputil.BearerToken(r)
	if key == "" {
		return decision{branch: "external", err: fmt.Errorf("missing api key: %w", auth.ErrAuthentication)}
	}
	apiKey, err := g.keys.Verify(r.Context(), key)
	if err != nil {
		return decision{branch: "external", err: err}
	}
	return decision{branch: "external", principal: apiKey.Principal()}
}

func (g *Gateway) licenseValid() bool {
	return g.license != nil && g.license.IsValid()
}

// reject writes the 401. Anything that is not already an auth failure is reported as one.
func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, d decision) {
	observability.FromContext(r.Context()).WithError(d.err).WithFields(map[string]interface{}{
		"branch": d.branch,
		"path":   r.URL.Path,
	}).Debug("gateway rejected request")

	if d.redirectURL != "" {
		httputil.WriteErrorResponse(w, http.StatusUnauthorized, httputil.ErrorResponse{
			Error:       "unauthorized",
			Message:     auth.MsgLicenseInvalid,
			RedirectURL: d.redirectURL,
		})
		return
	}

	if errors.Is(d.err, auth.ErrExpiredToken) {
		httputil.WriteAuthError(w, d.err)
		return
	}
	httputil.WriteErrorResponse(w, http.StatusUnauthorized, httputil.ErrorResponse{
		Error:   "unauthorized",
		Message: "Unauthorized Access",
	})
}

// sessionToken reads the access token from the token cookie, falling back to the
// Authorization header
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return httputil.BearerToken(r)
}

// GetPrincipal extracts the principal attached by the gateway
func GetPrincipal(r *http.Request) *auth.LoggedInUser {
	principal, _ := r.Context().Value(contextkeys.PrincipalKey).(*auth.LoggedInUser)
	return principal
}

// WithPrincipal attaches principal to the request context. Used by handlers that
// authenticate outside the gateway and by tests.
func WithPrincipal(r *http.Request, principal *auth.LoggedInUser) *http.Request {
	return r.WithContext(contextkeys.WithPrincipal(r.Context(), principal))
}

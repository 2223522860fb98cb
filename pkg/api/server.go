package api

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowguard/pkg/audit"
	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/middleware"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
	"github.com/platinummonkey/flowguard/pkg/rbac"
	"github.com/platinummonkey/flowguard/pkg/sso"
	"github.com/platinummonkey/flowguard/pkg/tenant"
)

// maxBodyBytes bounds request bodies; SAML responses are the largest legitimate payload
const maxBodyBytes = 1 << 20

// Config holds the deployment settings the handlers depend on
type Config struct {
	Mode          auth.DeploymentMode
	Prefix        string // guarded prefix, e.g. /api/v1
	BaseURL       string // public URL of the UI, target of SSO redirects
	TokenInBody   bool   // return tokens as JSON instead of cookies
	SecureCookies bool

	// single-user basic auth, forwarded to the gateway
	Username string
	Password string
}

// Dependencies are the collaborators shared by every handler group
type Dependencies struct {
	DB        *sql.DB
	Directory *orgs.Store
	Tokens    *auth.TokenService
	APIKeys   *auth.APIKeyStore
	Hasher    *auth.PasswordHasher
	License   middleware.LicenseChecker
	Resolver  *rbac.Resolver
	Engine    *tenant.Engine
	SSO       *sso.Registry
	SSOStore  *sso.Storage

	// Activity records login attempts; nil disables recording and the activity API
	Activity *audit.Recorder

	// LoginLimiter throttles credential endpoints; nil disables throttling
	LoginLimiter middleware.Limiter

	// TrustedProxies may set the client address used as the throttling key
	TrustedProxies middleware.TrustedProxies

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server represents our API server
type Server struct {
	cfg     Config
	deps    Dependencies
	router  *mux.Router
	gateway *middleware.Gateway
	handler http.Handler

	authHandlers      *AuthHandlers
	workspaceHandlers *WorkspaceHandlers
	accountHandlers   *AccountHandlers
	ssoHandlers       *SSOHandlers
	roleHandlers      *RoleHandlers
	activityHandlers  *audit.Handlers
}

// NewServer creates a new API server
func NewServer(cfg Config, deps Dependencies) *Server {
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
	}

	var providers []string
	for _, name := range sso.KnownProviders() {
		providers = append(providers, string(name))
	}
	s.gateway = middleware.NewGateway(middleware.GatewayConfig{
		Mode:      cfg.Mode,
		Prefix:    cfg.Prefix,
		Whitelist: middleware.DefaultWhitelist(providers),
		Username:  cfg.Username,
		Password:  cfg.Password,
	}, deps.Tokens, deps.APIKeys, deps.License, deps.Logger, deps.Metrics)

	cookies := newCookieWriter(cfg)
	s.authHandlers = NewAuthHandlers(cfg, deps, cookies)
	s.workspaceHandlers = NewWorkspaceHandlers(deps, cookies)
	s.accountHandlers = NewAccountHandlers(cfg.Mode, deps)
	s.ssoHandlers = NewSSOHandlers(cfg, deps, cookies)
	s.roleHandlers = NewRoleHandlers(deps)
	if store := deps.Activity.Store(); store != nil {
		s.activityHandlers = audit.NewHandlers(store)
	}

	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger, deps.Metrics),
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
		s.gateway.Handler,
	)(s.router)
	return s
}

// setupRoutes configures all the API routes under the guarded prefix
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix(s.cfg.Prefix).Subrouter()

	api.HandleFunc("/ping", s.ping).Methods("GET")

	s.RegisterRoutes(api, s.authHandlers)
	s.RegisterRoutes(api, s.workspaceHandlers)
	s.RegisterRoutes(api, s.accountHandlers)
	s.RegisterRoutes(api, s.roleHandlers)
	if s.activityHandlers != nil {
		s.RegisterRoutes(api, s.activityHandlers)
	}
	// provider routes are parameterized and must come last
	s.RegisterRoutes(api, s.ssoHandlers)
}

// ping handles GET /ping
func (s *Server) ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("pong"))
}

// ServeHTTP implements http.Handler. Every request passes the middleware chain and the
// authorization gateway before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the router so callers can mount routes outside the guarded prefix
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(router *mux.Router, registrar RouteRegistrar) {
	registrar.RegisterRoutes(router)
}

package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowguard/pkg/audit"
	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/middleware"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
	"github.com/platinummonkey/flowguard/pkg/rbac"
	"github.com/platinummonkey/flowguard/pkg/sso"
	"github.com/platinummonkey/flowguard/pkg/storage/postgres"
	"github.com/platinummonkey/flowguard/pkg/tenant"
)

const (
	testPrefix  = "/api/v1"
	testBaseURL = "http://ui.test"
	adminEmail  = "admin@acme.io"
	adminPass   = "admin-pass"
)

type fakeLicense struct {
	valid atomic.Bool
}

func (f *fakeLicense) IsValid() bool { return f.valid.Load() }

// stubAdapter is an identity provider that answers from memory
type stubAdapter struct {
	mu         sync.Mutex
	name       sso.ProviderName
	cfg        sso.ProviderConfig
	user       *sso.SSOUser
	refreshErr error
}

func (a *stubAdapter) Name() sso.ProviderName { return a.name }
func (a *stubAdapter) Initialize(context.Context) error { return nil }

func (a *stubAdapter) Config() sso.ProviderConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *stubAdapter) SetConfig(cfg sso.ProviderConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

func (a *stubAdapter) RefreshToken(_ context.Context, rt string) (*auth.SSOTokens, error) {
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	return &auth.SSOTokens{AccessToken: "upstream-" + rt, RefreshToken: rt}, nil
}

func (a *stubAdapter) LoginURL(state string) (string, error) {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state), nil
}

func (a *stubAdapter) HandleCallback(context.Context, *http.Request) (*sso.SSOUser, error) {
	u := *a.user
	u.Provider = a.name
	return &u, nil
}

type stubFactory struct {
	mu       sync.Mutex
	adapters map[sso.ProviderName]*stubAdapter
}

func (f *stubFactory) build(name sso.ProviderName, cfg sso.ProviderConfig) (sso.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &stubAdapter{
		name: name,
		cfg:  cfg,
		user: &sso.SSOUser{ExternalID: "ext-1", Email: "sso.user@acme.io", Name: "Sso User", AccessToken: "upstream-at", RefreshToken: "upstream-rt"},
	}
	f.adapters[name] = a
	return a, nil
}

func (f *stubFactory) adapter(name sso.ProviderName) *stubAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapters[name]
}

type captureNotifier struct {
	mu      sync.Mutex
	invites map[string]string
	resets  map[string]string
}

func tokenFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}

func (n *captureNotifier) SendInvite(_ context.Context, email, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invites[email] = tokenFromLink(link)
	return nil
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, email, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets[email] = tokenFromLink(link)
	return nil
}

type apiFixture struct {
	server   *Server
	db       *sql.DB
	dir      *orgs.Store
	roles    *rbac.Store
	tokens   *auth.TokenService
	engine   *tenant.Engine
	registry *sso.Registry
	stubs    *stubFactory
	license  *fakeLicense
	notifier *captureNotifier
	activity *audit.Store

	org   *auth.Organization
	admin *auth.User
}

type fixtureOption func(*Config, *Dependencies)

func withTokenInBody() fixtureOption {
	return func(c *Config, _ *Dependencies) { c.TokenInBody = true }
}

func withLoginLimiter(l middleware.Limiter) fixtureOption {
	return func(_ *Config, d *Dependencies) { d.LoginLimiter = l }
}

func withSSORegistry(r *sso.Registry) fixtureOption {
	return func(_ *Config, d *Dependencies) { d.SSO = r }
}

// newAPIFixture builds an enterprise server over a fresh database. With setup the
// organization, its admin and an editor role exist.
func newAPIFixture(t *testing.T, setup bool, opts ...fixtureOption) *apiFixture {
	t.Helper()
	ctx := context.Background()

	db := postgres.NewTestDB(t)
	logger := observability.NewNopLogger()
	metrics := observability.NewTestMetrics()

	f := &apiFixture{
		db:       db,
		dir:      orgs.NewStore(db),
		roles:    rbac.NewStore(db),
		stubs:    &stubFactory{adapters: map[sso.ProviderName]*stubAdapter{}},
		license:  &fakeLicense{},
		notifier: &captureNotifier{invites: map[string]string{}, resets: map[string]string{}},
		activity: audit.NewStore(db),
	}
	f.license.valid.Store(true)

	hasher := auth.NewPasswordHasher(4)
	resolver := rbac.NewResolver(f.dir, f.roles, rbac.DefaultCatalog(), logger, 100, time.Minute)
	f.engine = tenant.NewEngine(db, f.dir, nil, f.roles, hasher, f.notifier, tenant.Config{BaseURL: testBaseURL}, logger, metrics)
	f.registry = sso.NewRegistry(f.stubs.build, logger, metrics)

	var err error
	f.tokens, err = auth.NewTokenService(auth.TokenConfig{
		Audience:      "AUDIENCE",
		Issuer:        "ISSUER",
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		MetaSecret:    "meta-secret",
	}, nil, auth.NewMemorySessionStore(100, time.Hour), auth.WithSSORefresher(f.registry))
	require.NoError(t, err)

	cfg := Config{Mode: auth.ModeEnterprise, Prefix: testPrefix, BaseURL: testBaseURL}
	deps := Dependencies{
		DB:        db,
		Directory: f.dir,
		Tokens:    f.tokens,
		APIKeys:   auth.NewAPIKeyStore(db),
		Hasher:    hasher,
		License:   f.license,
		Resolver:  resolver,
		Engine:    f.engine,
		SSO:       f.registry,
		SSOStore:  sso.NewStorage(db),
		Activity:  audit.NewRecorder(f.activity, logger),
		Logger:    logger,
		Metrics:   metrics,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	f.server = NewServer(cfg, deps)

	if setup {
		f.org, f.admin, err = f.engine.SetupOrganization(ctx, tenant.SetupRequest{
			OrganizationName: "Acme",
			Name:             "Admin",
			Email:            adminEmail,
			Password:         adminPass,
		})
		require.NoError(t, err)
		require.NoError(t, f.roles.CreateRole(ctx, &auth.Role{
			OrganizationID: f.org.ID,
			Name:           "editor",
			Permissions:    "chatflows:view,chatflows:create,workspace:view",
		}))
	}
	return f
}

// do sends an internal request carrying cookies
func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, testPrefix+path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InternalHeader, middleware.InternalHeaderValue)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

// login signs in and returns the session cookies
func (f *apiFixture) login(t *testing.T, email, password string) []*http.Cookie {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookies(rec)
}

// member invites email into ws with role, registers it and returns the user
func (f *apiFixture) member(t *testing.T, email string, ws *auth.Workspace, role string) *auth.User {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.InviteUser(ctx, tenant.InviteRequest{OrganizationID: f.org.ID, Email: email, WorkspaceID: ws.ID, Role: role})
	require.NoError(t, err)
	user, err := f.engine.RegisterUser(ctx, tenant.RegisterRequest{Email: email, Password: "member-pass", Token: f.notifier.invites[email]})
	require.NoError(t, err)
	return user
}

func sessionCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if (c.Name == middleware.TokenCookie || c.Name == middleware.RefreshCookie) && c.Value != "" {
			out = append(out, c)
		}
	}
	return out
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/contextkeys"
	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/observability"
)

type fakeTokens struct {
	users map[string]*auth.LoggedInUser
	err   error
	panic bool
}

func (f *fakeTokens) Authenticate(_ context.Context, token string) (*auth.LoggedInUser, error) {
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[token]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("unknown token: %w", auth.ErrAuthentication)
}

type fakeKeys map[string]*auth.APIKey

func (f fakeKeys) Verify(_ context.Context, key string) (*auth.APIKey, error) {
	if k, ok := f[key]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("unknown key: %w", auth.ErrAuthentication)
}

type fakeLicense bool

func (f fakeLicense) IsValid() bool { return bool(f) }

type gatewayFixture struct {
	gateway *Gateway
	metrics *observability.Metrics
	tokens  *fakeTokens
	seen    *auth.LoggedInUser
	reached bool
}

func newGatewayFixture(t *testing.T, mode auth.DeploymentMode, licenseValid bool, mutate func(*GatewayConfig)) *gatewayFixture {
	t.Helper()
	cfg := GatewayConfig{
		Mode:      mode,
		Prefix:    "/api/v1/",
		Whitelist: DefaultWhitelist([]string{"azure"}),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	tokens := &fakeTokens{users: map[string]*auth.LoggedInUser{
		"good-token": {ID: "user-1", ActiveWorkspaceID: "ws-1"},
	}}
	keys := fakeKeys{"good-key": {ID: "key-1", WorkspaceID: "ws-9"}}
	metrics := observability.NewTestMetrics()
	return &gatewayFixture{
		gateway: NewGateway(cfg, tokens, keys, fakeLicense(licenseValid), observability.NewNopLogger(), metrics),
		metrics: metrics,
		tokens:  tokens,
	}
}

func (f *gatewayFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	f.seen, f.reached = nil, false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.reached = true
		f.seen = GetPrincipal(r)
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	f.gateway.Handler(next).ServeHTTP(rec, req)
	return rec
}

func internalRequest(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(InternalHeader, InternalHeaderValue)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestGateway_Unguarded(t *testing.T) {
	f := newGatewayFixture(t, auth.ModeEnterprise, false, nil)

	for _, path := range []string{"/", "/index.html", "/api/v10/chatflows", "/metrics"} {
		rec := f.serve(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, f.reached, path)
		assert.Nil(t, f.seen, path)
	}
}

func TestGateway_CaseMismatchRejected(t *testing.T) {
	f := newGatewayFixture(t, auth.ModeEnterprise, true, nil)

	for _, path := range []string{"/API/v1/chatflows", "/Api/V1/ping"} {
		rec := f.serve(internalRequest(path, "good-token"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.False(t, f.reached, path)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.GatewayDecisionsTotal.WithLabelValues("case", "rejected")))
}

func TestGateway_Whitelist(t *testing.T) {
	f := newGatewayFixture(t, auth.ModeEnterprise, false, nil)

	for _, path := range []string{
		"/api/v1/auth/login",
		"/api/v1/ping",
		"/api/v1/account/forgot-password/",
		"/api/v1/azure/callback",
	} {
		rec := f.serve(httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Nil(t, f.seen, path)
	}

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/google/callback", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateway_InternalSession(t *testing.T) {
	tests := []struct {
		name    string
		mode    auth.DeploymentMode
		license bool
		token   string
		bearer  string
		status  int
		user    string
	}{
		{name: "enterprise cookie", mode: auth.ModeEnterprise, license: true, token: "good-token", status: http.StatusOK, user: "user-1"},
		{name: "enterprise bearer fallback", mode: auth.ModeEnterprise, license: true, bearer: "good-token", status: http.StatusOK, user: "user-1"},
		{name: "enterprise missing token", mode: auth.ModeEnterprise, license: true, status: http.StatusUnauthorized},
		{name: "enterprise bad token", mode: auth.ModeEnterprise, license: true, token: "nope", status: http.StatusUnauthorized},
		{name: "cloud cookie", mode: auth.ModeCloud, token: "good-token", status: http.StatusOK, user: "user-1"},
		{name: "cloud ignores license", mode: auth.ModeCloud, license: false, token: "good-token", status: http.StatusOK, user: "user-1"},
		{name: "cloud missing token", mode: auth.ModeCloud, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t, tt.mode, tt.license, nil)
			req := internalRequest("/api/v1/chatflows", tt.token)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}

			rec := f.serve(req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.user != "" {
				require.NotNil(t, f.seen)
				assert.Equal(t, tt.user, f.seen.ID)
			} else {
				assert.False(t, f.reached)
			}
		})
	}
}

func TestGateway_InternalLicenseRedirect(t *testing.T) {
	f := newGatewayFixture(t, auth.ModeEnterprise, false, nil)

	rec := f.serve(internalRequest("/api/v1/chatflows", "good-token"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, f.reached)

	body := decodeError(t, rec)
	assert.Equal(t, LicenseExpiredURL, body.RedirectURL)
}

func TestGateway_ExpiredTokenRetryHint(t *testing.T) {
	f := newGatewayFixture(t, auth.ModeEnterprise, true, nil)
	f.tokens.err = fmt.Errorf("jwt: %w", auth.ErrExpiredToken)

	rec := f.serve(internalRequest("/api/v1/chatflows", "expired"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, auth.MsgTokenExpired, body.Message)
	assert.Equal(t, "refresh", body.Retry)
}

func TestGateway_SingleUserBasicAuth(t *testing.T) {
	t.Run("no credentials configured", func(t *testing.T) {
		f := newGatewayFixture(t, auth.ModeSingleUser, false, nil)
		rec := f.serve(internalRequest("/api/v1/chatflows", ""))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, f.reached)
	})

	f := newGatewayFixture(t, auth.ModeSingleUser, false, func(c *GatewayConfig) {
		c.Username = "admin"
		c.Password = "s3cret"
	})

	req := internalRequest("/api/v1/chatflows", "")
	req.SetBasicAuth("admin", "s3cret")
	assert.Equal(t, http.StatusOK, f.serve(req).Code)

	req = internalRequest("/api/v1/chatflows", "")
	req.SetBasicAuth("admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, f.serve(req).Code)

	assert.Equal(t, http.StatusUnauthorized, f.serve(internalRequest("/api/v1/chatflows", "")).Code)
}

func TestGateway_ExternalAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		mode    auth.DeploymentMode
		license bool
		key     string
		status  int
	}{
		{name: "enterprise valid key", mode: auth.ModeEnterprise, license: true, key: "good-key", status: http.StatusOK},
		{name: "enterprise invalid license", mode: auth.ModeEnterprise, license: false, key: "good-key", status: http.StatusUnauthorized},
		{name: "enterprise unknown key", mode: auth.ModeEnterprise, license: true, key: "bad-key", status: http.StatusUnauthorized},
		{name: "enterprise missing key", mode: auth.ModeEnterprise, license: true, status: http.StatusUnauthorized},
		{name: "cloud valid key", mode: auth.ModeCloud, key: "good-key", status: http.StatusOK},
		{name: "single-user valid key", mode: auth.ModeSingleUser, key: "good-key", status: http.StatusOK},
		{name: "single-user missing key", mode: auth.ModeSingleUser, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t, tt.mode, tt.license, nil)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/prediction/abc", nil)
			if tt.key != "" {
				req.Header.Set("Authorization", "Bearer "+tt.key)
			}

			rec := f.serve(req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.NotNil(t, f.seen)
				assert.True(t, f.seen.IsAPIKeyValidated)
				assert.Equal(t, "ws-9", f.seen.ActiveWorkspaceID)
			} else {
				assert.False(t, f.reached)
				assert.Empty(t, decodeError(t, rec).RedirectURL)
			}
		})
	}
}

func TestGateway_PanicIsRejection(t *testing.T) {
	f := newGatewayFixture(t, auth.ModeEnterprise, true, nil)
	f.tokens.panic = true

	rec := f.serve(internalRequest("/api/v1/chatflows", "good-token"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, f.reached)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GatewayDecisionsTotal.WithLabelValues("panic", "rejected")))
}

func TestGateway_AttachesUserID(t *testing.T) {
	f := newGatewayFixture(t, auth.ModeEnterprise, true, nil)

	var userID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = contextkeys.GetUserID(r.Context())
	})
	f.gateway.Handler(next).ServeHTTP(httptest.NewRecorder(), internalRequest("/api/v1/chatflows", "good-token"))
	assert.Equal(t, "user-1", userID)
}

func TestWithPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetPrincipal(req))

	req = WithPrincipal(req, &auth.LoggedInUser{ID: "u"})
	require.NotNil(t, GetPrincipal(req))
	assert.Equal(t, "u", GetPrincipal(req).ID)
}

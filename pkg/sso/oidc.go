package sso

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

// OIDCAdapter implements the azure, google and auth0 providers over OpenID Connect
type OIDCAdapter struct {
	baseAdapter

	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCAdapter creates an uninitialized OIDC adapter
func NewOIDCAdapter(name ProviderName, cfg ProviderConfig, callback string) *OIDCAdapter {
	return &OIDCAdapter{baseAdapter: baseAdapter{name: name, callback: callback, cfg: cfg}}
}

// issuerURL resolves the discovery issuer for the provider
func issuerURL(name ProviderName, cfg ProviderConfig) (string, error) {
	if cfg.IssuerURL != "" {
		return cfg.IssuerURL, nil
	}
	switch name {
	case ProviderAzure:
		tenant := cfg.TenantID
		if tenant == "" {
			tenant = "common"
		}
		return fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenant), nil
	case ProviderGoogle:
		return "https://accounts.google.com", nil
	case ProviderAuth0:
		if cfg.Domain == "" {
			return "", fmt.Errorf("%w: auth0 domain is required", auth.ErrConfiguration)
		}
		domain := strings.TrimSuffix(strings.TrimPrefix(cfg.Domain, "https://"), "/")
		return "https://" + domain + "/", nil
	default:
		return "", fmt.Errorf("%w: %s is not an OIDC provider", auth.ErrConfiguration, name)
	}
}

func defaultScopes(name ProviderName) []string {
	scopes := []string{oidc.ScopeOpenID, "profile", "email"}
	if name != ProviderGoogle {
		scopes = append(scopes, oidc.ScopeOfflineAccess)
	}
	return scopes
}

// Initialize runs discovery when enabled
func (a *OIDCAdapter) Initialize(ctx context.Context) error {
	cfg := a.Config()
	if !cfg.Enabled {
		return nil
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("%w: %s client id is required", auth.ErrConfiguration, a.name)
	}
	issuer, err := issuerURL(a.name, cfg)
	if err != nil {
		return err
	}

	// the multi-tenant azure endpoint advertises a templated issuer
	skipIssuer := a.name == ProviderAzure && (cfg.TenantID == "" || cfg.TenantID == "common")
	if skipIssuer {
		ctx = oidc.InsecureIssuerURLContext(ctx, issuer)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return fmt.Errorf("failed to discover %s: %w", a.name, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes(a.name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.provider = provider
	a.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID, SkipIssuerCheck: skipIssuer})
	a.oauth2Config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  a.redirectURLLocked(),
		Scopes:       scopes,
	}
	return nil
}

func (a *OIDCAdapter) redirectURLLocked() string {
	if a.cfg.RedirectURL != "" {
		return a.cfg.RedirectURL
	}
	return a.callback
}

func (a *OIDCAdapter) clients() (*oauth2.Config, *oidc.IDTokenVerifier, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.cfg.Enabled {
		return nil, nil, ErrDisabled
	}
	if a.oauth2Config == nil {
		return nil, nil, fmt.Errorf("%w: %s is not initialized", auth.ErrConfiguration, a.name)
	}
	return a.oauth2Config, a.verifier, nil
}

// LoginURL returns the authorization endpoint URL
func (a *OIDCAdapter) LoginURL(state string) (string, error) {
	oc, _, err := a.clients()
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// RefreshToken exchanges an upstream refresh token
func (a *OIDCAdapter) RefreshToken(ctx context.Context, refreshToken string) (*auth.SSOTokens, error) {
	oc, _, err := a.clients()
	if err != nil {
		return nil, err
	}
	return refreshOAuth2(ctx, oc, refreshToken)
}

// HandleCallback exchanges the code and verifies the ID token
func (a *OIDCAdapter) HandleCallback(ctx context.Context, r *http.Request) (*SSOUser, error) {
	oc, verifier, err := a.clients()
	if err != nil {
		return nil, err
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", auth.ErrAuthentication)
	}

	token, err := oc.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange token: %v", auth.ErrAuthentication, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing id_token in response", auth.ErrAuthentication)
	}

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify ID token: %v", auth.ErrAuthentication, err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	user := &SSOUser{
		ExternalID:   idToken.Subject,
		Email:        stringClaim(claims, "email"),
		Name:         stringClaim(claims, "name"),
		Provider:     a.name,
		Attributes:   make(map[string]string),
		AccessToken:  token.AccessToken,
		IDToken:      rawIDToken,
		RefreshToken: token.RefreshToken,
	}
	for k, v := range claims {
		if s, ok := v.(string); ok {
			user.Attributes[k] = s
		}
	}

	// azure work accounts often carry the address only in preferred_username
	if user.Email == "" {
		user.Email = stringClaim(claims, "preferred_username")
	}
	if user.Email == "" {
		return nil, fmt.Errorf("%w: missing email in %s token", auth.ErrAuthentication, a.name)
	}
	return user, nil
}

// refreshOAuth2 forces a refresh grant by presenting an already-expired token
func refreshOAuth2(ctx context.Context, oc *oauth2.Config, refreshToken string) (*auth.SSOTokens, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh token", auth.ErrAuthentication)
	}
	token, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh grant failed: %w", err)
	}

	out := &auth.SSOTokens{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if id, ok := token.Extra("id_token").(string); ok {
		out.IDToken = id
	}
	return out, nil
}

package sso

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ProviderName identifies an external identity provider. One adapter exists per name.
type ProviderName string

const (
	ProviderAzure  ProviderName = "azure"
	ProviderGoogle ProviderName = "google"
	ProviderAuth0  ProviderName = "auth0"
	ProviderGithub ProviderName = "github"
	ProviderSAML   ProviderName = "saml"
)

// KnownProviders lists every provider name the registry reconciles
func KnownProviders() []ProviderName {
	return []ProviderName{ProviderAzure, ProviderGoogle, ProviderAuth0, ProviderGithub, ProviderSAML}
}

// ParseProviderName validates s against KnownProviders
func ParseProviderName(s string) (ProviderName, error) {
	for _, p := range KnownProviders() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown sso provider %q", s)
}

// ProviderConfig is the persisted configuration of one provider
type ProviderConfig struct {
	Enabled      bool     `json:"enabled"`
	ClientID     string   `json:"clientID,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	TenantID     string   `json:"tenantID,omitempty"` // azure
	Domain       string   `json:"domain,omitempty"`   // auth0
	IssuerURL    string   `json:"issuerURL,omitempty"`
	AuthURL      string   `json:"authURL,omitempty"`
	TokenURL     string   `json:"tokenURL,omitempty"`
	UserInfoURL  string   `json:"userInfoURL,omitempty"`
	RedirectURL  string   `json:"redirectURL,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`

	SAML *SAMLConfig `json:"saml,omitempty"`
}

// Sanitized returns a copy with secrets removed, for API responses
func (c ProviderConfig) Sanitized() ProviderConfig {
	if c.ClientSecret != "" {
		c.ClientSecret = "********"
	}
	if c.SAML != nil {
		saml := *c.SAML
		saml.PrivateKey = ""
		c.SAML = &saml
	}
	return c
}

// SAMLConfig holds SAML 2.0 configuration
type SAMLConfig struct {
	EntityID    string `json:"entityID"`
	SSOURL      string `json:"ssoURL"`
	Certificate string `json:"certificate"` // PEM encoded IdP certificate
	// service provider key pair, advertised in metadata and used to sign requests
	SPCertificate string `json:"spCertificate,omitempty"`
	PrivateKey    string `json:"privateKey,omitempty"`
	SignRequests  bool   `json:"signRequests,omitempty"`
	NameIDFormat  string `json:"nameIDFormat,omitempty"`
	EmailAttr     string `json:"emailAttribute,omitempty"`
	NameAttr      string `json:"nameAttribute,omitempty"`
}

// Config is the organization's SSO configuration, stored as JSON on the organization row
type Config struct {
	Providers map[ProviderName]ProviderConfig `json:"providers"`
}

// Provider returns the configuration for name and whether it is present
func (c *Config) Provider(name ProviderName) (ProviderConfig, bool) {
	if c == nil || c.Providers == nil {
		return ProviderConfig{}, false
	}
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// Enabled lists providers present and enabled, sorted
func (c *Config) Enabled() []ProviderName {
	var out []ProviderName
	if c == nil {
		return out
	}
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sanitized returns a copy safe for API responses
func (c *Config) Sanitized() *Config {
	out := &Config{Providers: make(map[ProviderName]ProviderConfig, len(c.Providers))}
	for name, cfg := range c.Providers {
		out.Providers[name] = cfg.Sanitized()
	}
	return out
}

// ParseConfig decodes the organization SSO column. Empty input is an empty config.
func ParseConfig(raw []byte) (*Config, error) {
	cfg := &Config{Providers: map[ProviderName]ProviderConfig{}}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode sso config: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[ProviderName]ProviderConfig{}
	}
	for name := range cfg.Providers {
		if _, err := ParseProviderName(string(name)); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// SSOUser is the identity returned by a provider callback
type SSOUser struct {
	ExternalID string            `json:"externalId"`
	Email      string            `json:"email"`
	Name       string            `json:"name,omitempty"`
	Provider   ProviderName      `json:"provider"`
	Attributes map[string]string `json:"attributes,omitempty"`

	AccessToken  string `json:"-"`
	IDToken      string `json:"-"`
	RefreshToken string `json:"-"`
}

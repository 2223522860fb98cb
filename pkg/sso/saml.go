package sso

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"net/http"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

// SAMLAdapter implements the saml provider. SAML has no refresh grant.
type SAMLAdapter struct {
	baseAdapter

	entityID string
	sp       *saml2.SAMLServiceProvider
}

// NewSAMLAdapter creates an uninitialized SAML adapter. entityID identifies this service provider.
func NewSAMLAdapter(cfg ProviderConfig, entityID, callback string) *SAMLAdapter {
	return &SAMLAdapter{
		baseAdapter: baseAdapter{name: ProviderSAML, callback: callback, cfg: cfg},
		entityID:    entityID,
	}
}

// Initialize parses the IdP certificate and optional SP key
func (a *SAMLAdapter) Initialize(context.Context) error {
	cfg := a.Config()
	if !cfg.Enabled {
		return nil
	}
	if cfg.SAML == nil {
		return fmt.Errorf("%w: saml config is required", auth.ErrConfiguration)
	}
	if cfg.SAML.SSOURL == "" || cfg.SAML.EntityID == "" {
		return fmt.Errorf("%w: saml entity id and sso url are required", auth.ErrConfiguration)
	}

	cert, err := parseCertificate(cfg.SAML.Certificate)
	if err != nil {
		return err
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.SAML.SSOURL,
		IdentityProviderIssuer:      cfg.SAML.EntityID,
		ServiceProviderIssuer:       a.entityID,
		AssertionConsumerServiceURL: a.redirectURL(),
		SignAuthnRequests:           cfg.SAML.SignRequests,
		AudienceURI:                 a.entityID,
		IDPCertificateStore:         &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{cert}},
	}
	if cfg.SAML.NameIDFormat != "" {
		sp.NameIdFormat = cfg.SAML.NameIDFormat
	}
	if cfg.SAML.PrivateKey != "" || cfg.SAML.SPCertificate != "" {
		keyStore, err := spKeyStore(cfg.SAML.SPCertificate, cfg.SAML.PrivateKey)
		if err != nil {
			return err
		}
		sp.SPKeyStore = keyStore
	} else if cfg.SAML.SignRequests {
		return fmt.Errorf("%w: signing requests requires an SP key pair", auth.ErrConfiguration)
	}

	a.mu.Lock()
	a.sp = sp
	a.mu.Unlock()
	return nil
}

// spKeyStore pairs the service provider certificate with its private key
func spKeyStore(certPEM, keyPEM string) (dsig.X509KeyStore, error) {
	if certPEM == "" || keyPEM == "" {
		return nil, fmt.Errorf("%w: saml SP certificate and private key must be set together", auth.ErrConfiguration)
	}
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return nil, fmt.Errorf("%w: saml SP private key does not match its certificate", auth.ErrConfiguration)
	}
	keyStore := dsig.TLSCertKeyStore(tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
	})
	return &keyStore, nil
}

func parseCertificate(raw string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode certificate PEM", auth.ErrConfiguration)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse certificate: %v", auth.ErrConfiguration, err)
	}
	return cert, nil
}

func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode private key PEM", auth.ErrConfiguration)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse private key: %v", auth.ErrConfiguration, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", auth.ErrConfiguration)
	}
	return key, nil
}

func (a *SAMLAdapter) serviceProvider() (*saml2.SAMLServiceProvider, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.cfg.Enabled {
		return nil, ErrDisabled
	}
	if a.sp == nil {
		return nil, fmt.Errorf("%w: saml is not initialized", auth.ErrConfiguration)
	}
	return a.sp, nil
}

// LoginURL builds the redirect-binding AuthnRequest URL with state as RelayState
func (a *SAMLAdapter) LoginURL(state string) (string, error) {
	sp, err := a.serviceProvider()
	if err != nil {
		return "", err
	}
	return sp.BuildAuthURL(state)
}

// RefreshToken always fails; SAML sessions end with the assertion
func (a *SAMLAdapter) RefreshToken(context.Context, string) (*auth.SSOTokens, error) {
	return nil, ErrRefreshUnsupported
}

// HandleCallback validates the posted assertion
func (a *SAMLAdapter) HandleCallback(_ context.Context, r *http.Request) (*SSOUser, error) {
	sp, err := a.serviceProvider()
	if err != nil {
		return nil, err
	}
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: failed to parse form: %v", auth.ErrAuthentication, err)
	}

	// RetrieveAssertionInfo expects the base64 form value as posted
	encoded := r.FormValue("SAMLResponse")
	if encoded == "" {
		return nil, fmt.Errorf("%w: missing SAMLResponse parameter", auth.ErrAuthentication)
	}

	info, err := sp.RetrieveAssertionInfo(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to validate assertion: %v", auth.ErrAuthentication, err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, fmt.Errorf("%w: assertion has invalid time", auth.ErrAuthentication)
		}
		if info.WarningInfo.NotInAudience {
			return nil, fmt.Errorf("%w: assertion not in expected audience", auth.ErrAuthentication)
		}
	}

	cfg := a.Config().SAML
	emailAttr, nameAttr := "email", "name"
	if cfg != nil && cfg.EmailAttr != "" {
		emailAttr = cfg.EmailAttr
	}
	if cfg != nil && cfg.NameAttr != "" {
		nameAttr = cfg.NameAttr
	}

	user := &SSOUser{
		ExternalID: info.NameID,
		Provider:   ProviderSAML,
		Attributes: make(map[string]string),
	}
	for name, attr := range info.Values {
		if len(attr.Values) == 0 {
			continue
		}
		user.Attributes[name] = attr.Values[0].Value
	}
	user.Email = user.Attributes[emailAttr]
	user.Name = user.Attributes[nameAttr]
	if user.Email == "" {
		user.Email = info.NameID
	}
	if user.ExternalID == "" || user.Email == "" {
		return nil, fmt.Errorf("%w: missing identity in SAML assertion", auth.ErrAuthentication)
	}
	return user, nil
}

// Metadata returns the service provider metadata document
func (a *SAMLAdapter) Metadata() ([]byte, error) {
	sp, err := a.serviceProvider()
	if err != nil {
		return nil, err
	}
	if sp.SPKeyStore == nil {
		return nil, fmt.Errorf("%w: saml metadata requires an SP key pair", auth.ErrConfiguration)
	}
	md, err := sp.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata: %w", err)
	}
	return xml.MarshalIndent(md, "", "  ")
}

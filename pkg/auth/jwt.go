package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetimes
const (
	DefaultAccessExpiry  = 60 * time.Minute
	DefaultRefreshExpiry = 7 * 24 * time.Hour
)

// TokenKind distinguishes the two bearer token families
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// TokenConfig holds the per-deployment token settings
type TokenConfig struct {
	Audience      string
	Issuer        string
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	MetaSecret    string
}

// SessionEpoch is folded into the access-token signing key. A random epoch invalidates every
// access token issued by a previous process; a zero epoch keeps tokens valid across restarts.
type SessionEpoch []byte

// NewRandomSessionEpoch returns a fresh 32-byte epoch
func NewRandomSessionEpoch() (SessionEpoch, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate session epoch: %w", err)
	}
	return SessionEpoch(b), nil
}

func (e SessionEpoch) key(secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(e)
	return mac.Sum(nil)
}

// SSORefresher exchanges an upstream refresh token for a new token set.
// Implemented by sso.Registry.
type SSORefresher interface {
	Refresh(ctx context.Context, provider string, refreshToken string) (*SSOTokens, error)
}

// Claims is the bearer token payload: {id, username, meta} plus registered claims
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Meta     string `json:"meta"`
	jwt.RegisteredClaims
}

// TokenResult is the outcome of a refresh exchange
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	User         *LoggedInUser
	// SSO is set when the upstream provider issued a new pair
	SSO *SSOTokens
}

// TokenService issues and validates access and refresh tokens
type TokenService struct {
	cfg       TokenConfig
	accessKey []byte
	sealer    *MetaSealer
	sessions  SessionStore
	refresher SSORefresher
	now       func() time.Time
}

// TokenServiceOption configures a TokenService
type TokenServiceOption func(*TokenService)

// WithSSORefresher enables upstream refresh delegation
func WithSSORefresher(r SSORefresher) TokenServiceOption {
	return func(s *TokenService) { s.refresher = r }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService creates a token service. Both secrets and the meta secret are required.
func NewTokenService(cfg TokenConfig, epoch SessionEpoch, sessions SessionStore, opts ...TokenServiceOption) (*TokenService, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("%w: access and refresh secrets are required", ErrConfiguration)
	}
	sealer, err := NewMetaSealer(cfg.MetaSecret)
	if err != nil {
		return nil, err
	}
	if cfg.AccessExpiry <= 0 {
		cfg.AccessExpiry = DefaultAccessExpiry
	}
	if cfg.RefreshExpiry <= 0 {
		cfg.RefreshExpiry = DefaultRefreshExpiry
	}

	s := &TokenService{
		cfg:       cfg,
		accessKey: epoch.key(cfg.AccessSecret),
		sealer:    sealer,
		sessions:  sessions,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sessions returns the backing session store
func (s *TokenService) Sessions() SessionStore {
	return s.sessions
}

// AccessExpiry returns the configured default access lifetime
func (s *TokenService) AccessExpiry() time.Duration { return s.cfg.AccessExpiry }

// RefreshExpiry returns the configured refresh lifetime
func (s *TokenService) RefreshExpiry() time.Duration { return s.cfg.RefreshExpiry }

func (s *TokenService) key(kind TokenKind) []byte {
	if kind == RefreshToken {
		return []byte(s.cfg.RefreshSecret)
	}
	return s.accessKey
}

// IssueAccess mints an access token. When the principal carries an SSO token its expiry
// bounds the access token's lifetime.
func (s *TokenService) IssueAccess(user *LoggedInUser) (string, error) {
	ttl := s.cfg.AccessExpiry
	if user.SSOToken != "" {
		if exp, ok := upstreamExpiry(user.SSOToken); ok {
			ttl = exp.Sub(s.now())
			if ttl < 0 {
				ttl = 0
			}
		}
	}
	return s.issue(AccessToken, user, ttl)
}

// IssueRefresh mints a refresh token
func (s *TokenService) IssueRefresh(user *LoggedInUser) (string, error) {
	return s.issue(RefreshToken, user, s.cfg.RefreshExpiry)
}

func (s *TokenService) issue(kind TokenKind, user *LoggedInUser, ttl time.Duration) (string, error) {
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("%w: token requires a user id", ErrValidation)
	}
	meta, err := s.sealer.Seal(Meta{
		UserID:            user.ID,
		ActiveWorkspaceID: user.ActiveWorkspaceID,
		Role:              user.Role,
		LoginMode:         user.LoginMode,
	})
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := Claims{
		UserID:   user.ID,
		Username: user.Name,
		Meta:     meta,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key(kind))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Validate checks signature, audience, issuer and expiry. An expired but authentic token
// yields ErrExpiredToken; anything else yields ErrAuthentication.
func (s *TokenService) Validate(kind TokenKind, token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing %s token", ErrAuthentication, kind)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.key(kind), nil
	})
	if err != nil {
		// the signature is verified before claims, so expiry here implies authenticity
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %s token", ErrExpiredToken, kind)
		}
		return nil, fmt.Errorf("%w: invalid %s token: %v", ErrAuthentication, kind, err)
	}
	return claims, nil
}

// OpenMeta decrypts the metadata of validated claims
func (s *TokenService) OpenMeta(claims *Claims) (*Meta, error) {
	meta, err := s.sealer.Open(claims.Meta)
	if err != nil {
		return nil, err
	}
	if meta.UserID != claims.UserID {
		return nil, fmt.Errorf("%w: meta does not match token subject", ErrAuthentication)
	}
	return meta, nil
}

// Authenticate validates an access token and loads the principal from the session store.
// A missing session falls back to the sealed metadata.
func (s *TokenService) Authenticate(ctx context.Context, token string) (*LoggedInUser, error) {
	claims, err := s.Validate(AccessToken, token)
	if err != nil {
		return nil, err
	}
	meta, err := s.OpenMeta(claims)
	if err != nil {
		return nil, err
	}
	return s.principal(ctx, claims, meta)
}

func (s *TokenService) principal(ctx context.Context, claims *Claims, meta *Meta) (*LoggedInUser, error) {
	user, err := s.sessions.Get(ctx, meta.UserID)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, ErrNotFound):
		return &LoggedInUser{
			ID:                meta.UserID,
			Name:              claims.Username,
			ActiveWorkspaceID: meta.ActiveWorkspaceID,
			Role:              meta.Role,
			LoginMode:         meta.LoginMode,
		}, nil
	default:
		return nil, err
	}
}

// Refresh exchanges a refresh token for a new access token. When the bound principal has an
// upstream SSO refresh token the provider is asked first, and any provider error fails the
// whole exchange as expired. The refresh token is reused unless regenerate is set.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string, regenerate bool) (*TokenResult, error) {
	claims, err := s.Validate(RefreshToken, refreshToken)
	if err != nil {
		return nil, err
	}
	meta, err := s.OpenMeta(claims)
	if err != nil {
		return nil, err
	}
	user, err := s.principal(ctx, claims, meta)
	if err != nil {
		return nil, err
	}

	result := &TokenResult{RefreshToken: refreshToken, User: user}

	if user.SSORefreshToken != "" && s.refresher != nil {
		tokens, err := s.refresher.Refresh(ctx, user.SSOProvider, user.SSORefreshToken)
		if err != nil {
			return nil, fmt.Errorf("%w: upstream refresh failed: %v", ErrExpiredToken, err)
		}
		user.SSOToken = tokens.SessionToken()
		if tokens.RefreshToken != "" {
			user.SSORefreshToken = tokens.RefreshToken
		}
		if err := s.sessions.Save(ctx, user); err != nil {
			return nil, err
		}
		result.SSO = tokens
	}

	if result.AccessToken, err = s.IssueAccess(user); err != nil {
		return nil, err
	}
	if regenerate {
		if result.RefreshToken, err = s.IssueRefresh(user); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// upstreamExpiry reads the exp claim of an SSO token without verifying it. The provider
// already authenticated the token; only its lifetime is needed.
func upstreamExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

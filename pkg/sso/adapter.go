package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

// ErrRefreshUnsupported is returned by adapters whose protocol has no refresh grant
var ErrRefreshUnsupported = errors.New("provider does not support token refresh")

// ErrDisabled is returned when a disabled adapter is asked to act
var ErrDisabled = errors.New("provider is disabled")

// Adapter is the contract every identity provider variant implements
type Adapter interface {
	Name() ProviderName
	// Initialize performs discovery and builds protocol clients. A disabled adapter
	// initializes to a no-op.
	Initialize(ctx context.Context) error
	Config() ProviderConfig
	// SetConfig replaces the live configuration in place
	SetConfig(cfg ProviderConfig)
	RefreshToken(ctx context.Context, refreshToken string) (*auth.SSOTokens, error)
	LoginURL(state string) (string, error)
	HandleCallback(ctx context.Context, r *http.Request) (*SSOUser, error)
}

// Factory constructs an adapter for name
type Factory func(name ProviderName, cfg ProviderConfig) (Adapter, error)

// NewFactory returns the default factory. callbackBase is the public URL prefix under which
// /{provider}/callback is served.
func NewFactory(callbackBase string) Factory {
	callbackBase = strings.TrimSuffix(callbackBase, "/")
	return func(name ProviderName, cfg ProviderConfig) (Adapter, error) {
		callback := fmt.Sprintf("%s/%s/callback", callbackBase, name)
		switch name {
		case ProviderAzure, ProviderGoogle, ProviderAuth0:
			return NewOIDCAdapter(name, cfg, callback), nil
		case ProviderGithub:
			return NewGithubAdapter(cfg, callback), nil
		case ProviderSAML:
			return NewSAMLAdapter(cfg, callbackBase, callback), nil
		default:
			return nil, fmt.Errorf("%w: unsupported sso provider %q", auth.ErrConfiguration, name)
		}
	}
}

// baseAdapter carries the live config shared by every variant
type baseAdapter struct {
	name     ProviderName
	callback string

	mu  sync.RWMutex
	cfg ProviderConfig
}

func (b *baseAdapter) Name() ProviderName { return b.name }

func (b *baseAdapter) Config() ProviderConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *baseAdapter) SetConfig(cfg ProviderConfig) {
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

func (b *baseAdapter) redirectURL() string {
	if cfg := b.Config(); cfg.RedirectURL != "" {
		return cfg.RedirectURL
	}
	return b.callback
}

func stringClaim(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

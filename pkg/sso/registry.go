package sso

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/observability"
)

// DefaultRefreshTimeout bounds an upstream refresh call
const DefaultRefreshTimeout = 10 * time.Second

// Registry owns at most one live adapter per provider name. Adapters are never removed;
// disabling a provider flips its live config.
type Registry struct {
	// ensureMu serializes reconciliation; mu guards the map for readers
	ensureMu sync.Mutex
	mu       sync.RWMutex
	adapters map[ProviderName]Adapter

	factory        Factory
	logger         *observability.Logger
	metrics        *observability.Metrics
	refreshTimeout time.Duration
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Registry{
		adapters:       make(map[ProviderName]Adapter),
		factory:        factory,
		logger:         logger.WithField("component", "sso"),
		metrics:        metrics,
		refreshTimeout: DefaultRefreshTimeout,
	}
}

// Get returns the adapter registered for name
func (r *Registry) Get(name ProviderName) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists registered provider names, sorted
func (r *Registry) Names() []ProviderName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]ProviderName, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Enabled returns the adapter for name if it is registered and enabled
func (r *Registry) Enabled(name ProviderName) (Adapter, error) {
	a, ok := r.Get(name)
	if !ok || !a.Config().Enabled {
		return nil, fmt.Errorf("sso provider %s: %w", name, auth.ErrNotFound)
	}
	return a, nil
}

// Ensure brings the adapter for name in line with cfg. It is a no-op when the live enabled
// flag already matches; a flag change updates the live adapter in place; an absent adapter
// is constructed, initialized and registered. An adapter that fails to initialize is kept
// registered but disabled so the next reconciliation retries it.
//
// Other fields of cfg only reach an existing adapter when its enabled flag flips, so new
// credentials for an already enabled provider take effect after a disable/enable cycle.
func (r *Registry) Ensure(ctx context.Context, name ProviderName, cfg ProviderConfig) (Adapter, error) {
	r.ensureMu.Lock()
	defer r.ensureMu.Unlock()

	if a, ok := r.Get(name); ok {
		if a.Config().Enabled == cfg.Enabled {
			return a, nil
		}
		a.SetConfig(cfg)
		if err := a.Initialize(ctx); err != nil {
			cfg.Enabled = false
			a.SetConfig(cfg)
			return a, fmt.Errorf("failed to enable %s: %w", name, err)
		}
		return a, nil
	}

	a, err := r.factory(name, cfg)
	if err != nil {
		return nil, err
	}
	initErr := a.Initialize(ctx)
	if initErr != nil {
		cfg.Enabled = false
		a.SetConfig(cfg)
		initErr = fmt.Errorf("failed to initialize %s: %w", name, initErr)
	}

	r.mu.Lock()
	r.adapters[name] = a
	n := len(r.adapters)
	r.mu.Unlock()
	r.metrics.SetSSOAdapters(n)

	return a, initErr
}

// Reconcile ensures every enabled provider in cfg is enabled and every other known provider
// is disabled. Failures disable only the affected provider; they are logged and joined.
func (r *Registry) Reconcile(ctx context.Context, cfg *Config) error {
	var errs []error
	for _, name := range KnownProviders() {
		desired, ok := cfg.Provider(name)
		if !ok {
			desired = ProviderConfig{}
		}

		if _, err := r.Ensure(ctx, name, desired); err != nil {
			r.logger.WithError(err).WithField("provider", string(name)).Warn("SSO provider disabled")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh delegates an upstream refresh to the named adapter. An unregistered or disabled
// provider yields ErrNotFound. Implements auth.SSORefresher.
func (r *Registry) Refresh(ctx context.Context, provider string, refreshToken string) (*auth.SSOTokens, error) {
	name := ProviderName(provider)
	a, err := r.Enabled(name)
	if err != nil {
		r.metrics.RecordSSORefresh(provider, "not_found")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.refreshTimeout)
	defer cancel()

	tokens, err := a.RefreshToken(ctx, refreshToken)
	if err != nil {
		r.metrics.RecordSSORefresh(provider, "error")
		r.logger.WithError(err).WithField("provider", provider).Warn("SSO token refresh failed")
		return nil, err
	}
	r.metrics.RecordSSORefresh(provider, "success")
	return tokens, nil
}

package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

// Storage persists the organization SSO configuration
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new SSO storage
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Load returns the SSO configuration of orgID
func (s *Storage) Load(ctx context.Context, orgID string) (*Config, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT sso_config FROM organization WHERE id = $1`, orgID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", orgID, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sso config: %w", err)
	}
	return ParseConfig([]byte(raw.String))
}

// Save replaces the SSO configuration of orgID
func (s *Storage) Save(ctx context.Context, orgID string, cfg *Config) error {
	for name := range cfg.Providers {
		if _, err := ParseProviderName(string(name)); err != nil {
			return fmt.Errorf("%w: %v", auth.ErrValidation, err)
		}
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode sso config: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE organization SET sso_config = $1, updated_at = $2 WHERE id = $3`,
		string(raw), time.Now().UTC(), orgID)
	if err != nil {
		return fmt.Errorf("failed to save sso config: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("organization %s: %w", orgID, auth.ErrNotFound)
	}
	return nil
}

// Merge overlays update on current. Masked or empty secrets keep the stored value.
func Merge(current, update *Config) *Config {
	out := &Config{Providers: make(map[ProviderName]ProviderConfig, len(update.Providers))}
	for name, cfg := range update.Providers {
		prev, ok := current.Provider(name)
		if ok {
			if cfg.ClientSecret == "" || cfg.ClientSecret == "********" {
				cfg.ClientSecret = prev.ClientSecret
			}
			if cfg.SAML != nil && prev.SAML != nil && cfg.SAML.PrivateKey == "" {
				saml := *cfg.SAML
				saml.PrivateKey = prev.SAML.PrivateKey
				cfg.SAML = &saml
			}
		}
		out.Providers[name] = cfg
	}
	return out
}

package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

// Store reads and writes organizations, users, workspaces and memberships.
// A Store bound to a transaction (see WithTx) runs every statement inside it.
type Store struct {
	q   Querier
	now func() time.Time
}

// NewStore creates a store over db
func NewStore(db *sql.DB) *Store {
	return &Store{q: db, now: time.Now}
}

// WithTx returns a copy of the store whose statements run inside tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{q: tx, now: s.now}
}

// SetClock overrides the time source. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func newID() string {
	return uuid.New().String()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

// CreateOrganization inserts org, assigning an ID when empty
func (s *Store) CreateOrganization(ctx context.Context, org *auth.Organization) error {
	if org.ID == "" {
		org.ID = newID()
	}
	now := s.timestamp()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO organization (id, name, admin_user_id, default_workspace_id, sso_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		org.ID, org.Name, nullString(org.AdminUserID), nullString(org.DefaultWorkspaceID),
		nullString(string(org.SSOConfig)), now, now)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	org.CreatedAt, org.UpdatedAt = now, now
	return nil
}

const orgColumns = `id, name, admin_user_id, default_workspace_id, sso_config, created_at, updated_at`

func scanOrganization(row interface{ Scan(...interface{}) error }) (*auth.Organization, error) {
	org := &auth.Organization{}
	var admin, defaultWS, ssoConfig sql.NullString
	if err := row.Scan(&org.ID, &org.Name, &admin, &defaultWS, &ssoConfig, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}
	org.AdminUserID = admin.String
	org.DefaultWorkspaceID = defaultWS.String
	if ssoConfig.Valid {
		org.SSOConfig = []byte(ssoConfig.String)
	}
	return org, nil
}

// GetOrganization retrieves an organization by ID
func (s *Store) GetOrganization(ctx context.Context, id string) (*auth.Organization, error) {
	org, err := scanOrganization(s.q.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organization WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", id, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// FirstOrganization returns the oldest organization. Self-hosted deployments run exactly one.
func (s *Store) FirstOrganization(ctx context.Context) (*auth.Organization, error) {
	org, err := scanOrganization(s.q.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organization ORDER BY created_at ASC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization: %w", auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// OrganizationForWorkspace returns the organization owning workspaceID
func (s *Store) OrganizationForWorkspace(ctx context.Context, workspaceID string) (*auth.Organization, error) {
	org, err := scanOrganization(s.q.QueryRowContext(ctx, `
		SELECT o.id, o.name, o.admin_user_id, o.default_workspace_id, o.sso_config, o.created_at, o.updated_at
		FROM organization o JOIN workspace w ON w.organization_id = o.id
		WHERE w.id = $1`, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization for workspace %s: %w", workspaceID, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// SetOrganizationDefaults records the admin user and default workspace
func (s *Store) SetOrganizationDefaults(ctx context.Context, orgID, adminUserID, defaultWorkspaceID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE organization SET admin_user_id = $1, default_workspace_id = $2, updated_at = $3 WHERE id = $4`,
		adminUserID, defaultWorkspaceID, s.timestamp(), orgID)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

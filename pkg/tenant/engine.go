package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
)

const (
	DefaultInviteExpiry = 24 * time.Hour
	DefaultResetExpiry  = 15 * time.Minute

	// DefaultWorkspaceName names the workspace created with an organization
	DefaultWorkspaceName = "Default Workspace"
)

// Config holds the token windows of the account flows
type Config struct {
	InviteExpiry time.Duration
	ResetExpiry  time.Duration
	// BaseURL prefixes the links handed to the Notifier
	BaseURL string
}

// RoleLookup resolves a custom role of an organization
type RoleLookup interface {
	GetRoleByName(ctx context.Context, orgID, name string) (*auth.Role, error)
}

// Engine performs the multi-entity mutations of the tenant model. Each public operation
// either commits completely or leaves the database untouched.
type Engine struct {
	db        *sql.DB
	dir       *orgs.Store
	resources *ResourceRegistry
	roles     RoleLookup
	hasher    *auth.PasswordHasher
	tokens    *auth.TokenGenerator
	notifier  Notifier
	cfg       Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewEngine creates an engine. A nil notifier selects LogNotifier.
func NewEngine(db *sql.DB, dir *orgs.Store, resources *ResourceRegistry, roles RoleLookup, hasher *auth.PasswordHasher, notifier Notifier, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	if cfg.InviteExpiry <= 0 {
		cfg.InviteExpiry = DefaultInviteExpiry
	}
	if cfg.ResetExpiry <= 0 {
		cfg.ResetExpiry = DefaultResetExpiry
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if resources == nil {
		resources = DefaultResources()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Engine{
		db:        db,
		dir:       dir,
		resources: resources,
		roles:     roles,
		hasher:    hasher,
		tokens:    auth.NewTempTokenGenerator(),
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.dir.SetClock(now)
}

// Resources returns the owned resource registry
func (e *Engine) Resources() *ResourceRegistry {
	return e.resources
}

// inTx runs fn against a store bound to one transaction. Client errors (validation, not
// found, conflict, forbidden) pass through unchanged; anything else is reported as
// ErrConsistency. Either way nothing is committed.
func (e *Engine) inTx(ctx context.Context, op string, fn func(tx *orgs.Store) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, auth.ErrConsistency, err)
	}
	defer tx.Rollback()

	if err := fn(e.dir.WithTx(tx)); err != nil {
		if isClientError(err) {
			return err
		}
		e.logger.WithError(err).WithField("operation", op).Error("Transaction rolled back")
		return fmt.Errorf("%s: %w: %w", op, auth.ErrConsistency, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, auth.ErrConsistency, err)
	}
	return nil
}

func isClientError(err error) bool {
	return errors.Is(err, auth.ErrValidation) ||
		errors.Is(err, auth.ErrNotFound) ||
		errors.Is(err, auth.ErrConflict) ||
		errors.Is(err, auth.ErrForbidden) ||
		errors.Is(err, auth.ErrAuthentication)
}

func (e *Engine) record(kind string, err error) {
	outcome := "committed"
	if err != nil {
		outcome = "rolled_back"
		if isClientError(err) {
			outcome = "rejected"
		}
	}
	e.metrics.RecordCascadeDelete(kind, outcome)
}

// DeleteUser removes a user together with their memberships and personal workspace.
// The organization admin cannot be deleted.
func (e *Engine) DeleteUser(ctx context.Context, orgID, userID string) (err error) {
	defer func() { e.record("user", err) }()

	org, err := e.dir.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if org.AdminUserID == userID {
		return fmt.Errorf("cannot delete the organization admin: %w", auth.ErrForbidden)
	}
	if _, err := e.dir.GetUser(ctx, userID); err != nil {
		return err
	}

	err = e.inTx(ctx, "delete user", func(tx *orgs.Store) error {
		return e.deleteUser(ctx, tx, userID)
	})
	if err == nil {
		e.logger.WithField("user_id", userID).Info("User deleted")
	}
	return err
}

func (e *Engine) deleteUser(ctx context.Context, tx *orgs.Store, userID string) error {
	if err := tx.DeleteUserMemberships(ctx, userID); err != nil {
		return err
	}

	pw, err := tx.PersonalWorkspace(ctx, userID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
	case err != nil:
		return err
	default:
		if err := e.sweepWorkspace(ctx, tx, pw.ID); err != nil {
			return err
		}
	}

	return tx.DeleteUser(ctx, userID)
}

// DeleteWorkspace removes a workspace and everything it owns. Users whose active workspace
// it was move to their first remaining membership. The organization's default workspace
// and personal workspaces cannot be deleted.
func (e *Engine) DeleteWorkspace(ctx context.Context, orgID, workspaceID string) (err error) {
	defer func() { e.record("workspace", err) }()

	org, err := e.dir.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if org.DefaultWorkspaceID == workspaceID {
		return fmt.Errorf("cannot delete the default workspace: %w", auth.ErrForbidden)
	}
	ws, err := e.dir.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if ws.OrganizationID != orgID {
		return fmt.Errorf("workspace %s: %w", workspaceID, auth.ErrNotFound)
	}
	if ws.IsPersonal() {
		return fmt.Errorf("personal workspaces are deleted with their user: %w", auth.ErrForbidden)
	}

	err = e.inTx(ctx, "delete workspace", func(tx *orgs.Store) error {
		return e.sweepWorkspace(ctx, tx, workspaceID)
	})
	if err == nil {
		e.logger.WithField("workspace_id", workspaceID).Info("Workspace deleted")
	}
	return err
}

// sweepWorkspace deletes a workspace with its memberships, shared items and owned rows
func (e *Engine) sweepWorkspace(ctx context.Context, tx *orgs.Store, workspaceID string) error {
	if err := tx.DeleteWorkspaceMembers(ctx, workspaceID); err != nil {
		return err
	}
	if err := tx.DeleteWorkspaceShared(ctx, workspaceID); err != nil {
		return err
	}

	displaced, err := tx.UsersWithActiveWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	for _, userID := range displaced {
		memberships, err := tx.ListMemberships(ctx, userID)
		if err != nil {
			return err
		}
		next := ""
		if len(memberships) > 0 {
			next = memberships[0].WorkspaceID
		}
		if err := tx.UpdateUser(ctx, userID, orgs.UserUpdate{ActiveWorkspaceID: &next}); err != nil {
			return err
		}
	}

	for _, res := range e.resources.All() {
		n, err := tx.DeleteOwned(ctx, res.Table, res.Column, workspaceID)
		if err != nil {
			return err
		}
		if n > 0 {
			e.logger.WithFields(map[string]interface{}{
				"workspace_id": workspaceID,
				"table":        res.Table,
				"rows":         n,
			}).Debug("Deleted owned rows")
		}
	}

	return tx.DeleteWorkspace(ctx, workspaceID)
}

// CreateWorkspace creates a workspace in orgID and adds creatorID as a member with role.
// The personal workspace name is reserved.
func (e *Engine) CreateWorkspace(ctx context.Context, orgID, creatorID, name, description, role string) (*auth.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("workspace name is required: %w", auth.ErrValidation)
	}
	if strings.EqualFold(name, auth.PersonalWorkspaceName) {
		return nil, fmt.Errorf("%q is reserved: %w", auth.PersonalWorkspaceName, auth.ErrValidation)
	}

	ws := &auth.Workspace{Name: name, Description: description, OrganizationID: orgID}
	err := e.inTx(ctx, "create workspace", func(tx *orgs.Store) error {
		if _, err := tx.GetOrganization(ctx, orgID); err != nil {
			return err
		}
		if err := tx.CreateWorkspace(ctx, ws); err != nil {
			return err
		}
		if creatorID == "" || role == "" {
			return nil
		}
		return tx.AddMember(ctx, ws.ID, creatorID, role)
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// ListWorkspaces lists the organization's shared workspaces; personal ones are excluded
func (e *Engine) ListWorkspaces(ctx context.Context, orgID string) ([]*auth.Workspace, error) {
	return e.dir.ListWorkspaces(ctx, orgID, false)
}

// CleanupExpiredInvites deletes INVITED users whose invite window has closed and returns
// how many were removed. Each user is removed in its own transaction.
func (e *Engine) CleanupExpiredInvites(ctx context.Context) (int, error) {
	ids, err := e.dir.ExpiredInvites(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		err := e.inTx(ctx, "cleanup invite", func(tx *orgs.Store) error {
			return e.deleteUser(ctx, tx, id)
		})
		if err != nil {
			e.logger.WithError(err).WithField("user_id", id).Warn("Failed to remove expired invite")
			continue
		}
		removed++
	}
	if removed > 0 {
		e.logger.Infof("Removed %d expired invites", removed)
	}
	return removed, nil
}

package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/orgs"
)

// SetupRequest creates the organization and its admin on first start
type SetupRequest struct {
	OrganizationName string `json:"organizationName"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
}

// InviteRequest adds Email to WorkspaceID with Role
type InviteRequest struct {
	OrganizationID string `json:"-"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	WorkspaceID    string `json:"workspaceId"`
	Role           string `json:"role"`
}

// InviteResult reports what InviteUser did. Token is set only when a new invite was issued.
type InviteResult struct {
	User  *auth.User `json:"user"`
	Token string     `json:"-"`
	Link  string     `json:"-"`
}

// RegisterRequest completes an invite
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

// ResetRequest completes a password reset
type ResetRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1
}

// SetupOrganization creates the single organization, its default workspace, the admin user
// and the admin's personal workspace. Fails with ErrConflict once an organization exists.
func (e *Engine) SetupOrganization(ctx context.Context, req SetupRequest) (*auth.Organization, *auth.User, error) {
	email := orgs.NormalizeEmail(req.Email)
	if !validEmail(email) || strings.TrimSpace(req.OrganizationName) == "" {
		return nil, nil, fmt.Errorf("organization name and a valid email are required: %w", auth.ErrValidation)
	}
	credential, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}

	org := &auth.Organization{Name: strings.TrimSpace(req.OrganizationName)}
	admin := &auth.User{Name: req.Name, Email: email, Credential: credential, Status: auth.UserStatusActive}

	err = e.inTx(ctx, "setup organization", func(tx *orgs.Store) error {
		if _, err := tx.FirstOrganization(ctx); err == nil {
			return fmt.Errorf("organization already exists: %w", auth.ErrConflict)
		} else if !errors.Is(err, auth.ErrNotFound) {
			return err
		}

		if err := tx.CreateOrganization(ctx, org); err != nil {
			return err
		}
		if err := createUser(ctx, tx, admin); err != nil {
			return err
		}
		ws := &auth.Workspace{Name: DefaultWorkspaceName, OrganizationID: org.ID, IsDefault: true}
		if err := tx.CreateWorkspace(ctx, ws); err != nil {
			return err
		}
		if _, err := createPersonalWorkspace(ctx, tx, org.ID, admin.ID); err != nil {
			return err
		}
		if err := tx.SetOrganizationDefaults(ctx, org.ID, admin.ID, ws.ID); err != nil {
			return err
		}
		org.AdminUserID, org.DefaultWorkspaceID = admin.ID, ws.ID
		admin.ActiveWorkspaceID = ws.ID
		return tx.UpdateUser(ctx, admin.ID, orgs.UserUpdate{ActiveWorkspaceID: &ws.ID})
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.WithField("organization_id", org.ID).Info("Organization created")
	return org, admin, nil
}

// createUser maps a duplicate email to ErrValidation
func createUser(ctx context.Context, tx *orgs.Store, u *auth.User) error {
	err := tx.CreateUser(ctx, u)
	if errors.Is(err, auth.ErrConflict) {
		return fmt.Errorf("email %s is already registered: %w", u.Email, auth.ErrValidation)
	}
	return err
}

func createPersonalWorkspace(ctx context.Context, tx *orgs.Store, orgID, userID string) (*auth.Workspace, error) {
	ws := &auth.Workspace{
		Name:           auth.PersonalWorkspaceName,
		Description:    auth.PersonalWorkspaceDescription(userID),
		OrganizationID: orgID,
	}
	if err := tx.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	if err := tx.AddMember(ctx, ws.ID, userID, auth.RolePersonalWorkspace); err != nil {
		return nil, err
	}
	return ws, nil
}

// InviteUser adds a user to a workspace. Unknown emails become INVITED users holding a
// fresh invite token; pending invites get a new token; active users are added directly.
func (e *Engine) InviteUser(ctx context.Context, req InviteRequest) (*InviteResult, error) {
	email := orgs.NormalizeEmail(req.Email)
	if !validEmail(email) {
		return nil, fmt.Errorf("a valid email is required: %w", auth.ErrValidation)
	}
	if req.WorkspaceID == "" || req.Role == "" {
		return nil, fmt.Errorf("workspace and role are required: %w", auth.ErrValidation)
	}
	if req.Role == auth.RoleOrgAdmin || req.Role == auth.RolePersonalWorkspace {
		return nil, fmt.Errorf("role %q cannot be assigned: %w", req.Role, auth.ErrValidation)
	}

	ws, err := e.dir.GetWorkspace(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if ws.OrganizationID != req.OrganizationID {
		return nil, fmt.Errorf("workspace %s: %w", req.WorkspaceID, auth.ErrNotFound)
	}
	if ws.IsPersonal() {
		return nil, fmt.Errorf("cannot invite into a personal workspace: %w", auth.ErrValidation)
	}
	if e.roles != nil {
		if _, err := e.roles.GetRoleByName(ctx, req.OrganizationID, req.Role); err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return nil, fmt.Errorf("role %q does not exist: %w", req.Role, auth.ErrValidation)
			}
			return nil, err
		}
	}

	token, tokenHash, _, err := e.tokens.GenerateToken()
	if err != nil {
		return nil, err
	}
	expiry := e.now().Add(e.cfg.InviteExpiry)

	result := &InviteResult{}
	err = e.inTx(ctx, "invite user", func(tx *orgs.Store) error {
		user, err := tx.GetUserByEmail(ctx, email)
		switch {
		case errors.Is(err, auth.ErrNotFound):
			user = &auth.User{Name: req.Name, Email: email, Status: auth.UserStatusInvited}
			if err := createUser(ctx, tx, user); err != nil {
				return err
			}
			fallthrough
		case err == nil && user.Status == auth.UserStatusInvited:
			if err := tx.SetTempToken(ctx, user.ID, tokenHash, auth.TempTokenInvite, expiry); err != nil {
				return err
			}
			result.Token = token
		case err != nil:
			return err
		case user.Status == auth.UserStatusDisabled:
			return fmt.Errorf("%s: %w", auth.MsgUserDisabled, auth.ErrValidation)
		}

		result.User = user
		return tx.AddMember(ctx, req.WorkspaceID, user.ID, req.Role)
	})
	if err != nil {
		return nil, err
	}

	if result.Token != "" {
		result.Link = e.link("/register", result.Token)
		if err := e.notifier.SendInvite(ctx, email, result.Link); err != nil {
			e.logger.WithError(err).Warn("Failed to deliver invite")
		}
	}
	e.logger.WithFields(map[string]interface{}{
		"user_id":      result.User.ID,
		"workspace_id": req.WorkspaceID,
		"role":         req.Role,
	}).Info("User invited")
	return result, nil
}

// RegisterUser redeems an invite token: the user becomes ACTIVE with a credential and a
// personal workspace. A token that is unknown, expired, of another type or issued for
// another email is a validation error.
func (e *Engine) RegisterUser(ctx context.Context, req RegisterRequest) (*auth.User, error) {
	email := orgs.NormalizeEmail(req.Email)
	user, err := e.redeem(ctx, email, req.Token, auth.TempTokenInvite)
	if err != nil {
		return nil, err
	}
	if user.Status != auth.UserStatusInvited {
		return nil, fmt.Errorf("user is already registered: %w", auth.ErrValidation)
	}
	credential, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, "register user", func(tx *orgs.Store) error {
		if err := claimToken(ctx, tx, user.ID, req.Token, auth.TempTokenInvite); err != nil {
			return err
		}
		memberships, err := tx.ListMemberships(ctx, user.ID)
		if err != nil {
			return err
		}
		if len(memberships) == 0 {
			return fmt.Errorf("invite has no workspace: %w", auth.ErrValidation)
		}
		org, err := tx.OrganizationForWorkspace(ctx, memberships[0].WorkspaceID)
		if err != nil {
			return err
		}

		upd := orgs.UserUpdate{Credential: &credential, Status: strPtr(string(auth.UserStatusActive))}
		if name := strings.TrimSpace(req.Name); name != "" {
			upd.Name = &name
			user.Name = name
		}
		if err := tx.UpdateUser(ctx, user.ID, upd); err != nil {
			return err
		}
		_, err = createPersonalWorkspace(ctx, tx, org.ID, user.ID)
		if errors.Is(err, auth.ErrConflict) {
			return fmt.Errorf("user is already registered: %w", auth.ErrValidation)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	user.Status = auth.UserStatusActive
	user.Credential = credential
	user.TempToken, user.TempTokenType, user.TokenExpiry = "", "", nil
	e.logger.WithField("user_id", user.ID).Info("User registered")
	return user, nil
}

// ForgotPassword issues a reset token to an active user. Unknown or inactive emails are
// ignored so the response does not reveal which addresses exist.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	email = orgs.NormalizeEmail(email)
	if !validEmail(email) {
		return fmt.Errorf("a valid email is required: %w", auth.ErrValidation)
	}

	user, err := e.dir.GetUserByEmail(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		e.logger.Debug("Password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	if user.Status != auth.UserStatusActive {
		e.logger.WithField("user_id", user.ID).Debug("Password reset requested for inactive user")
		return nil
	}

	token, tokenHash, _, err := e.tokens.GenerateToken()
	if err != nil {
		return err
	}
	if err := e.dir.SetTempToken(ctx, user.ID, tokenHash, auth.TempTokenReset, e.now().Add(e.cfg.ResetExpiry)); err != nil {
		return err
	}
	if err := e.notifier.SendPasswordReset(ctx, email, e.link("/reset-password", token)); err != nil {
		e.logger.WithError(err).Warn("Failed to deliver password reset")
	}
	return nil
}

// ResetPassword redeems a reset token and replaces the credential
func (e *Engine) ResetPassword(ctx context.Context, req ResetRequest) error {
	user, err := e.redeem(ctx, orgs.NormalizeEmail(req.Email), req.Token, auth.TempTokenReset)
	if err != nil {
		return err
	}
	credential, err := e.hasher.Hash(req.Password)
	if err != nil {
		return err
	}

	err = e.inTx(ctx, "reset password", func(tx *orgs.Store) error {
		if err := claimToken(ctx, tx, user.ID, req.Token, auth.TempTokenReset); err != nil {
			return err
		}
		return tx.UpdateUser(ctx, user.ID, orgs.UserUpdate{Credential: &credential})
	})
	if err == nil {
		e.logger.WithField("user_id", user.ID).Info("Password reset")
	}
	return err
}

// redeem finds the holder of token and checks its type, expiry and email
func (e *Engine) redeem(ctx context.Context, email, token string, kind auth.TempTokenType) (*auth.User, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required: %w", auth.ErrValidation)
	}
	user, err := e.dir.GetUserByTempToken(ctx, auth.HashToken(token))
	if errors.Is(err, auth.ErrNotFound) {
		return nil, fmt.Errorf("invalid %s token: %w", kind, auth.ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	if user.TempTokenType != string(kind) || user.Email != email {
		return nil, fmt.Errorf("invalid %s token: %w", kind, auth.ErrValidation)
	}
	if user.TokenExpiry == nil || !e.now().Before(*user.TokenExpiry) {
		return nil, fmt.Errorf("%s token expired: %w", kind, auth.ErrValidation)
	}
	return user, nil
}

// claimToken consumes token inside the transaction. A token already consumed by a
// concurrent redemption is a validation error.
func claimToken(ctx context.Context, tx *orgs.Store, userID, token string, kind auth.TempTokenType) error {
	err := tx.RedeemTempToken(ctx, userID, auth.HashToken(token), kind)
	if errors.Is(err, auth.ErrNotFound) {
		return fmt.Errorf("invalid %s token: %w", kind, auth.ErrValidation)
	}
	return err
}

// ProvisionSSOUser returns the user behind an SSO identity. Unknown emails are created
// ACTIVE with a personal workspace in orgID; pending invites are activated; disabled
// users are refused.
func (e *Engine) ProvisionSSOUser(ctx context.Context, orgID, email, name string) (*auth.User, error) {
	email = orgs.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, fmt.Errorf("identity provider returned no email: %w", auth.ErrAuthentication)
	}

	user, err := e.dir.GetUserByEmail(ctx, email)
	switch {
	case err == nil && user.Status == auth.UserStatusActive:
		return user, nil
	case err == nil && user.Status == auth.UserStatusDisabled:
		return nil, fmt.Errorf("%s: %w", auth.MsgUserDisabled, auth.ErrAuthentication)
	case err != nil && !errors.Is(err, auth.ErrNotFound):
		return nil, err
	}

	created := user == nil
	if created {
		user = &auth.User{Name: name, Email: email, Status: auth.UserStatusActive}
	}
	err = e.inTx(ctx, "provision sso user", func(tx *orgs.Store) error {
		if created {
			if err := createUser(ctx, tx, user); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateUser(ctx, user.ID, orgs.UserUpdate{Status: strPtr(string(auth.UserStatusActive))}); err != nil {
				return err
			}
			if err := tx.ClearTempToken(ctx, user.ID); err != nil {
				return err
			}
		}
		if _, err := tx.PersonalWorkspace(ctx, user.ID); err == nil {
			return nil
		} else if !errors.Is(err, auth.ErrNotFound) {
			return err
		}
		_, err := createPersonalWorkspace(ctx, tx, orgID, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	user.Status = auth.UserStatusActive
	e.logger.WithFields(map[string]interface{}{"user_id": user.ID, "created": created}).Info("SSO user provisioned")
	return user, nil
}

func (e *Engine) link(path, token string) string {
	return e.cfg.BaseURL + path + "?token=" + url.QueryEscape(token)
}

func strPtr(s string) *string { return &s }

package auth

import (
	"strings"
	"time"
)

// UserStatus is the lifecycle state of a user account
type UserStatus string

const (
	UserStatusInvited  UserStatus = "INVITED"  // Created by an admin invite, not yet registered
	UserStatusActive   UserStatus = "ACTIVE"   // Registered or provisioned through SSO
	UserStatusDisabled UserStatus = "DISABLED" // Blocked until an admin acts
)

// Sentinel workspace roles that are not rows in the role table
const (
	RoleOrgAdmin          = "org_admin" // Organization admin, implicit member of every workspace
	RolePersonalWorkspace = "pw"        // Owner of a personal workspace
)

// PersonalWorkspaceName is reserved for the implicit per-user workspace
const PersonalWorkspaceName = "Personal Workspace"

// PersonalWorkspaceDescription is the derived key used to locate a user's personal workspace
func PersonalWorkspaceDescription(userID string) string {
	return PersonalWorkspaceName + " of " + userID
}

// LoginMode records how the principal authenticated
type LoginMode string

const (
	LoginModeEmail LoginMode = "email"
	LoginModeSSO   LoginMode = "sso"
)

// TempTokenType scopes a temp token to the flow that issued it
type TempTokenType string

const (
	TempTokenInvite TempTokenType = "invite"
	TempTokenReset  TempTokenType = "reset"
)

// DeploymentMode selects the authentication path of the gateway. Fixed at startup.
type DeploymentMode string

const (
	ModeEnterprise DeploymentMode = "enterprise"
	ModeCloud      DeploymentMode = "cloud"
	ModeSingleUser DeploymentMode = "single-user"
)

// User represents an account
type User struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	Credential        string     `json:"-"`
	Status            UserStatus `json:"status"`
	ActiveWorkspaceID string     `json:"activeWorkspaceId,omitempty"`
	TempToken         string     `json:"-"` // sha256 of the opaque token handed to the user
	TempTokenType     string     `json:"-"`
	TokenExpiry       *time.Time `json:"-"`
	LastLogin         *time.Time `json:"lastLogin,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Role is a named permission bundle scoped to an organization
type Role struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Permissions    string `json:"permissions"` // comma-separated permission keys
}

// PermissionList splits the comma-separated permission string
func (r *Role) PermissionList() []string {
	return SplitPermissions(r.Permissions)
}

// SplitPermissions splits a comma-separated permission string, dropping blanks
func SplitPermissions(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Workspace is the tenant isolation boundary
type Workspace struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	OrganizationID string    `json:"organizationId"`
	IsDefault      bool      `json:"isDefault"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IsPersonal reports whether this is a user's implicit personal workspace
func (w *Workspace) IsPersonal() bool {
	return w.Name == PersonalWorkspaceName
}

// WorkspaceUser is a membership row. Role is a Role.Name, RoleOrgAdmin or RolePersonalWorkspace.
type WorkspaceUser struct {
	WorkspaceID string     `json:"workspaceId"`
	UserID      string     `json:"userId"`
	Role        string     `json:"role"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
}

// WorkspaceShared shares an item owned by one workspace with another
type WorkspaceShared struct {
	SharedItemID string `json:"sharedItemId"`
	WorkspaceID  string `json:"workspaceId"`
	ItemType     string `json:"itemType"`
}

// Organization owns workspaces and the SSO configuration
type Organization struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	AdminUserID        string    `json:"adminUserId"`
	DefaultWorkspaceID string    `json:"defaultWorkspaceId"`
	SSOConfig          []byte    `json:"-"` // JSON, decoded by pkg/sso
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// AssignedWorkspace is one entry of a principal's workspace list
type AssignedWorkspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// LoggedInUser is the principal attached to an authenticated request
type LoggedInUser struct {
	ID                   string              `json:"id"`
	Email                string              `json:"email,omitempty"`
	Name                 string              `json:"name,omitempty"`
	Role                 string              `json:"role,omitempty"`
	ActiveOrganizationID string              `json:"activeOrganizationId,omitempty"`
	ActiveWorkspaceID    string              `json:"activeWorkspaceId"`
	ActiveWorkspace      string              `json:"activeWorkspace,omitempty"`
	AssignedWorkspaces   []AssignedWorkspace `json:"assignedWorkspaces,omitempty"`
	Permissions          []string            `json:"permissions,omitempty"`
	IsOrganizationAdmin  bool                `json:"isOrganizationAdmin"`
	LoginMode            LoginMode           `json:"loginMode,omitempty"`
	SSOProvider          string              `json:"ssoProvider,omitempty"`
	SSOToken             string              `json:"ssoToken,omitempty"`
	SSORefreshToken      string              `json:"ssoRefreshToken,omitempty"`
	IsAPIKeyValidated    bool                `json:"isApiKeyValidated,omitempty"`
}

// Public returns a copy safe to hand back to clients (upstream SSO tokens stripped)
func (u *LoggedInUser) Public() *LoggedInUser {
	cp := *u
	cp.SSOToken = ""
	cp.SSORefreshToken = ""
	return &cp
}

// HasPermission reports whether the principal holds any of the given permissions.
// Organization admins hold every permission.
func (u *LoggedInUser) HasPermission(perms ...string) bool {
	if u.IsOrganizationAdmin {
		return true
	}
	for _, want := range perms {
		for _, have := range u.Permissions {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsAssigned reports whether workspaceID appears in the precomputed assigned list
func (u *LoggedInUser) IsAssigned(workspaceID string) bool {
	for _, ws := range u.AssignedWorkspaces {
		if ws.ID == workspaceID {
			return true
		}
	}
	return false
}

// SSOTokens is the token set returned by an upstream identity provider
type SSOTokens struct {
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// SessionToken returns the token whose expiry bounds the local session
func (t *SSOTokens) SessionToken() string {
	if t.IDToken != "" {
		return t.IDToken
	}
	return t.AccessToken
}

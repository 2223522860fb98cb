package api

import (
	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/sso"
)

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResolveResponse tells the UI where to send an unauthenticated visitor
type ResolveResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

// SessionResponse is the body of a successful login, refresh or workspace switch. Tokens
// are only present when cookies are disabled.
type SessionResponse struct {
	*auth.LoggedInUser
	Token        string `json:"token,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// MessageResponse carries a bare status message
type MessageResponse struct {
	Message string `json:"message"`
}

// CreateWorkspaceRequest is the body of POST /workspace
type CreateWorkspaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// InviteResponse is returned to the inviter. The token itself only travels by the notifier.
type InviteResponse struct {
	User *auth.User `json:"user"`
}

// ForgotPasswordRequest is the body of POST /account/forgot-password
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// SetupResponse describes the organization created by setup
type SetupResponse struct {
	Organization *auth.Organization `json:"organization"`
	User         *auth.User         `json:"user"`
}

// RoleRequest is the body of POST and PUT /role
type RoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// SSOConfigResponse is the sanitized organization SSO configuration
type SSOConfigResponse struct {
	*sso.Config
	Registered []sso.ProviderName `json:"registered"`
}

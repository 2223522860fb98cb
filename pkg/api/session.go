package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/middleware"
	"github.com/platinummonkey/flowguard/pkg/orgs"
)

// cookieWriter applies the session cookie contract: httpOnly token and refreshToken
// cookies, unless tokens are configured to travel in the response body
type cookieWriter struct {
	secure bool
	inBody bool
}

func newCookieWriter(cfg Config) *cookieWriter {
	return &cookieWriter{secure: cfg.SecureCookies, inBody: cfg.TokenInBody}
}

func (c *cookieWriter) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// respond writes the principal and its tokens in the configured form
func (c *cookieWriter) respond(w http.ResponseWriter, principal *auth.LoggedInUser, access, refresh string) {
	body := SessionResponse{LoggedInUser: principal.Public()}
	if c.inBody {
		body.Token = access
		body.RefreshToken = refresh
	} else {
		c.set(w, access, refresh)
	}
	_ = httputil.WriteSuccess(w, body)
}

func (c *cookieWriter) set(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, c.cookie(middleware.TokenCookie, access, 0))
	http.SetCookie(w, c.cookie(middleware.RefreshCookie, refresh, 0))
}

func (c *cookieWriter) clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(middleware.TokenCookie, "", -1))
	http.SetCookie(w, c.cookie(middleware.RefreshCookie, "", -1))
}

// issueSession stores the principal and signs its token pair
func issueSession(ctx context.Context, tokens *auth.TokenService, principal *auth.LoggedInUser) (access, refresh string, err error) {
	if err := tokens.Sessions().Save(ctx, principal); err != nil {
		return "", "", fmt.Errorf("failed to store session: %w", err)
	}
	if access, err = tokens.IssueAccess(principal); err != nil {
		return "", "", err
	}
	if refresh, err = tokens.IssueRefresh(principal); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// loginOrganization picks the organization a user signs into: the one owning their active
// workspace, else the one of their first membership, else the only organization
func loginOrganization(ctx context.Context, dir *orgs.Store, user *auth.User) (*auth.Organization, error) {
	candidates := []string{user.ActiveWorkspaceID}
	memberships, err := dir.ListMemberships(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		candidates = append(candidates, m.WorkspaceID)
	}

	for _, wsID := range candidates {
		if wsID == "" {
			continue
		}
		org, err := dir.OrganizationForWorkspace(ctx, wsID)
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return nil, err
		}
	}

	org, err := dir.FirstOrganization(ctx)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, fmt.Errorf("user %s belongs to no organization: %w", user.ID, auth.ErrAuthorization)
	}
	return org, err
}

// writeLoginFailure writes a 401 with one of the wire-level login messages
func writeLoginFailure(w http.ResponseWriter, message string) {
	httputil.WriteErrorResponse(w, http.StatusUnauthorized, httputil.ErrorResponse{
		Error:   "unauthorized",
		Message: message,
	})
}

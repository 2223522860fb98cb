// Package api provides the HTTP API server of flowguard.
//
// # Overview
//
// Every route lives under the guarded prefix (default /api/v1) and passes the
// authorization gateway (pkg/middleware) before it is routed. Public routes are those on
// the gateway whitelist; every other route sees a principal in its request context.
//
// # Architecture
//
// The API is built on gorilla/mux and organized into handler groups:
//
//   - Auth: resolve, login, token refresh and logout
//   - Workspaces: switch, create, list and delete
//   - Accounts: organization setup, invites, registration and password resets
//   - Roles: role CRUD and the permission catalog
//   - SSO: provider login and callback, SAML metadata, organization SSO configuration
//   - Login activity: pkg/audit, mounted when Dependencies.Activity is set
//
// # Usage
//
//	server := api.NewServer(api.Config{
//		Mode:    auth.ModeEnterprise,
//		Prefix:  "/api/v1",
//		BaseURL: "https://flow.example.com",
//	}, api.Dependencies{...})
//	http.ListenAndServe(":3000", server)
//
// # Session Cookies
//
// Login, workspace switch, refresh and SSO callbacks set the httpOnly cookies token and
// refreshToken. With Config.TokenInBody the tokens are returned in the JSON body instead,
// and SSO callbacks carry a query-encoded user snapshot:
//
//	302 /sso-success?user={"id":"...","token":"...","refreshToken":"..."}
//
// A refresh without a refreshToken cookie is 401. An invalid or expired refresh token, or a
// failed upstream SSO refresh, is 403 {"message":"REFRESH_TOKEN_EXPIRED"}.
//
// # Error Handling
//
// Handlers report failures through httputil.WriteAuthError, which maps the error taxonomy of
// pkg/auth to status codes. Login failures use the fixed messages of pkg/auth so the UI can
// match on them.
package api

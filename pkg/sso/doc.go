// Package sso integrates external identity providers with Flowguard.
//
// # Overview
//
// Each provider name (azure, google, auth0, github, saml) maps to one Adapter variant:
//
//	azure, google, auth0  OpenID Connect (go-oidc discovery + oauth2 code flow)
//	github                plain OAuth2 plus the GitHub user API
//	saml                  SAML 2.0 POST binding (gosaml2); no refresh grant
//
// # Registry
//
// Registry holds at most one live adapter per name. It is built once at startup and passed
// to the HTTP layer and the token service; nothing is global.
//
//	registry := sso.NewRegistry(sso.NewFactory(baseURL+"/api/v1"), logger, metrics)
//	err := registry.Reconcile(ctx, cfg) // safe to re-run
//
// Reconcile is declarative: every provider present and enabled in the organization config is
// ensured enabled, every other known provider is ensured disabled. Ensure is idempotent, so
// reconciling twice with the same config leaves the same adapter instances in place.
//
// # Storage
//
// The configuration lives as JSON in organization.sso_config. Secrets are masked on read
// through Config.Sanitized and preserved on write through Merge.
package sso

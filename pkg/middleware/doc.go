// Package middleware provides the authorization gateway and rate limiting.
//
// # Gateway
//
// Every request under the guarded prefix (normally /api/v1) is classified in a fixed
// order: public whitelist, internal UI request carrying a session, or external request
// carrying an API key. A rejection is always a 401 JSON body; an expired session adds
// a retry hint so the UI can refresh, and an invalid enterprise license adds a redirect
// to /license-expired.
//
//	gw := middleware.NewGateway(middleware.GatewayConfig{
//		Mode:      auth.ModeEnterprise,
//		Prefix:    "/api/v1",
//		Whitelist: middleware.DefaultWhitelist(registry.Names()),
//	}, tokens, apiKeys, verifier, logger, metrics)
//	router.Use(gw.Handler)
//
// Handlers read the principal with GetPrincipal.
//
// # Rate Limiting
//
// RateLimit throttles credential endpoints per client IP. RateLimiter is an in-process
// token bucket; DistributedRateLimiter shares a fixed window across instances through
// Redis and fails open when Redis is unavailable.
package middleware

// Package auth provides the identity primitives of Flowguard: the tenant data model, bearer
// token issuance and validation, opaque tokens, password hashing and session storage.
//
// # Overview
//
// Access and refresh tokens are HS256 JWTs carrying {id, username, meta}. The meta claim is a
// msgpack-encoded Meta struct sealed with XChaCha20-Poly1305 so clients can neither read nor
// alter tenant context:
//
//	svc, _ := auth.NewTokenService(cfg, epoch, auth.NewMemorySessionStore(0, time.Hour))
//	access, _ := svc.IssueAccess(user)
//	claims, err := svc.Validate(auth.AccessToken, access)
//	meta, _ := svc.OpenMeta(claims)
//
// Validation distinguishes expiry from forgery:
//
//	switch {
//	case errors.Is(err, auth.ErrExpiredToken):   // offer a refresh
//	case errors.Is(err, auth.ErrAuthentication): // reject
//	}
//
// # Session epoch
//
// The access signing key is HMAC(secret, epoch). Starting the process with a random epoch
// (FLOWGUARD_SESSION_EPOCH_RANDOM) logs every user out on restart.
//
// # Opaque tokens
//
// API keys (fg_<base64url>) and invite/reset temp tokens come from TokenGenerator. Only their
// SHA256 hash is persisted.
//
// # Errors
//
// errors.go holds the sentinel taxonomy consumed by httputil.WriteAuthError.
package auth

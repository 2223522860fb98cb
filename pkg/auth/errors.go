package auth

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w", ErrX) and the HTTP layer maps
// them with errors.Is (see httputil.WriteAuthError).
var (
	// ErrAuthentication covers bad or missing credentials and invalid signatures (401)
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorization covers invalid licenses, unassigned workspaces and unbound API keys (401)
	ErrAuthorization = errors.New("not authorized")
	// ErrExpiredToken is a well-formed token past its expiry (401 with a refresh hint)
	ErrExpiredToken = errors.New("token expired")
	// ErrValidation covers malformed invite/reset tokens, duplicate emails and bad input (400)
	ErrValidation = errors.New("validation failed")
	// ErrConsistency is a failed multi-entity transaction; nothing was written (500)
	ErrConsistency = errors.New("consistency failure")
	// ErrConfiguration marks a missing setting for an optional feature
	ErrConfiguration = errors.New("configuration error")
	// ErrForbidden is a well-authenticated request for a disallowed operation (403)
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is a missing entity (404)
	ErrNotFound = errors.New("not found")
	// ErrConflict is a uniqueness violation (409)
	ErrConflict = errors.New("conflict")
)

// Wire-level messages understood by the UI
const (
	MsgRefreshTokenExpired = "REFRESH_TOKEN_EXPIRED"
	MsgTokenExpired        = "TOKEN_EXPIRED"
	MsgInvalidCredentials  = "Incorrect email or password"
	MsgUserNotRegistered   = "User not registered"
	MsgUserDisabled        = "User is disabled"
	MsgLicenseInvalid      = "License is invalid or expired"
)

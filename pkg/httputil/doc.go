// Package httputil provides HTTP helpers shared by the gateway and the API handlers.
//
// # Errors
//
// WriteAuthError is the single place that turns the auth error taxonomy into responses:
//
//	ErrAuthentication, ErrAuthorization  401
//	ErrExpiredToken                      401 with {"retry": "refresh"}
//	ErrValidation                        400
//	ErrForbidden                         403
//	ErrNotFound                          404
//	ErrConflict                          409
//	ErrConsistency, anything else        500 without the underlying message
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger, metrics),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil

// Package config loads flowguard configuration from FLOWGUARD_* environment variables.
//
// Server:
//
//	FLOWGUARD_PORT="3000"
//	FLOWGUARD_BASE_URL="https://flow.example.com"
//	FLOWGUARD_API_PREFIX="/api/v1"
//
// Deployment:
//
//	FLOWGUARD_DEPLOYMENT_MODE="enterprise"  # enterprise, cloud, single-user
//	FLOWGUARD_USERNAME / FLOWGUARD_PASSWORD  # single-user basic auth
//	FLOWGUARD_TOKEN_IN_BODY="false"
//
// License:
//
//	FLOWGUARD_LICENSE_KEY, FLOWGUARD_LICENSE_URL, FLOWGUARD_LICENSE_OFFLINE
//	FLOWGUARD_LICENSE_REVALIDATE_SCHEDULE="@every 24h"  # empty: check at startup only
//
// Tokens:
//
//	FLOWGUARD_JWT_AUTH_TOKEN_SECRET, FLOWGUARD_JWT_REFRESH_TOKEN_SECRET, FLOWGUARD_TOKEN_HASH_SECRET
//	FLOWGUARD_JWT_TOKEN_EXPIRY_MINUTES="60"
//	FLOWGUARD_JWT_REFRESH_TOKEN_EXPIRY_MINUTES="10080"
//
// Storage:
//
//	FLOWGUARD_POSTGRES_URL="postgres://localhost/flowguard"
//	FLOWGUARD_REDIS_URL="redis://localhost:6379"  # optional
//
// Validate rejects only settings the core needs. Missing settings for optional features
// are reported by Warnings and disable that feature.
package config

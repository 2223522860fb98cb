package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/license"
	"github.com/platinummonkey/flowguard/pkg/middleware"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/storage/postgres"
	"github.com/platinummonkey/flowguard/pkg/tenant"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Deployment mode and single-user credentials
	Deployment DeploymentConfig

	// License configuration
	License LicenseConfig

	// Token configuration
	Tokens TokenConfig

	// Invite and password reset windows
	Account AccountConfig

	// Storage configuration
	Storage StorageConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BaseURL is the public URL; SSO callbacks and account links are built from it
	BaseURL string
	// APIPrefix is the prefix guarded by the authorization gateway
	APIPrefix string
	// TrustedProxies are CIDRs whose X-Forwarded-For headers are believed when keying rate limits
	TrustedProxies []string
}

// DeploymentConfig selects the gateway mode
type DeploymentConfig struct {
	Mode          auth.DeploymentMode
	Username      string
	Password      string
	TokenInBody   bool
	SecureCookies bool
}

// LicenseConfig holds license verification settings
type LicenseConfig struct {
	Key          string
	URL          string
	Offline      bool
	PublicKeyPEM string
	// RevalidateSchedule is a cron spec; empty disables periodic checks
	RevalidateSchedule string
}

// TokenConfig holds bearer token settings
type TokenConfig struct {
	Audience           string
	Issuer             string
	AuthSecret         string
	RefreshSecret      string
	AccessExpiry       time.Duration
	RefreshExpiry      time.Duration
	HashSecret         string
	RandomSessionEpoch bool
}

// AccountConfig holds the account flow settings
type AccountConfig struct {
	InviteExpiry    time.Duration
	ResetExpiry     time.Duration
	SaltRounds      int
	CleanupSchedule string
	LoginRateLimit  int
	LoginRateWindow time.Duration

	// login activity older than this is purged on the cleanup schedule; 0 keeps it forever
	ActivityRetention time.Duration
}

// StorageConfig holds database and cache settings
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration
	// RedisURL is optional; when set sessions and rate limits are shared through Redis
	RedisURL string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Deployment:    loadDeploymentConfig(),
		License:       loadLicenseConfig(),
		Tokens:        loadTokenConfig(),
		Account:       loadAccountConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	port := getEnv("FLOWGUARD_PORT", "3000")
	return ServerConfig{
		Host:            getEnv("FLOWGUARD_HOST", "0.0.0.0"),
		Port:            port,
		ReadTimeout:     getEnvDuration("FLOWGUARD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FLOWGUARD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("FLOWGUARD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FLOWGUARD_SHUTDOWN_TIMEOUT", 30*time.Second),
		BaseURL:         strings.TrimSuffix(getEnv("FLOWGUARD_BASE_URL", "http://localhost:"+port), "/"),
		APIPrefix:       "/" + strings.Trim(getEnv("FLOWGUARD_API_PREFIX", "/api/v1"), "/"),
		TrustedProxies:  getEnvList("FLOWGUARD_TRUSTED_PROXIES"),
	}
}

func loadDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{
		Mode:          auth.DeploymentMode(strings.ToLower(getEnv("FLOWGUARD_DEPLOYMENT_MODE", string(auth.ModeSingleUser)))),
		Username:      getEnv("FLOWGUARD_USERNAME", ""),
		Password:      getEnv("FLOWGUARD_PASSWORD", ""),
		TokenInBody:   getEnvBool("FLOWGUARD_TOKEN_IN_BODY", false),
		SecureCookies: getEnvBool("FLOWGUARD_SECURE_COOKIES", false),
	}
}

func loadLicenseConfig() LicenseConfig {
	return LicenseConfig{
		Key:                getEnv("FLOWGUARD_LICENSE_KEY", ""),
		URL:                getEnv("FLOWGUARD_LICENSE_URL", ""),
		Offline:            getEnvBool("FLOWGUARD_LICENSE_OFFLINE", false),
		PublicKeyPEM:       getEnv("FLOWGUARD_LICENSE_PUBLIC_KEY", ""),
		RevalidateSchedule: getEnv("FLOWGUARD_LICENSE_REVALIDATE_SCHEDULE", ""),
	}
}

func loadTokenConfig() TokenConfig {
	return TokenConfig{
		Audience:           getEnv("FLOWGUARD_JWT_AUDIENCE", "AUDIENCE"),
		Issuer:             getEnv("FLOWGUARD_JWT_ISSUER", "ISSUER"),
		AuthSecret:         getEnv("FLOWGUARD_JWT_AUTH_TOKEN_SECRET", ""),
		RefreshSecret:      getEnv("FLOWGUARD_JWT_REFRESH_TOKEN_SECRET", ""),
		AccessExpiry:       time.Duration(getEnvInt("FLOWGUARD_JWT_TOKEN_EXPIRY_MINUTES", 60)) * time.Minute,
		RefreshExpiry:      time.Duration(getEnvInt("FLOWGUARD_JWT_REFRESH_TOKEN_EXPIRY_MINUTES", 10080)) * time.Minute,
		HashSecret:         getEnv("FLOWGUARD_TOKEN_HASH_SECRET", ""),
		RandomSessionEpoch: getEnvBool("FLOWGUARD_SESSION_EPOCH_RANDOM", false),
	}
}

func loadAccountConfig() AccountConfig {
	return AccountConfig{
		InviteExpiry:    time.Duration(getEnvInt("FLOWGUARD_INVITE_TOKEN_EXPIRY_MINUTES", int(tenant.DefaultInviteExpiry/time.Minute))) * time.Minute,
		ResetExpiry:     time.Duration(getEnvInt("FLOWGUARD_PASSWORD_RESET_TOKEN_EXPIRY_MINUTES", int(tenant.DefaultResetExpiry/time.Minute))) * time.Minute,
		SaltRounds:      getEnvInt("FLOWGUARD_PASSWORD_SALT_ROUNDS", auth.DefaultSaltRounds),
		CleanupSchedule: getEnv("FLOWGUARD_INVITE_CLEANUP_SCHEDULE", "@hourly"),
		LoginRateLimit:  getEnvInt("FLOWGUARD_LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: getEnvDuration("FLOWGUARD_LOGIN_RATE_WINDOW", time.Minute),

		ActivityRetention: time.Duration(getEnvInt("FLOWGUARD_LOGIN_ACTIVITY_RETENTION_DAYS", 90)) * 24 * time.Hour,
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      getEnv("FLOWGUARD_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("FLOWGUARD_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns: getEnvInt("FLOWGUARD_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:  getEnvDuration("FLOWGUARD_POSTGRES_TIMEOUT", 5*time.Second),
		RedisURL:         getEnv("FLOWGUARD_REDIS_URL", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("FLOWGUARD_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("FLOWGUARD_METRICS_ENABLED", true),
	}
}

// Validate checks the settings the core cannot start without. Optional features with
// missing settings are reported by Warnings instead.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}

	switch c.Deployment.Mode {
	case auth.ModeEnterprise, auth.ModeCloud, auth.ModeSingleUser:
	default:
		return fmt.Errorf("invalid deployment mode: %s (must be enterprise, cloud, or single-user)", c.Deployment.Mode)
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if _, err := c.TrustedProxies(); err != nil {
		return err
	}

	if c.Deployment.Mode != auth.ModeSingleUser {
		if c.Tokens.AuthSecret == "" || c.Tokens.RefreshSecret == "" {
			return fmt.Errorf("JWT auth and refresh secrets are required in %s mode", c.Deployment.Mode)
		}
		if c.Tokens.HashSecret == "" {
			return fmt.Errorf("token hash secret is required in %s mode", c.Deployment.Mode)
		}
	}
	if c.Tokens.AccessExpiry <= 0 || c.Tokens.RefreshExpiry <= 0 {
		return fmt.Errorf("token expiries must be positive")
	}
	if c.Account.InviteExpiry <= 0 || c.Account.ResetExpiry <= 0 {
		return fmt.Errorf("invite and reset token expiries must be positive")
	}

	return nil
}

// Warnings lists optional features disabled by missing settings
func (c *Config) Warnings() []string {
	var out []string
	if c.Deployment.Mode == auth.ModeEnterprise {
		switch {
		case c.License.Key == "":
			out = append(out, "license key is not set; the license will be treated as invalid")
		case !c.License.Offline && c.License.URL == "":
			out = append(out, "license URL is not set in online mode; the license will be treated as invalid")
		}
	}
	if c.Storage.RedisURL == "" {
		out = append(out, "redis URL is not set; sessions and rate limits are process-local")
	}
	return out
}

// LicenseVerifierConfig converts the license settings
func (c *Config) LicenseVerifierConfig() license.Config {
	return license.Config{
		Key:          c.License.Key,
		URL:          c.License.URL,
		Offline:      c.License.Offline,
		PublicKeyPEM: c.License.PublicKeyPEM,
	}
}

// TokenServiceConfig converts the token settings
func (c *Config) TokenServiceConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Audience:      c.Tokens.Audience,
		Issuer:        c.Tokens.Issuer,
		AccessSecret:  c.Tokens.AuthSecret,
		RefreshSecret: c.Tokens.RefreshSecret,
		AccessExpiry:  c.Tokens.AccessExpiry,
		RefreshExpiry: c.Tokens.RefreshExpiry,
		MetaSecret:    c.Tokens.HashSecret,
	}
}

// TrustedProxies parses the trusted proxy networks
func (c *Config) TrustedProxies() (middleware.TrustedProxies, error) {
	return middleware.ParseTrustedProxies(c.Server.TrustedProxies)
}

// ConnectionConfig converts the database settings
func (c *Config) ConnectionConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		URL:      c.Storage.PostgresURL,
		MaxConns: c.Storage.PostgresMaxConns,
		MinConns: c.Storage.PostgresMinConns,
		Timeout:  c.Storage.PostgresTimeout,
	}
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

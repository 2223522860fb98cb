package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/flowguard/pkg/api"
	"github.com/platinummonkey/flowguard/pkg/audit"
	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/config"
	"github.com/platinummonkey/flowguard/pkg/license"
	"github.com/platinummonkey/flowguard/pkg/middleware"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/orgs"
	"github.com/platinummonkey/flowguard/pkg/rbac"
	"github.com/platinummonkey/flowguard/pkg/sso"
	"github.com/platinummonkey/flowguard/pkg/storage/postgres"
	"github.com/platinummonkey/flowguard/pkg/tenant"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	sessionCacheSize = 10000
	roleCacheSize    = 1000
	roleCacheTTL     = 5 * time.Minute
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowguard: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "flowguard")
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("flowguard exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	proxies, err := cfg.TrustedProxies()
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.ConnectionConfig(), logger)
	if err != nil {
		return err
	}
	if err := postgres.RunMigrations(ctx, db, logger); err != nil {
		db.Close()
		return err
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		if redisClient, err = postgres.NewRedisClient(ctx, cfg.Storage.RedisURL); err != nil {
			db.Close()
			return err
		}
		logger.Info("Redis connected; sessions and rate limits are shared")
	}

	verifier := license.NewVerifier(cfg.LicenseVerifierConfig(), logger, license.WithMetrics(metrics))
	if cfg.Deployment.Mode == auth.ModeEnterprise {
		res := verifier.Start(ctx)
		logger.WithField("valid", res.Valid).Info("License checked")
	}

	dir := orgs.NewStore(db)
	roles := rbac.NewStore(db)
	hasher := auth.NewPasswordHasher(cfg.Account.SaltRounds)

	registrySSO := sso.NewRegistry(sso.NewFactory(cfg.Server.BaseURL+cfg.Server.APIPrefix), logger, metrics)
	ssoStore := sso.NewStorage(db)
	activity := audit.NewStore(db)

	tokens, err := newTokenService(cfg, redisClient, registrySSO, logger)
	if err != nil {
		return closeAll(err, db, redisClient)
	}
	reconcileSSO(ctx, dir, ssoStore, registrySSO, logger)

	resolver := rbac.NewResolver(dir, roles, rbac.DefaultCatalog(), logger, roleCacheSize, roleCacheTTL)
	engine := tenant.NewEngine(db, dir, nil, roles, hasher, tenant.NewLogNotifier(logger), tenant.Config{
		InviteExpiry: cfg.Account.InviteExpiry,
		ResetExpiry:  cfg.Account.ResetExpiry,
		BaseURL:      cfg.Server.BaseURL,
	}, logger, metrics)

	server := api.NewServer(api.Config{
		Mode:          cfg.Deployment.Mode,
		Prefix:        cfg.Server.APIPrefix,
		BaseURL:       cfg.Server.BaseURL,
		TokenInBody:   cfg.Deployment.TokenInBody,
		SecureCookies: cfg.Deployment.SecureCookies,
		Username:      cfg.Deployment.Username,
		Password:      cfg.Deployment.Password,
	}, api.Dependencies{
		DB:             db,
		Directory:      dir,
		Tokens:         tokens,
		APIKeys:        auth.NewAPIKeyStore(db),
		Hasher:         hasher,
		License:        verifier,
		Resolver:       resolver,
		Engine:         engine,
		SSO:            registrySSO,
		SSOStore:       ssoStore,
		Activity:       audit.NewRecorder(activity, logger),
		LoginLimiter:   newLoginLimiter(cfg, redisClient),
		TrustedProxies: proxies,
		Logger:         logger,
		Metrics:        metrics,
	})

	root := mux.NewRouter()
	health := observability.NewHealthChecker(db, redisClient, verifier, version)
	root.HandleFunc("/health/live", health.Liveness).Methods("GET")
	root.HandleFunc("/health/ready", health.Readiness).Methods("GET")
	if cfg.Observability.MetricsEnabled {
		root.Handle("/metrics", observability.Handler(registry)).Methods("GET")
	}
	root.PathPrefix("/").Handler(server)

	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	if err := schedule(scheduler, cfg, verifier, engine, activity, logger); err != nil {
		return closeAll(err, db, redisClient)
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    httpServer.Addr,
			"mode":    string(cfg.Deployment.Mode),
			"prefix":  cfg.Server.APIPrefix,
			"version": version,
		}).Info("Starting flowguard")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()
	return shutdown.WaitForSignal(sigCtx)
}

// newTokenService builds the token service over Redis sessions when available. Single-user
// deployments authenticate with basic auth and may run without token secrets; random ones
// are generated so the session routes stay usable for the process lifetime.
func newTokenService(cfg *config.Config, redisClient *redis.Client, refresher auth.SSORefresher, logger *observability.Logger) (*auth.TokenService, error) {
	tc := cfg.TokenServiceConfig()
	if cfg.Deployment.Mode == auth.ModeSingleUser {
		if tc.AccessSecret == "" || tc.RefreshSecret == "" || tc.MetaSecret == "" {
			logger.Warn("Token secrets not set; using per-process random secrets")
			tc.AccessSecret, tc.RefreshSecret, tc.MetaSecret = uuid.NewString(), uuid.NewString(), uuid.NewString()
		}
	}

	var epoch auth.SessionEpoch
	if cfg.Tokens.RandomSessionEpoch {
		var err error
		if epoch, err = auth.NewRandomSessionEpoch(); err != nil {
			return nil, err
		}
		logger.Info("Random session epoch: tokens from earlier processes are rejected")
	}

	var sessions auth.SessionStore
	if redisClient != nil {
		sessions = auth.NewRedisSessionStore(redisClient, tc.RefreshExpiry)
	} else {
		sessions = auth.NewMemorySessionStore(sessionCacheSize, tc.RefreshExpiry)
	}
	return auth.NewTokenService(tc, epoch, sessions, auth.WithSSORefresher(refresher))
}

func newLoginLimiter(cfg *config.Config, redisClient *redis.Client) middleware.Limiter {
	if cfg.Account.LoginRateLimit <= 0 {
		return nil
	}
	rl := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Account.LoginRateLimit,
		WindowDuration:    cfg.Account.LoginRateWindow,
	}
	if redisClient != nil {
		return middleware.NewDistributedRateLimiter(redisClient, rl, "flowguard:login")
	}
	return middleware.NewRateLimiter(rl)
}

// reconcileSSO brings the registry in line with the stored organization config. A fresh
// install has no organization yet; providers are then registered by the first PUT.
func reconcileSSO(ctx context.Context, dir *orgs.Store, store *sso.Storage, registry *sso.Registry, logger *observability.Logger) {
	org, err := dir.FirstOrganization(ctx)
	if errors.Is(err, auth.ErrNotFound) {
		return
	}
	if err != nil {
		logger.WithError(err).Warn("Failed to load organization for SSO")
		return
	}
	cfg, err := store.Load(ctx, org.ID)
	if err != nil {
		logger.WithError(err).Warn("Failed to load SSO config")
		return
	}
	if err := registry.Reconcile(ctx, cfg); err != nil {
		logger.WithError(err).Warn("Some SSO providers failed to initialize")
	}
}

func schedule(c *cron.Cron, cfg *config.Config, verifier *license.Verifier, engine *tenant.Engine, activity *audit.Store, logger *observability.Logger) error {
	if cfg.Deployment.Mode == auth.ModeEnterprise {
		if _, err := verifier.Schedule(c, cfg.License.RevalidateSchedule); err != nil {
			return fmt.Errorf("invalid license revalidate schedule: %w", err)
		}
	}

	if cfg.Account.CleanupSchedule == "" {
		return nil
	}
	_, err := c.AddFunc(cfg.Account.CleanupSchedule, observability.Job(logger, "invite cleanup", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := engine.CleanupExpiredInvites(ctx)
		if err != nil {
			logger.WithError(err).Warn("Invite cleanup failed")
			return
		}
		if n > 0 {
			logger.WithField("removed", n).Info("Expired invites removed")
		}
	}))
	if err != nil {
		return fmt.Errorf("invalid invite cleanup schedule: %w", err)
	}

	if cfg.Account.ActivityRetention <= 0 {
		return nil
	}
	_, err = c.AddFunc(cfg.Account.CleanupSchedule, observability.Job(logger, "login activity purge", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := activity.Purge(ctx, time.Now().Add(-cfg.Account.ActivityRetention))
		if err != nil {
			logger.WithError(err).Warn("Login activity purge failed")
			return
		}
		if n > 0 {
			logger.WithField("removed", n).Info("Old login activity removed")
		}
	}))
	return err
}

func closeAll(err error, db *sql.DB, redisClient *redis.Client) error {
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = db.Close()
	return err
}

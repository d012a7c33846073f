// Package app is the composition root: it reads configuration, connects to
// infrastructure, builds every domain component, wires their dependencies
// explicitly, and runs the HTTP server plus its background workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/audit"
	"github.com/sasewaddle/controlplane/internal/auth"
	"github.com/sasewaddle/controlplane/internal/authn"
	"github.com/sasewaddle/controlplane/internal/config"
	"github.com/sasewaddle/controlplane/internal/httpserver"
	"github.com/sasewaddle/controlplane/internal/platform"
	"github.com/sasewaddle/controlplane/internal/telemetry"
	"github.com/sasewaddle/controlplane/pkg/ca"
	"github.com/sasewaddle/controlplane/pkg/client"
	"github.com/sasewaddle/controlplane/pkg/cluster"
	"github.com/sasewaddle/controlplane/pkg/guard"
	"github.com/sasewaddle/controlplane/pkg/policy"
	"github.com/sasewaddle/controlplane/pkg/rulecache"
	"github.com/sasewaddle/controlplane/pkg/threatfeed"
	"github.com/sasewaddle/controlplane/pkg/token"
)

// Run builds the control plane and serves it until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting sase control plane", "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if cerr := rdb.Close(); cerr != nil {
			logger.Error("closing redis", "error", cerr)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	// --- Certificate Authority & IPAM ---
	authority, err := ca.NewAuthority(cfg.CAKeyPath)
	if err != nil {
		return fmt.Errorf("initializing certificate authority: %w", err)
	}
	caStore := ca.NewStore(db)
	ipam, err := ca.NewIPAM(cfg.OverlayCIDR, cfg.IPAMGracePeriod, caStore)
	if err != nil {
		return fmt.Errorf("initializing IPAM: %w", err)
	}
	caService := ca.NewService(authority, ipam, caStore, logger)

	// --- Cluster Registry ---
	clusterStore := cluster.NewStore(db)
	clusterRegistry := cluster.NewRegistry(clusterStore, cfg.ClusterStaleAfter, logger)
	if err := clusterRegistry.Load(ctx); err != nil {
		return fmt.Errorf("loading cluster registry: %w", err)
	}

	// --- Client Registry ---
	clientStore := client.NewStore(db)
	clientRegistry := client.NewRegistry(clientStore, clusterRegistry, cfg.ClientStaleAfter, logger)
	if err := clientRegistry.Load(ctx); err != nil {
		return fmt.Errorf("loading client registry: %w", err)
	}

	// --- Token Service ---
	tokenCache := token.NewCache(rdb)
	tokenService, err := token.NewService(cfg.TokenSigningKeyPath, tokenCache, cfg.AccessTokenLifetime, cfg.RefreshTokenLifetime, cfg.TokenCacheFailOpenOnIssue, logger)
	if err != nil {
		return fmt.Errorf("initializing token service: %w", err)
	}

	// --- Policy Store & Matcher, Rule Cache ---
	policyStore := policy.NewStore(db)
	policyService := policy.NewService(policyStore, logger)
	ruleCache := rulecache.NewCache(rdb, cfg.RuleCacheUserTTL, cfg.RuleCacheAllTTL, policyService.ExportUser, policyService.ExportAll, logger)

	// --- Threat-Feed Ingestor & Lookup ---
	threatStore := threatfeed.NewStore(db)
	threatLookup := threatfeed.NewLookup(threatStore, cfg.ThreatLookupCacheSize, cfg.ThreatLookupCacheTTL)
	ingestor := threatfeed.NewIngestor(defaultFeedSources(), threatStore, cfg.ThreatFeedFetchTimeout, logger)

	// --- Request Guard ---
	defaultRule := guard.Rule{
		ID:            "default",
		Priority:      100,
		MaxRequests:   cfg.RateLimitMaxRequests,
		Window:        cfg.RateLimitWindow,
		BlockDuration: cfg.RateLimitBlockDuration,
	}
	limiter := guard.NewLimiter(rdb, []guard.Rule{defaultRule})
	anomaly := guard.NewAnomalyDetector(rdb, limiter, cfg.EmergencyModeTTL)

	// --- Admin session auth ---
	sessionSecret := cfg.AdminSessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Info("session: using auto-generated dev secret (set ADMIN_SESSION_SECRET in production)")
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, adminSessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	adminStore := auth.NewAdminStore(db)
	loginRateLimiter := auth.NewRateLimiter(rdb, adminLoginMaxAttempts, adminLoginWindow)
	loginHandler := auth.NewLoginHandler(sessionMgr, adminStore, logger, loginRateLimiter)

	// --- Authentication dispatcher ---
	authMiddleware := authn.NewMiddleware(sessionMgr, clusterRegistry, clientRegistry, tokenService, logger)

	// --- Audit log ---
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, limiter.Middleware(anomaly, logger), authMiddleware.Handler)

	srv.RegisterHealthCheck("database", func() bool { return db.Ping(ctx) == nil })
	srv.RegisterHealthCheck("redis", func() bool { return rdb.Ping(ctx).Err() == nil })
	srv.SetStatsFunc(func() (int, int) {
		return clusterRegistry.Count(), clientRegistry.Count()
	})

	// --- Local admin login, outside the guarded /api/v1 tree ---
	srv.Router.Post("/auth/local", loginHandler.HandleLogin)
	srv.Router.With(authMiddleware.Handler, auth.RequireAuth).Post("/auth/change-password", loginHandler.HandleChangePassword)

	// --- Public (pre-credential) enrollment routes ---
	clusterHandler := cluster.NewHandler(logger, clusterRegistry, caService)
	clientHandler := client.NewHandler(logger, clientRegistry, caService)
	srv.PublicRouter.Mount("/", clusterHandler.PublicRoutes())
	srv.PublicRouter.Mount("/", clientHandler.PublicRoutes())

	// --- Authenticated node/admin routes ---
	srv.APIRouter.Mount("/", clusterHandler.AuthenticatedRoutes())
	srv.APIRouter.Mount("/", clientHandler.AuthenticatedRoutes())

	caHandler := ca.NewHandler(logger, caService)
	srv.APIRouter.Mount("/", caHandler.Routes())

	tokenHandler := token.NewHandler(logger, tokenService)
	srv.APIRouter.Mount("/auth", tokenHandler.Routes())

	// Every mutation path (add/update/remove) always resolves a concrete
	// userID before invoking this callback, so InvalidateAll's broader
	// bulk/administrative sweep is never needed here.
	policyHandler := policy.NewHandler(logger, policyService, func(userID uuid.UUID) {
		invalidateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ruleCache.InvalidateUser(invalidateCtx, userID); err != nil {
			logger.Error("invalidating rule cache for user", "user_id", userID, "error", err)
		}
	})
	policyHandler.UseCache(ruleCache.GetUser, ruleCache.GetAll)
	srv.APIRouter.Mount("/", policyHandler.AdminRoutes())

	threatHandler := threatfeed.NewHandler(logger, threatStore, threatLookup)
	srv.APIRouter.Mount("/", threatHandler.AdminRoutes())

	guardHandler := guard.NewHandler(logger, limiter, anomaly)
	srv.APIRouter.Mount("/", guardHandler.AdminRoutes())

	auditHandler := audit.NewHandler(logger, db)
	srv.APIRouter.Mount("/audit-log", auditHandler.Routes())

	// --- Background workers ---
	go clusterRegistry.HealthMonitor(ctx)
	go clientRegistry.CleanupStale(ctx)
	go ingestor.Run(ctx)
	go tokenCleanupLoop(ctx, tokenService, clusterRegistry, clientRegistry, logger)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

const (
	// adminSessionMaxAge bounds how long an admin session JWT is valid.
	// config.Config carries no override for this; it is an operator
	// credential lifetime, not a per-deployment tunable like the node
	// token lifetimes above.
	adminSessionMaxAge = 24 * time.Hour

	adminLoginMaxAttempts = 10
	adminLoginWindow      = 15 * time.Minute
)

// defaultFeedSources mirrors original_source/manager/security/feeds.py's
// FEED_CONFIGS: blackweb (domains + IPs, hourly, confidence 85) and
// Spamhaus DROP (IPs only, every 30 minutes, confidence 95).
func defaultFeedSources() []threatfeed.FeedSource {
	return []threatfeed.FeedSource{
		{
			Name:       "blackweb",
			DomainsURL: "https://raw.githubusercontent.com/maravento/blackweb/master/blackweb.txt",
			IPsURL:     "https://raw.githubusercontent.com/maravento/blackweb/master/blackip.txt",
			Interval:   time.Hour,
			Confidence: 85,
		},
		{
			Name:       "spamhaus_drop",
			IPsURL:     "https://www.spamhaus.org/drop/drop.txt",
			Interval:   30 * time.Minute,
			Confidence: 95,
		},
	}
}

// tokenCleanupLoop periodically prunes each known node's jti index of
// entries whose cached metadata has already expired (pkg/token's
// CleanupExpired is scoped to a single node id, not global), driven off the
// cluster/client registries since the Token Service only tracks nodes it
// has a cache entry for, not the full node list.
func tokenCleanupLoop(ctx context.Context, svc *token.Service, clusters *cluster.Registry, clients *client.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range clusters.IDs() {
				if err := svc.CleanupExpired(ctx, id.String()); err != nil {
					logger.Warn("cleaning up expired tokens for cluster", "cluster_id", id, "error", err)
				}
			}
			for _, id := range clients.IDs() {
				if err := svc.CleanupExpired(ctx, id.String()); err != nil {
					logger.Warn("cleaning up expired tokens for client", "client_id", id, "error", err)
				}
			}
		}
	}
}

package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sasewaddle/controlplane/internal/config"
	"github.com/sasewaddle/controlplane/internal/version"
)

// HealthChecker reports whether a subsystem is currently healthy.
type HealthChecker func() bool

// StatsFunc reports lightweight counts shown on the service index route.
type StatsFunc func() (clusterCount, clientCount int)

// Server holds the HTTP server dependencies.
type Server struct {
	Router       *chi.Mux
	APIRouter    chi.Router // /api/v1 sub-router; domain packages mount Routes() here
	PublicRouter chi.Router // /api/v1 sub-router under the guard only, no auth (enrollment endpoints)
	Logger       *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time

	metricsToken string
	healthChecks map[string]HealthChecker
	stats        StatsFunc
}

// NewServer creates an HTTP server with middleware and the ambient surface:
// index, health, healthz, readyz, and a bearer-token-gated /metrics
// endpoint. Domain routers are mounted on APIRouter by the composition
// root after NewServer returns, under the
// Request Guard and authentication middleware it installs here. Enrollment
// endpoints that run before a node has a credential mount on PublicRouter
// instead, which carries the Request Guard but not authentication.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, guardMiddleware, authMiddleware func(http.Handler) http.Handler) *Server {
	s := &Server{
		Router:       chi.NewRouter(),
		Logger:       logger,
		DB:           db,
		Redis:        rdb,
		Metrics:      metricsReg,
		startedAt:    time.Now(),
		metricsToken: cfg.MetricsToken,
		healthChecks: map[string]HealthChecker{},
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/", s.handleIndex)
	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/metrics", s.handleMetrics)

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(pub chi.Router) {
			if guardMiddleware != nil {
				pub.Use(guardMiddleware)
			}
			s.PublicRouter = pub
		})
		r.Group(func(priv chi.Router) {
			if guardMiddleware != nil {
				priv.Use(guardMiddleware)
			}
			if authMiddleware != nil {
				priv.Use(authMiddleware)
			}
			s.APIRouter = priv
		})
	})

	return s
}

// RegisterHealthCheck wires a named subsystem health probe into GET /health
// and /healthz, following original_source/manager/main.py's per-subsystem
// health map.
func (s *Server) RegisterHealthCheck(name string, check HealthChecker) {
	s.healthChecks[name] = check
}

// SetStatsFunc wires the cluster/client counters shown on GET /.
func (s *Server) SetStatsFunc(fn StatsFunc) { s.stats = fn }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	clusters, clients := 0, 0
	if s.stats != nil {
		clusters, clients = s.stats()
	}
	Respond(w, http.StatusOK, map[string]any{
		"service":  "sase-controlplane",
		"version":  version.Version,
		"status":   "healthy",
		"clusters": clusters,
		"clients":  clients,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]string{}
	healthy := true
	for name, check := range s.healthChecks {
		if check() {
			status[name] = "healthy"
		} else {
			status[name] = "unhealthy"
			healthy = false
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	Respond(w, code, status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	healthy := true
	for _, check := range s.healthChecks {
		if !check() {
			healthy = false
			break
		}
	}
	if !healthy {
		Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleMetrics serves Prometheus exposition, gated by a bearer token
// distinct from the token service signing key (original_source/manager/main.py).
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix || authHeader[len(prefix):] != s.metricsToken {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing metrics token")
		return
	}
	promhttp.HandlerFor(s.Metrics, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

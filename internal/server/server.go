// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/krishiconnect/internal/advisory"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/circuitbreaker"
	"github.com/mbd888/krishiconnect/internal/config"
	"github.com/mbd888/krishiconnect/internal/contracts"
	"github.com/mbd888/krishiconnect/internal/escrow"
	"github.com/mbd888/krishiconnect/internal/forum"
	"github.com/mbd888/krishiconnect/internal/funding"
	"github.com/mbd888/krishiconnect/internal/health"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/listings"
	"github.com/mbd888/krishiconnect/internal/logging"
	"github.com/mbd888/krishiconnect/internal/logistics"
	"github.com/mbd888/krishiconnect/internal/metrics"
	"github.com/mbd888/krishiconnect/internal/negotiation"
	"github.com/mbd888/krishiconnect/internal/notify"
	"github.com/mbd888/krishiconnect/internal/ratelimit"
	"github.com/mbd888/krishiconnect/internal/recommend"
	"github.com/mbd888/krishiconnect/internal/scheduler"
	"github.com/mbd888/krishiconnect/internal/security"
	"github.com/mbd888/krishiconnect/internal/store"
	"github.com/mbd888/krishiconnect/internal/traces"
	"github.com/mbd888/krishiconnect/internal/validation"
	"github.com/mbd888/krishiconnect/internal/weather"
	"github.com/mbd888/krishiconnect/migrations"
)

// Background job cadence.
const (
	shipmentRefreshEvery = 5 * time.Minute
	ledgerAuditHour      = 2
	jobTimeout           = 2 * time.Minute
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string

	authMgr     *auth.Manager
	ledger      *ledger.Service
	escrow      *escrow.Service
	advisory    *advisory.Service
	contracts   *contracts.Service
	listings    *listings.Service
	negotiation *negotiation.Service
	logistics   *logistics.Service
	recommend   *recommend.Service
	weather     *weather.Service
	funding     *funding.Service
	forum       *forum.Service

	notifier     *notify.Dispatcher
	scheduler    *scheduler.Scheduler
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	loginLimiter *ratelimit.Limiter

	db             *sql.DB       // nil if using in-memory
	redis          *redis.Client // nil without REDIS_URL
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health and traces
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: "dev",
		logger:  logging.New(cfg.LogLevel, cfg.LogFormat),
		health:  health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTelEndpoint, s.version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTraces = shutdownTraces

	if err := s.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := s.setupServices(ctx); err != nil {
		s.closeStorage()
		return nil, err
	}
	if err := s.setupScheduler(); err != nil {
		_ = s.notifier.Close(time.Second)
		s.closeStorage()
		return nil, err
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// stores groups the per-domain persistence the services are built on.
type stores struct {
	core      coreStore
	users     auth.Store
	advice    advisory.Store
	messages  negotiation.MessageStore
	shipments logistics.Store
	forum     forum.Store
}

// coreStore is the ledger, listing and contract store. Both store.Memory
// and store.Postgres satisfy it.
type coreStore interface {
	ledger.Store
	listings.Store
	contracts.Store
	escrow.Reader
}

var (
	_ coreStore = (*store.Memory)(nil)
	_ coreStore = (*store.Postgres)(nil)
)

func (s *Server) setupStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		s.logger.Warn("DATABASE_URL not set, using in-memory storage (data is lost on restart)")
		s.health.Register("storage", health.Static("storage", true, "in-memory"))
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(s.cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.DBConnMaxLife)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if s.cfg.AutoMigrate {
		goose.SetBaseFS(migrations.FS)
		if err := goose.SetDialect("postgres"); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to set migration dialect: %w", err)
		}
		if err := goose.UpContext(ctx, db, "."); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		s.logger.Info("database migrations applied")
	}

	s.db = db
	s.health.Register("postgres", health.Database(db))
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

func (s *Server) openStores() stores {
	if s.db == nil {
		return stores{
			core:      store.NewMemory(),
			users:     auth.NewMemoryStore(),
			advice:    advisory.NewMemoryStore(),
			messages:  negotiation.NewMemoryStore(),
			shipments: logistics.NewMemoryStore(),
			forum:     forum.NewMemoryStore(),
		}
	}
	return stores{
		core:      store.NewPostgres(s.db),
		users:     auth.NewPostgresStore(s.db),
		advice:    advisory.NewPostgresStore(s.db),
		messages:  negotiation.NewPostgresStore(s.db),
		shipments: logistics.NewPostgresStore(s.db),
		forum:     forum.NewPostgresStore(s.db),
	}
}

func (s *Server) setupServices(ctx context.Context) error {
	st := s.openStores()
	core := st.core

	// Ledger and escrow
	s.ledger = ledger.NewService(core).WithLogger(s.logger)
	s.escrow = escrow.NewService(core).WithLogger(s.logger)

	// Accounts
	s.authMgr = auth.NewManager(st.users, s.ledger, s.cfg.JWTSecret, s.cfg.JWTTTL)

	// Advisory model
	var (
		gen    advisory.Generator
		images advisory.ImageAnalyzer
	)
	if s.cfg.GeminiAPIKey != "" {
		gemini := advisory.NewGeminiClient(s.cfg.GeminiAPIKey, s.cfg.GeminiModel).
			WithURLGuard(security.ImagePolicy{AllowHTTP: !s.cfg.IsProduction()}.CheckURL)
		gen, images = gemini, gemini
		s.health.Register("advisory", health.Static("advisory", true, "gemini"))
		s.logger.Info("advisory model enabled", "model", s.cfg.GeminiModel)
	} else {
		s.health.Register("advisory", health.Static("advisory", true, "not configured, using placeholders"))
		s.logger.Info("advisory model disabled (no GEMINI_API_KEY set)")
	}
	s.advisory = advisory.NewService(gen, images, st.advice).
		WithLogger(s.logger).
		WithTimeout(s.cfg.AdvisoryTimeout).
		WithBreaker(circuitbreaker.New(5, time.Minute))

	// Notifications
	var sender notify.Sender = notify.NewLogSender(s.logger)
	if s.cfg.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(s.cfg.NotifyWebhookURL, s.cfg.NotifyWebhookSecret)
		s.logger.Info("notifications relayed by webhook")
	}
	notifier, err := notify.NewDispatcher(sender, notify.DefaultWorkers,
		notify.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("failed to start notification pool: %w", err)
	}
	s.notifier = notifier

	// Negotiation rooms, fanned out through Redis when configured
	hub := negotiation.NewHub(s.logger)
	var relay *negotiation.Relay
	if s.cfg.RedisURL != "" {
		client, err := negotiation.ConnectRedis(ctx, s.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = client
		relay = negotiation.NewRelay(client, s.logger)
		s.health.Register("redis", health.Ping("redis", relay.Ping))
		s.logger.Info("negotiation relay enabled")
	}

	// Contracts authorize negotiation rooms and negotiation publishes contract
	// events, so the contract service is built against a late-bound authorizer.
	authz := &partyAuthorizer{}
	s.negotiation = negotiation.NewService(hub, st.messages, authz).WithLogger(s.logger)
	if relay != nil {
		s.negotiation.WithRelay(relay)
	}

	s.contracts = contracts.NewService(core, s.escrow).
		WithAdvisor(s.advisory).
		WithPublisher(s.negotiation).
		WithNotifier(s.notifier).
		WithDirectory(s.authMgr).
		WithLogger(s.logger)
	authz.contracts = s.contracts

	s.listings = listings.NewService(core, s.advisory).WithLogger(s.logger)

	s.logistics = logistics.NewService(st.shipments, logistics.NewSimulated(), s.contracts).
		WithLogger(s.logger)

	s.forum = forum.NewService(st.forum, s.authMgr).WithLogger(s.logger)

	// Crop recommendations
	profiles, err := recommend.LoadProfiles(s.cfg.CropProfilesFile)
	if err != nil {
		return fmt.Errorf("failed to load crop profiles: %w", err)
	}
	s.recommend = recommend.NewService(profiles, s.advisory).WithLogger(s.logger)

	// Weather
	var forecaster weather.Forecaster
	if s.cfg.WeatherAPIKey != "" {
		forecaster = weather.NewGoogleClient(s.cfg.WeatherAPIKey)
		s.health.Register("weather", health.Static("weather", true, "google"))
	} else {
		s.health.Register("weather", health.Static("weather", true, "not configured"))
		s.logger.Info("weather disabled (no WEATHER_API_KEY set)")
	}
	s.weather = weather.NewService(forecaster).
		WithDefaultLocation(s.cfg.WeatherLatitude, s.cfg.WeatherLongitude).
		WithLogger(s.logger)

	// Wallet top-ups
	var gateway funding.Gateway
	if s.cfg.StripeSecretKey != "" {
		gateway = funding.NewStripeGateway(s.cfg.StripeSecretKey, s.cfg.StripeWebhookSecret, nil)
		s.health.Register("payments", health.Static("payments", true, "stripe"))
		s.logger.Info("card top-ups enabled")
	} else {
		s.health.Register("payments", health.Static("payments", true, "not configured"))
	}
	s.funding = funding.NewService(gateway, s.ledger).WithLogger(s.logger)

	return nil
}

func (s *Server) setupScheduler() error {
	sched, err := scheduler.New(s.logger, jobTimeout)
	if err != nil {
		return err
	}
	jobs := []scheduler.Job{
		scheduler.NewWeatherAlertJob(s.weather, s.authMgr, s.notifier, uint(s.cfg.WeatherAlertHour)),
		scheduler.NewShipmentRefreshJob(s.logistics, shipmentRefreshEvery, s.logger),
		scheduler.NewLedgerAuditJob(s.ledger, ledgerAuditHour),
	}
	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
		}
	}
	s.scheduler = sched
	return nil
}

// partyAuthorizer lets negotiation rooms ask the contract service who may
// join, once both services exist.
type partyAuthorizer struct {
	contracts *contracts.Service
}

func (a *partyAuthorizer) IsParty(ctx context.Context, contractID, userID string) (bool, error) {
	if a.contracts == nil {
		return false, errors.New("contracts not ready")
	}
	return a.contracts.IsParty(ctx, contractID, userID)
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(security.ParseOrigins(s.cfg.CORSOrigins)))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Identify the caller, then rate limit per user (or per IP when anonymous)
	s.router.Use(auth.Middleware(s.authMgr))
	cfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		cfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(cfg)
	s.router.Use(s.rateLimiter.Middleware())
	s.loginLimiter = ratelimit.New(ratelimit.LoginConfig())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health and metrics
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	// Public: accounts (stricter per-IP limit) and signed provider webhooks
	auth.NewHandler(s.authMgr).RegisterRoutes(v1.Group("", s.loginLimiter.Middleware()))
	funding.NewHandler(s.funding).RegisterRoutes(v1)

	// Everything else needs a token
	protected := v1.Group("", auth.RequireAuth())
	auth.NewHandler(s.authMgr).RegisterProtectedRoutes(protected)
	ledger.NewHandler(s.ledger, s.logger).
		WithDirectDeposits(!s.cfg.IsProduction()).
		RegisterProtectedRoutes(protected)
	funding.NewHandler(s.funding).RegisterProtectedRoutes(protected)
	listings.NewHandler(s.listings).RegisterProtectedRoutes(protected)
	contracts.NewHandler(s.contracts).RegisterProtectedRoutes(protected)
	negotiation.NewHandler(s.negotiation).RegisterProtectedRoutes(protected)
	logistics.NewHandler(s.logistics).RegisterProtectedRoutes(protected)
	recommend.NewHandler(s.recommend).RegisterProtectedRoutes(protected)
	weather.NewHandler(s.weather).RegisterProtectedRoutes(protected)
	forum.NewHandler(s.forum).RegisterProtectedRoutes(protected)
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.health.CheckAll(ctx)
	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		v := "healthy"
		if !st.Healthy {
			v = "unhealthy"
		}
		if st.Detail != "" {
			v += ": " + st.Detail
		}
		checks[st.Name] = v
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"version", s.version,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Negotiation rooms and relay
	go s.negotiation.Run(runCtx)

	// Scheduled jobs
	s.scheduler.Start()

	// Connection pool gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			s.logger.Error("scheduler stop error", "error", err)
		} else {
			s.logger.Info("scheduler stopped")
		}
	}

	if s.contracts != nil {
		s.contracts.Wait()
	}

	// Let queued notifications drain
	if s.notifier != nil {
		if err := s.notifier.Close(10 * time.Second); err != nil {
			s.logger.Warn("notifications still in flight at shutdown", "error", err)
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.loginLimiter != nil {
		s.loginLimiter.Stop()
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace flush error", "error", err)
		}
	}

	s.closeStorage()

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeStorage() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

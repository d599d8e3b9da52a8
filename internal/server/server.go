// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/agentplatform/internal/agents"
	"github.com/mbd888/agentplatform/internal/auth"
	"github.com/mbd888/agentplatform/internal/billing"
	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/config"
	"github.com/mbd888/agentplatform/internal/datasources"
	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/docstore"
	"github.com/mbd888/agentplatform/internal/events"
	"github.com/mbd888/agentplatform/internal/health"
	"github.com/mbd888/agentplatform/internal/knowledge"
	"github.com/mbd888/agentplatform/internal/logging"
	"github.com/mbd888/agentplatform/internal/metrics"
	"github.com/mbd888/agentplatform/internal/plugins"
	"github.com/mbd888/agentplatform/internal/providers"
	"github.com/mbd888/agentplatform/internal/quota"
	"github.com/mbd888/agentplatform/internal/realtime"
	"github.com/mbd888/agentplatform/internal/registry"
	"github.com/mbd888/agentplatform/internal/retry"
	"github.com/mbd888/agentplatform/internal/security"
	"github.com/mbd888/agentplatform/internal/tenant"
	"github.com/mbd888/agentplatform/internal/traces"
	"github.com/mbd888/agentplatform/internal/validation"
	"github.com/mbd888/agentplatform/internal/workflows"
)

// Version is reported by /health and /v1/info.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	// Storage and fan-out; nil members fall back to in-memory backends.
	db          *sql.DB
	docs        docstore.Store
	redisClient *redis.Client
	nc          *nats.Conn
	natsPub     *events.NATSPublisher
	events      events.Publisher

	tenants   *tenant.Manager
	authSvc   *auth.Service
	users     auth.UserStore
	enforcer  *quota.Enforcer
	limiter   *quota.Limiter
	billing   *billing.Service
	realtime  *realtime.Hub
	healthReg *health.Registry

	agentCatalog     *catalog.Catalog[*agents.Agent]
	agentManager     *agents.Manager
	pluginCatalog    *catalog.Catalog[*plugins.Metadata]
	pluginManager    *plugins.Manager
	sourceCatalog    *catalog.Catalog[*datasources.Source]
	sourceManager    *datasources.Manager
	knowledgeCatalog *catalog.Catalog[*knowledge.Base]
	documents        *knowledge.Documents
	workflowCatalog  *catalog.Catalog[*workflows.Workflow]
	providerCatalog  *catalog.Catalog[*providers.Provider]
	providerStore    *providers.Store

	// Constructor registries; embedding binaries register implementations
	// through the With* options.
	agentConstructors *registry.Factories[agents.Constructor]
	pluginFactories   *registry.Factories[plugins.Factory]
	adapterFactories  *registry.Factories[datasources.AdapterFactory]

	tenantTimer       *tenant.Timer
	heartbeatTimer    *agents.HeartbeatTimer
	availabilityTimer *datasources.AvailabilityTimer
	billingTimer      *billing.Timer

	traceShutdown func(context.Context) error
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	drainDelay    time.Duration

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

// WithAgentConstructors registers agent runtimes by agent id or type.
func WithAgentConstructors(f *registry.Factories[agents.Constructor]) Option {
	return func(s *Server) {
		s.agentConstructors = f
	}
}

// WithPluginFactories registers plugin implementations by plugin id or
// entry point.
func WithPluginFactories(f *registry.Factories[plugins.Factory]) Option {
	return func(s *Server) {
		s.pluginFactories = f
	}
}

// WithAdapterFactories registers data source adapters by source id or type.
func WithAdapterFactories(f *registry.Factories[datasources.AdapterFactory]) Option {
	return func(s *Server) {
		s.adapterFactories = f
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing listeners (default 5s).
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:               cfg,
		logger:            logging.New(cfg.LogLevel, cfg.LogFormat),
		agentConstructors: registry.NewFactories[agents.Constructor](),
		pluginFactories:   registry.NewFactories[plugins.Factory](),
		adapterFactories:  registry.NewFactories[datasources.AdapterFactory](),
		drainDelay:        5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if err := s.initStorage(ctx); err != nil {
		s.closeStorage(ctx)
		return nil, err
	}

	shutdown, err := traces.Init(ctx, traces.Settings{Endpoint: cfg.OTLPEndpoint, Version: Version, Env: cfg.Env}, s.logger)
	if err != nil {
		s.closeStorage(ctx)
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	s.initServices()

	if err := s.seed(ctx); err != nil {
		s.closeStorage(ctx)
		return nil, err
	}

	s.initHealth()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// initStorage connects every configured backend. Each is optional.
func (s *Server) initStorage(ctx context.Context) error {
	cfg := s.cfg

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		err = retry.Policy{
			Attempts:  5,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  5 * time.Second,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				s.logger.Warn("database not reachable, retrying", "attempt", attempt, "wait", wait, "error", err)
			},
		}.Run(ctx, func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return db.PingContext(pingCtx)
		})
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.users = auth.NewPostgresStore(db)
		s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(cfg.DatabaseURL))
	} else {
		s.users = auth.NewMemoryStore()
		s.logger.Info("using in-memory user store (no DATABASE_URL)")
	}

	if cfg.MongoURI != "" {
		store, err := docstore.NewMongoStore(ctx, docstore.MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		s.docs = store
		s.logger.Info("connected to MongoDB", "database", cfg.MongoDatabase)
	} else {
		s.docs = docstore.NewMemoryStore()
		s.logger.Info("using in-memory document store (no MONGO_URI)")
	}

	if cfg.RedisURL != "" {
		client, err := quota.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.redisClient = client
		s.logger.Info("connected to Redis")
	}

	s.realtime = realtime.NewHub(s.logger, cfg.CORSOrigins...)
	pubs := events.Multi{s.realtime}
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL, s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		s.nc = nc
		s.natsPub = events.NewNATSPublisher(nc, events.DefaultSubjectPrefix, s.logger)
		pubs = append(pubs, s.natsPub)
		s.logger.Info("publishing events to NATS", "url", nc.ConnectedUrl())
	}
	s.events = pubs

	return nil
}

// initServices builds the registries, catalogs and managers.
func (s *Server) initServices() {
	cfg, logger, pub := s.cfg, s.logger, s.events

	s.tenants = tenant.NewManager(tenant.NewRegistry(), s.docs, logger).
		WithEvents(pub).
		WithUserCounter(s.users.CountByTenant)

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
	s.authSvc = auth.NewService(s.users, tokens, s.tenants, logger).
		WithTTL(cfg.TokenTTL, cfg.RefreshTTL).
		WithUserLimit(s.tenants)

	s.agentCatalog = agents.NewCatalog(agents.NewRegistry(), logger).WithEvents(pub)
	s.agentManager = agents.NewManager(s.agentCatalog, logger).
		WithConstructors(s.agentConstructors).
		WithEvents(pub)

	s.pluginCatalog = plugins.NewCatalog(plugins.NewRegistry(), logger).WithEvents(pub)
	s.pluginManager = plugins.NewManager(s.pluginCatalog, logger).
		WithFactories(s.pluginFactories).
		WithEvents(pub)

	s.sourceCatalog = datasources.NewCatalog(datasources.NewRegistry(), logger).WithEvents(pub)
	s.sourceManager = datasources.NewManager(s.sourceCatalog, logger).
		WithFactories(s.adapterFactories).
		WithEvents(pub)

	s.knowledgeCatalog = knowledge.NewCatalog(knowledge.NewRegistry(), logger).WithEvents(pub)
	s.documents = knowledge.NewDocuments(s.knowledgeCatalog, s.tenants, logger).WithEvents(pub)

	s.workflowCatalog = workflows.NewCatalog(workflows.NewRegistry(), logger).WithEvents(pub)

	providerReg := providers.NewRegistry()
	s.providerStore = providers.NewStore(s.docs, providerReg, logger)
	s.providerCatalog = providers.NewCatalog(providerReg, logger).
		WithEvents(events.Multi{pub, s.providerStore})

	s.billing = billing.NewService(s.tenants, logger)
	if cfg.StripeSecretKey != "" {
		s.billing = s.billing.WithGateway(billing.NewStripeGateway(cfg.StripeSecretKey))
		logger.Info("stripe invoicing enabled")
	}

	var counter quota.Counter = quota.NewMemoryCounter()
	if s.redisClient != nil {
		counter = quota.NewRedisCounter(s.redisClient)
	}
	s.enforcer = quota.NewEnforcer(counter, s.tenants, logger).WithRecorder(s.billing)
	s.limiter = quota.NewLimiter(quota.DefaultLimiterConfig())

	s.tenantTimer = tenant.NewTimer(s.tenants, cfg.TenantSweepInterval, logger)
	s.heartbeatTimer = agents.NewHeartbeatTimer(s.agentManager, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, logger)
	s.availabilityTimer = datasources.NewAvailabilityTimer(s.sourceManager, cfg.AvailabilityInterval, logger)
	s.billingTimer = billing.NewTimer(s.billing, cfg.BillingSweepInterval, logger)
}

// seed loads persisted providers and the YAML documents under ConfigDir,
// one subdirectory per registry.
func (s *Server) seed(ctx context.Context) error {
	n, err := s.providerStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}
	if n > 0 {
		s.logger.Info("providers loaded from document store", "count", n)
	}

	dir := s.cfg.ConfigDir
	if dir == "" {
		return nil
	}

	tenantFiles, err := declarative.Files(filepath.Join(dir, "tenants"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to list tenant seeds: %w", err)
	}
	for _, path := range tenantFiles {
		res, err := s.tenants.ImportFile(ctx, path)
		if err != nil {
			s.logger.Warn("skipping tenant seed", "file", filepath.Base(path), "error", err)
			continue
		}
		s.logSeed("tenants", res)
	}

	loaders := []struct {
		name string
		load func(ctx context.Context, dir string, opts declarative.Options) (*declarative.Result, error)
	}{
		{s.providerCatalog.Name(), s.providerCatalog.LoadDir},
		{s.agentCatalog.Name(), s.agentCatalog.LoadDir},
		{s.pluginCatalog.Name(), s.pluginCatalog.LoadDir},
		{s.sourceCatalog.Name(), s.sourceCatalog.LoadDir},
		{s.knowledgeCatalog.Name(), s.knowledgeCatalog.LoadDir},
		{s.workflowCatalog.Name(), s.workflowCatalog.LoadDir},
	}
	for _, l := range loaders {
		res, err := l.load(ctx, filepath.Join(dir, l.name), declarative.Options{})
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", l.name, err)
		}
		s.logSeed(l.name, res)
	}
	return nil
}

func (s *Server) logSeed(name string, res *declarative.Result) {
	if res == nil || len(res.Imported)+len(res.Updated)+len(res.Errors) == 0 {
		return
	}
	s.logger.Info("seeded registry",
		"registry", name,
		"imported", len(res.Imported),
		"updated", len(res.Updated),
		"skipped", len(res.Skipped),
		"errors", len(res.Errors),
	)
	for _, e := range res.Errors {
		s.logger.Warn("seed item rejected", "registry", name, "id", e.ID, "error", e.Message)
	}
}

func (s *Server) initHealth() {
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("docstore", health.Ping(s.docs), true)
	if s.db != nil {
		s.healthReg.Register("postgres", s.db.PingContext, true)
	}
	if s.redisClient != nil {
		// Quota enforcement fails open, so Redis only degrades.
		s.healthReg.Register("redis", health.Ping(quota.NewRedisCounter(s.redisClient)), false)
	}
	if s.nc != nil {
		s.healthReg.Register("nats", func(context.Context) error {
			if !s.nc.IsConnected() {
				return fmt.Errorf("nats %s", s.nc.Status())
			}
			return nil
		}, false)
	}
	s.healthReg.Register("tenant_sweep", health.Running(s.tenantTimer.Running), false)
	s.healthReg.Register("heartbeat_sweep", health.Running(s.heartbeatTimer.Running), false)
	s.healthReg.Register("availability_check", health.Running(s.availabilityTimer.Running), false)
	s.healthReg.Register("billing_sweep", health.Running(s.billingTimer.Running), false)
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
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

		// The tenant and subject are bound after this middleware runs, so
		// read them back from the request context.
		logger := logging.L(c.Request.Context())

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
	s.router.GET("/health", s.healthReg.Handler(Version))
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	isAdmin := func(c *gin.Context) bool { return auth.IsAdmin(c, s.cfg.AdminSecret) }

	v1 := s.router.Group("/v1")
	v1.Use(tenant.Middleware(s.tenants, tenant.MiddlewareConfig{AllowQueryTenant: s.cfg.AllowQueryTenant}))
	v1.Use(auth.Middleware(s.authSvc))
	v1.Use(validation.IDParamMiddleware("id", "docId", "tenant_id"))

	v1.GET("/info", s.infoHandler)

	authHandler := auth.NewHandler(s.authSvc, s.cfg.AdminSecret)
	billingHandler := billing.NewHandler(s.billing, isAdmin)

	// Credential endpoints are rate limited per client IP and do not count
	// against the tenant's API quota.
	public := v1.Group("")
	public.Use(s.limiter.Middleware())
	authHandler.RegisterRoutes(public)
	billingHandler.RegisterRoutes(v1)

	// Tenant-scoped routes need a session or the admin secret; the tenant
	// hint alone proves nothing.
	api := v1.Group("")
	api.Use(auth.RequireCaller(s.cfg.AdminSecret))
	api.Use(quota.Middleware(s.enforcer))
	api.GET("/ws", s.realtimeHandler)

	tenantHandler := tenant.NewHandler(s.tenants, isAdmin)
	agentHandler := agents.NewHandler(s.agentManager, isAdmin)
	pluginHandler := plugins.NewHandler(s.pluginManager, isAdmin)
	sourceHandler := datasources.NewHandler(s.sourceManager, isAdmin)
	knowledgeHandler := knowledge.NewHandler(s.knowledgeCatalog, s.documents, isAdmin)
	workflowHandler := workflows.NewHandler(s.workflowCatalog, isAdmin)
	providerHandler := providers.NewHandler(s.providerCatalog, s.providerStore, isAdmin)

	tenantHandler.RegisterProtectedRoutes(api)
	authHandler.RegisterProtectedRoutes(api)
	billingHandler.RegisterProtectedRoutes(api)
	agentHandler.RegisterProtectedRoutes(api)
	pluginHandler.RegisterProtectedRoutes(api)
	sourceHandler.RegisterProtectedRoutes(api)
	knowledgeHandler.RegisterProtectedRoutes(api)
	workflowHandler.RegisterProtectedRoutes(api)
	providerHandler.Handler.RegisterProtectedRoutes(api)

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	admin.GET("/realtime", s.realtimeStatsHandler)
	tenantHandler.RegisterAdminRoutes(admin)
	authHandler.RegisterAdminRoutes(admin)
	billingHandler.RegisterAdminRoutes(admin)
	agentHandler.RegisterAdminRoutes(admin)
	pluginHandler.RegisterAdminRoutes(admin)
	sourceHandler.RegisterAdminRoutes(admin)
	knowledgeHandler.RegisterAdminRoutes(admin)
	workflowHandler.RegisterAdminRoutes(admin)
	providerHandler.RegisterAdminRoutes(admin)
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
	if ok, statuses := s.healthReg.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// infoHandler reports the registry sizes visible to the caller.
func (s *Server) infoHandler(c *gin.Context) {
	admin := auth.IsAdmin(c, s.cfg.AdminSecret)
	scope := catalog.Scope{
		TenantID: tenant.OwnerID(c, admin),
		Admin:    admin,
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    "agentplatform",
		"version": Version,
		"registries": gin.H{
			"agents":      s.agentCatalog.Stats(scope),
			"plugins":     s.pluginCatalog.Stats(scope),
			"datasources": s.sourceCatalog.Stats(scope),
			"knowledge":   s.knowledgeCatalog.Stats(scope),
			"workflows":   s.workflowCatalog.Stats(scope),
			"providers":   s.providerCatalog.Stats(scope),
		},
		"tenant_id": scope.TenantID,
	})
}

// realtimeHandler streams registry events. Non-admin callers only see
// events of the tenant resolved for the request.
func (s *Server) realtimeHandler(c *gin.Context) {
	admin := auth.IsAdmin(c, s.cfg.AdminSecret)
	viewer := realtime.Viewer{
		TenantID: tenant.OwnerID(c, admin),
		Admin:    admin,
	}
	if viewer.TenantID == "" && !viewer.Admin {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "tenant_required",
			"message": "Tenant ID is required. Send the X-Tenant-ID header.",
		})
		return
	}
	s.realtime.ServeWS(c.Writer, c.Request, viewer)
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"realtime": s.realtime.Stats()})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and the background sweeps, then blocks until
// ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtime.Run(runCtx)
	go s.tenantTimer.Start(runCtx)
	go s.heartbeatTimer.Start(runCtx)
	go s.availabilityTimer.Start(runCtx)
	go s.billingTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
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
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.tenantTimer.Stop()
	s.heartbeatTimer.Stop()
	s.availabilityTimer.Stop()
	s.billingTimer.Stop()
	s.limiter.Stop()
	s.logger.Info("background sweeps stopped")

	s.agentManager.Shutdown(ctx)
	s.pluginManager.Shutdown(ctx)

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	s.closeStorage(ctx)

	s.logger.Info("server stopped")
	return shutdownErr
}

// closeStorage releases every backend connection that was opened.
func (s *Server) closeStorage(ctx context.Context) {
	if s.natsPub != nil {
		if err := s.natsPub.Close(); err != nil {
			s.logger.Error("nats close error", "error", err)
		}
	} else if s.nc != nil {
		s.nc.Close()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.docs != nil {
		if err := s.docs.Close(ctx); err != nil {
			s.logger.Error("document store close error", "error", err)
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

// Tenants returns the tenant manager.
func (s *Server) Tenants() *tenant.Manager {
	return s.tenants
}

// Auth returns the authentication service.
func (s *Server) Auth() *auth.Service {
	return s.authSvc
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

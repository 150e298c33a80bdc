package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/authgate/internal/auth"
	"github.com/utafrali/authgate/internal/config"
	"github.com/utafrali/authgate/internal/event"
	handler "github.com/utafrali/authgate/internal/handler/http"
	"github.com/utafrali/authgate/internal/identity"
	"github.com/utafrali/authgate/internal/registry"
	"github.com/utafrali/authgate/internal/repository/postgres"
	redisrepo "github.com/utafrali/authgate/internal/repository/redis"
	"github.com/utafrali/authgate/internal/service"
	"github.com/utafrali/authgate/migrations"
	"github.com/utafrali/authgate/pkg/database"
	"github.com/utafrali/authgate/pkg/health"
	"github.com/utafrali/authgate/pkg/httpclient"
	pkgkafka "github.com/utafrali/authgate/pkg/kafka"
	"github.com/utafrali/authgate/pkg/middleware"
	"github.com/utafrali/authgate/pkg/tracing"
)

const (
	serviceName    = "authgate"
	serviceVersion = "0.1.0"
)

// App wires together all dependencies and runs the authgate service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	refreshStore   *service.RefreshTokenStore
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	// cancel stops key-set refreshes and rate limiter cleanup.
	cancel context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer flushCancel()
		if shutdownErr := tracerShutdown(flushCtx); shutdownErr != nil {
			logger.Error("tracer shutdown error", slog.String("error", shutdownErr.Error()))
		}
	}()

	// The client registry must be valid before anything else is started.
	reg, err := registry.New(registry.Options{
		Clients:         cfg.Clients(),
		Issuer:          cfg.Issuer,
		Audiences:       cfg.Audiences,
		VerifiedDomains: cfg.GoogleAllowedDomains,
	})
	if err != nil {
		return nil, fmt.Errorf("build client registry: %w", err)
	}
	logger.Info("client registry loaded",
		slog.String("issuer", reg.Issuer()),
		slog.Any("audiences", reg.Audiences()),
		slog.Any("verified_domains", reg.VerifiedDomains()),
	)

	// Initialize PostgreSQL connection pool.
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL")
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("failed to register pool metrics", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging and the per-call store timeout.
	if cfg.SlowQueryThresholdMS > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)
	}
	database.SetQueryTimeout(cfg.DBQueryTimeout())

	// Initialize Redis. Lockout counting fails open, so an unreachable Redis
	// only degrades readiness.
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, login lockout degraded", slog.String("error", err.Error()))
	} else {
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
	}
	attempts := redisrepo.NewLoginAttemptStore(redisClient)

	// Initialize Kafka producer.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	background, stop := context.WithCancel(context.Background())

	// Google key-set fetches go through retries and a circuit breaker.
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.IdentityTimeout
	keysClient := httpclient.NewCircuitBreakerClient(
		httpclient.New(clientCfg),
		httpclient.DefaultCircuitBreakerConfig("google-jwks"),
		logger,
	)
	verifier := identity.NewGoogleVerifier(background, identity.Config{
		ClientID: cfg.GoogleClientID,
		Issuer:   cfg.GoogleIssuer,
		JWKSURL:  cfg.GoogleJWKSURL,
		Timeout:  cfg.IdentityTimeout,
	}, keysClient.StandardClient(), reg, logger)

	// Build the dependency graph.
	jwtManager := auth.NewJWTManager(reg, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	logger.Info("token lifetimes",
		slog.Duration("access", jwtManager.AccessExpiry()),
		slog.Duration("refresh", jwtManager.RefreshExpiry()),
	)
	userRepo := postgres.NewUserRepository(pool)
	activityRepo := postgres.NewActivityRepository(pool)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(pool)
	publisher := event.NewProducer(producer, logger)

	userService := service.NewUserService(userRepo, activityRepo, publisher, logger)
	refreshStore := service.NewRefreshTokenStore(refreshTokenRepo)
	tokenService := service.NewTokenService(jwtManager, userService, refreshStore, logger)

	authService := service.NewAuthService(reg, verifier, userService, tokenService, attempts, service.LockoutPolicy{
		MaxFailures: int64(cfg.LoginMaxFailedAttempts),
		Window:      cfg.LoginLockoutWindow,
	}, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("google-jwks", func(context.Context) error {
		if keysClient.State() == gobreaker.StateOpen {
			return httpclient.ErrCircuitOpen
		}
		return nil
	})

	// HTTP router.
	routerCfg := handler.RouterConfig{
		Auth:    authService,
		Tokens:  tokenService,
		Clients: reg.Authenticate,
		Health:  healthHandler,
		Logger:  logger,
		CORS:    middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins),
		RateLimit: middleware.RateLimitConfig{
			RPS:            cfg.RateLimitRPS,
			Burst:          cfg.RateLimitBurst,
			TrustForwarded: cfg.TrustForwarded,
		},
		ExposeErrors: !cfg.IsProduction(),
	}
	if cfg.CSRFEnabled {
		routerCfg.CSRF = &middleware.CSRFConfig{CookieName: "csrf_token", HeaderName: "csrf_token"}
	}
	router := handler.NewRouter(background, routerCfg)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		refreshStore:   refreshStore,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
		cancel:         stop,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go a.runRefreshTokenPurge(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// runRefreshTokenPurge periodically deletes refresh token rows older than
// the retention period.
func (a *App) runRefreshTokenPurge(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := a.refreshStore.Purge(ctx, a.cfg.RefreshTokenRetention())
			if err != nil {
				a.logger.Error("refresh token purge error", slog.String("error", err.Error()))
			} else if purged > 0 {
				a.logger.Info("old refresh tokens purged", slog.Int64("purged", purged))
			}
		}
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Background workers
// 3. Tracer (flush pending spans from drained requests)
// 4. Kafka producer
// 5. Redis client
// 6. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Stop key-set refreshes and limiter cleanup.
	a.cancel()

	// 3. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Close Redis client.
	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 6. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

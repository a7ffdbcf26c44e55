package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/upb/restaurant-identity/config"
	"github.com/upb/restaurant-identity/handlers"
	"github.com/upb/restaurant-identity/internal/observability"
	"github.com/upb/restaurant-identity/repositories"
	"github.com/upb/restaurant-identity/repositories/memory"
	"github.com/upb/restaurant-identity/repositories/postgres"
	"github.com/upb/restaurant-identity/services/audit"
	"github.com/upb/restaurant-identity/services/auth"
	"github.com/upb/restaurant-identity/services/credential"
	"github.com/upb/restaurant-identity/services/password"
	"github.com/upb/restaurant-identity/services/ratelimit"
	"github.com/upb/restaurant-identity/services/token"
	"go.uber.org/zap"
)

// Rate-limit rejection messages per tier
const (
	registerLimitMessage      = "Too many registration attempts from this IP address. Please try again after an hour."
	loginLimitMessage         = "Too many login attempts from this IP address. Please try again after 15 minutes."
	passwordResetLimitMessage = "Too many password reset attempts. Please try again after an hour."
	generalLimitMessage       = "Too many requests from this IP, please try again later."
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection; everything is
// built once at startup and shared read-only by request handlers.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Redis  redis.UniversalClient
	Logger *zap.Logger

	// Repository Factory (nil with the memory driver)
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users     repositories.UserRepository
	AuditLogs repositories.AuditRepository

	// Metrics
	Registry *prometheus.Registry
	Metrics  observability.Metrics

	// Services
	Credentials *credential.Store
	Tokens      *token.Service
	Limiter     *ratelimit.Limiter
	Audit       audit.Recorder
	Auth        *auth.Service

	// Handlers
	AuthHandler   *handlers.AuthHandler
	HealthHandler *handlers.HealthHandler

	auditService *audit.AuditService
	memoryStore  *ratelimit.MemoryStore
	denylist     *token.MemoryDenylist
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	if err := deps.initRedis(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	if err := deps.initMetrics(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := deps.initAudit(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Bool("audit", cfg.Audit.Enabled),
		zap.Bool("revocation", cfg.Auth.Revocation))
	return deps, nil
}

// initStore opens the credential store selected by STORE_DRIVER
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	if cfg.Store.Driver == config.StoreDriverMemory {
		d.Users = memory.NewUserRepository()
		d.AuditLogs = memory.NewAuditRepository()
		d.Logger.Warn("using in-memory credential store, records are lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(ctx, cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if cfg.Store.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	repos := factory.NewRepositories()
	d.Users = repos.Users
	d.AuditLogs = repos.AuditLogs

	d.Logger.Info("repositories initialized")
	return nil
}

// initRedis connects to Redis when REDIS_ADDR is set
func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) error {
	if !cfg.Redis.Enabled() {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	d.Redis = client
	d.Logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	return nil
}

// initMetrics creates a dedicated Prometheus registry
func (d *Dependencies) initMetrics(cfg *config.Config) error {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := observability.NewPrometheusMetrics(reg)
	if err != nil {
		return err
	}
	d.Registry = reg
	d.Metrics = m
	return nil
}

// initAudit starts the async audit writer
func (d *Dependencies) initAudit(cfg *config.Config) error {
	if !cfg.Audit.Enabled {
		d.Audit = audit.NopRecorder{}
		return nil
	}

	svc := audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	if err := svc.Start(); err != nil {
		return err
	}
	d.auditService = svc
	d.Audit = svc
	return nil
}

// initServices builds the hasher, token service, limiter and credential store
func (d *Dependencies) initServices(cfg *config.Config) error {
	hashCfg := password.DefaultConfig()
	hashCfg.Algorithm = cfg.Password.Hasher
	hashCfg.BcryptCost = cfg.Password.BcryptCost
	if cfg.Password.Hasher == config.HasherArgon2id {
		// ranges were checked by config.Validate
		hashCfg.Argon2Memory = uint32(cfg.Password.Argon2Memory)
		hashCfg.Argon2Time = uint32(cfg.Password.Argon2Time)
		hashCfg.Argon2Parallelism = uint8(cfg.Password.Argon2Parallelism)
	}
	hasher, err := password.New(hashCfg)
	if err != nil {
		return err
	}

	var denylist token.Denylist
	if cfg.Auth.Revocation {
		if d.Redis != nil {
			denylist = token.NewRedisDenylist(d.Redis)
		} else {
			d.denylist = token.NewMemoryDenylist()
			denylist = d.denylist
		}
	}

	tokens, err := token.NewService(token.Config{
		Secret: []byte(cfg.Auth.JWTSecret),
		TTL:    cfg.Auth.TokenTTL,
		Issuer: cfg.Auth.Issuer,
	}, denylist, d.Logger)
	if err != nil {
		return err
	}

	var store ratelimit.Store
	if d.Redis != nil {
		store = ratelimit.NewRedisStore(d.Redis)
	} else {
		d.memoryStore = ratelimit.NewMemoryStore(d.Logger)
		store = d.memoryStore
	}

	limiter, err := ratelimit.NewLimiter(store, Tiers(cfg.RateLimit), d.Metrics, d.Logger)
	if err != nil {
		return err
	}

	d.Tokens = tokens
	d.Limiter = limiter
	d.Credentials = credential.NewStore(d.Users, hasher, d.Logger)
	d.Auth = auth.NewService(d.Credentials, tokens, d.AuditLogs, d.Audit, d.Metrics, d.Logger)
	return nil
}

func (d *Dependencies) initHandlers() {
	checks := map[string]handlers.Pinger{
		"credential_store": d.Credentials,
	}
	if client := d.Redis; client != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	d.AuthHandler = handlers.NewAuthHandler(d.Auth, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(checks, d.Logger)
}

// Tiers converts the configured quotas into limiter tiers
func Tiers(cfg config.RateLimitConfig) []ratelimit.Tier {
	return []ratelimit.Tier{
		{Name: ratelimit.TierRegister, Window: cfg.Register.Window, Max: cfg.Register.Max, Message: registerLimitMessage},
		{Name: ratelimit.TierLogin, Window: cfg.Login.Window, Max: cfg.Login.Max, Message: loginLimitMessage},
		{Name: ratelimit.TierPasswordReset, Window: cfg.PasswordReset.Window, Max: cfg.PasswordReset.Max, Message: passwordResetLimitMessage},
		{Name: ratelimit.TierGeneral, Window: cfg.General.Window, Max: cfg.General.Max, Message: generalLimitMessage},
	}
}

// StartBackground runs the in-process cleanup loops until ctx is done.
// With Redis configured there is nothing to clean up locally.
func (d *Dependencies) StartBackground(ctx context.Context) {
	interval := d.Config.RateLimit.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	if d.memoryStore != nil {
		go d.memoryStore.StartCleanupWorker(ctx, interval)
	}

	if d.denylist != nil {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if removed := d.denylist.Purge(); removed > 0 {
						d.Logger.Debug("purged expired revoked tokens", zap.Int("removed", removed))
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending audit events before the store goes away
	if d.auditService != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.auditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
		d.auditService = nil
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
		d.Redis = nil
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (d *Dependencies) closeQuietly(ctx context.Context) {
	if err := d.Close(ctx); err != nil {
		d.Logger.Warn("cleanup after failed initialization", zap.Error(err))
	}
}

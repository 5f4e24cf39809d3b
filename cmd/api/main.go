package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/davidleathers/workforce-analytics-backend/internal/api/rest"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/archive"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/cache"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/config"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/database"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/repository"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/workforce-analytics-backend/internal/metrics"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/analytics"
	identitysvc "github.com/davidleathers/workforce-analytics-backend/internal/service/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/reporting"
)

func main() {
	// Parse flags
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	slog.SetDefault(logger)

	zl, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to set up component logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	// Initialize telemetry
	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  10 * time.Second,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// Storage
	db, err := database.Open(ctx, cfg.Database, zl)
	if err != nil {
		return err
	}
	if err := database.EnsureSchema(ctx, db, cfg.Database.URL); err != nil {
		db.Close()
		return err
	}

	closers := []func() error{db.Close}
	checks := []rest.HealthChecker{
		rest.CheckFunc{Label: "database", Fn: db.PingContext},
	}

	reports := repository.NewReportRepository(db, zl)
	users := repository.NewUserRepository(db, zl)
	auditLog := repository.NewAuditRepository(db)
	registry := metrics.NewRegistry()

	var (
		sessions    = cache.NewMemorySessionStore()
		reportingOp []reporting.Option
	)
	reportingOp = append(reportingOp, reporting.WithMetrics(registry))

	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis, zl)
		if err != nil {
			return closeAll(closers, err)
		}
		closers = append(closers, client.Close)
		checks = append(checks, rest.CheckFunc{Label: "redis", Fn: redisPing(client)})

		sessions = cache.NewRedisSessionStore(client, zl)
		reportingOp = append(reportingOp, reporting.WithCache(cache.NewRedisReportCache(client, cfg.Redis.CacheTTL, zl)))
	} else {
		logger.Warn("redis not configured; sessions are kept in memory and reports are not cached")
	}

	if cfg.Export.ArchiveBucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:   cfg.Export.ArchiveBucket,
			Region:   cfg.Export.ArchiveRegion,
			Endpoint: cfg.Export.ArchiveEndpoint,
			Prefix:   cfg.Export.ArchivePrefix,
		}, zl)
		if err != nil {
			return closeAll(closers, err)
		}
		reportingOp = append(reportingOp, reporting.WithArchiver(archiver))
	}

	// Services
	identity := identitysvc.NewService(users, reports, auditLog, sessions, identitysvc.Config{
		BcryptCost:  cfg.Security.BcryptCost,
		TokenExpiry: cfg.Security.TokenExpiry,
	}, zl.Named("identity"))

	reportingSvc := reporting.NewService(analytics.NewAggregator(nil), reports, auditLog, reporting.Config{
		Title:    cfg.Export.Title,
		MaxBytes: cfg.Upload.MaxBytes,
		MaxRows:  cfg.Upload.MaxRows,
	}, zl.Named("reporting"), reportingOp...)

	if cfg.Bootstrap.ManagerUsername != "" {
		created, err := identity.BootstrapManager(ctx, cfg.Bootstrap.ManagerUsername, cfg.Bootstrap.ManagerPassword)
		if err != nil {
			return closeAll(closers, fmt.Errorf("failed to bootstrap manager: %w", err))
		}
		if created {
			logger.Info("bootstrapped manager account", "username", cfg.Bootstrap.ManagerUsername)
		}
	}

	tokens, err := rest.NewTokenIssuer(jwtSecret(cfg, logger), rest.DefaultIssuer)
	if err != nil {
		return closeAll(closers, err)
	}

	routerCfg := rest.DefaultConfig()
	routerCfg.Version = cfg.Version
	routerCfg.Logger = logger
	routerCfg.Metrics = registry
	routerCfg.Tokens = tokens
	routerCfg.MaxUploadBytes = cfg.Upload.MaxBytes
	routerCfg.LoginRate = float64(cfg.Security.RateLimit.RequestsPerSecond)
	routerCfg.LoginBurst = cfg.Security.RateLimit.BurstSize
	routerCfg.HealthChecks = checks

	closers = append(closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return provider.Shutdown(shutdownCtx)
	})

	server := rest.NewServer(rest.ServerConfig{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, rest.NewRouter(routerCfg, identity, reportingSvc), logger, closers...)

	logger.Info("starting server",
		"port", cfg.Server.Port,
		"environment", cfg.Environment,
		"database", cfg.Database.Driver,
		"version", cfg.Version,
	)
	return server.Run(ctx)
}

func redisPing(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// jwtSecret falls back to a per-process random key outside production, so tokens
// do not survive a restart.
func jwtSecret(cfg *config.Config, logger *slog.Logger) []byte {
	if cfg.Security.JWTSecret != "" {
		return []byte(cfg.Security.JWTSecret)
	}
	logger.Warn("security.jwt_secret not set; using a random signing key")
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	return secret
}

func closeAll(closers []func() error, cause error) error {
	for _, c := range closers {
		if err := c(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	return cause
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agendly/billing-service/internal/adapters/mercadopago"
	"github.com/agendly/billing-service/internal/adapters/postgres"
	"github.com/agendly/billing-service/internal/adapters/secrets"
	"github.com/agendly/billing-service/internal/billing/engine"
	"github.com/agendly/billing-service/internal/billing/policy"
	"github.com/agendly/billing-service/internal/billing/service"
	"github.com/agendly/billing-service/internal/billing/sweep"
	"github.com/agendly/billing-service/internal/billing/webhook"
	"github.com/agendly/billing-service/internal/config"
	"github.com/agendly/billing-service/internal/domain/ports"
	adminHandler "github.com/agendly/billing-service/internal/handlers/admin"
	cronHandler "github.com/agendly/billing-service/internal/handlers/cron"
	webhookHandler "github.com/agendly/billing-service/internal/handlers/webhook"
	"github.com/agendly/billing-service/pkg/logging"
	"github.com/agendly/billing-service/pkg/middleware"
	"github.com/agendly/billing-service/pkg/observability"
)

func main() {
	// Load .env if present (development convenience)
	_ = godotenv.Load()

	// Initialize logger
	logger := initLogger()
	defer logger.Sync()

	logger.Info("Starting billing service",
		zap.String("version", "0.1.0"),
	)

	// Load configuration from environment
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize database connection pool
	dbPool, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("Database connection established",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database),
	)

	// Resolve the gateway access token
	accessToken, err := resolveAccessToken(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to resolve gateway access token", zap.Error(err))
	}

	// Initialize all services and handlers
	deps := initDependencies(dbPool, cfg, accessToken, logger)

	// Register HTTP routes
	mux := http.NewServeMux()

	webhookLimiter := middleware.NewRateLimiter(cfg.Server.WebhookRateLimit, cfg.Server.WebhookRateBurst)
	defer webhookLimiter.Shutdown()

	mux.HandleFunc("/subscription-webhook", webhookLimiter.HTTPHandlerFunc(deps.WebhookHandler.HandleWebhook))
	mux.HandleFunc("/cron/run-sweep", deps.SweepHandler.RunSweep)
	mux.HandleFunc("/cron/health", deps.SweepHandler.HealthCheck)
	mux.HandleFunc("/cron/stats", deps.SweepHandler.Stats)
	deps.AdminHandler.Register(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening",
			zap.String("address", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Metrics and health endpoints on a separate port
	healthChecker := observability.NewHealthChecker(dbPool)
	metricsServer := observability.StartMetricsServer(fmt.Sprintf("%d", cfg.Server.MetricsPort), healthChecker)
	logger.Info("Metrics server listening",
		zap.Int("port", cfg.Server.MetricsPort),
	)

	// In-process sweep scheduler. External cron can still trigger runs via
	// /cron/run-sweep; the pending-payment guard keeps overlapping runs from
	// double charging.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runSweepLoop(sweepCtx, deps.Sweeper, cfg.Sweep, logger)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down",
		zap.String("signal", sig.String()),
	)

	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
		logger.Error("Metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

// Dependencies holds all initialized services and handlers
type Dependencies struct {
	Sweeper        *sweep.Sweeper
	SweepHandler   *cronHandler.SweepHandler
	WebhookHandler *webhookHandler.Handler
	AdminHandler   *adminHandler.SubscriptionHandler
}

// initDependencies initializes all services and handlers with dependency injection
func initDependencies(dbPool *pgxpool.Pool, cfg *config.Config, accessToken string, logger *zap.Logger) *Dependencies {
	domainLogger := logging.NewZapLogger(logger)

	db := postgres.NewDBExecutor(dbPool)
	subRepo := postgres.NewSubscriptionRepository(db)
	payRepo := postgres.NewPaymentRepository(db)

	httpClient := &http.Client{
		Timeout: time.Duration(cfg.Gateway.Timeout) * time.Second,
	}
	gateway := mercadopago.NewGatewayAdapter(accessToken, cfg.Gateway.BaseURL, httpClient, domainLogger)

	eng := engine.New(db, subRepo, payRepo, policy.Default(), domainLogger)

	sweeper := sweep.New(db, subRepo, eng, gateway, domainLogger,
		sweep.WithConcurrency(cfg.Sweep.Concurrency),
		sweep.WithAttemptTimeout(cfg.Sweep.AttemptTimeout),
	)

	reconciler := webhook.New(gateway, subRepo, eng, domainLogger)

	svc := service.NewService(db, subRepo, payRepo, gateway, eng, domainLogger)

	return &Dependencies{
		Sweeper:        sweeper,
		SweepHandler:   cronHandler.NewSweepHandler(sweeper, subRepo, logger, cfg.Server.CronSecret),
		WebhookHandler: webhookHandler.NewHandler(reconciler, logger),
		AdminHandler:   adminHandler.NewSubscriptionHandler(svc, logger, cfg.Server.AdminSecret),
	}
}

// resolveAccessToken returns the Mercado Pago access token, either directly
// from the environment or via the configured secret manager backend.
func resolveAccessToken(ctx context.Context, cfg *config.Config, logger *zap.Logger) (string, error) {
	if cfg.Gateway.AccessToken != "" {
		return cfg.Gateway.AccessToken, nil
	}

	manager, err := initSecretManager(ctx, cfg, logger)
	if err != nil {
		return "", err
	}

	resolveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	secret, err := manager.GetSecret(resolveCtx, cfg.Gateway.AccessTokenPath)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", cfg.Gateway.AccessTokenPath, err)
	}
	return secret.Value, nil
}

// initSecretManager selects the secret manager backend from configuration
func initSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.SecretManager, error) {
	switch cfg.Secrets.Backend {
	case "aws":
		awsCfg := secrets.DefaultAWSSecretsManagerConfig(cfg.Secrets.AWSRegion)
		awsCfg.Profile = cfg.Secrets.AWSProfile
		awsCfg.Endpoint = cfg.Secrets.AWSEndpoint
		return secrets.NewAWSSecretsManagerAdapter(ctx, awsCfg, logger)
	case "vault":
		vaultCfg := secrets.DefaultVaultConfig(cfg.Secrets.VaultAddress)
		vaultCfg.Token = cfg.Secrets.VaultToken
		return secrets.NewVaultAdapter(ctx, vaultCfg, logger)
	case "local":
		return secrets.NewLocalSecretManager(cfg.Secrets.LocalPath, logger), nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Secrets.Backend)
	}
}

// runSweepLoop runs the billing sweep on a fixed interval until ctx is cancelled
func runSweepLoop(ctx context.Context, sweeper *sweep.Sweeper, cfg config.SweepConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	logger.Info("Sweep scheduler started",
		zap.Duration("interval", cfg.Interval),
		zap.Int("batch_size", cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Sweep scheduler stopped")
			return
		case <-ticker.C:
			result, err := sweeper.Run(ctx, time.Now().UTC(), cfg.BatchSize)
			if err != nil {
				logger.Error("Scheduled sweep failed", zap.Error(err))
				continue
			}
			logger.Info("Scheduled sweep completed",
				zap.Int("selected", result.Selected),
				zap.Int("succeeded", result.Succeeded),
				zap.Int("failed", result.Failed),
				zap.Int("suspended", result.Suspended),
			)
		}
	}
}

// initLogger initializes the logger
func initLogger() *zap.Logger {
	env := os.Getenv("ENVIRONMENT")

	if env == "production" {
		zapCfg := zap.NewProductionConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		logger, _ := zapCfg.Build()
		return logger
	}

	logger, _ := zap.NewDevelopment()
	return logger
}

// initDatabase initializes the PostgreSQL connection pool
func initDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rcn-ledger/internal/adapters/cache"
	"rcn-ledger/internal/adapters/http/middleware"
	"rcn-ledger/internal/adapters/http/routes"
	"rcn-ledger/internal/adapters/persistence/models"
	"rcn-ledger/internal/adapters/persistence/repositories"
	"rcn-ledger/internal/adapters/settlement"
	"rcn-ledger/internal/adapters/wallet"
	"rcn-ledger/internal/config"
	"rcn-ledger/internal/core/services"
	"rcn-ledger/internal/pkg/keylock"
	"rcn-ledger/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	_ "rcn-ledger/docs" // Swagger docs
)

// @title RCN Ledger API
// @version 1.0
// @description RCN loyalty ledger: balances, tiers, redemption sessions and settlement.

// @contact.name API Support

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.AppMode)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	// Connect to database
	db, err := config.ConnectDatabase(cfg)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer config.CloseDatabase(db) //nolint:errcheck

	if err := models.AutoMigrate(db); err != nil {
		zl.Fatal("failed to auto migrate", zap.Error(err))
	}
	zl.Info("database migration completed")

	if err := config.NewSeeder(db, cfg).Run(); err != nil {
		zl.Warn("failed to seed development data", zap.Error(err))
	}

	balanceCache, err := buildCache(cfg)
	if err != nil {
		zl.Fatal("failed to initialise balance cache", zap.Error(err))
	}

	// Core services
	store := repositories.NewStore(db)
	locks := keylock.New()
	tiers := services.NewTierEngine(cfg.Ledger)
	aggregator := services.NewBalanceAggregator(store, tiers, balanceCache, zl)
	ledger := services.NewLedgerService(store, locks, aggregator, tiers, cfg.Security.APIKeyCost, zl)
	sessions := services.NewSessionManager(
		store,
		locks,
		aggregator,
		services.NewCrossShopPolicy(cfg.Ledger.CrossShopFraction),
		wallet.NewPersonalSignVerifier(),
		buildConnector(cfg),
		cfg.Ledger,
		zl,
	)

	// Settlements interrupted by the last shutdown
	if _, err := sessions.ResumeApproved(context.Background()); err != nil {
		zl.Warn("failed to resume approved sessions", zap.Error(err))
	}

	// Expiry sweep + settlement recovery
	sweep := services.NewSweepService(sessions, cfg.Ledger.SweepSchedule, zl)
	if err := sweep.Start(); err != nil {
		zl.Fatal("failed to start sweep", zap.Error(err))
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "RCN Ledger API v1.0",
		ErrorHandler: middleware.CustomErrorHandler,
	})

	middleware.Setup(app, cfg)
	routes.Setup(app, db, cfg, &routes.Services{
		Ledger:     ledger,
		Sessions:   sessions,
		Aggregator: aggregator,
	}, zl)

	done := make(chan struct{})
	go gracefulShutdown(app, sweep, sessions, zl, done)

	zl.Info("server starting", zap.String("port", cfg.Port), zap.String("mode", cfg.AppMode))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zl.Fatal("failed to start server", zap.Error(err))
	}
	<-done
}

func buildCache(cfg *config.Config) (services.BalanceCache, error) {
	switch cfg.Cache.Mode {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		return cache.NewRedis(client, cfg.Cache.TTL), nil
	case "memory":
		return cache.NewMemory(cfg.Cache.TTL), nil
	default:
		return cache.NewNoop(), nil
	}
}

func buildConnector(cfg *config.Config) services.SettlementConnector {
	if cfg.Settlement.Mode == "http" {
		return settlement.NewHTTPConnector(cfg.Settlement.URL, cfg.Settlement.Token, cfg.Settlement.RatePerSec, cfg.Ledger.SettlementTimeout)
	}
	return settlement.NewMockConnector()
}

// gracefulShutdown stops intake first, then the sweep, then waits for
// running settlements
func gracefulShutdown(app *fiber.App, sweep *services.SweepService, sessions *services.SessionManager, zl *zap.Logger, done chan<- struct{}) {
	defer close(done)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down server")
	if err := app.Shutdown(); err != nil {
		zl.Error("error during shutdown", zap.Error(err))
	}

	sweep.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sessions.Shutdown(ctx); err != nil {
		zl.Warn("settlements still running at shutdown; they resume on next start", zap.Error(err))
	}
	zl.Info("server stopped gracefully")
}

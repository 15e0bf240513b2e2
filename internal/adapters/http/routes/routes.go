package routes

import (
	"rcn-ledger/internal/adapters/http/handlers"
	"rcn-ledger/internal/adapters/http/middleware"
	"rcn-ledger/internal/config"
	"rcn-ledger/internal/core/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services bundles the core services the HTTP layer is wired to
type Services struct {
	Ledger     *services.LedgerService
	Sessions   *services.SessionManager
	Aggregator *services.BalanceAggregator
}

// Setup configures all routes for the application
func Setup(app *fiber.App, db *gorm.DB, cfg *config.Config, svc *Services, logger *zap.Logger) {
	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, cfg)
	balanceHandler := handlers.NewBalanceHandler(svc.Aggregator, svc.Sessions, svc.Ledger, logger)
	redemptionHandler := handlers.NewRedemptionHandler(svc.Sessions, logger)
	ledgerHandler := handlers.NewLedgerHandler(svc.Ledger, logger)
	adminHandler := handlers.NewAdminHandler(svc.Ledger, logger)

	// Health check & root routes
	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.HealthCheck)

	// Prometheus
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// API v1 group
	apiV1 := app.Group("/api/v1")
	setupAPIV1Routes(apiV1, cfg, svc.Ledger, healthHandler, balanceHandler,
		redemptionHandler, ledgerHandler, adminHandler)
}

// setupAPIV1Routes configures API v1 routes
func setupAPIV1Routes(
	router fiber.Router,
	cfg *config.Config,
	shops middleware.ShopAuthenticator,
	healthHandler *handlers.HealthHandler,
	balanceHandler *handlers.BalanceHandler,
	redemptionHandler *handlers.RedemptionHandler,
	ledgerHandler *handlers.LedgerHandler,
	adminHandler *handlers.AdminHandler,
) {
	// API Info
	router.Get("/", healthHandler.APIInfo)

	// Balance & history (customer self, ADMIN, SERVICE)
	router.Get("/balance/:address", middleware.AuthMiddleware(cfg), middleware.NoStore(), balanceHandler.GetBalance)
	router.Get("/customers/:address/events", middleware.AuthMiddleware(cfg), balanceHandler.GetHistory)

	// Redemption sessions
	redemptionRoutes := router.Group("/redemption", middleware.NoStore())
	setupRedemptionRoutes(redemptionRoutes, redemptionHandler, cfg, shops)

	// Earn (shop terminals)
	router.Post("/earn", middleware.ShopAuth(shops), middleware.StrictRateLimiter(), ledgerHandler.Earn)

	// Mint to wallet (platform services)
	router.Post("/wallet/mint", middleware.AuthMiddleware(cfg), middleware.ServiceOrAdmin(), ledgerHandler.Mint)

	// Admin routes (Admin only)
	adminRoutes := router.Group("/admin")
	adminRoutes.Use(middleware.AuthMiddleware(cfg))
	adminRoutes.Use(middleware.AdminOnly())
	setupAdminRoutes(adminRoutes, adminHandler)
}

// setupRedemptionRoutes configures the session lifecycle routes
func setupRedemptionRoutes(router fiber.Router, handler *handlers.RedemptionHandler, cfg *config.Config, shops middleware.ShopAuthenticator) {
	// Shop terminal
	router.Post("/create", middleware.ShopAuth(shops), middleware.StrictRateLimiter(), handler.Create)
	router.Post("/cancel", middleware.ShopAuth(shops), handler.Cancel)

	// Customer wallet
	router.Post("/approve", middleware.AuthMiddleware(cfg), middleware.CustomerOnly(), handler.Approve)
	router.Post("/reject", middleware.AuthMiddleware(cfg), middleware.CustomerOnly(), handler.Reject)

	// Either side polls
	router.Get("/status/:id", middleware.TokenOrShop(cfg, shops), handler.Status)
}

// setupAdminRoutes configures customer and shop administration routes
func setupAdminRoutes(router fiber.Router, handler *handlers.AdminHandler) {
	router.Post("/customers", handler.RegisterCustomer)
	router.Get("/customers/:address", handler.GetCustomer)

	router.Post("/shops", handler.RegisterShop)
	router.Get("/shops/:id", handler.GetShop)
	router.Post("/shops/:id/purchases", handler.PurchaseRCN)
}

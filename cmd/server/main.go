package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/smmkit/panel-api/internal/auth"
	"github.com/smmkit/panel-api/internal/catalog"
	"github.com/smmkit/panel-api/internal/config"
	"github.com/smmkit/panel-api/internal/database"
	"github.com/smmkit/panel-api/internal/fulfillment"
	"github.com/smmkit/panel-api/internal/orders"
	"github.com/smmkit/panel-api/internal/provider"
	"github.com/smmkit/panel-api/internal/wallet"
	"github.com/smmkit/panel-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings.
// In development mode, it enables pretty printing with timestamps.
// Debug logging can be enabled via DEBUG environment variable.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the panel together: storage, services, HTTP routes and the
// reconciliation engine, with graceful shutdown for both the server and the
// engine.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	providerClient := provider.NewClient(cfg.ProviderStatusTimeout, cfg.ProviderRequestTimeout)

	authService := auth.NewService(db, cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)

	walletService := wallet.NewService(db)
	walletHandlers := wallet.NewGinHandlers(walletService)

	engine := fulfillment.NewEngine(db, walletService, providerClient, cfg.SyncInterval)

	orderService := orders.NewService(db, walletService)
	orderHandlers := orders.NewGinHandlers(orderService, engine)

	catalogService := catalog.NewService(db, providerClient)
	catalogHandlers := catalog.NewGinHandlers(catalogService)

	engine.Start()
	defer engine.Stop()

	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.JWTSecret, authHandlers, orderHandlers, catalogHandlers, walletHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers:
// - Auth routes: public registration and login
// - Catalog route: public service list
// - Order routes: storefront operations, JWT-protected
// - Admin routes: back office, JWT-protected plus admin role
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	catalogHandlers *catalog.GinHandlers,
	walletHandlers *wallet.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		v1.GET("/services", catalogHandlers.ListServicesHandler())

		account := v1.Group("")
		account.Use(middleware.JWTAuth(jwtSecret))
		{
			account.GET("/balance", walletHandlers.BalanceHandler())
			account.GET("/transactions", walletHandlers.TransactionsHandler())
		}

		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("", orderHandlers.CreateOrderHandler())
			orderGroup.GET("", orderHandlers.ListOrdersHandler())
			orderGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
			orderGroup.POST("/:order_id/sync", orderHandlers.SyncOrderHandler())
			orderGroup.POST("/:order_id/cancel", orderHandlers.CancelOrderHandler())
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.JWTAuth(jwtSecret), middleware.AdminOnly())
		{
			admin.GET("/orders", orderHandlers.AdminListOrdersHandler())
			admin.POST("/orders/sync", orderHandlers.AdminSyncHandler())
			admin.POST("/orders/:order_id/cancel", orderHandlers.AdminCancelOrderHandler())
			admin.GET("/providers", catalogHandlers.ListProvidersHandler())
			admin.POST("/providers", catalogHandlers.CreateProviderHandler())
			admin.POST("/providers/:provider_id/balance", catalogHandlers.RefreshBalanceHandler())
			admin.POST("/providers/:provider_id/import", catalogHandlers.ImportServicesHandler())
		}
	}
}

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/rail-service/custody_service/internal/api/handlers"
	"github.com/rail-service/custody_service/internal/api/middleware"
	"github.com/rail-service/custody_service/internal/infrastructure/config"
	"github.com/rail-service/custody_service/internal/infrastructure/di"
	"github.com/rail-service/custody_service/pkg/logger"
)

// Version is reported by the health endpoints.
var Version = "dev"

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()
	UseGlobalMiddleware(router, container.Config.Server, container.Logger)

	healthHandler := handlers.NewHealthHandler(container.HealthChecks(), container.ZapLog, Version)

	// Health checks (no auth required)
	router.GET("/health", healthHandler.Health)
	router.GET("/ping", healthHandler.Ping)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger documentation (development only)
	if container.Config.Environment != "production" {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	RegisterAPIRoutes(
		router,
		container.Config.JWT.Secret,
		container.Logger,
		container.NewWalletHandlers(),
		container.NewCustodyHandlers(),
	)

	return router
}

// UseGlobalMiddleware installs the middleware chain shared by every route.
// RequestID runs first so spans and logs carry the request id.
func UseGlobalMiddleware(router *gin.Engine, server config.ServerConfig, log *logger.Logger) {
	router.Use(middleware.RequestID())
	router.Use(middleware.Tracing())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(server.AllowedOrigins))
	router.Use(middleware.RateLimit(server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())
}

// RegisterAPIRoutes mounts the authenticated /api/v1 surface.
func RegisterAPIRoutes(
	router *gin.Engine,
	jwtSecret string,
	log *logger.Logger,
	walletHandlers *handlers.WalletHandlers,
	custodyHandlers *handlers.CustodyHandlers,
) {
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Authentication(jwtSecret, log))

	wallets := v1.Group("/wallets")
	{
		wallets.POST("", walletHandlers.CreateWallet)
		wallets.GET("/me", walletHandlers.GetMyWallet)
		wallets.POST("/regenerate", walletHandlers.RegenerateWallet)
	}

	admin := v1.Group("/admin/withdraw")
	admin.Use(middleware.AdminAuth())
	{
		admin.GET("/deposit-wallet", custodyHandlers.GetDepositWallet)
		admin.GET("/user-wallets", custodyHandlers.GetUserWallets)
		admin.GET("/withdrawals", custodyHandlers.GetWithdrawals)
		admin.GET("/queued", custodyHandlers.IsAddressQueued)
		admin.POST("/withdraw", custodyHandlers.Withdraw)
		admin.POST("/batches", custodyHandlers.StartBatch)
		admin.POST("/fund-wallets", custodyHandlers.FundWallets)
	}
}

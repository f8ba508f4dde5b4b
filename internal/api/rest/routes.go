package rest

import (
	"github.com/Dhoini/Billing-microservice/internal/api/rest/handlers"
	"github.com/Dhoini/Billing-microservice/internal/api/rest/middleware"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter настраивает маршруты HTTP API
func SetupRouter(
	log *logger.Logger,
	registry *prometheus.Registry,
	orchestrator service.Orchestrator,
	reconciler service.Reconciler,
	coordinator service.MigrationCoordinator,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))

	chargeHandler := handlers.NewChargeHandler(orchestrator, log)
	webhookHandler := handlers.NewWebhookHandler(reconciler, log)
	migrationHandler := handlers.NewMigrationHandler(coordinator, log)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Вебхуки живут вне /api/v1: их путь зафиксирован в настройках шлюзов
	router.POST("/webhooks/:gateway", webhookHandler.HandleWebhook)

	v1 := router.Group("/api/v1")
	{
		charges := v1.Group("/charges")
		{
			charges.POST("", chargeHandler.CreateCharge)
			charges.GET("/:id", chargeHandler.GetCharge)
			charges.POST("/:id/retry", chargeHandler.RetryCharge)
		}

		customers := v1.Group("/customers")
		{
			customers.GET("/:id/charges", chargeHandler.ListCustomerCharges)

			migration := customers.Group("/:id/migration")
			{
				migration.POST("/legacy", migrationHandler.MarkLegacy)
				migration.POST("/dual", migrationHandler.BeginDual)
				migration.POST("/complete", migrationHandler.CompleteMigration)
				migration.GET("/audit", migrationHandler.AuditLog)
			}
		}
	}

	return router
}

package api

import (
	v1 "github.com/flexprice/billingops/internal/api/v1"
	"github.com/flexprice/billingops/internal/config"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/rest/middleware"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health     *v1.HealthHandler
	Settlement *v1.SettlementHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	if cfg.Deployment.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.RecoveryWithWriter(log.GetGinLogger()),
		middleware.RequestIDMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.LoggingMiddleware(log),
		middleware.ErrorHandler(cfg),
	)

	router.GET("/health", handlers.Health.Health)

	v1Private := router.Group("/v1", middleware.UserContextMiddleware)

	customers := v1Private.Group("/customers/:customer_id", middleware.SentryCustomerContextMiddleware)
	{
		customers.POST("/settlements/pay-now", handlers.Settlement.PayNow)
		customers.POST("/settlements/preview", handlers.Settlement.PreviewSettlement)
		customers.POST("/credits", handlers.Settlement.GrantCredit)
		customers.GET("/invoices/outstanding", handlers.Settlement.ListOutstanding)
	}

	settlements := v1Private.Group("/settlements")
	{
		settlements.POST("/charges/:charge_id/finalize", handlers.Settlement.FinalizeCharge)
		settlements.GET("/:kind/:source_id/report", handlers.Settlement.GetSettlementReport)
	}

	return router
}

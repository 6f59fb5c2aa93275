package middleware

import (
	"time"

	"github.com/flexprice/billingops/internal/config"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// SentryMiddleware returns a middleware that captures errors and performance data
func SentryMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// SentryCustomerContextMiddleware tags the request's Sentry scope with the customer being settled.
func SentryCustomerContextMiddleware(c *gin.Context) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		c.Next()
		return
	}
	if customerID := c.Param("customer_id"); customerID != "" {
		hub.Scope().SetTag("customer_id", customerID)
	}
	c.Next()
}

package middleware

import (
	"github.com/flexprice/billingops/internal/types"
	"github.com/gin-gonic/gin"
)

// RequestIDMiddleware reuses the caller's request id or generates one, and echoes it back.
func RequestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		requestID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REQUEST)
	}

	ctx := types.SetRequestID(c.Request.Context(), requestID)
	c.Request = c.Request.WithContext(ctx)
	c.Header(types.HeaderRequestID, requestID)
	c.Next()
}

// UserContextMiddleware carries the acting staff member into the request context.
func UserContextMiddleware(c *gin.Context) {
	if userID := c.GetHeader(types.HeaderUserID); userID != "" {
		c.Request = c.Request.WithContext(types.SetUserID(c.Request.Context(), userID))
	}
	c.Next()
}

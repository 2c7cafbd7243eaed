package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/pkg/audit"
	"mediconnect-backend/pkg/logger"
)

// AuditMiddleware records every mutating API call to the audit trail.
// Recording happens after the handler, off the request path, so a slow
// or unavailable audit store never delays the response.
func AuditMiddleware(auditLogger *audit.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == "GET" || c.Request.Method == "HEAD" || c.Request.Method == "OPTIONS" {
			return
		}

		var userID *uuid.UUID
		if val, exists := c.Get("user_id"); exists {
			if id, ok := val.(uuid.UUID); ok {
				userID = &id
			}
		}

		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		clientIP := c.ClientIP()
		userAgent := c.Request.UserAgent()
		status := c.Writer.Status()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := auditLogger.LogMutation(ctx, userID, method, path, clientIP, userAgent, status); err != nil {
				logger.Warn("failed to record audit event",
					zap.String("path", path),
					zap.Error(err))
			}
		}()
	}
}

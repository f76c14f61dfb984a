package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/models"
	"github.com/noah-isme/sitereport-api/internal/service"
)

// AuditWriter persists audit entries.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Audit creates a middleware that records audit logs after successful requests.
// Handlers may set ContextOrganizationKey when the route carries no orgId.
func Audit(repo AuditWriter, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 || repo == nil {
			return
		}

		var userID *string
		if id := UserID(c); id != "" {
			userID = &id
		}
		var orgID *string
		if value := c.GetString(ContextOrganizationKey); value != "" {
			orgID = &value
		}
		var resourceID *string
		if id := c.Param("id"); id != "" {
			resourceID = &id
		}

		body, _ := json.Marshal(map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		})

		entry := &models.AuditLog{
			OrganizationID: orgID,
			UserID:         userID,
			Action:         action,
			Resource:       resource,
			ResourceID:     resourceID,
			NewValues:      body,
			IPAddress:      c.ClientIP(),
			UserAgent:      c.GetHeader("User-Agent"),
		}
		service.RunSideEffect(context.WithoutCancel(c.Request.Context()), logger, "audit_"+action, func(ctx context.Context) error {
			return repo.CreateAuditLog(ctx, entry)
		})
	}
}

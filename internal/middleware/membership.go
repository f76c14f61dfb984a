package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sitereport-api/internal/models"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/response"
)

// Context keys set by OrgMember.
const (
	ContextOrganizationKey = "organizationID"
	ContextRoleKey         = "organizationRole"
)

// RoleResolver looks up a user's role inside an organization.
type RoleResolver interface {
	Role(ctx context.Context, organizationID, userID string) (models.OrgRole, error)
}

// OrgMember requires the caller to be a member of the organization named by the
// orgId path parameter. Roles come from the membership store, never from the token.
func OrgMember(resolver RoleResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		orgID := c.Param("orgId")
		if orgID == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "organization id required"))
			c.Abort()
			return
		}
		role, err := resolver.Role(c.Request.Context(), orgID, userID)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextOrganizationKey, orgID)
		c.Set(ContextRoleKey, role)
		c.Next()
	}
}

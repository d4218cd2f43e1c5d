package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventos-api/internal/models"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
	"github.com/noah-isme/eventos-api/pkg/response"
)

const selfPrefix = "SELF:"

// RBAC enforces role-based access control for routes. An entry of the form
// "SELF:<param>" also admits the user whose id equals that path parameter.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowedRoles := make(map[models.UserRole]struct{})
	var selfParams []string
	for _, a := range allowed {
		if param, ok := strings.CutPrefix(a, selfPrefix); ok && param != "" {
			selfParams = append(selfParams, param)
			continue
		}
		allowedRoles[models.UserRole(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		claims, ok := value.(*models.SessionClaims)
		if !exists || !ok || claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		for _, param := range selfParams {
			id, err := strconv.ParseInt(c.Param(param), 10, 64)
			if err == nil && id == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}

// Self admits the owner of the id in the named path parameter.
func Self(param string) string {
	return selfPrefix + param
}

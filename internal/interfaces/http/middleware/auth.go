package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	domainerrors "gatewayd.backend/internal/domain/errors"
	"gatewayd.backend/internal/interfaces/http/response"
	"gatewayd.backend/pkg/jwt"
)

const ClaimsKey = "claims"

// AdminAuth guards mutating admin-API routes with a bearer JWT issued by the
// admin-token tool. Read-only chain/token/invoice routes stay public, mirroring
// the teacher's public chain/token list routes.
func AdminAuth(svc *jwt.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			response.Error(c, domainerrors.Unauthorized("missing bearer token"))
			c.Abort()
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		claims, err := svc.ValidateToken(token)
		if err != nil {
			response.Error(c, domainerrors.Unauthorized("invalid or expired token"))
			c.Abort()
			return
		}
		if claims.Role != "admin" {
			response.Error(c, domainerrors.Forbidden("admin role required"))
			c.Abort()
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

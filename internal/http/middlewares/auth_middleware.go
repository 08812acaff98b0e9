package middlewares

import (
	"context"
	"strings"

	"github.com/geocoder89/loanhub/internal/actorctx"
	"github.com/geocoder89/loanhub/internal/apperr"
	"github.com/geocoder89/loanhub/internal/auth"
	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Keep these interfaces small so tests can fake them easily.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

type RoleLookup interface {
	GetRole(ctx context.Context, userID string) (user.Role, error)
}

type AuthMiddleware struct {
	jwt   TokenVerifier
	roles RoleLookup
}

func NewAuthMiddleware(jwt TokenVerifier, roles RoleLookup) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, roles: roles}
}

var (
	errNoToken      = apperr.Unauthorized("missing_token", "No token provided")
	errInvalidToken = apperr.Unauthorized("invalid_token", "Invalid or expired token")
)

// RequireAuth verifies the bearer token. It never touches the database.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		scheme, raw, found := strings.Cut(strings.TrimSpace(authHeader), " ")
		raw = strings.TrimSpace(raw)
		if !found || !strings.EqualFold(scheme, "Bearer") || raw == "" {
			Fail(c, errNoToken)
			return
		}

		claims, err := m.jwt.VerifyToken(raw)
		if err != nil {
			Fail(c, errInvalidToken)
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Request = c.Request.WithContext(actorctx.WithUserID(c.Request.Context(), claims.UserID))

		c.Next()
	}
}

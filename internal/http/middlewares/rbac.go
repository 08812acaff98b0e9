package middlewares

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/loanhub/internal/apperr"
	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

const roleLookupTimeout = 3 * time.Second

// RequireRole reads the caller's current role from storage on every request,
// so a demotion takes effect immediately.
func (m *AuthMiddleware) RequireRole(required user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserIDFromContext(c)
		if !ok {
			Fail(c, apperr.Unauthorized("unauthorized", "Unauthorized"))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), roleLookupTimeout)
		defer cancel()

		role, err := m.roles.GetRole(ctx, userID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				Fail(c, apperr.Unauthorized("unauthorized", "Unauthorized"))
				return
			}
			Fail(c, apperr.Internal(err))
			return
		}

		if role != required {
			Fail(c, apperr.Forbidden("Forbidden"))
			return
		}
		c.Next()
	}
}

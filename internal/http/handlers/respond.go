package handlers

import (
	"context"
	"time"

	"github.com/geocoder89/loanhub/internal/apperr"
	"github.com/geocoder89/loanhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// Handlers never write error bodies themselves; the error tail middleware
// renders whatever is recorded here.

func RespondError(ctx *gin.Context, err error) {
	middlewares.Fail(ctx, err)
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, apperr.Validation(message, details))
}

func RespondUnAuthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, apperr.Unauthorized(code, message))
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, apperr.NotFound(message))
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, apperr.Conflict(code, message))
}

func RespondInternal(ctx *gin.Context, err error) {
	RespondError(ctx, apperr.Internal(err))
}

// requestContext bounds storage calls while keeping request-scoped values
// (trace span, acting user) for logging.
func requestContext(ctx *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), d)
}

func currentUserID(ctx *gin.Context) (string, bool) {
	id, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Unauthorized")
	}
	return id, ok
}

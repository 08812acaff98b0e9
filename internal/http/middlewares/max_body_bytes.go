package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodyBytes caps request bodies; reads past max fail with *http.MaxBytesError.
func MaxBodyBytes(max int64) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if max > 0 && ctx.Request.Body != nil {
			ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, max)
		}

		ctx.Next()
	}
}

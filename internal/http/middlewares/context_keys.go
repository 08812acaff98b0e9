package middlewares

import "github.com/gin-gonic/gin"

// gin context keys
const (
	CtxRequestID = "request_id"
	CtxUserID    = "auth.userID"
)

func UserIDFromContext(c *gin.Context) (string, bool) {
	id := c.GetString(CtxUserID)
	return id, id != ""
}

func RequestIDFromContext(c *gin.Context) string {
	if id := c.GetString(CtxRequestID); id != "" {
		return id
	}
	return c.GetHeader(requestIDHeader)
}

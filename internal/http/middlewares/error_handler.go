package middlewares

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/geocoder89/loanhub/internal/apperr"
	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON envelope for every failed request.
type ErrorBody struct {
	Error     string      `json:"error"`
	Code      string      `json:"code,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

// Fail records err for the error tail and stops the chain.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ErrorHandler renders the last error attached to the context, once the rest
// of the chain has run, unless a response was already written.
func ErrorHandler(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		render(c, log, c.Errors.Last().Err)
	}
}

// Recovery turns a panic into a 500 envelope.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(c.Request.Context(), "panic_recovered",
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
					"request_id", RequestIDFromContext(c),
				)

				if c.Writer.Written() {
					c.Abort()
					return
				}
				render(c, log, apperr.Internal(fmt.Errorf("panic: %v", r)))
				c.Abort()
			}
		}()

		c.Next()
	}
}

func render(c *gin.Context, log *slog.Logger, err error) {
	appErr := apperr.From(err)
	status := appErr.Status()

	if status >= 500 {
		attrs := []any{
			"err", appErr.Error(),
			"request_id", RequestIDFromContext(c),
			"method", c.Request.Method,
			"route", c.FullPath(),
		}
		if userID, ok := UserIDFromContext(c); ok {
			attrs = append(attrs, "user_id", userID)
		}
		log.ErrorContext(c.Request.Context(), "request_failed", attrs...)
	}

	c.JSON(status, ErrorBody{
		Error:     appErr.PublicMessage(),
		Code:      appErr.Code,
		RequestID: RequestIDFromContext(c),
		Details:   appErr.Details,
	})
}

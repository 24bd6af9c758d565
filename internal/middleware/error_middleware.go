package middleware

import (
	"beacon-chat/internal/services"
	"beacon-chat/internal/transport/httpdto"
	beacon_errors "beacon-chat/pkg/errors"
	"beacon-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error a handler attached with c.Error. Store
// failures are logged with detail and reported without it.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := services.HTTPStatus(err)
		code := beacon_errors.Code(err)
		message := err.Error()
		if status >= 500 {
			if l != nil {
				l.Ctx(c.Request.Context()).Error("request failed",
					zap.String("path", c.FullPath()),
					zap.String("code", code),
					zap.Error(err),
				)
			}
			message = "internal error"
		}
		c.JSON(status, httpdto.NewErrorResponse(message, code))
	}
}

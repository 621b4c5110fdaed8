package middleware

import (
	"time"

	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLogMiddleware logs HTTP access using the request-scoped logger
// previously attached by RequestLoggerMiddleware. 5xx responses log at warn
// so failed webhook deliveries stand out.
func AccessLogMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := logctx.FromGin(c, base)
		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		if status >= 500 {
			log.Warnw("http_access", fields...)
			return
		}
		log.Infow("http_access", fields...)
	}
}

package middleware

import (
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/tool"
	"github.com/gin-gonic/gin"
)

const traceHeader = "X-Request-ID"

// TraceMiddleware adds a trace ID to the request context.
// It reads X-Request-ID if provided by the client; otherwise generates a UUIDv7.
// Stripe does not send a request id, so webhook traces are always generated here.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(traceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = tool.GenerateUUIDV7()
		}

		c.Set(logctx.GinTraceIDKey, traceID)
		c.Request = c.Request.WithContext(logctx.WithTraceID(c.Request.Context(), traceID))
		c.Next()
	}
}

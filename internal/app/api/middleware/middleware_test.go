package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceAndRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(base), AccessLogMiddleware(base))
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = logctx.TraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "abc", seen)
	require.Equal(t, "abc", w.Header().Get("X-Request-ID"))
	require.Equal(t, 1, logs.FilterMessage("http_access").Len())
	require.Equal(t, "abc", logs.All()[0].ContextMap()["trace_id"])
}

func TestTraceGeneratesID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(zap.NewNop().Sugar()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

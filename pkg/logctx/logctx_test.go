package logctx

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromCtxPrefersStoredLogger(t *testing.T) {
	base := zap.NewNop().Sugar()
	stored := zap.NewNop().Sugar().With("k", "v")

	require.Same(t, base, FromCtx(context.Background(), base))
	require.Same(t, stored, FromCtx(WithLogger(context.Background(), stored), base))
}

func TestFromCtxEnrichesTraceID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	FromCtx(WithTraceID(context.Background(), "trace-1"), base).Info("hello")

	require.Equal(t, 1, logs.Len())
	require.Equal(t, "trace-1", logs.All()[0].ContextMap()["trace_id"])
}

func TestFromGin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	base := zap.NewNop().Sugar()
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)

	require.Same(t, base, FromGin(c, base))

	scoped := base.With("trace_id", "x")
	c.Set(GinLoggerKey, scoped)
	require.Same(t, scoped, FromGin(c, base))
	require.Same(t, base, FromGin(nil, base))
}

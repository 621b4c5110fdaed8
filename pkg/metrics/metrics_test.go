package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestReconciliationObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewReconciliation(reg)
	r.Observe("invoice.payment_succeeded", "applied", time.Now())
	r.Observe("invoice.payment_succeeded", "duplicate", time.Now())
	r.Retry("invoice.payment_succeeded")

	require.Equal(t, 1.0, testutil.ToFloat64(r.events.WithLabelValues("invoice.payment_succeeded", "applied")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.retries.WithLabelValues("invoice.payment_succeeded")))

	// a second construction against the same registry reuses the collectors
	again := NewReconciliation(reg)
	again.Observe("invoice.payment_succeeded", "applied", time.Now())
	require.Equal(t, 2.0, testutil.ToFloat64(r.events.WithLabelValues("invoice.payment_succeeded", "applied")))
}

func TestNilReconciliationIsNoop(t *testing.T) {
	var r *Reconciliation
	r.Observe("x", "y", time.Now())
	r.Retry("x")
}

func TestPrometheusMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	p := NewPrometheus(NewPrometheusOptions{Subsystem: "test", Registerer: reg, Gatherer: reg})

	e := gin.New()
	e.Use(p.HandlerFunc())
	e.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	for _, id := range []string{"a", "b"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}

	require.Equal(t, 2.0, testutil.ToFloat64(p.reqCnt.WithLabelValues("200", "GET", "/items/:id")))

	w := httptest.NewRecorder()
	p.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.True(t, strings.Contains(w.Body.String(), "test_req_total"))
}

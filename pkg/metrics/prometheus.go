package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var reqCnt = &Metric{
	ID:          "reqCnt",
	Name:        "req_total",
	Description: "How many HTTP requests processed, partitioned by status code, method and route.",
	Type:        "counter_vec",
	Args:        []string{"code", "method", "url"},
}

var reqDur = &Metric{
	ID:          "reqDur",
	Name:        "req_dur_ms",
	Description: "The HTTP request latencies in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"code", "method", "url"},
}

const defaultMetricPath = "/metrics"

// Prometheus is a gin middleware recording request counts and latencies.
// Metrics are exposed on a separate listener so scrapes stay out of the
// access log and off the public port.
type Prometheus struct {
	reqCnt   *prometheus.CounterVec
	reqDur   *prometheus.HistogramVec
	gatherer prometheus.Gatherer
	log      *zap.SugaredLogger

	MetricsPath string
}

type NewPrometheusOptions struct {
	Subsystem  string
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *zap.SugaredLogger
}

func NewPrometheus(opts NewPrometheusOptions) *Prometheus {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Prometheus{
		reqCnt:      register(opts.Registerer, NewMetric(reqCnt, opts.Subsystem).(*prometheus.CounterVec)),
		reqDur:      register(opts.Registerer, NewMetric(reqDur, opts.Subsystem).(*prometheus.HistogramVec)),
		gatherer:    opts.Gatherer,
		log:         opts.Logger,
		MetricsPath: defaultMetricPath,
	}
}

// HandlerFunc records one sample per request. The route template is used as
// the url label so path parameters do not explode cardinality.
func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		url := c.FullPath()
		if url == "" {
			url = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		p.reqCnt.WithLabelValues(status, c.Request.Method, url).Inc()
		p.reqDur.WithLabelValues(status, c.Request.Method, url).Observe(MillisecondsSince(start))
	}
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// Use attaches the middleware to e and starts the metrics listener on addr.
func (p *Prometheus) Use(e *gin.Engine, addr string) *http.Server {
	e.Use(p.HandlerFunc())

	router := gin.New()
	router.GET(p.MetricsPath, gin.WrapH(p.Handler()))
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.log.Errorw("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	return srv
}

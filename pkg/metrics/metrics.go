package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// HistogramBuckets are latency buckets in milliseconds. Webhook handling is
// dominated by one or two Stripe API calls, so the range tops out at 30s.
var HistogramBuckets = []float64{
	5, 10, 25, 50, 100, 200, 300, 500,
	750, 1000, 1500, 2000, 3000, 5000,
	10000, 20000, 30000,
}

// Metric is a definition for the name, description, type and label names of
// a collector. MetricCollector is filled in once the metric is built.
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric builds the prometheus.Collector described by m.Type.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem, Name: m.Name, Help: m.Description,
		}, m.Args)
	case "gauge_vec":
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: subsystem, Name: m.Name, Help: m.Description,
		}, m.Args)
	case "histogram_vec":
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets,
		}, m.Args)
	case "summary_vec":
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Subsystem: subsystem, Name: m.Name, Help: m.Description,
		}, m.Args)
	}
	return nil
}

// register adds c to reg and returns the already registered collector when an
// identical one exists, so repeated construction in tests does not panic.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// MillisecondsSince returns elapsed time since start in milliseconds.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

var Module = fx.Options(
	fx.Provide(
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		NewReconciliation,
	),
)

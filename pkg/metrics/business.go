package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var webhookEvents = &Metric{
	ID:          "webhookEvents",
	Name:        "webhook_events_total",
	Description: "Webhook events processed, partitioned by event type and outcome.",
	Type:        "counter_vec",
	Args:        []string{"event_type", "outcome"},
}

var reconcileDur = &Metric{
	ID:          "reconcileDur",
	Name:        "reconcile_dur_ms",
	Description: "Time spent reconciling one webhook event in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"event_type"},
}

var reconcileRetries = &Metric{
	ID:          "reconcileRetries",
	Name:        "reconcile_conflict_retries_total",
	Description: "Reconciliation transactions retried after losing an optimistic version check.",
	Type:        "counter_vec",
	Args:        []string{"event_type"},
}

// Reconciliation records webhook outcomes. The zero value and nil are usable
// and record nothing.
type Reconciliation struct {
	events  *prometheus.CounterVec
	dur     *prometheus.HistogramVec
	retries *prometheus.CounterVec
}

func NewReconciliation(reg prometheus.Registerer) *Reconciliation {
	return &Reconciliation{
		events:  register(reg, NewMetric(webhookEvents, "billing").(*prometheus.CounterVec)),
		dur:     register(reg, NewMetric(reconcileDur, "billing").(*prometheus.HistogramVec)),
		retries: register(reg, NewMetric(reconcileRetries, "billing").(*prometheus.CounterVec)),
	}
}

func (r *Reconciliation) Observe(eventType, outcome string, start time.Time) {
	if r == nil || r.events == nil {
		return
	}
	r.events.WithLabelValues(eventType, outcome).Inc()
	r.dur.WithLabelValues(eventType).Observe(MillisecondsSince(start))
}

func (r *Reconciliation) Retry(eventType string) {
	if r == nil || r.retries == nil {
		return
	}
	r.retries.WithLabelValues(eventType).Inc()
}

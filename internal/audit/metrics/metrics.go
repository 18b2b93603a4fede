package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit module.
type Metrics struct {
	RecordsAppended *prometheus.CounterVec
	AppendFailures  prometheus.Counter
	AppendDuration  prometheus.Histogram
	QueryDuration   prometheus.Histogram
}

// New creates a new Metrics instance with all audit module metrics registered.
func New() *Metrics {
	return &Metrics{
		RecordsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_audit_records_appended_total",
			Help: "Total number of audit records appended, by operation kind",
		}, []string{"operation"}),
		AppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_append_failures_total",
			Help: "Total number of failed audit appends",
		}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_audit_append_duration_seconds",
			Help:    "Duration of audit store appends (capture critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		QueryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_audit_query_duration_seconds",
			Help:    "Duration of audit trail queries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementAppended records a successful append for an operation kind.
func (m *Metrics) IncrementAppended(operation string) {
	m.RecordsAppended.WithLabelValues(operation).Inc()
}

// IncrementAppendFailures records a failed append.
func (m *Metrics) IncrementAppendFailures() {
	m.AppendFailures.Inc()
}

// ObserveAppend records the duration of an append.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAppend(start time.Time) {
	m.AppendDuration.Observe(time.Since(start).Seconds())
}

// ObserveQuery records the duration of a query.
func (m *Metrics) ObserveQuery(start time.Time) {
	m.QueryDuration.Observe(time.Since(start).Seconds())
}

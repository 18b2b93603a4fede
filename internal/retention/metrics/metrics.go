package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the retention module.
type Metrics struct {
	SweepsTotal       *prometheus.CounterVec
	RecordsPurged     *prometheus.CounterVec
	RecordsAnonymized *prometheus.CounterVec
	RecordFailures    *prometheus.CounterVec
	SweepDuration     *prometheus.HistogramVec
	LocksSkipped      prometheus.Counter
}

// New creates a new Metrics instance with all retention module metrics registered.
func New() *Metrics {
	return &Metrics{
		SweepsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_retention_sweeps_total",
			Help: "Total number of policy sweeps, by outcome",
		}, []string{"entity_type", "outcome"}),
		RecordsPurged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_retention_records_purged_total",
			Help: "Total number of records purged by retention sweeps",
		}, []string{"entity_type"}),
		RecordsAnonymized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_retention_records_anonymized_total",
			Help: "Total number of records anonymized by retention sweeps",
		}, []string{"entity_type"}),
		RecordFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_retention_record_failures_total",
			Help: "Total number of per-record failures during sweeps",
		}, []string{"entity_type"}),
		SweepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chronicle_retention_sweep_duration_seconds",
			Help:    "Duration of one policy sweep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"entity_type"}),
		LocksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_retention_locks_skipped_total",
			Help: "Total number of sweeps skipped because the policy lock was held",
		}),
	}
}

// IncrementSweep records a completed sweep for an entity type.
func (m *Metrics) IncrementSweep(entityType, outcome string) {
	m.SweepsTotal.WithLabelValues(entityType, outcome).Inc()
}

// AddPurged records purged rows for an entity type.
func (m *Metrics) AddPurged(entityType string, n int) {
	m.RecordsPurged.WithLabelValues(entityType).Add(float64(n))
}

// AddAnonymized records anonymized rows for an entity type.
func (m *Metrics) AddAnonymized(entityType string, n int) {
	m.RecordsAnonymized.WithLabelValues(entityType).Add(float64(n))
}

// AddFailures records per-record failures for an entity type.
func (m *Metrics) AddFailures(entityType string, n int) {
	m.RecordFailures.WithLabelValues(entityType).Add(float64(n))
}

// ObserveSweep records the duration of one policy sweep.
// Call with time.Now() at the start of the sweep.
func (m *Metrics) ObserveSweep(entityType string, start time.Time) {
	m.SweepDuration.WithLabelValues(entityType).Observe(time.Since(start).Seconds())
}

// IncrementLockSkipped records a sweep skipped due to a held lock.
func (m *Metrics) IncrementLockSkipped() {
	m.LocksSkipped.Inc()
}

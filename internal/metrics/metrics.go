// Package metrics holds the Prometheus metrics the executor loop
// publishes, grounded on the teacher's escrow.Metrics shape: one struct
// of promauto-constructed *Vec metrics, with small Observe*/Set* helper
// methods called from the hot path instead of inlining WithLabelValues
// everywhere.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the operator exposes.
type Metrics struct {
	RowsIngested       *prometheus.CounterVec
	RowsEmitted        *prometheus.CounterVec
	PartitionsCached   *prometheus.GaugeVec
	PartitionsEvicted  *prometheus.CounterVec
	StateTableDeletes  *prometheus.CounterVec
	CheckpointDuration *prometheus.HistogramVec
	RecoveryDuration   *prometheus.HistogramVec
}

// NewMetrics constructs and registers every metric against the default
// Prometheus registry, exactly as the teacher's NewMetrics does.
func NewMetrics() *Metrics {
	return &Metrics{
		RowsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eowc_rows_ingested_total",
				Help: "Total input rows appended to a Window-State.",
			},
			[]string{"operator"},
		),
		RowsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eowc_rows_emitted_total",
				Help: "Total output rows emitted once their window closed.",
			},
			[]string{"operator"},
		),
		PartitionsCached: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eowc_partitions_cached",
				Help: "Current number of Partitions held in the partition cache.",
			},
			[]string{"operator"},
		),
		PartitionsEvicted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eowc_partitions_evicted_total",
				Help: "Total Partitions dropped from the partition cache.",
			},
			[]string{"operator", "reason"}, // reason: lru, epoch, vnode
		),
		StateTableDeletes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eowc_state_table_deletes_total",
				Help: "Total state-table rows deleted after their State Key was evicted.",
			},
			[]string{"operator"},
		),
		CheckpointDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eowc_checkpoint_duration_seconds",
				Help:    "Duration of barrier-driven state-table commits.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operator"},
		),
		RecoveryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eowc_recovery_duration_seconds",
				Help:    "Duration of lazy per-partition recovery from the state table.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operator"},
		),
	}
}

func (m *Metrics) ObserveIngested(operator string, n int) {
	m.RowsIngested.WithLabelValues(operator).Add(float64(n))
}

func (m *Metrics) ObserveEmitted(operator string, n int) {
	m.RowsEmitted.WithLabelValues(operator).Add(float64(n))
}

func (m *Metrics) SetPartitionsCached(operator string, n int) {
	m.PartitionsCached.WithLabelValues(operator).Set(float64(n))
}

func (m *Metrics) ObservePartitionEvicted(operator, reason string) {
	m.PartitionsEvicted.WithLabelValues(operator, reason).Inc()
}

func (m *Metrics) ObserveStateTableDeletes(operator string, n int) {
	m.StateTableDeletes.WithLabelValues(operator).Add(float64(n))
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ambassador_ledger"

// Metrics holds the ledger's prometheus collectors.
type Metrics struct {
	leadsConfirmed       prometheus.Counter
	confirmConflicts     prometheus.Counter
	settlementsCreated   prometheus.Counter
	settlementsProcessed prometheus.Counter
	settlementsDeleted   prometheus.Counter
	transfers            *prometheus.CounterVec
	snapshotBytes        prometheus.Gauge
	opDuration           *prometheus.HistogramVec
}

// New registers the collectors with registry. A nil registry yields
// unregistered collectors, which keeps tests isolated.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		leadsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_confirmed_total",
			Help:      "Leads transitioned to Confirmed",
		}),
		confirmConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirm_version_conflicts_total",
			Help:      "Confirmation attempts retried after an ambassador version conflict",
		}),
		settlementsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_created_total",
			Help:      "Pending settlements created",
		}),
		settlementsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_processed_total",
			Help:      "Settlements moved to Processed",
		}),
		settlementsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_deleted_total",
			Help:      "Pending settlements deleted",
		}),
		transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Backup, restore and merge runs by result",
		}, []string{"operation", "result"}),
		snapshotBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_snapshot_bytes",
			Help:      "Compressed size of the last snapshot produced or restored",
		}),
		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) LeadConfirmed() { m.leadsConfirmed.Inc() }
func (m *Metrics) ConfirmConflict() { m.confirmConflicts.Inc() }
func (m *Metrics) SettlementCreated() { m.settlementsCreated.Inc() }
func (m *Metrics) SettlementProcessed() { m.settlementsProcessed.Inc() }
func (m *Metrics) SettlementDeleted() { m.settlementsDeleted.Inc() }

// Transfer records the outcome of a backup, restore or merge.
func (m *Metrics) Transfer(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.transfers.WithLabelValues(operation, result).Inc()
}

// SnapshotSize records the size of a snapshot blob.
func (m *Metrics) SnapshotSize(n int) {
	m.snapshotBytes.Set(float64(n))
}

// ObserveSince records the time elapsed since start for operation.
func (m *Metrics) ObserveSince(operation string, start time.Time) {
	m.opDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Package metrics exposes Prometheus collectors for scans, remote source
// calls and sync classification.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

const namespace = "slotdb"

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	storesOpen     prometheus.Gauge
	storesSkipped  prometheus.Counter
	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	slotStatuses   *prometheus.GaugeVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		storesOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stores_open",
			Help:      "Local store files currently open.",
		}),
		storesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stores_skipped_total",
			Help:      "Candidate store files skipped by scans because they failed to open.",
		}),
		remoteCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote source calls by source, operation and result.",
		}, []string{"source", "op", "result"}),
		remoteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Remote source call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "op"}),
		slotStatuses: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slot_status",
			Help:      "Slots per sync status from the most recent listing of a type.",
		}, []string{"type", "status"}),
	}
}

// ObserveScan records the outcome of a scan.
func (m *Metrics) ObserveScan(open, skipped int) {
	if m == nil {
		return
	}
	m.storesOpen.Set(float64(open))
	m.storesSkipped.Add(float64(skipped))
}

// ObserveRemote records one remote call.
func (m *Metrics) ObserveRemote(source, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.remoteCalls.WithLabelValues(source, op, result(err)).Inc()
	m.remoteDuration.WithLabelValues(source, op).Observe(elapsed.Seconds())
}

// ObserveStatuses replaces the per-status slot counts for typ.
func (m *Metrics) ObserveStatuses(typ slot.Type, counts map[slot.SyncStatus]int) {
	if m == nil {
		return
	}
	for _, st := range []slot.SyncStatus{
		slot.NotChecked, slot.LocalOnly, slot.RemoteOnly,
		slot.LocalIsNewer, slot.RemoteIsNewer, slot.Synchronized, slot.Conflict,
	} {
		m.slotStatuses.WithLabelValues(typ.String(), st.String()).Set(float64(counts[st]))
	}
}

// WriteFile writes all metrics in the text exposition format to path, for
// pickup by a node exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case slot.IsNotFound(err):
		return "not_found"
	case slot.IsConnectionFailure(err):
		return "connection_failure"
	case slot.IsSerialization(err):
		return "serialization"
	default:
		return "error"
	}
}
